package httpapi

import (
	"net/http"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// Roles carried by API tokens. Devices only touch the sync surface; approval
// and conflict adjudication require a reviewer.
const (
	RoleOperator = "operator"
	RoleReviewer = "reviewer"
	RoleAdmin    = "admin"
	RoleDevice   = "device"
)

type AuthUser struct {
	UserID      string
	Name        string
	Role        string
	CollectorID string // device tokens only
}

// TokenStore is a bearer-token registry. Tokens are provisioned out of band
// (ops tooling or config seed); this process only resolves them.
type TokenStore struct {
	mu     sync.RWMutex
	tokens map[string]AuthUser
}

func NewTokenStore() *TokenStore {
	return &TokenStore{tokens: map[string]AuthUser{}}
}

// Issue registers a user and returns their bearer token.
func (s *TokenStore) Issue(u AuthUser) string {
	if u.UserID == "" {
		u.UserID = uuid.NewString()
	}
	token := uuid.NewString()
	s.mu.Lock()
	s.tokens[token] = u
	s.mu.Unlock()
	return token
}

// IssueStatic registers a user under a fixed token, for seeded dev setups.
func (s *TokenStore) IssueStatic(token string, u AuthUser) {
	if u.UserID == "" {
		u.UserID = uuid.NewString()
	}
	s.mu.Lock()
	s.tokens[token] = u
	s.mu.Unlock()
}

func (s *TokenStore) Resolve(token string) (AuthUser, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.tokens[token]
	return u, ok
}

// authorize resolves the request's bearer token and checks the role. On
// failure it writes the response itself and returns ok=false.
func (s *TokenStore) authorize(w http.ResponseWriter, r *http.Request, roles ...string) (AuthUser, bool) {
	h := r.Header.Get("Authorization")
	token := strings.TrimPrefix(h, "Bearer ")
	if token == "" || token == h {
		writeJSON(w, http.StatusUnauthorized, Fail("missing bearer token"))
		return AuthUser{}, false
	}
	u, ok := s.Resolve(token)
	if !ok {
		writeJSON(w, http.StatusUnauthorized, Fail("invalid token"))
		return AuthUser{}, false
	}
	if len(roles) > 0 {
		allowed := false
		for _, role := range roles {
			if u.Role == role || u.Role == RoleAdmin {
				allowed = true
				break
			}
		}
		if !allowed {
			writeJSON(w, http.StatusForbidden, Fail("insufficient role"))
			return AuthUser{}, false
		}
	}
	return u, true
}

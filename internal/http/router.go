package httpapi

import (
	"net/http"
	"strings"

	"go.uber.org/zap"
)

// Router wraps the standard library http.ServeMux (no third-party routing
// dependency).
type Router struct {
	mux    *http.ServeMux
	logger *zap.Logger
}

func NewRouter(logger *zap.Logger) *Router {
	return &Router{
		mux:    http.NewServeMux(),
		logger: logger,
	}
}

func (r *Router) Handle(pattern string, h http.HandlerFunc) {
	r.mux.HandleFunc(pattern, h)
}

// HandleHandler accepts the http.Handler interface (pprof etc.).
func (r *Router) HandleHandler(pattern string, h http.Handler) {
	r.mux.Handle(pattern, h)
}

func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// pathTail splits the request path after prefix into (id, action). action is
// empty for /prefix/{id}.
func pathTail(path, prefix string) (id, action string, ok bool) {
	rest := strings.TrimPrefix(path, prefix)
	if rest == path || rest == "" {
		return "", "", false
	}
	parts := strings.SplitN(rest, "/", 2)
	id = parts[0]
	if id == "" {
		return "", "", false
	}
	if len(parts) == 2 {
		action = parts[1]
	}
	return id, action, true
}

// RegisterImportRoutes mounts the package pipeline surface.
func (r *Router) RegisterImportRoutes(h *ImportHandler) {
	r.Handle("/import/api/v1/packages", func(w http.ResponseWriter, req *http.Request) {
		switch req.Method {
		case http.MethodPost:
			h.Upload(w, req)
		case http.MethodGet:
			h.List(w, req)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	})

	r.Handle("/import/api/v1/packages/", func(w http.ResponseWriter, req *http.Request) {
		id, action, ok := pathTail(req.URL.Path, "/import/api/v1/packages/")
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		switch {
		case action == "" && req.Method == http.MethodGet:
			h.Get(w, req, id)
		case action == "stage" && req.Method == http.MethodPost:
			h.Stage(w, req, id)
		case action == "detect-duplicates" && req.Method == http.MethodPost:
			h.Detect(w, req, id)
		case action == "approve" && req.Method == http.MethodPost:
			h.Approve(w, req, id)
		case action == "commit" && req.Method == http.MethodPost:
			h.Commit(w, req, id)
		case action == "cancel" && req.Method == http.MethodPost:
			h.Cancel(w, req, id)
		case action == "quarantine" && req.Method == http.MethodPost:
			h.Quarantine(w, req, id)
		case action == "validation-report" && req.Method == http.MethodGet:
			h.ValidationReport(w, req, id)
		case action == "commit-report" && req.Method == http.MethodGet:
			h.CommitReport(w, req, id)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})
}

// RegisterConflictRoutes mounts the review surface.
func (r *Router) RegisterConflictRoutes(h *ConflictHandler) {
	r.Handle("/review/api/v1/conflicts", func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.List(w, req)
	})

	r.Handle("/review/api/v1/conflicts/", func(w http.ResponseWriter, req *http.Request) {
		id, action, ok := pathTail(req.URL.Path, "/review/api/v1/conflicts/")
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		switch {
		case action == "" && req.Method == http.MethodGet:
			h.Get(w, req, id)
		case action == "resolve" && req.Method == http.MethodPost:
			h.Resolve(w, req, id)
		case action == "escalate" && req.Method == http.MethodPost:
			h.Escalate(w, req, id)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})

	r.Handle("/review/api/v1/packages/", func(w http.ResponseWriter, req *http.Request) {
		id, action, ok := pathTail(req.URL.Path, "/review/api/v1/packages/")
		if !ok || action != "conflict-summary" || req.Method != http.MethodGet {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		h.Summary(w, req, id)
	})
}

// RegisterSyncRoutes mounts the device handshake surface.
func (r *Router) RegisterSyncRoutes(h *SyncHandler) {
	r.Handle("/sync/api/v1/sessions", func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.OpenSession(w, req)
	})

	r.Handle("/sync/api/v1/sessions/", func(w http.ResponseWriter, req *http.Request) {
		id, action, ok := pathTail(req.URL.Path, "/sync/api/v1/sessions/")
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		switch {
		case action == "packages" && req.Method == http.MethodPost:
			h.Upload(w, req, id)
		case action == "assignments" && req.Method == http.MethodGet:
			h.FetchAssignments(w, req, id)
		case action == "acknowledge" && req.Method == http.MethodPost:
			h.Acknowledge(w, req, id)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})

	r.Handle("/sync/api/v1/assignments", func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.CreateAssignment(w, req)
	})
}

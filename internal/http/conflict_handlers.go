package httpapi

import (
	"net/http"

	"landrec-import/internal/domain"
	"landrec-import/internal/repository"
	"landrec-import/internal/service"

	"go.uber.org/zap"
)

// ConflictHandler serves the review queue.
type ConflictHandler struct {
	conflicts *service.ConflictService
	auth      *TokenStore
	logger    *zap.Logger
}

func NewConflictHandler(conflicts *service.ConflictService, auth *TokenStore, logger *zap.Logger) *ConflictHandler {
	return &ConflictHandler{conflicts: conflicts, auth: auth, logger: logger}
}

// GET /review/api/v1/conflicts?packageId=&status=&type=&escalated=&page=&pageSize=
func (h *ConflictHandler) List(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.auth.authorize(w, r, RoleOperator, RoleReviewer); !ok {
		return
	}
	q := r.URL.Query()
	page := parseInt(q.Get("page"), 1)
	if page <= 0 {
		page = 1
	}
	pageSize := parseInt(q.Get("pageSize"), 50)
	f := repository.ConflictFilter{
		PackageID: q.Get("packageId"),
		Status:    domain.ConflictStatus(q.Get("status")),
		Type:      domain.ConflictType(q.Get("type")),
		Limit:     pageSize,
		Offset:    (page - 1) * pageSize,
	}
	if v := q.Get("escalated"); v != "" {
		esc := v == "true" || v == "1"
		f.Escalated = &esc
	}
	views, err := h.conflicts.List(r.Context(), f)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeOK(w, views)
}

// GET /review/api/v1/conflicts/{id}
func (h *ConflictHandler) Get(w http.ResponseWriter, r *http.Request, id string) {
	if _, ok := h.auth.authorize(w, r, RoleOperator, RoleReviewer); !ok {
		return
	}
	view, err := h.conflicts.Get(r.Context(), id)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeOK(w, view)
}

type resolveBody struct {
	Action     string `json:"action"`
	SurvivorID string `json:"survivorId,omitempty"`
	Reason     string `json:"reason"`
}

// POST /review/api/v1/conflicts/{id}/resolve
func (h *ConflictHandler) Resolve(w http.ResponseWriter, r *http.Request, id string) {
	user, ok := h.auth.authorize(w, r, RoleReviewer)
	if !ok {
		return
	}
	var body resolveBody
	if err := readBodyJSON(r, 1<<20, &body); err != nil {
		writeJSON(w, http.StatusBadRequest, Fail(err.Error()))
		return
	}
	view, err := h.conflicts.Resolve(r.Context(), service.ResolveRequest{
		ConflictID: id,
		Action:     domain.ResolutionAction(body.Action),
		SurvivorID: body.SurvivorID,
		Reason:     body.Reason,
		Actor:      user.UserID,
	})
	if err != nil {
		writeErr(w, err)
		return
	}
	writeOK(w, view)
}

type escalateBody struct {
	Reason string `json:"reason"`
}

// POST /review/api/v1/conflicts/{id}/escalate
func (h *ConflictHandler) Escalate(w http.ResponseWriter, r *http.Request, id string) {
	user, ok := h.auth.authorize(w, r, RoleOperator, RoleReviewer)
	if !ok {
		return
	}
	var body escalateBody
	if err := readBodyJSON(r, 1<<20, &body); err != nil {
		writeJSON(w, http.StatusBadRequest, Fail(err.Error()))
		return
	}
	view, err := h.conflicts.Escalate(r.Context(), id, body.Reason, user.UserID)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeOK(w, view)
}

// GET /review/api/v1/packages/{id}/conflict-summary
func (h *ConflictHandler) Summary(w http.ResponseWriter, r *http.Request, packageID string) {
	if _, ok := h.auth.authorize(w, r, RoleOperator, RoleReviewer); !ok {
		return
	}
	sum, err := h.conflicts.Summary(r.Context(), packageID)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeOK(w, sum)
}

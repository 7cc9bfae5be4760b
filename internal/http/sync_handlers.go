package httpapi

import (
	"net/http"
	"time"

	"landrec-import/internal/service"

	"go.uber.org/zap"
)

// SyncHandler serves the device handshake. Device tokens carry the collector
// identity; a session opened for one collector rejects requests authorized as
// another.
type SyncHandler struct {
	sync      *service.SyncService
	auth      *TokenStore
	maxUpload int64
	logger    *zap.Logger
}

func NewSyncHandler(sync *service.SyncService, auth *TokenStore, maxUpload int64, logger *zap.Logger) *SyncHandler {
	return &SyncHandler{sync: sync, auth: auth, maxUpload: maxUpload, logger: logger}
}

type openSessionBody struct {
	DeviceID string `json:"deviceId"`
}

// POST /sync/api/v1/sessions
func (h *SyncHandler) OpenSession(w http.ResponseWriter, r *http.Request) {
	user, ok := h.auth.authorize(w, r, RoleDevice)
	if !ok {
		return
	}
	var body openSessionBody
	if err := readBodyJSON(r, 1<<20, &body); err != nil {
		writeJSON(w, http.StatusBadRequest, Fail(err.Error()))
		return
	}
	sess, err := h.sync.OpenSession(r.Context(), service.OpenSessionRequest{
		CollectorID: user.CollectorID,
		DeviceID:    body.DeviceID,
	})
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, Ok(sess))
}

// POST /sync/api/v1/sessions/{id}/packages
// multipart: manifest (JSON), package (binary)
func (h *SyncHandler) Upload(w http.ResponseWriter, r *http.Request, sessionID string) {
	user, ok := h.auth.authorize(w, r, RoleDevice)
	if !ok {
		return
	}
	manifest, body, err := readPackageUpload(r, h.maxUpload)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, Fail(err.Error()))
		return
	}
	res, err := h.sync.Upload(r.Context(), service.SessionUploadRequest{
		SessionID:   sessionID,
		CollectorID: user.CollectorID,
		Upload: service.UploadRequest{
			Manifest:   manifest,
			Body:       body,
			UploadedBy: user.UserID,
		},
	})
	if err != nil {
		writeErr(w, err)
		return
	}
	status := http.StatusCreated
	if !res.Accepted {
		status = http.StatusOK
	}
	writeJSON(w, status, Ok(res))
}

// GET /sync/api/v1/sessions/{id}/assignments?vocabSince=RFC3339
func (h *SyncHandler) FetchAssignments(w http.ResponseWriter, r *http.Request, sessionID string) {
	user, ok := h.auth.authorize(w, r, RoleDevice)
	if !ok {
		return
	}
	var since time.Time
	if v := r.URL.Query().Get("vocabSince"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, Fail("vocabSince: expected RFC3339 timestamp"))
			return
		}
		since = t
	}
	res, err := h.sync.FetchAssignments(r.Context(), service.FetchRequest{
		SessionID:   sessionID,
		CollectorID: user.CollectorID,
		VocabSince:  since,
	})
	if err != nil {
		writeErr(w, err)
		return
	}
	writeOK(w, res)
}

type acknowledgeBody struct {
	AssignmentIDs []string `json:"assignmentIds"`
}

// POST /sync/api/v1/sessions/{id}/acknowledge
func (h *SyncHandler) Acknowledge(w http.ResponseWriter, r *http.Request, sessionID string) {
	user, ok := h.auth.authorize(w, r, RoleDevice)
	if !ok {
		return
	}
	var body acknowledgeBody
	if err := readBodyJSON(r, 1<<20, &body); err != nil {
		writeJSON(w, http.StatusBadRequest, Fail(err.Error()))
		return
	}
	res, err := h.sync.Acknowledge(r.Context(), service.AcknowledgeRequest{
		SessionID:     sessionID,
		CollectorID:   user.CollectorID,
		AssignmentIDs: body.AssignmentIDs,
	})
	if err != nil {
		writeErr(w, err)
		return
	}
	writeOK(w, res)
}

type createAssignmentBody struct {
	CollectorID string `json:"collectorId"`
	AreaCode    string `json:"areaCode"`
	Description string `json:"description"`
}

// POST /sync/api/v1/assignments
func (h *SyncHandler) CreateAssignment(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.auth.authorize(w, r, RoleAdmin); !ok {
		return
	}
	var body createAssignmentBody
	if err := readBodyJSON(r, 1<<20, &body); err != nil {
		writeJSON(w, http.StatusBadRequest, Fail(err.Error()))
		return
	}
	a, err := h.sync.CreateAssignment(r.Context(), body.CollectorID, body.AreaCode, body.Description)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, Ok(a))
}

package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"landrec-import/internal/domain"
	"landrec-import/internal/repository"
	"landrec-import/internal/service"

	"go.uber.org/zap"
)

// ImportHandler serves the package pipeline: upload, staging, duplicate
// detection, approval, commit, and the terminal commands.
type ImportHandler struct {
	intake     *service.IntakeService
	staging    *service.StagingService
	duplicates *service.DuplicateService
	commits    *service.CommitService
	packages   repository.PackagesRepository
	auth       *TokenStore
	maxUpload  int64
	logger     *zap.Logger
}

func NewImportHandler(
	intake *service.IntakeService,
	staging *service.StagingService,
	duplicates *service.DuplicateService,
	commits *service.CommitService,
	packages repository.PackagesRepository,
	auth *TokenStore,
	maxUpload int64,
	logger *zap.Logger,
) *ImportHandler {
	return &ImportHandler{
		intake:     intake,
		staging:    staging,
		duplicates: duplicates,
		commits:    commits,
		packages:   packages,
		auth:       auth,
		maxUpload:  maxUpload,
		logger:     logger,
	}
}

// readPackageUpload pulls the manifest and the package part out of a
// multipart body without buffering the file in memory. The manifest part must
// precede the package part.
func readPackageUpload(r *http.Request, maxBytes int64) (service.UploadManifest, io.Reader, error) {
	var manifest service.UploadManifest
	r.Body = http.MaxBytesReader(nil, r.Body, maxBytes)
	mr, err := r.MultipartReader()
	if err != nil {
		return manifest, nil, fmt.Errorf("multipart body required: %w", err)
	}
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			return manifest, nil, fmt.Errorf("missing package part")
		}
		if err != nil {
			return manifest, nil, err
		}
		switch part.FormName() {
		case "manifest":
			if err := json.NewDecoder(part).Decode(&manifest); err != nil {
				return manifest, nil, fmt.Errorf("manifest: %w", err)
			}
		case "package":
			if manifest.PackageID == "" {
				return manifest, nil, fmt.Errorf("manifest part must precede package part")
			}
			return manifest, part, nil
		default:
			_, _ = io.Copy(io.Discard, part)
		}
	}
}

// POST /import/api/v1/packages
// multipart: manifest (JSON), package (binary)
func (h *ImportHandler) Upload(w http.ResponseWriter, r *http.Request) {
	user, ok := h.auth.authorize(w, r, RoleOperator, RoleDevice)
	if !ok {
		return
	}
	manifest, body, err := readPackageUpload(r, h.maxUpload)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, Fail(err.Error()))
		return
	}
	res, err := h.intake.Upload(r.Context(), service.UploadRequest{
		Manifest:   manifest,
		Body:       body,
		UploadedBy: user.UserID,
	})
	if err != nil {
		writeErr(w, err)
		return
	}
	status := http.StatusCreated
	if res.Duplicate {
		status = http.StatusOK
	}
	writeJSON(w, status, Ok(res))
}

// GET /import/api/v1/packages?status=&collectorId=&page=&pageSize=
func (h *ImportHandler) List(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.auth.authorize(w, r, RoleOperator, RoleReviewer); !ok {
		return
	}
	page := parseInt(r.URL.Query().Get("page"), 1)
	if page <= 0 {
		page = 1
	}
	pageSize := parseInt(r.URL.Query().Get("pageSize"), 50)
	f := repository.PackageFilter{
		Status:      domain.PackageStatus(r.URL.Query().Get("status")),
		CollectorID: r.URL.Query().Get("collectorId"),
		Limit:       pageSize,
		Offset:      (page - 1) * pageSize,
	}
	pkgs, err := h.packages.List(r.Context(), f)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeOK(w, pkgs)
}

// GET /import/api/v1/packages/{id}
func (h *ImportHandler) Get(w http.ResponseWriter, r *http.Request, id string) {
	if _, ok := h.auth.authorize(w, r, RoleOperator, RoleReviewer, RoleDevice); !ok {
		return
	}
	pkg, err := h.packages.Get(r.Context(), id)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeOK(w, pkg)
}

// POST /import/api/v1/packages/{id}/stage
func (h *ImportHandler) Stage(w http.ResponseWriter, r *http.Request, id string) {
	user, ok := h.auth.authorize(w, r, RoleOperator)
	if !ok {
		return
	}
	summary, err := h.staging.Stage(r.Context(), id, user.UserID)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeOK(w, summary)
}

// POST /import/api/v1/packages/{id}/detect-duplicates
func (h *ImportHandler) Detect(w http.ResponseWriter, r *http.Request, id string) {
	user, ok := h.auth.authorize(w, r, RoleOperator)
	if !ok {
		return
	}
	res, err := h.duplicates.Detect(r.Context(), id, user.UserID)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeOK(w, res)
}

// POST /import/api/v1/packages/{id}/approve
func (h *ImportHandler) Approve(w http.ResponseWriter, r *http.Request, id string) {
	user, ok := h.auth.authorize(w, r, RoleReviewer)
	if !ok {
		return
	}
	pkg, err := h.commits.Approve(r.Context(), id, user.UserID)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeOK(w, pkg)
}

// POST /import/api/v1/packages/{id}/commit
func (h *ImportHandler) Commit(w http.ResponseWriter, r *http.Request, id string) {
	user, ok := h.auth.authorize(w, r, RoleReviewer)
	if !ok {
		return
	}
	report, err := h.commits.Commit(r.Context(), id, user.UserID)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeOK(w, report)
}

type terminateBody struct {
	Reason string `json:"reason"`
}

// POST /import/api/v1/packages/{id}/cancel
func (h *ImportHandler) Cancel(w http.ResponseWriter, r *http.Request, id string) {
	h.terminate(w, r, id, h.commits.Cancel)
}

// POST /import/api/v1/packages/{id}/quarantine
func (h *ImportHandler) Quarantine(w http.ResponseWriter, r *http.Request, id string) {
	h.terminate(w, r, id, h.commits.Quarantine)
}

func (h *ImportHandler) terminate(w http.ResponseWriter, r *http.Request, id string,
	fn func(ctx context.Context, packageID, actor, reason string) (*domain.ImportPackage, error)) {
	user, ok := h.auth.authorize(w, r, RoleOperator, RoleReviewer)
	if !ok {
		return
	}
	var body terminateBody
	if err := readBodyJSON(r, 1<<20, &body); err != nil {
		writeJSON(w, http.StatusBadRequest, Fail(err.Error()))
		return
	}
	pkg, err := fn(r.Context(), id, user.UserID, body.Reason)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeOK(w, pkg)
}

// GET /import/api/v1/packages/{id}/validation-report?format=xlsx
func (h *ImportHandler) ValidationReport(w http.ResponseWriter, r *http.Request, id string) {
	if _, ok := h.auth.authorize(w, r, RoleOperator, RoleReviewer); !ok {
		return
	}
	report, err := h.staging.ValidationReport(r.Context(), id)
	if err != nil {
		writeErr(w, err)
		return
	}
	if r.URL.Query().Get("format") == "xlsx" {
		data, err := GenerateValidationReportExcel(report.Rows)
		if err != nil {
			writeErr(w, err)
			return
		}
		serveExcel(w, fmt.Sprintf("validation-report-%s.xlsx", id), data)
		return
	}
	writeOK(w, report)
}

// GET /import/api/v1/packages/{id}/commit-report?format=xlsx
func (h *ImportHandler) CommitReport(w http.ResponseWriter, r *http.Request, id string) {
	if _, ok := h.auth.authorize(w, r, RoleOperator, RoleReviewer); !ok {
		return
	}
	report, err := h.commits.Report(r.Context(), id)
	if err != nil {
		writeErr(w, err)
		return
	}
	if r.URL.Query().Get("format") == "xlsx" {
		data, err := GenerateCommitReportExcel(report)
		if err != nil {
			writeErr(w, err)
			return
		}
		serveExcel(w, fmt.Sprintf("commit-report-%s.xlsx", id), data)
		return
	}
	writeOK(w, report)
}

func serveExcel(w http.ResponseWriter, filename string, data []byte) {
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	_, _ = w.Write(data)
}

package service

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"landrec-import/internal/domain"
	"landrec-import/internal/repository"
	"landrec-import/internal/store"

	"go.uber.org/zap"
)

// UploadManifest is the metadata the device sends alongside the package
// bytes.
type UploadManifest struct {
	PackageID   string    `json:"packageId"` // client-generated, the idempotency key
	FileName    string    `json:"fileName"`
	Checksum    string    `json:"checksum"` // declared sha256 hex
	Signature   string    `json:"signature,omitempty"`
	DeviceID    string    `json:"deviceId"`
	CollectorID string    `json:"collectorId"`
	ExportedAt  time.Time `json:"exportedAt"`
}

type UploadRequest struct {
	Manifest   UploadManifest
	Body       io.Reader
	UploadedBy string
}

type UploadResult struct {
	Package   *domain.ImportPackage `json:"package"`
	Duplicate bool                  `json:"duplicate"`
}

// IntakeService accepts uploaded packages: content-addressed storage of the
// raw bytes, server-side checksum verification, upload idempotency.
type IntakeService struct {
	packages     repository.PackagesRepository
	content      store.ContentStore
	audit        *AuditRecorder
	deviceSecret string // HMAC key for package signatures; empty disables verification
	logger       *zap.Logger
}

func NewIntakeService(packages repository.PackagesRepository, content store.ContentStore, audit *AuditRecorder, deviceSecret string, logger *zap.Logger) *IntakeService {
	return &IntakeService{
		packages:     packages,
		content:      content,
		audit:        audit,
		deviceSecret: deviceSecret,
		logger:       logger,
	}
}

// Upload runs intake for one package. A re-upload of a known package id
// returns the stored package unchanged with Duplicate=true: no reprocessing,
// no error, so devices can retry interrupted uploads blindly.
func (s *IntakeService) Upload(ctx context.Context, req UploadRequest) (*UploadResult, error) {
	m := req.Manifest
	if m.PackageID == "" {
		return nil, fmt.Errorf("manifest: packageId is required")
	}
	if m.CollectorID == "" {
		return nil, fmt.Errorf("manifest: collectorId is required")
	}
	if m.Checksum == "" {
		return nil, fmt.Errorf("manifest: checksum is required")
	}

	// Fast path for retries: if the package exists, don't even read the body.
	if existing, err := s.packages.Get(ctx, m.PackageID); err == nil {
		return &UploadResult{Package: existing, Duplicate: true}, nil
	} else if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}

	// Whole-package dedup falls out of content addressing: identical bytes
	// land on the same hash.
	hash, size, _, err := s.content.Put(req.Body)
	if err != nil {
		return nil, fmt.Errorf("store package content: %w", err)
	}

	status := domain.PackageUploaded
	integrityOK := strings.EqualFold(hash, m.Checksum)
	sigValid := s.verifySignature(hash, m.Signature)
	if !integrityOK || (m.Signature != "" && !sigValid) {
		// Persisted for audit but held: a quarantined package never stages.
		status = domain.PackageQuarantined
	}

	num, err := s.packages.NextPackageNumber(ctx)
	if err != nil {
		return nil, err
	}

	pkg := &domain.ImportPackage{
		PackageID:        m.PackageID,
		PackageNumber:    fmt.Sprintf("PKG-%06d", num),
		CollectorID:      m.CollectorID,
		DeviceID:         m.DeviceID,
		UploadedBy:       req.UploadedBy,
		FileName:         m.FileName,
		FileSize:         size,
		Checksum:         hash,
		DeclaredChecksum: m.Checksum,
		SignaturePresent: m.Signature != "",
		SignatureValid:   sigValid,
		Status:           status,
		ExportedAt:       m.ExportedAt,
	}
	stored, created, err := s.packages.CreateIfAbsent(ctx, pkg)
	if err != nil {
		return nil, err
	}
	if !created {
		// Lost a race with a concurrent retry of the same upload.
		return &UploadResult{Package: stored, Duplicate: true}, nil
	}

	if status == domain.PackageQuarantined {
		s.logger.Warn("package quarantined at intake",
			zap.String("package_id", m.PackageID),
			zap.String("declared", m.Checksum),
			zap.String("computed", hash))
		s.audit.Record(ctx, req.UploadedBy, "package.quarantine", "package", m.PackageID,
			"integrity check failed at intake",
			map[string]any{"declared": m.Checksum, "computed": hash})
	} else {
		s.logger.Info("package uploaded",
			zap.String("package_id", m.PackageID),
			zap.String("package_number", stored.PackageNumber),
			zap.Int64("size", size))
		s.audit.Record(ctx, req.UploadedBy, "package.upload", "package", m.PackageID, "",
			map[string]any{"fileName": m.FileName, "size": size})
	}
	return &UploadResult{Package: stored, Duplicate: false}, nil
}

// verifySignature checks the device HMAC over the content hash. With no
// configured secret, signature verification is delegated elsewhere and any
// present signature is taken at face value.
func (s *IntakeService) verifySignature(contentHash, signature string) bool {
	if signature == "" {
		return false
	}
	if s.deviceSecret == "" {
		return true
	}
	mac := hmac.New(sha256.New, []byte(s.deviceSecret))
	mac.Write([]byte(contentHash))
	want := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(strings.ToLower(signature)), []byte(want))
}

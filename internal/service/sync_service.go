package service

import (
	"context"
	"fmt"
	"time"

	"landrec-import/internal/domain"
	"landrec-import/internal/repository"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// SyncService runs the device handshake: open a session, push packages up,
// pull work assignments and vocabulary down, acknowledge receipt. Every leg
// is independently idempotent; a device that lost its connection mid-sync
// retries the same calls without double effects.
type SyncService struct {
	sessions repository.SyncRepository
	intake   *IntakeService
	vocab    VocabularyProvider
	audit    *AuditRecorder
	logger   *zap.Logger
}

func NewSyncService(
	sessions repository.SyncRepository,
	intake *IntakeService,
	vocab VocabularyProvider,
	audit *AuditRecorder,
	logger *zap.Logger,
) *SyncService {
	return &SyncService{
		sessions: sessions,
		intake:   intake,
		vocab:    vocab,
		audit:    audit,
		logger:   logger,
	}
}

type OpenSessionRequest struct {
	CollectorID string `json:"collectorId"`
	DeviceID    string `json:"deviceId"`
}

// OpenSession starts a sync session scoped to one collector. All later legs
// carry the session id and are refused if the collector doesn't match.
func (s *SyncService) OpenSession(ctx context.Context, req OpenSessionRequest) (*domain.SyncSession, error) {
	if req.CollectorID == "" {
		return nil, fmt.Errorf("open session: collectorId is required")
	}
	now := time.Now().UTC()
	sess := &domain.SyncSession{
		SessionID:   uuid.NewString(),
		CollectorID: req.CollectorID,
		DeviceID:    req.DeviceID,
		OpenedAt:    now,
		LastSeenAt:  now,
	}
	if err := s.sessions.CreateSession(ctx, sess); err != nil {
		return nil, err
	}
	s.logger.Info("sync session opened",
		zap.String("session_id", sess.SessionID),
		zap.String("collector_id", sess.CollectorID),
		zap.String("device_id", sess.DeviceID))
	return sess, nil
}

// session loads the session and enforces collector ownership.
func (s *SyncService) session(ctx context.Context, sessionID, collectorID string) (*domain.SyncSession, error) {
	sess, err := s.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.CollectorID != collectorID {
		return nil, fmt.Errorf("%w: session %s belongs to another collector", domain.ErrSessionOwnership, sessionID)
	}
	return sess, nil
}

type SessionUploadRequest struct {
	SessionID   string
	CollectorID string
	Upload      UploadRequest
}

type SessionUploadResult struct {
	Package  *domain.ImportPackage `json:"package"`
	Accepted bool                  `json:"accepted"` // false on duplicate: already held, no reprocessing
}

// Upload pushes one package through the session. Delegates to intake; a
// duplicate package id comes back Accepted=false with the stored package,
// which is the signal the device needs to stop retrying.
func (s *SyncService) Upload(ctx context.Context, req SessionUploadRequest) (*SessionUploadResult, error) {
	sess, err := s.session(ctx, req.SessionID, req.CollectorID)
	if err != nil {
		return nil, err
	}
	req.Upload.Manifest.CollectorID = sess.CollectorID
	if req.Upload.Manifest.DeviceID == "" {
		req.Upload.Manifest.DeviceID = sess.DeviceID
	}
	res, err := s.intake.Upload(ctx, req.Upload)
	if err != nil {
		return nil, err
	}
	if !res.Duplicate {
		if err := s.sessions.TouchSession(ctx, sess.SessionID, 1, 0); err != nil {
			s.logger.Warn("touch session", zap.String("session_id", sess.SessionID), zap.Error(err))
		}
	}
	return &SessionUploadResult{Package: res.Package, Accepted: !res.Duplicate}, nil
}

type FetchRequest struct {
	SessionID   string
	CollectorID string
	// VocabSince bounds the vocabulary payload: zero means first sync, ship
	// the full snapshot; otherwise only codes updated after it.
	VocabSince time.Time
}

type FetchResult struct {
	Assignments       []*domain.WorkAssignment   `json:"assignments"`
	Vocabulary        *domain.VocabularySnapshot `json:"vocabulary,omitempty"`
	VocabularyDelta   []domain.VocabularyCode    `json:"vocabularyDelta,omitempty"`
	VocabularyVersion string                     `json:"vocabularyVersion"`
}

// FetchAssignments returns the collector's undelivered work (Pending plus
// Failed, so a botched earlier transfer is retried) and the vocabulary
// update the device needs.
func (s *SyncService) FetchAssignments(ctx context.Context, req FetchRequest) (*FetchResult, error) {
	sess, err := s.session(ctx, req.SessionID, req.CollectorID)
	if err != nil {
		return nil, err
	}
	assignments, err := s.sessions.ListAssignments(ctx, sess.CollectorID,
		[]domain.TransferStatus{domain.TransferPending, domain.TransferFailed})
	if err != nil {
		return nil, err
	}
	snap, err := s.vocab.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	out := &FetchResult{Assignments: assignments, VocabularyVersion: snap.Version}
	if req.VocabSince.IsZero() {
		out.Vocabulary = snap
	} else {
		out.VocabularyDelta = snap.Delta(req.VocabSince)
	}
	if err := s.sessions.TouchSession(ctx, sess.SessionID, 0, 0); err != nil {
		s.logger.Warn("touch session", zap.String("session_id", sess.SessionID), zap.Error(err))
	}
	return out, nil
}

type AcknowledgeRequest struct {
	SessionID     string
	CollectorID   string
	AssignmentIDs []string
}

type AcknowledgeResult struct {
	Acknowledged int `json:"acknowledged"` // newly flipped to Transferred
	AlreadyDone  int `json:"alreadyDone"`  // retried acks, no-ops
}

// Acknowledge confirms assignments reached the device. Re-acknowledging an
// already-Transferred assignment is a counted no-op, never an error.
func (s *SyncService) Acknowledge(ctx context.Context, req AcknowledgeRequest) (*AcknowledgeResult, error) {
	sess, err := s.session(ctx, req.SessionID, req.CollectorID)
	if err != nil {
		return nil, err
	}
	if len(req.AssignmentIDs) == 0 {
		return &AcknowledgeResult{}, nil
	}
	changed, err := s.sessions.MarkTransferred(ctx, sess.CollectorID, req.AssignmentIDs)
	if err != nil {
		return nil, err
	}
	if changed > 0 {
		if err := s.sessions.TouchSession(ctx, sess.SessionID, 0, changed); err != nil {
			s.logger.Warn("touch session", zap.String("session_id", sess.SessionID), zap.Error(err))
		}
	}
	s.audit.Record(ctx, sess.CollectorID, "sync.acknowledge", "session", sess.SessionID, "",
		map[string]any{"acknowledged": changed, "requested": len(req.AssignmentIDs)})
	return &AcknowledgeResult{
		Acknowledged: changed,
		AlreadyDone:  len(req.AssignmentIDs) - changed,
	}, nil
}

// CreateAssignment registers a field-work order for later distribution.
func (s *SyncService) CreateAssignment(ctx context.Context, collectorID, areaCode, description string) (*domain.WorkAssignment, error) {
	if collectorID == "" {
		return nil, fmt.Errorf("assignment: collectorId is required")
	}
	a := &domain.WorkAssignment{
		AssignmentID: uuid.NewString(),
		CollectorID:  collectorID,
		AreaCode:     areaCode,
		Description:  description,
		Status:       domain.TransferPending,
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.sessions.CreateAssignment(ctx, a); err != nil {
		return nil, err
	}
	return a, nil
}

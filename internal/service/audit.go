package service

import (
	"context"
	"encoding/json"
	"time"

	"landrec-import/internal/domain"
	"landrec-import/internal/repository"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// AuditPublisher pushes audit events to an external sink (MQTT in
// deployment). Optional: nil publisher means DB-only audit.
type AuditPublisher interface {
	Publish(topic string, payload []byte) error
}

// AuditRecorder writes one entry per state-changing action. A failed audit
// write is logged, never allowed to fail the action itself.
type AuditRecorder struct {
	repo      repository.AuditRepository
	publisher AuditPublisher
	topic     string
	logger    *zap.Logger
}

func NewAuditRecorder(repo repository.AuditRepository, publisher AuditPublisher, topic string, logger *zap.Logger) *AuditRecorder {
	return &AuditRecorder{repo: repo, publisher: publisher, topic: topic, logger: logger}
}

func (a *AuditRecorder) Record(ctx context.Context, actor, action, objectType, objectID, reason string, detail map[string]any) {
	if a == nil || a.repo == nil {
		return
	}
	e := &domain.AuditEntry{
		EntryID:    uuid.NewString(),
		Actor:      actor,
		Action:     action,
		ObjectType: objectType,
		ObjectID:   objectID,
		Reason:     reason,
		Detail:     detail,
		CreatedAt:  time.Now().UTC(),
	}
	if err := a.repo.Insert(ctx, e); err != nil {
		a.logger.Error("audit insert failed",
			zap.String("action", action), zap.String("object_id", objectID), zap.Error(err))
	}
	if a.publisher != nil {
		if payload, err := json.Marshal(e); err == nil {
			if err := a.publisher.Publish(a.topic, payload); err != nil {
				a.logger.Warn("audit publish failed", zap.String("action", action), zap.Error(err))
			}
		}
	}
}

package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"landrec-import/internal/domain"
)

type PostgresSyncRepository struct {
	db *sql.DB
}

func NewPostgresSyncRepository(db *sql.DB) *PostgresSyncRepository {
	return &PostgresSyncRepository{db: db}
}

func (r *PostgresSyncRepository) CreateSession(ctx context.Context, s *domain.SyncSession) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO sync_sessions (session_id, collector_id, device_id)
		VALUES ($1,$2,$3)`,
		s.SessionID, s.CollectorID, s.DeviceID)
	if err != nil {
		return fmt.Errorf("create sync session: %w", err)
	}
	return nil
}

func (r *PostgresSyncRepository) GetSession(ctx context.Context, sessionID string) (*domain.SyncSession, error) {
	var s domain.SyncSession
	err := r.db.QueryRowContext(ctx, `
		SELECT session_id::text, collector_id, device_id,
		       packages_uploaded, assignments_acked, opened_at, last_seen_at
		FROM sync_sessions WHERE session_id = $1`, sessionID).Scan(
		&s.SessionID, &s.CollectorID, &s.DeviceID,
		&s.PackagesUploaded, &s.AssignmentsAcked, &s.OpenedAt, &s.LastSeenAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return &s, nil
}

func (r *PostgresSyncRepository) TouchSession(ctx context.Context, sessionID string, packagesDelta, acksDelta int) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE sync_sessions SET
			packages_uploaded = packages_uploaded + $2,
			assignments_acked = assignments_acked + $3,
			last_seen_at = now()
		WHERE session_id = $1`,
		sessionID, packagesDelta, acksDelta)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *PostgresSyncRepository) CreateAssignment(ctx context.Context, a *domain.WorkAssignment) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO work_assignments (assignment_id, collector_id, area_code, description, transfer_status)
		VALUES ($1,$2,$3,$4,$5)`,
		a.AssignmentID, a.CollectorID, a.AreaCode, a.Description, a.Status)
	if err != nil {
		return fmt.Errorf("create assignment: %w", err)
	}
	return nil
}

func (r *PostgresSyncRepository) ListAssignments(ctx context.Context, collectorID string, statuses []domain.TransferStatus) ([]*domain.WorkAssignment, error) {
	ss := make([]string, len(statuses))
	for i, s := range statuses {
		ss[i] = string(s)
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT assignment_id::text, collector_id, area_code, description,
		       transfer_status, transferred_at, created_at
		FROM work_assignments
		WHERE collector_id = $1 AND transfer_status = ANY($2::text[])
		ORDER BY created_at`, collectorID, pqArray(ss))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []*domain.WorkAssignment{}
	for rows.Next() {
		var a domain.WorkAssignment
		if err := rows.Scan(
			&a.AssignmentID, &a.CollectorID, &a.AreaCode, &a.Description,
			&a.Status, &a.TransferredAt, &a.CreatedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, &a)
	}
	return out, rows.Err()
}

// MarkTransferred only touches rows not already Transferred, so a device
// retrying an acknowledge is a no-op success.
func (r *PostgresSyncRepository) MarkTransferred(ctx context.Context, collectorID string, assignmentIDs []string) (int, error) {
	if len(assignmentIDs) == 0 {
		return 0, nil
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE work_assignments SET transfer_status = 'Transferred', transferred_at = now()
		WHERE collector_id = $1 AND assignment_id = ANY($2::uuid[])
		  AND transfer_status <> 'Transferred'`,
		collectorID, pqArray(assignmentIDs))
	if err != nil {
		return 0, fmt.Errorf("acknowledge assignments: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// PostgresAuditRepository is the durable audit sink.
type PostgresAuditRepository struct {
	db *sql.DB
}

func NewPostgresAuditRepository(db *sql.DB) *PostgresAuditRepository {
	return &PostgresAuditRepository{db: db}
}

func (r *PostgresAuditRepository) Insert(ctx context.Context, e *domain.AuditEntry) error {
	detail, err := json.Marshal(e.Detail)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO audit_log (entry_id, actor, action, object_type, object_id, reason, detail)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		e.EntryID, e.Actor, e.Action, e.ObjectType, e.ObjectID, e.Reason, detail)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

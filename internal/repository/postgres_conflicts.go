package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"landrec-import/internal/domain"
)

type PostgresConflictsRepository struct {
	db *sql.DB
}

func NewPostgresConflictsRepository(db *sql.DB) *PostgresConflictsRepository {
	return &PostgresConflictsRepository{db: db}
}

const conflictColumns = `
	conflict_id::text, package_id::text, conflict_type, entity_type,
	first_source, first_id, second_source, second_id, pair_key,
	score, tier, status, action, survivor_id, reason,
	assigned_to, escalated, escalation_reason,
	resolved_by, resolved_at, merge_provenance, detected_at`

func (r *PostgresConflictsRepository) InsertIfAbsent(ctx context.Context, c *domain.ConflictResolution) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO conflict_resolutions (
			conflict_id, package_id, conflict_type, entity_type,
			first_source, first_id, second_source, second_id, pair_key,
			score, tier, status, action, survivor_id, reason, escalated
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,'','', '', false)
		ON CONFLICT (package_id, pair_key) DO NOTHING`,
		c.ConflictID, c.PackageID, c.Type, c.EntityType,
		c.First.Source, c.First.ID, c.Second.Source, c.Second.ID, c.PairKey,
		c.Score, c.Tier, c.Status,
	)
	if err != nil {
		return false, fmt.Errorf("insert conflict %s: %w", c.PairKey, err)
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

func (r *PostgresConflictsRepository) Get(ctx context.Context, conflictID string) (*domain.ConflictResolution, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+conflictColumns+` FROM conflict_resolutions WHERE conflict_id = $1`, conflictID)
	c, err := scanConflict(row)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	return c, err
}

func (r *PostgresConflictsRepository) List(ctx context.Context, f ConflictFilter) ([]*domain.ConflictResolution, error) {
	where := "TRUE"
	args := []any{}
	idx := 1
	if f.PackageID != "" {
		where += fmt.Sprintf(" AND package_id = $%d", idx)
		args = append(args, f.PackageID)
		idx++
	}
	if f.Status != "" {
		where += fmt.Sprintf(" AND status = $%d", idx)
		args = append(args, f.Status)
		idx++
	}
	if f.Type != "" {
		where += fmt.Sprintf(" AND conflict_type = $%d", idx)
		args = append(args, f.Type)
		idx++
	}
	if f.Escalated != nil {
		where += fmt.Sprintf(" AND escalated = $%d", idx)
		args = append(args, *f.Escalated)
		idx++
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 200
	}
	args = append(args, limit, f.Offset)
	q := `SELECT ` + conflictColumns + ` FROM conflict_resolutions WHERE ` + where +
		fmt.Sprintf(` ORDER BY detected_at LIMIT $%d OFFSET $%d`, idx, idx+1)

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []*domain.ConflictResolution{}
	for rows.Next() {
		c, err := scanConflict(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *PostgresConflictsRepository) Update(ctx context.Context, c *domain.ConflictResolution) error {
	var provenance any
	if len(c.MergeProvenance) > 0 {
		provenance = []byte(c.MergeProvenance)
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE conflict_resolutions SET
			status = $2, action = $3, survivor_id = $4, reason = $5,
			assigned_to = $6, escalated = $7, escalation_reason = $8,
			resolved_by = $9, resolved_at = $10, merge_provenance = $11
		WHERE conflict_id = $1`,
		c.ConflictID, c.Status, c.Action, c.SurvivorID, c.Reason,
		c.AssignedTo, c.Escalated, c.EscalationReason,
		c.ResolvedBy, c.ResolvedAt, provenance,
	)
	if err != nil {
		return fmt.Errorf("update conflict %s: %w", c.ConflictID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *PostgresConflictsRepository) CountBlocking(ctx context.Context, packageID string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT count(*) FROM conflict_resolutions
		 WHERE package_id = $1 AND status = 'PendingReview'`, packageID).Scan(&n)
	return n, err
}

func (r *PostgresConflictsRepository) ResolvedForPackage(ctx context.Context, packageID string) ([]*domain.ConflictResolution, error) {
	return r.List(ctx, ConflictFilter{PackageID: packageID, Status: domain.ConflictResolved, Limit: 10000})
}

func scanConflict(row rowScanner) (*domain.ConflictResolution, error) {
	var c domain.ConflictResolution
	var provenance []byte
	err := row.Scan(
		&c.ConflictID, &c.PackageID, &c.Type, &c.EntityType,
		&c.First.Source, &c.First.ID, &c.Second.Source, &c.Second.ID, &c.PairKey,
		&c.Score, &c.Tier, &c.Status, &c.Action, &c.SurvivorID, &c.Reason,
		&c.AssignedTo, &c.Escalated, &c.EscalationReason,
		&c.ResolvedBy, &c.ResolvedAt, &provenance, &c.DetectedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(provenance) > 0 {
		c.MergeProvenance = json.RawMessage(provenance)
	}
	return &c, nil
}

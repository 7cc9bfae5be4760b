package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"landrec-import/internal/domain"
)

type PostgresStagingRepository struct {
	db *sql.DB
}

func NewPostgresStagingRepository(db *sql.DB) *PostgresStagingRepository {
	return &PostgresStagingRepository{db: db}
}

const stagingColumns = `
	row_id::text, package_id::text, entity_type, original_id, entity, refs,
	validation_status, errors, warnings, approved, production_id, created_at`

// Upsert keys on (package_id, entity_type, original_id). A re-run of staging
// refreshes entity, refs and validation in place; rows that already carry a
// production_id were committed and stay untouched.
func (r *PostgresStagingRepository) Upsert(ctx context.Context, row *domain.StagingRow) error {
	refs, err := json.Marshal(row.Refs)
	if err != nil {
		return err
	}
	errs, err := json.Marshal(row.Errors)
	if err != nil {
		return err
	}
	warns, err := json.Marshal(row.Warnings)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO staging_records (
			row_id, package_id, entity_type, original_id, entity, refs,
			validation_status, errors, warnings, approved
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,false)
		ON CONFLICT (package_id, entity_type, original_id) DO UPDATE SET
			entity = EXCLUDED.entity,
			refs = EXCLUDED.refs,
			validation_status = EXCLUDED.validation_status,
			errors = EXCLUDED.errors,
			warnings = EXCLUDED.warnings
		WHERE staging_records.production_id IS NULL`,
		row.RowID, row.PackageID, row.EntityType, row.OriginalID,
		[]byte(row.Entity), refs, row.Status, errs, warns,
	)
	if err != nil {
		return fmt.Errorf("upsert staging row %s/%s: %w", row.EntityType, row.OriginalID, err)
	}
	return nil
}

func (r *PostgresStagingRepository) ListByPackage(ctx context.Context, packageID string, et domain.EntityType) ([]*domain.StagingRow, error) {
	q := `SELECT ` + stagingColumns + ` FROM staging_records WHERE package_id = $1`
	args := []any{packageID}
	if et != "" {
		q += ` AND entity_type = $2`
		args = append(args, et)
	}
	q += ` ORDER BY entity_type, original_id`

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []*domain.StagingRow{}
	for rows.Next() {
		sr, err := scanStagingRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sr)
	}
	return out, rows.Err()
}

func (r *PostgresStagingRepository) GetByOriginalID(ctx context.Context, packageID string, et domain.EntityType, originalID string) (*domain.StagingRow, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+stagingColumns+` FROM staging_records
		 WHERE package_id = $1 AND entity_type = $2 AND original_id = $3`,
		packageID, et, originalID)
	sr, err := scanStagingRow(row)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	return sr, err
}

func (r *PostgresStagingRepository) SetApproved(ctx context.Context, packageID string, approved bool) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE staging_records SET approved = $2
		WHERE package_id = $1 AND validation_status IN ('Valid','Warning')`,
		packageID, approved,
	)
	if err != nil {
		return fmt.Errorf("approve staging rows of %s: %w", packageID, err)
	}
	return nil
}

func scanStagingRow(row rowScanner) (*domain.StagingRow, error) {
	var sr domain.StagingRow
	var entity, refs, errs, warns []byte
	err := row.Scan(
		&sr.RowID, &sr.PackageID, &sr.EntityType, &sr.OriginalID, &entity, &refs,
		&sr.Status, &errs, &warns, &sr.Approved, &sr.ProductionID, &sr.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	sr.Entity = json.RawMessage(entity)
	if len(refs) > 0 {
		_ = json.Unmarshal(refs, &sr.Refs)
	}
	if len(errs) > 0 {
		_ = json.Unmarshal(errs, &sr.Errors)
	}
	if len(warns) > 0 {
		_ = json.Unmarshal(warns, &sr.Warnings)
	}
	return &sr, nil
}

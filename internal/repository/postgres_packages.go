package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"landrec-import/internal/domain"

	"github.com/lib/pq"
)

type PostgresPackagesRepository struct {
	db *sql.DB
}

func NewPostgresPackagesRepository(db *sql.DB) *PostgresPackagesRepository {
	return &PostgresPackagesRepository{db: db}
}

const packageColumns = `
	package_id::text, package_number, collector_id, device_id, uploaded_by,
	file_name, file_size, checksum, declared_checksum,
	signature_present, signature_valid, status, vocabulary_version,
	record_counts, valid_counts, invalid_counts,
	conflicts_total, conflicts_pending, commit_report, failure_reason,
	exported_at, created_at, updated_at`

func (r *PostgresPackagesRepository) CreateIfAbsent(ctx context.Context, p *domain.ImportPackage) (*domain.ImportPackage, bool, error) {
	counts, err := json.Marshal(p.RecordCounts)
	if err != nil {
		return nil, false, err
	}
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO import_packages (
			package_id, package_number, collector_id, device_id, uploaded_by,
			file_name, file_size, checksum, declared_checksum,
			signature_present, signature_valid, status, vocabulary_version,
			record_counts, valid_counts, invalid_counts,
			conflicts_total, conflicts_pending, exported_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,'{}','{}',0,0,$15)
		ON CONFLICT (package_id) DO NOTHING`,
		p.PackageID, p.PackageNumber, p.CollectorID, p.DeviceID, p.UploadedBy,
		p.FileName, p.FileSize, p.Checksum, p.DeclaredChecksum,
		p.SignaturePresent, p.SignatureValid, p.Status, p.VocabularyVersion,
		counts, p.ExportedAt,
	)
	if err != nil {
		return nil, false, fmt.Errorf("insert package: %w", err)
	}
	n, _ := res.RowsAffected()
	existing, err := r.Get(ctx, p.PackageID)
	if err != nil {
		return nil, false, err
	}
	return existing, n == 1, nil
}

func (r *PostgresPackagesRepository) Get(ctx context.Context, packageID string) (*domain.ImportPackage, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+packageColumns+` FROM import_packages WHERE package_id = $1`, packageID)
	return scanPackage(row)
}

func (r *PostgresPackagesRepository) List(ctx context.Context, f PackageFilter) ([]*domain.ImportPackage, error) {
	where := "TRUE"
	args := []any{}
	idx := 1
	if f.Status != "" {
		where += fmt.Sprintf(" AND status = $%d", idx)
		args = append(args, f.Status)
		idx++
	}
	if f.CollectorID != "" {
		where += fmt.Sprintf(" AND collector_id = $%d", idx)
		args = append(args, f.CollectorID)
		idx++
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit, f.Offset)
	q := `SELECT ` + packageColumns + ` FROM import_packages WHERE ` + where +
		fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, idx, idx+1)

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []*domain.ImportPackage{}
	for rows.Next() {
		p, err := scanPackage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *PostgresPackagesRepository) Update(ctx context.Context, p *domain.ImportPackage) error {
	recordCounts, err := json.Marshal(p.RecordCounts)
	if err != nil {
		return err
	}
	validCounts, err := json.Marshal(p.ValidCounts)
	if err != nil {
		return err
	}
	invalidCounts, err := json.Marshal(p.InvalidCounts)
	if err != nil {
		return err
	}
	var report any
	if p.CommitReport != nil {
		report, err = json.Marshal(p.CommitReport)
		if err != nil {
			return err
		}
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE import_packages SET
			vocabulary_version = $2,
			record_counts = $3,
			valid_counts = $4,
			invalid_counts = $5,
			conflicts_total = $6,
			conflicts_pending = $7,
			commit_report = $8,
			failure_reason = $9,
			updated_at = now()
		WHERE package_id = $1`,
		p.PackageID, p.VocabularyVersion, recordCounts, validCounts, invalidCounts,
		p.ConflictsTotal, p.ConflictsPending, report, p.FailureReason,
	)
	if err != nil {
		return fmt.Errorf("update package %s: %w", p.PackageID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// TransitionStatus is a compare-and-swap on the stored status: zero rows
// affected means another operator moved the package first.
func (r *PostgresPackagesRepository) TransitionStatus(ctx context.Context, packageID string, from, to domain.PackageStatus) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE import_packages SET status = $3, updated_at = now()
		WHERE package_id = $1 AND status = $2`,
		packageID, from, to,
	)
	if err != nil {
		return fmt.Errorf("transition package %s %s->%s: %w", packageID, from, to, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		// Distinguish missing package from stale status for the caller's error.
		if _, gerr := r.Get(ctx, packageID); gerr != nil {
			return gerr
		}
		return domain.ErrInvalidTransition
	}
	return nil
}

func (r *PostgresPackagesRepository) NextPackageNumber(ctx context.Context) (int64, error) {
	var n int64
	if err := r.db.QueryRowContext(ctx, `SELECT nextval('package_number_seq')`).Scan(&n); err != nil {
		return 0, fmt.Errorf("package number sequence: %w", err)
	}
	return n, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPackage(row rowScanner) (*domain.ImportPackage, error) {
	var p domain.ImportPackage
	var recordCounts, validCounts, invalidCounts, report []byte
	err := row.Scan(
		&p.PackageID, &p.PackageNumber, &p.CollectorID, &p.DeviceID, &p.UploadedBy,
		&p.FileName, &p.FileSize, &p.Checksum, &p.DeclaredChecksum,
		&p.SignaturePresent, &p.SignatureValid, &p.Status, &p.VocabularyVersion,
		&recordCounts, &validCounts, &invalidCounts,
		&p.ConflictsTotal, &p.ConflictsPending, &report, &p.FailureReason,
		&p.ExportedAt, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	if len(recordCounts) > 0 {
		_ = json.Unmarshal(recordCounts, &p.RecordCounts)
	}
	if len(validCounts) > 0 {
		_ = json.Unmarshal(validCounts, &p.ValidCounts)
	}
	if len(invalidCounts) > 0 {
		_ = json.Unmarshal(invalidCounts, &p.InvalidCounts)
	}
	if len(report) > 0 {
		var cr domain.CommitReport
		if err := json.Unmarshal(report, &cr); err == nil {
			p.CommitReport = &cr
		}
	}
	return &p, nil
}

// pqArray keeps the pq import local to one alias so every repository file
// builds text arrays the same way.
func pqArray(ss []string) any { return pq.Array(ss) }

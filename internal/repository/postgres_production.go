package repository

import (
	"context"
	"database/sql"
	"fmt"

	"landrec-import/internal/domain"
	"landrec-import/internal/matching"
)

type PostgresProductionRepository struct {
	db *sql.DB
}

func NewPostgresProductionRepository(db *sql.DB) *PostgresProductionRepository {
	return &PostgresProductionRepository{db: db}
}

const personColumns = `
	person_id::text, household_id, full_name, normalized_name, birth_date,
	gender, national_id, phone, merged_into, source_package, created_at`

const unitColumns = `
	unit_id::text, building_id::text, unit_number, floor, area, admin_code,
	parcel_id, bbox, merged_into, source_package, created_at`

func (r *PostgresProductionRepository) FindPersonsByNationalID(ctx context.Context, normalizedID string) ([]*domain.Person, error) {
	if normalizedID == "" {
		return nil, nil
	}
	return r.queryPersons(ctx,
		`SELECT `+personColumns+` FROM persons
		 WHERE national_id_normalized = $1 AND merged_into IS NULL`, normalizedID)
}

func (r *PostgresProductionRepository) FindPersonsByNormalizedName(ctx context.Context, normalizedName string) ([]*domain.Person, error) {
	if normalizedName == "" {
		return nil, nil
	}
	return r.queryPersons(ctx,
		`SELECT `+personColumns+` FROM persons
		 WHERE normalized_name = $1 AND merged_into IS NULL`, normalizedName)
}

// FindPersonsByNameTokens uses array overlap on the tokenized name so the
// low-tier partial match never needs a sequential scan (GIN index on
// string_to_array(normalized_name, ' ')).
func (r *PostgresProductionRepository) FindPersonsByNameTokens(ctx context.Context, tokens []string) ([]*domain.Person, error) {
	if len(tokens) == 0 {
		return nil, nil
	}
	return r.queryPersons(ctx,
		`SELECT `+personColumns+` FROM persons
		 WHERE string_to_array(normalized_name, ' ') && $1::text[] AND merged_into IS NULL
		 LIMIT 500`, pqArray(tokens))
}

func (r *PostgresProductionRepository) FindUnitsByParcelID(ctx context.Context, normalizedParcelID string) ([]*domain.PropertyUnit, error) {
	if normalizedParcelID == "" {
		return nil, nil
	}
	return r.queryUnits(ctx,
		`SELECT `+unitColumns+` FROM property_units WHERE parcel_id_normalized = $1 AND merged_into IS NULL`, normalizedParcelID)
}

func (r *PostgresProductionRepository) FindUnitsByAdminCode(ctx context.Context, adminCode string) ([]*domain.PropertyUnit, error) {
	if adminCode == "" {
		return nil, nil
	}
	return r.queryUnits(ctx,
		`SELECT `+unitColumns+` FROM property_units WHERE admin_code = $1 AND merged_into IS NULL LIMIT 500`, adminCode)
}

func (r *PostgresProductionRepository) GetPerson(ctx context.Context, personID string) (*domain.Person, error) {
	persons, err := r.queryPersons(ctx,
		`SELECT `+personColumns+` FROM persons WHERE person_id = $1`, personID)
	if err != nil {
		return nil, err
	}
	if len(persons) == 0 {
		return nil, domain.ErrNotFound
	}
	return persons[0], nil
}

func (r *PostgresProductionRepository) queryPersons(ctx context.Context, q string, args ...any) ([]*domain.Person, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []*domain.Person{}
	for rows.Next() {
		var p domain.Person
		if err := rows.Scan(
			&p.PersonID, &p.HouseholdID, &p.FullName, &p.NormalizedName, &p.BirthDate,
			&p.Gender, &p.NationalID, &p.Phone, &p.MergedInto, &p.SourcePackage, &p.CreatedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, &p)
	}
	return out, rows.Err()
}

func (r *PostgresProductionRepository) queryUnits(ctx context.Context, q string, args ...any) ([]*domain.PropertyUnit, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []*domain.PropertyUnit{}
	for rows.Next() {
		var u domain.PropertyUnit
		if err := rows.Scan(
			&u.UnitID, &u.BuildingID, &u.UnitNumber, &u.Floor, &u.Area, &u.AdminCode,
			&u.ParcelID, &u.BBox, &u.MergedInto, &u.SourcePackage, &u.CreatedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, &u)
	}
	return out, rows.Err()
}

func (r *PostgresProductionRepository) Begin(ctx context.Context) (ProductionTx, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin commit transaction: %w", err)
	}
	return &postgresProductionTx{tx: tx}, nil
}

type postgresProductionTx struct {
	tx *sql.Tx
}

func (t *postgresProductionTx) CreateBuilding(ctx context.Context, b *domain.Building) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO buildings (building_id, name, admin_code, address, floors, bbox, source_package)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		b.BuildingID, b.Name, b.AdminCode, b.Address, b.Floors, b.BBox, b.SourcePackage)
	return err
}

func (t *postgresProductionTx) CreatePropertyUnit(ctx context.Context, u *domain.PropertyUnit) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO property_units (unit_id, building_id, unit_number, floor, area,
			admin_code, parcel_id, parcel_id_normalized, bbox, source_package)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		u.UnitID, u.BuildingID, u.UnitNumber, u.Floor, u.Area,
		u.AdminCode, u.ParcelID, matching.NormalizeExternalID(u.ParcelID), u.BBox, u.SourcePackage)
	return err
}

func (t *postgresProductionTx) CreateHousehold(ctx context.Context, h *domain.Household) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO households (household_id, unit_id, name, member_count, source_package)
		VALUES ($1,$2,$3,$4,$5)`,
		h.HouseholdID, h.UnitID, h.Name, h.MemberCount, h.SourcePackage)
	return err
}

func (t *postgresProductionTx) CreatePerson(ctx context.Context, p *domain.Person) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO persons (person_id, household_id, full_name, normalized_name,
			birth_date, gender, national_id, national_id_normalized, phone, source_package)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		p.PersonID, p.HouseholdID, p.FullName, p.NormalizedName,
		p.BirthDate, p.Gender, p.NationalID, matching.NormalizeExternalID(p.NationalID), p.Phone, p.SourcePackage)
	return err
}

func (t *postgresProductionTx) CreateRelation(ctx context.Context, r *domain.PersonPropertyRelation) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO person_property_relations (relation_id, person_id, unit_id,
			relation_type, share_percent, source_package)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		r.RelationID, r.PersonID, r.UnitID, r.RelationType, r.SharePercent, r.SourcePackage)
	return err
}

func (t *postgresProductionTx) CreateClaim(ctx context.Context, c *domain.Claim) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO claims (claim_id, claim_number, claimant_id, unit_id,
			claim_type, declared_date, notes, source_package)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		c.ClaimID, c.ClaimNumber, c.ClaimantID, c.UnitID,
		c.ClaimType, c.DeclaredDate, c.Notes, c.SourcePackage)
	return err
}

func (t *postgresProductionTx) CreateEvidence(ctx context.Context, e *domain.Evidence) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO evidence_catalog (evidence_id, claim_id, file_name, mime_type,
			content_hash, size, source_package)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		e.EvidenceID, e.ClaimID, e.FileName, e.MimeType, e.ContentHash, e.Size, e.SourcePackage)
	return err
}

func (t *postgresProductionTx) CreateSurvey(ctx context.Context, s *domain.Survey) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO surveys (survey_id, unit_id, surveyor, survey_date, notes, source_package)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		s.SurveyID, s.UnitID, s.Surveyor, s.SurveyDate, s.Notes, s.SourcePackage)
	return err
}

func (t *postgresProductionTx) NextClaimNumber(ctx context.Context) (int64, error) {
	var n int64
	if err := t.tx.QueryRowContext(ctx, `SELECT nextval('claim_number_seq')`).Scan(&n); err != nil {
		return 0, fmt.Errorf("claim number sequence: %w", err)
	}
	return n, nil
}

func (t *postgresProductionTx) EvidenceHashExists(ctx context.Context, hash string) (bool, error) {
	var exists bool
	err := t.tx.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM evidence_catalog WHERE content_hash = $1)`, hash).Scan(&exists)
	return exists, err
}

func (t *postgresProductionTx) MarkPersonMerged(ctx context.Context, personID, survivorID string) error {
	res, err := t.tx.ExecContext(ctx,
		`UPDATE persons SET merged_into = $2 WHERE person_id = $1`, personID, survivorID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (t *postgresProductionTx) MarkUnitMerged(ctx context.Context, unitID, survivorID string) error {
	res, err := t.tx.ExecContext(ctx,
		`UPDATE property_units SET merged_into = $2 WHERE unit_id = $1`, unitID, survivorID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (t *postgresProductionTx) MarkRowCommitted(ctx context.Context, rowID, productionID string) error {
	res, err := t.tx.ExecContext(ctx,
		`UPDATE staging_records SET production_id = $2 WHERE row_id = $1`, rowID, productionID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// Savepoint names are generated internally per row, never user input.
func (t *postgresProductionTx) Savepoint(ctx context.Context, name string) error {
	_, err := t.tx.ExecContext(ctx, "SAVEPOINT "+name)
	return err
}

func (t *postgresProductionTx) RollbackToSavepoint(ctx context.Context, name string) error {
	_, err := t.tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT "+name)
	return err
}

func (t *postgresProductionTx) Commit() error   { return t.tx.Commit() }
func (t *postgresProductionTx) Rollback() error { return t.tx.Rollback() }

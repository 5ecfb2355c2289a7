package admission

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/ward/internal/platform/db"
)

type admissionRepoPG struct{ pool *pgxpool.Pool }

func NewAdmissionRepoPG(pool *pgxpool.Pool) AdmissionRepository {
	return &admissionRepoPG{pool: pool}
}

const admissionCols = `a.id, a.patient_id, p.full_name, a.facility_id, a.team_id, a.bed, a.priority,
	a.main_diagnosis, a.insurance, a.status, a.admitted_at, a.created_at, a.updated_at`

const admissionFrom = ` FROM admission a JOIN patient p ON p.id = a.patient_id`

func scanAdmission(row pgx.Row) (*Admission, error) {
	var a Admission
	err := row.Scan(&a.ID, &a.PatientID, &a.PatientName, &a.FacilityID, &a.TeamID, &a.Bed, &a.Priority,
		&a.MainDiagnosis, &a.Insurance, &a.Status, &a.AdmittedAt, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrAdmissionNotFound
	}
	return &a, err
}

func (r *admissionRepoPG) Create(ctx context.Context, a *Admission) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	return db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO admission (id, patient_id, facility_id, team_id, bed, priority, main_diagnosis, insurance, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING admitted_at, created_at, updated_at`,
		a.ID, a.PatientID, a.FacilityID, a.TeamID, a.Bed, a.Priority, a.MainDiagnosis, a.Insurance, a.Status,
	).Scan(&a.AdmittedAt, &a.CreatedAt, &a.UpdatedAt)
}

func (r *admissionRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Admission, error) {
	return scanAdmission(db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+admissionCols+admissionFrom+` WHERE a.id = $1`, id))
}

func (r *admissionRepoPG) List(ctx context.Context, f ListFilter, limit, offset int) ([]*Admission, int, error) {
	var (
		where []string
		args  []any
	)
	if f.FacilityID != uuid.Nil {
		args = append(args, f.FacilityID)
		where = append(where, fmt.Sprintf("a.facility_id = $%d", len(args)))
	}
	if f.TeamID != uuid.Nil {
		args = append(args, f.TeamID)
		where = append(where, fmt.Sprintf("a.team_id = $%d", len(args)))
	}
	if f.Status != "" {
		args = append(args, f.Status)
		where = append(where, fmt.Sprintf("a.status = $%d", len(args)))
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	conn := db.Conn(ctx, r.pool)
	var total int
	if err := conn.QueryRow(ctx, `SELECT COUNT(*)`+admissionFrom+clause, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	args = append(args, limit, offset)
	rows, err := conn.Query(ctx,
		`SELECT `+admissionCols+admissionFrom+clause+
			fmt.Sprintf(` ORDER BY a.admitted_at DESC, a.bed LIMIT $%d OFFSET $%d`, len(args)-1, len(args)),
		args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var items []*Admission
	for rows.Next() {
		a, err := scanAdmission(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, a)
	}
	return items, total, rows.Err()
}

package careteam

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/ward/internal/platform/db"
)

type teamRepoPG struct{ pool *pgxpool.Pool }

func NewTeamRepoPG(pool *pgxpool.Pool) TeamRepository {
	return &teamRepoPG{pool: pool}
}

const teamCols = `id, facility_id, name, active, created_at`

func scanTeam(row pgx.Row) (*Team, error) {
	var t Team
	err := row.Scan(&t.ID, &t.FacilityID, &t.Name, &t.Active, &t.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrTeamNotFound
	}
	return &t, err
}

func (r *teamRepoPG) Create(ctx context.Context, t *Team) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	return db.Conn(ctx, r.pool).QueryRow(ctx,
		`INSERT INTO care_team (id, facility_id, name, active) VALUES ($1, $2, $3, $4) RETURNING created_at`,
		t.ID, t.FacilityID, t.Name, t.Active).Scan(&t.CreatedAt)
}

func (r *teamRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Team, error) {
	return scanTeam(db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+teamCols+` FROM care_team WHERE id = $1`, id))
}

func (r *teamRepoPG) ListActive(ctx context.Context, facilityID *uuid.UUID) ([]*Team, error) {
	conn := db.Conn(ctx, r.pool)
	var (
		rows pgx.Rows
		err  error
	)
	if facilityID != nil {
		rows, err = conn.Query(ctx, `SELECT `+teamCols+` FROM care_team
			WHERE active AND (facility_id = $1 OR facility_id IS NULL) ORDER BY name`, *facilityID)
	} else {
		rows, err = conn.Query(ctx, `SELECT `+teamCols+` FROM care_team WHERE active ORDER BY name`)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []*Team
	for rows.Next() {
		t, err := scanTeam(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, t)
	}
	return items, rows.Err()
}

package admin

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/ward/internal/platform/db"
)

// -- Facility --

type facilityRepoPG struct{ pool *pgxpool.Pool }

func NewFacilityRepoPG(pool *pgxpool.Pool) FacilityRepository {
	return &facilityRepoPG{pool: pool}
}

func (r *facilityRepoPG) Create(ctx context.Context, f *Facility) error {
	if f.ID == uuid.Nil {
		f.ID = uuid.New()
	}
	return db.Conn(ctx, r.pool).QueryRow(ctx,
		`INSERT INTO facility (id, name, active) VALUES ($1, $2, $3) RETURNING created_at`,
		f.ID, f.Name, f.Active).Scan(&f.CreatedAt)
}

func (r *facilityRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Facility, error) {
	var f Facility
	err := db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT id, name, active, created_at FROM facility WHERE id = $1`, id).
		Scan(&f.ID, &f.Name, &f.Active, &f.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrFacilityNotFound
	}
	return &f, err
}

func (r *facilityRepoPG) ListActive(ctx context.Context) ([]*Facility, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx,
		`SELECT id, name, active, created_at FROM facility WHERE active ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Facility
	for rows.Next() {
		var f Facility
		if err := rows.Scan(&f.ID, &f.Name, &f.Active, &f.CreatedAt); err != nil {
			return nil, err
		}
		items = append(items, &f)
	}
	return items, rows.Err()
}

// -- Profile --

type profileRepoPG struct{ pool *pgxpool.Pool }

func NewProfileRepoPG(pool *pgxpool.Pool) ProfileRepository {
	return &profileRepoPG{pool: pool}
}

func (r *profileRepoPG) Get(ctx context.Context, userID string) (*Profile, error) {
	p := Profile{UserID: userID}
	err := db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT onboarding_completed, updated_at FROM user_profile WHERE user_id = $1`, userID).
		Scan(&p.OnboardingCompleted, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return &p, nil
	}
	return &p, err
}

func (r *profileRepoPG) CompleteOnboarding(ctx context.Context, userID string) error {
	_, err := db.Conn(ctx, r.pool).Exec(ctx, `
		INSERT INTO user_profile (user_id, onboarding_completed, updated_at)
		VALUES ($1, TRUE, NOW())
		ON CONFLICT (user_id) DO UPDATE SET onboarding_completed = TRUE, updated_at = NOW()`, userID)
	return err
}

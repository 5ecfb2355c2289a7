package documents

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/ward/internal/platform/db"
)

type clinicalNoteRepoPG struct{ pool *pgxpool.Pool }

func NewClinicalNoteRepoPG(pool *pgxpool.Pool) ClinicalNoteRepository {
	return &clinicalNoteRepoPG{pool: pool}
}

const noteCols = `id, admission_id, note_type, status, situation, background, assessment,
	recommendation, author_id, created_at, updated_at`

func (r *clinicalNoteRepoPG) Create(ctx context.Context, n *ClinicalNote) error {
	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}
	return db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO clinical_note (id, admission_id, note_type, status, situation, background,
			assessment, recommendation, author_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at, updated_at`,
		n.ID, n.AdmissionID, n.NoteType, n.Status, n.Situation, n.Background,
		n.Assessment, n.Recommendation, n.AuthorID,
	).Scan(&n.CreatedAt, &n.UpdatedAt)
}

func (r *clinicalNoteRepoPG) ListByAdmission(ctx context.Context, admissionID uuid.UUID) ([]*ClinicalNote, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx,
		`SELECT `+noteCols+` FROM clinical_note WHERE admission_id = $1 ORDER BY created_at DESC`, admissionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []*ClinicalNote
	for rows.Next() {
		var n ClinicalNote
		if err := rows.Scan(&n.ID, &n.AdmissionID, &n.NoteType, &n.Status, &n.Situation, &n.Background,
			&n.Assessment, &n.Recommendation, &n.AuthorID, &n.CreatedAt, &n.UpdatedAt); err != nil {
			return nil, err
		}
		items = append(items, &n)
	}
	return items, rows.Err()
}

package intake

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

// SQLiteStore persists sessions as one JSON document per row so that an
// in-progress intake survives a restart.
type SQLiteStore struct {
	db *sqlx.DB
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS intake_sessions (
	session_id TEXT PRIMARY KEY,
	tenant_id  TEXT NOT NULL DEFAULT '',
	owner_id   TEXT NOT NULL DEFAULT '',
	step       TEXT NOT NULL,
	payload    TEXT NOT NULL,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS intake_sessions_updated_at ON intake_sessions (updated_at);
`

type sessionRow struct {
	SessionID string `db:"session_id"`
	TenantID  string `db:"tenant_id"`
	OwnerID   string `db:"owner_id"`
	Step      string `db:"step"`
	Payload   string `db:"payload"`
	CreatedAt string `db:"created_at"`
	UpdatedAt string `db:"updated_at"`
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite", dbPath+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// timestamps are stored as fixed-width UTC strings so that text ordering
// matches time ordering.
const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(sqliteTimeLayout)
}

func toRow(sess *Session) (sessionRow, error) {
	payload, err := json.Marshal(sess)
	if err != nil {
		return sessionRow{}, fmt.Errorf("encode session: %w", err)
	}
	return sessionRow{
		SessionID: sess.ID,
		TenantID:  sess.TenantID,
		OwnerID:   sess.OwnerID,
		Step:      sess.Step.String(),
		Payload:   string(payload),
		CreatedAt: formatTime(sess.CreatedAt),
		UpdatedAt: formatTime(sess.UpdatedAt),
	}, nil
}

func fromRow(r sessionRow) (*Session, error) {
	var sess Session
	if err := json.Unmarshal([]byte(r.Payload), &sess); err != nil {
		return nil, fmt.Errorf("decode session %s: %w", r.SessionID, err)
	}
	return &sess, nil
}

func (s *SQLiteStore) Create(ctx context.Context, sess *Session) error {
	row, err := toRow(sess)
	if err != nil {
		return err
	}
	_, err = s.db.NamedExecContext(ctx, `
		INSERT INTO intake_sessions (session_id, tenant_id, owner_id, step, payload, created_at, updated_at)
		VALUES (:session_id, :tenant_id, :owner_id, :step, :payload, :created_at, :updated_at)`, row)
	if err != nil {
		return fmt.Errorf("insert intake session: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (*Session, error) {
	var row sessionRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM intake_sessions WHERE session_id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get intake session: %w", err)
	}
	return fromRow(row)
}

func (s *SQLiteStore) Save(ctx context.Context, sess *Session) error {
	row, err := toRow(sess)
	if err != nil {
		return err
	}
	res, err := s.db.NamedExecContext(ctx, `
		UPDATE intake_sessions
		SET tenant_id = :tenant_id, owner_id = :owner_id, step = :step, payload = :payload, updated_at = :updated_at
		WHERE session_id = :session_id`, row)
	if err != nil {
		return fmt.Errorf("update intake session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrSessionNotFound
	}
	return nil
}

func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM intake_sessions WHERE session_id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete intake session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrSessionNotFound
	}
	return nil
}

func (s *SQLiteStore) Sweep(ctx context.Context, cutoff time.Time) ([]*Session, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin sweep: %w", err)
	}
	defer tx.Rollback()

	var rows []sessionRow
	if err := tx.SelectContext(ctx, &rows,
		`SELECT * FROM intake_sessions WHERE updated_at < ? ORDER BY updated_at`, formatTime(cutoff)); err != nil {
		return nil, fmt.Errorf("select expired sessions: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM intake_sessions WHERE updated_at < ?`, formatTime(cutoff)); err != nil {
		return nil, fmt.Errorf("delete expired sessions: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit sweep: %w", err)
	}

	out := make([]*Session, 0, len(rows))
	for _, r := range rows {
		sess, err := fromRow(r)
		if err != nil {
			continue
		}
		out = append(out, sess)
	}
	return out, nil
}

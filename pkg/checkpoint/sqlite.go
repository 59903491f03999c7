package checkpoint

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const checkpointSchema = `
CREATE TABLE IF NOT EXISTS checkpoints (
	user_id    TEXT PRIMARY KEY,
	turn_id    TEXT NOT NULL,
	state      BLOB NOT NULL,
	created_at INTEGER NOT NULL,
	expires_at INTEGER NOT NULL
);
`

// SQLiteStore persists checkpoints across process restarts.
type SQLiteStore struct {
	db    *sql.DB
	ttl   time.Duration
	nowFn func() time.Time
}

// NewSQLiteStore opens (and migrates) the checkpoint database at path.
func NewSQLiteStore(path string, ttl time.Duration) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open checkpoint db: %w", err)
	}
	if _, err := db.Exec(checkpointSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate checkpoint db: %w", err)
	}
	return &SQLiteStore{db: db, ttl: ttl, nowFn: time.Now}, nil
}

// WithClock overrides the store's clock, for tests.
func (s *SQLiteStore) WithClock(now func() time.Time) *SQLiteStore {
	s.nowFn = now
	return s
}

func (s *SQLiteStore) Save(ctx context.Context, rec *Record) error {
	now := s.nowFn()
	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}
	expiresAt := rec.ExpiresAt
	if expiresAt.IsZero() {
		expiresAt = now.Add(s.ttl)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO checkpoints (user_id, turn_id, state, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			turn_id = excluded.turn_id,
			state = excluded.state,
			created_at = excluded.created_at,
			expires_at = excluded.expires_at`,
		rec.UserID, rec.TurnID, rec.State, createdAt.Unix(), expiresAt.Unix())
	if err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Load(ctx context.Context, userID string) (*Record, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT turn_id, state, created_at, expires_at
		FROM checkpoints WHERE user_id = ?`, userID)

	rec := &Record{UserID: userID}
	var createdAt, expiresAt int64
	if err := row.Scan(&rec.TurnID, &rec.State, &createdAt, &expiresAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to load checkpoint: %w", err)
	}
	rec.CreatedAt = time.Unix(createdAt, 0)
	rec.ExpiresAt = time.Unix(expiresAt, 0)

	if rec.Expired(s.nowFn()) {
		_ = s.Delete(ctx, userID)
		return nil, ErrNotFound
	}
	return rec, nil
}

func (s *SQLiteStore) Delete(ctx context.Context, userID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM checkpoints WHERE user_id = ?`, userID); err != nil {
		return fmt.Errorf("failed to delete checkpoint: %w", err)
	}
	return nil
}

// Sweep removes expired rows. Intended for a periodic maintenance call.
func (s *SQLiteStore) Sweep(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM checkpoints WHERE expires_at < ?`, s.nowFn().Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to sweep checkpoints: %w", err)
	}
	return res.RowsAffected()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

var _ Store = (*SQLiteStore)(nil)

package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore persists durable per-session conversational history, adapted
// from store/sqlite.SqliteCheckpointStore's schema-on-open, ON CONFLICT
// upsert idiom.
type SQLiteStore struct {
	db *sql.DB
}

// SQLiteOptions configures a SQLiteStore.
type SQLiteOptions struct {
	Path string // ":memory:" for an ephemeral store
}

// NewSQLiteStore opens (creating if needed) the turns/scratch tables.
func NewSQLiteStore(opts SQLiteOptions) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", opts.Path)
	if err != nil {
		return nil, fmt.Errorf("unable to open database: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.initSchema(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) initSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS turns (
			session_id TEXT NOT NULL,
			role       TEXT NOT NULL,
			content    TEXT NOT NULL,
			timestamp  DATETIME NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_turns_session_id ON turns (session_id);

		CREATE TABLE IF NOT EXISTS scratch (
			session_id TEXT PRIMARY KEY,
			data       TEXT NOT NULL
		);
	`)
	if err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) AppendTurn(ctx context.Context, sessionID string, turn Turn) error {
	if turn.Timestamp.IsZero() {
		turn.Timestamp = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO turns (session_id, role, content, timestamp) VALUES (?, ?, ?, ?)`,
		sessionID, turn.Role, turn.Content, turn.Timestamp)
	if err != nil {
		return fmt.Errorf("failed to append turn: %w", err)
	}
	return nil
}

func (s *SQLiteStore) History(ctx context.Context, sessionID string) ([]Turn, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT role, content, timestamp FROM turns WHERE session_id = ? ORDER BY timestamp ASC`,
		sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list turns: %w", err)
	}
	defer rows.Close()

	var turns []Turn
	for rows.Next() {
		var t Turn
		if err := rows.Scan(&t.Role, &t.Content, &t.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan turn row: %w", err)
		}
		turns = append(turns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating turn rows: %w", err)
	}
	return turns, nil
}

func (s *SQLiteStore) SaveScratch(ctx context.Context, sessionID string, observations []string) error {
	data, err := json.Marshal(observations)
	if err != nil {
		return fmt.Errorf("failed to marshal scratch: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO scratch (session_id, data) VALUES (?, ?)
		ON CONFLICT(session_id) DO UPDATE SET data = excluded.data
	`, sessionID, string(data))
	if err != nil {
		return fmt.Errorf("failed to save scratch: %w", err)
	}
	return nil
}

func (s *SQLiteStore) LoadScratch(ctx context.Context, sessionID string) ([]string, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT data FROM scratch WHERE session_id = ?`, sessionID).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load scratch: %w", err)
	}
	var out []string
	if err := json.Unmarshal([]byte(data), &out); err != nil {
		return nil, fmt.Errorf("failed to unmarshal scratch: %w", err)
	}
	return out, nil
}

func (s *SQLiteStore) ResetScratch(ctx context.Context, sessionID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM scratch WHERE session_id = ?`, sessionID)
	if err != nil {
		return fmt.Errorf("failed to reset scratch: %w", err)
	}
	return nil
}

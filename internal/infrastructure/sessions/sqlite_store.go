// Package sessions persists refine sessions in SQLite.
package sessions

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/promptforge/promptforge/internal/domain"
	"github.com/promptforge/promptforge/internal/ports"
)

// SQLiteStore implements ports.SessionRepository on a local SQLite file.
type SQLiteStore struct {
	db   *sql.DB
	path string
	mu   sync.Mutex
}

// NewSQLiteStore opens (or creates) the database at path and ensures
// the schema exists.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	store := &SQLiteStore{db: db, path: path}
	if err := store.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *SQLiteStore) init() error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := s.db.Exec(pragma); err != nil {
			return fmt.Errorf("execute %s: %w", pragma, err)
		}
	}

	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		original_prompt TEXT NOT NULL,
		refined_prompt TEXT NOT NULL,
		stages TEXT NOT NULL DEFAULT '[]',
		model TEXT NOT NULL,
		latency_ms INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		output_text TEXT NOT NULL DEFAULT '',
		feedback_prompt INTEGER,
		feedback_output INTEGER,
		feedback_comment TEXT NOT NULL DEFAULT ''
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_user_created ON sessions(user_id, created_at);`)
	if err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Save inserts a new session record.
func (s *SQLiteStore) Save(ctx context.Context, rec domain.SessionRecord) error {
	stages, err := json.Marshal(rec.Stages)
	if err != nil {
		return fmt.Errorf("marshal stages: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.db.ExecContext(ctx, `INSERT INTO sessions
		(id, user_id, original_prompt, refined_prompt, stages, model, latency_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID,
		rec.UserID,
		rec.OriginalPrompt,
		rec.RefinedPrompt,
		string(stages),
		rec.Model,
		rec.LatencyMS,
		rec.CreatedAt.Format(time.RFC3339),
	)
	return err
}

// SetOutput writes the generated output back to a session.
func (s *SQLiteStore) SetOutput(ctx context.Context, id, output string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, "UPDATE sessions SET output_text = ? WHERE id = ?", output, id)
	return err
}

// SetFeedback records a rating on the prompt or the output.
func (s *SQLiteStore) SetFeedback(ctx context.Context, id, kind string, rating int, comment string) error {
	var column string
	switch kind {
	case domain.FeedbackPrompt:
		column = "feedback_prompt"
	case domain.FeedbackOutput:
		column = "feedback_output"
	default:
		return fmt.Errorf("unknown feedback type: %s", kind)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx,
		"UPDATE sessions SET "+column+" = ?, feedback_comment = ? WHERE id = ?",
		rating, comment, id)
	return err
}

// History returns a caller's session summaries, newest first.
func (s *SQLiteStore) History(ctx context.Context, userID string, limit int) ([]domain.SessionSummary, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id, original_prompt, created_at
		FROM sessions WHERE user_id = ?
		ORDER BY datetime(created_at) DESC LIMIT ?`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var summaries []domain.SessionSummary
	for rows.Next() {
		var sum domain.SessionSummary
		var ts string
		if err := rows.Scan(&sum.ID, &sum.OriginalPrompt, &ts); err != nil {
			return nil, err
		}
		if t, err := time.Parse(time.RFC3339, ts); err == nil {
			sum.CreatedAt = t
		}
		summaries = append(summaries, sum)
	}
	return summaries, rows.Err()
}

// Get returns a full session record or domain.ErrSessionNotFound.
func (s *SQLiteStore) Get(ctx context.Context, id string) (domain.SessionRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, user_id, original_prompt, refined_prompt,
		stages, model, latency_ms, created_at, output_text,
		feedback_prompt, feedback_output, feedback_comment
		FROM sessions WHERE id = ?`, id)

	var rec domain.SessionRecord
	var stages, ts string
	var fbPrompt, fbOutput sql.NullInt64
	err := row.Scan(&rec.ID, &rec.UserID, &rec.OriginalPrompt, &rec.RefinedPrompt,
		&stages, &rec.Model, &rec.LatencyMS, &ts, &rec.OutputText,
		&fbPrompt, &fbOutput, &rec.FeedbackComment)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.SessionRecord{}, domain.ErrSessionNotFound
	}
	if err != nil {
		return domain.SessionRecord{}, err
	}

	if err := json.Unmarshal([]byte(stages), &rec.Stages); err != nil {
		return domain.SessionRecord{}, fmt.Errorf("unmarshal stages: %w", err)
	}
	if t, err := time.Parse(time.RFC3339, ts); err == nil {
		rec.CreatedAt = t
	}
	if fbPrompt.Valid {
		v := int(fbPrompt.Int64)
		rec.FeedbackPrompt = &v
	}
	if fbOutput.Valid {
		v := int(fbOutput.Int64)
		rec.FeedbackOutput = &v
	}
	return rec, nil
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string {
	return s.path
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

var _ ports.SessionRepository = (*SQLiteStore)(nil)

// Package draft keeps in-progress submissions in a local SQLite file so a
// session survives restarts and remote store outages.
package draft

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/catalyzator-io/catalyzator-sub000/internal/models"
)

const schema = `
CREATE TABLE IF NOT EXISTS drafts (
	key        TEXT PRIMARY KEY,
	user_id    TEXT NOT NULL,
	form_id    TEXT NOT NULL,
	payload    TEXT NOT NULL,
	updated_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_drafts_user ON drafts(user_id);
`

type Store struct {
	db *sql.DB
}

// Open creates or opens the draft database at path. ":memory:" is accepted.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("draft: create directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("draft: open %s: %w", path, err)
	}
	// SQLite allows one writer at a time.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("draft: create schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Key identifies one draft.
func Key(userID, formID, applicationID string) string {
	return strings.Join([]string{userID, formID, applicationID}, "/")
}

// Save stores sub under its user/form/application key, replacing any previous draft.
func (s *Store) Save(ctx context.Context, sub *models.FormSubmission) error {
	payload, err := json.Marshal(sub)
	if err != nil {
		return fmt.Errorf("draft: encode: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO drafts (key, user_id, form_id, payload, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET payload = excluded.payload, updated_at = excluded.updated_at`,
		Key(sub.UserID, sub.FormID, sub.ApplicationID), sub.UserID, sub.FormID, string(payload),
		models.Timestamp(time.Now()))
	if err != nil {
		return fmt.Errorf("draft: save: %w", err)
	}
	return nil
}

// Load returns the draft, or nil when none exists.
func (s *Store) Load(ctx context.Context, userID, formID, applicationID string) (*models.FormSubmission, error) {
	var payload string
	err := s.db.QueryRowContext(ctx, `SELECT payload FROM drafts WHERE key = ?`,
		Key(userID, formID, applicationID)).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("draft: load: %w", err)
	}
	var sub models.FormSubmission
	if err := json.Unmarshal([]byte(payload), &sub); err != nil {
		return nil, fmt.Errorf("draft: decode: %w", err)
	}
	return &sub, nil
}

func (s *Store) Delete(ctx context.Context, userID, formID, applicationID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM drafts WHERE key = ?`, Key(userID, formID, applicationID)); err != nil {
		return fmt.Errorf("draft: delete: %w", err)
	}
	return nil
}

// ListByUser returns every draft of a user, most recently saved first.
func (s *Store) ListByUser(ctx context.Context, userID string) ([]*models.FormSubmission, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT payload FROM drafts WHERE user_id = ? ORDER BY updated_at DESC, key`, userID)
	if err != nil {
		return nil, fmt.Errorf("draft: list: %w", err)
	}
	defer rows.Close()

	var out []*models.FormSubmission
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("draft: scan: %w", err)
		}
		var sub models.FormSubmission
		if err := json.Unmarshal([]byte(payload), &sub); err != nil {
			return nil, fmt.Errorf("draft: decode: %w", err)
		}
		out = append(out, &sub)
	}
	return out, rows.Err()
}

func (s *Store) Close() error {
	return s.db.Close()
}

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// LoadConfigDocument returns the persisted Configuration document as raw
// JSON. found is false when no configuration has ever been saved.
func (s *Store) LoadConfigDocument(ctx context.Context) (doc []byte, found bool, err error) {
	var raw string
	err = s.reader.QueryRowContext(ctx,
		`SELECT document FROM ai_config WHERE id = 1`).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("store: load config: %w", err)
	}
	return []byte(raw), true, nil
}

// SaveConfigDocument upserts the singleton Configuration document. The row
// is written in a single statement, so readers observe the previous or the
// new document, never a partial one.
func (s *Store) SaveConfigDocument(ctx context.Context, doc []byte) error {
	_, err := s.writer.ExecContext(ctx, `
		INSERT INTO ai_config (id, document, updated_at) VALUES (1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET document = excluded.document, updated_at = excluded.updated_at`,
		string(doc), time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("store: save config: %w", err)
	}
	return nil
}

package store

import (
	"context"
	"fmt"
	"time"
)

// UsageRecord is one append-only telemetry row emitted after a capability
// call. The gateway fills the fields; aggregation happens here or in
// downstream reporting.
type UsageRecord struct {
	ID               string
	Provider         string
	Model            string
	Feature          string // generate, analyze, optimize, chat
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
	Estimated        bool
	LatencyMs        int64
	CreatedAt        time.Time
}

// InsertUsage appends a usage record. The caller provides a unique ID
// (typically a UUID).
func (s *Store) InsertUsage(ctx context.Context, r *UsageRecord) error {
	estimated := 0
	if r.Estimated {
		estimated = 1
	}
	created := r.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}

	_, err := s.writer.ExecContext(ctx, `
		INSERT INTO usage_records (
			id, provider, model, feature,
			prompt_tokens, completion_tokens, total_tokens,
			estimated, latency_ms, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Provider, r.Model, r.Feature,
		r.PromptTokens, r.CompletionTokens, r.TotalTokens,
		estimated, r.LatencyMs, created.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("store: insert usage: %w", err)
	}
	return nil
}

// TotalTokensSince sums total tokens across all records created at or after
// the given time. Used for daily-limit reporting.
func (s *Store) TotalTokensSince(ctx context.Context, since time.Time) (int64, error) {
	var total int64
	err := s.reader.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(total_tokens), 0) FROM usage_records WHERE created_at >= ?`,
		since.UTC().Format(time.RFC3339Nano),
	).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("store: total tokens since: %w", err)
	}
	return total, nil
}

// RecentUsage returns the most recent usage records, newest first.
func (s *Store) RecentUsage(ctx context.Context, limit int) ([]UsageRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.reader.QueryContext(ctx, `
		SELECT id, provider, model, feature,
		       prompt_tokens, completion_tokens, total_tokens,
		       estimated, latency_ms, created_at
		FROM usage_records ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("store: recent usage: %w", err)
	}
	defer rows.Close()

	var records []UsageRecord
	for rows.Next() {
		var r UsageRecord
		var estimated int
		var created string
		if err := rows.Scan(
			&r.ID, &r.Provider, &r.Model, &r.Feature,
			&r.PromptTokens, &r.CompletionTokens, &r.TotalTokens,
			&estimated, &r.LatencyMs, &created,
		); err != nil {
			return nil, fmt.Errorf("store: scan usage: %w", err)
		}
		r.Estimated = estimated != 0
		r.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
		records = append(records, r)
	}
	return records, rows.Err()
}

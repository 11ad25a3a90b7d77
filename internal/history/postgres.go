package history

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresSink persists finalized call records in PostgreSQL.
type PostgresSink struct {
	pool *pgxpool.Pool
}

func NewPostgresSink(ctx context.Context, databaseURL string) (*PostgresSink, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresSink{pool: pool}, nil
}

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS call_history (
			call_id TEXT PRIMARY KEY,
			phone_number TEXT NOT NULL,
			device_id TEXT NOT NULL,
			incoming BOOLEAN NOT NULL,
			started_at TIMESTAMPTZ NOT NULL,
			ended_at TIMESTAMPTZ NOT NULL,
			duration_seconds INTEGER NOT NULL DEFAULT 0,
			transcript TEXT NOT NULL DEFAULT '',
			summary TEXT NOT NULL DEFAULT ''
		);`,
		`CREATE INDEX IF NOT EXISTS idx_call_history_ended ON call_history (ended_at);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *PostgresSink) SaveCall(ctx context.Context, rec Record) error {
	if rec.EndedAt.IsZero() {
		rec.EndedAt = time.Now().UTC()
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO call_history (call_id, phone_number, device_id, incoming, started_at, ended_at, duration_seconds, transcript, summary)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (call_id) DO UPDATE SET
			ended_at = EXCLUDED.ended_at,
			duration_seconds = EXCLUDED.duration_seconds,
			transcript = EXCLUDED.transcript,
			summary = EXCLUDED.summary`,
		rec.CallID,
		rec.PhoneNumber,
		rec.DeviceID,
		rec.Incoming,
		rec.StartedAt,
		rec.EndedAt,
		rec.DurationSeconds,
		rec.Transcript,
		rec.Summary,
	)
	if err != nil {
		return fmt.Errorf("save call: %w", err)
	}
	return nil
}

func (s *PostgresSink) RecentCalls(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.pool.Query(ctx,
		`SELECT call_id, phone_number, device_id, incoming, started_at, ended_at, duration_seconds, transcript, summary
		 FROM call_history ORDER BY ended_at DESC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query recent calls: %w", err)
	}
	defer rows.Close()

	items := make([]Record, 0, limit)
	for rows.Next() {
		var r Record
		if err := rows.Scan(&r.CallID, &r.PhoneNumber, &r.DeviceID, &r.Incoming, &r.StartedAt, &r.EndedAt, &r.DurationSeconds, &r.Transcript, &r.Summary); err != nil {
			return nil, fmt.Errorf("scan history row: %w", err)
		}
		items = append(items, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history rows: %w", err)
	}
	return items, nil
}

func (s *PostgresSink) Close() error {
	s.pool.Close()
	return nil
}

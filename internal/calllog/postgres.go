package calllog

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists the call audit trail in PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS call_events (
			id TEXT PRIMARY KEY,
			call_sid TEXT NOT NULL,
			session_id TEXT NOT NULL,
			kind TEXT NOT NULL,
			detail JSONB NOT NULL DEFAULT '{}'::jsonb,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
		`CREATE INDEX IF NOT EXISTS idx_call_events_sid_created ON call_events (call_sid, created_at);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *PostgresStore) Record(ctx context.Context, event Event) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	detail := event.Detail
	if detail == nil {
		detail = map[string]any{}
	}
	raw, err := json.Marshal(detail)
	if err != nil {
		return fmt.Errorf("encode event detail: %w", err)
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO call_events (id, call_sid, session_id, kind, detail, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		event.ID,
		event.CallSID,
		event.SessionID,
		string(event.Kind),
		raw,
		event.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("record call event: %w", err)
	}
	return nil
}

func (s *PostgresStore) Events(ctx context.Context, callSID string, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, call_sid, session_id, kind, detail, created_at
		 FROM call_events WHERE call_sid=$1 ORDER BY created_at DESC LIMIT $2`,
		callSID,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query call events: %w", err)
	}
	defer rows.Close()

	events := make([]Event, 0, limit)
	for rows.Next() {
		var (
			e    Event
			kind string
			raw  []byte
		)
		if err := rows.Scan(&e.ID, &e.CallSID, &e.SessionID, &kind, &raw, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan event row: %w", err)
		}
		e.Kind = EventKind(kind)
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &e.Detail); err != nil {
				return nil, fmt.Errorf("decode event detail: %w", err)
			}
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate event rows: %w", err)
	}

	// Reverse into chronological order.
	for i, j := 0, len(events)-1; i < j; i, j = i+1, j-1 {
		events[i], events[j] = events[j], events[i]
	}

	return events, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

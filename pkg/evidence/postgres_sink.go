package evidence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/lib/pq"
)

// PostgresSink persists events to PostgreSQL for deployments that need a
// shared durable trail. Append-only: no update or delete statements exist.
type PostgresSink struct {
	db *sql.DB
}

// NewPostgresSink wraps an open connection and ensures the schema.
func NewPostgresSink(db *sql.DB) (*PostgresSink, error) {
	s := &PostgresSink{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

// OpenPostgresSink dials the database at dsn.
func OpenPostgresSink(dsn string) (*PostgresSink, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("evidence: open postgres sink: %w", err)
	}
	return NewPostgresSink(db)
}

func (s *PostgresSink) migrate() error {
	query := `
    CREATE TABLE IF NOT EXISTS evidence_events (
        event_id      TEXT PRIMARY KEY,
        stream_id     TEXT NOT NULL,
        sequence      BIGINT NOT NULL,
        event_type    TEXT NOT NULL,
        timestamp     TIMESTAMPTZ NOT NULL,
        data          JSONB,
        event_hash    TEXT NOT NULL,
        previous_hash TEXT NOT NULL DEFAULT '',
        UNIQUE (stream_id, sequence)
    )`
	_, err := s.db.ExecContext(context.Background(), query)
	return err
}

func (s *PostgresSink) Append(ctx context.Context, ev *Event) error {
	data, err := json.Marshal(ev.Data)
	if err != nil {
		return fmt.Errorf("evidence: marshal event data: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
        INSERT INTO evidence_events
            (event_id, stream_id, sequence, event_type, timestamp, data, event_hash, previous_hash)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		ev.EventID, ev.StreamID, ev.Sequence, ev.EventType,
		ev.Timestamp, string(data), ev.EventHash, ev.PreviousHash)
	if err != nil {
		return fmt.Errorf("evidence: postgres append: %w", err)
	}
	return nil
}

// HeadHash returns the event hash of the highest sequence on a stream.
func (s *PostgresSink) HeadHash(ctx context.Context, streamID string) (string, error) {
	var h string
	err := s.db.QueryRowContext(ctx, `
        SELECT event_hash FROM evidence_events
        WHERE stream_id = $1 ORDER BY sequence DESC LIMIT 1`, streamID).Scan(&h)
	if err == sql.ErrNoRows {
		return GenesisHash, nil
	}
	return h, err
}

func (s *PostgresSink) Close() error { return s.db.Close() }

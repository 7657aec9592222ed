package evidence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "modernc.org/sqlite"
)

// SQLiteSink persists events to a local SQLite database. The table is
// append-only by construction: there are no update or delete paths.
type SQLiteSink struct {
	db *sql.DB
}

// NewSQLiteSink opens the database at path and runs the migration.
// Use ":memory:" for an ephemeral sink.
func NewSQLiteSink(path string) (*SQLiteSink, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("evidence: open sqlite sink: %w", err)
	}
	s := &SQLiteSink{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteSink) migrate() error {
	query := `
    CREATE TABLE IF NOT EXISTS evidence_events (
        event_id      TEXT PRIMARY KEY,
        stream_id     TEXT NOT NULL,
        sequence      INTEGER NOT NULL,
        event_type    TEXT NOT NULL,
        timestamp     DATETIME NOT NULL,
        data          JSON,
        event_hash    TEXT NOT NULL,
        previous_hash TEXT NOT NULL DEFAULT '',
        UNIQUE (stream_id, sequence)
    );
    CREATE INDEX IF NOT EXISTS idx_evidence_stream ON evidence_events (stream_id, sequence);`
	_, err := s.db.ExecContext(context.Background(), query)
	return err
}

func (s *SQLiteSink) Append(ctx context.Context, ev *Event) error {
	data, err := json.Marshal(ev.Data)
	if err != nil {
		return fmt.Errorf("evidence: marshal event data: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
        INSERT INTO evidence_events
            (event_id, stream_id, sequence, event_type, timestamp, data, event_hash, previous_hash)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.EventID, ev.StreamID, ev.Sequence, ev.EventType,
		ev.Timestamp, string(data), ev.EventHash, ev.PreviousHash)
	if err != nil {
		return fmt.Errorf("evidence: sqlite append: %w", err)
	}
	return nil
}

// CountByStream reports how many events a stream holds.
func (s *SQLiteSink) CountByStream(ctx context.Context, streamID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM evidence_events WHERE stream_id = ?`, streamID).Scan(&n)
	return n, err
}

func (s *SQLiteSink) Close() error { return s.db.Close() }

// Package evidence implements the chain-of-custody primitive: an append-only,
// tamper-evident event log. Every component of the platform writes its
// decisions and their supporting facts through this log. Events are
// hash-chained per stream; global order across streams is not guaranteed.
package evidence

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/GABRIELS562/zero-downtime-pipeline-sub000/pkg/canonicalize"
	"github.com/GABRIELS562/zero-downtime-pipeline-sub000/pkg/forensic"
	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
)

// GenesisHash anchors the first event of every stream.
const GenesisHash = "genesis"

var (
	ErrStreamNotFound = errors.New("evidence: stream not found")
	ErrEventNotFound  = errors.New("evidence: event not found")
)

// Event is the chain-of-custody unit. Immutable after creation; EventHash is
// computed over (eventType, timestamp, data) and PreviousHash links it to the
// prior event of its stream.
type Event struct {
	EventID      string         `json:"event_id"`
	StreamID     string         `json:"stream_id"`
	Sequence     uint64         `json:"sequence"`
	EventType    string         `json:"event_type"`
	Timestamp    time.Time      `json:"timestamp"`
	Data         forensic.Value `json:"data"`
	EventHash    string         `json:"event_hash"`
	PreviousHash string         `json:"previous_hash"`
	Persisted    bool           `json:"persisted"`
}

func computeEventHash(eventType string, ts time.Time, data forensic.Value) (string, error) {
	return canonicalize.Hash(map[string]interface{}{
		"event_type": eventType,
		"timestamp":  ts.Format(time.RFC3339Nano),
		"data":       data.Native(),
	})
}

// VerifyIntegrity recomputes the event hash.
func (e *Event) VerifyIntegrity() bool {
	h, err := computeEventHash(e.EventType, e.Timestamp, e.Data)
	return err == nil && h == e.EventHash
}

// ChainReport is the result of verifying a stream.
type ChainReport struct {
	StreamID      string `json:"stream_id"`
	Intact        bool   `json:"intact"`
	Length        uint64 `json:"length"`
	FirstBrokenAt uint64 `json:"first_broken_at,omitempty"` // 1-based sequence; 0 when intact
	Head          string `json:"head"`
}

// Sink persists events durably. Implementations must be append-only; the log
// tolerates transient sink failure by returning events flagged Persisted=false.
type Sink interface {
	Append(ctx context.Context, ev *Event) error
	Close() error
}

// Log is the in-process evidence log. Writes are serialized per stream.
type Log struct {
	mu      sync.RWMutex
	streams map[string]*stream

	sink           Sink
	sinkRetries    uint64
	failedPersists uint64
	clock          forensic.Clock
	logger         *slog.Logger
}

type stream struct {
	mu     sync.Mutex
	events []*Event
	head   string
}

// Option configures a Log.
type Option func(*Log)

// WithSink attaches a durable sink.
func WithSink(s Sink) Option { return func(l *Log) { l.sink = s } }

// WithClock overrides the clock for testing.
func WithClock(c forensic.Clock) Option { return func(l *Log) { l.clock = c } }

// WithLogger overrides the default logger.
func WithLogger(lg *slog.Logger) Option { return func(l *Log) { l.logger = lg } }

// NewLog creates an evidence log. Without a sink, events live in memory only
// and are still returned fully hashed (Persisted reflects sink success).
func NewLog(opts ...Option) *Log {
	l := &Log{
		streams:     make(map[string]*stream),
		sinkRetries: 2,
		clock:       forensic.WallClock{},
		logger:      slog.Default().With("component", "evidence"),
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Append records an event on a stream, chaining it to the stream head. The
// event is always returned with its hash; sink failure only clears Persisted
// and is surfaced through SinkHealthy, never as an error to the caller.
func (l *Log) Append(ctx context.Context, streamID, eventType string, data forensic.Value) (*Event, error) {
	st := l.getOrCreateStream(streamID)

	st.mu.Lock()
	defer st.mu.Unlock()

	ts := l.clock.Now()
	hash, err := computeEventHash(eventType, ts, data)
	if err != nil {
		return nil, err
	}

	prev := st.head
	if prev == "" {
		prev = GenesisHash
	}

	ev := &Event{
		EventID:      uuid.NewString(),
		StreamID:     streamID,
		Sequence:     uint64(len(st.events)) + 1,
		EventType:    eventType,
		Timestamp:    ts,
		Data:         data,
		EventHash:    hash,
		PreviousHash: prev,
		Persisted:    true,
	}

	if l.sink != nil {
		if err := l.persist(ctx, ev); err != nil {
			ev.Persisted = false
			l.mu.Lock()
			l.failedPersists++
			l.mu.Unlock()
			l.logger.WarnContext(ctx, "evidence sink write failed",
				"stream", streamID, "event_type", eventType, "error", err)
		}
	}

	st.events = append(st.events, ev)
	st.head = ev.EventHash
	return ev, nil
}

func (l *Log) persist(ctx context.Context, ev *Event) error {
	backoff := retry.WithMaxRetries(l.sinkRetries, retry.NewConstant(50*time.Millisecond))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		if err := l.sink.Append(ctx, ev); err != nil {
			return retry.RetryableError(err)
		}
		return nil
	})
}

// VerifyChain recomputes every event hash on a stream and checks the
// previous-hash linkage. FirstBrokenAt reports the 1-based sequence of the
// first event whose hash or linkage fails.
func (l *Log) VerifyChain(streamID string) (ChainReport, error) {
	l.mu.RLock()
	st, ok := l.streams[streamID]
	l.mu.RUnlock()
	if !ok {
		return ChainReport{}, ErrStreamNotFound
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	report := ChainReport{StreamID: streamID, Intact: true, Length: uint64(len(st.events)), Head: st.head}
	prev := GenesisHash
	for i, ev := range st.events {
		recomputed, err := computeEventHash(ev.EventType, ev.Timestamp, ev.Data)
		if err != nil || recomputed != ev.EventHash || ev.PreviousHash != prev {
			report.Intact = false
			report.FirstBrokenAt = uint64(i) + 1
			return report, nil
		}
		prev = ev.EventHash
	}
	return report, nil
}

// Head returns the current chain head of a stream.
func (l *Log) Head(streamID string) (string, error) {
	l.mu.RLock()
	st, ok := l.streams[streamID]
	l.mu.RUnlock()
	if !ok {
		return "", ErrStreamNotFound
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.head == "" {
		return GenesisHash, nil
	}
	return st.head, nil
}

// Events returns a copy of a stream's events in append order.
func (l *Log) Events(streamID string) ([]*Event, error) {
	l.mu.RLock()
	st, ok := l.streams[streamID]
	l.mu.RUnlock()
	if !ok {
		return nil, ErrStreamNotFound
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	out := make([]*Event, len(st.events))
	copy(out, st.events)
	return out, nil
}

// Streams lists known stream IDs.
func (l *Log) Streams() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]string, 0, len(l.streams))
	for id := range l.streams {
		out = append(out, id)
	}
	return out
}

// SinkHealthy reports whether the log has seen persist failures. Surfaced to
// the health subsystem rather than raised to callers.
func (l *Log) SinkHealthy() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.failedPersists == 0
}

// FailedPersists returns the count of events that could not be written to the
// sink.
func (l *Log) FailedPersists() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.failedPersists
}

func (l *Log) getOrCreateStream(streamID string) *stream {
	l.mu.RLock()
	st, ok := l.streams[streamID]
	l.mu.RUnlock()
	if ok {
		return st
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if st, ok = l.streams[streamID]; ok {
		return st
	}
	st = &stream{}
	l.streams[streamID] = st
	return st
}

// Package notify carries rollback lifecycle notifications to pluggable
// transports. The platform emits a request on rollback start, completion and
// failure; delivery is best-effort with a hard timeout so a slow pager
// integration cannot stall an execution.
package notify

import (
	"context"
	"log/slog"
	"time"

	"github.com/GABRIELS562/zero-downtime-pipeline-sub000/pkg/evidence"
	"github.com/GABRIELS562/zero-downtime-pipeline-sub000/pkg/forensic"
	"golang.org/x/sync/errgroup"
)

// EvidenceStream is where delivery failures land.
const EvidenceStream = "notifications"

// Level grades a notification.
type Level string

const (
	LevelInfo     Level = "INFO"
	LevelWarning  Level = "WARNING"
	LevelCritical Level = "CRITICAL"
)

// DefaultDispatchTimeout bounds one transport delivery.
const DefaultDispatchTimeout = 10 * time.Second

// Request is one outbound notification.
type Request struct {
	Level         Level             `json:"level"`
	Title         string            `json:"title"`
	Body          string            `json:"body"`
	AudienceTags  []string          `json:"audience_tags"`
	CorrelationID string            `json:"correlation_id"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// Transport delivers a request to one channel (pager, chat, email).
type Transport interface {
	Name() string
	Send(ctx context.Context, req Request) error
}

// Dispatcher fans a request out to every transport concurrently. Failures
// are logged, never propagated; notification loss must not fail a rollback.
type Dispatcher struct {
	transports []Transport
	timeout    time.Duration
	log        *evidence.Log
	logger     *slog.Logger
}

// DispatcherOption configures the dispatcher.
type DispatcherOption func(*Dispatcher)

// WithTimeout overrides the per-transport delivery timeout.
func WithTimeout(d time.Duration) DispatcherOption {
	return func(dp *Dispatcher) { dp.timeout = d }
}

// WithLogger overrides the default logger.
func WithLogger(lg *slog.Logger) DispatcherOption {
	return func(dp *Dispatcher) { dp.logger = lg }
}

// WithEvidenceLog records delivery failures on the evidence trail. A lost
// page during a rollback is itself forensic material.
func WithEvidenceLog(log *evidence.Log) DispatcherOption {
	return func(dp *Dispatcher) { dp.log = log }
}

// NewDispatcher wires a dispatcher over the given transports.
func NewDispatcher(transports []Transport, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		transports: transports,
		timeout:    DefaultDispatchTimeout,
		logger:     slog.Default().With("component", "notify"),
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Dispatch delivers the request to all transports and returns once every
// delivery finished or timed out.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) {
	g, gctx := errgroup.WithContext(ctx)
	for _, tr := range d.transports {
		tr := tr
		g.Go(func() error {
			tctx, cancel := context.WithTimeout(gctx, d.timeout)
			defer cancel()
			if err := tr.Send(tctx, req); err != nil {
				d.logger.Warn("notification delivery failed",
					"transport", tr.Name(), "title", req.Title, "error", err)
				d.recordFailure(ctx, tr.Name(), req, err)
			}
			return nil
		})
	}
	_ = g.Wait()
}

func (d *Dispatcher) recordFailure(ctx context.Context, transport string, req Request, cause error) {
	if d.log == nil {
		return
	}
	_, _ = d.log.Append(ctx, EvidenceStream, "notification_failed", forensic.Map(map[string]forensic.Value{
		"transport":      forensic.String(transport),
		"title":          forensic.String(req.Title),
		"level":          forensic.String(string(req.Level)),
		"correlation_id": forensic.String(req.CorrelationID),
		"error":          forensic.String(cause.Error()),
	}))
}

// LogTransport writes notifications to structured logs. It is the default
// transport when no external channel is configured.
type LogTransport struct {
	Logger *slog.Logger
}

func (l *LogTransport) Name() string { return "log" }

func (l *LogTransport) Send(ctx context.Context, req Request) error {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("notification",
		"level", string(req.Level),
		"title", req.Title,
		"body", req.Body,
		"audience", req.AudienceTags,
		"correlation_id", req.CorrelationID,
	)
	return nil
}

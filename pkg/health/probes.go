package health

import (
	"context"
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/GABRIELS562/zero-downtime-pipeline-sub000/pkg/evidence"
	"github.com/GABRIELS562/zero-downtime-pipeline-sub000/pkg/forensic"
)

// SystemResourcesProbe reports on the Go runtime: heap pressure and
// goroutine population. It deliberately has no external dependencies so
// it keeps working when everything else is on fire.
type SystemResourcesProbe struct {
	Clock forensic.Clock

	// HeapAlarmBytes marks DEGRADED above this heap size. Zero means 1 GiB.
	HeapAlarmBytes uint64
	// GoroutineAlarm marks DEGRADED above this count. Zero means 10000.
	GoroutineAlarm int
}

func (p *SystemResourcesProbe) Execute(ctx context.Context) (*CheckResult, error) {
	heapAlarm := p.HeapAlarmBytes
	if heapAlarm == 0 {
		heapAlarm = 1 << 30
	}
	goroutineAlarm := p.GoroutineAlarm
	if goroutineAlarm == 0 {
		goroutineAlarm = 10000
	}
	clock := p.Clock
	if clock == nil {
		clock = forensic.WallClock{}
	}

	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	goroutines := runtime.NumGoroutine()

	status := forensic.StatusHealthy
	score := 100.0
	severity := forensic.SeverityInfo
	if ms.HeapAlloc > heapAlarm || goroutines > goroutineAlarm {
		status = forensic.StatusDegraded
		score = 60
		severity = forensic.SeverityMedium
	}

	return NewCheckResult(ResultSpec{
		Component: "system_resources",
		CheckType: "runtime",
		Status:    status,
		Score:     score,
		Severity:  severity,
		Metrics: map[string]float64{
			"heap_alloc_bytes": float64(ms.HeapAlloc),
			"heap_sys_bytes":   float64(ms.HeapSys),
			"goroutines":       float64(goroutines),
			"gc_cycles":        float64(ms.NumGC),
		},
		Evidence: forensic.Map(map[string]forensic.Value{
			"heap_alloc_bytes": forensic.Int(int64(ms.HeapAlloc)),
			"goroutines":       forensic.Int(int64(goroutines)),
		}),
		Timestamp: clock.Now(),
	})
}

// HTTPReachabilityProbe checks that a dependency endpoint answers with a
// 2xx within its timeout. Non-2xx is DEGRADED, transport failure CRITICAL.
type HTTPReachabilityProbe struct {
	Component string
	URL       string
	Client    *http.Client
	Clock     forensic.Clock
}

func (p *HTTPReachabilityProbe) Execute(ctx context.Context) (*CheckResult, error) {
	client := p.Client
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	clock := p.Clock
	if clock == nil {
		clock = forensic.WallClock{}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("health: build request for %s: %w", p.URL, err)
	}

	start := clock.Now()
	resp, err := client.Do(req)
	elapsed := clock.Now().Sub(start)
	if err != nil {
		return NewCheckResult(ResultSpec{
			Component:    p.Component,
			CheckType:    "http",
			Status:       forensic.StatusCritical,
			Score:        0,
			Severity:     forensic.SeverityCritical,
			Timestamp:    clock.Now(),
			DurationMs:   float64(elapsed.Microseconds()) / 1000,
			ErrorMessage: err.Error(),
			Evidence: forensic.Map(map[string]forensic.Value{
				"url": forensic.String(p.URL),
			}),
		})
	}
	defer resp.Body.Close()

	status := forensic.StatusHealthy
	score := 100.0
	severity := forensic.SeverityInfo
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		status = forensic.StatusDegraded
		score = 40
		severity = forensic.SeverityHigh
	}

	return NewCheckResult(ResultSpec{
		Component: p.Component,
		CheckType: "http",
		Status:    status,
		Score:     score,
		Severity:  severity,
		Metrics: map[string]float64{
			"status_code":      float64(resp.StatusCode),
			"response_time_ms": float64(elapsed.Microseconds()) / 1000,
		},
		Evidence: forensic.Map(map[string]forensic.Value{
			"url":         forensic.String(p.URL),
			"status_code": forensic.Int(int64(resp.StatusCode)),
		}),
		Timestamp:  clock.Now(),
		DurationMs: float64(elapsed.Microseconds()) / 1000,
	})
}

// EvidenceSinkProbe watches the evidence log's own durability: a sink that
// stopped persisting means the audit trail is running on memory alone.
type EvidenceSinkProbe struct {
	Log   *evidence.Log
	Clock forensic.Clock
}

func (p *EvidenceSinkProbe) Execute(ctx context.Context) (*CheckResult, error) {
	clock := p.Clock
	if clock == nil {
		clock = forensic.WallClock{}
	}

	healthy := p.Log.SinkHealthy()
	failed := p.Log.FailedPersists()

	status := forensic.StatusHealthy
	score := 100.0
	severity := forensic.SeverityInfo
	errMsg := ""
	if !healthy {
		status = forensic.StatusDegraded
		score = 50
		severity = forensic.SeverityHigh
		errMsg = "evidence sink unavailable; events retained in memory only"
	}

	return NewCheckResult(ResultSpec{
		Component: "evidence_sink",
		CheckType: "storage",
		Status:    status,
		Score:     score,
		Severity:  severity,
		Metrics: map[string]float64{
			"failed_persists": float64(failed),
			"streams":         float64(len(p.Log.Streams())),
		},
		Evidence: forensic.Map(map[string]forensic.Value{
			"sink_healthy":    forensic.Bool(healthy),
			"failed_persists": forensic.Int(int64(failed)),
		}),
		Timestamp:    clock.Now(),
		ErrorMessage: errMsg,
	})
}

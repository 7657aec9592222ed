package finance

import (
	"context"
	"math/rand"
	"sync"

	"github.com/shopspring/decimal"
)

// SimulatedSource generates plausible trading-platform observations around
// fixed operating points. Deterministic for a given seed.
type SimulatedSource struct {
	mu  sync.Mutex
	rng *rand.Rand

	// Override, when set, is returned verbatim by Sample.
	Override *Sample
}

// NewSimulatedSource creates a seeded simulation.
func NewSimulatedSource(seed int64) *SimulatedSource {
	return &SimulatedSource{rng: rand.New(rand.NewSource(seed))}
}

func (s *SimulatedSource) Sample(ctx context.Context) (*Sample, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Override != nil {
		return s.Override, nil
	}
	return s.generate(), nil
}

func (s *SimulatedSource) Historical(ctx context.Context, hoursBack int) ([]*Sample, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Sample, 0, hoursBack*60)
	for i := 0; i < hoursBack*60; i++ {
		if s.Override != nil {
			v := *s.Override
			out = append(out, &v)
			continue
		}
		out = append(out, s.generate())
	}
	return out, nil
}

func (s *SimulatedSource) generate() *Sample {
	jitter := func(center, spread float64) decimal.Decimal {
		return decimal.NewFromFloat(center + (s.rng.Float64()*2-1)*spread)
	}
	return &Sample{
		PnLPerMinute: jitter(1000, 50),
		LatencyMs:    jitter(45, 5),
		ErrorCount:   int64(s.rng.Intn(3)),
		Throughput:   jitter(500, 25),
	}
}

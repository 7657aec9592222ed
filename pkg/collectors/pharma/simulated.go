package pharma

import (
	"context"
	"math/rand"
	"sync"
)

// SimulatedSource generates plausible line observations around validated
// operating points. Deterministic for a given seed.
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
	jitter := func(center, spread float64) float64 {
		return center + (s.rng.Float64()*2-1)*spread
	}
	return &Sample{
		EfficiencyPercent: jitter(98.8, 0.4),
		Temperature:       jitter(21, 0.8),
		Pressure:          jitter(101.3, 1.5),
		Humidity:          jitter(45, 4),
		ParticleCount:     jitter(1800, 300),
	}
}

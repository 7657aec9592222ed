package forensic

import "time"

// Clock provides time to forensic record constructors. Components take an
// injected clock instead of calling time.Now directly so timelines stay
// reproducible under test.
type Clock interface {
	Now() time.Time
}

// WallClock is the production clock. All timestamps are UTC.
type WallClock struct{}

func (WallClock) Now() time.Time { return time.Now().UTC() }

// FixedClock returns a preset instant; advance it explicitly in tests.
type FixedClock struct {
	Instant time.Time
}

func (c *FixedClock) Now() time.Time { return c.Instant }

// Advance moves the fixed clock forward.
func (c *FixedClock) Advance(d time.Duration) { c.Instant = c.Instant.Add(d) }

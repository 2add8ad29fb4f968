package banking

import (
	"sync"
	"time"
)

// =============================================================================
// CLOCK - Injectable "now" so lifecycle rules are testable
// =============================================================================

type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock in UTC.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }

// FixedClock is a settable clock for tests and demo scenarios.
type FixedClock struct {
	mu sync.Mutex
	t  time.Time
}

func NewFixedClock(t time.Time) *FixedClock { return &FixedClock{t: t} }

func (c *FixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *FixedClock) Set(t time.Time) {
	c.mu.Lock()
	c.t = t
	c.mu.Unlock()
}

func (c *FixedClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// =============================================================================
// DURATION UNIT - Calendar arithmetic for block periods
// =============================================================================

type DurationUnit string

const (
	UnitDays   DurationUnit = "days"
	UnitMonths DurationUnit = "months"
	UnitYears  DurationUnit = "years"
)

func (u DurationUnit) Valid() bool {
	switch u {
	case UnitDays, UnitMonths, UnitYears:
		return true
	}
	return false
}

// AddTo adds n units using calendar arithmetic (time.AddDate), so month
// lengths and leap years follow Go's normalization: Jan 31 + 1 month = Mar 3
// (or Mar 2 in leap years).
func (u DurationUnit) AddTo(t time.Time, n int) time.Time {
	switch u {
	case UnitMonths:
		return t.AddDate(0, n, 0)
	case UnitYears:
		return t.AddDate(n, 0, 0)
	default:
		return t.AddDate(0, 0, n)
	}
}

// ParseDurationUnit accepts the canonical names and the French ones used by
// legacy clients (jours, mois, annees).
func ParseDurationUnit(s string) (DurationUnit, bool) {
	switch s {
	case "days", "day", "jours":
		return UnitDays, true
	case "months", "month", "mois":
		return UnitMonths, true
	case "years", "year", "annees":
		return UnitYears, true
	}
	return "", false
}

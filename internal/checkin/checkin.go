// Package checkin decides when a cutting is due for its rooting check-in.
//
// Nothing here is stored: a Window is recomputed from the cutting's creation
// time and the current time every time it is asked for.
package checkin

import (
	"time"

	"github.com/sakif/propability/internal/clock"
	"github.com/sakif/propability/internal/model"
)

const (
	// Day is the unit elapsed time is counted in.
	Day = 24 * time.Hour
	// ThresholdDays is how long a cutting propagates before the check-in opens.
	ThresholdDays = 7
)

// Window is the check-in state of one cutting at one instant.
type Window struct {
	ElapsedDays int       `json:"elapsedDays"`
	Eligible    bool      `json:"eligible"`
	EligibleAt  time.Time `json:"eligibleAt"`
}

// ElapsedDays counts started days since createdAt: ceil((now-createdAt)/24h).
// A createdAt in the future counts as zero days.
func ElapsedDays(createdAt, now time.Time) int {
	d := now.Sub(createdAt)
	if d <= 0 {
		return 0
	}
	days := int(d / Day)
	if d%Day != 0 {
		days++
	}
	return days
}

// Evaluate computes the check-in window for a cutting created at createdAt.
func Evaluate(createdAt, now time.Time) Window {
	elapsed := ElapsedDays(createdAt, now)
	return Window{
		ElapsedDays: elapsed,
		Eligible:    elapsed >= ThresholdDays,
		EligibleAt:  createdAt.Add(ThresholdDays * Day),
	}
}

// Scheduler evaluates windows against a clock.
type Scheduler struct {
	clock clock.Clock
}

// NewScheduler returns a Scheduler reading time from c.
func NewScheduler(c clock.Clock) *Scheduler {
	return &Scheduler{clock: c}
}

// Window returns the current check-in window for c.
func (s *Scheduler) Window(c model.Cutting) Window {
	return Evaluate(c.CreatedAt, s.clock.Now())
}

// Eligible reports whether c currently exposes the check-in prompt.
func (s *Scheduler) Eligible(c model.Cutting) bool {
	return s.Window(c).Eligible
}

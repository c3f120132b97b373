// Package timectrl holds the simulation clock of one analysis session:
// hydraulic, quality and report times in whole seconds, pattern period
// arithmetic and step listeners.
package timectrl

import (
	"errors"
	"fmt"
	"sync"

	"github.com/signalsfoundry/pipenet-simulator/model"
)

// SecondsPerDay is the length of one clock day.
const SecondsPerDay = 86400

// ErrTimeReversal is returned when a caller tries to move a clock back.
var ErrTimeReversal = errors.New("simulation time cannot decrease")

// Phase identifies which clock advanced.
type Phase int

const (
	PhaseHydraulic Phase = iota
	PhaseQuality
)

func (p Phase) String() string {
	if p == PhaseQuality {
		return "quality"
	}
	return "hydraulic"
}

// Tick describes one accepted step.
type Tick struct {
	Phase Phase
	Time  int64 // clock time after the step
	Step  int64
}

// Clock tracks simulated time. Times are reset by ResetHydraulic and
// ResetQuality and only move forward afterwards.
type Clock struct {
	mu    sync.RWMutex
	times *model.Times

	htime int64
	qtime int64
	rtime int64
	halt  bool

	listeners []func(Tick)
}

// NewClock constructs a clock reading its step sizes from times. The
// pointer is kept so that later changes to the time parameters apply.
func NewClock(times *model.Times) *Clock {
	return &Clock{times: times}
}

// Times returns the time parameters the clock reads.
func (c *Clock) Times() *model.Times { return c.times }

// ResetHydraulic rewinds the hydraulic clock, sets the next report time to
// the first report boundary after time zero and clears the halt flag.
func (c *Clock) ResetHydraulic() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.htime = 0
	c.rtime = c.times.ReportStart
	if c.rtime <= 0 {
		c.rtime = c.times.ReportStep
	}
	c.halt = false
}

// ResetQuality rewinds the quality clock.
func (c *Clock) ResetQuality() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.qtime = 0
}

// Htime returns the current hydraulic time.
func (c *Clock) Htime() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.htime
}

// Qtime returns the current quality time.
func (c *Clock) Qtime() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.qtime
}

// Rtime returns the next reporting time.
func (c *Clock) Rtime() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.rtime
}

// Duration returns the simulation horizon.
func (c *Clock) Duration() int64 { return c.times.Duration }

// Halt raises the halt flag; the next hydraulic step ends the run.
func (c *Clock) Halt() {
	c.mu.Lock()
	c.halt = true
	c.mu.Unlock()
}

// SetHalt sets or clears the halt flag.
func (c *Clock) SetHalt(v bool) {
	c.mu.Lock()
	c.halt = v
	c.mu.Unlock()
}

// Halted reports whether the halt flag is raised.
func (c *Clock) Halted() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.halt
}

// AdvanceHydraulic moves the hydraulic clock forward by step seconds and
// rolls the report time when it is reached.
func (c *Clock) AdvanceHydraulic(step int64) error {
	if step < 0 {
		return fmt.Errorf("hydraulic step %d: %w", step, ErrTimeReversal)
	}
	c.mu.Lock()
	c.htime += step
	for c.htime >= c.rtime && c.times.ReportStep > 0 {
		c.rtime += c.times.ReportStep
	}
	tick := Tick{Phase: PhaseHydraulic, Time: c.htime, Step: step}
	c.mu.Unlock()
	c.notify(tick)
	return nil
}

// SetHtime moves the hydraulic clock to t, which must not be earlier than
// the current time. Used when replaying saved hydraulics.
func (c *Clock) SetHtime(t int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t < c.htime {
		return fmt.Errorf("hydraulic time %d before %d: %w", t, c.htime, ErrTimeReversal)
	}
	c.htime = t
	return nil
}

// AdvanceQuality moves the quality clock forward by step seconds.
func (c *Clock) AdvanceQuality(step int64) error {
	if step < 0 {
		return fmt.Errorf("quality step %d: %w", step, ErrTimeReversal)
	}
	c.mu.Lock()
	c.qtime += step
	tick := Tick{Phase: PhaseQuality, Time: c.qtime, Step: step}
	c.mu.Unlock()
	c.notify(tick)
	return nil
}

// PatternPeriod returns the number of whole pattern steps elapsed at t.
func (c *Clock) PatternPeriod(t int64) int64 {
	return (t + c.times.PatternStart) / c.times.PatternStep
}

// TimeToNextPeriod returns the seconds from t to the next pattern period.
func (c *Clock) TimeToNextPeriod(t int64) int64 {
	next := c.PatternPeriod(t) + 1
	return next*c.times.PatternStep - c.times.PatternStart - t
}

// TimeOfDay returns the clock time of day at simulated time t.
func (c *Clock) TimeOfDay(t int64) int64 {
	return (t + c.times.StartClock) % SecondsPerDay
}

// AddListener registers a callback invoked after every accepted step.
func (c *Clock) AddListener(fn func(Tick)) {
	c.mu.Lock()
	c.listeners = append(c.listeners, fn)
	c.mu.Unlock()
}

func (c *Clock) notify(t Tick) {
	c.mu.RLock()
	ls := append([]func(Tick){}, c.listeners...)
	c.mu.RUnlock()
	for _, fn := range ls {
		fn(t)
	}
}

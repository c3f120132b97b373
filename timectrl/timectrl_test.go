package timectrl

import (
	"errors"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/signalsfoundry/pipenet-simulator/model"
)

func testTimes() *model.Times {
	t := model.DefaultTimes()
	t.Duration = 24 * 3600
	t.PatternStep = 7200
	t.PatternStart = 1800
	t.ReportStep = 3600
	t.StartClock = 6 * 3600
	return &t
}

func TestClockResetAndAdvance(t *testing.T) {
	c := NewClock(testTimes())
	c.ResetHydraulic()
	if err := c.AdvanceHydraulic(1800); err != nil {
		t.Fatalf("AdvanceHydraulic error: %v", err)
	}
	if got := c.Htime(); got != 1800 {
		t.Fatalf("Htime = %d, want 1800", got)
	}
	if got := c.Rtime(); got != 3600 {
		t.Fatalf("Rtime = %d, want 3600", got)
	}
	if err := c.AdvanceHydraulic(1800); err != nil {
		t.Fatalf("AdvanceHydraulic error: %v", err)
	}
	if got := c.Rtime(); got != 7200 {
		t.Fatalf("Rtime after report boundary = %d, want 7200", got)
	}
	c.Halt()
	c.ResetHydraulic()
	if c.Htime() != 0 || c.Halted() {
		t.Fatalf("ResetHydraulic left Htime=%d halted=%v", c.Htime(), c.Halted())
	}
}

func TestClockRejectsReversal(t *testing.T) {
	c := NewClock(testTimes())
	if err := c.AdvanceHydraulic(-1); !errors.Is(err, ErrTimeReversal) {
		t.Fatalf("AdvanceHydraulic(-1) error = %v, want ErrTimeReversal", err)
	}
	if err := c.AdvanceQuality(-5); !errors.Is(err, ErrTimeReversal) {
		t.Fatalf("AdvanceQuality(-5) error = %v, want ErrTimeReversal", err)
	}
	_ = c.AdvanceHydraulic(100)
	if err := c.SetHtime(50); !errors.Is(err, ErrTimeReversal) {
		t.Fatalf("SetHtime(50) error = %v, want ErrTimeReversal", err)
	}
}

func TestPatternPeriodArithmetic(t *testing.T) {
	c := NewClock(testTimes())
	if got := c.PatternPeriod(0); got != 0 {
		t.Fatalf("PatternPeriod(0) = %d, want 0", got)
	}
	if got := c.PatternPeriod(5400); got != 1 {
		t.Fatalf("PatternPeriod(5400) = %d, want 1", got)
	}
	if got := c.TimeToNextPeriod(0); got != 5400 {
		t.Fatalf("TimeToNextPeriod(0) = %d, want 5400", got)
	}
	if got := c.TimeOfDay(20 * 3600); got != 2*3600 {
		t.Fatalf("TimeOfDay = %d, want 7200", got)
	}
}

func TestListenersSeeEachStep(t *testing.T) {
	c := NewClock(testTimes())
	var ticks []Tick
	c.AddListener(func(tk Tick) { ticks = append(ticks, tk) })
	_ = c.AdvanceHydraulic(600)
	_ = c.AdvanceQuality(300)
	if len(ticks) != 2 {
		t.Fatalf("got %d ticks, want 2", len(ticks))
	}
	if ticks[0].Phase != PhaseHydraulic || ticks[0].Time != 600 {
		t.Fatalf("first tick = %#v", ticks[0])
	}
	if ticks[1].Phase != PhaseQuality || ticks[1].Step != 300 {
		t.Fatalf("second tick = %#v", ticks[1])
	}
}

func TestClockMonotonic(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	properties.Property("hydraulic time never decreases", prop.ForAll(
		func(steps []int64) bool {
			c := NewClock(testTimes())
			prev := c.Htime()
			for _, s := range steps {
				err := c.AdvanceHydraulic(s)
				if s < 0 && err == nil {
					return false
				}
				if c.Htime() < prev {
					return false
				}
				prev = c.Htime()
			}
			return true
		},
		gen.SliceOf(gen.Int64Range(-100, 4000)),
	))

	properties.TestingRun(t)
}

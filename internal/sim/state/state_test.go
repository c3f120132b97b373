package state

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/signalsfoundry/pipenet-simulator/core"
	"github.com/signalsfoundry/pipenet-simulator/internal/logging"
	"github.com/signalsfoundry/pipenet-simulator/kb"
	"github.com/signalsfoundry/pipenet-simulator/model"
)

const tinyNet = `
options:
  units: cfs
times:
  duration: "2:00"
  hydraulic_step: "1:00"
junctions:
  - {id: J1, elevation: 0, demand: 1}
reservoirs:
  - {id: R1, head: 100}
pipes:
  - {id: P1, from: R1, to: J1, length: 1000, diameter: 12, roughness: 100}
`

func loadTiny(t *testing.T) *kb.Network {
	t.Helper()
	net, err := core.LoadNetwork(strings.NewReader(tinyNet))
	if err != nil {
		t.Fatalf("LoadNetwork error: %v", err)
	}
	return net
}

type fakeGauge struct {
	mu   sync.Mutex
	last int
}

func (g *fakeGauge) SetSessions(n int) {
	g.mu.Lock()
	g.last = n
	g.mu.Unlock()
}

func TestRegistryOpenWithClose(t *testing.T) {
	ctx := context.Background()
	gauge := &fakeGauge{}
	r := NewRegistry(logging.Noop(), WithSessionGauge(gauge))

	e, err := r.Open(ctx, loadTiny(t), "tiny")
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	if gauge.last != 1 || r.Len() != 1 {
		t.Fatalf("gauge = %d, len = %d, want 1", gauge.last, r.Len())
	}

	err = r.With(e.ID, func(s *core.Session) error {
		if s.ID() != e.ID {
			t.Fatalf("session id = %q, want %q", s.ID(), e.ID)
		}
		return s.SolveH(ctx)
	})
	if err != nil {
		t.Fatalf("SolveH via registry: %v", err)
	}

	list := r.List()
	if len(list) != 1 || list[0].Name != "tiny" || list[0].Nodes != 2 || list[0].Links != 1 {
		t.Fatalf("List() = %+v", list)
	}

	if err := r.Close(ctx, e.ID); err != nil {
		t.Fatalf("Close error: %v", err)
	}
	if gauge.last != 0 {
		t.Fatalf("gauge after close = %d, want 0", gauge.last)
	}
	if err := r.With(e.ID, func(*core.Session) error { return nil }); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("With after close error = %v, want ErrSessionNotFound", err)
	}
	if err := r.Close(ctx, e.ID); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("second Close error = %v, want ErrSessionNotFound", err)
	}
}

func TestRegistryLimitAndShutdown(t *testing.T) {
	ctx := context.Background()
	r := NewRegistry(nil, WithLimit(1))
	if _, err := r.Open(ctx, loadTiny(t), "a"); err != nil {
		t.Fatalf("Open error: %v", err)
	}
	if _, err := r.Open(ctx, loadTiny(t), "b"); !errors.Is(err, ErrTooManySessions) {
		t.Fatalf("Open over limit error = %v, want ErrTooManySessions", err)
	}
	if _, err := r.Open(ctx, nil, "nil"); !errors.Is(err, core.ErrNoNetwork) {
		t.Fatalf("Open nil network error = %v, want ErrNoNetwork", err)
	}

	if err := r.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown error: %v", err)
	}
	if r.Len() != 0 {
		t.Fatalf("Len after shutdown = %d, want 0", r.Len())
	}
	if _, err := r.Open(ctx, loadTiny(t), "late"); !errors.Is(err, ErrRegistryClosed) {
		t.Fatalf("Open after shutdown error = %v, want ErrRegistryClosed", err)
	}
}

func TestRegistryHooksAndListeners(t *testing.T) {
	ctx := context.Background()
	var events int
	r := NewRegistry(nil,
		WithNetworkHook(func(n *kb.Network) { n.Options.Trials = 7 }),
		WithListener(func(core.Event) { events++ }),
	)
	e, err := r.Open(ctx, loadTiny(t), "hooked")
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	err = r.With(e.ID, func(s *core.Session) error {
		if s.Network().Options.Trials != 7 {
			t.Fatalf("trials = %d, want 7", s.Network().Options.Trials)
		}
		return s.SolveH(ctx)
	})
	if err != nil {
		t.Fatalf("SolveH error: %v", err)
	}
	if events == 0 {
		t.Fatalf("listener received no events")
	}
}

// TestRegistryConcurrentSessions runs independent sessions in parallel
// while other goroutines list and read values.
func TestRegistryConcurrentSessions(t *testing.T) {
	ctx := context.Background()
	r := NewRegistry(nil)

	const n = 6
	ids := make([]string, n)
	for i := range ids {
		e, err := r.Open(ctx, loadTiny(t), "parallel")
		if err != nil {
			t.Fatalf("Open error: %v", err)
		}
		ids[i] = e.ID
	}

	var wg sync.WaitGroup
	errs := make(chan error, 3*n)
	for _, id := range ids {
		wg.Add(2)
		go func(id string) {
			defer wg.Done()
			errs <- r.With(id, func(s *core.Session) error { return s.SolveH(ctx) })
		}(id)
		go func(id string) {
			defer wg.Done()
			_ = r.List()
			errs <- r.With(id, func(s *core.Session) error {
				_, err := s.NodeValue(0, model.NodeElevation)
				return err
			})
		}(id)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent call error: %v", err)
		}
	}

	for _, id := range ids {
		err := r.With(id, func(s *core.Session) error {
			q, err := s.LinkValue(0, model.LinkFlow)
			if err != nil {
				return err
			}
			if q <= 0 {
				t.Fatalf("flow = %v, want positive", q)
			}
			return nil
		})
		if err != nil {
			t.Fatalf("LinkValue error: %v", err)
		}
	}
}

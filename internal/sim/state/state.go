// Package state holds the engine server's open simulation sessions.
package state

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/signalsfoundry/pipenet-simulator/core"
	"github.com/signalsfoundry/pipenet-simulator/internal/logging"
	"github.com/signalsfoundry/pipenet-simulator/kb"
)

var (
	// ErrSessionNotFound indicates a requested session id is unknown.
	ErrSessionNotFound = errors.New("session not found")
	// ErrTooManySessions indicates the registry's session limit is reached.
	ErrTooManySessions = errors.New("session limit reached")
	// ErrRegistryClosed indicates the registry no longer accepts sessions.
	ErrRegistryClosed = errors.New("session registry closed")
)

// SessionGauge receives the number of open sessions.
type SessionGauge interface {
	SetSessions(n int)
}

// Entry is one registered session. Its mutex serialises every call made
// against the session.
type Entry struct {
	ID      string
	Name    string
	Created time.Time

	mu   sync.Mutex
	sess *core.Session
}

// Summary describes a session without touching its solver state.
type Summary struct {
	ID      string
	Name    string
	Created time.Time
	Nodes   int
	Links   int
}

// Registry maps session ids to sessions. The registry lock guards the map
// only; take it before any entry lock and never the other way round.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Entry
	closed   bool

	log         logging.Logger
	gauge       SessionGauge
	limit       int
	prepare     func(*kb.Network)
	sessionOpts []core.Option
	listeners   []func(core.Event)
	now         func() time.Time
}

// Option customises Registry construction.
type Option func(*Registry)

// WithSessionGauge attaches a gauge updated whenever sessions open or close.
func WithSessionGauge(g SessionGauge) Option {
	return func(r *Registry) { r.gauge = g }
}

// WithLimit bounds the number of open sessions; zero means unlimited.
func WithLimit(n int) Option {
	return func(r *Registry) { r.limit = n }
}

// WithNetworkHook runs fn on every network before its session is created.
func WithNetworkHook(fn func(*kb.Network)) Option {
	return func(r *Registry) { r.prepare = fn }
}

// WithSessionOptions passes opts to every core.NewSession call.
func WithSessionOptions(opts ...core.Option) Option {
	return func(r *Registry) { r.sessionOpts = append(r.sessionOpts, opts...) }
}

// WithListener registers fn on every new session.
func WithListener(fn func(core.Event)) Option {
	return func(r *Registry) {
		if fn != nil {
			r.listeners = append(r.listeners, fn)
		}
	}
}

// NewRegistry returns an empty registry.
func NewRegistry(log logging.Logger, opts ...Option) *Registry {
	if log == nil {
		log = logging.Noop()
	}
	r := &Registry{
		sessions: make(map[string]*Entry),
		log:      log,
		now:      time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	r.updateGaugeLocked()
	return r
}

// Open creates a session over net and registers it under a fresh id.
func (r *Registry) Open(ctx context.Context, net *kb.Network, name string) (*Entry, error) {
	if net == nil {
		return nil, core.ErrNoNetwork
	}
	if r.prepare != nil {
		r.prepare(net)
	}
	id := uuid.NewString()
	log := r.log.With(logging.String("session_id", id))

	opts := append([]core.Option{core.WithID(id), core.WithLogger(log)}, r.sessionOpts...)
	sess, err := core.NewSession(net, opts...)
	if err != nil {
		return nil, err
	}
	for _, fn := range r.listeners {
		sess.AddListener(fn)
	}

	e := &Entry{ID: id, Name: name, Created: r.now(), sess: sess}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		_ = sess.Close()
		return nil, ErrRegistryClosed
	}
	if r.limit > 0 && len(r.sessions) >= r.limit {
		_ = sess.Close()
		return nil, fmt.Errorf("%w (%d)", ErrTooManySessions, r.limit)
	}
	r.sessions[id] = e
	r.updateGaugeLocked()
	log.Info(ctx, "session opened",
		logging.String("name", name),
		logging.Int("nodes", len(net.Nodes)),
		logging.Int("links", len(net.Links)),
	)
	return e, nil
}

// With runs fn while holding the session's lock. Calls on different
// sessions proceed in parallel.
func (r *Registry) With(id string, fn func(*core.Session) error) error {
	e, err := r.get(id)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.sess == nil {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return fn(e.sess)
}

// Close closes and forgets the session.
func (r *Registry) Close(ctx context.Context, id string) error {
	r.mu.Lock()
	e, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
		r.updateGaugeLocked()
	}
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	err := e.sess.Close()
	e.sess = nil
	r.log.Info(ctx, "session closed", logging.String("session_id", id))
	return err
}

// List returns summaries ordered by creation time.
func (r *Registry) List() []Summary {
	r.mu.RLock()
	entries := make([]*Entry, 0, len(r.sessions))
	for _, e := range r.sessions {
		entries = append(entries, e)
	}
	r.mu.RUnlock()

	out := make([]Summary, 0, len(entries))
	for _, e := range entries {
		s := Summary{ID: e.ID, Name: e.Name, Created: e.Created}
		e.mu.Lock()
		if e.sess != nil {
			s.Nodes = len(e.sess.Network().Nodes)
			s.Links = len(e.sess.Network().Links)
		}
		e.mu.Unlock()
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Created.Equal(out[j].Created) {
			return out[i].ID < out[j].ID
		}
		return out[i].Created.Before(out[j].Created)
	})
	return out
}

// Len reports the number of open sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Shutdown closes every session and rejects further opens.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	r.mu.Unlock()

	var errs []error
	for _, id := range ids {
		if err := r.Close(ctx, id); err != nil && !errors.Is(err, ErrSessionNotFound) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (r *Registry) get(id string) (*Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return e, nil
}

func (r *Registry) updateGaugeLocked() {
	if r.gauge != nil {
		r.gauge.SetSessions(len(r.sessions))
	}
}

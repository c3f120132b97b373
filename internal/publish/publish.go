// Package publish streams session step events over a mangos PUB socket.
//
// Each message is the topic prefix followed by a JSON document, so
// subscribers can filter by prefix ("STEP:" for every session or
// "STEP:<session-id>" for one).
package publish

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.nanomsg.org/mangos/v3"
	"go.nanomsg.org/mangos/v3/protocol/pub"
	"go.nanomsg.org/mangos/v3/protocol/sub"

	// Register all transports
	_ "go.nanomsg.org/mangos/v3/transport/all"

	"github.com/signalsfoundry/pipenet-simulator/core"
	"github.com/signalsfoundry/pipenet-simulator/internal/logging"
)

// TopicPrefix starts every published message.
const TopicPrefix = "STEP:"

// ErrClosed is returned after Close.
var ErrClosed = errors.New("publisher closed")

// StepEvent is the wire form of core.Event.
type StepEvent struct {
	Session    string  `json:"session"`
	Phase      string  `json:"phase"`
	Time       int64   `json:"time"`
	Step       int64   `json:"step,omitempty"`
	Iterations int     `json:"iterations,omitempty"`
	RelErr     float64 `json:"rel_err,omitempty"`
	Warnings   []int   `json:"warnings,omitempty"`
	Controls   int     `json:"controls,omitempty"`
}

// FromEvent converts a session event.
func FromEvent(e core.Event) StepEvent {
	out := StepEvent{
		Session: e.Session,
		Phase:   e.Phase.String(),
		Time:    e.Time,
		Step:    e.Step,
	}
	if r := e.Result; r != nil {
		out.Iterations = r.Iterations
		out.RelErr = r.RelErr
		out.Warnings = append([]int(nil), r.Warnings...)
		out.Controls = r.Controls
	}
	return out
}

// Publisher owns a PUB socket and a send loop. Events are queued so session
// listeners never wait on the network; when the queue is full the event is
// dropped and counted.
type Publisher struct {
	sock mangos.Socket
	log  logging.Logger

	queue   chan StepEvent
	wg      sync.WaitGroup
	mu      sync.Mutex
	closed  bool
	dropped int
}

// Options tune a Publisher.
type Options struct {
	QueueSize int
	Logger    logging.Logger
}

// New listens on url (tcp://host:port, ipc://path or inproc://name) and
// starts the send loop.
func New(url string, opts Options) (*Publisher, error) {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 256
	}
	if opts.Logger == nil {
		opts.Logger = logging.Noop()
	}
	sock, err := pub.NewSocket()
	if err != nil {
		return nil, fmt.Errorf("create PUB socket: %w", err)
	}
	if err := sock.Listen(url); err != nil {
		_ = sock.Close()
		return nil, fmt.Errorf("bind PUB socket %s: %w", url, err)
	}
	p := &Publisher{
		sock:  sock,
		log:   opts.Logger.With(logging.String("publish_url", url)),
		queue: make(chan StepEvent, opts.QueueSize),
	}
	p.wg.Add(1)
	go p.loop()
	p.log.Info(context.Background(), "step publisher bound")
	return p, nil
}

// Publish queues ev for sending.
func (p *Publisher) Publish(ev StepEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	select {
	case p.queue <- ev:
	default:
		p.dropped++
	}
	return nil
}

// Listener adapts the publisher to core.Session.AddListener.
func (p *Publisher) Listener() func(core.Event) {
	return func(e core.Event) {
		_ = p.Publish(FromEvent(e))
	}
}

// Dropped reports how many events were discarded on a full queue.
func (p *Publisher) Dropped() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dropped
}

// Close drains the queue and closes the socket.
func (p *Publisher) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()

	p.wg.Wait()
	return p.sock.Close()
}

func (p *Publisher) loop() {
	defer p.wg.Done()
	for ev := range p.queue {
		msg, err := Encode(ev)
		if err != nil {
			p.log.Warn(context.Background(), "encode step event", logging.Err(err))
			continue
		}
		if err := p.sock.Send(msg); err != nil {
			p.log.Warn(context.Background(), "send step event", logging.Err(err))
		}
	}
}

// Encode renders ev as a topic-prefixed message.
func Encode(ev StepEvent) ([]byte, error) {
	body, err := json.Marshal(ev)
	if err != nil {
		return nil, err
	}
	topic := TopicPrefix + ev.Session + " "
	return append([]byte(topic), body...), nil
}

// Decode parses a message produced by Encode.
func Decode(msg []byte) (StepEvent, error) {
	var ev StepEvent
	s := string(msg)
	if !strings.HasPrefix(s, TopicPrefix) {
		return ev, fmt.Errorf("message lacks %q prefix", TopicPrefix)
	}
	sp := strings.IndexByte(s, ' ')
	if sp < 0 {
		return ev, errors.New("message lacks payload")
	}
	if err := json.Unmarshal(msg[sp+1:], &ev); err != nil {
		return ev, fmt.Errorf("decode step event: %w", err)
	}
	return ev, nil
}

// Subscriber receives step events from a Publisher.
type Subscriber struct {
	sock mangos.Socket
}

// Subscribe dials url and filters on the events of session, or all
// sessions when session is empty.
func Subscribe(url, session string) (*Subscriber, error) {
	sock, err := sub.NewSocket()
	if err != nil {
		return nil, fmt.Errorf("create SUB socket: %w", err)
	}
	if err := sock.Dial(url); err != nil {
		_ = sock.Close()
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	topic := TopicPrefix
	if session != "" {
		topic += session + " "
	}
	if err := sock.SetOption(mangos.OptionSubscribe, []byte(topic)); err != nil {
		_ = sock.Close()
		return nil, fmt.Errorf("subscribe: %w", err)
	}
	return &Subscriber{sock: sock}, nil
}

// Recv waits up to timeout for the next event.
func (s *Subscriber) Recv(timeout time.Duration) (StepEvent, error) {
	if err := s.sock.SetOption(mangos.OptionRecvDeadline, timeout); err != nil {
		return StepEvent{}, err
	}
	msg, err := s.sock.Recv()
	if err != nil {
		return StepEvent{}, err
	}
	return Decode(msg)
}

// Close releases the socket.
func (s *Subscriber) Close() error {
	return s.sock.Close()
}

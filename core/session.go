package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/signalsfoundry/pipenet-simulator/internal/logging"
	"github.com/signalsfoundry/pipenet-simulator/kb"
	"github.com/signalsfoundry/pipenet-simulator/model"
	"github.com/signalsfoundry/pipenet-simulator/timectrl"
)

// MetricsRecorder receives engine measurements. The Prometheus
// EngineCollector satisfies it.
type MetricsRecorder interface {
	ObserveHydraulicStep(iterations int, relErr float64, warnings []int, controls int, elapsed time.Duration)
	ObserveQualityStep(step int64, elapsed time.Duration)
	SetSimulatedTime(phase string, seconds int64)
}

type noopMetrics struct{}

func (noopMetrics) ObserveHydraulicStep(int, float64, []int, int, time.Duration) {}
func (noopMetrics) ObserveQualityStep(int64, time.Duration)                     {}
func (noopMetrics) SetSimulatedTime(string, int64)                              {}

// StepResult describes one hydraulic solve.
type StepResult struct {
	Time       int64
	Iterations int
	RelErr     float64
	Warnings   []int
	// Controls is the number of links changed by simple controls before
	// the solve.
	Controls int
}

// Event is delivered to listeners at step boundaries.
type Event struct {
	Session string
	Phase   timectrl.Phase
	Time    int64
	Step    int64 // zero for solve events
	Result  *StepResult
}

// Option configures a Session.
type Option func(*Session)

// WithLogger sets the session logger.
func WithLogger(l logging.Logger) Option {
	return func(s *Session) {
		if l != nil {
			s.log = l
		}
	}
}

// WithMetrics sets the recorder that receives step measurements.
func WithMetrics(m MetricsRecorder) Option {
	return func(s *Session) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithTracer sets the tracer used for lifecycle spans.
func WithTracer(t trace.Tracer) Option {
	return func(s *Session) {
		if t != nil {
			s.tracer = t
		}
	}
}

// WithID sets the session id instead of a generated one.
func WithID(id string) Option {
	return func(s *Session) {
		if id != "" {
			s.id = id
		}
	}
}

// Session owns one network, its clock and the hydraulic and quality
// solvers for an open/close scope. A Session is not safe for concurrent
// use.
type Session struct {
	id      string
	net     *kb.Network
	clock   *timectrl.Clock
	log     logging.Logger
	metrics MetricsRecorder
	tracer  trace.Tracer

	hyd      *hydraulics
	hydOpen  bool
	hydInit  bool
	saveHyd  bool
	pending  *hydRecord
	records  []*hydRecord
	complete bool // records cover the whole run
	fromFile bool

	qual     *quality
	qualOpen bool
	qualInit bool
	saveQual bool

	res       *results
	listeners []func(Event)
	notifying bool
}

// NewSession creates a session over net.
func NewSession(net *kb.Network, opts ...Option) (*Session, error) {
	if net == nil {
		return nil, ErrNoNetwork
	}
	s := &Session{
		id:      uuid.NewString(),
		net:     net,
		clock:   timectrl.NewClock(&net.Times),
		log:     logging.Noop(),
		metrics: noopMetrics{},
		tracer:  otel.Tracer("github.com/signalsfoundry/pipenet-simulator/core"),
		res:     newResults(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With(logging.String("session", s.id))
	return s, nil
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// Network returns the network the session operates on.
func (s *Session) Network() *kb.Network { return s.net }

// HydraulicsOpen reports whether the hydraulic solver is open.
func (s *Session) HydraulicsOpen() bool { return s.hydOpen }

// QualityOpen reports whether the quality solver is open.
func (s *Session) QualityOpen() bool { return s.qualOpen }

// Clock returns the session clock.
func (s *Session) Clock() *timectrl.Clock { return s.clock }

// AddListener registers a callback invoked synchronously at every step
// boundary. Lifecycle calls made from inside a listener fail with
// ErrReentrant.
func (s *Session) AddListener(fn func(Event)) {
	if fn != nil {
		s.listeners = append(s.listeners, fn)
	}
}

func (s *Session) notify(e Event) {
	if len(s.listeners) == 0 {
		return
	}
	e.Session = s.id
	s.notifying = true
	defer func() { s.notifying = false }()
	for _, fn := range s.listeners {
		fn(e)
	}
}

func (s *Session) enter(ctx context.Context) error {
	if s.notifying {
		return ErrReentrant
	}
	if ctx != nil {
		if err := ctx.Err(); err != nil {
			return &Error{Code: ErrCanceled.Code, Msg: err.Error()}
		}
	}
	return nil
}

func (s *Session) span(ctx context.Context, name string) (context.Context, trace.Span) {
	if ctx == nil {
		ctx = context.Background()
	}
	return s.tracer.Start(ctx, name, trace.WithAttributes(attribute.String("session.id", s.id)))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// OpenH validates the network and opens the hydraulic solver.
func (s *Session) OpenH() error {
	if err := s.enter(nil); err != nil {
		return err
	}
	if s.hydOpen {
		return ErrAlreadyOpen
	}
	if err := s.net.Validate(); err != nil {
		err = wrapKB(err)
		s.log.Error(context.Background(), "network validation failed", logging.String("error", err.Error()))
		return err
	}
	s.hyd = newHydraulics(s.net, s.clock)
	s.hydOpen, s.hydInit = true, false
	s.fromFile = false
	s.log.Debug(context.Background(), "hydraulics opened",
		logging.Int("nodes", len(s.net.Nodes)), logging.Int("links", len(s.net.Links)))
	return nil
}

// InitH resets the hydraulic clock, tanks and link states. Flag is
// model.NoSave or model.Save, plus model.InitFlow to re-initialise flows.
func (s *Session) InitH(flag int) error {
	if err := s.enter(nil); err != nil {
		return err
	}
	if !s.hydOpen {
		return ErrHydNotOpen
	}
	if flag < 0 || flag%model.InitFlow > model.Save || flag/model.InitFlow > 1 {
		return errorf(ErrInvalidParam.Code, "init flag %d", flag)
	}
	s.saveHyd = flag%model.InitFlow == model.Save
	reinit := flag/model.InitFlow == 1
	s.clock.ResetHydraulic()
	s.hyd.init(reinit)
	if s.saveHyd {
		s.records, s.complete, s.fromFile = nil, false, false
	}
	s.pending = nil
	s.res.reset()
	s.hydInit = true
	s.log.Debug(context.Background(), "hydraulics initialised",
		logging.Any("save", s.saveHyd), logging.Any("reinit_flows", reinit))
	return nil
}

func (s *Session) checkHyd(ctx context.Context) error {
	if err := s.enter(ctx); err != nil {
		return err
	}
	if !s.hydOpen {
		return ErrHydNotOpen
	}
	if !s.hydInit {
		return ErrHydNotInitialized
	}
	return nil
}

// RunH solves the network at the current hydraulic time.
func (s *Session) RunH(ctx context.Context) (StepResult, error) {
	if err := s.checkHyd(ctx); err != nil {
		return StepResult{}, err
	}
	ctx, span := s.span(ctx, "core.RunH")
	start := time.Now()
	t := s.clock.Htime()
	out, err := s.hyd.runHyd(t)
	res := StepResult{
		Time:       t,
		Iterations: s.hyd.iterations,
		RelErr:     s.hyd.relErr,
		Warnings:   s.hyd.warningCodes(),
		Controls:   out.controls,
	}
	span.SetAttributes(attribute.Int64("sim.time", t), attribute.Int("solver.iterations", res.Iterations))
	if err != nil {
		s.log.Error(ctx, "hydraulic solve failed", logging.Any("time", t), logging.String("error", err.Error()))
		endSpan(span, err)
		return res, err
	}
	s.metrics.ObserveHydraulicStep(res.Iterations, res.RelErr, res.Warnings, res.Controls, time.Since(start))
	s.metrics.SetSimulatedTime(timectrl.PhaseHydraulic.String(), t)
	for _, w := range res.Warnings {
		s.log.Warn(ctx, ErrorMessage(w), logging.Int("code", w), logging.Any("time", t))
	}

	if isReportTime(s.clock.Times(), t) {
		s.res.recordHydraulics(s.hyd, t)
	}
	if s.saveHyd {
		s.pending = s.hyd.snapshot(t)
	}

	var stepErr error
	if s.hyd.warnings&(1<<WarnUnbalanced) != 0 {
		switch {
		case s.net.Options.Strict:
			s.clock.Halt()
			stepErr = errorf(ErrUnbalancedHalt.Code, "at %d s", t)
		case s.net.Options.ExtraTrials < 0:
			s.clock.Halt()
		}
	}
	endSpan(span, stepErr)
	s.notify(Event{Phase: timectrl.PhaseHydraulic, Time: t, Result: &res})
	return res, stepErr
}

// NextH advances the hydraulic clock to the next event and returns the
// step taken. Zero means the run is over.
func (s *Session) NextH(ctx context.Context) (int64, error) {
	if err := s.checkHyd(ctx); err != nil {
		return 0, err
	}
	t := s.clock.Htime()
	dur := s.clock.Duration()
	var tstep int64
	if t < dur && !s.clock.Halted() {
		var actions int
		tstep, actions = s.hyd.timeStep(t)
		if actions > 0 {
			s.log.Debug(ctx, "rule actions truncated step", logging.Int("actions", actions), logging.Any("time", t+tstep))
		}
	}
	if s.saveHyd && s.pending != nil {
		s.pending.Step = tstep
		s.records = append(s.records, s.pending)
		s.pending = nil
		if tstep == 0 {
			s.complete = true
		}
	}
	if dur == 0 || t < dur {
		s.hyd.addEnergy(t, tstep)
	}
	if tstep > 0 {
		if err := s.clock.AdvanceHydraulic(tstep); err != nil {
			return 0, wrapKB(err)
		}
	}
	s.metrics.SetSimulatedTime(timectrl.PhaseHydraulic.String(), s.clock.Htime())
	s.notify(Event{Phase: timectrl.PhaseHydraulic, Time: s.clock.Htime(), Step: tstep})
	return tstep, nil
}

// CloseH closes the hydraulic solver. Computed values stay readable.
func (s *Session) CloseH() error {
	if err := s.enter(nil); err != nil {
		return err
	}
	if !s.hydOpen {
		return ErrHydNotOpen
	}
	s.hydOpen, s.hydInit = false, false
	s.log.Debug(context.Background(), "hydraulics closed")
	return nil
}

// SolveH runs a complete hydraulic analysis, saving its results for a
// later quality analysis.
func (s *Session) SolveH(ctx context.Context) error {
	ctx, span := s.span(ctx, "core.SolveH")
	err := s.solveH(ctx)
	endSpan(span, err)
	return err
}

func (s *Session) solveH(ctx context.Context) error {
	if !s.hydOpen {
		if err := s.OpenH(); err != nil {
			return err
		}
	}
	defer func() {
		if s.hydOpen {
			_ = s.CloseH()
		}
	}()
	if err := s.InitH(model.Save); err != nil {
		return err
	}
	for {
		if _, err := s.RunH(ctx); err != nil {
			if errors.Is(err, ErrUnbalancedHalt) {
				s.finishRecords()
			}
			return err
		}
		tstep, err := s.NextH(ctx)
		if err != nil {
			return err
		}
		if tstep == 0 {
			return nil
		}
	}
}

// finishRecords closes the saved record sequence of a halted run.
func (s *Session) finishRecords() {
	if s.saveHyd && s.pending != nil {
		s.pending.Step = 0
		s.records = append(s.records, s.pending)
		s.pending = nil
	}
	s.complete = len(s.records) > 0
}

// SaveH rebuilds the hydraulic part of the reporting periods from the
// saved hydraulic records.
func (s *Session) SaveH() error {
	if err := s.enter(nil); err != nil {
		return err
	}
	if !s.complete {
		return ErrNoHydraulics
	}
	if s.hyd == nil {
		s.hyd = newHydraulics(s.net, s.clock)
		s.hyd.prepare()
	}
	for _, r := range s.records {
		if isReportTime(s.clock.Times(), r.Time) {
			s.hyd.restore(r)
			s.res.recordHydraulics(s.hyd, r.Time)
		}
	}
	return nil
}

// SaveHydFile writes the saved hydraulic records to path.
func (s *Session) SaveHydFile(path string) error {
	if err := s.enter(nil); err != nil {
		return err
	}
	if !s.complete {
		return ErrNoHydraulics
	}
	if err := writeHydFile(path, len(s.net.Nodes), len(s.net.Links), s.records); err != nil {
		s.log.Error(context.Background(), "save hydraulics file failed", logging.String("error", err.Error()))
		return err
	}
	s.log.Info(context.Background(), "hydraulics file saved",
		logging.String("path", path), logging.Int("records", len(s.records)))
	return nil
}

// UseHydFile loads saved hydraulic records from path for a quality
// analysis. The hydraulic solver must be closed.
func (s *Session) UseHydFile(path string) error {
	if err := s.enter(nil); err != nil {
		return err
	}
	if s.hydOpen {
		return ErrHydFileInUse
	}
	if err := s.net.Validate(); err != nil {
		return wrapKB(err)
	}
	recs, err := readHydFile(path, len(s.net.Nodes), len(s.net.Links))
	if err != nil {
		return err
	}
	if len(recs) == 0 || recs[0].Time != 0 {
		return errorf(ErrHydFileMismatch.Code, "no record at time zero")
	}
	s.records, s.complete, s.fromFile = recs, true, true
	s.log.Info(context.Background(), "hydraulics file loaded",
		logging.String("path", path), logging.Int("records", len(recs)))
	return nil
}

// OpenQ opens the quality solver.
func (s *Session) OpenQ() error {
	if err := s.enter(nil); err != nil {
		return err
	}
	if s.qualOpen {
		return ErrAlreadyOpen
	}
	if !s.hydOpen {
		if err := s.net.Validate(); err != nil {
			return wrapKB(err)
		}
	}
	s.qualOpen, s.qualInit = true, false
	s.log.Debug(context.Background(), "quality opened",
		logging.String("type", s.net.Options.Quality.Type.String()))
	return nil
}

// InitQ resets the quality clock and initial qualities. With the
// hydraulic solver open, quality follows it step by step; otherwise it
// replays the saved hydraulics. Flag model.Save records quality in the
// reporting periods.
func (s *Session) InitQ(flag int) error {
	if err := s.enter(nil); err != nil {
		return err
	}
	if !s.qualOpen {
		return ErrQualNotOpen
	}
	var feed hydFeed
	switch {
	case s.hydOpen:
		if !s.hydInit {
			return ErrHydNotInitialized
		}
		feed = liveFeed{h: s.hyd}
	case s.complete:
		feed = &recordFeed{recs: s.records}
	default:
		return ErrNoHydraulics
	}
	s.saveQual = flag%model.InitFlow == model.Save
	s.clock.ResetQuality()
	s.qual = newQuality(s.net, s.clock, feed)
	s.qual.init()
	s.qualInit = true
	return nil
}

func (s *Session) checkQual(ctx context.Context) error {
	if err := s.enter(ctx); err != nil {
		return err
	}
	if !s.qualOpen {
		return ErrQualNotOpen
	}
	if !s.qualInit {
		return ErrQualNotInitialized
	}
	return nil
}

// RunQ makes the hydraulics at the current quality time available to
// transport and returns that time.
func (s *Session) RunQ(ctx context.Context) (int64, error) {
	if err := s.checkQual(ctx); err != nil {
		return 0, err
	}
	ctx, span := s.span(ctx, "core.RunQ")
	t := s.clock.Qtime()
	err := s.qual.loadHydraulics(t)
	span.SetAttributes(attribute.Int64("sim.time", t))
	if err != nil {
		s.log.Error(ctx, "quality step failed", logging.Any("time", t), logging.String("error", err.Error()))
		endSpan(span, err)
		return t, err
	}
	s.recordQuality(t)
	endSpan(span, nil)
	return t, nil
}

func (s *Session) recordQuality(t int64) {
	if s.saveQual && isReportTime(s.clock.Times(), t) {
		s.res.recordQuality(s.qual, t)
	}
}

// NextQ transports quality to the end of the current hydraulic period
// and returns the step taken. Zero means the run is over.
func (s *Session) NextQ(ctx context.Context) (int64, error) {
	if err := s.checkQual(ctx); err != nil {
		return 0, err
	}
	t := s.clock.Qtime()
	if t >= s.clock.Duration() || s.qual.hyd == nil {
		return 0, nil
	}
	tstep := s.qual.hydEnd() - t
	if tstep <= 0 {
		return 0, nil
	}
	return tstep, s.advanceQ(t, tstep)
}

// StepQ transports quality by at most one quality step and returns the
// time left in the run.
func (s *Session) StepQ(ctx context.Context) (int64, error) {
	if err := s.checkQual(ctx); err != nil {
		return 0, err
	}
	t := s.clock.Qtime()
	dur := s.clock.Duration()
	if t >= dur || s.qual.hyd == nil {
		return max(dur-t, 0), nil
	}
	dt := min(s.clock.Times().QualStep, s.qual.hydEnd()-t)
	if dt > 0 {
		if err := s.advanceQ(t, dt); err != nil {
			return dur - t, err
		}
		t += dt
	}
	if _, replay := s.qual.feed.(*recordFeed); replay && t < dur && t >= s.qual.hydEnd() {
		if err := s.qual.loadHydraulics(t); err != nil {
			return dur - t, err
		}
	}
	return dur - t, nil
}

func (s *Session) advanceQ(t, dt int64) error {
	start := time.Now()
	s.qual.transport(dt)
	if err := s.clock.AdvanceQuality(dt); err != nil {
		return wrapKB(err)
	}
	s.metrics.ObserveQualityStep(dt, time.Since(start))
	s.metrics.SetSimulatedTime(timectrl.PhaseQuality.String(), t+dt)
	s.recordQuality(t + dt)
	s.notify(Event{Phase: timectrl.PhaseQuality, Time: t + dt, Step: dt})
	return nil
}

// CloseQ closes the quality solver. Computed qualities stay readable.
func (s *Session) CloseQ() error {
	if err := s.enter(nil); err != nil {
		return err
	}
	if !s.qualOpen {
		return ErrQualNotOpen
	}
	s.qualOpen, s.qualInit = false, false
	s.log.Debug(context.Background(), "quality closed")
	return nil
}

// SolveQ runs a complete quality analysis over the saved hydraulics.
func (s *Session) SolveQ(ctx context.Context) error {
	ctx, span := s.span(ctx, "core.SolveQ")
	err := s.solveQ(ctx)
	endSpan(span, err)
	return err
}

func (s *Session) solveQ(ctx context.Context) error {
	if s.hydOpen {
		return fmt.Errorf("quality replay: %w", ErrHydFileInUse)
	}
	if err := s.OpenQ(); err != nil {
		return err
	}
	defer func() { _ = s.CloseQ() }()
	if err := s.InitQ(model.Save); err != nil {
		return err
	}
	for {
		if _, err := s.RunQ(ctx); err != nil {
			return err
		}
		tstep, err := s.NextQ(ctx)
		if err != nil {
			return err
		}
		if tstep == 0 {
			return nil
		}
	}
}

// Close closes any open solver.
func (s *Session) Close() error {
	if s.notifying {
		return ErrReentrant
	}
	if s.qualOpen {
		_ = s.CloseQ()
	}
	if s.hydOpen {
		_ = s.CloseH()
	}
	return nil
}

// Report returns the reporting periods aggregated with the statistic
// time parameter.
func (s *Session) Report() (Report, error) {
	if len(s.res.periods) == 0 {
		return Report{}, ErrNoResults
	}
	return s.res.report(s.net.Times.Statistic), nil
}

// Energy returns the pump energy summary of the last hydraulic run.
func (s *Session) Energy() (EnergyReport, error) {
	if s.hyd == nil {
		return EnergyReport{}, ErrNoResults
	}
	return s.hyd.energyReport(), nil
}

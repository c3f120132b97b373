package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// EngineCollector exposes solver metrics for simulation sessions. It
// satisfies core.MetricsRecorder.
type EngineCollector struct {
	gatherer prometheus.Gatherer

	hydraulicSolves  prometheus.Counter
	iterations       prometheus.Histogram
	relativeError    prometheus.Gauge
	warnings         *prometheus.CounterVec
	controlActions   prometheus.Counter
	qualitySteps     prometheus.Counter
	simulatedSeconds *prometheus.GaugeVec
	stepDuration     *prometheus.HistogramVec
}

// NewEngineCollector registers engine metrics against the provided registerer,
// defaulting to the global registry when nil.
func NewEngineCollector(reg prometheus.Registerer) (*EngineCollector, error) {
	reg, gatherer := registries(reg)
	c := &EngineCollector{gatherer: gatherer}

	var err error
	if c.hydraulicSolves, err = register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pipenet_hydraulic_solves_total",
		Help: "Number of hydraulic time steps solved.",
	}), "pipenet_hydraulic_solves_total"); err != nil {
		return nil, err
	}
	if c.iterations, err = register(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "pipenet_hydraulic_iterations",
		Help:    "Gradient iterations needed per hydraulic solve.",
		Buckets: []float64{1, 2, 3, 5, 8, 12, 20, 40, 100, 200},
	}), "pipenet_hydraulic_iterations"); err != nil {
		return nil, err
	}
	if c.relativeError, err = register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "pipenet_hydraulic_relative_error",
		Help: "Relative flow change of the most recent hydraulic solve.",
	}), "pipenet_hydraulic_relative_error"); err != nil {
		return nil, err
	}
	if c.warnings, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pipenet_warnings_total",
		Help: "Solver warnings raised, labeled by warning code.",
	}, []string{"code"}), "pipenet_warnings_total"); err != nil {
		return nil, err
	}
	if c.controlActions, err = register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pipenet_control_actions_total",
		Help: "Status or setting changes applied by simple controls and rules.",
	}), "pipenet_control_actions_total"); err != nil {
		return nil, err
	}
	if c.qualitySteps, err = register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pipenet_quality_steps_total",
		Help: "Number of water quality transport steps advanced.",
	}), "pipenet_quality_steps_total"); err != nil {
		return nil, err
	}
	if c.simulatedSeconds, err = register(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "pipenet_simulated_seconds",
		Help: "Current simulation clock, labeled by phase.",
	}, []string{"phase"}), "pipenet_simulated_seconds"); err != nil {
		return nil, err
	}
	if c.stepDuration, err = register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pipenet_step_duration_seconds",
		Help:    "Wall-clock time spent per solver step, labeled by phase.",
		Buckets: prometheus.ExponentialBuckets(0.0001, 4, 10),
	}, []string{"phase"}), "pipenet_step_duration_seconds"); err != nil {
		return nil, err
	}
	return c, nil
}

// ObserveHydraulicStep records one solved hydraulic time step.
func (c *EngineCollector) ObserveHydraulicStep(iterations int, relErr float64, warnings []int, controls int, elapsed time.Duration) {
	if c == nil {
		return
	}
	c.hydraulicSolves.Inc()
	c.iterations.Observe(float64(iterations))
	c.relativeError.Set(relErr)
	for _, code := range warnings {
		c.warnings.WithLabelValues(strconv.Itoa(code)).Inc()
	}
	if controls > 0 {
		c.controlActions.Add(float64(controls))
	}
	c.stepDuration.WithLabelValues("hydraulic").Observe(elapsed.Seconds())
}

// ObserveQualityStep records one quality transport step of step seconds.
func (c *EngineCollector) ObserveQualityStep(step int64, elapsed time.Duration) {
	if c == nil || step <= 0 {
		return
	}
	c.qualitySteps.Inc()
	c.stepDuration.WithLabelValues("quality").Observe(elapsed.Seconds())
}

// SetSimulatedTime publishes the current clock for phase.
func (c *EngineCollector) SetSimulatedTime(phase string, seconds int64) {
	if c == nil {
		return
	}
	c.simulatedSeconds.WithLabelValues(phase).Set(float64(seconds))
}

// Handler exposes the registry the collector was registered with.
func (c *EngineCollector) Handler() http.Handler {
	if c == nil {
		return handlerFor(nil)
	}
	return handlerFor(c.gatherer)
}

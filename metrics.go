package netycat

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricsNamespace = "netycat"
	metricsSubsystem = "reactor"
)

// reactorMetrics is nil when metrics are disabled; every method is nil-safe.
type reactorMetrics struct {
	outstanding prometheus.Gauge
	completed   *prometheus.CounterVec
	timersFired prometheus.Counter
	iterations  prometheus.Counter
}

func newReactorMetrics(reg prometheus.Registerer) (*reactorMetrics, error) {
	if reg == nil {
		return nil, nil
	}

	m := &reactorMetrics{
		outstanding: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "outstanding_operations",
			Help:      "Number of asynchronous operations created but not yet destroyed.",
		}),
		completed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "operations_completed_total",
			Help:      "Number of asynchronous operations whose callback has run, by kind.",
		}, []string{"op"}),
		timersFired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "timers_fired_total",
			Help:      "Number of timer callbacks run.",
		}),
		iterations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "loop_iterations_total",
			Help:      "Number of run loop iterations.",
		}),
	}

	var err error
	if m.outstanding, err = register(reg, m.outstanding); err != nil {
		return nil, err
	}
	if m.completed, err = register(reg, m.completed); err != nil {
		return nil, err
	}
	if m.timersFired, err = register(reg, m.timersFired); err != nil {
		return nil, err
	}
	if m.iterations, err = register(reg, m.iterations); err != nil {
		return nil, err
	}
	return m, nil
}

// register adds c to reg, reusing an identical collector that is already registered.
func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

func (m *reactorMetrics) setOutstanding(n int64) {
	if m != nil {
		m.outstanding.Set(float64(n))
	}
}

func (m *reactorMetrics) observeCompleted(kind string) {
	if m != nil {
		m.completed.WithLabelValues(kind).Inc()
	}
}

func (m *reactorMetrics) observeTimers(n int) {
	if m != nil && n > 0 {
		m.timersFired.Add(float64(n))
	}
}

func (m *reactorMetrics) observeIteration() {
	if m != nil {
		m.iterations.Inc()
	}
}

// Package metrics exposes Prometheus collectors for permission brokering.
package metrics

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"permbridge/permission"
)

// Options configures the collectors
type Options struct {
	Registerer prometheus.Registerer
	Namespace  string
}

// Metrics implements permission.Recorder
type Metrics struct {
	Requests       *prometheus.CounterVec
	Conflicts      prometheus.Counter
	StaleCallbacks prometheus.Counter
	Timeouts       prometheus.Counter
	Pending        prometheus.Gauge
	Checks         prometheus.Counter
}

var _ permission.Recorder = (*Metrics)(nil)

// New constructs the collectors and registers them. Collectors already
// registered under the same name are reused.
func New(opts Options) (*Metrics, error) {
	namespace := opts.Namespace
	if namespace == "" {
		namespace = "permbridge"
	}
	reg := opts.Registerer
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{}
	var err error

	if m.Requests, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "requests_total",
		Help:      "Permission requests partitioned by how they resolved.",
	}, []string{"result"})); err != nil {
		return nil, err
	}
	if m.Conflicts, err = register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "conflicts_total",
		Help:      "Requests rejected because another request was pending.",
	})); err != nil {
		return nil, err
	}
	if m.StaleCallbacks, err = register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "stale_callbacks_total",
		Help:      "Platform results ignored because they matched no pending request.",
	})); err != nil {
		return nil, err
	}
	if m.Timeouts, err = register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "timeouts_total",
		Help:      "Requests the platform never answered.",
	})); err != nil {
		return nil, err
	}
	if m.Pending, err = register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "pending",
		Help:      "Requests in flight or queued.",
	})); err != nil {
		return nil, err
	}
	if m.Checks, err = register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "checks_total",
		Help:      "Permissions checked without prompting.",
	})); err != nil {
		return nil, err
	}
	return m, nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if !errors.As(err, &already) {
			return c, fmt.Errorf("register collector: %w", err)
		}
		existing, ok := already.ExistingCollector.(C)
		if !ok {
			return c, fmt.Errorf("existing collector has unexpected type %T", already.ExistingCollector)
		}
		return existing, nil
	}
	return c, nil
}

// RequestResolved implements permission.Recorder
func (m *Metrics) RequestResolved(result string) {
	m.Requests.WithLabelValues(result).Inc()
}

// Conflict implements permission.Recorder
func (m *Metrics) Conflict() {
	m.Conflicts.Inc()
}

// StaleCallback implements permission.Recorder
func (m *Metrics) StaleCallback() {
	m.StaleCallbacks.Inc()
}

// Timeout implements permission.Recorder
func (m *Metrics) Timeout() {
	m.Timeouts.Inc()
}

// SetPending implements permission.Recorder
func (m *Metrics) SetPending(n int) {
	m.Pending.Set(float64(n))
}

// Checked implements permission.Recorder
func (m *Metrics) Checked(n int) {
	m.Checks.Add(float64(n))
}

// Handler serves the metrics gathered by g, or the default registry when g is nil
func Handler(g prometheus.Gatherer) http.Handler {
	if g == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

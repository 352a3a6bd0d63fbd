package metric

import (
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ErrDuplicateMetric is returned when a unit registers the same metric name twice.
var ErrDuplicateMetric = errors.New("metric already registered")

// Registry manages the registration and export of metrics.
type Registry struct {
	prometheusRegistry *prometheus.Registry
	metrics            *Metrics
	registered         map[string]prometheus.Collector
	mu                 sync.Mutex
}

// NewRegistry creates a registry with the runtime metrics and the Go and
// process collectors already registered.
func NewRegistry() *Registry {
	r := &Registry{
		prometheusRegistry: prometheus.NewRegistry(),
		metrics:            NewMetrics(),
		registered:         make(map[string]prometheus.Collector),
	}

	r.prometheusRegistry.MustRegister(r.metrics.collectors()...)
	r.prometheusRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return r
}

// Metrics returns the runtime metrics.
func (r *Registry) Metrics() *Metrics {
	return r.metrics
}

// PrometheusRegistry returns the underlying Prometheus registry.
func (r *Registry) PrometheusRegistry() *prometheus.Registry {
	return r.prometheusRegistry
}

// Register adds a unit-specific collector under unit.name.
func (r *Registry) Register(unit, name string, c prometheus.Collector) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := unit + "." + name
	if _, exists := r.registered[key]; exists {
		return fmt.Errorf("%w: %s for unit %s", ErrDuplicateMetric, name, unit)
	}

	if err := r.prometheusRegistry.Register(c); err != nil {
		return fmt.Errorf("failed to register metric %s for unit %s: %w", name, unit, err)
	}

	r.registered[key] = c
	return nil
}

// Unregister removes a collector previously added with Register.
func (r *Registry) Unregister(unit, name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := unit + "." + name
	c, exists := r.registered[key]
	if !exists {
		return false
	}

	ok := r.prometheusRegistry.Unregister(c)
	if ok {
		delete(r.registered, key)
	}
	return ok
}

// Handler returns an HTTP handler serving the registry in the Prometheus
// exposition format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.prometheusRegistry, promhttp.HandlerOpts{})
}

package observability

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Manager owns the tracer provider and the metrics registry.
type Manager struct {
	tracerProvider trace.TracerProvider
	metrics        Metrics
	registry       *prometheus.Registry
	config         Config
	mu             sync.RWMutex
}

// NewManager initializes tracing and metrics from cfg.
func NewManager(ctx context.Context, cfg Config, version string) (*Manager, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	m := &Manager{config: cfg, metrics: NoopMetrics{}}

	tp, err := InitTracer(ctx, cfg.Tracing, version)
	if err != nil {
		return nil, err
	}
	m.tracerProvider = tp

	if cfg.Metrics.Enabled {
		metrics, registry, err := InitMetrics(cfg.Metrics)
		if err != nil {
			_ = m.Shutdown(ctx)
			return nil, err
		}
		m.metrics = metrics
		m.registry = registry
	}

	return m, nil
}

// Tracer returns the planner tracer.
func (m *Manager) Tracer() trace.Tracer {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.tracerProvider == nil {
		return noop.NewTracerProvider().Tracer(TracerName)
	}
	return m.tracerProvider.Tracer(TracerName)
}

// Metrics returns the metrics recorder. Never nil.
func (m *Manager) Metrics() Metrics {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.metrics == nil {
		return NoopMetrics{}
	}
	return m.metrics
}

// MetricsHandler returns the Prometheus scrape handler, or nil when metrics
// are disabled.
func (m *Manager) MetricsHandler() http.Handler {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.registry == nil {
		return nil
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// MetricsPath returns the configured scrape path.
func (m *Manager) MetricsPath() string {
	if m.config.Metrics.Endpoint == "" {
		return DefaultMetricsPath
	}
	return m.config.Metrics.Endpoint
}

// Shutdown flushes pending spans.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var errs []error
	if spt, ok := m.tracerProvider.(interface{ Shutdown(context.Context) error }); ok {
		errs = append(errs, spt.Shutdown(ctx))
	}
	return errors.Join(errs...)
}

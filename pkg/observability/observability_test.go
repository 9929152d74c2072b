package observability

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scrape(t *testing.T, h http.Handler) string {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	return string(body)
}

func TestConfig_Defaults(t *testing.T) {
	cfg := Config{}
	cfg.SetDefaults()

	assert.Equal(t, DefaultServiceName, cfg.Tracing.ServiceName)
	assert.Equal(t, ExporterOTLP, cfg.Tracing.Exporter)
	assert.Equal(t, DefaultOTLPEndpoint, cfg.Tracing.Endpoint)
	assert.Equal(t, 1.0, cfg.Tracing.SamplingRate)
	assert.True(t, cfg.Tracing.IsInsecure())
	assert.Equal(t, DefaultMetricsPath, cfg.Metrics.Endpoint)
	assert.Equal(t, DefaultServiceName, cfg.Metrics.Namespace)
	assert.NoError(t, cfg.Validate())
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{name: "bad exporter", cfg: Config{Tracing: TracingConfig{Enabled: true, Exporter: "zipkin"}}},
		{name: "bad sampling", cfg: Config{Tracing: TracingConfig{Enabled: true, SamplingRate: 2}}},
		{name: "relative metrics path", cfg: Config{Metrics: MetricsConfig{Enabled: true, Endpoint: "metrics"}}},
		{name: "bad namespace", cfg: Config{Metrics: MetricsConfig{Enabled: true, Namespace: "trip-planner"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := tt.cfg
			cfg.SetDefaults()
			assert.Error(t, cfg.Validate())
		})
	}

	t.Run("disabled sections skipped", func(t *testing.T) {
		cfg := Config{Tracing: TracingConfig{Exporter: "zipkin"}}
		cfg.SetDefaults()
		assert.NoError(t, cfg.Validate())
		assert.Error(t, cfg.Tracing.Validate())
	})

	t.Run("all problems reported", func(t *testing.T) {
		cfg := Config{
			Tracing: TracingConfig{Enabled: true, Exporter: "zipkin", SamplingRate: 2},
			Metrics: MetricsConfig{Enabled: true, Endpoint: "metrics"},
		}
		cfg.SetDefaults()
		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "tracing.exporter")
		assert.Contains(t, err.Error(), "tracing.sampling_rate")
		assert.Contains(t, err.Error(), "metrics.endpoint")
	})

	t.Run("explicit secure kept", func(t *testing.T) {
		cfg := TracingConfig{Insecure: new(bool)}
		cfg.SetDefaults()
		assert.False(t, cfg.IsInsecure())
	})
}

func TestNewManager_Disabled(t *testing.T) {
	m, err := NewManager(context.Background(), Config{}, "test")
	require.NoError(t, err)

	assert.Nil(t, m.MetricsHandler())
	assert.IsType(t, NoopMetrics{}, m.Metrics())
	assert.NotNil(t, m.Tracer())
	assert.NoError(t, m.Shutdown(context.Background()))
}

func TestNewManager_Metrics(t *testing.T) {
	ctx := context.Background()
	m, err := NewManager(ctx, Config{Metrics: MetricsConfig{Enabled: true}}, "test")
	require.NoError(t, err)
	defer m.Shutdown(ctx)

	metrics := m.Metrics()
	metrics.RecordAgentRun(ctx, "ndjson", OutcomeOK, 2, 3*time.Second)
	metrics.RecordLLMCall(ctx, "qwen-plus", OutcomeOK, time.Second, 120, 40)
	metrics.RecordToolCall(ctx, "maps_weather", OutcomeToolError, 200*time.Millisecond)
	metrics.AddActiveStreams(ctx, 1)

	body := scrape(t, m.MetricsHandler())
	assert.Contains(t, body, "tripplanner_runs_total")
	assert.Contains(t, body, "tripplanner_run_duration_seconds")
	assert.Contains(t, body, "tripplanner_llm_tokens_input_total")
	assert.Contains(t, body, `tool="maps_weather"`)
	assert.Contains(t, body, "tripplanner_active_streams")
	assert.Contains(t, body, "go_goroutines")
	assert.Equal(t, "/metrics", m.MetricsPath())
}

func TestHTTPMiddleware_RecordsRoutePattern(t *testing.T) {
	ctx := context.Background()
	m, err := NewManager(ctx, Config{Metrics: MetricsConfig{Enabled: true}}, "test")
	require.NoError(t, err)

	r := chi.NewRouter()
	r.Use(HTTPMiddleware(m.Tracer(), m.Metrics()))
	r.Get("/plans/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/plans/42", nil))
	assert.Equal(t, http.StatusTeapot, rec.Code)

	body := scrape(t, m.MetricsHandler())
	assert.Contains(t, body, `route="/plans/{id}"`)
	assert.Contains(t, body, `status="418"`)
}

func TestNoopMetrics(t *testing.T) {
	ctx := context.Background()
	var metrics Metrics = NoopMetrics{}
	metrics.RecordHTTPRequest(ctx, "GET", "/", 200, time.Millisecond)
	metrics.RecordAgentRun(ctx, "sync", OutcomeError, 0, time.Millisecond)
	metrics.RecordLLMCall(ctx, "m", OutcomeOK, time.Millisecond, 0, 0)
	metrics.RecordToolCall(ctx, "t", OutcomeOK, time.Millisecond)
	metrics.AddActiveStreams(ctx, -1)

	nm := NoopManager()
	assert.NotNil(t, nm.Tracer())
	assert.Nil(t, nm.MetricsHandler())
}

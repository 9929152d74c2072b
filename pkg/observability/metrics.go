package observability

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.opentelemetry.io/otel/attribute"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// Metrics records the planner's operational metrics.
type Metrics interface {
	RecordHTTPRequest(ctx context.Context, method, route string, status int, duration time.Duration)
	RecordAgentRun(ctx context.Context, mode, outcome string, steps int, duration time.Duration)
	RecordLLMCall(ctx context.Context, model, outcome string, duration time.Duration, inputTokens, outputTokens int)
	RecordToolCall(ctx context.Context, tool, outcome string, duration time.Duration)
	AddActiveStreams(ctx context.Context, delta int64)
}

// PrometheusMetrics implements Metrics with OpenTelemetry instruments
// exported through a Prometheus registry.
type PrometheusMetrics struct {
	httpDuration metric.Float64Histogram
	httpRequests metric.Int64Counter

	runDuration metric.Float64Histogram
	runs        metric.Int64Counter
	runSteps    metric.Int64Histogram
	streams     metric.Int64UpDownCounter

	llmDuration     metric.Float64Histogram
	llmCalls        metric.Int64Counter
	llmInputTokens  metric.Int64Counter
	llmOutputTokens metric.Int64Counter

	toolDuration metric.Float64Histogram
	toolCalls    metric.Int64Counter
}

// InitMetrics creates the instruments on a fresh registry. The registry also
// carries the Go runtime and process collectors.
func InitMetrics(cfg MetricsConfig) (*PrometheusMetrics, *prometheus.Registry, error) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	promExporter, err := otelprom.New(
		otelprom.WithRegisterer(registry),
		otelprom.WithNamespace(cfg.Namespace),
		otelprom.WithoutScopeInfo(),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	meterProvider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(promExporter))
	meter := meterProvider.Meter(TracerName)

	m := &PrometheusMetrics{}
	b := instrumentBuilder{meter: meter}

	m.httpDuration = b.histogram("http_request_duration", "HTTP request duration")
	m.httpRequests = b.counter("http_requests", "Total HTTP requests")
	m.runDuration = b.histogram("run_duration", "Planning run duration")
	m.runs = b.counter("runs", "Total planning runs")
	m.runSteps = b.intHistogram("run_steps", "Tool rounds per planning run")
	m.streams = b.upDown("active_streams", "Streaming responses in flight")
	m.llmDuration = b.histogram("llm_request_duration", "LLM request duration")
	m.llmCalls = b.counter("llm_requests", "Total LLM requests")
	m.llmInputTokens = b.counter("llm_tokens_input", "Total input tokens sent to the LLM")
	m.llmOutputTokens = b.counter("llm_tokens_output", "Total output tokens from the LLM")
	m.toolDuration = b.histogram("tool_execution_duration", "Tool execution duration")
	m.toolCalls = b.counter("tool_calls", "Total tool calls")

	if b.err != nil {
		return nil, nil, b.err
	}
	return m, registry, nil
}

// instrumentBuilder keeps the first instrument creation error.
type instrumentBuilder struct {
	meter metric.Meter
	err   error
}

func (b *instrumentBuilder) histogram(name, desc string) metric.Float64Histogram {
	h, err := b.meter.Float64Histogram(name, metric.WithDescription(desc), metric.WithUnit("s"))
	b.keep(name, err)
	return h
}

func (b *instrumentBuilder) intHistogram(name, desc string) metric.Int64Histogram {
	h, err := b.meter.Int64Histogram(name, metric.WithDescription(desc))
	b.keep(name, err)
	return h
}

func (b *instrumentBuilder) counter(name, desc string) metric.Int64Counter {
	c, err := b.meter.Int64Counter(name, metric.WithDescription(desc))
	b.keep(name, err)
	return c
}

func (b *instrumentBuilder) upDown(name, desc string) metric.Int64UpDownCounter {
	c, err := b.meter.Int64UpDownCounter(name, metric.WithDescription(desc))
	b.keep(name, err)
	return c
}

func (b *instrumentBuilder) keep(name string, err error) {
	if err != nil && b.err == nil {
		b.err = fmt.Errorf("failed to create %s instrument: %w", name, err)
	}
}

func (m *PrometheusMetrics) RecordHTTPRequest(ctx context.Context, method, route string, status int, duration time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("route", route),
		attribute.Int("status", status),
	)
	m.httpDuration.Record(ctx, duration.Seconds(), attrs)
	m.httpRequests.Add(ctx, 1, attrs)
}

func (m *PrometheusMetrics) RecordAgentRun(ctx context.Context, mode, outcome string, steps int, duration time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("mode", mode),
		attribute.String("outcome", outcome),
	)
	m.runDuration.Record(ctx, duration.Seconds(), attrs)
	m.runs.Add(ctx, 1, attrs)
	m.runSteps.Record(ctx, int64(steps), metric.WithAttributes(attribute.String("mode", mode)))
}

func (m *PrometheusMetrics) RecordLLMCall(ctx context.Context, model, outcome string, duration time.Duration, inputTokens, outputTokens int) {
	modelAttr := attribute.String("model", model)
	m.llmDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(modelAttr, attribute.String("outcome", outcome)))
	m.llmCalls.Add(ctx, 1, metric.WithAttributes(modelAttr, attribute.String("outcome", outcome)))
	if inputTokens > 0 {
		m.llmInputTokens.Add(ctx, int64(inputTokens), metric.WithAttributes(modelAttr))
	}
	if outputTokens > 0 {
		m.llmOutputTokens.Add(ctx, int64(outputTokens), metric.WithAttributes(modelAttr))
	}
}

func (m *PrometheusMetrics) RecordToolCall(ctx context.Context, tool, outcome string, duration time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("tool", tool),
		attribute.String("outcome", outcome),
	)
	m.toolDuration.Record(ctx, duration.Seconds(), attrs)
	m.toolCalls.Add(ctx, 1, attrs)
}

func (m *PrometheusMetrics) AddActiveStreams(ctx context.Context, delta int64) {
	m.streams.Add(ctx, delta)
}

package agent

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/tripplanner/pkg/model"
	"github.com/kadirpekel/tripplanner/pkg/observability"
	"github.com/kadirpekel/tripplanner/pkg/prompt"
	"github.com/kadirpekel/tripplanner/pkg/tool"
)

// turn is one scripted model response.
type turn struct {
	deltas []string
	calls  []tool.Call
	err    error
}

type scriptedLLM struct {
	mu       sync.Mutex
	turns    []turn
	requests []model.Request
}

func (l *scriptedLLM) Name() string { return "scripted" }

func (l *scriptedLLM) GenerateContent(ctx context.Context, req *model.Request) iter.Seq2[*model.Response, error] {
	return func(yield func(*model.Response, error) bool) {
		l.mu.Lock()
		snapshot := *req
		snapshot.Messages = append([]model.Message(nil), req.Messages...)
		l.requests = append(l.requests, snapshot)
		idx := len(l.requests) - 1
		l.mu.Unlock()

		if idx >= len(l.turns) {
			yield(nil, fmt.Errorf("unexpected model call %d", idx))
			return
		}
		t := l.turns[idx]

		var text string
		for _, d := range t.deltas {
			text += d
			if !yield(&model.Response{Text: d, Partial: true}, nil) {
				return
			}
		}
		if t.err != nil {
			yield(nil, t.err)
			return
		}
		yield(&model.Response{
			Text:      text,
			ToolCalls: t.calls,
			Usage:     &model.Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
		}, nil)
	}
}

type fakeTool struct {
	name   string
	result *tool.Result
	err    error
	calls  []map[string]any
}

func (f *fakeTool) Name() string           { return f.name }
func (f *fakeTool) Description() string    { return f.name }
func (f *fakeTool) Schema() map[string]any { return nil }
func (f *fakeTool) Call(_ context.Context, args map[string]any) (*tool.Result, error) {
	f.calls = append(f.calls, args)
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

type fakeSource struct {
	tools      []tool.Tool
	listErr    error
	acquireErr error

	mu       sync.Mutex
	acquired int
	released []bool
}

func (s *fakeSource) Acquire(context.Context) (tool.Lease, error) {
	if s.acquireErr != nil {
		return nil, s.acquireErr
	}
	s.mu.Lock()
	s.acquired++
	s.mu.Unlock()
	return &fakeLease{src: s}, nil
}

type fakeLease struct {
	src *fakeSource
}

func (l *fakeLease) Name() string { return "fake" }
func (l *fakeLease) Tools(context.Context) ([]tool.Tool, error) {
	return l.src.tools, l.src.listErr
}
func (l *fakeLease) Release(broken bool) {
	l.src.mu.Lock()
	defer l.src.mu.Unlock()
	l.src.released = append(l.src.released, broken)
}

func newSession(t *testing.T, src tool.Source, llm model.LLM, mutate ...func(*Config)) *Session {
	t.Helper()
	cfg := Config{
		Tools:    src,
		Models:   func(model.Config) (model.LLM, error) { return llm, nil },
		Defaults: model.Config{Model: "qwen-plus"},
	}
	for _, m := range mutate {
		m(&cfg)
	}
	s, err := New(cfg)
	require.NoError(t, err)
	return s
}

func drain(seq iter.Seq2[*Event, error]) ([]*Event, error) {
	var events []*Event
	for ev, err := range seq {
		if err != nil {
			return events, err
		}
		events = append(events, ev)
	}
	return events, nil
}

func kinds(events []*Event) []EventKind {
	out := make([]EventKind, 0, len(events))
	for _, ev := range events {
		out = append(out, ev.Kind)
	}
	return out
}

func deltas(events []*Event) string {
	var s string
	for _, ev := range events {
		if ev.IsDelta() {
			s += ev.Text
		}
	}
	return s
}

func TestNew_RequiresDependencies(t *testing.T) {
	_, err := New(Config{Models: func(model.Config) (model.LLM, error) { return nil, nil }})
	assert.Error(t, err)
	_, err = New(Config{Tools: &fakeSource{}})
	assert.Error(t, err)
}

func TestRun_EmptyQuery(t *testing.T) {
	src := &fakeSource{}
	llm := &scriptedLLM{}
	s := newSession(t, src, llm)

	for _, q := range []string{"", "   ", "\n\t"} {
		events, err := drain(s.Run(context.Background(), q, model.Config{}))
		assert.ErrorIs(t, err, ErrEmptyQuery)
		assert.Empty(t, events)
	}
	assert.Zero(t, src.acquired)
	assert.Empty(t, llm.requests)
}

func TestRun_DirectAnswer(t *testing.T) {
	src := &fakeSource{}
	llm := &scriptedLLM{turns: []turn{{deltas: []string{"东京", "三日游"}}}}
	s := newSession(t, src, llm)

	events, err := drain(s.Run(context.Background(), " 东京三日游 ", model.Config{}))
	require.NoError(t, err)

	assert.Equal(t, []EventKind{KindModelStart, KindTokenDelta, KindTokenDelta, KindModelEnd, KindAgentEnd}, kinds(events))
	assert.Equal(t, "东京三日游", deltas(events))
	assert.Equal(t, "东京三日游", events[len(events)-1].Text)
	require.NotNil(t, events[3].Usage)
	assert.Equal(t, 15, events[3].Usage.TotalTokens)

	runID := events[0].RunID
	assert.NotEmpty(t, runID)
	for _, ev := range events {
		assert.Equal(t, runID, ev.RunID)
	}

	require.Len(t, llm.requests, 1)
	req := llm.requests[0]
	assert.Equal(t, prompt.Default().Text, req.SystemInstruction)
	assert.Equal(t, []model.Message{{Role: model.RoleUser, Content: "东京三日游"}}, req.Messages)
	assert.Equal(t, []bool{false}, src.released)
}

func TestRun_ToolRound(t *testing.T) {
	weather := &fakeTool{name: "maps_weather", result: &tool.Result{Text: "sunny"}}
	src := &fakeSource{tools: []tool.Tool{weather}}
	llm := &scriptedLLM{turns: []turn{
		{deltas: []string{"查询天气"}, calls: []tool.Call{{ID: "c1", Name: "maps_weather", Arguments: `{"city":"东京"}`}}},
		{deltas: []string{"晴天出行"}},
	}}
	s := newSession(t, src, llm)

	events, err := drain(s.Run(context.Background(), "东京天气", model.Config{}))
	require.NoError(t, err)

	assert.Equal(t, []EventKind{
		KindModelStart, KindTokenDelta, KindModelEnd,
		KindToolStart, KindToolEnd,
		KindModelStart, KindTokenDelta, KindModelEnd,
		KindAgentEnd,
	}, kinds(events))
	assert.Equal(t, "查询天气晴天出行", deltas(events))

	toolEnd := events[4]
	assert.Equal(t, "maps_weather", toolEnd.ToolName)
	assert.Equal(t, "sunny", toolEnd.ToolResult)
	assert.False(t, toolEnd.ToolError)

	require.Len(t, weather.calls, 1)
	assert.Equal(t, map[string]any{"city": "东京"}, weather.calls[0])

	require.Len(t, llm.requests, 2)
	msgs := llm.requests[1].Messages
	require.Len(t, msgs, 3)
	assert.Equal(t, model.RoleAssistant, msgs[1].Role)
	assert.Equal(t, "c1", msgs[1].ToolCalls[0].ID)
	assert.Equal(t, model.Message{Role: model.RoleTool, Content: "sunny", ToolCallID: "c1"}, msgs[2])
	assert.Equal(t, []bool{false}, src.released)
}

func TestRun_ToolErrorsGoBackToModel(t *testing.T) {
	weather := &fakeTool{name: "maps_weather", result: &tool.Result{Text: "city not found", IsError: true}}
	src := &fakeSource{tools: []tool.Tool{weather}}
	llm := &scriptedLLM{turns: []turn{
		{calls: []tool.Call{
			{ID: "c1", Name: "maps_weather", Arguments: `{"city":"atlantis"}`},
			{ID: "c2", Name: "maps_teleport", Arguments: `{}`},
		}},
		{deltas: []string{"抱歉"}},
	}}
	s := newSession(t, src, llm)

	events, err := drain(s.Run(context.Background(), "atlantis", model.Config{}))
	require.NoError(t, err)
	assert.Equal(t, "抱歉", deltas(events))

	msgs := llm.requests[1].Messages
	require.Len(t, msgs, 4)
	assert.Equal(t, "city not found", msgs[2].Content)
	assert.Contains(t, msgs[3].Content, `unknown tool "maps_teleport"`)
	assert.Equal(t, []bool{false}, src.released)
}

func TestRun_InvalidArgumentsAreTerminal(t *testing.T) {
	weather := &fakeTool{name: "maps_weather", result: &tool.Result{Text: "sunny"}}
	src := &fakeSource{tools: []tool.Tool{weather}}
	llm := &scriptedLLM{turns: []turn{
		{calls: []tool.Call{{ID: "c1", Name: "maps_weather", Arguments: `{"city":`}}},
	}}
	s := newSession(t, src, llm)

	_, err := drain(s.Run(context.Background(), "东京", model.Config{}))
	require.Error(t, err)
	assert.ErrorIs(t, err, tool.ErrInvalidArguments)
	assert.Empty(t, weather.calls)
	// The connection itself is healthy.
	assert.Equal(t, []bool{false}, src.released)
}

func TestRun_ToolTransportErrorBreaksConnection(t *testing.T) {
	weather := &fakeTool{name: "maps_weather", err: errors.New("sse stream closed")}
	src := &fakeSource{tools: []tool.Tool{weather}}
	llm := &scriptedLLM{turns: []turn{
		{calls: []tool.Call{{ID: "c1", Name: "maps_weather", Arguments: `{}`}}},
	}}
	s := newSession(t, src, llm)

	events, err := drain(s.Run(context.Background(), "东京", model.Config{}))
	require.EqualError(t, err, "sse stream closed")
	assert.Equal(t, KindToolStart, events[len(events)-1].Kind)
	assert.Equal(t, []bool{true}, src.released)
}

func TestRun_ProviderErrorAfterDeltas(t *testing.T) {
	src := &fakeSource{}
	llm := &scriptedLLM{turns: []turn{{deltas: []string{"A"}, err: errors.New("provider down")}}}
	s := newSession(t, src, llm)

	events, err := drain(s.Run(context.Background(), "q", model.Config{}))
	require.EqualError(t, err, "provider down")
	assert.Equal(t, "A", deltas(events))
	assert.Equal(t, []bool{false}, src.released)
}

func TestRun_StepBudget(t *testing.T) {
	weather := &fakeTool{name: "maps_weather", result: &tool.Result{Text: "sunny"}}
	src := &fakeSource{tools: []tool.Tool{weather}}
	loop := turn{calls: []tool.Call{{ID: "c", Name: "maps_weather", Arguments: `{}`}}}
	llm := &scriptedLLM{turns: []turn{loop, loop, loop}}
	s := newSession(t, src, llm, func(c *Config) { c.MaxSteps = 2 })

	_, err := drain(s.Run(context.Background(), "q", model.Config{}))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStepBudgetExhausted)
	assert.Len(t, weather.calls, 2)
	assert.Len(t, llm.requests, 3)
}

func TestRun_ConsumerStopReleasesConnection(t *testing.T) {
	src := &fakeSource{}
	llm := &scriptedLLM{turns: []turn{{deltas: []string{"a", "b", "c"}}}}
	s := newSession(t, src, llm)

	seen := 0
	for ev, err := range s.Run(context.Background(), "q", model.Config{}) {
		require.NoError(t, err)
		if ev.IsDelta() {
			seen++
			break
		}
	}
	assert.Equal(t, 1, seen)
	assert.Equal(t, []bool{false}, src.released)
}

func TestRun_CancelledContext(t *testing.T) {
	src := &fakeSource{}
	llm := &scriptedLLM{turns: []turn{{deltas: []string{"a"}}}}
	s := newSession(t, src, llm)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := drain(s.Run(ctx, "q", model.Config{}))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, llm.requests)
	assert.Equal(t, []bool{false}, src.released)
}

func TestRun_ResolvesModelConfig(t *testing.T) {
	var got model.Config
	llm := &scriptedLLM{turns: []turn{{deltas: []string{"ok"}}}}
	s := newSession(t, &fakeSource{}, llm, func(c *Config) {
		c.Defaults = model.Config{Model: "qwen-plus", BaseURL: "https://dashscope.example/v1", APIKey: "env"}
		c.Models = func(mc model.Config) (model.LLM, error) {
			got = mc
			return llm, nil
		}
	})

	_, err := drain(s.Run(context.Background(), "q", model.Config{Model: "deepseek-chat"}))
	require.NoError(t, err)
	assert.Equal(t, model.Config{Model: "deepseek-chat", BaseURL: "https://dashscope.example/v1", APIKey: "env"}, got)
}

func TestRun_SetupErrors(t *testing.T) {
	t.Run("model factory", func(t *testing.T) {
		s := newSession(t, &fakeSource{}, nil, func(c *Config) {
			c.Models = func(model.Config) (model.LLM, error) { return nil, errors.New("bad base url") }
		})
		_, err := drain(s.Run(context.Background(), "q", model.Config{}))
		assert.ErrorContains(t, err, "bad base url")
	})

	t.Run("acquire", func(t *testing.T) {
		s := newSession(t, &fakeSource{acquireErr: errors.New("pool closed")}, &scriptedLLM{})
		_, err := drain(s.Run(context.Background(), "q", model.Config{}))
		assert.EqualError(t, err, "pool closed")
	})

	t.Run("list tools", func(t *testing.T) {
		src := &fakeSource{listErr: errors.New("list failed")}
		s := newSession(t, src, &scriptedLLM{})
		_, err := drain(s.Run(context.Background(), "q", model.Config{}))
		assert.EqualError(t, err, "list failed")
		assert.Equal(t, []bool{true}, src.released)
	})
}

func TestRun_LLMTimeout(t *testing.T) {
	slow := &blockingLLM{}
	s := newSession(t, &fakeSource{}, slow, func(c *Config) { c.LLMTimeout = 20 * time.Millisecond })

	_, err := drain(s.Run(context.Background(), "q", model.Config{}))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

// blockingLLM waits for its context to end.
type blockingLLM struct{}

func (blockingLLM) Name() string { return "blocking" }
func (blockingLLM) GenerateContent(ctx context.Context, _ *model.Request) iter.Seq2[*model.Response, error] {
	return func(yield func(*model.Response, error) bool) {
		<-ctx.Done()
		yield(nil, ctx.Err())
	}
}

func TestEvent_IsDelta(t *testing.T) {
	var nilEvent *Event
	assert.False(t, nilEvent.IsDelta())
	assert.False(t, (&Event{Kind: KindTokenDelta}).IsDelta())
	assert.False(t, (&Event{Kind: KindModelEnd, Text: "x"}).IsDelta())
	assert.True(t, (&Event{Kind: KindTokenDelta, Text: "x"}).IsDelta())
}

// recordingMetrics keeps the outcome labels of model calls and runs.
type recordingMetrics struct {
	observability.NoopMetrics

	mu   sync.Mutex
	llm  []string
	runs []string
}

func (m *recordingMetrics) RecordLLMCall(_ context.Context, _, outcome string, _ time.Duration, _, _ int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.llm = append(m.llm, outcome)
}

func (m *recordingMetrics) RecordAgentRun(_ context.Context, _, outcome string, _ int, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs = append(m.runs, outcome)
}

func TestRun_ModelCallMetrics(t *testing.T) {
	t.Run("completed", func(t *testing.T) {
		metrics := &recordingMetrics{}
		llm := &scriptedLLM{turns: []turn{{deltas: []string{"ok"}}}}
		s := newSession(t, &fakeSource{}, llm, func(c *Config) { c.Metrics = metrics })

		_, err := drain(s.Run(context.Background(), "q", model.Config{}))
		require.NoError(t, err)
		assert.Equal(t, []string{observability.OutcomeOK}, metrics.llm)
		assert.Equal(t, []string{observability.OutcomeOK}, metrics.runs)
	})

	t.Run("consumer stopped mid stream", func(t *testing.T) {
		metrics := &recordingMetrics{}
		llm := &scriptedLLM{turns: []turn{{deltas: []string{"a", "b", "c"}}}}
		s := newSession(t, &fakeSource{}, llm, func(c *Config) { c.Metrics = metrics })

		for ev, err := range s.Run(context.Background(), "q", model.Config{}) {
			require.NoError(t, err)
			if ev.IsDelta() {
				break
			}
		}
		assert.Equal(t, []string{observability.OutcomeCancelled}, metrics.llm)
		assert.Equal(t, []string{observability.OutcomeCancelled}, metrics.runs)
	})

	t.Run("deadline", func(t *testing.T) {
		metrics := &recordingMetrics{}
		s := newSession(t, &fakeSource{}, blockingLLM{}, func(c *Config) {
			c.Metrics = metrics
			c.LLMTimeout = 20 * time.Millisecond
		})

		_, err := drain(s.Run(context.Background(), "q", model.Config{}))
		require.ErrorIs(t, err, context.DeadlineExceeded)
		assert.Equal(t, []string{observability.OutcomeTimeout}, metrics.llm)
		assert.Equal(t, []string{observability.OutcomeTimeout}, metrics.runs)
	})
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{name: "cancelled", err: fmt.Errorf("call: %w", context.Canceled), want: observability.OutcomeCancelled},
		{name: "deadline", err: fmt.Errorf("call: %w", context.DeadlineExceeded), want: observability.OutcomeTimeout},
		{name: "other", err: errors.New("boom"), want: observability.OutcomeError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, classify(tt.err))
		})
	}
}

// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel
//
// Licensed under the GNU Affero General Public License v3.0 (AGPL-3.0) (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.gnu.org/licenses/agpl-3.0.en.html
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package agent runs the planning loop: the model is called with the
// mapping tools, requested tools are executed, and the model is called
// again until it answers without tool calls.
package agent

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/kadirpekel/tripplanner/pkg/model"
	"github.com/kadirpekel/tripplanner/pkg/observability"
	"github.com/kadirpekel/tripplanner/pkg/prompt"
	"github.com/kadirpekel/tripplanner/pkg/tool"
)

const (
	DefaultMaxSteps    = 30
	DefaultLLMTimeout  = 120 * time.Second
	DefaultToolTimeout = 30 * time.Second
)

var (
	// ErrEmptyQuery is returned for a query that is blank after trimming.
	ErrEmptyQuery = errors.New("query parameter must not be empty")

	// ErrStepBudgetExhausted is returned when the model still asks for tools
	// after MaxSteps tool rounds.
	ErrStepBudgetExhausted = errors.New("step budget exhausted")
)

// Instruction supplies the current system instruction.
type Instruction interface {
	Current() *prompt.Prompt
}

// Config configures a Session.
type Config struct {
	// Tools hands out the mapping toolset for each run.
	Tools tool.Source

	// Models builds the LLM for each run from the resolved model config.
	Models model.Factory

	// Defaults fill model fields a request leaves empty.
	Defaults model.Config

	// Instruction defaults to the embedded prompt.
	Instruction Instruction

	// MaxSteps bounds tool rounds per run (default: 30).
	MaxSteps int

	// LLMTimeout bounds each model call (default: 120s).
	LLMTimeout time.Duration

	// ToolTimeout bounds each tool call (default: 30s).
	ToolTimeout time.Duration

	// Mode labels run metrics, usually the transport mode.
	Mode string

	Tracer  trace.Tracer
	Metrics observability.Metrics
}

// Session runs planning queries. It is safe for concurrent use; each run
// checks out its own tool connection.
type Session struct {
	cfg Config
}

// New creates a Session.
func New(cfg Config) (*Session, error) {
	if cfg.Tools == nil {
		return nil, fmt.Errorf("tool source is required")
	}
	if cfg.Models == nil {
		return nil, fmt.Errorf("model factory is required")
	}
	if cfg.Instruction == nil {
		cfg.Instruction = staticInstruction{prompt.Default()}
	}
	if cfg.MaxSteps <= 0 {
		cfg.MaxSteps = DefaultMaxSteps
	}
	if cfg.LLMTimeout <= 0 {
		cfg.LLMTimeout = DefaultLLMTimeout
	}
	if cfg.ToolTimeout <= 0 {
		cfg.ToolTimeout = DefaultToolTimeout
	}
	if cfg.Tracer == nil {
		cfg.Tracer = observability.GetTracer()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observability.NoopMetrics{}
	}
	return &Session{cfg: cfg}, nil
}

type staticInstruction struct {
	p *prompt.Prompt
}

func (s staticInstruction) Current() *prompt.Prompt {
	return s.p
}

// Run plans for query and streams the run's events.
//
// The sequence ends after a KindAgentEnd event, or with exactly one error.
// A blank query fails with ErrEmptyQuery before anything remote is touched.
// Stopping the iteration early ends the run and releases its connection.
func (s *Session) Run(ctx context.Context, query string, mc model.Config) iter.Seq2[*Event, error] {
	return func(yield func(*Event, error) bool) {
		q := strings.TrimSpace(query)
		if q == "" {
			yield(nil, ErrEmptyQuery)
			return
		}

		r := &run{
			Session: s,
			id:      uuid.NewString(),
			yield:   yield,
			start:   time.Now(),
		}

		instr := s.cfg.Instruction.Current()
		runCtx, span := s.cfg.Tracer.Start(ctx, observability.SpanAgentRun,
			trace.WithAttributes(
				attribute.String(observability.AttrRunID, r.id),
				attribute.String(observability.AttrRunMode, s.cfg.Mode),
				attribute.String(observability.AttrPromptVersion, instr.Version),
			),
		)
		r.span = span
		defer r.finish(runCtx)

		r.execute(runCtx, q, instr, mc.Resolve(s.cfg.Defaults))
	}
}

// run holds the state of a single Run.
type run struct {
	*Session

	id    string
	yield func(*Event, error) bool
	span  trace.Span
	start time.Time

	steps   int
	outcome string
	stopped bool
}

// emit forwards an event and records whether the consumer stopped.
func (r *run) emit(ev *Event) bool {
	if r.stopped {
		return false
	}
	ev.RunID = r.id
	if !r.yield(ev, nil) {
		r.stopped = true
		r.outcome = observability.OutcomeCancelled
		return false
	}
	return true
}

// fail ends the run with err.
func (r *run) fail(err error) {
	r.outcome = classify(err)
	r.span.RecordError(err)
	r.span.SetStatus(codes.Error, err.Error())
	slog.Debug("Planning run failed", "run_id", r.id, "step", r.steps, "error", err)
	if !r.stopped {
		r.stopped = true
		r.yield(nil, err)
	}
}

func (r *run) finish(ctx context.Context) {
	if r.outcome == "" {
		r.outcome = observability.OutcomeOK
	}
	r.span.SetAttributes(attribute.Int(observability.AttrRunSteps, r.steps))
	r.span.End()
	r.cfg.Metrics.RecordAgentRun(ctx, r.cfg.Mode, r.outcome, r.steps, time.Since(r.start))
}

func (r *run) execute(ctx context.Context, query string, instr *prompt.Prompt, mc model.Config) {
	llm, err := r.cfg.Models(mc)
	if err != nil {
		r.fail(fmt.Errorf("failed to create model: %w", err))
		return
	}

	lease, err := r.cfg.Tools.Acquire(ctx)
	if err != nil {
		r.fail(err)
		return
	}
	broken := false
	defer func() { lease.Release(broken) }()

	tools, err := lease.Tools(ctx)
	if err != nil {
		broken = true
		r.fail(err)
		return
	}
	byName := lo.KeyBy(tools, func(t tool.Tool) string { return t.Name() })

	req := &model.Request{
		SystemInstruction: instr.Text,
		Messages:          []model.Message{{Role: model.RoleUser, Content: query}},
		Tools:             tool.Definitions(tools),
	}

	slog.Debug("Planning run started",
		"run_id", r.id,
		"model", llm.Name(),
		"tools", len(tools),
		"prompt", instr.Version,
	)

	for step := 0; ; step++ {
		if err := ctx.Err(); err != nil {
			r.fail(err)
			return
		}

		resp, err := r.callModel(ctx, llm, req, step)
		if err != nil {
			r.fail(err)
			return
		}
		if r.stopped {
			return
		}

		if !resp.HasToolCalls() {
			r.emit(&Event{Kind: KindAgentEnd, Step: step, Text: resp.Text})
			return
		}

		if r.steps >= r.cfg.MaxSteps {
			r.fail(fmt.Errorf("%w: model still requested tools after %d rounds", ErrStepBudgetExhausted, r.cfg.MaxSteps))
			return
		}
		r.steps++

		req.Messages = append(req.Messages, model.Message{
			Role:      model.RoleAssistant,
			Content:   resp.Text,
			ToolCalls: resp.ToolCalls,
		})

		for _, call := range resp.ToolCalls {
			if !r.emit(&Event{
				Kind:       KindToolStart,
				Step:       step,
				ToolName:   call.Name,
				ToolCallID: call.ID,
				ToolArgs:   call.Arguments,
			}) {
				return
			}

			result, err := r.callTool(ctx, byName, call)
			if err != nil {
				// Bad arguments are the model's fault; the session is fine.
				broken = !errors.Is(err, tool.ErrInvalidArguments)
				r.fail(err)
				return
			}

			req.Messages = append(req.Messages, model.Message{
				Role:       model.RoleTool,
				Content:    result.Text,
				ToolCallID: call.ID,
			})

			if !r.emit(&Event{
				Kind:       KindToolEnd,
				Step:       step,
				ToolName:   call.Name,
				ToolCallID: call.ID,
				ToolResult: result.Text,
				ToolError:  result.IsError,
			}) {
				return
			}
		}
	}
}

// callModel streams one model turn, forwarding text deltas, and returns the
// aggregated response.
func (r *run) callModel(ctx context.Context, llm model.LLM, req *model.Request, step int) (*model.Response, error) {
	callCtx, cancel := context.WithTimeout(ctx, r.cfg.LLMTimeout)
	defer cancel()

	callCtx, span := r.cfg.Tracer.Start(callCtx, observability.SpanLLMRequest,
		trace.WithAttributes(attribute.String(observability.AttrLLMModel, llm.Name())),
	)
	defer span.End()

	start := time.Now()
	if !r.emit(&Event{Kind: KindModelStart, Step: step}) {
		return nil, nil
	}

	// Every call that reached the provider is recorded, including ones the
	// consumer abandoned mid-stream.
	outcome := observability.OutcomeCancelled
	var in, out int
	defer func() {
		r.cfg.Metrics.RecordLLMCall(ctx, llm.Name(), outcome, time.Since(start), in, out)
	}()

	var final *model.Response
	for resp, err := range llm.GenerateContent(callCtx, req) {
		if err != nil {
			outcome = classify(err)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
		if resp == nil {
			continue
		}
		if resp.Partial {
			if resp.Text != "" && !r.emit(&Event{Kind: KindTokenDelta, Step: step, Text: resp.Text}) {
				return nil, nil
			}
			continue
		}
		final = resp
	}
	if final == nil {
		if err := callCtx.Err(); err != nil {
			outcome = classify(err)
			return nil, err
		}
		outcome = observability.OutcomeError
		return nil, fmt.Errorf("model %s ended the stream without a response", llm.Name())
	}

	outcome = observability.OutcomeOK
	if final.Usage != nil {
		in, out = final.Usage.PromptTokens, final.Usage.CompletionTokens
		span.SetAttributes(
			attribute.Int(observability.AttrLLMTokensInput, in),
			attribute.Int(observability.AttrLLMTokensOutput, out),
		)
	}

	slog.Debug("Model turn finished",
		"run_id", r.id,
		"step", step,
		"tool_calls", len(final.ToolCalls),
		"finish_reason", final.FinishReason,
	)

	if !r.emit(&Event{Kind: KindModelEnd, Step: step, Text: final.Text, Usage: final.Usage}) {
		return nil, nil
	}
	return final, nil
}

// callTool executes one tool call. Unknown tools are reported back to the
// model as a tool error so it can correct itself.
func (r *run) callTool(ctx context.Context, byName map[string]tool.Tool, call tool.Call) (*tool.Result, error) {
	ctx, span := r.cfg.Tracer.Start(ctx, observability.SpanToolExecution,
		trace.WithAttributes(
			attribute.String(observability.AttrToolName, call.Name),
			attribute.String(observability.AttrToolCallID, call.ID),
		),
	)
	defer span.End()

	start := time.Now()
	outcome := observability.OutcomeOK
	defer func() {
		r.cfg.Metrics.RecordToolCall(ctx, call.Name, outcome, time.Since(start))
	}()

	t, ok := byName[call.Name]
	if !ok {
		outcome = observability.OutcomeToolError
		return &tool.Result{Text: fmt.Sprintf("unknown tool %q", call.Name), IsError: true}, nil
	}

	args, err := tool.ParseArguments(call.Arguments)
	if err != nil {
		outcome = observability.OutcomeError
		span.RecordError(err)
		return nil, fmt.Errorf("tool %s: %w", call.Name, err)
	}

	callCtx, cancel := context.WithTimeout(ctx, r.cfg.ToolTimeout)
	defer cancel()

	result, err := t.Call(callCtx, args)
	if err != nil {
		outcome = classify(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if result.IsError {
		outcome = observability.OutcomeToolError
	}

	slog.Debug("Tool call finished",
		"run_id", r.id,
		"tool", call.Name,
		"is_error", result.IsError,
		"duration", time.Since(start),
	)
	return result, nil
}

// classify maps an error to a metric outcome label.
func classify(err error) string {
	var pe *model.ProviderError
	switch {
	case errors.Is(err, context.Canceled):
		return observability.OutcomeCancelled
	case errors.Is(err, context.DeadlineExceeded):
		return observability.OutcomeTimeout
	case errors.As(err, &pe):
		return pe.Type()
	default:
		return observability.OutcomeError
	}
}

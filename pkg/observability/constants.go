package observability

const (
	AttrRunID           = "run.id"
	AttrRunMode         = "run.mode"
	AttrRunSteps        = "run.steps"
	AttrPromptVersion   = "prompt.version"
	AttrToolName        = "tool.name"
	AttrToolCallID      = "tool.call_id"
	AttrLLMModel        = "llm.model"
	AttrLLMTokensInput  = "llm.tokens.input"
	AttrLLMTokensOutput = "llm.tokens.output"
	AttrErrorType       = "error.type"
	AttrHTTPMethod      = "http.method"
	AttrHTTPRoute       = "http.route"
	AttrHTTPStatusCode  = "http.status_code"

	SpanHTTPRequest   = "http.request"
	SpanAgentRun      = "planner.run"
	SpanLLMRequest    = "planner.llm_request"
	SpanToolExecution = "planner.tool_execution"

	TracerName = "github.com/kadirpekel/tripplanner"

	ExporterOTLP   = "otlp"
	ExporterStdout = "stdout"

	DefaultServiceName  = "tripplanner"
	DefaultSamplingRate = 1.0
	DefaultOTLPEndpoint = "localhost:4317"
	DefaultMetricsPath  = "/metrics"
)

// Outcome labels shared by run, LLM and tool metrics.
const (
	OutcomeOK        = "ok"
	OutcomeError     = "error"
	OutcomeToolError = "tool_error"
	OutcomeCancelled = "cancelled"
	OutcomeTimeout   = "timeout"
)

package workflow

import "time"

// StepStatus captures the outcome of one step attempt.
type StepStatus string

const (
	StepStatusSuccess StepStatus = "success"
	StepStatusError   StepStatus = "error"
	StepStatusQueued  StepStatus = "queued"
)

// WorkflowStatus captures the overall outcome of a workflow run.
type WorkflowStatus string

const (
	WorkflowStatusSuccess WorkflowStatus = "success"
	WorkflowStatusError   WorkflowStatus = "error"
)

// ToolConfig carries optional tool tuning declared on a step.
type ToolConfig struct {
	Model    string         `json:"model,omitempty"`
	Settings map[string]any `json:"settings,omitempty"`
}

// Step is one unit of work in a workflow. Immutable once submitted.
type Step struct {
	Step       int            `json:"step"`
	Target     string         `json:"target"`
	Action     string         `json:"action,omitempty"`
	Intent     string         `json:"intent,omitempty"`
	Params     map[string]any `json:"params,omitempty"`
	Payload    any            `json:"payload,omitempty"`
	ToolConfig *ToolConfig    `json:"toolConfig,omitempty"`
	Async      bool           `json:"async,omitempty"`
}

// Request is an ordered workflow submitted by one team.
type Request struct {
	WorkflowID string         `json:"workflowId,omitempty"`
	TeamID     string         `json:"teamId"`
	ExecutedBy string         `json:"executedBy,omitempty"`
	Steps      []Step         `json:"steps"`
	Params     map[string]any `json:"params,omitempty"`
}

// TokenUsage holds per-step AI token accounting.
type TokenUsage struct {
	Prompt     int64 `json:"promptTokens"`
	Completion int64 `json:"completionTokens"`
	Total      int64 `json:"totalTokens"`
}

// StepMetadata is appended once per attempted step, in step order.
type StepMetadata struct {
	Step       int         `json:"step"`
	Status     StepStatus  `json:"status"`
	Target     string      `json:"target"`
	DurationMs int64       `json:"durationMs"`
	ExecutedAt time.Time   `json:"executedAt"`
	Async      bool        `json:"async,omitempty"`
	Model      string      `json:"model,omitempty"`
	TokenUsage *TokenUsage `json:"tokenUsage,omitempty"`
}

// StepOutcome pairs a step's raw result with its index for the response body.
type StepOutcome struct {
	Step   int    `json:"step"`
	Target string `json:"target"`
	Result any    `json:"result"`
}

// Result is the payload section of a workflow response.
type Result struct {
	Steps       []StepOutcome `json:"steps"`
	FinalResult any           `json:"finalResult"`
}

// Metadata is the envelope section of a workflow response. ExecutionID is
// assigned by the executor and shared with any queued async steps so their
// completions can be tied back to this run.
type Metadata struct {
	ExecutionID      string         `json:"executionId"`
	Status           WorkflowStatus `json:"status"`
	TeamID           string         `json:"teamId"`
	WorkflowMetadata []StepMetadata `json:"workflowMetadata"`
}

// Response is what workflow callers always receive, success or failure.
type Response struct {
	Result   Result   `json:"result"`
	Metadata Metadata `json:"metadata"`
}

// Context is the resolution context for one in-flight execution. The
// step-result map is owned by exactly one executor invocation.
type Context struct {
	StepResults map[int]any
	Params      map[string]any
}

// StepRequest is the fully resolved form handed to invokers. ExecutionID
// is set on async steps so background completion can patch the owning
// execution record.
type StepRequest struct {
	ExecutionID string         `json:"executionId,omitempty"`
	Step        int            `json:"step"`
	Target      string         `json:"target"`
	Action      string         `json:"action,omitempty"`
	Intent      string         `json:"intent,omitempty"`
	Params      map[string]any `json:"params,omitempty"`
	Payload     any            `json:"payload,omitempty"`
	ToolConfig  *ToolConfig    `json:"toolConfig,omitempty"`
	TeamID      string         `json:"teamId"`
	ExecutedBy  string         `json:"executedBy,omitempty"`
	// GlobalParams carries the owning request's params so a queued step
	// still resolves {{params.*}} when it runs later.
	GlobalParams map[string]any `json:"globalParams,omitempty"`
}

// Tool is a registered per-team execution backend for a target.
type Tool struct {
	Target    string         `json:"target"`
	TeamID    string         `json:"teamId"`
	Endpoint  string         `json:"endpoint"`
	AuthToken string         `json:"authToken,omitempty"`
	Model     string         `json:"model,omitempty"`
	Config    map[string]any `json:"config,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
	UpdatedAt time.Time      `json:"updatedAt"`
}

// Decision is the router's answer for one step. A nil Tool means the
// generic microservice fallback executes the step; that is an expected
// outcome, not an error.
type Decision struct {
	Tool *Tool
}

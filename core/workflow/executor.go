package workflow

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/linqra/linqra/core/infra/logging"
	"github.com/linqra/linqra/core/infra/metrics"
)

const componentExecutor = "executor"

// ToolInvoker calls a registered tool with a resolved step request.
type ToolInvoker interface {
	InvokeTool(ctx context.Context, tool *Tool, req *StepRequest) (any, error)
}

// MicroserviceInvoker calls the generic microservice fallback.
type MicroserviceInvoker interface {
	InvokeService(ctx context.Context, req *StepRequest) (any, error)
}

// AsyncEnqueuer defers a step to background execution and returns the job id.
type AsyncEnqueuer interface {
	EnqueueStep(ctx context.Context, req *StepRequest) (string, error)
}

// ExecutionProgress is published before each synchronous step.
type ExecutionProgress struct {
	ExecutionID string `json:"executionId"`
	WorkflowID  string `json:"workflowId,omitempty"`
	TeamID      string `json:"teamId"`
	Status      string `json:"status"`
	CurrentStep int    `json:"currentStep"`
	TotalSteps  int    `json:"totalSteps"`
}

// ProgressFunc receives best-effort execution progress updates.
type ProgressFunc func(ExecutionProgress)

// StepError names the step that aborted a workflow and its cause.
type StepError struct {
	Step  int
	Cause error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %d failed: %v", e.Step, e.Cause)
}

func (e *StepError) Unwrap() error {
	return e.Cause
}

// ExecutorConfig wires an Executor's collaborators.
type ExecutorConfig struct {
	Router     *Router
	Tools      ToolInvoker
	Services   MicroserviceInvoker
	Async      AsyncEnqueuer
	Extractors *ResultExtractors
	Metrics    metrics.WorkflowMetrics
	Progress   ProgressFunc
}

// Executor drives one workflow request through its ordered steps.
type Executor struct {
	router     *Router
	tools      ToolInvoker
	services   MicroserviceInvoker
	async      AsyncEnqueuer
	extractors *ResultExtractors
	metrics    metrics.WorkflowMetrics
	progress   ProgressFunc
}

// NewExecutor constructs an Executor. Router and Services are required for
// synchronous steps; Async is required only when workflows declare async steps.
func NewExecutor(cfg ExecutorConfig) *Executor {
	if cfg.Extractors == nil {
		cfg.Extractors = NewResultExtractors()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.NoopWorkflow{}
	}
	return &Executor{
		router:     cfg.Router,
		tools:      cfg.Tools,
		services:   cfg.Services,
		async:      cfg.Async,
		extractors: cfg.Extractors,
		metrics:    cfg.Metrics,
		progress:   cfg.Progress,
	}
}

// Execute runs every step in ascending step order. Synchronous steps
// resolve placeholders, route, invoke, and record metadata inline; async
// steps are enqueued with a queued marker and the chain continues. The
// first synchronous failure aborts the remaining steps; metadata collected
// so far is preserved in the error response.
func (e *Executor) Execute(ctx context.Context, req *Request) (*Response, error) {
	if req == nil || len(req.Steps) == 0 {
		return nil, errors.New("workflow has no steps")
	}

	steps := make([]Step, len(req.Steps))
	copy(steps, req.Steps)
	sort.SliceStable(steps, func(i, j int) bool { return steps[i].Step < steps[j].Step })

	execID := uuid.NewString()
	wfName := workflowName(req)
	e.metrics.IncWorkflowStarted(wfName)

	ec := &Context{StepResults: make(map[int]any), Params: req.Params}
	meta := make([]StepMetadata, 0, len(steps))
	outcomes := make([]StepOutcome, 0, len(steps))

	var lastTarget string
	var lastResult any
	haveResult := false

	for i, step := range steps {
		e.publishProgress(execID, req, i+1, len(steps))

		if step.Async {
			meta = append(meta, e.enqueueAsync(ctx, execID, req, step))
			continue
		}

		sr := e.buildStepRequest(req, step, ec)
		start := time.Now()
		result, model, err := e.invoke(ctx, step, sr)
		elapsed := time.Since(start)
		e.metrics.ObserveStepDuration(wfName, step.Target, elapsed.Seconds())

		if err == nil {
			if msg, logical := logicalError(result); logical {
				err = errors.New(msg)
			}
		}

		entry := StepMetadata{
			Step:       step.Step,
			Target:     step.Target,
			DurationMs: elapsed.Milliseconds(),
			ExecutedAt: time.Now().UTC(),
			Model:      model,
		}

		if err != nil {
			entry.Status = StepStatusError
			meta = append(meta, entry)
			logging.Error(componentExecutor, "step failed, aborting workflow",
				"execution_id", execID, "step", step.Step, "target", step.Target, "error", err)
			e.metrics.IncWorkflowCompleted(wfName, string(WorkflowStatusError))
			stepErr := &StepError{Step: step.Step, Cause: err}
			resp := &Response{
				Result: Result{Steps: outcomes, FinalResult: stepErr.Error()},
				Metadata: Metadata{
					ExecutionID:      execID,
					Status:           WorkflowStatusError,
					TeamID:           req.TeamID,
					WorkflowMetadata: meta,
				},
			}
			return resp, stepErr
		}

		entry.Status = StepStatusSuccess
		meta = append(meta, entry)
		ec.StepResults[step.Step] = result
		outcomes = append(outcomes, StepOutcome{Step: step.Step, Target: step.Target, Result: result})
		lastTarget, lastResult, haveResult = step.Target, result, true
	}

	status := WorkflowStatusSuccess
	for _, m := range meta {
		if m.Status == StepStatusError {
			status = WorkflowStatusError
			break
		}
	}

	var final any = ""
	if haveResult {
		final = e.extractors.Extract(lastTarget, lastResult)
	}

	e.metrics.IncWorkflowCompleted(wfName, string(status))
	return &Response{
		Result: Result{Steps: outcomes, FinalResult: final},
		Metadata: Metadata{
			ExecutionID:      execID,
			Status:           status,
			TeamID:           req.TeamID,
			WorkflowMetadata: meta,
		},
	}, nil
}

// enqueueAsync hands a step to the job queue with its declared (unresolved)
// params and the request's global params, so {{params.*}} still resolves
// in the background run. Enqueue failure is recorded as an error entry
// without aborting
// the synchronous chain.
func (e *Executor) enqueueAsync(ctx context.Context, execID string, req *Request, step Step) StepMetadata {
	entry := StepMetadata{
		Step:       step.Step,
		Target:     step.Target,
		ExecutedAt: time.Now().UTC(),
		Async:      true,
	}
	if step.ToolConfig != nil {
		entry.Model = step.ToolConfig.Model
	}
	if e.async == nil {
		logging.Error(componentExecutor, "async step declared but no enqueuer configured",
			"step", step.Step, "target", step.Target)
		entry.Status = StepStatusError
		return entry
	}
	sr := &StepRequest{
		ExecutionID:  execID,
		Step:         step.Step,
		Target:       step.Target,
		Action:       step.Action,
		Intent:       step.Intent,
		Params:       step.Params,
		Payload:      step.Payload,
		ToolConfig:   step.ToolConfig,
		TeamID:       req.TeamID,
		ExecutedBy:   req.ExecutedBy,
		GlobalParams: req.Params,
	}
	jobID, err := e.async.EnqueueStep(ctx, sr)
	if err != nil {
		logging.Error(componentExecutor, "async step enqueue failed",
			"step", step.Step, "target", step.Target, "error", err)
		entry.Status = StepStatusError
		return entry
	}
	logging.Info(componentExecutor, "async step queued",
		"step", step.Step, "target", step.Target, "job_id", jobID)
	entry.Status = StepStatusQueued
	return entry
}

// buildStepRequest resolves a step's params and payload, merging resolved
// step params over the request's global params so downstream services see
// tenant context.
func (e *Executor) buildStepRequest(req *Request, step Step, ec *Context) *StepRequest {
	merged := make(map[string]any, len(req.Params)+len(step.Params))
	for k, v := range req.Params {
		merged[k] = v
	}
	for k, v := range ResolveParams(step.Params, ec) {
		merged[k] = v
	}
	return &StepRequest{
		Step:       step.Step,
		Target:     step.Target,
		Action:     step.Action,
		Intent:     step.Intent,
		Params:     merged,
		Payload:    Resolve(step.Payload, ec),
		ToolConfig: step.ToolConfig,
		TeamID:     req.TeamID,
		ExecutedBy: req.ExecutedBy,
	}
}

func (e *Executor) invoke(ctx context.Context, step Step, sr *StepRequest) (any, string, error) {
	model := ""
	if step.ToolConfig != nil {
		model = step.ToolConfig.Model
	}
	decision := Decision{}
	if e.router != nil {
		var err error
		decision, err = e.router.Route(ctx, step.Target, sr.TeamID)
		if err != nil {
			return nil, model, err
		}
	}
	if decision.Tool != nil && e.tools != nil {
		if model == "" {
			model = decision.Tool.Model
		}
		result, err := e.tools.InvokeTool(ctx, decision.Tool, sr)
		return result, model, err
	}
	if e.services == nil {
		return nil, model, fmt.Errorf("no backend for target %s", step.Target)
	}
	result, err := e.services.InvokeService(ctx, sr)
	return result, model, err
}

func (e *Executor) publishProgress(execID string, req *Request, current, total int) {
	if e.progress == nil {
		return
	}
	e.progress(ExecutionProgress{
		ExecutionID: execID,
		WorkflowID:  req.WorkflowID,
		TeamID:      req.TeamID,
		Status:      "RUNNING",
		CurrentStep: current,
		TotalSteps:  total,
	})
}

// logicalError reports whether a backend result encodes a failure through
// an error key even though no error was returned.
func logicalError(result any) (string, bool) {
	m, ok := result.(map[string]any)
	if !ok {
		return "", false
	}
	v, ok := m["error"]
	if !ok {
		return "", false
	}
	return stringify(v), true
}

func workflowName(req *Request) string {
	if req.WorkflowID != "" {
		return req.WorkflowID
	}
	return "adhoc"
}

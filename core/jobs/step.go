package jobs

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/linqra/linqra/core/infra/logging"
	"github.com/linqra/linqra/core/workflow"
)

// KindWorkflowStep is the queued form of a workflow step.
const KindWorkflowStep = "workflow-async-step"

const componentStep = "asyncstep"

// RecordPatcher writes a background step's outcome into its owning
// execution record.
type RecordPatcher interface {
	PatchStep(ctx context.Context, executionID string, meta workflow.StepMetadata, result any) error
}

// StepProcessor runs a serialized step through the same resolve, route,
// and invoke path a synchronous step takes, then patches the owning
// execution record.
type StepProcessor struct {
	exec    *workflow.Executor
	records RecordPatcher
}

// NewStepProcessor constructs the workflow-async-step processor.
func NewStepProcessor(exec *workflow.Executor, records RecordPatcher) *StepProcessor {
	return &StepProcessor{exec: exec, records: records}
}

// Process executes one queued step.
func (s *StepProcessor) Process(ctx context.Context, job *Job, cancelled func() bool) (map[string]any, error) {
	var sr workflow.StepRequest
	if err := json.Unmarshal(job.Payload, &sr); err != nil {
		return nil, fmt.Errorf("decode step payload: %w", err)
	}
	if cancelled() {
		return nil, ErrCancelled
	}

	req := &workflow.Request{
		TeamID:     sr.TeamID,
		ExecutedBy: sr.ExecutedBy,
		Params:     sr.GlobalParams,
		Steps: []workflow.Step{{
			Step:       sr.Step,
			Target:     sr.Target,
			Action:     sr.Action,
			Intent:     sr.Intent,
			Params:     sr.Params,
			Payload:    sr.Payload,
			ToolConfig: sr.ToolConfig,
		}},
	}
	resp, execErr := s.exec.Execute(ctx, req)

	var meta workflow.StepMetadata
	if resp != nil && len(resp.Metadata.WorkflowMetadata) > 0 {
		meta = resp.Metadata.WorkflowMetadata[0]
	}
	var result any
	if resp != nil && len(resp.Result.Steps) > 0 {
		result = resp.Result.Steps[0].Result
	}

	if s.records != nil && sr.ExecutionID != "" {
		if err := s.records.PatchStep(ctx, sr.ExecutionID, meta, result); err != nil {
			logging.Error(componentStep, "execution record patch failed",
				"execution_id", sr.ExecutionID, "step", sr.Step, "error", err)
			if execErr == nil {
				return nil, fmt.Errorf("patch execution %s: %w", sr.ExecutionID, err)
			}
		}
	}
	if execErr != nil {
		return nil, execErr
	}
	return map[string]any{
		"step":       sr.Step,
		"target":     sr.Target,
		"durationMs": meta.DurationMs,
	}, nil
}

// StepEnqueuer adapts the Queue to the executor's async interface.
type StepEnqueuer struct {
	queue *Queue
}

// NewStepEnqueuer constructs the executor-facing enqueue adapter.
func NewStepEnqueuer(queue *Queue) *StepEnqueuer {
	return &StepEnqueuer{queue: queue}
}

// EnqueueStep hands a step to the queue as a workflow-async-step job.
func (e *StepEnqueuer) EnqueueStep(ctx context.Context, req *workflow.StepRequest) (string, error) {
	job, err := e.queue.Enqueue(ctx, req.TeamID, KindWorkflowStep, req)
	if err != nil {
		return "", err
	}
	return job.JobID, nil
}

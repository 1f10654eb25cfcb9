package execution

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/linqra/linqra/core/workflow"
)

// Status is the terminal outcome of a recorded execution.
type Status string

const (
	StatusSuccess Status = "SUCCESS"
	StatusFailed  Status = "FAILED"
)

// ErrRecordNotFound is returned when an execution record does not exist.
var ErrRecordNotFound = errors.New("execution record not found")

// Record is the immutable account of one workflow run. Created once at the
// end of the run; the only later mutation is PatchStep, which fills in the
// outcome of a step that completed in the background.
type Record struct {
	ID         string             `json:"id"`
	TeamID     string             `json:"teamId"`
	WorkflowID string             `json:"workflowId,omitempty"`
	Request    *workflow.Request  `json:"request"`
	Response   *workflow.Response `json:"response"`
	Status     Status             `json:"status"`
	ExecutedAt time.Time          `json:"executedAt"`
	DurationMs int64              `json:"durationMs"`
}

// RecordStore persists execution records.
type RecordStore interface {
	SaveRecord(ctx context.Context, rec *Record) error
	GetRecord(ctx context.Context, id string) (*Record, error)
	ListByTeam(ctx context.Context, teamID string, limit int64) ([]*Record, error)
	ListByWorkflow(ctx context.Context, workflowID string, limit int64) ([]*Record, error)
	DeleteRecord(ctx context.Context, id, teamID string) error
}

// Recorder persists workflow executions with derived duration and token facts.
type Recorder struct {
	store RecordStore
}

// NewRecorder constructs a Recorder over a record store.
func NewRecorder(store RecordStore) *Recorder {
	return &Recorder{store: store}
}

// Record builds and persists the execution record for a finished run.
// Duration is the sum of step durations; token usage is folded into each
// step's metadata by backend shape. Usage extraction failures are
// swallowed: absent usage data never fails recording.
func (r *Recorder) Record(ctx context.Context, req *workflow.Request, resp *workflow.Response) (*Record, error) {
	if req == nil || resp == nil {
		return nil, fmt.Errorf("request and response required")
	}

	foldTokenUsage(resp)

	var total int64
	for _, m := range resp.Metadata.WorkflowMetadata {
		total += m.DurationMs
	}

	status := StatusSuccess
	if resp.Metadata.Status == workflow.WorkflowStatusError {
		status = StatusFailed
	}

	id := resp.Metadata.ExecutionID
	if id == "" {
		id = uuid.NewString()
	}

	rec := &Record{
		ID:         id,
		TeamID:     req.TeamID,
		WorkflowID: req.WorkflowID,
		Request:    req,
		Response:   resp,
		Status:     status,
		ExecutedAt: time.Now().UTC(),
		DurationMs: total,
	}
	if r.store != nil {
		if err := r.store.SaveRecord(ctx, rec); err != nil {
			return nil, fmt.Errorf("save execution record: %w", err)
		}
	}
	return rec, nil
}

// foldTokenUsage copies per-step token counts and model names from raw
// step results into the matching metadata entries.
func foldTokenUsage(resp *workflow.Response) {
	results := make(map[int]any, len(resp.Result.Steps))
	for _, out := range resp.Result.Steps {
		results[out.Step] = out.Result
	}
	md := resp.Metadata.WorkflowMetadata
	for i := range md {
		result, ok := results[md[i].Step]
		if !ok {
			continue
		}
		if usage := ExtractTokenUsage(result); usage != nil {
			md[i].TokenUsage = usage
		}
		if md[i].Model == "" {
			md[i].Model = extractModel(result)
		}
	}
}

// ExtractTokenUsage reads AI token counts from a step result. Two shapes
// are recognized: usage.{prompt_tokens,completion_tokens,total_tokens}
// and usageMetadata.{promptTokenCount,candidatesTokenCount,totalTokenCount}.
// Returns nil when neither shape is present.
func ExtractTokenUsage(result any) *workflow.TokenUsage {
	m, ok := result.(map[string]any)
	if !ok {
		return nil
	}
	if u, ok := m["usage"].(map[string]any); ok {
		prompt, p := toInt64(u["prompt_tokens"])
		completion, c := toInt64(u["completion_tokens"])
		total, t := toInt64(u["total_tokens"])
		if p || c || t {
			return &workflow.TokenUsage{Prompt: prompt, Completion: completion, Total: total}
		}
	}
	if u, ok := m["usageMetadata"].(map[string]any); ok {
		prompt, p := toInt64(u["promptTokenCount"])
		completion, c := toInt64(u["candidatesTokenCount"])
		total, t := toInt64(u["totalTokenCount"])
		if p || c || t {
			return &workflow.TokenUsage{Prompt: prompt, Completion: completion, Total: total}
		}
	}
	return nil
}

func extractModel(result any) string {
	m, ok := result.(map[string]any)
	if !ok {
		return ""
	}
	if s, ok := m["model"].(string); ok {
		return s
	}
	if s, ok := m["modelVersion"].(string); ok {
		return s
	}
	return ""
}

func toInt64(v any) (int64, bool) {
	switch t := v.(type) {
	case float64:
		return int64(t), true
	case int:
		return int64(t), true
	case int64:
		return t, true
	case json.Number:
		n, err := t.Int64()
		if err != nil {
			return 0, false
		}
		return n, true
	default:
		return 0, false
	}
}

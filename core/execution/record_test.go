package execution

import (
	"context"
	"testing"

	"github.com/linqra/linqra/core/workflow"
)

type memRecordStore struct {
	saved []*Record
}

func (m *memRecordStore) SaveRecord(_ context.Context, rec *Record) error {
	m.saved = append(m.saved, rec)
	return nil
}
func (m *memRecordStore) GetRecord(context.Context, string) (*Record, error) {
	return nil, ErrRecordNotFound
}
func (m *memRecordStore) ListByTeam(context.Context, string, int64) ([]*Record, error) {
	return nil, nil
}
func (m *memRecordStore) ListByWorkflow(context.Context, string, int64) ([]*Record, error) {
	return nil, nil
}
func (m *memRecordStore) DeleteRecord(context.Context, string, string) error { return nil }

func openaiResult(prompt, completion, total float64) map[string]any {
	return map[string]any{
		"model": "gpt-4o",
		"usage": map[string]any{
			"prompt_tokens":     prompt,
			"completion_tokens": completion,
			"total_tokens":      total,
		},
	}
}

func geminiResult(prompt, candidates, total float64) map[string]any {
	return map[string]any{
		"modelVersion": "gemini-1.5-pro",
		"usageMetadata": map[string]any{
			"promptTokenCount":     prompt,
			"candidatesTokenCount": candidates,
			"totalTokenCount":      total,
		},
	}
}

func TestRecordSumsDurationsAndStatus(t *testing.T) {
	store := &memRecordStore{}
	rec, err := NewRecorder(store).Record(context.Background(),
		&workflow.Request{TeamID: "team-1", WorkflowID: "wf-1"},
		&workflow.Response{
			Metadata: workflow.Metadata{
				ExecutionID: "exec-1",
				Status:      workflow.WorkflowStatusSuccess,
				TeamID:      "team-1",
				WorkflowMetadata: []workflow.StepMetadata{
					{Step: 0, Status: workflow.StepStatusSuccess, DurationMs: 120},
					{Step: 1, Status: workflow.StepStatusSuccess, DurationMs: 80},
				},
			},
		})
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if rec.ID != "exec-1" {
		t.Fatalf("id %s", rec.ID)
	}
	if rec.DurationMs != 200 {
		t.Fatalf("duration %d, want 200", rec.DurationMs)
	}
	if rec.Status != StatusSuccess {
		t.Fatalf("status %s", rec.Status)
	}
	if len(store.saved) != 1 {
		t.Fatalf("expected one persisted record")
	}
}

func TestRecordFailedStatus(t *testing.T) {
	rec, err := NewRecorder(nil).Record(context.Background(),
		&workflow.Request{TeamID: "team-1"},
		&workflow.Response{
			Metadata: workflow.Metadata{
				Status: workflow.WorkflowStatusError,
				WorkflowMetadata: []workflow.StepMetadata{
					{Step: 0, Status: workflow.StepStatusError, DurationMs: 10},
				},
			},
		})
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if rec.Status != StatusFailed {
		t.Fatalf("status %s", rec.Status)
	}
}

func TestRecordFoldsOpenAITokens(t *testing.T) {
	resp := &workflow.Response{
		Result: workflow.Result{Steps: []workflow.StepOutcome{
			{Step: 0, Target: "openai", Result: openaiResult(10, 20, 30)},
		}},
		Metadata: workflow.Metadata{
			Status: workflow.WorkflowStatusSuccess,
			WorkflowMetadata: []workflow.StepMetadata{
				{Step: 0, Status: workflow.StepStatusSuccess, Target: "openai", DurationMs: 5},
			},
		},
	}
	if _, err := NewRecorder(nil).Record(context.Background(), &workflow.Request{TeamID: "t"}, resp); err != nil {
		t.Fatalf("record: %v", err)
	}
	md := resp.Metadata.WorkflowMetadata[0]
	if md.TokenUsage == nil {
		t.Fatal("usage not folded")
	}
	if md.TokenUsage.Prompt != 10 || md.TokenUsage.Completion != 20 || md.TokenUsage.Total != 30 {
		t.Fatalf("usage %+v", md.TokenUsage)
	}
	if md.Model != "gpt-4o" {
		t.Fatalf("model %s", md.Model)
	}
}

func TestRecordFoldsGeminiTokens(t *testing.T) {
	resp := &workflow.Response{
		Result: workflow.Result{Steps: []workflow.StepOutcome{
			{Step: 0, Target: "gemini", Result: geminiResult(7, 3, 10)},
		}},
		Metadata: workflow.Metadata{
			Status: workflow.WorkflowStatusSuccess,
			WorkflowMetadata: []workflow.StepMetadata{
				{Step: 0, Status: workflow.StepStatusSuccess, Target: "gemini", DurationMs: 5},
			},
		},
	}
	if _, err := NewRecorder(nil).Record(context.Background(), &workflow.Request{TeamID: "t"}, resp); err != nil {
		t.Fatalf("record: %v", err)
	}
	md := resp.Metadata.WorkflowMetadata[0]
	if md.TokenUsage == nil || md.TokenUsage.Prompt != 7 || md.TokenUsage.Completion != 3 || md.TokenUsage.Total != 10 {
		t.Fatalf("usage %+v", md.TokenUsage)
	}
	if md.Model != "gemini-1.5-pro" {
		t.Fatalf("model %s", md.Model)
	}
}

func TestRecordMissingUsageIsNotAnError(t *testing.T) {
	resp := &workflow.Response{
		Result: workflow.Result{Steps: []workflow.StepOutcome{
			{Step: 0, Target: "echo", Result: "plain string"},
			{Step: 1, Target: "svc", Result: map[string]any{"usage": "malformed"}},
		}},
		Metadata: workflow.Metadata{
			Status: workflow.WorkflowStatusSuccess,
			WorkflowMetadata: []workflow.StepMetadata{
				{Step: 0, Status: workflow.StepStatusSuccess},
				{Step: 1, Status: workflow.StepStatusSuccess},
			},
		},
	}
	if _, err := NewRecorder(nil).Record(context.Background(), &workflow.Request{TeamID: "t"}, resp); err != nil {
		t.Fatalf("record: %v", err)
	}
	for _, md := range resp.Metadata.WorkflowMetadata {
		if md.TokenUsage != nil {
			t.Fatalf("unexpected usage on step %d", md.Step)
		}
	}
}

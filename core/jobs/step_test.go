package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/linqra/linqra/core/workflow"
)

type fakeStepService struct {
	result any
	last   *workflow.StepRequest
	calls  int
}

func (f *fakeStepService) InvokeService(ctx context.Context, req *workflow.StepRequest) (any, error) {
	f.calls++
	f.last = req
	return f.result, nil
}

type fakeRecordPatcher struct {
	executionID string
	meta        workflow.StepMetadata
	result      any
	calls       int
	err         error
}

func (f *fakeRecordPatcher) PatchStep(ctx context.Context, executionID string, meta workflow.StepMetadata, result any) error {
	f.calls++
	f.executionID = executionID
	f.meta = meta
	f.result = result
	return f.err
}

func stepJob(t *testing.T, sr workflow.StepRequest) *Job {
	t.Helper()
	payload, err := json.Marshal(sr)
	if err != nil {
		t.Fatalf("marshal step: %v", err)
	}
	return &Job{JobID: "job-1", TeamID: sr.TeamID, Kind: KindWorkflowStep, Payload: payload, Status: StatusRunning}
}

func newStepProcessor(service *fakeStepService, patcher *fakeRecordPatcher) *StepProcessor {
	exec := workflow.NewExecutor(workflow.ExecutorConfig{
		Router:   workflow.NewRouter(workflow.NewMemoryToolStore()),
		Services: service,
	})
	return NewStepProcessor(exec, patcher)
}

func TestStepProcessorExecutesAndPatches(t *testing.T) {
	service := &fakeStepService{result: map[string]any{"summary": "done"}}
	patcher := &fakeRecordPatcher{}
	proc := newStepProcessor(service, patcher)

	job := stepJob(t, workflow.StepRequest{
		ExecutionID: "exec-1",
		Step:        2,
		Target:      "summarizer",
		Action:      "summarize",
		Params:      map[string]any{"text": "hello"},
		TeamID:      "team-1",
	})

	detail, err := proc.Process(context.Background(), job, notCancelled)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if service.calls != 1 || service.last.Target != "summarizer" || service.last.Action != "summarize" {
		t.Fatalf("service call %+v", service.last)
	}
	if service.last.Params["text"] != "hello" {
		t.Fatalf("params %+v", service.last.Params)
	}

	if patcher.calls != 1 || patcher.executionID != "exec-1" {
		t.Fatalf("patch %+v", patcher)
	}
	if patcher.meta.Step != 2 || patcher.meta.Status != workflow.StepStatusSuccess {
		t.Fatalf("meta %+v", patcher.meta)
	}
	result, ok := patcher.result.(map[string]any)
	if !ok || result["summary"] != "done" {
		t.Fatalf("result %+v", patcher.result)
	}

	if detail["step"] != 2 || detail["target"] != "summarizer" {
		t.Fatalf("detail %+v", detail)
	}
}

func TestStepProcessorCancelledBeforeRun(t *testing.T) {
	service := &fakeStepService{result: map[string]any{"summary": "done"}}
	patcher := &fakeRecordPatcher{}
	proc := newStepProcessor(service, patcher)

	job := stepJob(t, workflow.StepRequest{ExecutionID: "exec-1", Step: 1, Target: "summarizer", TeamID: "team-1"})
	cancelled := func() bool { return true }

	_, err := proc.Process(context.Background(), job, cancelled)
	if !errors.Is(err, ErrCancelled) {
		t.Fatalf("err = %v", err)
	}
	if service.calls != 0 || patcher.calls != 0 {
		t.Fatal("cancelled step must not invoke or patch")
	}
}

func TestStepProcessorLogicalErrorStillPatches(t *testing.T) {
	service := &fakeStepService{result: map[string]any{"error": "model refused"}}
	patcher := &fakeRecordPatcher{}
	proc := newStepProcessor(service, patcher)

	job := stepJob(t, workflow.StepRequest{ExecutionID: "exec-1", Step: 1, Target: "summarizer", TeamID: "team-1"})

	_, err := proc.Process(context.Background(), job, notCancelled)
	if err == nil {
		t.Fatal("expected step failure")
	}
	var stepErr *workflow.StepError
	if !errors.As(err, &stepErr) || stepErr.Step != 1 {
		t.Fatalf("err = %v", err)
	}
	if patcher.calls != 1 || patcher.meta.Status != workflow.StepStatusError {
		t.Fatalf("patch %+v", patcher)
	}
}

func TestStepProcessorPatchFailure(t *testing.T) {
	service := &fakeStepService{result: map[string]any{"summary": "done"}}
	patcher := &fakeRecordPatcher{err: errors.New("record gone")}
	proc := newStepProcessor(service, patcher)

	job := stepJob(t, workflow.StepRequest{ExecutionID: "exec-1", Step: 1, Target: "summarizer", TeamID: "team-1"})

	if _, err := proc.Process(context.Background(), job, notCancelled); err == nil {
		t.Fatal("patch failure on a successful step must surface")
	}
}

func TestStepProcessorSkipsPatchWithoutExecution(t *testing.T) {
	service := &fakeStepService{result: map[string]any{"summary": "done"}}
	patcher := &fakeRecordPatcher{}
	proc := newStepProcessor(service, patcher)

	job := stepJob(t, workflow.StepRequest{Step: 1, Target: "summarizer", TeamID: "team-1"})

	if _, err := proc.Process(context.Background(), job, notCancelled); err != nil {
		t.Fatalf("process: %v", err)
	}
	if patcher.calls != 0 {
		t.Fatal("patch called without execution id")
	}
}

func TestStepEnqueuerRoundTrip(t *testing.T) {
	env := newQueueEnv(t)
	enq := NewStepEnqueuer(env.queue)
	ctx := context.Background()

	jobID, err := enq.EnqueueStep(ctx, &workflow.StepRequest{
		ExecutionID: "exec-1",
		Step:        3,
		Target:      "vectorizer",
		TeamID:      "team-1",
	})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	job, err := env.store.GetJob(ctx, jobID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if job.Kind != KindWorkflowStep || job.TeamID != "team-1" || job.Status != StatusQueued {
		t.Fatalf("job %+v", job)
	}
	var sr workflow.StepRequest
	if err := json.Unmarshal(job.Payload, &sr); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if sr.ExecutionID != "exec-1" || sr.Step != 3 || sr.Target != "vectorizer" {
		t.Fatalf("step request %+v", sr)
	}
}

func TestQueuedStepEndToEnd(t *testing.T) {
	env := newQueueEnv(t)
	poller := newTestPoller(env)
	ctx := context.Background()

	service := &fakeStepService{result: map[string]any{"summary": "done"}}
	patcher := &fakeRecordPatcher{}
	proc := newStepProcessor(service, patcher)
	poller.RegisterProcessor(KindWorkflowStep, proc.Process)

	enq := NewStepEnqueuer(env.queue)
	jobID, err := enq.EnqueueStep(ctx, &workflow.StepRequest{
		ExecutionID: "exec-1",
		Step:        1,
		Target:      "summarizer",
		TeamID:      "team-1",
	})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	poller.PollOnce(ctx)

	job, _ := env.store.GetJob(ctx, jobID)
	if job.Status != StatusCompleted {
		t.Fatalf("status %s", job.Status)
	}
	if patcher.calls != 1 || patcher.executionID != "exec-1" {
		t.Fatalf("patch %+v", patcher)
	}
}

func TestStepProcessorResolvesGlobalParams(t *testing.T) {
	service := &fakeStepService{result: map[string]any{"summary": "done"}}
	proc := newStepProcessor(service, &fakeRecordPatcher{})

	job := stepJob(t, workflow.StepRequest{
		ExecutionID:  "exec-1",
		Step:         3,
		Target:       "svc",
		Params:       map[string]any{"region": "{{params.region}}", "fixed": "x"},
		TeamID:       "team-1",
		GlobalParams: map[string]any{"region": "eu-west"},
	})
	if _, err := proc.Process(context.Background(), job, notCancelled); err != nil {
		t.Fatalf("process: %v", err)
	}
	if service.calls != 1 {
		t.Fatalf("calls = %d", service.calls)
	}
	if got := service.last.Params["region"]; got != "eu-west" {
		t.Fatalf("region = %v, request params not resolved in background run", got)
	}
	if got := service.last.Params["fixed"]; got != "x" {
		t.Fatalf("fixed = %v", got)
	}
}

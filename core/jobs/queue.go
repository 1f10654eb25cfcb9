package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/linqra/linqra/core/infra/logging"
	"github.com/linqra/linqra/core/infra/metrics"
)

const componentQueue = "jobqueue"

// Queue creates durable jobs and signals work to the broker.
type Queue struct {
	store     Store
	broker    Broker
	registry  *Registry
	publisher ProgressPublisher
	metrics   metrics.JobMetrics
}

// NewQueue constructs a Queue. A nil publisher or metrics gets a noop.
func NewQueue(store Store, broker Broker, registry *Registry, publisher ProgressPublisher, m metrics.JobMetrics) *Queue {
	if registry == nil {
		registry = NewRegistry()
	}
	if publisher == nil {
		publisher = NoopPublisher{}
	}
	if m == nil {
		m = metrics.NoopJobs{}
	}
	return &Queue{store: store, broker: broker, registry: registry, publisher: publisher, metrics: m}
}

// Registry returns the cancellation flag registry shared with the pollers.
func (q *Queue) Registry() *Registry {
	return q.registry
}

// Enqueue persists a new QUEUED job row, then pushes its task envelope to
// the broker. The row is the source of truth: if the broker push fails
// after the row is saved, the row is marked FAILED with the push error
// instead of dangling in QUEUED forever.
func (q *Queue) Enqueue(ctx context.Context, teamID, kind string, payload any) (*Job, error) {
	if kind == "" {
		return nil, fmt.Errorf("job kind required")
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	job := &Job{
		JobID:    uuid.NewString(),
		TeamID:   teamID,
		Kind:     kind,
		Payload:  raw,
		Status:   StatusQueued,
		QueuedAt: time.Now().UTC(),
	}
	if err := q.store.SaveJob(ctx, job); err != nil {
		return nil, fmt.Errorf("save job: %w", err)
	}

	task, err := json.Marshal(Task{JobID: job.JobID, Kind: kind, Payload: raw})
	if err != nil {
		return nil, fmt.Errorf("marshal task: %w", err)
	}
	if err := q.broker.RightPush(ctx, kind, string(task)); err != nil {
		now := time.Now().UTC()
		job.Status = StatusFailed
		job.ErrorMessage = fmt.Sprintf("broker push failed: %v", err)
		job.CompletedAt = &now
		if saveErr := q.store.SaveJob(ctx, job); saveErr != nil {
			logging.Error(componentQueue, "failed to mark job after push failure",
				"job_id", job.JobID, "error", saveErr)
		}
		q.publisher.PublishProgress(job)
		return nil, fmt.Errorf("push task for job %s: %w", job.JobID, err)
	}

	q.metrics.IncJobsEnqueued(kind)
	logging.Info(componentQueue, "job enqueued", "job_id", job.JobID, "kind", kind, "team", teamID)
	q.publisher.PublishProgress(job)
	return job, nil
}

// UpdateProgress patches a RUNNING job's counters and kind detail, and
// publishes the new state. Updates against a job no longer RUNNING are
// dropped so no progress is emitted after a terminal transition.
func (q *Queue) UpdateProgress(ctx context.Context, jobID string, processed, total int64, detail map[string]any) error {
	job, err := q.store.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status != StatusRunning {
		logging.Debug(componentQueue, "progress update dropped, job not running",
			"job_id", jobID, "status", string(job.Status))
		return nil
	}
	job.Progress = Progress{Processed: processed, Total: total}
	if len(detail) > 0 {
		if job.Detail == nil {
			job.Detail = make(map[string]any, len(detail))
		}
		for k, v := range detail {
			job.Detail[k] = v
		}
	}
	if err := q.store.SaveJob(ctx, job); err != nil {
		if errors.Is(err, ErrJobTerminal) {
			logging.Debug(componentQueue, "progress update dropped, job finished mid-update",
				"job_id", jobID)
			return nil
		}
		return fmt.Errorf("save progress: %w", err)
	}
	q.publisher.PublishProgress(job)
	return nil
}

// Cancel moves a QUEUED or RUNNING job to CANCELLED and flips its
// in-flight flag so the processing loop observes it at the next
// checkpoint. Returns false for terminal, missing, or foreign-tenant jobs.
func (q *Queue) Cancel(ctx context.Context, jobID, teamID string) bool {
	job, err := q.store.GetJob(ctx, jobID)
	if err != nil {
		return false
	}
	if job.TeamID != teamID {
		return false
	}
	if job.Status.Terminal() {
		return false
	}

	now := time.Now().UTC()
	job.Status = StatusCancelled
	job.CompletedAt = &now
	if err := q.store.SaveJob(ctx, job); err != nil {
		if !errors.Is(err, ErrJobTerminal) {
			logging.Error(componentQueue, "failed to persist cancellation", "job_id", jobID, "error", err)
		}
		return false
	}
	q.registry.SetCancelled(jobID)
	q.metrics.IncJobsCancelled(job.Kind)
	logging.Info(componentQueue, "job cancelled", "job_id", jobID, "kind", job.Kind)
	q.publisher.PublishProgress(job)
	return true
}

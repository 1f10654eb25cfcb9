package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"time"

	"github.com/linqra/linqra/core/infra/logging"
	"github.com/linqra/linqra/core/infra/metrics"
)

const (
	componentPoller     = "poller"
	defaultPollInterval = 5 * time.Second
)

// ErrCancelled is returned by processors that observed their cancellation
// flag at a checkpoint. Cancellation is a distinct terminal status, never
// conflated with FAILED.
var ErrCancelled = errors.New("job cancelled")

// Processor does one kind's work. It must check cancelled() at natural
// checkpoints (per document, per collection, per batch) and return
// ErrCancelled to abort cleanly. The returned detail map is merged into
// the job row on every outcome, so partial results survive cancellation.
type Processor func(ctx context.Context, job *Job, cancelled func() bool) (map[string]any, error)

// PollerConfig wires a Poller's collaborators.
type PollerConfig struct {
	Store     Store
	Broker    Broker
	Registry  *Registry
	Publisher ProgressPublisher
	Metrics   metrics.JobMetrics
	Interval  time.Duration
}

// Poller drains the broker on a fixed delay, claiming at most one task
// per kind per tick and driving it through the job lifecycle.
//
// Delivery is at-least-once: a crash between broker pop and terminal
// persistence orphans the row in RUNNING. Orphans are not masked; they
// stay visible through Store.ListByStatus for reconciliation.
type Poller struct {
	store      Store
	broker     Broker
	registry   *Registry
	publisher  ProgressPublisher
	metrics    metrics.JobMetrics
	interval   time.Duration
	processors map[string]Processor
}

// NewPoller constructs a Poller. Registry must be the instance shared
// with the Queue so cancel flags reach in-flight work.
func NewPoller(cfg PollerConfig) *Poller {
	if cfg.Registry == nil {
		cfg.Registry = NewRegistry()
	}
	if cfg.Publisher == nil {
		cfg.Publisher = NoopPublisher{}
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.NoopJobs{}
	}
	if cfg.Interval <= 0 {
		cfg.Interval = defaultPollInterval
	}
	return &Poller{
		store:      cfg.Store,
		broker:     cfg.Broker,
		registry:   cfg.Registry,
		publisher:  cfg.Publisher,
		metrics:    cfg.Metrics,
		interval:   cfg.Interval,
		processors: make(map[string]Processor),
	}
}

// RegisterProcessor binds a kind to its work function.
func (p *Poller) RegisterProcessor(kind string, fn Processor) {
	if kind == "" || fn == nil {
		return
	}
	p.processors[kind] = fn
}

// Run polls until ctx is done. The delay is fixed, not a fixed rate: a
// tick never starts before the previous one returns. Poll errors are
// logged and never crash the loop.
func (p *Poller) Run(ctx context.Context) {
	logging.Info(componentPoller, "poller started", "interval", p.interval.String())
	timer := time.NewTimer(p.interval)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			logging.Info(componentPoller, "poller stopped")
			return
		case <-timer.C:
			p.PollOnce(ctx)
			timer.Reset(p.interval)
		}
	}
}

// PollOnce claims and processes at most one task per registered kind.
func (p *Poller) PollOnce(ctx context.Context) {
	for _, kind := range p.kinds() {
		payload, ok, err := p.broker.LeftPop(ctx, kind)
		if err != nil {
			logging.Error(componentPoller, "broker pop failed", "kind", kind, "error", err)
			continue
		}
		if !ok {
			continue
		}
		var task Task
		if err := json.Unmarshal([]byte(payload), &task); err != nil {
			logging.Error(componentPoller, "malformed task dropped", "kind", kind, "error", err)
			continue
		}
		p.process(ctx, task)
	}
}

func (p *Poller) kinds() []string {
	out := make([]string, 0, len(p.processors))
	for kind := range p.processors {
		out = append(out, kind)
	}
	sort.Strings(out)
	return out
}

func (p *Poller) process(ctx context.Context, task Task) {
	p.registry.Register(task.JobID)
	defer p.registry.Remove(task.JobID)

	job, err := p.store.GetJob(ctx, task.JobID)
	if err != nil {
		logging.Error(componentPoller, "job row missing for task", "job_id", task.JobID, "error", err)
		return
	}
	if job.Status != StatusQueued {
		// Cancelled-while-queued (or an already-claimed duplicate):
		// skip without emitting progress.
		logging.Info(componentPoller, "skipping task, job not queued",
			"job_id", job.JobID, "status", string(job.Status))
		return
	}

	started := time.Now().UTC()
	job.Status = StatusRunning
	job.StartedAt = &started
	if err := p.store.SaveJob(ctx, job); err != nil {
		logging.Error(componentPoller, "failed to mark job running", "job_id", job.JobID, "error", err)
		return
	}
	p.publisher.PublishProgress(job)

	proc := p.processors[task.Kind]
	var detail map[string]any
	if proc == nil {
		err = errors.New("no processor registered for kind " + task.Kind)
	} else {
		detail, err = proc(ctx, job, func() bool { return p.registry.Cancelled(job.JobID) })
	}
	p.finish(ctx, job.JobID, task.Kind, started, detail, err)
}

// finish persists the terminal state. The row is reloaded first so
// progress written during processing survives, and a row already moved to
// a terminal state by Cancel is never overwritten.
func (p *Poller) finish(ctx context.Context, jobID, kind string, started time.Time, detail map[string]any, procErr error) {
	job, err := p.store.GetJob(ctx, jobID)
	if err != nil {
		logging.Error(componentPoller, "job row lost before terminal state", "job_id", jobID, "error", err)
		return
	}
	if job.Status.Terminal() {
		p.metrics.IncJobsCompleted(kind, string(job.Status))
		return
	}

	now := time.Now().UTC()
	job.CompletedAt = &now
	if len(detail) > 0 {
		if job.Detail == nil {
			job.Detail = make(map[string]any, len(detail))
		}
		for k, v := range detail {
			job.Detail[k] = v
		}
	}

	switch {
	case errors.Is(procErr, ErrCancelled):
		job.Status = StatusCancelled
	case procErr != nil:
		job.Status = StatusFailed
		job.ErrorMessage = procErr.Error()
		logging.Error(componentPoller, "job failed", "job_id", jobID, "kind", kind, "error", procErr)
	default:
		job.Status = StatusCompleted
	}

	if err := p.store.SaveJob(ctx, job); err != nil {
		if errors.Is(err, ErrJobTerminal) {
			// Cancel won the race after our reload; its state stands.
			if cur, gerr := p.store.GetJob(ctx, jobID); gerr == nil {
				p.metrics.IncJobsCompleted(kind, string(cur.Status))
			}
			return
		}
		logging.Error(componentPoller, "failed to persist terminal state", "job_id", jobID, "error", err)
		return
	}
	p.metrics.IncJobsCompleted(kind, string(job.Status))
	p.metrics.ObserveJobDuration(kind, now.Sub(started).Seconds())
	p.publisher.PublishProgress(job)
	logging.Info(componentPoller, "job finished", "job_id", jobID, "kind", kind, "status", string(job.Status))
}

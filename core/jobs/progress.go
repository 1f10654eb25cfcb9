package jobs

import (
	"github.com/linqra/linqra/core/infra/bus"
	"github.com/linqra/linqra/core/infra/logging"
)

const componentProgress = "progress"

// DefaultProgressSubject is the subject prefix job progress is published
// under when no override is configured.
const DefaultProgressSubject = "linqra.jobs.progress"

// ProgressPublisher pushes a job's full current state to live clients
// after every state transition. Delivery is best-effort: failures are
// logged, never retried, and never block the transition that triggered
// the publish.
type ProgressPublisher interface {
	PublishProgress(job *Job)
}

// NoopPublisher discards every update.
type NoopPublisher struct{}

func (NoopPublisher) PublishProgress(*Job) {}

// NatsProgressPublisher publishes job state as JSON on
// <prefix>.<kind> subjects.
type NatsProgressPublisher struct {
	bus    *bus.NatsBus
	prefix string
}

// NewNatsProgressPublisher constructs a publisher over a NATS bus.
func NewNatsProgressPublisher(b *bus.NatsBus, prefix string) *NatsProgressPublisher {
	if prefix == "" {
		prefix = DefaultProgressSubject
	}
	return &NatsProgressPublisher{bus: b, prefix: prefix}
}

// Subject returns the progress subject for a job kind.
func (p *NatsProgressPublisher) Subject(kind string) string {
	return p.prefix + "." + kind
}

func (p *NatsProgressPublisher) PublishProgress(job *Job) {
	if p == nil || p.bus == nil || job == nil {
		return
	}
	if err := p.bus.Publish(p.Subject(job.Kind), job); err != nil {
		logging.Error(componentProgress, "progress publish failed",
			"job_id", job.JobID, "kind", job.Kind, "error", err)
	}
}

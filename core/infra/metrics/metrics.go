package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// WorkflowMetrics captures executor-level workflow metrics.
type WorkflowMetrics interface {
	IncWorkflowStarted(workflow string)
	IncWorkflowCompleted(workflow, status string)
	ObserveStepDuration(workflow, target string, durationSeconds float64)
}

// JobMetrics captures queue and poller metrics.
type JobMetrics interface {
	IncJobsEnqueued(kind string)
	IncJobsCompleted(kind, status string)
	IncJobsCancelled(kind string)
	ObserveJobDuration(kind string, durationSeconds float64)
}

// GatewayMetrics captures request metrics for the API surface.
type GatewayMetrics interface {
	ObserveRequest(method, route, status string, durationSeconds float64)
}

// NoopWorkflow implements WorkflowMetrics without emitting anything.
type NoopWorkflow struct{}

func (NoopWorkflow) IncWorkflowStarted(string)                   {}
func (NoopWorkflow) IncWorkflowCompleted(string, string)         {}
func (NoopWorkflow) ObserveStepDuration(string, string, float64) {}

// NoopGateway implements GatewayMetrics without emitting anything.
type NoopGateway struct{}

func (NoopGateway) ObserveRequest(string, string, string, float64) {}

// NoopJobs implements JobMetrics without emitting anything.
type NoopJobs struct{}

func (NoopJobs) IncJobsEnqueued(string)             {}
func (NoopJobs) IncJobsCompleted(string, string)    {}
func (NoopJobs) IncJobsCancelled(string)            {}
func (NoopJobs) ObserveJobDuration(string, float64) {}

type workflowProm struct {
	started   *prometheus.CounterVec
	completed *prometheus.CounterVec
	stepTime  *prometheus.HistogramVec
	once      sync.Once
}

// NewWorkflowProm constructs WorkflowMetrics backed by Prometheus.
func NewWorkflowProm(namespace string) WorkflowMetrics {
	w := &workflowProm{
		started: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "workflows_started_total",
			Help:      "Workflow executions started by workflow id",
		}, []string{"workflow"}),
		completed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "workflows_completed_total",
			Help:      "Workflow executions completed by workflow id and status",
		}, []string{"workflow", "status"}),
		stepTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "workflow_step_duration_seconds",
			Help:      "Step duration seconds by workflow id and target",
			Buckets:   prometheus.DefBuckets,
		}, []string{"workflow", "target"}),
	}
	w.once.Do(func() {
		prometheus.MustRegister(w.started, w.completed, w.stepTime)
	})
	return w
}

func (w *workflowProm) IncWorkflowStarted(workflow string) {
	w.started.WithLabelValues(workflow).Inc()
}

func (w *workflowProm) IncWorkflowCompleted(workflow, status string) {
	w.completed.WithLabelValues(workflow, status).Inc()
}

func (w *workflowProm) ObserveStepDuration(workflow, target string, durationSeconds float64) {
	w.stepTime.WithLabelValues(workflow, target).Observe(durationSeconds)
}

type jobsProm struct {
	enqueued  *prometheus.CounterVec
	completed *prometheus.CounterVec
	cancelled *prometheus.CounterVec
	duration  *prometheus.HistogramVec
	once      sync.Once
}

// NewJobsProm constructs JobMetrics backed by Prometheus.
func NewJobsProm(namespace string) JobMetrics {
	j := &jobsProm{
		enqueued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_enqueued_total",
			Help:      "Jobs enqueued by kind",
		}, []string{"kind"}),
		completed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_completed_total",
			Help:      "Jobs finished by kind and terminal status",
		}, []string{"kind", "status"}),
		cancelled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_cancelled_total",
			Help:      "Jobs cancelled by kind",
		}, []string{"kind"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_duration_seconds",
			Help:      "Job running time seconds by kind",
			Buckets:   prometheus.DefBuckets,
		}, []string{"kind"}),
	}
	j.once.Do(func() {
		prometheus.MustRegister(j.enqueued, j.completed, j.cancelled, j.duration)
	})
	return j
}

func (j *jobsProm) IncJobsEnqueued(kind string) {
	j.enqueued.WithLabelValues(kind).Inc()
}

func (j *jobsProm) IncJobsCompleted(kind, status string) {
	j.completed.WithLabelValues(kind, status).Inc()
}

func (j *jobsProm) IncJobsCancelled(kind string) {
	j.cancelled.WithLabelValues(kind).Inc()
}

func (j *jobsProm) ObserveJobDuration(kind string, durationSeconds float64) {
	j.duration.WithLabelValues(kind).Observe(durationSeconds)
}

type gatewayProm struct {
	requests *prometheus.CounterVec
	latency  *prometheus.HistogramVec
	once     sync.Once
}

// NewGatewayProm constructs GatewayMetrics with counters and histograms.
func NewGatewayProm(namespace string) GatewayMetrics {
	g := &gatewayProm{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method/route/status",
		}, []string{"method", "route", "status"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by method/route",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
	g.once.Do(func() {
		prometheus.MustRegister(g.requests, g.latency)
	})
	return g
}

func (g *gatewayProm) ObserveRequest(method, route, status string, durationSeconds float64) {
	g.requests.WithLabelValues(method, route, status).Inc()
	g.latency.WithLabelValues(method, route).Observe(durationSeconds)
}

// Handler returns an HTTP handler for /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

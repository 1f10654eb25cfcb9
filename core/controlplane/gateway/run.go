package gateway

import (
	"context"
	"fmt"
	"time"

	"github.com/linqra/linqra/core/execution"
	"github.com/linqra/linqra/core/infra/bus"
	"github.com/linqra/linqra/core/infra/config"
	"github.com/linqra/linqra/core/infra/logging"
	infraMetrics "github.com/linqra/linqra/core/infra/metrics"
	"github.com/linqra/linqra/core/infra/objstore"
	"github.com/linqra/linqra/core/infra/redisutil"
	"github.com/linqra/linqra/core/jobs"
	"github.com/linqra/linqra/core/workflow"
)

const workflowProgressSubject = "linqra.workflow.progress"

// Run wires every component from configuration and serves until the HTTP
// listener fails. NATS is optional: without it progress publishing
// degrades to a noop while workflows and jobs keep running.
func Run(ctx context.Context, cfg *config.Config) error {
	client, err := redisutil.NewClient(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}

	natsBus, err := bus.NewNatsBus(cfg.NatsURL)
	if err != nil {
		logging.Warn(componentGateway, "nats unavailable, progress publishing disabled",
			"url", cfg.NatsURL, "error", err)
		natsBus = nil
	}

	jobStore := jobs.NewRedisJobStore(client)
	recordStore := execution.NewRedisRecordStore(client)
	toolStore := workflow.NewRedisToolStore(client)

	registry := jobs.NewRegistry()
	var publisher jobs.ProgressPublisher
	if natsBus != nil {
		publisher = jobs.NewNatsProgressPublisher(natsBus, cfg.ProgressSubject)
	}

	jobMetrics := infraMetrics.NewJobsProm("linqra")
	broker := jobs.NewRedisBroker(client, "", cfg.BrokerDisabled)
	queue := jobs.NewQueue(jobStore, broker, registry, publisher, jobMetrics)

	invoker := workflow.NewHTTPInvoker(cfg.ServiceBaseURL, nil)
	executor := workflow.NewExecutor(workflow.ExecutorConfig{
		Router:   workflow.NewRouter(toolStore),
		Tools:    invoker,
		Services: invoker,
		Async:    jobs.NewStepEnqueuer(queue),
		Metrics:  infraMetrics.NewWorkflowProm("linqra"),
		Progress: workflowProgress(natsBus),
	})
	recorder := execution.NewRecorder(recordStore)

	graph := jobs.NewGraphClient(cfg.GraphServiceURL, nil)
	extraction := jobs.NewExtractionService(queue, graph, graph, graph)

	var objects objstore.Store
	if cfg.ExportBucket != "" {
		s3Store, err := objstore.NewS3Store(ctx, cfg.ExportBucket)
		if err != nil {
			return fmt.Errorf("init export store: %w", err)
		}
		objects = s3Store
	} else {
		logging.Warn(componentGateway, "no export bucket configured, export jobs will fail at upload")
	}
	documents := jobs.NewDocumentClient(cfg.DocumentServiceURL, nil)
	export := jobs.NewExportService(queue, documents, objects, cfg.ExportWorkers)

	poller := jobs.NewPoller(jobs.PollerConfig{
		Store:     jobStore,
		Broker:    broker,
		Registry:  registry,
		Publisher: publisher,
		Metrics:   jobMetrics,
		Interval:  pollInterval(cfg),
	})
	poller.RegisterProcessor(jobs.KindWorkflowStep, jobs.NewStepProcessor(executor, recordStore).Process)
	poller.RegisterProcessor(jobs.KindGraphExtraction, extraction.Process)
	poller.RegisterProcessor(jobs.KindCollectionExport, export.Process)
	go poller.Run(ctx)

	server := NewServer(ServerConfig{
		Executor:        executor,
		Recorder:        recorder,
		Records:         recordStore,
		Tools:           toolStore,
		Queue:           queue,
		JobStore:        jobStore,
		Extraction:      extraction,
		Export:          export,
		Bus:             natsBus,
		ProgressSubject: cfg.ProgressSubject,
		Metrics:         infraMetrics.NewGatewayProm("linqra"),
	})
	return server.Start(cfg.HTTPAddr, cfg.MetricsAddr)
}

// pollInterval applies queue-file tuning: the poller ticks at the
// fastest interval any queue asks for.
func pollInterval(cfg *config.Config) time.Duration {
	interval := cfg.PollInterval
	settings, err := config.LoadQueueFile(cfg.QueueConfigPath)
	if err != nil {
		logging.Warn(componentGateway, "queue config unreadable, using defaults",
			"path", cfg.QueueConfigPath, "error", err)
		return interval
	}
	for _, s := range settings {
		if s.PollInterval > 0 && s.PollInterval < interval {
			interval = s.PollInterval
		}
	}
	return interval
}

func workflowProgress(b *bus.NatsBus) workflow.ProgressFunc {
	if b == nil {
		return nil
	}
	return func(p workflow.ExecutionProgress) {
		if err := b.Publish(workflowProgressSubject, p); err != nil {
			logging.Error(componentGateway, "workflow progress publish failed",
				"execution_id", p.ExecutionID, "error", err)
		}
	}
}

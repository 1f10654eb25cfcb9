package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	defaultNATSURL      = "nats://localhost:4222"
	defaultRedisURL     = "redis://localhost:6379"
	defaultHTTPAddr     = ":8080"
	defaultMetricsAddr  = ":9092"
	defaultQueueConfig  = "config/queues.yaml"
	defaultPollInterval = 5 * time.Second
	envNATSURL          = "NATS_URL"
	envRedisURL         = "REDIS_URL"
	envHTTPAddr         = "HTTP_ADDR"
	envMetricsAddr      = "METRICS_ADDR"
	envQueueConfigPath  = "QUEUE_CONFIG_PATH"
	envPollInterval     = "JOB_POLL_INTERVAL"
	envProgressSubject  = "JOB_PROGRESS_SUBJECT"
	envDisableBroker    = "DISABLE_BROKER"
	envExportWorkers    = "EXPORT_WORKERS"
	envServiceBaseURL   = "MICROSERVICE_BASE_URL"
	envGraphServiceURL  = "GRAPH_SERVICE_URL"
	envDocServiceURL    = "DOCUMENT_SERVICE_URL"
	envExportBucket     = "EXPORT_BUCKET"
)

// Config holds runtime configuration for the gateway components.
type Config struct {
	NatsURL         string
	RedisURL        string
	HTTPAddr        string
	MetricsAddr     string
	QueueConfigPath string
	PollInterval    time.Duration
	ProgressSubject string
	ExportWorkers   int
	BrokerDisabled  bool

	// Downstream services and storage for background jobs.
	ServiceBaseURL     string
	GraphServiceURL    string
	DocumentServiceURL string
	ExportBucket       string
}

// Load returns configuration using environment variables with sane defaults.
func Load() *Config {
	natsURL := os.Getenv(envNATSURL)
	if natsURL == "" {
		natsURL = defaultNATSURL
	}

	redisURL := os.Getenv(envRedisURL)
	if redisURL == "" {
		redisURL = defaultRedisURL
	}

	httpAddr := os.Getenv(envHTTPAddr)
	if httpAddr == "" {
		httpAddr = defaultHTTPAddr
	}

	metricsAddr := os.Getenv(envMetricsAddr)
	if metricsAddr == "" {
		metricsAddr = defaultMetricsAddr
	}

	queueCfg := os.Getenv(envQueueConfigPath)
	if queueCfg == "" {
		queueCfg = defaultQueueConfig
	}

	poll := defaultPollInterval
	if v := os.Getenv(envPollInterval); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			poll = d
		}
	}

	subject := os.Getenv(envProgressSubject)
	if subject == "" {
		subject = "linqra.jobs.progress"
	}

	return &Config{
		NatsURL:         natsURL,
		RedisURL:        redisURL,
		HTTPAddr:        httpAddr,
		MetricsAddr:     metricsAddr,
		QueueConfigPath: queueCfg,
		PollInterval:    poll,
		ProgressSubject: subject,
		ExportWorkers:   atoiEnv(envExportWorkers, 4),
		BrokerDisabled:  os.Getenv(envDisableBroker) == "true",

		ServiceBaseURL:     os.Getenv(envServiceBaseURL),
		GraphServiceURL:    os.Getenv(envGraphServiceURL),
		DocumentServiceURL: os.Getenv(envDocServiceURL),
		ExportBucket:       os.Getenv(envExportBucket),
	}
}

// QueueSettings tunes a single job queue.
type QueueSettings struct {
	Queue        string        `yaml:"queue"`
	PollInterval time.Duration `yaml:"-"`
	PollRaw      string        `yaml:"poll_interval"`
	MaxAttempts  int           `yaml:"max_attempts"`
}

// QueueFile is the on-disk shape of the queue tuning file.
type QueueFile struct {
	Queues []QueueSettings `yaml:"queues"`
}

// LoadQueueFile reads per-queue tuning from a YAML file. A missing file is
// not an error; callers fall back to defaults.
func LoadQueueFile(path string) (map[string]QueueSettings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]QueueSettings{}, nil
		}
		return nil, err
	}
	var file QueueFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("queue config %s: %w", path, err)
	}
	out := make(map[string]QueueSettings, len(file.Queues))
	for _, q := range file.Queues {
		if q.Queue == "" {
			continue
		}
		if q.PollRaw != "" {
			d, err := time.ParseDuration(q.PollRaw)
			if err != nil {
				return nil, fmt.Errorf("queue config %s: queue %s: %w", path, q.Queue, err)
			}
			q.PollInterval = d
		}
		if q.MaxAttempts <= 0 {
			q.MaxAttempts = 1
		}
		out[q.Queue] = q
	}
	return out, nil
}

func atoiEnv(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

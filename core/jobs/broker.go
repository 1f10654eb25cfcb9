package jobs

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"

	"github.com/linqra/linqra/core/infra/logging"
)

const (
	componentBroker    = "broker"
	defaultQueuePrefix = "linqra:queue"
)

// Broker is the FIFO work-signal channel between enqueue and the pollers.
type Broker interface {
	RightPush(ctx context.Context, kind, payload string) error
	LeftPop(ctx context.Context, kind string) (string, bool, error)
}

// RedisBroker keeps one Redis list per job kind. The Disabled flag is the
// explicit degraded mode: rows still get created in QUEUED but both push
// and pop become logged no-ops, so nothing drains.
type RedisBroker struct {
	client   redis.UniversalClient
	prefix   string
	disabled bool
}

// NewRedisBroker constructs a broker over an existing client.
func NewRedisBroker(client redis.UniversalClient, prefix string, disabled bool) *RedisBroker {
	if prefix == "" {
		prefix = defaultQueuePrefix
	}
	if disabled {
		logging.Warn(componentBroker, "broker disabled, queued jobs will not drain")
	}
	return &RedisBroker{client: client, prefix: prefix, disabled: disabled}
}

// RightPush appends a task payload to the tail of the kind's list.
func (b *RedisBroker) RightPush(ctx context.Context, kind, payload string) error {
	if b.disabled {
		logging.Debug(componentBroker, "push skipped, broker disabled", "kind", kind)
		return nil
	}
	return b.client.RPush(ctx, b.queueKey(kind), payload).Err()
}

// LeftPop claims at most one task from the head of the kind's list. The
// pop is atomic: each task is claimed by exactly one consumer.
func (b *RedisBroker) LeftPop(ctx context.Context, kind string) (string, bool, error) {
	if b.disabled {
		return "", false, nil
	}
	payload, err := b.client.LPop(ctx, b.queueKey(kind)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return payload, true, nil
}

func (b *RedisBroker) queueKey(kind string) string {
	return b.prefix + ":" + kind
}

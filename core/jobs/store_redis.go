package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrJobNotFound is returned when a job row does not exist.
var ErrJobNotFound = errors.New("job not found")

// ErrJobTerminal is returned when a save would move a job out of a
// terminal status. Terminal rows only accept idempotent re-saves.
var ErrJobTerminal = errors.New("job already in a terminal state")

// Store persists job rows.
type Store interface {
	SaveJob(ctx context.Context, job *Job) error
	GetJob(ctx context.Context, jobID string) (*Job, error)
	ListByTeam(ctx context.Context, teamID string, limit int64) ([]*Job, error)
	ListByStatus(ctx context.Context, status Status, limit int64) ([]*Job, error)
}

// RedisJobStore keeps job rows in Redis with team and status sorted-set
// indexes. Status index membership follows the row on every save.
type RedisJobStore struct {
	client redis.UniversalClient
}

// NewRedisJobStore constructs a job store over an existing client.
func NewRedisJobStore(client redis.UniversalClient) *RedisJobStore {
	return &RedisJobStore{client: client}
}

// SaveJob upserts a job row and swaps its status index entry. The row
// key is watched so the status check and the write land atomically: a
// concurrent writer that moved the row to a terminal status between our
// read and write aborts this save instead of being silently overwritten.
func (s *RedisJobStore) SaveJob(ctx context.Context, job *Job) error {
	if job == nil || job.JobID == "" {
		return fmt.Errorf("job id required")
	}
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	key := jobKey(job.JobID)
	score := float64(time.Now().UTC().Unix())

	save := func(tx *redis.Tx) error {
		prevStatus := Status("")
		if data, err := tx.Get(ctx, key).Bytes(); err == nil {
			var prev Job
			if err := json.Unmarshal(data, &prev); err == nil {
				prevStatus = prev.Status
			}
		}
		if prevStatus.Terminal() && prevStatus != job.Status {
			return ErrJobTerminal
		}
		_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, payload, 0)
			if job.TeamID != "" {
				pipe.ZAdd(ctx, jobTeamIndexKey(job.TeamID), redis.Z{Score: score, Member: job.JobID})
			}
			pipe.ZAdd(ctx, jobStatusIndexKey(job.Status), redis.Z{Score: score, Member: job.JobID})
			if prevStatus != "" && prevStatus != job.Status {
				pipe.ZRem(ctx, jobStatusIndexKey(prevStatus), job.JobID)
			}
			return nil
		})
		return err
	}

	for attempt := 0; attempt < 3; attempt++ {
		err = s.client.Watch(ctx, save, key)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
	}
	return err
}

// GetJob returns a job row by id, or ErrJobNotFound.
func (s *RedisJobStore) GetJob(ctx context.Context, jobID string) (*Job, error) {
	if jobID == "" {
		return nil, fmt.Errorf("job id required")
	}
	data, err := s.client.Get(ctx, jobKey(jobID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, err
	}
	var job Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("unmarshal job: %w", err)
	}
	return &job, nil
}

// ListByTeam returns a team's recent jobs, newest first.
func (s *RedisJobStore) ListByTeam(ctx context.Context, teamID string, limit int64) ([]*Job, error) {
	return s.listByIndex(ctx, jobTeamIndexKey(teamID), limit)
}

// ListByStatus returns recent jobs in one status. RUNNING listings are the
// reconciliation hook for rows orphaned by a crash between broker pop and
// terminal persistence.
func (s *RedisJobStore) ListByStatus(ctx context.Context, status Status, limit int64) ([]*Job, error) {
	return s.listByIndex(ctx, jobStatusIndexKey(status), limit)
}

func (s *RedisJobStore) listByIndex(ctx context.Context, index string, limit int64) ([]*Job, error) {
	if limit <= 0 {
		limit = 50
	}
	ids, err := s.client.ZRevRange(ctx, index, 0, limit-1).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return []*Job{}, nil
	}

	pipe := s.client.Pipeline()
	cmds := make(map[string]*redis.StringCmd, len(ids))
	for _, id := range ids {
		cmds[id] = pipe.Get(ctx, jobKey(id))
	}
	_, _ = pipe.Exec(ctx)

	out := make([]*Job, 0, len(ids))
	for _, id := range ids {
		cmd := cmds[id]
		if cmd == nil {
			continue
		}
		data, err := cmd.Bytes()
		if err != nil {
			continue
		}
		var job Job
		if err := json.Unmarshal(data, &job); err != nil {
			continue
		}
		out = append(out, &job)
	}
	return out, nil
}

func jobKey(id string) string {
	return "job:" + id
}

func jobTeamIndexKey(teamID string) string {
	return "job:index:team:" + teamID
}

func jobStatusIndexKey(status Status) string {
	return "job:index:status:" + string(status)
}

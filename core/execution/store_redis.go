package execution

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/linqra/linqra/core/workflow"
)

// RedisRecordStore persists execution records in Redis with team and
// workflow sorted-set indexes.
type RedisRecordStore struct {
	client redis.UniversalClient
}

// NewRedisRecordStore constructs a record store over an existing client.
func NewRedisRecordStore(client redis.UniversalClient) *RedisRecordStore {
	return &RedisRecordStore{client: client}
}

// SaveRecord persists a record and indexes it by team and workflow.
func (s *RedisRecordStore) SaveRecord(ctx context.Context, rec *Record) error {
	if rec == nil || rec.ID == "" || rec.TeamID == "" {
		return fmt.Errorf("record id and team id required")
	}
	if rec.ExecutedAt.IsZero() {
		rec.ExecutedAt = time.Now().UTC()
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	score := float64(rec.ExecutedAt.Unix())

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, recordKey(rec.ID), payload, 0)
	pipe.ZAdd(ctx, recordTeamIndexKey(rec.TeamID), redis.Z{Score: score, Member: rec.ID})
	if rec.WorkflowID != "" {
		pipe.ZAdd(ctx, recordWorkflowIndexKey(rec.WorkflowID), redis.Z{Score: score, Member: rec.ID})
	}
	_, err = pipe.Exec(ctx)
	return err
}

// GetRecord returns a record by id, or ErrRecordNotFound.
func (s *RedisRecordStore) GetRecord(ctx context.Context, id string) (*Record, error) {
	if id == "" {
		return nil, fmt.Errorf("id required")
	}
	data, err := s.client.Get(ctx, recordKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, err
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal record: %w", err)
	}
	return &rec, nil
}

// ListByTeam returns a team's recent records, newest first.
func (s *RedisRecordStore) ListByTeam(ctx context.Context, teamID string, limit int64) ([]*Record, error) {
	return s.listByIndex(ctx, recordTeamIndexKey(teamID), limit)
}

// ListByWorkflow returns a workflow's recent records, newest first.
func (s *RedisRecordStore) ListByWorkflow(ctx context.Context, workflowID string, limit int64) ([]*Record, error) {
	return s.listByIndex(ctx, recordWorkflowIndexKey(workflowID), limit)
}

func (s *RedisRecordStore) listByIndex(ctx context.Context, index string, limit int64) ([]*Record, error) {
	if limit <= 0 {
		limit = 50
	}
	ids, err := s.client.ZRevRange(ctx, index, 0, limit-1).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return []*Record{}, nil
	}

	pipe := s.client.Pipeline()
	cmds := make(map[string]*redis.StringCmd, len(ids))
	for _, id := range ids {
		cmds[id] = pipe.Get(ctx, recordKey(id))
	}
	_, _ = pipe.Exec(ctx)

	out := make([]*Record, 0, len(ids))
	for _, id := range ids {
		cmd := cmds[id]
		if cmd == nil {
			continue
		}
		data, err := cmd.Bytes()
		if err != nil {
			continue
		}
		var rec Record
		if err := json.Unmarshal(data, &rec); err != nil {
			continue
		}
		out = append(out, &rec)
	}
	return out, nil
}

// DeleteRecord removes a record. Deletion is tenant-scoped: a team can
// only delete its own records.
func (s *RedisRecordStore) DeleteRecord(ctx context.Context, id, teamID string) error {
	rec, err := s.GetRecord(ctx, id)
	if err != nil {
		return err
	}
	if rec.TeamID != teamID {
		return ErrRecordNotFound
	}
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, recordKey(id))
	pipe.ZRem(ctx, recordTeamIndexKey(rec.TeamID), id)
	if rec.WorkflowID != "" {
		pipe.ZRem(ctx, recordWorkflowIndexKey(rec.WorkflowID), id)
	}
	_, err = pipe.Exec(ctx)
	return err
}

// PatchStep fills in the outcome of a step that completed in the
// background, replacing its queued metadata entry and appending the raw
// result to the response body. This is the only mutation a persisted
// record ever sees.
func (s *RedisRecordStore) PatchStep(ctx context.Context, id string, meta workflow.StepMetadata, result any) error {
	rec, err := s.GetRecord(ctx, id)
	if err != nil {
		return err
	}
	if rec.Response == nil {
		return fmt.Errorf("record %s has no response", id)
	}

	patched := false
	md := rec.Response.Metadata.WorkflowMetadata
	for i := range md {
		if md[i].Step == meta.Step {
			meta.Async = true
			md[i] = meta
			patched = true
			break
		}
	}
	if !patched {
		return fmt.Errorf("record %s has no entry for step %d", id, meta.Step)
	}

	if result != nil {
		rec.Response.Result.Steps = append(rec.Response.Result.Steps, workflow.StepOutcome{
			Step:   meta.Step,
			Target: meta.Target,
			Result: result,
		})
	}

	rec.DurationMs += meta.DurationMs
	if meta.Status == workflow.StepStatusError {
		rec.Status = StatusFailed
		rec.Response.Metadata.Status = workflow.WorkflowStatusError
	}

	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	return s.client.Set(ctx, recordKey(id), payload, 0).Err()
}

func recordKey(id string) string {
	return "execution:" + id
}

func recordTeamIndexKey(teamID string) string {
	return "execution:index:team:" + teamID
}

func recordWorkflowIndexKey(workflowID string) string {
	return "execution:index:workflow:" + workflowID
}

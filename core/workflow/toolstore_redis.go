package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisToolStore persists tool registrations in Redis, one document per
// (team, target) pair plus a per-team sorted-set index.
type RedisToolStore struct {
	client redis.UniversalClient
}

// NewRedisToolStore constructs a Redis-backed tool store over an existing client.
func NewRedisToolStore(client redis.UniversalClient) *RedisToolStore {
	return &RedisToolStore{client: client}
}

// SaveTool upserts a tool registration and updates the team index.
func (s *RedisToolStore) SaveTool(ctx context.Context, tool *Tool) error {
	if tool == nil || tool.Target == "" || tool.TeamID == "" {
		return fmt.Errorf("tool target and team id required")
	}
	now := time.Now().UTC()
	if tool.CreatedAt.IsZero() {
		tool.CreatedAt = now
	}
	tool.UpdatedAt = now

	payload, err := json.Marshal(tool)
	if err != nil {
		return fmt.Errorf("marshal tool: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, toolKey(tool.TeamID, tool.Target), payload, 0)
	pipe.ZAdd(ctx, toolTeamIndexKey(tool.TeamID), redis.Z{Score: float64(now.Unix()), Member: tool.Target})
	_, err = pipe.Exec(ctx)
	return err
}

// GetTool returns the tool bound to (teamID, target), or ErrToolNotFound.
func (s *RedisToolStore) GetTool(ctx context.Context, teamID, target string) (*Tool, error) {
	if teamID == "" || target == "" {
		return nil, fmt.Errorf("team id and target required")
	}
	data, err := s.client.Get(ctx, toolKey(teamID, target)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrToolNotFound
	}
	if err != nil {
		return nil, err
	}
	var tool Tool
	if err := json.Unmarshal(data, &tool); err != nil {
		return nil, fmt.Errorf("unmarshal tool: %w", err)
	}
	return &tool, nil
}

// ListTools returns the tools registered for a team, most recent first.
func (s *RedisToolStore) ListTools(ctx context.Context, teamID string) ([]*Tool, error) {
	if teamID == "" {
		return nil, fmt.Errorf("team id required")
	}
	targets, err := s.client.ZRevRange(ctx, toolTeamIndexKey(teamID), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	if len(targets) == 0 {
		return []*Tool{}, nil
	}

	pipe := s.client.Pipeline()
	cmds := make(map[string]*redis.StringCmd, len(targets))
	for _, target := range targets {
		cmds[target] = pipe.Get(ctx, toolKey(teamID, target))
	}
	_, _ = pipe.Exec(ctx)

	out := make([]*Tool, 0, len(targets))
	for _, target := range targets {
		cmd := cmds[target]
		if cmd == nil {
			continue
		}
		data, err := cmd.Bytes()
		if err != nil {
			continue
		}
		var tool Tool
		if err := json.Unmarshal(data, &tool); err != nil {
			continue
		}
		out = append(out, &tool)
	}
	return out, nil
}

// DeleteTool removes a tool registration and its index entry.
func (s *RedisToolStore) DeleteTool(ctx context.Context, teamID, target string) error {
	if teamID == "" || target == "" {
		return fmt.Errorf("team id and target required")
	}
	n, err := s.client.Exists(ctx, toolKey(teamID, target)).Result()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrToolNotFound
	}
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, toolKey(teamID, target))
	pipe.ZRem(ctx, toolTeamIndexKey(teamID), target)
	_, err = pipe.Exec(ctx)
	return err
}

func toolKey(teamID, target string) string {
	return "tool:" + teamID + ":" + target
}

func toolTeamIndexKey(teamID string) string {
	return "tool:index:team:" + teamID
}

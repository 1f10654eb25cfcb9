package workflow

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrToolNotFound is returned by ToolStore lookups when no tool is bound
// for a (team, target) pair.
var ErrToolNotFound = errors.New("tool not found")

// ToolStore persists per-team tool registrations.
type ToolStore interface {
	SaveTool(ctx context.Context, tool *Tool) error
	GetTool(ctx context.Context, teamID, target string) (*Tool, error)
	ListTools(ctx context.Context, teamID string) ([]*Tool, error)
	DeleteTool(ctx context.Context, teamID, target string) error
}

// Router decides whether a registered tool handles a step's target or
// whether the generic microservice fallback should execute it.
type Router struct {
	store ToolStore
}

// NewRouter constructs a Router over a tool store.
func NewRouter(store ToolStore) *Router {
	return &Router{store: store}
}

// Route looks up a tool registered for (target, teamID). Tenants are
// isolated: a tool registered for one team is invisible to every other.
// Absence of a tool yields a fallback Decision, never an error.
func (r *Router) Route(ctx context.Context, target, teamID string) (Decision, error) {
	if r == nil || r.store == nil {
		return Decision{}, nil
	}
	tool, err := r.store.GetTool(ctx, teamID, target)
	if errors.Is(err, ErrToolNotFound) {
		return Decision{}, nil
	}
	if err != nil {
		return Decision{}, fmt.Errorf("route %s/%s: %w", teamID, target, err)
	}
	return Decision{Tool: tool}, nil
}

// MemoryToolStore is an in-process ToolStore for tests and embedded use.
type MemoryToolStore struct {
	mu    sync.RWMutex
	tools map[string]*Tool
}

// NewMemoryToolStore constructs an empty in-memory tool store.
func NewMemoryToolStore() *MemoryToolStore {
	return &MemoryToolStore{tools: make(map[string]*Tool)}
}

func memToolKey(teamID, target string) string {
	return teamID + "\x00" + target
}

func (s *MemoryToolStore) SaveTool(_ context.Context, tool *Tool) error {
	if tool == nil || tool.Target == "" || tool.TeamID == "" {
		return fmt.Errorf("tool target and team id required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *tool
	s.tools[memToolKey(tool.TeamID, tool.Target)] = &cp
	return nil
}

func (s *MemoryToolStore) GetTool(_ context.Context, teamID, target string) (*Tool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tool, ok := s.tools[memToolKey(teamID, target)]
	if !ok {
		return nil, ErrToolNotFound
	}
	cp := *tool
	return &cp, nil
}

func (s *MemoryToolStore) ListTools(_ context.Context, teamID string) ([]*Tool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Tool, 0)
	for _, tool := range s.tools {
		if tool.TeamID == teamID {
			cp := *tool
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *MemoryToolStore) DeleteTool(_ context.Context, teamID, target string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := memToolKey(teamID, target)
	if _, ok := s.tools[key]; !ok {
		return ErrToolNotFound
	}
	delete(s.tools, key)
	return nil
}

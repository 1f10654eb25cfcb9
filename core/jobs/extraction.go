package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/linqra/linqra/core/infra/logging"
)

// KindGraphExtraction extracts graph data from a stored document.
const KindGraphExtraction = "graph-extraction"

const componentExtraction = "extraction"

// ErrAlreadyExtracted rejects a duplicate extraction before it is even
// enqueued, so paid extraction calls are never billed twice.
var ErrAlreadyExtracted = errors.New("graph data already extracted")

// ExtractionScope selects which graph phases run.
type ExtractionScope string

const (
	ScopeEntities      ExtractionScope = "entities"
	ScopeRelationships ExtractionScope = "relationships"
	ScopeAll           ExtractionScope = "all"
)

// ExtractionRequest is the graph-extraction job payload.
type ExtractionRequest struct {
	DocumentID string          `json:"documentId"`
	Scope      ExtractionScope `json:"scope"`
	Force      bool            `json:"force,omitempty"`
}

// GraphStore answers what a document has already had extracted.
type GraphStore interface {
	CountEntities(ctx context.Context, documentID string) (int64, error)
	CountRelationships(ctx context.Context, documentID string) (int64, error)
}

// EntityExtractor runs the entity phase. Force reruns it even when data
// already exists.
type EntityExtractor interface {
	ExtractEntities(ctx context.Context, documentID string, force bool) (int64, error)
}

// RelationshipExtractor runs the relationship phase.
type RelationshipExtractor interface {
	ExtractRelationships(ctx context.Context, documentID string, force bool) (int64, error)
}

// ExtractionService enqueues and processes graph-extraction jobs.
type ExtractionService struct {
	queue         *Queue
	graph         GraphStore
	entities      EntityExtractor
	relationships RelationshipExtractor
}

// NewExtractionService constructs the graph-extraction service.
func NewExtractionService(queue *Queue, graph GraphStore, entities EntityExtractor, relationships RelationshipExtractor) *ExtractionService {
	return &ExtractionService{queue: queue, graph: graph, entities: entities, relationships: relationships}
}

// Enqueue checks idempotency first: unless forced, a document that
// already has extracted data in scope is rejected with ErrAlreadyExtracted
// and the counts it already paid for.
func (s *ExtractionService) Enqueue(ctx context.Context, teamID string, req ExtractionRequest) (*Job, error) {
	if req.DocumentID == "" {
		return nil, fmt.Errorf("document id required")
	}
	switch req.Scope {
	case ScopeEntities, ScopeRelationships, ScopeAll:
	default:
		return nil, fmt.Errorf("unknown extraction scope %q", req.Scope)
	}

	if !req.Force && s.graph != nil {
		var entities, relationships int64
		var err error
		if req.Scope == ScopeEntities || req.Scope == ScopeAll {
			if entities, err = s.graph.CountEntities(ctx, req.DocumentID); err != nil {
				return nil, fmt.Errorf("count entities: %w", err)
			}
		}
		if req.Scope == ScopeRelationships || req.Scope == ScopeAll {
			if relationships, err = s.graph.CountRelationships(ctx, req.DocumentID); err != nil {
				return nil, fmt.Errorf("count relationships: %w", err)
			}
		}
		if entities > 0 || relationships > 0 {
			return nil, fmt.Errorf("%w: document %s has %d entities and %d relationships",
				ErrAlreadyExtracted, req.DocumentID, entities, relationships)
		}
	}

	return s.queue.Enqueue(ctx, teamID, KindGraphExtraction, req)
}

// Process runs the phases the scope selects, with a cancellation
// checkpoint before each phase. Counts from a finished phase survive
// cancellation of the next one.
func (s *ExtractionService) Process(ctx context.Context, job *Job, cancelled func() bool) (map[string]any, error) {
	var req ExtractionRequest
	if err := json.Unmarshal(job.Payload, &req); err != nil {
		return nil, fmt.Errorf("decode extraction payload: %w", err)
	}

	var total int64
	runEntities := req.Scope == ScopeEntities || req.Scope == ScopeAll
	runRelationships := req.Scope == ScopeRelationships || req.Scope == ScopeAll
	if runEntities {
		total++
	}
	if runRelationships {
		total++
	}

	detail := map[string]any{"documentId": req.DocumentID, "scope": string(req.Scope)}
	var processed int64

	if runEntities {
		if cancelled() {
			return detail, ErrCancelled
		}
		n, err := s.entities.ExtractEntities(ctx, req.DocumentID, req.Force)
		if err != nil {
			return detail, fmt.Errorf("extract entities for %s: %w", req.DocumentID, err)
		}
		detail["entities"] = n
		processed++
		s.updateProgress(ctx, job.JobID, processed, total, detail)
	}

	if runRelationships {
		if cancelled() {
			return detail, ErrCancelled
		}
		n, err := s.relationships.ExtractRelationships(ctx, req.DocumentID, req.Force)
		if err != nil {
			return detail, fmt.Errorf("extract relationships for %s: %w", req.DocumentID, err)
		}
		detail["relationships"] = n
		processed++
		s.updateProgress(ctx, job.JobID, processed, total, detail)
	}

	return detail, nil
}

func (s *ExtractionService) updateProgress(ctx context.Context, jobID string, processed, total int64, detail map[string]any) {
	if err := s.queue.UpdateProgress(ctx, jobID, processed, total, detail); err != nil {
		logging.Error(componentExtraction, "progress update failed", "job_id", jobID, "error", err)
	}
}

package execution

import (
	"fmt"

	"github.com/linqra/linqra/core/workflow"
)

// StepStats rolls up outcomes for one step index.
type StepStats struct {
	Success       int64   `json:"success"`
	Failed        int64   `json:"failed"`
	Samples       int64   `json:"samples"`
	AvgDurationMs float64 `json:"avgDurationMs"`
}

// ModelTokens sums token usage for one model.
type ModelTokens struct {
	Prompt     int64 `json:"promptTokens"`
	Completion int64 `json:"completionTokens"`
	Total      int64 `json:"totalTokens"`
}

// Stats is a single-pass rollup over execution records. All counters are
// order-independent; the running averages use an incremental mean
// (avg += (x-avg)/n) applied once per sample so aggregation never needs
// the full record list twice.
type Stats struct {
	TotalExecutions int64                   `json:"totalExecutions"`
	Successful      int64                   `json:"successful"`
	Failed          int64                   `json:"failed"`
	AvgDurationMs   float64                 `json:"avgDurationMs"`
	Steps           map[int]*StepStats      `json:"steps"`
	Targets         map[string]int64        `json:"targets"`
	ModelTokens     map[string]*ModelTokens `json:"modelTokens"`
	HourBuckets     map[string]int64        `json:"hourBuckets"`
	DayBuckets      map[string]int64        `json:"dayBuckets"`
}

// NewStats constructs an empty rollup.
func NewStats() *Stats {
	return &Stats{
		Steps:       make(map[int]*StepStats),
		Targets:     make(map[string]int64),
		ModelTokens: make(map[string]*ModelTokens),
		HourBuckets: make(map[string]int64),
		DayBuckets:  make(map[string]int64),
	}
}

// Add folds one record into the rollup.
func (s *Stats) Add(rec *Record) {
	if rec == nil {
		return
	}
	s.TotalExecutions++
	if rec.Status == StatusSuccess {
		s.Successful++
	} else {
		s.Failed++
	}
	s.AvgDurationMs += (float64(rec.DurationMs) - s.AvgDurationMs) / float64(s.TotalExecutions)

	s.HourBuckets[fmt.Sprintf("%02d:00", rec.ExecutedAt.Hour())]++
	s.DayBuckets[rec.ExecutedAt.Format("2006-01-02")]++

	if rec.Response == nil {
		return
	}
	for _, md := range rec.Response.Metadata.WorkflowMetadata {
		if md.Target != "" {
			s.Targets[md.Target]++
		}

		step := s.Steps[md.Step]
		if step == nil {
			step = &StepStats{}
			s.Steps[md.Step] = step
		}
		switch md.Status {
		case workflow.StepStatusSuccess:
			step.Success++
		case workflow.StepStatusError:
			step.Failed++
		default:
			// queued steps have no outcome yet
			continue
		}
		step.Samples++
		step.AvgDurationMs += (float64(md.DurationMs) - step.AvgDurationMs) / float64(step.Samples)

		if md.TokenUsage != nil {
			model := md.Model
			if model == "" {
				model = "unknown"
			}
			tokens := s.ModelTokens[model]
			if tokens == nil {
				tokens = &ModelTokens{}
				s.ModelTokens[model] = tokens
			}
			tokens.Prompt += md.TokenUsage.Prompt
			tokens.Completion += md.TokenUsage.Completion
			tokens.Total += md.TokenUsage.Total
		}
	}
}

// TeamStats nests per-workflow rollups under a team-wide rollup.
type TeamStats struct {
	Stats
	Workflows map[string]*Stats `json:"workflows"`
}

// Aggregator reduces historical records into stats rollups.
type Aggregator struct{}

// NewAggregator constructs an Aggregator.
func NewAggregator() *Aggregator {
	return &Aggregator{}
}

// Aggregate folds records into one rollup.
func (a *Aggregator) Aggregate(records []*Record) *Stats {
	s := NewStats()
	for _, rec := range records {
		s.Add(rec)
	}
	return s
}

// AggregateTeam folds records into a team rollup with per-workflow nesting.
// Records without a workflow id group under "adhoc".
func (a *Aggregator) AggregateTeam(records []*Record) *TeamStats {
	ts := &TeamStats{Stats: *NewStats(), Workflows: make(map[string]*Stats)}
	for _, rec := range records {
		if rec == nil {
			continue
		}
		ts.Add(rec)
		name := rec.WorkflowID
		if name == "" {
			name = "adhoc"
		}
		wf := ts.Workflows[name]
		if wf == nil {
			wf = NewStats()
			ts.Workflows[name] = wf
		}
		wf.Add(rec)
	}
	return ts
}

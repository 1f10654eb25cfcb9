package workflow

import "sync"

// ResultExtractor derives a workflow's final result from a raw step
// result. The boolean reports whether the strategy applied.
type ResultExtractor func(result any) (any, bool)

// ResultExtractors is a per-target registry of final-result strategies.
// The chat-completion unwrap is consulted when no target-specific strategy
// matches; stringification is the last resort.
type ResultExtractors struct {
	mu       sync.RWMutex
	byTarget map[string]ResultExtractor
}

// NewResultExtractors constructs an empty registry.
func NewResultExtractors() *ResultExtractors {
	return &ResultExtractors{byTarget: make(map[string]ResultExtractor)}
}

// Register binds an extraction strategy to a target.
func (e *ResultExtractors) Register(target string, fn ResultExtractor) {
	if target == "" || fn == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.byTarget[target] = fn
}

// Extract derives the final result for a step result produced by target.
func (e *ResultExtractors) Extract(target string, result any) any {
	if e != nil {
		e.mu.RLock()
		fn := e.byTarget[target]
		e.mu.RUnlock()
		if fn != nil {
			if out, ok := fn(result); ok {
				return out
			}
		}
	}
	if content, ok := ChatCompletionContent(result); ok {
		return content
	}
	return stringify(result)
}

// ChatCompletionContent unwraps choices[0].message.content when the result
// carries the chat-completion shape.
func ChatCompletionContent(result any) (string, bool) {
	v := walkPath(result, "choices[0].message.content")
	content, ok := v.(string)
	return content, ok
}

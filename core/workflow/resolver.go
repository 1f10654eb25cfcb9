package workflow

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Placeholder grammar: {{step<N>.result(.<path>)?}} and {{params.<path>}}.
// Path segments are dot-separated; a segment may carry a bracketed index,
// e.g. choices[0].message.content.
var (
	placeholderRe = regexp.MustCompile(`\{\{(?:step(\d+)\.result(\.[^{}]+)?|params\.([^{}]+))\}\}`)
	segmentRe     = regexp.MustCompile(`^([^\[\]]*)((?:\[\d+\])*)$`)
	indexRe       = regexp.MustCompile(`\[(\d+)\]`)
)

// Resolve substitutes placeholders in value against the execution context.
// Strings are scanned for placeholders, lists and maps recurse, everything
// else passes through unchanged. Any unresolvable placeholder collapses to
// the empty string; Resolve never fails.
func Resolve(value any, ctx *Context) any {
	switch v := value.(type) {
	case string:
		return resolveString(v, ctx)
	case []any:
		out := make([]any, len(v))
		for i, elem := range v {
			out[i] = Resolve(elem, ctx)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, elem := range v {
			out[k] = Resolve(elem, ctx)
		}
		return out
	default:
		return value
	}
}

// ResolveParams resolves a parameter map, keeping the map shape.
func ResolveParams(params map[string]any, ctx *Context) map[string]any {
	if params == nil {
		return nil
	}
	resolved, _ := Resolve(params, ctx).(map[string]any)
	return resolved
}

func resolveString(s string, ctx *Context) any {
	if m := placeholderRe.FindStringSubmatch(s); m != nil && m[0] == s {
		// The whole string is a single placeholder: hand back the
		// resolved object itself so maps and lists flow between
		// steps intact.
		v := lookup(m, ctx)
		if v == nil {
			return ""
		}
		return v
	}
	return placeholderRe.ReplaceAllStringFunc(s, func(tok string) string {
		m := placeholderRe.FindStringSubmatch(tok)
		return stringify(lookup(m, ctx))
	})
}

func lookup(m []string, ctx *Context) any {
	if ctx == nil {
		return nil
	}
	if m[1] != "" {
		idx, err := strconv.Atoi(m[1])
		if err != nil {
			return nil
		}
		root, ok := ctx.StepResults[idx]
		if !ok {
			return nil
		}
		path := strings.TrimPrefix(m[2], ".")
		if path == "" {
			return root
		}
		return walkPath(root, path)
	}
	if m[3] != "" {
		return walkPath(ctx.Params, m[3])
	}
	return nil
}

func walkPath(root any, path string) any {
	cur := root
	for _, seg := range strings.Split(path, ".") {
		sm := segmentRe.FindStringSubmatch(seg)
		if sm == nil {
			return nil
		}
		name, brackets := sm[1], sm[2]
		if name != "" {
			obj, ok := cur.(map[string]any)
			if !ok {
				return nil
			}
			cur, ok = obj[name]
			if !ok {
				return nil
			}
		}
		for _, im := range indexRe.FindAllStringSubmatch(brackets, -1) {
			arr, ok := cur.([]any)
			if !ok {
				return nil
			}
			i, err := strconv.Atoi(im[1])
			if err != nil || i < 0 || i >= len(arr) {
				return nil
			}
			cur = arr[i]
		}
	}
	return cur
}

func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case map[string]any, []any:
		data, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprintf("%v", t)
		}
		return string(data)
	default:
		return fmt.Sprintf("%v", t)
	}
}

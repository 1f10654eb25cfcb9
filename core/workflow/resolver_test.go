package workflow

import (
	"reflect"
	"testing"
)

func chatResult(content string) map[string]any {
	return map[string]any{
		"choices": []any{
			map[string]any{
				"message": map[string]any{"content": content},
			},
		},
	}
}

func TestResolveStepPath(t *testing.T) {
	ctx := &Context{
		StepResults: map[int]any{0: chatResult("hello")},
	}
	got := Resolve("{{step0.result.choices[0].message.content}}", ctx)
	if got != "hello" {
		t.Fatalf("resolved %q, want hello", got)
	}
}

func TestResolveInsideLargerString(t *testing.T) {
	ctx := &Context{
		StepResults: map[int]any{0: chatResult("world")},
		Params:      map[string]any{"greeting": "hi"},
	}
	got := Resolve("{{params.greeting}}, {{step0.result.choices[0].message.content}}!", ctx)
	if got != "hi, world!" {
		t.Fatalf("resolved %q", got)
	}
}

func TestResolveWholePlaceholderKeepsObject(t *testing.T) {
	inner := map[string]any{"a": []any{1.0, 2.0}}
	ctx := &Context{StepResults: map[int]any{2: inner}}
	got := Resolve("{{step2.result}}", ctx)
	if !reflect.DeepEqual(got, inner) {
		t.Fatalf("resolved %#v, want original object", got)
	}
}

func TestResolveMissingCollapsesToEmpty(t *testing.T) {
	ctx := &Context{StepResults: map[int]any{0: chatResult("x")}}
	cases := []string{
		"{{step5.result.x}}",
		"{{step0.result.choices[9].message.content}}",
		"{{step0.result.nope.deeper}}",
		"{{params.missing}}",
	}
	for _, in := range cases {
		if got := Resolve(in, ctx); got != "" {
			t.Fatalf("Resolve(%q) = %q, want empty", in, got)
		}
	}
}

func TestResolveRecursesCollections(t *testing.T) {
	ctx := &Context{
		StepResults: map[int]any{1: map[string]any{"v": "ok"}},
		Params:      map[string]any{"name": "team"},
	}
	in := map[string]any{
		"list":  []any{"{{step1.result.v}}", 42},
		"plain": true,
		"name":  "{{params.name}}",
	}
	got, ok := Resolve(in, ctx).(map[string]any)
	if !ok {
		t.Fatalf("expected map, got %T", got)
	}
	if !reflect.DeepEqual(got["list"], []any{"ok", 42}) {
		t.Fatalf("list resolved %#v", got["list"])
	}
	if got["plain"] != true || got["name"] != "team" {
		t.Fatalf("unexpected map: %#v", got)
	}
}

func TestResolveDeterministicAndIdempotent(t *testing.T) {
	ctx := &Context{
		StepResults: map[int]any{0: chatResult("stable")},
		Params:      map[string]any{"p": "q"},
	}
	in := map[string]any{
		"a": "{{step0.result.choices[0].message.content}} {{params.p}}",
		"b": []any{"{{params.p}}"},
	}
	first := Resolve(in, ctx)
	second := Resolve(in, ctx)
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("resolution not deterministic: %#v vs %#v", first, second)
	}
	again := Resolve(first, ctx)
	if !reflect.DeepEqual(again, first) {
		t.Fatalf("resolution not idempotent: %#v vs %#v", again, first)
	}
}

func TestResolvePassthrough(t *testing.T) {
	ctx := &Context{}
	if got := Resolve(42, ctx); got != 42 {
		t.Fatalf("int changed: %v", got)
	}
	if got := Resolve(nil, ctx); got != nil {
		t.Fatalf("nil changed: %v", got)
	}
	if got := Resolve("no placeholders here", ctx); got != "no placeholders here" {
		t.Fatalf("plain string changed: %v", got)
	}
}

package interp

import (
	"reflect"
	"testing"

	"github.com/good-yellow-bee/firehunt/internal/models"
)

func TestEvaluate(t *testing.T) {
	event := models.Event{
		"field":     "value",
		"number":    42,
		"nullable":  nil,
		"hosts":     []any{"a", "b"},
		"empty":     []any{},
		"device":    map[string]any{"hostname": "ws-01", "ips": []any{"10.0.0.1", "10.0.0.2"}},
		"dotted.in": "literal-key",
	}

	tests := []struct {
		name     string
		template string
		want     []string
	}{
		{
			name:     "no placeholders",
			template: "plain text",
			want:     []string{"plain text"},
		},
		{
			name:     "direct key",
			template: "${field}",
			want:     []string{"value"},
		},
		{
			name:     "explicit key type",
			template: "$key{field}",
			want:     []string{"value"},
		},
		{
			name:     "numeric value stringified",
			template: "n=${number}",
			want:     []string{"n=42"},
		},
		{
			name:     "null becomes empty string",
			template: "[${nullable}]",
			want:     []string{"[]"},
		},
		{
			name:     "missing key left literal",
			template: "${missing}",
			want:     []string{"${missing}"},
		},
		{
			name:     "unknown lookup type left literal",
			template: "$bogus{field}",
			want:     []string{"$bogus{field}"},
		},
		{
			name:     "empty lookup left literal",
			template: "${}",
			want:     []string{"${}"},
		},
		{
			name:     "dotted path",
			template: "$dot{device.hostname}",
			want:     []string{"ws-01"},
		},
		{
			name:     "dotted path with list index",
			template: "$dot{device.ips.1}",
			want:     []string{"10.0.0.2"},
		},
		{
			name:     "key lookup does not traverse dots",
			template: "$key{dotted.in}",
			want:     []string{"literal-key"},
		},
		{
			name:     "dotted path miss left literal",
			template: "$dot{device.missing}",
			want:     []string{"$dot{device.missing}"},
		},
		{
			name:     "list expansion",
			template: "host:${hosts}",
			want:     []string{"host:a", "host:b"},
		},
		{
			name:     "empty list collapses template",
			template: "host:${empty}",
			want:     []string{},
		},
		{
			name:     "empty list collapses despite other placeholders",
			template: "${field}-${empty}",
			want:     []string{},
		},
		{
			name:     "mixed literal and placeholders",
			template: "$dot{device.hostname}@${field}",
			want:     []string{"ws-01@value"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Evaluate(tt.template, event)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Evaluate(%q) = %v, want %v", tt.template, got, tt.want)
			}
		})
	}
}

func TestEvaluateCartesianOrder(t *testing.T) {
	event := models.Event{
		"a": []any{"x", "y"},
		"b": []any{"1", "2"},
	}

	got := Evaluate("${a}-${b}", event)
	want := []string{"x-1", "x-2", "y-1", "y-2"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("cartesian product = %v, want %v", got, want)
	}
}

func TestEvaluateEscapedBraces(t *testing.T) {
	event := models.Event{"weird{key}": "found"}

	got := Evaluate(`${weird\{key\}}`, event)
	want := []string{"found"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("escaped lookup = %v, want %v", got, want)
	}
}

func TestEvaluateListOfNils(t *testing.T) {
	event := models.Event{"vals": []any{nil, "x"}}

	got := Evaluate("<${vals}>", event)
	want := []string{"<>", "<x>"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("nil list elements = %v, want %v", got, want)
	}
}

func TestExtract(t *testing.T) {
	event := models.Event{
		"present": nil,
		"nested":  map[string]any{"list": []any{map[string]any{"id": "deep"}}},
	}

	if _, ok := Extract(event, LookupKey, "absent"); ok {
		t.Error("absent key reported as present")
	}
	if v, ok := Extract(event, LookupKey, "present"); !ok || v != nil {
		t.Errorf("present-but-nil key: got (%v, %v)", v, ok)
	}
	if v, ok := Extract(event, LookupDot, "nested.list.0.id"); !ok || v != "deep" {
		t.Errorf("deep dotted extract: got (%v, %v)", v, ok)
	}
	if _, ok := Extract(event, LookupDot, "nested.list.5.id"); ok {
		t.Error("out-of-range index reported as present")
	}
	if _, ok := Extract(event, LookupDot, "nested..id"); ok {
		t.Error("empty path segment reported as present")
	}
}

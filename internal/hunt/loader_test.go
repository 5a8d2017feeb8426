package hunt

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestDeepMerge(t *testing.T) {
	tests := []struct {
		name     string
		base     map[string]any
		override map[string]any
		want     map[string]any
	}{
		{
			name:     "scalar override",
			base:     map[string]any{"a": 1, "b": "keep"},
			override: map[string]any{"a": 2},
			want:     map[string]any{"a": 2, "b": "keep"},
		},
		{
			name:     "lists concatenate with dedup",
			base:     map[string]any{"tags": []any{"a", "b"}},
			override: map[string]any{"tags": []any{"b", "c"}},
			want:     map[string]any{"tags": []any{"a", "b", "c"}},
		},
		{
			name:     "nested maps merge",
			base:     map[string]any{"rule": map[string]any{"name": "x", "queue": "default"}},
			override: map[string]any{"rule": map[string]any{"queue": "intel"}},
			want:     map[string]any{"rule": map[string]any{"name": "x", "queue": "intel"}},
		},
		{
			name:     "type mismatch overrides",
			base:     map[string]any{"v": []any{"a"}},
			override: map[string]any{"v": "scalar"},
			want:     map[string]any{"v": "scalar"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DeepMerge(tt.base, tt.override)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDeepMergeDoesNotMutate(t *testing.T) {
	base := map[string]any{"tags": []any{"a"}}
	override := map[string]any{"tags": []any{"b"}}
	DeepMerge(base, override)
	if len(base["tags"].([]any)) != 1 || len(override["tags"].([]any)) != 1 {
		t.Error("inputs were mutated")
	}
}

func write(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadDocumentIncludes(t *testing.T) {
	dir := t.TempDir()
	write(t, dir, "base.include.yaml", "rule:\n  queue: default\n  tags: [shared]\n")
	path := write(t, dir, "hunt.yaml", `include:
  - base.include.yaml
rule:
  name: my hunt
  tags: [own]
`)

	doc, files, err := LoadDocument(path)
	if err != nil {
		t.Fatalf("LoadDocument: %v", err)
	}
	if len(files) != 2 {
		t.Errorf("contributing files = %d, want 2", len(files))
	}

	rule := doc["rule"].(map[string]any)
	if rule["name"] != "my hunt" {
		t.Errorf("name = %v", rule["name"])
	}
	if rule["queue"] != "default" {
		t.Errorf("included queue = %v", rule["queue"])
	}
	tags := rule["tags"].([]any)
	if !reflect.DeepEqual(tags, []any{"shared", "own"}) {
		t.Errorf("tags = %v", tags)
	}
	if _, ok := doc["include"]; ok {
		t.Error("include directive leaked into merged document")
	}
}

func TestLoadDocumentIncludeCycle(t *testing.T) {
	dir := t.TempDir()
	write(t, dir, "a.include.yaml", "include: [b.include.yaml]\nrule:\n  a: 1\n")
	write(t, dir, "b.include.yaml", "include: [a.include.yaml]\nrule:\n  b: 2\n")
	path := write(t, dir, "hunt.yaml", "include: [a.include.yaml]\nrule:\n  name: cyclic\n")

	doc, _, err := LoadDocument(path)
	if err != nil {
		t.Fatalf("cycle should be skipped, got %v", err)
	}
	rule := doc["rule"].(map[string]any)
	if rule["a"] != 1 || rule["b"] != 2 || rule["name"] != "cyclic" {
		t.Errorf("rule = %v", rule)
	}
}

func TestLoadDocumentErrors(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name string
		body string
	}{
		{name: "non-list include", body: "include: base.yaml\nrule: {}\n"},
		{name: "non-string include entry", body: "include: [42]\nrule: {}\n"},
		{name: "missing include target", body: "include: [nope.yaml]\nrule: {}\n"},
		{name: "empty document", body: ""},
		{name: "malformed yaml", body: "rule: [unclosed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := write(t, dir, "bad-"+tt.name+".yaml", tt.body)
			if _, _, err := LoadDocument(path); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestLoadErrorNamesInnermostFile(t *testing.T) {
	dir := t.TempDir()
	broken := write(t, dir, "broken.include.yaml", "rule: [unclosed")
	path := write(t, dir, "hunt.yaml", "include: [broken.include.yaml]\nrule: {}\n")

	_, _, err := LoadDocument(path)
	if err == nil {
		t.Fatal("expected error")
	}
	lerr, ok := err.(*LoadError)
	if !ok {
		t.Fatalf("error type %T", err)
	}
	if lerr.Path != broken {
		t.Errorf("attributed to %s, want %s", lerr.Path, broken)
	}
}

func TestScan(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "nested")
	if err := os.Mkdir(sub, 0o755); err != nil {
		t.Fatal(err)
	}
	write(t, dir, "one.yaml", "rule: {}\n")
	write(t, sub, "two.yaml", "rule: {}\n")
	write(t, dir, "template.yaml", "rule: {}\n")
	write(t, dir, "common.include.yaml", "rule: {}\n")
	write(t, dir, "notes.txt", "not yaml")

	paths, err := Scan([]string{dir})
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(paths) != 2 {
		t.Errorf("paths = %v, want one.yaml and nested/two.yaml", paths)
	}
}

func TestScanMissingRoot(t *testing.T) {
	dir := t.TempDir()
	write(t, dir, "one.yaml", "rule: {}\n")

	paths, err := Scan([]string{dir, filepath.Join(dir, "missing")})
	if err == nil {
		t.Error("missing root should report an error")
	}
	if len(paths) != 1 {
		t.Errorf("usable roots should still be scanned, got %v", paths)
	}
}

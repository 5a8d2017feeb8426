package hunt

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// includeDirective is the top-level key listing fragment files to merge
// beneath the current document.
const includeDirective = "include"

// DeepMerge merges override into base and returns the result without
// mutating either input. Scalars override, lists concatenate with
// order-preserving de-duplication, nested maps merge recursively.
func DeepMerge(base, override map[string]any) map[string]any {
	result := make(map[string]any, len(base)+len(override))
	for k, v := range base {
		result[k] = v
	}

	for key, value := range override {
		existing, ok := result[key]
		if !ok {
			result[key] = value
			continue
		}

		switch v := value.(type) {
		case map[string]any:
			if e, ok := existing.(map[string]any); ok {
				result[key] = DeepMerge(e, v)
				continue
			}
		case []any:
			if e, ok := existing.([]any); ok {
				result[key] = mergeLists(e, v)
				continue
			}
		}
		result[key] = value
	}

	return result
}

func mergeLists(base, override []any) []any {
	merged := make([]any, len(base), len(base)+len(override))
	copy(merged, base)
	for _, item := range override {
		if !listContains(merged, item) {
			merged = append(merged, item)
		}
	}
	return merged
}

func listContains(list []any, item any) bool {
	for _, existing := range list {
		if fmt.Sprintf("%v", existing) == fmt.Sprintf("%v", item) {
			return true
		}
	}
	return false
}

// LoadDocument loads a hunt definition file, resolves its include
// directives, and returns the merged document plus every file that
// contributed to it (the file itself included). Relative include paths
// resolve against the including file. A path already resolved during
// this load is skipped, which both breaks include cycles and keeps
// diamond includes from being processed twice.
func LoadDocument(path string) (map[string]any, []string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, nil, newLoadError(path, err)
	}

	resolved := map[string]bool{abs: true}
	doc, err := loadMerged(abs, resolved)
	if err != nil {
		return nil, nil, err
	}

	files := make([]string, 0, len(resolved))
	for f := range resolved {
		files = append(files, f)
	}
	return doc, files, nil
}

func loadMerged(path string, resolved map[string]bool) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, newLoadError(path, err)
	}

	var body map[string]any
	if err := yaml.Unmarshal(data, &body); err != nil {
		return nil, newLoadError(path, err)
	}
	if body == nil {
		return nil, newLoadError(path, fmt.Errorf("document is empty"))
	}

	result := map[string]any{}

	if raw, ok := body[includeDirective]; ok {
		includes, ok := raw.([]any)
		if !ok {
			return nil, newLoadError(path, fmt.Errorf("include directive must be a list"))
		}

		for _, entry := range includes {
			include, ok := entry.(string)
			if !ok {
				return nil, newLoadError(path, fmt.Errorf("include entries must be strings, got %T", entry))
			}

			if !filepath.IsAbs(include) {
				include = filepath.Join(filepath.Dir(path), include)
			}
			include = filepath.Clean(include)

			// Already merged during this top-level load; skipping here
			// prevents cycles from recursing forever.
			if resolved[include] {
				continue
			}
			resolved[include] = true

			included, err := loadMerged(include, resolved)
			if err != nil {
				return nil, err
			}
			result = DeepMerge(result, included)
		}

		delete(body, includeDirective)
	}

	// The current file's own content wins over everything it included.
	return DeepMerge(result, body), nil
}

// Scan enumerates eligible hunt definition files under the given roots.
// Only *.yaml files count; template.yaml and *.include.yaml fragments
// are excluded. Missing or non-directory roots are skipped with an
// error returned alongside whatever was found.
func Scan(roots []string) ([]string, error) {
	var paths []string
	var firstErr error

	for _, root := range roots {
		info, err := os.Stat(root)
		if err != nil || !info.IsDir() {
			if firstErr == nil {
				firstErr = fmt.Errorf("rules directory %s is not usable", root)
			}
			continue
		}

		err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				return nil
			}
			name := d.Name()
			if !strings.HasSuffix(name, ".yaml") {
				return nil
			}
			if name == "template.yaml" || strings.HasSuffix(name, ".include.yaml") {
				return nil
			}
			paths = append(paths, path)
			return nil
		})
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	return paths, firstErr
}

package hunt

import "fmt"

// LoadError is a definition-file failure attributable to one file:
// malformed YAML, schema violation, missing include target, or a
// non-list include directive.
type LoadError struct {
	// Path is the file the error originated in.
	Path string
	// Err is the underlying cause.
	Err error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load %s: %v", e.Path, e.Err)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

// newLoadError wraps err as a LoadError unless it already is one, so
// the innermost file keeps the attribution.
func newLoadError(path string, err error) error {
	if _, ok := err.(*LoadError); ok {
		return err
	}
	return &LoadError{Path: path, Err: err}
}

// InvalidCategoryError means a definition file loaded cleanly but
// declares a category the manager does not own. The file is quarantined
// until it changes.
type InvalidCategoryError struct {
	Path string
	Want string
	Got  string
}

func (e *InvalidCategoryError) Error() string {
	return fmt.Sprintf("%s declares category %q, manager owns %q", e.Path, e.Got, e.Want)
}

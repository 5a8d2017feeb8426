// Package persist stores hunt runtime state that must survive process
// restarts. Each (category, hunt, field) triple maps to one small file
// under the persistence root; absence means the value was never
// recorded.
package persist

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Fields persisted per hunt.
const (
	FieldLastExecutedTime = "last_executed_time"
	FieldLastAlertTime    = "last_alert_time"
	FieldLastEndTime      = "last_end_time"
)

// Store reads and writes per-hunt persisted timestamps.
type Store struct {
	root string
}

// NewStore creates a store rooted at the given directory. The directory
// is created on first write.
func NewStore(root string) *Store {
	return &Store{root: root}
}

func (s *Store) dir(category, name string) string {
	return filepath.Join(s.root, sanitize(category), sanitize(name))
}

// sanitize keeps hunt names safe to use as directory names.
func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', 0:
			return '_'
		default:
			return r
		}
	}, s)
}

// WriteTime durably records a timestamp. The value is written to a
// temporary file and renamed into place so a crash never leaves a torn
// record.
func (s *Store) WriteTime(category, name, field string, value time.Time) error {
	dir := s.dir(category, name)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}

	target := filepath.Join(dir, field)
	tmp, err := os.CreateTemp(dir, field+".tmp.*")
	if err != nil {
		return fmt.Errorf("create temp state file: %w", err)
	}

	encoded := value.UTC().Format(time.RFC3339Nano)
	if _, err := tmp.WriteString(encoded); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close state file: %w", err)
	}

	if err := os.Rename(tmp.Name(), target); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("rename state file: %w", err)
	}
	return nil
}

// ReadTime loads a persisted timestamp. The second return value is
// false when the field was never recorded.
func (s *Store) ReadTime(category, name, field string) (time.Time, bool, error) {
	data, err := os.ReadFile(filepath.Join(s.dir(category, name), field))
	if err != nil {
		if os.IsNotExist(err) {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, fmt.Errorf("read state file: %w", err)
	}

	value, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(string(data)))
	if err != nil {
		return time.Time{}, false, fmt.Errorf("parse state file %s/%s/%s: %w", category, name, field, err)
	}
	return value, true, nil
}

// Delete removes all persisted state for a hunt. Used by manual
// maintenance tooling; a missing directory is not an error.
func (s *Store) Delete(category, name string) error {
	err := os.RemoveAll(s.dir(category, name))
	if err != nil {
		return fmt.Errorf("delete state dir: %w", err)
	}
	return nil
}

package manager

import (
	"sort"
	"time"

	"github.com/good-yellow-bee/firehunt/internal/hunt"
)

// HuntStatus is the externally visible state of one loaded hunt.
type HuntStatus struct {
	Name          string     `json:"name"`
	Category      string     `json:"category"`
	Enabled       bool       `json:"enabled"`
	State         string     `json:"state"`
	File          string     `json:"file"`
	LastExecuted  *time.Time `json:"last_executed,omitempty"`
	NextExecution time.Time  `json:"next_execution"`
	Watermark     *time.Time `json:"watermark,omitempty"`
}

// Status reports the state of every loaded hunt, sorted by name, plus
// the quarantined files.
type Status struct {
	Category string       `json:"category"`
	Hunts    []HuntStatus `json:"hunts"`
	Failed   []string     `json:"failed_files,omitempty"`
	Skipped  []string     `json:"skipped_files,omitempty"`
}

// Status returns a point-in-time view of the manager's hunt set.
func (m *Manager) Status() Status {
	now := m.now()

	m.mu.Lock()
	hunts := make([]hunt.Hunter, 0, len(m.hunts))
	for _, h := range m.hunts {
		hunts = append(hunts, h)
	}
	failed := make([]string, 0, len(m.failed))
	for path := range m.failed {
		failed = append(failed, path)
	}
	skipped := make([]string, 0, len(m.skipped))
	for path := range m.skipped {
		skipped = append(skipped, path)
	}
	m.mu.Unlock()

	st := Status{Category: m.cfg.Category, Failed: failed, Skipped: skipped}
	sort.Strings(st.Failed)
	sort.Strings(st.Skipped)

	for _, h := range hunts {
		b := h.Base()
		hs := HuntStatus{
			Name:          b.Name(),
			Category:      b.Category(),
			Enabled:       b.Config().Enabled,
			State:         string(b.Classify(now)),
			File:          b.FilePath,
			NextExecution: b.NextExecutionTime(now),
		}
		if t, ok := b.LastExecuted(); ok {
			hs.LastExecuted = &t
		}
		if qh, ok := h.(*hunt.QueryHunt); ok {
			if t, ok := qh.LastEnd(); ok {
				hs.Watermark = &t
			}
		}
		st.Hunts = append(st.Hunts, hs)
	}
	sort.Slice(st.Hunts, func(i, j int) bool { return st.Hunts[i].Name < st.Hunts[j].Name })
	return st
}

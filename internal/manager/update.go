package manager

import (
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/good-yellow-bee/firehunt/internal/hunt"
	"github.com/good-yellow-bee/firehunt/internal/metrics"
)

const reloadDrainTimeout = 10 * time.Second

// updateLoop keeps the loaded hunt set current. It polls definition
// files every update interval and additionally reacts to filesystem
// notifications, so edits are usually picked up within a second.
func (m *Manager) updateLoop() {
	defer m.wg.Done()

	events := m.watch()

	ticker := time.NewTicker(m.cfg.UpdateInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
		case <-events:
			// Editors fire bursts of events for one save; let the
			// burst settle before fingerprinting.
			time.Sleep(250 * time.Millisecond)
			drainEvents(events)
		case <-m.reload:
			m.reloadAll()
			continue
		}
		if m.changed() {
			m.reloadAll()
		}
	}
}

// watch starts an fsnotify watcher over the rule directories and
// returns its event stream. Watch failures degrade to interval polling.
func (m *Manager) watch() <-chan struct{} {
	events := make(chan struct{}, 1)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		log.Printf("manager %s: filesystem watcher unavailable, polling only: %v", m.cfg.Category, err)
		return events
	}

	for _, root := range m.cfg.RuleDirs {
		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				return watcher.Add(path)
			}
			return nil
		})
		if err != nil {
			log.Printf("manager %s: watching %s: %v", m.cfg.Category, root, err)
		}
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer watcher.Close()
		for {
			select {
			case <-m.ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				// New subdirectories need their own watch.
				if ev.Op.Has(fsnotify.Create) {
					if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
						if err := watcher.Add(ev.Name); err != nil {
							log.Printf("manager %s: watching %s: %v", m.cfg.Category, ev.Name, err)
						}
					}
				}
				select {
				case events <- struct{}{}:
				default:
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Printf("manager %s: watcher error: %v", m.cfg.Category, err)
			}
		}
	}()

	return events
}

func drainEvents(ch <-chan struct{}) {
	for {
		select {
		case <-ch:
		default:
			return
		}
	}
}

// changed reports whether the hunt set is stale: a loaded hunt's
// backing files changed, a quarantined file changed, or a definition
// file appeared or disappeared.
func (m *Manager) changed() bool {
	m.mu.Lock()
	hunts := make([]hunt.Hunter, 0, len(m.hunts))
	known := make(map[string]bool, len(m.hunts)+len(m.failed)+len(m.skipped))
	for _, h := range m.hunts {
		hunts = append(hunts, h)
		known[h.Base().FilePath] = true
	}
	quarantined := make(map[string]fingerprint, len(m.failed)+len(m.skipped))
	for path, fp := range m.failed {
		quarantined[path] = fp
		known[path] = true
	}
	for path, fp := range m.skipped {
		quarantined[path] = fp
		known[path] = true
	}
	m.mu.Unlock()

	for _, h := range hunts {
		if h.Modified() {
			log.Printf("manager %s: %s changed on disk", m.cfg.Category, h.Base())
			return true
		}
	}
	for path, fp := range quarantined {
		if fp.changed(path) {
			log.Printf("manager %s: quarantined file %s changed", m.cfg.Category, path)
			return true
		}
	}

	paths, err := hunt.Scan(m.cfg.RuleDirs)
	if err != nil {
		log.Printf("manager %s: scanning rule directories: %v", m.cfg.Category, err)
	}
	if len(paths) != len(known) {
		return true
	}
	for _, path := range paths {
		if !known[path] {
			return true
		}
	}
	return false
}

// reloadAll cancels in-flight executions, waits for them to settle,
// and reloads the full hunt set. Runtime state survives through the
// persistence store.
func (m *Manager) reloadAll() {
	m.mu.Lock()
	hunts := make([]hunt.Hunter, 0, len(m.hunts))
	for _, h := range m.hunts {
		hunts = append(hunts, h)
	}
	m.mu.Unlock()

	for _, h := range hunts {
		if h.Base().Running() {
			h.Cancel()
		}
	}
	m.drainExecutions(hunts)

	m.loadHunts()
	metrics.ReloadsTotal.WithLabelValues(m.cfg.Category).Inc()
	m.Wake()
}

// drainExecutions waits, bounded, until none of the given hunts is
// dispatching or running. A hunt still running after the deadline is
// abandoned; its execution finishes against the old definition.
func (m *Manager) drainExecutions(hunts []hunt.Hunter) {
	deadline := time.Now().Add(reloadDrainTimeout)
	for time.Now().Before(deadline) {
		busy := false
		for _, h := range hunts {
			b := h.Base()
			if b.Dispatching() || b.Running() {
				busy = true
				break
			}
		}
		if !busy {
			return
		}
		time.Sleep(100 * time.Millisecond)
	}
	log.Printf("manager %s: executions still running at reload deadline, proceeding", m.cfg.Category)
}

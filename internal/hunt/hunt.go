package hunt

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/good-yellow-bee/firehunt/internal/backend"
	"github.com/good-yellow-bee/firehunt/internal/models"
	"github.com/good-yellow-bee/firehunt/internal/persist"
)

// State classifies a hunt for scheduling.
type State string

const (
	StateDisabled      State = "disabled"
	StateWrongInstance State = "wrong_instance_type"
	StateSuppressed    State = "suppressed"
	StateRunning       State = "running"
	StateReady         State = "ready"
	StateNotYetDue     State = "idle"
)

// Env is the configuration context threaded through manager and hunt
// construction.
type Env struct {
	// Category the owning manager manages.
	Category string
	// InstanceType of this deployment (production, qa, ...).
	InstanceType string
	// Store persists runtime state across restarts.
	Store *persist.Store
	// Backend executes queries for query hunts.
	Backend backend.Executor
	// Now is the clock; nil means time.Now. Tests override it.
	Now func() time.Time
}

func (e *Env) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// Hunter is a schedulable hunt. Hunt implements the common state
// machine; concrete types supply Execute.
type Hunter interface {
	// Base exposes the shared state machine.
	Base() *Hunt
	// Load reads and validates the definition file at path.
	Load(path string) error
	// Execute runs the hunt once. Manual executions must not mutate
	// persisted state.
	Execute(ctx context.Context, manual bool) ([]*models.Submission, error)
	// Cancel requests a best-effort stop of an in-flight execution.
	// Safe to call when the hunt is not executing.
	Cancel()
	// Modified reports whether any backing file changed since Load.
	Modified() bool
}

// Hunt is the runtime entity wrapping one hunt configuration. Its
// execution lock is the sole writer barrier for runtime state; readers
// tolerate slightly stale values.
type Hunt struct {
	// mu is the execution-exclusion lock. Held for the duration of an
	// execution.
	mu sync.Mutex

	env *Env
	cfg *Config

	// FilePath is the definition file this hunt was loaded from.
	FilePath string

	// fingerprints maps every contributing file (definition plus
	// includes) to the mtime observed at load. A zero time means the
	// mtime could not be read.
	fingerprints map[string]time.Time

	// dispatching is set while the manager is acquiring a concurrency
	// token for this hunt, before Running becomes observable.
	dispatching atomic.Bool

	// stateMu guards the persisted fields below.
	stateMu         sync.Mutex
	lastExecuted    time.Time
	hasLastExecuted bool
	lastAlert       time.Time
	hasLastAlert    bool
}

// NewHunt creates an unloaded hunt bound to env.
func NewHunt(env *Env) *Hunt {
	return &Hunt{env: env, fingerprints: map[string]time.Time{}}
}

// Base returns the hunt itself; it makes *Hunt satisfy the Hunter
// embedding contract.
func (h *Hunt) Base() *Hunt { return h }

// Config returns the loaded configuration.
func (h *Hunt) Config() *Config { return h.cfg }

// Name returns the hunt name.
func (h *Hunt) Name() string { return h.cfg.Name }

// Category returns the hunt category.
func (h *Hunt) Category() string { return h.cfg.Category }

func (h *Hunt) String() string {
	if h.cfg == nil {
		return "Hunt(unloaded)"
	}
	return fmt.Sprintf("Hunt(%s[%s])", h.cfg.Name, h.cfg.Category)
}

// Load reads, merges, and validates the definition file, records the
// fingerprints used for hot-reload detection, and eagerly loads the
// persisted runtime state.
func (h *Hunt) Load(path string) error {
	doc, files, err := LoadDocument(path)
	if err != nil {
		return err
	}

	cfg := &Config{}
	if err := decodeRule(doc, path, cfg); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return newLoadError(path, err)
	}

	h.cfg = cfg
	h.FilePath = path
	h.recordFingerprints(files)
	return h.loadState()
}

// recordFingerprints stores the mtime of every contributing file.
func (h *Hunt) recordFingerprints(files []string) {
	h.fingerprints = make(map[string]time.Time, len(files))
	for _, f := range files {
		info, err := os.Stat(f)
		if err != nil {
			log.Printf("unable to stat %s: %v", f, err)
			h.fingerprints[f] = time.Time{}
			continue
		}
		h.fingerprints[f] = info.ModTime()
	}
}

// AddFingerprint tracks an additional backing file (e.g. an external
// query file) for hot-reload detection.
func (h *Hunt) AddFingerprint(path string) {
	info, err := os.Stat(path)
	if err != nil {
		h.fingerprints[path] = time.Time{}
		return
	}
	h.fingerprints[path] = info.ModTime()
}

// Modified reports whether any backing file changed, disappeared, or
// became statable since load.
func (h *Hunt) Modified() bool {
	for path, recorded := range h.fingerprints {
		info, err := os.Stat(path)
		if err != nil {
			return true
		}
		if recorded.IsZero() || !info.ModTime().Equal(recorded) {
			return true
		}
	}
	return false
}

// loadState populates the persisted fields eagerly, making the
// loaded/absent distinction explicit instead of lazily cached.
func (h *Hunt) loadState() error {
	h.stateMu.Lock()
	defer h.stateMu.Unlock()

	t, ok, err := h.env.Store.ReadTime(h.cfg.Category, h.cfg.Name, persist.FieldLastExecutedTime)
	if err != nil {
		return err
	}
	h.lastExecuted, h.hasLastExecuted = t, ok

	t, ok, err = h.env.Store.ReadTime(h.cfg.Category, h.cfg.Name, persist.FieldLastAlertTime)
	if err != nil {
		return err
	}
	h.lastAlert, h.hasLastAlert = t, ok
	return nil
}

// LastExecuted returns the persisted last execution time, if any.
func (h *Hunt) LastExecuted() (time.Time, bool) {
	h.stateMu.Lock()
	defer h.stateMu.Unlock()
	return h.lastExecuted, h.hasLastExecuted
}

// SetLastExecuted records and persists the last execution time.
func (h *Hunt) SetLastExecuted(t time.Time) error {
	h.stateMu.Lock()
	h.lastExecuted, h.hasLastExecuted = t, true
	h.stateMu.Unlock()
	return h.env.Store.WriteTime(h.cfg.Category, h.cfg.Name, persist.FieldLastExecutedTime, t)
}

// LastAlert returns the persisted last alert time, if any.
func (h *Hunt) LastAlert() (time.Time, bool) {
	h.stateMu.Lock()
	defer h.stateMu.Unlock()
	return h.lastAlert, h.hasLastAlert
}

// SetLastAlert records and persists the last alert time.
func (h *Hunt) SetLastAlert(t time.Time) error {
	h.stateMu.Lock()
	h.lastAlert, h.hasLastAlert = t, true
	h.stateMu.Unlock()
	return h.env.Store.WriteTime(h.cfg.Category, h.cfg.Name, persist.FieldLastAlertTime, t)
}

// Suppressed reports whether alert suppression is currently holding
// this hunt back.
func (h *Hunt) Suppressed(now time.Time) bool {
	end, ok := h.SuppressionEnd()
	return ok && now.Before(end)
}

// SuppressionEnd returns when suppression ends. ok is false when the
// hunt has no suppression interval or has never alerted.
func (h *Hunt) SuppressionEnd() (time.Time, bool) {
	if h.cfg.SuppressionInterval() == 0 {
		return time.Time{}, false
	}
	lastAlert, ok := h.LastAlert()
	if !ok {
		return time.Time{}, false
	}
	return lastAlert.Add(h.cfg.SuppressionInterval()), true
}

// NextExecutionTime returns when this hunt should next execute.
// Suppression wins over the schedule; an interval hunt that never ran
// is due immediately; a cron hunt that never ran is due at its nearest
// past occurrence.
func (h *Hunt) NextExecutionTime(now time.Time) time.Time {
	if end, ok := h.SuppressionEnd(); ok && now.Before(end) {
		return end
	}

	lastExecuted, ran := h.LastExecuted()

	if interval := h.cfg.Interval(); interval > 0 {
		if !ran {
			return now.Add(-interval)
		}
		return lastExecuted.Add(interval)
	}

	sched := h.cfg.CronSchedule()
	if !ran {
		return prevOccurrence(sched, now)
	}
	return sched.Next(lastExecuted)
}

// prevOccurrence finds the nearest schedule occurrence at or before
// now. cron.Schedule only computes Next, so occurrences are walked
// forward from a widening lookback window.
func prevOccurrence(sched cron.Schedule, now time.Time) time.Time {
	for _, lookback := range []time.Duration{time.Hour, 24 * time.Hour, 31 * 24 * time.Hour, 366 * 24 * time.Hour} {
		t := now.Add(-lookback)
		prev := time.Time{}
		for {
			n := sched.Next(t)
			if n.IsZero() || n.After(now) {
				break
			}
			prev = n
			t = n
		}
		if !prev.IsZero() {
			return prev
		}
	}
	// Nothing fires within a year; treat the hunt as due now.
	return now
}

// Running reports whether an execution currently holds the exclusion
// lock. The probe is not linearized against a concurrent transition
// into Running; the manager resolves the race at lock-acquisition
// time, at worst skipping one tick.
func (h *Hunt) Running() bool {
	if h.mu.TryLock() {
		h.mu.Unlock()
		return false
	}
	return true
}

// Ready reports whether the hunt should execute now.
func (h *Hunt) Ready(now time.Time) bool {
	if h.Running() {
		return false
	}
	if _, ran := h.LastExecuted(); !ran {
		return true
	}
	return !now.Before(h.NextExecutionTime(now))
}

// ValidInstanceType reports whether the hunt applies to the given
// deployment instance type. A hunt that lists none applies everywhere.
func (h *Hunt) ValidInstanceType(instanceType string) bool {
	if len(h.cfg.InstanceTypes) == 0 {
		return true
	}
	for _, t := range h.cfg.InstanceTypes {
		if strings.EqualFold(t, instanceType) {
			return true
		}
	}
	return false
}

// Classify resolves the scheduling state for one tick.
func (h *Hunt) Classify(now time.Time) State {
	switch {
	case !h.cfg.Enabled:
		return StateDisabled
	case !h.ValidInstanceType(h.env.InstanceType):
		return StateWrongInstance
	case h.Suppressed(now):
		return StateSuppressed
	case h.Dispatching() || h.Running():
		return StateRunning
	case h.Ready(now):
		return StateReady
	default:
		return StateNotYetDue
	}
}

// BeginDispatch marks the hunt as being dispatched. Returns false when
// a dispatch is already in flight.
func (h *Hunt) BeginDispatch() bool {
	return h.dispatching.CompareAndSwap(false, true)
}

// EndDispatch clears the dispatch marker.
func (h *Hunt) EndDispatch() {
	h.dispatching.Store(false)
}

// Dispatching reports whether a dispatch is in flight.
func (h *Hunt) Dispatching() bool {
	return h.dispatching.Load()
}

// Cancel on the base hunt is a no-op; categories that support
// cancellation override it.
func (h *Hunt) Cancel() {
	log.Printf("cancel requested on %s but %s hunts do not support cancel", h, h.cfg.Category)
}

// ExecuteWithLock runs a hunt under its execution-exclusion lock.
// started, if non-nil, is called once the lock is held, so a
// dispatcher can wait for the Running flag to become observable before
// moving on. The last execution time is persisted on completion,
// success or failure, unless the run is manual.
func ExecuteWithLock(ctx context.Context, h Hunter, manual bool, started func()) ([]*models.Submission, error) {
	b := h.Base()
	b.mu.Lock()
	defer b.mu.Unlock()

	if started != nil {
		started()
	}

	log.Printf("executing %s", b)
	submissions, err := h.Execute(ctx, manual)

	if !manual {
		if perr := b.SetLastExecuted(b.env.now()); perr != nil {
			log.Printf("unable to persist last execution time for %s: %v", b, perr)
		}
	}

	return submissions, err
}

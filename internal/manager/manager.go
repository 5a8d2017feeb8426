// Package manager schedules and executes the hunts of one category. A
// manager owns a directory tree of definition files, keeps the loaded
// hunt set current as files change, and dispatches ready hunts under a
// concurrency limit.
package manager

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/good-yellow-bee/firehunt/internal/backend"
	"github.com/good-yellow-bee/firehunt/internal/hunt"
	"github.com/good-yellow-bee/firehunt/internal/limiter"
	"github.com/good-yellow-bee/firehunt/internal/metrics"
	"github.com/good-yellow-bee/firehunt/internal/persist"
	"github.com/good-yellow-bee/firehunt/internal/sink"
)

const (
	defaultTick           = time.Second
	defaultUpdateInterval = time.Minute
	stopTimeout           = 30 * time.Second
)

// Config configures one category manager.
type Config struct {
	// Category is the hunt category this manager owns. Every loaded
	// definition must declare it.
	Category string
	// Kind selects the registered hunt implementation ("query", ...).
	Kind string
	// RuleDirs are the directory trees scanned for definition files.
	RuleDirs []string
	// InstanceType of this deployment, matched against each hunt's
	// instance type list.
	InstanceType string
	// ConcurrencyLimit is empty (unlimited), an integer (local
	// semaphore), or a name (remote semaphore).
	ConcurrencyLimit string
	// CoordinatorAddr is the remote semaphore coordinator address.
	CoordinatorAddr string
	// UpdateInterval is how often definition files are polled for
	// changes. Zero selects the default.
	UpdateInterval time.Duration
	// Tick is the scheduling loop interval. Zero selects the default.
	Tick time.Duration
}

// Manager runs the hunts of one category.
type Manager struct {
	cfg     Config
	env     *hunt.Env
	factory hunt.Factory
	limit   limiter.Limiter
	queue   *sink.Queue

	mu    sync.Mutex
	hunts map[string]hunt.Hunter
	// failed quarantines files that failed to load; skipped quarantines
	// files declaring a category this manager does not own. Both retry
	// when the file's fingerprint changes.
	failed  map[string]fingerprint
	skipped map[string]fingerprint

	// wake forces an immediate scheduling pass.
	wake chan struct{}
	// reload forces a full hunt set reload on the next update pass.
	reload chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	// executing tracks in-flight hunt executions for shutdown.
	executing sync.WaitGroup

	lastStatus string
}

// New creates a manager. store and be are shared service-level
// resources; q receives the submissions produced by executions.
func New(cfg Config, store *persist.Store, be backend.Executor, q *sink.Queue) (*Manager, error) {
	if cfg.Category == "" {
		return nil, errors.New("manager requires a category")
	}
	if len(cfg.RuleDirs) == 0 {
		return nil, fmt.Errorf("manager %s requires at least one rule directory", cfg.Category)
	}
	if cfg.Kind == "" {
		cfg.Kind = "query"
	}
	if cfg.Tick <= 0 {
		cfg.Tick = defaultTick
	}
	if cfg.UpdateInterval <= 0 {
		cfg.UpdateInterval = defaultUpdateInterval
	}

	factory, err := hunt.Lookup(cfg.Kind)
	if err != nil {
		return nil, fmt.Errorf("manager %s: %w", cfg.Category, err)
	}
	lim, err := limiter.New(cfg.ConcurrencyLimit, cfg.CoordinatorAddr)
	if err != nil {
		return nil, fmt.Errorf("manager %s: %w", cfg.Category, err)
	}

	return &Manager{
		cfg:     cfg,
		factory: factory,
		limit:   lim,
		queue:   q,
		env: &hunt.Env{
			Category:     cfg.Category,
			InstanceType: cfg.InstanceType,
			Store:        store,
			Backend:      be,
		},
		hunts:   map[string]hunt.Hunter{},
		failed:  map[string]fingerprint{},
		skipped: map[string]fingerprint{},
		wake:    make(chan struct{}, 1),
		reload:  make(chan struct{}, 1),
	}, nil
}

// Category returns the category this manager owns.
func (m *Manager) Category() string { return m.cfg.Category }

// Start loads the hunt set and starts the scheduling and update loops.
func (m *Manager) Start(ctx context.Context) error {
	m.ctx, m.cancel = context.WithCancel(ctx)

	m.loadHunts()

	m.wg.Add(2)
	go m.runLoop()
	go m.updateLoop()

	log.Printf("manager %s started with %d hunts", m.cfg.Category, m.HuntCount())
	return nil
}

// Stop cancels in-flight executions and waits, bounded, for the loops
// and workers to finish.
func (m *Manager) Stop() {
	if m.cancel != nil {
		m.cancel()
	}

	m.mu.Lock()
	for _, h := range m.hunts {
		if h.Base().Running() {
			h.Cancel()
		}
	}
	m.mu.Unlock()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		m.executing.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(stopTimeout):
		log.Printf("manager %s: executions still running after %v, abandoning", m.cfg.Category, stopTimeout)
	}
	log.Printf("manager %s stopped", m.cfg.Category)
}

// Wake forces an immediate scheduling pass.
func (m *Manager) Wake() {
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

// SignalReload discards the loaded hunt set and reloads everything on
// the next update pass.
func (m *Manager) SignalReload() {
	select {
	case m.reload <- struct{}{}:
	default:
	}
}

// HuntCount returns the number of loaded hunts.
func (m *Manager) HuntCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.hunts)
}

// Hunt returns the loaded hunt with the given name.
func (m *Manager) Hunt(name string) (hunt.Hunter, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.hunts[name]
	return h, ok
}

func (m *Manager) now() time.Time {
	if m.env.Now != nil {
		return m.env.Now()
	}
	return time.Now()
}

// snapshot returns the loaded hunts sorted by next execution time.
func (m *Manager) snapshot(now time.Time) []hunt.Hunter {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]hunt.Hunter, 0, len(m.hunts))
	for _, h := range m.hunts {
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool {
		ti := out[i].Base().NextExecutionTime(now)
		tj := out[j].Base().NextExecutionTime(now)
		if ti.Equal(tj) {
			return out[i].Base().Name() < out[j].Base().Name()
		}
		return ti.Before(tj)
	})
	return out
}

// runLoop evaluates the hunt set every tick and dispatches ready hunts
// in next-execution-time order.
func (m *Manager) runLoop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.cfg.Tick)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
		case <-m.wake:
		}
		m.schedule()
	}
}

func (m *Manager) schedule() {
	now := m.now()
	counts := map[hunt.State]int{}

	for _, h := range m.snapshot(now) {
		state := h.Base().Classify(now)
		counts[state]++
		if state == hunt.StateReady {
			m.dispatch(h)
		}
	}

	status := fmt.Sprintf("manager %s status: ready %d, running %d, idle %d, suppressed %d, disabled %d, wrong instance %d",
		m.cfg.Category,
		counts[hunt.StateReady], counts[hunt.StateRunning], counts[hunt.StateNotYetDue],
		counts[hunt.StateSuppressed], counts[hunt.StateDisabled], counts[hunt.StateWrongInstance])
	if status != m.lastStatus {
		log.Print(status)
		m.lastStatus = status
	}
}

// dispatch hands one ready hunt to a worker. The scheduling loop never
// blocks on token acquisition: the hunt is marked dispatching, and a
// dedicated goroutine waits for a concurrency slot, then executes. The
// dispatching marker clears only once the execution lock is held, so
// the hunt is continuously observable as not-ready from BeginDispatch
// through the end of execution.
func (m *Manager) dispatch(h hunt.Hunter) {
	b := h.Base()
	if !b.BeginDispatch() {
		return
	}

	m.executing.Add(1)
	go func() {
		defer m.executing.Done()

		waitStart := time.Now()
		tok, err := m.limit.Acquire(m.ctx)
		if err != nil {
			b.EndDispatch()
			return
		}
		defer tok.Release()
		metrics.SemaphoreWaitDuration.WithLabelValues(m.cfg.Category).Observe(time.Since(waitStart).Seconds())

		metrics.ExecutionsInFlight.WithLabelValues(m.cfg.Category).Inc()
		defer metrics.ExecutionsInFlight.WithLabelValues(m.cfg.Category).Dec()

		m.execute(h)
	}()
}

// execute runs one hunt under its exclusion lock and routes the
// produced submissions to the queue.
func (m *Manager) execute(h hunt.Hunter) {
	b := h.Base()
	start := time.Now()

	subs, err := hunt.ExecuteWithLock(m.ctx, h, false, b.EndDispatch)

	metrics.ExecutionDuration.WithLabelValues(m.cfg.Category, b.Name()).Observe(time.Since(start).Seconds())
	if err != nil {
		log.Printf("execution of %s failed: %v", b, err)
		metrics.ExecutionsTotal.WithLabelValues(m.cfg.Category, b.Name(), "error").Inc()
		return
	}
	metrics.ExecutionsTotal.WithLabelValues(m.cfg.Category, b.Name(), "ok").Inc()

	if len(subs) == 0 {
		return
	}
	if err := b.SetLastAlert(m.now()); err != nil {
		log.Printf("unable to persist last alert time for %s: %v", b, err)
	}
	for _, sub := range subs {
		m.queue.Put(sub)
		metrics.SubmissionsTotal.WithLabelValues(m.cfg.Category, b.Name()).Inc()
	}
	log.Printf("%s produced %d submissions", b, len(subs))
}

// loadHunts scans the rule directories and loads every definition file
// that is not quarantined. Existing loaded hunts for the same files are
// replaced.
func (m *Manager) loadHunts() {
	paths, err := hunt.Scan(m.cfg.RuleDirs)
	if err != nil {
		log.Printf("manager %s: scanning rule directories: %v", m.cfg.Category, err)
	}

	loaded := map[string]hunt.Hunter{}
	failed := map[string]fingerprint{}
	skipped := map[string]fingerprint{}

	for _, path := range paths {
		h := m.factory(m.env)
		if err := h.Load(path); err != nil {
			log.Printf("manager %s: %v", m.cfg.Category, err)
			failed[path] = m.quarantine(path)
			continue
		}
		b := h.Base()
		if b.Category() != m.cfg.Category {
			cerr := &hunt.InvalidCategoryError{Path: path, Want: m.cfg.Category, Got: b.Category()}
			log.Printf("manager %s: %v", m.cfg.Category, cerr)
			skipped[path] = m.quarantine(path)
			continue
		}
		if prev, dup := loaded[b.Name()]; dup {
			log.Printf("manager %s: duplicate hunt name %q in %s and %s, keeping the first",
				m.cfg.Category, b.Name(), prev.Base().FilePath, path)
			failed[path] = m.quarantine(path)
			continue
		}
		loaded[b.Name()] = h
	}

	m.mu.Lock()
	m.hunts = loaded
	m.failed = failed
	m.skipped = skipped
	m.mu.Unlock()

	metrics.HuntsLoaded.WithLabelValues(m.cfg.Category).Set(float64(len(loaded)))
	metrics.LoadFailuresTotal.WithLabelValues(m.cfg.Category).Add(float64(len(failed)))
	log.Printf("manager %s loaded %d hunts (%d failed, %d skipped)",
		m.cfg.Category, len(loaded), len(failed), len(skipped))
}

// quarantine fingerprints a file so it is retried only after it
// changes. An unreadable file gets a zero fingerprint, which always
// reads as changed.
func (m *Manager) quarantine(path string) fingerprint {
	fp, err := fingerprintFile(path)
	if err != nil {
		return fingerprint{}
	}
	return fp
}

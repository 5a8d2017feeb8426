package hunt

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/good-yellow-bee/firehunt/internal/backend"
	"github.com/good-yellow-bee/firehunt/internal/interp"
	"github.com/good-yellow-bee/firehunt/internal/mapper"
	"github.com/good-yellow-bee/firehunt/internal/models"
	"github.com/good-yellow-bee/firehunt/internal/persist"
)

func init() {
	Register("query", func(env *Env) Hunter { return NewQueryHunt(env) })
}

// QueryHunt runs a query against a search backend over a computed time
// window and turns the result rows into submissions.
type QueryHunt struct {
	*Hunt

	qcfg        *QueryConfig
	loadedQuery string
	filter      *vm.Program

	// watermark state, guarded by the base stateMu.
	lastEnd    time.Time
	hasLastEnd bool

	cancelMu sync.Mutex
	cancel   context.CancelFunc
}

// NewQueryHunt creates an unloaded query hunt bound to env.
func NewQueryHunt(env *Env) *QueryHunt {
	return &QueryHunt{Hunt: NewHunt(env)}
}

// QueryConfig returns the loaded query configuration.
func (q *QueryHunt) QueryConfig() *QueryConfig { return q.qcfg }

// Load reads and validates the definition, the referenced query file
// (if any), the optional row filter, and the persisted watermark.
func (q *QueryHunt) Load(path string) error {
	doc, files, err := LoadDocument(path)
	if err != nil {
		return err
	}

	qcfg := &QueryConfig{}
	if err := decodeRule(doc, path, qcfg); err != nil {
		return err
	}
	if err := qcfg.Validate(); err != nil {
		return newLoadError(path, err)
	}

	q.qcfg = qcfg
	q.cfg = &qcfg.Config
	q.FilePath = path
	q.recordFingerprints(files)

	if qcfg.QueryPath != "" {
		queryPath := qcfg.QueryPath
		if !filepath.IsAbs(queryPath) {
			queryPath = filepath.Join(filepath.Dir(path), queryPath)
		}
		data, err := os.ReadFile(queryPath)
		if err != nil {
			return newLoadError(path, fmt.Errorf("query file: %w", err))
		}
		q.loadedQuery = string(data)
		q.AddFingerprint(queryPath)
	}

	if qcfg.Filter != "" {
		program, err := expr.Compile(qcfg.Filter, expr.AsBool())
		if err != nil {
			return newLoadError(path, fmt.Errorf("compile filter: %w", err))
		}
		q.filter = program
	}

	if err := q.loadState(); err != nil {
		return err
	}
	return q.loadWatermark()
}

func (q *QueryHunt) loadWatermark() error {
	t, ok, err := q.env.Store.ReadTime(q.cfg.Category, q.cfg.Name, persist.FieldLastEndTime)
	if err != nil {
		return err
	}
	q.stateMu.Lock()
	q.lastEnd, q.hasLastEnd = t, ok
	q.stateMu.Unlock()
	return nil
}

// LastEnd returns the persisted watermark, if any.
func (q *QueryHunt) LastEnd() (time.Time, bool) {
	q.stateMu.Lock()
	defer q.stateMu.Unlock()
	return q.lastEnd, q.hasLastEnd
}

// SetLastEnd records and persists the watermark.
func (q *QueryHunt) SetLastEnd(t time.Time) error {
	q.stateMu.Lock()
	q.lastEnd, q.hasLastEnd = t, true
	q.stateMu.Unlock()
	return q.env.Store.WriteTime(q.cfg.Category, q.cfg.Name, persist.FieldLastEndTime, t)
}

// QueryText returns the inline query or the content of the referenced
// query file.
func (q *QueryHunt) QueryText() string {
	if q.qcfg.Query != "" {
		return q.qcfg.Query
	}
	return q.loadedQuery
}

// Window computes the execution time window at now.
//
// Full-coverage hunts resume from the watermark: the window starts at
// last_end_time and extends one time_range, clamped to now. When the
// hunt has fallen behind by more than one full time_range the window
// may extend up to max_time_range to accelerate catch-up. Without a
// watermark, or without full coverage, the window is a plain
// [now-time_range, now) slide.
func (q *QueryHunt) Window(now time.Time) (start, end time.Time) {
	timeRange := q.qcfg.TimeRangeDuration()

	if !q.qcfg.FullCoverage {
		return now.Add(-timeRange), now
	}

	lastEnd, ok := q.LastEnd()
	if !ok {
		return now.Add(-timeRange), now
	}

	start = lastEnd
	end = lastEnd.Add(timeRange)

	if maxRange := q.qcfg.MaxTimeRangeDuration(); maxRange > 0 && now.Sub(lastEnd.Add(timeRange)) > timeRange {
		end = lastEnd.Add(maxRange)
	}
	if end.After(now) {
		end = now
	}
	return start, end
}

// Execute runs the query over the computed window and processes the
// results. The watermark advances to the pre-offset window end only on
// success, so a failed window is retried verbatim. Manual executions
// never touch persisted state and never apply the offset.
func (q *QueryHunt) Execute(ctx context.Context, manual bool) ([]*models.Submission, error) {
	return q.ExecuteWindow(ctx, manual, time.Time{}, time.Time{})
}

// ExecuteWindow is Execute with optional explicit boundaries, used for
// ad-hoc command line hunting. Zero times fall back to the computed
// window.
func (q *QueryHunt) ExecuteWindow(ctx context.Context, manual bool, start, end time.Time) ([]*models.Submission, error) {
	now := q.env.now()

	targetStart, targetEnd := q.Window(now)
	if !start.IsZero() {
		targetStart = start
	}
	if !end.IsZero() {
		targetEnd = end
	}

	queryStart, queryEnd := targetStart, targetEnd
	if offset := q.qcfg.OffsetDuration(); offset > 0 && !manual {
		// The offset absorbs upstream indexing delay; the watermark
		// below still reflects the un-offset boundaries.
		queryStart = queryStart.Add(-offset)
		queryEnd = queryEnd.Add(-offset)
	}

	ctx, cancel := context.WithCancel(ctx)
	q.setCancel(cancel)
	defer q.setCancel(nil)
	defer cancel()

	events, err := q.env.Backend.Run(ctx, q.QueryText(), queryStart, queryEnd, backend.Options{
		UseIndexTime: q.qcfg.UseIndexTime,
		Timeout:      q.qcfg.QueryTimeoutDuration(),
		Limit:        q.qcfg.MaxResults,
	})
	if err != nil {
		return nil, fmt.Errorf("query for %s: %w", q.Hunt, err)
	}

	events = q.filterEvents(events)
	submissions := q.processor().Process(events, now)

	if !manual {
		if err := q.SetLastEnd(targetEnd); err != nil {
			return submissions, fmt.Errorf("persist watermark for %s: %w", q.Hunt, err)
		}
	}
	return submissions, nil
}

func (q *QueryHunt) setCancel(cancel context.CancelFunc) {
	q.cancelMu.Lock()
	q.cancel = cancel
	q.cancelMu.Unlock()
}

// Cancel aborts an in-flight query. Safe to call when idle.
func (q *QueryHunt) Cancel() {
	q.cancelMu.Lock()
	cancel := q.cancel
	q.cancelMu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// filterEvents applies the optional row filter expression.
func (q *QueryHunt) filterEvents(events []models.Event) []models.Event {
	if q.filter == nil {
		return events
	}

	kept := events[:0]
	for _, event := range events {
		result, err := expr.Run(q.filter, map[string]any(event))
		if err != nil {
			log.Printf("filter error for %s: %v", q.Hunt, err)
			continue
		}
		if matched, ok := result.(bool); ok && matched {
			kept = append(kept, event)
		}
	}
	return kept
}

func (q *QueryHunt) processor() *mapper.Processor {
	return &mapper.Processor{
		Mappings:      q.qcfg.ObservableMappings,
		GroupBy:       q.qcfg.GroupBy,
		IgnoredValues: q.qcfg.IgnoredValues,
		NewSubmission: q.newSubmission,
		EventTime:     q.eventTime,
		Extra:         q.extraObservables,
	}
}

// eventTime extracts the event timestamp from the configured field.
func (q *QueryHunt) eventTime(event models.Event) (time.Time, bool) {
	v, ok := event.Get(q.qcfg.EventTimeField)
	if !ok {
		return time.Time{}, false
	}
	switch t := v.(type) {
	case time.Time:
		return t, true
	case *time.Time:
		if t == nil {
			return time.Time{}, false
		}
		return *t, true
	case string:
		for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05"} {
			if parsed, err := time.Parse(layout, t); err == nil {
				return parsed, true
			}
		}
	}
	return time.Time{}, false
}

// newSubmission builds a decorated submission for one event.
func (q *QueryHunt) newSubmission(event models.Event) *models.Submission {
	cfg := q.cfg
	sub := models.NewSubmission()
	sub.Name = interp.EvaluateFirst(cfg.Name, event)
	sub.Description = interp.EvaluateFirst(cfg.Description, event)
	sub.Category = cfg.Category
	sub.AlertType = cfg.AlertType
	sub.AnalysisMode = cfg.AnalysisMode
	sub.Queue = cfg.Queue
	sub.Tool = "hunter-" + cfg.Category
	if q.env.Backend != nil {
		sub.ToolInstance = q.env.Backend.Instance()
	}

	for _, tag := range cfg.Tags {
		for _, resolved := range interp.Evaluate(tag, event) {
			sub.AddTag(resolved)
		}
	}
	for _, link := range cfg.PivotLinks {
		sub.PivotLinks = append(sub.PivotLinks, models.PivotLink{
			URL:  interp.EvaluateFirst(link.URL, event),
			Icon: interp.EvaluateFirst(link.Icon, event),
			Text: interp.EvaluateFirst(link.Text, event),
		})
	}
	if cfg.PlaybookURL != "" {
		sub.Extensions[models.ExtensionPlaybookURL] = interp.EvaluateFirst(cfg.PlaybookURL, event)
	}
	if cfg.Icon != nil {
		sub.Extensions[models.ExtensionIcon] = *cfg.Icon
	}
	return sub
}

// extraObservables decorates every event's result set with the hunt
// identity.
func (q *QueryHunt) extraObservables(event models.Event) []*models.Observable {
	return []*models.Observable{
		{Type: models.TypeHunt, Value: q.cfg.Name},
		{Type: models.TypeSignatureID, Value: q.cfg.ID},
	}
}

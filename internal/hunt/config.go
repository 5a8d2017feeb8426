// Package hunt implements the hunt scheduling engine: typed hunt
// configuration loaded from YAML definition files, the Hunt state
// machine, and the query-windowed QueryHunt specialization.
package hunt

import (
	"bytes"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"github.com/good-yellow-bee/firehunt/internal/mapper"
	"github.com/good-yellow-bee/firehunt/internal/models"
)

// Default queue for submissions that don't name one.
const QueueDefault = "default"

// ruleKey is the top-level key a definition document nests its body
// under, so shared include fragments can also carry non-rule content.
const ruleKey = "rule"

// IconConfig selects the icon shown with alerts from this hunt.
type IconConfig struct {
	Name  string `yaml:"name" json:"name"`
	Color string `yaml:"color,omitempty" json:"color,omitempty"`
}

// Config is the immutable definition of a hunt.
type Config struct {
	// ID uniquely identifies the hunt across all repositories.
	ID string `yaml:"id"`
	// Name is unique within the hunt's category.
	Name string `yaml:"name"`
	// Category names the manager (and executor implementation) that
	// owns this hunt.
	Category string `yaml:"category"`
	// Enabled gates scheduling; a disabled hunt is never executed.
	Enabled bool `yaml:"enabled"`
	// InstanceTypes restricts which deployment instances run this hunt
	// (e.g. production, qa). Empty means none.
	InstanceTypes []string `yaml:"instance_types"`
	// Description explains what the hunt looks for.
	Description string `yaml:"description"`
	// AlertType categorizes resulting alerts downstream.
	AlertType string `yaml:"alert_type"`
	// AnalysisMode selects the downstream analysis mode.
	AnalysisMode string `yaml:"analysis_mode"`
	// Frequency is either a Go duration ("30m") or a cron expression
	// ("*/15 * * * *"). Exactly one interpretation applies.
	Frequency string `yaml:"frequency"`
	// Queue routes submissions to a work queue.
	Queue string `yaml:"queue"`
	// Suppression holds readiness false for this long after an
	// alerting execution.
	Suppression string `yaml:"suppression"`
	// PlaybookURL links the investigation playbook.
	PlaybookURL string `yaml:"playbook_url"`
	// Tags are attached to every alert.
	Tags []string `yaml:"tags"`
	// PivotLinks are displayed alongside alerts.
	PivotLinks []models.PivotLink `yaml:"pivot_links"`
	// Icon selects the alert icon.
	Icon *IconConfig `yaml:"icon"`
	// AlertTemplate renders the alert in the UI.
	AlertTemplate string `yaml:"alert_template"`

	// parsed during Validate (internal use).
	interval    time.Duration
	cronSched   cron.Schedule
	suppression time.Duration
}

// Validate checks the configuration and parses derived fields.
func (c *Config) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("hunt id is required")
	}
	if c.Name == "" {
		return fmt.Errorf("hunt name is required")
	}
	if c.Category == "" {
		return fmt.Errorf("category is required for hunt %q", c.Name)
	}
	if c.Description == "" {
		return fmt.Errorf("description is required for hunt %q", c.Name)
	}
	if c.AlertType == "" {
		return fmt.Errorf("alert_type is required for hunt %q", c.Name)
	}
	if c.Frequency == "" {
		return fmt.Errorf("frequency is required for hunt %q", c.Name)
	}

	// The schedule is exactly one of a fixed interval or a cron
	// expression, decided here.
	if d, err := time.ParseDuration(c.Frequency); err == nil {
		if d <= 0 {
			return fmt.Errorf("frequency must be positive for hunt %q", c.Name)
		}
		c.interval = d
	} else {
		sched, err := cron.ParseStandard(c.Frequency)
		if err != nil {
			return fmt.Errorf("frequency %q for hunt %q is neither a duration nor a cron expression", c.Frequency, c.Name)
		}
		c.cronSched = sched
	}

	if c.Suppression != "" {
		d, err := time.ParseDuration(c.Suppression)
		if err != nil {
			return fmt.Errorf("invalid suppression %q for hunt %q: %w", c.Suppression, c.Name, err)
		}
		c.suppression = d
	}

	if c.Queue == "" {
		c.Queue = QueueDefault
	}

	return nil
}

// Interval returns the fixed execution interval, or zero when the hunt
// is cron-scheduled.
func (c *Config) Interval() time.Duration { return c.interval }

// CronSchedule returns the parsed cron schedule, or nil for
// interval-scheduled hunts.
func (c *Config) CronSchedule() cron.Schedule { return c.cronSched }

// SuppressionInterval returns the parsed suppression interval (zero if
// unset).
func (c *Config) SuppressionInterval() time.Duration { return c.suppression }

// QueryConfig extends Config for hunts that query a search backend over
// a time window.
type QueryConfig struct {
	Config `yaml:",inline"`

	// TimeRange is the window width (Go duration).
	TimeRange string `yaml:"time_range"`
	// MaxTimeRange caps catch-up windows for full-coverage hunts.
	MaxTimeRange string `yaml:"max_time_range"`
	// FullCoverage enables watermark windowing: every instant queried
	// exactly once.
	FullCoverage bool `yaml:"full_coverage"`
	// UseIndexTime queries by index time instead of event time.
	UseIndexTime bool `yaml:"use_index_time"`
	// Offset shifts query boundaries backward to absorb indexing delay.
	Offset string `yaml:"offset"`
	// GroupBy merges events sharing this field into one submission.
	// The literal key "ALL" merges everything.
	GroupBy string `yaml:"group_by"`
	// Query is the inline query text.
	Query string `yaml:"query"`
	// QueryPath loads the query from a file instead (relative to the
	// definition file).
	QueryPath string `yaml:"search"`
	// Filter is an optional expression applied to each result row;
	// rows that don't match are dropped before mapping.
	Filter string `yaml:"filter"`
	// ObservableMappings convert event fields to observables.
	ObservableMappings []*mapper.Mapping `yaml:"observable_mapping"`
	// MaxResults caps rows processed per execution (0 = unlimited).
	MaxResults int `yaml:"max_result_count"`
	// QueryTimeout bounds query execution (Go duration).
	QueryTimeout string `yaml:"query_timeout"`
	// IgnoredValues are dropped from every mapping's candidates.
	IgnoredValues []string `yaml:"ignored_values"`
	// EventTimeField names the result column carrying the event
	// timestamp (default "event_time").
	EventTimeField string `yaml:"event_time_field"`

	// parsed during Validate (internal use).
	timeRange    time.Duration
	maxTimeRange time.Duration
	offset       time.Duration
	queryTimeout time.Duration
}

// Validate checks the configuration and parses derived fields.
func (q *QueryConfig) Validate() error {
	if err := q.Config.Validate(); err != nil {
		return err
	}

	if q.TimeRange == "" {
		return fmt.Errorf("time_range is required for hunt %q", q.Name)
	}
	d, err := time.ParseDuration(q.TimeRange)
	if err != nil || d <= 0 {
		return fmt.Errorf("invalid time_range %q for hunt %q", q.TimeRange, q.Name)
	}
	q.timeRange = d

	if q.MaxTimeRange != "" {
		d, err := time.ParseDuration(q.MaxTimeRange)
		if err != nil {
			return fmt.Errorf("invalid max_time_range %q for hunt %q: %w", q.MaxTimeRange, q.Name, err)
		}
		if d < q.timeRange {
			return fmt.Errorf("max_time_range must be >= time_range for hunt %q", q.Name)
		}
		q.maxTimeRange = d
	}

	if q.Offset != "" {
		d, err := time.ParseDuration(q.Offset)
		if err != nil || d < 0 {
			return fmt.Errorf("invalid offset %q for hunt %q", q.Offset, q.Name)
		}
		q.offset = d
	}

	if q.QueryTimeout != "" {
		d, err := time.ParseDuration(q.QueryTimeout)
		if err != nil {
			return fmt.Errorf("invalid query_timeout %q for hunt %q: %w", q.QueryTimeout, q.Name, err)
		}
		q.queryTimeout = d
	}

	if q.Query == "" && q.QueryPath == "" {
		return fmt.Errorf("hunt %q needs either query or search", q.Name)
	}
	if q.Query != "" && q.QueryPath != "" {
		return fmt.Errorf("hunt %q sets both query and search", q.Name)
	}

	if q.EventTimeField == "" {
		q.EventTimeField = "event_time"
	}

	for i, m := range q.ObservableMappings {
		if err := m.Validate(); err != nil {
			return fmt.Errorf("observable mapping %d for hunt %q: %w", i, q.Name, err)
		}
	}

	return nil
}

// TimeRangeDuration returns the parsed window width.
func (q *QueryConfig) TimeRangeDuration() time.Duration { return q.timeRange }

// MaxTimeRangeDuration returns the parsed catch-up cap (zero if unset).
func (q *QueryConfig) MaxTimeRangeDuration() time.Duration { return q.maxTimeRange }

// OffsetDuration returns the parsed query offset (zero if unset).
func (q *QueryConfig) OffsetDuration() time.Duration { return q.offset }

// QueryTimeoutDuration returns the parsed query timeout (zero if unset).
func (q *QueryConfig) QueryTimeoutDuration() time.Duration { return q.queryTimeout }

// decodeRule validates a merged definition document against the given
// config target. The document body lives under the top-level "rule"
// key; unknown fields are rejected.
func decodeRule(doc map[string]any, path string, target any) error {
	body, ok := doc[ruleKey]
	if !ok {
		return newLoadError(path, fmt.Errorf("document has no %q key", ruleKey))
	}

	encoded, err := yaml.Marshal(body)
	if err != nil {
		return newLoadError(path, err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(encoded))
	dec.KnownFields(true)
	if err := dec.Decode(target); err != nil {
		return newLoadError(path, err)
	}
	return nil
}

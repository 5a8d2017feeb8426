package models

import (
	"time"

	"github.com/google/uuid"
)

// Extension keys attached to submissions.
const (
	ExtensionPlaybookURL = "playbook_url"
	ExtensionIcon        = "icon"
)

// PivotLink is a link displayed alongside an alert.
type PivotLink struct {
	URL  string `json:"url" yaml:"url"`
	Icon string `json:"icon,omitempty" yaml:"icon,omitempty"`
	Text string `json:"text" yaml:"text"`
}

// Submission is a packaged finding handed to downstream correlation.
// One submission is produced per event, or per group key when the hunt
// groups its results.
type Submission struct {
	// ID uniquely identifies the submission.
	ID string `json:"id"`
	// Name is the interpolated hunt name.
	Name string `json:"name"`
	// Description is the interpolated hunt description, annotated with
	// the group key and event count for grouped submissions.
	Description string `json:"description"`
	// Category is the hunt category that produced this submission.
	Category string `json:"category"`
	// AlertType categorizes the alert downstream.
	AlertType string `json:"alert_type"`
	// AnalysisMode selects the downstream analysis mode.
	AnalysisMode string `json:"analysis_mode"`
	// Queue is the work queue the submission is routed to.
	Queue string `json:"queue"`
	// Tool identifies the producing subsystem ("hunter-<category>").
	Tool string `json:"tool"`
	// ToolInstance identifies the backend the result came from.
	ToolInstance string `json:"tool_instance"`
	// EventTime is the event time, or the earliest event time in the
	// group for grouped submissions.
	EventTime time.Time `json:"event_time"`
	// Tags attached to the alert.
	Tags []string `json:"tags,omitempty"`
	// PivotLinks displayed alongside the alert.
	PivotLinks []PivotLink `json:"pivot_links,omitempty"`
	// Extensions carries auxiliary metadata (playbook URL, icon).
	Extensions map[string]any `json:"extensions,omitempty"`
	// Observables extracted from the events.
	Observables []*Observable `json:"observables,omitempty"`
	// Files holds decoded file content extracted from the events.
	Files []FileContent `json:"files,omitempty"`
	// Events are the accumulated raw rows behind this submission.
	Events []Event `json:"events"`
}

// NewSubmission creates an empty submission with a fresh ID.
func NewSubmission() *Submission {
	return &Submission{
		ID:         uuid.New().String(),
		Extensions: map[string]any{},
	}
}

// AddObservable appends an observable unless an equal one is already
// present. Returns the stored observable (the existing one on a
// duplicate) so callers can attach relationships to it.
func (s *Submission) AddObservable(o *Observable) *Observable {
	for _, existing := range s.Observables {
		if existing.Equal(o) {
			return existing
		}
	}
	s.Observables = append(s.Observables, o)
	return o
}

// FindObservable returns the first observable with the given type and
// value, or nil.
func (s *Submission) FindObservable(typ, value string) *Observable {
	for _, o := range s.Observables {
		if o.Type == typ && o.Value == value {
			return o
		}
	}
	return nil
}

// AddEvent appends a raw event row.
func (s *Submission) AddEvent(e Event) {
	s.Events = append(s.Events, e)
}

// AddFile appends decoded file content.
func (s *Submission) AddFile(f FileContent) {
	s.Files = append(s.Files, f)
}

// AddTag adds a tag if not already present.
func (s *Submission) AddTag(tag string) {
	for _, t := range s.Tags {
		if t == tag {
			return
		}
	}
	s.Tags = append(s.Tags, tag)
}

// ObserveEventTime lowers EventTime to t if t is earlier than the
// current value (or the value is unset).
func (s *Submission) ObserveEventTime(t time.Time) {
	if s.EventTime.IsZero() || t.Before(s.EventTime) {
		s.EventTime = t
	}
}

package mapper

import (
	"fmt"
	"log"
	"time"

	"github.com/good-yellow-bee/firehunt/internal/interp"
	"github.com/good-yellow-bee/firehunt/internal/models"
)

// GroupAll is the group_by value that merges every event into a single
// submission.
const GroupAll = "ALL"

// pendingRelationship defers relationship resolution until all
// mappings for an event have been materialized.
type pendingRelationship struct {
	source  *models.Observable
	mapping RelationshipMapping
}

// MapEvent applies every mapping to one event and returns the
// resulting observables and file contents. Relationships are resolved
// in a second pass once the full result set for the event exists.
func MapEvent(mappings []*Mapping, event models.Event, eventTime time.Time, globalIgnored []string) ([]*models.Observable, []models.FileContent) {
	var observables []*models.Observable
	var files []models.FileContent
	var pending []pendingRelationship

	for _, m := range mappings {
		if !fieldsPresent(m, event) {
			continue
		}

		candidates := resolveCandidates(m, event)

		for _, value := range candidates {
			if value == "" || ignored(value, m.IgnoredValues) || ignored(value, globalIgnored) {
				continue
			}

			if m.Type == models.TypeFile {
				content, err := decodeValue(value, m.FileDecoder)
				if err != nil {
					log.Printf("skipping file mapping value: %v", err)
					continue
				}
				files = append(files, models.FileContent{
					Name:    interp.EvaluateFirst(m.FileName, event),
					Content: content,
				})
				continue
			}

			obs := &models.Observable{
				Type:         m.Type,
				Value:        value,
				DisplayType:  m.DisplayType,
				DisplayValue: m.DisplayValue,
				Volatile:     m.Volatile,
			}
			if m.Time {
				t := eventTime
				obs.Time = &t
			}
			for _, directive := range m.Directives {
				for _, resolved := range interp.Evaluate(directive, event) {
					obs.AddDirective(resolved)
				}
			}
			for _, tag := range m.Tags {
				for _, resolved := range interp.Evaluate(tag, event) {
					obs.AddTag(resolved)
				}
			}

			if existing := findObservable(observables, obs.Type, obs.Value); existing != nil {
				obs = existing
			} else {
				observables = append(observables, obs)
			}

			for _, rel := range m.Relationships {
				pending = append(pending, pendingRelationship{source: obs, mapping: rel})
			}
		}
	}

	resolveRelationships(observables, pending, event)

	return observables, files
}

// fieldsPresent is the strict mapping precondition: every required
// field must resolve against the event.
func fieldsPresent(m *Mapping, event models.Event) bool {
	for _, field := range m.Fields {
		if _, ok := interp.Extract(event, m.LookupType, field); !ok {
			return false
		}
	}
	return true
}

// resolveCandidates computes the candidate observable values for a
// mapping: the interpolated static template when configured, otherwise
// the first required field's raw value, with list values expanding to
// one candidate per element.
func resolveCandidates(m *Mapping, event models.Event) []string {
	if m.Value != "" {
		return interp.Evaluate(m.Value, event)
	}

	raw, ok := interp.Extract(event, m.LookupType, m.Fields[0])
	if !ok {
		return nil
	}
	if list, isList := asList(raw); isList {
		candidates := make([]string, 0, len(list))
		for _, item := range list {
			candidates = append(candidates, interp.Stringify(item))
		}
		return candidates
	}
	return []string{interp.Stringify(raw)}
}

func asList(v any) ([]any, bool) {
	switch l := v.(type) {
	case []any:
		return l, true
	case []string:
		out := make([]any, len(l))
		for i, s := range l {
			out[i] = s
		}
		return out, true
	default:
		return nil, false
	}
}

func ignored(value string, ignoredValues []string) bool {
	for _, v := range ignoredValues {
		if value == v {
			return true
		}
	}
	return false
}

func findObservable(observables []*models.Observable, typ, value string) *models.Observable {
	for _, o := range observables {
		if o.Type == typ && o.Value == value {
			return o
		}
	}
	return nil
}

// resolveRelationships matches each declared relationship's
// re-interpolated target value against an already-created observable of
// the declared target type. An unresolved target silently drops the
// relationship; a placeholder relationship is never created.
func resolveRelationships(observables []*models.Observable, pending []pendingRelationship, event models.Event) {
	for _, p := range pending {
		for _, target := range interp.Evaluate(p.mapping.TargetValue, event) {
			if findObservable(observables, p.mapping.TargetType, target) == nil {
				continue
			}
			p.source.AddRelationship(models.Relationship{
				Type:        p.mapping.Type,
				TargetType:  p.mapping.TargetType,
				TargetValue: target,
			})
		}
	}
}

// Processor turns query result rows into submissions, honoring the
// hunt's grouping configuration.
type Processor struct {
	// Mappings convert event fields to observables.
	Mappings []*Mapping
	// GroupBy merges events sharing this field into one submission;
	// GroupAll merges everything; empty means one submission per
	// event.
	GroupBy string
	// IgnoredValues is the hunt-global ignore list.
	IgnoredValues []string
	// NewSubmission creates a decorated submission for an event.
	NewSubmission func(event models.Event) *models.Submission
	// EventTime extracts the event timestamp; ok=false falls back to
	// the processing time.
	EventTime func(event models.Event) (time.Time, bool)
	// Extra returns observables appended to every event's result set
	// (hunt name, signature id).
	Extra func(event models.Event) []*models.Observable
}

// Process maps all events and packages them into submissions. With no
// grouping, every event yields its own submission. With grouping,
// events sharing a group key merge: observables de-duplicate within
// the group, the submission keeps the earliest event time, and the
// description is annotated with the accumulated event count.
func (p *Processor) Process(events []models.Event, now time.Time) []*models.Submission {
	var submissions []*models.Submission
	groups := map[string]*models.Submission{}

	for _, event := range events {
		eventTime := now
		if p.EventTime != nil {
			if t, ok := p.EventTime(event); ok {
				eventTime = t
			}
		}

		observables, files := MapEvent(p.Mappings, event, eventTime, p.IgnoredValues)
		if p.Extra != nil {
			observables = append(observables, p.Extra(event)...)
		}

		grouped := p.GroupBy == GroupAll
		var groupKeys []string
		if p.GroupBy != "" && p.GroupBy != GroupAll {
			if raw, ok := event.Get(p.GroupBy); ok {
				grouped = true
				if list, isList := asList(raw); isList {
					for _, item := range list {
						groupKeys = append(groupKeys, interp.Stringify(item))
					}
				} else {
					groupKeys = []string{interp.Stringify(raw)}
				}
			}
		}
		if p.GroupBy == GroupAll {
			groupKeys = []string{GroupAll}
		}

		if !grouped {
			// Each row is a finding by itself.
			sub := p.NewSubmission(event)
			sub.EventTime = eventTime
			for _, o := range observables {
				sub.AddObservable(o)
			}
			for _, f := range files {
				sub.AddFile(f)
			}
			sub.AddEvent(event)
			submissions = append(submissions, sub)
			continue
		}

		for _, key := range groupKeys {
			sub, ok := groups[key]
			if !ok {
				sub = p.NewSubmission(event)
				if key != GroupAll {
					sub.Description += ": " + key
				}
				groups[key] = sub
				submissions = append(submissions, sub)
			}

			for _, o := range observables {
				sub.AddObservable(o)
			}
			for _, f := range files {
				sub.AddFile(f)
			}
			sub.AddEvent(event)
			sub.ObserveEventTime(eventTime)
		}
	}

	// Annotate with final accumulated event counts.
	if p.GroupBy != "" {
		for _, sub := range submissions {
			n := len(sub.Events)
			plural := "s"
			if n == 1 {
				plural = ""
			}
			sub.Description += fmt.Sprintf(" (%d event%s)", n, plural)
		}
	}

	return submissions
}

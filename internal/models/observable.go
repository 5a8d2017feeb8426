// Package models defines the core data types shared across FireHunt:
// events returned by query backends, observables extracted from them,
// and the submissions handed to downstream correlation.
package models

import "time"

// Common observable types. Hunt definitions may use any string; these
// are the ones the built-in mappings and decorations produce.
const (
	TypeFile        = "file"
	TypeHunt        = "hunt"
	TypeSignatureID = "signature_id"
)

// Relationship links an observable to another observable in the same
// submission.
type Relationship struct {
	// Type describes the relationship (e.g. "executed_on", "downloaded_from").
	Type string `json:"type"`
	// TargetType is the observable type of the target.
	TargetType string `json:"target_type"`
	// TargetValue is the resolved value of the target observable.
	TargetValue string `json:"target_value"`
}

// Observable is a typed indicator extracted from a raw event.
type Observable struct {
	// Type is the observable type (e.g. "ipv4", "fqdn", "file").
	Type string `json:"type"`
	// Value is the observable value.
	Value string `json:"value"`
	// Time is the capture time copied from the event, if requested.
	Time *time.Time `json:"time,omitempty"`
	// Directives instruct downstream analysis modules.
	Directives []string `json:"directives,omitempty"`
	// Tags are attached verbatim.
	Tags []string `json:"tags,omitempty"`
	// DisplayType overrides the type shown to analysts.
	DisplayType string `json:"display_type,omitempty"`
	// DisplayValue overrides the value shown to analysts.
	DisplayValue string `json:"display_value,omitempty"`
	// Volatile marks the observable as short-lived.
	Volatile bool `json:"volatile,omitempty"`
	// Relationships to other observables in the same submission.
	Relationships []Relationship `json:"relationships,omitempty"`
}

// Equal reports whether two observables represent the same indicator.
// Identity is (type, value); decoration does not participate.
func (o *Observable) Equal(other *Observable) bool {
	return o.Type == other.Type && o.Value == other.Value
}

// AddDirective adds a directive if not already present.
func (o *Observable) AddDirective(directive string) {
	for _, d := range o.Directives {
		if d == directive {
			return
		}
	}
	o.Directives = append(o.Directives, directive)
}

// AddTag adds a tag if not already present.
func (o *Observable) AddTag(tag string) {
	for _, t := range o.Tags {
		if t == tag {
			return
		}
	}
	o.Tags = append(o.Tags, tag)
}

// AddRelationship adds a relationship if not already present.
func (o *Observable) AddRelationship(rel Relationship) {
	for _, r := range o.Relationships {
		if r == rel {
			return
		}
	}
	o.Relationships = append(o.Relationships, rel)
}

// FileContent is decoded file data extracted from an event, written to
// the submission under its own name instead of becoming an observable
// value.
type FileContent struct {
	// Name is the interpolated target file name.
	Name string `json:"name"`
	// Content is the decoded file content.
	Content []byte `json:"content"`
}

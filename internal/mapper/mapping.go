// Package mapper converts raw query result rows into typed observables
// and packages them into submissions, with optional grouping by a
// configured event field.
package mapper

import (
	"fmt"

	"github.com/good-yellow-bee/firehunt/internal/interp"
	"github.com/good-yellow-bee/firehunt/internal/models"
)

// RelationshipMapping declares a relationship from observables created
// by a mapping to another observable in the same event's result set.
type RelationshipMapping struct {
	// Type is the relationship type.
	Type string `yaml:"type"`
	// TargetType is the observable type of the target.
	TargetType string `yaml:"target_type"`
	// TargetValue is an interpolation template for the target value.
	TargetValue string `yaml:"target_value"`
}

// Mapping maps one or more event fields to an observable.
type Mapping struct {
	// Fields must all be present in the event or the mapping is
	// skipped entirely.
	Fields []string `yaml:"fields"`
	// LookupType selects how Fields resolve: "key" (direct) or "dot"
	// (dotted path). Defaults to "key".
	LookupType string `yaml:"field_lookup_type"`
	// Type is the target observable type.
	Type string `yaml:"type"`
	// Value is an optional interpolation template; without it the
	// first field's raw value is used.
	Value string `yaml:"value"`
	// FileName names the written file for file-typed mappings
	// (interpolated).
	FileName string `yaml:"file_name"`
	// FileDecoder decodes the resolved value for file-typed mappings
	// (raw, base64, hex; default raw).
	FileDecoder string `yaml:"file_decoder"`
	// Time copies the event timestamp onto the observable.
	Time bool `yaml:"time"`
	// Directives are interpolated and attached.
	Directives []string `yaml:"directives"`
	// Tags are interpolated and attached.
	Tags []string `yaml:"tags"`
	// Volatile marks produced observables as short-lived.
	Volatile bool `yaml:"volatile"`
	// IgnoredValues are dropped from this mapping's candidates, in
	// addition to the hunt-global list.
	IgnoredValues []string `yaml:"ignored_values"`
	// DisplayType overrides the observable type shown to analysts.
	DisplayType string `yaml:"display_type"`
	// DisplayValue overrides the value shown to analysts. Forbidden
	// for file mappings.
	DisplayValue string `yaml:"display_value"`
	// Relationships to resolve once all mappings for the event have
	// been materialized.
	Relationships []RelationshipMapping `yaml:"relationships"`
}

// Validate checks the mapping configuration.
func (m *Mapping) Validate() error {
	if len(m.Fields) == 0 {
		return fmt.Errorf("fields is required")
	}
	if m.Type == "" {
		return fmt.Errorf("type is required")
	}

	if m.LookupType == "" {
		m.LookupType = interp.LookupKey
	}
	if !interp.ValidLookupType(m.LookupType) {
		return fmt.Errorf("unknown field_lookup_type %q", m.LookupType)
	}

	if m.Type == models.TypeFile {
		if m.FileName == "" {
			return fmt.Errorf("file_name is required for file mappings")
		}
		if m.DisplayValue != "" {
			return fmt.Errorf("display_value is not allowed for file mappings")
		}
	} else if m.FileDecoder != "" {
		return fmt.Errorf("file_decoder is only valid for file mappings")
	}
	if !validDecoder(m.FileDecoder) {
		return fmt.Errorf("unknown file_decoder %q", m.FileDecoder)
	}

	for i, rel := range m.Relationships {
		if rel.Type == "" || rel.TargetType == "" || rel.TargetValue == "" {
			return fmt.Errorf("relationship %d needs type, target_type and target_value", i)
		}
	}

	return nil
}

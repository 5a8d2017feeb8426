// Package interp implements the template interpolation syntax used in
// hunt definitions to pull event data into observable values, tags,
// directives, and alert decoration.
//
// Placeholders have the form $TYPE{LOOKUP}, or the shorthand ${LOOKUP}.
// TYPE selects how LOOKUP is resolved against the event:
//
//   - key: LOOKUP is a direct key into the event ("${field}" is the same
//     as "$key{field}")
//   - dot: LOOKUP is a dotted path; numeric segments index into lists
//     ("$dot{device.hostname}", "$dot{results.0.id}")
//
// Literal braces inside LOOKUP are escaped with a backslash. A
// placeholder that cannot be resolved, uses an unknown TYPE, or is
// malformed is left as its literal text so a broken template degrades
// visibly instead of aborting the hunt.
package interp

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/good-yellow-bee/firehunt/internal/models"
)

// Lookup types accepted in placeholders and observable mappings.
const (
	LookupKey = "key"
	LookupDot = "dot"
)

// placeholderPattern matches $TYPE{LOOKUP} or ${LOOKUP}, allowing
// backslash-escaped characters inside the braces.
var placeholderPattern = regexp.MustCompile(`\$([a-z]+)?\{((?:\\.|[^\\}])*)\}`)

// ValidLookupType reports whether s names a supported lookup type.
func ValidLookupType(s string) bool {
	return s == LookupKey || s == LookupDot
}

// unescape converts escaped brace characters back to their literal form.
func unescape(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	s = strings.ReplaceAll(s, `\{`, "{")
	return strings.ReplaceAll(s, `\}`, "}")
}

// Extract resolves a field against an event using the given lookup
// type. The second return value is false when the field is absent; a
// present-but-nil value returns (nil, true).
func Extract(event models.Event, lookupType, fieldPath string) (any, bool) {
	if lookupType == LookupKey {
		return event.Get(fieldPath)
	}
	return extractDotted(event, fieldPath)
}

// extractDotted traverses a dotted path through nested maps and lists.
func extractDotted(event models.Event, fieldPath string) (any, bool) {
	var current any = map[string]any(event)

	for _, raw := range strings.Split(fieldPath, ".") {
		part := strings.TrimSpace(raw)
		if part == "" {
			return nil, false
		}

		if index, err := strconv.Atoi(part); err == nil {
			list, ok := asList(current)
			if !ok || index < 0 || index >= len(list) {
				return nil, false
			}
			current = list[index]
			continue
		}

		m, ok := asMap(current)
		if !ok {
			return nil, false
		}
		current, ok = m[part]
		if !ok {
			return nil, false
		}
	}

	return current, true
}

func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case models.Event:
		return m, true
	default:
		return nil, false
	}
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

// Stringify renders an event value the way it appears in interpolated
// output: nil becomes the empty string, strings pass through, anything
// else is formatted with %v.
func Stringify(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	default:
		return fmt.Sprintf("%v", v)
	}
}

// Evaluate interpolates event data into template.
//
// Each placeholder contributes one or more replacement options: a
// scalar contributes one, a list contributes one per element, and the
// result is the cartesian product across placeholders, ordered left to
// right with the rightmost placeholder varying fastest. A placeholder
// that resolves to an empty list collapses the whole template to zero
// results. A template with no placeholders evaluates to itself.
func Evaluate(template string, event models.Event) []string {
	matches := placeholderPattern.FindAllStringSubmatchIndex(template, -1)
	if matches == nil {
		return []string{template}
	}

	// The template becomes a sequence of segments, each a list of
	// alternatives: literal text has exactly one, placeholders may have
	// several.
	var segments [][]string
	last := 0

	for _, m := range matches {
		start, end := m[0], m[1]
		if start > last {
			segments = append(segments, []string{template[last:start]})
		}
		last = end

		literal := template[start:end]
		lookupType := LookupKey
		if m[2] >= 0 {
			lookupType = template[m[2]:m[3]]
		}
		fieldPath := strings.TrimSpace(template[m[4]:m[5]])

		if fieldPath == "" || !ValidLookupType(lookupType) {
			segments = append(segments, []string{literal})
			continue
		}

		value, ok := Extract(event, lookupType, unescape(fieldPath))
		if !ok {
			segments = append(segments, []string{literal})
			continue
		}

		if list, isList := asList(value); isList {
			if len(list) == 0 {
				// No valid combination includes this placeholder.
				return []string{}
			}
			options := make([]string, len(list))
			for i, item := range list {
				options[i] = Stringify(item)
			}
			segments = append(segments, options)
			continue
		}

		segments = append(segments, []string{Stringify(value)})
	}

	if last < len(template) {
		segments = append(segments, []string{template[last:]})
	}

	results := []string{""}
	for _, options := range segments {
		next := make([]string, 0, len(results)*len(options))
		for _, base := range results {
			for _, option := range options {
				next = append(next, base+option)
			}
		}
		results = next
	}

	return results
}

// EvaluateFirst returns the first interpolation result, or the empty
// string when the template collapses to zero results. Decoration
// templates that expect a single value use this.
func EvaluateFirst(template string, event models.Event) string {
	results := Evaluate(template, event)
	if len(results) == 0 {
		return ""
	}
	return results[0]
}

package models

// Event is a single row returned by a query backend. Values are
// whatever the backend driver produced: scalars, nested maps, or lists.
type Event map[string]any

// Get looks up a direct key and distinguishes a missing key from a
// present-but-nil value.
func (e Event) Get(key string) (any, bool) {
	v, ok := e[key]
	return v, ok
}

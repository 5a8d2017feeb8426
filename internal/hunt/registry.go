package hunt

import "fmt"

// Factory constructs an unloaded hunt of one implementation kind.
type Factory func(env *Env) Hunter

// registry maps implementation kinds to constructors. Kinds register
// from init functions; lookups happen once at startup, so no locking.
var registry = map[string]Factory{}

// Register adds a hunt implementation. Duplicate registration is a
// programming error.
func Register(kind string, f Factory) {
	if _, ok := registry[kind]; ok {
		panic(fmt.Sprintf("hunt kind %q registered twice", kind))
	}
	registry[kind] = f
}

// Lookup resolves an implementation kind to its factory.
func Lookup(kind string) (Factory, error) {
	f, ok := registry[kind]
	if !ok {
		return nil, fmt.Errorf("unknown hunt kind %q", kind)
	}
	return f, nil
}

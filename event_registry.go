package eventlog

import (
	"fmt"
	"sync"
)

var (
	// registry maps event type tags to their factory functions.
	// Each factory must return a new instance of a concrete Event type.
	registry = map[string]func() Event{}

	// registryMu protects access to the registry for concurrent operations.
	registryMu sync.RWMutex
)

// RegisterEventByType registers a new Event type under its own EventType()
// tag. The factory must return a fresh, decodable instance on every call,
// typically a pointer to a zero value:
//
//	RegisterEventByType(func() Event { return &OrderPlaced{} })
//
// Panics if the factory is nil, returns nil, or the tag is already taken.
func RegisterEventByType(fn func() Event) {
	if fn == nil {
		panic("eventlog: cannot register nil factory")
	}
	RegisterEventByName(fn().EventType(), fn)
}

// RegisterEventByName registers a new Event type under a custom name,
// independent of EventType(). Same panics as RegisterEventByType.
func RegisterEventByName(name string, fn func() Event) {
	if fn == nil {
		panic("eventlog: cannot register nil factory")
	}

	registryMu.Lock()
	defer registryMu.Unlock()

	if _, exists := registry[name]; exists {
		panic(fmt.Sprintf("eventlog: event already registered: %s", name))
	}

	ev := fn()
	if ev == nil {
		panic(fmt.Sprintf("eventlog: factory returned nil for event: %s", name))
	}

	registry[name] = fn
}

// NewEventByName creates a new instance of a registered Event by its name.
// Returns an error if the name is not registered.
func NewEventByName(name string) (Event, error) {
	registryMu.RLock()
	factory, ok := registry[name]
	registryMu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("eventlog: event not registered: %s", name)
	}
	ev := factory()
	if ev == nil {
		return nil, fmt.Errorf("eventlog: factory returned nil for event: %s", name)
	}
	return ev, nil
}

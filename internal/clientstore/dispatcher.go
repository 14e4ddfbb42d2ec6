package clientstore

import (
	"reflect"
	"sync"
)

// Dispatcher is the process-wide action router (spec.md §4.7): it binds an
// action's concrete type to zero-or-one handler and invokes matching
// handlers synchronously. An action with no registered handler is a silent
// no-op, mirroring internal/event/bus.go's tolerance for publishing to a
// type with no subscribers.
type Dispatcher struct {
	mu       sync.Mutex
	handlers map[reflect.Type]func(Action)
}

// NewDispatcher creates an empty Dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{handlers: make(map[reflect.Type]func(Action))}
}

// RegisterHandler binds every dispatch of an action of type A to handler.
// Registering a second handler for the same A replaces the first, keeping
// "zero-or-one handler" per spec.md §4.7.
func RegisterHandler[A any](d *Dispatcher, handler func(A)) {
	var zero A
	t := reflect.TypeOf(zero)

	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[t] = func(a Action) { handler(a.(A)) }
}

// Dispatch invokes the handler registered for action's concrete type, in
// the current goroutine. Unregistered action types are dropped silently.
func (d *Dispatcher) Dispatch(action Action) {
	t := reflect.TypeOf(action)
	d.mu.Lock()
	h, ok := d.handlers[t]
	d.mu.Unlock()
	if ok {
		h(action)
	}
}

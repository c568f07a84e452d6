package event

import (
	"reflect"
	"sync"
)

// Bus is a double-buffered event bus. Events emitted before a SwapBuffers are
// delivered by the DispatchAll after it, in emission order; events emitted by
// subscribers wait for the next swap. The event system swaps once per tick,
// right after packet dispatch.
type Bus struct {
	mu       sync.Mutex // only protects handler registration
	front    []queued
	back     []queued
	handlers map[reflect.Type][]func(any)
}

type queued struct {
	t  reflect.Type
	ev any
}

func NewBus() *Bus {
	return &Bus{handlers: make(map[reflect.Type][]func(any))}
}

// Emit queues an event into the back buffer (readable next tick).
func Emit[T any](b *Bus, event T) {
	b.back = append(b.back, queued{t: typeOf[T](), ev: event})
}

// Subscribe registers a typed handler for events of type T.
func Subscribe[T any](b *Bus, fn func(T)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	t := typeOf[T]()
	b.handlers[t] = append(b.handlers[t], func(ev any) { fn(ev.(T)) })
}

func typeOf[T any]() reflect.Type {
	return reflect.TypeOf((*T)(nil)).Elem()
}

// SwapBuffers rotates back→front and clears the new back buffer.
func (b *Bus) SwapBuffers() {
	b.front, b.back = b.back, b.front[:0]
}

// DispatchAll delivers all front-buffer events to their handlers and returns
// how many events were delivered.
func (b *Bus) DispatchAll() int {
	b.mu.Lock()
	handlers := make(map[reflect.Type][]func(any), len(b.handlers))
	for t, hs := range b.handlers {
		handlers[t] = hs
	}
	b.mu.Unlock()

	for _, q := range b.front {
		for _, h := range handlers[q.t] {
			h(q.ev)
		}
	}
	n := len(b.front)
	b.front = b.front[:0]
	return n
}

// Pending returns the number of events waiting for the next swap.
func (b *Bus) Pending() int { return len(b.back) }

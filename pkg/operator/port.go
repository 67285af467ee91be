package operator

import (
	"slices"
	"sync"
)

// Port receives tuples of one type from an operator. Implementations must be
// safe for use from the cycle goroutine; Emit must not block indefinitely.
type Port[T any] interface {
	Emit(tuple T)
}

// PortFunc adapts a function to the Port interface.
type PortFunc[T any] func(tuple T)

// Emit implements Port by calling the function.
func (f PortFunc[T]) Emit(tuple T) {
	f(tuple)
}

// Collector is a Port that accumulates every emitted tuple in order. It is
// the default sink for hosts and tests.
type Collector[T any] struct {
	mu     sync.Mutex
	tuples []T
}

// NewCollector creates an empty collector.
func NewCollector[T any]() *Collector[T] {
	return &Collector[T]{}
}

// Emit implements Port.
func (c *Collector[T]) Emit(tuple T) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.tuples = append(c.tuples, tuple)
}

// Tuples returns a copy of everything collected so far, in emission order.
func (c *Collector[T]) Tuples() []T {
	c.mu.Lock()
	defer c.mu.Unlock()

	return slices.Clone(c.tuples)
}

// Len returns the number of collected tuples.
func (c *Collector[T]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.tuples)
}

// Reset discards everything collected so far.
func (c *Collector[T]) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.tuples = nil
}

package core

import (
	"fmt"
	"reflect"
	"sync"
)

// Container is the shared object store modules use to hand services to their
// dependents: a module puts what it provides during Init, later modules pull
// it out. Safe for concurrent use.
type Container interface {
	Set(key any, val any)
	Get(key any) (any, bool)
	MustGet(key any) any
	Has(key any) bool
}

type container struct {
	mu    sync.RWMutex
	items map[any]any
}

func NewContainer() Container {
	return &container{items: make(map[any]any)}
}

func (c *container) Set(key, val any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[key] = val
}

func (c *container) Get(key any) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.items[key]
	return v, ok
}

func (c *container) Has(key any) bool {
	_, ok := c.Get(key)
	return ok
}

func (c *container) MustGet(key any) any {
	if v, ok := c.Get(key); ok {
		return v
	}
	panic(fmt.Errorf("container: missing dependency %v (%T)", key, key))
}

// TypeKey keys container entries by Go type, one value per type.
type TypeKey[T any] struct{}

// Put stores v under its type.
func Put[T any](c Container, v T) { c.Set(TypeKey[T]{}, v) }

// Get retrieves the value stored under T, panicking on absence or mismatch.
// Module wiring errors are programmer errors, not runtime conditions.
func Get[T any](c Container) T {
	raw := c.MustGet(TypeKey[T]{})
	v, ok := raw.(T)
	if !ok {
		panic(fmt.Errorf("container: wrong type. have=%T want=%v", raw, reflect.TypeFor[T]()))
	}
	return v
}

// Lookup is the non-panicking form of Get.
func Lookup[T any](c Container) (T, bool) {
	raw, ok := c.Get(TypeKey[T]{})
	if !ok {
		var zero T
		return zero, false
	}
	v, ok := raw.(T)
	return v, ok
}

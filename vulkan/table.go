package vulkan

import (
	"sync"

	"github.com/dolthub/swiss"
	"github.com/vkngwrapper/quartermaster/gpu"
)

type optionalRWMutex struct {
	mutex    sync.RWMutex
	useMutex bool
}

func (m *optionalRWMutex) Lock() {
	if m.useMutex {
		m.mutex.Lock()
	}
}

func (m *optionalRWMutex) Unlock() {
	if m.useMutex {
		m.mutex.Unlock()
	}
}

func (m *optionalRWMutex) RLock() {
	if m.useMutex {
		m.mutex.RLock()
	}
}

func (m *optionalRWMutex) RUnlock() {
	if m.useMutex {
		m.mutex.RUnlock()
	}
}

// table maps the opaque handles given out by a Device to the driver objects behind them
type table[T any] struct {
	mutex   optionalRWMutex
	objects *swiss.Map[gpu.Handle, T]
}

func newTable[T any](useMutex bool) *table[T] {
	return &table[T]{
		mutex:   optionalRWMutex{useMutex: useMutex},
		objects: swiss.NewMap[gpu.Handle, T](64),
	}
}

func (t *table[T]) put(handle gpu.Handle, object T) {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	t.objects.Put(handle, object)
}

func (t *table[T]) get(handle gpu.Handle) (T, bool) {
	t.mutex.RLock()
	defer t.mutex.RUnlock()

	return t.objects.Get(handle)
}

// take removes the object from the table and returns it
func (t *table[T]) take(handle gpu.Handle) (T, bool) {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	object, ok := t.objects.Get(handle)
	if ok {
		t.objects.Delete(handle)
	}
	return object, ok
}

func (t *table[T]) count() int {
	t.mutex.RLock()
	defer t.mutex.RUnlock()

	return t.objects.Count()
}

// removeIf deletes every object matching the predicate and returns how many were removed
func (t *table[T]) removeIf(predicate func(handle gpu.Handle, object T) bool) int {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	var matches []gpu.Handle
	t.objects.Iter(func(handle gpu.Handle, object T) bool {
		if predicate(handle, object) {
			matches = append(matches, handle)
		}
		return false
	})

	for _, handle := range matches {
		t.objects.Delete(handle)
	}
	return len(matches)
}

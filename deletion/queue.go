// Package deletion defers destruction of GPU objects to a point where no in-flight work
// references them.
package deletion

import (
	"sync"
)

// Queue collects deferred destruction closures. Push and Flush may be called from any goroutine.
type Queue struct {
	mutex   sync.Mutex
	pending []func()
	// spare is the drained slice from the last flush, reused to avoid reallocating every frame
	spare []func()
}

// Push queues fn to run on the next Flush
func (q *Queue) Push(fn func()) {
	if fn == nil {
		return
	}

	q.mutex.Lock()
	defer q.mutex.Unlock()

	q.pending = append(q.pending, fn)
}

// Flush runs every queued closure, most recently pushed first. The queue is swapped out under
// the lock and the closures run without it, so a closure may push further work, which will run
// on the following Flush.
func (q *Queue) Flush() {
	q.mutex.Lock()
	drained := q.pending
	q.pending = q.spare[:0]
	q.spare = nil
	q.mutex.Unlock()

	for i := len(drained) - 1; i >= 0; i-- {
		drained[i]()
		drained[i] = nil
	}

	q.mutex.Lock()
	if q.spare == nil {
		q.spare = drained[:0]
	}
	q.mutex.Unlock()
}

// Len is the number of closures waiting for the next Flush
func (q *Queue) Len() int {
	q.mutex.Lock()
	defer q.mutex.Unlock()

	return len(q.pending)
}

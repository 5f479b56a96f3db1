// Package idalloc hands out dense integer slot IDs, reusing freed IDs before minting new ones.
package idalloc

import (
	"math"

	"github.com/vkngwrapper/quartermaster/gpu"
	"golang.org/x/exp/slog"
)

// ID is a dense slot index, unique among the live IDs of one Allocator
type ID uint32

// Unlimited can be passed as the maximum count of an Allocator that should never run out
const Unlimited = math.MaxUint32

// Allocator is a free-list ID allocator. Freed IDs are queued and handed out again, oldest
// first, before the counter is advanced. It is not safe for concurrent use.
type Allocator struct {
	logger   *slog.Logger
	name     string
	maxCount uint32

	next uint32
	free []ID
	live []bool
}

// New creates an allocator that can hold at most maxCount live IDs. The name is used in
// diagnostics.
func New(logger *slog.Logger, name string, maxCount uint32) *Allocator {
	return &Allocator{
		logger:   gpu.DiscardLogger(logger),
		name:     name,
		maxCount: maxCount,
	}
}

// Allocate returns the oldest freed ID, or the next unused one. Exceeding the maximum count is fatal.
func (a *Allocator) Allocate() ID {
	if len(a.free) > 0 {
		id := a.free[0]
		a.free = a.free[1:]
		a.live[id] = true
		return id
	}

	if a.next >= a.maxCount {
		gpu.Fatalf(a.logger, "%s: id allocator exhausted (max %d)", a.name, a.maxCount)
	}

	id := ID(a.next)
	a.next++
	a.live = append(a.live, true)
	return id
}

// Free returns an ID for reuse. Freeing an ID that is not live is fatal.
func (a *Allocator) Free(id ID) {
	if uint32(id) >= a.next || !a.live[id] {
		gpu.Fatalf(a.logger, "%s: freeing id %d which is not allocated", a.name, id)
	}

	a.live[id] = false
	a.free = append(a.free, id)
}

// IsLive reports whether id is currently allocated
func (a *Allocator) IsLive(id ID) bool {
	return uint32(id) < a.next && a.live[id]
}

// AllocatedCount is the number of distinct IDs ever handed out, live or freed
func (a *Allocator) AllocatedCount() int {
	return int(a.next)
}

// FreeSlotCount is the number of freed IDs waiting to be reused
func (a *Allocator) FreeSlotCount() int {
	return len(a.free)
}

func (a *Allocator) UsedCount() int {
	return int(a.next) - len(a.free)
}

func (a *Allocator) MaxCount() int {
	return int(a.maxCount)
}

// Reset forgets every ID, live or freed
func (a *Allocator) Reset() {
	a.next = 0
	a.free = a.free[:0]
	a.live = a.live[:0]
}

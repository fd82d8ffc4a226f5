package core

import (
	"fmt"
	"sync"
)

// Identifiers hands out small integer IDs and remembers who owns them.
// Released slots are reused before the table grows. The zero value is ready
// to use and safe for concurrent use.
type Identifiers struct {
	mu     sync.Mutex
	owners []interface{}
}

func NewIdentifiers(capacity int) *Identifiers {
	return &Identifiers{owners: make([]interface{}, 0, capacity)}
}

// Acquire stores owner in the first free slot and returns its ID.
func (ids *Identifiers) Acquire(owner interface{}) uint32 {
	ids.mu.Lock()
	defer ids.mu.Unlock()

	for i := range ids.owners {
		// Existing free spot. Take it.
		if ids.owners[i] == nil {
			ids.owners[i] = owner
			return uint32(i)
		}
	}
	ids.owners = append(ids.owners, owner)
	return uint32(len(ids.owners) - 1)
}

// Release frees id so it can be handed out again.
func (ids *Identifiers) Release(id uint32) error {
	ids.mu.Lock()
	defer ids.mu.Unlock()

	if int(id) >= len(ids.owners) {
		return fmt.Errorf("identifier %d out of range (max=%d): %w", id, len(ids.owners), ErrRange)
	}
	if ids.owners[id] == nil {
		return fmt.Errorf("identifier %d is not in use: %w", id, ErrStateMisuse)
	}
	ids.owners[id] = nil
	return nil
}

// Owner returns the value registered under id, or nil.
func (ids *Identifiers) Owner(id uint32) interface{} {
	ids.mu.Lock()
	defer ids.mu.Unlock()

	if int(id) >= len(ids.owners) {
		return nil
	}
	return ids.owners[id]
}

// Each calls fn for every live identifier in ascending order.
func (ids *Identifiers) Each(fn func(id uint32, owner interface{})) {
	ids.mu.Lock()
	snapshot := make([]interface{}, len(ids.owners))
	copy(snapshot, ids.owners)
	ids.mu.Unlock()

	for i, o := range snapshot {
		if o != nil {
			fn(uint32(i), o)
		}
	}
}

package gateway

import (
	"context"
	"sync"
	"time"
)

type dedupState int

const (
	dedupInflight dedupState = iota + 1
	dedupDone
)

// MemoryDeduper is the single-process implementation. Processed markers are
// pruned after the retention window so the map does not grow forever.
type MemoryDeduper struct {
	mu        sync.Mutex
	states    map[string]dedupState
	doneAt    map[string]time.Time
	retention time.Duration
	clock     func() time.Time
}

func NewMemoryDeduper(retention time.Duration) *MemoryDeduper {
	if retention <= 0 {
		retention = 24 * time.Hour
	}
	return &MemoryDeduper{
		states:    make(map[string]dedupState),
		doneAt:    make(map[string]time.Time),
		retention: retention,
		clock:     time.Now,
	}
}

func (d *MemoryDeduper) Claim(ctx context.Context, eventID string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pruneLocked()

	if _, ok := d.states[eventID]; ok {
		return false, nil
	}
	d.states[eventID] = dedupInflight
	return true, nil
}

func (d *MemoryDeduper) MarkProcessed(ctx context.Context, eventID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.states[eventID] = dedupDone
	d.doneAt[eventID] = d.clock()
	return nil
}

func (d *MemoryDeduper) Release(ctx context.Context, eventID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.states[eventID] == dedupInflight {
		delete(d.states, eventID)
	}
	return nil
}

func (d *MemoryDeduper) pruneLocked() {
	cutoff := d.clock().Add(-d.retention)
	for id, at := range d.doneAt {
		if at.Before(cutoff) {
			delete(d.doneAt, id)
			delete(d.states, id)
		}
	}
}

package task

import (
	"context"
	"sort"
	"sync"
)

// EntryLocker hands out advisory locks keyed by animeId. A set of ids is acquired
// all-or-nothing, so two holders can never wait on each other.
type EntryLocker struct {
	mu      sync.Mutex
	held    map[uint]struct{}
	changed chan struct{}
}

func NewEntryLocker() *EntryLocker {
	return &EntryLocker{
		held:    make(map[uint]struct{}),
		changed: make(chan struct{}),
	}
}

// Acquire blocks until every id is free, then takes them all. The returned release
// func is idempotent.
func (l *EntryLocker) Acquire(ctx context.Context, ids ...uint) (func(), error) {
	keys := uniqueIDs(ids)
	for {
		l.mu.Lock()
		if l.freeLocked(keys) {
			for _, id := range keys {
				l.held[id] = struct{}{}
			}
			l.mu.Unlock()
			var once sync.Once
			return func() { once.Do(func() { l.release(keys) }) }, nil
		}
		wait := l.changed
		l.mu.Unlock()

		select {
		case <-wait:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// isHeld reports whether id is currently held.
func (l *EntryLocker) isHeld(id uint) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.held[id]
	return ok
}

func (l *EntryLocker) freeLocked(ids []uint) bool {
	for _, id := range ids {
		if _, ok := l.held[id]; ok {
			return false
		}
	}
	return true
}

func (l *EntryLocker) release(ids []uint) {
	l.mu.Lock()
	for _, id := range ids {
		delete(l.held, id)
	}
	// 唤醒所有等待者重新检查
	close(l.changed)
	l.changed = make(chan struct{})
	l.mu.Unlock()
}

func uniqueIDs(ids []uint) []uint {
	seen := make(map[uint]struct{}, len(ids))
	out := make([]uint, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

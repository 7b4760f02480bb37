package service

import (
	"sort"
	"sync"
)

// BillLocks serializes operations per bill id. Entries are dropped once no
// caller holds or waits for them.
type BillLocks struct {
	mu    sync.Mutex
	locks map[string]*billLock
}

type billLock struct {
	mu   sync.Mutex
	refs int
}

// NewBillLocks creates an empty lock table.
func NewBillLocks() *BillLocks {
	return &BillLocks{locks: make(map[string]*billLock)}
}

// Lock acquires the locks for ids in a stable order and returns the release
// function.
func (l *BillLocks) Lock(ids ...string) func() {
	keys := uniqueSorted(ids)
	held := make([]*billLock, 0, len(keys))
	for _, id := range keys {
		l.mu.Lock()
		lk, ok := l.locks[id]
		if !ok {
			lk = &billLock{}
			l.locks[id] = lk
		}
		lk.refs++
		l.mu.Unlock()

		lk.mu.Lock()
		held = append(held, lk)
	}

	return func() {
		for i := len(held) - 1; i >= 0; i-- {
			held[i].mu.Unlock()
			l.mu.Lock()
			held[i].refs--
			if held[i].refs == 0 {
				delete(l.locks, keys[i])
			}
			l.mu.Unlock()
		}
	}
}

func (l *BillLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}

func uniqueSorted(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

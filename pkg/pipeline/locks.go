package pipeline

import (
	"sort"
	"sync"
)

// targetLocks serializes in-flight operations per target document so that
// two operations racing on the same identifier process in submission
// order, while operations on different targets interleave freely.
type targetLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newTargetLocks() *targetLocks {
	return &targetLocks{locks: make(map[string]*sync.Mutex)}
}

func (t *targetLocks) get(key string) *sync.Mutex {
	t.mu.Lock()
	defer t.mu.Unlock()
	lock, ok := t.locks[key]
	if !ok {
		lock = &sync.Mutex{}
		t.locks[key] = lock
	}
	return lock
}

// acquire locks every key in sorted order (avoiding lock-order inversion
// between overlapping batches) and returns the release function.
func (t *targetLocks) acquire(keys []string) func() {
	sorted := append([]string(nil), keys...)
	sort.Strings(sorted)

	held := make([]*sync.Mutex, 0, len(sorted))
	var last string
	for i, key := range sorted {
		if i > 0 && key == last {
			continue
		}
		last = key
		lock := t.get(key)
		lock.Lock()
		held = append(held, lock)
	}

	return func() {
		for i := len(held) - 1; i >= 0; i-- {
			held[i].Unlock()
		}
	}
}

package creds

import (
	"context"
	"sync"

	"github.com/flowstack/graphexec/engine/lock"
)

// heldSet tracks every lock.Lock currently held by this process so
// ReleaseAllLocks can force them open on shutdown, matching the
// original's best-effort cleanup sweep.
type heldSet struct {
	mu    sync.Mutex
	locks map[string]lock.Lock
}

func newHeldSet() *heldSet {
	return &heldSet{locks: make(map[string]lock.Lock)}
}

func (h *heldSet) add(key string, l lock.Lock) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.locks[key] = l
}

func (h *heldSet) remove(key string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.locks, key)
}

func (h *heldSet) releaseAll(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	var firstErr error
	for key, l := range h.locks {
		if err := l.Release(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(h.locks, key)
	}
	return firstErr
}

package indexer

import (
	"sync"
	"sync/atomic"
)

// IndexLock provides non-blocking lock semantics using atomic operations.
type IndexLock struct {
	state atomic.Int32 // 0 = unlocked, 1 = locked
}

// TryAcquire attempts to acquire the lock without blocking.
// Returns true if the lock was successfully acquired, false otherwise.
func (l *IndexLock) TryAcquire() bool {
	return l.state.CompareAndSwap(0, 1)
}

// Release releases the lock.
// Must only be called by the goroutine that successfully acquired the lock.
func (l *IndexLock) Release() {
	l.state.Store(0)
}

// Held reports whether the lock is currently acquired
func (l *IndexLock) Held() bool {
	return l.state.Load() == 1
}

// RepoLocks hands out one IndexLock per repository ID. The core pipeline
// takes no locks; service layers use this to reject overlapping runs.
type RepoLocks struct {
	mu    sync.Mutex
	locks map[string]*IndexLock
}

// NewRepoLocks creates an empty lock set
func NewRepoLocks() *RepoLocks {
	return &RepoLocks{locks: make(map[string]*IndexLock)}
}

func (r *RepoLocks) lock(repositoryID string) *IndexLock {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.locks[repositoryID]
	if !ok {
		l = &IndexLock{}
		r.locks[repositoryID] = l
	}
	return l
}

// TryAcquire acquires the lock for repositoryID without blocking
func (r *RepoLocks) TryAcquire(repositoryID string) bool {
	return r.lock(repositoryID).TryAcquire()
}

// Release releases the lock for repositoryID
func (r *RepoLocks) Release(repositoryID string) {
	r.lock(repositoryID).Release()
}

// Held reports whether a run holds the lock for repositoryID
func (r *RepoLocks) Held(repositoryID string) bool {
	return r.lock(repositoryID).Held()
}

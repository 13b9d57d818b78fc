// Package coalesce merges concurrent identical generation requests onto the
// single in-flight job already producing the same cache key.
package coalesce

import "sync"

// Table maps cache keys to the job currently producing them. Entries live
// only between job creation and terminal resolution and are never persisted.
// At most one entry exists per key at any instant.
type Table struct {
	mu       sync.Mutex
	inflight map[string]string
}

// NewTable returns an empty in-flight table.
func NewTable() *Table {
	return &Table{inflight: make(map[string]string)}
}

// TryAttach returns the id of the in-flight job registered for key, if any.
func (t *Table) TryAttach(key string) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	id, ok := t.inflight[key]
	return id, ok
}

// Register records jobID as the owner of key unless another job already
// holds it. It returns the owning id and whether the registration won; a
// losing caller must attach to the returned owner instead of submitting.
func (t *Table) Register(key, jobID string) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if owner, ok := t.inflight[key]; ok {
		return owner, false
	}
	t.inflight[key] = jobID
	return jobID, true
}

// Release removes the entry for key only while it still points at jobID,
// so a late release never clobbers a newer registration for the same key.
func (t *Table) Release(key, jobID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if owner, ok := t.inflight[key]; !ok || owner != jobID {
		return false
	}
	delete(t.inflight, key)
	return true
}

// Len reports the number of jobs currently in flight.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.inflight)
}

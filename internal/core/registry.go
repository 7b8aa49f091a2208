package core

import (
	"sort"
	"sync"
	"time"
)

// Identity is the application-level identity a client declares at registration.
type Identity struct {
	UserID string
	Name   string
}

// PresenceRecord describes one currently registered endpoint.
type PresenceRecord struct {
	Handle     string
	UserID     string
	Name       string
	LastSeenAt time.Time

	seq uint64
}

// Registry is the authoritative map of live endpoint handles to identity.
// It holds no persistent state; a relay restart drops all presence.
type Registry struct {
	mu      sync.RWMutex
	records map[string]PresenceRecord
	seq     uint64
	now     func() time.Time
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		records: make(map[string]PresenceRecord),
		now:     time.Now,
	}
}

// Register stores or overwrites the presence record for handle.
// Identities need not be unique across handles.
func (r *Registry) Register(handle string, id Identity) PresenceRecord {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, exists := r.records[handle]
	if !exists {
		r.seq++
		rec.seq = r.seq
	}
	rec.Handle = handle
	rec.UserID = id.UserID
	rec.Name = id.Name
	rec.LastSeenAt = r.now()
	r.records[handle] = rec
	return rec
}

// Unregister removes the record for handle. Returns false if there was none.
func (r *Registry) Unregister(handle string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.records[handle]; !exists {
		return false
	}
	delete(r.records, handle)
	return true
}

// Get returns the record for handle.
func (r *Registry) Get(handle string) (PresenceRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.records[handle]
	return rec, ok
}

// Snapshot returns all records except excludeHandle, in registration order.
func (r *Registry) Snapshot(excludeHandle string) []PresenceRecord {
	r.mu.RLock()
	out := make([]PresenceRecord, 0, len(r.records))
	for handle, rec := range r.records {
		if handle == excludeHandle {
			continue
		}
		out = append(out, rec)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].seq < out[j].seq })
	return out
}

// Len returns the number of registered endpoints.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.records)
}

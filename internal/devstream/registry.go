package devstream

import (
	"sort"
	"sync"
)

// Registry maps channel names to records. One registry is shared by every
// component that needs to reach the same dev streams; it is safe for
// concurrent use.
type Registry struct {
	mu      sync.RWMutex
	records map[string]*Record
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{records: make(map[string]*Record)}
}

// GetOrCreate returns the record for channel, creating an empty one on first
// access.
func (r *Registry) GetOrCreate(channel string) *Record {
	r.mu.RLock()
	rec, ok := r.records[channel]
	r.mu.RUnlock()
	if ok {
		return rec
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if rec, ok := r.records[channel]; ok {
		return rec
	}
	rec = newRecord(channel)
	r.records[channel] = rec
	return rec
}

// Lookup returns the record for channel without creating it.
func (r *Registry) Lookup(channel string) (*Record, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.records[channel]
	return rec, ok
}

// Clear resets the stream data of channel. Subscribers registered before the
// clear are detached. Clearing an unknown channel is a no-op.
func (r *Registry) Clear(channel string) bool {
	rec, ok := r.Lookup(channel)
	if !ok {
		return false
	}
	rec.reset()
	return true
}

// Remove drops the record for channel entirely.
func (r *Registry) Remove(channel string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.records, channel)
}

// Channels lists the known channel names in sorted order.
func (r *Registry) Channels() []string {
	r.mu.RLock()
	out := make([]string, 0, len(r.records))
	for name := range r.records {
		out = append(out, name)
	}
	r.mu.RUnlock()
	sort.Strings(out)
	return out
}

// Len returns the number of tracked channels.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.records)
}

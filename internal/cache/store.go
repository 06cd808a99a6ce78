package cache

import (
	"encoding/json"
	"time"
)

// entryStore is the in-memory tier. It is not safe for concurrent use;
// Cache guards it with c.mu and every method here expects that lock held.
type entryStore struct {
	entries    map[string]*Entry
	maxEntries int
	seq        uint64

	hits         uint64
	misses       uint64
	evictions    uint64
	expirations  uint64
	mirrorErrors uint64
}

func newEntryStore(maxEntries int) *entryStore {
	return &entryStore{
		entries:    make(map[string]*Entry),
		maxEntries: maxEntries,
	}
}

type lookupResult int

const (
	lookupAbsent lookupResult = iota
	lookupHit
	lookupStale
)

// lookup returns a copy of the payload for a valid entry and counts the hit.
// A stale entry is removed and reported as lookupStale. Misses are not
// counted here because the caller may still find the key in the mirror.
func (s *entryStore) lookup(key string, now time.Time, version string) (json.RawMessage, lookupResult) {
	e, ok := s.entries[key]
	if !ok {
		return nil, lookupAbsent
	}
	if !e.Valid(now, version) {
		delete(s.entries, key)
		s.expirations++
		return nil, lookupStale
	}
	e.HitCount++
	s.hits++
	return cloneRaw(e.Data), lookupHit
}

// put inserts or replaces e and stamps its insertion order. Inserting a new
// key at capacity evicts one entry first; the evicted key is returned (""
// when nothing was evicted).
func (s *entryStore) put(e *Entry) (evicted string) {
	s.seq++
	e.seq = s.seq
	if _, exists := s.entries[e.Key]; !exists && len(s.entries) >= s.maxEntries {
		if victim := selectVictim(s.entries); victim != "" {
			delete(s.entries, victim)
			s.evictions++
			evicted = victim
		}
	}
	s.entries[e.Key] = e
	return evicted
}

func (s *entryStore) remove(key string) bool {
	if _, ok := s.entries[key]; !ok {
		return false
	}
	delete(s.entries, key)
	return true
}

func (s *entryStore) has(key string) bool {
	_, ok := s.entries[key]
	return ok
}

func (s *entryStore) keys() []string {
	keys := make([]string, 0, len(s.entries))
	for k := range s.entries {
		keys = append(keys, k)
	}
	return keys
}

// removeStale drops every entry that is no longer valid and returns the
// removed keys.
func (s *entryStore) removeStale(now time.Time, version string) []string {
	var removed []string
	for k, e := range s.entries {
		if !e.Valid(now, version) {
			delete(s.entries, k)
			s.expirations++
			removed = append(removed, k)
		}
	}
	return removed
}

func (s *entryStore) clear() {
	clear(s.entries)
}

func (s *entryStore) len() int {
	return len(s.entries)
}

func (s *entryStore) memoryBytes() int64 {
	var total int64
	for _, e := range s.entries {
		total += e.size()
	}
	return total
}

package cache

// selectVictim picks the entry to evict: the lowest HitCount, ties broken
// by the oldest CreatedAt and then by insertion order. CreatedAt has
// millisecond resolution, so writes in the same millisecond tie on it.
func selectVictim(entries map[string]*Entry) string {
	var victim *Entry
	for _, e := range entries {
		if victim == nil || evictsBefore(e, victim) {
			victim = e
		}
	}
	if victim == nil {
		return ""
	}
	return victim.Key
}

func evictsBefore(a, b *Entry) bool {
	if a.HitCount != b.HitCount {
		return a.HitCount < b.HitCount
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.seq < b.seq
}

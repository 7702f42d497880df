package cmap

// Op tells Compute what to do with the value returned by its callback.
type Op int

const (
	// Keep leaves the entry unchanged.
	Keep Op = iota
	// Store writes the returned value.
	Store
	// Remove deletes the key.
	Remove
)

// Compute runs fn under the shard's write lock with the current value.
// A non-nil error from fn aborts the operation and nothing changes.
func (m *Map[K, V]) Compute(key K, fn func(old V, exists bool) (V, Op, error)) error {
	s := m.getShard(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	old, exists := s.items[key]
	val, op, err := fn(old, exists)
	if err != nil {
		return err
	}

	switch op {
	case Store:
		s.items[key] = val
	case Remove:
		delete(s.items, key)
	}
	return nil
}

// Range calls fn for each entry until fn returns false. Each shard is read
// locked while it is visited, so fn must not write to the map.
func (m *Map[K, V]) Range(fn func(key K, value V) bool) {
	for _, s := range m.shards {
		s.mu.RLock()
		for k, v := range s.items {
			if !fn(k, v) {
				s.mu.RUnlock()
				return
			}
		}
		s.mu.RUnlock()
	}
}

// Keys returns a snapshot of all keys.
func (m *Map[K, V]) Keys() []K {
	keys := make([]K, 0, m.Count())
	m.Range(func(k K, _ V) bool {
		keys = append(keys, k)
		return true
	})
	return keys
}

// Sweep deletes every entry for which match returns true and returns the
// number removed.
func (m *Map[K, V]) Sweep(match func(key K, value V) bool) int {
	removed := 0
	for _, s := range m.shards {
		s.mu.Lock()
		for k, v := range s.items {
			if match(k, v) {
				delete(s.items, k)
				removed++
			}
		}
		s.mu.Unlock()
	}
	return removed
}

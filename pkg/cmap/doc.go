// Package cmap provides a concurrent map implementation for snapfn.
//
// The map is sharded with a per-shard RWMutex. Compute runs a callback
// under the shard's write lock, which lets callers evaluate a condition and
// apply a write as one atomic step:
//
//	m := cmap.New[string, *domain.StateRecord]()
//	err := m.Compute(key, func(old *domain.StateRecord, ok bool) (*domain.StateRecord, cmap.Op, error) {
//		...
//	})
package cmap

package store

import (
	"context"
	"sync"
)

// patch is a speculative change to one map entry together with what it
// replaced. Computing it only reads the map; apply and revert write it.
type patch[K comparable, V any] struct {
	key     K
	next    V
	prev    V
	hadPrev bool
	remove  bool
}

// speculate prepares m[key] = next, or delete(m, key) when remove is set.
func speculate[K comparable, V any](m map[K]V, key K, next V, remove bool) patch[K, V] {
	prev, had := m[key]
	return patch[K, V]{key: key, next: next, prev: prev, hadPrev: had, remove: remove}
}

func (p patch[K, V]) apply(m map[K]V) {
	if p.remove {
		delete(m, p.key)
		return
	}
	m[p.key] = p.next
}

func (p patch[K, V]) revert(m map[K]V) {
	if p.hadPrev {
		m[p.key] = p.prev
		return
	}
	delete(m, p.key)
}

// runOptimistic prepares and applies a patch to m under mu, runs commit
// without the lock and reverts the patch under mu if commit fails. prepare
// may decline by returning false, in which case nothing is applied or
// reverted but commit still runs.
func runOptimistic[K comparable, V any](
	ctx context.Context,
	mu sync.Locker,
	m map[K]V,
	prepare func(m map[K]V) (patch[K, V], bool),
	commit func(ctx context.Context) error,
) (applied bool, err error) {
	mu.Lock()
	p, ok := prepare(m)
	if ok {
		p.apply(m)
	}
	mu.Unlock()

	if err := commit(ctx); err != nil {
		if ok {
			mu.Lock()
			p.revert(m)
			mu.Unlock()
		}
		return ok, err
	}
	return ok, nil
}

package orchestrator

import (
	"iter"
	"slices"
	"sync"

	"github.com/ashureev/prdesk/internal/domain"
)

// Registry is the append-only artifact list of one session.
type Registry struct {
	mu    sync.RWMutex
	items []domain.Artifact
}

// Record appends a and returns it with its insertion order set.
func (r *Registry) Record(a domain.Artifact) domain.Artifact {
	r.mu.Lock()
	defer r.mu.Unlock()
	a.Seq = len(r.items) + 1
	r.items = append(r.items, a)
	return a
}

// List yields the artifacts in insertion order. Each iteration walks the
// artifacts recorded when it starts, so the sequence can be ranged again.
func (r *Registry) List() iter.Seq[domain.Artifact] {
	return func(yield func(domain.Artifact) bool) {
		r.mu.RLock()
		items := slices.Clone(r.items)
		r.mu.RUnlock()

		for _, a := range items {
			if !yield(a) {
				return
			}
		}
	}
}

// Len returns the number of recorded artifacts.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.items)
}

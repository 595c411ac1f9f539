package breaker

import (
	"context"
	"sort"

	"github.com/DanielEsLoH/MediConnect-sub004/pkg/cache"
)

// Registry holds one breaker per downstream service.
type Registry struct {
	byName map[string]*Breaker
}

func NewRegistry(store cache.Store, s Settings, names []string, opts ...Option) *Registry {
	r := &Registry{byName: make(map[string]*Breaker, len(names))}
	for _, n := range names {
		r.byName[n] = New(n, store, s, opts...)
	}
	return r
}

func (r *Registry) Get(name string) (*Breaker, bool) {
	b, ok := r.byName[name]
	return b, ok
}

func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.byName))
	for n := range r.byName {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

func (r *Registry) Snapshots(ctx context.Context) ([]Snapshot, error) {
	out := make([]Snapshot, 0, len(r.byName))
	for _, n := range r.Names() {
		s, err := r.byName[n].Snapshot(ctx)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

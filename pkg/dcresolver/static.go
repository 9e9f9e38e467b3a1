package dcresolver

import (
	"context"
	"sync"
)

// staticResolver serves a fixed in-process roster, for callers that know
// their datacenter addresses up front and don't want the Redis-backed cache.
type staticResolver struct {
	mu  sync.RWMutex
	dcs map[int32]DataCenter
}

// NewStatic builds a Resolver over a fixed seed roster. Update mutates only
// the in-process copy; nothing is persisted.
func NewStatic(seeds []DataCenter) Resolver {
	dcs := make(map[int32]DataCenter, len(seeds))
	for _, dc := range seeds {
		dcs[dc.ID] = dc
	}
	return &staticResolver{dcs: dcs}
}

func (r *staticResolver) Resolve(ctx context.Context, dcID int32) (DataCenter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	dc, ok := r.dcs[dcID]
	if !ok {
		return DataCenter{}, ErrNotFound
	}
	return dc, nil
}

func (r *staticResolver) Roster(ctx context.Context) ([]DataCenter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	dcs := make([]DataCenter, 0, len(r.dcs))
	for _, dc := range r.dcs {
		dcs = append(dcs, dc)
	}
	return dcs, nil
}

func (r *staticResolver) Update(ctx context.Context, dcs []DataCenter) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, dc := range dcs {
		r.dcs[dc.ID] = dc
	}
	return nil
}

func (r *staticResolver) Close() error { return nil }

package queue

import (
	"context"
	"fmt"
	"sync"

	"github.com/cuemby/cairnq/pkg/storage"
)

// IDGenerator is C4: a monotonically increasing, crash-safe id
// allocator. `next` is the in-memory cursor handed out by Generate;
// `committed` is the durable watermark, advanced (and synced) only by
// Commit. Ids between a crashed process's `next` and its last
// committed watermark are considered, per spec.md §4.4, never to have
// existed — their slots may be durably written, but no caller was ever
// told of them, so LoadIDGenerator reseeds `next` from `committed` and
// hands those id values out again. Commit is always called before a
// push returns success (see pkg/queue/ops.go), so no acknowledged
// message holds such an id; `committed` trails `next` only while a push
// is between its Generate and its Commit.
type IDGenerator struct {
	mu        sync.Mutex
	next      uint64
	committed uint64
	backend   storage.Backend
	syncer    *Syncer
}

// LoadIDGenerator reads the durable watermark and resumes from there.
func LoadIDGenerator(ctx context.Context, backend storage.Backend, syncer *Syncer) (*IDGenerator, error) {
	committed, err := backend.LoadWatermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("queue: load id watermark: %w", err)
	}
	return &IDGenerator{
		next:      committed,
		committed: committed,
		backend:   backend,
		syncer:    syncer,
	}, nil
}

// Generate atomically reserves n contiguous ids and returns the first;
// the caller owns [base, base+n). Purely in-memory — durability is
// established later by Commit.
func (g *IDGenerator) Generate(n uint64) (base uint64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	base = g.next
	g.next += n
	return base
}

// Commit advances the durable watermark to max(committed, base+n) and
// waits for that advance to be durable. Multiple calls may arrive out
// of order (concurrent pushes); committed only ever moves forward.
//
// The generator's mutex is held across the durable write itself, not
// just the in-memory bump: SaveWatermark and the Submit barrier both
// run while g.mu is locked, so concurrent Commit calls hit the backend
// in the same order they acquire the lock. Without that, two commits
// racing on candidates 5 and 10 could have their SaveWatermark calls
// land in reverse order and leave the persisted watermark at 5 even
// though both callers observed success — a crash at that point would
// reseed next from 5 and reissue ids that already hold durable
// messages.
func (g *IDGenerator) Commit(ctx context.Context, base, n uint64) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	candidate := base + n
	if candidate <= g.committed {
		return nil
	}

	if err := g.backend.SaveWatermark(ctx, candidate); err != nil {
		return fmt.Errorf("queue: save id watermark: %w", err)
	}
	if err := g.syncer.Submit(ctx); err != nil {
		return err
	}
	g.committed = candidate
	return nil
}

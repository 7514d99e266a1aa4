package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/cuemby/cairnq/pkg/storage"
)

// Layout identifies which on-disk storage.Backend a Queue is wired to.
// The operation layer (C7) is written entirely against storage.Backend
// and VisibilityIndex, but a handful of details — poll tag width, how a
// fresh poll tag is derived, whether a vacant set exists — differ by
// layout and are resolved here rather than by type-asserting the
// backend.
type Layout int

const (
	LayoutSlotFile Layout = iota
	LayoutBoltKV
)

const (
	slotPollTagWidth = 30
	boltPollTagWidth = 4
)

func (l Layout) pollTagWidth() int {
	if l == LayoutSlotFile {
		return slotPollTagWidth
	}
	return boltPollTagWidth
}

// Config configures a Queue. Backend and Layout must agree (a
// storage/slotfile.Backend with LayoutSlotFile, a storage/boltkv.Backend
// with LayoutBoltKV); nothing in this package enforces that pairing
// since storage.Backend is opaque by design.
type Config struct {
	Backend        storage.Backend
	Layout         Layout
	MaxContentsLen uint32

	// Now overrides the queue's clock; nil means time.Now. Exposed for
	// deterministic tests of the visibility and expiry paths.
	Now func() time.Time

	// OnSync, if non-nil, is called with the backend.Sync latency after
	// every batched flush that had at least one waiter. cmd/cairnq wires
	// this to the sync-barrier-duration histogram; a Queue used in
	// isolation (tests) can leave it nil.
	OnSync func(time.Duration)
}

// Queue wires together C1-C8 behind the four operations in ops.go. It
// holds no transport-level state; pkg/api adapts it to HTTP.
type Queue struct {
	backend        storage.Backend
	layout         Layout
	maxContentsLen uint32
	now            func() time.Time

	vis    *VisibilityIndex
	vacant *VacantSet // nil unless layout == LayoutSlotFile
	ids    *IDGenerator
	syncer *Syncer
	susp   *Suspension
}

// New constructs a Queue, loading the durable id watermark from cfg.Backend.
func New(ctx context.Context, cfg Config) (*Queue, error) {
	if cfg.Backend == nil {
		return nil, fmt.Errorf("queue: Config.Backend is required")
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	syncer := NewSyncer(cfg.Backend, cfg.OnSync)
	ids, err := LoadIDGenerator(ctx, cfg.Backend, syncer)
	if err != nil {
		syncer.Stop()
		return nil, err
	}

	q := &Queue{
		backend:        cfg.Backend,
		layout:         cfg.Layout,
		maxContentsLen: cfg.MaxContentsLen,
		now:            now,
		vis:            NewVisibilityIndex(),
		ids:            ids,
		syncer:         syncer,
		susp:           NewSuspension(),
	}
	if cfg.Layout == LayoutSlotFile {
		q.vacant = NewVacantSet()
	}
	return q, nil
}

// Suspension exposes the C8 kill switches and counters, for the admin
// and metrics HTTP endpoints.
func (q *Queue) Suspension() *Suspension { return q.susp }

// VisibilityDepth reports how many messages are currently indexed
// (visible or pending visibility), for the visibility-index-depth
// gauge (§6a).
func (q *Queue) VisibilityDepth() int { return q.vis.Len() }

// VacantDepth reports how many deleted slots are free for reclamation
// under the slot-file layout. Always 0 under the bolt-kv layout, which
// has no vacant set.
func (q *Queue) VacantDepth() int {
	if q.vacant == nil {
		return 0
	}
	return q.vacant.Len()
}

// Ping performs a trivial durable read, for the HTTP /readyz check.
func (q *Queue) Ping(ctx context.Context) error {
	_, err := q.backend.LoadWatermark(ctx)
	return err
}

// Close stops the background syncer and the backend.
func (q *Queue) Close() error {
	q.syncer.Stop()
	return q.backend.Close()
}

func (q *Queue) nowUnix() int64 { return q.now().Unix() }

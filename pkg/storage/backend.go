package storage

import (
	"context"
	"errors"

	"github.com/cuemby/cairnq/pkg/types"
)

// ErrNotFound is returned by ReadMessage when no message exists at the
// given id (already deleted, or never pushed).
var ErrNotFound = errors.New("storage: message not found")

// MessageCreation is one accepted element of a push batch, already
// assigned an id and a visible timestamp by the caller (the operation
// layer, which owns id allocation via the id generator).
type MessageCreation struct {
	ID        uint64
	Contents  []byte
	CreatedTS int64
	VisibleTS int64
}

// StoredMessage is what a backend hands back on read: everything the
// operation layer needs to build a poll response or decide a
// poll-tag match, without exposing layout details (slot offsets,
// bucket keys) outside this package.
type StoredMessage struct {
	ID        uint64
	Contents  []byte
	CreatedTS int64
	VisibleTS int64
	PollCount uint32
	PollTag   types.PollTag
}

// MutationKind distinguishes the two metadata-only writes the
// operation layer issues outside of push/poll: an update's
// (poll_tag, visible_ts) rewrite, and a delete's full removal.
type MutationKind uint8

const (
	MutationUpdate MutationKind = iota
	MutationDelete
)

// Mutation is one staged change in a delete or update batch. Update
// sends exactly one per call; delete sends one per accepted element.
type Mutation struct {
	Kind      MutationKind
	ID        uint64
	NewTag    types.PollTag // MutationUpdate only
	VisibleTS int64         // MutationUpdate only
}

// Backend is the storage contract shared by the two layouts named in
// spec.md §3: the fixed-size slot layout (slotfile.Backend) and the
// keyed metadata layout (boltkv.Backend). The operation layer (C7) is
// written entirely against this interface and never branches on which
// concrete backend is wired in.
//
// Every mutating method returns once its effect is visible to a
// subsequent Read on the same backend. None of them, on their own,
// guarantee durability — a caller must invoke Sync afterwards (this is
// what the batched syncer, C3, wraps and amortises across concurrent
// callers). This mirrors the slot layout's WriteAt vs.
// WriteAtWithDelayedSync split from spec.md §4.1, generalized so the
// keyed layout can implement the same seam even though bbolt commits
// are internally durable already.
type Backend interface {
	// CreateMessages persists a freshly-allocated batch of messages as
	// Available with poll_count 0 and a zero poll tag. It does not
	// touch the visibility index; the caller inserts there itself
	// after the Sync barrier (spec.md §4.6, push steps 3-5).
	CreateMessages(ctx context.Context, msgs []MessageCreation) error

	// ReadMessage fetches the current durable contents and metadata
	// for id. Returns ErrNotFound if absent.
	ReadMessage(ctx context.Context, id uint64) (StoredMessage, error)

	// RewriteAfterPoll persists the effect of a delivery: a fresh poll
	// tag, a bumped poll count, and the new visible timestamp. The
	// slotfile backend uses this to rewrite only the fixed-size prefix
	// of the slot (hash_includes_contents=0); the boltkv backend
	// rewrites the MessagePollTag and MessageVisibleTimestampSec keys.
	RewriteAfterPoll(ctx context.Context, id uint64, tag types.PollTag, visibleTS int64, pollCount uint32) error

	// ApplyMutations commits one batch of update/delete mutations.
	ApplyMutations(ctx context.Context, muts []Mutation) error

	// LoadWatermark returns the durable id watermark (C4's
	// `committed`), or 0 if none has ever been written.
	LoadWatermark(ctx context.Context) (uint64, error)

	// SaveWatermark advances the id watermark. Called by the id
	// generator's commit, which follows it with a Sync barrier to make
	// it durable.
	SaveWatermark(ctx context.Context, committed uint64) error

	// Sync is the backend-specific durability barrier: fsync for the
	// slot file, a no-op for bbolt (whose Update transactions already
	// fsync on commit). The batched syncer (C3) is the only caller
	// that should invoke this directly; everything else goes through
	// it so concurrent callers share one flush.
	Sync(ctx context.Context) error

	Close() error
}

package queue

import (
	"bytes"
	"sync"

	"github.com/cuemby/cairnq/pkg/types"
	"github.com/google/btree"
)

// visEntry orders the visibility index first by visible timestamp,
// then by id, so PopEarliestVisible always returns the
// longest-waiting eligible message first.
type visEntry struct {
	visibleTS int64
	id        uint64
}

func (e visEntry) Less(than btree.Item) bool {
	o := than.(visEntry)
	if e.visibleTS != o.visibleTS {
		return e.visibleTS < o.visibleTS
	}
	return e.id < o.id
}

type indexedState struct {
	visibleTS int64
	pollTag   types.PollTag
}

// VisibilityIndex is C5: the ordered set of (visible_ts, id) pairs for
// every live message, whether already visible or not yet, plus the side
// mapping id -> (visible_ts, poll_tag) spec.md §3 requires so a delete
// or update can check its caller-supplied poll tag against the most
// recent delivery without touching storage. A message is inserted at
// push; a poll pops it and, once the new poll tag is durable, reinserts
// it under the new visible_ts and tag; an update does the same after a
// tag match; a delete removes it for good.
//
// Backed by github.com/google/btree rather than a bespoke heap: the set
// needs both "pop earliest" and "remove by id" (a delete or update can
// race a timeout), which a btree gives in O(log n) without the
// index-tracking bookkeeping a container/heap removal-by-key needs.
type VisibilityIndex struct {
	mu   sync.Mutex
	tree *btree.BTree
	byID map[uint64]indexedState
}

// NewVisibilityIndex constructs an empty index.
func NewVisibilityIndex() *VisibilityIndex {
	return &VisibilityIndex{
		tree: btree.New(32),
		byID: make(map[uint64]indexedState),
	}
}

// Insert makes id eligible for delivery once visibleTS has passed,
// under pollTag. If id is already present, its old entry is replaced.
func (v *VisibilityIndex) Insert(id uint64, visibleTS int64, pollTag types.PollTag) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.removeLocked(id)
	v.tree.ReplaceOrInsert(visEntry{visibleTS: visibleTS, id: id})
	v.byID[id] = indexedState{visibleTS: visibleTS, pollTag: pollTag}
}

func (v *VisibilityIndex) removeLocked(id uint64) bool {
	st, ok := v.byID[id]
	if !ok {
		return false
	}
	v.tree.Delete(visEntry{visibleTS: st.visibleTS, id: id})
	delete(v.byID, id)
	return true
}

// RemoveIfTagMatches removes id and returns true only if id is present
// and its indexed poll tag equals expected. This is the linearisation
// point for delete/update against the most recent poll (spec.md §5,
// §8 invariant 3): a mismatching or absent tag leaves the index
// untouched.
func (v *VisibilityIndex) RemoveIfTagMatches(id uint64, expected types.PollTag) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	st, ok := v.byID[id]
	if !ok || !bytes.Equal(st.pollTag, expected) {
		return false
	}
	return v.removeLocked(id)
}

// PopEarliestVisible removes and returns the id with the smallest
// visible_ts, provided that timestamp is <= now. Returns ok=false if
// the index is empty or its earliest entry is still in the future.
func (v *VisibilityIndex) PopEarliestVisible(now int64) (id uint64, ok bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	item := v.tree.Min()
	if item == nil {
		return 0, false
	}
	e := item.(visEntry)
	if e.visibleTS > now {
		return 0, false
	}
	v.tree.DeleteMin()
	delete(v.byID, e.id)
	return e.id, true
}

// Len reports the number of messages currently indexed, visible or
// not. Exposed for the live visibility-index-depth gauge (§6a).
func (v *VisibilityIndex) Len() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.tree.Len()
}

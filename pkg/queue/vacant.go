package queue

import (
	"sync"

	"github.com/google/btree"
)

type vacantEntry uint64

func (e vacantEntry) Less(than btree.Item) bool {
	return e < than.(vacantEntry)
}

// VacantSet is C6: the set of free slot indices in the slotfile
// backend, ordered so TakeLowest returns the lowest-numbered free slot.
// Delete adds each freed slot here; no operation takes slots back out,
// so push always allocates fresh ids and the slot file never reuses a
// freed slot. It has no role for the boltkv backend, which frees disk
// space by key deletion instead.
type VacantSet struct {
	mu   sync.Mutex
	tree *btree.BTree
}

// NewVacantSet constructs an empty set.
func NewVacantSet() *VacantSet {
	return &VacantSet{tree: btree.New(32)}
}

// Add marks slot as free for reuse.
func (s *VacantSet) Add(slot uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tree.ReplaceOrInsert(vacantEntry(slot))
}

// TakeLowest removes and returns the lowest free slot index, if any.
func (s *VacantSet) TakeLowest() (slot uint64, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item := s.tree.Min()
	if item == nil {
		return 0, false
	}
	s.tree.DeleteMin()
	return uint64(item.(vacantEntry)), true
}

// Len reports the number of free slots currently tracked.
func (s *VacantSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tree.Len()
}

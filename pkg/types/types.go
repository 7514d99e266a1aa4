// Package types defines the core data structures shared across cairnq's
// storage, queue, and API layers.
package types

// MessageState is the durable lifecycle state of a message's slot.
// "In flight" (delivered but not yet acknowledged) is not a persisted
// state: it is represented by the message's absence from the
// visibility index while Available remains on disk.
type MessageState uint8

const (
	StateVacant MessageState = iota
	StateAvailable
)

func (s MessageState) String() string {
	if s == StateAvailable {
		return "available"
	}
	return "vacant"
}

// PollTag is the single-use handle a consumer must present to delete or
// update a delivered message. Its width depends on the storage layout:
// the slot layout carries a 30-byte random token, the keyed layout
// carries a 32-bit counter. Both are represented as a byte string so
// the operation layer never needs to know which backend is active.
type PollTag []byte

// Message is the logical record exposed by the operation layer. It is
// assembled from backend-specific storage on read; nothing in this
// struct is ever used as the wire format directly (see pkg/api for the
// JSON request/response shapes).
type Message struct {
	ID         uint64
	Contents   []byte
	CreatedTS  int64
	VisibleTS  int64
	PollCount  uint32
	PollTag    PollTag
	State      MessageState
}

package queue

import "sync/atomic"

// Op identifies one of the four operations that can be independently
// suspended and counted (C8).
type Op int

const (
	OpPush Op = iota
	OpPoll
	OpUpdate
	OpDelete
	opCount
)

func (op Op) String() string {
	switch op {
	case OpPush:
		return "push"
	case OpPoll:
		return "poll"
	case OpUpdate:
		return "update"
	case OpDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// ParseOp maps an admin-endpoint path segment to an Op.
func ParseOp(s string) (Op, bool) {
	switch s {
	case "push":
		return OpPush, true
	case "poll":
		return OpPoll, true
	case "update":
		return OpUpdate, true
	case "delete":
		return OpDelete, true
	default:
		return 0, false
	}
}

// opCounters holds the per-operation outcome counters named in
// spec.md §4.7: successful calls (for delete, each deleted element),
// calls rejected for suspension, and update calls or delete elements
// whose target message did not exist (or whose poll tag no longer
// matched).
type opCounters struct {
	successful atomic.Uint64
	suspended  atomic.Uint64
	missing    atomic.Uint64
}

// Counters is a point-in-time snapshot of one operation's counters,
// used by the metrics collector and the admin/readyz endpoints.
type Counters struct {
	Successful uint64
	Suspended  uint64
	Missing    uint64
}

// Suspension is C8: independent suspend/resume flags and outcome
// counters for each of the four operations, plus the queue-wide
// empty-poll counter.
type Suspension struct {
	flags     [opCount]atomic.Bool
	counters  [opCount]opCounters
	emptyPoll atomic.Uint64
}

// NewSuspension constructs a Suspension with every operation enabled.
func NewSuspension() *Suspension {
	return &Suspension{}
}

// Suspend disables op: every subsequent element submitted to it is
// rejected until Resume is called.
func (s *Suspension) Suspend(op Op) { s.flags[op].Store(true) }

// Resume re-enables op.
func (s *Suspension) Resume(op Op) { s.flags[op].Store(false) }

// IsSuspended reports whether op is currently disabled.
func (s *Suspension) IsSuspended(op Op) bool { return s.flags[op].Load() }

func (s *Suspension) recordSuccess(op Op)    { s.counters[op].successful.Add(1) }
func (s *Suspension) recordSuspended(op Op)  { s.counters[op].suspended.Add(1) }
func (s *Suspension) recordMissing(op Op)    { s.counters[op].missing.Add(1) }

// recordEmptyPoll increments the counter of poll calls that found no
// visible message to deliver (spec.md §4.7's empty_poll_counter).
func (s *Suspension) recordEmptyPoll() { s.emptyPoll.Add(1) }

// Snapshot returns the current counters for op.
func (s *Suspension) Snapshot(op Op) Counters {
	return Counters{
		Successful: s.counters[op].successful.Load(),
		Suspended:  s.counters[op].suspended.Load(),
		Missing:    s.counters[op].missing.Load(),
	}
}

// EmptyPollCount returns the total number of poll calls that found
// nothing to deliver.
func (s *Suspension) EmptyPollCount() uint64 { return s.emptyPoll.Load() }

package queue

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSuspensionSuspendResume(t *testing.T) {
	s := NewSuspension()
	assert.False(t, s.IsSuspended(OpPush))

	s.Suspend(OpPush)
	assert.True(t, s.IsSuspended(OpPush))
	assert.False(t, s.IsSuspended(OpPoll))

	s.Resume(OpPush)
	assert.False(t, s.IsSuspended(OpPush))
}

func TestSuspensionCounters(t *testing.T) {
	s := NewSuspension()
	s.recordSuccess(OpPoll)
	s.recordSuccess(OpPoll)
	s.recordSuspended(OpPoll)
	s.recordMissing(OpPoll)
	s.recordEmptyPoll()

	snap := s.Snapshot(OpPoll)
	assert.EqualValues(t, 2, snap.Successful)
	assert.EqualValues(t, 1, snap.Suspended)
	assert.EqualValues(t, 1, snap.Missing)
	assert.EqualValues(t, 1, s.EmptyPollCount())
}

func TestParseOp(t *testing.T) {
	cases := map[string]Op{"push": OpPush, "poll": OpPoll, "update": OpUpdate, "delete": OpDelete}
	for name, want := range cases {
		got, ok := ParseOp(name)
		assert.True(t, ok)
		assert.Equal(t, want, got)
	}
	_, ok := ParseOp("nonsense")
	assert.False(t, ok)
}

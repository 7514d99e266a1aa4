package queue

import (
	"testing"

	"github.com/cuemby/cairnq/pkg/types"
	"github.com/stretchr/testify/assert"
)

func TestIncrementPollTagCarries(t *testing.T) {
	tag := types.PollTag([]byte{0x00, 0xFF})
	got := incrementPollTag(tag, 2)
	assert.Equal(t, []byte{0x01, 0x00}, []byte(got))
}

func TestFreshPollTagAfterPollSlotFileIsRandomAndFullWidth(t *testing.T) {
	old := zeroPollTag(slotPollTagWidth)
	got := freshPollTagAfterPoll(LayoutSlotFile, old)
	assert.Len(t, got, slotPollTagWidth)
}

func TestFreshPollTagAfterPollBoltKVIncrementsOldTag(t *testing.T) {
	old := zeroPollTag(boltPollTagWidth)
	got := freshPollTagAfterPoll(LayoutBoltKV, old)
	assert.Equal(t, incrementPollTag(old, boltPollTagWidth), got)
}

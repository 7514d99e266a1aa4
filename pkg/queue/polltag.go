package queue

import (
	"crypto/rand"

	"github.com/cuemby/cairnq/pkg/types"
)

// zeroPollTag returns the width-byte tag a freshly-pushed, never-polled
// message carries (spec.md §4.6 push step 2).
func zeroPollTag(width int) types.PollTag {
	return make(types.PollTag, width)
}

// freshPollTagAfterPoll derives the poll tag a delivery installs,
// per spec.md §4.6 poll step 2: the slot layout draws 30 fresh random
// bytes per delivery; the keyed layout instead increments the previous
// tag by one.
func freshPollTagAfterPoll(layout Layout, old types.PollTag) types.PollTag {
	width := layout.pollTagWidth()
	if layout == LayoutSlotFile {
		tag := make(types.PollTag, width)
		if _, err := rand.Read(tag); err != nil {
			panic("queue: failed to read random poll tag: " + err.Error())
		}
		return tag
	}
	return incrementPollTag(old, width)
}

// incrementPollTag treats tag as a big-endian unsigned integer of
// width bytes and adds one, per spec.md §4.6 update: "new_poll_tag =
// poll_tag + 1". Used for both layouts in update(); overflow wraps
// silently, as poll tags are single-use handles, not counters that
// need to stay unique across the tag's entire range.
func incrementPollTag(tag types.PollTag, width int) types.PollTag {
	out := make(types.PollTag, width)
	copy(out, tag)
	for i := width - 1; i >= 0; i-- {
		out[i]++
		if out[i] != 0 {
			break
		}
	}
	return out
}

package queue

import (
	"context"
	"encoding/hex"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cuemby/cairnq/pkg/storage"
	"github.com/cuemby/cairnq/pkg/storage/boltkv"
	"github.com/cuemby/cairnq/pkg/storage/slotfile"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock gives tests deterministic control over now(), needed for
// the visibility-timeout scenarios (S2, S6) without real sleeps.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Unix(1_700_000_000, 0)}
}

func (c *fakeClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type backendCase struct {
	name   string
	layout Layout
	open   func(t *testing.T) storage.Backend
}

func backendCases(t *testing.T) []backendCase {
	t.Helper()
	return []backendCase{
		{
			name:   "slotfile",
			layout: LayoutSlotFile,
			open: func(t *testing.T) storage.Backend {
				b, err := slotfile.Open(filepath.Join(t.TempDir(), "cairnq.slots"), 256)
				require.NoError(t, err)
				return b
			},
		},
		{
			name:   "boltkv",
			layout: LayoutBoltKV,
			open: func(t *testing.T) storage.Backend {
				b, err := boltkv.Open(t.TempDir())
				require.NoError(t, err)
				return b
			},
		},
	}
}

func newTestQueue(t *testing.T, bc backendCase) (*Queue, *fakeClock) {
	t.Helper()
	clock := newFakeClock()
	q, err := New(context.Background(), Config{
		Backend:        bc.open(t),
		Layout:         bc.layout,
		MaxContentsLen: 256,
		Now:            clock.now,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = q.Close() })
	return q, clock
}

// TestPushPollDelete covers S1.
func TestPushPollDelete(t *testing.T) {
	for _, bc := range backendCases(t) {
		t.Run(bc.name, func(t *testing.T) {
			q, _ := newTestQueue(t, bc)
			ctx := context.Background()

			res, err := q.Push(ctx, []PushElement{{Contents: []byte("hello"), VisibilityTimeoutSecs: 0}})
			require.NoError(t, err)
			assert.Empty(t, res.Errors)

			msg, err := q.Poll(ctx, 30)
			require.NoError(t, err)
			require.NotNil(t, msg)
			assert.Equal(t, []byte("hello"), msg.Contents)
			assert.EqualValues(t, 1, msg.PollCount)

			err = q.Delete(ctx, []DeleteElement{{ID: msg.ID, PollTag: msg.PollTag}})
			require.NoError(t, err)

			again, err := q.Poll(ctx, 30)
			require.NoError(t, err)
			assert.Nil(t, again)
		})
	}
}

// TestInvisibleUntilVisible covers S2.
func TestInvisibleUntilVisible(t *testing.T) {
	for _, bc := range backendCases(t) {
		t.Run(bc.name, func(t *testing.T) {
			q, clock := newTestQueue(t, bc)
			ctx := context.Background()

			_, err := q.Push(ctx, []PushElement{{Contents: []byte("x"), VisibilityTimeoutSecs: 60}})
			require.NoError(t, err)

			msg, err := q.Poll(ctx, 30)
			require.NoError(t, err)
			assert.Nil(t, msg)

			clock.Advance(61 * time.Second)
			msg, err = q.Poll(ctx, 30)
			require.NoError(t, err)
			require.NotNil(t, msg)
			assert.EqualValues(t, 1, msg.PollCount)
		})
	}
}

// TestStaleDeleteThenUpdatedTagSucceeds covers S3.
func TestStaleDeleteThenUpdatedTagSucceeds(t *testing.T) {
	for _, bc := range backendCases(t) {
		t.Run(bc.name, func(t *testing.T) {
			q, _ := newTestQueue(t, bc)
			ctx := context.Background()

			_, err := q.Push(ctx, []PushElement{{Contents: []byte("y"), VisibilityTimeoutSecs: 0}})
			require.NoError(t, err)

			msg, err := q.Poll(ctx, 0)
			require.NoError(t, err)
			require.NotNil(t, msg)
			staleTag := msg.PollTag

			newTag, err := q.Update(ctx, msg.ID, staleTag, 0)
			require.NoError(t, err)
			assert.NotEqual(t, []byte(staleTag), []byte(newTag))

			err = q.Delete(ctx, []DeleteElement{{ID: msg.ID, PollTag: staleTag}})
			require.NoError(t, err)
			assert.EqualValues(t, 1, q.Suspension().Snapshot(OpDelete).Missing)

			err = q.Delete(ctx, []DeleteElement{{ID: msg.ID, PollTag: newTag}})
			require.NoError(t, err)
			assert.EqualValues(t, 1, q.Suspension().Snapshot(OpDelete).Successful)
		})
	}
}

// TestPushBatchPartialErrors covers S4.
func TestPushBatchPartialErrors(t *testing.T) {
	for _, bc := range backendCases(t) {
		t.Run(bc.name, func(t *testing.T) {
			q, _ := newTestQueue(t, bc)
			ctx := context.Background()

			tooBig := strings.Repeat("a", 300)
			res, err := q.Push(ctx, []PushElement{
				{Contents: []byte(tooBig), VisibilityTimeoutSecs: 0},
				{Contents: []byte("b"), VisibilityTimeoutSecs: 0},
				{Contents: []byte("c"), VisibilityTimeoutSecs: -1},
			})
			require.NoError(t, err)
			require.Len(t, res.Errors, 2)
			assert.Equal(t, ElementError{Index: 0, Kind: ErrContentsTooLarge}, res.Errors[0])
			assert.Equal(t, ElementError{Index: 2, Kind: ErrInvalidVisibilityTimeout}, res.Errors[1])

			msg, err := q.Poll(ctx, 0)
			require.NoError(t, err)
			require.NotNil(t, msg)
			assert.Equal(t, []byte("b"), msg.Contents)
		})
	}
}

// TestSuspendedPoll covers S5.
func TestSuspendedPoll(t *testing.T) {
	for _, bc := range backendCases(t) {
		t.Run(bc.name, func(t *testing.T) {
			q, _ := newTestQueue(t, bc)
			ctx := context.Background()

			q.Suspension().Suspend(OpPoll)
			_, err := q.Poll(ctx, 30)
			var opErr *OpError
			require.ErrorAs(t, err, &opErr)
			assert.Equal(t, ErrSuspended, opErr.Kind)
			assert.EqualValues(t, 1, q.Suspension().Snapshot(OpPoll).Suspended)
		})
	}
}

// TestEarliestVisibleOrdering covers S6.
func TestEarliestVisibleOrdering(t *testing.T) {
	for _, bc := range backendCases(t) {
		t.Run(bc.name, func(t *testing.T) {
			q, clock := newTestQueue(t, bc)
			ctx := context.Background()

			_, err := q.Push(ctx, []PushElement{{Contents: []byte("first"), VisibilityTimeoutSecs: 5}})
			require.NoError(t, err)
			_, err = q.Push(ctx, []PushElement{{Contents: []byte("second"), VisibilityTimeoutSecs: 1}})
			require.NoError(t, err)

			clock.Advance(2 * time.Second)
			msg, err := q.Poll(ctx, 30)
			require.NoError(t, err)
			require.NotNil(t, msg)
			assert.Equal(t, []byte("second"), msg.Contents)
		})
	}
}

// TestAtMostOneInFlight asserts invariant 2: between a successful poll
// and the next successful delete/update/poll of the same message, no
// other poll can return the same id.
func TestAtMostOneInFlight(t *testing.T) {
	for _, bc := range backendCases(t) {
		t.Run(bc.name, func(t *testing.T) {
			q, _ := newTestQueue(t, bc)
			ctx := context.Background()

			_, err := q.Push(ctx, []PushElement{{Contents: []byte("only"), VisibilityTimeoutSecs: 0}})
			require.NoError(t, err)

			first, err := q.Poll(ctx, 60)
			require.NoError(t, err)
			require.NotNil(t, first)

			second, err := q.Poll(ctx, 60)
			require.NoError(t, err)
			assert.Nil(t, second)
		})
	}
}

// TestPollTagIsHexEncodable sanity-checks the poll tag can round-trip
// through the hex encoding pkg/api uses for the wire format.
func TestPollTagIsHexEncodable(t *testing.T) {
	q, _ := newTestQueue(t, backendCases(t)[0])
	ctx := context.Background()
	_, err := q.Push(ctx, []PushElement{{Contents: []byte("x"), VisibilityTimeoutSecs: 0}})
	require.NoError(t, err)
	msg, err := q.Poll(ctx, 0)
	require.NoError(t, err)
	require.NotNil(t, msg)
	encoded := hex.EncodeToString(msg.PollTag)
	decoded, err := hex.DecodeString(encoded)
	require.NoError(t, err)
	assert.Equal(t, []byte(msg.PollTag), decoded)
}

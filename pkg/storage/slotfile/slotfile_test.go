package slotfile

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/cuemby/cairnq/pkg/storage"
	"github.com/cuemby/cairnq/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestBackend(t *testing.T) *Backend {
	t.Helper()
	b, err := Open(filepath.Join(t.TempDir(), "cairnq.slots"), 256)
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func TestCreateAndReadMessage(t *testing.T) {
	ctx := context.Background()
	b := openTestBackend(t)

	err := b.CreateMessages(ctx, []storage.MessageCreation{
		{ID: 1, Contents: []byte("hello"), CreatedTS: 100, VisibleTS: 100},
	})
	require.NoError(t, err)

	msg, err := b.ReadMessage(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), msg.Contents)
	assert.EqualValues(t, 100, msg.CreatedTS)
	assert.EqualValues(t, 100, msg.VisibleTS)
	assert.EqualValues(t, 0, msg.PollCount)
}

func TestReadMissingMessage(t *testing.T) {
	b := openTestBackend(t)
	_, err := b.ReadMessage(context.Background(), 42)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

// TestRewriteAfterPollPreservesContents verifies the write-amplification
// bound: a poll rewrite only touches the fixed fields and leaves the
// previously-hashed contents region untouched.
func TestRewriteAfterPollPreservesContents(t *testing.T) {
	ctx := context.Background()
	b := openTestBackend(t)
	require.NoError(t, b.CreateMessages(ctx, []storage.MessageCreation{
		{ID: 7, Contents: []byte("payload"), CreatedTS: 1, VisibleTS: 1},
	}))

	tag := types.PollTag("abcdefghijklmnopqrstuvwxyz0123")
	require.NoError(t, b.RewriteAfterPoll(ctx, 7, tag, 500, 1))

	msg, err := b.ReadMessage(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), msg.Contents)
	assert.EqualValues(t, 500, msg.VisibleTS)
	assert.EqualValues(t, 1, msg.PollCount)
	assert.Equal(t, []byte(tag), []byte(msg.PollTag))
}

func TestApplyMutationDelete(t *testing.T) {
	ctx := context.Background()
	b := openTestBackend(t)
	require.NoError(t, b.CreateMessages(ctx, []storage.MessageCreation{
		{ID: 3, Contents: []byte("x"), CreatedTS: 1, VisibleTS: 1},
	}))

	require.NoError(t, b.ApplyMutations(ctx, []storage.Mutation{
		{Kind: storage.MutationDelete, ID: 3},
	}))

	_, err := b.ReadMessage(ctx, 3)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestApplyMutationUpdate(t *testing.T) {
	ctx := context.Background()
	b := openTestBackend(t)
	require.NoError(t, b.CreateMessages(ctx, []storage.MessageCreation{
		{ID: 9, Contents: []byte("x"), CreatedTS: 1, VisibleTS: 1},
	}))

	newTag := types.PollTag("zzzzzzzzzzzzzzzzzzzzzzzzzzzzzz")
	require.NoError(t, b.ApplyMutations(ctx, []storage.Mutation{
		{Kind: storage.MutationUpdate, ID: 9, NewTag: newTag, VisibleTS: 999},
	}))

	msg, err := b.ReadMessage(ctx, 9)
	require.NoError(t, err)
	assert.EqualValues(t, 999, msg.VisibleTS)
	assert.Equal(t, []byte(newTag), []byte(msg.PollTag))
}

func TestWatermarkRoundTrip(t *testing.T) {
	ctx := context.Background()
	b := openTestBackend(t)

	got, err := b.LoadWatermark(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 0, got)

	require.NoError(t, b.SaveWatermark(ctx, 12345))
	got, err = b.LoadWatermark(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 12345, got)
}

func TestContentsTooLarge(t *testing.T) {
	b := openTestBackend(t)
	big := make([]byte, 512)
	err := b.CreateMessages(context.Background(), []storage.MessageCreation{
		{ID: 1, Contents: big},
	})
	assert.Error(t, err)
}

func TestHashDetectsCorruption(t *testing.T) {
	ctx := context.Background()
	b := openTestBackend(t)
	require.NoError(t, b.CreateMessages(ctx, []storage.MessageCreation{
		{ID: 1, Contents: []byte("hello"), CreatedTS: 1, VisibleTS: 1},
	}))

	// Flip a byte inside the content region without recomputing the hash.
	corrupt := make([]byte, 1)
	corrupt[0] = 'H'
	_, err := b.f.WriteAt(corrupt, b.slotOffset(1)+offsetContents)
	require.NoError(t, err)

	assert.Panics(t, func() {
		_, _ = b.ReadMessage(ctx, 1)
	})
}

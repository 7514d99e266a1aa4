package metrics

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/cuemby/cairnq/pkg/queue"
	"github.com/cuemby/cairnq/pkg/storage/slotfile"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func newTestQueueForCollector(t *testing.T) *queue.Queue {
	t.Helper()
	b, err := slotfile.Open(filepath.Join(t.TempDir(), "cairnq.slots"), 256)
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })

	q, err := queue.New(context.Background(), queue.Config{
		Backend:        b,
		Layout:         queue.LayoutSlotFile,
		MaxContentsLen: 256,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = q.Close() })
	return q
}

func TestCollectorCollectSetsGauges(t *testing.T) {
	q := newTestQueueForCollector(t)
	_, err := q.Push(context.Background(), []queue.PushElement{{Contents: []byte("hi")}})
	require.NoError(t, err)

	c := NewCollector(q)
	c.collect()

	require.Equal(t, float64(1), testutil.ToFloat64(VisibilityIndexDepth))
}

func TestCollectorStartStop(t *testing.T) {
	q := newTestQueueForCollector(t)
	c := NewCollector(q)
	c.Start()
	time.Sleep(10 * time.Millisecond)
	c.Stop()
}

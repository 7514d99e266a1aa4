package queue

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/cuemby/cairnq/pkg/storage/slotfile"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSyncerConcurrentCallersShareAFlush(t *testing.T) {
	b, err := slotfile.Open(filepath.Join(t.TempDir(), "cairnq.slots"), 64)
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })

	s := NewSyncer(b, nil)
	t.Cleanup(s.Stop)

	var wg sync.WaitGroup
	errs := make([]error, 20)
	for i := 0; i < len(errs); i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = s.Submit(context.Background())
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		assert.NoError(t, err)
	}
}

func TestSyncerStopAfterSubmit(t *testing.T) {
	b, err := slotfile.Open(filepath.Join(t.TempDir(), "cairnq.slots"), 64)
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })

	s := NewSyncer(b, nil)
	err = s.Submit(context.Background())
	require.NoError(t, err)
	s.Stop()
}

func TestSyncerOnFlushObservesEachBatch(t *testing.T) {
	b, err := slotfile.Open(filepath.Join(t.TempDir(), "cairnq.slots"), 64)
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })

	var mu sync.Mutex
	calls := 0
	s := NewSyncer(b, func(time.Duration) {
		mu.Lock()
		calls++
		mu.Unlock()
	})
	t.Cleanup(s.Stop)

	require.NoError(t, s.Submit(context.Background()))
	require.NoError(t, s.Submit(context.Background()))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 2, calls)
}

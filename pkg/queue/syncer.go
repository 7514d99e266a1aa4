package queue

import (
	"context"
	"sync"
	"time"

	"github.com/cuemby/cairnq/pkg/storage"
)

// Syncer is C3: a single background flusher that amortises the
// backend's durability barrier (fsync, or bbolt's transaction commit)
// across every caller waiting on it. A caller that calls Submit is
// guaranteed its prior writes are durable once Submit returns, because
// the flusher always drains the full backlog of waiters queued before
// it starts a flush — the same ordering guarantee the teacher's
// ticker-driven background loops (pkg/worker, pkg/metrics/collector)
// give their periodic work, just triggered on demand instead of on a
// fixed interval.
type Syncer struct {
	backend storage.Backend
	onFlush func(time.Duration)

	mu      sync.Mutex
	waiters []chan error
	flushCh chan struct{}

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewSyncer starts the background flusher loop for backend. onFlush, if
// non-nil, is called with the backend.Sync latency after every flush
// that had at least one waiter — the hook cmd/cairnq uses to observe
// pkg/metrics' sync-barrier-duration histogram without pkg/queue
// importing pkg/metrics.
func NewSyncer(backend storage.Backend, onFlush func(time.Duration)) *Syncer {
	s := &Syncer{
		backend: backend,
		onFlush: onFlush,
		flushCh: make(chan struct{}, 1),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
	go s.loop()
	return s
}

// Submit blocks until every write submitted before this call is
// durable. Concurrent callers share a single flush.
func (s *Syncer) Submit(ctx context.Context) error {
	wait := make(chan error, 1)
	s.mu.Lock()
	s.waiters = append(s.waiters, wait)
	s.mu.Unlock()

	select {
	case s.flushCh <- struct{}{}:
	default:
	}

	select {
	case err := <-wait:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Syncer) loop() {
	defer close(s.doneCh)
	for {
		select {
		case <-s.flushCh:
			s.flushOnce()
		case <-s.stopCh:
			s.flushOnce()
			return
		}
	}
}

func (s *Syncer) flushOnce() {
	s.mu.Lock()
	batch := s.waiters
	s.waiters = nil
	s.mu.Unlock()

	if len(batch) == 0 {
		return
	}

	start := time.Now()
	err := s.backend.Sync(context.Background())
	if s.onFlush != nil {
		s.onFlush(time.Since(start))
	}
	for _, w := range batch {
		w <- err
	}
}

// Stop flushes any remaining writes and halts the background loop.
func (s *Syncer) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
		<-s.doneCh
	})
}

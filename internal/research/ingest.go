package research

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"cognihub/internal/store"
)

// queueDepth bounds pending background ingestions; overflow is dropped,
// a later round will rediscover anything that mattered.
const queueDepth = 256

// IngestQueue drains web-page ingestion in the background so rounds are
// not blocked on slow fetches. URLs are deduplicated by a
// process-lifetime seen set with no eviction.
type IngestQueue struct {
	jobs   chan string
	store  *store.WebStore
	log    *zap.Logger
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu   sync.Mutex
	seen map[string]bool
}

// NewIngestQueue starts workers goroutines draining the queue.
func NewIngestQueue(webStore *store.WebStore, workers int, log *zap.Logger) *IngestQueue {
	if workers < 1 {
		workers = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	q := &IngestQueue{
		jobs:   make(chan string, queueDepth),
		store:  webStore,
		log:    log.Named("ingest"),
		cancel: cancel,
		seen:   make(map[string]bool),
	}
	for i := 0; i < workers; i++ {
		q.wg.Add(1)
		go q.worker(ctx)
	}
	return q
}

// MarkSeen records a URL and reports whether it was new. Callers that
// ingest synchronously use this to keep the dedup set authoritative.
func (q *IngestQueue) MarkSeen(url string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.seen[url] {
		return false
	}
	q.seen[url] = true
	return true
}

// Enqueue schedules a URL for background ingestion. Already-seen URLs
// and queue overflow are dropped; both report false.
func (q *IngestQueue) Enqueue(url string) bool {
	if !q.MarkSeen(url) {
		return false
	}
	return q.Submit(url)
}

// Submit schedules a URL the caller has already claimed via MarkSeen.
// Overflow is dropped rather than blocking the round loop.
func (q *IngestQueue) Submit(url string) bool {
	select {
	case q.jobs <- url:
		return true
	default:
		q.log.Debug("ingest queue full, dropping url", zap.String("url", url))
		return false
	}
}

// Close stops the workers and waits for in-flight ingestions.
func (q *IngestQueue) Close() {
	q.cancel()
	close(q.jobs)
	q.wg.Wait()
}

func (q *IngestQueue) worker(ctx context.Context) {
	defer q.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case url, ok := <-q.jobs:
			if !ok {
				return
			}
			if _, err := q.store.UpsertPageFromURL(ctx, url, false); err != nil {
				q.log.Debug("background ingest failed", zap.String("url", url), zap.Error(err))
			}
		}
	}
}

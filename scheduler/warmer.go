package scheduler

import (
	"context"
	"log"
	"sync"
	"time"

	"pricewise/orchestrator"
)

// Prefetcher refreshes the cached clusters for one query in one region
type Prefetcher interface {
	Prefetch(ctx context.Context, query, region string, policy orchestrator.Policy) (int, error)
}

type warmTask struct {
	query  string
	region string
}

func (t warmTask) key() string {
	return t.region + "|" + t.query
}

// WarmerStats counts what the warmer has done since it started
type WarmerStats struct {
	Submitted  int       `json:"submitted"`
	Completed  int       `json:"completed"`
	Failed     int       `json:"failed"`
	Dropped    int       `json:"dropped"`
	QueueSize  int       `json:"queue_size"`
	Workers    int       `json:"workers"`
	LastWarmed time.Time `json:"last_warmed,omitempty"`
}

// Warmer prefetches popular queries on a fixed pool of workers so that
// the next search for them is served from cache
type Warmer struct {
	prefetch Prefetcher
	policy   orchestrator.Policy
	queue    chan warmTask
	workers  int

	mu       sync.Mutex
	inFlight map[string]bool
	stats    WarmerStats

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewWarmer starts workers goroutines draining a queue of queueSize tasks
func NewWarmer(p Prefetcher, policy orchestrator.Policy, workers, queueSize int) *Warmer {
	workers = max(workers, 1)
	queueSize = max(queueSize, 1)
	ctx, cancel := context.WithCancel(context.Background())
	w := &Warmer{
		prefetch: p,
		policy:   policy,
		queue:    make(chan warmTask, queueSize),
		workers:  workers,
		inFlight: make(map[string]bool),
		ctx:      ctx,
		cancel:   cancel,
	}

	for i := 0; i < workers; i++ {
		w.wg.Add(1)
		go w.worker()
	}
	log.Printf("🚀 Cache warmer started with %d workers", workers)
	return w
}

// Submit queues a prefetch. It never blocks: a full queue or a task already
// pending for the same query and region is dropped and reported as false.
func (w *Warmer) Submit(query, region string) bool {
	task := warmTask{query: query, region: region}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.ctx.Err() != nil || w.inFlight[task.key()] {
		w.stats.Dropped++
		return false
	}

	select {
	case w.queue <- task:
		w.inFlight[task.key()] = true
		w.stats.Submitted++
		return true
	default:
		w.stats.Dropped++
		log.Printf("❌ Warm queue full, dropping %q", query)
		return false
	}
}

func (w *Warmer) worker() {
	defer w.wg.Done()
	for {
		select {
		case <-w.ctx.Done():
			return
		case task := <-w.queue:
			w.run(task)
		}
	}
}

func (w *Warmer) run(task warmTask) {
	n, err := w.prefetch.Prefetch(w.ctx, task.query, task.region, w.policy)

	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.inFlight, task.key())
	if err != nil {
		w.stats.Failed++
		log.Printf("⚠️  Warming %q failed: %v", task.query, err)
		return
	}
	w.stats.Completed++
	w.stats.LastWarmed = time.Now()
	log.Printf("✅ Warmed %q: %d products", task.query, n)
}

// Stats returns a snapshot of the counters
func (w *Warmer) Stats() WarmerStats {
	w.mu.Lock()
	defer w.mu.Unlock()
	s := w.stats
	s.QueueSize = len(w.queue)
	s.Workers = w.workers
	return s
}

// Stop cancels in-flight prefetches and waits for the workers to exit
func (w *Warmer) Stop() {
	w.cancel()
	w.wg.Wait()
	log.Println("🛑 Cache warmer stopped")
}

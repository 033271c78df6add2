package engine

import (
	"context"
	"errors"
	"hash/fnv"
	"sync"
	"sync/atomic"
	"time"
)

// Pool errors.
var (
	ErrPoolNotStarted = errors.New("worker pool not started")
	ErrPoolStopped    = errors.New("worker pool stopped")
	ErrQueueFull      = errors.New("worker queue full")
	ErrStopTimeout    = errors.New("worker pool stop timed out")
)

// shardedPool runs N workers, each with its own bounded queue. Work is
// routed by an FNV hash of its key, so all items sharing a key are
// processed in arrival order by one worker while distinct keys proceed in
// parallel. Submit is non-blocking: a full shard queue drops the item and
// reports backpressure.
type shardedPool[T any] struct {
	workers   int
	queues    []chan T
	processor func(context.Context, T)

	lifecycleMu sync.Mutex
	started     bool
	stopped     bool
	wg          sync.WaitGroup
	cancel      context.CancelFunc

	// Statistics (atomic)
	submitted int64
	processed int64
	dropped   int64
}

func newShardedPool[T any](workers, queueSize int, processor func(context.Context, T)) *shardedPool[T] {
	if workers <= 0 {
		workers = 4
	}
	if queueSize <= 0 {
		queueSize = 256
	}
	queues := make([]chan T, workers)
	for i := range queues {
		queues[i] = make(chan T, queueSize)
	}
	return &shardedPool[T]{
		workers:   workers,
		queues:    queues,
		processor: processor,
	}
}

// Start launches the workers. Safe to call once.
func (p *shardedPool[T]) Start(ctx context.Context) error {
	p.lifecycleMu.Lock()
	defer p.lifecycleMu.Unlock()

	if p.started {
		return nil
	}
	workerCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.started = true

	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(workerCtx, p.queues[i])
	}
	return nil
}

func (p *shardedPool[T]) worker(ctx context.Context, queue chan T) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case item, ok := <-queue:
			if !ok {
				return
			}
			p.processor(ctx, item)
			atomic.AddInt64(&p.processed, 1)
		}
	}
}

// Submit routes work to its shard. Returns ErrQueueFull when the shard's
// queue is saturated.
func (p *shardedPool[T]) Submit(key string, work T) error {
	p.lifecycleMu.Lock()
	if !p.started {
		p.lifecycleMu.Unlock()
		return ErrPoolNotStarted
	}
	if p.stopped {
		p.lifecycleMu.Unlock()
		return ErrPoolStopped
	}
	p.lifecycleMu.Unlock()

	shard := p.shardFor(key)
	select {
	case p.queues[shard] <- work:
		atomic.AddInt64(&p.submitted, 1)
		return nil
	default:
		atomic.AddInt64(&p.dropped, 1)
		return ErrQueueFull
	}
}

func (p *shardedPool[T]) shardFor(key string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % uint32(p.workers))
}

// Stop drains the queues and waits for workers, up to the timeout. On
// timeout, remaining work is abandoned and the count of undrained items
// is returned alongside ErrStopTimeout.
func (p *shardedPool[T]) Stop(timeout time.Duration) (int, error) {
	p.lifecycleMu.Lock()
	if !p.started || p.stopped {
		p.lifecycleMu.Unlock()
		return 0, nil
	}
	p.stopped = true
	for _, q := range p.queues {
		close(q)
	}
	p.lifecycleMu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return 0, nil
	case <-time.After(timeout):
		p.cancel()
		<-done
		remaining := 0
		for _, q := range p.queues {
			remaining += len(q)
		}
		return remaining, ErrStopTimeout
	}
}

// Stats returns submitted, processed, and dropped counts.
func (p *shardedPool[T]) Stats() (submitted, processed, dropped int64) {
	return atomic.LoadInt64(&p.submitted),
		atomic.LoadInt64(&p.processed),
		atomic.LoadInt64(&p.dropped)
}

package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestPoolPreservesPerKeyOrder(t *testing.T) {
	var mu sync.Mutex
	seen := make(map[string][]int)
	done := make(chan struct{}, 100)

	type item struct {
		key string
		seq int
	}
	pool := newShardedPool[item](4, 64, func(_ context.Context, it item) {
		mu.Lock()
		seen[it.key] = append(seen[it.key], it.seq)
		mu.Unlock()
		done <- struct{}{}
	})
	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}

	keys := []string{"supplier/A", "supplier/B", "item/C"}
	total := 0
	for seq := 0; seq < 20; seq++ {
		for _, key := range keys {
			if err := pool.Submit(key, item{key: key, seq: seq}); err != nil {
				t.Fatalf("Submit() failed: %v", err)
			}
			total++
		}
	}

	for i := 0; i < total; i++ {
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for work")
		}
	}

	mu.Lock()
	defer mu.Unlock()
	for key, seqs := range seen {
		for i := 1; i < len(seqs); i++ {
			if seqs[i] < seqs[i-1] {
				t.Fatalf("key %s processed out of order: %v", key, seqs)
			}
		}
	}

	if _, err := pool.Stop(time.Second); err != nil {
		t.Fatalf("Stop() failed: %v", err)
	}
}

func TestPoolSubmitBeforeStart(t *testing.T) {
	pool := newShardedPool[int](2, 4, func(context.Context, int) {})
	if err := pool.Submit("k", 1); !errors.Is(err, ErrPoolNotStarted) {
		t.Errorf("Submit() before Start() = %v, want ErrPoolNotStarted", err)
	}
}

func TestPoolQueueFullDropsWork(t *testing.T) {
	block := make(chan struct{})
	pool := newShardedPool[int](1, 1, func(_ context.Context, _ int) {
		<-block
	})
	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}

	// First item occupies the worker, second fills the queue; submit until
	// backpressure reports.
	var sawFull bool
	for i := 0; i < 4; i++ {
		if err := pool.Submit("k", i); errors.Is(err, ErrQueueFull) {
			sawFull = true
			break
		}
	}
	if !sawFull {
		t.Error("Submit() should report ErrQueueFull under backpressure")
	}

	_, _, dropped := pool.Stats()
	if dropped == 0 {
		t.Error("dropped counter should reflect rejected work")
	}

	close(block)
	if _, err := pool.Stop(time.Second); err != nil {
		t.Fatalf("Stop() failed: %v", err)
	}
}

func TestPoolStopDrainsQueues(t *testing.T) {
	var mu sync.Mutex
	processed := 0
	pool := newShardedPool[int](2, 64, func(_ context.Context, _ int) {
		mu.Lock()
		processed++
		mu.Unlock()
	})
	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}

	for i := 0; i < 30; i++ {
		if err := pool.Submit(fmt.Sprintf("k-%d", i), i); err != nil {
			t.Fatalf("Submit() failed: %v", err)
		}
	}

	remaining, err := pool.Stop(5 * time.Second)
	if err != nil {
		t.Fatalf("Stop() failed: %v", err)
	}
	if remaining != 0 {
		t.Errorf("Stop() left %d items undrained", remaining)
	}

	mu.Lock()
	defer mu.Unlock()
	if processed != 30 {
		t.Errorf("processed %d items, want all 30 drained before Stop returns", processed)
	}
}

func TestPoolSubmitAfterStop(t *testing.T) {
	pool := newShardedPool[int](1, 4, func(context.Context, int) {})
	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	if _, err := pool.Stop(time.Second); err != nil {
		t.Fatalf("Stop() failed: %v", err)
	}
	if err := pool.Submit("k", 1); !errors.Is(err, ErrPoolStopped) {
		t.Errorf("Submit() after Stop() = %v, want ErrPoolStopped", err)
	}
}

func TestPoolShardForIsStable(t *testing.T) {
	pool := newShardedPool[int](8, 4, func(context.Context, int) {})
	for _, key := range []string{"a", "supplier\x00S1", "item\x00I9"} {
		first := pool.shardFor(key)
		for i := 0; i < 10; i++ {
			if pool.shardFor(key) != first {
				t.Fatalf("shardFor(%q) is not stable", key)
			}
		}
	}
}

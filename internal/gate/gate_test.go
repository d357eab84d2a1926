package gate

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestGateBoundsConcurrency(t *testing.T) {
	const limit = 2
	const workers = 8
	g := New(limit)

	var active, peak int64
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := g.Acquire(context.Background()); err != nil {
				t.Errorf("acquire: %v", err)
				return
			}
			defer g.Release()
			cur := atomic.AddInt64(&active, 1)
			for {
				p := atomic.LoadInt64(&peak)
				if cur <= p || atomic.CompareAndSwapInt64(&peak, p, cur) {
					break
				}
			}
			time.Sleep(20 * time.Millisecond)
			atomic.AddInt64(&active, -1)
		}()
	}
	wg.Wait()
	if peak > limit {
		t.Fatalf("observed %d concurrent holders, limit %d", peak, limit)
	}
}

func TestGateReleasesEverySlot(t *testing.T) {
	g := New(3)
	for round := 0; round < 5; round++ {
		for i := 0; i < 3; i++ {
			if err := g.Acquire(context.Background()); err != nil {
				t.Fatalf("round %d acquire %d: %v", round, i, err)
			}
		}
		// A full gate must reject a fourth holder until someone releases.
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		if err := g.Acquire(ctx); err == nil {
			cancel()
			t.Fatalf("round %d: acquired beyond capacity", round)
		}
		cancel()
		for i := 0; i < 3; i++ {
			g.Release()
		}
	}
}

func TestUnboundedGateNeverBlocks(t *testing.T) {
	for _, limit := range []int{0, -1} {
		g := New(limit)
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		for i := 0; i < 100; i++ {
			if err := g.Acquire(ctx); err != nil {
				t.Fatalf("limit %d: acquire %d blocked: %v", limit, i, err)
			}
		}
		cancel()
		if g.Limit() != 0 {
			t.Fatalf("limit %d: want Limit 0, got %d", limit, g.Limit())
		}
	}
}

func TestNilGateIsUnbounded(t *testing.T) {
	var g *Gate
	if err := g.Acquire(context.Background()); err != nil {
		t.Fatalf("nil gate acquire: %v", err)
	}
	g.Release()
	if g.Limit() != 0 {
		t.Fatalf("nil gate limit: %d", g.Limit())
	}
}

func TestAcquireHonorsCancelledContext(t *testing.T) {
	g := New(1)
	if err := g.Acquire(context.Background()); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := g.Acquire(ctx); err == nil {
		t.Fatalf("cancelled context admitted")
	}
	g.Release()
}

package singleflight

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/sync/errgroup"
)

func TestDo_CoalescesConcurrentCalls(t *testing.T) {
	t.Parallel()

	var g Group[string, int]
	var calls atomic.Int32
	release := make(chan struct{})

	fn := func(context.Context) (int, error) {
		calls.Add(1)
		<-release
		return 42, nil
	}

	var eg errgroup.Group
	var sharedCount atomic.Int32
	for i := 0; i < 10; i++ {
		eg.Go(func() error {
			v, shared, err := g.Do(context.Background(), "k", fn)
			if err != nil || v != 42 {
				return errors.New("wrong result")
			}
			if shared {
				sharedCount.Add(1)
			}
			return nil
		})
	}
	// Let every goroutine reach Do before releasing the leader.
	for g.InFlight() == 0 {
		time.Sleep(time.Millisecond)
	}
	time.Sleep(20 * time.Millisecond)
	close(release)

	if err := eg.Wait(); err != nil {
		t.Fatal(err)
	}
	if calls.Load() < 1 || calls.Load() > 10 {
		t.Fatalf("calls = %d", calls.Load())
	}
	if calls.Load() == 1 && sharedCount.Load() != 10 {
		t.Fatalf("one call but only %d callers saw it as shared", sharedCount.Load())
	}
	if g.InFlight() != 0 {
		t.Fatal("in-flight marker leaked")
	}
}

// A follower's cancellation does not abort the leader.
func TestDo_FollowerCancel(t *testing.T) {
	t.Parallel()

	var g Group[string, string]
	started := make(chan struct{})
	release := make(chan struct{})
	leaderDone := make(chan error, 1)

	go func() {
		_, _, err := g.Do(context.Background(), "k", func(ctx context.Context) (string, error) {
			close(started)
			<-release
			return "ok", ctx.Err()
		})
		leaderDone <- err
	}()
	<-started

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, _, err := g.Do(ctx, "k", nil); !errors.Is(err, context.Canceled) {
		t.Fatalf("follower err = %v", err)
	}

	close(release)
	if err := <-leaderDone; err != nil {
		t.Fatalf("leader failed: %v", err)
	}
}

// The leader's own cancellation does not reach fn either.
func TestDo_DetachedContext(t *testing.T) {
	t.Parallel()

	var g Group[int, int]
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	v, _, err := g.Do(ctx, 1, func(ctx context.Context) (int, error) {
		return 7, ctx.Err()
	})
	if err != nil || v != 7 {
		t.Fatalf("got %d, %v", v, err)
	}
}

func TestDo_PanicBecomesError(t *testing.T) {
	t.Parallel()

	var g Group[int, int]
	_, _, err := g.Do(context.Background(), 1, func(context.Context) (int, error) {
		panic("boom")
	})
	if err == nil {
		t.Fatal("expected error")
	}
	// The key is usable again.
	v, _, err := g.Do(context.Background(), 1, func(context.Context) (int, error) { return 3, nil })
	if err != nil || v != 3 {
		t.Fatalf("got %d, %v", v, err)
	}
}

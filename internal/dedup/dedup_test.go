package dedup

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestDoCollapsesConcurrentCalls(t *testing.T) {
	var g Group[string]
	var calls atomic.Int32
	release := make(chan struct{})

	fn := func(context.Context) (string, error) {
		calls.Add(1)
		<-release
		return "value", nil
	}

	const n = 8
	var wg sync.WaitGroup
	results := make([]string, n)
	started := make(chan struct{}, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			started <- struct{}{}
			v, _, err := g.Do(context.Background(), "k", fn)
			if err != nil {
				t.Errorf("Do() error = %v", err)
			}
			results[i] = v
		}(i)
	}
	for i := 0; i < n; i++ {
		<-started
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	if got := calls.Load(); got != 1 {
		t.Errorf("fn called %d times, want 1", got)
	}
	for i, v := range results {
		if v != "value" {
			t.Errorf("result[%d] = %q", i, v)
		}
	}
}

func TestDoDetachesKeyAfterFailure(t *testing.T) {
	var g Group[int]
	boom := errors.New("boom")

	_, _, err := g.Do(context.Background(), "k", func(context.Context) (int, error) {
		return 0, boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("first Do() error = %v, want boom", err)
	}

	v, _, err := g.Do(context.Background(), "k", func(context.Context) (int, error) {
		return 42, nil
	})
	if err != nil {
		t.Fatalf("second Do() error = %v", err)
	}
	if v != 42 {
		t.Errorf("second Do() = %d, want 42 (stale entry reused)", v)
	}
}

func TestDoWaiterCancellation(t *testing.T) {
	var g Group[int]
	release := make(chan struct{})
	done := make(chan int, 1)

	go func() {
		v, _, _ := g.Do(context.Background(), "k", func(context.Context) (int, error) {
			<-release
			return 7, nil
		})
		done <- v
	}()
	time.Sleep(10 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, _, err := g.Do(ctx, "k", func(context.Context) (int, error) { return 0, nil }); !errors.Is(err, context.Canceled) {
		t.Errorf("cancelled waiter error = %v, want context.Canceled", err)
	}

	close(release)
	if v := <-done; v != 7 {
		t.Errorf("original caller got %d, want 7", v)
	}
}

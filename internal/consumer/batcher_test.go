package consumer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestBatcher_FlushOnMaxSize(t *testing.T) {
	t.Parallel()

	flushed := make(chan []int, 1)
	b := NewBatcher[int](2, time.Hour, time.Second, func(ctx context.Context, items []int) error {
		flushed <- append([]int(nil), items...)
		return nil
	})
	t.Cleanup(b.Close)
	ctx := context.Background()

	done1 := make(chan struct{})
	go func() {
		_ = b.Add(ctx, 1)
		close(done1)
	}()

	select {
	case <-done1:
		t.Fatalf("Add returned before flush")
	case <-time.After(50 * time.Millisecond):
	}

	if err := b.Add(ctx, 2); err != nil {
		t.Fatalf("Add(2): %v", err)
	}

	select {
	case <-done1:
	case <-time.After(time.Second):
		t.Fatalf("expected Add(1) to return after flush")
	}

	select {
	case got := <-flushed:
		if len(got) != 2 || got[0] != 1 || got[1] != 2 {
			t.Fatalf("unexpected flushed items: %v", got)
		}
	default:
		t.Fatalf("expected flush to run")
	}
}

func TestBatcher_FlushOnInterval(t *testing.T) {
	t.Parallel()

	flushed := make(chan struct{}, 1)
	b := NewBatcher[int](10, 30*time.Millisecond, time.Second, func(ctx context.Context, items []int) error {
		flushed <- struct{}{}
		return nil
	})
	t.Cleanup(b.Close)

	start := time.Now()
	if err := b.Add(context.Background(), 1); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 20*time.Millisecond {
		t.Fatalf("expected Add to block until interval flush, elapsed=%s", elapsed)
	}

	select {
	case <-flushed:
	default:
		t.Fatalf("expected interval flush to run")
	}
}

func TestBatcher_FlushErrorPropagates(t *testing.T) {
	t.Parallel()

	want := errors.New("boom")
	b := NewBatcher[int](1, time.Hour, time.Second, func(ctx context.Context, items []int) error {
		return want
	})
	t.Cleanup(b.Close)

	if err := b.Add(context.Background(), 1); !errors.Is(err, want) {
		t.Fatalf("expected %v, got %v", want, err)
	}
}

func TestBatcher_ItemErrorsReachTheirOwnItems(t *testing.T) {
	t.Parallel()

	bad := errors.New("row rejected")
	b := NewBatcher[int](3, time.Hour, time.Second, func(ctx context.Context, items []int) error {
		out := make(ItemErrors, len(items))
		for n, v := range items {
			if v < 0 {
				out[n] = bad
			}
		}
		return out
	})
	t.Cleanup(b.Close)

	values := []int{1, -1, 2}
	errs := make([]error, len(values))
	var wg sync.WaitGroup
	for n, v := range values {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[n] = b.Add(context.Background(), v)
		}()
	}
	wg.Wait()

	for n, v := range values {
		if v < 0 && !errors.Is(errs[n], bad) {
			t.Fatalf("item %d: expected %v, got %v", v, bad, errs[n])
		}
		if v >= 0 && errs[n] != nil {
			t.Fatalf("item %d should succeed, got %v", v, errs[n])
		}
	}
}

func TestBatcher_ContextAndClose(t *testing.T) {
	t.Parallel()

	flushed := make(chan []int, 1)
	b := NewBatcher[int](10, time.Hour, time.Second, func(ctx context.Context, items []int) error {
		flushed <- append([]int(nil), items...)
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := b.Add(ctx, 7); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline, got %v", err)
	}

	b.Close()
	select {
	case got := <-flushed:
		if len(got) != 1 || got[0] != 7 {
			t.Fatalf("queued item not flushed on close: %v", got)
		}
	default:
		t.Fatalf("expected Close to flush the queue")
	}
	if err := b.Add(context.Background(), 8); !errors.Is(err, ErrBatcherClosed) {
		t.Fatalf("expected ErrBatcherClosed, got %v", err)
	}
}

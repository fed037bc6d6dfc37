package consumer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

var ErrBatcherClosed = errors.New("batcher closed")

type flushFunc[T any] func(ctx context.Context, items []T) error

// ItemErrors is a flush result with one entry per flushed item, in order. A
// flush returning it fails only the items whose entry is non-nil.
type ItemErrors []error

func (e ItemErrors) Error() string {
	failed := 0
	var first error
	for _, err := range e {
		if err == nil {
			continue
		}
		if first == nil {
			first = err
		}
		failed++
	}
	if first == nil {
		return "no items failed"
	}
	return fmt.Sprintf("%d of %d items failed: %v", failed, len(e), first)
}

type pending[T any] struct {
	item T
	done chan error
}

// Batcher groups items added from many goroutines into one flush call. Each
// Add blocks until the flush holding its item has finished and returns that
// flush's error, or the item's own entry when the flush returns ItemErrors.
type Batcher[T any] struct {
	maxSize      int
	interval     time.Duration
	flushTimeout time.Duration
	flush        flushFunc[T]

	in     chan pending[T]
	stopCh chan struct{}
	doneCh chan struct{}

	closeOnce sync.Once
}

func NewBatcher[T any](maxSize int, interval, flushTimeout time.Duration, flush flushFunc[T]) *Batcher[T] {
	if maxSize <= 0 {
		maxSize = 200
	}
	if interval <= 0 {
		interval = 50 * time.Millisecond
	}
	if flushTimeout <= 0 {
		flushTimeout = 5 * time.Second
	}
	if flush == nil {
		panic("nil flush func")
	}

	b := &Batcher[T]{
		maxSize:      maxSize,
		interval:     interval,
		flushTimeout: flushTimeout,
		flush:        flush,
		in:           make(chan pending[T], maxSize*2),
		stopCh:       make(chan struct{}),
		doneCh:       make(chan struct{}),
	}
	go b.run()
	return b
}

// Close flushes whatever is queued and stops the loop.
func (b *Batcher[T]) Close() {
	if b == nil {
		return
	}
	b.closeOnce.Do(func() { close(b.stopCh) })
	<-b.doneCh
}

// Add queues item and waits for its flush. A cancelled ctx stops the wait,
// not the write: an item already queued is still flushed.
func (b *Batcher[T]) Add(ctx context.Context, item T) error {
	if b == nil {
		return ErrBatcherClosed
	}
	p := pending[T]{item: item, done: make(chan error, 1)}

	select {
	case <-b.stopCh:
		return ErrBatcherClosed
	case <-ctx.Done():
		return ctx.Err()
	case b.in <- p:
	}

	select {
	case err := <-p.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-b.doneCh:
		// Close drained the queue; the result is already buffered.
		select {
		case err := <-p.done:
			return err
		default:
			return ErrBatcherClosed
		}
	}
}

func (b *Batcher[T]) run() {
	defer close(b.doneCh)

	var batch []pending[T]
	ticker := time.NewTimer(b.interval)
	armed := false
	if !ticker.Stop() {
		<-ticker.C
	}

	disarm := func() {
		if !armed {
			return
		}
		armed = false
		if !ticker.Stop() {
			select {
			case <-ticker.C:
			default:
			}
		}
	}

	for {
		var tick <-chan time.Time
		if armed {
			tick = ticker.C
		}

		select {
		case p := <-b.in:
			if len(batch) == 0 {
				armed = true
				ticker.Reset(b.interval)
			}
			batch = append(batch, p)
			if len(batch) >= b.maxSize {
				disarm()
				b.flushBatch(batch)
				batch = batch[:0]
			}
		case <-tick:
			armed = false
			b.flushBatch(batch)
			batch = batch[:0]
		case <-b.stopCh:
			disarm()
			for {
				select {
				case p := <-b.in:
					batch = append(batch, p)
				default:
					b.flushBatch(batch)
					return
				}
			}
		}
	}
}

func (b *Batcher[T]) flushBatch(batch []pending[T]) {
	if len(batch) == 0 {
		return
	}
	items := make([]T, len(batch))
	for i, p := range batch {
		items[i] = p.item
	}

	ctx, cancel := context.WithTimeout(context.Background(), b.flushTimeout)
	err := b.flush(ctx, items)
	cancel()

	var perItem ItemErrors
	if errors.As(err, &perItem) && len(perItem) == len(batch) {
		for i, p := range batch {
			p.done <- perItem[i]
		}
		return
	}
	for _, p := range batch {
		p.done <- err
	}
}

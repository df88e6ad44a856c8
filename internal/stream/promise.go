package stream

import (
	"context"
	"fmt"
)

// DefaultBufferSize bounds how far a promised producer may run ahead of its
// consumer when no explicit buffer size is chosen.
const DefaultBufferSize = 100

type result[T any] struct {
	val T
	err error
}

// Promise wraps it in a background producer goroutine so that consuming the
// returned Iterator overlaps with production of later elements. The producer
// runs at most buffer elements ahead of the consumer; once the buffer is full
// it blocks until the consumer drains capacity. Delivery is FIFO and
// exactly-once. A producer failure is delivered at the position where the
// failed element would have been yielded, after which iteration terminates.
//
// The returned Iterator is forward-only and single-consumer. If ctx finishes
// before the sequence is drained, the producer stops and iteration
// terminates; a consumer blocked in Next observes ctx's error.
func Promise[T any](ctx context.Context, it Iterator[T], buffer int) Iterator[T] {
	if buffer < 1 {
		panic(fmt.Sprintf("stream: buffer size must be positive, got %d", buffer))
	}
	ch := make(chan result[T], buffer)
	go func() {
		defer close(ch)
		for it.Next() {
			select {
			case ch <- result[T]{val: it.Item()}:
			case <-ctx.Done():
				return
			}
		}
		if err := it.Err(); err != nil {
			select {
			case ch <- result[T]{err: err}:
			case <-ctx.Done():
			}
		}
	}()
	return &promiseIter[T]{ctx: ctx, ch: ch}
}

type promiseIter[T any] struct {
	ctx  context.Context
	ch   <-chan result[T]
	cur  T
	err  error
	done bool
}

func (it *promiseIter[T]) Next() bool {
	if it.done {
		return false
	}
	select {
	case r, ok := <-it.ch:
		if !ok {
			it.done = true
			return false
		}
		if r.err != nil {
			it.err = r.err
			it.done = true
			return false
		}
		it.cur = r.val
		return true
	case <-it.ctx.Done():
		it.err = it.ctx.Err()
		it.done = true
		return false
	}
}

func (it *promiseIter[T]) Item() T { return it.cur }

func (it *promiseIter[T]) Err() error { return it.err }

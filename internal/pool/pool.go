// Package pool bounds concurrent fan-out of a mapping function over a
// pull sequence.
package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/toonfeed/crawler/internal/stream"
)

// Pool limits how many mapping invocations run at once.
type Pool struct {
	workers int
}

// New creates a Pool with the given concurrency limit.
func New(workers int) (*Pool, error) {
	if workers < 1 {
		return nil, fmt.Errorf("pool: workers must be positive, got %d", workers)
	}
	return &Pool{workers: workers}, nil
}

// Workers reports the pool's concurrency limit.
func (p *Pool) Workers() int { return p.workers }

type outcome[O any] struct {
	idx int
	val O
	err error
}

// MapUnordered applies fn to every element of in with at most p.Workers()
// concurrent invocations, yielding results in completion order. The input is
// consumed lazily: at most the in-flight window plus completed-but-unpulled
// results exist at any time. Failed invocations are omitted from the value
// stream and reported, joined with any input-sequence failure, by the
// returned iterator's Err once the stream is drained. In-flight siblings of
// a failed invocation always run to completion.
func MapUnordered[I, O any](
	ctx context.Context,
	p *Pool,
	fn func(context.Context, I) (O, error),
	in stream.Iterator[I],
) stream.Iterator[O] {
	return newMapIter(ctx, p, fn, in, false)
}

// Map is MapUnordered with input order preserved: when every invocation
// succeeds, output element i is fn applied to input element i.
func Map[I, O any](
	ctx context.Context,
	p *Pool,
	fn func(context.Context, I) (O, error),
	in stream.Iterator[I],
) stream.Iterator[O] {
	return newMapIter(ctx, p, fn, in, true)
}

func newMapIter[I, O any](
	ctx context.Context,
	p *Pool,
	fn func(context.Context, I) (O, error),
	in stream.Iterator[I],
	ordered bool,
) *mapIter[O] {
	jobs := make(chan outcome[I])
	results := make(chan outcome[O])
	inputErr := make(chan error, 1)
	// One token per outstanding input keeps the materialized window at the
	// worker limit: an element pulled from in holds its token until its
	// result is handed to (or skipped by) the consumer.
	tokens := make(chan struct{}, p.workers)

	var wg sync.WaitGroup
	for range p.workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range jobs {
				v, err := fn(ctx, job.val)
				select {
				case results <- outcome[O]{idx: job.idx, val: v, err: err}:
				case <-ctx.Done():
					return
				}
			}
		}()
	}

	// Feeder pulls the input sequence no faster than the token window allows.
	go func() {
		defer close(jobs)
		idx := 0
		for {
			select {
			case tokens <- struct{}{}:
			case <-ctx.Done():
				return
			}
			if !in.Next() {
				inputErr <- in.Err()
				return
			}
			select {
			case jobs <- outcome[I]{idx: idx, val: in.Item()}:
				idx++
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	return &mapIter[O]{
		ctx:      ctx,
		results:  results,
		inputErr: inputErr,
		tokens:   tokens,
		ordered:  ordered,
		pending:  make(map[int]outcome[O]),
	}
}

type mapIter[O any] struct {
	ctx      context.Context
	results  <-chan outcome[O]
	inputErr <-chan error
	tokens   <-chan struct{}
	ordered  bool

	// Reordering state for the ordered variant.
	pending map[int]outcome[O]
	nextIdx int

	cur     O
	errs    []error
	err     error
	done    bool
	drained bool
}

func (it *mapIter[O]) Next() bool {
	for !it.done {
		if it.ordered {
			if r, ok := it.takeNextOrdered(); ok {
				if r.err != nil {
					it.errs = append(it.errs, fmt.Errorf("input %d: %w", r.idx, r.err))
					continue
				}
				it.cur = r.val
				return true
			}
		}
		if it.drained {
			it.done = true
			it.finish()
			return false
		}
		r, ok := <-it.results
		if !ok {
			it.drained = true
			continue
		}
		if it.ordered {
			it.pending[r.idx] = r
			continue
		}
		it.release()
		if r.err != nil {
			it.errs = append(it.errs, fmt.Errorf("input %d: %w", r.idx, r.err))
			continue
		}
		it.cur = r.val
		return true
	}
	return false
}

// takeNextOrdered pops the result for the next input index. Once the result
// channel is drained, gaps left by a canceled run are skipped so the
// remaining completed results still come out in input order.
func (it *mapIter[O]) takeNextOrdered() (outcome[O], bool) {
	if r, ok := it.pending[it.nextIdx]; ok {
		delete(it.pending, it.nextIdx)
		it.nextIdx++
		it.release()
		return r, true
	}
	if !it.drained || len(it.pending) == 0 {
		return outcome[O]{}, false
	}
	lowest := -1
	for idx := range it.pending {
		if lowest < 0 || idx < lowest {
			lowest = idx
		}
	}
	r := it.pending[lowest]
	delete(it.pending, lowest)
	it.nextIdx = lowest + 1
	it.release()
	return r, true
}

func (it *mapIter[O]) release() {
	select {
	case <-it.tokens:
	default:
	}
}

func (it *mapIter[O]) finish() {
	select {
	case err := <-it.inputErr:
		if err != nil {
			it.errs = append(it.errs, err)
		}
	default:
		// The feeder exited via ctx before reporting; surface the cause.
		if err := it.ctx.Err(); err != nil {
			it.errs = append(it.errs, err)
		}
	}
	it.err = errors.Join(it.errs...)
}

func (it *mapIter[O]) Item() O { return it.cur }

func (it *mapIter[O]) Err() error { return it.err }

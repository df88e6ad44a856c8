// Package stream provides pull-based sequences and a bounded-lookahead
// promise that runs a producer ahead of its consumer.
package stream

// Iterator is a forward-only pull sequence in the style of bufio.Scanner:
// call Next until it returns false, read the current element with Item, and
// check Err afterwards. Iterators are single-consumer and not restartable.
type Iterator[T any] interface {
	Next() bool
	Item() T
	Err() error
}

// Slice returns an Iterator over the given elements.
func Slice[T any](items ...T) Iterator[T] {
	return &sliceIter[T]{items: items}
}

type sliceIter[T any] struct {
	items []T
	pos   int
	cur   T
}

func (it *sliceIter[T]) Next() bool {
	if it.pos >= len(it.items) {
		return false
	}
	it.cur = it.items[it.pos]
	it.pos++
	return true
}

func (it *sliceIter[T]) Item() T { return it.cur }

func (it *sliceIter[T]) Err() error { return nil }

// Func adapts a pull function into an Iterator. The function returns the next
// element, whether one was produced, and a terminal error. After it reports
// done or an error it is not called again.
func Func[T any](next func() (T, bool, error)) Iterator[T] {
	return &funcIter[T]{next: next}
}

type funcIter[T any] struct {
	next func() (T, bool, error)
	cur  T
	err  error
	done bool
}

func (it *funcIter[T]) Next() bool {
	if it.done {
		return false
	}
	v, ok, err := it.next()
	if err != nil {
		it.err = err
		it.done = true
		return false
	}
	if !ok {
		it.done = true
		return false
	}
	it.cur = v
	return true
}

func (it *funcIter[T]) Item() T { return it.cur }

func (it *funcIter[T]) Err() error { return it.err }

// Fail returns an Iterator that yields nothing and reports err.
func Fail[T any](err error) Iterator[T] {
	return &failIter[T]{err: err}
}

type failIter[T any] struct {
	err error
}

func (it *failIter[T]) Next() bool { return false }

func (it *failIter[T]) Item() (zero T) { return zero }

func (it *failIter[T]) Err() error { return it.err }

// Collect drains the iterator into a slice, returning the iterator's error.
func Collect[T any](it Iterator[T]) ([]T, error) {
	var out []T
	for it.Next() {
		out = append(out, it.Item())
	}
	return out, it.Err()
}

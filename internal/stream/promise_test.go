package stream

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPromiseYieldsSameElementsInOrder(t *testing.T) {
	t.Parallel()

	for _, buffer := range []int{1, 2, 100} {
		it := Promise(context.Background(), Slice(1, 2, 3, 4, 5), buffer)
		got, err := Collect(it)
		require.NoError(t, err)
		require.Equal(t, []int{1, 2, 3, 4, 5}, got)
	}
}

func TestPromiseEmptySequence(t *testing.T) {
	t.Parallel()

	it := Promise(context.Background(), Slice[int](), 4)
	got, err := Collect(it)
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestPromisePropagatesProducerErrorAfterYieldedElements(t *testing.T) {
	t.Parallel()

	boom := errors.New("producer failed")
	n := 0
	src := Func(func() (int, bool, error) {
		if n == 3 {
			return 0, false, boom
		}
		n++
		return n, true, nil
	})

	it := Promise(context.Background(), src, 2)
	got, err := Collect(it)
	require.ErrorIs(t, err, boom)
	require.Equal(t, []int{1, 2, 3}, got)
	require.False(t, it.Next(), "iteration must terminate after the error")
}

func TestPromiseFinitePrefixOfUnboundedSequence(t *testing.T) {
	t.Parallel()

	n := 0
	infinite := Func(func() (int, bool, error) {
		n++
		return n, true, nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	it := Promise(ctx, infinite, 5)

	var got []int
	for len(got) < 10 && it.Next() {
		got = append(got, it.Item())
	}
	require.Equal(t, []int{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}, got)
}

func TestPromiseBoundsProducerLookahead(t *testing.T) {
	t.Parallel()

	const buffer = 3
	var produced atomic.Int64
	infinite := Func(func() (int, bool, error) {
		produced.Add(1)
		return 0, true, nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	_ = Promise(ctx, infinite, buffer)

	// Without any consumption the producer may fill the buffer plus hold one
	// element in hand, but no more.
	require.Eventually(t, func() bool {
		return produced.Load() >= buffer
	}, time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	require.LessOrEqual(t, produced.Load(), int64(buffer+1))
}

func TestPromiseRejectsNonPositiveBuffer(t *testing.T) {
	t.Parallel()

	require.Panics(t, func() {
		Promise(context.Background(), Slice(1), 0)
	})
}

func TestPromiseStopsOnContextCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	n := 0
	src := Func(func() (int, bool, error) {
		n++
		return n, true, nil
	})
	it := Promise(ctx, src, 1)
	require.True(t, it.Next())
	cancel()

	require.Eventually(t, func() bool {
		return !it.Next()
	}, time.Second, 5*time.Millisecond)
	if err := it.Err(); err != nil {
		require.ErrorIs(t, err, context.Canceled)
	}
}

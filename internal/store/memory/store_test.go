package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/toonfeed/crawler/internal/comic"
)

func episode(no int, published time.Time) comic.Episode {
	return comic.Episode{Number: no, Title: "ep", PublishedAt: published}
}

func TestMaxNumberEmptyThenPopulated(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()

	_, ok, err := s.MaxNumber(ctx, "k")
	require.NoError(t, err)
	require.False(t, ok)

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, s.Upsert(ctx, "k", []comic.Episode{
		episode(3, base), episode(7, base.AddDate(0, 0, 1)), episode(5, base),
	}))

	max, ok, err := s.MaxNumber(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 7, max)
}

func TestUpsertIsIdempotent(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	eps := []comic.Episode{episode(1, base), episode(2, base.AddDate(0, 0, 1))}

	require.NoError(t, s.Upsert(ctx, "k", eps))
	require.NoError(t, s.Upsert(ctx, "k", eps))
	require.Equal(t, 2, s.Len("k"))
}

func TestUpsertOverwritesExistingNumber(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, s.Upsert(ctx, "k", []comic.Episode{{Number: 1, Title: "old", PublishedAt: base}}))
	require.NoError(t, s.Upsert(ctx, "k", []comic.Episode{{Number: 1, Title: "new", PublishedAt: base}}))

	got, err := s.Page(ctx, "k", 0, 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "new", got[0].Title)
}

func TestPageNewestFirstWithWindow(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	var eps []comic.Episode
	for no := 1; no <= 5; no++ {
		eps = append(eps, episode(no, base.AddDate(0, 0, no)))
	}
	require.NoError(t, s.Upsert(ctx, "k", eps))

	got, err := s.Page(ctx, "k", 0, 0)
	require.NoError(t, err)
	numbers := make([]int, len(got))
	for i, ep := range got {
		numbers[i] = ep.Number
	}
	require.Equal(t, []int{5, 4, 3, 2, 1}, numbers)

	got, err = s.Page(ctx, "k", 1, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, 4, got[0].Number)
	require.Equal(t, 3, got[1].Number)

	got, err = s.Page(ctx, "k", 10, 0)
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestPageBreaksPublishedTiesByNumber(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()
	same := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, s.Upsert(ctx, "k", []comic.Episode{
		episode(2, same), episode(9, same), episode(4, same),
	}))

	got, err := s.Page(ctx, "k", 0, 0)
	require.NoError(t, err)
	require.Equal(t, 9, got[0].Number)
	require.Equal(t, 4, got[1].Number)
	require.Equal(t, 2, got[2].Number)
}

func TestSeriesAreIsolated(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, s.Upsert(ctx, "a", []comic.Episode{episode(1, base)}))

	_, ok, err := s.MaxNumber(ctx, "b")
	require.NoError(t, err)
	require.False(t, ok)
}

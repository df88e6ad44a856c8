package comic

import (
	"context"
	"fmt"
)

// episodeIter yields freshly crawled episodes first, then backfills from
// the store, skipping numbers already served. Window offset and limit
// apply to positions in that merged sequence. seen covers every number the
// merge has produced, so a concurrent upsert that shifts store pages
// between reads cannot make the same number surface twice.
type episodeIter struct {
	ctx    context.Context
	series *Series
	fresh  []Episode
	seen   map[int]struct{}

	freshIdx    int
	buf         []Episode
	bufIdx      int
	storeOffset int
	storeDone   bool

	pos     int
	emitted int
	err     error
	cur     Episode
}

func newEpisodeIter(ctx context.Context, series *Series, fresh []Episode) *episodeIter {
	seen := make(map[int]struct{}, len(fresh))
	for _, ep := range fresh {
		seen[ep.Number] = struct{}{}
	}
	return &episodeIter{
		ctx:    ctx,
		series: series,
		fresh:  fresh,
		seen:   seen,
	}
}

func (it *episodeIter) Next() bool {
	for {
		if it.err != nil {
			return false
		}
		if it.series.limit > 0 && it.emitted >= it.series.limit {
			return false
		}
		ep, ok := it.pull()
		if !ok {
			return false
		}
		if it.pos < it.series.offset {
			it.pos++
			continue
		}
		it.pos++
		it.emitted++
		it.cur = ep
		return true
	}
}

// pull produces the next merged element, refilling the backfill buffer
// from the store as needed.
func (it *episodeIter) pull() (Episode, bool) {
	if it.freshIdx < len(it.fresh) {
		ep := it.fresh[it.freshIdx]
		it.freshIdx++
		return ep, true
	}
	for {
		for it.bufIdx < len(it.buf) {
			ep := it.buf[it.bufIdx]
			it.bufIdx++
			if _, dup := it.seen[ep.Number]; dup {
				continue
			}
			it.seen[ep.Number] = struct{}{}
			return ep, true
		}
		if it.storeDone {
			return Episode{}, false
		}
		if !it.refill() {
			return Episode{}, false
		}
	}
}

func (it *episodeIter) refill() bool {
	batch := it.series.pageSize
	if it.series.limit > 0 {
		if need := it.series.offset + it.series.limit - it.pos; need > 0 {
			batch = need
		}
	}
	page, err := it.series.store.Page(it.ctx, it.series.key, it.storeOffset, batch)
	if err != nil {
		it.err = fmt.Errorf("backfill episodes: %w", err)
		return false
	}
	it.storeOffset += len(page)
	if len(page) < batch {
		it.storeDone = true
	}
	it.buf = page
	it.bufIdx = 0
	return len(page) > 0
}

func (it *episodeIter) Item() Episode { return it.cur }

func (it *episodeIter) Err() error { return it.err }

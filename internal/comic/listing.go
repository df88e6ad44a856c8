package comic

import (
	"context"
	"fmt"
)

// listingIter walks the series listing newest first, one page at a time,
// and stops at the first of:
//   - a stub at or below the persisted boundary number,
//   - a number already seen in this run,
//   - the final listing page, after its rows drain.
//
// Stop rows themselves are never emitted.
type listingIter struct {
	ctx         context.Context
	source      Source
	boundary    int
	hasBoundary bool

	page     int
	buf      []Stub
	idx      int
	lastPage bool
	seen     map[int]struct{}
	done     bool
	err      error
	cur      Stub
}

func newListingIter(ctx context.Context, source Source, boundary int, hasBoundary bool) *listingIter {
	return &listingIter{
		ctx:         ctx,
		source:      source,
		boundary:    boundary,
		hasBoundary: hasBoundary,
		page:        1,
		seen:        make(map[int]struct{}),
	}
}

func (it *listingIter) Next() bool {
	for {
		if it.err != nil {
			return false
		}
		if it.idx < len(it.buf) {
			it.cur = it.buf[it.idx]
			it.idx++
			return true
		}
		if it.done || it.lastPage {
			return false
		}
		if !it.fetchPage() {
			return false
		}
	}
}

// fetchPage loads the next listing page into the buffer. It reports false
// when iteration should end without another Next pass.
func (it *listingIter) fetchPage() bool {
	if err := it.ctx.Err(); err != nil {
		it.err = err
		return false
	}
	listing, err := it.source.ListingPage(it.ctx, it.page)
	if err != nil {
		it.err = fmt.Errorf("listing page %d: %w", it.page, err)
		return false
	}
	it.page++
	it.buf = it.buf[:0]
	it.idx = 0
	it.lastPage = listing.LastPage

	for _, stub := range listing.Stubs {
		if it.hasBoundary && stub.Number <= it.boundary {
			it.done = true
			break
		}
		if _, dup := it.seen[stub.Number]; dup {
			it.done = true
			break
		}
		it.seen[stub.Number] = struct{}{}
		it.buf = append(it.buf, stub)
	}

	// An empty page with more pages behind it means the site returned
	// nothing useful; treat it as the end rather than paging forever.
	if len(it.buf) == 0 && !it.done && !it.lastPage && len(listing.Stubs) == 0 {
		it.done = true
	}
	return true
}

func (it *listingIter) Item() Stub { return it.cur }

func (it *listingIter) Err() error { return it.err }

package comic

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/toonfeed/crawler/internal/clock/system"
	"github.com/toonfeed/crawler/internal/id/uuid"
	"github.com/toonfeed/crawler/internal/pool"
	"github.com/toonfeed/crawler/internal/stream"
	"github.com/toonfeed/crawler/internal/telemetry"
)

// DefaultPageSize bounds how many stored episodes one backfill read pulls.
const DefaultPageSize = 30

// DefaultPoolSize is the number of concurrent detail fetchers.
const DefaultPoolSize = 20

// lazyInfo caches the series metadata fetch so a handle and its windows
// hit the source at most once between them.
type lazyInfo struct {
	once sync.Once
	info SeriesInfo
	err  error
}

// Series is a crawlable handle on one comic series. Window derives
// sub-handles that share the same collaborators and cached metadata.
type Series struct {
	key       string
	source    Source
	store     EpisodeStore
	publisher Publisher
	clock     Clock
	ids       IDGenerator
	logger    *zap.Logger

	poolSize   int
	bufferSize int
	pageSize   int

	offset int
	limit  int

	info *lazyInfo
}

// SeriesOption configures a Series handle.
type SeriesOption func(*Series)

// WithPublisher attaches a crawl event publisher.
func WithPublisher(p Publisher) SeriesOption {
	return func(s *Series) { s.publisher = p }
}

// WithClock overrides the wall clock.
func WithClock(c Clock) SeriesOption {
	return func(s *Series) { s.clock = c }
}

// WithIDGenerator overrides the event ID generator.
func WithIDGenerator(g IDGenerator) SeriesOption {
	return func(s *Series) { s.ids = g }
}

// WithLogger attaches a logger.
func WithLogger(l *zap.Logger) SeriesOption {
	return func(s *Series) { s.logger = l }
}

// WithPoolSize sets the number of concurrent detail fetchers.
func WithPoolSize(n int) SeriesOption {
	return func(s *Series) { s.poolSize = n }
}

// WithBufferSize sets the listing lookahead buffer.
func WithBufferSize(n int) SeriesOption {
	return func(s *Series) { s.bufferSize = n }
}

// WithPageSize sets the backfill read batch size.
func WithPageSize(n int) SeriesOption {
	return func(s *Series) { s.pageSize = n }
}

// NewSeries builds a handle over one series.
func NewSeries(key string, source Source, store EpisodeStore, opts ...SeriesOption) (*Series, error) {
	if key == "" {
		return nil, fmt.Errorf("series key is required")
	}
	if source == nil {
		return nil, fmt.Errorf("source is required")
	}
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	s := &Series{
		key:        key,
		source:     source,
		store:      store,
		clock:      system.New(),
		ids:        uuid.New(),
		logger:     zap.NewNop(),
		poolSize:   DefaultPoolSize,
		bufferSize: stream.DefaultBufferSize,
		pageSize:   DefaultPageSize,
		info:       &lazyInfo{},
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.poolSize < 1 {
		return nil, fmt.Errorf("pool size must be at least 1")
	}
	if s.bufferSize < 1 {
		return nil, fmt.Errorf("buffer size must be at least 1")
	}
	if s.pageSize < 1 {
		return nil, fmt.Errorf("page size must be at least 1")
	}
	return s, nil
}

// Key returns the series key.
func (s *Series) Key() string { return s.key }

// Info returns the series metadata, fetching it on first use. The result
// is shared with every window derived from this handle.
func (s *Series) Info(ctx context.Context) (SeriesInfo, error) {
	s.info.once.Do(func() {
		s.info.info, s.info.err = s.source.Info(ctx)
		if s.info.err != nil {
			s.info.err = fmt.Errorf("series info: %w", s.info.err)
		}
	})
	return s.info.info, s.info.err
}

// Window returns a handle restricted to a slice of the merged episode
// sequence. Offset and limit count merged positions; a limit of 0 means
// unbounded.
func (s *Series) Window(offset, limit int) (*Series, error) {
	if offset < 0 {
		return nil, fmt.Errorf("offset must be non-negative")
	}
	if limit < 0 {
		return nil, fmt.Errorf("limit must be non-negative")
	}
	child := *s
	child.offset = offset
	child.limit = limit
	return &child, nil
}

// detailOutcome carries the result of one detail fetch. Failures are
// recorded, not propagated, so one broken episode cannot sink its
// siblings.
type detailOutcome struct {
	episode Episode
	ok      bool
}

// Episodes crawls new episodes, persists them, and returns an iterator
// over the crawled episodes followed by stored backfill, windowed by any
// offset and limit on the handle. A crawl failure surfaces through the
// iterator's Err before anything is yielded; episodes collected before
// the failure are still persisted.
func (s *Series) Episodes(ctx context.Context) stream.Iterator[Episode] {
	fresh, err := s.Crawl(ctx)
	if err != nil {
		return stream.Fail[Episode](err)
	}
	return newEpisodeIter(ctx, s, fresh)
}

// Crawl walks the listing down to the persisted boundary, fetches detail
// pages concurrently, and persists whatever it collected even when the
// listing fails partway. It returns the freshly crawled episodes, newest
// first.
func (s *Series) Crawl(ctx context.Context) ([]Episode, error) {
	start := s.clock.Now()

	boundary, hasBoundary, err := s.store.MaxNumber(ctx, s.key)
	if err != nil {
		return nil, fmt.Errorf("read persisted boundary: %w", err)
	}

	p, err := pool.New(s.poolSize)
	if err != nil {
		return nil, err
	}

	listing := newListingIter(ctx, s.source, boundary, hasBoundary)
	stubs := stream.Promise[Stub](ctx, listing, s.bufferSize)
	outcomes := pool.MapUnordered(ctx, p, s.fetchDetail, stubs)

	collected, drainErr := stream.Collect(outcomes)

	episodes := make([]Episode, 0, len(collected))
	seen := make(map[int]struct{}, len(collected))
	for _, out := range collected {
		if !out.ok {
			continue
		}
		if _, dup := seen[out.episode.Number]; dup {
			continue
		}
		seen[out.episode.Number] = struct{}{}
		episodes = append(episodes, out.episode)
	}
	sort.Slice(episodes, func(i, j int) bool {
		return episodes[i].Number > episodes[j].Number
	})

	// Persist what we have regardless of how the listing ended.
	var persistErr error
	if len(episodes) > 0 {
		persistErr = s.store.Upsert(ctx, s.key, episodes)
		if persistErr != nil {
			persistErr = fmt.Errorf("persist episodes: %w", persistErr)
		}
	}
	if err := errors.Join(drainErr, persistErr); err != nil {
		return nil, err
	}

	s.publish(ctx, episodes)
	telemetry.ObserveCrawl(s.key, len(episodes), s.clock.Now().Sub(start))
	s.logger.Info("crawl finished",
		zap.String("series", s.key),
		zap.Int("episodes", len(episodes)))
	return episodes, nil
}

// fetchDetail resolves one stub into a full episode. Errors downgrade to
// logged skips.
func (s *Series) fetchDetail(ctx context.Context, stub Stub) (detailOutcome, error) {
	telemetry.IncActiveDetailWorkers()
	defer telemetry.DecActiveDetailWorkers()

	episode, err := s.source.Detail(ctx, stub)
	if err != nil {
		s.logger.Warn("episode detail fetch failed, skipping",
			zap.String("series", s.key),
			zap.Int("number", stub.Number),
			zap.Error(err))
		return detailOutcome{}, nil
	}
	return detailOutcome{episode: episode, ok: true}, nil
}

func (s *Series) publish(ctx context.Context, episodes []Episode) {
	if s.publisher == nil || len(episodes) == 0 {
		return
	}
	numbers := make([]int, len(episodes))
	for i, ep := range episodes {
		numbers[i] = ep.Number
	}
	event := CrawlEvent{
		EventID:   s.ids.NewID(),
		SeriesKey: s.key,
		Numbers:   numbers,
		Count:     len(numbers),
		CrawledAt: s.clock.Now(),
	}
	if err := s.publisher.Publish(ctx, event); err != nil {
		// Publishing is advisory; the crawl already persisted.
		s.logger.Warn("crawl event publish failed",
			zap.String("series", s.key), zap.Error(err))
	}
}

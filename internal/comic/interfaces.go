package comic

import (
	"context"
	"time"
)

// EpisodeStore persists crawled episodes keyed by series and episode number.
// Upsert must be idempotent: re-persisting an existing number is a no-op
// overwrite, never a duplicate.
type EpisodeStore interface {
	// MaxNumber returns the highest persisted episode number for the series.
	// The bool is false when the store holds no episodes for it.
	MaxNumber(ctx context.Context, seriesKey string) (int, bool, error)
	// Upsert writes the episodes, inserting new numbers and overwriting
	// existing ones.
	Upsert(ctx context.Context, seriesKey string, episodes []Episode) error
	// Page returns episodes ordered newest first, skipping offset rows and
	// returning at most limit. A limit of 0 means no bound.
	Page(ctx context.Context, seriesKey string, offset, limit int) ([]Episode, error)
}

// Source reads one series from its upstream site. Listing pages are
// numbered from 1; sources skip rows they cannot parse.
type Source interface {
	Info(ctx context.Context) (SeriesInfo, error)
	ListingPage(ctx context.Context, page int) (Listing, error)
	Detail(ctx context.Context, stub Stub) (Episode, error)
}

// CrawlEvent announces freshly persisted episodes.
type CrawlEvent struct {
	EventID   string    `json:"event_id"`
	SeriesKey string    `json:"series_key"`
	Numbers   []int     `json:"numbers"`
	Count     int       `json:"count"`
	CrawledAt time.Time `json:"crawled_at"`
}

// Publisher delivers crawl events to downstream consumers.
type Publisher interface {
	Publish(ctx context.Context, event CrawlEvent) error
}

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

// IDGenerator produces unique event identifiers.
type IDGenerator interface {
	NewID() string
}

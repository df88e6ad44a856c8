// Package comic holds the crawl domain: series, episodes, and the
// incremental crawl-and-merge engine that keeps a persisted episode set
// current with its upstream site.
package comic

import "time"

// Episode is one fully crawled episode of a series.
type Episode struct {
	URL         string
	Number      int
	Title       string
	Book        bool
	ImageURLs   []string
	Description string
	PublishedAt time.Time
}

// ImageRows groups the episode's images for display. Book-layout episodes
// pair images two per row; everything else gets one image per row.
func (e Episode) ImageRows() [][]string {
	if !e.Book {
		rows := make([][]string, 0, len(e.ImageURLs))
		for _, u := range e.ImageURLs {
			rows = append(rows, []string{u})
		}
		return rows
	}
	rows := make([][]string, 0, (len(e.ImageURLs)+1)/2)
	for i := 0; i < len(e.ImageURLs); i += 2 {
		end := min(i+2, len(e.ImageURLs))
		rows = append(rows, e.ImageURLs[i:end:end])
	}
	return rows
}

// Stub is one listing row: enough to decide whether the episode is new
// and to fetch its detail page.
type Stub struct {
	Number      int
	Title       string
	PublishedAt time.Time
	DetailURL   string
}

// Artist credits one author of a series.
type Artist struct {
	ID   string
	Name string
	URL  string
}

// SeriesInfo is the series-level metadata shown alongside episodes.
type SeriesInfo struct {
	Title       string
	Description string
	Artists     []Artist
	URL         string
}

// Listing is one page of the series episode index.
type Listing struct {
	Stubs    []Stub
	LastPage bool
}

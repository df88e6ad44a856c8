package naver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	archivememory "github.com/toonfeed/crawler/internal/archive/memory"
	"github.com/toonfeed/crawler/internal/comic"
	"github.com/toonfeed/crawler/internal/fetch"
	"github.com/toonfeed/crawler/internal/fetch/headless"
)

type fakeTransport struct {
	mu     sync.Mutex
	bodies map[string]string
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{bodies: make(map[string]string)}
}

func (t *fakeTransport) add(url, body string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.bodies[url] = body
}

func (t *fakeTransport) Fetch(_ context.Context, req fetch.Request) (*fetch.Result, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	body, ok := t.bodies[req.URL]
	if !ok {
		return nil, errors.New("no such page: " + req.URL)
	}
	return &fetch.Result{
		StatusCode: http.StatusOK,
		Header:     http.Header{},
		Body:       io.NopCloser(strings.NewReader(body)),
	}, nil
}

func newTestSource(t *testing.T, transport *fakeTransport, opts ...Option) *Source {
	t.Helper()
	client := fetch.New(transport)
	source, err := New(client, Config{TitleID: 22896, SeriesKey: "naver-22896"}, opts...)
	require.NoError(t, err)
	return source
}

const infoBody = `{
  "titleName": " Series Title ",
  "synopsis": "A story.",
  "webtoonLevelCode": "WEBTOON",
  "author": {
    "writers": [{"id": 10, "name": "writer", "blogUrl": "https://blog.example.com/w"}],
    "painters": [{"id": 11, "name": "painter"}],
    "originAuthors": [{"id": 10, "name": "writer"}]
  }
}`

func TestInfoParsesMetadataAndArtists(t *testing.T) {
	t.Parallel()

	transport := newFakeTransport()
	transport.add(fmt.Sprintf(infoURLFormat, 22896), infoBody)
	source := newTestSource(t, transport)

	info, err := source.Info(context.Background())
	require.NoError(t, err)
	require.Equal(t, "Series Title", info.Title)
	require.Equal(t, "A story.", info.Description)
	require.Equal(t, "https://comic.naver.com/webtoon/list?titleId=22896", info.URL)

	// Duplicate artist 10 from originAuthors collapses; painter 11 gets
	// the artist page fallback URL.
	require.Len(t, info.Artists, 2)
	byID := map[string]comic.Artist{}
	for _, a := range info.Artists {
		byID[a.ID] = a
	}
	require.Equal(t, "https://blog.example.com/w", byID["10"].URL)
	require.Equal(t, "https://comic.naver.com/artistTitle.nhn?artistId=11", byID["11"].URL)
}

const listBody = `{
  "webtoonLevelCode": "BEST_CHALLENGE",
  "articleList": [
    {"no": 5, "subtitle": "fifth", "charge": false, "serviceDateDescription": "2026.05.01"},
    {"no": 4, "subtitle": "paid", "charge": true, "serviceDateDescription": "2026.04.24"},
    {"no": 3, "subtitle": "bad date", "charge": false, "serviceDateDescription": "soon"},
    {"no": 2, "subtitle": "second", "charge": false, "serviceDateDescription": "Thu Feb 18 22:46:16 KST 2010"}
  ],
  "pageInfo": {"lastPage": 3}
}`

func TestListingPageSkipsChargeAndBadTimestamps(t *testing.T) {
	t.Parallel()

	transport := newFakeTransport()
	transport.add(fmt.Sprintf(listURLFormat, 22896, 1), listBody)
	source := newTestSource(t, transport)

	listing, err := source.ListingPage(context.Background(), 1)
	require.NoError(t, err)
	require.False(t, listing.LastPage)
	require.Len(t, listing.Stubs, 2)

	require.Equal(t, 5, listing.Stubs[0].Number)
	require.Equal(t, "fifth", listing.Stubs[0].Title)
	require.Equal(t,
		"https://comic.naver.com/bestChallenge/detail?titleId=22896&no=5",
		listing.Stubs[0].DetailURL)
	require.Equal(t, time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC), listing.Stubs[0].PublishedAt)

	require.Equal(t, 2, listing.Stubs[1].Number)
}

func TestListingPageLastPageFlag(t *testing.T) {
	t.Parallel()

	transport := newFakeTransport()
	transport.add(fmt.Sprintf(listURLFormat, 22896, 3),
		`{"webtoonLevelCode": "WEBTOON", "articleList": [], "pageInfo": {"lastPage": 3}}`)
	source := newTestSource(t, transport)

	listing, err := source.ListingPage(context.Background(), 3)
	require.NoError(t, err)
	require.True(t, listing.LastPage)
}

const scrollDetailBody = `<html><body>
<div id="comic_view_area">
  <div class="wt_viewer">
    <img src="https://img.example.com/1.jpg"/>
    <img src="https://img.example.com/2.jpg"/>
  </div>
  <div class="writer_info"><p>from the writer</p></div>
</div>
<script>var payload = {"authorWords":"hello &amp; welcome"};</script>
</body></html>`

func TestDetailScrollLayout(t *testing.T) {
	t.Parallel()

	url := "https://comic.naver.com/webtoon/detail?titleId=22896&no=7"
	transport := newFakeTransport()
	transport.add(url, scrollDetailBody)
	source := newTestSource(t, transport)

	stub := comic.Stub{Number: 7, Title: "seventh", DetailURL: url,
		PublishedAt: time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)}
	ep, err := source.Detail(context.Background(), stub)
	require.NoError(t, err)
	require.False(t, ep.Book)
	require.Equal(t, []string{
		"https://img.example.com/1.jpg",
		"https://img.example.com/2.jpg",
	}, ep.ImageURLs)
	require.Equal(t, "hello & welcome", ep.Description)
	require.Equal(t, 7, ep.Number)
	require.Equal(t, "seventh", ep.Title)
	require.Equal(t, url, ep.URL)
}

const scriptOverrideBody = `<html><body>
<div id="comic_view_area">
  <div class="wt_viewer"><img src="https://img.example.com/low-res.jpg"/></div>
</div>
<script>var imageList = ["https://img.example.com/hi-1.jpg","https://img.example.com/hi-2.jpg"];</script>
</body></html>`

func TestDetailScriptImageListOverridesMarkup(t *testing.T) {
	t.Parallel()

	url := "https://comic.naver.com/webtoon/detail?titleId=22896&no=8"
	transport := newFakeTransport()
	transport.add(url, scriptOverrideBody)
	source := newTestSource(t, transport)

	ep, err := source.Detail(context.Background(), comic.Stub{Number: 8, DetailURL: url})
	require.NoError(t, err)
	require.False(t, ep.Book)
	require.Equal(t, []string{
		"https://img.example.com/hi-1.jpg",
		"https://img.example.com/hi-2.jpg",
	}, ep.ImageURLs)
}

const bookDetailBody = `<html><body>
<div id="comic_view_area">
  <div class="flip-cached_page">
    <img src="" class="real_url(https://img.example.com/p1.jpg)"/>
    <img src="" class="real_url(https://img.example.com/p2.jpg)"/>
    <img src="" class="decorative"/>
  </div>
</div>
</body></html>`

func TestDetailBookLayout(t *testing.T) {
	t.Parallel()

	url := "https://comic.naver.com/webtoon/detail?titleId=22896&no=9"
	transport := newFakeTransport()
	transport.add(url, bookDetailBody)
	source := newTestSource(t, transport)

	ep, err := source.Detail(context.Background(), comic.Stub{Number: 9, DetailURL: url})
	require.NoError(t, err)
	require.True(t, ep.Book)
	require.Equal(t, []string{
		"https://img.example.com/p1.jpg",
		"https://img.example.com/p2.jpg",
	}, ep.ImageURLs)
	require.Equal(t, ".", ep.Description)
}

func TestDetailDescriptionFallsBackToWriterInfo(t *testing.T) {
	t.Parallel()

	body := `<html><body>
<div id="comic_view_area">
  <div class="wt_viewer"><img src="https://img.example.com/1.jpg"/></div>
  <div class="writer_info"><p>  plain note  </p></div>
</div>
</body></html>`
	url := "https://comic.naver.com/webtoon/detail?titleId=22896&no=10"
	transport := newFakeTransport()
	transport.add(url, body)
	source := newTestSource(t, transport)

	ep, err := source.Detail(context.Background(), comic.Stub{Number: 10, DetailURL: url})
	require.NoError(t, err)
	require.Equal(t, "plain note", ep.Description)
}

func TestDetailDescriptionKeepsEscapedQuotes(t *testing.T) {
	t.Parallel()

	body := `<html><body>
<div id="comic_view_area">
  <div class="wt_viewer"><img src="https://img.example.com/1.jpg"/></div>
</div>
<script>var payload = {"authorWords":"she said \"hello\" twice"};</script>
</body></html>`
	url := "https://comic.naver.com/webtoon/detail?titleId=22896&no=14"
	transport := newFakeTransport()
	transport.add(url, body)
	source := newTestSource(t, transport)

	ep, err := source.Detail(context.Background(), comic.Stub{Number: 14, DetailURL: url})
	require.NoError(t, err)
	require.Equal(t, `she said "hello" twice`, ep.Description)
}

func TestDetailArchivesRawPage(t *testing.T) {
	t.Parallel()

	url := "https://comic.naver.com/webtoon/detail?titleId=22896&no=11"
	transport := newFakeTransport()
	transport.add(url, scrollDetailBody)
	blobs := archivememory.New()
	source := newTestSource(t, transport, WithArchive(blobs))

	_, err := source.Detail(context.Background(), comic.Stub{Number: 11, DetailURL: url})
	require.NoError(t, err)

	stored, ok := blobs.Object("naver-22896/11.html")
	require.True(t, ok)
	require.Equal(t, scrollDetailBody, string(stored))
}

type fakeRenderer struct {
	body  string
	calls int
	mu    sync.Mutex
}

func (r *fakeRenderer) Fetch(context.Context, fetch.Request) (*fetch.Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	return &fetch.Result{
		StatusCode: http.StatusOK,
		Header:     http.Header{},
		Body:       io.NopCloser(strings.NewReader(r.body)),
	}, nil
}

func TestDetailPromotesShellPagesToHeadless(t *testing.T) {
	t.Parallel()

	shell := `<html><body><div id="root"></div></body></html>`
	url := "https://comic.naver.com/webtoon/detail?titleId=22896&no=12"
	transport := newFakeTransport()
	transport.add(url, shell)
	renderer := &fakeRenderer{body: scrollDetailBody}
	source := newTestSource(t, transport,
		WithRenderer(renderer, headless.NewDetector(0)))

	ep, err := source.Detail(context.Background(), comic.Stub{Number: 12, DetailURL: url})
	require.NoError(t, err)
	require.Equal(t, 1, renderer.calls)
	require.Equal(t, []string{
		"https://img.example.com/1.jpg",
		"https://img.example.com/2.jpg",
	}, ep.ImageURLs)
}

func TestDetailWithoutImagesIsNotAnError(t *testing.T) {
	t.Parallel()

	body := `<html><body><div id="comic_view_area"><p>nothing here</p></div></body></html>`
	url := "https://comic.naver.com/webtoon/detail?titleId=22896&no=13"
	transport := newFakeTransport()
	transport.add(url, body)
	source := newTestSource(t, transport)

	ep, err := source.Detail(context.Background(), comic.Stub{Number: 13, DetailURL: url})
	require.NoError(t, err)
	require.Empty(t, ep.ImageURLs)
}

func TestNewValidatesConfig(t *testing.T) {
	t.Parallel()

	_, err := New(nil, Config{TitleID: 1})
	require.Error(t, err)
	_, err = New(fetch.New(newFakeTransport()), Config{})
	require.Error(t, err)
}

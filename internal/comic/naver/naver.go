// Package naver reads comic series from the Naver Comic service. Series
// metadata and listings come from JSON APIs; episode details are scraped
// from the HTML viewer pages.
package naver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html"
	"io"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/antchfx/htmlquery"
	"go.uber.org/zap"

	"github.com/toonfeed/crawler/internal/archive"
	"github.com/toonfeed/crawler/internal/comic"
	"github.com/toonfeed/crawler/internal/fetch"
	"github.com/toonfeed/crawler/internal/fetch/headless"
)

const (
	infoURLFormat   = "https://comic.naver.com/api/article/list/info?titleId=%d"
	listURLFormat   = "https://comic.naver.com/api/article/list?titleId=%d&page=%d"
	detailURLFormat = "https://comic.naver.com/%s/detail?titleId=%d&no=%d"
	seriesURLFormat = "https://comic.naver.com/%s/list?titleId=%d"
	artistURLFormat = "https://comic.naver.com/artistTitle.nhn?artistId=%d"

	// DefaultDetailTTL caches detail pages for a day; they rarely change
	// after publication.
	DefaultDetailTTL = 24 * time.Hour
)

// titleTypes maps the API level code to the URL path segment.
var titleTypes = map[string]string{
	"WEBTOON":        "webtoon",
	"BEST_CHALLENGE": "bestChallenge",
	"CHALLENGE":      "challenge",
}

var (
	imageListJS  = regexp.MustCompile(`imageList = (\[.+\])`)
	realURLClass = regexp.MustCompile(`real_url\((https?://.+?)\)`)
	authorWords  = regexp.MustCompile(`"authorWords":"((?:[^"\\]|\\.)*)"`)
)

const (
	viewerImagesXPath = `//*[@id="comic_view_area"]//*[@class="wt_viewer"]/img`
	bookImagesXPath   = `//*[@id="comic_view_area"]//*[@class="flip-cached_page"]//img[@src=""]`
	writerInfoXPath   = `//*[@id="comic_view_area"]//*[@class="writer_info"]/p`
)

// Config identifies one series and tunes detail fetching.
type Config struct {
	TitleID   int
	SeriesKey string
	DetailTTL time.Duration
}

// Option configures a Source.
type Option func(*Source)

// WithRenderer attaches a headless transport used to re-render detail
// pages the static fetch could not extract images from.
func WithRenderer(t fetch.Transport, d *headless.Detector) Option {
	return func(s *Source) {
		s.renderer = t
		s.detector = d
	}
}

// WithArchive keeps a raw snapshot of every detail page.
func WithArchive(store archive.BlobStore) Option {
	return func(s *Source) { s.archive = store }
}

// WithLogger attaches a logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Source) { s.logger = l }
}

// Source implements comic.Source for one Naver Comic series.
type Source struct {
	titleID   int
	seriesKey string
	client    *fetch.Client
	detailTTL time.Duration
	renderer  fetch.Transport
	detector  *headless.Detector
	archive   archive.BlobStore
	logger    *zap.Logger
}

// New builds a Source over the given fetch client.
func New(client *fetch.Client, cfg Config, opts ...Option) (*Source, error) {
	if client == nil {
		return nil, fmt.Errorf("fetch client is required")
	}
	if cfg.TitleID <= 0 {
		return nil, fmt.Errorf("title id must be positive")
	}
	key := cfg.SeriesKey
	if key == "" {
		key = strconv.Itoa(cfg.TitleID)
	}
	ttl := cfg.DetailTTL
	if ttl <= 0 {
		ttl = DefaultDetailTTL
	}
	s := &Source{
		titleID:   cfg.TitleID,
		seriesKey: key,
		client:    client,
		detailTTL: ttl,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

type authorEntry struct {
	ID      int    `json:"id"`
	Name    string `json:"name"`
	BlogURL string `json:"blogUrl"`
}

type infoPayload struct {
	TitleName        string                   `json:"titleName"`
	Synopsis         string                   `json:"synopsis"`
	WebtoonLevelCode string                   `json:"webtoonLevelCode"`
	Author           map[string][]authorEntry `json:"author"`
}

type articleEntry struct {
	No                     int    `json:"no"`
	Subtitle               string `json:"subtitle"`
	Charge                 bool   `json:"charge"`
	ServiceDateDescription string `json:"serviceDateDescription"`
}

type listPayload struct {
	WebtoonLevelCode string         `json:"webtoonLevelCode"`
	ArticleList      []articleEntry `json:"articleList"`
	PageInfo         struct {
		LastPage int `json:"lastPage"`
	} `json:"pageInfo"`
}

// Info fetches the series metadata.
func (s *Source) Info(ctx context.Context) (comic.SeriesInfo, error) {
	url := fmt.Sprintf(infoURLFormat, s.titleID)
	var payload infoPayload
	if err := s.fetchJSON(ctx, url, &payload); err != nil {
		return comic.SeriesInfo{}, err
	}

	info := comic.SeriesInfo{
		Title:       strings.TrimSpace(payload.TitleName),
		Description: strings.TrimSpace(payload.Synopsis),
		URL:         fmt.Sprintf(seriesURLFormat, titlePath(payload.WebtoonLevelCode), s.titleID),
		Artists:     collectArtists(payload.Author),
	}
	return info, nil
}

// collectArtists flattens the author groups, deduplicating by artist ID.
func collectArtists(groups map[string][]authorEntry) []comic.Artist {
	roles := make([]string, 0, len(groups))
	for role := range groups {
		roles = append(roles, role)
	}
	sort.Strings(roles)

	var artists []comic.Artist
	index := make(map[int]int)
	hasBlog := make(map[int]bool)
	for _, role := range roles {
		for _, author := range groups[role] {
			if i, dup := index[author.ID]; dup {
				// A later role entry may carry the blog URL the first lacked.
				if !hasBlog[author.ID] && author.BlogURL != "" {
					artists[i].URL = author.BlogURL
					hasBlog[author.ID] = true
				}
				continue
			}
			index[author.ID] = len(artists)
			hasBlog[author.ID] = author.BlogURL != ""
			url := author.BlogURL
			if url == "" {
				url = fmt.Sprintf(artistURLFormat, author.ID)
			}
			artists = append(artists, comic.Artist{
				ID:   strconv.Itoa(author.ID),
				Name: author.Name,
				URL:  url,
			})
		}
	}
	return artists
}

// ListingPage fetches one page of the episode index. Paid rows and rows
// with unparseable timestamps are skipped.
func (s *Source) ListingPage(ctx context.Context, page int) (comic.Listing, error) {
	url := fmt.Sprintf(listURLFormat, s.titleID, page)
	var payload listPayload
	if err := s.fetchJSON(ctx, url, &payload); err != nil {
		return comic.Listing{}, err
	}

	path := titlePath(payload.WebtoonLevelCode)
	stubs := make([]comic.Stub, 0, len(payload.ArticleList))
	for _, article := range payload.ArticleList {
		if article.Charge {
			continue
		}
		published, err := parseServiceDate(article.ServiceDateDescription)
		if err != nil {
			s.logger.Warn("skipping listing row with bad timestamp",
				zap.Int("no", article.No),
				zap.String("value", article.ServiceDateDescription),
				zap.Error(err))
			continue
		}
		stubs = append(stubs, comic.Stub{
			Number:      article.No,
			Title:       article.Subtitle,
			PublishedAt: published,
			DetailURL:   fmt.Sprintf(detailURLFormat, path, s.titleID, article.No),
		})
	}

	return comic.Listing{
		Stubs:    stubs,
		LastPage: payload.PageInfo.LastPage <= 0 || page >= payload.PageInfo.LastPage,
	}, nil
}

// Detail scrapes one episode viewer page. An episode with no extractable
// images is returned as-is, not treated as an error.
func (s *Source) Detail(ctx context.Context, stub comic.Stub) (comic.Episode, error) {
	body, err := s.readDetail(ctx, stub.DetailURL)
	if err != nil {
		return comic.Episode{}, err
	}

	images, book, err := extractImages(body)
	if err != nil {
		return comic.Episode{}, fmt.Errorf("parse detail page for episode %d: %w", stub.Number, err)
	}

	// Pages that come back as JavaScript shells get one headless retry.
	if len(images) == 0 && s.renderer != nil && s.detector != nil && s.detector.NeedsRender(body) {
		s.logger.Info("re-rendering detail page headlessly",
			zap.String("url", stub.DetailURL), zap.Int("no", stub.Number))
		rendered, renderErr := s.render(ctx, stub.DetailURL)
		if renderErr != nil {
			s.logger.Warn("headless render failed",
				zap.String("url", stub.DetailURL), zap.Error(renderErr))
		} else {
			body = rendered
			images, book, err = extractImages(body)
			if err != nil {
				return comic.Episode{}, fmt.Errorf("parse rendered page for episode %d: %w", stub.Number, err)
			}
		}
	}

	s.archiveDetail(ctx, stub.Number, body)

	return comic.Episode{
		URL:         stub.DetailURL,
		Number:      stub.Number,
		Title:       stub.Title,
		Book:        book,
		ImageURLs:   images,
		Description: extractDescription(body),
		PublishedAt: stub.PublishedAt,
	}, nil
}

func (s *Source) readDetail(ctx context.Context, url string) ([]byte, error) {
	resp, err := s.client.Open(ctx, url,
		fetch.WithTTL(s.detailTTL),
		fetch.WithReferer(fmt.Sprintf(seriesURLFormat, "webtoon", s.titleID)))
	if err != nil {
		return nil, err
	}
	defer resp.Close()
	body, err := io.ReadAll(resp)
	if err != nil {
		return nil, fmt.Errorf("read detail page: %w", err)
	}
	return body, nil
}

func (s *Source) render(ctx context.Context, url string) ([]byte, error) {
	result, err := s.renderer.Fetch(ctx, fetch.Request{URL: url})
	if err != nil {
		return nil, err
	}
	defer result.Body.Close()
	body, err := io.ReadAll(result.Body)
	if err != nil {
		return nil, fmt.Errorf("read rendered page: %w", err)
	}
	return body, nil
}

func (s *Source) archiveDetail(ctx context.Context, no int, body []byte) {
	if s.archive == nil {
		return
	}
	path := fmt.Sprintf("%s/%d.html", s.seriesKey, no)
	uri, err := s.archive.PutObject(ctx, path, "text/html", bytes.NewReader(body))
	if err != nil {
		s.logger.Warn("archiving detail page failed",
			zap.String("path", path), zap.Error(err))
		return
	}
	s.logger.Debug("detail page archived", zap.String("uri", uri))
}

// extractImages pulls the episode image URLs out of the viewer markup.
// Scroll-layout episodes list images in the viewer div, optionally
// overridden by an inline imageList script; book-layout episodes encode
// each image URL in a real_url(...) class on a placeholder img.
func extractImages(body []byte) ([]string, bool, error) {
	doc, err := htmlquery.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, false, fmt.Errorf("parse html: %w", err)
	}

	var images []string
	for _, node := range htmlquery.Find(doc, viewerImagesXPath) {
		if src := htmlquery.SelectAttr(node, "src"); src != "" {
			images = append(images, src)
		}
	}
	if len(images) > 0 {
		if override := imageListFromScript(body); len(override) > 0 {
			images = override
		}
		return images, false, nil
	}

	for _, node := range htmlquery.Find(doc, bookImagesXPath) {
		m := realURLClass.FindStringSubmatch(htmlquery.SelectAttr(node, "class"))
		if m != nil {
			images = append(images, m[1])
		}
	}
	return images, len(images) > 0, nil
}

func imageListFromScript(body []byte) []string {
	m := imageListJS.FindSubmatch(body)
	if m == nil {
		return nil
	}
	var urls []string
	if err := json.Unmarshal(m[1], &urls); err != nil {
		return nil
	}
	return urls
}

// extractDescription finds the author's words for the episode, falling
// back to the writer info block and finally a placeholder.
func extractDescription(body []byte) string {
	if m := authorWords.FindSubmatch(body); m != nil {
		text := string(m[1])
		var decoded string
		if err := json.Unmarshal([]byte(`"`+text+`"`), &decoded); err == nil {
			text = decoded
		}
		return html.UnescapeString(text)
	}
	if doc, err := htmlquery.Parse(bytes.NewReader(body)); err == nil {
		if node := htmlquery.FindOne(doc, writerInfoXPath); node != nil {
			if text := strings.TrimSpace(htmlquery.InnerText(node)); text != "" {
				return text
			}
		}
	}
	return "."
}

func (s *Source) fetchJSON(ctx context.Context, url string, out any) error {
	resp, err := s.client.Open(ctx, url)
	if err != nil {
		return err
	}
	defer resp.Close()
	if err := json.NewDecoder(resp).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", url, err)
	}
	return nil
}

func titlePath(levelCode string) string {
	if path, ok := titleTypes[levelCode]; ok {
		return path
	}
	return "webtoon"
}

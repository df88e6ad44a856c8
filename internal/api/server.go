// Package api exposes the HTTP interface for the crawler service.
package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/toonfeed/crawler/internal/comic"
	"github.com/toonfeed/crawler/internal/config"
)

// SeriesFactory builds a crawlable series handle for a series key.
type SeriesFactory func(key string) (*comic.Series, error)

// Server wires HTTP handlers to the crawl engine and episode store.
type Server struct {
	router  chi.Router
	factory SeriesFactory
	store   comic.EpisodeStore
	cfg     config.Config
	logger  *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(factory SeriesFactory, store comic.EpisodeStore, cfg config.Config, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		factory: factory,
		store:   store,
		cfg:     cfg,
		logger:  logger,
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(metricsMiddleware)
	r.Use(timeoutMiddleware(60 * time.Second))
	if cfg.Auth.Enabled {
		r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
	}

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metricsHandler())

	r.Route("/v1", func(r chi.Router) {
		r.Route("/series/{key}", func(r chi.Router) {
			r.Get("/", s.getSeriesInfo)
			r.Post("/crawl", s.crawlSeries)
			r.Get("/episodes", s.listEpisodes)
		})
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(s.logger, w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(s.logger, w, http.StatusOK, map[string]string{"status": "ready"})
}

type seriesInfoResponse struct {
	Key         string        `json:"key"`
	Title       string        `json:"title"`
	Description string        `json:"description"`
	URL         string        `json:"url"`
	Artists     []comic.Artist `json:"artists"`
}

func (s *Server) getSeriesInfo(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	series, err := s.factory(key)
	if err != nil {
		writeError(s.logger, w, http.StatusBadRequest, err.Error())
		return
	}
	info, err := series.Info(r.Context())
	if err != nil {
		writeError(s.logger, w, http.StatusBadGateway, "series info unavailable")
		return
	}
	writeJSON(s.logger, w, http.StatusOK, seriesInfoResponse{
		Key:         key,
		Title:       info.Title,
		Description: info.Description,
		URL:         info.URL,
		Artists:     info.Artists,
	})
}

type crawlResponse struct {
	SeriesKey string `json:"series_key"`
	Episodes  int    `json:"episodes"`
	Numbers   []int  `json:"numbers"`
}

func (s *Server) crawlSeries(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	series, err := s.factory(key)
	if err != nil {
		writeError(s.logger, w, http.StatusBadRequest, err.Error())
		return
	}
	episodes, err := series.Crawl(r.Context())
	if err != nil {
		s.logger.Error("crawl failed", zap.String("series", key), zap.Error(err))
		writeError(s.logger, w, http.StatusBadGateway, "crawl failed")
		return
	}
	numbers := make([]int, len(episodes))
	for i, ep := range episodes {
		numbers[i] = ep.Number
	}
	writeJSON(s.logger, w, http.StatusOK, crawlResponse{
		SeriesKey: key,
		Episodes:  len(episodes),
		Numbers:   numbers,
	})
}

type episodeResponse struct {
	No          int       `json:"no"`
	URL         string    `json:"url"`
	Title       string    `json:"title"`
	Book        bool      `json:"book"`
	ImageURLs   []string  `json:"image_urls"`
	Description string    `json:"description"`
	PublishedAt time.Time `json:"published_at"`
}

func (s *Server) listEpisodes(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	offset, err := queryInt(r, "offset", 0)
	if err != nil {
		writeError(s.logger, w, http.StatusBadRequest, "invalid offset")
		return
	}
	limit, err := queryInt(r, "limit", s.cfg.Crawler.PageSize)
	if err != nil {
		writeError(s.logger, w, http.StatusBadRequest, "invalid limit")
		return
	}
	if offset < 0 || limit < 0 {
		writeError(s.logger, w, http.StatusBadRequest, "offset and limit must be non-negative")
		return
	}

	episodes, err := s.store.Page(r.Context(), key, offset, limit)
	if err != nil {
		s.logger.Error("episode page read failed", zap.String("series", key), zap.Error(err))
		writeError(s.logger, w, http.StatusInternalServerError, "failed to read episodes")
		return
	}
	out := make([]episodeResponse, 0, len(episodes))
	for _, ep := range episodes {
		images := ep.ImageURLs
		if images == nil {
			images = []string{}
		}
		out = append(out, episodeResponse{
			No:          ep.Number,
			URL:         ep.URL,
			Title:       ep.Title,
			Book:        ep.Book,
			ImageURLs:   images,
			Description: ep.Description,
			PublishedAt: ep.PublishedAt,
		})
	}
	writeJSON(s.logger, w, http.StatusOK, map[string]any{
		"series_key": key,
		"episodes":   out,
	})
}

func queryInt(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	return strconv.Atoi(raw)
}

type requestIDKey struct{}

// RequestID returns the request ID stored on the context, if any.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// Package fetch provides a cache-transparent URL fetcher. A fetched response
// can be replayed from a prior cached response instead of the network; live
// responses record themselves into the cache when closed.
package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/toonfeed/crawler/internal/hash/sha256"
	"github.com/toonfeed/crawler/internal/telemetry"
)

// DefaultTTL is applied to cached responses when no per-call TTL is given.
const DefaultTTL = 5 * time.Minute

// Cache stores encoded responses under fingerprint keys. Implementations
// must tolerate concurrent get/set on independent keys.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// Request describes one live fetch.
type Request struct {
	URL     string
	Referer string
}

// Result is a live transport response. Body is owned by the caller.
type Result struct {
	StatusCode int
	Header     http.Header
	Body       io.ReadCloser
}

// Transport performs live network fetches.
type Transport interface {
	Fetch(ctx context.Context, req Request) (*Result, error)
}

// Client satisfies fetches from a cache when possible, falling back to the
// configured transport. A nil cache disables caching entirely.
type Client struct {
	transport  Transport
	cache      Cache
	defaultTTL time.Duration
	hasher     *sha256.Hasher
	logger     *zap.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithCache attaches a response cache.
func WithCache(c Cache) Option {
	return func(cl *Client) { cl.cache = c }
}

// WithDefaultTTL overrides the TTL used when a call gives none.
func WithDefaultTTL(ttl time.Duration) Option {
	return func(cl *Client) { cl.defaultTTL = ttl }
}

// WithLogger attaches a logger.
func WithLogger(l *zap.Logger) Option {
	return func(cl *Client) { cl.logger = l }
}

// New builds a Client over the given transport.
func New(transport Transport, opts ...Option) *Client {
	cl := &Client{
		transport:  transport,
		defaultTTL: DefaultTTL,
		hasher:     sha256.New(),
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(cl)
	}
	return cl
}

// OpenOption adjusts a single Open call.
type OpenOption func(*openOptions)

type openOptions struct {
	ttl     time.Duration
	referer string
}

// WithTTL sets the cache TTL for this response.
func WithTTL(ttl time.Duration) OpenOption {
	return func(o *openOptions) { o.ttl = ttl }
}

// WithReferer sets the Referer header for the live request.
func WithReferer(url string) OpenOption {
	return func(o *openOptions) { o.referer = url }
}

// Fingerprint derives the stable cache key for a URL.
func (c *Client) Fingerprint(url string) string {
	return "urlfetch_" + c.hasher.Hash([]byte(url))
}

// Open fetches url, preferring a cached copy. The returned Response must be
// closed on every exit path: a live response only enters the cache when it
// is closed, and abandoned partial reads are never cached.
func (c *Client) Open(ctx context.Context, url string, opts ...OpenOption) (Response, error) {
	o := openOptions{ttl: c.defaultTTL}
	for _, opt := range opts {
		opt(&o)
	}

	key := c.Fingerprint(url)
	if c.cache != nil {
		data, ok, err := c.cache.Get(ctx, key)
		if err != nil {
			// A broken cache downgrades to a live fetch rather than failing.
			c.logger.Warn("cache get failed", zap.String("url", url), zap.Error(err))
		} else if ok {
			resp, err := decodeCachedResponse(data)
			if err != nil {
				c.logger.Warn("cache entry corrupt", zap.String("url", url), zap.Error(err))
			} else {
				telemetry.ObserveFetch(telemetry.OriginCache)
				c.logger.Debug("cache hit", zap.String("url", url))
				return resp, nil
			}
		}
	}

	result, err := c.transport.Fetch(ctx, Request{URL: url, Referer: o.referer})
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", url, err)
	}
	telemetry.ObserveFetch(telemetry.OriginLive)
	c.logger.Debug("url fetched", zap.String("url", url), zap.Int("status", result.StatusCode))
	return newLiveResponse(ctx, result, c.cache, key, o.ttl, c.logger), nil
}

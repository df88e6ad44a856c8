package fetch

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Response is the common read surface of live and cache-backed fetches.
// Lines returns a scanner that consumes the remaining stream; Close is
// idempotent.
type Response interface {
	StatusCode() int
	Header() http.Header
	io.Reader
	Lines() *bufio.Scanner
	Close() error
}

// record is the cached encoding of a complete response.
type record struct {
	Status int         `json:"status"`
	Header http.Header `json:"header"`
	Body   []byte      `json:"body"`
}

// liveResponse streams from the transport while accumulating every byte so
// the complete response can be written to the cache on Close.
type liveResponse struct {
	ctx    context.Context
	status int
	header http.Header
	body   io.ReadCloser
	tee    io.Reader
	buf    bytes.Buffer
	cache  Cache
	key    string
	ttl    time.Duration
	logger *zap.Logger
	closed bool
}

func newLiveResponse(
	ctx context.Context,
	result *Result,
	cache Cache,
	key string,
	ttl time.Duration,
	logger *zap.Logger,
) *liveResponse {
	r := &liveResponse{
		ctx:    ctx,
		status: result.StatusCode,
		header: result.Header,
		body:   result.Body,
		cache:  cache,
		key:    key,
		ttl:    ttl,
		logger: logger,
	}
	r.tee = io.TeeReader(result.Body, &r.buf)
	return r
}

func (r *liveResponse) StatusCode() int { return r.status }

func (r *liveResponse) Header() http.Header { return r.header }

func (r *liveResponse) Read(p []byte) (int, error) {
	if r.closed {
		return 0, io.EOF
	}
	return r.tee.Read(p)
}

func (r *liveResponse) Lines() *bufio.Scanner { return bufio.NewScanner(r) }

// Close drains the remainder of the body and, when a cache is configured,
// records the complete response under the fingerprint key.
func (r *liveResponse) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true

	_, drainErr := io.Copy(io.Discard, r.tee)
	closeErr := r.body.Close()
	if drainErr != nil {
		return fmt.Errorf("drain response body: %w", drainErr)
	}
	if closeErr != nil {
		return fmt.Errorf("close response body: %w", closeErr)
	}

	if r.cache == nil {
		return nil
	}
	data, err := json.Marshal(record{
		Status: r.status,
		Header: r.header,
		Body:   r.buf.Bytes(),
	})
	if err != nil {
		return fmt.Errorf("encode cache record: %w", err)
	}
	if err := r.cache.Set(r.ctx, r.key, data, r.ttl); err != nil {
		// Failing to cache must not fail the fetch that already succeeded.
		r.logger.Warn("cache set failed", zap.String("key", r.key), zap.Error(err))
	}
	return nil
}

// cachedResponse replays a stored record without touching the network.
type cachedResponse struct {
	status int
	header http.Header
	reader *bytes.Reader
	closed bool
}

func decodeCachedResponse(data []byte) (*cachedResponse, error) {
	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decode cache record: %w", err)
	}
	header := rec.Header
	if header == nil {
		header = http.Header{}
	}
	return &cachedResponse{
		status: rec.Status,
		header: header,
		reader: bytes.NewReader(rec.Body),
	}, nil
}

func (r *cachedResponse) StatusCode() int { return r.status }

func (r *cachedResponse) Header() http.Header { return r.header }

func (r *cachedResponse) Read(p []byte) (int, error) {
	if r.closed {
		return 0, io.EOF
	}
	return r.reader.Read(p)
}

func (r *cachedResponse) Lines() *bufio.Scanner { return bufio.NewScanner(r) }

func (r *cachedResponse) Close() error {
	r.closed = true
	return nil
}

// Package collyfetch implements the live fetch transport using gocolly.
package collyfetch

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/toonfeed/crawler/internal/fetch"
)

// Config controls collector behavior.
type Config struct {
	UserAgent string
	Timeout   time.Duration
}

// Transport implements fetch.Transport using the Colly collector.
type Transport struct {
	cfg           Config
	baseCollector *colly.Collector
}

// New builds a Transport.
func New(cfg Config) *Transport {
	c := colly.NewCollector(colly.Async(false))
	c.IgnoreRobotsTxt = true
	c.WithTransport(newHTTPTransport())

	return &Transport{
		cfg:           cfg,
		baseCollector: c,
	}
}

// Fetch executes a single HTTP GET using Colly.
func (t *Transport) Fetch(ctx context.Context, req fetch.Request) (*fetch.Result, error) {
	var (
		result   *fetch.Result
		fetchErr error
	)
	collector := t.buildCollector(req, &result, &fetchErr)

	if err := t.runCollector(ctx, collector, req.URL, &fetchErr); err != nil {
		return nil, err
	}
	if result == nil {
		return nil, fmt.Errorf("colly visit produced no response for %s", req.URL)
	}
	return result, nil
}

func (t *Transport) buildCollector(
	req fetch.Request,
	result **fetch.Result,
	fetchErr *error,
) *colly.Collector {
	collector := t.baseCollector.Clone()
	if t.cfg.UserAgent != "" {
		collector.UserAgent = t.cfg.UserAgent
	}
	timeout := t.cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	collector.SetRequestTimeout(timeout)

	collector.OnRequest(func(r *colly.Request) {
		if req.Referer != "" {
			r.Headers.Set("Referer", req.Referer)
		}
	})

	collector.OnResponse(func(r *colly.Response) {
		body := append([]byte(nil), r.Body...)
		*result = &fetch.Result{
			StatusCode: r.StatusCode,
			Header:     r.Headers.Clone(),
			Body:       io.NopCloser(bytes.NewReader(body)),
		}
	})

	collector.OnError(func(_ *colly.Response, err error) {
		*fetchErr = err
	})

	return collector
}

func (t *Transport) runCollector(ctx context.Context, collector *colly.Collector, url string, fetchErr *error) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("colly visit failed: %w", err)
		}
		if *fetchErr != nil {
			return fmt.Errorf("colly response failed: %w", *fetchErr)
		}
		return nil
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}

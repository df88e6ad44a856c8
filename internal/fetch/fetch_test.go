package fetch

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/toonfeed/crawler/internal/cache/memory"
)

type fakeTransport struct {
	mu     sync.Mutex
	bodies map[string]string
	status map[string]int
	calls  map[string]int
	refs   map[string]string
	err    error
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		bodies: make(map[string]string),
		status: make(map[string]int),
		calls:  make(map[string]int),
		refs:   make(map[string]string),
	}
}

func (t *fakeTransport) Fetch(_ context.Context, req Request) (*Result, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.err != nil {
		return nil, t.err
	}
	t.calls[req.URL]++
	t.refs[req.URL] = req.Referer
	body, ok := t.bodies[req.URL]
	if !ok {
		return nil, errors.New("no such page")
	}
	status := t.status[req.URL]
	if status == 0 {
		status = http.StatusOK
	}
	return &Result{
		StatusCode: status,
		Header:     http.Header{"Content-Type": []string{"text/html"}},
		Body:       io.NopCloser(strings.NewReader(body)),
	}, nil
}

func (t *fakeTransport) callCount(url string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.calls[url]
}

func TestOpenLiveThenCached(t *testing.T) {
	t.Parallel()

	transport := newFakeTransport()
	transport.bodies["http://example.com/a"] = "hello body"
	cache := memory.New()
	client := New(transport, WithCache(cache))
	ctx := context.Background()

	resp, err := client.Open(ctx, "http://example.com/a")
	require.NoError(t, err)
	got, err := io.ReadAll(resp)
	require.NoError(t, err)
	require.Equal(t, "hello body", string(got))
	require.Equal(t, http.StatusOK, resp.StatusCode())
	require.NoError(t, resp.Close())

	// Second open is satisfied from the cache with no network access.
	resp2, err := client.Open(ctx, "http://example.com/a")
	require.NoError(t, err)
	got2, err := io.ReadAll(resp2)
	require.NoError(t, err)
	require.Equal(t, "hello body", string(got2))
	require.Equal(t, http.StatusOK, resp2.StatusCode())
	require.Equal(t, "text/html", resp2.Header().Get("Content-Type"))
	require.NoError(t, resp2.Close())
	require.Equal(t, 1, transport.callCount("http://example.com/a"))
}

func TestCloseDrainsPartialReadBeforeCaching(t *testing.T) {
	t.Parallel()

	transport := newFakeTransport()
	transport.bodies["http://example.com/partial"] = "0123456789"
	cache := memory.New()
	client := New(transport, WithCache(cache))
	ctx := context.Background()

	resp, err := client.Open(ctx, "http://example.com/partial")
	require.NoError(t, err)
	head := make([]byte, 4)
	_, err = io.ReadFull(resp, head)
	require.NoError(t, err)
	require.NoError(t, resp.Close())

	// The cached copy holds the full body, not just what was read.
	resp2, err := client.Open(ctx, "http://example.com/partial")
	require.NoError(t, err)
	got, err := io.ReadAll(resp2)
	require.NoError(t, err)
	require.Equal(t, "0123456789", string(got))
	require.NoError(t, resp2.Close())
	require.Equal(t, 1, transport.callCount("http://example.com/partial"))
}

func TestAbandonedResponseNeverPopulatesCache(t *testing.T) {
	t.Parallel()

	transport := newFakeTransport()
	transport.bodies["http://example.com/x"] = "abc"
	cache := memory.New()
	client := New(transport, WithCache(cache))
	ctx := context.Background()

	resp, err := client.Open(ctx, "http://example.com/x")
	require.NoError(t, err)
	_, err = io.ReadAll(resp)
	require.NoError(t, err)
	// No Close: nothing may be written to the cache.
	require.Zero(t, cache.Len())

	_, ok, err := cache.Get(ctx, client.Fingerprint("http://example.com/x"))
	require.NoError(t, err)
	require.False(t, ok)
	require.NoError(t, resp.Close())
}

func TestOpenWithoutCacheNeverCaches(t *testing.T) {
	t.Parallel()

	transport := newFakeTransport()
	transport.bodies["http://example.com/n"] = "abc"
	client := New(transport)
	ctx := context.Background()

	resp, err := client.Open(ctx, "http://example.com/n")
	require.NoError(t, err)
	require.NoError(t, resp.Close())

	resp2, err := client.Open(ctx, "http://example.com/n")
	require.NoError(t, err)
	require.NoError(t, resp2.Close())
	require.Equal(t, 2, transport.callCount("http://example.com/n"))
}

func TestCloseIsIdempotent(t *testing.T) {
	t.Parallel()

	transport := newFakeTransport()
	transport.bodies["http://example.com/i"] = "abc"
	cache := memory.New()
	client := New(transport, WithCache(cache))

	resp, err := client.Open(context.Background(), "http://example.com/i")
	require.NoError(t, err)
	require.NoError(t, resp.Close())
	require.NoError(t, resp.Close())
	require.Equal(t, 1, cache.Len())
}

func TestLinesIteration(t *testing.T) {
	t.Parallel()

	transport := newFakeTransport()
	transport.bodies["http://example.com/lines"] = "one\ntwo\nthree"
	client := New(transport, WithCache(memory.New()))
	ctx := context.Background()

	for range 2 { // live pass, then cached pass
		resp, err := client.Open(ctx, "http://example.com/lines")
		require.NoError(t, err)
		var lines []string
		sc := resp.Lines()
		for sc.Scan() {
			lines = append(lines, sc.Text())
		}
		require.NoError(t, sc.Err())
		require.Equal(t, []string{"one", "two", "three"}, lines)
		require.NoError(t, resp.Close())
	}
}

func TestRefererForwardedToTransport(t *testing.T) {
	t.Parallel()

	transport := newFakeTransport()
	transport.bodies["http://example.com/r"] = "abc"
	client := New(transport)

	resp, err := client.Open(context.Background(), "http://example.com/r",
		WithReferer("http://example.com/list"))
	require.NoError(t, err)
	require.NoError(t, resp.Close())
	require.Equal(t, "http://example.com/list", transport.refs["http://example.com/r"])
}

func TestTransportErrorSurfaces(t *testing.T) {
	t.Parallel()

	transport := newFakeTransport()
	transport.err = errors.New("connection refused")
	client := New(transport)

	_, err := client.Open(context.Background(), "http://example.com/err")
	require.Error(t, err)
	require.Contains(t, err.Error(), "connection refused")
}

func TestFingerprintIsStable(t *testing.T) {
	t.Parallel()

	client := New(newFakeTransport())
	a := client.Fingerprint("http://example.com/a")
	require.Equal(t, a, client.Fingerprint("http://example.com/a"))
	require.NotEqual(t, a, client.Fingerprint("http://example.com/b"))
	require.True(t, strings.HasPrefix(a, "urlfetch_"))
}

func TestCachedEntryRespectsTTL(t *testing.T) {
	t.Parallel()

	transport := newFakeTransport()
	transport.bodies["http://example.com/ttl"] = "abc"
	cache := memory.New()
	client := New(transport, WithCache(cache), WithDefaultTTL(10*time.Millisecond))
	ctx := context.Background()

	resp, err := client.Open(ctx, "http://example.com/ttl")
	require.NoError(t, err)
	require.NoError(t, resp.Close())

	require.Eventually(t, func() bool {
		resp, err := client.Open(ctx, "http://example.com/ttl")
		if err != nil {
			return false
		}
		defer resp.Close()
		return transport.callCount("http://example.com/ttl") == 2
	}, time.Second, 10*time.Millisecond)
}

package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"feedflow/internal/core"
	"feedflow/internal/features/ingest/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testFetcherConfig() *models.FetcherConfig {
	return &models.FetcherConfig{
		UserAgent:     "feedflow-test/1.0",
		Timeout:       5 * time.Second,
		MaxRedirects:  3,
		HostSpacing:   0,
		MaxAttempts:   4,
		RetryInterval: 10 * time.Millisecond,
		MaxBodyBytes:  4096,
	}
}

func newTestFetcher(config *models.FetcherConfig) *FetcherService {
	return NewFetcherService(core.NewDiscardLogger(), config, nil)
}

func TestFetchSendsHeaders(t *testing.T) {
	var ua, accept string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ua = r.Header.Get("User-Agent")
		accept = r.Header.Get("Accept")
		w.Header().Set("Content-Type", "application/rss+xml")
		fmt.Fprint(w, "<rss/>")
	}))
	defer srv.Close()

	res, err := newTestFetcher(testFetcherConfig()).Fetch(context.Background(), srv.URL+"/feed", models.FetchFeed)
	require.NoError(t, err)

	assert.Equal(t, "feedflow-test/1.0", ua)
	assert.Contains(t, accept, "application/rss+xml")
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "application/rss+xml", res.ContentType)
	assert.Equal(t, "<rss/>", string(res.Body))
	assert.Equal(t, srv.URL+"/feed", res.FinalURL)
}

func TestFetchRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		fmt.Fprint(w, "ok")
	}))
	defer srv.Close()

	res, err := newTestFetcher(testFetcherConfig()).Fetch(context.Background(), srv.URL, models.FetchPage)
	require.NoError(t, err)
	assert.Equal(t, "ok", string(res.Body))
	assert.Equal(t, int32(4), calls.Load())
}

func TestFetchGivesUpAfterMaxAttempts(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	config := testFetcherConfig()
	config.MaxAttempts = 2
	_, err := newTestFetcher(config).Fetch(context.Background(), srv.URL, models.FetchFeed)

	var fe *FetchError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, http.StatusBadGateway, fe.StatusCode)
	assert.True(t, fe.Retryable)
	assert.Equal(t, int32(2), calls.Load())
}

func TestFetchStatusClassification(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		retryable bool
		calls     int32
	}{
		{"not found", http.StatusNotFound, false, 1},
		{"gone", http.StatusGone, false, 1},
		{"forbidden", http.StatusForbidden, false, 1},
		{"rate limited", http.StatusTooManyRequests, true, 4},
		{"unavailable", http.StatusServiceUnavailable, true, 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			_, err := newTestFetcher(testFetcherConfig()).Fetch(context.Background(), srv.URL, models.FetchFeed)

			var fe *FetchError
			require.True(t, errors.As(err, &fe))
			assert.Equal(t, tt.status, fe.StatusCode)
			assert.Equal(t, tt.retryable, fe.Retryable)
			assert.Equal(t, tt.retryable, IsRetryable(err))
			assert.Equal(t, tt.calls, calls.Load())
		})
	}
}

func TestFetchFollowsRedirects(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/old", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/new", http.StatusMovedPermanently)
	})
	mux.HandleFunc("/new", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "moved")
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	res, err := newTestFetcher(testFetcherConfig()).Fetch(context.Background(), srv.URL+"/old", models.FetchFeed)
	require.NoError(t, err)
	assert.Equal(t, srv.URL+"/old", res.URL)
	assert.Equal(t, srv.URL+"/new", res.FinalURL)
	assert.Equal(t, "moved", string(res.Body))
}

func TestFetchRedirectLoop(t *testing.T) {
	var calls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/a", func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Redirect(w, r, "/b", http.StatusFound)
	})
	mux.HandleFunc("/b", func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Redirect(w, r, "/a", http.StatusFound)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	_, err := newTestFetcher(testFetcherConfig()).Fetch(context.Background(), srv.URL+"/a", models.FetchFeed)

	var fe *FetchError
	require.True(t, errors.As(err, &fe))
	assert.False(t, fe.Retryable)
	assert.True(t, errors.Is(err, errRedirectLoop))
	assert.Equal(t, int32(2), calls.Load())
}

func TestFetchTooManyRedirects(t *testing.T) {
	var hops atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := hops.Add(1)
		http.Redirect(w, r, fmt.Sprintf("/hop/%d", n), http.StatusFound)
	}))
	defer srv.Close()

	_, err := newTestFetcher(testFetcherConfig()).Fetch(context.Background(), srv.URL, models.FetchFeed)

	var fe *FetchError
	require.True(t, errors.As(err, &fe))
	assert.False(t, fe.Retryable)
	assert.True(t, errors.Is(err, errTooManyRedirects))
}

func TestFetchBodyLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, strings.Repeat("x", 8192))
	}))
	defer srv.Close()

	_, err := newTestFetcher(testFetcherConfig()).Fetch(context.Background(), srv.URL, models.FetchPage)

	var fe *FetchError
	require.True(t, errors.As(err, &fe))
	assert.False(t, fe.Retryable)
	assert.True(t, errors.Is(err, errBodyTooLarge))
}

func TestFetchRejectsInvalidURL(t *testing.T) {
	f := newTestFetcher(testFetcherConfig())

	for _, raw := range []string{"", "ftp://example.com/feed", "/relative/feed", "http://"} {
		_, err := f.Fetch(context.Background(), raw, models.FetchFeed)
		var ve *ValidationError
		assert.True(t, errors.As(err, &ve), "url %q", raw)
	}
}

func TestFetchContextCancelled(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := newTestFetcher(testFetcherConfig()).Fetch(ctx, srv.URL, models.FetchFeed)
	require.Error(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.ErrorIs(t, ctx.Err(), context.DeadlineExceeded)
}

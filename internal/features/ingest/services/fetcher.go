package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"feedflow/internal/core"
	"feedflow/internal/features/ingest/models"

	"github.com/cenkalti/backoff/v4"
	"github.com/dustin/go-humanize"
)

var (
	errTooManyRedirects = errors.New("too many redirects")
	errRedirectLoop     = errors.New("redirect loop")
	errBodyTooLarge     = errors.New("response body too large")
)

const (
	acceptFeed = "application/rss+xml, application/atom+xml, application/rdf+xml, application/xml;q=0.9, text/xml;q=0.9, */*;q=0.8"
	acceptPage = "text/html, application/xhtml+xml;q=0.9, */*;q=0.8"
)

// FetcherService handles outbound HTTP for feeds and article pages
type FetcherService struct {
	client *http.Client
	gate   *HostGate
	logger *core.Logger
	config *models.FetcherConfig
}

// NewFetcherService creates a new fetcher service. The gate may be shared
// with other fetchers; nil creates one from config.HostSpacing.
func NewFetcherService(logger *core.Logger, config *models.FetcherConfig, gate *HostGate) *FetcherService {
	if gate == nil {
		gate = NewHostGate(config.HostSpacing)
	}

	f := &FetcherService{
		gate:   gate,
		logger: logger,
		config: config,
	}
	f.client = &http.Client{
		Timeout:       config.Timeout,
		CheckRedirect: f.checkRedirect,
	}
	return f
}

// Fetch retrieves url, retrying transient failures with exponential backoff.
// The returned error is a *FetchError or a *ValidationError.
func (f *FetcherService) Fetch(ctx context.Context, url string, kind models.FetchKind) (*models.FetchResult, error) {
	if _, err := ValidateSourceURL(url); err != nil {
		return nil, err
	}

	var (
		result  *models.FetchResult
		attempt int
	)
	operation := func() error {
		attempt++
		res, err := f.fetchOnce(ctx, url, kind)
		if err != nil {
			if !IsRetryable(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		result = res
		return nil
	}

	retries := f.config.MaxAttempts - 1
	if retries < 0 {
		retries = 0
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(f.newBackOff(), uint64(retries)), ctx)

	err := backoff.RetryNotify(operation, policy, func(err error, wait time.Duration) {
		f.logger.Debug("Retrying fetch", "url", url, "attempt", attempt, "wait", wait, "error", err)
	})
	if err != nil {
		var fe *FetchError
		if errors.As(err, &fe) {
			return nil, fe
		}
		var ve *ValidationError
		if errors.As(err, &ve) {
			return nil, ve
		}
		// Context ended while waiting between attempts.
		return nil, &FetchError{URL: url, Retryable: true, Err: err}
	}

	if attempt > 1 {
		f.logger.Info("Fetch succeeded after retry", "url", url, "attempts", attempt)
	}
	return result, nil
}

func (f *FetcherService) newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = f.config.RetryInterval
	b.Multiplier = 2
	b.RandomizationFactor = 0.5
	b.MaxInterval = 30 * time.Second
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

func (f *FetcherService) fetchOnce(ctx context.Context, url string, kind models.FetchKind) (*models.FetchResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &FetchError{URL: url, Err: err}
	}
	req.Header.Set("User-Agent", f.config.UserAgent)
	if kind == models.FetchFeed {
		req.Header.Set("Accept", acceptFeed)
	} else {
		req.Header.Set("Accept", acceptPage)
	}

	if err := f.gate.Wait(ctx, req.URL.Host); err != nil {
		return nil, &FetchError{URL: url, Retryable: !errors.Is(err, context.DeadlineExceeded), Err: err}
	}

	start := time.Now()
	resp, err := f.client.Do(req)
	if err != nil {
		retryable := !errors.Is(err, errTooManyRedirects) && !errors.Is(err, errRedirectLoop)
		return nil, &FetchError{URL: url, Retryable: retryable, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		retryable := resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests
		return nil, &FetchError{URL: url, StatusCode: resp.StatusCode, Retryable: retryable}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.config.MaxBodyBytes+1))
	if err != nil {
		return nil, &FetchError{URL: url, StatusCode: resp.StatusCode, Retryable: true, Err: fmt.Errorf("read body: %w", err)}
	}
	if int64(len(body)) > f.config.MaxBodyBytes {
		return nil, &FetchError{URL: url, StatusCode: resp.StatusCode, Err: errBodyTooLarge}
	}

	f.logger.Debug("Fetched",
		"url", url,
		"kind", kind,
		"status", resp.StatusCode,
		"size", humanize.Bytes(uint64(len(body))),
		"took", time.Since(start),
	)

	return &models.FetchResult{
		URL:         url,
		FinalURL:    resp.Request.URL.String(),
		StatusCode:  resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		Body:        body,
	}, nil
}

// checkRedirect bounds the hop count, refuses to revisit a URL already in the
// chain and applies host spacing to every hop.
func (f *FetcherService) checkRedirect(req *http.Request, via []*http.Request) error {
	if len(via) > f.config.MaxRedirects {
		return errTooManyRedirects
	}
	next := req.URL.String()
	for _, prev := range via {
		if prev.URL.String() == next {
			return errRedirectLoop
		}
	}
	return f.gate.Wait(req.Context(), req.URL.Host)
}

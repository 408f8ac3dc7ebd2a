package services

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strings"

	"feedflow/internal/core"
	"feedflow/internal/features/ingest/models"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/sync/errgroup"
)

// WellKnownFeedPaths are probed, relative to the site origin, when a page
// advertises no feed.
var WellKnownFeedPaths = []string{"/feed", "/rss", "/atom.xml", "/rss.xml", "/feed.xml", "/index.xml"}

var feedLinkTypes = map[string]bool{
	"application/rss+xml":  true,
	"application/atom+xml": true,
	"application/rdf+xml":  true,
}

// Paths that list posts rather than being one.
var listingPathParts = []string{"/tag/", "/tags/", "/category/", "/categories/", "/author/", "/page/", "/search", "/login", "/signup", "/feed", "/rss"}

// Fetcher is the network dependency of discovery and the scheduler
type Fetcher interface {
	Fetch(ctx context.Context, url string, kind models.FetchKind) (*models.FetchResult, error)
}

// DiscoveryService finds feed URLs for a website
type DiscoveryService struct {
	fetcher Fetcher
	logger  *core.Logger
	paths   []string
}

// NewDiscoveryService creates a new discovery service
func NewDiscoveryService(fetcher Fetcher, logger *core.Logger) *DiscoveryService {
	return &DiscoveryService{
		fetcher: fetcher,
		logger:  logger,
		paths:   WellKnownFeedPaths,
	}
}

// Discover fetches siteURL and returns the feeds it advertises, or the first
// well-known path that serves a feed. An empty result is not an error; a
// failure to fetch the site root is.
func (d *DiscoveryService) Discover(ctx context.Context, siteURL string) ([]string, error) {
	if _, err := ValidateSourceURL(siteURL); err != nil {
		return nil, err
	}

	res, err := d.fetcher.Fetch(ctx, siteURL, models.FetchPage)
	if err != nil {
		return nil, fmt.Errorf("discover %s: %w", siteURL, err)
	}

	pageURL := firstNonEmpty(res.FinalURL, siteURL)
	if IsValidFeed(res.Body) {
		return []string{pageURL}, nil
	}
	return d.DiscoverFromHTML(ctx, pageURL, res.Body)
}

// DiscoverFromHTML runs discovery on a root page that was already fetched
func (d *DiscoveryService) DiscoverFromHTML(ctx context.Context, pageURL string, page []byte) ([]string, error) {
	var feeds []string
	for _, hint := range FeedHints(page, pageURL) {
		res, err := d.fetcher.Fetch(ctx, hint, models.FetchFeed)
		if err != nil {
			d.logger.Debug("Feed hint unreachable", "hint", hint, "error", err)
			continue
		}
		if IsValidFeed(res.Body) {
			feeds = append(feeds, hint)
		}
	}
	if len(feeds) > 0 {
		return feeds, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	origin := originOf(pageURL)
	if origin == nil {
		return []string{}, nil
	}
	if hit := d.probe(ctx, origin); hit != "" {
		return []string{hit}, nil
	}
	return []string{}, nil
}

// probe requests every well-known path concurrently and returns the hit
// earliest in path order. Once every earlier path has answered, the
// remaining probes are cancelled.
func (d *DiscoveryService) probe(ctx context.Context, origin *url.URL) string {
	ctx, cancel := context.WithCancel(ctx)
	var g errgroup.Group
	defer func() {
		cancel()
		g.Wait()
	}()

	found := make([]string, len(d.paths))
	done := make([]chan struct{}, len(d.paths))
	for i, p := range d.paths {
		i := i
		done[i] = make(chan struct{})
		candidate := origin.ResolveReference(&url.URL{Path: p}).String()
		g.Go(func() error {
			defer close(done[i])
			res, err := d.fetcher.Fetch(ctx, candidate, models.FetchFeed)
			if err == nil && IsValidFeed(res.Body) {
				found[i] = candidate
			}
			return nil
		})
	}

	for i := range d.paths {
		<-done[i]
		if found[i] != "" {
			return found[i]
		}
	}
	return ""
}

// FeedHints returns the RSS and Atom <link rel="alternate"> targets of page
// resolved against pageURL, in document order without repeats.
func FeedHints(page []byte, pageURL string) []string {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page))
	if err != nil {
		return nil
	}
	base, _ := url.Parse(pageURL)

	seen := make(map[string]bool)
	var hints []string
	doc.Find("link[rel][href]").Each(func(_ int, s *goquery.Selection) {
		if !hasToken(s.AttrOr("rel", ""), "alternate") {
			return
		}
		typ := strings.ToLower(strings.TrimSpace(s.AttrOr("type", "")))
		if i := strings.IndexByte(typ, ';'); i >= 0 {
			typ = strings.TrimSpace(typ[:i])
		}
		if !feedLinkTypes[typ] {
			return
		}
		u, ok := resolveAbsolute(base, s.AttrOr("href", ""))
		if !ok || seen[u] {
			return
		}
		seen[u] = true
		hints = append(hints, u)
	})
	return hints
}

// ArticleLinks harvests post links from a site page for sources with no feed.
// Only links on the page's own host are returned, at most limit of them.
func ArticleLinks(page []byte, pageURL string, limit int) []string {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page))
	if err != nil {
		return nil
	}
	base, err := url.Parse(pageURL)
	if err != nil || base.Host == "" {
		return nil
	}
	self := strings.TrimSuffix(base.String(), "/")

	seen := make(map[string]bool)
	var links []string
	doc.Find("article a[href], h2 a[href], h3 a[href], .post-title a[href], .entry-title a[href]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		u, ok := resolveAbsolute(base, s.AttrOr("href", ""))
		if !ok {
			return true
		}
		parsed, err := url.Parse(u)
		if err != nil || !strings.EqualFold(parsed.Host, base.Host) {
			return true
		}
		parsed.Fragment = ""
		u = parsed.String()
		if strings.TrimSuffix(u, "/") == self || parsed.Path == "" || parsed.Path == "/" || seen[u] || isListingPath(parsed.Path) {
			return true
		}
		seen[u] = true
		links = append(links, u)
		return limit <= 0 || len(links) < limit
	})
	return links
}

func isListingPath(p string) bool {
	p = strings.ToLower(p)
	for _, part := range listingPathParts {
		if strings.Contains(p, part) {
			return true
		}
	}
	return false
}

func hasToken(list, token string) bool {
	for _, f := range strings.Fields(list) {
		if strings.EqualFold(f, token) {
			return true
		}
	}
	return false
}

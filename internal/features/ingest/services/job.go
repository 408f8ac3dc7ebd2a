package services

import (
	"bytes"
	"context"
	"io"
	"net/url"
	"path"
	"strings"
	"time"

	"feedflow/internal/core"
	"feedflow/internal/features/ingest/models"

	"golang.org/x/net/html/charset"
)

// IngesterConfig tunes a single ingestion job
type IngesterConfig struct {
	ExcerptLength      int
	ExtractFullContent bool
	MaxExtractPerJob   int
}

// Ingester runs the fetch, parse or extract, and dedup steps for one source.
// It is safe for concurrent use; every call works on its own data.
type Ingester struct {
	fetcher   Fetcher
	discovery *DiscoveryService
	extractor *ExtractorService
	dedup     *Deduplicator
	logger    *core.Logger
	config    IngesterConfig
}

// NewIngester creates a new ingester
func NewIngester(fetcher Fetcher, discovery *DiscoveryService, extractor *ExtractorService, dedup *Deduplicator, logger *core.Logger, config IngesterConfig) *Ingester {
	return &Ingester{
		fetcher:   fetcher,
		discovery: discovery,
		extractor: extractor,
		dedup:     dedup,
		logger:    logger,
		config:    config,
	}
}

// jobOutput is what a finished job hands back to the scheduler
type jobOutput struct {
	articles []models.CandidateArticle
	title    string
}

// Ingest produces the new articles of src. known is read only.
func (in *Ingester) Ingest(ctx context.Context, src models.Source, known models.HashSet, now time.Time) (jobOutput, error) {
	switch src.Kind {
	case models.KindWebsite:
		return in.ingestWebsite(ctx, src, known, now)
	default:
		return in.ingestFeed(ctx, src, src.URL, known, now)
	}
}

func (in *Ingester) ingestFeed(ctx context.Context, src models.Source, feedURL string, known models.HashSet, now time.Time) (jobOutput, error) {
	res, err := in.fetcher.Fetch(ctx, feedURL, models.FetchFeed)
	if err != nil {
		return jobOutput{}, err
	}
	return in.fromFeedBody(ctx, src, res, known, now)
}

func (in *Ingester) fromFeedBody(ctx context.Context, src models.Source, res *models.FetchResult, known models.HashSet, now time.Time) (jobOutput, error) {
	feed, err := ParseFeed(res.Body, firstNonEmpty(res.FinalURL, res.URL))
	if err != nil {
		return jobOutput{}, err
	}

	candidates := make([]models.CandidateArticle, 0, len(feed.Items))
	for _, item := range feed.Items {
		candidates = append(candidates, in.fromFeedItem(src.ID, item, now))
	}
	fresh := in.dedup.Filter(candidates, known)

	if in.config.ExtractFullContent {
		if err := in.enrich(ctx, fresh); err != nil {
			return jobOutput{}, err
		}
	}

	in.logger.Debug("Parsed feed", "source_id", src.ID, "items", len(feed.Items), "new", len(fresh))
	return jobOutput{articles: fresh, title: feed.Title}, nil
}

func (in *Ingester) fromFeedItem(sourceID string, item models.FeedItem, now time.Time) models.CandidateArticle {
	title := item.Title
	if title == "" {
		title = GenerateExcerpt(firstNonEmpty(item.Description, item.Content), 80)
	}

	c := models.CandidateArticle{
		SourceID:    sourceID,
		URL:         item.Link,
		Title:       title,
		ContentHTML: item.Content,
		Excerpt:     GenerateExcerpt(firstNonEmpty(item.Description, item.Content), in.config.ExcerptLength),
		Author:      item.Author,
		PublishedAt: now,
		ImageURL:    itemImage(item),
	}
	if item.PublishedAt != nil {
		c.PublishedAt = *item.PublishedAt
	}
	c.ContentHash = in.dedup.Hash(c.URL, c.Title)
	return c
}

// enrich replaces feed content with extracted page content for up to
// MaxExtractPerJob articles. A page that cannot be fetched or extracted keeps
// the feed's own excerpt.
func (in *Ingester) enrich(ctx context.Context, articles []models.CandidateArticle) error {
	for i := range articles {
		if i >= in.config.MaxExtractPerJob {
			break
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		a := &articles[i]
		content := in.extractPage(ctx, a.URL)
		if content == nil {
			continue
		}
		a.ContentHTML = content.ContentHTML
		if content.Excerpt != "" {
			a.Excerpt = content.Excerpt
		}
		if a.Author == "" {
			a.Author = content.Byline
		}
		if a.ImageURL == "" && len(content.Images) > 0 {
			a.ImageURL = content.Images[0]
		}
	}
	return ctx.Err()
}

// ingestWebsite prefers a discovered feed. Without one it harvests post links
// from the page, or treats the page itself as the article.
func (in *Ingester) ingestWebsite(ctx context.Context, src models.Source, known models.HashSet, now time.Time) (jobOutput, error) {
	res, err := in.fetcher.Fetch(ctx, src.URL, models.FetchPage)
	if err != nil {
		return jobOutput{}, err
	}
	if IsValidFeed(res.Body) {
		return in.fromFeedBody(ctx, src, res, known, now)
	}

	pageURL := firstNonEmpty(res.FinalURL, src.URL)
	page := decodeHTML(res)

	feeds, err := in.discovery.DiscoverFromHTML(ctx, pageURL, page)
	if err != nil {
		return jobOutput{}, err
	}
	if len(feeds) > 0 {
		in.logger.Debug("Using discovered feed", "source_id", src.ID, "feed", feeds[0])
		return in.ingestFeed(ctx, src, feeds[0], known, now)
	}

	var candidates []models.CandidateArticle
	links := ArticleLinks(page, pageURL, in.config.MaxExtractPerJob)
	if len(links) == 0 {
		if content := in.extractor.Extract(page, pageURL); content != nil {
			candidates = append(candidates, in.fromExtracted(src.ID, pageURL, content, now))
		}
	}
	for _, link := range links {
		if err := ctx.Err(); err != nil {
			return jobOutput{}, err
		}
		if content := in.extractPage(ctx, link); content != nil {
			candidates = append(candidates, in.fromExtracted(src.ID, link, content, now))
		}
	}
	if err := ctx.Err(); err != nil {
		return jobOutput{}, err
	}

	fresh := in.dedup.Filter(candidates, known)
	in.logger.Debug("Extracted website", "source_id", src.ID, "links", len(links), "new", len(fresh))
	return jobOutput{articles: fresh}, nil
}

func (in *Ingester) extractPage(ctx context.Context, pageURL string) *models.ExtractedContent {
	res, err := in.fetcher.Fetch(ctx, pageURL, models.FetchPage)
	if err != nil {
		in.logger.Debug("Article page unavailable", "url", pageURL, "error", err)
		return nil
	}
	return in.extractor.Extract(decodeHTML(res), firstNonEmpty(res.FinalURL, pageURL))
}

func (in *Ingester) fromExtracted(sourceID, pageURL string, content *models.ExtractedContent, now time.Time) models.CandidateArticle {
	c := models.CandidateArticle{
		SourceID:    sourceID,
		URL:         pageURL,
		Title:       firstNonEmpty(content.Title, pageURL),
		ContentHTML: content.ContentHTML,
		Excerpt:     content.Excerpt,
		Author:      content.Byline,
		PublishedAt: now,
	}
	if content.PublishedTime != nil {
		c.PublishedAt = *content.PublishedTime
	}
	if len(content.Images) > 0 {
		c.ImageURL = content.Images[0]
	}
	c.ContentHash = in.dedup.Hash(c.URL, c.Title)
	return c
}

var imageExtensions = map[string]bool{".jpg": true, ".jpeg": true, ".png": true, ".gif": true, ".webp": true, ".avif": true}

// itemImage picks an image enclosure, else the first image in the content
func itemImage(item models.FeedItem) string {
	if enc := item.Enclosure; enc != nil {
		if strings.HasPrefix(enc.Type, "image/") {
			return enc.URL
		}
		if enc.Type == "" {
			if u, err := url.Parse(enc.URL); err == nil && imageExtensions[strings.ToLower(path.Ext(u.Path))] {
				return enc.URL
			}
		}
	}
	if strings.Contains(item.Content, "<img") {
		if imgs := ExtractImages([]byte(item.Content), item.Link); len(imgs) > 0 {
			return imgs[0]
		}
	}
	return ""
}

// decodeHTML converts a page body to UTF-8 using its declared charset
func decodeHTML(res *models.FetchResult) []byte {
	r, err := charset.NewReader(bytes.NewReader(res.Body), res.ContentType)
	if err != nil {
		return res.Body
	}
	decoded, err := io.ReadAll(r)
	if err != nil {
		return res.Body
	}
	return decoded
}

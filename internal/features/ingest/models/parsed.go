package models

import (
	"time"
)

// Enclosure is a media attachment on a feed item
type Enclosure struct {
	URL    string `json:"url"`
	Type   string `json:"type"`
	Length int64  `json:"length"`
}

// FeedItem is one entry of a parsed RSS or Atom document
type FeedItem struct {
	Title       string     `json:"title"`
	Link        string     `json:"link"`
	Description string     `json:"description"`
	Content     string     `json:"content,omitempty"`
	Author      string     `json:"author,omitempty"`
	PublishedAt *time.Time `json:"published_at,omitempty"`
	GUID        string     `json:"guid,omitempty"`
	Enclosure   *Enclosure `json:"enclosure,omitempty"`
}

// RSSFeed is the normalized form of an RSS 1.0, RSS 2.0 or Atom document
type RSSFeed struct {
	Title         string     `json:"title"`
	Description   string     `json:"description"`
	Link          string     `json:"link"`
	Language      string     `json:"language,omitempty"`
	LastBuildDate *time.Time `json:"last_build_date,omitempty"`
	Items         []FeedItem `json:"items"`
}

// ExtractedContent is the main article pulled out of an HTML page
type ExtractedContent struct {
	Title              string     `json:"title"`
	ContentHTML        string     `json:"content_html"`
	TextContent        string     `json:"text_content"`
	Markdown           string     `json:"markdown,omitempty"`
	Excerpt            string     `json:"excerpt"`
	Byline             string     `json:"byline,omitempty"`
	SiteName           string     `json:"site_name,omitempty"`
	PublishedTime      *time.Time `json:"published_time,omitempty"`
	Images             []string   `json:"images"`
	ReadingTimeMinutes int        `json:"reading_time_minutes"`
	Language           string     `json:"language,omitempty"`
}

// FetchKind selects the Accept header of a fetch
type FetchKind int

const (
	FetchFeed FetchKind = iota
	FetchPage
)

func (k FetchKind) String() string {
	if k == FetchFeed {
		return "feed"
	}
	return "page"
}

// FetchResult is the body and metadata of a successful fetch
type FetchResult struct {
	URL         string
	FinalURL    string
	StatusCode  int
	ContentType string
	Body        []byte
}

// FetcherConfig holds configuration for the fetcher service
type FetcherConfig struct {
	UserAgent     string        `json:"user_agent"`
	Timeout       time.Duration `json:"timeout"`
	MaxRedirects  int           `json:"max_redirects"`
	HostSpacing   time.Duration `json:"host_spacing"`
	MaxAttempts   int           `json:"max_attempts"`
	RetryInterval time.Duration `json:"retry_interval"`
	MaxBodyBytes  int64         `json:"max_body_bytes"`
}

// DefaultFetcherConfig returns default fetcher configuration
func DefaultFetcherConfig() *FetcherConfig {
	return &FetcherConfig{
		UserAgent:     "Mozilla/5.0 (compatible; FeedFlow/1.0; +https://feedflow.app/bot)",
		Timeout:       15 * time.Second,
		MaxRedirects:  5,
		HostSpacing:   1 * time.Second,
		MaxAttempts:   4,
		RetryInterval: 500 * time.Millisecond,
		MaxBodyBytes:  10 << 20,
	}
}

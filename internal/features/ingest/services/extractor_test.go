package services

import (
	"strings"
	"testing"

	"feedflow/internal/core"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const articlePage = `<!DOCTYPE html>
<html lang="en-GB">
<head>
  <title>Site | Why gardens matter</title>
  <meta property="og:title" content="Why gardens matter">
  <meta property="og:site_name" content="Green Pages">
  <meta name="author" content="Jane Doe">
  <meta property="article:published_time" content="2024-03-01T09:30:00Z">
</head>
<body>
  <nav><a href="/">Home</a> <a href="/about">About</a></nav>
  <div class="sidebar"><p>Subscribe to our newsletter for weekly updates, offers, and more.</p></div>
  <div id="main" class="article-body">
    <h1>Why gardens matter</h1>
    <p>Gardens give cities room to breathe, shade streets in summer, and soak up rain that would otherwise overwhelm the drains after a storm.</p>
    <p>They also feed people, birds, and insects, and a single well kept plot can support dozens of species across the seasons of the year.</p>
    <img src="/img/garden.jpg" alt="A garden">
    <p>Most of all, gardens bring neighbours together, which is why so many councils now fund shared growing spaces on unused land.</p>
  </div>
  <footer><p>Copyright Green Pages. All rights reserved, forever and ever.</p></footer>
  <script>console.log("tracking")</script>
</body>
</html>`

func newTestExtractor() *ExtractorService {
	return NewExtractorService(core.NewDiscardLogger(), 200, 200)
}

func TestExtractArticle(t *testing.T) {
	got := newTestExtractor().Extract([]byte(articlePage), "https://green.example/posts/gardens")
	require.NotNil(t, got)

	assert.Equal(t, "Why gardens matter", got.Title)
	assert.Equal(t, "Jane Doe", got.Byline)
	assert.Equal(t, "Green Pages", got.SiteName)
	assert.Equal(t, "en-GB", got.Language)
	require.NotNil(t, got.PublishedTime)
	assert.Equal(t, 2024, got.PublishedTime.Year())

	assert.Contains(t, got.TextContent, "Gardens give cities room to breathe")
	assert.Contains(t, got.TextContent, "neighbours together")
	assert.NotContains(t, got.TextContent, "newsletter")
	assert.NotContains(t, got.TextContent, "Copyright")
	assert.NotContains(t, got.ContentHTML, "<script")

	assert.Equal(t, []string{"https://green.example/img/garden.jpg"}, got.Images)
	assert.NotEmpty(t, got.Excerpt)
	assert.GreaterOrEqual(t, got.ReadingTimeMinutes, 1)
	assert.Contains(t, got.Markdown, "Gardens give cities")
}

func TestExtractNoArticle(t *testing.T) {
	e := newTestExtractor()

	assert.Nil(t, e.Extract(nil, "https://example.com/"))
	assert.Nil(t, e.Extract([]byte("   "), "https://example.com/"))
	assert.Nil(t, e.Extract([]byte(`<html><body><p>Too short.</p></body></html>`), "https://example.com/"))
}

func TestExtractImages(t *testing.T) {
	page := `<html><body>
<img src="/a.png">
<img src="https://cdn.example.net/b.jpg">
<img src="data:image/png;base64,AAAA" data-src="lazy/c.webp">
<img src="">
<img src="/a.png">
</body></html>`

	got := ExtractImages([]byte(page), "https://example.com/blog/post")
	assert.Equal(t, []string{
		"https://example.com/a.png",
		"https://cdn.example.net/b.jpg",
		"https://example.com/lazy/c.webp",
		"https://example.com/a.png",
	}, got)
}

func TestExtractPublishedTimeOrder(t *testing.T) {
	page := `<html><head>
<meta name="date" content="2020-01-01">
<meta property="article:published_time" content="not a date">
</head><body><time datetime="2019-05-05T10:00:00Z">May 5</time></body></html>`

	doc := mustDocument(t, page)
	published := ExtractPublishedTime(doc.Selection)
	require.NotNil(t, published)
	assert.Equal(t, 2020, published.Year())
}

func TestLinkDensity(t *testing.T) {
	doc := mustDocument(t, `<div id="x"><a href="/1">one</a> <a href="/2">two</a> plain</div>`)
	d := linkDensity(doc.Find("#x"))
	assert.InDelta(t, 6.0/13.0, d, 0.01)

	empty := mustDocument(t, `<div id="x"></div>`)
	assert.Equal(t, 0.0, linkDensity(empty.Find("#x")))
}

func mustDocument(t *testing.T, page string) *goquery.Document {
	t.Helper()
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(page))
	require.NoError(t, err)
	return doc
}

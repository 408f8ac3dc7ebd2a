package services

import (
	"bytes"
	"math"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"feedflow/internal/core"
	"feedflow/internal/features/ingest/models"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"
	readability "github.com/go-shiori/go-readability"
	"golang.org/x/net/html"
)

// Pages whose best block has less text than this are treated as having no
// article.
const minContentLength = 140

const boilerplateSelector = "script, style, noscript, iframe, nav, footer, aside, form, button, select, input, textarea, svg, canvas, template, object, embed, link"

var (
	unlikelyCandidates = regexp.MustCompile(`(?i)-ad-|ai2html|banner|breadcrumbs|combx|comment|community|cookie|cover-wrap|disqus|extra|footer|gdpr|header|legends|menu|newsletter|related|remark|replies|rss|share|shoutbox|sidebar|skyscraper|social|sponsor|subscribe|supplemental|ad-break|agegate|pagination|pager|popup|yom-remote`)
	maybeCandidate     = regexp.MustCompile(`(?i)and|article|body|column|content|main|shadow`)
	positiveWeight     = regexp.MustCompile(`(?i)article|body|content|entry|hentry|h-entry|main|page|post|text|blog|story`)
	negativeWeight     = regexp.MustCompile(`(?i)-ad-|hidden|^hid$| hid$| hid |^hid |banner|combx|comment|com-|contact|foot|footer|footnote|gdpr|masthead|media|meta|outbrain|promo|related|scroll|share|shoutbox|sidebar|skyscraper|sponsor|shopping|tags|tool|widget`)
	sentenceEnd        = regexp.MustCompile(`\.( |$)`)
)

// publishedSelectors are tried in order; the first parseable value wins.
var publishedSelectors = []struct {
	selector string
	attr     string
}{
	{`meta[property="article:published_time"]`, "content"},
	{`meta[name="pubdate"]`, "content"},
	{`meta[name="date"]`, "content"},
	{`time[datetime]`, "datetime"},
}

// ExtractorService pulls the main article out of an HTML page
type ExtractorService struct {
	logger         *core.Logger
	excerptLength  int
	wordsPerMinute int

	mu        sync.Mutex
	converter *md.Converter
}

// NewExtractorService creates a new extractor service
func NewExtractorService(logger *core.Logger, excerptLength, wordsPerMinute int) *ExtractorService {
	return &ExtractorService{
		logger:         logger,
		excerptLength:  excerptLength,
		wordsPerMinute: wordsPerMinute,
		converter:      md.NewConverter("", true, nil),
	}
}

type scoredNode struct {
	sel   *goquery.Selection
	score float64
}

// Extract returns the article content of page, or nil when the page is not
// HTML or has no identifiable main block. baseURL resolves image sources.
func (e *ExtractorService) Extract(page []byte, baseURL string) *models.ExtractedContent {
	if len(bytes.TrimSpace(page)) == 0 {
		return nil
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page))
	if err != nil {
		return nil
	}

	result := &models.ExtractedContent{
		Title:         extractTitle(doc),
		Byline:        extractByline(doc),
		SiteName:      metaContent(doc, `meta[property="og:site_name"]`, `meta[name="application-name"]`),
		PublishedTime: ExtractPublishedTime(doc.Selection),
		Language:      extractLanguage(doc),
	}
	leadImage := metaContent(doc, `meta[property="og:image"]`, `meta[name="twitter:image"]`)

	removeBoilerplate(doc)

	parts := findArticleBlock(doc)
	if parts == nil {
		return e.fallback(page, baseURL, result, leadImage)
	}

	var contentHTML strings.Builder
	var texts []string
	for _, part := range parts {
		pruneLinkLists(part)
		if h, err := goquery.OuterHtml(part); err == nil {
			contentHTML.WriteString(h)
		}
		if t := normalizeSpace(part.Text()); t != "" {
			texts = append(texts, t)
		}
	}
	text := strings.Join(texts, " ")
	if utf8.RuneCountInString(text) < minContentLength {
		return e.fallback(page, baseURL, result, leadImage)
	}

	result.ContentHTML = "<div>" + contentHTML.String() + "</div>"
	result.TextContent = text
	result.Images = collectImages(parts, baseURL)
	if len(result.Images) == 0 {
		if img, ok := resolveImage(originOf(baseURL), leadImage); ok {
			result.Images = []string{img}
		}
	}
	e.finish(result)
	return result
}

// fallback asks go-readability for a second opinion on pages the scorer
// could not handle.
func (e *ExtractorService) fallback(page []byte, baseURL string, result *models.ExtractedContent, leadImage string) *models.ExtractedContent {
	base, _ := url.Parse(baseURL)
	article, err := readability.FromReader(bytes.NewReader(page), base)
	if err != nil {
		e.logger.Debug("No article block found", "url", baseURL, "error", err)
		return nil
	}

	text := strings.TrimSpace(article.TextContent)
	if utf8.RuneCountInString(normalizeSpace(text)) < minContentLength {
		e.logger.Debug("No article block found", "url", baseURL)
		return nil
	}

	if result.Title == "" {
		result.Title = strings.TrimSpace(article.Title)
	}
	result.ContentHTML = paragraphsToHTML(text)
	result.TextContent = normalizeSpace(text)
	result.Images = []string{}
	if img, ok := resolveImage(originOf(baseURL), leadImage); ok {
		result.Images = append(result.Images, img)
	}
	e.finish(result)
	return result
}

func (e *ExtractorService) finish(result *models.ExtractedContent) {
	result.Excerpt = GenerateExcerpt(result.TextContent, e.excerptLength)
	result.ReadingTimeMinutes = ReadingTime(result.TextContent, e.wordsPerMinute)

	e.mu.Lock()
	markdown, err := e.converter.ConvertString(result.ContentHTML)
	e.mu.Unlock()
	if err == nil {
		result.Markdown = strings.TrimSpace(markdown)
	}
}

func removeBoilerplate(doc *goquery.Document) {
	doc.Find(boilerplateSelector).Remove()
	doc.Find("header").FilterFunction(func(_ int, s *goquery.Selection) bool {
		return s.Closest("article, main").Length() == 0
	}).Remove()
	doc.Find(`[role="navigation"], [role="complementary"], [role="banner"], [role="contentinfo"], [aria-hidden="true"]`).Remove()

	doc.Find("body *").Each(func(_ int, s *goquery.Selection) {
		switch goquery.NodeName(s) {
		case "article", "main", "body", "a", "p":
			return
		}
		match := strings.TrimSpace(s.AttrOr("class", "") + " " + s.AttrOr("id", ""))
		if match == "" {
			return
		}
		if unlikelyCandidates.MatchString(match) && !maybeCandidate.MatchString(match) {
			s.Remove()
		}
	})
}

// findArticleBlock scores paragraph containers and returns the best one
// together with the siblings that look like part of the same article.
func findArticleBlock(doc *goquery.Document) []*goquery.Selection {
	candidates := make(map[*html.Node]*scoredNode)
	var order []*html.Node

	add := func(sel *goquery.Selection, score float64) {
		if sel.Length() == 0 {
			return
		}
		n := sel.Get(0)
		if n.Type != html.ElementNode || n.Data == "html" {
			return
		}
		c, ok := candidates[n]
		if !ok {
			c = &scoredNode{sel: sel, score: initialScore(sel)}
			candidates[n] = c
			order = append(order, n)
		}
		c.score += score
	}

	doc.Find("p, pre, td, blockquote").Each(func(_ int, p *goquery.Selection) {
		text := normalizeSpace(p.Text())
		length := utf8.RuneCountInString(text)
		if length < 25 {
			return
		}
		score := 1 + float64(strings.Count(text, ",")) + math.Min(float64(length)/100, 3)
		parent := p.Parent()
		add(parent, score)
		add(parent.Parent(), score/2)
	})

	var best *scoredNode
	for _, n := range order {
		c := candidates[n]
		c.score *= 1 - linkDensity(c.sel)
		if best == nil || c.score > best.score {
			best = c
		}
	}
	if best == nil || best.score <= 0 {
		return nil
	}

	parent := best.sel.Parent()
	if parent.Length() == 0 || goquery.NodeName(parent) == "html" {
		return []*goquery.Selection{best.sel}
	}

	threshold := math.Max(10, best.score*0.2)
	topNode := best.sel.Get(0)
	topClass := best.sel.AttrOr("class", "")

	var parts []*goquery.Selection
	parent.Children().Each(func(_ int, sib *goquery.Selection) {
		n := sib.Get(0)
		if n == topNode {
			parts = append(parts, sib)
			return
		}

		bonus := 0.0
		if topClass != "" && sib.AttrOr("class", "") == topClass {
			bonus = best.score * 0.2
		}
		if c, ok := candidates[n]; ok && c.score+bonus >= threshold {
			parts = append(parts, sib)
			return
		}

		if goquery.NodeName(sib) == "p" {
			text := normalizeSpace(sib.Text())
			length := utf8.RuneCountInString(text)
			density := linkDensity(sib)
			switch {
			case length > 80 && density < 0.25:
				parts = append(parts, sib)
			case length > 0 && length <= 80 && density == 0 && sentenceEnd.MatchString(text):
				parts = append(parts, sib)
			}
		}
	})
	return parts
}

func initialScore(sel *goquery.Selection) float64 {
	score := classWeight(sel)
	switch goquery.NodeName(sel) {
	case "div", "article", "main", "section":
		score += 5
	case "pre", "td", "blockquote":
		score += 3
	case "address", "ol", "ul", "dl", "dd", "dt", "li", "form":
		score -= 3
	case "h1", "h2", "h3", "h4", "h5", "h6", "th":
		score -= 5
	}
	return score
}

func classWeight(sel *goquery.Selection) float64 {
	weight := 0.0
	for _, attr := range []string{"class", "id"} {
		v := sel.AttrOr(attr, "")
		if v == "" {
			continue
		}
		if negativeWeight.MatchString(v) {
			weight -= 25
		}
		if positiveWeight.MatchString(v) {
			weight += 25
		}
	}
	return weight
}

// linkDensity is the share of a node's text that sits inside links
func linkDensity(sel *goquery.Selection) float64 {
	total := utf8.RuneCountInString(normalizeSpace(sel.Text()))
	if total == 0 {
		return 0
	}
	linked := 0
	sel.Find("a").Each(func(_ int, a *goquery.Selection) {
		linked += utf8.RuneCountInString(normalizeSpace(a.Text()))
	})
	return math.Min(float64(linked)/float64(total), 1)
}

// pruneLinkLists drops link farms left inside the article block
func pruneLinkLists(sel *goquery.Selection) {
	sel.Find("ul, ol, div, table").Each(func(_ int, s *goquery.Selection) {
		if utf8.RuneCountInString(normalizeSpace(s.Text())) < 250 && linkDensity(s) > 0.5 {
			s.Remove()
		}
	})
}

func extractTitle(doc *goquery.Document) string {
	if t := metaContent(doc, `meta[property="og:title"]`, `meta[name="twitter:title"]`); t != "" {
		return t
	}
	if h1 := doc.Find("h1"); h1.Length() == 1 {
		if t := normalizeSpace(h1.Text()); t != "" {
			return t
		}
	}
	return normalizeSpace(doc.Find("title").First().Text())
}

func extractByline(doc *goquery.Document) string {
	if a := metaContent(doc, `meta[name="author"]`, `meta[property="article:author"]`); a != "" && !strings.HasPrefix(a, "http") {
		return a
	}
	var byline string
	doc.Find(`[rel="author"], [itemprop="author"], .byline, .author`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		t := normalizeSpace(s.Text())
		if t != "" && utf8.RuneCountInString(t) < 100 {
			byline = strings.TrimPrefix(t, "By ")
			return false
		}
		return true
	})
	return byline
}

func extractLanguage(doc *goquery.Document) string {
	if lang := strings.TrimSpace(doc.Find("html").AttrOr("lang", "")); lang != "" {
		return lang
	}
	var lang string
	doc.Find("meta[http-equiv]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if strings.EqualFold(s.AttrOr("http-equiv", ""), "content-language") {
			lang = strings.TrimSpace(s.AttrOr("content", ""))
			return lang == ""
		}
		return true
	})
	if lang != "" {
		return lang
	}
	return strings.ReplaceAll(metaContent(doc, `meta[property="og:locale"]`), "_", "-")
}

// ExtractPublishedTime returns the first parseable publication date found in
// the page metadata.
func ExtractPublishedTime(doc *goquery.Selection) *time.Time {
	for _, ps := range publishedSelectors {
		var found *time.Time
		doc.Find(ps.selector).EachWithBreak(func(_ int, s *goquery.Selection) bool {
			if t, ok := ParseDate(s.AttrOr(ps.attr, "")); ok {
				found = &t
				return false
			}
			return true
		})
		if found != nil {
			return found
		}
	}
	return nil
}

// ExtractImages lists every <img> source in page, resolved against the
// origin of baseURL, in document order. Duplicates are kept.
func ExtractImages(page []byte, baseURL string) []string {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page))
	if err != nil {
		return nil
	}
	return collectImages([]*goquery.Selection{doc.Selection}, baseURL)
}

func collectImages(parts []*goquery.Selection, baseURL string) []string {
	origin := originOf(baseURL)
	images := []string{}
	for _, part := range parts {
		imgs := part.Find("img")
		if goquery.NodeName(part) == "img" {
			imgs = part
		}
		imgs.Each(func(_ int, img *goquery.Selection) {
			src := strings.TrimSpace(img.AttrOr("src", ""))
			if src == "" || strings.HasPrefix(src, "data:") {
				src = firstNonEmpty(img.AttrOr("data-src", ""), img.AttrOr("data-original", ""))
			}
			if u, ok := resolveImage(origin, src); ok {
				images = append(images, u)
			}
		})
	}
	return images
}

func originOf(baseURL string) *url.URL {
	u, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil || u.Host == "" {
		return nil
	}
	return &url.URL{Scheme: u.Scheme, Host: u.Host, Path: "/"}
}

func resolveImage(origin *url.URL, src string) (string, bool) {
	src = strings.TrimSpace(src)
	if src == "" || strings.HasPrefix(src, "data:") {
		return "", false
	}
	return resolveAbsolute(origin, src)
}

func metaContent(doc *goquery.Document, selectors ...string) string {
	for _, sel := range selectors {
		if v := normalizeSpace(doc.Find(sel).First().AttrOr("content", "")); v != "" {
			return v
		}
	}
	return ""
}

func paragraphsToHTML(text string) string {
	var b strings.Builder
	b.WriteString("<div>")
	for _, para := range strings.Split(text, "\n") {
		para = normalizeSpace(para)
		if para == "" {
			continue
		}
		b.WriteString("<p>")
		b.WriteString(html.EscapeString(para))
		b.WriteString("</p>")
	}
	b.WriteString("</div>")
	return b.String()
}

func normalizeSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

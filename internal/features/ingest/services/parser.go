package services

import (
	"bytes"
	"encoding/xml"
	"errors"
	"html"
	"io"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"feedflow/internal/features/ingest/models"

	"golang.org/x/net/html/charset"
)

const (
	nsAtom = "http://www.w3.org/2005/Atom"
	nsRDF  = "http://www.w3.org/1999/02/22-rdf-syntax-ns#"
)

// RSS 2.0 and RSS 1.0 share item and channel shapes closely enough to use one
// set of structs. Atom gets its own.
type rssDocument struct {
	Channel rssChannel `xml:"channel"`
}

type rdfDocument struct {
	Channel rssChannel `xml:"channel"`
	Items   []rssItem  `xml:"item"`
}

type rssChannel struct {
	Title          string    `xml:"title"`
	Description    string    `xml:"description"`
	Links          []xmlLink `xml:"link"`
	Language       string    `xml:"language"`
	LastBuildDate  string    `xml:"lastBuildDate"`
	PubDate        string    `xml:"pubDate"`
	ManagingEditor string    `xml:"managingEditor"`
	Creator        string    `xml:"http://purl.org/dc/elements/1.1/ creator"`
	DCDate         string    `xml:"http://purl.org/dc/elements/1.1/ date"`
	DCLanguage     string    `xml:"http://purl.org/dc/elements/1.1/ language"`
	ItunesAuthor   string    `xml:"http://www.itunes.com/dtds/podcast-1.0.dtd author"`
	Items          []rssItem `xml:"item"`
}

type rssItem struct {
	Title       string         `xml:"title"`
	Links       []xmlLink      `xml:"link"`
	Description string         `xml:"description"`
	Encoded     string         `xml:"http://purl.org/rss/1.0/modules/content/ encoded"`
	Authors     []xmlText      `xml:"author"`
	Creator     string         `xml:"http://purl.org/dc/elements/1.1/ creator"`
	PubDate     string         `xml:"pubDate"`
	DCDate      string         `xml:"http://purl.org/dc/elements/1.1/ date"`
	GUID        rssGUID        `xml:"guid"`
	About       string         `xml:"http://www.w3.org/1999/02/22-rdf-syntax-ns# about,attr"`
	Enclosure   *rssEnclosure  `xml:"enclosure"`
	Media       []mediaContent `xml:"http://search.yahoo.com/mrss/ content"`
	Thumbnails  []mediaContent `xml:"http://search.yahoo.com/mrss/ thumbnail"`
	Groups      []mediaGroup   `xml:"http://search.yahoo.com/mrss/ group"`
}

type rssGUID struct {
	Value       string `xml:",chardata"`
	IsPermaLink string `xml:"isPermaLink,attr"`
}

type rssEnclosure struct {
	URL    string `xml:"url,attr"`
	Type   string `xml:"type,attr"`
	Length string `xml:"length,attr"`
}

type mediaContent struct {
	URL    string `xml:"url,attr"`
	Type   string `xml:"type,attr"`
	Medium string `xml:"medium,attr"`
}

type mediaGroup struct {
	Contents   []mediaContent `xml:"http://search.yahoo.com/mrss/ content"`
	Thumbnails []mediaContent `xml:"http://search.yahoo.com/mrss/ thumbnail"`
}

// xmlLink matches both RSS <link>text</link> and <atom:link href=""/>.
type xmlLink struct {
	XMLName xml.Name
	Href    string `xml:"href,attr"`
	Rel     string `xml:"rel,attr"`
	Type    string `xml:"type,attr"`
	Length  string `xml:"length,attr"`
	Text    string `xml:",chardata"`
}

type xmlText struct {
	XMLName xml.Name
	Text    string `xml:",chardata"`
}

type atomFeed struct {
	Lang     string       `xml:"http://www.w3.org/XML/1998/namespace lang,attr"`
	Title    atomText     `xml:"title"`
	Subtitle atomText     `xml:"subtitle"`
	Links    []xmlLink    `xml:"link"`
	Updated  string       `xml:"updated"`
	Authors  []atomPerson `xml:"author"`
	Entries  []atomEntry  `xml:"entry"`
}

type atomEntry struct {
	Title     atomText       `xml:"title"`
	Links     []xmlLink      `xml:"link"`
	ID        string         `xml:"id"`
	Published string         `xml:"published"`
	Updated   string         `xml:"updated"`
	Authors   []atomPerson   `xml:"author"`
	Summary   atomText       `xml:"summary"`
	Content   atomText       `xml:"content"`
	Thumbnail []mediaContent `xml:"http://search.yahoo.com/mrss/ thumbnail"`
}

type atomText struct {
	Type  string `xml:"type,attr"`
	Text  string `xml:",chardata"`
	Inner string `xml:",innerxml"`
}

// Value returns markup for xhtml content and the decoded text otherwise.
func (t atomText) Value() string {
	if t.Type == "xhtml" {
		return strings.TrimSpace(t.Inner)
	}
	return strings.TrimSpace(t.Text)
}

type atomPerson struct {
	Name  string `xml:"name"`
	Email string `xml:"email"`
}

var (
	bom              = []byte("\xef\xbb\xbf")
	whitespaceRun    = regexp.MustCompile(`\s+`)
	emailWithName    = regexp.MustCompile(`^\S+@\S+\s+\((.+)\)$`)
	errEmptyDocument = errors.New("empty document")
)

func newXMLDecoder(data []byte) *xml.Decoder {
	data = bytes.TrimPrefix(data, bom)
	data = bytes.TrimLeft(data, " \t\r\n")
	d := xml.NewDecoder(bytes.NewReader(data))
	d.CharsetReader = charset.NewReaderLabel
	d.Strict = false
	d.Entity = xml.HTMLEntity
	return d
}

// rootElement returns the first start element of the document
func rootElement(d *xml.Decoder) (xml.StartElement, error) {
	for {
		tok, err := d.Token()
		if err != nil {
			if err == io.EOF {
				return xml.StartElement{}, errEmptyDocument
			}
			return xml.StartElement{}, err
		}
		if se, ok := tok.(xml.StartElement); ok {
			return se, nil
		}
	}
}

func isFeedRoot(name xml.Name) bool {
	switch name.Local {
	case "rss":
		return true
	case "RDF":
		return name.Space == nsRDF
	case "feed":
		return name.Space == nsAtom || name.Space == ""
	}
	return false
}

// IsValidFeed reports whether data looks like RSS or Atom by its root element
// alone. It does not parse the items.
func IsValidFeed(data []byte) bool {
	root, err := rootElement(newXMLDecoder(data))
	if err != nil {
		return false
	}
	return isFeedRoot(root.Name)
}

// Parse parses an RSS or Atom document with no base URL. Items whose links
// are relative are dropped.
func Parse(data []byte) (*models.RSSFeed, error) {
	return ParseFeed(data, "")
}

// ParseFeed parses RSS 2.0, RSS 1.0 or Atom. Relative item links resolve
// against baseURL, normally the URL the document was fetched from.
func ParseFeed(data []byte, baseURL string) (*models.RSSFeed, error) {
	d := newXMLDecoder(data)
	root, err := rootElement(d)
	if err != nil {
		if errors.Is(err, errEmptyDocument) {
			return nil, &ParseError{Reason: "empty document"}
		}
		return nil, &ParseError{Reason: "malformed XML", Err: err}
	}
	if !isFeedRoot(root.Name) {
		return nil, &ParseError{Reason: "unsupported root element <" + root.Name.Local + ">"}
	}

	var base *url.URL
	if baseURL != "" {
		base, _ = url.Parse(baseURL)
	}

	switch root.Name.Local {
	case "rss":
		var doc rssDocument
		if err := d.DecodeElement(&doc, &root); err != nil {
			return nil, &ParseError{Reason: "malformed RSS", Err: err}
		}
		return convertRSS(&doc.Channel, doc.Channel.Items, base), nil
	case "RDF":
		var doc rdfDocument
		if err := d.DecodeElement(&doc, &root); err != nil {
			return nil, &ParseError{Reason: "malformed RDF", Err: err}
		}
		items := doc.Items
		if len(items) == 0 {
			items = doc.Channel.Items
		}
		return convertRSS(&doc.Channel, items, base), nil
	default:
		var doc atomFeed
		if err := d.DecodeElement(&doc, &root); err != nil {
			return nil, &ParseError{Reason: "malformed Atom", Err: err}
		}
		return convertAtom(&doc, base), nil
	}
}

func convertRSS(ch *rssChannel, items []rssItem, base *url.URL) *models.RSSFeed {
	feed := &models.RSSFeed{
		Title:       cleanText(ch.Title),
		Description: strings.TrimSpace(ch.Description),
		Link:        channelLink(ch.Links),
		Language:    firstNonEmpty(ch.Language, ch.DCLanguage),
	}
	if t, ok := ParseDate(firstNonEmpty(ch.LastBuildDate, ch.PubDate, ch.DCDate)); ok {
		feed.LastBuildDate = &t
	}
	if base == nil && feed.Link != "" {
		base, _ = url.Parse(feed.Link)
	}

	feedAuthor := cleanAuthor(firstNonEmpty(ch.ManagingEditor, ch.Creator, ch.ItunesAuthor))

	feed.Items = make([]models.FeedItem, 0, len(items))
	for i := range items {
		it := &items[i]

		guid := strings.TrimSpace(it.GUID.Value)
		rawLink := itemLink(it.Links)
		if rawLink == "" && guid != "" && !strings.EqualFold(it.GUID.IsPermaLink, "false") {
			rawLink = guid
		}
		if rawLink == "" {
			rawLink = it.About
		}
		link, ok := resolveAbsolute(base, rawLink)
		if !ok {
			continue
		}

		item := models.FeedItem{
			Title:       cleanText(it.Title),
			Link:        link,
			Description: strings.TrimSpace(it.Description),
			Content:     firstNonEmpty(strings.TrimSpace(it.Encoded), strings.TrimSpace(it.Description)),
			Author:      firstNonEmpty(cleanAuthor(rssItemAuthor(it)), feedAuthor),
			GUID:        guid,
			Enclosure:   rssEnclosureOf(it, base),
		}
		if t, ok := ParseDate(firstNonEmpty(it.PubDate, it.DCDate)); ok {
			item.PublishedAt = &t
		}
		feed.Items = append(feed.Items, item)
	}
	return feed
}

func convertAtom(doc *atomFeed, base *url.URL) *models.RSSFeed {
	feed := &models.RSSFeed{
		Title:       cleanText(doc.Title.Value()),
		Description: doc.Subtitle.Value(),
		Link:        atomLink(doc.Links, "alternate"),
		Language:    doc.Lang,
	}
	if t, ok := ParseDate(doc.Updated); ok {
		feed.LastBuildDate = &t
	}
	if base == nil && feed.Link != "" {
		base, _ = url.Parse(feed.Link)
	}

	feedAuthor := ""
	if len(doc.Authors) > 0 {
		feedAuthor = strings.TrimSpace(doc.Authors[0].Name)
	}

	feed.Items = make([]models.FeedItem, 0, len(doc.Entries))
	for i := range doc.Entries {
		e := &doc.Entries[i]

		link, ok := resolveAbsolute(base, atomLink(e.Links, "alternate"))
		if !ok {
			continue
		}

		summary := e.Summary.Value()
		item := models.FeedItem{
			Title:       cleanText(e.Title.Value()),
			Link:        link,
			Description: summary,
			Content:     firstNonEmpty(e.Content.Value(), summary),
			Author:      feedAuthor,
			GUID:        strings.TrimSpace(e.ID),
		}
		if len(e.Authors) > 0 && strings.TrimSpace(e.Authors[0].Name) != "" {
			item.Author = strings.TrimSpace(e.Authors[0].Name)
		}
		if t, ok := ParseDate(firstNonEmpty(e.Published, e.Updated)); ok {
			item.PublishedAt = &t
		}
		for _, l := range e.Links {
			if l.Rel == "enclosure" {
				if u, ok := resolveAbsolute(base, l.Href); ok {
					length, _ := strconv.ParseInt(l.Length, 10, 64)
					item.Enclosure = &models.Enclosure{URL: u, Type: l.Type, Length: length}
					break
				}
			}
		}
		if item.Enclosure == nil {
			item.Enclosure = mediaEnclosure(nil, e.Thumbnail, base)
		}
		feed.Items = append(feed.Items, item)
	}
	return feed
}

// channelLink prefers the plain RSS <link> over atom:link self references.
func channelLink(links []xmlLink) string {
	for _, l := range links {
		if l.XMLName.Space != nsAtom && strings.TrimSpace(l.Text) != "" {
			return strings.TrimSpace(l.Text)
		}
	}
	return atomLink(links, "alternate")
}

func itemLink(links []xmlLink) string {
	for _, l := range links {
		if l.XMLName.Space != nsAtom && strings.TrimSpace(l.Text) != "" {
			return strings.TrimSpace(l.Text)
		}
	}
	for _, l := range links {
		if l.Href != "" && (l.Rel == "" || l.Rel == "alternate") {
			return strings.TrimSpace(l.Href)
		}
	}
	return ""
}

// atomLink returns the href of the first link with rel (an absent rel means
// alternate), falling back to the first link with any href.
func atomLink(links []xmlLink, rel string) string {
	for _, l := range links {
		r := l.Rel
		if r == "" {
			r = "alternate"
		}
		if r == rel && l.Href != "" {
			return strings.TrimSpace(l.Href)
		}
	}
	for _, l := range links {
		if l.Href != "" && l.Rel != "self" && l.Rel != "enclosure" {
			return strings.TrimSpace(l.Href)
		}
	}
	return ""
}

func rssItemAuthor(it *rssItem) string {
	for _, a := range it.Authors {
		if a.XMLName.Space == "" && strings.TrimSpace(a.Text) != "" {
			return a.Text
		}
	}
	if strings.TrimSpace(it.Creator) != "" {
		return it.Creator
	}
	for _, a := range it.Authors {
		if strings.TrimSpace(a.Text) != "" {
			return a.Text
		}
	}
	return ""
}

func rssEnclosureOf(it *rssItem, base *url.URL) *models.Enclosure {
	if it.Enclosure != nil {
		if u, ok := resolveAbsolute(base, it.Enclosure.URL); ok {
			length, _ := strconv.ParseInt(strings.TrimSpace(it.Enclosure.Length), 10, 64)
			return &models.Enclosure{URL: u, Type: strings.TrimSpace(it.Enclosure.Type), Length: length}
		}
	}
	media := it.Media
	thumbs := it.Thumbnails
	for _, g := range it.Groups {
		media = append(media, g.Contents...)
		thumbs = append(thumbs, g.Thumbnails...)
	}
	return mediaEnclosure(media, thumbs, base)
}

// mediaEnclosure turns the first Media RSS image into an enclosure
func mediaEnclosure(contents, thumbnails []mediaContent, base *url.URL) *models.Enclosure {
	for _, m := range contents {
		if m.Medium == "image" || strings.HasPrefix(m.Type, "image/") {
			if u, ok := resolveAbsolute(base, m.URL); ok {
				return &models.Enclosure{URL: u, Type: firstNonEmpty(m.Type, "image/*")}
			}
		}
	}
	for _, m := range thumbnails {
		if u, ok := resolveAbsolute(base, m.URL); ok {
			return &models.Enclosure{URL: u, Type: firstNonEmpty(m.Type, "image/*")}
		}
	}
	return nil
}

// resolveAbsolute resolves ref against base and accepts only http(s) results
func resolveAbsolute(base *url.URL, ref string) (string, bool) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", false
	}
	u, err := url.Parse(ref)
	if err != nil {
		return "", false
	}
	if !u.IsAbs() {
		if base == nil || !base.IsAbs() {
			return "", false
		}
		u = base.ResolveReference(u)
	}
	if u.Scheme != "http" && u.Scheme != "https" || u.Host == "" {
		return "", false
	}
	return u.String(), true
}

func cleanText(s string) string {
	s = html.UnescapeString(s)
	return strings.TrimSpace(whitespaceRun.ReplaceAllString(s, " "))
}

// cleanAuthor turns "jane@example.com (Jane Doe)" into "Jane Doe"
func cleanAuthor(s string) string {
	s = cleanText(s)
	if m := emailWithName.FindStringSubmatch(s); m != nil {
		return strings.TrimSpace(m[1])
	}
	return s
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

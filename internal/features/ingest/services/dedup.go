package services

import (
	"encoding/hex"
	"net/url"
	"sort"
	"strings"

	"feedflow/internal/features/ingest/models"

	"golang.org/x/crypto/blake2b"
)

// DefaultTrackingParams are query parameters that never identify content.
// Entries ending in "_" match as prefixes.
var DefaultTrackingParams = []string{
	"utm_",
	"fbclid",
	"gclid",
	"dclid",
	"msclkid",
	"yclid",
	"mc_cid",
	"mc_eid",
	"igshid",
	"_hsenc",
	"_hsmi",
	"mkt_tok",
	"ref",
	"ref_src",
}

// Deduplicator fingerprints candidates and drops the ones already known.
// It holds no state between calls.
type Deduplicator struct {
	exact    map[string]struct{}
	prefixes []string
}

// NewDeduplicator builds a deduplicator stripping params. Nil uses
// DefaultTrackingParams.
func NewDeduplicator(params []string) *Deduplicator {
	if params == nil {
		params = DefaultTrackingParams
	}
	d := &Deduplicator{exact: make(map[string]struct{})}
	for _, p := range params {
		p = strings.ToLower(strings.TrimSpace(p))
		switch {
		case p == "":
		case strings.HasSuffix(p, "_") || strings.HasSuffix(p, "*"):
			d.prefixes = append(d.prefixes, strings.TrimSuffix(p, "*"))
		default:
			d.exact[p] = struct{}{}
		}
	}
	return d
}

func (d *Deduplicator) isTracking(key string) bool {
	key = strings.ToLower(key)
	if _, ok := d.exact[key]; ok {
		return true
	}
	for _, p := range d.prefixes {
		if strings.HasPrefix(key, p) {
			return true
		}
	}
	return false
}

// NormalizeURL lowercases scheme and host, drops default ports, the fragment
// and tracking parameters, and sorts what is left of the query. Unparseable
// input is returned trimmed.
func (d *Deduplicator) NormalizeURL(raw string) string {
	raw = strings.TrimSpace(raw)
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}

	u.Scheme = strings.ToLower(u.Scheme)
	host := strings.ToLower(u.Hostname())
	port := u.Port()
	if (u.Scheme == "http" && port == "80") || (u.Scheme == "https" && port == "443") {
		port = ""
	}
	if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}
	if port != "" {
		host = host + ":" + port
	}
	u.Host = host
	u.Fragment = ""
	u.RawFragment = ""

	if u.RawQuery != "" {
		q := u.Query()
		for key := range q {
			if d.isTracking(key) {
				q.Del(key)
			}
		}
		for _, vals := range q {
			sort.Strings(vals)
		}
		u.RawQuery = q.Encode()
	}
	u.ForceQuery = false

	if u.Path == "" && u.Host != "" {
		u.Path = "/"
	}
	return u.String()
}

// NormalizeTitle trims, collapses whitespace and lowercases
func NormalizeTitle(title string) string {
	return strings.ToLower(strings.Join(strings.Fields(title), " "))
}

// Hash fingerprints the normalized URL and title with BLAKE2b-256
func (d *Deduplicator) Hash(rawURL, title string) models.ContentHash {
	sum := blake2b.Sum256([]byte(d.NormalizeURL(rawURL) + "\n" + NormalizeTitle(title)))
	return models.ContentHash(hex.EncodeToString(sum[:]))
}

// Classify reports whether the candidate's hash is already known. A missing
// ContentHash is computed from the URL and title.
func (d *Deduplicator) Classify(c models.CandidateArticle, known models.HashSet) models.Classification {
	if known.Has(d.hashOf(c)) {
		return models.Duplicate
	}
	return models.New
}

func (d *Deduplicator) hashOf(c models.CandidateArticle) models.ContentHash {
	if c.ContentHash != "" {
		return c.ContentHash
	}
	return d.Hash(c.URL, c.Title)
}

// Filter returns the new candidates in input order. Repeats inside the batch
// count as duplicates of their first occurrence. known is not modified.
func (d *Deduplicator) Filter(candidates []models.CandidateArticle, known models.HashSet) []models.CandidateArticle {
	seen := make(models.HashSet)
	out := make([]models.CandidateArticle, 0, len(candidates))
	for i := range candidates {
		c := candidates[i]
		c.ContentHash = d.hashOf(c)
		if d.Classify(c, known) == models.Duplicate || seen.Has(c.ContentHash) {
			continue
		}
		seen[c.ContentHash] = struct{}{}
		out = append(out, c)
	}
	return out
}

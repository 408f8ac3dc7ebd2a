package models

import (
	"time"
)

// ContentHash fingerprints one logical article
type ContentHash string

// HashSet is the set of fingerprints already stored for a source
type HashSet map[ContentHash]struct{}

// NewHashSet builds a set from hashes
func NewHashSet(hashes ...ContentHash) HashSet {
	set := make(HashSet, len(hashes))
	for _, h := range hashes {
		set[h] = struct{}{}
	}
	return set
}

func (s HashSet) Has(h ContentHash) bool {
	_, ok := s[h]
	return ok
}

// Classification is the dedup verdict for a candidate
type Classification int

const (
	New Classification = iota
	Duplicate
)

func (c Classification) String() string {
	if c == Duplicate {
		return "duplicate"
	}
	return "new"
}

// CandidateArticle is a normalized article that has not been deduplicated yet
type CandidateArticle struct {
	SourceID    string      `json:"source_id"`
	URL         string      `json:"url"`
	Title       string      `json:"title"`
	ContentHTML string      `json:"content_html,omitempty"`
	Excerpt     string      `json:"excerpt,omitempty"`
	Author      string      `json:"author,omitempty"`
	PublishedAt time.Time   `json:"published_at"`
	ImageURL    string      `json:"image_url,omitempty"`
	ContentHash ContentHash `json:"content_hash"`
}

// Article is a stored article row
type Article struct {
	ID          string      `json:"id"`
	SourceID    string      `json:"source_id"`
	URL         string      `json:"url"`
	Title       string      `json:"title"`
	ContentHTML string      `json:"content_html,omitempty"`
	Excerpt     string      `json:"excerpt,omitempty"`
	Author      string      `json:"author,omitempty"`
	PublishedAt time.Time   `json:"published_at"`
	ImageURL    string      `json:"image_url,omitempty"`
	ContentHash ContentHash `json:"content_hash"`
	CreatedAt   time.Time   `json:"created_at"`
}

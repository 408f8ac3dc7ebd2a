package services

import (
	"html"
	"regexp"
	"strings"
)

var tagPattern = regexp.MustCompile(`<[^>]*>`)

// StripTags removes markup, decodes entities and collapses whitespace
func StripTags(s string) string {
	s = tagPattern.ReplaceAllString(s, " ")
	s = html.UnescapeString(s)
	return strings.Join(strings.Fields(s), " ")
}

// GenerateExcerpt shortens text (or HTML) to at most maxLen runes plus an
// ellipsis. It cuts after the last sentence end when that falls past 80% of
// the limit, otherwise at the last space.
func GenerateExcerpt(text string, maxLen int) string {
	text = StripTags(text)
	if maxLen <= 0 {
		return ""
	}

	runes := []rune(text)
	if len(runes) <= maxLen {
		return text
	}

	truncated := runes[:maxLen]
	lastSentence, lastSpace := -1, -1
	for i, r := range truncated {
		switch r {
		case '.', '!', '?':
			lastSentence = i
		case ' ':
			lastSpace = i
		}
	}

	switch {
	case float64(lastSentence) > float64(maxLen)*0.8:
		return string(truncated[:lastSentence+1]) + "..."
	case lastSpace > 0:
		return strings.TrimRight(string(truncated[:lastSpace]), " ") + "..."
	default:
		return string(truncated) + "..."
	}
}

// ReadingTime estimates minutes to read text, rounded up. Empty text and a
// non-positive rate give 0.
func ReadingTime(text string, wordsPerMinute int) int {
	words := len(strings.Fields(text))
	if words == 0 || wordsPerMinute <= 0 {
		return 0
	}
	return (words + wordsPerMinute - 1) / wordsPerMinute
}

package services

import (
	"testing"
)

func TestGenerateExcerpt(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		maxLen int
		want   string
	}{
		{"sentence boundary", "<p>Hello world. This is a test.</p>", 15, "Hello world...."},
		{"short text untouched", "<p>Short</p>", 200, "Short"},
		{"cut at last space", "The quick brown fox jumps over the lazy dog", 20, "The quick brown fox..."},
		{"late sentence end", "One two three four. Five six", 20, "One two three four...."},
		{"no space", "Supercalifragilistic", 5, "Super..."},
		{"entities decoded", "Fish &amp; chips", 200, "Fish & chips"},
		{"zero length", "anything", 0, ""},
		{"multibyte", "héllo wörld ñandú", 12, "héllo wörld..."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := GenerateExcerpt(tt.input, tt.maxLen); got != tt.want {
				t.Errorf("GenerateExcerpt(%q, %d) = %q, want %q", tt.input, tt.maxLen, got, tt.want)
			}
		})
	}
}

func TestReadingTime(t *testing.T) {
	tests := []struct {
		words int
		wpm   int
		want  int
	}{
		{0, 200, 0},
		{1, 200, 1},
		{200, 200, 1},
		{201, 200, 2},
		{1000, 200, 5},
		{50, 0, 0},
	}

	for _, tt := range tests {
		text := ""
		for i := 0; i < tt.words; i++ {
			text += "word "
		}
		if got := ReadingTime(text, tt.wpm); got != tt.want {
			t.Errorf("ReadingTime(%d words, %d wpm) = %d, want %d", tt.words, tt.wpm, got, tt.want)
		}
	}
}

func TestStripTags(t *testing.T) {
	got := StripTags("<div><p>One</p>\n<p>Two &lt;3</p></div>")
	if got != "One Two <3" {
		t.Errorf("StripTags = %q", got)
	}
}

package services

import (
	"testing"
	"time"
)

func TestParseDate(t *testing.T) {
	want := time.Date(2006, 1, 2, 15, 4, 5, 0, time.UTC)

	tests := []struct {
		name  string
		input string
		want  time.Time
	}{
		{"rfc822 gmt", "Mon, 02 Jan 2006 15:04:05 GMT", want},
		{"rfc822 single digit day", "Mon, 2 Jan 2006 15:04:05 +0000", want},
		{"rfc822 numeric offset", "Mon, 02 Jan 2006 10:04:05 -0500", want},
		{"rfc822 est", "Mon, 02 Jan 2006 10:04:05 EST", want},
		{"rfc822 pdt", "Mon, 02 Jan 2006 08:04:05 PDT", want},
		{"rfc822 no weekday", "02 Jan 2006 15:04:05 GMT", want},
		{"extra whitespace", "  Mon,  02 Jan 2006\n15:04:05 GMT ", want},
		{"rfc3339", "2006-01-02T15:04:05Z", want},
		{"rfc3339 offset", "2006-01-02T17:04:05+02:00", want},
		{"iso without zone", "2006-01-02T15:04:05", want},
		{"iso with fraction", "2006-01-02T15:04:05.000Z", want},
		{"sql style", "2006-01-02 15:04:05", want},
		{"date only", "2006-01-02", time.Date(2006, 1, 2, 0, 0, 0, 0, time.UTC)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParseDate(tt.input)
			if !ok {
				t.Fatalf("ParseDate(%q) failed", tt.input)
			}
			if !got.Equal(tt.want) {
				t.Errorf("ParseDate(%q) = %v, want %v", tt.input, got, tt.want)
			}
			if got.Location() != time.UTC {
				t.Errorf("ParseDate(%q) location = %v, want UTC", tt.input, got.Location())
			}
		})
	}
}

func TestParseDateRejects(t *testing.T) {
	for _, input := range []string{"", "   ", "not a date", "yesterday-ish"} {
		if got, ok := ParseDate(input); ok {
			t.Errorf("ParseDate(%q) = %v, want failure", input, got)
		}
	}
}

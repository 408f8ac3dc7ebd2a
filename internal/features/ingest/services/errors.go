package services

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

var (
	// ErrSourceBusy is returned when a refresh is requested for a source
	// that already has a job in flight.
	ErrSourceBusy = errors.New("source is already being ingested")

	// ErrSourceNotFound is returned by stores for unknown source IDs.
	ErrSourceNotFound = errors.New("source not found")
)

// FetchError is a failed retrieval. StatusCode is 0 when no response arrived.
type FetchError struct {
	URL        string
	StatusCode int
	Retryable  bool
	Err        error
}

func (e *FetchError) Error() string {
	switch {
	case e.StatusCode != 0 && e.Err != nil:
		return fmt.Sprintf("fetch %s: HTTP %d: %v", e.URL, e.StatusCode, e.Err)
	case e.StatusCode != 0:
		return fmt.Sprintf("fetch %s: HTTP %d", e.URL, e.StatusCode)
	default:
		return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
	}
}

func (e *FetchError) Unwrap() error { return e.Err }

// ParseError is a document that is not a well-formed RSS or Atom feed
type ParseError struct {
	Reason string
	Err    error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("parse feed: %s: %v", e.Reason, e.Err)
	}
	return "parse feed: " + e.Reason
}

func (e *ParseError) Unwrap() error { return e.Err }

// ValidationError rejects a source or request before any work starts
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// ValidateSourceURL accepts absolute http and https URLs only
func ValidateSourceURL(raw string) (*url.URL, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, &ValidationError{Field: "url", Message: "is required"}
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, &ValidationError{Field: "url", Message: "is not a valid URL"}
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, &ValidationError{Field: "url", Message: "must use http or https"}
	}
	if u.Host == "" {
		return nil, &ValidationError{Field: "url", Message: "must include a host"}
	}
	return u, nil
}

// IsRetryable reports whether err is a transient failure
func IsRetryable(err error) bool {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Retryable
	}
	return false
}

package models

import (
	"fmt"
	"time"
)

// SourceKind says how a source is ingested
type SourceKind string

const (
	KindFeed    SourceKind = "feed"
	KindWebsite SourceKind = "website"
)

// ParseSourceKind accepts the stored kind names plus "rss" as an alias for feed
func ParseSourceKind(s string) (SourceKind, error) {
	switch s {
	case "feed", "rss", "atom":
		return KindFeed, nil
	case "website":
		return KindWebsite, nil
	default:
		return "", fmt.Errorf("unknown source kind %q", s)
	}
}

// Status is the health label of a source
type Status string

const (
	StatusPending Status = "pending"
	StatusActive  Status = "active"
	StatusError   Status = "error"
)

// SourceState is the tagged health state of a source. The zero value is
// pending. Only the constructors below build states, so an active state can
// never carry an error message.
type SourceState struct {
	status    Status
	since     time.Time
	message   string
	retryable bool
}

func PendingState() SourceState {
	return SourceState{status: StatusPending}
}

func ActiveState(since time.Time) SourceState {
	return SourceState{status: StatusActive, since: since.UTC()}
}

func ErrorState(message string, since time.Time, retryable bool) SourceState {
	return SourceState{status: StatusError, since: since.UTC(), message: message, retryable: retryable}
}

// RestoreState rebuilds a state from its stored columns
func RestoreState(status string, message string, since *time.Time, retryable bool) (SourceState, error) {
	var at time.Time
	if since != nil {
		at = *since
	}
	switch Status(status) {
	case StatusPending, "":
		return PendingState(), nil
	case StatusActive:
		return ActiveState(at), nil
	case StatusError:
		return ErrorState(message, at, retryable), nil
	default:
		return SourceState{}, fmt.Errorf("unknown source status %q", status)
	}
}

func (s SourceState) Status() Status {
	if s.status == "" {
		return StatusPending
	}
	return s.status
}

// Since is when the source entered its current state. Zero for pending.
func (s SourceState) Since() time.Time { return s.since }

// ErrorMessage is empty unless the state is an error.
func (s SourceState) ErrorMessage() string { return s.message }

// Retryable reports whether the failure behind an error state was transient.
func (s SourceState) Retryable() bool { return s.retryable }

func (s SourceState) IsError() bool { return s.status == StatusError }

func (s SourceState) String() string {
	if s.status == StatusError {
		return fmt.Sprintf("error(%s)", s.message)
	}
	return string(s.Status())
}

// Source is a configured feed or website polled by the scheduler
type Source struct {
	ID                  string      `json:"id"`
	Name                string      `json:"name"`
	URL                 string      `json:"url"`
	Kind                SourceKind  `json:"kind"`
	State               SourceState `json:"-"`
	LastUpdated         *time.Time  `json:"last_updated"`
	UpdateFrequency     int         `json:"update_frequency"` // seconds
	ConsecutiveFailures int         `json:"consecutive_failures"`
	CreatedAt           time.Time   `json:"created_at"`
}

// Frequency returns the update frequency floored at min seconds
func (s *Source) Frequency(min int) time.Duration {
	freq := s.UpdateFrequency
	if freq < min {
		freq = min
	}
	return time.Duration(freq) * time.Second
}

// SourceCreate is the data needed to register a source
type SourceCreate struct {
	Name            string     `json:"name" yaml:"name"`
	URL             string     `json:"url" yaml:"url"`
	Kind            SourceKind `json:"kind" yaml:"kind"`
	UpdateFrequency int        `json:"update_frequency" yaml:"update_frequency"`
}

// SourceView is the JSON shape of a source's health
type SourceView struct {
	ID                  string     `json:"id"`
	Name                string     `json:"name"`
	URL                 string     `json:"url"`
	Kind                SourceKind `json:"kind"`
	Status              Status     `json:"status"`
	ErrorMessage        string     `json:"error_message,omitempty"`
	LastUpdated         *time.Time `json:"last_updated"`
	UpdateFrequency     int        `json:"update_frequency"`
	ConsecutiveFailures int        `json:"consecutive_failures"`
}

// View flattens the source for API responses
func (s *Source) View() SourceView {
	return SourceView{
		ID:                  s.ID,
		Name:                s.Name,
		URL:                 s.URL,
		Kind:                s.Kind,
		Status:              s.State.Status(),
		ErrorMessage:        s.State.ErrorMessage(),
		LastUpdated:         s.LastUpdated,
		UpdateFrequency:     s.UpdateFrequency,
		ConsecutiveFailures: s.ConsecutiveFailures,
	}
}

package models

import (
	"sort"
	"time"
)

// SchedulerConfig holds configuration for the scheduler service
type SchedulerConfig struct {
	Schedule           string        `json:"schedule"`
	MaxWorkers         int           `json:"max_workers"`
	JobTimeout         time.Duration `json:"job_timeout"`
	MinUpdateFrequency int           `json:"min_update_frequency"` // seconds
	RetryBackoffBase   time.Duration `json:"retry_backoff_base"`
	MaxBackoff         time.Duration `json:"max_backoff"`
}

// DefaultSchedulerConfig returns default scheduler configuration
func DefaultSchedulerConfig() *SchedulerConfig {
	return &SchedulerConfig{
		Schedule:           "@every 5m",
		MaxWorkers:         5,
		JobTimeout:         60 * time.Second,
		MinUpdateFrequency: 300,
		RetryBackoffBase:   5 * time.Minute,
		MaxBackoff:         24 * time.Hour,
	}
}

// SourceUpdate is the state transition requested for one source
type SourceUpdate struct {
	SourceID            string      `json:"source_id"`
	State               SourceState `json:"-"`
	LastUpdated         *time.Time  `json:"last_updated"`
	ConsecutiveFailures int         `json:"consecutive_failures"`
	Title               string      `json:"-"`
}

// IngestionResult is the batch one cycle hands to persistence
type IngestionResult struct {
	CycleID        string             `json:"cycle_id"`
	StartedAt      time.Time          `json:"started_at"`
	FinishedAt     time.Time          `json:"finished_at"`
	NewArticles    []CandidateArticle `json:"new_articles"`
	UpdatedSources []SourceUpdate     `json:"updated_sources"`
	Skipped        []string           `json:"skipped,omitempty"`
}

// ArticlesFor returns the new articles belonging to one source
func (r *IngestionResult) ArticlesFor(sourceID string) []CandidateArticle {
	var out []CandidateArticle
	for _, a := range r.NewArticles {
		if a.SourceID == sourceID {
			out = append(out, a)
		}
	}
	return out
}

// Failed counts the sources whose update is an error state
func (r *IngestionResult) Failed() int {
	n := 0
	for _, u := range r.UpdatedSources {
		if u.State.IsError() {
			n++
		}
	}
	return n
}

// Sort orders updates by source ID and articles by source, then newest
// first, then URL.
func (r *IngestionResult) Sort() {
	sort.Slice(r.UpdatedSources, func(i, j int) bool {
		return r.UpdatedSources[i].SourceID < r.UpdatedSources[j].SourceID
	})
	sort.SliceStable(r.NewArticles, func(i, j int) bool {
		a, b := r.NewArticles[i], r.NewArticles[j]
		if a.SourceID != b.SourceID {
			return a.SourceID < b.SourceID
		}
		if !a.PublishedAt.Equal(b.PublishedAt) {
			return a.PublishedAt.After(b.PublishedAt)
		}
		return a.URL < b.URL
	})
	sort.Strings(r.Skipped)
}

// CycleSummary is the JSON reply of a trigger
type CycleSummary struct {
	CycleID     string   `json:"cycle_id"`
	Processed   int      `json:"processed"`
	NewArticles int      `json:"new_articles"`
	Failed      int      `json:"failed"`
	Skipped     []string `json:"skipped,omitempty"`
	DurationMS  int64    `json:"duration_ms"`
}

// Summary condenses the result for API and CLI output
func (r *IngestionResult) Summary() CycleSummary {
	return CycleSummary{
		CycleID:     r.CycleID,
		Processed:   len(r.UpdatedSources),
		NewArticles: len(r.NewArticles),
		Failed:      r.Failed(),
		Skipped:     r.Skipped,
		DurationMS:  r.FinishedAt.Sub(r.StartedAt).Milliseconds(),
	}
}

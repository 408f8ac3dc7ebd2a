package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"feedflow/internal/core"
	"feedflow/internal/features/ingest/models"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
)

const maxErrorMessage = 500

// SourceStore supplies the inputs of a cycle
type SourceStore interface {
	ListSources(ctx context.Context) ([]models.Source, error)
	GetSource(ctx context.Context, id string) (*models.Source, error)
	KnownHashes(ctx context.Context, sourceIDs []string) (map[string]models.HashSet, error)
}

// ResultCommitter persists a cycle result. Each source's articles and state
// must be written together or not at all.
type ResultCommitter interface {
	Commit(ctx context.Context, result *models.IngestionResult) error
}

// SchedulerService runs ingestion cycles over the due sources
type SchedulerService struct {
	ingester  *Ingester
	store     SourceStore
	committer ResultCommitter
	logger    *core.Logger
	config    *models.SchedulerConfig
	now       func() time.Time

	mu       sync.Mutex
	inFlight map[string]struct{}

	cron   *cron.Cron
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewSchedulerService creates a new scheduler service
func NewSchedulerService(
	ingester *Ingester,
	store SourceStore,
	committer ResultCommitter,
	logger *core.Logger,
	config *models.SchedulerConfig,
) *SchedulerService {
	if config == nil {
		config = models.DefaultSchedulerConfig()
	}
	return &SchedulerService{
		ingester:  ingester,
		store:     store,
		committer: committer,
		logger:    logger,
		config:    config,
		now:       func() time.Time { return time.Now().UTC() },
		inFlight:  make(map[string]struct{}),
	}
}

// jobResult is the immutable record one job hands back
type jobResult struct {
	source    models.Source
	output    jobOutput
	err       error
	timedOut  bool
	cancelled bool
	finished  time.Time
}

// DueForRefresh reports whether a source has never been fetched or its
// update frequency has elapsed since the last successful fetch.
func DueForRefresh(src models.Source, now time.Time) bool {
	if src.LastUpdated == nil {
		return true
	}
	return now.Sub(*src.LastUpdated) >= time.Duration(src.UpdateFrequency)*time.Second
}

// ReadyForAttempt is DueForRefresh with the frequency floored at the
// configured minimum, plus the failure backoff: a source in the error state
// waits out its backoff from the time it entered that state.
func (s *SchedulerService) ReadyForAttempt(src models.Source, now time.Time) bool {
	floored := src
	floored.UpdateFrequency = int(src.Frequency(s.config.MinUpdateFrequency) / time.Second)
	if !DueForRefresh(floored, now) {
		return false
	}
	if !src.State.IsError() {
		return true
	}
	return !now.Before(src.State.Since().Add(s.backoffFor(src)))
}

// backoffFor doubles the base delay per consecutive failure up to MaxBackoff.
// Transient failures start from RetryBackoffBase, permanent ones from the
// source's own frequency.
func (s *SchedulerService) backoffFor(src models.Source) time.Duration {
	if src.ConsecutiveFailures < 1 {
		return 0
	}
	delay := s.config.RetryBackoffBase
	if !src.State.Retryable() {
		delay = src.Frequency(s.config.MinUpdateFrequency)
	}
	for i := 1; i < src.ConsecutiveFailures && delay < s.config.MaxBackoff; i++ {
		delay *= 2
	}
	if s.config.MaxBackoff > 0 && delay > s.config.MaxBackoff {
		delay = s.config.MaxBackoff
	}
	return delay
}

// RunCycle ingests the ready sources (all of them when force is set) with a
// bounded worker pool and returns the merged result. known maps source IDs to
// their stored hashes and is only read. Sources already in flight are listed
// in Skipped. Claims are released when RunCycle returns, so callers that
// persist the result should use RunDue or RefreshSource.
func (s *SchedulerService) RunCycle(ctx context.Context, sources []models.Source, known map[string]models.HashSet, force bool) *models.IngestionResult {
	result := s.newResult()
	jobs := s.claimReady(sources, force, result)
	defer s.releaseAll(jobs)

	s.execute(ctx, result, jobs, known)
	return result
}

func (s *SchedulerService) newResult() *models.IngestionResult {
	return &models.IngestionResult{
		CycleID:        uuid.NewString(),
		StartedAt:      s.now(),
		NewArticles:    []models.CandidateArticle{},
		UpdatedSources: []models.SourceUpdate{},
	}
}

// claimReady claims the ready sources for this cycle. The ones another cycle
// holds are recorded in result.Skipped.
func (s *SchedulerService) claimReady(sources []models.Source, force bool, result *models.IngestionResult) []models.Source {
	var jobs []models.Source
	for _, src := range sources {
		if !force && !s.ReadyForAttempt(src, result.StartedAt) {
			continue
		}
		if !s.claim(src.ID) {
			s.logger.Info("Source already in flight, skipping", "cycle_id", result.CycleID, "source_id", src.ID)
			result.Skipped = append(result.Skipped, src.ID)
			continue
		}
		jobs = append(jobs, src)
	}
	return jobs
}

// execute runs the claimed sources and merges their results
func (s *SchedulerService) execute(ctx context.Context, result *models.IngestionResult, jobs []models.Source, known map[string]models.HashSet) {
	logger := s.logger.With("cycle_id", result.CycleID)

	if len(jobs) == 0 {
		result.FinishedAt = s.now()
		result.Sort()
		logger.Debug("No sources to ingest")
		return
	}

	logger.Info("Starting ingestion cycle", "sources", len(jobs))

	for r := range s.runJobs(ctx, jobs, known) {
		update, ok := s.transition(r)
		if !ok {
			continue
		}
		result.UpdatedSources = append(result.UpdatedSources, update)
		if !update.State.IsError() {
			result.NewArticles = append(result.NewArticles, r.output.articles...)
		}
	}

	result.FinishedAt = s.now()
	result.Sort()

	summary := result.Summary()
	logger.Info("Ingestion cycle completed",
		"processed", summary.Processed,
		"new_articles", summary.NewArticles,
		"failed", summary.Failed,
		"skipped", len(summary.Skipped),
		"duration_ms", summary.DurationMS)
}

// runJobs fans the claimed sources out to the worker pool. The returned
// channel is closed once every job has reported.
func (s *SchedulerService) runJobs(ctx context.Context, jobs []models.Source, known map[string]models.HashSet) <-chan jobResult {
	jobChan := make(chan models.Source, len(jobs))
	results := make(chan jobResult, len(jobs))
	var wg sync.WaitGroup

	workers := s.config.MaxWorkers
	if workers < 1 {
		workers = 1
	}
	if workers > len(jobs) {
		workers = len(jobs)
	}
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go s.worker(ctx, jobChan, results, known, &wg)
	}

	for _, src := range jobs {
		jobChan <- src
	}
	close(jobChan)

	wg.Wait()
	close(results)
	return results
}

func (s *SchedulerService) worker(ctx context.Context, jobChan <-chan models.Source, results chan<- jobResult, known map[string]models.HashSet, wg *sync.WaitGroup) {
	defer wg.Done()

	for src := range jobChan {
		results <- s.runJob(ctx, src, known[src.ID])
	}
}

// runJob ingests one source under its own deadline. The caller owns the
// source's claim.
func (s *SchedulerService) runJob(ctx context.Context, src models.Source, known models.HashSet) (r jobResult) {
	r.source = src

	defer func() {
		if p := recover(); p != nil {
			s.logger.Error("Ingestion job panicked", "source_id", src.ID, "panic", p)
			r = jobResult{source: src, err: fmt.Errorf("internal error: %v", p), finished: s.now()}
		}
	}()

	if _, err := ValidateSourceURL(src.URL); err != nil {
		r.err = err
		r.finished = s.now()
		return r
	}

	jobCtx, cancel := context.WithTimeout(ctx, s.config.JobTimeout)
	defer cancel()

	s.logger.Debug("Ingesting source", "source_id", src.ID, "url", src.URL, "kind", src.Kind)
	out, err := s.ingester.Ingest(jobCtx, src, known, s.now())
	r.finished = s.now()

	switch {
	case err == nil:
		r.output = out
	case ctx.Err() != nil:
		r.cancelled = true
	case errors.Is(jobCtx.Err(), context.DeadlineExceeded), errors.Is(err, ErrGateDeadline):
		r.timedOut = true
	default:
		r.err = err
	}
	return r
}

// transition maps a job result to the source's next state. Cancelled jobs
// leave the source untouched.
func (s *SchedulerService) transition(r jobResult) (models.SourceUpdate, bool) {
	src := r.source
	switch {
	case r.cancelled:
		s.logger.Info("Ingestion cancelled", "source_id", src.ID)
		return models.SourceUpdate{}, false
	case r.timedOut:
		s.logger.Warn("Ingestion timed out", "source_id", src.ID, "timeout", s.config.JobTimeout)
		return failed(src, fmt.Sprintf("timeout after %s", s.config.JobTimeout), false, r.finished), true
	case r.err != nil:
		s.logger.Warn("Ingestion failed", "source_id", src.ID, "url", src.URL, "error", r.err)
		return failed(src, r.err.Error(), IsRetryable(r.err), r.finished), true
	default:
		s.logger.Info("Source ingested", "source_id", src.ID, "new_articles", len(r.output.articles))
		return succeeded(src, r.output.title, r.finished), true
	}
}

func succeeded(src models.Source, title string, now time.Time) models.SourceUpdate {
	at := now
	return models.SourceUpdate{
		SourceID:            src.ID,
		State:               models.ActiveState(now),
		LastUpdated:         &at,
		ConsecutiveFailures: 0,
		Title:               title,
	}
}

// failed keeps LastUpdated so the source stays due once its backoff ends
func failed(src models.Source, message string, retryable bool, now time.Time) models.SourceUpdate {
	if r := []rune(message); len(r) > maxErrorMessage {
		message = string(r[:maxErrorMessage])
	}
	return models.SourceUpdate{
		SourceID:            src.ID,
		State:               models.ErrorState(message, now, retryable),
		LastUpdated:         src.LastUpdated,
		ConsecutiveFailures: src.ConsecutiveFailures + 1,
	}
}

func (s *SchedulerService) claim(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.inFlight[id]; busy {
		return false
	}
	s.inFlight[id] = struct{}{}
	return true
}

func (s *SchedulerService) release(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inFlight, id)
}

func (s *SchedulerService) releaseAll(sources []models.Source) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, src := range sources {
		delete(s.inFlight, src.ID)
	}
}

// InFlight reports whether a job for the source is running
func (s *SchedulerService) InFlight(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, busy := s.inFlight[id]
	return busy
}

// RunDue loads the sources, ingests the ready ones and commits the result.
// Claims are held until the commit returns.
func (s *SchedulerService) RunDue(ctx context.Context) (*models.IngestionResult, error) {
	sources, err := s.store.ListSources(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list sources: %w", err)
	}

	result := s.newResult()
	claimed := s.claimReady(sources, false, result)
	defer s.releaseAll(claimed)

	// The snapshot may predate a commit that released one of these claims.
	jobs, err := s.reloadClaimed(ctx, claimed, result.StartedAt)
	if err != nil {
		return nil, err
	}

	known := map[string]models.HashSet{}
	if len(jobs) > 0 {
		ids := make([]string, len(jobs))
		for i, src := range jobs {
			ids[i] = src.ID
		}
		known, err = s.store.KnownHashes(ctx, ids)
		if err != nil {
			return nil, fmt.Errorf("failed to load known hashes: %w", err)
		}
	}

	s.execute(ctx, result, jobs, known)
	if err := s.committer.Commit(ctx, result); err != nil {
		return result, fmt.Errorf("failed to commit cycle %s: %w", result.CycleID, err)
	}
	return result, nil
}

// reloadClaimed re-reads the claimed sources and keeps those still ready
func (s *SchedulerService) reloadClaimed(ctx context.Context, claimed []models.Source, now time.Time) ([]models.Source, error) {
	if len(claimed) == 0 {
		return nil, nil
	}
	fresh, err := s.store.ListSources(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to reload sources: %w", err)
	}
	byID := make(map[string]models.Source, len(fresh))
	for _, src := range fresh {
		byID[src.ID] = src
	}

	jobs := make([]models.Source, 0, len(claimed))
	for _, c := range claimed {
		src, ok := byID[c.ID]
		if !ok || !s.ReadyForAttempt(src, now) {
			continue
		}
		jobs = append(jobs, src)
	}
	return jobs, nil
}

// RefreshSource ingests one source immediately regardless of its schedule
func (s *SchedulerService) RefreshSource(ctx context.Context, id string) (*models.IngestionResult, error) {
	if !s.claim(id) {
		return nil, ErrSourceBusy
	}
	defer s.release(id)

	src, err := s.store.GetSource(ctx, id)
	if err != nil {
		return nil, err
	}

	known, err := s.store.KnownHashes(ctx, []string{id})
	if err != nil {
		return nil, fmt.Errorf("failed to load known hashes: %w", err)
	}

	result := s.newResult()
	s.execute(ctx, result, []models.Source{*src}, known)
	if err := s.committer.Commit(ctx, result); err != nil {
		return result, fmt.Errorf("failed to commit refresh of %s: %w", id, err)
	}
	return result, nil
}

// Start runs a cycle now and then on the configured cron schedule
func (s *SchedulerService) Start(ctx context.Context) error {
	s.logger.Info("Starting ingestion scheduler", "schedule", s.config.Schedule, "workers", s.config.MaxWorkers)

	runCtx, cancel := context.WithCancel(ctx)
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cronLogger{s.logger})))
	if _, err := c.AddFunc(s.config.Schedule, func() { s.scheduledRun(runCtx) }); err != nil {
		cancel()
		return fmt.Errorf("invalid schedule %q: %w", s.config.Schedule, err)
	}

	s.cron = c
	s.cancel = cancel
	c.Start()

	// Do initial update
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.scheduledRun(runCtx)
	}()
	return nil
}

// Stop cancels running jobs and waits for the current cycle to return
func (s *SchedulerService) Stop(ctx context.Context) error {
	if s.cron == nil {
		return nil
	}
	s.logger.Info("Stopping ingestion scheduler")
	s.cancel()

	done := make(chan struct{})
	go func() {
		<-s.cron.Stop().Done()
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *SchedulerService) scheduledRun(ctx context.Context) {
	if _, err := s.RunDue(ctx); err != nil && ctx.Err() == nil {
		s.logger.Error("Scheduled ingestion failed", "error", err)
	}
}

// cronLogger routes cron's own messages into the feature logger
type cronLogger struct {
	logger *core.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}

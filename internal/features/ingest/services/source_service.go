package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"feedflow/internal/core"
	"feedflow/internal/features/ingest/models"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
)

var sourceColumns = []string{
	"id", "name", "url", "kind", "status", "error_message", "error_retryable",
	"status_since", "last_updated", "update_frequency", "consecutive_failures", "created_at",
}

// SourceService stores sources and reads the hashes dedup needs
type SourceService struct {
	db                 *core.Database
	logger             *core.Logger
	minUpdateFrequency int
	defaultFrequency   int
	globalDedup        bool
}

// NewSourceService creates a new source service
func NewSourceService(db *core.Database, logger *core.Logger, minUpdateFrequency, defaultFrequency int, globalDedup bool) *SourceService {
	return &SourceService{
		db:                 db,
		logger:             logger,
		minUpdateFrequency: minUpdateFrequency,
		defaultFrequency:   defaultFrequency,
		globalDedup:        globalDedup,
	}
}

// CreateSource validates and stores a new source in the pending state
func (s *SourceService) CreateSource(ctx context.Context, in *models.SourceCreate) (*models.Source, error) {
	src, err := s.newSource(in)
	if err != nil {
		return nil, err
	}

	query, args, err := sq.Insert("sources").
		Columns("id", "name", "url", "kind", "status", "update_frequency", "consecutive_failures", "created_at", "updated_at").
		Values(src.ID, src.Name, src.URL, string(src.Kind), string(models.StatusPending), src.UpdateFrequency, 0, src.CreatedAt, src.CreatedAt).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build insert: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return nil, fmt.Errorf("failed to create source: %w", err)
	}

	s.logger.Info("Created source", "id", src.ID, "url", src.URL, "kind", src.Kind)
	return src, nil
}

// UpsertByURL creates the source or refreshes the name, kind and frequency
// of the one already stored under its URL. Health columns are kept.
func (s *SourceService) UpsertByURL(ctx context.Context, in *models.SourceCreate) (*models.Source, error) {
	src, err := s.newSource(in)
	if err != nil {
		return nil, err
	}

	query, args, err := sq.Insert("sources").
		Columns("id", "name", "url", "kind", "status", "update_frequency", "consecutive_failures", "created_at", "updated_at").
		Values(src.ID, src.Name, src.URL, string(src.Kind), string(models.StatusPending), src.UpdateFrequency, 0, src.CreatedAt, src.CreatedAt).
		Suffix("ON CONFLICT(url) DO UPDATE SET name = excluded.name, kind = excluded.kind, update_frequency = excluded.update_frequency, updated_at = excluded.updated_at").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build upsert: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return nil, fmt.Errorf("failed to upsert source: %w", err)
	}
	return s.getBy(ctx, sq.Eq{"url": src.URL})
}

func (s *SourceService) newSource(in *models.SourceCreate) (*models.Source, error) {
	u, err := ValidateSourceURL(in.URL)
	if err != nil {
		return nil, err
	}

	kind := models.KindFeed
	if in.Kind != "" {
		if kind, err = models.ParseSourceKind(strings.ToLower(string(in.Kind))); err != nil {
			return nil, &ValidationError{Field: "kind", Message: err.Error()}
		}
	}

	freq := in.UpdateFrequency
	if freq == 0 {
		freq = s.defaultFrequency
	}
	if freq < s.minUpdateFrequency {
		freq = s.minUpdateFrequency
	}

	return &models.Source{
		ID:              uuid.NewString(),
		Name:            strings.TrimSpace(in.Name),
		URL:             u.String(),
		Kind:            kind,
		State:           models.PendingState(),
		UpdateFrequency: freq,
		CreatedAt:       time.Now().UTC(),
	}, nil
}

// GetSource returns ErrSourceNotFound for unknown IDs
func (s *SourceService) GetSource(ctx context.Context, id string) (*models.Source, error) {
	return s.getBy(ctx, sq.Eq{"id": id})
}

func (s *SourceService) getBy(ctx context.Context, where sq.Eq) (*models.Source, error) {
	query, args, err := sq.Select(sourceColumns...).From("sources").Where(where).ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build query: %w", err)
	}

	src, err := scanSource(s.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSourceNotFound
		}
		return nil, fmt.Errorf("failed to get source: %w", err)
	}
	return src, nil
}

// ListSources returns every source ordered by name then ID
func (s *SourceService) ListSources(ctx context.Context) ([]models.Source, error) {
	query, args, err := sq.Select(sourceColumns...).From("sources").OrderBy("name", "id").ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list sources: %w", err)
	}
	defer rows.Close()

	var sources []models.Source
	for rows.Next() {
		src, err := scanSource(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan source: %w", err)
		}
		sources = append(sources, *src)
	}
	return sources, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSource(row rowScanner) (*models.Source, error) {
	var (
		src          models.Source
		kind, status string
		message      sql.NullString
		retryable    bool
		since        sql.NullTime
		lastUpdated  sql.NullTime
	)
	err := row.Scan(
		&src.ID,
		&src.Name,
		&src.URL,
		&kind,
		&status,
		&message,
		&retryable,
		&since,
		&lastUpdated,
		&src.UpdateFrequency,
		&src.ConsecutiveFailures,
		&src.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if src.Kind, err = models.ParseSourceKind(kind); err != nil {
		return nil, err
	}
	var at *time.Time
	if since.Valid {
		at = &since.Time
	}
	if src.State, err = models.RestoreState(status, message.String, at, retryable); err != nil {
		return nil, err
	}
	if lastUpdated.Valid {
		t := lastUpdated.Time.UTC()
		src.LastUpdated = &t
	}
	return &src, nil
}

// KnownHashes returns the stored hashes for each requested source. With
// global dedup every source sees the hashes of all sources.
func (s *SourceService) KnownHashes(ctx context.Context, sourceIDs []string) (map[string]models.HashSet, error) {
	out := make(map[string]models.HashSet, len(sourceIDs))
	for _, id := range sourceIDs {
		out[id] = models.NewHashSet()
	}
	if len(sourceIDs) == 0 {
		return out, nil
	}

	builder := sq.Select("source_id", "content_hash").From("articles")
	if !s.globalDedup {
		builder = builder.Where(sq.Eq{"source_id": sourceIDs})
	}
	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to load hashes: %w", err)
	}
	defer rows.Close()

	all := models.NewHashSet()
	for rows.Next() {
		var sourceID, hash string
		if err := rows.Scan(&sourceID, &hash); err != nil {
			return nil, fmt.Errorf("failed to scan hash: %w", err)
		}
		if s.globalDedup {
			all[models.ContentHash(hash)] = struct{}{}
			continue
		}
		out[sourceID][models.ContentHash(hash)] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if s.globalDedup {
		for id := range out {
			out[id] = all
		}
	}
	return out, nil
}

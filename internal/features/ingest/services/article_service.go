package services

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"feedflow/internal/core"
	"feedflow/internal/features/ingest/models"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
)

// ArticleService persists cycle results and reads stored articles
type ArticleService struct {
	db     *core.Database
	logger *core.Logger
}

// NewArticleService creates a new article service
func NewArticleService(db *core.Database, logger *core.Logger) *ArticleService {
	return &ArticleService{
		db:     db,
		logger: logger,
	}
}

// Commit writes each source's articles and state change in its own
// transaction. A failing source is logged and does not block the others;
// the first error is returned after all sources were attempted.
func (s *ArticleService) Commit(ctx context.Context, result *models.IngestionResult) error {
	var firstErr error
	for _, update := range result.UpdatedSources {
		articles := result.ArticlesFor(update.SourceID)
		err := s.db.Transaction(ctx, func(tx *sql.Tx) error {
			if err := insertArticles(ctx, tx, articles); err != nil {
				return err
			}
			return applyUpdate(ctx, tx, update)
		})
		if err != nil {
			s.logger.Error("Failed to commit source", "cycle_id", result.CycleID, "source_id", update.SourceID, "error", err)
			if firstErr == nil {
				firstErr = fmt.Errorf("source %s: %w", update.SourceID, err)
			}
		}
	}
	return firstErr
}

func insertArticles(ctx context.Context, tx *sql.Tx, articles []models.CandidateArticle) error {
	if len(articles) == 0 {
		return nil
	}

	now := time.Now().UTC()
	builder := sq.Insert("articles").
		Columns("id", "source_id", "title", "url", "content_html", "excerpt", "author", "published_at", "image_url", "content_hash", "created_at").
		Suffix("ON CONFLICT(source_id, content_hash) DO NOTHING")
	for _, a := range articles {
		builder = builder.Values(uuid.NewString(), a.SourceID, a.Title, a.URL, a.ContentHTML, a.Excerpt, a.Author, a.PublishedAt.UTC(), a.ImageURL, string(a.ContentHash), now)
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return fmt.Errorf("failed to build insert: %w", err)
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to insert articles: %w", err)
	}
	return nil
}

func applyUpdate(ctx context.Context, tx *sql.Tx, u models.SourceUpdate) error {
	var since any
	if !u.State.Since().IsZero() {
		since = u.State.Since()
	}
	var lastUpdated any
	if u.LastUpdated != nil {
		lastUpdated = u.LastUpdated.UTC()
	}

	builder := sq.Update("sources").
		Set("status", string(u.State.Status())).
		Set("error_message", u.State.ErrorMessage()).
		Set("error_retryable", u.State.Retryable()).
		Set("status_since", since).
		Set("last_updated", lastUpdated).
		Set("consecutive_failures", u.ConsecutiveFailures).
		Set("updated_at", time.Now().UTC()).
		Where(sq.Eq{"id": u.SourceID})
	if u.Title != "" {
		builder = builder.Set("name", sq.Expr("CASE WHEN name = '' THEN ? ELSE name END", u.Title))
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return fmt.Errorf("failed to build update: %w", err)
	}
	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update source: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrSourceNotFound
	}
	return nil
}

// ListArticles returns a source's stored articles, newest first
func (s *ArticleService) ListArticles(ctx context.Context, sourceID string, limit int) ([]models.Article, error) {
	builder := sq.Select("id", "source_id", "title", "url", "content_html", "excerpt", "author", "published_at", "image_url", "content_hash", "created_at").
		From("articles").
		Where(sq.Eq{"source_id": sourceID}).
		OrderBy("published_at DESC", "url")
	if limit > 0 {
		builder = builder.Limit(uint64(limit))
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build query: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list articles: %w", err)
	}
	defer rows.Close()

	var articles []models.Article
	for rows.Next() {
		var a models.Article
		var hash string
		if err := rows.Scan(&a.ID, &a.SourceID, &a.Title, &a.URL, &a.ContentHTML, &a.Excerpt, &a.Author, &a.PublishedAt, &a.ImageURL, &hash, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan article: %w", err)
		}
		a.ContentHash = models.ContentHash(hash)
		articles = append(articles, a)
	}
	return articles, rows.Err()
}

// CountArticles returns how many articles a source has stored
func (s *ArticleService) CountArticles(ctx context.Context, sourceID string) (int, error) {
	query, args, err := sq.Select("COUNT(*)").From("articles").Where(sq.Eq{"source_id": sourceID}).ToSql()
	if err != nil {
		return 0, fmt.Errorf("failed to build query: %w", err)
	}
	var n int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count articles: %w", err)
	}
	return n, nil
}

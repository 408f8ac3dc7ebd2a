package services

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"feedflow/internal/core"
	"feedflow/internal/features/ingest/migrations"
	"feedflow/internal/features/ingest/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openStore(t *testing.T, globalDedup bool) (*SourceService, *ArticleService) {
	t.Helper()
	logger := core.NewDiscardLogger()
	db, err := core.OpenDatabase(":memory:", logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, migrations.NewManager(db, logger).Migrate(context.Background()))
	return NewSourceService(db, logger, 300, 3600, globalDedup), NewArticleService(db, logger)
}

func TestCreateSource(t *testing.T) {
	sources, _ := openStore(t, false)
	ctx := context.Background()

	src, err := sources.CreateSource(ctx, &models.SourceCreate{Name: "  Go Blog ", URL: "https://go.dev/blog/feed.atom"})
	require.NoError(t, err)
	assert.NotEmpty(t, src.ID)
	assert.Equal(t, "Go Blog", src.Name)
	assert.Equal(t, models.KindFeed, src.Kind)
	assert.Equal(t, 3600, src.UpdateFrequency)
	assert.Equal(t, models.StatusPending, src.State.Status())

	got, err := sources.GetSource(ctx, src.ID)
	require.NoError(t, err)
	assert.Equal(t, src.URL, got.URL)
	assert.Equal(t, models.StatusPending, got.State.Status())
	assert.Nil(t, got.LastUpdated)
	assert.Equal(t, 0, got.ConsecutiveFailures)

	fast, err := sources.CreateSource(ctx, &models.SourceCreate{URL: "https://example.com/", Kind: "Website", UpdateFrequency: 10})
	require.NoError(t, err)
	assert.Equal(t, models.KindWebsite, fast.Kind)
	assert.Equal(t, 300, fast.UpdateFrequency)

	_, err = sources.CreateSource(ctx, &models.SourceCreate{URL: "https://go.dev/blog/feed.atom"})
	assert.Error(t, err)
}

func TestCreateSourceValidation(t *testing.T) {
	sources, _ := openStore(t, false)

	tests := []models.SourceCreate{
		{URL: ""},
		{URL: "gopher://example.com"},
		{URL: "https://example.com/feed", Kind: "podcast"},
	}
	for _, in := range tests {
		_, err := sources.CreateSource(context.Background(), &in)
		var ve *ValidationError
		assert.ErrorAs(t, err, &ve, "input %+v", in)
	}
}

func TestGetSourceNotFound(t *testing.T) {
	sources, _ := openStore(t, false)
	_, err := sources.GetSource(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrSourceNotFound)
}

func TestListSourcesOrder(t *testing.T) {
	sources, _ := openStore(t, false)
	ctx := context.Background()

	for _, name := range []string{"Charlie", "Alpha", "Bravo"} {
		_, err := sources.CreateSource(ctx, &models.SourceCreate{Name: name, URL: "https://example.com/" + name})
		require.NoError(t, err)
	}

	list, err := sources.ListSources(ctx)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, "Alpha", list[0].Name)
	assert.Equal(t, "Bravo", list[1].Name)
	assert.Equal(t, "Charlie", list[2].Name)
}

func TestUpsertByURLKeepsHealth(t *testing.T) {
	sources, articles := openStore(t, false)
	ctx := context.Background()

	src, err := sources.UpsertByURL(ctx, &models.SourceCreate{Name: "Old", URL: "https://example.com/feed"})
	require.NoError(t, err)

	now := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, articles.Commit(ctx, &models.IngestionResult{
		CycleID: "c1",
		UpdatedSources: []models.SourceUpdate{{
			SourceID:            src.ID,
			State:               models.ErrorState("HTTP 500", now, true),
			ConsecutiveFailures: 2,
		}},
	}))

	again, err := sources.UpsertByURL(ctx, &models.SourceCreate{Name: "New", URL: "https://example.com/feed", UpdateFrequency: 7200})
	require.NoError(t, err)
	assert.Equal(t, src.ID, again.ID)
	assert.Equal(t, "New", again.Name)
	assert.Equal(t, 7200, again.UpdateFrequency)
	assert.Equal(t, models.StatusError, again.State.Status())
	assert.Equal(t, "HTTP 500", again.State.ErrorMessage())
	assert.True(t, again.State.Retryable())
	assert.Equal(t, 2, again.ConsecutiveFailures)
}

func TestCommitStoresArticlesAndState(t *testing.T) {
	sources, articles := openStore(t, false)
	ctx := context.Background()

	src, err := sources.CreateSource(ctx, &models.SourceCreate{URL: "https://example.com/feed"})
	require.NoError(t, err)

	now := time.Now().UTC().Truncate(time.Second)
	dedup := NewDeduplicator(nil)
	candidate := models.CandidateArticle{
		SourceID:    src.ID,
		URL:         "https://example.com/one",
		Title:       "One",
		Excerpt:     "First post",
		PublishedAt: now.Add(-time.Hour),
		ContentHash: dedup.Hash("https://example.com/one", "One"),
	}
	result := &models.IngestionResult{
		CycleID:     "c1",
		NewArticles: []models.CandidateArticle{candidate},
		UpdatedSources: []models.SourceUpdate{{
			SourceID:    src.ID,
			State:       models.ActiveState(now),
			LastUpdated: &now,
			Title:       "Example Feed",
		}},
	}
	require.NoError(t, articles.Commit(ctx, result))

	got, err := sources.GetSource(ctx, src.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusActive, got.State.Status())
	require.NotNil(t, got.LastUpdated)
	assert.True(t, now.Equal(*got.LastUpdated))
	assert.Equal(t, "Example Feed", got.Name)

	stored, err := articles.ListArticles(ctx, src.ID, 10)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, "One", stored[0].Title)
	assert.Equal(t, candidate.ContentHash, stored[0].ContentHash)

	// Same hash again is ignored; a second title does not replace the name.
	result.UpdatedSources[0].Title = "Renamed"
	require.NoError(t, articles.Commit(ctx, result))

	n, err := articles.CountArticles(ctx, src.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err = sources.GetSource(ctx, src.ID)
	require.NoError(t, err)
	assert.Equal(t, "Example Feed", got.Name)
}

func TestCommitUnknownSource(t *testing.T) {
	sources, articles := openStore(t, false)
	ctx := context.Background()

	src, err := sources.CreateSource(ctx, &models.SourceCreate{URL: "https://example.com/feed"})
	require.NoError(t, err)

	now := time.Now().UTC()
	err = articles.Commit(ctx, &models.IngestionResult{
		CycleID: "c1",
		UpdatedSources: []models.SourceUpdate{
			{SourceID: "ghost", State: models.ActiveState(now), LastUpdated: &now},
			{SourceID: src.ID, State: models.ActiveState(now), LastUpdated: &now},
		},
	})
	assert.ErrorIs(t, err, ErrSourceNotFound)

	got, err := sources.GetSource(ctx, src.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusActive, got.State.Status())
}

func TestKnownHashes(t *testing.T) {
	ctx := context.Background()
	dedup := NewDeduplicator(nil)

	seed := func(t *testing.T, sources *SourceService, articles *ArticleService) (string, string) {
		a, err := sources.CreateSource(ctx, &models.SourceCreate{URL: "https://a.example.com/feed"})
		require.NoError(t, err)
		b, err := sources.CreateSource(ctx, &models.SourceCreate{URL: "https://b.example.com/feed"})
		require.NoError(t, err)

		now := time.Now().UTC()
		require.NoError(t, articles.Commit(ctx, &models.IngestionResult{
			NewArticles: []models.CandidateArticle{
				{SourceID: a.ID, URL: "https://a.example.com/1", Title: "A1", PublishedAt: now, ContentHash: dedup.Hash("https://a.example.com/1", "A1")},
				{SourceID: b.ID, URL: "https://b.example.com/1", Title: "B1", PublishedAt: now, ContentHash: dedup.Hash("https://b.example.com/1", "B1")},
			},
			UpdatedSources: []models.SourceUpdate{
				{SourceID: a.ID, State: models.ActiveState(now), LastUpdated: &now},
				{SourceID: b.ID, State: models.ActiveState(now), LastUpdated: &now},
			},
		}))
		return a.ID, b.ID
	}

	t.Run("per source", func(t *testing.T) {
		sources, articles := openStore(t, false)
		a, b := seed(t, sources, articles)

		known, err := sources.KnownHashes(ctx, []string{a, "unknown"})
		require.NoError(t, err)
		assert.Len(t, known[a], 1)
		assert.True(t, known[a].Has(dedup.Hash("https://a.example.com/1", "A1")))
		assert.NotNil(t, known["unknown"])
		assert.Empty(t, known["unknown"])
		_, ok := known[b]
		assert.False(t, ok)
	})

	t.Run("global", func(t *testing.T) {
		sources, articles := openStore(t, true)
		a, _ := seed(t, sources, articles)

		known, err := sources.KnownHashes(ctx, []string{a})
		require.NoError(t, err)
		assert.Len(t, known[a], 2)
	})
}

func TestSeedFile(t *testing.T) {
	sources, _ := openStore(t, false)
	ctx := context.Background()

	path := filepath.Join(t.TempDir(), "sources.yaml")
	content := `sources:
  - name: Go Blog
    url: https://go.dev/blog/feed.atom
    update_frequency: 7200
  - name: Example
    url: https://example.com/
    kind: website
  - name: Broken
    url: not-a-url
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	seedFile, err := LoadSeedFile(path)
	require.NoError(t, err)
	require.Len(t, seedFile.Sources, 3)

	n, err := sources.Seed(ctx, seedFile)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	// Seeding twice updates in place.
	n, err = sources.Seed(ctx, seedFile)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	list, err := sources.ListSources(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "Example", list[0].Name)
	assert.Equal(t, models.KindWebsite, list[0].Kind)
	assert.Equal(t, 7200, list[1].UpdateFrequency)

	_, err = LoadSeedFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

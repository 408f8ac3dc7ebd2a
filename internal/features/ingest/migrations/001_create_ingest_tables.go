package migrations

import (
	"feedflow/internal/core"
)

// Migration001CreateIngestTables creates the source and article tables
var Migration001CreateIngestTables = core.Migration{
	Version:     1,
	Name:        "create_ingest_tables",
	Description: "Create sources and articles tables",
	UpSQL: `
		-- Configured feeds and websites with their health
		CREATE TABLE IF NOT EXISTS sources (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL DEFAULT '',
			url TEXT NOT NULL UNIQUE,
			kind TEXT NOT NULL DEFAULT 'feed',
			status TEXT NOT NULL DEFAULT 'pending',
			error_message TEXT NOT NULL DEFAULT '',
			error_retryable BOOLEAN NOT NULL DEFAULT 0,
			status_since TIMESTAMP,
			last_updated TIMESTAMP,
			update_frequency INTEGER NOT NULL DEFAULT 3600,
			consecutive_failures INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);

		-- Ingested articles, one row per content hash and source
		CREATE TABLE IF NOT EXISTS articles (
			id TEXT PRIMARY KEY,
			source_id TEXT NOT NULL REFERENCES sources(id) ON DELETE CASCADE,
			title TEXT NOT NULL DEFAULT '',
			url TEXT NOT NULL,
			content_html TEXT NOT NULL DEFAULT '',
			excerpt TEXT NOT NULL DEFAULT '',
			author TEXT NOT NULL DEFAULT '',
			published_at TIMESTAMP NOT NULL,
			image_url TEXT NOT NULL DEFAULT '',
			content_hash TEXT NOT NULL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			UNIQUE(source_id, content_hash)
		);

		CREATE INDEX IF NOT EXISTS idx_sources_status ON sources(status);
		CREATE INDEX IF NOT EXISTS idx_articles_source_published ON articles(source_id, published_at DESC);
		CREATE INDEX IF NOT EXISTS idx_articles_content_hash ON articles(content_hash);
	`,
	DownSQL: `
		DROP INDEX IF EXISTS idx_articles_content_hash;
		DROP INDEX IF EXISTS idx_articles_source_published;
		DROP INDEX IF EXISTS idx_sources_status;
		DROP TABLE IF EXISTS articles;
		DROP TABLE IF EXISTS sources;
	`,
}

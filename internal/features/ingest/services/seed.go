package services

import (
	"context"
	"errors"
	"fmt"
	"os"

	"feedflow/internal/features/ingest/models"

	"gopkg.in/yaml.v3"
)

// SeedFile is the YAML layout of a sources file:
//
//	sources:
//	  - name: Go Blog
//	    url: https://go.dev/blog/feed.atom
//	    kind: feed
//	    update_frequency: 3600
type SeedFile struct {
	Sources []models.SourceCreate `yaml:"sources"`
}

// LoadSeedFile reads and decodes a sources file
func LoadSeedFile(path string) (*SeedFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read sources file: %w", err)
	}

	var seed SeedFile
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("failed to parse sources file %s: %w", path, err)
	}
	return &seed, nil
}

// Seed upserts every source of the file. Invalid entries are logged and
// skipped; the number stored is returned.
func (s *SourceService) Seed(ctx context.Context, seed *SeedFile) (int, error) {
	stored := 0
	for i := range seed.Sources {
		entry := &seed.Sources[i]
		if _, err := s.UpsertByURL(ctx, entry); err != nil {
			var verr *ValidationError
			if errors.As(err, &verr) {
				s.logger.Warn("Skipping invalid seed source", "index", i, "url", entry.URL, "error", err)
				continue
			}
			return stored, err
		}
		stored++
	}
	s.logger.Info("Seeded sources", "count", stored)
	return stored, nil
}

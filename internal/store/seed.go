package store

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/ashureev/prdesk/internal/domain"
	"gopkg.in/yaml.v3"
)

// profileSeedFile is the on-disk layout of a profile seed file:
//
//	profiles:
//	  - id: acme
//	    name: Acme Corp
//	    facts:
//	      industry: logistics
//	      goals: [faster onboarding]
type profileSeedFile struct {
	Profiles []domain.Profile `yaml:"profiles"`
}

// LoadProfileSeed reads profiles from a YAML file and upserts them. Profiles
// without an owner are shared. A missing file is not an error.
func LoadProfileSeed(ctx context.Context, repo Repository, path string) (int, error) {
	if path == "" {
		return 0, nil
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		slog.Info("Profile seed file not found, skipping", "path", path)
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read profile seed: %w", err)
	}

	var seed profileSeedFile
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return 0, fmt.Errorf("parse profile seed %s: %w", path, err)
	}

	for i := range seed.Profiles {
		p := &seed.Profiles[i]
		if p.ID == "" {
			return i, fmt.Errorf("profile seed %s: entry %d has no id", path, i)
		}
		if err := repo.UpsertProfile(ctx, p); err != nil {
			return i, fmt.Errorf("seed profile %s: %w", p.ID, err)
		}
	}
	slog.Info("Seeded organization profiles", "path", path, "count", len(seed.Profiles))
	return len(seed.Profiles), nil
}

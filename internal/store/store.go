// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"

	"github.com/ashureev/prdesk/internal/domain"
)

// Repository defines the interface for persisting organization profiles and
// archived artifacts.
type Repository interface {
	// GetProfile retrieves a profile visible to ownerID: one the owner holds or
	// a shared one. Returns nil, nil when no such profile exists.
	GetProfile(ctx context.Context, ownerID, profileID string) (*domain.Profile, error)

	// ListProfiles returns the owner's profiles followed by shared ones.
	ListProfiles(ctx context.Context, ownerID string) ([]*domain.Profile, error)

	// UpsertProfile creates or updates a profile record.
	UpsertProfile(ctx context.Context, profile *domain.Profile) error

	// SaveArtifact archives a generated artifact.
	SaveArtifact(ctx context.Context, artifact domain.Artifact) error

	// ListArtifacts returns the owner's archived artifacts, newest first.
	ListArtifacts(ctx context.Context, ownerID string, limit int) ([]domain.Artifact, error)

	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}

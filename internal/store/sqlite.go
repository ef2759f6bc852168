package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/ashureev/prdesk/internal/domain"
	"github.com/ashureev/prdesk/internal/shared"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db    *sql.DB
	retry shared.RetryPolicy
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// WAL lets the archive writer and API readers proceed concurrently.
	dsn := dbPath + "?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db, retry: shared.DefaultRetryPolicy}
	if err := store.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS profiles (
		owner_id TEXT NOT NULL,
		profile_id TEXT NOT NULL,
		name TEXT NOT NULL,
		facts_json TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		PRIMARY KEY (owner_id, profile_id)
	);

	CREATE TABLE IF NOT EXISTS artifacts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		owner_id TEXT NOT NULL,
		session_id TEXT NOT NULL,
		seq INTEGER NOT NULL,
		type TEXT NOT NULL,
		title TEXT NOT NULL,
		description TEXT NOT NULL,
		content_json TEXT,
		metadata_json TEXT,
		created_at INTEGER NOT NULL,
		UNIQUE (session_id, seq)
	);
	CREATE INDEX IF NOT EXISTS idx_artifacts_owner ON artifacts(owner_id, created_at);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// GetProfile retrieves a profile owned by ownerID, falling back to a shared
// profile with the same ID.
func (s *SQLiteStore) GetProfile(ctx context.Context, ownerID, profileID string) (*domain.Profile, error) {
	query := `
		SELECT owner_id, profile_id, name, facts_json, created_at, updated_at
		FROM profiles
		WHERE profile_id = ? AND owner_id IN (?, ?)
		ORDER BY owner_id = ? DESC
		LIMIT 1`

	row := s.db.QueryRowContext(ctx, query, profileID, ownerID, domain.SharedOwner, ownerID)
	p, err := scanProfile(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan profile row: %w", err)
	}
	return p, nil
}

// ListProfiles returns the owner's profiles followed by shared ones.
func (s *SQLiteStore) ListProfiles(ctx context.Context, ownerID string) ([]*domain.Profile, error) {
	query := `
		SELECT owner_id, profile_id, name, facts_json, created_at, updated_at
		FROM profiles
		WHERE owner_id IN (?, ?)
		ORDER BY owner_id = ? DESC, profile_id`

	rows, err := s.db.QueryContext(ctx, query, ownerID, domain.SharedOwner, ownerID)
	if err != nil {
		return nil, fmt.Errorf("query profiles: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close profile rows", "error", closeErr)
		}
	}()

	var profiles []*domain.Profile
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, fmt.Errorf("scan profile row: %w", err)
		}
		profiles = append(profiles, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate profiles: %w", err)
	}
	return profiles, nil
}

// UpsertProfile creates or updates a profile record.
func (s *SQLiteStore) UpsertProfile(ctx context.Context, p *domain.Profile) error {
	if p.ID == "" {
		return errors.New("profile id is required")
	}
	facts, err := json.Marshal(p.Facts)
	if err != nil {
		return fmt.Errorf("encode profile facts: %w", err)
	}

	now := time.Now()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now

	query := `
	INSERT INTO profiles (owner_id, profile_id, name, facts_json, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?)
	ON CONFLICT(owner_id, profile_id) DO UPDATE SET
		name = excluded.name,
		facts_json = excluded.facts_json,
		updated_at = excluded.updated_at`

	return shared.RetryOnConflict(ctx, s.retry, "upsert profile", func() error {
		_, err := s.db.ExecContext(ctx, query,
			p.OwnerID, p.ID, p.Name, string(facts),
			p.CreatedAt.Unix(), p.UpdatedAt.Unix(),
		)
		if err != nil {
			return fmt.Errorf("upsert profile: %w", err)
		}
		return nil
	})
}

// SaveArtifact archives a generated artifact. Saving the same session/seq pair
// twice is a no-op.
func (s *SQLiteStore) SaveArtifact(ctx context.Context, a domain.Artifact) error {
	content, err := json.Marshal(a.GeneratedContent)
	if err != nil {
		return fmt.Errorf("encode artifact content: %w", err)
	}
	var metadata any
	if len(a.Metadata) > 0 {
		b, err := json.Marshal(a.Metadata)
		if err != nil {
			return fmt.Errorf("encode artifact metadata: %w", err)
		}
		metadata = string(b)
	}

	query := `
	INSERT INTO artifacts (owner_id, session_id, seq, type, title, description, content_json, metadata_json, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(session_id, seq) DO NOTHING`

	return shared.RetryOnConflict(ctx, s.retry, "save artifact", func() error {
		_, err := s.db.ExecContext(ctx, query,
			a.OwnerID, a.SessionID, a.Seq, a.Type, a.Title, a.Description,
			string(content), metadata, a.CreatedAt.UnixMilli(),
		)
		if err != nil {
			return fmt.Errorf("save artifact: %w", err)
		}
		return nil
	})
}

// ListArtifacts returns the owner's archived artifacts, newest first.
func (s *SQLiteStore) ListArtifacts(ctx context.Context, ownerID string, limit int) ([]domain.Artifact, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT owner_id, session_id, seq, type, title, description, content_json, metadata_json, created_at
		FROM artifacts
		WHERE owner_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query, ownerID, limit)
	if err != nil {
		return nil, fmt.Errorf("query artifacts: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close artifact rows", "error", closeErr)
		}
	}()

	var artifacts []domain.Artifact
	for rows.Next() {
		var a domain.Artifact
		var content, metadata sql.NullString
		var createdAt int64
		if err := rows.Scan(
			&a.OwnerID, &a.SessionID, &a.Seq, &a.Type, &a.Title, &a.Description,
			&content, &metadata, &createdAt,
		); err != nil {
			return nil, fmt.Errorf("scan artifact row: %w", err)
		}
		if content.Valid {
			if err := json.Unmarshal([]byte(content.String), &a.GeneratedContent); err != nil {
				return nil, fmt.Errorf("decode artifact content: %w", err)
			}
		}
		if metadata.Valid {
			if err := json.Unmarshal([]byte(metadata.String), &a.Metadata); err != nil {
				return nil, fmt.Errorf("decode artifact metadata: %w", err)
			}
		}
		a.CreatedAt = time.UnixMilli(createdAt).UTC()
		artifacts = append(artifacts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate artifacts: %w", err)
	}
	return artifacts, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProfile(row rowScanner) (*domain.Profile, error) {
	var p domain.Profile
	var facts string
	var createdAt, updatedAt int64
	if err := row.Scan(&p.OwnerID, &p.ID, &p.Name, &facts, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(facts), &p.Facts); err != nil {
		return nil, fmt.Errorf("decode profile facts: %w", err)
	}
	p.CreatedAt = time.Unix(createdAt, 0)
	p.UpdatedAt = time.Unix(updatedAt, 0)
	return &p, nil
}

var _ Repository = (*SQLiteStore)(nil)

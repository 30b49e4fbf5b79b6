package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/pavel-fokin/grayavatar/internal/avatar"
	_ "modernc.org/sqlite"
)

// Repository implements avatar.Index using SQLite
type Repository struct {
	db *sql.DB
}

// NewRepository opens the database at dbPath and prepares the schema
func NewRepository(dbPath string) (*Repository, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// A single connection serialises claims and keeps ":memory:" databases shared.
	db.SetMaxOpenConns(1)

	repo := &Repository{db: db}

	if err := repo.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return repo, nil
}

// Close closes the database connection
func (r *Repository) Close() error {
	return r.db.Close()
}

func (r *Repository) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS artifacts (
		id TEXT PRIMARY KEY,
		content_type TEXT NOT NULL,
		size INTEGER NOT NULL,
		created_at INTEGER NOT NULL,
		expires_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_artifacts_expires_at ON artifacts(expires_at);
	`
	if _, err := r.db.Exec(query); err != nil {
		return fmt.Errorf("failed to create artifacts table: %w", err)
	}

	return nil
}

// Create stores artifact metadata
func (r *Repository) Create(ctx context.Context, artifact *avatar.Artifact) error {
	query := `
	INSERT INTO artifacts (id, content_type, size, created_at, expires_at)
	VALUES (?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, query,
		artifact.ID,
		artifact.ContentType,
		artifact.Size,
		artifact.CreatedAt.UnixNano(),
		artifact.ExpiresAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to create artifact record: %w", err)
	}

	return nil
}

// Take removes the artifact record and returns it. Exactly one caller
// can take a given ID; later callers get avatar.ErrNotFound.
func (r *Repository) Take(ctx context.Context, id string) (*avatar.Artifact, error) {
	query := `
	DELETE FROM artifacts
	WHERE id = ?
	RETURNING id, content_type, size, created_at, expires_at
	`

	artifact, err := scanArtifact(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %q", avatar.ErrNotFound, id)
		}
		return nil, fmt.Errorf("failed to take artifact: %w", err)
	}

	return artifact, nil
}

// TakeExpired removes every record that expired at or before now and returns their IDs
func (r *Repository) TakeExpired(ctx context.Context, now time.Time) ([]string, error) {
	query := `
	DELETE FROM artifacts
	WHERE expires_at <= ?
	RETURNING id
	`

	rows, err := r.db.QueryContext(ctx, query, now.UnixNano())
	if err != nil {
		return nil, fmt.Errorf("failed to delete expired artifacts: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan artifact id: %w", err)
		}
		ids = append(ids, id)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating artifact rows: %w", err)
	}

	return ids, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanArtifact(row rowScanner) (*avatar.Artifact, error) {
	var artifact avatar.Artifact
	var createdAt, expiresAt int64
	err := row.Scan(
		&artifact.ID,
		&artifact.ContentType,
		&artifact.Size,
		&createdAt,
		&expiresAt,
	)
	if err != nil {
		return nil, err
	}

	artifact.CreatedAt = time.Unix(0, createdAt).UTC()
	artifact.ExpiresAt = time.Unix(0, expiresAt).UTC()
	return &artifact, nil
}

package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/NolanFox/rhodesli/internal/database"
)

// SnapshotRepository implements database.SnapshotBackend on the snapshots table.
type SnapshotRepository struct {
	pool *Pool
}

// NewSnapshotRepository creates a new PostgreSQL snapshot repository.
func NewSnapshotRepository(pool *Pool) *SnapshotRepository {
	return &SnapshotRepository{pool: pool}
}

// ReadSnapshot returns the stored snapshot or database.ErrSnapshotNotFound.
func (r *SnapshotRepository) ReadSnapshot(ctx context.Context, name string) ([]byte, error) {
	var data []byte
	err := r.pool.QueryRow(ctx, "SELECT data FROM snapshots WHERE name = $1", name).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, database.ErrSnapshotNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query snapshot %s: %w", name, err)
	}
	return data, nil
}

// WriteSnapshot upserts the snapshot. The JSONB column rejects malformed documents.
func (r *SnapshotRepository) WriteSnapshot(ctx context.Context, name string, data []byte) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO snapshots (name, data, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (name) DO UPDATE SET
			data = EXCLUDED.data,
			updated_at = NOW()
	`, name, string(data))
	if err != nil {
		return fmt.Errorf("upsert snapshot %s: %w", name, err)
	}
	return nil
}

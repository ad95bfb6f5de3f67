package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"

	"github.com/NolanFox/rhodesli/internal/embedding"
)

// FaceEmbedding is a row of the face_embeddings table.
type FaceEmbedding struct {
	FaceID string
	embedding.Record
}

// EmbeddingRepository provides PostgreSQL-backed face embedding storage.
type EmbeddingRepository struct {
	pool *Pool
}

// NewEmbeddingRepository creates a new PostgreSQL embedding repository
func NewEmbeddingRepository(pool *Pool) *EmbeddingRepository {
	return &EmbeddingRepository{pool: pool}
}

// Get retrieves the embedding of a face, returns nil if not found
func (r *EmbeddingRepository) Get(ctx context.Context, faceID string) (*FaceEmbedding, error) {
	query := `
		SELECT face_id, mean, uncertainty, quality
		FROM face_embeddings
		WHERE face_id = $1
	`
	emb, err := scanEmbedding(r.pool.QueryRow(ctx, query, faceID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query embedding: %w", err)
	}
	return emb, nil
}

// Count returns the total number of embeddings stored
func (r *EmbeddingRepository) Count(ctx context.Context) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM face_embeddings").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count embeddings: %w", err)
	}
	return count, nil
}

// CountByFaceIDs returns how many of the given faces have an embedding
func (r *EmbeddingRepository) CountByFaceIDs(ctx context.Context, faceIDs []string) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM face_embeddings WHERE face_id = ANY($1)", pq.Array(faceIDs)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count embeddings by face IDs: %w", err)
	}
	return count, nil
}

// SaveBatch upserts embeddings in a single transaction.
func (r *EmbeddingRepository) SaveBatch(ctx context.Context, embeddings []FaceEmbedding) error {
	if len(embeddings) == 0 {
		return nil
	}

	tx, err := r.pool.DB().BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO face_embeddings (face_id, mean, uncertainty, quality, dim, created_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (face_id) DO UPDATE SET
			mean = EXCLUDED.mean,
			uncertainty = EXCLUDED.uncertainty,
			quality = EXCLUDED.quality,
			dim = EXCLUDED.dim,
			created_at = NOW()
	`)
	if err != nil {
		return fmt.Errorf("prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, emb := range embeddings {
		if len(emb.Mean) == 0 {
			return fmt.Errorf("embedding %s has no mean vector", emb.FaceID)
		}
		var uncertainty any
		if len(emb.Uncertainty) > 0 {
			uncertainty = pgvector.NewVector(emb.Uncertainty)
		}
		if _, err := stmt.ExecContext(ctx, emb.FaceID, pgvector.NewVector(emb.Mean), uncertainty, emb.Quality, len(emb.Mean)); err != nil {
			return fmt.Errorf("insert embedding %s: %w", emb.FaceID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// LoadStore reads every embedding into an in-memory store.
func (r *EmbeddingRepository) LoadStore(ctx context.Context) (*embedding.MemoryStore, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT face_id, mean, uncertainty, quality
		FROM face_embeddings
		ORDER BY face_id
	`)
	if err != nil {
		return nil, fmt.Errorf("query all embeddings: %w", err)
	}
	defer rows.Close()

	store := embedding.NewMemoryStore()
	for rows.Next() {
		emb, err := scanEmbedding(rows)
		if err != nil {
			return nil, fmt.Errorf("scan embedding: %w", err)
		}
		store.Put(emb.FaceID, emb.Record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate embeddings: %w", err)
	}
	return store, nil
}

// NearestFaces returns the faces whose mean embedding is closest to query by
// Euclidean distance, nearest first.
func (r *EmbeddingRepository) NearestFaces(ctx context.Context, query []float32, limit int) ([]string, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT face_id
		FROM face_embeddings
		WHERE dim = $2
		ORDER BY mean <-> $1::vector, face_id
		LIMIT $3
	`, pgvector.NewVector(query), len(query), limit)
	if err != nil {
		return nil, fmt.Errorf("query nearest faces: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan face id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate nearest faces: %w", err)
	}
	return ids, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEmbedding(row rowScanner) (*FaceEmbedding, error) {
	var emb FaceEmbedding
	var mean pgvector.Vector
	var uncertainty sql.Null[pgvector.Vector]

	if err := row.Scan(&emb.FaceID, &mean, &uncertainty, &emb.Quality); err != nil {
		return nil, err
	}
	emb.Mean = mean.Slice()
	if uncertainty.Valid {
		emb.Uncertainty = uncertainty.V.Slice()
	}
	return &emb, nil
}

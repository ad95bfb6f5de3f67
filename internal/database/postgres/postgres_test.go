//go:build integration

package postgres

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/NolanFox/rhodesli/internal/config"
	"github.com/NolanFox/rhodesli/internal/database"
	"github.com/NolanFox/rhodesli/internal/embedding"
	"github.com/NolanFox/rhodesli/internal/identity"
)

func setupTestContainer(t *testing.T) (*Pool, func()) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "pgvector/pgvector:pg16",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "test",
			"POSTGRES_PASSWORD": "test",
			"POSTGRES_DB":       "testdb",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Skipf("Docker not available or container failed to start, skipping integration test: %v", err)
		return nil, func() {}
	}
	if container == nil {
		t.Skip("Docker not available, skipping integration test")
		return nil, func() {}
	}

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}

	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}

	dbURL := fmt.Sprintf("postgres://test:test@%s:%s/testdb?sslmode=disable", host, port.Port())

	cfg := &config.DatabaseConfig{
		URL:          dbURL,
		MaxOpenConns: 5,
		MaxIdleConns: 2,
	}

	pool, err := NewPool(cfg)
	if err != nil {
		container.Terminate(ctx)
		t.Fatalf("Failed to create pool: %v", err)
	}

	// Run migrations
	if _, err := pool.Migrate(ctx); err != nil {
		pool.Close()
		container.Terminate(ctx)
		t.Fatalf("Failed to run migrations: %v", err)
	}

	cleanup := func() {
		pool.Close()
		container.Terminate(ctx)
	}

	return pool, cleanup
}

func TestSnapshotRepository(t *testing.T) {
	pool, cleanup := setupTestContainer(t)
	if pool == nil {
		return
	}
	defer cleanup()

	ctx := context.Background()
	repo := NewSnapshotRepository(pool)

	t.Run("ReadMissing", func(t *testing.T) {
		_, err := repo.ReadSnapshot(ctx, database.SnapshotIdentities)
		if !errors.Is(err, database.ErrSnapshotNotFound) {
			t.Fatalf("Expected ErrSnapshotNotFound, got %v", err)
		}
	})

	t.Run("IdentityRegistryRoundTrip", func(t *testing.T) {
		reg := identity.NewRegistry(repo)
		id, err := reg.CreateIdentity(ctx, []string{"f1", "f2"}, "integration", identity.CreateOptions{Name: "Leon"})
		if err != nil {
			t.Fatalf("Failed to create identity: %v", err)
		}

		loaded := identity.NewRegistry(repo)
		if err := loaded.Load(ctx); err != nil {
			t.Fatalf("Failed to load identities: %v", err)
		}
		got, ok := loaded.Identity(id)
		if !ok {
			t.Fatal("Expected identity after reload")
		}
		if got.Name != "Leon" || len(got.AnchorIDs) != 2 {
			t.Errorf("Unexpected identity %+v", got)
		}
	})

	t.Run("RejectsMalformedJSON", func(t *testing.T) {
		if err := repo.WriteSnapshot(ctx, "broken", []byte("{not json")); err == nil {
			t.Error("Expected JSONB column to reject malformed snapshot")
		}
	})
}

func TestEmbeddingRepository(t *testing.T) {
	pool, cleanup := setupTestContainer(t)
	if pool == nil {
		return
	}
	defer cleanup()

	ctx := context.Background()
	repo := NewEmbeddingRepository(pool)

	faces := []FaceEmbedding{
		{FaceID: "f1", Record: embedding.Record{Mean: []float32{0, 0, 1}, Uncertainty: []float32{0.1, 0.1, 0.1}, Quality: 0.9}},
		{FaceID: "f2", Record: embedding.Record{Mean: []float32{0, 1, 0}, Quality: 0.7}},
		{FaceID: "f3", Record: embedding.Record{Mean: []float32{0, 0.9, 0.1}, Quality: 0.8}},
	}
	if err := repo.SaveBatch(ctx, faces); err != nil {
		t.Fatalf("Failed to save embeddings: %v", err)
	}

	t.Run("Get", func(t *testing.T) {
		got, err := repo.Get(ctx, "f1")
		if err != nil {
			t.Fatalf("Failed to get embedding: %v", err)
		}
		if got == nil {
			t.Fatal("Expected embedding, got nil")
		}
		if len(got.Mean) != 3 || len(got.Uncertainty) != 3 || got.Quality != 0.9 {
			t.Errorf("Unexpected embedding %+v", got)
		}

		missing, err := repo.Get(ctx, "nonexistent")
		if err != nil || missing != nil {
			t.Errorf("Expected nil, nil for missing face, got %v, %v", missing, err)
		}
	})

	t.Run("Count", func(t *testing.T) {
		count, err := repo.Count(ctx)
		if err != nil {
			t.Fatalf("Failed to count: %v", err)
		}
		if count != 3 {
			t.Errorf("Expected 3, got %d", count)
		}

		count, err = repo.CountByFaceIDs(ctx, []string{"f1", "f3", "nope"})
		if err != nil {
			t.Fatalf("Failed to count by face IDs: %v", err)
		}
		if count != 2 {
			t.Errorf("Expected 2, got %d", count)
		}
	})

	t.Run("LoadStore", func(t *testing.T) {
		store, err := repo.LoadStore(ctx)
		if err != nil {
			t.Fatalf("Failed to load store: %v", err)
		}
		if store.Len() != 3 {
			t.Errorf("Expected 3 embeddings, got %d", store.Len())
		}
		rec, ok := store.Lookup("f2")
		if !ok || rec.Uncertainty != nil {
			t.Errorf("Expected f2 without uncertainty, got %+v (%v)", rec, ok)
		}
	})

	t.Run("NearestFaces", func(t *testing.T) {
		ids, err := repo.NearestFaces(ctx, []float32{0, 1, 0}, 2)
		if err != nil {
			t.Fatalf("Failed to query nearest faces: %v", err)
		}
		if len(ids) != 2 || ids[0] != "f2" || ids[1] != "f3" {
			t.Errorf("Expected [f2 f3], got %v", ids)
		}
	})
}

func TestMigrations(t *testing.T) {
	pool, cleanup := setupTestContainer(t)
	if pool == nil {
		return
	}
	defer cleanup()

	ctx := context.Background()

	// Check migrations were applied
	applied, err := pool.MigrationsApplied(ctx)
	if err != nil {
		t.Fatalf("Failed to get applied migrations: %v", err)
	}

	expectedMigrations := []string{
		"001_create_snapshots.sql",
		"002_create_face_embeddings.sql",
	}

	if len(applied) != len(expectedMigrations) {
		t.Errorf("Expected %d migrations, got %d", len(expectedMigrations), len(applied))
	}

	for i, expected := range expectedMigrations {
		if i < len(applied) && applied[i] != expected {
			t.Errorf("Migration %d: expected '%s', got '%s'", i, expected, applied[i])
		}
	}

	// A second run applies nothing.
	again, err := pool.Migrate(ctx)
	if err != nil {
		t.Fatalf("Failed to re-run migrations: %v", err)
	}
	if len(again) != 0 {
		t.Errorf("Expected no pending migrations, got %v", again)
	}
}

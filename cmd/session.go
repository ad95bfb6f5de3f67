package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/NolanFox/rhodesli/internal/config"
	"github.com/NolanFox/rhodesli/internal/database"
	"github.com/NolanFox/rhodesli/internal/database/postgres"
	"github.com/NolanFox/rhodesli/internal/database/sqlite"
	"github.com/NolanFox/rhodesli/internal/embedding"
	"github.com/NolanFox/rhodesli/internal/identity"
	"github.com/NolanFox/rhodesli/internal/logger"
	"github.com/NolanFox/rhodesli/internal/matching"
	"github.com/NolanFox/rhodesli/internal/photo"
)

// session bundles everything a command needs: configuration, the snapshot
// backend and both registries loaded from it.
type session struct {
	cfg        *config.Config
	logger     *zap.Logger
	backend    database.SnapshotBackend
	pool       *postgres.Pool
	identities *identity.Registry
	photos     *photo.Registry
	closers    []func() error
}

// openSession loads configuration, opens the configured backend and loads
// both registries. The caller must Close the session.
func openSession(cmd *cobra.Command) (*session, error) {
	ctx := cmd.Context()
	cfg := config.Load()

	log, err := logger.NewLogger(cfg.Log.Env, cfg.Log.Level)
	if err != nil {
		return nil, err
	}
	s := &session{cfg: cfg, logger: log}
	ctx = logger.ContextWithLogger(ctx, log)
	cmd.SetContext(ctx)

	if err := s.openBackend(ctx); err != nil {
		s.Close()
		return nil, err
	}

	s.identities = identity.NewRegistry(s.backend, identity.WithLogger(log.Named("identity")))
	s.photos = photo.NewRegistry(s.backend, photo.WithLogger(log.Named("photo")))

	if mustGetBool(cmd, "allow-empty") {
		err = errors.Join(s.identities.LoadOrEmpty(ctx), s.photos.LoadOrEmpty(ctx))
	} else {
		err = errors.Join(s.identities.Load(ctx), s.photos.Load(ctx))
	}
	if err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

func (s *session) openBackend(ctx context.Context) error {
	switch s.cfg.Storage.Backend {
	case "file":
		b, err := database.NewFileBackend(s.cfg.Storage.DataDir)
		if err != nil {
			return err
		}
		s.backend = b
	case "sqlite":
		b, err := sqlite.Open(s.cfg.Storage.SQLitePath)
		if err != nil {
			return err
		}
		s.closers = append(s.closers, b.Close)
		s.backend = b
		s.logger.Debug("sqlite snapshot store", zap.String("path", b.Path()))
	case "postgres":
		pool, err := s.postgres(ctx)
		if err != nil {
			return err
		}
		s.backend = postgres.NewSnapshotRepository(pool)
	default:
		return fmt.Errorf("unknown storage backend %q (want file, sqlite or postgres)", s.cfg.Storage.Backend)
	}
	s.logger.Debug("storage backend opened", zap.String("backend", s.cfg.Storage.Backend))
	return nil
}

// postgres opens the connection pool once and applies pending migrations.
func (s *session) postgres(ctx context.Context) (*postgres.Pool, error) {
	if s.pool != nil {
		return s.pool, nil
	}
	pool, err := postgres.Open(ctx, &s.cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	s.pool = pool
	s.closers = append(s.closers, pool.Close)
	return pool, nil
}

// embeddings loads the face embedding store from the configured source.
func (s *session) embeddings(ctx context.Context) (embedding.Store, error) {
	switch s.cfg.Embeddings.Source {
	case "file":
		store, err := embedding.LoadJSONFile(s.cfg.Embeddings.Path)
		if err != nil {
			return nil, err
		}
		s.logger.Info("embeddings loaded", zap.String("path", s.cfg.Embeddings.Path), zap.Int("faces", store.Len()))
		return store, nil
	case "postgres":
		pool, err := s.postgres(ctx)
		if err != nil {
			return nil, err
		}
		store, err := postgres.NewEmbeddingRepository(pool).LoadStore(ctx)
		if err != nil {
			return nil, err
		}
		s.logger.Info("embeddings loaded", zap.String("source", "postgres"), zap.Int("faces", store.Len()))
		return store, nil
	default:
		return nil, fmt.Errorf("unknown embeddings source %q (want file or postgres)", s.cfg.Embeddings.Source)
	}
}

// engine builds the matching engine with the configured calibration and
// audit sink. The audit log is closed with the session.
func (s *session) engine() *matching.Engine {
	calibration, err := config.LoadCalibration(s.cfg.Matching.CalibrationPath)
	if err != nil {
		s.logger.Warn("using fallback calibration", zap.Error(err))
	}
	audit := matching.OpenAuditLog(s.cfg.Matching.AuditLogPath, s.logger)
	s.closers = append(s.closers, audit.Close)

	return matching.NewEngine(
		matching.WithCalibration(calibration),
		matching.WithLogger(s.logger.Named("matching")),
		matching.WithAuditLog(audit),
	)
}

// Close releases backend connections and flushes the logger.
func (s *session) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			s.logger.Warn("close failed", zap.Error(err))
		}
	}
	_ = s.logger.Sync()
}

// outputJSON writes data as indented JSON to stdout.
func outputJSON(data any) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(data); err != nil {
		return fmt.Errorf("encoding JSON output: %w", err)
	}
	return nil
}

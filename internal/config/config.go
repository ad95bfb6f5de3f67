package config

import (
	"os"
	"path/filepath"
	"strconv"
)

type Config struct {
	Storage    StorageConfig
	Database   DatabaseConfig
	Embeddings EmbeddingsConfig
	Matching   MatchingConfig
	Log        LogConfig
}

type StorageConfig struct {
	Backend    string // file, sqlite or postgres (defaults to file)
	DataDir    string // directory holding identities.json and photo_index.json
	SQLitePath string // defaults to <DataDir>/rhodesli.db
}

type DatabaseConfig struct {
	URL          string // PostgreSQL connection URL
	MaxOpenConns int    // Maximum open connections (default 25)
	MaxIdleConns int    // Maximum idle connections (default 5)
}

type EmbeddingsConfig struct {
	Source string // file or postgres (defaults to file)
	Path   string // JSON embeddings artifact, defaults to <DataDir>/embeddings.json
}

type MatchingConfig struct {
	CalibrationPath string // optional calibration YAML, embedded fallback is used when empty or unreadable
	AuditLogPath    string // append-only neighbor search audit log (empty disables auditing)
	NeighborLimit   int    // default result count for neighbor search (default 10)
}

type LogConfig struct {
	Env   string // prod or dev (defaults to dev)
	Level string // optional override: debug, info, warn, error
}

// envInt reads an environment variable and parses it as a positive integer.
// Returns the default value if the env var is unset, empty, or invalid.
func envInt(key string, defaultVal int) int {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return n
	}
	return defaultVal
}

// envString returns the environment variable or defaultVal when it is unset or empty.
func envString(key, defaultVal string) string {
	if s := os.Getenv(key); s != "" {
		return s
	}
	return defaultVal
}

func Load() *Config {
	dataDir := envString("RHODESLI_DATA_DIR", "data")

	return &Config{
		Storage: StorageConfig{
			Backend:    envString("RHODESLI_BACKEND", "file"),
			DataDir:    dataDir,
			SQLitePath: envString("RHODESLI_SQLITE_PATH", filepath.Join(dataDir, "rhodesli.db")),
		},
		Database: DatabaseConfig{
			URL:          os.Getenv("DATABASE_URL"),
			MaxOpenConns: envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns: envInt("DATABASE_MAX_IDLE_CONNS", 5),
		},
		Embeddings: EmbeddingsConfig{
			Source: envString("RHODESLI_EMBEDDINGS_SOURCE", "file"),
			Path:   envString("RHODESLI_EMBEDDINGS_PATH", filepath.Join(dataDir, "embeddings.json")),
		},
		Matching: MatchingConfig{
			CalibrationPath: os.Getenv("RHODESLI_CALIBRATION_PATH"),
			AuditLogPath:    os.Getenv("RHODESLI_AUDIT_LOG"),
			NeighborLimit:   envInt("RHODESLI_NEIGHBOR_LIMIT", 10),
		},
		Log: LogConfig{
			Env:   envString("RHODESLI_ENV", "dev"),
			Level: os.Getenv("RHODESLI_LOG_LEVEL"),
		},
	}
}

// Package store persists trained models in a registry with one active entry.
package store

import (
	"context"
	"encoding/json"
	"os"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/effort-cli/internal/config"
	"github.com/sells-group/effort-cli/internal/regressor"
)

// ModelInfo is the registry metadata of a stored model, without its artifact.
type ModelInfo struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Backend     regressor.Kind    `json:"backend"`
	Fingerprint string            `json:"fingerprint"`
	Metrics     regressor.Metrics `json:"metrics"`
	Active      bool              `json:"active"`
	TrainedAt   time.Time         `json:"trained_at"`
	CreatedAt   time.Time         `json:"created_at"`
}

// Stats summarizes the registry.
type Stats struct {
	Total         int            `json:"total"`
	ActiveID      string         `json:"active_id,omitempty"`
	ByBackend     map[string]int `json:"by_backend"`
	LastTrainedAt *time.Time     `json:"last_trained_at,omitempty"`
}

// Store defines the persistence interface for trained models.
type Store interface {
	// SaveModel stores tm and, when activate is set, makes it the active model.
	SaveModel(ctx context.Context, tm *regressor.TrainedModel, activate bool) error
	// GetActiveModel returns the active model, or nil when none is active.
	GetActiveModel(ctx context.Context) (*regressor.TrainedModel, error)
	GetModel(ctx context.Context, id string) (*regressor.TrainedModel, error)
	ListModels(ctx context.Context, limit int) ([]ModelInfo, error)
	ActivateModel(ctx context.Context, id string) error
	DeleteModel(ctx context.Context, id string) error
	Stats(ctx context.Context) (*Stats, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// Open returns the Store named by cfg.Driver, migrated and ready to use.
func Open(ctx context.Context, cfg config.StoreConfig) (Store, error) {
	var s Store
	var err error
	switch cfg.Driver {
	case "", "sqlite":
		s, err = NewSQLite(cfg.DatabaseURL)
	case "postgres":
		s, err = NewPostgres(ctx, cfg.DatabaseURL, nil)
	default:
		return nil, eris.Errorf("store: unknown driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}
	if err := s.Migrate(ctx); err != nil {
		s.Close() //nolint:errcheck
		return nil, err
	}
	return s, nil
}

// Exists reports whether the registry described by cfg can hold models
// without being created first. Postgres is assumed to exist; a SQLite
// registry exists once its database file does.
func Exists(cfg config.StoreConfig) bool {
	if cfg.Driver == "postgres" {
		return true
	}
	path := strings.TrimPrefix(cfg.DatabaseURL, "file:")
	path, _, _ = strings.Cut(path, "?")
	if path == "" || path == ":memory:" {
		return false
	}
	_, err := os.Stat(path)
	return err == nil
}

func notFound(id string) error {
	return eris.Errorf("model not found: %s", id)
}

func summarize(tm *regressor.TrainedModel) (artifact, metrics []byte, err error) {
	artifact, err = regressor.EncodeArtifact(tm)
	if err != nil {
		return nil, nil, err
	}
	metrics, err = json.Marshal(tm.Metrics)
	if err != nil {
		return nil, nil, eris.Wrap(err, "store: marshal metrics")
	}
	return artifact, metrics, nil
}

package main

import (
	"context"
	"encoding/json"
	"io"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/effort-cli/internal/policy"
	"github.com/sells-group/effort-cli/internal/regressor"
	"github.com/sells-group/effort-cli/internal/store"
)

func openStore(ctx context.Context) (store.Store, error) {
	return store.Open(ctx, cfg.Store)
}

func newAdapter() (*regressor.Adapter, error) {
	return regressor.NewAdapter(cfg.Model, policy.New(cfg.Policy))
}

// modelSource selects a trained model: an artifact file, a registry id, or
// the registry's active model.
type modelSource struct {
	artifact string
	id       string
}

// load resolves the model. With required unset, a missing registry or
// active model yields nil without error, and a SQLite registry that does
// not exist yet is left uncreated.
func (m modelSource) load(ctx context.Context, required bool) (*regressor.TrainedModel, error) {
	if m.artifact != "" {
		return regressor.ReadArtifact(m.artifact)
	}

	if !required && m.id == "" && !store.Exists(cfg.Store) {
		zap.L().Info("no model registry, using fallback rules only", zap.String("database_url", cfg.Store.DatabaseURL))
		return nil, nil
	}

	st, err := openStore(ctx)
	if err != nil {
		return nil, err
	}
	defer st.Close() //nolint:errcheck

	if m.id != "" {
		return st.GetModel(ctx, m.id)
	}
	tm, err := st.GetActiveModel(ctx)
	if err != nil {
		return nil, err
	}
	if tm == nil && required {
		return nil, eris.New("no active model: train one or pass --model-id/--artifact")
	}
	if tm == nil {
		zap.L().Info("no active model, using fallback rules only")
	}
	return tm, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

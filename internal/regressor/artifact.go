package regressor

import (
	"encoding/json"
	"math"
	"os"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/effort-cli/internal/features"
	"github.com/sells-group/effort-cli/internal/model"
)

// ArtifactFormat tags serialized models.
const ArtifactFormat = "effort-model/v1"

// TrainedModel is an immutable fitted model together with everything needed
// to apply it: the feature schema it was trained on, the fitted encoder and
// the backend state.
type TrainedModel struct {
	ID            string          `json:"id"`
	Name          string          `json:"name"`
	Backend       Kind            `json:"backend"`
	Params        Params          `json:"params"`
	Schema        features.Schema `json:"schema"`
	Fingerprint   string          `json:"fingerprint"`
	Encoder       *Encoder        `json:"encoder"`
	EffortLimit   float64         `json:"effort_limit"`
	TargetCeiling float64         `json:"target_ceiling"`
	Metrics       Metrics         `json:"metrics"`
	TrainedAt     time.Time       `json:"trained_at"`

	backend Backend
}

// FeatureCount returns the number of features in the schema.
func (tm *TrainedModel) FeatureCount() int {
	return tm.Schema.Len()
}

// predict returns the backend output for encoded rows, bounded to the
// model's target range [0, TargetCeiling].
func (tm *TrainedModel) predict(x [][]float64) []float64 {
	out := make([]float64, len(x))
	for i, row := range x {
		v := tm.backend.Predict(row)
		if math.IsNaN(v) {
			v = 0
		}
		out[i] = math.Max(0, math.Min(v, tm.TargetCeiling))
	}
	return out
}

type artifactFile struct {
	Format string          `json:"format"`
	Model  *TrainedModel   `json:"model"`
	State  json.RawMessage `json:"state"`
}

// EncodeArtifact serializes tm.
func EncodeArtifact(tm *TrainedModel) ([]byte, error) {
	if tm.backend == nil {
		return nil, eris.New("regressor: model has no fitted backend")
	}
	state, err := tm.backend.State()
	if err != nil {
		return nil, eris.Wrap(err, "regressor: encode backend state")
	}
	data, err := json.Marshal(artifactFile{Format: ArtifactFormat, Model: tm, State: state})
	if err != nil {
		return nil, eris.Wrap(err, "regressor: encode artifact")
	}
	return data, nil
}

// DecodeArtifact restores a model. The stored fingerprint must match what the
// current deriver computes for the stored schema; otherwise the artifact was
// produced by an incompatible deriver and a *model.SchemaMismatchError is
// returned.
func DecodeArtifact(data []byte) (*TrainedModel, error) {
	var f artifactFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, eris.Wrap(err, "regressor: decode artifact")
	}
	if f.Format != ArtifactFormat {
		return nil, eris.Errorf("regressor: unsupported artifact format %q", f.Format)
	}
	tm := f.Model
	if tm == nil || tm.Encoder == nil {
		return nil, eris.New("regressor: artifact is missing the model")
	}

	if fp := tm.Schema.Fingerprint(); fp != tm.Fingerprint {
		return nil, &model.SchemaMismatchError{Expected: tm.Fingerprint, Actual: fp}
	}
	if len(tm.Encoder.Kinds) != tm.Schema.Len() {
		return nil, eris.Errorf("regressor: encoder covers %d features, schema has %d", len(tm.Encoder.Kinds), tm.Schema.Len())
	}

	b, err := RestoreBackend(tm.Backend, tm.Params, f.State)
	if err != nil {
		return nil, err
	}
	tm.backend = b
	return tm, nil
}

// WriteArtifact encodes tm to path.
func WriteArtifact(path string, tm *TrainedModel) error {
	data, err := EncodeArtifact(tm)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return eris.Wrapf(err, "regressor: write artifact %s", path)
	}
	return nil
}

// ReadArtifact decodes the artifact at path.
func ReadArtifact(path string) (*TrainedModel, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "regressor: read artifact %s", path)
	}
	return DecodeArtifact(data)
}

package regressor

import (
	"context"
	"encoding/json"

	"github.com/rotisserie/eris"

	"github.com/sells-group/effort-cli/internal/config"
	"github.com/sells-group/effort-cli/internal/regressor/boost"
	"github.com/sells-group/effort-cli/internal/regressor/linear"
)

// Kind names a regression backend.
type Kind string

const (
	KindSymmetric Kind = "symmetric"
	KindDepthwise Kind = "depthwise"
	KindLossguide Kind = "lossguide"
	KindLinear    Kind = "linear"
)

// Params are the hyperparameters shared by every backend. Backends ignore
// the fields they have no use for.
type Params struct {
	Iterations          int     `json:"iterations" yaml:"iterations"`
	Depth               int     `json:"depth" yaml:"depth"`
	LearningRate        float64 `json:"learning_rate" yaml:"learning_rate"`
	L2LeafReg           float64 `json:"l2_leaf_reg" yaml:"l2_leaf_reg"`
	Subsample           float64 `json:"subsample" yaml:"subsample"`
	MaxLeaves           int     `json:"max_leaves" yaml:"max_leaves"`
	MinSamplesLeaf      int     `json:"min_samples_leaf" yaml:"min_samples_leaf"`
	EarlyStoppingRounds int     `json:"early_stopping_rounds" yaml:"early_stopping_rounds"`
	Seed                int64   `json:"seed" yaml:"seed"`
}

// ParamsFromConfig extracts the backend hyperparameters from cfg.
func ParamsFromConfig(cfg config.ModelConfig) Params {
	return Params{
		Iterations:          cfg.Iterations,
		Depth:               cfg.Depth,
		LearningRate:        cfg.LearningRate,
		L2LeafReg:           cfg.L2LeafReg,
		Subsample:           cfg.Subsample,
		MaxLeaves:           cfg.MaxLeaves,
		MinSamplesLeaf:      cfg.MinSamplesLeaf,
		EarlyStoppingRounds: cfg.EarlyStoppingRounds,
		Seed:                cfg.Seed,
	}
}

// Matrix is an encoded, dense design matrix with its targets.
type Matrix struct {
	X [][]float64
	Y []float64
}

// Len returns the number of rows.
func (m Matrix) Len() int {
	return len(m.X)
}

// Backend is the capability every regression variant provides. Fit may use
// valid for early stopping; it must not be used for anything else.
type Backend interface {
	Kind() Kind
	Fit(ctx context.Context, train, valid Matrix) error
	Predict(x []float64) float64
	Importance() []float64
	State() (json.RawMessage, error)
}

// NewBackend returns an unfitted backend of the given kind.
func NewBackend(kind Kind, p Params) (Backend, error) {
	switch kind {
	case KindSymmetric:
		return &boostBackend{kind: kind, params: boostParams(boost.Symmetric, p)}, nil
	case KindDepthwise:
		return &boostBackend{kind: kind, params: boostParams(boost.Depthwise, p)}, nil
	case KindLossguide:
		return &boostBackend{kind: kind, params: boostParams(boost.Lossguide, p)}, nil
	case KindLinear:
		return &linearBackend{}, nil
	default:
		return nil, eris.Errorf("regressor: unknown backend %q", kind)
	}
}

// RestoreBackend rebuilds a fitted backend from its serialized state.
func RestoreBackend(kind Kind, p Params, state json.RawMessage) (Backend, error) {
	b, err := NewBackend(kind, p)
	if err != nil {
		return nil, err
	}
	switch bb := b.(type) {
	case *boostBackend:
		var e boost.Ensemble
		if err := json.Unmarshal(state, &e); err != nil {
			return nil, eris.Wrap(err, "regressor: decode ensemble")
		}
		if err := e.Validate(); err != nil {
			return nil, eris.Wrap(err, "regressor: restore ensemble")
		}
		bb.ens = &e
	case *linearBackend:
		var m linear.Model
		if err := json.Unmarshal(state, &m); err != nil {
			return nil, eris.Wrap(err, "regressor: decode linear model")
		}
		if err := m.Validate(); err != nil {
			return nil, eris.Wrap(err, "regressor: restore linear model")
		}
		bb.m = &m
	}
	return b, nil
}

func boostParams(policy boost.Policy, p Params) boost.Params {
	return boost.Params{
		Policy:              policy,
		Iterations:          p.Iterations,
		Depth:               p.Depth,
		LearningRate:        p.LearningRate,
		L2:                  p.L2LeafReg,
		Subsample:           p.Subsample,
		MaxLeaves:           p.MaxLeaves,
		MinSamplesLeaf:      p.MinSamplesLeaf,
		EarlyStoppingRounds: p.EarlyStoppingRounds,
		Seed:                p.Seed,
	}
}

type boostBackend struct {
	kind   Kind
	params boost.Params
	ens    *boost.Ensemble
}

func (b *boostBackend) Kind() Kind { return b.kind }

func (b *boostBackend) Fit(ctx context.Context, train, valid Matrix) error {
	e, err := boost.Fit(ctx, b.params, train.X, train.Y, valid.X, valid.Y)
	if err != nil {
		return eris.Wrapf(err, "regressor: fit %s", b.kind)
	}
	b.ens = e
	return nil
}

func (b *boostBackend) Predict(x []float64) float64 {
	return b.ens.Predict(x)
}

func (b *boostBackend) Importance() []float64 {
	return b.ens.Importance()
}

func (b *boostBackend) State() (json.RawMessage, error) {
	if b.ens == nil {
		return nil, eris.New("regressor: backend not fitted")
	}
	return json.Marshal(b.ens)
}

type linearBackend struct {
	m *linear.Model
}

func (b *linearBackend) Kind() Kind { return KindLinear }

func (b *linearBackend) Fit(_ context.Context, train, _ Matrix) error {
	m, err := linear.Fit(train.X, train.Y)
	if err != nil {
		return eris.Wrap(err, "regressor: fit linear")
	}
	b.m = m
	return nil
}

func (b *linearBackend) Predict(x []float64) float64 {
	return b.m.Predict(x)
}

func (b *linearBackend) Importance() []float64 {
	return b.m.Importance()
}

func (b *linearBackend) State() (json.RawMessage, error) {
	if b.m == nil {
		return nil, eris.New("regressor: backend not fitted")
	}
	return json.Marshal(b.m)
}

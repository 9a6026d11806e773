package regressor

import (
	"context"
	"os"
	"runtime"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/effort-cli/internal/features"
)

// tuningFolds is the cross-validation depth of the grid search.
const tuningFolds = 2

// Grid lists candidate values per hyperparameter. Empty lists keep the base
// value.
type Grid struct {
	Iterations     []int     `yaml:"iterations"`
	Depth          []int     `yaml:"depth"`
	LearningRate   []float64 `yaml:"learning_rate"`
	L2LeafReg      []float64 `yaml:"l2_leaf_reg"`
	MaxLeaves      []int     `yaml:"max_leaves"`
	MinSamplesLeaf []int     `yaml:"min_samples_leaf"`
}

// DefaultGrid is searched when no grid file is configured.
func DefaultGrid() Grid {
	return Grid{
		Iterations:   []int{100, 200},
		Depth:        []int{4, 6},
		LearningRate: []float64{0.05, 0.1},
		L2LeafReg:    []float64{1, 3},
	}
}

// LoadGrid reads a Grid from a YAML file.
func LoadGrid(path string) (Grid, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Grid{}, eris.Wrapf(err, "regressor: read tuning grid %s", path)
	}
	var g Grid
	if err := yaml.Unmarshal(data, &g); err != nil {
		return Grid{}, eris.Wrapf(err, "regressor: parse tuning grid %s", path)
	}
	return g, nil
}

// Expand returns every combination of the grid applied over base, in a
// fixed order.
func (g Grid) Expand(base Params) []Params {
	out := []Params{base}
	out = expandInt(out, g.Iterations, func(p *Params, v int) { p.Iterations = v })
	out = expandInt(out, g.Depth, func(p *Params, v int) { p.Depth = v })
	out = expandFloat(out, g.LearningRate, func(p *Params, v float64) { p.LearningRate = v })
	out = expandFloat(out, g.L2LeafReg, func(p *Params, v float64) { p.L2LeafReg = v })
	out = expandInt(out, g.MaxLeaves, func(p *Params, v int) { p.MaxLeaves = v })
	out = expandInt(out, g.MinSamplesLeaf, func(p *Params, v int) { p.MinSamplesLeaf = v })
	return out
}

func expandInt(in []Params, vals []int, set func(*Params, int)) []Params {
	if len(vals) == 0 {
		return in
	}
	out := make([]Params, 0, len(in)*len(vals))
	for _, p := range in {
		for _, v := range vals {
			q := p
			set(&q, v)
			out = append(out, q)
		}
	}
	return out
}

func expandFloat(in []Params, vals []float64, set func(*Params, float64)) []Params {
	if len(vals) == 0 {
		return in
	}
	out := make([]Params, 0, len(in)*len(vals))
	for _, p := range in {
		for _, v := range vals {
			q := p
			set(&q, v)
			out = append(out, q)
		}
	}
	return out
}

// tune grid-searches candidates with k-fold CV over samples and returns the
// candidate with the lowest mean RMSE. Ties keep the earlier candidate.
func tune(ctx context.Context, kind Kind, schema features.Schema, candidates []Params, samples []sample, seed int64) (Params, float64, error) {
	if len(candidates) == 0 {
		return Params{}, 0, eris.New("regressor: empty tuning grid")
	}
	folds := kfold(len(samples), tuningFolds, seed)
	losses := make([]float64, len(candidates))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, p := range candidates {
		g.Go(func() error {
			var total float64
			for _, fold := range folds {
				q := p
				q.EarlyStoppingRounds = 0
				loss, err := foldRMSE(gctx, kind, schema, q, samples, fold)
				if err != nil {
					return err
				}
				total += loss
			}
			losses[i] = total / float64(len(folds))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Params{}, 0, eris.Wrap(err, "regressor: tune")
	}

	best := 0
	for i, l := range losses {
		if l < losses[best] {
			best = i
		}
	}
	zap.L().Info("regressor: tuning complete",
		zap.String("backend", string(kind)),
		zap.Int("candidates", len(candidates)),
		zap.Float64("best_rmse", losses[best]),
		zap.Int("best_iterations", candidates[best].Iterations),
		zap.Int("best_depth", candidates[best].Depth),
		zap.Float64("best_learning_rate", candidates[best].LearningRate),
		zap.Float64("best_l2_leaf_reg", candidates[best].L2LeafReg),
	)
	return candidates[best], losses[best], nil
}

// foldRMSE fits a fresh encoder and backend on every sample outside fold and
// scores it on fold.
func foldRMSE(ctx context.Context, kind Kind, schema features.Schema, p Params, samples []sample, fold []int) (float64, error) {
	trainVecs, trainY := pick(samples, complement(len(samples), fold))
	validVecs, validY := pick(samples, fold)

	enc := FitEncoder(schema, trainVecs, trainY)
	b, err := NewBackend(kind, p)
	if err != nil {
		return 0, err
	}
	if err := b.Fit(ctx, Matrix{X: enc.TransformTraining(trainVecs, trainY), Y: trainY}, Matrix{}); err != nil {
		return 0, err
	}
	x := enc.Transform(validVecs)
	pred := make([]float64, len(x))
	for i, row := range x {
		pred[i] = b.Predict(row)
	}
	return rmseOf(pred, validY), nil
}

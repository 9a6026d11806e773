// Package boost is a histogram-based gradient-boosted regression tree learner
// with three tree growth policies.
package boost

import (
	"context"
	"math"
	"math/rand"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Policy selects how each tree is grown.
type Policy string

const (
	// Symmetric grows oblivious trees: one split per level.
	Symmetric Policy = "symmetric"
	// Depthwise grows each node on its own best split, level by level.
	Depthwise Policy = "depthwise"
	// Lossguide grows the highest-gain leaf first up to a leaf budget.
	Lossguide Policy = "lossguide"
)

// Params configures Fit.
type Params struct {
	Policy              Policy  `json:"policy"`
	Iterations          int     `json:"iterations"`
	Depth               int     `json:"depth"`
	LearningRate        float64 `json:"learning_rate"`
	L2                  float64 `json:"l2"`
	Subsample           float64 `json:"subsample"`
	MaxLeaves           int     `json:"max_leaves"`
	MinSamplesLeaf      int     `json:"min_samples_leaf"`
	EarlyStoppingRounds int     `json:"early_stopping_rounds"`
	Seed                int64   `json:"seed"`
}

func (p Params) withDefaults() Params {
	if p.Policy == "" {
		p.Policy = Symmetric
	}
	if p.Iterations <= 0 {
		p.Iterations = 200
	}
	if p.Depth <= 0 {
		p.Depth = 6
	}
	if p.LearningRate <= 0 {
		p.LearningRate = 0.1
	}
	if p.L2 < 0 {
		p.L2 = 0
	}
	if p.MaxLeaves < 2 {
		p.MaxLeaves = 31
	}
	if p.MinSamplesLeaf < 1 {
		p.MinSamplesLeaf = 1
	}
	return p
}

// Ensemble is a fitted model: Base plus LearningRate times the sum of the
// tree outputs.
type Ensemble struct {
	Policy        Policy  `json:"policy"`
	Base          float64 `json:"base"`
	LearningRate  float64 `json:"learning_rate"`
	Features      int     `json:"features"`
	Trees         []Tree  `json:"trees"`
	BestIteration int     `json:"best_iteration"`
}

// Fit trains an ensemble on x, y. When vx is non-empty and early stopping is
// enabled, training stops once the validation RMSE has not improved for
// EarlyStoppingRounds iterations and the ensemble is truncated to its best
// iteration. ctx is checked between iterations.
func Fit(ctx context.Context, p Params, x [][]float64, y []float64, vx [][]float64, vy []float64) (*Ensemble, error) {
	if len(x) == 0 {
		return nil, eris.New("boost: empty training set")
	}
	if len(x) != len(y) {
		return nil, eris.Errorf("boost: %d rows but %d targets", len(x), len(y))
	}
	if len(vx) != len(vy) {
		return nil, eris.Errorf("boost: %d validation rows but %d targets", len(vx), len(vy))
	}
	p = p.withDefaults()
	nFeat := len(x[0])

	var base float64
	for _, v := range y {
		base += v
	}
	base /= float64(len(y))

	e := &Ensemble{Policy: p.Policy, Base: base, LearningRate: p.LearningRate, Features: nFeat}

	g := &grower{b: quantize(x, nFeat), grad: make([]float64, len(x)), p: p, nFeat: nFeat}
	pred := make([]float64, len(x))
	for i := range pred {
		pred[i] = base
	}
	vpred := make([]float64, len(vx))
	for i := range vpred {
		vpred[i] = base
	}

	rng := rand.New(rand.NewSource(p.Seed)) //nolint:gosec // deterministic subsampling
	all := make([]int, len(x))
	for i := range all {
		all[i] = i
	}

	early := len(vx) > 0 && p.EarlyStoppingRounds > 0
	bestLoss := math.Inf(1)
	best := 0

	for it := 0; it < p.Iterations; it++ {
		if err := ctx.Err(); err != nil {
			return nil, eris.Wrap(err, "boost: fit cancelled")
		}

		for i := range g.grad {
			g.grad[i] = y[i] - pred[i]
		}
		t := g.grow(sample(rng, all, p.Subsample))
		e.Trees = append(e.Trees, t)

		for i, row := range x {
			pred[i] += p.LearningRate * t.predict(row)
		}
		if !early {
			continue
		}

		var sse float64
		for i, row := range vx {
			vpred[i] += p.LearningRate * t.predict(row)
			d := vy[i] - vpred[i]
			sse += d * d
		}
		loss := math.Sqrt(sse / float64(len(vx)))
		if loss < bestLoss-1e-12 {
			bestLoss = loss
			best = it
		} else if it-best >= p.EarlyStoppingRounds {
			zap.L().Debug("boost: early stop",
				zap.Int("iteration", it),
				zap.Int("best_iteration", best),
				zap.Float64("best_rmse", bestLoss),
			)
			break
		}
	}

	if early {
		e.Trees = e.Trees[:best+1]
		e.BestIteration = best
	} else {
		e.BestIteration = len(e.Trees) - 1
	}
	return e, nil
}

// sample draws a Bernoulli subsample of idx. It falls back to idx when rate
// is outside (0, 1) or the draw comes back empty.
func sample(rng *rand.Rand, idx []int, rate float64) []int {
	if rate <= 0 || rate >= 1 {
		return idx
	}
	out := make([]int, 0, int(float64(len(idx))*rate)+1)
	for _, i := range idx {
		if rng.Float64() < rate {
			out = append(out, i)
		}
	}
	if len(out) == 0 {
		return idx
	}
	return out
}

// Predict returns the ensemble output for one row.
func (e *Ensemble) Predict(x []float64) float64 {
	out := e.Base
	for _, t := range e.Trees {
		out += e.LearningRate * t.predict(x)
	}
	return out
}

// Importance returns the total split gain per feature.
func (e *Ensemble) Importance() []float64 {
	imp := make([]float64, e.Features)
	for _, t := range e.Trees {
		for _, n := range t.Nodes {
			if !n.Leaf && n.Feature < len(imp) {
				imp[n.Feature] += n.Gain
			}
		}
	}
	return imp
}

// Validate checks the structural integrity of a decoded ensemble.
func (e *Ensemble) Validate() error {
	for ti, t := range e.Trees {
		for ni, n := range t.Nodes {
			if n.Leaf {
				continue
			}
			if n.Feature < 0 || n.Feature >= e.Features {
				return eris.Errorf("boost: tree %d node %d: feature %d out of range", ti, ni, n.Feature)
			}
			if n.Left <= ni || n.Right <= ni || n.Left >= len(t.Nodes) || n.Right >= len(t.Nodes) {
				return eris.Errorf("boost: tree %d node %d: bad child index", ti, ni)
			}
		}
	}
	return nil
}

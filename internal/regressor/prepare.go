package regressor

import (
	"math"
	"math/rand"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/sells-group/effort-cli/internal/features"
	"github.com/sells-group/effort-cli/internal/model"
)

// MinTrainingRows is the fewest eligible rows Train accepts.
const MinTrainingRows = 10

// Split modes.
const (
	SplitRandom   = "random"
	SplitTemporal = "temporal"
)

type sample struct {
	rec model.Record
	vec features.Vector
	y   float64
}

// collect derives every record carrying a usable target: present, finite,
// non-negative, with a derivable date. Targets are capped at ceiling.
func collect(d *features.Deriver, s features.Schema, records []model.Record, ceiling float64) ([]sample, int) {
	out := make([]sample, 0, len(records))
	excluded := 0
	for _, r := range records {
		if r.Effort == nil {
			excluded++
			continue
		}
		y := *r.Effort
		if math.IsNaN(y) || math.IsInf(y, 0) || y < 0 {
			excluded++
			continue
		}
		vec, err := d.Derive(s, r)
		if err != nil {
			excluded++
			continue
		}
		out = append(out, sample{rec: r, vec: vec, y: math.Min(y, ceiling)})
	}
	return out, excluded
}

// dropOutliers removes samples whose target lies outside 1.5 IQR of the
// quartiles. The filter is skipped when it would leave fewer than minKeep
// samples.
func dropOutliers(samples []sample, minKeep int) ([]sample, int) {
	if len(samples) < 4 {
		return samples, 0
	}
	ys := make([]float64, len(samples))
	for i, s := range samples {
		ys[i] = s.y
	}
	sort.Float64s(ys)
	q1 := stat.Quantile(0.25, stat.LinInterp, ys, nil)
	q3 := stat.Quantile(0.75, stat.LinInterp, ys, nil)
	iqr := q3 - q1
	lo, hi := q1-1.5*iqr, q3+1.5*iqr

	kept := make([]sample, 0, len(samples))
	for _, s := range samples {
		if s.y >= lo && s.y <= hi {
			kept = append(kept, s)
		}
	}
	if len(kept) < minKeep {
		return samples, 0
	}
	return kept, len(samples) - len(kept)
}

// split partitions sample indices into train and test. Random splits shuffle
// with seed; temporal splits hold out the latest dates.
func split(samples []sample, fraction float64, mode string, seed int64) (train, test []int) {
	n := len(samples)
	nTest := int(math.Round(float64(n) * fraction))
	if nTest < 1 {
		nTest = 1
	}
	if nTest > n-1 {
		nTest = n - 1
	}

	order := make([]int, n)
	if mode == SplitTemporal {
		for i := range order {
			order[i] = i
		}
		sort.SliceStable(order, func(a, b int) bool {
			return samples[order[a]].rec.EffortDate.Before(*samples[order[b]].rec.EffortDate)
		})
		return order[:n-nTest], order[n-nTest:]
	}

	rng := rand.New(rand.NewSource(seed)) //nolint:gosec // reproducible split
	order = rng.Perm(n)
	return order[nTest:], order[:nTest]
}

// kfold returns k disjoint validation folds over n shuffled indices.
func kfold(n, k int, seed int64) [][]int {
	rng := rand.New(rand.NewSource(seed)) //nolint:gosec // reproducible folds
	perm := rng.Perm(n)
	folds := make([][]int, k)
	for i, idx := range perm {
		folds[i%k] = append(folds[i%k], idx)
	}
	return folds
}

// complement returns the indices in [0, n) not in fold.
func complement(n int, fold []int) []int {
	in := make([]bool, n)
	for _, i := range fold {
		in[i] = true
	}
	out := make([]int, 0, n-len(fold))
	for i := 0; i < n; i++ {
		if !in[i] {
			out = append(out, i)
		}
	}
	return out
}

func pick(samples []sample, idx []int) ([]features.Vector, []float64) {
	vecs := make([]features.Vector, len(idx))
	ys := make([]float64, len(idx))
	for i, j := range idx {
		vecs[i] = samples[j].vec
		ys[i] = samples[j].y
	}
	return vecs, ys
}

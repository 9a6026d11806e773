package boost

import (
	"math"
	"sort"
)

// MaxBins bounds the number of candidate thresholds per feature.
const MaxBins = 64

// borders returns the candidate split thresholds of one column. A sample goes
// left of threshold t when x <= t. Columns with at most MaxBins distinct
// values get every midpoint; wider columns get quantile midpoints.
func borders(col []float64) []float64 {
	uniq := make([]float64, 0, len(col))
	for _, v := range col {
		if !math.IsNaN(v) {
			uniq = append(uniq, v)
		}
	}
	if len(uniq) < 2 {
		return nil
	}
	sort.Float64s(uniq)
	w := 1
	for i := 1; i < len(uniq); i++ {
		if uniq[i] != uniq[w-1] {
			uniq[w] = uniq[i]
			w++
		}
	}
	uniq = uniq[:w]
	if len(uniq) < 2 {
		return nil
	}

	if len(uniq) <= MaxBins {
		out := make([]float64, len(uniq)-1)
		for i := range out {
			out[i] = (uniq[i] + uniq[i+1]) / 2
		}
		return out
	}

	out := make([]float64, 0, MaxBins-1)
	last := -1
	for k := 1; k < MaxBins; k++ {
		j := int(math.Round(float64(k) * float64(len(uniq)-1) / MaxBins))
		if j < 1 {
			j = 1
		}
		if j <= last {
			continue
		}
		last = j
		out = append(out, (uniq[j-1]+uniq[j])/2)
	}
	return out
}

// binned is the training matrix quantized against per-feature borders.
type binned struct {
	thresholds [][]float64
	bins       [][]uint8 // [feature][sample]
}

func quantize(x [][]float64, nFeatures int) *binned {
	b := &binned{
		thresholds: make([][]float64, nFeatures),
		bins:       make([][]uint8, nFeatures),
	}
	col := make([]float64, len(x))
	for f := 0; f < nFeatures; f++ {
		for i, row := range x {
			col[i] = row[f]
		}
		thr := borders(col)
		b.thresholds[f] = thr
		bins := make([]uint8, len(x))
		for i, v := range col {
			bins[i] = binOf(thr, v)
		}
		b.bins[f] = bins
	}
	return b
}

// binOf returns the index of the first threshold >= v, i.e. the smallest
// split index that sends v left. NaN sorts past every threshold.
func binOf(thr []float64, v float64) uint8 {
	if math.IsNaN(v) {
		return uint8(len(thr))
	}
	return uint8(sort.SearchFloat64s(thr, v))
}

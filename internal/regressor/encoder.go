package regressor

import (
	"math"
	"sort"

	"github.com/sells-group/effort-cli/internal/features"
)

// smoothing is the prior weight, in pseudo-rows, of the target encoding.
const smoothing = 5.0

// CategoryStat is the target sum and count seen for one symbol.
type CategoryStat struct {
	Sum   float64 `json:"sum"`
	Count int     `json:"count"`
}

// Encoder turns feature vectors into dense numeric rows. Numeric gaps are
// filled with the training median; categorical symbols become a smoothed
// mean of the training target for that symbol.
type Encoder struct {
	Kinds      []features.Kind           `json:"kinds"`
	Medians    []float64                 `json:"medians"`
	Categories []map[string]CategoryStat `json:"categories"`
	Prior      float64                   `json:"prior"`
}

// FitEncoder learns imputation and encoding statistics from the training rows.
func FitEncoder(s features.Schema, vecs []features.Vector, y []float64) *Encoder {
	n := s.Len()
	e := &Encoder{
		Kinds:      make([]features.Kind, n),
		Medians:    make([]float64, n),
		Categories: make([]map[string]CategoryStat, n),
	}
	for _, v := range y {
		e.Prior += v
	}
	if len(y) > 0 {
		e.Prior /= float64(len(y))
	}

	col := make([]float64, 0, len(vecs))
	for j, f := range s.Features {
		e.Kinds[j] = f.Kind
		if f.Kind == features.Categorical {
			stats := make(map[string]CategoryStat)
			for i, v := range vecs {
				st := stats[v.Symbols[j]]
				st.Sum += y[i]
				st.Count++
				stats[v.Symbols[j]] = st
			}
			e.Categories[j] = stats
			continue
		}
		col = col[:0]
		for _, v := range vecs {
			if !features.IsMissing(v.Numeric[j]) {
				col = append(col, v.Numeric[j])
			}
		}
		e.Medians[j] = median(col)
	}
	return e
}

// Transform encodes vecs with the full statistics. Unseen symbols map to the
// prior.
func (e *Encoder) Transform(vecs []features.Vector) [][]float64 {
	out := make([][]float64, len(vecs))
	for i, v := range vecs {
		out[i] = e.row(v, nil)
	}
	return out
}

// TransformTraining encodes the rows the encoder was fitted on, leaving each
// row's own target out of its categorical encodings.
func (e *Encoder) TransformTraining(vecs []features.Vector, y []float64) [][]float64 {
	out := make([][]float64, len(vecs))
	for i, v := range vecs {
		out[i] = e.row(v, &y[i])
	}
	return out
}

func (e *Encoder) row(v features.Vector, own *float64) []float64 {
	row := make([]float64, len(e.Kinds))
	for j, k := range e.Kinds {
		if k == features.Categorical {
			row[j] = e.encode(j, v.Symbols[j], own)
			continue
		}
		x := v.Numeric[j]
		if features.IsMissing(x) {
			x = e.Medians[j]
		}
		row[j] = x
	}
	return row
}

func (e *Encoder) encode(j int, symbol string, own *float64) float64 {
	st, ok := e.Categories[j][symbol]
	if !ok {
		return e.Prior
	}
	sum, count := st.Sum, float64(st.Count)
	if own != nil {
		sum -= *own
		count--
	}
	return (sum + smoothing*e.Prior) / (count + smoothing)
}

func median(vals []float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	s := append([]float64(nil), vals...)
	sort.Float64s(s)
	mid := len(s) / 2
	if len(s)%2 == 1 {
		return s[mid]
	}
	return (s[mid-1] + s[mid]) / 2
}

func finite(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

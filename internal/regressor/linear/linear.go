// Package linear is an ordinary least squares baseline built on
// github.com/sajari/regression.
package linear

import (
	"fmt"
	"math"

	"github.com/rotisserie/eris"
	"github.com/sajari/regression"
)

// collinearTol is the relative residual norm below which a column is
// considered a linear combination of the columns already kept.
const collinearTol = 1e-8

// Model is a fitted linear model over a subset of the input columns.
type Model struct {
	Features  int       `json:"features"`
	Columns   []int     `json:"columns"`   // input columns used, in fit order
	Intercept float64   `json:"intercept"` //
	Coeffs    []float64 `json:"coeffs"`    // one per entry of Columns
	Scale     []float64 `json:"scale"`     // training std dev per entry of Columns
}

// Fit regresses y on x. Constant and collinear columns are dropped before the
// solve so the normal equations stay well conditioned.
func Fit(x [][]float64, y []float64) (*Model, error) {
	if len(x) == 0 {
		return nil, eris.New("linear: empty training set")
	}
	if len(x) != len(y) {
		return nil, eris.Errorf("linear: %d rows but %d targets", len(x), len(y))
	}
	nFeat := len(x[0])
	cols, scale := independentColumns(x, nFeat)
	if len(x) <= len(cols)+1 {
		return nil, eris.Errorf("linear: %d observations for %d variables", len(x), len(cols)+1)
	}

	r := new(regression.Regression)
	r.SetObserved("effort")
	for i, c := range cols {
		r.SetVar(i, fmt.Sprintf("x%d", c))
	}
	for i, row := range x {
		vars := make([]float64, len(cols))
		for j, c := range cols {
			vars[j] = row[c]
		}
		r.Train(regression.DataPoint(y[i], vars))
	}
	if err := r.Run(); err != nil {
		return nil, eris.Wrap(err, "linear: solve")
	}

	coeffs := r.GetCoeffs()
	if len(coeffs) != len(cols)+1 {
		return nil, eris.Errorf("linear: expected %d coefficients, got %d", len(cols)+1, len(coeffs))
	}
	m := &Model{
		Features:  nFeat,
		Columns:   cols,
		Intercept: coeffs[0],
		Coeffs:    coeffs[1:],
		Scale:     scale,
	}
	for _, c := range coeffs {
		if math.IsNaN(c) || math.IsInf(c, 0) {
			return nil, eris.New("linear: solve produced non-finite coefficients")
		}
	}
	return m, nil
}

// Predict returns the model output for one row.
func (m *Model) Predict(x []float64) float64 {
	out := m.Intercept
	for j, c := range m.Columns {
		out += m.Coeffs[j] * x[c]
	}
	return out
}

// Importance returns |coefficient| times the training standard deviation per
// input column; dropped columns score zero.
func (m *Model) Importance() []float64 {
	imp := make([]float64, m.Features)
	for j, c := range m.Columns {
		imp[c] = math.Abs(m.Coeffs[j]) * m.Scale[j]
	}
	return imp
}

// Validate checks the structural integrity of a decoded model.
func (m *Model) Validate() error {
	if len(m.Coeffs) != len(m.Columns) || len(m.Scale) != len(m.Columns) {
		return eris.New("linear: coefficient and column counts differ")
	}
	for _, c := range m.Columns {
		if c < 0 || c >= m.Features {
			return eris.Errorf("linear: column %d out of range", c)
		}
	}
	return nil
}

// independentColumns runs modified Gram-Schmidt over the centered columns
// and keeps those that add a new direction.
func independentColumns(x [][]float64, nFeat int) ([]int, []float64) {
	n := len(x)
	var basis [][]float64
	var cols []int
	var scale []float64

	for c := 0; c < nFeat; c++ {
		v := make([]float64, n)
		var mean float64
		for i, row := range x {
			v[i] = row[c]
			mean += row[c]
		}
		mean /= float64(n)
		var norm0 float64
		for i := range v {
			v[i] -= mean
			norm0 += v[i] * v[i]
		}
		if norm0 == 0 || math.IsNaN(norm0) {
			continue
		}
		sd := math.Sqrt(norm0 / float64(n))

		for _, q := range basis {
			var dot float64
			for i := range v {
				dot += v[i] * q[i]
			}
			for i := range v {
				v[i] -= dot * q[i]
			}
		}
		var norm float64
		for i := range v {
			norm += v[i] * v[i]
		}
		if math.Sqrt(norm/norm0) < collinearTol {
			continue
		}
		inv := 1 / math.Sqrt(norm)
		for i := range v {
			v[i] *= inv
		}
		basis = append(basis, v)
		cols = append(cols, c)
		scale = append(scale, sd)
	}
	return cols, scale
}

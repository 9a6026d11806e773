// Package features derives model feature vectors from effort records.
package features

import (
	"crypto/sha256"
	"encoding/hex"
	"math"
	"strings"

	"github.com/sells-group/effort-cli/internal/model"
)

// Version is folded into every fingerprint. Bump it whenever Derive changes
// the meaning of an existing feature.
const Version = "effort-features/v1"

// Feature names produced by the deriver.
const (
	Year             = "year"
	Month            = "month"
	Day              = "day"
	DayOfWeek        = "dayofweek"
	WeekOfYear       = "weekofyear"
	CostRatioFeature = "cost_efficiency_ratio"
)

// Kind distinguishes numeric from categorical features.
type Kind string

const (
	Numeric     Kind = "numeric"
	Categorical Kind = "categorical"
)

// Missing is the sentinel for an absent numeric feature.
var Missing = math.NaN()

// IsMissing reports whether v is the missing sentinel.
func IsMissing(v float64) bool {
	return math.IsNaN(v)
}

// Spec describes one feature column.
type Spec struct {
	Name string `json:"name"`
	Kind Kind   `json:"kind"`
}

// Schema is the ordered feature set a model is trained against.
type Schema struct {
	Features []Spec `json:"features"`
}

// Names returns the feature names in schema order.
func (s Schema) Names() []string {
	names := make([]string, len(s.Features))
	for i, f := range s.Features {
		names[i] = f.Name
	}
	return names
}

// Index returns the position of a feature, or -1.
func (s Schema) Index(name string) int {
	for i, f := range s.Features {
		if f.Name == name {
			return i
		}
	}
	return -1
}

// Len returns the number of features.
func (s Schema) Len() int {
	return len(s.Features)
}

// Fingerprint returns a stable hex digest of the deriver version and the
// ordered feature list.
func (s Schema) Fingerprint() string {
	h := sha256.New()
	h.Write([]byte(Version))
	for _, f := range s.Features {
		h.Write([]byte{'|'})
		h.Write([]byte(f.Name))
		h.Write([]byte{':'})
		h.Write([]byte(f.Kind))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Diff lists features present in s but not in other, and the reverse.
func (s Schema) Diff(other Schema) (missing, extra []string) {
	for _, f := range s.Features {
		if other.Index(f.Name) < 0 {
			missing = append(missing, f.Name)
		}
	}
	for _, f := range other.Features {
		if s.Index(f.Name) < 0 {
			extra = append(extra, f.Name)
		}
	}
	return missing, extra
}

// Vector is one derived row. Numeric holds a value per schema position
// (Missing for categorical positions); Symbols holds the categorical symbol
// per schema position ("" for numeric positions).
type Vector struct {
	Numeric []float64
	Symbols []string
}

// Deriver converts records into feature vectors. It is stateless.
type Deriver struct{}

// NewDeriver creates a Deriver.
func NewDeriver() *Deriver {
	return &Deriver{}
}

// Schema returns the features derivable from a dataset with the given header.
func (d *Deriver) Schema(columns []string) Schema {
	has := make(map[string]bool, len(columns))
	for _, c := range columns {
		has[strings.TrimSpace(c)] = true
	}

	s := Schema{Features: []Spec{
		{Name: Year, Kind: Numeric},
		{Name: Month, Kind: Numeric},
		{Name: Day, Kind: Numeric},
		{Name: DayOfWeek, Kind: Numeric},
		{Name: WeekOfYear, Kind: Numeric},
	}}
	for _, col := range model.NumericColumns {
		if has[col] {
			s.Features = append(s.Features, Spec{Name: col, Kind: Numeric})
		}
	}
	if has[model.ColTimeCosts] && has[model.ColHourlyRate] {
		s.Features = append(s.Features, Spec{Name: CostRatioFeature, Kind: Numeric})
	}
	for _, col := range model.CategoricalColumns {
		if has[col] {
			s.Features = append(s.Features, Spec{Name: col, Kind: Categorical})
		}
	}
	return s
}

// Derive builds the feature vector for r under schema s. A record without an
// effort date cannot be derived and yields a *model.SchemaError.
func (d *Deriver) Derive(s Schema, r model.Record) (Vector, error) {
	if r.EffortDate == nil || r.EffortDate.IsZero() {
		return Vector{}, &model.SchemaError{Row: r.Row, Field: model.ColEffortDate, Reason: "effort date is missing"}
	}

	t := *r.EffortDate
	_, week := t.ISOWeek()
	// Monday = 0.
	weekday := (int(t.Weekday()) + 6) % 7

	v := Vector{
		Numeric: make([]float64, len(s.Features)),
		Symbols: make([]string, len(s.Features)),
	}
	for i, f := range s.Features {
		if f.Kind == Categorical {
			v.Numeric[i] = Missing
			v.Symbols[i] = symbol(r.Category(f.Name))
			continue
		}

		switch f.Name {
		case Year:
			v.Numeric[i] = float64(t.Year())
		case Month:
			v.Numeric[i] = float64(t.Month())
		case Day:
			v.Numeric[i] = float64(t.Day())
		case DayOfWeek:
			v.Numeric[i] = float64(weekday)
		case WeekOfYear:
			v.Numeric[i] = float64(week)
		case CostRatioFeature:
			v.Numeric[i] = costRatio(r)
		default:
			v.Numeric[i] = number(r, f.Name)
		}
	}
	return v, nil
}

// CostRatio returns time costs divided by the hourly rate, and false when
// either operand is absent or the rate is zero.
func CostRatio(r model.Record) (float64, bool) {
	costs, ok := r.Number(model.ColTimeCosts)
	if !ok || math.IsNaN(costs) {
		return 0, false
	}
	rate, ok := r.Number(model.ColHourlyRate)
	if !ok || math.IsNaN(rate) || rate == 0 {
		return 0, false
	}
	return costs / rate, true
}

func costRatio(r model.Record) float64 {
	ratio, ok := CostRatio(r)
	if !ok || math.IsInf(ratio, 0) {
		return Missing
	}
	return ratio
}

func number(r model.Record, name string) float64 {
	v, ok := r.Number(name)
	if !ok || math.IsInf(v, 0) {
		return Missing
	}
	return v
}

func symbol(v string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return model.UnknownCategory
	}
	return v
}

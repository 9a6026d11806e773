package dataset

import (
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/effort-cli/internal/model"
)

// DateLayout is the layout used when dates are written back out.
const DateLayout = "2006-01-02T15:04:05"

var dateLayouts = []string{
	DateLayout,
	"2006-01-02",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05.000",
	time.RFC3339,
	time.RFC3339Nano,
	"01/02/2006",
	"01/02/2006 15:04:05",
	"02.01.2006",
	"02.01.2006 15:04:05",
}

// Parse maps a header and string rows onto records. The header must carry
// the effort column. Blank rows are skipped; unparseable effort values and
// dates become nil rather than errors.
func Parse(header []string, rows [][]string) (*model.Dataset, error) {
	cols := make([]string, len(header))
	effortCol := -1
	for i, h := range header {
		cols[i] = strings.TrimSpace(h)
		if cols[i] == model.ColEffort {
			effortCol = i
		}
	}
	if effortCol < 0 {
		return nil, eris.Errorf("dataset: required column %q not found", model.ColEffort)
	}

	kinds := columnKinds()
	ds := &model.Dataset{Columns: cols, Records: make([]model.Record, 0, len(rows))}
	for _, row := range rows {
		if blank(row) {
			continue
		}
		r := model.Record{Row: len(ds.Records)}
		for i, name := range cols {
			if name == "" {
				continue
			}
			var raw string
			if i < len(row) {
				raw = strings.TrimSpace(row[i])
			}
			switch kinds[name] {
			case kindEffort:
				if v, ok := ParseNumber(raw); ok {
					r.Effort = model.Float(v)
				}
			case kindDate:
				if t, ok := ParseDate(raw); ok {
					r.EffortDate = &t
				}
			case kindCategorical:
				if raw == "" {
					continue
				}
				if r.Categorical == nil {
					r.Categorical = make(map[string]string)
				}
				r.Categorical[name] = raw
			case kindNumeric:
				v, ok := ParseNumber(raw)
				if !ok {
					continue
				}
				if r.Numeric == nil {
					r.Numeric = make(map[string]float64)
				}
				r.Numeric[name] = v
			default:
				if r.Extra == nil {
					r.Extra = make(map[string]string)
				}
				r.Extra[name] = raw
			}
		}
		ds.Records = append(ds.Records, r)
	}
	return ds, nil
}

type columnKind int

const (
	kindExtra columnKind = iota
	kindEffort
	kindDate
	kindCategorical
	kindNumeric
)

func columnKinds() map[string]columnKind {
	kinds := map[string]columnKind{
		model.ColEffort:     kindEffort,
		model.ColEffortDate: kindDate,
	}
	for _, c := range model.CategoricalColumns {
		kinds[c] = kindCategorical
	}
	for _, c := range model.NumericColumns {
		kinds[c] = kindNumeric
	}
	return kinds
}

func blank(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

// ParseNumber parses a decimal value, accepting ',' thousands separators.
// Blank, NaN and unparseable strings report false.
func ParseNumber(s string) (float64, bool) {
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", "")
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) {
		return 0, false
	}
	return v, true
}

// ParseDate tries each accepted layout in turn.
func ParseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

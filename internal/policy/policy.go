// Package policy holds the effort ceiling rules: what counts as missing, what
// counts as over the limit, and how an estimate becomes a final value.
package policy

import (
	"math"

	"github.com/sells-group/effort-cli/internal/config"
	"github.com/sells-group/effort-cli/internal/model"
)

const (
	// DefaultEffortLimit is the ceiling applied when none is configured.
	DefaultEffortLimit = 30.0
	// DefaultMissingThreshold is the tolerated fraction of missing values.
	DefaultMissingThreshold = 0.1

	headroomFactor = 2.0
	ceilingFactor  = 1.5
)

// Policy evaluates records against the configured effort limit.
type Policy struct {
	limit            float64
	missingThreshold float64
}

// New creates a Policy, substituting defaults for non-positive values.
func New(cfg config.PolicyConfig) Policy {
	p := Policy{limit: cfg.EffortLimit, missingThreshold: cfg.MissingThreshold}
	if p.limit <= 0 {
		p.limit = DefaultEffortLimit
	}
	if p.missingThreshold <= 0 {
		p.missingThreshold = DefaultMissingThreshold
	}
	return p
}

// Limit returns the effort ceiling.
func (p Policy) Limit() float64 {
	return p.limit
}

// TargetCeiling is the cap applied to training targets, 1.5x the limit.
func (p Policy) TargetCeiling() float64 {
	return p.limit * ceilingFactor
}

// RatioBound is the largest cost-ratio estimate the cascade accepts, 2x the limit.
func (p Policy) RatioBound() float64 {
	return p.limit * headroomFactor
}

// IsMissing reports whether the record has no usable effort value. Negative
// values cannot be kept as-is without breaking the [0, limit] invariant, so
// they are treated like blanks.
func (p Policy) IsMissing(r model.Record) bool {
	if r.Effort == nil {
		return true
	}
	v := *r.Effort
	return math.IsNaN(v) || math.IsInf(v, -1) || v < 0
}

// IsOverLimit reports whether the record carries a value above the limit.
func (p Policy) IsOverLimit(r model.Record) bool {
	return !p.IsMissing(r) && *r.Effort > p.limit
}

// IsValid reports whether the record's own value can be used as context for
// other estimates.
func (p Policy) IsValid(r model.Record) bool {
	return !p.IsMissing(r) && !p.IsOverLimit(r)
}

// Clamp produces the final value. Missing values keep their estimate, capped
// to [0, limit]; over-limit values are reset to the limit exactly; anything
// else keeps the original.
func (p Policy) Clamp(original, predicted float64, missing, overLimit bool) float64 {
	switch {
	case missing:
		if math.IsNaN(predicted) {
			return 0
		}
		return math.Max(0, math.Min(predicted, p.limit))
	case overLimit:
		return p.limit
	default:
		return original
	}
}

// Headroom bounds the display-only predicted value to [0, 2x limit].
func (p Policy) Headroom(predicted float64) float64 {
	return math.Max(0, math.Min(predicted, p.limit*headroomFactor))
}

// Quality summarizes the missing-value rate of a dataset.
type Quality struct {
	Total           int     `json:"total"`
	Missing         int     `json:"missing"`
	MissingFraction float64 `json:"missing_fraction"`
	Threshold       float64 `json:"threshold"`
	Exceeded        bool    `json:"exceeded"`
}

// CheckQuality compares the missing fraction against the configured threshold.
// It is used for reporting only.
func (p Policy) CheckQuality(missing, total int) Quality {
	q := Quality{Total: total, Missing: missing, Threshold: p.missingThreshold}
	if total > 0 {
		q.MissingFraction = float64(missing) / float64(total)
	}
	q.Exceeded = q.MissingFraction > p.missingThreshold
	return q
}

// Count returns the number of missing and over-limit records in ds.
func (p Policy) Count(ds *model.Dataset) (missing, overLimit int) {
	for _, r := range ds.Records {
		switch {
		case p.IsMissing(r):
			missing++
		case p.IsOverLimit(r):
			overLimit++
		}
	}
	return missing, overLimit
}

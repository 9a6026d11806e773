// Package fallback implements the deterministic rule cascade used to estimate
// effort values when no usable model is available.
package fallback

import (
	"fmt"
	"strings"
	"time"

	"github.com/sells-group/effort-cli/internal/config"
	"github.com/sells-group/effort-cli/internal/features"
	"github.com/sells-group/effort-cli/internal/model"
	"github.com/sells-group/effort-cli/internal/policy"
)

// DefaultMinMonthSamples is the month population below which tier 3 widens
// to the quarter.
const DefaultMinMonthSamples = 3

// Tiers of the cascade, tried in this order.
const (
	TierJobTitle  = 1
	TierCostRatio = 2
	TierTemporal  = 3
	TierDataset   = 4
)

// Estimate is the outcome of one cascade evaluation.
type Estimate struct {
	Value   float64 `json:"value"`
	Tier    int     `json:"tier"`
	Support int     `json:"support"` // valid records behind the value; 1 for the ratio tier
}

// Source returns the provenance tag for the tier that produced the estimate.
func (e Estimate) Source() model.Source {
	return model.FallbackSource(e.Tier)
}

type agg struct {
	sum   float64
	count int
}

func (a *agg) add(v float64) {
	a.sum += v
	a.count++
}

func (a agg) mean() float64 {
	return a.sum / float64(a.count)
}

// Snapshot holds the valid-record aggregates of one dataset. It is built once
// per invocation and never modified afterwards, so it is safe to share across
// goroutines.
type Snapshot struct {
	byTitle   map[string]agg
	byMonth   map[string]agg
	byQuarter map[string]agg
	all       agg
	invalid   int
}

// NewSnapshot aggregates the valid records of ds under p.
func NewSnapshot(ds *model.Dataset, p policy.Policy) *Snapshot {
	s := &Snapshot{
		byTitle:   make(map[string]agg),
		byMonth:   make(map[string]agg),
		byQuarter: make(map[string]agg),
	}
	for _, r := range ds.Records {
		if !p.IsValid(r) {
			s.invalid++
			continue
		}
		v := *r.Effort
		s.all.add(v)

		if title := titleKey(r); title != "" {
			a := s.byTitle[title]
			a.add(v)
			s.byTitle[title] = a
		}
		if r.EffortDate != nil && !r.EffortDate.IsZero() {
			mk, qk := periodKeys(*r.EffortDate)
			m := s.byMonth[mk]
			m.add(v)
			s.byMonth[mk] = m
			q := s.byQuarter[qk]
			q.add(v)
			s.byQuarter[qk] = q
		}
	}
	return s
}

// Valid returns the number of records contributing to the aggregates.
func (s *Snapshot) Valid() int {
	return s.all.count
}

// Invalid returns the number of missing or over-limit records.
func (s *Snapshot) Invalid() int {
	return s.invalid
}

// DatasetAverage returns the mean of all valid values, and false when there
// are none.
func (s *Snapshot) DatasetAverage() (float64, bool) {
	if s.all.count == 0 {
		return 0, false
	}
	return s.all.mean(), true
}

// Predictor evaluates the cascade against a Snapshot.
type Predictor struct {
	policy          policy.Policy
	minMonthSamples int
}

// NewPredictor creates a Predictor.
func NewPredictor(p policy.Policy, cfg config.FallbackConfig) *Predictor {
	minMonth := cfg.MinMonthSamples
	if minMonth <= 0 {
		minMonth = DefaultMinMonthSamples
	}
	return &Predictor{policy: p, minMonthSamples: minMonth}
}

// Predict returns the first tier that yields a value for r. The record's own
// value never contributes: only valid records are aggregated and r is
// expected to be missing or over the limit. When every tier fails the error
// is a *model.InsufficientDataError.
func (f *Predictor) Predict(s *Snapshot, r model.Record) (Estimate, error) {
	if e, ok := f.jobTitle(s, r); ok {
		return e, nil
	}
	if e, ok := f.costRatio(r); ok {
		return e, nil
	}
	if e, ok := f.temporal(s, r); ok {
		return e, nil
	}
	if avg, ok := s.DatasetAverage(); ok {
		return Estimate{Value: avg, Tier: TierDataset, Support: s.all.count}, nil
	}
	return Estimate{}, &model.InsufficientDataError{
		Op:       fmt.Sprintf("fallback: row %d", r.Row),
		Valid:    s.all.count,
		Invalid:  s.invalid,
		Required: 1,
	}
}

func (f *Predictor) jobTitle(s *Snapshot, r model.Record) (Estimate, bool) {
	title := titleKey(r)
	if title == "" {
		return Estimate{}, false
	}
	a, ok := s.byTitle[title]
	if !ok || a.count == 0 {
		return Estimate{}, false
	}
	return Estimate{Value: a.mean(), Tier: TierJobTitle, Support: a.count}, true
}

func (f *Predictor) costRatio(r model.Record) (Estimate, bool) {
	ratio, ok := features.CostRatio(r)
	if !ok || ratio <= 0 || ratio > f.policy.RatioBound() {
		return Estimate{}, false
	}
	return Estimate{Value: ratio, Tier: TierCostRatio, Support: 1}, true
}

func (f *Predictor) temporal(s *Snapshot, r model.Record) (Estimate, bool) {
	if r.EffortDate == nil || r.EffortDate.IsZero() {
		return Estimate{}, false
	}
	mk, qk := periodKeys(*r.EffortDate)
	if m, ok := s.byMonth[mk]; ok && m.count >= f.minMonthSamples {
		return Estimate{Value: m.mean(), Tier: TierTemporal, Support: m.count}, true
	}
	if q, ok := s.byQuarter[qk]; ok && q.count > 0 {
		return Estimate{Value: q.mean(), Tier: TierTemporal, Support: q.count}, true
	}
	return Estimate{}, false
}

func titleKey(r model.Record) string {
	return strings.TrimSpace(r.Category(model.ColJobTitle))
}

// periodKeys returns the calendar month and quarter keys of t.
func periodKeys(t time.Time) (month, quarter string) {
	q := (int(t.Month())-1)/3 + 1
	return fmt.Sprintf("%04d-%02d", t.Year(), int(t.Month())), fmt.Sprintf("%04d-Q%d", t.Year(), q)
}

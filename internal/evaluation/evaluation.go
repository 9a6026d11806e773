// Package evaluation produces model diagnostics and dataset issue summaries.
package evaluation

import (
	"context"
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/sells-group/effort-cli/internal/model"
	"github.com/sells-group/effort-cli/internal/pipeline"
	"github.com/sells-group/effort-cli/internal/policy"
	"github.com/sells-group/effort-cli/internal/regressor"
)

// OverfitThreshold is the train/test R² gap above which a model is flagged.
const OverfitThreshold = 0.2

// ExtremeValue is the effort above which a value counts as extreme.
const ExtremeValue = 50.0

var bucketEdges = []float64{0, 10, 20, 30, 40, 50}

// Bucket counts target values in [Low, High). The last bucket is open.
type Bucket struct {
	Label   string  `json:"label"`
	Low     float64 `json:"low"`
	High    float64 `json:"high,omitempty"`
	Count   int     `json:"count"`
	Percent float64 `json:"percent"`
}

// TargetStats describe the recorded effort values of a dataset.
type TargetStats struct {
	Count   int      `json:"count"`
	Mean    float64  `json:"mean"`
	Median  float64  `json:"median"`
	StdDev  float64  `json:"std_dev"`
	Min     float64  `json:"min"`
	Max     float64  `json:"max"`
	Extreme int      `json:"extreme"`
	Buckets []Bucket `json:"buckets"`
}

// Report is the full diagnostic view of one model against one dataset.
type Report struct {
	ModelID     string                 `json:"model_id"`
	ModelName   string                 `json:"model_name"`
	Backend     string                 `json:"backend"`
	Training    regressor.Metrics      `json:"training"`
	Evaluation  *regressor.Evaluation  `json:"evaluation"`
	Importance  []regressor.Importance `json:"importance"`
	Overfitting float64                `json:"overfitting"`
	Overfit     bool                   `json:"overfit"`
	Target      TargetStats            `json:"target"`
}

// Evaluate scores tm against ds and assembles the diagnostics. folds >= 2
// adds cross-validation.
func Evaluate(ctx context.Context, a *regressor.Adapter, tm *regressor.TrainedModel, ds *model.Dataset, folds int) (*Report, error) {
	ev, err := a.Evaluate(ctx, tm, ds, folds)
	if err != nil {
		return nil, err
	}
	return NewReport(tm, ds, ev), nil
}

// NewReport assembles the diagnostics of tm from its training metrics and
// ds. ev may be nil when no fresh scoring was run.
func NewReport(tm *regressor.TrainedModel, ds *model.Dataset, ev *regressor.Evaluation) *Report {
	gap := tm.Metrics.Train.R2 - tm.Metrics.Test.R2
	return &Report{
		ModelID:     tm.ID,
		ModelName:   tm.Name,
		Backend:     string(tm.Backend),
		Training:    tm.Metrics,
		Evaluation:  ev,
		Importance:  regressor.FeatureImportance(tm),
		Overfitting: gap,
		Overfit:     gap > OverfitThreshold,
		Target:      Describe(ds),
	}
}

// Describe summarizes the present, finite, non-negative effort values of ds.
func Describe(ds *model.Dataset) TargetStats {
	var vals []float64
	for _, r := range ds.Records {
		if r.Effort == nil {
			continue
		}
		v := *r.Effort
		if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
			continue
		}
		vals = append(vals, v)
	}

	ts := TargetStats{Count: len(vals), Buckets: buckets(vals)}
	if len(vals) == 0 {
		return ts
	}
	sort.Float64s(vals)
	ts.Min, ts.Max = vals[0], vals[len(vals)-1]
	ts.Median = stat.Quantile(0.5, stat.Empirical, vals, nil)
	if len(vals) > 1 {
		ts.Mean, ts.StdDev = stat.MeanStdDev(vals, nil)
	} else {
		ts.Mean = vals[0]
	}
	for _, v := range vals {
		if v > ExtremeValue {
			ts.Extreme++
		}
	}
	return ts
}

func buckets(vals []float64) []Bucket {
	out := make([]Bucket, len(bucketEdges))
	for i, lo := range bucketEdges {
		b := Bucket{Low: lo}
		if i+1 < len(bucketEdges) {
			b.High = bucketEdges[i+1]
			b.Label = label(lo, b.High)
		} else {
			b.Label = label(lo, 0)
		}
		out[i] = b
	}
	for _, v := range vals {
		i := sort.SearchFloat64s(bucketEdges, v)
		if i == len(bucketEdges) || bucketEdges[i] != v {
			i--
		}
		out[i].Count++
	}
	if len(vals) > 0 {
		for i := range out {
			out[i].Percent = float64(out[i].Count) / float64(len(vals)) * 100
		}
	}
	return out
}

// Summary counts the issues found in one processed dataset.
type Summary struct {
	TotalRows         int                  `json:"total_rows"`
	MissingCount      int                  `json:"missing_effort_count"`
	OverLimitCount    int                  `json:"over_limit_count"`
	PredictedCount    int                  `json:"predicted_count"`
	FailedCount       int                  `json:"failed_count"`
	NotificationCount int                  `json:"notification_count"`
	MissingPercent    float64              `json:"missing_percentage"`
	OverLimitPercent  float64              `json:"over_limit_percentage"`
	EffortLimit       float64              `json:"effort_limit"`
	Sources           map[model.Source]int `json:"sources"`
	Quality           policy.Quality       `json:"quality"`
	ModelID           string               `json:"model_id,omitempty"`
}

// Summarize counts the issues in ds as resolved by out.
func Summarize(ds *model.Dataset, out *pipeline.Outcome, p policy.Policy) Summary {
	s := Summary{
		TotalRows:   len(ds.Records),
		EffortLimit: p.Limit(),
		Sources:     make(map[model.Source]int),
		Quality:     out.Quality,
		ModelID:     out.ModelID,
	}
	s.MissingCount, s.OverLimitCount = p.Count(ds)
	for _, r := range out.Results {
		s.Sources[r.Source]++
		switch {
		case r.Failed():
			s.FailedCount++
		case r.NeedsNotification():
			s.PredictedCount++
		}
	}
	s.NotificationCount = s.MissingCount + s.OverLimitCount
	if s.TotalRows > 0 {
		s.MissingPercent = float64(s.MissingCount) / float64(s.TotalRows) * 100
		s.OverLimitPercent = float64(s.OverLimitCount) / float64(s.TotalRows) * 100
	}
	return s
}

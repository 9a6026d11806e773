package fallback

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/effort-cli/internal/config"
	"github.com/sells-group/effort-cli/internal/model"
	"github.com/sells-group/effort-cli/internal/policy"
)

func newPredictor() (*Predictor, policy.Policy) {
	p := policy.New(config.PolicyConfig{EffortLimit: 30, MissingThreshold: 0.1})
	return NewPredictor(p, config.FallbackConfig{MinMonthSamples: 3}), p
}

func on(y int, m time.Month, d int) *time.Time {
	t := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	return &t
}

func titled(row int, title string, effort *float64) model.Record {
	return model.Record{
		Row:         row,
		Effort:      effort,
		Categorical: map[string]string{model.ColJobTitle: title},
	}
}

func TestSnapshot_CountsOnlyValid(t *testing.T) {
	_, p := newPredictor()
	ds := &model.Dataset{Records: []model.Record{
		titled(0, "A", model.Float(20)),
		titled(1, "A", nil),
		titled(2, "B", model.Float(35)),
		titled(3, "B", model.Float(18)),
	}}

	s := NewSnapshot(ds, p)
	assert.Equal(t, 2, s.Valid())
	assert.Equal(t, 2, s.Invalid())
	avg, ok := s.DatasetAverage()
	require.True(t, ok)
	assert.InDelta(t, 19, avg, 1e-9)
}

func TestPredict_TierOneBeatsDatasetAverage(t *testing.T) {
	f, p := newPredictor()
	ds := &model.Dataset{Records: []model.Record{
		titled(0, "A", model.Float(20)),
		titled(1, "A", nil),
		titled(2, "B", model.Float(2)),
		titled(3, "B", model.Float(4)),
		titled(4, "C", model.Float(6)),
	}}
	s := NewSnapshot(ds, p)

	e, err := f.Predict(s, ds.Records[1])
	require.NoError(t, err)
	assert.Equal(t, TierJobTitle, e.Tier)
	assert.Equal(t, 1, e.Support)
	assert.InDelta(t, 20, e.Value, 1e-9)
	assert.Equal(t, model.SourceFallback1, e.Source())

	dsAvg, _ := s.DatasetAverage()
	assert.NotEqual(t, dsAvg, e.Value)
}

func TestPredict_OverLimitPeersExcluded(t *testing.T) {
	f, p := newPredictor()
	ds := &model.Dataset{Records: []model.Record{
		titled(0, "A", model.Float(40)),
		titled(1, "A", nil),
		titled(2, "B", model.Float(10)),
	}}
	s := NewSnapshot(ds, p)

	// The only other A is over the limit, so tier 1 is empty.
	e, err := f.Predict(s, ds.Records[1])
	require.NoError(t, err)
	assert.Equal(t, TierDataset, e.Tier)
	assert.InDelta(t, 10, e.Value, 1e-9)
}

func TestPredict_CostRatio(t *testing.T) {
	f, p := newPredictor()
	ds := &model.Dataset{Records: []model.Record{
		titled(0, "B", model.Float(10)),
	}}
	s := NewSnapshot(ds, p)

	target := model.Record{
		Row:     5,
		Numeric: map[string]float64{model.ColTimeCosts: 1200, model.ColHourlyRate: 100},
	}
	e, err := f.Predict(s, target)
	require.NoError(t, err)
	assert.Equal(t, TierCostRatio, e.Tier)
	assert.InDelta(t, 12, e.Value, 1e-9)

	tests := []struct {
		name  string
		costs float64
		rate  float64
	}{
		{"above twice the limit", 6100, 100},
		{"zero rate", 100, 0},
		{"non-positive ratio", 0, 50},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			target.Numeric = map[string]float64{model.ColTimeCosts: tt.costs, model.ColHourlyRate: tt.rate}
			e, err := f.Predict(s, target)
			require.NoError(t, err)
			assert.Equal(t, TierDataset, e.Tier)
		})
	}

	// Ratio exactly at the bound is accepted.
	target.Numeric = map[string]float64{model.ColTimeCosts: 6000, model.ColHourlyRate: 100}
	e, err = f.Predict(s, target)
	require.NoError(t, err)
	assert.Equal(t, TierCostRatio, e.Tier)
	assert.InDelta(t, 60, e.Value, 1e-9)
}

func TestPredict_TemporalMonthThenQuarter(t *testing.T) {
	f, p := newPredictor()
	ds := &model.Dataset{Records: []model.Record{
		{Row: 0, Effort: model.Float(10), EffortDate: on(2024, time.March, 1)},
		{Row: 1, Effort: model.Float(12), EffortDate: on(2024, time.March, 5)},
		{Row: 2, Effort: model.Float(14), EffortDate: on(2024, time.March, 9)},
		{Row: 3, Effort: model.Float(2), EffortDate: on(2024, time.February, 9)},
		{Row: 4, Effort: model.Float(28), EffortDate: on(2024, time.July, 9)},
	}}
	s := NewSnapshot(ds, p)

	// March has three samples.
	e, err := f.Predict(s, model.Record{Row: 9, EffortDate: on(2024, time.March, 20)})
	require.NoError(t, err)
	assert.Equal(t, TierTemporal, e.Tier)
	assert.Equal(t, 3, e.Support)
	assert.InDelta(t, 12, e.Value, 1e-9)

	// February has one sample, so Q1 (Feb + Mar) is used.
	e, err = f.Predict(s, model.Record{Row: 9, EffortDate: on(2024, time.February, 20)})
	require.NoError(t, err)
	assert.Equal(t, TierTemporal, e.Tier)
	assert.Equal(t, 4, e.Support)
	assert.InDelta(t, 9.5, e.Value, 1e-9)

	// Nothing in Q4: dataset average.
	e, err = f.Predict(s, model.Record{Row: 9, EffortDate: on(2024, time.November, 20)})
	require.NoError(t, err)
	assert.Equal(t, TierDataset, e.Tier)
	assert.InDelta(t, 13.2, e.Value, 1e-9)

	// Same month in another year does not count.
	e, err = f.Predict(s, model.Record{Row: 9, EffortDate: on(2023, time.March, 20)})
	require.NoError(t, err)
	assert.Equal(t, TierDataset, e.Tier)
}

func TestPredict_InsufficientData(t *testing.T) {
	f, p := newPredictor()
	ds := &model.Dataset{Records: []model.Record{
		titled(0, "A", nil),
		titled(1, "A", model.Float(99)),
	}}
	s := NewSnapshot(ds, p)

	_, err := f.Predict(s, ds.Records[0])
	require.Error(t, err)

	var ide *model.InsufficientDataError
	require.ErrorAs(t, err, &ide)
	assert.Equal(t, 0, ide.Valid)
	assert.Equal(t, 2, ide.Invalid)
	assert.Contains(t, err.Error(), "row 0")
}

func TestPredict_Deterministic(t *testing.T) {
	f, p := newPredictor()
	ds := &model.Dataset{Records: []model.Record{
		{Row: 0, Effort: model.Float(7), EffortDate: on(2024, time.May, 2), Categorical: map[string]string{model.ColJobTitle: "X"}},
		{Row: 1, Effort: model.Float(9), EffortDate: on(2024, time.May, 3), Categorical: map[string]string{model.ColJobTitle: "Y"}},
		{Row: 2, Effort: model.Float(11), EffortDate: on(2024, time.May, 4), Categorical: map[string]string{model.ColJobTitle: "Y"}},
		{Row: 3, EffortDate: on(2024, time.May, 5), Categorical: map[string]string{model.ColJobTitle: "Z"}},
	}}

	first, err := f.Predict(NewSnapshot(ds, p), ds.Records[3])
	require.NoError(t, err)
	for i := 0; i < 20; i++ {
		again, err := f.Predict(NewSnapshot(ds, p), ds.Records[3])
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
	assert.Equal(t, TierTemporal, first.Tier)
	assert.InDelta(t, 9, first.Value, 1e-9)
}

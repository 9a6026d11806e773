// Package regressor adapts interchangeable regression backends to the effort
// domain: it trains on derived features, applies stored schemas at predict
// time, scores models and ranks feature importance.
package regressor

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/effort-cli/internal/config"
	"github.com/sells-group/effort-cli/internal/features"
	"github.com/sells-group/effort-cli/internal/model"
	"github.com/sells-group/effort-cli/internal/policy"
)

// Adapter trains and applies models under one model configuration.
type Adapter struct {
	cfg     config.ModelConfig
	policy  policy.Policy
	deriver *features.Deriver
	grid    Grid
}

// NewAdapter creates an Adapter. A configured tuning grid file is read
// eagerly so a bad path fails before any training starts.
func NewAdapter(cfg config.ModelConfig, p policy.Policy) (*Adapter, error) {
	if cfg.Backend == "" {
		cfg.Backend = string(KindSymmetric)
	}
	if cfg.TestFraction <= 0 || cfg.TestFraction >= 1 {
		cfg.TestFraction = 0.2
	}
	if cfg.Split == "" {
		cfg.Split = SplitRandom
	}
	if _, err := NewBackend(Kind(cfg.Backend), ParamsFromConfig(cfg)); err != nil {
		return nil, err
	}

	grid := DefaultGrid()
	if cfg.TuningGridPath != "" {
		g, err := LoadGrid(cfg.TuningGridPath)
		if err != nil {
			return nil, err
		}
		grid = g
	}
	return &Adapter{cfg: cfg, policy: p, deriver: features.NewDeriver(), grid: grid}, nil
}

// Deriver returns the feature deriver used by the adapter.
func (a *Adapter) Deriver() *features.Deriver {
	return a.deriver
}

// Train fits a new model on the eligible rows of ds. It never modifies an
// existing model. name may be empty.
func (a *Adapter) Train(ctx context.Context, ds *model.Dataset, name string) (*TrainedModel, Metrics, error) {
	kind := Kind(a.cfg.Backend)
	schema := a.deriver.Schema(ds.Columns)
	ceiling := a.policy.TargetCeiling()

	samples, excluded := collect(a.deriver, schema, ds.Records, ceiling)
	if len(samples) < MinTrainingRows {
		return nil, Metrics{}, &model.InsufficientDataError{
			Op:       "train",
			Valid:    len(samples),
			Invalid:  excluded,
			Required: MinTrainingRows,
		}
	}

	removed := 0
	if a.cfg.RemoveOutliers {
		samples, removed = dropOutliers(samples, MinTrainingRows)
	}

	trainIdx, testIdx := split(samples, a.cfg.TestFraction, a.cfg.Split, a.cfg.Seed)
	trainVecs, trainY := pick(samples, trainIdx)
	testVecs, testY := pick(samples, testIdx)

	params := ParamsFromConfig(a.cfg)
	metrics := Metrics{OutliersRemoved: removed, Excluded: excluded}

	if a.cfg.TuneHyperparameters && kind != KindLinear {
		trainSamples := make([]sample, len(trainIdx))
		for i, j := range trainIdx {
			trainSamples[i] = samples[j]
		}
		best, loss, err := tune(ctx, kind, schema, a.grid.Expand(params), trainSamples, a.cfg.Seed)
		if err != nil {
			return nil, Metrics{}, err
		}
		params = best
		metrics.Tuned = true
		metrics.TuningRMSE = loss
	}
	metrics.Params = params

	enc := FitEncoder(schema, trainVecs, trainY)
	testX := enc.Transform(testVecs)

	b, err := NewBackend(kind, params)
	if err != nil {
		return nil, Metrics{}, err
	}
	if err := b.Fit(ctx, Matrix{X: enc.TransformTraining(trainVecs, trainY), Y: trainY}, Matrix{X: testX, Y: testY}); err != nil {
		return nil, Metrics{}, eris.Wrap(err, "regressor: train")
	}

	now := time.Now().UTC()
	if name == "" {
		name = fmt.Sprintf("%s_model_%s", kind, now.Format("20060102_150405"))
	}
	tm := &TrainedModel{
		ID:            uuid.New().String(),
		Name:          name,
		Backend:       kind,
		Params:        params,
		Schema:        schema,
		Fingerprint:   schema.Fingerprint(),
		Encoder:       enc,
		EffortLimit:   a.policy.Limit(),
		TargetCeiling: ceiling,
		TrainedAt:     now,
		backend:       b,
	}

	metrics.Train = Score(tm.predict(enc.Transform(trainVecs)), trainY)
	metrics.Test = Score(tm.predict(testX), testY)
	tm.Metrics = metrics

	zap.L().Info("regressor: model trained",
		zap.String("model_id", tm.ID),
		zap.String("backend", string(kind)),
		zap.Int("features", schema.Len()),
		zap.Int("train_samples", metrics.Train.Samples),
		zap.Int("test_samples", metrics.Test.Samples),
		zap.Int("outliers_removed", removed),
		zap.Int("excluded", excluded),
		zap.Float64("train_rmse", metrics.Train.RMSE),
		zap.Float64("test_rmse", metrics.Test.RMSE),
		zap.Float64("test_r2", metrics.Test.R2),
	)
	return tm, metrics, nil
}

// CheckSchema verifies that a dataset with columns derives exactly the
// feature schema tm was trained on.
func (a *Adapter) CheckSchema(tm *TrainedModel, columns []string) error {
	actual := a.deriver.Schema(columns)
	fp := actual.Fingerprint()
	if fp == tm.Fingerprint {
		return nil
	}
	missing, extra := tm.Schema.Diff(actual)
	return &model.SchemaMismatchError{Expected: tm.Fingerprint, Actual: fp, Missing: missing, Extra: extra}
}

// Predict returns one raw estimate per record of ds, bounded only to the
// model's target range. A schema mismatch or an underivable record fails the
// whole call.
func (a *Adapter) Predict(ctx context.Context, tm *TrainedModel, ds *model.Dataset) ([]float64, error) {
	if err := a.CheckSchema(tm, ds.Columns); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, eris.Wrap(err, "regressor: predict")
	}
	values, errs := a.PredictRecords(tm, ds.Records)
	for _, err := range errs {
		if err != nil {
			return nil, eris.Wrap(err, "regressor: predict")
		}
	}
	return values, nil
}

// PredictRecords estimates each record independently. The caller must have
// checked the schema. errs[i] is non-nil when record i cannot be derived.
func (a *Adapter) PredictRecords(tm *TrainedModel, records []model.Record) (values []float64, errs []error) {
	values = make([]float64, len(records))
	errs = make([]error, len(records))

	vecs := make([]features.Vector, 0, len(records))
	pos := make([]int, 0, len(records))
	for i, r := range records {
		v, err := a.deriver.Derive(tm.Schema, r)
		if err != nil {
			errs[i] = err
			continue
		}
		vecs = append(vecs, v)
		pos = append(pos, i)
	}

	preds := tm.predict(tm.Encoder.Transform(vecs))
	for k, i := range pos {
		values[i] = preds[k]
	}
	return values, errs
}

// Evaluate scores tm against the eligible rows of ds without modifying it.
// With folds >= 2 it also cross-validates fresh backends built from tm's
// backend and parameters.
func (a *Adapter) Evaluate(ctx context.Context, tm *TrainedModel, ds *model.Dataset, folds int) (*Evaluation, error) {
	if err := a.CheckSchema(tm, ds.Columns); err != nil {
		return nil, err
	}
	samples, excluded := collect(a.deriver, tm.Schema, ds.Records, tm.TargetCeiling)
	if len(samples) == 0 {
		return nil, &model.InsufficientDataError{Op: "evaluate", Valid: 0, Invalid: excluded, Required: 1}
	}

	vecs, ys := pick(samples, allIndices(len(samples)))
	ev := &Evaluation{
		Scores:   Score(tm.predict(tm.Encoder.Transform(vecs)), ys),
		Excluded: excluded,
	}

	if folds < 2 {
		return ev, nil
	}
	if len(samples) < 2*folds {
		zap.L().Warn("regressor: too few rows for cross-validation",
			zap.Int("rows", len(samples)),
			zap.Int("folds", folds),
		)
		return ev, nil
	}

	params := tm.Params
	params.EarlyStoppingRounds = 0
	splits := kfold(len(samples), folds, tm.Params.Seed)
	scores := make([]float64, len(splits))

	g, gctx := errgroup.WithContext(ctx)
	for i, fold := range splits {
		g.Go(func() error {
			loss, err := foldRMSE(gctx, tm.Backend, tm.Schema, params, samples, fold)
			if err != nil {
				return err
			}
			scores[i] = loss
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, eris.Wrap(err, "regressor: cross-validate")
	}
	ev.CV = crossValidation(scores)

	zap.L().Info("regressor: cross-validation complete",
		zap.String("model_id", tm.ID),
		zap.Int("folds", folds),
		zap.Float64("rmse_mean", ev.CV.RMSEMean),
		zap.Float64("rmse_std", ev.CV.RMSEStd),
	)
	return ev, nil
}

// Importance is the relative importance of one feature, as a percentage.
type Importance struct {
	Feature    string  `json:"feature"`
	Importance float64 `json:"importance"`
}

// FeatureImportance ranks tm's features by descending importance. Ties keep
// schema order. Scores are normalized to sum to 100.
func FeatureImportance(tm *TrainedModel) []Importance {
	raw := tm.backend.Importance()
	var sum float64
	for _, v := range raw {
		sum += v
	}

	out := make([]Importance, tm.Schema.Len())
	for i, f := range tm.Schema.Features {
		var v float64
		if i < len(raw) && sum > 0 {
			v = finite(raw[i] / sum * 100)
		}
		out[i] = Importance{Feature: f.Name, Importance: v}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Importance > out[j].Importance
	})
	return out
}

func allIndices(n int) []int {
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	return idx
}

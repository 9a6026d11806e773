// Package pipeline runs the per-record estimation state machine over a
// dataset: classify, estimate, finalize.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/effort-cli/internal/config"
	"github.com/sells-group/effort-cli/internal/fallback"
	"github.com/sells-group/effort-cli/internal/model"
	"github.com/sells-group/effort-cli/internal/policy"
	"github.com/sells-group/effort-cli/internal/regressor"
)

// State is a record's position in the processing state machine.
type State int

const (
	Unprocessed State = iota
	Classified
	Estimated
	Finalized
)

func (s State) String() string {
	switch s {
	case Unprocessed:
		return "unprocessed"
	case Classified:
		return "classified"
	case Estimated:
		return "estimated"
	case Finalized:
		return "finalized"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

const defaultWorkers = 4

// item tracks one record through the state machine. Each item is only ever
// touched by one goroutine at a time.
type item struct {
	rec       model.Record
	state     State
	missing   bool
	overLimit bool
	estimate  float64
	source    model.Source
	err       error
	result    model.PredictionResult
}

func (it *item) needsEstimate() bool {
	return it.missing || it.overLimit
}

// Outcome is the annotated result of one Process call. Results has one entry
// per input record, in input order.
type Outcome struct {
	Results   []model.PredictionResult `json:"results"`
	Quality   policy.Quality           `json:"quality"`
	Missing   int                      `json:"missing"`
	OverLimit int                      `json:"over_limit"`
	Failed    int                      `json:"failed"`
	ModelID   string                   `json:"model_id,omitempty"`
	Sources   map[model.Source]int     `json:"sources"`
	Duration  time.Duration            `json:"duration"`
}

// Orchestrator combines the policy, the fallback cascade and an optional
// trained model.
type Orchestrator struct {
	policy   policy.Policy
	fallback *fallback.Predictor
	adapter  *regressor.Adapter
	model    *regressor.TrainedModel
	workers  int
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithModel makes the orchestrator prefer tm whenever its feature schema
// matches the dataset being processed.
func WithModel(a *regressor.Adapter, tm *regressor.TrainedModel) Option {
	return func(o *Orchestrator) {
		o.adapter = a
		o.model = tm
	}
}

// New creates an Orchestrator from cfg.
func New(cfg *config.Config, opts ...Option) *Orchestrator {
	p := policy.New(cfg.Policy)
	o := &Orchestrator{
		policy:   p,
		fallback: fallback.NewPredictor(p, cfg.Fallback),
		workers:  cfg.Process.Workers,
	}
	if o.workers <= 0 {
		o.workers = defaultWorkers
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Policy returns the policy the orchestrator applies.
func (o *Orchestrator) Policy() policy.Policy {
	return o.policy
}

// Process classifies, estimates and finalizes every record of ds. Records
// that cannot be derived for the model are marked failed; the call itself
// fails only when a record needs an estimate and the dataset offers nothing
// to estimate from.
func (o *Orchestrator) Process(ctx context.Context, ds *model.Dataset) (*Outcome, error) {
	start := time.Now()
	items := make([]item, len(ds.Records))
	for i, r := range ds.Records {
		items[i] = item{rec: r, state: Unprocessed}
	}

	if err := o.fanOut(ctx, items, o.classify); err != nil {
		return nil, eris.Wrap(err, "pipeline: classify")
	}

	snap := fallback.NewSnapshot(ds, o.policy)
	modelID := o.estimateWithModel(ds, items)

	if err := o.fanOut(ctx, items, func(it *item) error {
		o.finalize(snap, it)
		return nil
	}); err != nil {
		return nil, eris.Wrap(err, "pipeline: finalize")
	}

	// Scan in input order so the reported row is deterministic.
	for i := range items {
		var ide *model.InsufficientDataError
		if errors.As(items[i].err, &ide) {
			return nil, &model.InsufficientDataError{
				Op:       fmt.Sprintf("process: row %d", items[i].rec.Row),
				Valid:    snap.Valid(),
				Invalid:  snap.Invalid(),
				Required: ide.Required,
			}
		}
	}

	out := &Outcome{
		Results:  make([]model.PredictionResult, len(items)),
		ModelID:  modelID,
		Sources:  make(map[model.Source]int),
		Duration: time.Since(start),
	}
	for i := range items {
		it := &items[i]
		out.Results[i] = it.result
		out.Sources[it.result.Source]++
		switch {
		case it.result.Failed():
			out.Failed++
		case it.missing:
			out.Missing++
		case it.overLimit:
			out.OverLimit++
		}
	}
	missing, _ := o.policy.Count(ds)
	out.Quality = o.policy.CheckQuality(missing, len(items))

	zap.L().Info("pipeline: processed",
		zap.Int("records", len(items)),
		zap.Int("missing", out.Missing),
		zap.Int("over_limit", out.OverLimit),
		zap.Int("failed", out.Failed),
		zap.Int("valid_context", snap.Valid()),
		zap.String("model_id", modelID),
		zap.Bool("missing_threshold_exceeded", out.Quality.Exceeded),
		zap.Duration("duration", out.Duration),
	)
	return out, nil
}

// fanOut applies fn to every item with at most o.workers goroutines. Items
// are disjoint, so no locking is needed.
func (o *Orchestrator) fanOut(ctx context.Context, items []item, fn func(*item) error) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.workers)
	for i := range items {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			return fn(&items[i])
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

func (o *Orchestrator) classify(it *item) error {
	it.missing = o.policy.IsMissing(it.rec)
	it.overLimit = !it.missing && o.policy.IsOverLimit(it.rec)
	it.state = Classified
	return nil
}

// estimateWithModel runs the configured model over every record needing an
// estimate as one batch. A model whose schema does not match the dataset is
// skipped and the fallback cascade takes over. It returns the model ID when
// the model was used.
func (o *Orchestrator) estimateWithModel(ds *model.Dataset, items []item) string {
	if o.model == nil || o.adapter == nil {
		return ""
	}
	var pending []int
	for i := range items {
		if items[i].needsEstimate() {
			pending = append(pending, i)
		}
	}
	if len(pending) == 0 {
		return ""
	}
	if err := o.adapter.CheckSchema(o.model, ds.Columns); err != nil {
		zap.L().Warn("pipeline: model schema does not match dataset, using fallback rules",
			zap.String("model_id", o.model.ID),
			zap.Error(err),
		)
		return ""
	}

	records := make([]model.Record, len(pending))
	for k, i := range pending {
		records[k] = items[i].rec
	}
	values, errs := o.adapter.PredictRecords(o.model, records)
	for k, i := range pending {
		it := &items[i]
		if errs[k] != nil {
			it.err = errs[k]
			continue
		}
		it.estimate = values[k]
		it.source = model.SourceModel
		it.state = Estimated
	}
	return o.model.ID
}

// finalize moves an item to Finalized, consulting the fallback cascade when
// the model produced nothing.
func (o *Orchestrator) finalize(snap *fallback.Snapshot, it *item) {
	original := finiteOrNil(it.rec.Effort)
	res := model.PredictionResult{Row: it.rec.Row, OriginalValue: original}

	switch {
	case it.err != nil:
		res.Status = model.StatusFailed
		res.Source = model.SourceNone
		res.Error = it.err.Error()
	case !it.needsEstimate():
		res.Status = model.StatusUnchanged
		res.Source = model.SourcePassthrough
		res.FinalValue = model.Float(*it.rec.Effort)
	default:
		if it.state != Estimated {
			est, err := o.fallback.Predict(snap, it.rec)
			if err != nil {
				it.err = err
				res.Status = model.StatusFailed
				res.Source = model.SourceNone
				res.Error = err.Error()
				break
			}
			it.estimate = est.Value
			it.source = est.Source()
			it.state = Estimated
		}

		var orig float64
		if original != nil {
			orig = *original
		}
		res.PredictedValue = model.Float(o.policy.Headroom(it.estimate))
		res.FinalValue = model.Float(o.policy.Clamp(orig, it.estimate, it.missing, it.overLimit))
		res.Source = it.source
		if it.missing {
			res.Status = model.StatusImputedMissing
		} else {
			res.Status = model.StatusCappedOverLimit
		}
	}

	it.result = res
	it.state = Finalized
}

func finiteOrNil(v *float64) *float64 {
	if v == nil || math.IsNaN(*v) || math.IsInf(*v, 0) {
		return nil
	}
	return model.Float(*v)
}

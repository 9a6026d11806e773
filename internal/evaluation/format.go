package evaluation

import (
	"fmt"
	"sort"
	"strings"

	"github.com/sells-group/effort-cli/internal/model"
)

func label(lo, hi float64) string {
	if hi == 0 {
		return fmt.Sprintf("%g+", lo)
	}
	return fmt.Sprintf("%g-%g", lo, hi)
}

// FormatReport renders a Report as markdown-flavored text.
func FormatReport(r *Report) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# Model Report: %s\n", r.ModelName)
	fmt.Fprintf(&b, "ID: %s\n", r.ModelID)
	fmt.Fprintf(&b, "Backend: %s\n\n", r.Backend)

	b.WriteString("## Training\n")
	t := r.Training
	fmt.Fprintf(&b, "- Train: RMSE %.4f, MAE %.4f, R² %.4f (%d rows)\n", t.Train.RMSE, t.Train.MAE, t.Train.R2, t.Train.Samples)
	fmt.Fprintf(&b, "- Test:  RMSE %.4f, MAE %.4f, R² %.4f (%d rows)\n", t.Test.RMSE, t.Test.MAE, t.Test.R2, t.Test.Samples)
	if t.OutliersRemoved > 0 {
		fmt.Fprintf(&b, "- Outliers removed: %d\n", t.OutliersRemoved)
	}
	if t.Tuned {
		fmt.Fprintf(&b, "- Tuned: iterations=%d depth=%d learning_rate=%g l2_leaf_reg=%g (cv RMSE %.4f)\n",
			t.Params.Iterations, t.Params.Depth, t.Params.LearningRate, t.Params.L2LeafReg, t.TuningRMSE)
	}
	b.WriteString("\n")

	if ev := r.Evaluation; ev != nil {
		b.WriteString("## Evaluation\n")
		fmt.Fprintf(&b, "- RMSE %.4f, MAE %.4f, R² %.4f (%d rows, %d excluded)\n", ev.RMSE, ev.MAE, ev.R2, ev.Samples, ev.Excluded)
		if ev.CV != nil {
			fmt.Fprintf(&b, "- %d-fold CV RMSE: %.4f ± %.4f\n", ev.CV.Folds, ev.CV.RMSEMean, ev.CV.RMSEStd)
		}
		b.WriteString("\n")
	}

	b.WriteString("## Overfitting\n")
	fmt.Fprintf(&b, "- Train R² − Test R²: %.4f", r.Overfitting)
	if r.Overfit {
		b.WriteString(" (overfitting)")
	}
	b.WriteString("\n\n")

	b.WriteString("## Feature Importance\n")
	if len(r.Importance) == 0 {
		b.WriteString("No features.\n")
	}
	for i, imp := range r.Importance {
		fmt.Fprintf(&b, "%2d. %-28s %6.2f%%\n", i+1, imp.Feature, imp.Importance)
	}
	b.WriteString("\n")

	writeTarget(&b, r.Target)
	return b.String()
}

func writeTarget(b *strings.Builder, ts TargetStats) {
	b.WriteString("## Effort Distribution\n")
	if ts.Count == 0 {
		b.WriteString("No recorded effort values.\n")
		return
	}
	fmt.Fprintf(b, "- Values: %d, mean %.2f, median %.2f, std %.2f, min %.2f, max %.2f\n",
		ts.Count, ts.Mean, ts.Median, ts.StdDev, ts.Min, ts.Max)
	fmt.Fprintf(b, "- Extreme (> %g): %d\n", ExtremeValue, ts.Extreme)
	for _, bk := range ts.Buckets {
		fmt.Fprintf(b, "  %-6s %5d (%.1f%%)\n", bk.Label, bk.Count, bk.Percent)
	}
}

// FormatSummary renders a Summary as markdown-flavored text.
func FormatSummary(s Summary) string {
	var b strings.Builder

	b.WriteString("# Effort Expense Summary\n")
	fmt.Fprintf(&b, "- Total rows: %d\n", s.TotalRows)
	fmt.Fprintf(&b, "- Missing: %d (%.1f%%)\n", s.MissingCount, s.MissingPercent)
	fmt.Fprintf(&b, "- Over limit (> %g): %d (%.1f%%)\n", s.EffortLimit, s.OverLimitCount, s.OverLimitPercent)
	fmt.Fprintf(&b, "- Estimated: %d\n", s.PredictedCount)
	if s.FailedCount > 0 {
		fmt.Fprintf(&b, "- Failed: %d\n", s.FailedCount)
	}
	fmt.Fprintf(&b, "- Notifications: %d\n", s.NotificationCount)
	if s.ModelID != "" {
		fmt.Fprintf(&b, "- Model: %s\n", s.ModelID)
	}
	if s.Quality.Exceeded {
		fmt.Fprintf(&b, "- Warning: missing rate %.1f%% exceeds threshold %.1f%%\n",
			s.Quality.MissingFraction*100, s.Quality.Threshold*100)
	}

	if len(s.Sources) > 0 {
		b.WriteString("\n## Sources\n")
		keys := make([]string, 0, len(s.Sources))
		for k := range s.Sources {
			keys = append(keys, string(k))
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, "- %s: %d\n", k, s.Sources[model.Source(k)])
		}
	}
	return b.String()
}

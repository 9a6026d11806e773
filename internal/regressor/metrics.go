package regressor

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// Scores are the goodness-of-fit figures for one partition.
type Scores struct {
	RMSE    float64 `json:"rmse"`
	MAE     float64 `json:"mae"`
	R2      float64 `json:"r2"`
	Samples int     `json:"samples"`
}

// Metrics describe one training run.
type Metrics struct {
	Train           Scores  `json:"train"`
	Test            Scores  `json:"test"`
	OutliersRemoved int     `json:"outliers_removed"`
	Excluded        int     `json:"excluded"`
	Tuned           bool    `json:"tuned"`
	TuningRMSE      float64 `json:"tuning_rmse,omitempty"`
	Params          Params  `json:"params"`
}

// CrossValidation holds k-fold results.
type CrossValidation struct {
	Folds    int       `json:"folds"`
	RMSEMean float64   `json:"rmse_mean"`
	RMSEStd  float64   `json:"rmse_std"`
	Scores   []float64 `json:"scores"`
}

// Evaluation is the result of scoring a trained model against a dataset.
type Evaluation struct {
	Scores
	Excluded int              `json:"excluded"`
	CV       *CrossValidation `json:"cv,omitempty"`
}

// Score computes RMSE, MAE and R² of predictions against actual values.
// R² is 0 when the actual values have no variance.
func Score(pred, actual []float64) Scores {
	s := Scores{Samples: len(actual)}
	if len(actual) == 0 {
		return s
	}
	var sse, sae float64
	for i, a := range actual {
		d := pred[i] - a
		sse += d * d
		sae += math.Abs(d)
	}
	n := float64(len(actual))
	s.RMSE = math.Sqrt(sse / n)
	s.MAE = sae / n
	if len(actual) > 1 && stat.Variance(actual, nil) > 0 {
		s.R2 = finite(stat.RSquaredFrom(pred, actual, nil))
	}
	return s
}

func rmseOf(pred, actual []float64) float64 {
	return Score(pred, actual).RMSE
}

func crossValidation(scores []float64) *CrossValidation {
	cv := &CrossValidation{Folds: len(scores), Scores: scores}
	if len(scores) == 0 {
		return cv
	}
	if len(scores) == 1 {
		cv.RMSEMean = scores[0]
		return cv
	}
	mean, std := stat.MeanStdDev(scores, nil)
	cv.RMSEMean = finite(mean)
	cv.RMSEStd = finite(std)
	return cv
}

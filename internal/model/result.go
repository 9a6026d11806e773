package model

// Status describes what happened to a record's effort value.
type Status string

const (
	StatusUnchanged       Status = "unchanged"
	StatusImputedMissing  Status = "imputed_missing"
	StatusCappedOverLimit Status = "capped_over_limit"
	StatusFailed          Status = "failed"
)

// Source identifies which path produced a record's estimate.
type Source string

const (
	SourceModel       Source = "model"
	SourceFallback1   Source = "fallback_rule_1"
	SourceFallback2   Source = "fallback_rule_2"
	SourceFallback3   Source = "fallback_rule_3"
	SourceFallback4   Source = "fallback_rule_4"
	SourcePassthrough Source = "passthrough"
	SourceNone        Source = "none"
)

// FallbackSource maps a cascade tier (1-4) to its Source.
func FallbackSource(tier int) Source {
	switch tier {
	case 1:
		return SourceFallback1
	case 2:
		return SourceFallback2
	case 3:
		return SourceFallback3
	case 4:
		return SourceFallback4
	default:
		return SourceNone
	}
}

// PredictionResult is the finalized, immutable outcome for one record.
type PredictionResult struct {
	Row            int      `json:"row"`
	OriginalValue  *float64 `json:"original_value"`
	PredictedValue *float64 `json:"predicted_value"`
	FinalValue     *float64 `json:"final_value"`
	Status         Status   `json:"status"`
	Source         Source   `json:"source"`
	Error          string   `json:"error,omitempty"`
}

// Failed reports whether the record could not be finalized.
func (p PredictionResult) Failed() bool {
	return p.Status == StatusFailed
}

// NeedsNotification reports whether the record was missing or over the limit.
func (p PredictionResult) NeedsNotification() bool {
	return p.Status == StatusImputedMissing || p.Status == StatusCappedOverLimit
}

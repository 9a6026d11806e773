// Package notify delivers effort issue alerts to n8n and Microsoft Teams
// webhooks.
package notify

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/effort-cli/internal/config"
	"github.com/sells-group/effort-cli/internal/dataset"
	"github.com/sells-group/effort-cli/internal/evaluation"
	"github.com/sells-group/effort-cli/internal/model"
)

// IssueType classifies why a record needs attention.
type IssueType string

const (
	IssueMissing   IssueType = "missing"
	IssueOverLimit IssueType = "over_limit"
)

// Notification describes one record that was imputed or capped.
type Notification struct {
	UserEmail   string    `json:"user_email"`
	UserName    string    `json:"user_name"`
	UserID      string    `json:"userid"`
	ProjectName string    `json:"project_name"`
	TaskName    string    `json:"task_name"`
	EffortDate  string    `json:"effort_date"`
	Original    *float64  `json:"original_effort"`
	Predicted   *float64  `json:"predicted_effort"`
	Final       *float64  `json:"final_effort"`
	IssueType   IssueType `json:"issue_type"`
	BillingRate *float64  `json:"billing_rate"`
	EffortCosts *float64  `json:"effort_costs"`
	JobTitle    string    `json:"job_title"`
	Community   string    `json:"community"`
	Source      string    `json:"source"`
}

// BuildNotifications returns one Notification per imputed or capped record,
// in input order.
func BuildNotifications(ds *model.Dataset, results []model.PredictionResult) []Notification {
	byRow := make(map[int]model.Record, len(ds.Records))
	for _, r := range ds.Records {
		byRow[r.Row] = r
	}

	var out []Notification
	for _, res := range results {
		var issue IssueType
		switch res.Status {
		case model.StatusImputedMissing:
			issue = IssueMissing
		case model.StatusCappedOverLimit:
			issue = IssueOverLimit
		default:
			continue
		}
		r := byRow[res.Row]
		n := Notification{
			UserEmail:   r.Category(model.ColEmail),
			UserName:    r.Extra[model.ColUserName],
			UserID:      r.Extra[model.ColUserID],
			ProjectName: r.Extra[model.ColProjectName],
			TaskName:    r.Extra[model.ColTaskName],
			Original:    res.OriginalValue,
			Predicted:   res.PredictedValue,
			Final:       res.FinalValue,
			IssueType:   issue,
			JobTitle:    r.Category(model.ColJobTitle),
			Community:   r.Category(model.ColCommunity),
			Source:      string(res.Source),
		}
		if r.EffortDate != nil {
			n.EffortDate = r.EffortDate.Format(dataset.DateLayout)
		}
		if v, ok := r.Number(model.ColHourlyRate); ok {
			n.BillingRate = model.Float(v)
		}
		if v, ok := r.Number(model.ColTimeCosts); ok {
			n.EffortCosts = model.Float(v)
		}
		out = append(out, n)
	}
	return out
}

// Sender delivers a batch of notifications.
type Sender interface {
	Name() string
	Send(ctx context.Context, summary evaluation.Summary, notes []Notification) error
}

// Senders builds the senders that have a webhook configured.
func Senders(cfg config.NotifyConfig) []Sender {
	client := NewClient(cfg)
	var out []Sender
	if cfg.N8NWebhookURL != "" {
		out = append(out, NewN8N(cfg.N8NWebhookURL, client))
	}
	if cfg.TeamsWebhookURL != "" {
		out = append(out, NewTeams(cfg.TeamsWebhookURL, client))
	}
	return out
}

// Dispatch sends to every sender and returns how many succeeded. Failures
// are logged; the last one is returned.
func Dispatch(ctx context.Context, senders []Sender, summary evaluation.Summary, notes []Notification) (int, error) {
	if len(notes) == 0 {
		zap.L().Info("notify: nothing to send")
		return 0, nil
	}
	sent := 0
	var lastErr error
	for _, s := range senders {
		if err := s.Send(ctx, summary, notes); err != nil {
			zap.L().Error("notify: send failed", zap.String("sender", s.Name()), zap.Error(err))
			lastErr = eris.Wrapf(err, "notify: %s", s.Name())
			continue
		}
		zap.L().Info("notify: sent",
			zap.String("sender", s.Name()),
			zap.Int("notifications", len(notes)),
		)
		sent++
	}
	return sent, lastErr
}

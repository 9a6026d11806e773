package notify

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/sells-group/effort-cli/internal/evaluation"
)

// maxTeamsDetails caps the issue lines listed in one card.
const maxTeamsDetails = 10

// MessageCard is the legacy connector card accepted by Teams incoming webhooks.
type MessageCard struct {
	Type       string        `json:"@type"`
	Context    string        `json:"@context"`
	ThemeColor string        `json:"themeColor"`
	Summary    string        `json:"summary"`
	Sections   []CardSection `json:"sections"`
}

// CardSection is one block of a MessageCard.
type CardSection struct {
	ActivityTitle    string `json:"activityTitle"`
	ActivitySubtitle string `json:"activitySubtitle"`
	Facts            []Fact `json:"facts"`
	Text             string `json:"text,omitempty"`
	Markdown         bool   `json:"markdown"`
}

// Fact is a name/value row.
type Fact struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Teams posts a summary card to a Teams incoming webhook.
type Teams struct {
	url    string
	client *Client
}

// NewTeams returns a sender for the webhook at url.
func NewTeams(url string, client *Client) *Teams {
	return &Teams{url: url, client: client}
}

func (t *Teams) Name() string { return "teams" }

// Card builds the MessageCard for a batch.
func (t *Teams) Card(summary evaluation.Summary, notes []Notification) MessageCard {
	var missing, over int
	for _, n := range notes {
		if n.IssueType == IssueMissing {
			missing++
		} else {
			over++
		}
	}

	section := CardSection{
		ActivityTitle:    "Effort Expense Management Alert",
		ActivitySubtitle: fmt.Sprintf("Found %d issues requiring attention", len(notes)),
		Facts: []Fact{
			{Name: "Missing Effort Data", Value: strconv.Itoa(missing)},
			{Name: "Over-Limit Effort Data", Value: strconv.Itoa(over)},
			{Name: "Total Issues", Value: strconv.Itoa(len(notes))},
			{Name: "Rows Processed", Value: strconv.Itoa(summary.TotalRows)},
		},
		Markdown: true,
	}

	if len(notes) > 0 {
		var b strings.Builder
		b.WriteString("**Issue Details:**\n\n")
		for i, n := range notes {
			if i == maxTeamsDetails {
				fmt.Fprintf(&b, "\n... and %d more issues", len(notes)-maxTeamsDetails)
				break
			}
			final := "n/a"
			if n.Final != nil {
				final = fmt.Sprintf("%.2fh", *n.Final)
			}
			fmt.Fprintf(&b, "%d. **%s** - %s (%s): %s\n", i+1, issueLabel(n.IssueType), n.ProjectName, n.UserName, final)
		}
		section.Text = b.String()
	}

	return MessageCard{
		Type:       "MessageCard",
		Context:    "http://schema.org/extensions",
		ThemeColor: "0078D4",
		Summary:    "Effort Expense Alert Summary",
		Sections:   []CardSection{section},
	}
}

func issueLabel(t IssueType) string {
	if t == IssueMissing {
		return "Missing"
	}
	return "Over Limit"
}

func (t *Teams) Send(ctx context.Context, summary evaluation.Summary, notes []Notification) error {
	return t.client.PostJSON(ctx, t.url, t.Card(summary, notes))
}

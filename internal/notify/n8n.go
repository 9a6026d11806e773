package notify

import (
	"context"
	"time"

	"github.com/sells-group/effort-cli/internal/evaluation"
)

// N8NEventType tags alert payloads for the n8n workflow.
const N8NEventType = "effort_expense_alert"

// N8NPayload is the body posted to the n8n webhook.
type N8NPayload struct {
	EventType     string             `json:"event_type"`
	Timestamp     string             `json:"timestamp"`
	Summary       evaluation.Summary `json:"summary"`
	Notifications []Notification     `json:"notifications"`
	Metadata      N8NMetadata        `json:"metadata"`
}

// N8NMetadata identifies the sending system.
type N8NMetadata struct {
	System             string `json:"system"`
	Version            string `json:"version"`
	ProcessingRequired bool   `json:"processing_required"`
}

// N8N posts alerts to an n8n webhook trigger.
type N8N struct {
	url    string
	client *Client
	now    func() time.Time
}

// NewN8N returns a sender for the webhook at url.
func NewN8N(url string, client *Client) *N8N {
	return &N8N{url: url, client: client, now: time.Now}
}

func (n *N8N) Name() string { return "n8n" }

// Payload builds the request body.
func (n *N8N) Payload(summary evaluation.Summary, notes []Notification) N8NPayload {
	return N8NPayload{
		EventType:     N8NEventType,
		Timestamp:     n.now().UTC().Format(time.RFC3339),
		Summary:       summary,
		Notifications: notes,
		Metadata: N8NMetadata{
			System:             "effort_expense_management",
			Version:            "1.0",
			ProcessingRequired: true,
		},
	}
}

func (n *N8N) Send(ctx context.Context, summary evaluation.Summary, notes []Notification) error {
	return n.client.PostJSON(ctx, n.url, n.Payload(summary, notes))
}

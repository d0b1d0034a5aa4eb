package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// maxListed bounds the incomplete windows spelled out in the text body.
const maxListed = 10

// WebhookNotifier posts alerts as JSON.
type WebhookNotifier struct {
	url    string
	client *http.Client
}

type webhookPayload struct {
	MsgType string       `json:"msgtype"`
	Text    webhookText  `json:"text"`
	Run     AlertMessage `json:"run"`
}

type webhookText struct {
	Content string `json:"content"`
}

// NewWebhookNotifier constructs a notifier. A zero timeout defaults to 10s.
func NewWebhookNotifier(url string, timeout time.Duration) *WebhookNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WebhookNotifier{
		url:    url,
		client: &http.Client{Timeout: timeout},
	}
}

// Notify sends an alert to the webhook.
func (n *WebhookNotifier) Notify(ctx context.Context, msg AlertMessage) error {
	if n == nil || n.url == "" {
		return errors.New("webhook notifier: empty url")
	}
	body, err := json.Marshal(webhookPayload{
		MsgType: "text",
		Text:    webhookText{Content: formatAlertMessage(msg)},
		Run:     msg,
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := n.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook notifier: http %d", resp.StatusCode)
	}
	return nil
}

func formatAlertMessage(msg AlertMessage) string {
	var b strings.Builder
	b.WriteString("[PV history backfill]\n")
	if msg.Site != "" {
		fmt.Fprintf(&b, "Site: %s\n", msg.Site)
	}
	fmt.Fprintf(&b, "Run: %s\n", msg.RunID)
	if msg.Error != "" {
		fmt.Fprintf(&b, "Failed: %s\n", msg.Error)
	}
	fmt.Fprintf(&b, "Records: %d\n", msg.Records)
	if len(msg.Incomplete) > 0 {
		fmt.Fprintf(&b, "Incomplete windows: %d\n", len(msg.Incomplete))
		for i, w := range msg.Incomplete {
			if i == maxListed {
				fmt.Fprintf(&b, "  ... %d more\n", len(msg.Incomplete)-maxListed)
				break
			}
			fmt.Fprintf(&b, "  %s %s %s: %d/%d devices", w.Job, w.Period, w.Start.Format("2006-01-02 15:04"), w.Merged, w.Expected)
			if len(w.Unavailable) > 0 {
				fmt.Fprintf(&b, ", unavailable %s", strings.Join(w.Unavailable, ","))
			}
			b.WriteString("\n")
		}
	}
	for _, path := range msg.Reports {
		fmt.Fprintf(&b, "Report: %s\n", path)
	}
	return strings.TrimSpace(b.String())
}

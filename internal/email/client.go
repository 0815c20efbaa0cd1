// Package email sends channel-processing completion notifications through an
// HTTP email provider. The client degrades to a no-op when no credential is
// configured.
package email

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/mofekayode/videosift-backend/internal/models"
)

const (
	defaultAPIURL  = "https://api.resend.com/emails"
	requestTimeout = 10 * time.Second
)

// Client talks to the email provider.
type Client struct {
	apiKey     string
	from       string
	apiURL     string
	httpClient *http.Client
}

// NewClient creates an email client. With an empty API key the client is
// disabled and sends become no-ops, allowing the service to run without a
// provider account.
func NewClient(apiKey, from string) *Client {
	if apiKey == "" {
		log.Println("[EMAIL] EMAIL_API_KEY is not set; completion notifications are disabled.")
	}
	return &Client{
		apiKey:     apiKey,
		from:       from,
		apiURL:     defaultAPIURL,
		httpClient: &http.Client{Timeout: requestTimeout},
	}
}

// Enabled reports whether the client has a credential.
func (c *Client) Enabled() bool {
	return c.apiKey != ""
}

// SendChannelCompletion notifies the requesting user that a channel finished
// processing. The body branches on the terminal status.
func (c *Client) SendChannelCompletion(ctx context.Context, to, channelTitle, status string, stats models.ChannelStats, errorMessage string) error {
	if !c.Enabled() || to == "" {
		return nil
	}

	var subject, html string
	if status == models.QueueStatusCompleted {
		subject = fmt.Sprintf("\"%s\" is ready to chat", channelTitle)
		html = fmt.Sprintf(
			"<p>Your channel <b>%s</b> has finished indexing.</p>"+
				"<ul><li>%d videos processed</li><li>%d already indexed</li><li>%d without captions</li><li>%d failed</li></ul>"+
				"<p>%d videos total are now searchable.</p>",
			channelTitle, stats.Processed, stats.Existing, stats.NoTranscript, stats.Failed, stats.Total)
	} else {
		subject = fmt.Sprintf("Processing \"%s\" failed", channelTitle)
		html = fmt.Sprintf(
			"<p>We could not finish indexing <b>%s</b>.</p><p>Reason: %s</p>"+
				"<p>The queue retries failed channels automatically; no action is needed yet.</p>",
			channelTitle, errorMessage)
	}

	payload, err := json.Marshal(map[string]interface{}{
		"from":    c.from,
		"to":      []string{to},
		"subject": subject,
		"html":    html,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal email payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create email request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("email request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("email provider returned status %d", resp.StatusCode)
	}
	log.Printf("[EMAIL] Sent %s notification for channel '%s' to %s.", status, channelTitle, to)
	return nil
}

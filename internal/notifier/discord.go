package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/pauljones0/tender-watch/internal/models"
	"github.com/pauljones0/tender-watch/internal/util"
)

const (
	colorNoDeadline = 3092790  // #2F3136
	colorOpen       = 3066993  // #2ECC71
	colorClosing    = 16753920 // #FFA500
	colorUrgent     = 16711680 // #FF0000

	urgentWindow  = 7 * 24 * time.Hour
	closingWindow = 21 * 24 * time.Hour

	maxTitleLen       = 256
	maxDescriptionLen = 350
	maxSendAttempts   = 3
)

type Client struct {
	webhookURL  string
	client      *http.Client
	rateLimiter *rate.Limiter
	now         func() time.Time
}

// New returns a webhook client. An empty webhookURL disables sending.
// Discord allows about 5 webhook messages per 2 seconds.
func New(webhookURL string) *Client {
	return &Client{
		webhookURL:  webhookURL,
		client:      &http.Client{Timeout: 10 * time.Second},
		rateLimiter: rate.NewLimiter(rate.Every(time.Second/2), 2),
		now:         time.Now,
	}
}

// Send posts a new offer notification and returns the message ID.
func (c *Client) Send(ctx context.Context, offer models.Offer) (string, error) {
	if c.webhookURL == "" {
		return "", nil
	}
	embed := formatOfferToEmbed(offer, c.now())
	return c.sendAndGetMessageID(ctx, embed)
}

// Internal structures
type discordWebhookPayload struct {
	Content string         `json:"content,omitempty"`
	Embeds  []discordEmbed `json:"embeds"`
}

type discordEmbedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline,omitempty"`
}

type discordEmbedFooter struct {
	Text string `json:"text,omitempty"`
}

type discordEmbed struct {
	Title       string              `json:"title,omitempty"`
	Description string              `json:"description,omitempty"`
	URL         string              `json:"url,omitempty"`
	Timestamp   string              `json:"timestamp,omitempty"`
	Color       int                 `json:"color,omitempty"`
	Fields      []discordEmbedField `json:"fields,omitempty"`
	Footer      discordEmbedFooter  `json:"footer,omitempty"`
}

type discordMessageResponse struct {
	ID        string `json:"id"`
	ChannelID string `json:"channel_id"`
}

func formatOfferToEmbed(offer models.Offer, now time.Time) discordEmbed {
	var fields []discordEmbedField
	if offer.Partner != "" {
		fields = append(fields, discordEmbedField{Name: "Partenaire", Value: offer.Partner, Inline: true})
	}
	if offer.ClosingAt != nil {
		fields = append(fields, discordEmbedField{Name: "Date limite", Value: offer.ClosingAt.Format("02/01/2006 15:04"), Inline: true})
	}
	if offer.OfferType != "" {
		fields = append(fields, discordEmbedField{Name: "Type", Value: offer.OfferType, Inline: true})
	}

	var isoTimestamp string
	switch {
	case offer.PublishedAt != nil:
		isoTimestamp = offer.PublishedAt.Format(time.RFC3339)
	case !offer.ScrapedAt.IsZero():
		isoTimestamp = offer.ScrapedAt.Format(time.RFC3339)
	}

	footer := offer.SourceName
	if offer.MatchedKeywords != "" {
		footer = strings.TrimSpace(footer + " · " + offer.MatchedKeywords)
	}

	return discordEmbed{
		Title:       util.Truncate(offer.Title, maxTitleLen-3, "..."),
		URL:         offer.URL,
		Description: util.Truncate(offer.Description, maxDescriptionLen, "..."),
		Timestamp:   isoTimestamp,
		Color:       getDeadlineColor(offer.ClosingAt, now),
		Fields:      fields,
		Footer:      discordEmbedFooter{Text: footer},
	}
}

func getDeadlineColor(closing *time.Time, now time.Time) int {
	if closing == nil {
		return colorNoDeadline
	}
	left := closing.Sub(now)
	if left < urgentWindow {
		return colorUrgent
	} else if left < closingWindow {
		return colorClosing
	}
	return colorOpen
}

func (c *Client) sendAndGetMessageID(ctx context.Context, embed discordEmbed) (string, error) {
	payload := discordWebhookPayload{Embeds: []discordEmbed{embed}}
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	parsedURL, err := url.Parse(c.webhookURL)
	if err != nil {
		return "", err
	}
	q := parsedURL.Query()
	q.Set("wait", "true")
	parsedURL.RawQuery = q.Encode()

	var lastErr error
	for attempt := 0; attempt < maxSendAttempts; attempt++ {
		if err := c.rateLimiter.Wait(ctx); err != nil {
			return "", err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, parsedURL.String(), bytes.NewReader(payloadBytes))
		if err != nil {
			return "", err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.client.Do(req)
		if err != nil {
			lastErr = err
			if !sleepCtx(ctx, time.Duration(attempt+1)*time.Second) {
				return "", ctx.Err()
			}
			continue
		}
		bodyBytes, _ := io.ReadAll(resp.Body)
		resp.Body.Close()

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			var msgResponse discordMessageResponse
			if err := json.Unmarshal(bodyBytes, &msgResponse); err != nil {
				return "", err
			}
			return msgResponse.ID, nil
		}

		lastErr = fmt.Errorf("discord status: %s, body: %s", resp.Status, string(bodyBytes))
		backoff := retryBackoff(resp, attempt)
		if backoff == 0 {
			return "", lastErr
		}
		slog.Warn("Discord webhook failed, retrying", "status", resp.StatusCode, "attempt", attempt+1, "backoff", backoff)
		if !sleepCtx(ctx, backoff) {
			return "", ctx.Err()
		}
	}
	return "", fmt.Errorf("discord send failed after %d attempts: %w", maxSendAttempts, lastErr)
}

// retryBackoff returns how long to wait before retrying resp, or zero when
// the status is not retryable. Retry-After is honoured on 429.
func retryBackoff(resp *http.Response, attempt int) time.Duration {
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		if secs, err := strconv.ParseFloat(resp.Header.Get("Retry-After"), 64); err == nil && secs > 0 {
			return time.Duration(secs * float64(time.Second))
		}
		return time.Duration(attempt+1) * time.Second
	case resp.StatusCode >= 500:
		return time.Duration(1<<attempt) * 250 * time.Millisecond
	default:
		return 0
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}

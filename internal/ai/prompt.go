package ai

import (
	"fmt"
	"strings"
	"time"

	"github.com/pauljones0/tender-watch/internal/models"
	"github.com/pauljones0/tender-watch/internal/util"
)

const maxPromptDescription = 2000

func buildPrompt(o models.RawOffer, country string) string {
	if country == "" {
		country = "Côte d'Ivoire"
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, `You filter procurement notices for a consulting firm.
Keep only opportunities that match the firm's services AND whose place of execution is in %s.

Typical services: studies and diagnostics, surveys, data collection, monitoring and evaluation,
statistics, GIS, remote sensing, satellite imagery, capacity building, technical assistance.

Answer with valid JSON only, no surrounding text, using this schema:
{"keep": true|false, "score": 0-100, "summary": "...", "execution_in_target_country": true|false, "reasons": ["..."]}

Rules:
- keep=false if the work is not performed in %s or is not a service of this kind.
- keep=false if the deadline is missing or unknown.
- keep=false if this is not a consulting, service, tender, EOI, DAO or RFP context (news, article, event).
- score measures overall relevance (services and country).
- summary: 1-2 sentences, at most 220 characters, in French.

`, country, country)

	fmt.Fprintf(&sb, "TITLE: %s\n", strings.TrimSpace(o.Title))
	fmt.Fprintf(&sb, "SOURCE: %s\n", strings.TrimSpace(o.SourceName))
	fmt.Fprintf(&sb, "PARTNER: %s\n", strings.TrimSpace(o.Partner))
	fmt.Fprintf(&sb, "PUBLISHED: %s\n", formatDate(o.PublishedAt))
	fmt.Fprintf(&sb, "DEADLINE: %s\n", formatDate(o.ClosingAt))
	fmt.Fprintf(&sb, "URL: %s\n", strings.TrimSpace(o.URL))
	fmt.Fprintf(&sb, "DESCRIPTION: %s\n", util.Truncate(strings.TrimSpace(o.Description), maxPromptDescription, ""))
	return sb.String()
}

func formatDate(t *time.Time) string {
	if t == nil {
		return "unknown"
	}
	return t.Format(time.DateOnly)
}

package ai

import (
	"strings"

	"github.com/pauljones0/tender-watch/internal/models"
	"github.com/pauljones0/tender-watch/internal/util"
)

// FallbackDescriptionLength bounds descriptions stored without an AI summary.
const FallbackDescriptionLength = 240

// Describe returns the description to store for an offer: the AI summary of
// a kept offer when there is one, else the title for an empty description,
// else the description collapsed and truncated with an ellipsis.
func Describe(o models.RawOffer, out Outcome) string {
	if out.Keep {
		if summary := strings.TrimSpace(out.Summary); summary != "" {
			return summary
		}
	}
	desc := util.CollapseSpaces(o.Description)
	if desc == "" {
		return strings.TrimSpace(o.Title)
	}
	return util.Truncate(desc, FallbackDescriptionLength, "...")
}

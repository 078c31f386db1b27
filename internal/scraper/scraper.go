package scraper

import (
	"context"
	"errors"

	"github.com/pauljones0/tender-watch/internal/models"
)

// Scraper types that are not named variants.
const (
	TypeGenericLinkFollower  = "generic-link-follower"
	TypeRenderedLinkFollower = "rendered-link-follower"
)

// ErrRendererUnavailable is returned when a rendered scraper is requested but
// headless rendering is disabled.
var ErrRendererUnavailable = errors.New("headless renderer is disabled")

// Scraper produces raw offers for one source. A failing page is logged and
// skipped; an error is returned only when seed pages could not be read, in
// which case any offers gathered from the other seeds are still returned.
type Scraper interface {
	Scrape(ctx context.Context, keywords []string) ([]models.RawOffer, error)
}

// PageSource returns parsed HTML for a URL.
type PageSource interface {
	Fetch(ctx context.Context, rawURL string) (*Page, error)
}

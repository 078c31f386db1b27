package storage

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/pauljones0/tender-watch/internal/models"
)

// OfferID is the document id of an offer: the hex SHA-256 of its URL.
func OfferID(url string) string {
	sum := sha256.Sum256([]byte(url))
	return hex.EncodeToString(sum[:])
}

// NewOffer is the first accepted sighting of an offer. A blank description
// falls back to the title.
func NewOffer(incoming models.Offer, now time.Time) models.Offer {
	o := incoming
	if strings.TrimSpace(o.Description) == "" {
		o.Description = strings.TrimSpace(o.Title)
	}
	o.Active = true
	o.ScrapedAt = now
	o.ModifiedAt = now
	return o
}

// MergeOffer applies an accepted re-sighting to a stored offer. Blank
// incoming text and unknown incoming dates never erase what is stored.
func MergeOffer(existing, incoming models.Offer, now time.Time) models.Offer {
	o := existing
	o.Active = true
	o.ScrapedAt = now
	o.ModifiedAt = now

	o.Title = keepNonBlank(o.Title, incoming.Title)
	o.Description = keepNonBlank(o.Description, incoming.Description)
	o.OfferType = keepNonBlank(o.OfferType, incoming.OfferType)
	o.Partner = keepNonBlank(o.Partner, incoming.Partner)
	o.MatchedKeywords = keepNonBlank(o.MatchedKeywords, incoming.MatchedKeywords)

	if incoming.PublishedAt != nil {
		o.PublishedAt = incoming.PublishedAt
	}
	if incoming.ClosingAt != nil {
		o.ClosingAt = incoming.ClosingAt
	}
	return o
}

// Deactivate soft-deletes a stored offer after a rejected re-sighting.
func Deactivate(existing models.Offer, now time.Time) models.Offer {
	o := existing
	o.Active = false
	o.ScrapedAt = now
	o.ModifiedAt = now
	return o
}

func keepNonBlank(old, incoming string) string {
	if strings.TrimSpace(incoming) == "" {
		return old
	}
	return incoming
}

// runPlan holds the final state of every offer a source run touched.
type runPlan struct {
	inserts []models.Offer
	updates []models.Offer
}

// planRun applies decisions in order against the stored rows. A URL seen
// twice in one run is applied against the state left by its first sighting.
func planRun(existing map[string]models.Offer, decisions []models.OfferDecision, now time.Time) runPlan {
	state := make(map[string]models.Offer, len(existing))
	for url, o := range existing {
		state[url] = o
	}
	created := make(map[string]bool)
	var order []string
	touched := make(map[string]bool)

	for _, d := range decisions {
		url := d.Offer.URL
		cur, ok := state[url]
		switch {
		case !d.Keep && !ok:
			continue
		case !d.Keep:
			state[url] = Deactivate(cur, now)
		case ok:
			state[url] = MergeOffer(cur, d.Offer, now)
		default:
			state[url] = NewOffer(d.Offer, now)
			created[url] = true
		}
		if !touched[url] {
			touched[url] = true
			order = append(order, url)
		}
	}

	var plan runPlan
	for _, url := range order {
		if created[url] {
			plan.inserts = append(plan.inserts, state[url])
		} else {
			plan.updates = append(plan.updates, state[url])
		}
	}
	return plan
}

// decisionURLs returns the distinct URLs of a run, in order.
func decisionURLs(decisions []models.OfferDecision) []string {
	seen := make(map[string]bool, len(decisions))
	var urls []string
	for _, d := range decisions {
		if !seen[d.Offer.URL] {
			seen[d.Offer.URL] = true
			urls = append(urls, d.Offer.URL)
		}
	}
	return urls
}

// reconcileSources matches wanted sources to stored ones by name. Missing
// sources are created active; existing ones get the wanted URL and scraper
// type and are reactivated.
func reconcileSources(existing map[string]models.Source, wanted []models.Source, now time.Time) (creates, updates []models.Source, res models.SyncResult) {
	for _, w := range wanted {
		cur, ok := existing[w.Name]
		if !ok {
			s := w
			s.ID = uuid.NewString()
			s.Active = true
			s.CreatedAt = now
			creates = append(creates, s)
			existing[w.Name] = s
			res.Created++
			continue
		}

		changed := false
		if cur.URLBase != w.URLBase || cur.ScraperType != w.ScraperType {
			cur.URLBase = w.URLBase
			cur.ScraperType = w.ScraperType
			changed = true
			res.Updated++
		}
		if !cur.Active {
			cur.Active = true
			changed = true
			res.Activated++
		}
		if changed {
			updates = append(updates, cur)
			existing[w.Name] = cur
		}
	}
	return creates, updates, res
}

func sortSources(sources []models.Source) {
	sort.Slice(sources, func(i, j int) bool { return sources[i].Name < sources[j].Name })
}

package scraper

import (
	"fmt"
	"sort"
	"strings"

	"github.com/pauljones0/tender-watch/internal/config"
	"github.com/pauljones0/tender-watch/internal/filter"
)

// Registry builds scrapers by type name: the configured site variants and
// the generic link follower bound to a single seed URL.
type Registry struct {
	variants    map[string]Variant
	fetcher     PageSource
	renderer    Renderer
	follower    config.FollowerProfile
	relevance   *Relevance
	concurrency int
}

// NewRegistry wires the scrapers. renderer may be nil when headless
// rendering is disabled.
func NewRegistry(cfg *config.Config, variants VariantConfig, fetcher PageSource, renderer Renderer, geo *filter.Geography) *Registry {
	r := &Registry{
		variants: make(map[string]Variant, len(variants.Variants)),
		fetcher:  fetcher,
		renderer: renderer,
		follower: cfg.Profile.Follower,
		relevance: &Relevance{
			Geo:          geo,
			GeoEnabled:   cfg.Filter.GeoFilterEnabled,
			Focus:        filter.NewTermSet(cfg.Profile.FocusTerms),
			FocusEnabled: cfg.Filter.FocusEnabled,
		},
		concurrency: cfg.Scrape.DetailConcurrency,
	}
	for _, v := range variants.Variants {
		r.variants[v.Name] = v
	}
	return r
}

// Has reports whether scraperType names a registered variant.
func (r *Registry) Has(scraperType string) bool {
	_, ok := r.variants[scraperType]
	return ok
}

// Types lists the registered variant names.
func (r *Registry) Types() []string {
	names := make([]string, 0, len(r.variants))
	for name := range r.variants {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Variant returns the scraper for a named variant. sourceName is stamped on
// every offer it produces.
func (r *Registry) Variant(scraperType, sourceName string) (Scraper, error) {
	v, ok := r.variants[scraperType]
	if !ok {
		return nil, fmt.Errorf("no scraper variant %q", scraperType)
	}
	pages := r.fetcher
	if v.Rendered {
		if r.renderer == nil {
			return nil, ErrRendererUnavailable
		}
		pages = renderedSource{renderer: r.renderer}
	}

	switch v.Kind {
	case KindListing:
		return &ListingScraper{
			sourceName: sourceName,
			partner:    v.Partner,
			offerType:  v.OfferType,
			seeds:      v.Seeds,
			selectors:  v.Listing,
			pages:      pages,
		}, nil
	default:
		return &AnchorScraper{
			sourceName:  sourceName,
			partner:     v.Partner,
			offerType:   v.OfferType,
			seeds:       v.Seeds,
			rules:       v.Anchors,
			keywords:    filter.NewTermSet(v.Anchors.Keywords),
			pages:       pages,
			details:     r.fetcher,
			concurrency: r.concurrency,
		}, nil
	}
}

// LinkFollower binds the generic link follower to one seed URL. With
// rendered set, the seed page is rendered by the headless browser.
func (r *Registry) LinkFollower(sourceName, seed string, rendered bool) (Scraper, error) {
	pages := r.fetcher
	if rendered {
		if r.renderer == nil {
			return nil, ErrRendererUnavailable
		}
		pages = renderedSource{renderer: r.renderer}
	}
	return &AnchorScraper{
		sourceName: sourceName,
		partner:    institution(sourceName),
		offerType:  "Offre",
		seeds:      []string{seed},
		rules: AnchorRules{
			Keywords:        r.follower.CommonKeywords,
			IncludeURLParts: r.follower.IncludeURLParts,
			ExcludeURLParts: r.follower.ExcludeURLParts,
			RequireURLPart:  true,
			SameSite:        true,
			FetchDetails:    true,
			MaxLinks:        r.follower.MaxLinks,
		},
		keywords:    filter.NewTermSet(r.follower.CommonKeywords),
		pages:       pages,
		details:     r.fetcher,
		concurrency: r.concurrency,
		relevance:   r.relevance,
	}, nil
}

// institution extracts "ANADER" from a synced source name such as
// "ANADER | anader.ci | 1a2b3c4d".
func institution(sourceName string) string {
	name, _, _ := strings.Cut(sourceName, " | ")
	return strings.TrimSpace(name)
}

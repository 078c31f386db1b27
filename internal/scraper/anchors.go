package scraper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/sync/errgroup"

	"github.com/pauljones0/tender-watch/internal/filter"
	"github.com/pauljones0/tender-watch/internal/models"
	"github.com/pauljones0/tender-watch/internal/util"
)

const defaultMaxLinks = 60

// Relevance is the extra gate the generic link follower applies to each
// candidate: the shared geography rule and the focus vocabulary.
type Relevance struct {
	Geo          *filter.Geography
	GeoEnabled   bool
	Focus        *filter.TermSet
	FocusEnabled bool
}

// Allow reports whether a candidate should be kept. text is the folded
// anchor and page text; userHit tells whether a user keyword matched.
func (r *Relevance) Allow(text, rawURL string, userHit bool) bool {
	if r == nil {
		return true
	}
	if r.GeoEnabled && r.Geo.Configured() {
		if _, ok := r.Geo.Match(text, rawURL, ""); !ok {
			return false
		}
	}
	if r.FocusEnabled && r.Focus.Len() > 0 {
		if _, focusHit := r.Focus.Match(text); !userHit && !focusHit {
			return false
		}
	}
	return true
}

// AnchorScraper collects offer links from seed pages and optionally reads
// each linked page for details.
type AnchorScraper struct {
	sourceName  string
	partner     string
	offerType   string
	seeds       []string
	rules       AnchorRules
	keywords    *filter.TermSet
	pages       PageSource
	details     PageSource
	concurrency int
	relevance   *Relevance
}

type candidate struct {
	url    string
	text   string
	hay    string
	userKW []string
}

func (s *AnchorScraper) Scrape(ctx context.Context, keywords []string) ([]models.RawOffer, error) {
	userKW := filter.NewTermSet(keywords)
	maxLinks := s.rules.MaxLinks
	if maxLinks <= 0 {
		maxLinks = defaultMaxLinks
	}

	var (
		candidates []candidate
		seedErrs   []error
		okSeeds    int
	)
	seen := make(map[string]bool)
	for _, seed := range s.seeds {
		page, err := s.pages.Fetch(ctx, seed)
		if err != nil {
			slog.Warn("Seed page failed", "source", s.sourceName, "url", seed, "error", err)
			seedErrs = append(seedErrs, err)
			continue
		}
		okSeeds++

		pageURL, _ := util.NormalizeURL(page.Base.String())
		page.Doc.Find("a[href]").EachWithBreak(func(_ int, a *goquery.Selection) bool {
			if len(candidates) >= maxLinks {
				return false
			}
			c, ok := s.candidate(page.Base, a, userKW)
			if !ok || c.url == pageURL || seen[c.url] {
				return true
			}
			seen[c.url] = true
			candidates = append(candidates, c)
			return true
		})
	}

	if okSeeds == 0 && len(seedErrs) > 0 {
		return nil, fmt.Errorf("all %d seed pages failed: %w", len(s.seeds), errors.Join(seedErrs...))
	}

	offers := s.resolve(ctx, candidates, userKW)
	slog.Info("Anchor scrape finished", "source", s.sourceName, "candidates", len(candidates), "offers", len(offers))

	if len(seedErrs) > 0 {
		return offers, fmt.Errorf("%d of %d seed pages failed: %w", len(seedErrs), len(s.seeds), errors.Join(seedErrs...))
	}
	return offers, nil
}

func (s *AnchorScraper) candidate(base *url.URL, a *goquery.Selection, userKW *filter.TermSet) (candidate, bool) {
	href := strings.TrimSpace(attr(a, "href"))
	if href == "" || strings.HasPrefix(href, "#") {
		return candidate{}, false
	}
	ref, err := url.Parse(href)
	if err != nil {
		return candidate{}, false
	}
	abs := base.ResolveReference(ref)
	if !util.IsHTTPURL(abs) {
		return candidate{}, false
	}
	if s.rules.SameSite && !util.SameSite(base, abs) {
		return candidate{}, false
	}
	link, err := util.NormalizeURL(abs.String())
	if err != nil {
		return candidate{}, false
	}

	lowerURL := strings.ToLower(link)
	if containsAny(lowerURL, s.rules.ExcludeURLParts) {
		return candidate{}, false
	}

	text := cleanText(a.Text())
	hay := util.Fold(text + " " + link)
	_, commonHit := s.keywords.Match(hay)
	userTerms := userKW.MatchAll(hay)
	kwHit := commonHit || len(userTerms) > 0
	urlHit := containsAny(lowerURL, s.rules.IncludeURLParts)

	if s.rules.RequireURLPart {
		if !urlHit || !kwHit {
			return candidate{}, false
		}
	} else if !urlHit && !kwHit {
		return candidate{}, false
	}

	return candidate{url: link, text: text, hay: hay, userKW: userTerms}, true
}

// resolve fetches detail pages with bounded concurrency and builds offers in
// candidate order.
func (s *AnchorScraper) resolve(ctx context.Context, candidates []candidate, userKW *filter.TermSet) []models.RawOffer {
	details := make([]*Details, len(candidates))
	if s.rules.FetchDetails && len(candidates) > 0 {
		g, gctx := errgroup.WithContext(ctx)
		limit := s.concurrency
		if limit <= 0 {
			limit = 1
		}
		g.SetLimit(limit)
		for i, c := range candidates {
			g.Go(func() error {
				page, err := s.details.Fetch(gctx, c.url)
				if err != nil {
					slog.Debug("Detail page skipped", "source", s.sourceName, "url", c.url, "error", err)
					return nil
				}
				d := ParseDetails(page)
				details[i] = &d
				return nil
			})
		}
		_ = g.Wait()
	}

	offers := make([]models.RawOffer, 0, len(candidates))
	for i, c := range candidates {
		o := models.RawOffer{
			Title:      c.text,
			SourceName: s.sourceName,
			URL:        c.url,
			OfferType:  s.offerType,
			Partner:    s.partner,
		}
		if d := details[i]; d != nil {
			if d.Title != "" {
				o.Title = d.Title
			}
			o.Description = d.Description
			o.PublishedAt = d.PublishedAt
			o.ClosingAt = d.ClosingAt
			if o.Partner == "" {
				o.Partner = d.Partner
			}
		}
		if o.Title == "" {
			o.Title = c.url
		}

		text := c.hay + " " + util.Fold(o.Title+" "+o.Description)
		if !s.relevance.Allow(text, c.url, len(c.userKW) > 0) {
			slog.Debug("Candidate dropped by relevance gate", "source", s.sourceName, "url", c.url)
			continue
		}

		o.MatchedKeywords = mergeTerms(c.userKW, userKW.MatchAll(util.Fold(o.Description)))
		offers = append(offers, o)
	}
	return offers
}

func containsAny(s string, parts []string) bool {
	for _, p := range parts {
		if p != "" && strings.Contains(s, strings.ToLower(p)) {
			return true
		}
	}
	return false
}

func mergeTerms(a, b []string) []string {
	if len(b) == 0 {
		return a
	}
	seen := make(map[string]bool, len(a)+len(b))
	var out []string
	for _, t := range append(append([]string{}, a...), b...) {
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	return out
}

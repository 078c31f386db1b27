package scraper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/pauljones0/tender-watch/internal/filter"
	"github.com/pauljones0/tender-watch/internal/models"
	"github.com/pauljones0/tender-watch/internal/util"
)

// ListingScraper reads offers from repeated cards on listing pages.
type ListingScraper struct {
	sourceName string
	partner    string
	offerType  string
	seeds      []string
	selectors  ListSelectors
	pages      PageSource
}

func (s *ListingScraper) Scrape(ctx context.Context, keywords []string) ([]models.RawOffer, error) {
	userKW := filter.NewTermSet(keywords)

	var (
		offers   []models.RawOffer
		seedErrs []error
		okSeeds  int
	)
	seen := make(map[string]bool)
	for _, seed := range s.seeds {
		page, err := s.pages.Fetch(ctx, seed)
		if err != nil {
			slog.Warn("Listing page failed", "source", s.sourceName, "url", seed, "error", err)
			seedErrs = append(seedErrs, err)
			continue
		}
		okSeeds++

		items := page.Doc.Find(s.selectors.Item)
		if items.Length() == 0 {
			slog.Warn("No listing items found. Potential block or page structure change",
				"source", s.sourceName, "url", seed, "selector", s.selectors.Item)
			continue
		}

		items.Each(func(_ int, item *goquery.Selection) {
			if s.selectors.IgnoreModifier != "" && item.Is(s.selectors.IgnoreModifier) {
				return
			}
			o, parseErrors := s.parseItem(page.Base, item)
			if len(parseErrors) > 0 {
				slog.Debug("Listing item skipped", "source", s.sourceName, "title", o.Title, "issues", strings.Join(parseErrors, "; "))
				return
			}
			if seen[o.URL] {
				return
			}
			seen[o.URL] = true
			o.MatchedKeywords = userKW.MatchAll(util.Fold(o.Title + " " + o.Description + " " + o.Partner))
			offers = append(offers, o)
		})
	}

	if okSeeds == 0 && len(seedErrs) > 0 {
		return nil, fmt.Errorf("all %d listing pages failed: %w", len(s.seeds), errors.Join(seedErrs...))
	}
	slog.Info("Listing scrape finished", "source", s.sourceName, "offers", len(offers))
	if len(seedErrs) > 0 {
		return offers, fmt.Errorf("%d of %d listing pages failed: %w", len(seedErrs), len(s.seeds), errors.Join(seedErrs...))
	}
	return offers, nil
}

func (s *ListingScraper) parseItem(base *url.URL, item *goquery.Selection) (models.RawOffer, []string) {
	o := models.RawOffer{
		SourceName: s.sourceName,
		OfferType:  s.offerType,
		Partner:    s.partner,
	}
	var parseErrors []string

	// 1. Title
	o.Title = selectText(item, s.selectors.Title)
	if o.Title == "" {
		parseErrors = append(parseErrors, "title element not found")
	}

	// 2. Link
	link := item.Find(s.selectors.Link).First()
	if s.selectors.Link == "" || link.Length() == 0 {
		link = item.Find("a[href]").First()
	}
	if !link.Is("a") {
		link = link.Find("a[href]").First()
	}
	href := attr(link, "href")
	if href == "" {
		parseErrors = append(parseErrors, "link href not found")
	} else if ref, err := url.Parse(href); err != nil {
		parseErrors = append(parseErrors, fmt.Sprintf("bad href %q: %v", href, err))
	} else if normalized, err := util.NormalizeURL(base.ResolveReference(ref).String()); err != nil {
		parseErrors = append(parseErrors, err.Error())
	} else {
		o.URL = normalized
	}

	// 3. Optional fields
	o.Description = selectText(item, s.selectors.Description)
	o.PublishedRaw = selectTimeText(item, s.selectors.Published)
	o.ClosingRaw = selectTimeText(item, s.selectors.Closing)
	if p := selectText(item, s.selectors.Partner); p != "" {
		o.Partner = p
	}
	return o, parseErrors
}

func selectText(item *goquery.Selection, selector string) string {
	if selector == "" {
		return ""
	}
	return cleanText(item.Find(selector).First().Text())
}

// selectTimeText prefers a datetime attribute over the displayed text.
func selectTimeText(item *goquery.Selection, selector string) string {
	if selector == "" {
		return ""
	}
	sel := item.Find(selector).First()
	if sel.Length() == 0 {
		return ""
	}
	actualTime := sel
	if !sel.Is("time") {
		actualTime = sel.Find("time").First()
	}
	if v := attr(actualTime, "datetime"); v != "" {
		return v
	}
	return cleanText(sel.Text())
}

package scraper

import (
	"context"
	"fmt"
	"reflect"
	"sync"
	"testing"

	"github.com/pauljones0/tender-watch/internal/config"
	"github.com/pauljones0/tender-watch/internal/filter"
	"github.com/pauljones0/tender-watch/internal/models"
)

// fakePages serves canned HTML by URL.
type fakePages struct {
	mu    sync.Mutex
	html  map[string]string
	calls []string
}

func (f *fakePages) Fetch(_ context.Context, rawURL string) (*Page, error) {
	f.mu.Lock()
	f.calls = append(f.calls, rawURL)
	f.mu.Unlock()
	h, ok := f.html[rawURL]
	if !ok {
		return nil, fmt.Errorf("failed to fetch URL %s: status code 404", rawURL)
	}
	return FetchHTML(rawURL, h)
}

func offerURLs(offers []models.RawOffer) []string {
	var urls []string
	for _, o := range offers {
		urls = append(urls, o.URL)
	}
	return urls
}

const marchesSeed = "https://www.example.org/marches"

const marchesPage = `<html><body>
	<a href="/marches">Appel d'offres</a>
	<a href="/marches/avis-123">Avis d'appel d'offres travaux</a>
	<a href="/marches/avis-123#top">Avis d'appel d'offres travaux (bis)</a>
	<a href="/about">A propos</a>
	<a href="https://other.com/appel-offres">Appel d'offres externe</a>
	<a href="/news/appel">Appel d'offres (news)</a>
	<a href="mailto:marches@example.org">Offre par mail</a>
	<a href="#menu">Appel d'offres menu</a>
	<a href="/docs/consultation?utm_source=home">Consultation informatique</a>
</body></html>`

func TestAnchorScraper_SelectsLinks(t *testing.T) {
	pages := &fakePages{html: map[string]string{marchesSeed: marchesPage}}
	s := &AnchorScraper{
		sourceName: "DGMP",
		partner:    "DGMP",
		offerType:  "Appel d'offres",
		seeds:      []string{marchesSeed},
		rules: AnchorRules{
			Keywords:        []string{"appel d", "offre"},
			ExcludeURLParts: []string{"/news"},
			SameSite:        true,
		},
		keywords: filter.NewTermSet([]string{"appel d", "offre"}),
		pages:    pages,
		details:  pages,
	}

	offers, err := s.Scrape(context.Background(), []string{"informatique"})
	if err != nil {
		t.Fatalf("Scrape() error = %v", err)
	}

	want := []string{
		"https://www.example.org/marches/avis-123",
		"https://www.example.org/docs/consultation",
	}
	if got := offerURLs(offers); !reflect.DeepEqual(got, want) {
		t.Fatalf("urls = %v, want %v", got, want)
	}
	if offers[0].Title != "Avis d'appel d'offres travaux" || offers[0].Partner != "DGMP" || offers[0].SourceName != "DGMP" {
		t.Errorf("unexpected first offer %+v", offers[0])
	}
	if offers[0].MatchedKeywords != nil {
		t.Errorf("first offer matched %v, want none", offers[0].MatchedKeywords)
	}
	if !reflect.DeepEqual(offers[1].MatchedKeywords, []string{"informatique"}) {
		t.Errorf("second offer matched %v", offers[1].MatchedKeywords)
	}
	if len(pages.calls) != 1 {
		t.Errorf("fetched %v, want only the seed without detail fetching", pages.calls)
	}
}

func TestAnchorScraper_MaxLinks(t *testing.T) {
	pages := &fakePages{html: map[string]string{marchesSeed: marchesPage}}
	s := &AnchorScraper{
		seeds:    []string{marchesSeed},
		rules:    AnchorRules{Keywords: []string{"appel d"}, MaxLinks: 1},
		keywords: filter.NewTermSet([]string{"appel d"}),
		pages:    pages,
		details:  pages,
	}
	offers, err := s.Scrape(context.Background(), nil)
	if err != nil {
		t.Fatalf("Scrape() error = %v", err)
	}
	if len(offers) != 1 {
		t.Errorf("got %d offers, want 1", len(offers))
	}
}

const followerSeed = "https://www.anader-agri.org/opportunites"

func followerPages() *fakePages {
	return &fakePages{html: map[string]string{
		followerSeed: `<html><body>
			<a href="/appels-offres/etude-riz">Avis d'appel d'offres étude riz</a>
			<a href="/appels-offres/ghana">Appel d'offres Ghana</a>
			<a href="/appels-offres/abidjan">Appel d'offres Abidjan</a>
			<a href="/actualites/appel">Appel à candidature</a>
		</body></html>`,
		"https://www.anader-agri.org/appels-offres/etude-riz": `<html><head>
			<meta name="description" content="Etude de la filière riz en Côte d'Ivoire">
		</head><body><h1>Étude sur la filière riz</h1><time datetime="2026-05-01">1er mai</time></body></html>`,
		"https://www.anader-agri.org/appels-offres/ghana": `<html><head>
			<meta name="description" content="Road works in Accra">
		</head><body><h1>Tender Ghana roads</h1></body></html>`,
	}}
}

func TestAnchorScraper_FollowerRulesAndRelevance(t *testing.T) {
	pages := followerPages()
	geo := filter.NewGeography(config.Profile{
		CountryCode:  "ci",
		CountryTerms: []string{"cote d'ivoire"},
		GeoTerms:     []string{"abidjan"},
	})
	s := &AnchorScraper{
		sourceName: "ANADER | anader-agri.org | 1a2b3c4d",
		partner:    "ANADER",
		seeds:      []string{followerSeed},
		rules: AnchorRules{
			Keywords:        []string{"appel"},
			IncludeURLParts: []string{"appels-offres"},
			RequireURLPart:  true,
			SameSite:        true,
			FetchDetails:    true,
		},
		keywords:    filter.NewTermSet([]string{"appel"}),
		pages:       pages,
		details:     pages,
		concurrency: 2,
		relevance:   &Relevance{Geo: geo, GeoEnabled: true},
	}

	offers, err := s.Scrape(context.Background(), nil)
	if err != nil {
		t.Fatalf("Scrape() error = %v", err)
	}

	want := []string{
		"https://www.anader-agri.org/appels-offres/etude-riz",
		"https://www.anader-agri.org/appels-offres/abidjan",
	}
	if got := offerURLs(offers); !reflect.DeepEqual(got, want) {
		t.Fatalf("urls = %v, want %v", got, want)
	}

	riz := offers[0]
	if riz.Title != "Étude sur la filière riz" || riz.Description != "Etude de la filière riz en Côte d'Ivoire" {
		t.Errorf("details not applied: %+v", riz)
	}
	if dateOf(riz.ClosingAt) != "2026-05-01" {
		t.Errorf("ClosingAt = %v", riz.ClosingAt)
	}
	if riz.Partner != "ANADER" {
		t.Errorf("Partner = %q", riz.Partner)
	}

	// The Abidjan detail page does not exist; the anchor text stands in.
	if offers[1].Title != "Appel d'offres Abidjan" || offers[1].Description != "" {
		t.Errorf("unexpected fallback offer %+v", offers[1])
	}
}

func TestAnchorScraper_SeedFailures(t *testing.T) {
	t.Run("Some seeds fail", func(t *testing.T) {
		pages := &fakePages{html: map[string]string{marchesSeed: marchesPage}}
		s := &AnchorScraper{
			seeds:    []string{"https://www.example.org/missing", marchesSeed},
			rules:    AnchorRules{Keywords: []string{"appel d"}},
			keywords: filter.NewTermSet([]string{"appel d"}),
			pages:    pages,
			details:  pages,
		}
		offers, err := s.Scrape(context.Background(), nil)
		if err == nil {
			t.Error("expected an error for the failed seed")
		}
		if len(offers) == 0 {
			t.Error("offers from the working seed should be returned")
		}
	})

	t.Run("All seeds fail", func(t *testing.T) {
		pages := &fakePages{html: map[string]string{}}
		s := &AnchorScraper{
			seeds:    []string{"https://www.example.org/a", "https://www.example.org/b"},
			keywords: filter.NewTermSet(nil),
			pages:    pages,
			details:  pages,
		}
		offers, err := s.Scrape(context.Background(), nil)
		if err == nil || offers != nil {
			t.Errorf("Scrape() = %v, %v; want nil offers and an error", offers, err)
		}
	})
}

func TestRelevance_Allow(t *testing.T) {
	geo := filter.NewGeography(config.Profile{CountryCode: "ci", CountryTerms: []string{"cote d'ivoire"}})
	focus := filter.NewTermSet([]string{"agriculture"})

	tests := []struct {
		name    string
		r       *Relevance
		text    string
		url     string
		userHit bool
		want    bool
	}{
		{"Nil gate", nil, "anything", "https://x.org", false, true},
		{"Geo miss", &Relevance{Geo: geo, GeoEnabled: true}, "ghana roads", "https://x.org", false, false},
		{"Geo by TLD", &Relevance{Geo: geo, GeoEnabled: true}, "roads", "https://x.ci/a", false, true},
		{"Geo disabled", &Relevance{Geo: geo}, "ghana roads", "https://x.org", false, true},
		{"Focus hit", &Relevance{Focus: focus, FocusEnabled: true}, "projet agriculture", "https://x.org", false, true},
		{"Focus miss", &Relevance{Focus: focus, FocusEnabled: true}, "projet routier", "https://x.org", false, false},
		{"Focus miss with user keyword", &Relevance{Focus: focus, FocusEnabled: true}, "projet routier", "https://x.org", true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.r.Allow(tt.text, tt.url, tt.userHit); got != tt.want {
				t.Errorf("Allow() = %v, want %v", got, tt.want)
			}
		})
	}
}

package scraper

import (
	"context"
	"reflect"
	"testing"
)

const listingSeed = "https://jobs.example.org/offres"

const listingPage = `<html><body>
	<div class="item">
		<h3><a href="/jobs/1">Consultant agronome</a></h3>
		<p class="desc">Mission   à Bouaké</p>
		<span class="closing"><time datetime="2026-04-10">10 avril</time></span>
		<span class="org">FAO</span>
	</div>
	<div class="item expired"><h3><a href="/jobs/2">Ancienne offre</a></h3></div>
	<div class="item"><h3></h3><a href="/jobs/3">Voir</a></div>
	<div class="item"><h3><a href="/jobs/1#apply">Consultant agronome</a></h3></div>
	<div class="item">
		<h3>Chef de projet</h3>
		<span class="closing">Clôture : 15/05/2026</span>
		<a href="https://x.org/jobs/4?utm_source=feed">Voir</a>
	</div>
</body></html>`

func newListingScraper(pages PageSource) *ListingScraper {
	return &ListingScraper{
		sourceName: "Nations Unies",
		partner:    "ONU",
		offerType:  "Emploi",
		seeds:      []string{listingSeed},
		selectors: ListSelectors{
			Item:           "div.item",
			IgnoreModifier: ".expired",
			Title:          "h3",
			Link:           "h3 a",
			Description:    "p.desc",
			Closing:        ".closing",
			Partner:        ".org",
		},
		pages: pages,
	}
}

func TestListingScraper_Scrape(t *testing.T) {
	pages := &fakePages{html: map[string]string{listingSeed: listingPage}}
	offers, err := newListingScraper(pages).Scrape(context.Background(), []string{"agronome"})
	if err != nil {
		t.Fatalf("Scrape() error = %v", err)
	}

	want := []string{"https://jobs.example.org/jobs/1", "https://x.org/jobs/4"}
	if got := offerURLs(offers); !reflect.DeepEqual(got, want) {
		t.Fatalf("urls = %v, want %v", got, want)
	}

	first := offers[0]
	if first.Title != "Consultant agronome" || first.Description != "Mission à Bouaké" {
		t.Errorf("unexpected first offer %+v", first)
	}
	if first.ClosingRaw != "2026-04-10" {
		t.Errorf("ClosingRaw = %q, want the datetime attribute", first.ClosingRaw)
	}
	if first.Partner != "FAO" || first.OfferType != "Emploi" || first.SourceName != "Nations Unies" {
		t.Errorf("unexpected labels %+v", first)
	}
	if !reflect.DeepEqual(first.MatchedKeywords, []string{"agronome"}) {
		t.Errorf("MatchedKeywords = %v", first.MatchedKeywords)
	}

	second := offers[1]
	if second.Title != "Chef de projet" || second.ClosingRaw != "Clôture : 15/05/2026" || second.Partner != "ONU" {
		t.Errorf("unexpected second offer %+v", second)
	}
	if second.MatchedKeywords != nil {
		t.Errorf("MatchedKeywords = %v, want none", second.MatchedKeywords)
	}
}

func TestListingScraper_NoItems(t *testing.T) {
	pages := &fakePages{html: map[string]string{listingSeed: `<html><body><p>Access denied</p></body></html>`}}
	offers, err := newListingScraper(pages).Scrape(context.Background(), nil)
	if err != nil || len(offers) != 0 {
		t.Errorf("Scrape() = %v, %v; want no offers and no error", offers, err)
	}
}

func TestListingScraper_SeedFails(t *testing.T) {
	offers, err := newListingScraper(&fakePages{}).Scrape(context.Background(), nil)
	if err == nil || offers != nil {
		t.Errorf("Scrape() = %v, %v; want an error", offers, err)
	}
}

package models

import (
	"errors"
	"time"
)

// ErrSourceNotFound is returned when a source id does not resolve to a row.
var ErrSourceNotFound = errors.New("source not found")

// RawOffer is a candidate announcement as produced by a scraper. It is never stored as-is.
type RawOffer struct {
	Title           string `validate:"required"`
	Description     string
	SourceName      string
	URL             string `validate:"required,http_url"`
	PDFURL          string `validate:"omitempty,http_url"`
	PublishedRaw    string
	ClosingRaw      string
	PublishedAt     *time.Time
	ClosingAt       *time.Time
	OfferType       string
	Partner         string
	MatchedKeywords []string
}

// Offer is the durable, URL-keyed record of an accepted announcement.
type Offer struct {
	URL             string     `firestore:"url" db:"url"`
	Title           string     `firestore:"title" db:"title"`
	Description     string     `firestore:"description" db:"description"`
	SourceName      string     `firestore:"sourceName" db:"source_name"`
	OfferType       string     `firestore:"offerType" db:"offer_type"`
	Partner         string     `firestore:"partner" db:"partner"`
	MatchedKeywords string     `firestore:"matchedKeywords" db:"matched_keywords"`
	PublishedAt     *time.Time `firestore:"publishedAt" db:"published_at"`
	ClosingAt       *time.Time `firestore:"closingAt" db:"closing_at"`
	ScrapedAt       time.Time  `firestore:"scrapedAt" db:"scraped_at"`
	ModifiedAt      time.Time  `firestore:"modifiedAt" db:"modified_at"`
	Active          bool       `firestore:"active" db:"active"`
}

// OfferDecision is the outcome of both filter stages for one raw offer,
// carrying the normalized fields that persistence will apply.
type OfferDecision struct {
	Offer   Offer
	Keep    bool
	Reasons []string
}

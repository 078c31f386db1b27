package enrich

import (
	"context"
	"log/slog"
	"strings"

	"github.com/pauljones0/tender-watch/internal/models"
)

// PDFExcerptLabel prefixes extracted attachment text in the description.
const PDFExcerptLabel = "PDF excerpt: "

// TextExtractor returns the text of a remote document, or "" when it cannot.
type TextExtractor interface {
	Extract(ctx context.Context, url string) string
}

// Enricher normalizes dates and folds PDF attachment text into offers.
// It never rejects an offer.
type Enricher struct {
	pdf TextExtractor
}

// New returns an Enricher. A nil extractor disables PDF enrichment.
func New(pdf TextExtractor) *Enricher {
	return &Enricher{pdf: pdf}
}

func (e *Enricher) Enrich(ctx context.Context, o *models.RawOffer) {
	NormalizeDates(o)

	if e.pdf == nil {
		return
	}
	pdfURL := DetectPDFURL(*o)
	if pdfURL == "" {
		return
	}
	text := e.pdf.Extract(ctx, pdfURL)
	if text == "" {
		return
	}

	o.PDFURL = pdfURL
	desc := strings.TrimSpace(o.Description)
	if desc == "" {
		o.Description = PDFExcerptLabel + text
	} else {
		o.Description = PDFExcerptLabel + text + "\n\n" + desc
	}
	slog.Debug("Enriched offer with PDF text", "url", o.URL, "pdf", pdfURL, "chars", len(text))

	// Attachments often carry the deadline the listing page omitted.
	if o.ClosingAt == nil {
		if t, ok := FindDeadline(text); ok {
			o.ClosingAt = &t
		}
	}
}

// NormalizeDates parses the raw date strings into the typed fields when the
// scraper did not already provide them. A failed parse leaves the field nil.
func NormalizeDates(o *models.RawOffer) {
	if o.PublishedAt == nil && o.PublishedRaw != "" {
		if t, ok := ParseDate(o.PublishedRaw); ok {
			o.PublishedAt = &t
		}
	}
	if o.ClosingAt == nil && o.ClosingRaw != "" {
		if t, ok := ParseDate(o.ClosingRaw); ok {
			o.ClosingAt = &t
		}
	}
}

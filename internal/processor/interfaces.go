package processor

import (
	"context"
	"time"

	"github.com/pauljones0/tender-watch/internal/ai"
	"github.com/pauljones0/tender-watch/internal/filter"
	"github.com/pauljones0/tender-watch/internal/models"
	"github.com/pauljones0/tender-watch/internal/scraper"
)

// OfferStore persists filter decisions and runs the expiry sweep.
type OfferStore interface {
	ApplyRun(ctx context.Context, commit models.RunCommit) ([]models.Offer, error)
	DeactivateExpired(ctx context.Context, now time.Time) (int, error)
}

// SourceStore reads and reconciles sources.
type SourceStore interface {
	GetSource(ctx context.Context, id string) (*models.Source, error)
	ListActiveSources(ctx context.Context) ([]models.Source, error)
	SyncSources(ctx context.Context, wanted []models.Source) (models.SyncResult, error)
}

// LogStore appends execution logs.
type LogStore interface {
	AppendExecutionLog(ctx context.Context, entry models.ExecutionLog) error
}

// KeywordProvider returns the current active keyword list.
type KeywordProvider interface {
	ActiveKeywords(ctx context.Context) ([]string, error)
}

// Store is the full storage surface used by the executor.
type Store interface {
	OfferStore
	SourceStore
	LogStore
	KeywordProvider
}

// OfferNotifier announces newly persisted offers.
type OfferNotifier interface {
	Send(ctx context.Context, offer models.Offer) (string, error)
}

// OfferEnricher fills dates and the PDF excerpt in place.
type OfferEnricher interface {
	Enrich(ctx context.Context, o *models.RawOffer)
}

// StrictFilter is the deterministic rule stage.
type StrictFilter interface {
	Evaluate(o models.RawOffer) filter.Result
}

// AIFilter is the fail-open scoring stage.
type AIFilter interface {
	Evaluate(ctx context.Context, o models.RawOffer) ai.Outcome
}

// ScraperRegistry builds the scraper for a source.
type ScraperRegistry interface {
	Has(scraperType string) bool
	Variant(scraperType, sourceName string) (scraper.Scraper, error)
	LinkFollower(sourceName, seed string, rendered bool) (scraper.Scraper, error)
}

// Ingester runs raw offers through enrichment, both filters and persistence.
type Ingester interface {
	Ingest(ctx context.Context, sourceID string, raws []models.RawOffer) (IngestResult, error)
}

package processor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/pauljones0/tender-watch/internal/metrics"
	"github.com/pauljones0/tender-watch/internal/models"
	"github.com/pauljones0/tender-watch/internal/scraper"
)

// Executor runs one source end to end and records the outcome.
type Executor struct {
	store           Store
	registry        ScraperRegistry
	pipeline        Ingester
	defaultKeywords []string
	metrics         *metrics.Metrics
	now             func() time.Time
}

// NewExecutor wires an executor. defaultKeywords is used when the keyword
// store has no active terms.
func NewExecutor(store Store, registry ScraperRegistry, pipeline Ingester, defaultKeywords []string, m *metrics.Metrics) *Executor {
	return &Executor{
		store:           store,
		registry:        registry,
		pipeline:        pipeline,
		defaultKeywords: defaultKeywords,
		metrics:         m,
		now:             time.Now,
	}
}

// ExecuteSource never returns an error: every failure is reported through
// the summary status. Runs that reach the scraper write exactly one
// execution log.
func (e *Executor) ExecuteSource(ctx context.Context, sourceID string) (summary models.RunSummary) {
	start := e.now()
	summary = models.RunSummary{SourceID: sourceID}
	logged := false
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Source execution panicked", "source_id", sourceID, "panic", r)
			summary.Status = models.RunStatusError
			summary.Message = fmt.Sprintf("panic: %v", r)
			if summary.SourceName != "" && !logged {
				e.appendLog(ctx, e.errorLog(summary.SourceName, start, summary.Message))
			}
		}
		summary.DurationSeconds = roundSeconds(e.now().Sub(start))
		e.metrics.ObserveSourceRun(summary.Status, e.now().Sub(start))
	}()

	src, err := e.store.GetSource(ctx, sourceID)
	if err != nil {
		if errors.Is(err, models.ErrSourceNotFound) {
			summary.Status = models.RunStatusNotFound
			summary.Message = "source not found"
			return summary
		}
		summary.Status = models.RunStatusError
		summary.Message = err.Error()
		return summary
	}
	summary.SourceName = src.Name
	summary.ScraperType = src.ScraperType

	s, mode, err := e.selectScraper(src)
	if s == nil && err == nil {
		summary.Status = models.RunStatusIgnored
		summary.Message = "no seed URL and no registered scraper type"
		return summary
	}
	if err != nil {
		summary.Status = models.RunStatusUnavailable
		summary.Message = fmt.Sprintf("scraper unavailable for type %q: %v", src.ScraperType, err)
		return summary
	}
	summary.Mode = mode

	keywords := e.keywords(ctx)
	slog.Info("Scraping source", "source", src.Name, "type", src.ScraperType, "mode", mode, "keywords", len(keywords))

	raws, scrapeErr := s.Scrape(ctx, keywords)
	if scrapeErr != nil && len(raws) == 0 {
		logged = true
		return e.fail(ctx, summary, src.Name, start, fmt.Errorf("scrape failed: %w", scrapeErr))
	}

	res, err := e.pipeline.Ingest(ctx, src.ID, raws)
	if err != nil {
		logged = true
		return e.fail(ctx, summary, src.Name, start, err)
	}

	summary.Status = models.RunStatusOK
	summary.Found = res.Found
	summary.New = res.New

	entry := models.ExecutionLog{
		Kind:            models.LogKindScrape,
		SourceName:      src.Name,
		Timestamp:       e.now().UTC(),
		CountFound:      res.Found,
		CountNew:        res.New,
		Status:          models.LogStatusSuccess,
		DurationSeconds: roundSeconds(e.now().Sub(start)),
	}
	if scrapeErr != nil {
		entry.Status = models.LogStatusPartial
		entry.ErrorMessage = scrapeErr.Error()
		summary.Message = scrapeErr.Error()
	}
	logged = true
	e.appendLog(ctx, entry)

	slog.Info("Source run finished", "source", src.Name, "found", res.Found, "new", res.New,
		"accepted", res.Accepted, "rejected", res.Rejected, "invalid", res.Invalid, "duration", e.now().Sub(start))
	return summary
}

// selectScraper picks the scraper for a source. A nil scraper with a nil
// error means there is nothing to run.
func (e *Executor) selectScraper(src *models.Source) (scraper.Scraper, string, error) {
	scraperType := strings.ToLower(strings.TrimSpace(src.ScraperType))
	seed := strings.TrimSpace(src.URLBase)

	switch {
	case scraperType == scraper.TypeGenericLinkFollower && seed != "":
		s, err := e.registry.LinkFollower(src.Name, seed, false)
		return s, scraper.TypeGenericLinkFollower, err
	case scraperType == scraper.TypeRenderedLinkFollower && seed != "":
		s, err := e.registry.LinkFollower(src.Name, seed, true)
		return s, scraper.TypeRenderedLinkFollower, err
	case scraperType != "" && e.registry.Has(scraperType):
		s, err := e.registry.Variant(scraperType, src.Name)
		return s, scraperType, err
	case seed != "":
		s, err := e.registry.LinkFollower(src.Name, seed, false)
		return s, scraper.TypeGenericLinkFollower, err
	default:
		return nil, "", nil
	}
}

// keywords reads the keyword store fresh for every run.
func (e *Executor) keywords(ctx context.Context) []string {
	kws, err := e.store.ActiveKeywords(ctx)
	if err != nil {
		slog.Warn("Failed to load keywords, using defaults", "error", err)
		return e.defaultKeywords
	}
	if len(kws) == 0 {
		return e.defaultKeywords
	}
	return kws
}

func (e *Executor) fail(ctx context.Context, summary models.RunSummary, sourceName string, start time.Time, err error) models.RunSummary {
	slog.Error("Source run failed", "source", sourceName, "error", err)
	e.appendLog(ctx, e.errorLog(sourceName, start, err.Error()))
	summary.Status = models.RunStatusError
	summary.Message = err.Error()
	return summary
}

func (e *Executor) errorLog(sourceName string, start time.Time, msg string) models.ExecutionLog {
	return models.ExecutionLog{
		Kind:            models.LogKindScrape,
		SourceName:      sourceName,
		Timestamp:       e.now().UTC(),
		Status:          models.LogStatusError,
		ErrorMessage:    msg,
		DurationSeconds: roundSeconds(e.now().Sub(start)),
	}
}

func (e *Executor) appendLog(ctx context.Context, entry models.ExecutionLog) {
	if err := e.store.AppendExecutionLog(ctx, entry); err != nil {
		slog.Error("Failed to write execution log", "source", entry.SourceName, "status", entry.Status, "error", err)
	}
}

func roundSeconds(d time.Duration) float64 {
	return math.Round(d.Seconds()*100) / 100
}

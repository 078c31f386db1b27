package processor

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/pauljones0/tender-watch/internal/ai"
	"github.com/pauljones0/tender-watch/internal/filter"
	"github.com/pauljones0/tender-watch/internal/metrics"
	"github.com/pauljones0/tender-watch/internal/models"
	"github.com/pauljones0/tender-watch/internal/util"
	"github.com/pauljones0/tender-watch/internal/validator"
)

const logTitleLength = 120

// IngestResult counts what one ingestion pass did.
type IngestResult struct {
	Found    int
	Invalid  int
	Accepted int
	Rejected int
	New      int
}

// Pipeline takes scraped offers through validation, enrichment, the strict
// and AI filters, and one persistence commit.
type Pipeline struct {
	validator *validator.Validator
	enricher  OfferEnricher
	strict    StrictFilter
	ai        AIFilter
	store     OfferStore
	notifier  OfferNotifier
	metrics   *metrics.Metrics
	now       func() time.Time
}

// NewPipeline wires a pipeline. notifier and m may be nil.
func NewPipeline(enricher OfferEnricher, strict StrictFilter, aiStage AIFilter, store OfferStore, notifier OfferNotifier, m *metrics.Metrics) *Pipeline {
	return &Pipeline{
		validator: validator.New(),
		enricher:  enricher,
		strict:    strict,
		ai:        aiStage,
		store:     store,
		notifier:  notifier,
		metrics:   m,
		now:       time.Now,
	}
}

// Ingest commits every decision of the batch in one store transaction.
// Found counts every raw offer handed in, including invalid ones.
func (p *Pipeline) Ingest(ctx context.Context, sourceID string, raws []models.RawOffer) (IngestResult, error) {
	res := IngestResult{Found: len(raws)}
	decisions := make([]models.OfferDecision, 0, len(raws))

	for i := range raws {
		raw := raws[i]
		if err := p.validator.ValidateStruct(raw); err != nil {
			slog.Warn("Skipping invalid offer", "url", raw.URL, "title", util.Truncate(raw.Title, logTitleLength, ""), "error", err)
			p.metrics.ObserveDecision(metrics.DecisionInvalid)
			res.Invalid++
			continue
		}

		p.enricher.Enrich(ctx, &raw)
		d := p.decide(ctx, raw)
		if d.Keep {
			res.Accepted++
		} else {
			res.Rejected++
		}
		decisions = append(decisions, d)
	}

	if len(decisions) == 0 && sourceID == "" {
		return res, nil
	}

	created, err := p.store.ApplyRun(ctx, models.RunCommit{
		SourceID:  sourceID,
		Decisions: decisions,
		At:        p.now().UTC(),
	})
	if err != nil {
		return res, fmt.Errorf("failed to persist %d decisions: %w", len(decisions), err)
	}
	res.New = len(created)
	p.metrics.AddCreated(res.New)

	p.notify(ctx, created)
	return res, nil
}

// decide runs the strict stage and, for kept offers, the AI stage.
func (p *Pipeline) decide(ctx context.Context, raw models.RawOffer) models.OfferDecision {
	title := util.Truncate(raw.Title, logTitleLength, "")

	strict := p.strict.Evaluate(raw)
	if !strict.Keep {
		slog.Info("Offer rejected", "decision", "REJECT", "url", raw.URL, "reasons", strict.Reasons, "title", title)
		p.metrics.ObserveDecision(metrics.DecisionReject)
		return models.OfferDecision{Offer: toOffer(raw, raw.Description), Keep: false, Reasons: strict.Reasons}
	}

	out := p.ai.Evaluate(ctx, raw)
	p.metrics.ObserveAI(string(out.Kind))
	if out.Err != nil {
		slog.Warn("AI stage failed open", "kind", out.Kind, "url", raw.URL, "error", out.Err)
	}
	if !out.Keep {
		slog.Info("Offer rejected", "decision", "REJECT_AI", "url", raw.URL, "reasons", out.Reasons, "score", scoreAttr(out.Score), "title", title)
		p.metrics.ObserveDecision(metrics.DecisionRejectAI)
		return models.OfferDecision{Offer: toOffer(raw, raw.Description), Keep: false, Reasons: out.Reasons}
	}

	decision := metrics.DecisionAccept
	if slices.Contains(strict.SoftTags, filter.TagNotFocusDomain) {
		decision = metrics.DecisionAcceptSoft
	}
	slog.Info("Offer accepted", "decision", strings.ToUpper(decision), "url", raw.URL, "signal", strict.Signal, "tags", strict.SoftTags, "ai", out.Kind, "score", scoreAttr(out.Score), "title", title)
	p.metrics.ObserveDecision(decision)

	// A blank description stays blank so a re-sighting cannot replace a
	// stored one with the title fallback.
	var desc string
	if strings.TrimSpace(raw.Description) != "" || (out.Keep && strings.TrimSpace(out.Summary) != "") {
		desc = ai.Describe(raw, out)
	}
	return models.OfferDecision{Offer: toOffer(raw, desc), Keep: true}
}

func (p *Pipeline) notify(ctx context.Context, created []models.Offer) {
	if p.notifier == nil {
		return
	}
	for _, offer := range created {
		if !offer.Active {
			continue
		}
		if _, err := p.notifier.Send(ctx, offer); err != nil {
			slog.Error("Error sending offer notification", "url", offer.URL, "error", err)
		}
	}
}

// toOffer maps the normalized raw fields onto the stored shape. The store
// stamps timestamps and the active flag.
func toOffer(raw models.RawOffer, description string) models.Offer {
	return models.Offer{
		URL:             raw.URL,
		Title:           util.CollapseSpaces(raw.Title),
		Description:     description,
		SourceName:      raw.SourceName,
		OfferType:       strings.TrimSpace(raw.OfferType),
		Partner:         strings.TrimSpace(raw.Partner),
		MatchedKeywords: strings.Join(raw.MatchedKeywords, ","),
		PublishedAt:     raw.PublishedAt,
		ClosingAt:       raw.ClosingAt,
	}
}

func scoreAttr(score *int) any {
	if score == nil {
		return "-"
	}
	return *score
}

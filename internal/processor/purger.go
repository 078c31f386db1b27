package processor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/pauljones0/tender-watch/internal/metrics"
	"github.com/pauljones0/tender-watch/internal/models"
)

// PurgeLogSource names the execution log rows written by the expiry sweep.
const PurgeLogSource = "purge_expired_offers"

type purgeStore interface {
	OfferStore
	LogStore
}

// Purger deactivates offers whose closing date has passed or is unknown.
type Purger struct {
	store   purgeStore
	metrics *metrics.Metrics
	now     func() time.Time
}

func NewPurger(store purgeStore, m *metrics.Metrics) *Purger {
	return &Purger{store: store, metrics: m, now: time.Now}
}

// Purge runs one sweep and writes one execution log, success or error.
func (p *Purger) Purge(ctx context.Context) (models.PurgeResult, error) {
	start := p.now()
	disabled, err := p.store.DeactivateExpired(ctx, start.UTC())
	duration := roundSeconds(p.now().Sub(start))

	entry := models.ExecutionLog{
		Kind:            models.LogKindPurge,
		SourceName:      PurgeLogSource,
		Timestamp:       p.now().UTC(),
		CountFound:      disabled,
		Status:          models.LogStatusSuccess,
		DurationSeconds: duration,
	}
	if err != nil {
		entry.Status = models.LogStatusError
		entry.ErrorMessage = err.Error()
	}
	if logErr := p.store.AppendExecutionLog(ctx, entry); logErr != nil {
		slog.Error("Failed to write purge log", "error", logErr)
	}

	if err != nil {
		return models.PurgeResult{}, fmt.Errorf("expiry sweep failed: %w", err)
	}

	p.metrics.AddPurged(disabled)
	slog.Info("Expired offers purged", "disabled", disabled, "duration", duration)
	return models.PurgeResult{Disabled: disabled, DurationSeconds: duration}, nil
}

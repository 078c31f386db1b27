package processor

import (
	"context"
	"crypto/sha1" //nolint:gosec // short content digest for source names, not a security boundary
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/pauljones0/tender-watch/internal/metrics"
	"github.com/pauljones0/tender-watch/internal/models"
	"github.com/pauljones0/tender-watch/internal/scraper"
	"github.com/pauljones0/tender-watch/internal/util"
	"github.com/pauljones0/tender-watch/internal/validator"
)

const maxSourceNameLength = 100

// LinkSyncer reconciles the configured institution links into sources.
type LinkSyncer struct {
	store     SourceStore
	links     []models.SourceLink
	throttle  time.Duration
	validator *validator.Validator
	metrics   *metrics.Metrics
	now       func() time.Time

	mu       sync.Mutex
	lastSync time.Time
}

func NewLinkSyncer(store SourceStore, links []models.SourceLink, throttle time.Duration, m *metrics.Metrics) *LinkSyncer {
	return &LinkSyncer{
		store:     store,
		links:     links,
		throttle:  throttle,
		validator: validator.New(),
		metrics:   m,
		now:       time.Now,
	}
}

// Sync creates, updates and reactivates one source per distinct link. Unless
// force is set, a pass within the throttle window of the last successful one
// is skipped.
func (l *LinkSyncer) Sync(ctx context.Context, force bool) (models.SyncResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if !force && !l.lastSync.IsZero() && now.Sub(l.lastSync) < l.throttle {
		slog.Debug("Link sync throttled", "last_sync", l.lastSync, "throttle", l.throttle)
		return models.SyncResult{Skipped: true}, nil
	}

	wanted, ignored := l.wantedSources()
	res, err := l.store.SyncSources(ctx, wanted)
	if err != nil {
		return models.SyncResult{}, fmt.Errorf("failed to sync %d link sources: %w", len(wanted), err)
	}
	res.Ignored += ignored
	res.TotalLinks = len(wanted)
	l.lastSync = now

	l.metrics.ObserveLinkSync(res.Created, res.Updated, res.Activated)
	slog.Info("Link sync finished", "created", res.Created, "updated", res.Updated,
		"activated", res.Activated, "ignored", res.Ignored, "total", res.TotalLinks)
	return res, nil
}

// wantedSources dedupes the links by (institution, url) and builds the
// source each one maps to. Links without an http(s) URL are counted as ignored.
func (l *LinkSyncer) wantedSources() ([]models.Source, int) {
	seen := make(map[models.SourceLink]struct{}, len(l.links))
	var wanted []models.Source
	ignored := 0

	for _, link := range l.links {
		link.Institution = strings.TrimSpace(link.Institution)
		link.URL = strings.TrimSpace(link.URL)
		if _, dup := seen[link]; dup {
			continue
		}
		seen[link] = struct{}{}

		u, err := url.Parse(link.URL)
		if err != nil || !util.IsHTTPURL(u) {
			ignored++
			continue
		}
		if err := l.validator.ValidateStruct(link); err != nil {
			slog.Debug("Ignoring invalid link", "institution", link.Institution, "url", link.URL, "error", err)
			ignored++
			continue
		}

		wanted = append(wanted, models.Source{
			Name:        SourceName(link.Institution, link.URL),
			URLBase:     link.URL,
			ScraperType: scraper.TypeGenericLinkFollower,
			Active:      true,
		})
	}
	return wanted, ignored
}

// SourceName derives the stable source name of a link:
// "<institution> | <host> | <sha1 prefix>", at most 100 characters.
func SourceName(institution, rawURL string) string {
	institution = strings.TrimSpace(institution)
	if institution == "" {
		institution = "Source"
	}
	rawURL = strings.TrimSpace(rawURL)

	sum := sha1.Sum([]byte(rawURL)) //nolint:gosec // see import
	digest := hex.EncodeToString(sum[:])[:8]

	var host string
	if u, err := url.Parse(rawURL); err == nil {
		host = strings.ToLower(u.Host)
	}

	name := institution + " | " + digest
	if host != "" {
		name = institution + " | " + host + " | " + digest
	}
	return util.Truncate(name, maxSourceNameLength, "")
}

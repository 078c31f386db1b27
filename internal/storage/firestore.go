package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/firestore/apiv1/firestorepb"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/pauljones0/tender-watch/internal/models"
)

const (
	offersCollection   = "offers"
	sourcesCollection  = "sources"
	logsCollection     = "execution_logs"
	keywordsCollection = "keywords"
)

// FirestoreStore keeps offers, sources, execution logs and keywords in
// Firestore. Offer documents are keyed by OfferID so one URL maps to one
// document.
type FirestoreStore struct {
	client *firestore.Client
}

type keywordDoc struct {
	Term   string `firestore:"term"`
	Active bool   `firestore:"active"`
}

func NewFirestore(ctx context.Context, projectID, credentialsFile string) (*FirestoreStore, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	client, err := firestore.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("firestore.NewClient: %w", err)
	}
	return &FirestoreStore{client: client}, nil
}

func (c *FirestoreStore) Close() error {
	return c.client.Close()
}

// Ping reads at most one source document.
func (c *FirestoreStore) Ping(ctx context.Context) error {
	iter := c.client.Collection(sourcesCollection).Limit(1).Documents(ctx)
	defer iter.Stop()
	if _, err := iter.Next(); err != nil && !errors.Is(err, iterator.Done) {
		return fmt.Errorf("firestore ping: %w", err)
	}
	return nil
}

func (c *FirestoreStore) offerRef(url string) *firestore.DocumentRef {
	return c.client.Collection(offersCollection).Doc(OfferID(url))
}

// ApplyRun commits one source run in a single transaction and returns the
// offers it created.
func (c *FirestoreStore) ApplyRun(ctx context.Context, commit models.RunCommit) ([]models.Offer, error) {
	urls := decisionURLs(commit.Decisions)
	refs := make([]*firestore.DocumentRef, len(urls))
	for i, u := range urls {
		refs[i] = c.offerRef(u)
	}

	var created []models.Offer
	err := c.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		created = nil
		existing := make(map[string]models.Offer)
		if len(refs) > 0 {
			docs, err := tx.GetAll(refs)
			if err != nil {
				return fmt.Errorf("failed to read offers: %w", err)
			}
			for _, doc := range docs {
				if !doc.Exists() {
					continue
				}
				var o models.Offer
				if err := doc.DataTo(&o); err != nil {
					return fmt.Errorf("failed to unmarshal offer %s: %w", doc.Ref.ID, err)
				}
				existing[o.URL] = o
			}
		}

		plan := planRun(existing, commit.Decisions, commit.At)
		for _, o := range plan.inserts {
			if err := tx.Create(c.offerRef(o.URL), o); err != nil {
				return fmt.Errorf("failed to create offer %s: %w", o.URL, err)
			}
		}
		for _, o := range plan.updates {
			if err := tx.Set(c.offerRef(o.URL), o); err != nil {
				return fmt.Errorf("failed to update offer %s: %w", o.URL, err)
			}
		}
		if commit.SourceID != "" {
			ref := c.client.Collection(sourcesCollection).Doc(commit.SourceID)
			if err := tx.Update(ref, []firestore.Update{{Path: "lastRunAt", Value: commit.At}}); err != nil {
				return fmt.Errorf("failed to stamp source %s: %w", commit.SourceID, err)
			}
		}
		created = plan.inserts
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// DeactivateExpired disables every active offer whose closing date is unknown
// or before now. The range query needs a composite index on (active, closingAt).
func (c *FirestoreStore) DeactivateExpired(ctx context.Context, now time.Time) (int, error) {
	offers := c.client.Collection(offersCollection)
	queries := []firestore.Query{
		offers.Where("active", "==", true).Where("closingAt", "==", nil),
		offers.Where("active", "==", true).Where("closingAt", "<", now),
	}

	bulkWriter := c.client.BulkWriter(ctx)
	var jobs []*firestore.BulkWriterJob
	for _, q := range queries {
		iter := q.Documents(ctx)
		for {
			doc, err := iter.Next()
			if errors.Is(err, iterator.Done) {
				break
			}
			if err != nil {
				iter.Stop()
				bulkWriter.End()
				return 0, fmt.Errorf("failed to iterate expired offers: %w", err)
			}
			job, err := bulkWriter.Update(doc.Ref, []firestore.Update{
				{Path: "active", Value: false},
				{Path: "modifiedAt", Value: now},
			})
			if err != nil {
				slog.Warn("Error queueing offer deactivation", "id", doc.Ref.ID, "error", err)
				continue
			}
			jobs = append(jobs, job)
		}
		iter.Stop()
	}
	bulkWriter.End()

	disabled := 0
	var errs []error
	for _, job := range jobs {
		if _, err := job.Results(); err != nil {
			errs = append(errs, err)
			continue
		}
		disabled++
	}
	if len(errs) > 0 {
		return disabled, fmt.Errorf("%d offer deactivations failed: %w", len(errs), errors.Join(errs...))
	}
	return disabled, nil
}

func (c *FirestoreStore) activeOffersQuery() firestore.Query {
	return c.client.Collection(offersCollection).Where("active", "==", true)
}

// CountActiveOffers runs a server-side count aggregation.
func (c *FirestoreStore) CountActiveOffers(ctx context.Context) (int, error) {
	q := c.activeOffersQuery()
	countSnapshot, err := q.NewAggregationQuery().WithCount("all").Get(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to count active offers: %w", err)
	}
	countValue, ok := countSnapshot["all"]
	if !ok {
		return 0, fmt.Errorf("count aggregation result was invalid: 'all' key missing")
	}
	n, err := aggregationInt(countValue)
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

func aggregationInt(v any) (int64, error) {
	switch val := v.(type) {
	case int64:
		return val, nil
	case *firestorepb.Value:
		return val.GetIntegerValue(), nil
	default:
		return 0, fmt.Errorf("count aggregation result has unexpected type %T", v)
	}
}

func (c *FirestoreStore) GetSource(ctx context.Context, id string) (*models.Source, error) {
	doc, err := c.client.Collection(sourcesCollection).Doc(id).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, models.ErrSourceNotFound
		}
		return nil, fmt.Errorf("failed to get source %s: %w", id, err)
	}
	var s models.Source
	if err := doc.DataTo(&s); err != nil {
		return nil, fmt.Errorf("failed to unmarshal source data: %w", err)
	}
	s.ID = doc.Ref.ID
	return &s, nil
}

func (c *FirestoreStore) ListActiveSources(ctx context.Context) ([]models.Source, error) {
	docs, err := c.client.Collection(sourcesCollection).
		Where("active", "==", true).
		Documents(ctx).GetAll()
	if err != nil {
		return nil, fmt.Errorf("failed to list active sources: %w", err)
	}
	sources := make([]models.Source, 0, len(docs))
	for _, doc := range docs {
		var s models.Source
		if err := doc.DataTo(&s); err != nil {
			slog.Warn("Skipping unreadable source", "id", doc.Ref.ID, "error", err)
			continue
		}
		s.ID = doc.Ref.ID
		sources = append(sources, s)
	}
	sortSources(sources)
	return sources, nil
}

// SyncSources reconciles wanted sources by name inside one transaction.
func (c *FirestoreStore) SyncSources(ctx context.Context, wanted []models.Source) (models.SyncResult, error) {
	var res models.SyncResult
	err := c.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		docs, err := tx.Documents(c.client.Collection(sourcesCollection)).GetAll()
		if err != nil {
			return fmt.Errorf("failed to read sources: %w", err)
		}
		existing := make(map[string]models.Source, len(docs))
		for _, doc := range docs {
			var s models.Source
			if err := doc.DataTo(&s); err != nil {
				continue
			}
			s.ID = doc.Ref.ID
			existing[s.Name] = s
		}

		creates, updates, r := reconcileSources(existing, wanted, time.Now().UTC())
		for _, s := range creates {
			if err := tx.Create(c.client.Collection(sourcesCollection).Doc(s.ID), s); err != nil {
				return fmt.Errorf("failed to create source %s: %w", s.Name, err)
			}
		}
		for _, s := range updates {
			if err := tx.Update(c.client.Collection(sourcesCollection).Doc(s.ID), []firestore.Update{
				{Path: "urlBase", Value: s.URLBase},
				{Path: "scraperType", Value: s.ScraperType},
				{Path: "active", Value: s.Active},
			}); err != nil {
				return fmt.Errorf("failed to update source %s: %w", s.Name, err)
			}
		}
		res = r
		return nil
	})
	if err != nil {
		return models.SyncResult{}, err
	}
	return res, nil
}

func (c *FirestoreStore) AppendExecutionLog(ctx context.Context, entry models.ExecutionLog) error {
	ref := c.client.Collection(logsCollection).NewDoc()
	if _, err := ref.Create(ctx, entry); err != nil {
		return fmt.Errorf("failed to append execution log: %w", err)
	}
	return nil
}

// LatestExecutionLog returns the newest log of the given kind, or nil.
func (c *FirestoreStore) LatestExecutionLog(ctx context.Context, kind string) (*models.ExecutionLog, error) {
	iter := c.client.Collection(logsCollection).
		Where("kind", "==", kind).
		OrderBy("timestamp", firestore.Desc).
		Limit(1).
		Documents(ctx)
	defer iter.Stop()

	doc, err := iter.Next()
	if errors.Is(err, iterator.Done) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read latest %s log: %w", kind, err)
	}
	var entry models.ExecutionLog
	if err := doc.DataTo(&entry); err != nil {
		return nil, fmt.Errorf("failed to unmarshal execution log: %w", err)
	}
	entry.ID = doc.Ref.ID
	return &entry, nil
}

func (c *FirestoreStore) ActiveKeywords(ctx context.Context) ([]string, error) {
	docs, err := c.client.Collection(keywordsCollection).
		Where("active", "==", true).
		Documents(ctx).GetAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read keywords: %w", err)
	}
	var terms []string
	for _, doc := range docs {
		var k keywordDoc
		if err := doc.DataTo(&k); err != nil || k.Term == "" {
			continue
		}
		terms = append(terms, k.Term)
	}
	return terms, nil
}

package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/pauljones0/tender-watch/internal/models"
)

const offerColumns = `url, title, description, source_name, offer_type, partner,
	matched_keywords, published_at, closing_at, scraped_at, modified_at, active`

const sourceColumns = `id, name, url_base, scraper_type, active, last_run_at, created_at`

const logColumns = `id, kind, source_name, executed_at, count_found, count_new,
	status, error_message, duration_seconds`

// PostgresStore keeps the same data as FirestoreStore in PostgreSQL. The
// offers table is keyed by url.
type PostgresStore struct {
	db *sqlx.DB
}

// NewPostgres connects to dsn and sizes the connection pool.
func NewPostgres(ctx context.Context, dsn string, maxOpenConns int) (*PostgresStore, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	if maxOpenConns > 0 {
		db.SetMaxOpenConns(maxOpenConns)
		db.SetMaxIdleConns(maxOpenConns)
	}
	db.SetConnMaxLifetime(30 * time.Minute)
	return &PostgresStore{db: db}, nil
}

// NewPostgresFromDB wraps an open connection.
func NewPostgresFromDB(db *sqlx.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// DB exposes the underlying handle for migrations.
func (s *PostgresStore) DB() *sql.DB {
	return s.db.DB
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// ApplyRun commits one source run in a single transaction and returns the
// offers it created. Existing rows are locked for the duration of the run.
func (s *PostgresStore) ApplyRun(ctx context.Context, commit models.RunCommit) ([]models.Offer, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin run transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback after commit is a no-op

	existing := make(map[string]models.Offer)
	if urls := decisionURLs(commit.Decisions); len(urls) > 0 {
		var rows []models.Offer
		query := `SELECT ` + offerColumns + ` FROM offers WHERE url = ANY($1) FOR UPDATE`
		if err := tx.SelectContext(ctx, &rows, query, pq.Array(urls)); err != nil {
			return nil, fmt.Errorf("failed to read offers: %w", err)
		}
		for _, o := range rows {
			existing[o.URL] = o
		}
	}

	plan := planRun(existing, commit.Decisions, commit.At)
	for _, o := range plan.inserts {
		if _, err := tx.ExecContext(ctx, `INSERT INTO offers (`+offerColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`, offerArgs(o)...); err != nil {
			return nil, fmt.Errorf("failed to insert offer %s: %w", o.URL, err)
		}
	}
	for _, o := range plan.updates {
		if _, err := tx.ExecContext(ctx, `UPDATE offers SET title = $2, description = $3, source_name = $4,
			offer_type = $5, partner = $6, matched_keywords = $7, published_at = $8, closing_at = $9,
			scraped_at = $10, modified_at = $11, active = $12
			WHERE url = $1`, offerArgs(o)...); err != nil {
			return nil, fmt.Errorf("failed to update offer %s: %w", o.URL, err)
		}
	}
	if commit.SourceID != "" {
		result, err := tx.ExecContext(ctx, `UPDATE sources SET last_run_at = $2 WHERE id = $1`, commit.SourceID, commit.At)
		if err := execRequireRows(result, err, models.ErrSourceNotFound); err != nil {
			return nil, fmt.Errorf("failed to stamp source %s: %w", commit.SourceID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit run: %w", err)
	}
	return plan.inserts, nil
}

func offerArgs(o models.Offer) []any {
	return []any{
		o.URL, o.Title, o.Description, o.SourceName, o.OfferType, o.Partner,
		o.MatchedKeywords, o.PublishedAt, o.ClosingAt, o.ScrapedAt, o.ModifiedAt, o.Active,
	}
}

func (s *PostgresStore) DeactivateExpired(ctx context.Context, now time.Time) (int, error) {
	result, err := s.db.ExecContext(ctx, `UPDATE offers SET active = FALSE, modified_at = $1
		WHERE active AND (closing_at IS NULL OR closing_at < $1)`, now)
	if err != nil {
		return 0, fmt.Errorf("failed to deactivate expired offers: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return int(n), nil
}

func (s *PostgresStore) CountActiveOffers(ctx context.Context) (int, error) {
	var n int
	if err := s.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM offers WHERE active`); err != nil {
		return 0, fmt.Errorf("failed to count active offers: %w", err)
	}
	return n, nil
}

func (s *PostgresStore) GetSource(ctx context.Context, id string) (*models.Source, error) {
	var src models.Source
	err := s.db.GetContext(ctx, &src, `SELECT `+sourceColumns+` FROM sources WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrSourceNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get source %s: %w", id, err)
	}
	return &src, nil
}

func (s *PostgresStore) ListActiveSources(ctx context.Context) ([]models.Source, error) {
	var sources []models.Source
	if err := s.db.SelectContext(ctx, &sources, `SELECT `+sourceColumns+` FROM sources WHERE active ORDER BY name`); err != nil {
		return nil, fmt.Errorf("failed to list active sources: %w", err)
	}
	return sources, nil
}

// SyncSources reconciles wanted sources by name inside one transaction.
func (s *PostgresStore) SyncSources(ctx context.Context, wanted []models.Source) (models.SyncResult, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return models.SyncResult{}, fmt.Errorf("failed to begin sync transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback after commit is a no-op

	names := make([]string, len(wanted))
	for i, w := range wanted {
		names[i] = w.Name
	}
	var rows []models.Source
	if err := tx.SelectContext(ctx, &rows, `SELECT `+sourceColumns+` FROM sources WHERE name = ANY($1) FOR UPDATE`, pq.Array(names)); err != nil {
		return models.SyncResult{}, fmt.Errorf("failed to read sources: %w", err)
	}
	existing := make(map[string]models.Source, len(rows))
	for _, r := range rows {
		existing[r.Name] = r
	}

	creates, updates, res := reconcileSources(existing, wanted, time.Now().UTC())
	for _, src := range creates {
		if _, err := tx.ExecContext(ctx, `INSERT INTO sources (id, name, url_base, scraper_type, active, created_at)
			VALUES ($1, $2, $3, $4, $5, $6)`, src.ID, src.Name, src.URLBase, src.ScraperType, src.Active, src.CreatedAt); err != nil {
			return models.SyncResult{}, fmt.Errorf("failed to create source %s: %w", src.Name, err)
		}
	}
	for _, src := range updates {
		if _, err := tx.ExecContext(ctx, `UPDATE sources SET url_base = $2, scraper_type = $3, active = $4 WHERE id = $1`,
			src.ID, src.URLBase, src.ScraperType, src.Active); err != nil {
			return models.SyncResult{}, fmt.Errorf("failed to update source %s: %w", src.Name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return models.SyncResult{}, fmt.Errorf("failed to commit source sync: %w", err)
	}
	return res, nil
}

func (s *PostgresStore) AppendExecutionLog(ctx context.Context, entry models.ExecutionLog) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO execution_logs (`+logColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		entry.ID, entry.Kind, entry.SourceName, entry.Timestamp, entry.CountFound, entry.CountNew,
		entry.Status, entry.ErrorMessage, entry.DurationSeconds)
	if err != nil {
		return fmt.Errorf("failed to append execution log: %w", err)
	}
	return nil
}

// LatestExecutionLog returns the newest log of the given kind, or nil.
func (s *PostgresStore) LatestExecutionLog(ctx context.Context, kind string) (*models.ExecutionLog, error) {
	var entry models.ExecutionLog
	err := s.db.GetContext(ctx, &entry, `SELECT `+logColumns+` FROM execution_logs
		WHERE kind = $1 ORDER BY executed_at DESC LIMIT 1`, kind)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read latest %s log: %w", kind, err)
	}
	return &entry, nil
}

func (s *PostgresStore) ActiveKeywords(ctx context.Context) ([]string, error) {
	var terms []string
	if err := s.db.SelectContext(ctx, &terms, `SELECT term FROM keywords WHERE active ORDER BY term`); err != nil {
		return nil, fmt.Errorf("failed to read keywords: %w", err)
	}
	return terms, nil
}

// execRequireRows converts a zero-row result into notFound.
func execRequireRows(result sql.Result, err, notFound error) error {
	if err != nil {
		return err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return notFound
	}
	return nil
}

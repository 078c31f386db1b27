// Package scheduler drives the periodic global scrape and expiry sweep and
// the operator-triggered batch runs.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/pauljones0/tender-watch/internal/config"
	"github.com/pauljones0/tender-watch/internal/metrics"
	"github.com/pauljones0/tender-watch/internal/models"
)

// Job ids.
const (
	JobGlobalScrape = "global_scrape"
	JobPurgeExpired = "purge_expired"
)

// SourceRunner executes one source.
type SourceRunner interface {
	ExecuteSource(ctx context.Context, sourceID string) models.RunSummary
}

// LinkSyncer reconciles the configured links into sources.
type LinkSyncer interface {
	Sync(ctx context.Context, force bool) (models.SyncResult, error)
}

// ExpiryPurger runs the expiry sweep.
type ExpiryPurger interface {
	Purge(ctx context.Context) (models.PurgeResult, error)
}

// Store is the read side the scheduler needs.
type Store interface {
	ListActiveSources(ctx context.Context) ([]models.Source, error)
	LatestExecutionLog(ctx context.Context, kind string) (*models.ExecutionLog, error)
	CountActiveOffers(ctx context.Context) (int, error)
}

type jobSpec struct {
	id       string
	name     string
	delay    time.Duration
	interval time.Duration
	run      func(ctx context.Context)
	guarded  cron.Job
}

// Scheduler owns the cron instance and the async batch status. Create one per
// process with New and shut it down with Shutdown.
type Scheduler struct {
	runner  SourceRunner
	links   LinkSyncer
	purger  ExpiryPurger
	store   Store
	metrics *metrics.Metrics
	loc     *time.Location
	grace   time.Duration
	jobs    []jobSpec
	now     func() time.Time

	mu      sync.Mutex
	cron    *cron.Cron
	entries map[string]cron.EntryID
	running bool
	runCtx  context.Context
	stopped []context.Context

	jobMu      sync.Mutex
	job        models.JobStatus
	scrapeBusy bool
	wg         sync.WaitGroup
}

func New(cfg *config.Config, runner SourceRunner, links LinkSyncer, purger ExpiryPurger, store Store, m *metrics.Metrics) (*Scheduler, error) {
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid scheduler timezone %q: %w", cfg.Timezone, err)
	}
	if cfg.ScrapeInterval <= 0 || cfg.PurgeInterval <= 0 {
		return nil, fmt.Errorf("scheduler intervals must be positive (scrape %s, purge %s)", cfg.ScrapeInterval, cfg.PurgeInterval)
	}

	s := &Scheduler{
		runner:  runner,
		links:   links,
		purger:  purger,
		store:   store,
		metrics: m,
		loc:     loc,
		grace:   cfg.MisfireGrace,
		now:     time.Now,
	}
	s.jobs = []jobSpec{
		{
			id:       JobGlobalScrape,
			name:     "Global scrape of active sources",
			delay:    cfg.ScrapeInitialDelay,
			interval: cfg.ScrapeInterval,
			run:      s.scheduledScrape,
		},
		{
			id:       JobPurgeExpired,
			name:     "Deactivate expired offers",
			delay:    cfg.PurgeInitialDelay,
			interval: cfg.PurgeInterval,
			run:      s.scheduledPurge,
		},
	}
	// Guards are built once so a run in flight still blocks ticks after a restart.
	for i := range s.jobs {
		run := s.jobs[i].run
		s.jobs[i].guarded = s.guard(s.jobs[i].id, func() { run(s.jobContext()) })
	}
	return s, nil
}

// Start schedules both jobs from now. ctx bounds the scheduled runs.
// Starting a running scheduler is a no-op and returns false.
func (s *Scheduler) Start(ctx context.Context) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		slog.Warn("Scheduler already running")
		return false
	}

	logger := cronLogger{logger: slog.Default()}
	c := cron.New(
		cron.WithLocation(s.loc),
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger)),
	)
	s.entries = make(map[string]cron.EntryID, len(s.jobs))
	now := s.now()
	for _, j := range s.jobs {
		sched := delayedEvery{start: now.Add(j.delay), interval: j.interval}
		s.entries[j.id] = c.Schedule(sched, s.misfire(j.id, sched.due, j.guarded))
		slog.Info("Job scheduled", "job", j.id, "first_run", sched.start.In(s.loc), "interval", j.interval)
	}

	c.Start()
	s.cron = c
	s.runCtx = ctx
	s.running = true
	slog.Info("Scheduler started", "timezone", s.loc.String(), "misfire_grace", s.grace)
	return true
}

// Stop cancels future ticks without interrupting runs in flight. Stopping
// a stopped scheduler is a no-op and returns false.
func (s *Scheduler) Stop() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		slog.Warn("Scheduler already stopped")
		return false
	}
	s.stopped = append(s.stopped, s.cron.Stop())
	s.running = false
	slog.Info("Scheduler stopped")
	return true
}

// Running reports whether ticks are scheduled.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Shutdown stops the scheduler and waits for scheduled and async runs to
// finish, or for ctx to end.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	if s.Running() {
		s.Stop()
	}

	s.mu.Lock()
	pending := append([]context.Context(nil), s.stopped...)
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		for _, p := range pending {
			<-p.Done()
		}
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("scheduler shutdown: %w", ctx.Err())
	}
}

// jobContext is the context passed to the latest Start.
func (s *Scheduler) jobContext() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.runCtx == nil {
		return context.Background()
	}
	return s.runCtx
}

// guard makes fn single-instance: a tick arriving while it runs is dropped.
func (s *Scheduler) guard(id string, fn func()) cron.Job {
	logger := cronLogger{logger: slog.Default().With("job", id)}
	return cron.NewChain(cron.SkipIfStillRunning(logger)).Then(cron.FuncJob(fn))
}

// misfire drops a run that starts more than the misfire grace after its due
// time.
func (s *Scheduler) misfire(id string, due func(time.Time) time.Time, j cron.Job) cron.Job {
	return cron.FuncJob(func() {
		now := s.now()
		if late := now.Sub(due(now)); s.grace > 0 && late > s.grace {
			slog.Warn("Skipping misfired run", "job", id, "late", late, "grace", s.grace)
			return
		}
		j.Run()
	})
}

func (s *Scheduler) scheduledScrape(ctx context.Context) {
	s.jobMu.Lock()
	if s.job.Running {
		s.jobMu.Unlock()
		slog.Info("Scheduled scrape skipped, a manual batch is running")
		return
	}
	s.scrapeBusy = true
	s.jobMu.Unlock()
	defer func() {
		s.jobMu.Lock()
		s.scrapeBusy = false
		s.jobMu.Unlock()
	}()

	summary, err := s.RunAllNow(ctx)
	if err != nil {
		slog.Error("Scheduled scrape failed", "error", err)
		return
	}
	slog.Info("Scheduled scrape finished", "sources", summary.Total)
}

func (s *Scheduler) scheduledPurge(ctx context.Context) {
	if _, err := s.purger.Purge(ctx); err != nil {
		slog.Error("Scheduled purge failed", "error", err)
	}
}

// RunAllNow syncs the configured links (throttled) and then executes every
// active source in turn. A failing source is recorded in its summary and
// never stops the batch.
func (s *Scheduler) RunAllNow(ctx context.Context) (models.BatchSummary, error) {
	if _, err := s.links.Sync(ctx, false); err != nil {
		slog.Warn("Link sync before batch failed", "error", err)
	}

	sources, err := s.store.ListActiveSources(ctx)
	if err != nil {
		return models.BatchSummary{}, fmt.Errorf("failed to list active sources: %w", err)
	}

	start := s.now()
	results := make([]models.RunSummary, 0, len(sources))
	for _, src := range sources {
		results = append(results, s.runSource(ctx, src))
	}

	slog.Info("Batch finished", "sources", len(sources), "duration", s.now().Sub(start))
	return models.BatchSummary{
		Message: "global scrape of active sources finished",
		Total:   len(results),
		Results: results,
	}, nil
}

func (s *Scheduler) runSource(ctx context.Context, src models.Source) (summary models.RunSummary) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Source run panicked", "source", src.Name, "panic", r)
			summary = models.RunSummary{
				SourceID:    src.ID,
				SourceName:  src.Name,
				ScraperType: src.ScraperType,
				Status:      models.RunStatusError,
				Message:     fmt.Sprintf("panic: %v", r),
			}
		}
	}()
	return s.runner.ExecuteSource(ctx, src.ID)
}

// RunAllAsync starts a detached batch unless one is already running or the
// scheduled scrape is in flight. It returns the current status and whether a
// new batch was started.
func (s *Scheduler) RunAllAsync(ctx context.Context) (models.JobStatus, bool) {
	s.jobMu.Lock()
	if s.job.Running || s.scrapeBusy {
		st := s.job
		s.jobMu.Unlock()
		return st, false
	}
	started := s.now().UTC()
	s.job = models.JobStatus{Running: true, StartedAt: &started}
	st := s.job
	s.wg.Add(1)
	s.jobMu.Unlock()

	s.metrics.SetBatchRunning(true)
	batchCtx := context.WithoutCancel(ctx)
	go func() {
		defer s.wg.Done()
		summary, err := s.runDetached(batchCtx)
		s.finishJob(summary, err)
	}()
	return st, true
}

func (s *Scheduler) runDetached(ctx context.Context) (summary models.BatchSummary, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("batch panicked: %v", r)
		}
	}()
	return s.RunAllNow(ctx)
}

func (s *Scheduler) finishJob(summary models.BatchSummary, err error) {
	finished := s.now().UTC()

	s.jobMu.Lock()
	s.job.Running = false
	s.job.FinishedAt = &finished
	if err != nil {
		s.job.Error = err.Error()
	} else {
		s.job.Result = &summary
	}
	s.jobMu.Unlock()

	s.metrics.SetBatchRunning(false)
	if err != nil {
		slog.Error("Async batch failed", "error", err)
		return
	}
	slog.Info("Async batch finished", "sources", summary.Total)
}

// JobStatus returns a snapshot of the async batch status.
func (s *Scheduler) JobStatus() models.JobStatus {
	s.jobMu.Lock()
	defer s.jobMu.Unlock()
	return s.job
}

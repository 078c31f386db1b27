package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/pauljones0/tender-watch/internal/config"
	"github.com/pauljones0/tender-watch/internal/models"
)

// --- Mock implementations ---

type mockRunner struct {
	mu       sync.Mutex
	calls    []string
	statuses map[string]string
	block    chan struct{}
	panicOn  string
	order    *[]string
}

func (m *mockRunner) ExecuteSource(_ context.Context, id string) models.RunSummary {
	if m.block != nil {
		<-m.block
	}
	if id == m.panicOn {
		panic("scraper exploded")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, id)
	if m.order != nil {
		*m.order = append(*m.order, "run:"+id)
	}
	status := models.RunStatusOK
	if s, ok := m.statuses[id]; ok {
		status = s
	}
	return models.RunSummary{SourceID: id, Status: status}
}

type mockLinks struct {
	calls atomic.Int32
	err   error
	order *[]string
}

func (m *mockLinks) Sync(_ context.Context, _ bool) (models.SyncResult, error) {
	m.calls.Add(1)
	if m.order != nil {
		*m.order = append(*m.order, "sync")
	}
	return models.SyncResult{}, m.err
}

type mockPurger struct {
	calls atomic.Int32
}

func (m *mockPurger) Purge(_ context.Context) (models.PurgeResult, error) {
	m.calls.Add(1)
	return models.PurgeResult{}, nil
}

type mockStore struct {
	sources  []models.Source
	listErr  error
	logs     map[string]*models.ExecutionLog
	logErr   error
	count    int
	countErr error
}

func (m *mockStore) ListActiveSources(_ context.Context) ([]models.Source, error) {
	return m.sources, m.listErr
}

func (m *mockStore) LatestExecutionLog(_ context.Context, kind string) (*models.ExecutionLog, error) {
	if m.logErr != nil {
		return nil, m.logErr
	}
	return m.logs[kind], nil
}

func (m *mockStore) CountActiveOffers(_ context.Context) (int, error) {
	return m.count, m.countErr
}

func testConfig() *config.Config {
	return &config.Config{
		Timezone:           "Africa/Abidjan",
		ScrapeInterval:     time.Hour,
		ScrapeInitialDelay: 20 * time.Second,
		PurgeInterval:      time.Hour,
		PurgeInitialDelay:  5 * time.Minute,
		MisfireGrace:       20 * time.Minute,
	}
}

func threeSources() []models.Source {
	return []models.Source{
		{ID: "s1", Name: "DGMP", Active: true},
		{ID: "s2", Name: "ANADER", Active: true},
		{ID: "s3", Name: "FIRCA", Active: true},
	}
}

func newTestScheduler(t *testing.T, runner SourceRunner, links LinkSyncer, store Store) *Scheduler {
	t.Helper()
	s, err := New(testConfig(), runner, links, &mockPurger{}, store, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return s
}

// --- Tests ---

func TestNew_Validation(t *testing.T) {
	cfg := testConfig()
	cfg.Timezone = "Mars/Olympus"
	if _, err := New(cfg, &mockRunner{}, &mockLinks{}, &mockPurger{}, &mockStore{}, nil); err == nil {
		t.Error("expected error for unknown timezone")
	}

	cfg = testConfig()
	cfg.PurgeInterval = 0
	if _, err := New(cfg, &mockRunner{}, &mockLinks{}, &mockPurger{}, &mockStore{}, nil); err == nil {
		t.Error("expected error for zero interval")
	}
}

func TestDelayedEvery(t *testing.T) {
	start := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	d := delayedEvery{start: start, interval: time.Hour}

	tests := []struct {
		name     string
		at       time.Time
		wantNext time.Time
		wantDue  time.Time
	}{
		{name: "before first run", at: start.Add(-time.Minute), wantNext: start, wantDue: start},
		{name: "exactly at first run", at: start, wantNext: start.Add(time.Hour), wantDue: start},
		{name: "between ticks", at: start.Add(90 * time.Minute), wantNext: start.Add(2 * time.Hour), wantDue: start.Add(time.Hour)},
		{name: "on a later tick", at: start.Add(3 * time.Hour), wantNext: start.Add(4 * time.Hour), wantDue: start.Add(3 * time.Hour)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := d.Next(tt.at); !got.Equal(tt.wantNext) {
				t.Errorf("Next() = %v, want %v", got, tt.wantNext)
			}
			if got := d.due(tt.at); !got.Equal(tt.wantDue) {
				t.Errorf("due() = %v, want %v", got, tt.wantDue)
			}
		})
	}
}

func TestStartStop_Idempotent(t *testing.T) {
	s := newTestScheduler(t, &mockRunner{}, &mockLinks{}, &mockStore{})
	ctx := context.Background()

	if !s.Start(ctx) {
		t.Fatal("first Start() should start the scheduler")
	}
	if s.Start(ctx) {
		t.Error("second Start() should be a no-op")
	}
	if !s.Running() {
		t.Error("expected scheduler to be running")
	}

	if !s.Stop() {
		t.Error("first Stop() should stop the scheduler")
	}
	if s.Stop() {
		t.Error("second Stop() should be a no-op")
	}
	if s.Running() {
		t.Error("expected scheduler to be stopped")
	}

	if !s.Start(ctx) {
		t.Error("a stopped scheduler can be started again")
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	if err := s.Shutdown(shutdownCtx); err != nil {
		t.Errorf("Shutdown() error = %v", err)
	}
}

func TestStatus(t *testing.T) {
	scrapedAt := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	store := &mockStore{
		sources: threeSources(),
		logs:    map[string]*models.ExecutionLog{models.LogKindScrape: {Kind: models.LogKindScrape, Timestamp: scrapedAt}},
		count:   42,
	}
	s := newTestScheduler(t, &mockRunner{}, &mockLinks{}, store)

	before := time.Now()
	s.Start(context.Background())
	defer s.Stop()

	snap := s.Status(context.Background())
	if !snap.Running || snap.Timezone != "Africa/Abidjan" {
		t.Errorf("snapshot = %+v, want running in Africa/Abidjan", snap)
	}
	if snap.JobCount != 2 || len(snap.Jobs) != 2 {
		t.Fatalf("JobCount = %d, want 2", snap.JobCount)
	}
	scrape := snap.Jobs[0]
	if scrape.ID != JobGlobalScrape || scrape.NextRun == nil {
		t.Fatalf("scrape job = %+v, want a next run", scrape)
	}
	if next := *scrape.NextRun; next.Before(before.Add(20*time.Second)) || next.After(time.Now().Add(20*time.Second)) {
		t.Errorf("NextRun = %v, want the initial delay from start", next)
	}
	if scrape.LastRun != nil {
		t.Errorf("LastRun = %v, want nil before the first tick", scrape.LastRun)
	}
	if snap.LastScrape == nil || !snap.LastScrape.Equal(scrapedAt) {
		t.Errorf("LastScrape = %v, want %v", snap.LastScrape, scrapedAt)
	}
	if snap.LastPurge != nil {
		t.Errorf("LastPurge = %v, want nil", snap.LastPurge)
	}
	if snap.ActiveOffers != 42 || snap.ActiveSources != 3 {
		t.Errorf("counts = %d offers %d sources, want 42 and 3", snap.ActiveOffers, snap.ActiveSources)
	}

	s.Stop()
	stopped := s.Status(context.Background())
	if stopped.Running || stopped.Jobs[0].NextRun != nil {
		t.Errorf("stopped snapshot = %+v, want no next run", stopped)
	}
}

func TestStatus_StoreErrors(t *testing.T) {
	store := &mockStore{logErr: errors.New("unavailable"), countErr: errors.New("unavailable"), listErr: errors.New("unavailable")}
	s := newTestScheduler(t, &mockRunner{}, &mockLinks{}, store)

	snap := s.Status(context.Background())
	if snap.LastScrape != nil || snap.ActiveOffers != 0 || snap.JobCount != 2 {
		t.Errorf("snapshot = %+v, want empty store fields", snap)
	}
}

func TestRunAllNow(t *testing.T) {
	var order []string
	runner := &mockRunner{statuses: map[string]string{"s2": models.RunStatusError}, order: &order}
	links := &mockLinks{err: errors.New("sync failed"), order: &order}
	s := newTestScheduler(t, runner, links, &mockStore{sources: threeSources()})

	summary, err := s.RunAllNow(context.Background())
	if err != nil {
		t.Fatalf("RunAllNow() error = %v", err)
	}
	if summary.Total != 3 || len(summary.Results) != 3 {
		t.Fatalf("Total = %d, want 3", summary.Total)
	}
	if summary.Results[1].Status != models.RunStatusError || summary.Results[2].Status != models.RunStatusOK {
		t.Errorf("results = %+v, a failing source must not stop the batch", summary.Results)
	}
	want := []string{"sync", "run:s1", "run:s2", "run:s3"}
	if len(order) != len(want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Errorf("order = %v, want %v", order, want)
			break
		}
	}
}

func TestRunAllNow_RecoversSourcePanic(t *testing.T) {
	runner := &mockRunner{panicOn: "s1"}
	s := newTestScheduler(t, runner, &mockLinks{}, &mockStore{sources: threeSources()})

	summary, err := s.RunAllNow(context.Background())
	if err != nil {
		t.Fatalf("RunAllNow() error = %v", err)
	}
	if summary.Results[0].Status != models.RunStatusError || summary.Results[0].SourceName != "DGMP" {
		t.Errorf("first result = %+v, want recovered error", summary.Results[0])
	}
	if len(runner.calls) != 2 {
		t.Errorf("expected the remaining 2 sources to run, got %d", len(runner.calls))
	}
}

func TestRunAllNow_ListError(t *testing.T) {
	s := newTestScheduler(t, &mockRunner{}, &mockLinks{}, &mockStore{listErr: errors.New("connection refused")})
	if _, err := s.RunAllNow(context.Background()); err == nil {
		t.Error("expected error when sources cannot be listed")
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestRunAllAsync(t *testing.T) {
	runner := &mockRunner{block: make(chan struct{})}
	s := newTestScheduler(t, runner, &mockLinks{}, &mockStore{sources: threeSources()})
	ctx, cancel := context.WithCancel(context.Background())

	first, accepted := s.RunAllAsync(ctx)
	if !accepted || !first.Running || first.StartedAt == nil {
		t.Fatalf("first RunAllAsync() = %+v, %v; want accepted running status", first, accepted)
	}
	// The batch outlives the request that started it.
	cancel()

	second, accepted := s.RunAllAsync(context.Background())
	if accepted {
		t.Error("second RunAllAsync() must not start another batch")
	}
	if !second.StartedAt.Equal(*first.StartedAt) {
		t.Errorf("second status = %+v, want the running batch", second)
	}

	close(runner.block)
	waitFor(t, func() bool { return !s.JobStatus().Running })

	st := s.JobStatus()
	if st.FinishedAt == nil || st.Result == nil || st.Result.Total != 3 || st.Error != "" {
		t.Errorf("final status = %+v, want finished with 3 results", st)
	}
}

func TestRunAllAsync_RecordsError(t *testing.T) {
	s := newTestScheduler(t, &mockRunner{}, &mockLinks{}, &mockStore{listErr: errors.New("connection refused")})

	if _, accepted := s.RunAllAsync(context.Background()); !accepted {
		t.Fatal("expected batch to start")
	}
	waitFor(t, func() bool { return !s.JobStatus().Running })

	st := s.JobStatus()
	if st.Error == "" || st.Result != nil {
		t.Errorf("status = %+v, want recorded error", st)
	}
}

func TestRunAllAsync_ConcurrentTriggersStartOneBatch(t *testing.T) {
	runner := &mockRunner{block: make(chan struct{})}
	s := newTestScheduler(t, runner, &mockLinks{}, &mockStore{sources: threeSources()[:1]})

	var accepted atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, ok := s.RunAllAsync(context.Background()); ok {
				accepted.Add(1)
			}
		}()
	}
	wg.Wait()
	close(runner.block)

	if got := accepted.Load(); got != 1 {
		t.Errorf("accepted %d batches, want 1", got)
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Shutdown(shutdownCtx); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	if len(runner.calls) != 1 {
		t.Errorf("source ran %d times, want 1", len(runner.calls))
	}
}

func TestGuard_CoalescesOverlappingTicks(t *testing.T) {
	s := newTestScheduler(t, &mockRunner{}, &mockLinks{}, &mockStore{})
	now := time.Now()
	due := func(time.Time) time.Time { return now }

	release := make(chan struct{})
	started := make(chan struct{}, 2)
	var runs atomic.Int32
	job := s.misfire(JobGlobalScrape, due, s.guard(JobGlobalScrape, func() {
		runs.Add(1)
		started <- struct{}{}
		<-release
	}))

	done := make(chan struct{})
	go func() {
		job.Run()
		close(done)
	}()
	<-started

	// A tick arriving while the first run is in flight is dropped, not queued.
	job.Run()
	close(release)
	<-done

	if got := runs.Load(); got != 1 {
		t.Errorf("runs = %d, want 1", got)
	}
}

func TestMisfireGrace(t *testing.T) {
	s := newTestScheduler(t, &mockRunner{}, &mockLinks{}, &mockStore{})
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	tests := []struct {
		name    string
		late    time.Duration
		wantRun bool
	}{
		{name: "on time", late: 0, wantRun: true},
		{name: "within grace", late: 19 * time.Minute, wantRun: true},
		{name: "beyond grace", late: 21 * time.Minute, wantRun: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ran := false
			job := s.misfire(JobPurgeExpired, func(time.Time) time.Time { return now.Add(-tt.late) }, cron.FuncJob(func() { ran = true }))
			job.Run()
			if ran != tt.wantRun {
				t.Errorf("ran = %v, want %v", ran, tt.wantRun)
			}
		})
	}
}

func TestScheduledScrape_SkipsWhileManualBatchRuns(t *testing.T) {
	runner := &mockRunner{block: make(chan struct{})}
	links := &mockLinks{}
	s := newTestScheduler(t, runner, links, &mockStore{sources: threeSources()[:1]})

	s.RunAllAsync(context.Background())
	waitFor(t, func() bool { return links.calls.Load() == 1 })

	s.scheduledScrape(context.Background())
	close(runner.block)
	waitFor(t, func() bool { return !s.JobStatus().Running })

	if got := links.calls.Load(); got != 1 {
		t.Errorf("link sync ran %d times, want only the manual batch", got)
	}
}

func TestRestart_DoesNotOverlapRunInFlight(t *testing.T) {
	cfg := testConfig()
	cfg.ScrapeInitialDelay = 10 * time.Millisecond
	cfg.ScrapeInterval = 20 * time.Millisecond
	runner := &mockRunner{block: make(chan struct{})}
	links := &mockLinks{}
	s, err := New(cfg, runner, links, &mockPurger{}, &mockStore{sources: threeSources()[:1]}, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	ctx := context.Background()

	s.Start(ctx)
	waitFor(t, func() bool { return links.calls.Load() == 1 })

	// The first scrape is still blocked in its source while new ticks fire.
	s.Stop()
	s.Start(ctx)
	time.Sleep(100 * time.Millisecond)
	if got := links.calls.Load(); got != 1 {
		t.Errorf("global scrape started %d times, want 1 while the first run is in flight", got)
	}

	s.Stop()
	close(runner.block)
	shutdownCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := s.Shutdown(shutdownCtx); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
}

func TestRunAllAsync_RefusedWhileScheduledScrapeRuns(t *testing.T) {
	runner := &mockRunner{block: make(chan struct{})}
	links := &mockLinks{}
	s := newTestScheduler(t, runner, links, &mockStore{sources: threeSources()[:1]})

	done := make(chan struct{})
	go func() {
		s.scheduledScrape(context.Background())
		close(done)
	}()
	waitFor(t, func() bool { return links.calls.Load() == 1 })

	if st, accepted := s.RunAllAsync(context.Background()); accepted || st.Running {
		t.Errorf("RunAllAsync() = %+v, %v; want refused while the scheduled scrape runs", st, accepted)
	}

	close(runner.block)
	<-done

	if _, accepted := s.RunAllAsync(context.Background()); !accepted {
		t.Error("RunAllAsync() should start once the scheduled scrape finished")
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Shutdown(shutdownCtx); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	if got := links.calls.Load(); got != 2 {
		t.Errorf("link sync ran %d times, want 2", got)
	}
}

func TestScheduledPurge(t *testing.T) {
	purger := &mockPurger{}
	s, err := New(testConfig(), &mockRunner{}, &mockLinks{}, purger, &mockStore{}, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	s.scheduledPurge(context.Background())
	if purger.calls.Load() != 1 {
		t.Errorf("purge calls = %d, want 1", purger.calls.Load())
	}
}

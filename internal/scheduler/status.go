package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/pauljones0/tender-watch/internal/models"
)

// JobInfo describes one scheduled job.
type JobInfo struct {
	ID      string     `json:"id"`
	Name    string     `json:"name"`
	LastRun *time.Time `json:"lastRun,omitempty"`
	NextRun *time.Time `json:"nextRun,omitempty"`
}

// StatusSnapshot is the operator view of the scheduler.
type StatusSnapshot struct {
	Running       bool             `json:"running"`
	Timezone      string           `json:"timezone"`
	LastScrape    *time.Time       `json:"lastScrape,omitempty"`
	LastPurge     *time.Time       `json:"lastPurge,omitempty"`
	ActiveOffers  int              `json:"activeOffers"`
	ActiveSources int              `json:"activeSources"`
	JobCount      int              `json:"jobCount"`
	Jobs          []JobInfo        `json:"jobs"`
	Batch         models.JobStatus `json:"batch"`
}

// Status aggregates liveness, job timing and the last logged runs. Store
// failures leave the affected fields empty.
func (s *Scheduler) Status(ctx context.Context) StatusSnapshot {
	snap := StatusSnapshot{
		Timezone: s.loc.String(),
		Batch:    s.JobStatus(),
	}

	s.mu.Lock()
	snap.Running = s.running
	for _, j := range s.jobs {
		info := JobInfo{ID: j.id, Name: j.name}
		if id, ok := s.entries[j.id]; ok && s.cron != nil {
			e := s.cron.Entry(id)
			if !e.Prev.IsZero() {
				prev := e.Prev.In(s.loc)
				info.LastRun = &prev
			}
			if s.running && !e.Next.IsZero() {
				next := e.Next.In(s.loc)
				info.NextRun = &next
			}
		}
		snap.Jobs = append(snap.Jobs, info)
	}
	s.mu.Unlock()
	snap.JobCount = len(snap.Jobs)

	snap.LastScrape = s.lastLogTime(ctx, models.LogKindScrape)
	snap.LastPurge = s.lastLogTime(ctx, models.LogKindPurge)

	if n, err := s.store.CountActiveOffers(ctx); err != nil {
		slog.Warn("Failed to count active offers", "error", err)
	} else {
		snap.ActiveOffers = n
	}
	if sources, err := s.store.ListActiveSources(ctx); err != nil {
		slog.Warn("Failed to list active sources", "error", err)
	} else {
		snap.ActiveSources = len(sources)
	}
	return snap
}

func (s *Scheduler) lastLogTime(ctx context.Context, kind string) *time.Time {
	entry, err := s.store.LatestExecutionLog(ctx, kind)
	if err != nil {
		slog.Warn("Failed to read latest execution log", "kind", kind, "error", err)
		return nil
	}
	if entry == nil {
		return nil
	}
	t := entry.Timestamp.In(s.loc)
	return &t
}

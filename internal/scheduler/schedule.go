package scheduler

import (
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// delayedEvery fires first at start and then every interval after it.
type delayedEvery struct {
	start    time.Time
	interval time.Duration
}

var _ cron.Schedule = delayedEvery{}

func (d delayedEvery) Next(t time.Time) time.Time {
	if t.Before(d.start) {
		return d.start
	}
	n := t.Sub(d.start)/d.interval + 1
	return d.start.Add(n * d.interval)
}

// due returns the most recent fire time at or before t.
func (d delayedEvery) due(t time.Time) time.Time {
	if t.Before(d.start) {
		return d.start
	}
	n := t.Sub(d.start) / d.interval
	return d.start.Add(n * d.interval)
}

// cronLogger routes robfig/cron messages to slog. Loop chatter goes to
// debug; skipped runs are worth seeing.
type cronLogger struct {
	logger *slog.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	if msg == "skip" {
		c.logger.Info("Scheduled run skipped, previous run still in progress", keysAndValues...)
		return
	}
	c.logger.Debug("cron: "+msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.logger.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}

package service

import (
	"context"
	"os"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/MimeLyc/sairing/internal/artifact"
	"github.com/MimeLyc/sairing/pkg/file"
	"github.com/MimeLyc/sairing/pkg/icron"
	"github.com/MimeLyc/sairing/pkg/log"
	"github.com/robfig/cron/v3"
)

// SweepReport summarizes one janitor run.
type SweepReport struct {
	ExpiredEntries int
	RemovedDirs    int
}

// Janitor periodically drops expired artifacts and the work directories
// they pointed into.
type Janitor struct {
	store    *artifact.Store
	cron     *cron.Cron
	cronExpr string
	workDir  string
	maxAge   time.Duration
	now      func() time.Time
	logger   *log.Logger

	group singleflight.Group
}

type JanitorOption func(*Janitor)

// WithWorkDir enables cleanup of per-media work directories older than
// maxAge.
func WithWorkDir(dir string, maxAge time.Duration) JanitorOption {
	return func(j *Janitor) {
		j.workDir = dir
		if maxAge > 0 {
			j.maxAge = maxAge
		}
	}
}

func WithClock(now func() time.Time) JanitorOption {
	return func(j *Janitor) {
		if now != nil {
			j.now = now
		}
	}
}

func NewJanitor(store *artifact.Store, c *cron.Cron, cronExpr string, opts ...JanitorOption) *Janitor {
	j := &Janitor{
		store:    store,
		cron:     c,
		cronExpr: cronExpr,
		maxAge:   artifact.DefaultTTL,
		now:      time.Now,
		logger:   log.GetLogger().With("janitor"),
	}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

// Schedule registers the sweep on the cron. Runs that fire while a sweep is
// still going join it instead of starting another.
func (j *Janitor) Schedule(ctx context.Context) error {
	if _, err := icron.Parse(j.cronExpr); err != nil {
		return err
	}
	_, err := j.cron.AddFunc(j.cronExpr, func() {
		report := j.Sweep(ctx)
		j.logger.Info("Sweep removed %d expired entries and %d work dirs", report.ExpiredEntries, report.RemovedDirs)
		j.logNext()
	})
	if err != nil {
		return err
	}
	j.logger.Info("Janitor scheduled with %q", j.cronExpr)
	j.logNext()
	return nil
}

// Sweep runs one cleanup pass now.
func (j *Janitor) Sweep(ctx context.Context) SweepReport {
	v, _, _ := j.group.Do("sweep", func() (any, error) {
		return j.sweep(ctx), nil
	})
	return v.(SweepReport)
}

func (j *Janitor) sweep(ctx context.Context) SweepReport {
	report := SweepReport{ExpiredEntries: j.store.ClearExpired(ctx)}
	if j.workDir == "" {
		return report
	}

	stale, err := file.FindStaleDirs(j.workDir, j.now().Add(-j.maxAge))
	if err != nil {
		j.logger.Error("Failed to scan work dir %s: %v", j.workDir, err)
		return report
	}
	for _, dir := range stale {
		if ctx.Err() != nil {
			break
		}
		if err := os.RemoveAll(dir); err != nil {
			j.logger.Warn("Failed to remove %s: %v", dir, err)
			continue
		}
		report.RemovedDirs++
	}
	return report
}

func (j *Janitor) logNext() {
	info, err := icron.GetTriggerInfo(j.cronExpr, j.now())
	if err != nil {
		return
	}
	j.logger.Info("Next sweep at %s (in %s)", info.Next.Format(time.RFC3339), info.TimeUntilNext.Round(time.Second))
}

package service

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/MimeLyc/sairing/internal/artifact"
	"github.com/robfig/cron/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func TestJanitorSweepClearsExpiredEntries(t *testing.T) {
	clk := &clock{t: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	store := artifact.NewMemoryStore(artifact.WithClock(clk.now))
	ctx := context.Background()

	store.Set(ctx, "old", artifact.TextPayload("x"))
	store.SetMetadata(ctx, artifact.Metadata{MediaKey: "old", Mimetype: "image/png"})
	clk.t = clk.t.Add(artifact.DefaultTTL)
	store.Set(ctx, "fresh", artifact.TextPayload("y"))
	clk.t = clk.t.Add(time.Minute)

	j := NewJanitor(store, cron.New(), "@hourly", WithClock(clk.now))
	report := j.Sweep(ctx)

	assert.Equal(t, 2, report.ExpiredEntries)
	assert.Zero(t, report.RemovedDirs)
	_, ok := store.Get(ctx, "fresh")
	assert.True(t, ok)
	assert.Equal(t, 1, store.Stats().Entries)
}

func TestJanitorSweepRemovesStaleWorkDirs(t *testing.T) {
	now := time.Now()
	workDir := t.TempDir()

	stale := filepath.Join(workDir, "stale")
	fresh := filepath.Join(workDir, "fresh")
	require.NoError(t, os.MkdirAll(filepath.Join(stale, "segments"), 0o755))
	require.NoError(t, os.MkdirAll(fresh, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(workDir, "loose.mp4"), []byte("x"), 0o644))
	old := now.Add(-48 * time.Hour)
	require.NoError(t, os.Chtimes(stale, old, old))

	j := NewJanitor(artifact.NewMemoryStore(), cron.New(), "@hourly",
		WithWorkDir(workDir, 24*time.Hour),
		WithClock(func() time.Time { return now }))
	report := j.Sweep(context.Background())

	assert.Equal(t, 1, report.RemovedDirs)
	assert.NoDirExists(t, stale)
	assert.DirExists(t, fresh)
	assert.FileExists(t, filepath.Join(workDir, "loose.mp4"))
}

func TestJanitorSweepMissingWorkDir(t *testing.T) {
	j := NewJanitor(artifact.NewMemoryStore(), cron.New(), "@hourly",
		WithWorkDir(filepath.Join(t.TempDir(), "absent"), time.Hour))
	report := j.Sweep(context.Background())
	assert.Zero(t, report.RemovedDirs)
}

func TestJanitorSchedule(t *testing.T) {
	c := cron.New()
	j := NewJanitor(artifact.NewMemoryStore(), c, "*/10 * * * *")
	require.NoError(t, j.Schedule(context.Background()))
	assert.Len(t, c.Entries(), 1)

	bad := NewJanitor(artifact.NewMemoryStore(), cron.New(), "every tuesday")
	assert.Error(t, bad.Schedule(context.Background()))
}

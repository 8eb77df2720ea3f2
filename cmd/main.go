package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"os/signal"
	"sync"
	"syscall"

	"github.com/gabriel-vasile/mimetype"
	"github.com/panjf2000/ants/v2"
	"github.com/robfig/cron/v3"
	"github.com/urfave/cli/v2"

	"github.com/MimeLyc/sairing/internal/artifact"
	"github.com/MimeLyc/sairing/internal/classifier"
	"github.com/MimeLyc/sairing/internal/config"
	"github.com/MimeLyc/sairing/internal/extract"
	"github.com/MimeLyc/sairing/internal/gemini"
	"github.com/MimeLyc/sairing/internal/llm"
	"github.com/MimeLyc/sairing/internal/media"
	"github.com/MimeLyc/sairing/internal/persistence"
	"github.com/MimeLyc/sairing/internal/pipeline"
	"github.com/MimeLyc/sairing/internal/service"
	"github.com/MimeLyc/sairing/internal/transport"
	"github.com/MimeLyc/sairing/pkg/log"
	"github.com/MimeLyc/sairing/pkg/metrics"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		log.Fatal("%v", err)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "sairing",
		Usage: "Turn chat media into text for fact checking",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Aliases: []string{"l"},
				Usage:   "Logging level (debug, info, warn, error); overrides LOG_LEVEL",
			},
			&cli.StringFlag{
				Name:  "env-file",
				Usage: "Load environment variables from this file",
				Value: ".env",
			},
			&cli.StringFlag{
				Name:  "cache-dir",
				Usage: "Artifact store directory; overrides CACHE_DIR",
			},
			&cli.StringFlag{
				Name:  "backend",
				Usage: "Artifact store backend (json, sqlite); overrides CACHE_BACKEND",
			},
			&cli.BoolFlag{
				Name:  "stats",
				Usage: "Print per-stage latency quantiles when done",
			},
		},
		Before: setup,
		Commands: []*cli.Command{
			{
				Name:      "analyze",
				Usage:     "Run the media pipeline on local files and print their summaries",
				ArgsUsage: "FILE...",
				Action:    analyzeCommand,
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "commit",
						Usage: "Cache frame artifacts of successful runs",
					},
				},
			},
			{
				Name:  "cache",
				Usage: "Inspect and maintain the artifact store",
				Subcommands: []*cli.Command{
					{Name: "sweep", Usage: "Drop expired entries and stale work dirs", Action: sweepCommand},
					{Name: "clear", Usage: "Drop every entry", Action: clearCommand},
					{Name: "stats", Usage: "Count entries per artifact kind", Action: statsCommand},
					{Name: "janitor", Usage: "Sweep on CACHE_SWEEP_CRON until interrupted", Action: janitorCommand},
				},
			},
			{
				Name:  "settings",
				Usage: "Show or pin runtime settings",
				Subcommands: []*cli.Command{
					{Name: "show", Usage: "Print the effective settings", Action: settingsShowCommand},
					{Name: "init", Usage: "Write the effective settings to SETTINGS_FILE", Action: settingsInitCommand},
				},
			},
		},
	}
}

func setup(c *cli.Context) error {
	config.LoadDotEnv(c.String("env-file"))
	level := c.String("log-level")
	if level == "" {
		level = os.Getenv("LOG_LEVEL")
	}
	log.GetLogger().SetLevel(log.ParseLevel(level))
	return nil
}

func loadConfig(c *cli.Context, needProvider bool) (*config.Config, error) {
	opts := []config.Option{
		config.WithCacheDir(c.String("cache-dir")),
		config.WithBackend(c.String("backend")),
	}

	path := config.RuntimeSettingsFilePath()
	settings, err := config.LoadRuntimeSettingsFile(path)
	switch {
	case err == nil:
		opts = append(opts, config.WithRuntimeSettings(settings))
	case !errors.Is(err, os.ErrNotExist):
		log.Warn("Ignoring settings file %s: %v", path, err)
	}

	if !needProvider {
		opts = append(opts, config.WithoutProvider())
	}
	cfg, err := config.NewFromEnv(opts...)
	if err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}
	return cfg, nil
}

// openStore loads the artifact store from the configured backend. The
// returned close func releases the backend.
func openStore(ctx context.Context, cfg *config.Config) (*artifact.Store, func(), error) {
	logger := log.GetLogger().With("cache")

	switch cfg.Cache.Backend {
	case config.BackendSQLite:
		db, err := persistence.NewSQLiteStore(cfg.Cache.DBPath())
		if err != nil {
			return nil, nil, err
		}
		closeFn := func() {
			if err := db.Close(); err != nil {
				logger.Warn("Failed to close %s: %v", cfg.Cache.DBPath(), err)
			}
		}
		return artifact.Open(ctx, db, artifact.WithLogger(logger)), closeFn, nil
	default:
		p, err := artifact.NewJSONPersister(cfg.Cache.Dir)
		if err != nil {
			return nil, nil, err
		}
		return artifact.Open(ctx, p, artifact.WithLogger(logger)), func() {}, nil
	}
}

// provider is what the pipeline needs from a model backend.
type provider interface {
	classifier.Completer
	pipeline.Transcriber
	pipeline.Describer
	ReadText(ctx context.Context, image []byte, mimeType string) (string, error)
}

func newProvider(ctx context.Context, cfg *config.Config) (provider, func(), error) {
	switch cfg.LLM.Provider {
	case config.ProviderGemini:
		p, err := gemini.New(ctx, cfg.LLM.GeminiAPIKey, cfg.LLM.GeminiModel, float32(cfg.LLM.Temperature))
		if err != nil {
			return nil, nil, err
		}
		return p, func() { _ = p.Close() }, nil
	default:
		client, err := llm.NewClient(&llm.Config{
			APIKey:          cfg.LLM.APIKey,
			APIURL:          cfg.LLM.APIURL,
			Model:           cfg.LLM.Model,
			VisionModel:     cfg.LLM.VisionModel,
			TranscribeModel: cfg.LLM.TranscribeModel,
			MaxTokens:       cfg.LLM.MaxTokens,
			Temperature:     cfg.LLM.Temperature,
			Timeout:         cfg.LLM.Timeout,
		})
		if err != nil {
			return nil, nil, err
		}
		return client, func() {}, nil
	}
}

// newOCR prefers tesseract and falls back to reading text with the vision
// model when the binary is missing.
func newOCR(cfg *config.Config, p provider) pipeline.OCR {
	if _, err := exec.LookPath(cfg.Media.TesseractPath); err == nil {
		return extract.NewTesseract(cfg.Media.TesseractPath, cfg.Media.OCRLanguages)
	}
	log.Warn("%s not found, using the vision model for OCR", cfg.Media.TesseractPath)
	return pipeline.OCRFunc(func(ctx context.Context, image []byte) (string, error) {
		return p.ReadText(ctx, image, mimetype.Detect(image).String())
	})
}

func analyzeCommand(c *cli.Context) error {
	files := c.Args().Slice()
	if len(files) == 0 {
		return fmt.Errorf("at least one file is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig(c, true)
	if err != nil {
		return err
	}
	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	p, closeProvider, err := newProvider(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeProvider()

	ff := media.NewFFmpeg(cfg.Media.FFmpegPath, cfg.Media.FFprobePath)
	src := transport.NewFileSource()
	recorder := metrics.NewRecorder(0.01)
	dispatcher := pipeline.NewDispatcher(store, pipeline.Deps{
		Downloader:  src,
		Transcoder:  ff,
		Frames:      ff,
		OCR:         newOCR(cfg, p),
		Transcriber: p,
		Describer:   p,
		Classifier:  classifier.New(p),
		PDF:         extract.NewPDFText(),
	},
		pipeline.WithWorkDir(cfg.Media.WorkDir),
		pipeline.WithSegmentSeconds(cfg.Media.SegmentSeconds),
		pipeline.WithFrameInterval(cfg.Media.FrameIntervalSeconds),
		pipeline.WithMetrics(recorder),
	)

	outcomes := runAll(ctx, cfg.System.Concurrency, files, func(ctx context.Context, path string) (pipeline.Result, error) {
		msg, err := src.Message(path)
		if err != nil {
			return pipeline.Result{}, pipeline.WrapError(err, pipeline.ErrNoMedia, "open file")
		}
		result, err := dispatcher.Process(ctx, msg)
		if err != nil {
			return pipeline.Result{}, err
		}
		if c.Bool("commit") {
			dispatcher.Commit(ctx, result)
		}
		return result, nil
	})

	failed := 0
	out := c.App.Writer
	for i, o := range outcomes {
		fmt.Fprintf(out, "==> %s\n", files[i])
		if o.err != nil {
			failed++
			log.Error("Failed to analyze %s: %v", files[i], o.err)
			fmt.Fprintln(out, pipeline.UserMessage(o.err))
			continue
		}
		fmt.Fprintln(out, o.result.Summary)
	}

	if c.Bool("stats") {
		fmt.Fprint(out, recorder.Report())
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d files failed", failed, len(files))
	}
	return nil
}

type outcome struct {
	result pipeline.Result
	err    error
}

// runAll processes files on a bounded pool and returns outcomes in input
// order.
func runAll(ctx context.Context, size int, files []string, fn func(context.Context, string) (pipeline.Result, error)) []outcome {
	outcomes := make([]outcome, len(files))

	pool, err := ants.NewPool(max(1, size))
	if err != nil {
		for i := range outcomes {
			outcomes[i].err = err
		}
		return outcomes
	}
	defer pool.Release()

	var wg sync.WaitGroup
	for i, path := range files {
		wg.Add(1)
		err := pool.Submit(func() {
			defer wg.Done()
			outcomes[i].result, outcomes[i].err = fn(ctx, path)
		})
		if err != nil {
			wg.Done()
			outcomes[i].err = err
		}
	}
	wg.Wait()
	return outcomes
}

func withStore(c *cli.Context, fn func(ctx context.Context, cfg *config.Config, store *artifact.Store) error) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig(c, false)
	if err != nil {
		return err
	}
	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()
	return fn(ctx, cfg, store)
}

func newJanitor(cfg *config.Config, store *artifact.Store, cr *cron.Cron) *service.Janitor {
	return service.NewJanitor(store, cr, cfg.Cache.SweepCron,
		service.WithWorkDir(cfg.Media.WorkDir, artifact.DefaultTTL))
}

func sweepCommand(c *cli.Context) error {
	return withStore(c, func(ctx context.Context, cfg *config.Config, store *artifact.Store) error {
		report := newJanitor(cfg, store, cron.New()).Sweep(ctx)
		fmt.Fprintf(c.App.Writer, "removed %d expired entries, %d work dirs\n", report.ExpiredEntries, report.RemovedDirs)
		return nil
	})
}

func clearCommand(c *cli.Context) error {
	return withStore(c, func(ctx context.Context, cfg *config.Config, store *artifact.Store) error {
		n := store.Stats().Entries
		store.Clear(ctx)
		fmt.Fprintf(c.App.Writer, "cleared %d entries\n", n)
		return nil
	})
}

func statsCommand(c *cli.Context) error {
	return withStore(c, func(ctx context.Context, cfg *config.Config, store *artifact.Store) error {
		printStats(c.App.Writer, store.Stats())
		return nil
	})
}

func printStats(w io.Writer, st artifact.Stats) {
	fmt.Fprintf(w, "entries: %d (expired: %d)\nmetadata: %d\n", st.Entries, st.Expired, st.Metadata)
	for _, k := range artifact.Kinds() {
		fmt.Fprintf(w, "  %-11s %d\n", k, st.ByKind[k])
	}
}

func janitorCommand(c *cli.Context) error {
	return withStore(c, func(ctx context.Context, cfg *config.Config, store *artifact.Store) error {
		cr := cron.New()
		if err := newJanitor(cfg, store, cr).Schedule(ctx); err != nil {
			return err
		}
		cr.Start()
		<-ctx.Done()
		log.Info("Stopping janitor")
		<-cr.Stop().Done()
		return nil
	})
}

func settingsShowCommand(c *cli.Context) error {
	cfg, err := loadConfig(c, false)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(c.App.Writer)
	enc.SetIndent("", "  ")
	return enc.Encode(cfg.RuntimeSettings())
}

func settingsInitCommand(c *cli.Context) error {
	cfg, err := loadConfig(c, false)
	if err != nil {
		return err
	}
	path := config.RuntimeSettingsFilePath()
	if err := config.WriteRuntimeSettingsFile(path, cfg.RuntimeSettings()); err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "wrote %s\n", path)
	return nil
}

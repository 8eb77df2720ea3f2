package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/MimeLyc/sairing/internal/artifact"
	"github.com/MimeLyc/sairing/pkg/log"
	"github.com/MimeLyc/sairing/pkg/metrics"
	"golang.org/x/sync/singleflight"
)

// Deps are the capabilities the Dispatcher drives. All are required except
// Downloader, which is only needed for messages without attached media.
type Deps struct {
	Downloader  Downloader
	Transcoder  Transcoder
	Frames      FrameExtractor
	OCR         OCR
	Transcriber Transcriber
	Describer   Describer
	Classifier  RelevanceClassifier
	PDF         TextExtractor
}

// Dispatcher turns a media-bearing message into analyzable text. Every
// expensive intermediate result is memoized in the artifact store, so
// retries of the same media skip work that already succeeded.
type Dispatcher struct {
	store *artifact.Store
	deps  Deps

	workDir        string
	segmentSeconds int
	frameInterval  int

	metrics *metrics.Recorder
	logger  *log.Logger
	videos  singleflight.Group
}

type Option func(*Dispatcher)

func WithWorkDir(dir string) Option {
	return func(d *Dispatcher) {
		if dir != "" {
			d.workDir = dir
		}
	}
}

func WithSegmentSeconds(seconds int) Option {
	return func(d *Dispatcher) {
		if seconds > 0 {
			d.segmentSeconds = seconds
		}
	}
}

// WithFrameInterval sets how many seconds of video one sampled frame covers.
func WithFrameInterval(seconds int) Option {
	return func(d *Dispatcher) {
		if seconds > 0 {
			d.frameInterval = seconds
		}
	}
}

func WithMetrics(m *metrics.Recorder) Option {
	return func(d *Dispatcher) {
		d.metrics = m
	}
}

func WithLogger(logger *log.Logger) Option {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

func NewDispatcher(store *artifact.Store, deps Deps, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		store:          store,
		deps:           deps,
		workDir:        "./assets",
		segmentSeconds: 60,
		frameInterval:  5,
		logger:         log.GetLogger().With("pipeline"),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Process runs the pipeline for one message. Unsupported media and broken
// PDFs produce a normal Result; adapter failures are returned as
// *PipelineError and leave nothing partial in the cache.
func (d *Dispatcher) Process(ctx context.Context, msg Message) (Result, error) {
	media, key, err := d.resolve(ctx, msg)
	if err != nil {
		d.logger.Error("Failed to resolve media for %s: %v", displayKey(key), err)
		return Result{}, err
	}

	var result Result
	switch m := media.(type) {
	case PDF:
		result = d.processPDF(ctx, m, key)
	case Image:
		result, err = d.processImage(ctx, m, key)
	case Video:
		result, err = d.processVideo(ctx, m, key)
	case Unsupported:
		d.logger.Info("Unsupported media type %q for %s", m.MimeType, displayKey(key))
		result = Result{Summary: MsgUnsupportedPrefix + m.MimeType, MediaKey: key}
	default:
		err = NewError(ErrUnknown, fmt.Sprintf("unexpected media %T", media))
	}
	if err != nil {
		d.logger.Error("Pipeline failed for %s: %v", displayKey(key), err)
		return Result{}, err
	}

	if strings.TrimSpace(result.Summary) == "" {
		result.Summary = MsgNoContent
	}
	return result, nil
}

// Commit stores the frame artifacts of a Result. Call it only after the
// downstream fact check built on the Result succeeded. Frame texts are stored
// whenever frames were read, empty or not, so a retry skips the frames.
func (d *Dispatcher) Commit(ctx context.Context, result Result) {
	if result.MediaKey == "" || len(result.FrameFiles) == 0 {
		return
	}
	d.store.Set(ctx, artifact.KindFrames.Key(result.MediaKey), artifact.PathsPayload(result.FrameFiles))
	d.store.Set(ctx, artifact.KindOCRResults.Key(result.MediaKey), artifact.TextPayload(result.FrameTexts))
	d.logger.Info("Committed frame artifacts for %s (%d frames)", result.MediaKey, len(result.FrameFiles))
}

// resolve finds the media for msg: attached media first, then the cache,
// then a fresh download which is cached right away.
func (d *Dispatcher) resolve(ctx context.Context, msg Message) (Media, string, error) {
	key := msg.MediaKey

	if msg.Attached != nil {
		if len(msg.Attached.Data) == 0 {
			return nil, key, NewError(ErrNoMedia, "attached media is empty").WithContext("media_key", key)
		}
		return NewMedia(msg.Attached.Mimetype, msg.Attached.Data), key, nil
	}

	if !msg.HasMedia {
		return nil, key, NewError(ErrNoMedia, "message has no media")
	}

	if key != "" {
		if media, ok := d.cachedMedia(ctx, key); ok {
			return media, key, nil
		}
	}

	if d.deps.Downloader == nil {
		return nil, key, NewError(ErrDownload, "no downloader configured")
	}
	var dl *Download
	err := d.metrics.Time("download", func() error {
		var err error
		dl, err = d.deps.Downloader.DownloadMedia(ctx, msg.Ref)
		return err
	})
	d.metrics.Incr("adapter.download")
	if err != nil {
		return nil, key, WrapError(err, ErrDownload, "download media").WithContext("ref", msg.Ref)
	}
	if dl == nil || len(dl.Data) == 0 {
		return nil, key, NewError(ErrNoMedia, "downloaded media is empty").WithContext("ref", msg.Ref)
	}

	media := NewMedia(dl.Mimetype, dl.Data)
	if _, unsupported := media.(Unsupported); !unsupported && key != "" {
		filename := dl.Filename
		if filename == "" {
			filename = msg.Filename
		}
		d.store.Set(ctx, artifact.KindRawMedia.Key(key), artifact.BytesPayload(dl.Data))
		d.store.SetMetadata(ctx, artifact.Metadata{
			MediaKey: key,
			Mimetype: media.Mimetype(),
			Filename: filename,
		})
		d.logger.Info("Cached raw media %s (%s, %d bytes)", key, media.Mimetype(), len(dl.Data))
	}
	return media, key, nil
}

func (d *Dispatcher) cachedMedia(ctx context.Context, key string) (Media, bool) {
	payload, ok := d.store.Get(ctx, artifact.KindRawMedia.Key(key))
	if !ok {
		return nil, false
	}
	data, ok := payload.AsBytes()
	if !ok || len(data) == 0 {
		return nil, false
	}
	meta, ok := d.store.GetMetadata(ctx, key)
	if !ok || meta.Mimetype == "" {
		return nil, false
	}
	d.hit(artifact.KindRawMedia, key)
	return NewMedia(meta.Mimetype, data), true
}

func (d *Dispatcher) processPDF(ctx context.Context, m PDF, key string) Result {
	var text string
	err := d.metrics.Time("pdf", func() error {
		return SafeExecute(func() error {
			var err error
			text, err = d.deps.PDF.ExtractText(ctx, m.Data)
			return err
		})
	})
	if err != nil {
		d.logger.Error("Failed to read PDF %s: %v", displayKey(key), err)
		return Result{Summary: MsgPDFFailed, MediaKey: key}
	}
	return Result{Summary: text, MediaKey: key}
}

// processImage runs OCR and description; both run even when the other
// returns nothing.
func (d *Dispatcher) processImage(ctx context.Context, m Image, key string) (Result, error) {
	text, err := d.ocr(ctx, m.Data)
	if err != nil {
		return Result{}, err.WithContext("media_key", key)
	}
	if err := checkCanceled(ctx, "describe"); err != nil {
		return Result{}, err
	}
	desc, err := d.describe(ctx, m.Data, m.MimeType)
	if err != nil {
		return Result{}, err.WithContext("media_key", key)
	}

	text, desc = strings.TrimSpace(text), strings.TrimSpace(desc)
	if text == "" && desc == "" {
		return Result{MediaKey: key}, nil
	}
	return Result{
		Summary:  imageDescriptionLabel + desc + "\n\n" + imageTextLabel + text,
		MediaKey: key,
	}, nil
}

func (d *Dispatcher) ocr(ctx context.Context, image []byte) (string, *PipelineError) {
	var text string
	err := d.metrics.Time("ocr", func() error {
		var err error
		text, err = d.deps.OCR.OCR(ctx, image)
		return err
	})
	d.metrics.Incr("adapter.ocr")
	if err != nil {
		return "", WrapError(err, ErrOCR, "ocr")
	}
	return text, nil
}

func (d *Dispatcher) describe(ctx context.Context, image []byte, mimeType string) (string, *PipelineError) {
	var text string
	err := d.metrics.Time("describe", func() error {
		var err error
		text, err = d.deps.Describer.DescribeImage(ctx, image, mimeType)
		return err
	})
	d.metrics.Incr("adapter.describe")
	if err != nil {
		return "", WrapError(err, ErrDescribe, "describe image")
	}
	return text, nil
}

func (d *Dispatcher) hit(kind artifact.Kind, key string) {
	d.metrics.Incr("cache_hit." + kind.String())
	d.logger.Info("Cache hit %s for %s", kind, key)
}

// checkCanceled reports a canceled context as an ErrCanceled error naming
// the stage that was about to start.
func checkCanceled(ctx context.Context, stage string) *PipelineError {
	if err := ctx.Err(); err != nil {
		return WrapError(err, ErrCanceled, "canceled before "+stage)
	}
	return nil
}

func displayKey(key string) string {
	if key == "" {
		return "<no key>"
	}
	return key
}

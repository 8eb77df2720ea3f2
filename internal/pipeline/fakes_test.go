package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/MimeLyc/sairing/internal/artifact"
	"github.com/MimeLyc/sairing/pkg/metrics"
)

// calls counts adapter invocations by name.
type calls struct {
	mu sync.Mutex
	n  map[string]int
}

func (c *calls) inc(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.n == nil {
		c.n = make(map[string]int)
	}
	c.n[name]++
}

func (c *calls) get(name string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n[name]
}

func (c *calls) total() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	sum := 0
	for _, v := range c.n {
		sum += v
	}
	return sum
}

func (c *calls) reset() {
	c.mu.Lock()
	c.n = nil
	c.mu.Unlock()
}

type fakeDownloader struct {
	calls *calls
	dl    *Download
	err   error
}

func (f *fakeDownloader) DownloadMedia(ctx context.Context, ref string) (*Download, error) {
	f.calls.inc("download")
	if f.err != nil {
		return nil, f.err
	}
	return f.dl, nil
}

// fakeTranscoder writes one segment file per entry of segments, each holding
// that entry as its audio bytes.
type fakeTranscoder struct {
	calls    *calls
	segments []string
	err      error
}

func (f *fakeTranscoder) ExtractAudio(ctx context.Context, videoPath, audioPath string) error {
	f.calls.inc("extract_audio")
	if f.err != nil {
		return f.err
	}
	if _, err := os.Stat(videoPath); err != nil {
		return err
	}
	return os.WriteFile(audioPath, []byte("audio"), 0o644)
}

func (f *fakeTranscoder) Segment(ctx context.Context, audioPath, outDir string, seconds int) ([]string, error) {
	f.calls.inc("segment")
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, err
	}
	var paths []string
	// Written in reverse so the dispatcher has to order them.
	for i := len(f.segments) - 1; i >= 0; i-- {
		p := filepath.Join(outDir, fmt.Sprintf("output_%03d.mp3", i))
		if err := os.WriteFile(p, []byte(f.segments[i]), 0o644); err != nil {
			return nil, err
		}
		paths = append(paths, p)
	}
	return paths, nil
}

type fakeFrames struct {
	calls    *calls
	duration float64
	lastN    int
	err      error
}

func (f *fakeFrames) ProbeDuration(ctx context.Context, path string) (float64, error) {
	f.calls.inc("probe")
	if f.err != nil {
		return 0, f.err
	}
	return f.duration, nil
}

func (f *fakeFrames) ExtractFrames(ctx context.Context, videoPath, outDir string, count int) ([]string, error) {
	f.calls.inc("extract_frames")
	f.lastN = count
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, err
	}
	var paths []string
	for i := 0; i < count; i++ {
		p := filepath.Join(outDir, fmt.Sprintf("frame_%03d.jpg", i))
		if err := os.WriteFile(p, []byte(fmt.Sprintf("f%d", i)), 0o644); err != nil {
			return nil, err
		}
		paths = append(paths, p)
	}
	return paths, nil
}

// fakeVision answers OCR and description from a per-image table; images not
// in the table get an empty answer.
type fakeVision struct {
	calls    *calls
	ocr      map[string]string
	describe map[string]string
	ocrErr   error
	descErr  error
}

func (f *fakeVision) OCR(ctx context.Context, image []byte) (string, error) {
	f.calls.inc("ocr")
	if f.ocrErr != nil {
		return "", f.ocrErr
	}
	return f.ocr[string(image)], nil
}

func (f *fakeVision) DescribeImage(ctx context.Context, image []byte, mimeType string) (string, error) {
	f.calls.inc("describe")
	if f.descErr != nil {
		return "", f.descErr
	}
	return f.describe[string(image)], nil
}

// fakeTranscriber returns the segment's audio bytes as its transcript.
type fakeTranscriber struct {
	calls *calls
	err   error
	// cancel, when set, is called after every transcription.
	cancel context.CancelFunc
	// gate, when set, holds the first transcription until it is closed.
	// started is closed once that transcription is waiting.
	gate    chan struct{}
	started chan struct{}
	once    sync.Once
}

func (f *fakeTranscriber) Transcribe(ctx context.Context, audio []byte, filename string) (string, error) {
	f.calls.inc("transcribe")
	if f.err != nil {
		return "", f.err
	}
	if f.gate != nil {
		first := false
		f.once.Do(func() { first = true })
		if first {
			close(f.started)
			<-f.gate
		}
	}
	if f.cancel != nil {
		f.cancel()
	}
	return string(audio), nil
}

type fakeClassifier struct {
	calls  *calls
	answer string
	err    error
}

func (f *fakeClassifier) Ask(ctx context.Context, text string) (string, error) {
	f.calls.inc("classify")
	if f.err != nil {
		return "", f.err
	}
	return f.answer, nil
}

type fakePDF struct {
	calls *calls
	text  string
	err   error
	panic bool
}

func (f *fakePDF) ExtractText(ctx context.Context, doc []byte) (string, error) {
	f.calls.inc("pdf")
	if f.panic {
		panic("malformed xref")
	}
	return f.text, f.err
}

type harness struct {
	calls       *calls
	store       *artifact.Store
	downloader  *fakeDownloader
	transcoder  *fakeTranscoder
	frames      *fakeFrames
	vision      *fakeVision
	transcriber *fakeTranscriber
	classifier  *fakeClassifier
	pdf         *fakePDF
	metrics     *metrics.Recorder
	dispatcher  *Dispatcher
	workDir     string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	c := &calls{}
	h := &harness{
		calls:       c,
		store:       artifact.NewMemoryStore(),
		downloader:  &fakeDownloader{calls: c},
		transcoder:  &fakeTranscoder{calls: c, segments: []string{"A", "B", "C"}},
		frames:      &fakeFrames{calls: c, duration: 12},
		vision:      &fakeVision{calls: c, ocr: map[string]string{}, describe: map[string]string{}},
		transcriber: &fakeTranscriber{calls: c},
		classifier:  &fakeClassifier{calls: c, answer: "YES"},
		pdf:         &fakePDF{calls: c},
		metrics:     metrics.NewRecorder(0.01),
		workDir:     t.TempDir(),
	}
	h.dispatcher = NewDispatcher(h.store, Deps{
		Downloader:  h.downloader,
		Transcoder:  h.transcoder,
		Frames:      h.frames,
		OCR:         h.vision,
		Transcriber: h.transcriber,
		Describer:   h.vision,
		Classifier:  h.classifier,
		PDF:         h.pdf,
	}, WithWorkDir(h.workDir), WithFrameInterval(5), WithMetrics(h.metrics))
	return h
}

func (h *harness) serve(mimetype string, data []byte) {
	h.downloader.dl = &Download{Mimetype: mimetype, Data: data, Filename: "media"}
}

func mediaMessage(key string) Message {
	return Message{Ref: "msg-" + key, HasMedia: true, MediaKey: key}
}

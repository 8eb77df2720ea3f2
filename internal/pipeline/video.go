package pipeline

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/MimeLyc/sairing/internal/artifact"
	"github.com/MimeLyc/sairing/internal/classifier"
	"github.com/MimeLyc/sairing/pkg/file"
	"github.com/abadojack/whatlanggo"
	"github.com/google/uuid"
	"golang.org/x/text/language"
)

// MetaTranscriptLanguage is the metadata Extra key holding the detected
// transcript language as a BCP-47 tag.
const MetaTranscriptLanguage = "transcript_language"

const minLanguageConfidence = 0.5

// videoRun is the per-invocation state of the video sub-pipeline.
type videoRun struct {
	video   Video
	key     string
	workDir string

	videoPath string
}

// processVideo runs the video sub-pipeline. Concurrent runs for the same
// media key share one execution so they never race on its work directory.
// The shared execution runs under the context of the caller that started it;
// a joined caller whose own context is still live runs again when that
// execution is canceled, picking up whatever stages were already cached.
func (d *Dispatcher) processVideo(ctx context.Context, v Video, key string) (Result, error) {
	if key == "" {
		return d.runVideo(ctx, v, key)
	}

	for {
		res, err, shared := d.videos.Do(key, func() (interface{}, error) {
			return d.runVideo(ctx, v, key)
		})
		if err != nil {
			if shared && IsErrorType(err, ErrCanceled) && ctx.Err() == nil {
				d.logger.Warn("In-flight video run for %s was canceled by its owner, running again", key)
				continue
			}
			return Result{}, err
		}
		result := res.(Result)
		if shared {
			d.logger.Debug("Joined in-flight video run for %s", key)
			result.FrameFiles = append([]string(nil), result.FrameFiles...)
		}
		return result, nil
	}
}

func (d *Dispatcher) runVideo(ctx context.Context, v Video, key string) (Result, error) {
	run := &videoRun{
		video:   v,
		key:     key,
		workDir: filepath.Join(d.workDir, file.SafeName(key, uuid.NewString())),
	}
	d.logger.Info("Processing video %s", displayKey(key))

	transcript, err := d.transcript(ctx, run)
	if err != nil {
		return Result{}, err
	}

	if err := checkCanceled(ctx, "classify"); err != nil {
		return Result{}, err
	}
	answer, err := d.relevance(ctx, run, transcript)
	if err != nil {
		return Result{}, err
	}

	result := Result{Summary: transcript, MediaKey: key}
	if classifier.Decide(answer) == classifier.Relevant {
		d.logger.Info("Video %s classified as relevant, using transcript", displayKey(key))
		return result, nil
	}

	d.logger.Info("Video %s classified as not relevant, reading frames", displayKey(key))
	if err := checkCanceled(ctx, "frames"); err != nil {
		return Result{}, err
	}
	frames, texts, err := d.frameFallback(ctx, run)
	if err != nil {
		return Result{}, err
	}
	result.FrameFiles = frames
	result.FrameTexts = texts
	if strings.TrimSpace(texts) != "" {
		result.Summary = texts
	}
	return result, nil
}

// transcript returns the joined transcription of the audio segments,
// memoized under KindTranscript.
func (d *Dispatcher) transcript(ctx context.Context, run *videoRun) (string, error) {
	if text, ok := d.cachedText(ctx, artifact.KindTranscript, run.key); ok {
		return text, nil
	}

	segments, err := d.segments(ctx, run)
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	for i, seg := range segments {
		if err := checkCanceled(ctx, "transcribe"); err != nil {
			return "", err
		}
		audio, err := os.ReadFile(seg)
		if err != nil {
			return "", WrapError(err, ErrTranscribe, "read segment").WithContext("segment", seg)
		}

		var text string
		err = d.metrics.Time("transcribe", func() error {
			var err error
			text, err = d.deps.Transcriber.Transcribe(ctx, audio, filepath.Base(seg))
			return err
		})
		d.metrics.Incr("adapter.transcribe")
		if err != nil {
			return "", WrapError(err, ErrTranscribe, "transcribe segment").
				WithContext("segment", i).
				WithContext("media_key", run.key)
		}
		sb.WriteString(text)
		sb.WriteString(transcriptSeparator)
	}

	transcript := sb.String()
	if run.key != "" && len(segments) > 0 {
		d.store.Set(ctx, artifact.KindTranscript.Key(run.key), artifact.TextPayload(transcript))
		d.recordLanguage(ctx, run.key, transcript)
	}
	d.logger.Info("Transcribed %d segments for %s", len(segments), displayKey(run.key))
	return transcript, nil
}

// segments returns the ordered audio segment paths, memoized under
// KindSegments. Cached paths are reused as long as the files still exist.
func (d *Dispatcher) segments(ctx context.Context, run *videoRun) ([]string, error) {
	if run.key != "" {
		if payload, ok := d.store.Get(ctx, artifact.KindSegments.Key(run.key)); ok {
			if paths, ok := payload.AsPaths(); ok && allExist(paths) {
				d.hit(artifact.KindSegments, run.key)
				return paths, nil
			}
			d.logger.Warn("Cached segments for %s are gone from disk, transcoding again", run.key)
		}
	}

	if err := checkCanceled(ctx, "transcode"); err != nil {
		return nil, err
	}
	videoPath, err := d.writeVideo(run)
	if err != nil {
		return nil, err
	}

	audioPath := file.ReplaceExt(videoPath, ".mp3")
	segDir := filepath.Join(run.workDir, "segments")

	var segments []string
	err = d.metrics.Time("transcode", func() error {
		if err := d.deps.Transcoder.ExtractAudio(ctx, videoPath, audioPath); err != nil {
			return err
		}
		var err error
		segments, err = d.deps.Transcoder.Segment(ctx, audioPath, segDir, d.segmentSeconds)
		return err
	})
	d.metrics.Incr("adapter.transcode")
	if err != nil {
		return nil, WrapError(err, ErrTranscode, "transcode video").WithContext("media_key", run.key)
	}

	segments = append([]string(nil), segments...)
	sort.Strings(segments)
	if run.key != "" && len(segments) > 0 {
		d.store.Set(ctx, artifact.KindSegments.Key(run.key), artifact.PathsPayload(segments))
	}
	return segments, nil
}

// relevance returns the raw classifier answer, memoized under KindRelevance.
func (d *Dispatcher) relevance(ctx context.Context, run *videoRun, transcript string) (string, error) {
	if answer, ok := d.cachedText(ctx, artifact.KindRelevance, run.key); ok {
		return answer, nil
	}

	var answer string
	err := d.metrics.Time("classify", func() error {
		var err error
		answer, err = d.deps.Classifier.Ask(ctx, transcript)
		return err
	})
	d.metrics.Incr("adapter.classify")
	if err != nil {
		return "", WrapError(err, ErrClassify, "classify transcript").WithContext("media_key", run.key)
	}

	if run.key != "" {
		d.store.Set(ctx, artifact.KindRelevance.Key(run.key), artifact.TextPayload(answer))
	}
	return answer, nil
}

// frameFallback reads the video through sampled frames. Neither frames nor
// texts are cached here; see Dispatcher.Commit.
func (d *Dispatcher) frameFallback(ctx context.Context, run *videoRun) ([]string, string, error) {
	var cachedFrames []string
	if run.key != "" {
		if payload, ok := d.store.Get(ctx, artifact.KindFrames.Key(run.key)); ok {
			if paths, ok := payload.AsPaths(); ok {
				cachedFrames = paths
				d.hit(artifact.KindFrames, run.key)
			}
		}
	}

	if texts, ok := d.cachedText(ctx, artifact.KindOCRResults, run.key); ok {
		return cachedFrames, texts, nil
	}

	frames := cachedFrames
	if frames == nil || !allExist(frames) {
		var err error
		frames, err = d.extractFrames(ctx, run)
		if err != nil {
			return nil, "", err
		}
	}

	var parts []string
	for i, frame := range frames {
		if err := checkCanceled(ctx, "frame ocr"); err != nil {
			return nil, "", err
		}
		image, err := os.ReadFile(frame)
		if err != nil {
			return nil, "", WrapError(err, ErrFrames, "read frame").WithContext("frame", frame)
		}

		text, perr := d.ocr(ctx, image)
		if perr != nil {
			return nil, "", perr.WithContext("frame", i).WithContext("media_key", run.key)
		}
		desc, perr := d.describe(ctx, image, "image/jpeg")
		if perr != nil {
			return nil, "", perr.WithContext("frame", i).WithContext("media_key", run.key)
		}

		for _, s := range []string{text, desc} {
			if s = strings.TrimSpace(s); s != "" {
				parts = append(parts, s)
			}
		}
	}

	d.logger.Info("Read %d frames for %s", len(frames), displayKey(run.key))
	return frames, strings.Join(parts, FrameDelimiter), nil
}

func (d *Dispatcher) extractFrames(ctx context.Context, run *videoRun) ([]string, error) {
	videoPath, err := d.writeVideo(run)
	if err != nil {
		return nil, err
	}

	var frames []string
	err = d.metrics.Time("frames", func() error {
		duration, err := d.deps.Frames.ProbeDuration(ctx, videoPath)
		if err != nil {
			return err
		}
		count := FrameCount(duration, d.frameInterval)
		d.logger.Debug("Video %s lasts %.1fs, sampling %d frames", displayKey(run.key), duration, count)
		frames, err = d.deps.Frames.ExtractFrames(ctx, videoPath, filepath.Join(run.workDir, "frames"), count)
		return err
	})
	d.metrics.Incr("adapter.frames")
	if err != nil {
		return nil, WrapError(err, ErrFrames, "extract frames").WithContext("media_key", run.key)
	}
	return frames, nil
}

// FrameCount is one frame per interval seconds, at least one.
func FrameCount(duration float64, interval int) int {
	if interval <= 0 || duration <= 0 || math.IsNaN(duration) || math.IsInf(duration, 0) {
		return 1
	}
	return max(1, int(math.Floor(duration/float64(interval))))
}

// writeVideo puts the raw video into the run's work directory once.
func (d *Dispatcher) writeVideo(run *videoRun) (string, error) {
	if run.videoPath != "" {
		return run.videoPath, nil
	}
	if err := os.MkdirAll(run.workDir, 0o755); err != nil {
		return "", WrapError(err, ErrStorage, "create work dir").WithContext("dir", run.workDir)
	}
	path := filepath.Join(run.workDir, "input"+videoExt(run.video.MimeType))
	if err := os.WriteFile(path, run.video.Data, 0o644); err != nil {
		return "", WrapError(err, ErrStorage, "write video").WithContext("path", path)
	}
	run.videoPath = path
	return path, nil
}

func (d *Dispatcher) cachedText(ctx context.Context, kind artifact.Kind, key string) (string, bool) {
	if key == "" {
		return "", false
	}
	payload, ok := d.store.Get(ctx, kind.Key(key))
	if !ok {
		return "", false
	}
	text, ok := payload.AsText()
	if ok {
		d.hit(kind, key)
	}
	return text, ok
}

// recordLanguage notes the detected transcript language in the media's
// metadata.
func (d *Dispatcher) recordLanguage(ctx context.Context, key, transcript string) {
	meta, ok := d.store.GetMetadata(ctx, key)
	if !ok {
		return
	}
	tag, ok := DetectLanguage(transcript)
	if !ok {
		return
	}
	if meta.Extra == nil {
		meta.Extra = make(map[string]string)
	}
	meta.Extra[MetaTranscriptLanguage] = tag.String()
	d.store.SetMetadata(ctx, meta)
}

// DetectLanguage guesses the language of text. ok is false when the guess is
// unreliable.
func DetectLanguage(text string) (language.Tag, bool) {
	if strings.TrimSpace(text) == "" {
		return language.Und, false
	}
	info := whatlanggo.Detect(text)
	if info.Confidence < minLanguageConfidence {
		return language.Und, false
	}
	base, err := language.ParseBase(info.Lang.Iso6393())
	if err != nil {
		return language.Und, false
	}
	tag, err := language.Compose(base)
	if err != nil {
		return language.Und, false
	}
	return tag, true
}

func allExist(paths []string) bool {
	for _, p := range paths {
		if _, err := os.Stat(p); errors.Is(err, os.ErrNotExist) {
			return false
		}
	}
	return true
}

package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/MimeLyc/sairing/internal/artifact"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/language"
)

func cachedText(t *testing.T, s *artifact.Store, kind artifact.Kind, key string) (string, bool) {
	t.Helper()
	p, ok := s.Get(context.Background(), kind.Key(key))
	if !ok {
		return "", false
	}
	text, ok := p.AsText()
	require.True(t, ok, "payload of %s is %s", kind.Key(key), p)
	return text, true
}

func TestVideoRelevantUsesTranscript(t *testing.T) {
	h := newHarness(t)
	h.serve("video/mp4", []byte("video"))

	result, err := h.dispatcher.Process(context.Background(), mediaMessage("v1"))
	require.NoError(t, err)

	assert.Equal(t, "A\n\nB\n\nC\n\n", result.Summary)
	assert.Empty(t, result.FrameFiles)
	assert.Empty(t, result.FrameTexts)
	assert.Equal(t, 0, h.calls.get("probe"))

	transcript, ok := cachedText(t, h.store, artifact.KindTranscript, "v1")
	require.True(t, ok)
	assert.Equal(t, "A\n\nB\n\nC\n\n", transcript)

	answer, ok := cachedText(t, h.store, artifact.KindRelevance, "v1")
	require.True(t, ok)
	assert.Equal(t, "YES", answer)

	segs, ok := h.store.Get(context.Background(), artifact.KindSegments.Key("v1"))
	require.True(t, ok)
	paths, _ := segs.AsPaths()
	require.Len(t, paths, 3)
	assert.Contains(t, paths[0], "output_000.mp3")
	assert.Contains(t, paths[2], "output_002.mp3")
}

func TestVideoIrrelevantReadsFrames(t *testing.T) {
	h := newHarness(t)
	h.serve("video/mp4", []byte("video"))
	h.classifier.answer = " NO\n"
	h.vision.ocr["f0"] = "VAKSIN BERBAHAYA"
	h.vision.describe["f0"] = "Seorang pria berbicara"
	h.vision.describe["f1"] = "Logo stasiun TV"

	result, err := h.dispatcher.Process(context.Background(), mediaMessage("v1"))
	require.NoError(t, err)

	// 12s at one frame per 5s.
	assert.Equal(t, 2, h.frames.lastN)
	assert.Len(t, result.FrameFiles, 2)
	want := "VAKSIN BERBAHAYA" + FrameDelimiter + "Seorang pria berbicara" + FrameDelimiter + "Logo stasiun TV"
	assert.Equal(t, want, result.FrameTexts)
	assert.Equal(t, want, result.Summary)

	// Frame artifacts wait for Commit.
	_, ok := h.store.Get(context.Background(), artifact.KindFrames.Key("v1"))
	assert.False(t, ok)
	_, ok = h.store.Get(context.Background(), artifact.KindOCRResults.Key("v1"))
	assert.False(t, ok)
}

func TestVideoOnlyExactNoTriggersFrames(t *testing.T) {
	for _, answer := range []string{"no", "", "YES", "NO, because", "Tidak"} {
		t.Run(answer, func(t *testing.T) {
			h := newHarness(t)
			h.serve("video/mp4", []byte("video"))
			h.classifier.answer = answer

			result, err := h.dispatcher.Process(context.Background(), mediaMessage("v1"))
			require.NoError(t, err)
			assert.Equal(t, "A\n\nB\n\nC\n\n", result.Summary)
			assert.Equal(t, 0, h.calls.get("extract_frames"))
		})
	}
}

func TestVideoFramesWithoutTextFallBackToTranscript(t *testing.T) {
	h := newHarness(t)
	h.serve("video/mp4", []byte("video"))
	h.classifier.answer = "NO"

	result, err := h.dispatcher.Process(context.Background(), mediaMessage("v1"))
	require.NoError(t, err)

	assert.Equal(t, "A\n\nB\n\nC\n\n", result.Summary)
	assert.Len(t, result.FrameFiles, 2)
	assert.Empty(t, result.FrameTexts)
}

func TestVideoShortClipSamplesOneFrame(t *testing.T) {
	h := newHarness(t)
	h.serve("video/quicktime", []byte("video"))
	h.classifier.answer = "NO"
	h.frames.duration = 3

	_, err := h.dispatcher.Process(context.Background(), mediaMessage("v1"))
	require.NoError(t, err)
	assert.Equal(t, 1, h.frames.lastN)
}

func TestVideoIsIdempotentOnWarmCache(t *testing.T) {
	for _, answer := range []string{"YES", "NO"} {
		t.Run(answer, func(t *testing.T) {
			h := newHarness(t)
			h.serve("video/mp4", []byte("video"))
			h.classifier.answer = answer
			h.vision.ocr["f0"] = "teks"

			ctx := context.Background()
			first, err := h.dispatcher.Process(ctx, mediaMessage("v1"))
			require.NoError(t, err)
			h.dispatcher.Commit(ctx, first)

			h.calls.reset()
			second, err := h.dispatcher.Process(ctx, mediaMessage("v1"))
			require.NoError(t, err)

			assert.Equal(t, first, second)
			assert.Equal(t, 0, h.calls.total())
		})
	}
}

func TestVideoWithBlankFramesIsIdempotentAfterCommit(t *testing.T) {
	h := newHarness(t)
	h.serve("video/mp4", []byte("video"))
	h.classifier.answer = "NO"

	ctx := context.Background()
	first, err := h.dispatcher.Process(ctx, mediaMessage("v1"))
	require.NoError(t, err)
	require.Empty(t, first.FrameTexts)
	require.NotEmpty(t, first.FrameFiles)
	assert.Equal(t, "A\n\nB\n\nC\n\n", first.Summary)
	h.dispatcher.Commit(ctx, first)

	h.calls.reset()
	second, err := h.dispatcher.Process(ctx, mediaMessage("v1"))
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 0, h.calls.get("ocr"))
	assert.Equal(t, 0, h.calls.get("describe"))
	assert.Equal(t, 0, h.calls.total())
}

func TestVideoKeysWithSimilarNamesKeepSeparateWorkDirs(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.serve("video/mp4", []byte("first"))
	_, err := h.dispatcher.Process(ctx, mediaMessage("ab+cd="))
	require.NoError(t, err)

	h.serve("video/mp4", []byte("second"))
	h.transcoder.segments = []string{"X"}
	_, err = h.dispatcher.Process(ctx, mediaMessage("ab/cd="))
	require.NoError(t, err)

	payload, ok := h.store.Get(ctx, artifact.KindSegments.Key("ab+cd="))
	require.True(t, ok)
	paths, ok := payload.AsPaths()
	require.True(t, ok)
	require.Len(t, paths, 3)
	for i, want := range []string{"A", "B", "C"} {
		got, err := os.ReadFile(paths[i])
		require.NoError(t, err)
		assert.Equal(t, want, string(got))
	}

	other, ok := h.store.Get(ctx, artifact.KindSegments.Key("ab/cd="))
	require.True(t, ok)
	otherPaths, _ := other.AsPaths()
	require.Len(t, otherPaths, 1)
	assert.NotEqual(t, filepath.Dir(paths[0]), filepath.Dir(otherPaths[0]))
}

func TestVideoCachedTranscriptSkipsTranscoding(t *testing.T) {
	h := newHarness(t)
	h.serve("video/mp4", []byte("video"))
	h.store.Set(context.Background(), artifact.KindTranscript.Key("v1"), artifact.TextPayload("cached\n\n"))

	result, err := h.dispatcher.Process(context.Background(), mediaMessage("v1"))
	require.NoError(t, err)

	assert.Equal(t, "cached\n\n", result.Summary)
	assert.Equal(t, 0, h.calls.get("extract_audio"))
	assert.Equal(t, 0, h.calls.get("transcribe"))
	assert.Equal(t, 1, h.calls.get("classify"))
}

func TestVideoCachedSegmentsAreReused(t *testing.T) {
	h := newHarness(t)
	h.serve("video/mp4", []byte("video"))
	ctx := context.Background()

	dir := t.TempDir()
	seg := dir + "/output_000.mp3"
	require.NoError(t, os.WriteFile(seg, []byte("Z"), 0o644))
	h.store.Set(ctx, artifact.KindSegments.Key("v1"), artifact.PathsPayload([]string{seg}))

	result, err := h.dispatcher.Process(ctx, mediaMessage("v1"))
	require.NoError(t, err)

	assert.Equal(t, "Z\n\n", result.Summary)
	assert.Equal(t, 0, h.calls.get("extract_audio"))
	assert.Equal(t, 1, h.calls.get("transcribe"))
}

func TestVideoMissingSegmentFilesAreRecomputed(t *testing.T) {
	h := newHarness(t)
	h.serve("video/mp4", []byte("video"))
	ctx := context.Background()
	h.store.Set(ctx, artifact.KindSegments.Key("v1"), artifact.PathsPayload([]string{"/nonexistent/output_000.mp3"}))

	result, err := h.dispatcher.Process(ctx, mediaMessage("v1"))
	require.NoError(t, err)

	assert.Equal(t, "A\n\nB\n\nC\n\n", result.Summary)
	assert.Equal(t, 1, h.calls.get("extract_audio"))
}

func TestVideoWithoutSegmentsCachesNoTranscript(t *testing.T) {
	h := newHarness(t)
	h.serve("video/mp4", []byte("silent"))
	h.transcoder.segments = nil

	result, err := h.dispatcher.Process(context.Background(), mediaMessage("v1"))
	require.NoError(t, err)

	assert.Equal(t, MsgNoContent, result.Summary)
	_, ok := h.store.Get(context.Background(), artifact.KindSegments.Key("v1"))
	assert.False(t, ok)
	_, ok = h.store.Get(context.Background(), artifact.KindTranscript.Key("v1"))
	assert.False(t, ok)
}

func TestVideoStageFailures(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(h *harness)
		errType ErrorType
		cached  []artifact.Kind
		missing []artifact.Kind
	}{
		{
			name:    "transcode",
			setup:   func(h *harness) { h.transcoder.err = errors.New("ffmpeg exited 1") },
			errType: ErrTranscode,
			missing: []artifact.Kind{artifact.KindSegments, artifact.KindTranscript},
		},
		{
			name:    "transcribe",
			setup:   func(h *harness) { h.transcriber.err = errors.New("429") },
			errType: ErrTranscribe,
			cached:  []artifact.Kind{artifact.KindSegments},
			missing: []artifact.Kind{artifact.KindTranscript, artifact.KindRelevance},
		},
		{
			name:    "classify",
			setup:   func(h *harness) { h.classifier.err = errors.New("timeout") },
			errType: ErrClassify,
			cached:  []artifact.Kind{artifact.KindSegments, artifact.KindTranscript},
			missing: []artifact.Kind{artifact.KindRelevance},
		},
		{
			name: "frames",
			setup: func(h *harness) {
				h.classifier.answer = "NO"
				h.frames.err = errors.New("ffprobe missing")
			},
			errType: ErrFrames,
			cached:  []artifact.Kind{artifact.KindTranscript, artifact.KindRelevance},
			missing: []artifact.Kind{artifact.KindFrames, artifact.KindOCRResults},
		},
		{
			name: "describe",
			setup: func(h *harness) {
				h.classifier.answer = "NO"
				h.vision.descErr = errors.New("quota")
			},
			errType: ErrDescribe,
			cached:  []artifact.Kind{artifact.KindRelevance},
			missing: []artifact.Kind{artifact.KindFrames, artifact.KindOCRResults},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.serve("video/mp4", []byte("video"))
			tt.setup(h)

			_, err := h.dispatcher.Process(context.Background(), mediaMessage("v1"))
			require.Error(t, err)
			assert.True(t, IsErrorType(err, tt.errType), "got %v", err)

			for _, k := range tt.cached {
				_, ok := h.store.Get(context.Background(), k.Key("v1"))
				assert.True(t, ok, "%s should be cached", k)
			}
			for _, k := range tt.missing {
				_, ok := h.store.Get(context.Background(), k.Key("v1"))
				assert.False(t, ok, "%s should not be cached", k)
			}
		})
	}
}

func TestVideoCanceledMidTranscription(t *testing.T) {
	h := newHarness(t)
	h.serve("video/mp4", []byte("video"))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.transcriber.cancel = cancel

	_, err := h.dispatcher.Process(ctx, mediaMessage("v1"))
	require.Error(t, err)
	assert.True(t, IsErrorType(err, ErrCanceled))
	assert.Equal(t, 1, h.calls.get("transcribe"))

	_, ok := h.store.Get(context.Background(), artifact.KindTranscript.Key("v1"))
	assert.False(t, ok)
}

func TestVideoConcurrentRunsShareWork(t *testing.T) {
	h := newHarness(t)
	h.serve("video/mp4", []byte("video"))

	var wg sync.WaitGroup
	results := make([]Result, 4)
	errs := make([]error, 4)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = h.dispatcher.Process(context.Background(), mediaMessage("v1"))
		}(i)
	}
	wg.Wait()

	for i := range results {
		require.NoError(t, errs[i])
		assert.Equal(t, "A\n\nB\n\nC\n\n", results[i].Summary)
	}
	assert.Equal(t, 3, h.calls.get("transcribe"))
}

func TestVideoJoinedCallerSurvivesOwnerCancel(t *testing.T) {
	h := newHarness(t)
	h.serve("video/mp4", []byte("video"))
	h.transcriber.gate = make(chan struct{})
	h.transcriber.started = make(chan struct{})

	ownerCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.transcriber.cancel = cancel

	var ownerErr error
	ownerDone := make(chan struct{})
	go func() {
		defer close(ownerDone)
		_, ownerErr = h.dispatcher.Process(ownerCtx, mediaMessage("v1"))
	}()
	<-h.transcriber.started

	var joined Result
	var joinedErr error
	joinedDone := make(chan struct{})
	go func() {
		defer close(joinedDone)
		joined, joinedErr = h.dispatcher.Process(context.Background(), mediaMessage("v1"))
	}()

	// Give the second caller time to join the in-flight run.
	time.Sleep(50 * time.Millisecond)
	close(h.transcriber.gate)
	<-ownerDone
	<-joinedDone

	require.Error(t, ownerErr)
	assert.True(t, IsErrorType(ownerErr, ErrCanceled))

	require.NoError(t, joinedErr)
	assert.Equal(t, "A\n\nB\n\nC\n\n", joined.Summary)
	transcript, ok := cachedText(t, h.store, artifact.KindTranscript, "v1")
	require.True(t, ok)
	assert.Equal(t, "A\n\nB\n\nC\n\n", transcript)
}

func TestVideoRecordsTranscriptLanguage(t *testing.T) {
	h := newHarness(t)
	h.serve("video/mp4", []byte("video"))
	h.transcoder.segments = []string{
		"The government has announced that the new vaccine program will start next month in every province.",
		"Officials said the doses are safe and have been tested by independent laboratories around the world.",
	}

	_, err := h.dispatcher.Process(context.Background(), mediaMessage("v1"))
	require.NoError(t, err)

	meta, ok := h.store.GetMetadata(context.Background(), "v1")
	require.True(t, ok)
	assert.Equal(t, "video/mp4", meta.Mimetype)

	transcript := h.transcoder.segments[0] + "\n\n" + h.transcoder.segments[1] + "\n\n"
	if tag, ok := DetectLanguage(transcript); ok {
		assert.Equal(t, tag.String(), meta.Extra[MetaTranscriptLanguage])
		assert.Equal(t, "en", tag.String())
	} else {
		assert.NotContains(t, meta.Extra, MetaTranscriptLanguage)
	}
}

func TestDetectLanguage(t *testing.T) {
	_, ok := DetectLanguage("   ")
	assert.False(t, ok)

	tag, ok := DetectLanguage("Pemerintah mengumumkan bahwa program vaksinasi baru akan dimulai bulan depan di seluruh provinsi di Indonesia.")
	if ok {
		base, _ := tag.Base()
		assert.NotEqual(t, language.Und, tag)
		assert.NotEmpty(t, base.String())
	}
}

func TestFrameCount(t *testing.T) {
	tests := []struct {
		duration float64
		interval int
		want     int
	}{
		{12, 5, 2},
		{3, 5, 1},
		{0, 5, 1},
		{-1, 5, 1},
		{60, 5, 12},
		{61.9, 5, 12},
		{30, 0, 1},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, FrameCount(tt.duration, tt.interval), "duration=%v interval=%d", tt.duration, tt.interval)
	}
}

package media

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/MimeLyc/sairing/pkg/file"
	"github.com/MimeLyc/sairing/pkg/log"
	lru "github.com/hashicorp/golang-lru/v2"
)

const (
	SegmentPattern  = "output_*.mp3"
	segmentTemplate = "output_%03d.mp3"
	FramePattern    = "frame_*.jpg"
	frameTemplate   = "frame_%03d.jpg"

	audioBitrate      = "128k"
	durationCacheSize = 256
)

// FFmpeg runs the ffmpeg and ffprobe binaries for audio transcoding,
// segmentation and still-frame sampling.
type FFmpeg struct {
	ffmpegCmd  string
	ffprobeCmd string
	durations  *lru.Cache[string, float64]
	logger     *log.Logger
}

func NewFFmpeg(ffmpegCmd, ffprobeCmd string) *FFmpeg {
	if ffmpegCmd == "" {
		ffmpegCmd = "ffmpeg"
	}
	if ffprobeCmd == "" {
		ffprobeCmd = "ffprobe"
	}
	durations, _ := lru.New[string, float64](durationCacheSize)
	return &FFmpeg{
		ffmpegCmd:  ffmpegCmd,
		ffprobeCmd: ffprobeCmd,
		durations:  durations,
		logger:     log.GetLogger().With("ffmpeg"),
	}
}

// ExtractAudio drops the video stream and encodes the audio track as mp3.
func (ff *FFmpeg) ExtractAudio(ctx context.Context, videoPath, audioPath string) error {
	if err := os.MkdirAll(filepath.Dir(audioPath), 0o755); err != nil {
		return err
	}
	if _, err := ff.run(ctx, ff.ffmpegCmd, ff.extractAudioArgs(videoPath, audioPath)); err != nil {
		return fmt.Errorf("extract audio: %w", err)
	}
	return nil
}

// Segment splits audioPath into fixed-length mp3 files in outDir and returns
// them in lexicographic order, which is also playback order.
func (ff *FFmpeg) Segment(ctx context.Context, audioPath, outDir string, seconds int) ([]string, error) {
	if seconds <= 0 {
		return nil, fmt.Errorf("segment length must be positive, got %d", seconds)
	}
	if err := resetDir(outDir); err != nil {
		return nil, err
	}
	if _, err := ff.run(ctx, ff.ffmpegCmd, ff.segmentArgs(audioPath, outDir, seconds)); err != nil {
		return nil, fmt.Errorf("segment audio: %w", err)
	}

	segments, err := file.FindSorted(outDir, SegmentPattern)
	if err != nil {
		return nil, err
	}
	ff.logger.Debug("Split %s into %d segments", filepath.Base(audioPath), len(segments))
	return segments, nil
}

// ProbeDuration returns the container duration in seconds. Results are
// memoized per path, size and modification time.
func (ff *FFmpeg) ProbeDuration(ctx context.Context, path string) (float64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	memoKey := fmt.Sprintf("%s|%d|%d", path, info.Size(), info.ModTime().UnixNano())
	if d, ok := ff.durations.Get(memoKey); ok {
		return d, nil
	}

	output, err := ff.run(ctx, ff.ffprobeCmd, ff.probeDurationArgs(path))
	if err != nil {
		return 0, fmt.Errorf("probe duration: %w", err)
	}

	d, err := parseProbeDuration(output)
	if err != nil {
		return 0, err
	}
	ff.durations.Add(memoKey, d)
	return d, nil
}

// ExtractFrames writes count still frames of videoPath into outDir, sampled
// at the midpoints of count equal slices of the video. The returned paths
// are in time order.
func (ff *FFmpeg) ExtractFrames(ctx context.Context, videoPath, outDir string, count int) ([]string, error) {
	if count < 1 {
		count = 1
	}
	duration, err := ff.ProbeDuration(ctx, videoPath)
	if err != nil {
		return nil, err
	}
	if err := resetDir(outDir); err != nil {
		return nil, err
	}

	frames := make([]string, 0, count)
	for i, ts := range FrameTimestamps(duration, count) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out := filepath.Join(outDir, fmt.Sprintf(frameTemplate, i))
		if _, err := ff.run(ctx, ff.ffmpegCmd, ff.frameArgs(videoPath, out, ts)); err != nil {
			return nil, fmt.Errorf("extract frame %d at %.2fs: %w", i, ts, err)
		}
		frames = append(frames, out)
	}
	return frames, nil
}

// resetDir leaves dir empty so an earlier run's outputs are never picked up.
func resetDir(dir string) error {
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("clear %s: %w", dir, err)
	}
	return os.MkdirAll(dir, 0o755)
}

// FrameTimestamps spreads count sample points evenly over duration seconds.
func FrameTimestamps(duration float64, count int) []float64 {
	if count < 1 {
		count = 1
	}
	if duration < 0 {
		duration = 0
	}
	step := duration / float64(count)
	ts := make([]float64, count)
	for i := range ts {
		ts[i] = step*float64(i) + step/2
	}
	return ts
}

func (ff *FFmpeg) run(ctx context.Context, name string, args []string) ([]byte, error) {
	cmdPath, err := exec.LookPath(name)
	if err != nil {
		return nil, err
	}

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, cmdPath, args...)
	cmd.Stderr = &stderr

	output, err := cmd.Output()
	if err != nil {
		msg := strings.TrimSpace(stderr.String())
		if len(msg) > 512 {
			msg = msg[len(msg)-512:]
		}
		ff.logger.Error("%s failed: %v: %s", filepath.Base(name), err, msg)
		if msg != "" {
			return output, fmt.Errorf("%w: %s", err, msg)
		}
		return output, err
	}
	return output, nil
}

func parseProbeDuration(output []byte) (float64, error) {
	var probe struct {
		Format struct {
			Duration string `json:"duration"`
		} `json:"format"`
	}
	if err := json.Unmarshal(output, &probe); err != nil {
		return 0, fmt.Errorf("parse ffprobe output: %w", err)
	}
	if probe.Format.Duration == "" {
		return 0, fmt.Errorf("ffprobe reported no duration")
	}
	d, err := strconv.ParseFloat(probe.Format.Duration, 64)
	if err != nil {
		return 0, fmt.Errorf("parse duration %q: %w", probe.Format.Duration, err)
	}
	return d, nil
}

func (*FFmpeg) extractAudioArgs(videoPath, audioPath string) []string {
	return []string{
		"-y",
		"-i", videoPath,
		"-vn", // drop video
		"-acodec", "libmp3lame",
		"-b:a", audioBitrate,
		audioPath,
	}
}

func (*FFmpeg) segmentArgs(audioPath, outDir string, seconds int) []string {
	return []string{
		"-y",
		"-i", audioPath,
		"-f", "segment",
		"-segment_time", strconv.Itoa(seconds),
		"-reset_timestamps", "1",
		"-c", "copy",
		filepath.Join(outDir, segmentTemplate),
	}
}

func (*FFmpeg) probeDurationArgs(path string) []string {
	return []string{
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		path,
	}
}

func (*FFmpeg) frameArgs(videoPath, out string, ts float64) []string {
	return []string{
		"-y",
		"-ss", strconv.FormatFloat(ts, 'f', 3, 64),
		"-i", videoPath,
		"-frames:v", "1",
		"-q:v", "2",
		out,
	}
}

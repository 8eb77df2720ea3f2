package pipeline

import (
	"context"
	"strings"
)

// Fixed user-facing strings. They are returned as summaries, not errors.
const (
	MsgPDFFailed         = "❌ File PDF tidak ditemukan atau gagal diproses."
	MsgUnsupportedPrefix = "❌ Tipe media tidak didukung: "
	MsgNoContent         = "❌ Tidak ada konten yang dapat dianalisis dari media ini."
	MsgReadMediaFailed   = "❌ Gagal membaca media"
	MsgAnalysisFailed    = "Maaf, terjadi kesalahan saat menganalisis konten"

	imageDescriptionLabel = "Analisis Gambar: "
	imageTextLabel        = "Teks yang terdeteksi: "

	// FrameDelimiter separates per-frame texts in Result.FrameTexts.
	FrameDelimiter = "\n\n---\n\n"
	// transcriptSeparator follows every transcribed segment.
	transcriptSeparator = "\n\n"
)

// Download is media fetched from the chat transport.
type Download struct {
	Mimetype string
	Data     []byte
	Filename string
}

// Message is the media-bearing part of an incoming chat message.
//
// MediaKey is the transport's fingerprint of the media; when empty nothing
// is cached for this message. Attached carries media that was already
// downloaded earlier in the same turn and is used instead of Ref.
type Message struct {
	Ref      string
	HasMedia bool
	MediaKey string
	Filename string
	Attached *Download
}

// Result is the outcome of one pipeline run. Summary is never empty.
// FrameFiles is set only when the frame fallback ran, and FrameTexts may be
// empty even then. The caller passes the Result to Dispatcher.Commit once
// downstream work succeeded.
type Result struct {
	Summary    string
	FrameFiles []string
	FrameTexts string
	MediaKey   string
}

// Downloader fetches the media referenced by a message.
type Downloader interface {
	DownloadMedia(ctx context.Context, ref string) (*Download, error)
}

// Transcoder turns a video file into ordered audio segments.
type Transcoder interface {
	ExtractAudio(ctx context.Context, videoPath, audioPath string) error
	Segment(ctx context.Context, audioPath, outDir string, seconds int) ([]string, error)
}

// FrameExtractor samples still frames out of a video file.
type FrameExtractor interface {
	ProbeDuration(ctx context.Context, path string) (float64, error)
	ExtractFrames(ctx context.Context, videoPath, outDir string, count int) ([]string, error)
}

type OCR interface {
	OCR(ctx context.Context, image []byte) (string, error)
}

// OCRFunc adapts a function to OCR.
type OCRFunc func(ctx context.Context, image []byte) (string, error)

func (f OCRFunc) OCR(ctx context.Context, image []byte) (string, error) {
	return f(ctx, image)
}

type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, filename string) (string, error)
}

type Describer interface {
	DescribeImage(ctx context.Context, image []byte, mimeType string) (string, error)
}

// RelevanceClassifier returns the raw YES/NO answer for a transcript.
type RelevanceClassifier interface {
	Ask(ctx context.Context, text string) (string, error)
}

type TextExtractor interface {
	ExtractText(ctx context.Context, doc []byte) (string, error)
}

// Media is the routed form of a Download: one of Video, Image, PDF or
// Unsupported.
type Media interface {
	Mimetype() string
	isMedia()
}

type Video struct {
	Data     []byte
	MimeType string
}

type Image struct {
	Data     []byte
	MimeType string
}

type PDF struct {
	Data []byte
}

type Unsupported struct {
	MimeType string
}

func (v Video) Mimetype() string       { return v.MimeType }
func (i Image) Mimetype() string       { return i.MimeType }
func (PDF) Mimetype() string           { return "application/pdf" }
func (u Unsupported) Mimetype() string { return u.MimeType }

func (Video) isMedia()       {}
func (Image) isMedia()       {}
func (PDF) isMedia()         {}
func (Unsupported) isMedia() {}

// NewMedia routes a download by MIME type. Parameters such as
// "; charset=..." are ignored.
func NewMedia(mimetype string, data []byte) Media {
	mt := normalizeMimetype(mimetype)
	switch mt {
	case "video/mp4", "video/quicktime":
		return Video{Data: data, MimeType: mt}
	case "image/jpeg", "image/png":
		return Image{Data: data, MimeType: mt}
	case "application/pdf":
		return PDF{Data: data}
	default:
		return Unsupported{MimeType: mt}
	}
}

func normalizeMimetype(mimetype string) string {
	if i := strings.IndexByte(mimetype, ';'); i >= 0 {
		mimetype = mimetype[:i]
	}
	return strings.ToLower(strings.TrimSpace(mimetype))
}

func videoExt(mimetype string) string {
	if mimetype == "video/quicktime" {
		return ".mov"
	}
	return ".mp4"
}

package artifact

// Kind names one artifact derived from a media payload. Every cache key used
// by the pipeline is built through Kind.Key so suffixes cannot drift.
type Kind string

const (
	// KindRawMedia is the downloaded media itself, stored under the bare key.
	KindRawMedia Kind = ""
	// KindSegments holds the ordered audio segment paths of a video.
	KindSegments Kind = "_segments"
	// KindTranscript holds the joined segment transcription.
	KindTranscript Kind = "_transcript"
	// KindRelevance holds the raw classifier answer for the transcript.
	KindRelevance Kind = "_relevance"
	// KindFrames holds the ordered still-frame paths. Caller-committed.
	KindFrames Kind = "_frames"
	// KindOCRResults holds the joined per-frame text. Caller-committed.
	KindOCRResults Kind = "_ocr_results"
)

var allKinds = []Kind{KindRawMedia, KindSegments, KindTranscript, KindRelevance, KindFrames, KindOCRResults}

// Kinds lists every artifact kind, raw media first.
func Kinds() []Kind {
	out := make([]Kind, len(allKinds))
	copy(out, allKinds)
	return out
}

// Key returns the store key of this kind of artifact for mediaKey.
func (k Kind) Key(mediaKey string) string {
	return mediaKey + string(k)
}

func (k Kind) String() string {
	if k == KindRawMedia {
		return "raw"
	}
	return string(k[1:])
}

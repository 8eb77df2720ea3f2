// Package transport feeds local files into the pipeline as if they had
// arrived as chat media.
package transport

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/MimeLyc/sairing/internal/pipeline"
	"github.com/MimeLyc/sairing/pkg/log"
	"github.com/gabriel-vasile/mimetype"
)

// FileSource is a pipeline.Downloader over the local filesystem. A message
// ref is the file path and the media key is the SHA-256 of its content, so
// renamed copies of the same file share cache entries.
type FileSource struct {
	logger *log.Logger
}

func NewFileSource() *FileSource {
	return &FileSource{logger: log.GetLogger().With("transport")}
}

// Message builds the pipeline message for the file at path.
func (s *FileSource) Message(path string) (pipeline.Message, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return pipeline.Message{}, fmt.Errorf("resolve %s: %w", path, err)
	}
	key, err := Fingerprint(abs)
	if err != nil {
		return pipeline.Message{}, err
	}
	return pipeline.Message{
		Ref:      abs,
		HasMedia: true,
		MediaKey: key,
		Filename: filepath.Base(abs),
	}, nil
}

// DownloadMedia reads the file named by ref and sniffs its MIME type from
// the content.
func (s *FileSource) DownloadMedia(ctx context.Context, ref string) (*pipeline.Download, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(ref)
	if err != nil {
		return nil, fmt.Errorf("read media: %w", err)
	}
	mt := mimetype.Detect(data)
	s.logger.Debug("Read %s: %s, %d bytes", ref, mt.String(), len(data))
	return &pipeline.Download{
		Mimetype: mt.String(),
		Data:     data,
		Filename: filepath.Base(ref),
	}, nil
}

// Fingerprint returns the hex SHA-256 of the file content.
func Fingerprint(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open media: %w", err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hash media: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

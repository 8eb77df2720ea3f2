package extract

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/MimeLyc/sairing/pkg/log"
	"golang.org/x/text/language"
)

// Tesseract reads text out of images with the tesseract CLI. The image is
// streamed on stdin and the text read from stdout.
type Tesseract struct {
	cmd       string
	languages string
	logger    *log.Logger
}

// NewTesseract builds an OCR adapter for the given languages. Tags are
// mapped to tesseract's ISO 639-2 model names (id -> ind, en -> eng).
func NewTesseract(cmd string, langs []language.Tag) *Tesseract {
	if cmd == "" {
		cmd = "tesseract"
	}
	return &Tesseract{
		cmd:       cmd,
		languages: TesseractLanguages(langs),
		logger:    log.GetLogger().With("ocr"),
	}
}

// TesseractLanguages renders tags as a tesseract -l argument. Duplicates are
// dropped; an empty list means English.
func TesseractLanguages(langs []language.Tag) string {
	seen := make(map[string]bool)
	var codes []string
	for _, tag := range langs {
		base, _ := tag.Base()
		code := base.ISO3()
		if code == "" || code == "und" || seen[code] {
			continue
		}
		seen[code] = true
		codes = append(codes, code)
	}
	if len(codes) == 0 {
		return "eng"
	}
	return strings.Join(codes, "+")
}

func (t *Tesseract) Languages() string {
	return t.languages
}

func (t *Tesseract) OCR(ctx context.Context, image []byte) (string, error) {
	if len(image) == 0 {
		return "", fmt.Errorf("ocr: empty image")
	}
	cmdPath, err := exec.LookPath(t.cmd)
	if err != nil {
		return "", err
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, cmdPath, t.args()...)
	cmd.Stdin = bytes.NewReader(image)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		t.logger.Error("tesseract failed: %v: %s", err, strings.TrimSpace(stderr.String()))
		return "", fmt.Errorf("ocr: %w", err)
	}
	return strings.TrimSpace(stdout.String()), nil
}

func (t *Tesseract) args() []string {
	return []string{"stdin", "stdout", "-l", t.languages}
}

package extract

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/ledongthuc/pdf"
)

var ErrEmptyDocument = errors.New("pdf: empty document")

// PDFText extracts the plain text layer of a PDF document.
type PDFText struct{}

func NewPDFText() PDFText {
	return PDFText{}
}

// ExtractText returns the document text. Malformed input, which makes the
// parser panic on some files, is reported as an error.
func (PDFText) ExtractText(ctx context.Context, doc []byte) (text string, err error) {
	if len(doc) == 0 {
		return "", ErrEmptyDocument
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	defer func() {
		if r := recover(); r != nil {
			text, err = "", fmt.Errorf("pdf: parser panic: %v", r)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(doc), int64(len(doc)))
	if err != nil {
		return "", fmt.Errorf("pdf: open: %w", err)
	}
	plain, err := reader.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("pdf: read text: %w", err)
	}

	var buf strings.Builder
	if _, err := io.Copy(&buf, plain); err != nil {
		return "", fmt.Errorf("pdf: read text: %w", err)
	}
	return strings.TrimSpace(buf.String()), nil
}

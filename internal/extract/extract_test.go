package extract

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/language"
)

func TestTesseractLanguages(t *testing.T) {
	tests := []struct {
		name  string
		langs []language.Tag
		want  string
	}{
		{name: "indonesian and english", langs: []language.Tag{language.Indonesian, language.English}, want: "ind+eng"},
		{name: "regional variant", langs: []language.Tag{language.MustParse("en-US")}, want: "eng"},
		{name: "duplicates", langs: []language.Tag{language.English, language.BritishEnglish}, want: "eng"},
		{name: "empty", langs: nil, want: "eng"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, TesseractLanguages(tt.langs))
		})
	}
}

func TestTesseract_OCR(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell fakes need a POSIX shell")
	}
	dir := t.TempDir()
	argsLog := filepath.Join(dir, "args.log")
	script := "#!/bin/sh\necho \"$*\" > \"" + argsLog + "\"\ncat > /dev/null\necho '  Cek fakta  '\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "tesseract"), []byte(script), 0o755))
	t.Setenv("PATH", dir+string(os.PathListSeparator)+os.Getenv("PATH"))

	ocr := NewTesseract("", []language.Tag{language.Indonesian, language.English})
	text, err := ocr.OCR(context.Background(), []byte("png-bytes"))
	require.NoError(t, err)
	assert.Equal(t, "Cek fakta", text)

	args, err := os.ReadFile(argsLog)
	require.NoError(t, err)
	assert.Equal(t, "stdin stdout -l ind+eng\n", string(args))
}

func TestTesseract_Failure(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell fakes need a POSIX shell")
	}
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "tesseract"), []byte("#!/bin/sh\necho boom >&2\nexit 1\n"), 0o755))
	t.Setenv("PATH", dir+string(os.PathListSeparator)+os.Getenv("PATH"))

	_, err := NewTesseract("", nil).OCR(context.Background(), []byte("x"))
	assert.Error(t, err)

	_, err = NewTesseract("", nil).OCR(context.Background(), nil)
	assert.Error(t, err)
}

func TestPDFText_CorruptDocument(t *testing.T) {
	ex := NewPDFText()

	_, err := ex.ExtractText(context.Background(), []byte("%PDF-1.4 this is not really a pdf"))
	assert.Error(t, err)

	_, err = ex.ExtractText(context.Background(), nil)
	assert.ErrorIs(t, err, ErrEmptyDocument)
}

package transport

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name string, data []byte) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, data, 0o644))
	return p
}

func TestDownloadMediaSniffsMimetype(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want string
	}{
		{"doc.bin", []byte("%PDF-1.4\n%âãÏÓ\n1 0 obj\n<<>>\nendobj\n"), "application/pdf"},
		{"pic.dat", []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR"), "image/png"},
		{"pic.jpg", []byte("\xff\xd8\xff\xe0\x00\x10JFIF\x00"), "image/jpeg"},
		{"note.txt", []byte("hello"), "text/plain; charset=utf-8"},
	}

	src := NewFileSource()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := writeFile(t, tt.name, tt.data)

			dl, err := src.DownloadMedia(context.Background(), p)
			require.NoError(t, err)
			assert.Equal(t, tt.want, dl.Mimetype)
			assert.Equal(t, tt.data, dl.Data)
			assert.Equal(t, tt.name, dl.Filename)
		})
	}
}

func TestDownloadMediaMissingFile(t *testing.T) {
	_, err := NewFileSource().DownloadMedia(context.Background(), filepath.Join(t.TempDir(), "nope"))
	assert.Error(t, err)
}

func TestMessageUsesContentFingerprint(t *testing.T) {
	a := writeFile(t, "a.mp4", []byte("same bytes"))
	b := writeFile(t, "b.mp4", []byte("same bytes"))
	c := writeFile(t, "c.mp4", []byte("other bytes"))

	src := NewFileSource()
	ma, err := src.Message(a)
	require.NoError(t, err)
	mb, err := src.Message(b)
	require.NoError(t, err)
	mc, err := src.Message(c)
	require.NoError(t, err)

	assert.True(t, ma.HasMedia)
	assert.Equal(t, a, ma.Ref)
	assert.Equal(t, "a.mp4", ma.Filename)
	assert.Len(t, ma.MediaKey, 64)
	assert.Equal(t, ma.MediaKey, mb.MediaKey)
	assert.NotEqual(t, ma.MediaKey, mc.MediaKey)
}

func TestFingerprint(t *testing.T) {
	p := writeFile(t, "x", []byte("abc"))
	key, err := Fingerprint(p)
	require.NoError(t, err)
	assert.Equal(t, "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad", key)
}

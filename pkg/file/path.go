package file

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path/filepath"
	"strings"
)

func ReplaceExt(path, ext string) string {
	if path == "" {
		return path
	}

	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}

	dir := filepath.Dir(path)
	filename := filepath.Base(path)
	if lastDot := strings.LastIndex(filename, "."); lastDot > 0 {
		filename = filename[:lastDot]
	}

	return filepath.Join(dir, filename+ext)
}

// maxSafeName bounds SafeName output well below common filesystem limits.
const maxSafeName = 128

// SafeName turns an arbitrary key into a single path element. Distinct keys
// give distinct names: bytes outside [A-Za-z0-9.-] are written as '_' and two
// lowercase hex digits, and names longer than maxSafeName become "_h" and the
// key's SHA-256. An empty or dot-only key becomes fallback.
func SafeName(key, fallback string) string {
	if strings.Trim(key, ".") == "" {
		return fallback
	}

	var b strings.Builder
	b.Grow(len(key))
	for i := 0; i < len(key); i++ {
		c := key[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9',
			c == '.', c == '-':
			b.WriteByte(c)
		default:
			fmt.Fprintf(&b, "_%02x", c)
		}
	}

	name := b.String()
	if len(name) > maxSafeName {
		sum := sha256.Sum256([]byte(key))
		return "_h" + hex.EncodeToString(sum[:])
	}
	return name
}

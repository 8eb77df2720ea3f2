package artifact

import (
	"fmt"
	"time"
)

// DefaultTTL is how long an entry stays readable after it was written.
const DefaultTTL = 24 * time.Hour

type PayloadType string

const (
	PayloadBytes PayloadType = "bytes"
	PayloadText  PayloadType = "text"
	PayloadPaths PayloadType = "paths"
)

// Payload is the cached value of one artifact. Exactly one of Bytes, Text or
// Paths is meaningful, selected by Type.
type Payload struct {
	Type  PayloadType `json:"type"`
	Bytes []byte      `json:"bytes,omitempty"`
	Text  string      `json:"text,omitempty"`
	Paths []string    `json:"paths,omitempty"`
}

func BytesPayload(b []byte) Payload {
	return Payload{Type: PayloadBytes, Bytes: b}
}

func TextPayload(s string) Payload {
	return Payload{Type: PayloadText, Text: s}
}

func PathsPayload(paths []string) Payload {
	return Payload{Type: PayloadPaths, Paths: append([]string(nil), paths...)}
}

func (p Payload) AsBytes() ([]byte, bool) {
	return p.Bytes, p.Type == PayloadBytes
}

func (p Payload) AsText() (string, bool) {
	return p.Text, p.Type == PayloadText
}

func (p Payload) AsPaths() ([]string, bool) {
	if p.Type != PayloadPaths {
		return nil, false
	}
	return append([]string(nil), p.Paths...), true
}

func (p Payload) clone() Payload {
	c := p
	if p.Bytes != nil {
		c.Bytes = append([]byte(nil), p.Bytes...)
	}
	if p.Paths != nil {
		c.Paths = append([]string(nil), p.Paths...)
	}
	return c
}

func (p Payload) String() string {
	switch p.Type {
	case PayloadBytes:
		return fmt.Sprintf("bytes(%d)", len(p.Bytes))
	case PayloadText:
		return fmt.Sprintf("text(%d)", len(p.Text))
	case PayloadPaths:
		return fmt.Sprintf("paths(%d)", len(p.Paths))
	default:
		return "invalid"
	}
}

type Entry struct {
	Key       string
	Payload   Payload
	CreatedAt time.Time
}

// Metadata describes where a cached artifact came from. It is keyed by
// MediaKey in its own namespace.
type Metadata struct {
	MediaKey  string            `json:"mediaKey"`
	Mimetype  string            `json:"mimetype"`
	Filename  string            `json:"filename,omitempty"`
	CreatedAt time.Time         `json:"createdAt"`
	Extra     map[string]string `json:"extra,omitempty"`
}

func (m Metadata) clone() Metadata {
	c := m
	if m.Extra != nil {
		c.Extra = make(map[string]string, len(m.Extra))
		for k, v := range m.Extra {
			c.Extra[k] = v
		}
	}
	return c
}

// Snapshot is the full persisted state of a Store.
type Snapshot struct {
	Entries  map[string]Entry
	Metadata map[string]Metadata
}

func NewSnapshot() Snapshot {
	return Snapshot{
		Entries:  make(map[string]Entry),
		Metadata: make(map[string]Metadata),
	}
}

// Stats summarizes store contents.
type Stats struct {
	Entries  int
	Metadata int
	Expired  int
	ByKind   map[Kind]int
}

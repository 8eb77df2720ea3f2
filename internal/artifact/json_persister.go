package artifact

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
)

const (
	EntriesFile  = "media_cache.json"
	MetadataFile = "media_metadata.json"
	lockFile     = ".media_cache.lock"

	lockRetryDelay = 25 * time.Millisecond
)

// entryRecord is the on-disk form of an Entry; timestamp is unix millis.
type entryRecord struct {
	Data      Payload `json:"data"`
	Timestamp int64   `json:"timestamp"`
}

// JSONPersister keeps the store as two JSON files in one directory, each a
// flat key -> record object. Writes go to a temp file renamed over the
// target, under an advisory file lock shared with other processes.
type JSONPersister struct {
	dir  string
	lock *flock.Flock
}

func NewJSONPersister(dir string) (*JSONPersister, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	return &JSONPersister{
		dir:  dir,
		lock: flock.New(filepath.Join(dir, lockFile)),
	}, nil
}

func (p *JSONPersister) Dir() string {
	return p.dir
}

func (p *JSONPersister) Load(ctx context.Context) (Snapshot, error) {
	snap := NewSnapshot()

	locked, err := p.lock.TryRLockContext(ctx, lockRetryDelay)
	if err != nil {
		return snap, fmt.Errorf("lock cache dir: %w", err)
	}
	if locked {
		defer p.lock.Unlock()
	}

	var errs []error

	records := map[string]entryRecord{}
	if err := readJSON(filepath.Join(p.dir, EntriesFile), &records); err != nil {
		errs = append(errs, err)
	} else {
		for key, rec := range records {
			snap.Entries[key] = Entry{
				Key:       key,
				Payload:   rec.Data,
				CreatedAt: time.UnixMilli(rec.Timestamp),
			}
		}
	}

	metas := map[string]Metadata{}
	if err := readJSON(filepath.Join(p.dir, MetadataFile), &metas); err != nil {
		errs = append(errs, err)
	} else {
		for key, meta := range metas {
			snap.Metadata[key] = meta
		}
	}

	return snap, errors.Join(errs...)
}

func (p *JSONPersister) Save(ctx context.Context, snap Snapshot) error {
	locked, err := p.lock.TryLockContext(ctx, lockRetryDelay)
	if err != nil {
		return fmt.Errorf("lock cache dir: %w", err)
	}
	if !locked {
		return fmt.Errorf("lock cache dir: not acquired")
	}
	defer p.lock.Unlock()

	records := make(map[string]entryRecord, len(snap.Entries))
	for key, e := range snap.Entries {
		records[key] = entryRecord{Data: e.Payload, Timestamp: e.CreatedAt.UnixMilli()}
	}
	if err := writeJSONAtomic(filepath.Join(p.dir, EntriesFile), records); err != nil {
		return err
	}
	return writeJSONAtomic(filepath.Join(p.dir, MetadataFile), snap.Metadata)
}

// readJSON decodes path into v. A missing or empty file leaves v untouched.
func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read %s: %w", filepath.Base(path), err)
	}
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	return nil
}

func writeJSONAtomic(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", filepath.Base(path), err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}

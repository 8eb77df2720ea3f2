package artifact

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/MimeLyc/sairing/pkg/log"
)

// Store is the expiring key -> artifact cache shared by every pipeline run.
// Each mutation is persisted in full before the call returns. All access is
// serialized by one mutex, which also covers the persist, so two writers
// can never interleave on disk.
//
// A failed persist is logged and leaves memory ahead of disk; the next
// successful mutation writes the full state again.
type Store struct {
	mu        sync.Mutex
	entries   map[string]Entry
	metadata  map[string]Metadata
	persister Persister
	ttl       time.Duration
	now       func() time.Time
	logger    *log.Logger
}

type StoreOption func(*Store)

func WithTTL(ttl time.Duration) StoreOption {
	return func(s *Store) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) StoreOption {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

func WithLogger(logger *log.Logger) StoreOption {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// Open loads the persisted snapshot and returns a ready Store. Unreadable
// state is logged and replaced by an empty namespace; Open never fails.
func Open(ctx context.Context, persister Persister, opts ...StoreOption) *Store {
	s := &Store{
		entries:   make(map[string]Entry),
		metadata:  make(map[string]Metadata),
		persister: persister,
		ttl:       DefaultTTL,
		now:       time.Now,
		logger:    log.GetLogger().With("artifact"),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.persister == nil {
		s.persister = memoryPersister{}
	}

	snap, err := s.persister.Load(ctx)
	if err != nil {
		s.logger.Error("Failed to load cache, starting from readable state only: %v", err)
	}
	for k, e := range snap.Entries {
		s.entries[k] = e
	}
	for k, m := range snap.Metadata {
		s.metadata[k] = m
	}
	s.logger.Info("Cache loaded: %d entries, %d metadata records", len(s.entries), len(s.metadata))
	return s
}

// NewMemoryStore returns a Store that is never persisted.
func NewMemoryStore(opts ...StoreOption) *Store {
	return Open(context.Background(), memoryPersister{}, opts...)
}

// Set overwrites key with payload stamped with the current time.
func (s *Store) Set(ctx context.Context, key string, payload Payload) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[key] = Entry{Key: key, Payload: payload.clone(), CreatedAt: s.now()}
	s.persistLocked(ctx, "set "+key)
}

// Get returns the payload for key. An expired entry is removed, the removal
// persisted, and reported as a miss.
func (s *Store) Get(ctx context.Context, key string) (Payload, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok {
		return Payload{}, false
	}
	if s.expired(e.CreatedAt) {
		delete(s.entries, key)
		s.logger.Debug("Entry %s expired", key)
		s.persistLocked(ctx, "expire "+key)
		return Payload{}, false
	}
	return e.Payload.clone(), true
}

// SetMetadata overwrites the metadata for meta.MediaKey. CreatedAt is set to
// the current time.
func (s *Store) SetMetadata(ctx context.Context, meta Metadata) {
	s.mu.Lock()
	defer s.mu.Unlock()

	meta = meta.clone()
	meta.CreatedAt = s.now()
	s.metadata[meta.MediaKey] = meta
	s.persistLocked(ctx, "set metadata "+meta.MediaKey)
}

// GetMetadata mirrors Get for the metadata namespace.
func (s *Store) GetMetadata(ctx context.Context, mediaKey string) (Metadata, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.metadata[mediaKey]
	if !ok {
		return Metadata{}, false
	}
	if s.expired(m.CreatedAt) {
		delete(s.metadata, mediaKey)
		s.logger.Debug("Metadata %s expired", mediaKey)
		s.persistLocked(ctx, "expire metadata "+mediaKey)
		return Metadata{}, false
	}
	return m.clone(), true
}

// Clear empties both namespaces.
func (s *Store) Clear(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries = make(map[string]Entry)
	s.metadata = make(map[string]Metadata)
	s.persistLocked(ctx, "clear")
}

// ClearExpired drops every expired entry and metadata record and returns how
// many were removed. Nothing is written when nothing expired.
func (s *Store) ClearExpired(ctx context.Context) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for k, e := range s.entries {
		if s.expired(e.CreatedAt) {
			delete(s.entries, k)
			removed++
		}
	}
	for k, m := range s.metadata {
		if s.expired(m.CreatedAt) {
			delete(s.metadata, k)
			removed++
		}
	}

	if removed > 0 {
		s.persistLocked(ctx, "clear expired")
	}
	return removed
}

// Stats counts live entries per kind without evicting anything.
func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Stats{
		Entries:  len(s.entries),
		Metadata: len(s.metadata),
		ByKind:   make(map[Kind]int),
	}
	for k, e := range s.entries {
		if s.expired(e.CreatedAt) {
			st.Expired++
		}
		st.ByKind[kindOf(k)]++
	}
	return st
}

func (s *Store) expired(createdAt time.Time) bool {
	return s.now().Sub(createdAt) > s.ttl
}

func (s *Store) persistLocked(ctx context.Context, op string) {
	snap := NewSnapshot()
	for k, e := range s.entries {
		snap.Entries[k] = e
	}
	for k, m := range s.metadata {
		snap.Metadata[k] = m
	}

	// Memory already changed; a canceled caller must not leave disk behind.
	if err := s.persister.Save(context.WithoutCancel(ctx), snap); err != nil {
		s.logger.Error("Failed to persist cache after %s: %v", op, err)
	}
}

func kindOf(key string) Kind {
	for _, k := range allKinds {
		if k != KindRawMedia && strings.HasSuffix(key, string(k)) {
			return k
		}
	}
	return KindRawMedia
}

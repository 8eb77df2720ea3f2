package artifact

import "context"

// Persister moves a whole Snapshot to and from durable storage. Save must
// replace the previous state atomically: after a crash either the old or the
// new snapshot is readable, never a mix.
//
// Load always returns a usable snapshot. When part of the persisted state
// cannot be read it returns what it could recover together with an error.
type Persister interface {
	Load(ctx context.Context) (Snapshot, error)
	Save(ctx context.Context, snap Snapshot) error
}

// memoryPersister keeps nothing. Stores built on it live for the process only.
type memoryPersister struct{}

func (memoryPersister) Load(context.Context) (Snapshot, error) { return NewSnapshot(), nil }
func (memoryPersister) Save(context.Context, Snapshot) error   { return nil }

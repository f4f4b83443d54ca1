package store

import (
	"context"

	"github.com/cockroachdb/pebble/vfs"

	"github.com/feral-file/ff-version-index/internal/domain"
	"github.com/feral-file/ff-version-index/internal/query"
)

// State is the lifecycle state of a store
type State int32

const (
	// StateOpen means the handles are being opened
	StateOpen State = iota
	// StateServing means every operation is accepted
	StateServing
	// StateClosed is terminal; every operation fails with domain.ErrStoreClosed
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateServing:
		return "serving"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Config holds the on-disk layout and pebble tuning of a store
type Config struct {
	// Dir is the root directory; the primary and change indexes live in
	// Dir/primary and Dir/changes
	Dir string
	// FS overrides the filesystem (vfs.NewMem() in tests)
	FS           vfs.FS
	CacheSize    int64
	BytesPerSync int
}

// Store defines the read and write contract of the versioned index
//
//go:generate mockgen -source=store.go -destination=../mocks/store.go -package=mocks -mock_names=Store=MockStore
type Store interface {
	// Insert records the version of identity at blockNumber and marks the change
	Insert(ctx context.Context, identity domain.Identity, blockNumber uint64, payload []byte) error
	// Remove deletes the version of identity at blockNumber and its change marker
	Remove(ctx context.Context, identity domain.Identity, blockNumber uint64) error

	// GetOne returns the latest version of identity at or before cutoff
	GetOne(ctx context.Context, identity domain.Identity, cutoff *uint64) (domain.Version, error)
	// GetMany opens a cursor over the latest version of every identity under partial
	GetMany(ctx context.Context, partial domain.Identity, cutoff *uint64) (*query.GroupCursor, error)
	// ListLatest is GetMany collected into a slice of at most limit versions (0 = no limit)
	ListLatest(ctx context.Context, partial domain.Identity, cutoff *uint64, limit int) ([]domain.Version, error)
	// Versions returns the whole history of identity in ascending block order
	Versions(ctx context.Context, identity domain.Identity) ([]domain.Version, error)
	// GetChangedSince lists the first change per identity in blocks [from, to]
	GetChangedSince(ctx context.Context, from uint64, to *uint64) ([]domain.VersionKey, error)
	// GetChangedSinceFilled is GetChangedSince resolved to stored versions
	GetChangedSinceFilled(ctx context.Context, from uint64, to *uint64) ([]domain.Version, error)

	// Rebuild regenerates the change index from the primary index
	Rebuild(ctx context.Context) (int, error)
	// State returns the lifecycle state
	State() State
	// Close flushes and releases both indexes. Irreversible.
	Close() error
}

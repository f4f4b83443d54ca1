package adapter

import (
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
)

// ErrKeyNotFound is returned by OrderedKV.Get for absent keys
var ErrKeyNotFound = errors.New("key not found")

// OrderedKV defines a byte-keyed store with ordered iteration to enable mocking
//
//go:generate mockgen -source=pebble.go -destination=../mocks/ordered_kv.go -package=mocks -mock_names=OrderedKV=MockOrderedKV,Iterator=MockIterator
type OrderedKV interface {
	// Get returns a copy of the value stored at key or ErrKeyNotFound
	Get(key []byte) ([]byte, error)
	// Set durably writes value at key, overwriting any previous value
	Set(key, value []byte) error
	// Delete durably removes key; deleting an absent key is not an error
	Delete(key []byte) error
	// NewIter opens an iterator over [lower, upper); nil bounds are unbounded
	NewIter(lower, upper []byte) (Iterator, error)
	// Flush persists buffered writes
	Flush() error
	// Close releases the store
	Close() error
}

// Iterator defines an ordered cursor over a key range.
// Key and Value are only valid until the next positioning call.
type Iterator interface {
	First() bool
	Last() bool
	Next() bool
	Prev() bool
	Valid() bool
	Key() []byte
	Value() []byte
	Error() error
	Close() error
}

// PebbleOptions holds pebble tuning knobs
type PebbleOptions struct {
	// FS overrides the filesystem, e.g. vfs.NewMem() in tests
	FS vfs.FS
	// CacheSize is the block cache size in bytes (0 = pebble default)
	CacheSize int64
	// BytesPerSync controls incremental sstable syncing (0 = pebble default)
	BytesPerSync int
}

// pebbleKV implements OrderedKV on top of a pebble database
type pebbleKV struct {
	db *pebble.DB
}

// OpenPebble opens (or creates) a pebble database in dir
func OpenPebble(dir string, opts PebbleOptions) (OrderedKV, error) {
	options := &pebble.Options{}
	if opts.FS != nil {
		options.FS = opts.FS
	}
	if opts.BytesPerSync > 0 {
		options.BytesPerSync = opts.BytesPerSync
	}
	if opts.CacheSize > 0 {
		cache := pebble.NewCache(opts.CacheSize)
		defer cache.Unref()
		options.Cache = cache
	}

	db, err := pebble.Open(dir, options)
	if err != nil {
		return nil, fmt.Errorf("failed to open pebble at %s: %w", dir, err)
	}

	return &pebbleKV{db: db}, nil
}

func (p *pebbleKV) Get(key []byte) ([]byte, error) {
	value, closer, err := p.db.Get(key)
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return nil, ErrKeyNotFound
		}
		return nil, err
	}
	defer closer.Close()

	// value is only valid until closer is closed
	out := make([]byte, len(value))
	copy(out, value)
	return out, nil
}

func (p *pebbleKV) Set(key, value []byte) error {
	return p.db.Set(key, value, pebble.Sync)
}

func (p *pebbleKV) Delete(key []byte) error {
	return p.db.Delete(key, pebble.Sync)
}

func (p *pebbleKV) NewIter(lower, upper []byte) (Iterator, error) {
	iter, err := p.db.NewIter(&pebble.IterOptions{
		LowerBound: lower,
		UpperBound: upper,
	})
	if err != nil {
		return nil, err
	}
	return iter, nil
}

func (p *pebbleKV) Flush() error {
	return p.db.Flush()
}

func (p *pebbleKV) Close() error {
	return p.db.Close()
}

// Package index implements the two ordered indexes of the version store:
// the authoritative primary index of versions and the derived change index
// of per-block markers.
package index

import (
	"errors"
	"fmt"

	"github.com/feral-file/ff-version-index/internal/adapter"
	"github.com/feral-file/ff-version-index/internal/domain"
	"github.com/feral-file/ff-version-index/internal/keycodec"
)

// maxEncodableBlock is the largest block number that fits BlockNumberWidth digits
const maxEncodableBlock uint64 = 9_999_999_999

// ScanOptions narrows a primary index scan
type ScanOptions struct {
	// UpperBound is an inclusive block number cutoff.
	// Only valid when scanning a full identity.
	UpperBound *uint64
	// Reverse iterates from the highest key down
	Reverse bool
}

// PrimaryIndex stores versions keyed by identity then block number
type PrimaryIndex struct {
	kv adapter.OrderedKV
}

// NewPrimaryIndex creates a primary index over kv
func NewPrimaryIndex(kv adapter.OrderedKV) *PrimaryIndex {
	return &PrimaryIndex{kv: kv}
}

// Put writes or overwrites the version at (identity, blockNumber)
func (p *PrimaryIndex) Put(identity domain.Identity, blockNumber uint64, payload []byte) error {
	key, err := keycodec.EncodeIdentityKey(identity, blockNumber)
	if err != nil {
		return err
	}

	if err := p.kv.Set([]byte(key), payload); err != nil {
		return fmt.Errorf("failed to put version %s: %w", key, err)
	}
	return nil
}

// Get returns the version stored at (identity, blockNumber)
func (p *PrimaryIndex) Get(identity domain.Identity, blockNumber uint64) (domain.Version, error) {
	key, err := keycodec.EncodeIdentityKey(identity, blockNumber)
	if err != nil {
		return domain.Version{}, err
	}

	value, err := p.kv.Get([]byte(key))
	if err != nil {
		if errors.Is(err, adapter.ErrKeyNotFound) {
			return domain.Version{}, fmt.Errorf("%w: version %s", domain.ErrNotFound, key)
		}
		return domain.Version{}, fmt.Errorf("failed to get version %s: %w", key, err)
	}

	return domain.Version{
		Identity:    identity,
		BlockNumber: blockNumber,
		Payload:     value,
	}, nil
}

// Delete removes the version at (identity, blockNumber).
// Fails with ErrNotFound when it does not exist.
func (p *PrimaryIndex) Delete(identity domain.Identity, blockNumber uint64) error {
	key, err := keycodec.EncodeIdentityKey(identity, blockNumber)
	if err != nil {
		return err
	}

	if _, err := p.kv.Get([]byte(key)); err != nil {
		if errors.Is(err, adapter.ErrKeyNotFound) {
			return fmt.Errorf("%w: version %s", domain.ErrNotFound, key)
		}
		return fmt.Errorf("failed to look up version %s: %w", key, err)
	}

	if err := p.kv.Delete([]byte(key)); err != nil {
		return fmt.Errorf("failed to delete version %s: %w", key, err)
	}
	return nil
}

// ScanPrefix opens a cursor over every version whose identity matches the
// given full or partial identity, in key order (identity, then block).
func (p *PrimaryIndex) ScanPrefix(partial domain.Identity, opts ScanOptions) (*Cursor, error) {
	prefix, err := keycodec.IdentityPrefix(partial)
	if err != nil {
		return nil, err
	}

	var lower, upper []byte
	if prefix != "" {
		lower = []byte(prefix)
		upper = keycodec.PrefixEnd(lower)
	}

	if opts.UpperBound != nil {
		if !partial.IsFull() {
			return nil, fmt.Errorf("%w: block cutoff needs a full identity, got %s", domain.ErrInvalidIdentity, partial)
		}

		// cutoffs beyond the encodable range cap nothing
		if *opts.UpperBound < maxEncodableBlock {
			key, err := keycodec.EncodeIdentityKey(partial, *opts.UpperBound)
			if err != nil {
				return nil, err
			}
			upper = keycodec.KeyNext([]byte(key))
		}
	}

	iter, err := p.kv.NewIter(lower, upper)
	if err != nil {
		return nil, fmt.Errorf("failed to open primary scan on %q: %w", prefix, err)
	}

	return newCursor(iter, decodePrimaryEntry, opts.Reverse), nil
}

func decodePrimaryEntry(key, value []byte) (domain.Version, error) {
	identity, blockNumber, err := keycodec.DecodeIdentityKey(string(key))
	if err != nil {
		return domain.Version{}, err
	}

	// value is only valid until the iterator moves
	payload := make([]byte, len(value))
	copy(payload, value)

	return domain.Version{
		Identity:    identity,
		BlockNumber: blockNumber,
		Payload:     payload,
	}, nil
}

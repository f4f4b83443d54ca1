// Package query answers temporal reads over the primary and change indexes:
// the latest version of an identity at or before a block cutoff, the same
// for every identity under a prefix, and which identities changed in a
// block window.
package query

import (
	"context"
	"errors"
	"fmt"

	"github.com/feral-file/ff-version-index/internal/domain"
	"github.com/feral-file/ff-version-index/internal/index"
)

// Engine is stateless between calls; all state lives in the indexes
type Engine struct {
	primary *index.PrimaryIndex
	changes *index.ChangeIndex
}

// NewEngine creates a query engine over the two indexes
func NewEngine(primary *index.PrimaryIndex, changes *index.ChangeIndex) *Engine {
	return &Engine{
		primary: primary,
		changes: changes,
	}
}

// GetOne returns the version of identity with the greatest block number not
// exceeding cutoff, or the greatest overall when cutoff is nil.
func (e *Engine) GetOne(ctx context.Context, identity domain.Identity, cutoff *uint64) (domain.Version, error) {
	if err := ctx.Err(); err != nil {
		return domain.Version{}, err
	}

	if !identity.IsFull() {
		return domain.Version{}, fmt.Errorf("%w: %s is not a full identity", domain.ErrInvalidIdentity, identity)
	}

	cursor, err := e.primary.ScanPrefix(identity, index.ScanOptions{
		UpperBound: cutoff,
		Reverse:    true,
	})
	if err != nil {
		return domain.Version{}, err
	}
	defer cursor.Close()

	if !cursor.Next() {
		if err := cursor.Err(); err != nil {
			return domain.Version{}, err
		}
		return domain.Version{}, fmt.Errorf("%w: no version of %s at or before %s", domain.ErrNotFound, identity, formatCutoff(cutoff))
	}

	return cursor.Version(), nil
}

// GetMany opens a grouped cursor yielding, for every identity under partial,
// its latest version not exceeding cutoff. The caller must Close it.
func (e *Engine) GetMany(ctx context.Context, partial domain.Identity, cutoff *uint64) (*GroupCursor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	cursor, err := e.primary.ScanPrefix(partial, index.ScanOptions{})
	if err != nil {
		return nil, err
	}

	return newGroupCursor(ctx, cursor, cutoff), nil
}

// CollectMany drains GetMany into a slice
func (e *Engine) CollectMany(ctx context.Context, partial domain.Identity, cutoff *uint64) ([]domain.Version, error) {
	cursor, err := e.GetMany(ctx, partial, cutoff)
	if err != nil {
		return nil, err
	}
	defer cursor.Close()

	var versions []domain.Version
	for cursor.Next() {
		versions = append(versions, cursor.Version())
	}
	if err := cursor.Err(); err != nil {
		return nil, err
	}
	return versions, nil
}

// GetChangedSince lists the identities that changed in blocks [from, to],
// keeping only the first marker met per identity. A nil to scans the single
// block from.
func (e *Engine) GetChangedSince(ctx context.Context, from uint64, to *uint64) ([]domain.VersionKey, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	end := from
	if to != nil {
		end = *to
	}

	cursor, err := e.changes.ScanRange(from, end)
	if err != nil {
		return nil, err
	}
	defer cursor.Close()

	seen := make(map[domain.Identity]struct{})
	keys := []domain.VersionKey{}
	for cursor.Next() {
		key := cursor.Key()
		if _, ok := seen[key.Identity]; ok {
			continue
		}
		seen[key.Identity] = struct{}{}
		keys = append(keys, key)
	}
	if err := cursor.Err(); err != nil {
		return nil, err
	}

	return keys, nil
}

// GetChangedSinceFilled resolves every GetChangedSince key to its stored
// version. Any failure aborts the whole batch: a marker without a primary
// entry means the indexes disagree.
func (e *Engine) GetChangedSinceFilled(ctx context.Context, from uint64, to *uint64) ([]domain.Version, error) {
	keys, err := e.GetChangedSince(ctx, from, to)
	if err != nil {
		return nil, err
	}

	versions := make([]domain.Version, 0, len(keys))
	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		version, err := e.primary.Get(key.Identity, key.BlockNumber)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return nil, fmt.Errorf("change marker %s has no primary entry: %w", key, err)
			}
			return nil, fmt.Errorf("failed to resolve %s: %w", key, err)
		}
		versions = append(versions, version)
	}

	return versions, nil
}

func formatCutoff(cutoff *uint64) string {
	if cutoff == nil {
		return "latest"
	}
	return fmt.Sprintf("block %d", *cutoff)
}

package index

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/feral-file/ff-version-index/internal/adapter"
	"github.com/feral-file/ff-version-index/internal/domain"
	"github.com/feral-file/ff-version-index/internal/keycodec"
	"github.com/feral-file/ff-version-index/internal/logger"
)

const rebuildProgressInterval = 100_000

// ChangeIndex records which identities changed in which block.
// It is derived from the primary index and can be rebuilt from it at any time.
type ChangeIndex struct {
	kv adapter.OrderedKV
}

// NewChangeIndex creates a change index over kv
func NewChangeIndex(kv adapter.OrderedKV) *ChangeIndex {
	return &ChangeIndex{kv: kv}
}

// Mark records that identity has a version at blockNumber. Idempotent.
func (c *ChangeIndex) Mark(identity domain.Identity, blockNumber uint64) error {
	key, err := keycodec.EncodeChangeKey(identity, blockNumber)
	if err != nil {
		return err
	}

	if err := c.kv.Set([]byte(key), nil); err != nil {
		return fmt.Errorf("failed to mark change %s: %w", key, err)
	}
	return nil
}

// Unmark removes the marker at (identity, blockNumber).
// Removing an absent marker is not an error.
func (c *ChangeIndex) Unmark(identity domain.Identity, blockNumber uint64) error {
	key, err := keycodec.EncodeChangeKey(identity, blockNumber)
	if err != nil {
		return err
	}

	if err := c.kv.Delete([]byte(key)); err != nil {
		return fmt.Errorf("failed to unmark change %s: %w", key, err)
	}
	return nil
}

// ScanRange opens a cursor over the markers of blocks [from, to], ordered by
// block number. The cursor yields versions without payload.
func (c *ChangeIndex) ScanRange(from, to uint64) (*Cursor, error) {
	if to < from {
		return nil, fmt.Errorf("%w: to %d < from %d", domain.ErrInvalidRange, to, from)
	}

	lowerBlock, err := keycodec.EncodeBlock(from)
	if err != nil {
		return nil, err
	}

	var upper []byte
	if to < maxEncodableBlock {
		upperBlock, err := keycodec.EncodeBlock(to)
		if err != nil {
			return nil, err
		}
		upper = keycodec.PrefixEnd([]byte(upperBlock + keycodec.Separator))
	}

	iter, err := c.kv.NewIter([]byte(lowerBlock), upper)
	if err != nil {
		return nil, fmt.Errorf("failed to open change scan [%d, %d]: %w", from, to, err)
	}

	return newCursor(iter, decodeChangeEntry, false), nil
}

// Rebuild marks every version stored in primary and returns the number of
// markers written. Existing markers are left in place, so an interrupted
// rebuild can simply be run again.
func (c *ChangeIndex) Rebuild(ctx context.Context, primary *PrimaryIndex) (int, error) {
	cursor, err := primary.ScanPrefix(domain.Identity{}, ScanOptions{})
	if err != nil {
		return 0, err
	}

	count := 0
	for cursor.Next() {
		if err := ctx.Err(); err != nil {
			return count, closeWith(cursor, err)
		}

		key := cursor.Key()
		if err := c.Mark(key.Identity, key.BlockNumber); err != nil {
			return count, closeWith(cursor, err)
		}
		count++
		if count%rebuildProgressInterval == 0 {
			logger.InfoCtx(ctx, "Rebuilding change index", zap.Int("marked", count))
		}
	}

	if err := cursor.Err(); err != nil {
		return count, closeWith(cursor, fmt.Errorf("failed to scan primary index: %w", err))
	}

	return count, cursor.Close()
}

func decodeChangeEntry(key, _ []byte) (domain.Version, error) {
	identity, blockNumber, err := keycodec.DecodeChangeKey(string(key))
	if err != nil {
		return domain.Version{}, err
	}

	return domain.Version{
		Identity:    identity,
		BlockNumber: blockNumber,
	}, nil
}

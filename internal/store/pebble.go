package store

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/feral-file/ff-version-index/internal/adapter"
	"github.com/feral-file/ff-version-index/internal/domain"
	"github.com/feral-file/ff-version-index/internal/index"
	"github.com/feral-file/ff-version-index/internal/keycodec"
	"github.com/feral-file/ff-version-index/internal/logger"
	"github.com/feral-file/ff-version-index/internal/query"
)

const (
	primaryDir = "primary"
	changesDir = "changes"
)

type pebbleStore struct {
	primaryKV adapter.OrderedKV
	changesKV adapter.OrderedKV

	primary *index.PrimaryIndex
	changes *index.ChangeIndex
	engine  *query.Engine

	clock adapter.Clock
	state atomic.Int32

	// cursors are the GetMany cursors still open; Close aborts them
	cursorsMu sync.Mutex
	cursors   map[*query.GroupCursor]struct{}
}

// Open opens (or creates) both indexes under cfg.Dir and returns a serving store
func Open(cfg Config, clock adapter.Clock) (Store, error) {
	opts := adapter.PebbleOptions{
		FS:           cfg.FS,
		CacheSize:    cfg.CacheSize,
		BytesPerSync: cfg.BytesPerSync,
	}

	primaryKV, err := adapter.OpenPebble(filepath.Join(cfg.Dir, primaryDir), opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open primary index: %w", err)
	}

	changesKV, err := adapter.OpenPebble(filepath.Join(cfg.Dir, changesDir), opts)
	if err != nil {
		if cerr := primaryKV.Close(); cerr != nil {
			logger.Error(cerr, zap.String("message", "Failed to close primary index after open failure"))
		}
		return nil, fmt.Errorf("failed to open change index: %w", err)
	}

	logger.Info("Version store opened", zap.String("dir", cfg.Dir))

	return NewPebbleStore(primaryKV, changesKV, clock), nil
}

// NewPebbleStore creates a serving store over two already opened ordered stores
func NewPebbleStore(primaryKV, changesKV adapter.OrderedKV, clock adapter.Clock) Store {
	s := &pebbleStore{
		primaryKV: primaryKV,
		changesKV: changesKV,
		primary:   index.NewPrimaryIndex(primaryKV),
		changes:   index.NewChangeIndex(changesKV),
		clock:     clock,
		cursors:   make(map[*query.GroupCursor]struct{}),
	}
	s.engine = query.NewEngine(s.primary, s.changes)
	s.state.Store(int32(StateServing))
	return s
}

func (s *pebbleStore) State() State {
	return State(s.state.Load())
}

// serving fails every operation outside StateServing
func (s *pebbleStore) serving() error {
	if s.State() != StateServing {
		return domain.ErrStoreClosed
	}
	return nil
}

func (s *pebbleStore) Insert(ctx context.Context, identity domain.Identity, blockNumber uint64, payload []byte) error {
	if err := s.serving(); err != nil {
		return err
	}
	if err := requireFull(identity); err != nil {
		return err
	}

	// Both keys are validated up front so an encoding failure never leaves a
	// half written version behind
	if _, err := keycodec.EncodeIdentityKey(identity, blockNumber); err != nil {
		return err
	}
	if _, err := keycodec.EncodeChangeKey(identity, blockNumber); err != nil {
		return err
	}

	if err := s.primary.Put(identity, blockNumber, payload); err != nil {
		return err
	}

	if err := s.changes.Mark(identity, blockNumber); err != nil {
		logger.WarnCtx(ctx, "Version stored without change marker, run a rebuild to repair",
			zap.String("version", domain.VersionKey{Identity: identity, BlockNumber: blockNumber}.String()),
			zap.Error(err),
		)
		return fmt.Errorf("failed to mark change: %w", err)
	}

	logger.DebugCtx(ctx, "Version inserted",
		zap.String("identity", identity.String()),
		zap.Uint64("blockNumber", blockNumber),
		zap.Int("payloadSize", len(payload)),
	)

	return nil
}

func (s *pebbleStore) Remove(ctx context.Context, identity domain.Identity, blockNumber uint64) error {
	if err := s.serving(); err != nil {
		return err
	}
	if err := requireFull(identity); err != nil {
		return err
	}

	if err := s.primary.Delete(identity, blockNumber); err != nil {
		return err
	}

	if err := s.changes.Unmark(identity, blockNumber); err != nil {
		logger.WarnCtx(ctx, "Version removed but change marker left behind",
			zap.String("version", domain.VersionKey{Identity: identity, BlockNumber: blockNumber}.String()),
			zap.Error(err),
		)
		return fmt.Errorf("failed to unmark change: %w", err)
	}

	logger.DebugCtx(ctx, "Version removed",
		zap.String("identity", identity.String()),
		zap.Uint64("blockNumber", blockNumber),
	)

	return nil
}

func (s *pebbleStore) GetOne(ctx context.Context, identity domain.Identity, cutoff *uint64) (domain.Version, error) {
	if err := s.serving(); err != nil {
		return domain.Version{}, err
	}
	return s.engine.GetOne(ctx, identity, cutoff)
}

func (s *pebbleStore) GetMany(ctx context.Context, partial domain.Identity, cutoff *uint64) (*query.GroupCursor, error) {
	// Holding cursorsMu across the state check keeps Close from missing a
	// cursor opened concurrently
	s.cursorsMu.Lock()
	defer s.cursorsMu.Unlock()

	if err := s.serving(); err != nil {
		return nil, err
	}

	cursor, err := s.engine.GetMany(ctx, partial, cutoff)
	if err != nil {
		return nil, err
	}

	s.cursors[cursor] = struct{}{}
	cursor.OnClose(func() {
		s.cursorsMu.Lock()
		delete(s.cursors, cursor)
		s.cursorsMu.Unlock()
	})
	return cursor, nil
}

func (s *pebbleStore) ListLatest(ctx context.Context, partial domain.Identity, cutoff *uint64, limit int) ([]domain.Version, error) {
	cursor, err := s.GetMany(ctx, partial, cutoff)
	if err != nil {
		return nil, err
	}
	defer cursor.Close()

	versions := []domain.Version{}
	for (limit <= 0 || len(versions) < limit) && cursor.Next() {
		versions = append(versions, cursor.Version())
	}
	if err := cursor.Err(); err != nil {
		return nil, err
	}

	return versions, nil
}

func (s *pebbleStore) Versions(ctx context.Context, identity domain.Identity) ([]domain.Version, error) {
	if err := s.serving(); err != nil {
		return nil, err
	}
	if err := requireFull(identity); err != nil {
		return nil, err
	}

	cursor, err := s.primary.ScanPrefix(identity, index.ScanOptions{})
	if err != nil {
		return nil, err
	}
	defer cursor.Close()

	versions := []domain.Version{}
	for cursor.Next() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		versions = append(versions, cursor.Version())
	}
	if err := cursor.Err(); err != nil {
		return nil, err
	}

	return versions, nil
}

func (s *pebbleStore) GetChangedSince(ctx context.Context, from uint64, to *uint64) ([]domain.VersionKey, error) {
	if err := s.serving(); err != nil {
		return nil, err
	}
	return s.engine.GetChangedSince(ctx, from, to)
}

func (s *pebbleStore) GetChangedSinceFilled(ctx context.Context, from uint64, to *uint64) ([]domain.Version, error) {
	if err := s.serving(); err != nil {
		return nil, err
	}
	return s.engine.GetChangedSinceFilled(ctx, from, to)
}

func (s *pebbleStore) Rebuild(ctx context.Context) (int, error) {
	if err := s.serving(); err != nil {
		return 0, err
	}

	start := s.clock.Now()
	logger.InfoCtx(ctx, "Rebuilding change index")

	count, err := s.changes.Rebuild(ctx, s.primary)
	if err != nil {
		logger.ErrorCtx(ctx, err,
			zap.String("message", "Change index rebuild stopped"),
			zap.Int("marked", count),
			zap.Duration("elapsed", s.clock.Since(start)),
		)
		return count, fmt.Errorf("failed to rebuild change index after %d markers: %w", count, err)
	}

	logger.InfoCtx(ctx, "Change index rebuilt",
		zap.Int("marked", count),
		zap.Duration("elapsed", s.clock.Since(start)),
	)

	return count, nil
}

func (s *pebbleStore) Close() error {
	if !s.state.CompareAndSwap(int32(StateServing), int32(StateClosed)) {
		return domain.ErrStoreClosed
	}

	s.cursorsMu.Lock()
	open := s.cursors
	s.cursors = make(map[*query.GroupCursor]struct{})
	s.cursorsMu.Unlock()

	var errs []error
	for cursor := range open {
		if err := cursor.Abort(domain.ErrStoreClosed); err != nil {
			errs = append(errs, fmt.Errorf("failed to release open cursor: %w", err))
		}
	}
	if len(open) > 0 {
		logger.Warn("Closed cursors left open across store close", zap.Int("count", len(open)))
	}

	for _, h := range []struct {
		name string
		kv   adapter.OrderedKV
	}{
		{name: primaryDir, kv: s.primaryKV},
		{name: changesDir, kv: s.changesKV},
	} {
		if err := h.kv.Flush(); err != nil {
			errs = append(errs, fmt.Errorf("failed to flush %s index: %w", h.name, err))
		}
		if err := h.kv.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close %s index: %w", h.name, err))
		}
	}

	logger.Info("Version store closed")

	return errors.Join(errs...)
}

func requireFull(identity domain.Identity) error {
	if !identity.IsFull() {
		return fmt.Errorf("%w: %s is not a full identity", domain.ErrInvalidIdentity, identity)
	}
	return nil
}

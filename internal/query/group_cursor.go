package query

import (
	"context"
	"sync"

	"github.com/feral-file/ff-version-index/internal/domain"
	"github.com/feral-file/ff-version-index/internal/index"
)

// GroupCursor collapses a forward primary scan into one version per identity.
//
// Entries of one identity are contiguous in key order, so a group is complete
// as soon as the scan reaches a different identity or runs out. Within a group
// the last entry not exceeding the cutoff wins; groups without such an entry
// are skipped.
//
// Next and Close may race with Abort, which the owning store calls when it
// closes; mu serialises them.
type GroupCursor struct {
	mu sync.Mutex

	ctx    context.Context
	cursor *index.Cursor
	cutoff *uint64

	// pending is the best candidate of the group being scanned
	pending    domain.Version
	hasPending bool
	// group is the identity of the group being scanned
	group   domain.Identity
	inGroup bool
	drained bool
	current domain.Version
	err     error
	closed  bool
	// onClose runs once when the caller closes the cursor
	onClose func()
}

func newGroupCursor(ctx context.Context, cursor *index.Cursor, cutoff *uint64) *GroupCursor {
	return &GroupCursor{
		ctx:    ctx,
		cursor: cursor,
		cutoff: cutoff,
	}
}

// Next advances to the next identity with a qualifying version
func (g *GroupCursor) Next() bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.closed || g.err != nil {
		return false
	}

	for !g.drained {
		if err := g.ctx.Err(); err != nil {
			g.err = err
			return false
		}

		if !g.cursor.Next() {
			g.drained = true
			if err := g.cursor.Err(); err != nil {
				g.err = err
				return false
			}
			break
		}

		version := g.cursor.Version()
		if g.inGroup && version.Identity != g.group {
			emitted := g.flush()
			g.startGroup(version)
			if emitted {
				return true
			}
			continue
		}

		if !g.inGroup {
			g.startGroup(version)
			continue
		}
		g.consider(version)
	}

	// the final group is only complete once the scan is exhausted
	if g.flush() {
		g.inGroup = false
		return true
	}
	return false
}

func (g *GroupCursor) startGroup(version domain.Version) {
	g.group = version.Identity
	g.inGroup = true
	g.hasPending = false
	g.consider(version)
}

func (g *GroupCursor) consider(version domain.Version) {
	if g.cutoff != nil && version.BlockNumber > *g.cutoff {
		return
	}
	g.pending = version
	g.hasPending = true
}

// flush moves the pending candidate to current and reports whether there was one
func (g *GroupCursor) flush() bool {
	if !g.hasPending {
		return false
	}
	g.current = g.pending
	g.pending = domain.Version{}
	g.hasPending = false
	return true
}

// Version returns the version at the current position
func (g *GroupCursor) Version() domain.Version {
	return g.current
}

// Err returns the first error met while advancing, if any
func (g *GroupCursor) Err() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.err
}

// OnClose registers fn to run when the caller closes the cursor
func (g *GroupCursor) OnClose(fn func()) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.onClose = fn
}

// Close releases the underlying scan. Idempotent.
func (g *GroupCursor) Close() error {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return nil
	}
	g.closed = true
	onClose := g.onClose
	err := g.cursor.Close()
	g.mu.Unlock()

	if onClose != nil {
		onClose()
	}
	return err
}

// Abort releases the underlying scan on behalf of its owner and makes every
// later Next fail with err. It does not run the OnClose hook.
func (g *GroupCursor) Abort(err error) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.err == nil {
		g.err = err
	}
	if g.closed {
		return nil
	}
	g.closed = true
	return g.cursor.Close()
}

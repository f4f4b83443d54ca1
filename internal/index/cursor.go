package index

import (
	"errors"

	"github.com/feral-file/ff-version-index/internal/adapter"
	"github.com/feral-file/ff-version-index/internal/domain"
)

// decodeFunc turns one raw entry into a version
type decodeFunc func(key, value []byte) (domain.Version, error)

// Cursor is a lazy, forward-only view over one index scan.
//
// A cursor is not restartable. The caller owns it and must call Close on
// every exit path; Close is idempotent, so `defer cursor.Close()` right after
// a successful open is always safe.
type Cursor struct {
	iter    adapter.Iterator
	decode  decodeFunc
	reverse bool

	started bool
	closed  bool
	current domain.Version
	err     error
}

func newCursor(iter adapter.Iterator, decode decodeFunc, reverse bool) *Cursor {
	return &Cursor{
		iter:    iter,
		decode:  decode,
		reverse: reverse,
	}
}

// Next advances the cursor and reports whether a version is available.
// It returns false at the end of the range, after an error, or once closed.
func (c *Cursor) Next() bool {
	if c.closed || c.err != nil {
		return false
	}

	var ok bool
	switch {
	case !c.started && c.reverse:
		ok = c.iter.Last()
	case !c.started:
		ok = c.iter.First()
	case c.reverse:
		ok = c.iter.Prev()
	default:
		ok = c.iter.Next()
	}
	c.started = true

	if !ok {
		c.err = c.iter.Error()
		return false
	}

	version, err := c.decode(c.iter.Key(), c.iter.Value())
	if err != nil {
		c.err = err
		return false
	}
	c.current = version
	return true
}

// Version returns the version at the current position
func (c *Cursor) Version() domain.Version {
	return c.current
}

// Key returns the fully qualified key at the current position
func (c *Cursor) Key() domain.VersionKey {
	return c.current.Key()
}

// Err returns the first error met while advancing, if any
func (c *Cursor) Err() error {
	return c.err
}

// Close releases the underlying iterator
func (c *Cursor) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	c.current = domain.Version{}
	return c.iter.Close()
}

// closeWith closes the cursor and joins a close failure onto err
func closeWith(c *Cursor, err error) error {
	if cerr := c.Close(); cerr != nil {
		return errors.Join(err, cerr)
	}
	return err
}

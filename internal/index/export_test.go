package index

import "github.com/feral-file/ff-version-index/internal/adapter"

// NewPrimaryCursor wraps iter the way ScanPrefix does
func NewPrimaryCursor(iter adapter.Iterator) *Cursor {
	return newCursor(iter, decodePrimaryEntry, false)
}

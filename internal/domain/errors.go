package domain

import "errors"

var (
	// ErrNotFound is returned when an exact lookup or delete targets an absent version
	ErrNotFound = errors.New("version not found")

	// ErrEncoding is returned when a value cannot be encoded into an order-preserving key
	ErrEncoding = errors.New("key encoding failed")

	// ErrMalformedKey is returned when a stored key does not parse into its expected segments
	ErrMalformedKey = errors.New("malformed key")

	// ErrInvalidRange is returned when a block range ends before it starts
	ErrInvalidRange = errors.New("invalid block range")

	// ErrInvalidIdentity is returned when an identity cannot be used for the requested operation
	ErrInvalidIdentity = errors.New("invalid identity")

	// ErrStoreClosed is returned for any operation issued after the store was closed
	ErrStoreClosed = errors.New("store closed")
)

// Package keycodec converts identities and block numbers to and from
// order-preserving string keys.
//
// The underlying store compares keys byte-wise, and unpadded decimal strings
// do not sort numerically ("9" > "10"). Every block number that takes part in
// a key is therefore zero-padded to BlockNumberWidth digits, both in primary
// keys and in change keys.
//
// Primary key: chainId/contractAddress/tokenId/<padded block>
// Change key:  <padded block>/chainId/contractAddress/tokenId
package keycodec

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/feral-file/ff-version-index/internal/domain"
)

const (
	// Separator joins key segments
	Separator = "/"

	// BlockNumberWidth is the fixed digit width of encoded block numbers.
	// Changing it invalidates every persisted key.
	BlockNumberWidth = 10

	// keySegments is the number of segments of both primary and change keys
	keySegments = 4
)

// EncodeBlockNumber left-pads a decimal block number with zeros to BlockNumberWidth
func EncodeBlockNumber(decimal string) (string, error) {
	if !isDecimal(decimal) {
		return "", fmt.Errorf("%w: block number %q is not a decimal", domain.ErrEncoding, decimal)
	}

	canonical := strings.TrimLeft(decimal, "0")
	if canonical == "" {
		canonical = "0"
	}

	if len(canonical) > BlockNumberWidth {
		return "", fmt.Errorf("%w: block number %s exceeds %d digits", domain.ErrEncoding, decimal, BlockNumberWidth)
	}

	return strings.Repeat("0", BlockNumberWidth-len(canonical)) + canonical, nil
}

// EncodeBlock encodes a numeric block number
func EncodeBlock(blockNumber uint64) (string, error) {
	return EncodeBlockNumber(strconv.FormatUint(blockNumber, 10))
}

// DecodeBlockNumber returns the canonical decimal form of a padded block number.
// Segments of any width other than BlockNumberWidth are malformed.
func DecodeBlockNumber(padded string) (string, error) {
	if len(padded) != BlockNumberWidth {
		return "", fmt.Errorf("%w: block segment %q is not %d digits wide", domain.ErrMalformedKey, padded, BlockNumberWidth)
	}
	if !isDecimal(padded) {
		return "", fmt.Errorf("%w: block segment %q is not a decimal", domain.ErrMalformedKey, padded)
	}

	canonical := strings.TrimLeft(padded, "0")
	if canonical == "" {
		return "0", nil
	}
	return canonical, nil
}

// decodeBlock parses a padded block segment into a number
func decodeBlock(padded string) (uint64, error) {
	canonical, err := DecodeBlockNumber(padded)
	if err != nil {
		return 0, err
	}

	blockNumber, err := strconv.ParseUint(canonical, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: block segment %q: %v", domain.ErrMalformedKey, padded, err)
	}
	return blockNumber, nil
}

// EncodeIdentityKey builds the primary key of one version.
// Empty identity fields encode as empty segments.
func EncodeIdentityKey(identity domain.Identity, blockNumber uint64) (string, error) {
	if err := validateFields(identity); err != nil {
		return "", err
	}

	block, err := EncodeBlock(blockNumber)
	if err != nil {
		return "", err
	}

	return strings.Join([]string{identity.ChainID, identity.ContractAddress, identity.TokenID, block}, Separator), nil
}

// DecodeIdentityKey splits a primary key into its identity and block number
func DecodeIdentityKey(key string) (domain.Identity, uint64, error) {
	parts := strings.Split(key, Separator)
	if len(parts) != keySegments {
		return domain.Identity{}, 0, fmt.Errorf("%w: primary key %q has %d segments", domain.ErrMalformedKey, key, len(parts))
	}

	blockNumber, err := decodeBlock(parts[3])
	if err != nil {
		return domain.Identity{}, 0, err
	}

	return domain.Identity{
		ChainID:         parts[0],
		ContractAddress: parts[1],
		TokenID:         parts[2],
	}, blockNumber, nil
}

// IdentityPrefix builds the scan prefix for a full or partial identity.
// Fields are consumed left to right until the first empty one and every
// consumed field is terminated by the separator, so "eip155:1/0xb8/" never
// matches "eip155:1/0xb81/". An empty identity yields the empty prefix.
func IdentityPrefix(partial domain.Identity) (string, error) {
	if err := validateFields(partial); err != nil {
		return "", err
	}

	fields := []string{partial.ChainID, partial.ContractAddress, partial.TokenID}

	var b strings.Builder
	gap := false
	for _, field := range fields {
		if field == "" {
			gap = true
			continue
		}
		if gap {
			return "", fmt.Errorf("%w: %s has a set field after an empty one", domain.ErrInvalidIdentity, partial)
		}
		b.WriteString(field)
		b.WriteString(Separator)
	}

	return b.String(), nil
}

// EncodeChangeKey builds the change marker key of one version
func EncodeChangeKey(identity domain.Identity, blockNumber uint64) (string, error) {
	if err := validateFields(identity); err != nil {
		return "", err
	}

	block, err := EncodeBlock(blockNumber)
	if err != nil {
		return "", err
	}

	return strings.Join([]string{block, identity.ChainID, identity.ContractAddress, identity.TokenID}, Separator), nil
}

// DecodeChangeKey splits a change marker key into its identity and block number
func DecodeChangeKey(key string) (domain.Identity, uint64, error) {
	parts := strings.Split(key, Separator)
	if len(parts) != keySegments {
		return domain.Identity{}, 0, fmt.Errorf("%w: change key %q has %d segments", domain.ErrMalformedKey, key, len(parts))
	}

	blockNumber, err := decodeBlock(parts[0])
	if err != nil {
		return domain.Identity{}, 0, err
	}

	return domain.Identity{
		ChainID:         parts[1],
		ContractAddress: parts[2],
		TokenID:         parts[3],
	}, blockNumber, nil
}

// PrefixEnd returns the smallest key that is greater than every key having
// the given prefix, for use as an exclusive upper bound. It returns nil when
// no such key exists (empty prefix or all 0xff bytes).
func PrefixEnd(prefix []byte) []byte {
	end := make([]byte, len(prefix))
	copy(end, prefix)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}

// KeyNext returns the smallest key that sorts after key. Used to turn an
// inclusive upper bound into an exclusive one.
func KeyNext(key []byte) []byte {
	next := make([]byte, len(key)+1)
	copy(next, key)
	return next
}

// validateFields rejects fields that would split into extra key segments
func validateFields(identity domain.Identity) error {
	for _, field := range []string{identity.ChainID, identity.ContractAddress, identity.TokenID} {
		if strings.Contains(field, Separator) {
			return fmt.Errorf("%w: identity field %q contains separator %q", domain.ErrEncoding, field, Separator)
		}
	}
	return nil
}

func isDecimal(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

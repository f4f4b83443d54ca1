package keycodec

import (
	"sort"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feral-file/ff-version-index/internal/domain"
)

func TestEncodeBlockNumber(t *testing.T) {
	tests := []struct {
		name        string
		input       string
		expected    string
		expectedErr error
	}{
		{name: "zero", input: "0", expected: "0000000000"},
		{name: "small", input: "9", expected: "0000000009"},
		{name: "typical", input: "18500000", expected: "0018500000"},
		{name: "leading zeros are canonicalized", input: "0000000000110", expected: "0000000110"},
		{name: "max width", input: "9999999999", expected: "9999999999"},
		{name: "exceeds width", input: "10000000000", expectedErr: domain.ErrEncoding},
		{name: "empty", input: "", expectedErr: domain.ErrEncoding},
		{name: "negative", input: "-1", expectedErr: domain.ErrEncoding},
		{name: "hex", input: "0x10", expectedErr: domain.ErrEncoding},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			encoded, err := EncodeBlockNumber(tt.input)
			if tt.expectedErr != nil {
				assert.ErrorIs(t, err, tt.expectedErr)
				assert.Empty(t, encoded)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, encoded)
			assert.Len(t, encoded, BlockNumberWidth)
		})
	}
}

func TestBlockNumberRoundTrip(t *testing.T) {
	for _, n := range []string{"0", "1", "9", "10", "99", "100", "101", "123456789", "9999999999"} {
		encoded, err := EncodeBlockNumber(n)
		require.NoError(t, err)

		decoded, err := DecodeBlockNumber(encoded)
		require.NoError(t, err)
		assert.Equal(t, n, decoded)
	}
}

func TestDecodeBlockNumber_Malformed(t *testing.T) {
	_, err := DecodeBlockNumber("00000000x1")
	assert.ErrorIs(t, err, domain.ErrMalformedKey)

	_, err = DecodeBlockNumber("")
	assert.ErrorIs(t, err, domain.ErrMalformedKey)

	for _, unpadded := range []string{"5", "000000005", "00000000005"} {
		_, err = DecodeBlockNumber(unpadded)
		assert.ErrorIs(t, err, domain.ErrMalformedKey, unpadded)
	}
}

func TestEncodedBlocksSortNumerically(t *testing.T) {
	numbers := []uint64{10, 9, 100, 1, 99, 1000000, 101, 0}

	encoded := make([]string, 0, len(numbers))
	for _, n := range numbers {
		e, err := EncodeBlock(n)
		require.NoError(t, err)
		encoded = append(encoded, e)
	}
	sort.Strings(encoded)

	sorted := append([]uint64(nil), numbers...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	for i, e := range encoded {
		decoded, err := DecodeBlockNumber(e)
		require.NoError(t, err)
		assert.Equal(t, strconv.FormatUint(sorted[i], 10), decoded)
	}
}

func TestIdentityKeyRoundTrip(t *testing.T) {
	id := domain.Identity{ChainID: "eip155:1", ContractAddress: "0xb8", TokenID: "42"}

	key, err := EncodeIdentityKey(id, 120)
	require.NoError(t, err)
	assert.Equal(t, "eip155:1/0xb8/42/0000000120", key)

	decoded, block, err := DecodeIdentityKey(key)
	require.NoError(t, err)
	assert.Equal(t, id, decoded)
	assert.Equal(t, uint64(120), block)
}

func TestEncodeIdentityKey_Errors(t *testing.T) {
	_, err := EncodeIdentityKey(domain.Identity{ChainID: "eip155:1", ContractAddress: "0xb8/evil", TokenID: "1"}, 1)
	assert.ErrorIs(t, err, domain.ErrEncoding)

	_, err = EncodeIdentityKey(domain.Identity{ChainID: "eip155:1", ContractAddress: "0xb8", TokenID: "1"}, 10000000000)
	assert.ErrorIs(t, err, domain.ErrEncoding)
}

func TestEncodeIdentityKey_EmptyFields(t *testing.T) {
	key, err := EncodeIdentityKey(domain.Identity{ChainID: "eip155:1"}, 5)
	require.NoError(t, err)
	assert.Equal(t, "eip155:1///0000000005", key)
}

func TestDecodeIdentityKey_Malformed(t *testing.T) {
	tests := []string{
		"eip155:1/0xb8/0000000120",
		"eip155:1/0xb8/1/2/0000000120",
		"eip155:1/0xb8/1/abc",
		"eip155:1/0xb8/1/5",
		"eip155:1/0xb8/1/000000000120",
		"",
	}

	for _, key := range tests {
		t.Run(key, func(t *testing.T) {
			_, _, err := DecodeIdentityKey(key)
			assert.ErrorIs(t, err, domain.ErrMalformedKey)
		})
	}
}

func TestIdentityPrefix(t *testing.T) {
	tests := []struct {
		name        string
		identity    domain.Identity
		expected    string
		expectedErr error
	}{
		{name: "empty", identity: domain.Identity{}, expected: ""},
		{name: "chain only", identity: domain.Identity{ChainID: "eip155:1"}, expected: "eip155:1/"},
		{name: "chain and contract", identity: domain.Identity{ChainID: "eip155:1", ContractAddress: "0xb8"}, expected: "eip155:1/0xb8/"},
		{name: "full", identity: domain.Identity{ChainID: "eip155:1", ContractAddress: "0xb8", TokenID: "2"}, expected: "eip155:1/0xb8/2/"},
		{name: "gap", identity: domain.Identity{ChainID: "eip155:1", TokenID: "2"}, expectedErr: domain.ErrInvalidIdentity},
		{name: "separator", identity: domain.Identity{ChainID: "a/b"}, expectedErr: domain.ErrEncoding},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			prefix, err := IdentityPrefix(tt.identity)
			if tt.expectedErr != nil {
				assert.ErrorIs(t, err, tt.expectedErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, prefix)
		})
	}
}

func TestIdentityPrefix_ExactField(t *testing.T) {
	prefix, err := IdentityPrefix(domain.Identity{ChainID: "eip155:1", ContractAddress: "0xb8", TokenID: "1"})
	require.NoError(t, err)

	sibling, err := EncodeIdentityKey(domain.Identity{ChainID: "eip155:1", ContractAddress: "0xb8", TokenID: "10"}, 1)
	require.NoError(t, err)
	own, err := EncodeIdentityKey(domain.Identity{ChainID: "eip155:1", ContractAddress: "0xb8", TokenID: "1"}, 1)
	require.NoError(t, err)

	assert.NotEqual(t, prefix, sibling[:len(prefix)])
	assert.Equal(t, prefix, own[:len(prefix)])
}

func TestChangeKeyRoundTrip(t *testing.T) {
	id := domain.Identity{ChainID: "tezos:mainnet", ContractAddress: "KT1abc", TokenID: "7"}

	key, err := EncodeChangeKey(id, 9)
	require.NoError(t, err)
	assert.Equal(t, "0000000009/tezos:mainnet/KT1abc/7", key)

	decoded, block, err := DecodeChangeKey(key)
	require.NoError(t, err)
	assert.Equal(t, id, decoded)
	assert.Equal(t, uint64(9), block)

	_, _, err = DecodeChangeKey("0000000009/tezos:mainnet/KT1abc")
	assert.ErrorIs(t, err, domain.ErrMalformedKey)

	_, _, err = DecodeChangeKey("9/tezos:mainnet/KT1abc/7")
	assert.ErrorIs(t, err, domain.ErrMalformedKey)
}

func TestChangeKeysSortByBlock(t *testing.T) {
	a, err := EncodeChangeKey(domain.Identity{ChainID: "z", ContractAddress: "z", TokenID: "z"}, 9)
	require.NoError(t, err)
	b, err := EncodeChangeKey(domain.Identity{ChainID: "a", ContractAddress: "a", TokenID: "a"}, 10)
	require.NoError(t, err)

	assert.Less(t, a, b)
}

func TestPrefixEnd(t *testing.T) {
	tests := []struct {
		name     string
		prefix   []byte
		expected []byte
	}{
		{name: "simple", prefix: []byte("abc/"), expected: []byte("abc0")},
		{name: "trailing 0xff", prefix: []byte{'a', 0xff}, expected: []byte{'b'}},
		{name: "all 0xff", prefix: []byte{0xff, 0xff}, expected: nil},
		{name: "empty", prefix: []byte{}, expected: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, PrefixEnd(tt.prefix))
		})
	}
}

func TestKeyNext(t *testing.T) {
	key := []byte("abc")
	next := KeyNext(key)
	assert.Equal(t, []byte("abc\x00"), next)
	assert.Less(t, string(key), string(next))
	assert.Equal(t, []byte("abc"), key)
}

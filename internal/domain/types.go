package domain

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Chain represents the blockchain network identifier using CAIP-2 format
type Chain string

const (
	ChainEthereumMainnet Chain = "eip155:1"
	ChainEthereumSepolia Chain = "eip155:11155111"
	ChainTezosMainnet    Chain = "tezos:mainnet"
	ChainTezosGhostnet   Chain = "tezos:ghostnet"
)

// IsValidChain checks if a chain is valid
func IsValidChain(chain Chain) bool {
	return chain == ChainEthereumMainnet ||
		chain == ChainEthereumSepolia ||
		chain == ChainTezosMainnet ||
		chain == ChainTezosGhostnet
}

// Identity names one logical token independent of its versions.
// A zero-valued trailing field turns the identity into a partial one,
// which is only meaningful as a scan prefix.
type Identity struct {
	ChainID         string `json:"chain_id"`
	ContractAddress string `json:"contract_address"`
	TokenID         string `json:"token_id"`
}

// NewIdentity creates an identity with a normalized contract address
func NewIdentity(chain Chain, contractAddress string, tokenID string) Identity {
	return Identity{
		ChainID:         string(chain),
		ContractAddress: NormalizeAddress(contractAddress),
		TokenID:         tokenID,
	}
}

// IsFull reports whether every identity field is set
func (i Identity) IsFull() bool {
	return i.ChainID != "" && i.ContractAddress != "" && i.TokenID != ""
}

// String returns the human readable form chain:contract:token
func (i Identity) String() string {
	return fmt.Sprintf("%s:%s:%s", i.ChainID, i.ContractAddress, i.TokenID)
}

// Version is a record for one identity at a specific block number.
// Payload is opaque to the index.
type Version struct {
	Identity
	BlockNumber uint64 `json:"block_number"`
	Payload     []byte `json:"payload"`
}

// Key returns the fully qualified key of the version
func (v Version) Key() VersionKey {
	return VersionKey{Identity: v.Identity, BlockNumber: v.BlockNumber}
}

// VersionKey is an identity plus the block number of one of its versions
type VersionKey struct {
	Identity
	BlockNumber uint64 `json:"block_number"`
}

// String returns the human readable form chain:contract:token@block
func (k VersionKey) String() string {
	return fmt.Sprintf("%s@%d", k.Identity.String(), k.BlockNumber)
}

// VersionAction represents what a producer observed for a version
type VersionAction string

const (
	// VersionActionUpsert records a new (or re-crawled) version
	VersionActionUpsert VersionAction = "upsert"
	// VersionActionRollback removes a version invalidated by a chain reorg
	VersionActionRollback VersionAction = "rollback"
)

// VersionEvent is the message producers publish to NATS for every observed
// metadata state change or detected rollback
type VersionEvent struct {
	Action          VersionAction   `json:"action"`
	Chain           Chain           `json:"chain"`
	ContractAddress string          `json:"contract_address"`
	TokenID         string          `json:"token_id"`
	BlockNumber     uint64          `json:"block_number"`
	Payload         json.RawMessage `json:"payload,omitempty"`
}

// Valid checks the required fields for the event action
func (e *VersionEvent) Valid() bool {
	if e.Chain == "" || e.ContractAddress == "" {
		return false
	}

	if e.TokenID == "" || !validTokenNumber(e.TokenID) {
		return false
	}

	switch e.Action {
	case VersionActionUpsert:
		// A version without payload carries nothing to serve
		if len(e.Payload) == 0 {
			return false
		}
	case VersionActionRollback:
	default:
		return false
	}

	return true
}

// Identity returns the identity the event refers to
func (e *VersionEvent) Identity() Identity {
	return NewIdentity(e.Chain, e.ContractAddress, e.TokenID)
}

// Subject returns the NATS subject for the event
func (e *VersionEvent) Subject() string {
	chain := strings.ReplaceAll(string(e.Chain), ":", "-")
	return fmt.Sprintf("%s.%s.%s", VERSION_EVENT_SUBJECT_PREFIX, chain, e.Action)
}

// NormalizeAddress normalizes an address to the format used by the blockchain
func NormalizeAddress(address string) string {
	if strings.HasPrefix(address, "0x") && common.IsHexAddress(address) {
		return common.HexToAddress(address).String()
	}
	return address
}

var tokenNumberPattern = regexp.MustCompile(`^[0-9]+$`)

// validTokenNumber checks if a token number is valid
func validTokenNumber(tokenNumber string) bool {
	return tokenNumberPattern.MatchString(tokenNumber)
}

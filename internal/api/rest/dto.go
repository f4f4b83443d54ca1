package rest

import (
	"encoding/base64"
	"encoding/json"

	"github.com/feral-file/ff-version-index/internal/domain"
)

// VersionResponse is the JSON form of a version. A payload that is valid
// JSON is embedded as is, anything else is returned base64 encoded.
type VersionResponse struct {
	ChainID         string          `json:"chain_id"`
	ContractAddress string          `json:"contract_address"`
	TokenID         string          `json:"token_id"`
	BlockNumber     uint64          `json:"block_number"`
	Payload         json.RawMessage `json:"payload,omitempty"`
	PayloadBase64   string          `json:"payload_base64,omitempty"`
}

// ListResponse wraps a list of versions
type ListResponse struct {
	Items []VersionResponse `json:"items"`
	Total int               `json:"total"`
}

// ChangesResponse lists the changes of a block range
type ChangesResponse struct {
	From  uint64            `json:"from"`
	To    *uint64           `json:"to,omitempty"`
	Items []VersionResponse `json:"items"`
	Total int               `json:"total"`
}

// HealthResponse reports the service and store state
type HealthResponse struct {
	Status string `json:"status"`
	Store  string `json:"store"`
}

// RebuildResponse acknowledges a rebuild request
type RebuildResponse struct {
	Status string `json:"status"`
}

func toVersionResponse(v domain.Version) VersionResponse {
	resp := VersionResponse{
		ChainID:         v.ChainID,
		ContractAddress: v.ContractAddress,
		TokenID:         v.TokenID,
		BlockNumber:     v.BlockNumber,
	}
	if len(v.Payload) == 0 {
		return resp
	}

	if json.Valid(v.Payload) {
		resp.Payload = json.RawMessage(v.Payload)
	} else {
		resp.PayloadBase64 = base64.StdEncoding.EncodeToString(v.Payload)
	}
	return resp
}

func toVersionResponses(versions []domain.Version) []VersionResponse {
	items := make([]VersionResponse, 0, len(versions))
	for _, v := range versions {
		items = append(items, toVersionResponse(v))
	}
	return items
}

func toKeyResponses(keys []domain.VersionKey) []VersionResponse {
	items := make([]VersionResponse, 0, len(keys))
	for _, k := range keys {
		items = append(items, VersionResponse{
			ChainID:         k.ChainID,
			ContractAddress: k.ContractAddress,
			TokenID:         k.TokenID,
			BlockNumber:     k.BlockNumber,
		})
	}
	return items
}

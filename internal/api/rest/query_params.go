package rest

import (
	"fmt"
	"slices"

	"github.com/gin-gonic/gin"
)

const (
	DEFAULT_PAGE_SIZE = 20
	EXPAND_PAYLOAD    = "payload"
)

// GetTokenQueryParams holds query parameters for GET /tokens/:chain/:contract/:token
type GetTokenQueryParams struct {
	Block *uint64 `form:"block"`
}

// ListTokensQueryParams holds query parameters for GET /tokens/:chain
type ListTokensQueryParams struct {
	Contract string  `form:"contract"`
	Block    *uint64 `form:"block"`
	Limit    int     `form:"limit,default=20"`
}

// GetChangesQueryParams holds query parameters for GET /changes
type GetChangesQueryParams struct {
	From   *uint64  `form:"from" binding:"required"`
	To     *uint64  `form:"to"`
	Expand []string `form:"expand"`
}

// ParseListTokensQuery parses and caps query parameters for GET /tokens/:chain
func ParseListTokensQuery(c *gin.Context, maxPageSize int) (*ListTokensQueryParams, error) {
	var params ListTokensQueryParams
	if err := c.ShouldBindQuery(&params); err != nil {
		return nil, err
	}

	if params.Limit <= 0 {
		params.Limit = DEFAULT_PAGE_SIZE
	}
	if maxPageSize > 0 && params.Limit > maxPageSize {
		params.Limit = maxPageSize
	}
	return &params, nil
}

// ParseGetChangesQuery parses query parameters for GET /changes and
// enforces the block window
func ParseGetChangesQuery(c *gin.Context, maxBlockWindow uint64) (*GetChangesQueryParams, error) {
	var params GetChangesQueryParams
	if err := c.ShouldBindQuery(&params); err != nil {
		return nil, err
	}

	// to < from is left to the store, which reports an invalid range
	if maxBlockWindow > 0 && params.To != nil && *params.To >= *params.From &&
		*params.To-*params.From > maxBlockWindow {
		return nil, fmt.Errorf("block window %d exceeds maximum %d", *params.To-*params.From, maxBlockWindow)
	}
	return &params, nil
}

// ExpandPayload reports whether the changes should carry their versions
func (p *GetChangesQueryParams) ExpandPayload() bool {
	return slices.Contains(p.Expand, EXPAND_PAYLOAD)
}

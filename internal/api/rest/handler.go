package rest

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/feral-file/ff-version-index/internal/domain"
	"github.com/feral-file/ff-version-index/internal/logger"
	"github.com/feral-file/ff-version-index/internal/store"
)

// Handler defines the REST API handlers
type Handler interface {
	// ListTokens lists the latest version of every token of a chain
	// GET /api/v1/tokens/:chain?contract=<address>&block=<number>&limit=<limit>
	ListTokens(c *gin.Context)

	// GetToken returns the latest version of one token at or before block
	// GET /api/v1/tokens/:chain/:contract/:token?block=<number>
	GetToken(c *gin.Context)

	// ListVersions returns the history of one token up to block
	// GET /api/v1/tokens/:chain/:contract/:token/versions?block=<number>
	ListVersions(c *gin.Context)

	// GetChanges lists the tokens changed in a block range
	// GET /api/v1/changes?from=<number>&to=<number>&expand=payload
	GetChanges(c *gin.Context)

	// TriggerRebuild regenerates the change index in the background (requires authentication)
	// POST /api/v1/admin/rebuild
	TriggerRebuild(c *gin.Context)

	// HealthCheck returns the health status of the API
	// GET /health
	HealthCheck(c *gin.Context)

	// Wait blocks until background rebuilds have returned
	Wait()
}

// Config holds the limits applied by the handlers
type Config struct {
	MaxBlockWindow uint64
	MaxPageSize    int
}

type handler struct {
	config Config
	store  store.Store

	// baseCtx outlives requests; background rebuilds run under it
	baseCtx    context.Context
	rebuilding atomic.Bool
	background sync.WaitGroup
}

// NewHandler creates a REST handler over st. Background work is cancelled with baseCtx.
func NewHandler(baseCtx context.Context, cfg Config, st store.Store) Handler {
	return &handler{
		config:  cfg,
		store:   st,
		baseCtx: baseCtx,
	}
}

func (h *handler) ListTokens(c *gin.Context) {
	chain := domain.Chain(c.Param("chain"))
	if !domain.IsValidChain(chain) {
		respondBadRequest(c, "Invalid chain", string(chain))
		return
	}

	params, err := ParseListTokensQuery(c, h.config.MaxPageSize)
	if err != nil {
		respondValidationError(c, err.Error())
		return
	}

	partial := domain.NewIdentity(chain, params.Contract, "")
	versions, err := h.store.ListLatest(c.Request.Context(), partial, params.Block, params.Limit)
	if err != nil {
		respondStoreError(c, err, "Failed to list tokens")
		return
	}

	c.JSON(http.StatusOK, ListResponse{
		Items: toVersionResponses(versions),
		Total: len(versions),
	})
}

func (h *handler) GetToken(c *gin.Context) {
	identity, ok := h.identityParam(c)
	if !ok {
		return
	}

	var params GetTokenQueryParams
	if err := c.ShouldBindQuery(&params); err != nil {
		respondValidationError(c, err.Error())
		return
	}

	version, err := h.store.GetOne(c.Request.Context(), identity, params.Block)
	if err != nil {
		respondStoreError(c, err, "Failed to get token")
		return
	}

	c.JSON(http.StatusOK, toVersionResponse(version))
}

func (h *handler) ListVersions(c *gin.Context) {
	identity, ok := h.identityParam(c)
	if !ok {
		return
	}

	var params GetTokenQueryParams
	if err := c.ShouldBindQuery(&params); err != nil {
		respondValidationError(c, err.Error())
		return
	}

	versions, err := h.store.Versions(c.Request.Context(), identity)
	if err != nil {
		respondStoreError(c, err, "Failed to list versions")
		return
	}
	if params.Block != nil {
		// history is ascending, so the cutoff trims a suffix
		n := sort.Search(len(versions), func(i int) bool {
			return versions[i].BlockNumber > *params.Block
		})
		versions = versions[:n]
	}
	if len(versions) == 0 {
		respondNotFound(c, "Token not found", identity.String())
		return
	}

	c.JSON(http.StatusOK, ListResponse{
		Items: toVersionResponses(versions),
		Total: len(versions),
	})
}

func (h *handler) GetChanges(c *gin.Context) {
	params, err := ParseGetChangesQuery(c, h.config.MaxBlockWindow)
	if err != nil {
		respondValidationError(c, err.Error())
		return
	}

	resp := ChangesResponse{From: *params.From, To: params.To}
	if params.ExpandPayload() {
		versions, err := h.store.GetChangedSinceFilled(c.Request.Context(), *params.From, params.To)
		if err != nil {
			respondStoreError(c, err, "Failed to get changes")
			return
		}
		resp.Items = toVersionResponses(versions)
	} else {
		keys, err := h.store.GetChangedSince(c.Request.Context(), *params.From, params.To)
		if err != nil {
			respondStoreError(c, err, "Failed to get changes")
			return
		}
		resp.Items = toKeyResponses(keys)
	}
	resp.Total = len(resp.Items)

	c.JSON(http.StatusOK, resp)
}

func (h *handler) TriggerRebuild(c *gin.Context) {
	if h.store.State() != store.StateServing {
		respondServiceUnavailable(c, "Version store is not serving")
		return
	}

	if !h.rebuilding.CompareAndSwap(false, true) {
		respondConflict(c, "Rebuild already running")
		return
	}

	h.background.Add(1)
	go func() {
		defer h.background.Done()
		defer h.rebuilding.Store(false)

		count, err := h.store.Rebuild(h.baseCtx)
		if err != nil {
			logger.ErrorCtx(h.baseCtx, err, zap.String("message", "Change index rebuild failed"))
			return
		}
		logger.InfoCtx(h.baseCtx, "Change index rebuild finished", zap.Int("markers", count))
	}()

	c.JSON(http.StatusAccepted, RebuildResponse{Status: "started"})
}

func (h *handler) HealthCheck(c *gin.Context) {
	state := h.store.State()
	if state != store.StateServing {
		c.JSON(http.StatusServiceUnavailable, HealthResponse{Status: "unavailable", Store: state.String()})
		return
	}

	c.JSON(http.StatusOK, HealthResponse{Status: "ok", Store: state.String()})
}

func (h *handler) Wait() {
	h.background.Wait()
}

// identityParam reads a full identity from the path
func (h *handler) identityParam(c *gin.Context) (domain.Identity, bool) {
	chain := domain.Chain(c.Param("chain"))
	if !domain.IsValidChain(chain) {
		respondBadRequest(c, "Invalid chain", string(chain))
		return domain.Identity{}, false
	}

	identity := domain.NewIdentity(chain, c.Param("contract"), c.Param("token"))
	if !identity.IsFull() {
		respondBadRequest(c, "Contract and token are required")
		return domain.Identity{}, false
	}
	return identity, true
}

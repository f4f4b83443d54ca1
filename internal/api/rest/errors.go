package rest

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	apierrors "github.com/feral-file/ff-version-index/internal/api/shared/errors"
	"github.com/feral-file/ff-version-index/internal/domain"
	"github.com/feral-file/ff-version-index/internal/logger"
)

func respondBadRequest(c *gin.Context, message string, details ...string) {
	c.JSON(http.StatusBadRequest, apierrors.NewBadRequestError(message, details...))
}

func respondNotFound(c *gin.Context, message string, details ...string) {
	c.JSON(http.StatusNotFound, apierrors.NewNotFoundError(message, details...))
}

func respondValidationError(c *gin.Context, message string) {
	c.JSON(http.StatusUnprocessableEntity, apierrors.NewValidationError(message))
}

func respondConflict(c *gin.Context, message string) {
	c.JSON(http.StatusConflict, apierrors.NewConflictError(message))
}

func respondServiceUnavailable(c *gin.Context, message string) {
	c.JSON(http.StatusServiceUnavailable, apierrors.NewServiceUnavailableError(message))
}

func respondInternalError(c *gin.Context, err error, message string) {
	logger.ErrorCtx(c.Request.Context(), err, zap.String("message", message), zap.String("path", c.Request.URL.Path))
	c.JSON(http.StatusInternalServerError, apierrors.NewInternalError(message))
}

// respondStoreError maps a store error onto its HTTP status
func respondStoreError(c *gin.Context, err error, message string) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		respondNotFound(c, message, err.Error())
	case errors.Is(err, domain.ErrInvalidRange),
		errors.Is(err, domain.ErrEncoding),
		errors.Is(err, domain.ErrInvalidIdentity):
		respondBadRequest(c, message, err.Error())
	case errors.Is(err, domain.ErrStoreClosed):
		respondServiceUnavailable(c, "Version store is closed")
	default:
		respondInternalError(c, err, message)
	}
}

package handler

import (
	"errors"
	"net/http"

	"github.com/dms/backend/internal/domain/inventory"
	"github.com/dms/backend/internal/domain/shared"
	"github.com/dms/backend/internal/interfaces/http/dto"
	"github.com/gin-gonic/gin"
)

// BaseHandler provides common response utilities
type BaseHandler struct{}

// Success sends a 200 response with the given data
func (h *BaseHandler) Success(c *gin.Context, data any) {
	c.JSON(http.StatusOK, dto.NewSuccessResponse(data))
}

// Created sends a 201 response with the given data
func (h *BaseHandler) Created(c *gin.Context, data any) {
	c.JSON(http.StatusCreated, dto.NewSuccessResponse(data))
}

// Error maps an error to an HTTP status and error envelope
func (h *BaseHandler) Error(c *gin.Context, err error) {
	status, code := classify(err)
	c.JSON(status, dto.NewErrorResponse(code, err.Error()))
}

// BadRequest sends a 400 for malformed input
func (h *BaseHandler) BadRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, dto.NewErrorResponse("INVALID_INPUT", err.Error()))
}

// classify maps the error taxonomy to HTTP semantics. Validation rejections
// are 422 (the request was well-formed but the stock state refuses it);
// conflicts are 409; unknown identifiers are 404.
func classify(err error) (int, string) {
	var itemNotFound *inventory.ItemNotFoundError
	var serialNotFound *inventory.SerialNotFoundError
	var batchNotFound *inventory.BatchNotFoundError
	if errors.As(err, &itemNotFound) || errors.As(err, &serialNotFound) || errors.As(err, &batchNotFound) {
		return http.StatusNotFound, "NOT_FOUND"
	}

	var insufficient *inventory.InsufficientStockError
	if errors.As(err, &insufficient) {
		return http.StatusUnprocessableEntity, "INSUFFICIENT_STOCK"
	}
	var serialRequired *inventory.SerialRequiredError
	if errors.As(err, &serialRequired) {
		return http.StatusUnprocessableEntity, "SERIAL_REQUIRED"
	}
	var serialUnavailable *inventory.SerialNotAvailableError
	if errors.As(err, &serialUnavailable) {
		return http.StatusConflict, "SERIAL_NOT_AVAILABLE"
	}
	var expired *inventory.BatchExpiredError
	if errors.As(err, &expired) {
		return http.StatusUnprocessableEntity, "BATCH_EXPIRED"
	}
	var badTransition *inventory.InvalidStateTransitionError
	if errors.As(err, &badTransition) {
		return http.StatusConflict, "INVALID_STATE_TRANSITION"
	}
	var inconsistent *inventory.InternalConsistencyError
	if errors.As(err, &inconsistent) {
		return http.StatusInternalServerError, "INTERNAL_INCONSISTENCY"
	}

	var domainErr *shared.DomainError
	if errors.As(err, &domainErr) {
		switch domainErr.Code {
		case shared.ErrNotFound.Code:
			return http.StatusNotFound, domainErr.Code
		case shared.ErrAlreadyExists.Code:
			return http.StatusConflict, domainErr.Code
		case shared.ErrConcurrencyConflict.Code:
			return http.StatusConflict, domainErr.Code
		case shared.ErrForbidden.Code:
			return http.StatusForbidden, domainErr.Code
		default:
			return http.StatusUnprocessableEntity, domainErr.Code
		}
	}

	return http.StatusInternalServerError, "INTERNAL_ERROR"
}

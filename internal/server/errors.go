package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	auditdomain "github.com/smallbiznis/folio/internal/audit/domain"
	catalogdomain "github.com/smallbiznis/folio/internal/catalog/domain"
	checkoutdomain "github.com/smallbiznis/folio/internal/checkout/domain"
	downloaddomain "github.com/smallbiznis/folio/internal/download/domain"
	"github.com/smallbiznis/folio/internal/notification"
	paymentdomain "github.com/smallbiznis/folio/internal/payment/domain"
	purchasedomain "github.com/smallbiznis/folio/internal/purchase/domain"
	"github.com/smallbiznis/folio/pkg/db/pagination"
	"gorm.io/gorm"
)

type errorPayload struct {
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrUnauthorized       = errors.New("unauthorized")
	ErrForbidden          = errors.New("forbidden")
	ErrNotFound           = errors.New("not_found")
	ErrInvalidRequest     = errors.New("invalid_request")
	ErrRateLimited        = errors.New("rate_limited")
	ErrServiceUnavailable = errors.New("service_unavailable")
)

const (
	errorTypeValidation     = "validation_error"
	errorTypeAuthentication = "authentication_error"
	errorTypeNotFound       = "not_found"
	errorTypeForbidden      = "forbidden"
	errorTypeConflict       = "conflict"
	errorTypeGateway        = "gateway_error"
	errorTypeUnavailable    = "service_unavailable"
	errorTypeRateLimited    = "rate_limited"
	errorTypeInternal       = "internal_error"
)

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func mapError(err error) (int, errorPayload) {
	code := sentinelCode(err)
	switch {
	case err == nil:
		return http.StatusInternalServerError, errorPayload{Type: errorTypeInternal, Message: "internal server error"}
	case isValidationError(err):
		return http.StatusBadRequest, errorPayload{Type: errorTypeValidation, Code: code, Message: err.Error()}
	case isWebhookAuthenticationError(err):
		return http.StatusBadRequest, errorPayload{Type: errorTypeAuthentication, Code: code, Message: "webhook verification failed"}
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized, errorPayload{Type: errorTypeAuthentication, Code: code, Message: "unauthorized"}
	case isForbiddenError(err):
		return http.StatusForbidden, errorPayload{Type: errorTypeForbidden, Code: code, Message: forbiddenMessage(err)}
	case isNotFoundError(err):
		return http.StatusNotFound, errorPayload{Type: errorTypeNotFound, Code: code, Message: "not found"}
	case errors.Is(err, catalogdomain.ErrSlugConflict):
		return http.StatusConflict, errorPayload{Type: errorTypeConflict, Code: code, Message: "slug already in use"}
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests, errorPayload{Type: errorTypeRateLimited, Code: code, Message: "too many requests"}
	case isUnavailableError(err):
		return http.StatusServiceUnavailable, errorPayload{Type: errorTypeUnavailable, Code: code, Message: "service unavailable"}
	case errors.Is(err, paymentdomain.ErrGatewayFailure):
		return http.StatusBadGateway, errorPayload{Type: errorTypeGateway, Code: code, Message: "payment gateway unavailable, please retry"}
	default:
		return http.StatusInternalServerError, errorPayload{Type: errorTypeInternal, Message: "internal server error"}
	}
}

// classifyErrorForLog feeds the request logger with the mapped type and code.
func classifyErrorForLog(err error) (string, string) {
	_, payload := mapError(err)
	return payload.Type, payload.Code
}

var validationErrors = []error{
	ErrInvalidRequest,
	pagination.ErrInvalidPageToken,
	notification.ErrInvalidToken,
	checkoutdomain.ErrInvalidEmail,
	checkoutdomain.ErrEmptyCart,
	checkoutdomain.ErrInvalidBookID,
	checkoutdomain.ErrInvalidQuantity,
	checkoutdomain.ErrInvalidFormat,
	checkoutdomain.ErrUnresolvedItems,
	checkoutdomain.ErrMissingPrice,
	checkoutdomain.ErrCurrencyMismatch,
	catalogdomain.ErrInvalidID,
	catalogdomain.ErrInvalidTitle,
	catalogdomain.ErrInvalidName,
	catalogdomain.ErrInvalidPrice,
	catalogdomain.ErrInvalidFormat,
	catalogdomain.ErrInvalidRating,
	catalogdomain.ErrInvalidGenre,
	purchasedomain.ErrInvalidID,
	purchasedomain.ErrInvalidStatus,
	purchasedomain.ErrInvalidPurgeCutoff,
	auditdomain.ErrInvalidAction,
	auditdomain.ErrInvalidTimeRange,
}

// webhookAuthenticationErrors covers every way a webhook delivery can fail
// verification, including a signed payload that cannot be decoded.
var webhookAuthenticationErrors = []error{
	paymentdomain.ErrInvalidSignature,
	paymentdomain.ErrInvalidPayload,
	paymentdomain.ErrInvalidEvent,
}

var notFoundErrors = []error{
	ErrNotFound,
	catalogdomain.ErrNotFound,
	catalogdomain.ErrGenreNotFound,
	purchasedomain.ErrNotFound,
	downloaddomain.ErrNotFound,
	paymentdomain.ErrProviderNotFound,
	gorm.ErrRecordNotFound,
}

var forbiddenErrors = []error{
	ErrForbidden,
	purchasedomain.ErrNotCompleted,
	downloaddomain.ErrExpired,
	downloaddomain.ErrExhausted,
	downloaddomain.ErrNotDownloadable,
}

var unavailableErrors = []error{
	ErrServiceUnavailable,
	downloaddomain.ErrAssetUnavailable,
	paymentdomain.ErrInvalidConfig,
}

func isValidationError(err error) bool            { return isAny(err, validationErrors) }
func isWebhookAuthenticationError(err error) bool { return isAny(err, webhookAuthenticationErrors) }
func isNotFoundError(err error) bool              { return isAny(err, notFoundErrors) }
func isForbiddenError(err error) bool             { return isAny(err, forbiddenErrors) }
func isUnavailableError(err error) bool           { return isAny(err, unavailableErrors) }

func isAny(err error, targets []error) bool {
	for _, target := range targets {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// sentinelCode returns the code of the first known sentinel err wraps.
func sentinelCode(err error) string {
	if err == nil {
		return ""
	}
	for _, group := range [][]error{validationErrors, webhookAuthenticationErrors, notFoundErrors, forbiddenErrors, unavailableErrors} {
		for _, target := range group {
			if errors.Is(err, target) {
				return target.Error()
			}
		}
	}
	for _, target := range []error{ErrUnauthorized, ErrRateLimited, catalogdomain.ErrSlugConflict, paymentdomain.ErrGatewayOpen, paymentdomain.ErrGatewayFailure} {
		if errors.Is(err, target) {
			return target.Error()
		}
	}
	return ""
}

func forbiddenMessage(err error) string {
	switch {
	case errors.Is(err, downloaddomain.ErrExpired):
		return "download link expired"
	case errors.Is(err, downloaddomain.ErrExhausted):
		return "download limit reached"
	case errors.Is(err, purchasedomain.ErrNotCompleted):
		return "purchase is not completed"
	default:
		return "forbidden"
	}
}

// Package errors defines the categorized error taxonomy for the P&L engine.
// Matching and aggregation failures are isolated per unit, so every error
// carries enough structure (category, code, position details) for the run
// summary and the HTTP layer to act on it without string matching.
package errors

import (
	"fmt"
	"net/http"

	"github.com/pnl-engine/internal/types"
)

// ErrorCategory represents the category of an error
type ErrorCategory string

const (
	// CategoryDataIntegrity represents corrupt input data (e.g. oversold positions)
	CategoryDataIntegrity ErrorCategory = "data_integrity"
	// CategoryInsufficientData represents metrics that cannot be computed from the sample
	CategoryInsufficientData ErrorCategory = "insufficient_data"
	// CategoryMissingInput represents absent external inputs (prices, resolutions)
	CategoryMissingInput ErrorCategory = "missing_input"
	// CategoryComputationFatal represents input a unit cannot process deterministically
	CategoryComputationFatal ErrorCategory = "computation_fatal"
	// CategoryUserInput represents bad request parameters (4xx)
	CategoryUserInput ErrorCategory = "user_input"
	// CategoryNotFound represents missing resources
	CategoryNotFound ErrorCategory = "not_found"
	// CategoryDatabase represents storage errors
	CategoryDatabase ErrorCategory = "database"
	// CategoryCache represents cache errors
	CategoryCache ErrorCategory = "cache"
	// CategorySystem represents other internal errors (5xx)
	CategorySystem ErrorCategory = "system"
)

// CategorizedError represents an error with category and HTTP status code
type CategorizedError struct {
	Category   ErrorCategory
	StatusCode int
	Code       string
	Message    string
	Details    map[string]interface{}
	Cause      error
}

// Error implements the error interface
func (e *CategorizedError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause
func (e *CategorizedError) Unwrap() error {
	return e.Cause
}

// ToServiceError converts to a ServiceError
func (e *CategorizedError) ToServiceError() *types.ServiceError {
	return &types.ServiceError{
		Code:    e.Code,
		Message: e.Message,
		Details: e.Details,
	}
}

// NewOversoldPositionError reports a position whose disposals exceed its buys
// beyond tolerance. The position is excluded from metrics, never clipped.
func NewOversoldPositionError(wallet, conditionID string, outcome int, bought, disposed float64) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryDataIntegrity,
		StatusCode: http.StatusUnprocessableEntity,
		Code:       "OVERSOLD_POSITION",
		Message:    fmt.Sprintf("position %s/%s/%d disposed %.4f tokens but only bought %.4f", wallet, conditionID, outcome, disposed, bought),
		Details: map[string]interface{}{
			"wallet":      wallet,
			"conditionId": conditionID,
			"outcome":     outcome,
			"bought":      bought,
			"disposed":    disposed,
		},
	}
}

// NewUnorderedFillsError reports fill input that cannot be sorted deterministically
func NewUnorderedFillsError(wallet, conditionID string, outcome int, reason string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryComputationFatal,
		StatusCode: http.StatusUnprocessableEntity,
		Code:       "UNORDERED_FILLS",
		Message:    fmt.Sprintf("position %s/%s/%d has unmatchable fill input: %s", wallet, conditionID, outcome, reason),
		Details: map[string]interface{}{
			"wallet":      wallet,
			"conditionId": conditionID,
			"outcome":     outcome,
			"reason":      reason,
		},
	}
}

// NewDuplicateFillError reports a fill identifier seen twice within one position
func NewDuplicateFillError(wallet, conditionID string, outcome int, fillID string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryComputationFatal,
		StatusCode: http.StatusUnprocessableEntity,
		Code:       "DUPLICATE_FILL",
		Message:    fmt.Sprintf("position %s/%s/%d contains duplicate fill id %s", wallet, conditionID, outcome, fillID),
		Details: map[string]interface{}{
			"wallet":      wallet,
			"conditionId": conditionID,
			"outcome":     outcome,
			"fillId":      fillID,
		},
	}
}

// NewInsufficientDataError reports a metric that lacks the minimum sample
func NewInsufficientDataError(metric string, have, need int) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryInsufficientData,
		StatusCode: http.StatusUnprocessableEntity,
		Code:       "INSUFFICIENT_DATA",
		Message:    fmt.Sprintf("metric %s needs %d samples, have %d", metric, need, have),
		Details: map[string]interface{}{
			"metric": metric,
			"have":   have,
			"need":   need,
		},
	}
}

// NewMissingPriceError reports an absent current or close price
func NewMissingPriceError(conditionID string, outcome int, kind string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryMissingInput,
		StatusCode: http.StatusUnprocessableEntity,
		Code:       "MISSING_PRICE",
		Message:    fmt.Sprintf("no %s price for %s/%d", kind, conditionID, outcome),
		Details: map[string]interface{}{
			"conditionId": conditionID,
			"outcome":     outcome,
			"kind":        kind,
		},
	}
}

// NewInvalidWalletError creates an invalid wallet address error
func NewInvalidWalletError(wallet string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryUserInput,
		StatusCode: http.StatusBadRequest,
		Code:       "INVALID_WALLET",
		Message:    fmt.Sprintf("invalid wallet address format: %s", wallet),
		Details: map[string]interface{}{
			"wallet": wallet,
		},
	}
}

// NewInvalidParameterError creates an invalid parameter error
func NewInvalidParameterError(param string, reason string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryUserInput,
		StatusCode: http.StatusBadRequest,
		Code:       "INVALID_PARAMETER",
		Message:    fmt.Sprintf("invalid parameter '%s': %s", param, reason),
		Details: map[string]interface{}{
			"parameter": param,
			"reason":    reason,
		},
	}
}

// NewNotFoundError creates a not found error
func NewNotFoundError(resource string, id string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryNotFound,
		StatusCode: http.StatusNotFound,
		Code:       "NOT_FOUND",
		Message:    fmt.Sprintf("%s not found: %s", resource, id),
		Details: map[string]interface{}{
			"resource": resource,
			"id":       id,
		},
	}
}

// NewDatabaseError creates a database error
func NewDatabaseError(operation string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryDatabase,
		StatusCode: http.StatusInternalServerError,
		Code:       "DATABASE_ERROR",
		Message:    fmt.Sprintf("database error during %s", operation),
		Cause:      cause,
		Details: map[string]interface{}{
			"operation": operation,
		},
	}
}

// NewCacheError creates a cache error
func NewCacheError(operation string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryCache,
		StatusCode: http.StatusInternalServerError,
		Code:       "CACHE_ERROR",
		Message:    fmt.Sprintf("cache error during %s", operation),
		Cause:      cause,
		Details: map[string]interface{}{
			"operation": operation,
		},
	}
}

// NewUnitTimeoutError reports a wallet unit that exceeded its processing budget
func NewUnitTimeoutError(wallet string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategorySystem,
		StatusCode: http.StatusGatewayTimeout,
		Code:       "UNIT_TIMEOUT",
		Message:    fmt.Sprintf("processing timed out for wallet %s", wallet),
		Cause:      cause,
		Details: map[string]interface{}{
			"wallet": wallet,
		},
	}
}

// NewInternalError creates an internal error
func NewInternalError(message string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategorySystem,
		StatusCode: http.StatusInternalServerError,
		Code:       "INTERNAL_ERROR",
		Message:    message,
		Cause:      cause,
	}
}

// Categorize categorizes an existing error
func Categorize(err error) *CategorizedError {
	if err == nil {
		return nil
	}

	if catErr, ok := err.(*CategorizedError); ok {
		return catErr
	}

	if svcErr, ok := err.(*types.ServiceError); ok {
		return &CategorizedError{
			Category:   CategorySystem,
			StatusCode: http.StatusInternalServerError,
			Code:       svcErr.Code,
			Message:    svcErr.Message,
			Details:    svcErr.Details,
		}
	}

	return NewInternalError("unexpected error", err)
}

// GetHTTPStatusCode returns the HTTP status code for an error
func GetHTTPStatusCode(err error) int {
	if catErr := Categorize(err); catErr != nil {
		return catErr.StatusCode
	}
	return http.StatusInternalServerError
}

// IsRetryable determines if a failed unit is worth retrying. Integrity and
// computation errors are deterministic: retrying reproduces the same failure.
func IsRetryable(err error) bool {
	catErr := Categorize(err)
	if catErr == nil {
		return false
	}

	switch catErr.Category {
	case CategoryDatabase, CategoryCache:
		return true
	case CategorySystem:
		return catErr.Code == "UNIT_TIMEOUT" ||
			catErr.StatusCode == http.StatusServiceUnavailable ||
			catErr.StatusCode == http.StatusGatewayTimeout
	default:
		return false
	}
}

// IsDataIntegrity reports whether an error is a data-integrity finding.
// These are recorded against the wallet and excluded, not retried.
func IsDataIntegrity(err error) bool {
	catErr := Categorize(err)
	return catErr != nil && catErr.Category == CategoryDataIntegrity
}

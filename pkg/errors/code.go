package errors

import "net/http"

// ErrorCode represents a unique error identifier
type ErrorCode int

// Error code ranges allocation:
// 10000-10999: System & Common errors
// 13000-13099: Run request errors
// 13100-13199: Sandbox pipeline errors
// 13200-13299: Output comparison errors

const (
	// ========== System & Common Errors (10000-10999) ==========

	// Success
	Success ErrorCode = 10000

	// Generic errors (10000-10099)
	InternalServerError ErrorCode = 10001
	InvalidParams       ErrorCode = 10002
	NotFound            ErrorCode = 10003
	TooManyRequests     ErrorCode = 10006
	ServiceUnavailable  ErrorCode = 10007
	Timeout             ErrorCode = 10008

	// Cache errors (10200-10299)
	CacheError     ErrorCode = 10200
	CacheSetFailed ErrorCode = 10202

	// Validation errors (10300-10399)
	ValidationFailed ErrorCode = 10300

	// Storage & messaging errors (10400-10499)
	StorageError ErrorCode = 10400
	PublishError ErrorCode = 10401

	// ========== Run Request Errors (13000-13099) ==========

	RunNotFound     ErrorCode = 13000
	CodeTooLarge    ErrorCode = 13002
	StdinTooLarge   ErrorCode = 13003
	RunQueueTimeout ErrorCode = 13004

	// ========== Sandbox Pipeline Errors (13100-13199) ==========

	StagingFailed ErrorCode = 13107

	// ========== Output Comparison Errors (13200-13299) ==========

	ArtifactTooLarge ErrorCode = 13201
)

// errorMessages maps error codes to their default English messages
var errorMessages = map[ErrorCode]string{
	Success:             "Success",
	InternalServerError: "Internal server error",
	InvalidParams:       "Invalid parameters",
	NotFound:            "Resource not found",
	TooManyRequests:     "Too many requests, please try again later",
	ServiceUnavailable:  "Service temporarily unavailable",
	Timeout:             "Request timeout",

	CacheError:     "Cache operation failed",
	CacheSetFailed: "Failed to set cache",

	ValidationFailed: "Validation failed",

	StorageError: "Object storage operation failed",
	PublishError: "Failed to publish event",

	RunNotFound:     "Run result not found",
	CodeTooLarge:    "Code is too large",
	StdinTooLarge:   "Input is too large",
	RunQueueTimeout: "Timed out waiting for a free runner slot",

	StagingFailed: "Failed to stage run workspace",

	ArtifactTooLarge: "Output artifact is too large to compare",
}

// Message returns the default message for the error code
func (c ErrorCode) Message() string {
	if msg, ok := errorMessages[c]; ok {
		return msg
	}
	return "Unknown error"
}

// HTTPStatus returns the recommended HTTP status code for the error code
func (c ErrorCode) HTTPStatus() int {
	switch {
	case c == Success:
		return http.StatusOK
	case c == NotFound, c == RunNotFound:
		return http.StatusNotFound
	case c == TooManyRequests:
		return http.StatusTooManyRequests
	case c == ServiceUnavailable, c == RunQueueTimeout:
		return http.StatusServiceUnavailable
	case c == Timeout:
		return http.StatusGatewayTimeout
	case c >= 10300 && c < 10400: // Validation errors
		return http.StatusBadRequest
	case c == InvalidParams, c == CodeTooLarge, c == StdinTooLarge, c == ArtifactTooLarge:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

package errors

// ErrorCode represents a machine-readable error identifier for API error handling.
type ErrorCode string

// Credit Errors
const (
	// Balance too low to cover the requested debit
	ErrCodeInsufficientCredits ErrorCode = "insufficient_credits"
	ErrCodeAlreadyRefunded     ErrorCode = "already_refunded"
	ErrCodeNotDebited          ErrorCode = "not_debited"
)

// Validation Errors (Request input validation)
const (
	ErrCodeMissingField ErrorCode = "missing_field"
	ErrCodeInvalidField ErrorCode = "invalid_field"
	ErrCodeInvalidURL   ErrorCode = "invalid_url"
	ErrCodeEmptyURLList ErrorCode = "empty_url_list"
)

// Resource/State Errors (Resource not found or in wrong state)
const (
	ErrCodeResourceNotFound   ErrorCode = "resource_not_found"
	ErrCodeProjectNotFound    ErrorCode = "project_not_found"
	ErrCodeURLNotFound        ErrorCode = "url_not_found"
	ErrCodeUserNotFound       ErrorCode = "user_not_found"
	ErrCodeCredentialNotFound ErrorCode = "credential_not_found"

	ErrCodeURLAlreadyIndexed ErrorCode = "url_already_indexed"
	ErrCodeProjectPaused     ErrorCode = "project_paused"
)

// Quota / Scheduling Errors
const (
	ErrCodeQuotaExhausted     ErrorCode = "quota_exhausted"
	ErrCodeNoCredentials      ErrorCode = "no_credentials"
	ErrCodeRateLimited        ErrorCode = "rate_limited"
	ErrCodeCredentialDisabled ErrorCode = "credential_disabled"
)

// External Service Errors (search engine endpoints, Stripe, queue backend)
const (
	ErrCodeSearchAPIError ErrorCode = "search_api_error"
	ErrCodeProbeError     ErrorCode = "probe_error"
	ErrCodeStripeError    ErrorCode = "stripe_error"
	ErrCodeQueueError     ErrorCode = "queue_error"
	ErrCodeNetworkError   ErrorCode = "network_error"
)

// Auth Errors
const (
	ErrCodeUnauthorized ErrorCode = "unauthorized"
	ErrCodeForbidden    ErrorCode = "forbidden"
)

// Internal/System Errors
const (
	ErrCodeInternalError ErrorCode = "internal_error"
	ErrCodeDatabaseError ErrorCode = "database_error"
	ErrCodeConfigError   ErrorCode = "config_error"
)

// IsRetryable returns whether an error code represents a retryable error.
// Retryable errors are typically transient network/service issues, not validation failures.
func (e ErrorCode) IsRetryable() bool {
	switch e {
	// Network and service errors are retryable
	case ErrCodeSearchAPIError,
		ErrCodeProbeError,
		ErrCodeNetworkError,
		ErrCodeQueueError,
		ErrCodeRateLimited:
		return true

	// Validation, authorization, and permanent failures are NOT retryable
	default:
		return false
	}
}

// HTTPStatus returns the appropriate HTTP status code for this error.
func (e ErrorCode) HTTPStatus() int {
	switch e {
	// 400 Bad Request - Client validation errors
	case ErrCodeMissingField,
		ErrCodeInvalidField,
		ErrCodeInvalidURL,
		ErrCodeEmptyURLList,
		ErrCodeURLAlreadyIndexed,
		ErrCodeAlreadyRefunded,
		ErrCodeNotDebited,
		ErrCodeProjectPaused:
		return 400

	// 401 Unauthorized
	case ErrCodeUnauthorized:
		return 401

	// 402 Payment Required - Credit balance too low
	case ErrCodeInsufficientCredits:
		return 402

	// 403 Forbidden
	case ErrCodeForbidden,
		ErrCodeCredentialDisabled:
		return 403

	// 404 Not Found - Resource not found
	case ErrCodeResourceNotFound,
		ErrCodeProjectNotFound,
		ErrCodeURLNotFound,
		ErrCodeUserNotFound,
		ErrCodeCredentialNotFound:
		return 404

	// 429 Too Many Requests - method window or credential quota exhausted
	case ErrCodeRateLimited,
		ErrCodeQuotaExhausted:
		return 429

	// 502 Bad Gateway - External service errors
	case ErrCodeSearchAPIError,
		ErrCodeProbeError,
		ErrCodeStripeError,
		ErrCodeNetworkError:
		return 502

	// 503 Service Unavailable - scheduling backends down
	case ErrCodeQueueError,
		ErrCodeNoCredentials:
		return 503

	// 500 Internal Server Error - System/internal errors
	default:
		return 500
	}
}

// Package errors provides structured error handling with HTTP status mapping.
package errors

import "net/http"

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// Auth errors
	CodeAuthMissingToken       Code = "AUTH_MISSING_TOKEN"
	CodeAuthInvalidToken       Code = "AUTH_INVALID_TOKEN"
	CodeAuthVerificationFailed Code = "AUTH_VERIFICATION_FAILED"

	// Entitlement errors
	CodeEntitlementNotSubscribed   Code = "ENTITLEMENT_NOT_SUBSCRIBED"
	CodeEntitlementNoChannelAccess Code = "ENTITLEMENT_NO_CHANNEL_ACCESS"
	CodeEntitlementCheckFailed     Code = "ENTITLEMENT_CHECK_FAILED"

	// Subscription flow errors
	CodeSubscriptionAlreadyActive Code = "SUBSCRIPTION_ALREADY_ACTIVE"
	CodeSubscriptionNotActive     Code = "SUBSCRIPTION_NOT_ACTIVE"

	// External collaborator errors
	CodeContentStoreFailed Code = "CONTENT_STORE_FAILED"
	CodeChannelPostFailed  Code = "CHANNEL_POST_FAILED"
	CodeChannelFetchFailed Code = "CHANNEL_FETCH_FAILED"

	// Pipeline errors
	CodePostRecordedDegraded Code = "POST_RECORDED_DEGRADED"
	CodeLedgerConflict       Code = "LEDGER_CONFLICT"

	// Request errors
	CodeValidation Code = "VALIDATION"

	// Storage errors
	CodeNotFound Code = "NOT_FOUND"

	// CodeInternal represents an unexpected internal failure.
	CodeInternal Code = "INTERNAL"
)

// HTTPStatus maps an error code to the HTTP status returned to callers.
func (c Code) HTTPStatus() int {
	switch c {
	case CodeAuthMissingToken, CodeAuthInvalidToken, CodeAuthVerificationFailed:
		return http.StatusUnauthorized
	case CodeEntitlementNotSubscribed, CodeEntitlementNoChannelAccess, CodeEntitlementCheckFailed:
		return http.StatusForbidden
	case CodeSubscriptionAlreadyActive, CodeSubscriptionNotActive, CodeValidation:
		return http.StatusBadRequest
	case CodeNotFound:
		return http.StatusNotFound
	case CodeContentStoreFailed, CodeChannelPostFailed, CodeChannelFetchFailed,
		CodePostRecordedDegraded, CodeLedgerConflict, CodeInternal, CodeUnknown:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

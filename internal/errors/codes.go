// Package errors provides structured error handling with a machine-readable
// code taxonomy. Callers distinguish expected outcomes (an anonymous caller
// hitting a protected write) from genuine faults (a malformed cookie header)
// by code, never by message text.
package errors

import "net/http"

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// CodeUnauthenticated indicates a protected operation without a
	// resolved session. This is a normal outcome, not a fault; user
	// interfaces render it as "log in to continue".
	CodeUnauthenticated Code = "UNAUTHENTICATED"

	// CodeNotFound indicates an operation on an absent document id.
	CodeNotFound Code = "NOT_FOUND"

	// CodeInvalidArgument indicates a malformed request payload.
	CodeInvalidArgument Code = "INVALID_ARGUMENT"

	// Schema errors
	CodeSchemaUnknownTable Code = "SCHEMA_UNKNOWN_TABLE"
	CodeSchemaUnknownIndex Code = "SCHEMA_UNKNOWN_INDEX"
	CodeSchemaUnknownField Code = "SCHEMA_UNKNOWN_FIELD"
	CodeSchemaMissingField Code = "SCHEMA_MISSING_FIELD"
	CodeSchemaInvalidField Code = "SCHEMA_INVALID_FIELD_TYPE"
	CodeSchemaSystemField  Code = "SCHEMA_SYSTEM_FIELD"

	// Session adapter errors
	CodeAdapterMalformedCookie        Code = "ADAPTER_MALFORMED_COOKIE"
	CodeAdapterMalformedAuthorization Code = "ADAPTER_MALFORMED_AUTHORIZATION"
	CodeAdapterVerifyTimeout          Code = "ADAPTER_VERIFY_TIMEOUT"
	CodeAdapterVerifyUnavailable      Code = "ADAPTER_VERIFY_UNAVAILABLE"

	// CodeOriginRejected indicates the declared origin is not allow-listed.
	CodeOriginRejected Code = "ORIGIN_REJECTED"

	// CodeUnavailable indicates a live subscription gave up reconnecting.
	CodeUnavailable Code = "UNAVAILABLE"
)

// HTTPStatus maps domain codes to HTTP status codes.
func (c Code) HTTPStatus() int {
	switch c {
	case CodeUnauthenticated:
		return http.StatusUnauthorized
	case CodeNotFound:
		return http.StatusNotFound
	case CodeOriginRejected:
		return http.StatusForbidden
	case CodeInvalidArgument,
		CodeSchemaUnknownTable,
		CodeSchemaUnknownIndex,
		CodeSchemaUnknownField,
		CodeSchemaMissingField,
		CodeSchemaInvalidField,
		CodeSchemaSystemField,
		CodeAdapterMalformedCookie,
		CodeAdapterMalformedAuthorization:
		return http.StatusBadRequest
	case CodeAdapterVerifyTimeout:
		return http.StatusGatewayTimeout
	case CodeUnavailable, CodeAdapterVerifyUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

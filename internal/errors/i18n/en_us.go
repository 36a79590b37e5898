package i18n

// Error codes must match the codes defined in internal/errors/codes.go.
// These are duplicated as strings to avoid an import cycle.
const (
	CodeUnauthenticated               = "UNAUTHENTICATED"
	CodeNotFound                      = "NOT_FOUND"
	CodeInvalidArgument               = "INVALID_ARGUMENT"
	CodeSchemaUnknownTable            = "SCHEMA_UNKNOWN_TABLE"
	CodeSchemaUnknownIndex            = "SCHEMA_UNKNOWN_INDEX"
	CodeSchemaUnknownField            = "SCHEMA_UNKNOWN_FIELD"
	CodeSchemaMissingField            = "SCHEMA_MISSING_FIELD"
	CodeSchemaInvalidField            = "SCHEMA_INVALID_FIELD_TYPE"
	CodeSchemaSystemField             = "SCHEMA_SYSTEM_FIELD"
	CodeAdapterMalformedCookie        = "ADAPTER_MALFORMED_COOKIE"
	CodeAdapterMalformedAuthorization = "ADAPTER_MALFORMED_AUTHORIZATION"
	CodeAdapterVerifyTimeout          = "ADAPTER_VERIFY_TIMEOUT"
	CodeAdapterVerifyUnavailable      = "ADAPTER_VERIFY_UNAVAILABLE"
	CodeOriginRejected                = "ORIGIN_REJECTED"
	CodeUnavailable                   = "UNAVAILABLE"
)

var enUSCatalog = &Catalog{
	locale: "en-US",
	messages: map[Code]string{
		CodeUnauthenticated: "You must be logged in to do that",
		CodeNotFound:        "The requested item was not found",
		CodeInvalidArgument: "The request is invalid",

		CodeSchemaUnknownTable: "Unknown table {{.Table}}",
		CodeSchemaUnknownIndex: "Unknown index {{.Index}} on table {{.Table}}",
		CodeSchemaUnknownField: "Unknown field {{.Field}} on table {{.Table}}",
		CodeSchemaMissingField: "Field {{.Field}} is required on table {{.Table}}",
		CodeSchemaInvalidField: "Field {{.Field}} has the wrong type",
		CodeSchemaSystemField:  "Field {{.Field}} is set by the server and cannot be supplied",

		CodeAdapterMalformedCookie:        "The request carried a malformed cookie header",
		CodeAdapterMalformedAuthorization: "The request carried a malformed authorization header",
		CodeAdapterVerifyTimeout:          "Credential verification timed out",
		CodeAdapterVerifyUnavailable:      "Credential verification is unavailable",

		CodeOriginRejected: "Requests from this origin are not allowed",
		CodeUnavailable:    "The live connection is unavailable, try again later",
	},
}

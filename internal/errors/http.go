package errors

import (
	"errors"

	"github.com/louisbranch/tidepool/internal/errors/i18n"
)

// DefaultLocale is the default locale for error messages.
const DefaultLocale = "en-US"

// HTTPError is the transport-ready form of a domain error: the status to
// write, the machine-readable code, and the user-facing message.
type HTTPError struct {
	Status  int
	Code    Code
	Message string
}

// ToHTTP converts err to its HTTP representation for client responses.
// The user-facing message comes from the message catalog for the given
// locale, defaulting to en-US. Unknown errors map to a generic 500 so
// internal details never leak to callers.
func ToHTTP(err error, locale string) HTTPError {
	if locale == "" {
		locale = DefaultLocale
	}

	var appErr *Error
	if errors.As(err, &appErr) {
		catalog := i18n.GetCatalog(locale)
		return HTTPError{
			Status:  appErr.Code.HTTPStatus(),
			Code:    appErr.Code,
			Message: catalog.Format(string(appErr.Code), appErr.Metadata),
		}
	}

	return HTTPError{
		Status:  CodeUnknown.HTTPStatus(),
		Code:    CodeUnknown,
		Message: "an unexpected error occurred",
	}
}

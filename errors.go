package htmlshot

import "errors"

// Sentinel errors returned by the library.
var (
	// ErrClosed is returned when attempting to use a closed [Shooter].
	ErrClosed = errors.New("htmlshot: shooter is closed")

	// ErrMissingTarget is returned when a request names neither a URL nor
	// HTML.
	ErrMissingTarget = &ValidationError{Field: "url", Reason: `either "url" or "html" is required`}

	// ErrConflictingTarget is returned when a request names both a URL and
	// HTML.
	ErrConflictingTarget = &ValidationError{Field: "html", Reason: `"url" and "html" are mutually exclusive`}
)

// ValidationError reports a malformed [Request]. No browser resources are
// touched when a request fails validation.
type ValidationError struct {
	Field  string
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	if e.Err != nil {
		return "htmlshot: invalid request: " + e.Reason + ": " + e.Err.Error()
	}
	return "htmlshot: invalid request: " + e.Reason
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// IsValidation reports whether err is or wraps a [ValidationError].
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

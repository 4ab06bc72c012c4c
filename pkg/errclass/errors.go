package errclass

import (
	"errors"
	"fmt"
)

// Error is a stable, machine-readable error class.
type Error struct {
	Code    string
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return e.Code
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && e.Code == t.Code
}

// WithMessage returns a new Error with the same Code but a specific message.
func (e *Error) WithMessage(msg string) *Error {
	return &Error{Code: e.Code, Message: msg}
}

// WithMessagef returns a new Error with a formatted message.
func (e *Error) WithMessagef(format string, args ...any) *Error {
	return &Error{Code: e.Code, Message: fmt.Sprintf(format, args...)}
}

var (
	// ErrPermissionDenied means the usage provider refused access (permission revoked).
	ErrPermissionDenied = &Error{Code: "E_PERMISSION_DENIED"}
	// ErrProviderUnavailable means the usage provider failed transiently.
	ErrProviderUnavailable = &Error{Code: "E_PROVIDER_UNAVAILABLE"}
	// ErrInvalidStateTransition is returned for lifecycle calls made from the wrong state.
	ErrInvalidStateTransition = &Error{Code: "E_INVALID_STATE_TRANSITION"}
	// ErrDismissNotAllowed is returned when the user close affordance is disabled.
	ErrDismissNotAllowed = &Error{Code: "E_DISMISS_NOT_ALLOWED"}
	ErrInvalidArgument   = &Error{Code: "E_INVALID_ARGUMENT"}
)

// Classify maps a provider failure onto the provider error taxonomy.
// Permission failures keep their class; everything else is reported as
// ErrProviderUnavailable. A nil error classifies as nil.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}
	var ce *Error
	if errors.As(err, &ce) && (ce.Is(ErrPermissionDenied) || ce.Is(ErrProviderUnavailable)) {
		return ce
	}
	return ErrProviderUnavailable.WithMessage(err.Error())
}

// Code returns the class code of err, or "" when err carries no class.
func Code(err error) string {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Code
	}
	return ""
}

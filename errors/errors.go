// Package errors provides the coarse error-kind taxonomy used across the
// engine. Every component returns one of these kinds (wrapped with a
// detail message) instead of an ad-hoc error, so the HTTP surface can map
// errors to status codes without inspecting component-specific types.
package errors

import "fmt"

// ErrorType is a coarse category for UpdateServerErrors.
type ErrorType int

const (
	// Internal indicates a store failure or other bug. The HTTP surface
	// maps it to 500 and, as for every kind, writes its detail message as
	// the response body.
	Internal ErrorType = iota
	// BadRequest indicates malformed or missing client input.
	BadRequest
	// NotFound indicates the requested app/upload/asset does not exist.
	NotFound
	// Conflict indicates a uniqueness violation (duplicate slug).
	Conflict
	// Validation indicates malformed PEM or archive content.
	Validation
	// Config indicates the server is missing configuration required to
	// service the request (e.g. signing requested but no key on file).
	Config
	// ForbiddenPath indicates a blob key attempting to escape its
	// intended prefix (spec §4.7 path policy).
	ForbiddenPath
)

func (t ErrorType) String() string {
	switch t {
	case Internal:
		return "internal"
	case BadRequest:
		return "bad_request"
	case NotFound:
		return "not_found"
	case Conflict:
		return "conflict"
	case Validation:
		return "validation"
	case Config:
		return "config"
	case ForbiddenPath:
		return "forbidden_path"
	default:
		return "unknown"
	}
}

// UpdateServerError represents a categorized error produced by any engine
// component.
type UpdateServerError struct {
	Type   ErrorType
	Detail string
}

func (e *UpdateServerError) Error() string {
	return e.Detail
}

// New is a convenience constructor for a categorized error.
func New(t ErrorType, msg string, args ...interface{}) error {
	return &UpdateServerError{Type: t, Detail: fmt.Sprintf(msg, args...)}
}

// Is reports whether err is an UpdateServerError of the given type.
func Is(err error, t ErrorType) bool {
	use, ok := err.(*UpdateServerError)
	if !ok {
		return false
	}
	return use.Type == t
}

// TypeOf returns the ErrorType of err, or Internal if err is not an
// UpdateServerError.
func TypeOf(err error) ErrorType {
	use, ok := err.(*UpdateServerError)
	if !ok {
		return Internal
	}
	return use.Type
}

func InternalError(msg string, args ...interface{}) error {
	return New(Internal, msg, args...)
}

func BadRequestError(msg string, args ...interface{}) error {
	return New(BadRequest, msg, args...)
}

func NotFoundError(msg string, args ...interface{}) error {
	return New(NotFound, msg, args...)
}

func ConflictError(msg string, args ...interface{}) error {
	return New(Conflict, msg, args...)
}

func ValidationError(msg string, args ...interface{}) error {
	return New(Validation, msg, args...)
}

func ConfigError(msg string, args ...interface{}) error {
	return New(Config, msg, args...)
}

func ForbiddenPathError(msg string, args ...interface{}) error {
	return New(ForbiddenPath, msg, args...)
}

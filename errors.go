package pushduck

import "fmt"

// Code enumerates the fixed error taxonomy the router and façade surface.
type Code string

const (
	CodeInvalidConfiguration Code = "InvalidConfiguration"
	CodeUnknownRoute         Code = "UnknownRoute"
	CodeInvalidRequest       Code = "InvalidRequest"
	CodeValidationFailed     Code = "ValidationFailed"
	CodeMiddlewareFailed     Code = "MiddlewareFailed"
	CodeSigningFailed        Code = "SigningFailed"
	CodeRateLimited          Code = "RateLimited"
	CodeStorageError         Code = "StorageError"
)

// Error is the error type returned by router- and config-level failures.
// Per-file failures inside a batch are reported as PresignResult.Error /
// CompletionResult.Error strings, not as Error values — only
// protocol-level and build-time failures use this type.
type Error struct {
	Code    Code
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("pushduck: %s: %s", e.Code, e.Message)
}

// NewError constructs an *Error with the given code and message.
func NewError(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// HTTPStatus maps a Code to the status code the router's POST/GET handlers
// respond with for protocol-level errors.
func (c Code) HTTPStatus() int {
	switch c {
	case CodeUnknownRoute:
		return 404
	case CodeInvalidRequest:
		return 400
	case CodeRateLimited:
		return 429
	case CodeInvalidConfiguration:
		return 500
	default:
		return 200
	}
}

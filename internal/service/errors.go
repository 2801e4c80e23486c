package service

import "errors"

// Request-level failures. Each is recoverable and scoped to a single request;
// the handler maps them to a status code and machine-readable error code.
var (
	ErrInvalidPath    = errors.New("invalid path")
	ErrPathTraversal  = errors.New("path traversal")
	ErrUnknownBackend = errors.New("unknown backend")
	ErrPathDenied     = errors.New("path denied")
	ErrBodyTooLarge   = errors.New("request body too large")
)

// Error codes returned to clients in the "error" field of JSON error bodies.
const (
	CodeInvalidPath    = "invalid_path"
	CodePathTraversal  = "path_traversal"
	CodeUnknownBackend = "unknown_backend"
	CodePathDenied     = "path_denied"
	CodeBodyTooLarge   = "body_too_large"
	CodeUpstreamError  = "upstream_error"
)

// ErrorCode returns the client-facing code for err.
// Anything that is not a routing or body-limit failure is an upstream error.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrInvalidPath):
		return CodeInvalidPath
	case errors.Is(err, ErrPathTraversal):
		return CodePathTraversal
	case errors.Is(err, ErrUnknownBackend):
		return CodeUnknownBackend
	case errors.Is(err, ErrPathDenied):
		return CodePathDenied
	case errors.Is(err, ErrBodyTooLarge):
		return CodeBodyTooLarge
	default:
		return CodeUpstreamError
	}
}

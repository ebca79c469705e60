package api

import "errors"

var (
	// ErrPermission marks a 401/403 from the backend. Never retried.
	ErrPermission = errors.New("permission denied")
	// ErrValidation marks a 4xx rejection of the request payload. Never retried.
	ErrValidation = errors.New("request rejected")
	// ErrNotFound marks a missing chat or message.
	ErrNotFound = errors.New("not found")
)

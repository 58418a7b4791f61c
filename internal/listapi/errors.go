package listapi

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrUnauthorized matches 401 and 403 responses. Callers should send the
	// user through re-authentication instead of retrying.
	ErrUnauthorized = errors.New("listapi: unauthorized")
	ErrNotFound     = errors.New("listapi: not found")
)

// APIError is a non-2xx response from the list service.
type APIError struct {
	Method  string
	Path    string
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s %s failed: status %d", e.Method, e.Path, e.Status)
	}
	return fmt.Sprintf("%s %s failed: status %d: %s", e.Method, e.Path, e.Status, e.Message)
}

func (e *APIError) Is(target error) bool {
	switch target {
	case ErrUnauthorized:
		return e.Status == http.StatusUnauthorized || e.Status == http.StatusForbidden
	case ErrNotFound:
		return e.Status == http.StatusNotFound
	}
	return false
}

// Reason returns the server-provided message carried by err, if any.
func Reason(err error) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Message
	}
	return ""
}

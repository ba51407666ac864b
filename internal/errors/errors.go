// Package errors defines the failure taxonomy for chat submissions and the
// generation endpoint.
package errors

import (
	"errors"
	"fmt"
)

// Sentinel errors for common cases
var (
	ErrEmptySubmission      = errors.New("empty submission")
	ErrNetworkFailure       = errors.New("network failure")
	ErrMalformedResponse    = errors.New("malformed response")
	ErrNoContent            = fmt.Errorf("no content in response: %w", ErrMalformedResponse)
	ErrConfigurationMissing = errors.New("api key not configured")
)

// NetworkError represents a transport-level failure reaching the endpoint
type NetworkError struct {
	Endpoint string
	Err      error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error at %s: %v", e.Endpoint, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// Is allows comparison with ErrNetworkFailure
func (e *NetworkError) Is(target error) bool {
	return target == ErrNetworkFailure
}

// NewNetworkError creates a new NetworkError
func NewNetworkError(endpoint string, err error) *NetworkError {
	return &NetworkError{Endpoint: endpoint, Err: err}
}

// APIError represents a non-2xx answer from the endpoint
type APIError struct {
	StatusCode int
	Endpoint   string
	Message    string
	// MissingKey is set when the request went out without an API key.
	MissingKey bool
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("API error [%d] at %s", e.StatusCode, e.Endpoint)
	}
	return fmt.Sprintf("API error [%d] at %s: %s", e.StatusCode, e.Endpoint, e.Message)
}

// Is matches ErrConfigurationMissing when no key was sent
func (e *APIError) Is(target error) bool {
	return e.MissingKey && target == ErrConfigurationMissing
}

// NewAPIError creates a new APIError
func NewAPIError(statusCode int, endpoint, message string) *APIError {
	return &APIError{
		StatusCode: statusCode,
		Endpoint:   endpoint,
		Message:    message,
	}
}

// ParseError represents a success response that is not valid JSON
type ParseError struct {
	Message string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse error: %s", e.Message)
}

// Is allows comparison with ErrMalformedResponse
func (e *ParseError) Is(target error) bool {
	return target == ErrMalformedResponse
}

// NewParseError creates a new ParseError
func NewParseError(message string) *ParseError {
	return &ParseError{Message: message}
}

// Reason returns a short, user-facing description of err.
func Reason(err error) string {
	var apiErr *APIError
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrConfigurationMissing):
		return "the API key is not configured"
	case errors.As(err, &apiErr):
		if apiErr.Message != "" {
			return fmt.Sprintf("the server answered %d: %s", apiErr.StatusCode, apiErr.Message)
		}
		return fmt.Sprintf("the server answered %d", apiErr.StatusCode)
	case errors.Is(err, ErrNetworkFailure):
		return "could not reach the server"
	default:
		return err.Error()
	}
}

package api

import (
	"errors"
	"fmt"
	"time"

	"stock-analysis-fetcher/internal/types"
)

// TimeoutError means the attempt exceeded the client timeout.
type TimeoutError struct {
	URL     string
	Timeout time.Duration
	Err     error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("request to %s timed out after %s: %v", e.URL, e.Timeout, e.Err)
}

func (e *TimeoutError) Unwrap() error { return e.Err }

// NetworkError covers DNS, connect, TLS and redirect-cap failures.
type NetworkError struct {
	URL string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("request to %s failed: %v", e.URL, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// ServerError is a 5xx response. Response holds the decoded body.
type ServerError struct {
	URL        string
	StatusCode int
	Response   *Response
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("HTTP %d from %s", e.StatusCode, e.URL)
}

// Classify maps a Send error onto an ErrorKind.
func Classify(err error) types.ErrorKind {
	var (
		timeoutErr *TimeoutError
		serverErr  *ServerError
	)
	switch {
	case errors.As(err, &timeoutErr):
		return types.ErrorKindTimeout
	case errors.As(err, &serverErr):
		return types.ErrorKindServer
	default:
		return types.ErrorKindNetwork
	}
}

// StatusCode returns the HTTP status carried by err, or 0.
func StatusCode(err error) int {
	var serverErr *ServerError
	if errors.As(err, &serverErr) {
		return serverErr.StatusCode
	}
	return 0
}

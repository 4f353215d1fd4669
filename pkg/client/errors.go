package client

import (
	"errors"
	"fmt"
	"io"
	"net/http"
)

// Common errors returned by the executor.
var (
	// ErrRetryExhausted is returned when a network-level failure persists
	// through all retry attempts.
	ErrRetryExhausted = errors.New("retry attempts exhausted")

	// ErrContextCancelled is returned when the context is cancelled while
	// waiting on the limiter or a backoff sleep.
	ErrContextCancelled = errors.New("context cancelled")
)

// ErrorClass represents a classification of request failures.
type ErrorClass string

const (
	// ErrorClassThrottle represents 429 rate limit responses.
	ErrorClassThrottle ErrorClass = "throttle"

	// ErrorClassServer represents 5xx server errors.
	ErrorClassServer ErrorClass = "server"

	// ErrorClassClient represents non-retriable 4xx client errors.
	ErrorClassClient ErrorClass = "client"

	// ErrorClassNetwork represents network/timeout errors.
	ErrorClassNetwork ErrorClass = "network"
)

// ClassifyStatus maps an HTTP status code to an error class. Statuses
// below 400 classify as "".
func ClassifyStatus(statusCode int) ErrorClass {
	switch {
	case statusCode == http.StatusTooManyRequests:
		return ErrorClassThrottle
	case statusCode >= 500 && statusCode < 600:
		return ErrorClassServer
	case statusCode >= 400:
		return ErrorClassClient
	default:
		return ""
	}
}

// APIError represents a terminal HubSpot API error response.
type APIError struct {
	StatusCode int
	ErrorClass ErrorClass
	Message    string
	Err        error
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("hubspot %s error (status %d): %s: %v",
			e.ErrorClass, e.StatusCode, e.Message, e.Err)
	}
	return fmt.Sprintf("hubspot %s error (status %d): %s",
		e.ErrorClass, e.StatusCode, e.Message)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *APIError) Unwrap() error {
	return e.Err
}

// maxErrorBodyBytes bounds how much of an error response body is captured
// into the APIError message.
const maxErrorBodyBytes = 512

// ErrorFromResponse builds an APIError from a non-2xx response, consuming
// up to maxErrorBodyBytes of the body for context. The body is closed.
func ErrorFromResponse(resp *http.Response) *APIError {
	defer resp.Body.Close()

	message := resp.Status
	if body, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes)); err == nil && len(body) > 0 {
		message = fmt.Sprintf("%s: %s", resp.Status, body)
	}

	return &APIError{
		StatusCode: resp.StatusCode,
		ErrorClass: ClassifyStatus(resp.StatusCode),
		Message:    message,
	}
}

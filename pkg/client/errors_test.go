package client

import (
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
)

func TestClassifyStatus(t *testing.T) {
	tests := []struct {
		status int
		want   ErrorClass
	}{
		{200, ""},
		{304, ""},
		{400, ErrorClassClient},
		{401, ErrorClassClient},
		{404, ErrorClassClient},
		{429, ErrorClassThrottle},
		{500, ErrorClassServer},
		{502, ErrorClassServer},
		{599, ErrorClassServer},
	}

	for _, tt := range tests {
		if got := ClassifyStatus(tt.status); got != tt.want {
			t.Errorf("ClassifyStatus(%d) = %q, want %q", tt.status, got, tt.want)
		}
	}
}

func TestAPIError_Error(t *testing.T) {
	err := &APIError{
		StatusCode: 403,
		ErrorClass: ErrorClassClient,
		Message:    "403 Forbidden",
	}

	msg := err.Error()
	if !strings.Contains(msg, "403") || !strings.Contains(msg, "client") {
		t.Errorf("Error() = %q, want status and class in message", msg)
	}
}

func TestAPIError_Unwrap(t *testing.T) {
	inner := errors.New("inner failure")
	err := &APIError{
		StatusCode: 500,
		ErrorClass: ErrorClassServer,
		Message:    "boom",
		Err:        inner,
	}

	if !errors.Is(err, inner) {
		t.Error("errors.Is should find wrapped error")
	}
	if !strings.Contains(err.Error(), "inner failure") {
		t.Errorf("Error() = %q, want wrapped error included", err.Error())
	}
}

func TestErrorFromResponse(t *testing.T) {
	resp := &http.Response{
		StatusCode: 401,
		Status:     "401 Unauthorized",
		Body:       io.NopCloser(strings.NewReader(`{"message": "invalid token"}`)),
	}

	apiErr := ErrorFromResponse(resp)

	if apiErr.StatusCode != 401 {
		t.Errorf("StatusCode = %d, want 401", apiErr.StatusCode)
	}
	if apiErr.ErrorClass != ErrorClassClient {
		t.Errorf("ErrorClass = %q, want client", apiErr.ErrorClass)
	}
	if !strings.Contains(apiErr.Message, "invalid token") {
		t.Errorf("Message = %q, want body captured", apiErr.Message)
	}
}

func TestErrorFromResponse_TruncatesLargeBody(t *testing.T) {
	resp := &http.Response{
		StatusCode: 500,
		Status:     "500 Internal Server Error",
		Body:       io.NopCloser(strings.NewReader(strings.Repeat("x", 10_000))),
	}

	apiErr := ErrorFromResponse(resp)

	if len(apiErr.Message) > maxErrorBodyBytes+64 {
		t.Errorf("Message length = %d, want body capped near %d bytes", len(apiErr.Message), maxErrorBodyBytes)
	}
}

package llm

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name          string
		err           error
		wantType      ErrorType
		wantRetryable bool
		wantStatus    int
	}{
		{
			name:          "401 unauthorized",
			err:           errors.New("error, status code: 401, message: Incorrect API key provided"),
			wantType:      ErrorTypeAuth,
			wantRetryable: false,
			wantStatus:    401,
		},
		{
			name:          "invalid api key text",
			err:           errors.New("invalid api key"),
			wantType:      ErrorTypeAuth,
			wantRetryable: false,
		},
		{
			name:          "model does not exist",
			err:           errors.New("the model `gpt-nope` does not exist"),
			wantType:      ErrorTypeModel,
			wantRetryable: false,
		},
		{
			name:          "model not found",
			err:           errors.New("model not found"),
			wantType:      ErrorTypeModel,
			wantRetryable: false,
		},
		{
			name:          "404 endpoint",
			err:           errors.New("status code: 404, page not found"),
			wantType:      ErrorTypeEndpoint,
			wantRetryable: false,
			wantStatus:    404,
		},
		{
			name:          "connection refused",
			err:           errors.New("dial tcp 127.0.0.1:8000: connection refused"),
			wantType:      ErrorTypeEndpoint,
			wantRetryable: true,
		},
		{
			name:          "no such host",
			err:           errors.New("dial tcp: lookup api.nowhere.invalid: no such host"),
			wantType:      ErrorTypeEndpoint,
			wantRetryable: true,
		},
		{
			name:          "deadline exceeded",
			err:           errors.New("context deadline exceeded"),
			wantType:      ErrorTypeEndpoint,
			wantRetryable: true,
		},
		{
			name:          "rate limited",
			err:           errors.New("error, status code: 429, message: Rate limit reached"),
			wantType:      ErrorTypeUnknown,
			wantRetryable: true,
			wantStatus:    429,
		},
		{
			name:          "server error",
			err:           errors.New("error, status code: 503, message: overloaded"),
			wantType:      ErrorTypeEndpoint,
			wantRetryable: true,
			wantStatus:    503,
		},
		{
			name:          "unclassified",
			err:           errors.New("something odd happened"),
			wantType:      ErrorTypeUnknown,
			wantRetryable: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := ClassifyError(tt.err)
			if result == nil {
				t.Fatal("expected classified error, got nil")
			}
			if result.Type != tt.wantType {
				t.Errorf("Type = %q, want %q", result.Type, tt.wantType)
			}
			if result.Retryable != tt.wantRetryable {
				t.Errorf("Retryable = %v, want %v", result.Retryable, tt.wantRetryable)
			}
			if tt.wantStatus != 0 && result.StatusCode != tt.wantStatus {
				t.Errorf("StatusCode = %d, want %d", result.StatusCode, tt.wantStatus)
			}
		})
	}
}

func TestClassifyError_Nil(t *testing.T) {
	if got := ClassifyError(nil); got != nil {
		t.Errorf("ClassifyError(nil) = %v, want nil", got)
	}
}

func TestClassifyError_PassesThroughStructuredError(t *testing.T) {
	original := NewError(ErrorTypeAuth, "authentication failed", false, errors.New("401"))
	wrapped := fmt.Errorf("call failed: %w", original)

	result := ClassifyError(wrapped)
	if result != original {
		t.Errorf("expected the original *Error back, got %v", result)
	}
}

func TestError_Message(t *testing.T) {
	err := &Error{
		Type:       ErrorTypeAuth,
		Message:    "authentication failed",
		StatusCode: 401,
		Model:      "gpt-4o-mini",
		Cause:      errors.New("boom"),
	}

	msg := err.Error()
	for _, want := range []string{"auth", "HTTP 401", "model=gpt-4o-mini", "authentication failed", "boom"} {
		if !strings.Contains(msg, want) {
			t.Errorf("Error() = %q, missing %q", msg, want)
		}
	}
}

func TestError_Unwrap(t *testing.T) {
	cause := errors.New("root cause")
	err := NewError(ErrorTypeUnknown, "llm error", false, cause)

	if !errors.Is(err, cause) {
		t.Error("errors.Is did not find the wrapped cause")
	}
}

func TestIsRetryable(t *testing.T) {
	retryable := NewError(ErrorTypeEndpoint, "server error", true, nil)
	terminal := NewError(ErrorTypeAuth, "authentication failed", false, nil)

	if !IsRetryable(retryable) {
		t.Error("expected retryable error to report retryable")
	}
	if IsRetryable(terminal) {
		t.Error("expected auth error to report not retryable")
	}
	if IsRetryable(errors.New("plain")) {
		t.Error("expected plain error to report not retryable")
	}
}

func TestGetErrorType(t *testing.T) {
	if got := GetErrorType(NewError(ErrorTypeModel, "model not found", false, nil)); got != ErrorTypeModel {
		t.Errorf("GetErrorType = %q, want %q", got, ErrorTypeModel)
	}
	if got := GetErrorType(errors.New("plain")); got != ErrorTypeUnknown {
		t.Errorf("GetErrorType = %q, want %q", got, ErrorTypeUnknown)
	}
}

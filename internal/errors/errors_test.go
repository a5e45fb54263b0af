package errors

import (
	"context"
	"fmt"
	"testing"
)

func TestUGoodError_Error(t *testing.T) {
	err := &UGoodError{
		Code:    ErrNotFound,
		Status:  404,
		Message: "match not found",
	}

	expected := "NOT_FOUND: match not found"
	if err.Error() != expected {
		t.Errorf("Error() = %q, want %q", err.Error(), expected)
	}
}

func TestNewInvalidRequest(t *testing.T) {
	err := NewInvalidRequest("content is required")

	if err.Code != ErrInvalidRequest {
		t.Errorf("Code = %q, want %q", err.Code, ErrInvalidRequest)
	}
	if err.Status != 400 {
		t.Errorf("Status = %d, want 400", err.Status)
	}
	if err.Message != "content is required" {
		t.Errorf("Message = %q, want %q", err.Message, "content is required")
	}
}

func TestNewContentTooLong(t *testing.T) {
	err := NewContentTooLong("content", 300, 301)

	if err.Code != ErrInvalidRequest {
		t.Errorf("Code = %q, want %q", err.Code, ErrInvalidRequest)
	}
	if err.Details["max_chars"] != 300 {
		t.Errorf("Details[max_chars] = %v, want 300", err.Details["max_chars"])
	}
	if err.Details["actual_chars"] != 301 {
		t.Errorf("Details[actual_chars] = %v, want 301", err.Details["actual_chars"])
	}
}

func TestNewNotFound(t *testing.T) {
	err := NewNotFound("match", "01ABC")

	if err.Code != ErrNotFound {
		t.Errorf("Code = %q, want %q", err.Code, ErrNotFound)
	}
	if err.Status != 404 {
		t.Errorf("Status = %d, want 404", err.Status)
	}
	if err.Details["id"] != "01ABC" {
		t.Errorf("Details[id] = %v, want %q", err.Details["id"], "01ABC")
	}
	if err.Message != "match not found: 01ABC" {
		t.Errorf("Message = %q", err.Message)
	}
}

func TestStatuses(t *testing.T) {
	tests := []struct {
		err    *UGoodError
		code   ErrorCode
		status int
	}{
		{NewUnauthenticated("missing token"), ErrUnauthenticated, 401},
		{NewUnauthorized("not your match"), ErrUnauthorized, 403},
		{NewConflict("trouble already matched"), ErrConflict, 409},
		{NewUnavailable(context.DeadlineExceeded), ErrUnavailable, 503},
		{NewInternal(fmt.Errorf("boom")), ErrInternal, 500},
	}

	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			if tt.err.Code != tt.code {
				t.Errorf("Code = %q, want %q", tt.err.Code, tt.code)
			}
			if tt.err.Status != tt.status {
				t.Errorf("Status = %d, want %d", tt.err.Status, tt.status)
			}
		})
	}
}

func TestNewInternal_NilError(t *testing.T) {
	err := NewInternal(nil)
	if err.Message != "internal error" {
		t.Errorf("Message = %q, want %q", err.Message, "internal error")
	}
}

func TestIs(t *testing.T) {
	err := NewNotFound("trouble", "x")

	if !Is(err, ErrNotFound) {
		t.Error("Is(err, ErrNotFound) = false, want true")
	}
	if Is(err, ErrConflict) {
		t.Error("Is(err, ErrConflict) = true, want false")
	}
	if Is(fmt.Errorf("plain"), ErrNotFound) {
		t.Error("Is(plain error) = true, want false")
	}
	if Is(nil, ErrNotFound) {
		t.Error("Is(nil) = true, want false")
	}
}

func TestIs_Wrapped(t *testing.T) {
	err := fmt.Errorf("claim: %w", NewConflict("lost race"))

	if !Is(err, ErrConflict) {
		t.Error("Is should see through fmt.Errorf wrapping")
	}
}

func TestRetryable(t *testing.T) {
	if !Retryable(NewUnavailable(nil)) {
		t.Error("UNAVAILABLE should be retryable")
	}
	if Retryable(NewInvalidRequest("bad")) {
		t.Error("INVALID_REQUEST should not be retryable")
	}
}

func TestUnwrap(t *testing.T) {
	err := NewUnavailable(context.DeadlineExceeded)
	if !isDeadline(err) {
		t.Error("Unwrap should expose the driver error")
	}
}

func isDeadline(err error) bool {
	u, ok := As(err)
	return ok && u.Unwrap() == context.DeadlineExceeded
}

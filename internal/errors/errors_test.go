package errors

import (
	"errors"
	"strings"
	"testing"
)

func TestCodedError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *CodedError
		expected string
	}{
		{
			name:     "error without cause",
			err:      New(CodeSessionNotFound, "no active session"),
			expected: "session.not_found: no active session",
		},
		{
			name:     "error with cause",
			err:      Wrap(CodeDriverInitFailed, "init failed", errors.New("exit status 1")),
			expected: "driver.init_failed: init failed (exit status 1)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.expected {
				t.Errorf("Error() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestCodedError_Unwrap(t *testing.T) {
	cause := errors.New("original error")
	err := Wrap(CodeInternal, "wrapped", cause)

	if err.Unwrap() != cause {
		t.Error("Unwrap() should return the original cause")
	}

	err2 := New(CodeSessionNotFound, "not found")
	if err2.Unwrap() != nil {
		t.Error("Unwrap() should return nil when no cause")
	}
}

func TestGetCode(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected string
	}{
		{name: "nil error", err: nil, expected: ""},
		{name: "CodedError", err: New(CodePairingTimeout, "timeout"), expected: CodePairingTimeout},
		{name: "wrapped CodedError", err: Wrap(CodeDriverAuthFailed, "failed", errors.New("cause")), expected: CodeDriverAuthFailed},
		{name: "plain error", err: errors.New("some error"), expected: CodeUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := GetCode(tt.err); got != tt.expected {
				t.Errorf("GetCode() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestToCodeAndMessage(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		wantCode    string
		wantMessage string
	}{
		{name: "nil error"},
		{
			name:        "CodedError",
			err:         New(CodeTenantInvalidID, "bad id"),
			wantCode:    CodeTenantInvalidID,
			wantMessage: "bad id",
		},
		{
			name:        "plain error",
			err:         errors.New("some error"),
			wantCode:    CodeUnknown,
			wantMessage: "some error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, message := ToCodeAndMessage(tt.err)
			if code != tt.wantCode {
				t.Errorf("ToCodeAndMessage() code = %q, want %q", code, tt.wantCode)
			}
			if message != tt.wantMessage {
				t.Errorf("ToCodeAndMessage() message = %q, want %q", message, tt.wantMessage)
			}
			if got := GetMessage(tt.err); got != tt.wantMessage {
				t.Errorf("GetMessage() = %q, want %q", got, tt.wantMessage)
			}
		})
	}
}

func TestIsCode(t *testing.T) {
	err := SessionNotFound("abc")

	if !IsCode(err, CodeSessionNotFound) {
		t.Error("IsCode() should return true for matching code")
	}
	if IsCode(err, CodePairingTimeout) {
		t.Error("IsCode() should return false for non-matching code")
	}
	if IsCode(nil, CodeSessionNotFound) {
		t.Error("IsCode() should return false for nil error")
	}
}

func TestErrorConstructors(t *testing.T) {
	cause := errors.New("boom")

	tests := []struct {
		name     string
		err      *CodedError
		code     string
		contains string
	}{
		{"InvalidTenantID", InvalidTenantID("contains '..'"), CodeTenantInvalidID, "contains '..'"},
		{"SessionNotFound", SessionNotFound("abc"), CodeSessionNotFound, "abc"},
		{"InvalidState", InvalidState("abc", "QR_PENDING", "logout"), CodeSessionInvalidState, "QR_PENDING"},
		{"PairingNotAvailable", PairingNotAvailable("abc"), CodePairingNotAvailable, "abc"},
		{"PairingTimeout", PairingTimeout("abc"), CodePairingTimeout, "timeout"},
		{"PairingClosed", PairingClosed("abc"), CodePairingClosed, "ended"},
		{"DriverInitFailed", DriverInitFailed("abc", cause), CodeDriverInitFailed, "initialization"},
		{"DriverLogoutFailed", DriverLogoutFailed("abc", cause), CodeDriverLogoutFailed, "logout"},
		{"DriverSendFailed", DriverSendFailed("abc", cause), CodeDriverSendFailed, "send"},
		{"RateLimited", RateLimited(), CodeServerRateLimited, "too many"},
		{"NotFound", NotFound("client"), CodeStorageNotFound, "client not found"},
		{"Internal", Internal("database error", cause), CodeInternal, "database error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !IsCode(tt.err, tt.code) {
				t.Errorf("code = %q, want %q", GetCode(tt.err), tt.code)
			}
			if !strings.Contains(tt.err.Message, tt.contains) {
				t.Errorf("message %q should contain %q", tt.err.Message, tt.contains)
			}
		})
	}

	if DriverInitFailed("abc", cause).Cause != cause {
		t.Error("DriverInitFailed() should preserve cause")
	}
}

func TestErrorsAs(t *testing.T) {
	cause := errors.New("original")
	coded := Wrap(CodeDriverInitFailed, "wrapped", cause)
	wrapped := Wrap(CodeInternal, "double wrapped", coded)

	var target *CodedError
	if !errors.As(wrapped, &target) {
		t.Fatal("errors.As should find CodedError in chain")
	}
	if target.Code != CodeInternal {
		t.Errorf("errors.As should find outermost CodedError, got code %q", target.Code)
	}
	if !errors.Is(wrapped, cause) {
		t.Error("errors.Is should reach the root cause")
	}
}

func TestErrorCodes(t *testing.T) {
	codes := []string{
		CodeTenantInvalidID,
		CodeSessionNotFound,
		CodeSessionInvalidState,
		CodeSessionShuttingDown,
		CodePairingNotAvailable,
		CodePairingTimeout,
		CodePairingClosed,
		CodeDriverInitFailed,
		CodeDriverAuthFailed,
		CodeDriverLogoutFailed,
		CodeDriverSendFailed,
		CodeDriverClosed,
		CodeStorageNotFound,
		CodeStorageOpenFailed,
		CodeStorageQueryFailed,
		CodeStorageSaveFailed,
		CodeServerInvalidRequest,
		CodeServerMethodNotAllowed,
		CodeServerRateLimited,
		CodeAuthRequired,
		CodeAuthInvalid,
		CodeUnknown,
		CodeInternal,
	}

	for _, code := range codes {
		if code == "" {
			t.Error("error code should not be empty")
			continue
		}
		if !strings.Contains(code, ".") {
			t.Errorf("error code %q should be in format {domain}.{error}", code)
		}
	}
}

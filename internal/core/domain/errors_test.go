package domain

import (
	"errors"
	"fmt"
	"testing"
)

func TestDomainError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *DomainError
		expected string
	}{
		{
			name:     "error without details",
			err:      NewDomainError("SF-TEST-1000", KindInternal, "test message"),
			expected: "[SF-TEST-1000] test message",
		},
		{
			name:     "error with details",
			err:      NewDomainError("SF-TEST-1001", KindInternal, "test message").WithDetails("extra info"),
			expected: "[SF-TEST-1001] test message: extra info",
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

func TestDomainError_Is(t *testing.T) {
	err1 := NewDomainError("SF-TEST-1000", KindInternal, "message 1")
	err2 := NewDomainError("SF-TEST-1000", KindTimeout, "message 2")
	err3 := NewDomainError("SF-TEST-1001", KindInternal, "message 1")

	if !errors.Is(err1, err2) {
		t.Error("errors.Is should return true for same error code")
	}
	if errors.Is(err1, err3) {
		t.Error("errors.Is should return false for different error code")
	}
	if errors.Is(err1, fmt.Errorf("some error")) {
		t.Error("errors.Is should return false for non-DomainError")
	}
}

func TestDomainError_WithDetailsKeepsOriginal(t *testing.T) {
	withDetails := ErrNotFound.WithDetails("key: counter")

	if ErrNotFound.Details != "" {
		t.Error("WithDetails should not modify original error")
	}
	if withDetails.Kind != KindNotFound {
		t.Errorf("Kind = %q, want %q", withDetails.Kind, KindNotFound)
	}
	if withDetails.Code != ErrNotFound.Code {
		t.Errorf("Code = %q, want %q", withDetails.Code, ErrNotFound.Code)
	}
}

func TestDomainError_Unwrap(t *testing.T) {
	cause := fmt.Errorf("underlying cause")
	err := ErrStoreUnavailable.WithCause(cause)

	if errors.Unwrap(err) != cause {
		t.Errorf("Unwrap() = %v, want %v", errors.Unwrap(err), cause)
	}
	if errors.Unwrap(ErrStoreUnavailable) != nil {
		t.Error("Unwrap() should return nil when no cause")
	}
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"nil", nil, ""},
		{"domain error", ErrVersionConflict, KindVersionConflict},
		{"wrapped domain error", fmt.Errorf("put: %w", ErrStoreUnavailable), KindStoreUnavailable},
		{"plain error", errors.New("boom"), KindHandlerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := KindOf(tt.err); got != tt.want {
				t.Errorf("KindOf() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestGetErrorCode(t *testing.T) {
	if got := GetErrorCode(fmt.Errorf("wrapped: %w", ErrDecode)); got != "SF-INVK-4000" {
		t.Errorf("GetErrorCode() = %q, want SF-INVK-4000", got)
	}
	if got := GetErrorCode(errors.New("regular")); got != "" {
		t.Errorf("GetErrorCode() = %q, want empty", got)
	}
	if !IsDomainError(ErrTimeout, "") {
		t.Error("IsDomainError should accept any DomainError when code is empty")
	}
}

func TestPredefinedErrors(t *testing.T) {
	tests := []struct {
		err  *DomainError
		code string
		kind Kind
	}{
		{ErrDecode, "SF-INVK-4000", KindDecodeError},
		{ErrUnroutable, "SF-INVK-4040", KindUnroutableEvent},
		{ErrTimeout, "SF-INVK-5040", KindTimeout},
		{ErrHandler, "SF-INVK-5000", KindHandlerError},
		{ErrEnvironmentUnavailable, "SF-INVK-5030", KindUnavailable},
		{ErrNotFound, "SF-STOR-4040", KindNotFound},
		{ErrVersionConflict, "SF-STOR-4090", KindVersionConflict},
		{ErrStoreUnavailable, "SF-STOR-5030", KindStoreUnavailable},
		{ErrRestoreFailure, "SF-LIFE-5000", KindRestoreFailure},
		{ErrInvalidArgument, "SF-ARG-1001", KindInvalidArgument},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			if tt.err.Code != tt.code {
				t.Errorf("Code = %q, want %q", tt.err.Code, tt.code)
			}
			if tt.err.Kind != tt.kind {
				t.Errorf("Kind = %q, want %q", tt.err.Kind, tt.kind)
			}
			if tt.err.Message == "" {
				t.Error("Error message should not be empty")
			}
		})
	}
}

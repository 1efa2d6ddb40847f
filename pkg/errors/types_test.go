package errors

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestNew(t *testing.T) {
	err := New(ErrCodeGoalNotFound, "goal sentiment not found")

	if err == nil {
		t.Fatal("New should return non-nil error")
	}

	if err.Code != ErrCodeGoalNotFound {
		t.Errorf("Code = %v, want %v", err.Code, ErrCodeGoalNotFound)
	}

	if err.Message != "goal sentiment not found" {
		t.Errorf("Message = %v, want 'goal sentiment not found'", err.Message)
	}

	if err.Underlying != nil {
		t.Error("Underlying should be nil for New error")
	}

	if len(err.Stack) == 0 {
		t.Error("Stack should be captured")
	}

	if err.Retryable {
		t.Error("Retryable should default to false")
	}
}

func TestWrap(t *testing.T) {
	underlying := errors.New("original error")
	err := Wrap(underlying, ErrCodeStorageRead, "failed to read storage")

	if err == nil {
		t.Fatal("Wrap should return non-nil error")
	}

	if err.Underlying != underlying {
		t.Error("Underlying should be preserved")
	}

	if err.Code != ErrCodeStorageRead {
		t.Errorf("Code = %v, want %v", err.Code, ErrCodeStorageRead)
	}

	if !strings.Contains(err.Error(), "original error") {
		t.Error("Error string should include underlying error")
	}
}

func TestWrap_Nil(t *testing.T) {
	err := Wrap(nil, ErrCodeInternal, "test")
	if err != nil {
		t.Error("Wrap(nil) should return nil")
	}
}

func TestWithContext(t *testing.T) {
	err := New(ErrCodeSolverExecution, "solver failed").
		WithContext("goal", "analyze_sentiment").
		WithContext("solver", "prop-01")

	if err.Context["goal"] != "analyze_sentiment" {
		t.Errorf("Context[goal] = %v, want analyze_sentiment", err.Context["goal"])
	}

	msg := err.Error()
	if !strings.Contains(msg, "SOLVER_EXECUTION") {
		t.Errorf("Error() = %q, want code included", msg)
	}
	if !strings.Contains(msg, "goal") {
		t.Errorf("Error() = %q, want context included", msg)
	}
}

func TestUnwrap(t *testing.T) {
	sentinel := errors.New("sentinel")
	wrapped := Wrap(fmt.Errorf("middle: %w", sentinel), ErrCodeSandboxFailed, "sandbox run failed")

	if !errors.Is(wrapped, sentinel) {
		t.Error("errors.Is should see through Wrap")
	}

	var structured *Error
	if !errors.As(wrapped, &structured) {
		t.Error("errors.As should find *Error")
	}
}

func TestIsCode(t *testing.T) {
	err := New(ErrCodeSolversExhausted, "all solvers failed")

	if !IsCode(err, ErrCodeSolversExhausted) {
		t.Error("IsCode should match")
	}
	if IsCode(err, ErrCodeSchemaInvalid) {
		t.Error("IsCode should not match a different code")
	}
	if IsCode(nil, ErrCodeInternal) {
		t.Error("IsCode(nil) should be false")
	}
	if IsCode(errors.New("plain"), ErrCodeInternal) {
		t.Error("IsCode should be false for plain errors")
	}
}

func TestGetCode(t *testing.T) {
	if got := GetCode(New(ErrCodeBudgetExceeded, "over budget")); got != ErrCodeBudgetExceeded {
		t.Errorf("GetCode = %v, want %v", got, ErrCodeBudgetExceeded)
	}
	if got := GetCode(errors.New("plain")); got != ErrCodeInternal {
		t.Errorf("GetCode(plain) = %v, want %v", got, ErrCodeInternal)
	}
	if got := GetCode(nil); got != "" {
		t.Errorf("GetCode(nil) = %v, want empty", got)
	}
}

func TestRetryable(t *testing.T) {
	err := New(ErrCodeModelRateLimit, "rate limited").WithRetryable(true)

	if !IsRetryable(err) {
		t.Error("IsRetryable should be true after WithRetryable(true)")
	}
	if IsRetryable(errors.New("plain")) {
		t.Error("plain errors are not retryable")
	}
}

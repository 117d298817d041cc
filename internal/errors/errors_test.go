package errors

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// -----------------------------------------------------------------------------
// Severity Tests
// -----------------------------------------------------------------------------

func TestSeverity_String(t *testing.T) {
	tests := []struct {
		severity Severity
		want     string
	}{
		{SeverityDebug, "debug"},
		{SeverityInfo, "info"},
		{SeverityWarning, "warning"},
		{SeverityError, "error"},
		{SeverityCritical, "critical"},
		{Severity(99), "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.severity.String())
		})
	}
}

// -----------------------------------------------------------------------------
// Domain Error Tests
// -----------------------------------------------------------------------------

func TestBackendError_Error(t *testing.T) {
	tests := []struct {
		name string
		err  *BackendError
		want string
	}{
		{
			name: "bare",
			err:  NewBackendError("exec failed", nil),
			want: "backend error: exec failed",
		},
		{
			name: "with context",
			err: NewBackendError("exec failed", ErrBackendFailed).
				WithBackend("codex").
				WithTaskType("generation").
				WithExitCode(2),
			want: "backend error [backend=codex, task=generation, exit=2]: exec failed: backend failed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Error())
		})
	}
}

func TestBackendError_IsAndAs(t *testing.T) {
	err := fmt.Errorf("round 3: %w", NewBackendError("exec failed", ErrBackendUnavailable).WithBackend("gemini"))

	assert.True(t, Is(err, ErrBackendUnavailable))
	assert.True(t, Is(err, &BackendError{}))
	assert.False(t, Is(err, ErrReviewerUnavailable))

	var be *BackendError
	require.True(t, As(err, &be))
	assert.Equal(t, "gemini", be.Backend)
}

func TestReviewError(t *testing.T) {
	err := NewReviewError("quota exhausted", ErrReviewerUnavailable).
		WithReviewer("codex").
		WithIteration(2)

	assert.Equal(t, "review error [reviewer=codex, iteration=2]: quota exhausted: reviewer unavailable", err.Error())
	assert.True(t, errors.Is(err, ErrReviewerUnavailable))
	assert.Equal(t, SeverityWarning, err.Severity())
	assert.False(t, err.IsRetryable())
}

func TestRunError(t *testing.T) {
	err := NewRunError("implementation wrote nothing", ErrNoArtifactsProduced).
		WithRunID("abc").
		WithPhase("implementation").
		WithIteration(12).
		WithSeverity(SeverityWarning)

	assert.Equal(t, "run error [run=abc, phase=implementation, iteration=12]: implementation wrote nothing: no artifacts produced", err.Error())
	assert.True(t, Is(err, ErrNoArtifactsProduced))
	assert.Equal(t, SeverityWarning, GetSeverity(err))
}

// -----------------------------------------------------------------------------
// Semantic Error Tests
// -----------------------------------------------------------------------------

func TestNotFoundError(t *testing.T) {
	err := NewNotFoundError("backend", "gemini")
	assert.Equal(t, "backend 'gemini' not found", err.Error())

	err = err.WithCause(ErrBackendNotFound)
	assert.Equal(t, "backend 'gemini' not found: backend not found", err.Error())
	assert.True(t, Is(err, ErrBackendNotFound))
	assert.True(t, Is(err, &NotFoundError{}))
}

func TestValidationError(t *testing.T) {
	err := NewValidationError("must be between 0 and 10").
		WithField("improve.target_score").
		WithValue(11.5)

	assert.Equal(t, "validation error [field=improve.target_score, value=11.5]: must be between 0 and 10", err.Error())
	assert.True(t, Is(err, ErrInvalidInput))
	assert.False(t, IsRetryable(err))
}

func TestTimeoutError(t *testing.T) {
	err := NewTimeoutError("codex exec", 10*time.Minute)

	assert.Equal(t, "timeout error: codex exec (timeout: 10m0s)", err.Error())
	assert.True(t, Is(err, ErrTimeout))
	assert.True(t, IsRetryable(err))
}

// -----------------------------------------------------------------------------
// Classification Tests
// -----------------------------------------------------------------------------

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"plain", New("boom"), false},
		{"wrapped timeout sentinel", fmt.Errorf("x: %w", ErrTimeout), true},
		{"retryable backend", NewBackendError("rate limited", nil).WithRetryable(true), true},
		{"non retryable backend", NewBackendError("bad flag", nil), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRetryable(tt.err))
		})
	}
}

func TestGetSeverity(t *testing.T) {
	assert.Equal(t, SeverityDebug, GetSeverity(nil))
	assert.Equal(t, SeverityError, GetSeverity(New("plain")))
	assert.Equal(t, SeverityCritical, GetSeverity(NewBackendError("x", nil).WithSeverity(SeverityCritical)))
}

func TestWrap(t *testing.T) {
	assert.NoError(t, Wrap(nil, "ctx"))
	assert.NoError(t, Wrapf(nil, "ctx %d", 1))

	err := Wrapf(ErrParseFailure, "reviewer %s", "gemini")
	assert.Equal(t, "reviewer gemini: review parse failure", err.Error())
	assert.True(t, Is(err, ErrParseFailure))
}

package agent

import (
	"strings"
	"time"

	"github.com/atlas2/coderagent/internal/backoff"
)

// retryableSubstrings is spec.md §4.9/§7's exact classification list for
// RetryableProviderError: a provider error is retryable if its message
// contains any of these, case-insensitively.
var retryableSubstrings = []string{
	"503",
	"overloaded",
	"temporarily",
	"unavailable",
	"rate limit",
	"quota",
	"timeout",
	"timed out",
}

// IsRetryableProviderError classifies a model-call error per spec.md's
// substring list, independent of the generic ToolErrorType classification
// above (which covers tool execution, not provider calls).
func IsRetryableProviderError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, s := range retryableSubstrings {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

// RetryPolicy parameterizes C9's exponential-backoff-with-jitter schedule.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// Backoff returns the delay before attempt (1-indexed), reusing the
// teacher's backoff.ComputeBackoff formula: base = initialMs *
// factor^(attempt-1), clamped to MaxDelay, with 10% jitter.
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	policy := backoff.BackoffPolicy{
		InitialMs: float64(p.BaseDelay.Milliseconds()),
		MaxMs:     float64(p.MaxDelay.Milliseconds()),
		Factor:    2,
		Jitter:    0.1,
	}
	return backoff.ComputeBackoff(policy, attempt)
}

// Exhausted reports whether attempt has used up the policy's retry budget.
func (p RetryPolicy) Exhausted(attempt int) bool {
	return attempt >= p.MaxAttempts
}

package llm

import (
	"context"
	"errors"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"

	"github.com/markdave123-py/documind/internal/core"
)

const (
	ProviderGemini    = "gemini"
	ProviderAnthropic = "anthropic"
	ProviderLocal     = "local"
)

// Operation names carried by ProviderError and the retry logs.
const (
	opEmbed    = "embed"
	opGenerate = "generate"
)

// transientMarkers are substrings of upstream errors worth retrying: rate limits, overload and
// server-side failures.
var transientMarkers = []string{
	"429", "RESOURCE_EXHAUSTED", "quota", "rate limit",
	"500", "INTERNAL",
	"502", "503", "UNAVAILABLE", "overloaded",
	"504", "DEADLINE_EXCEEDED", "deadline exceeded",
	"connection reset", "connection refused", "EOF", "timeout",
}

// IsRateLimitError checks if an error is an upstream rate limit error.
func IsRateLimitError(err error) bool {
	if err == nil {
		return false
	}
	s := err.Error()
	return strings.Contains(s, "429") ||
		strings.Contains(s, "RESOURCE_EXHAUSTED") ||
		strings.Contains(s, "quota") ||
		strings.Contains(s, "rate limit")
}

func isTransient(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == 408, apiErr.StatusCode == 409, apiErr.StatusCode == 429:
			return true
		case apiErr.StatusCode >= 500:
			return true
		default:
			return false
		}
	}
	s := err.Error()
	for _, m := range transientMarkers {
		if strings.Contains(s, m) {
			return true
		}
	}
	return false
}

// classify wraps err as a *core.ProviderError. Cancellation of the caller's own context
// passes through untouched so callers can tell it apart from an upstream failure.
func classify(ctx context.Context, provider, op string, err error) error {
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	var pe *core.ProviderError
	if errors.As(err, &pe) {
		return err
	}
	return &core.ProviderError{Provider: provider, Op: op, Transient: isTransient(err), Err: err}
}

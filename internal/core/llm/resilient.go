package llm

import (
	"context"
	"errors"
	"time"

	"github.com/ternarybob/arbor"
	"golang.org/x/time/rate"

	"github.com/markdave123-py/documind/internal/common"
	"github.com/markdave123-py/documind/internal/core"
)

// RetryPolicy bounds every provider call.
//
// Timeout:        per-attempt deadline; exceeding it counts as a transient failure.
// MaxRetries:     retries after the first attempt, transient failures only.
// InitialBackoff: wait before the first retry, multiplied by Multiplier on each retry.
// MaxBackoff:     cap on a single wait, and the wait after an upstream rate limit.
type RetryPolicy struct {
	Timeout        time.Duration
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Multiplier     float64
}

// Default retry constants for provider calls.
const (
	DefaultTimeout           = 30 * time.Second
	DefaultMaxRetries        = 3
	DefaultInitialBackoff    = 500 * time.Millisecond
	DefaultMaxBackoff        = 10 * time.Second
	DefaultBackoffMultiplier = 2.0
)

// NewDefaultRetryPolicy returns the policy used when nothing is configured.
func NewDefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Timeout:        DefaultTimeout,
		MaxRetries:     DefaultMaxRetries,
		InitialBackoff: DefaultInitialBackoff,
		MaxBackoff:     DefaultMaxBackoff,
		Multiplier:     DefaultBackoffMultiplier,
	}
}

// Backoff computes the wait before retry number attempt (0-based).
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	mult := p.Multiplier
	if mult < 1 {
		mult = 1
	}
	d := float64(p.InitialBackoff)
	for i := 0; i < attempt; i++ {
		d *= mult
	}
	if p.MaxBackoff > 0 && d > float64(p.MaxBackoff) {
		return p.MaxBackoff
	}
	return time.Duration(d)
}

// caller runs provider calls under a RetryPolicy and a shared rate limiter.
type caller struct {
	provider string
	policy   RetryPolicy
	limiter  *rate.Limiter
	logger   arbor.ILogger
	sleep    func(ctx context.Context, d time.Duration) error
}

func newCaller(provider string, policy RetryPolicy, limiter *rate.Limiter, logger arbor.ILogger) caller {
	if logger == nil {
		logger = common.GetLogger()
	}
	return caller{provider: provider, policy: policy, limiter: limiter, logger: logger, sleep: sleepCtx}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (c caller) do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	var last error
	for attempt := 0; attempt <= c.policy.MaxRetries; attempt++ {
		if attempt > 0 {
			wait := c.policy.Backoff(attempt - 1)
			// quota windows outlast the exponential schedule
			if IsRateLimitError(last) && c.policy.MaxBackoff > wait {
				wait = c.policy.MaxBackoff
			}
			c.logger.Warn().
				Str("provider", c.provider).
				Str("op", op).
				Int("attempt", attempt).
				Str("backoff", wait.String()).
				Err(last).
				Msg("Retrying provider call after transient failure")
			if err := c.sleep(ctx, wait); err != nil {
				return err
			}
		}

		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return &core.ProviderError{Provider: c.provider, Op: op, Transient: true, Err: err}
			}
		}

		err := c.attempt(ctx, op, fn)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !core.IsTransient(err) {
			return err
		}
		last = err
	}
	return last
}

func (c caller) attempt(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	actx := ctx
	if c.policy.Timeout > 0 {
		var cancel context.CancelFunc
		actx, cancel = context.WithTimeout(ctx, c.policy.Timeout)
		defer cancel()
	}
	err := fn(actx)
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if errors.Is(err, context.DeadlineExceeded) || actx.Err() != nil {
		return &core.ProviderError{Provider: c.provider, Op: op, Transient: true, Err: err}
	}
	var pe *core.ProviderError
	if errors.As(err, &pe) {
		return err
	}
	return &core.ProviderError{Provider: c.provider, Op: op, Transient: isTransient(err), Err: err}
}

// ResilientEmbedder adds timeout, retry and rate limiting to an EmbeddingProvider.
type ResilientEmbedder struct {
	inner core.EmbeddingProvider
	call  caller
}

func NewResilientEmbedder(inner core.EmbeddingProvider, provider string, policy RetryPolicy, limiter *rate.Limiter, logger arbor.ILogger) *ResilientEmbedder {
	return &ResilientEmbedder{inner: inner, call: newCaller(provider, policy, limiter, logger)}
}

func (r *ResilientEmbedder) Dimension() int { return r.inner.Dimension() }

func (r *ResilientEmbedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	var out [][]float32
	err := r.call.do(ctx, opEmbed, func(ctx context.Context) error {
		vecs, err := r.inner.EmbedTexts(ctx, texts)
		if err != nil {
			return err
		}
		out = vecs
		return nil
	})
	return out, err
}

// ResilientLLM adds timeout, retry and rate limiting to an LLMProvider.
type ResilientLLM struct {
	inner core.LLMProvider
	call  caller
}

func NewResilientLLM(inner core.LLMProvider, provider string, policy RetryPolicy, limiter *rate.Limiter, logger arbor.ILogger) *ResilientLLM {
	return &ResilientLLM{inner: inner, call: newCaller(provider, policy, limiter, logger)}
}

func (r *ResilientLLM) Generate(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	var out string
	err := r.call.do(ctx, opGenerate, func(ctx context.Context) error {
		s, err := r.inner.Generate(ctx, systemPrompt, userPrompt)
		if err != nil {
			return err
		}
		out = s
		return nil
	})
	return out, err
}

// NewLimiter returns a limiter allowing rps calls per second with a burst of one second's worth.
// A non-positive rps disables limiting.
func NewLimiter(rps float64) *rate.Limiter {
	if rps <= 0 {
		return nil
	}
	burst := int(rps)
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(rps), burst)
}

var (
	_ core.EmbeddingProvider = (*ResilientEmbedder)(nil)
	_ core.LLMProvider       = (*ResilientLLM)(nil)
)

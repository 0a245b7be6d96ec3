package llm

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/queryglass-ai/queryglass-engine/pkg/retry"
)

// llmRetryConfig bounds provider retries tighter than the database defaults;
// each provider call is already slow.
func llmRetryConfig() *retry.Config {
	return &retry.Config{
		MaxRetries:   2,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Multiplier:   2.0,
		JitterFactor: 0.1,
	}
}

// ResilientClient decorates an LLMClient with retries and a circuit breaker.
// Transient provider failures are retried with backoff; once the provider
// looks down, the breaker fails requests fast instead of stalling every
// pipeline attempt on a dead endpoint.
type ResilientClient struct {
	inner    LLMClient
	breaker  *CircuitBreaker
	retryCfg *retry.Config
	logger   *zap.Logger
}

// NewResilientClient wraps inner with the default retry and breaker settings.
func NewResilientClient(inner LLMClient, logger *zap.Logger) *ResilientClient {
	return &ResilientClient{
		inner:    inner,
		breaker:  NewCircuitBreaker(DefaultCircuitBreakerConfig()),
		retryCfg: llmRetryConfig(),
		logger:   logger.Named("llm_resilience"),
	}
}

// GenerateResponse delegates through the breaker and retry policy.
func (r *ResilientClient) GenerateResponse(
	ctx context.Context,
	prompt string,
	systemMessage string,
	temperature float64,
) (*GenerateResponseResult, error) {
	var result *GenerateResponseResult
	err := r.call(ctx, func() error {
		var innerErr error
		result, innerErr = r.inner.GenerateResponse(ctx, prompt, systemMessage, temperature)
		return innerErr
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// CreateEmbedding delegates through the breaker and retry policy.
func (r *ResilientClient) CreateEmbedding(ctx context.Context, input string, model string) ([]float32, error) {
	var vector []float32
	err := r.call(ctx, func() error {
		var innerErr error
		vector, innerErr = r.inner.CreateEmbedding(ctx, input, model)
		return innerErr
	})
	if err != nil {
		return nil, err
	}
	return vector, nil
}

// CreateEmbeddings delegates through the breaker and retry policy.
func (r *ResilientClient) CreateEmbeddings(ctx context.Context, inputs []string, model string) ([][]float32, error) {
	var vectors [][]float32
	err := r.call(ctx, func() error {
		var innerErr error
		vectors, innerErr = r.inner.CreateEmbeddings(ctx, inputs, model)
		return innerErr
	})
	if err != nil {
		return nil, err
	}
	return vectors, nil
}

// GetModel returns the wrapped client's model name.
func (r *ResilientClient) GetModel() string { return r.inner.GetModel() }

// GetEndpoint returns the wrapped client's endpoint.
func (r *ResilientClient) GetEndpoint() string { return r.inner.GetEndpoint() }

// call runs fn under the breaker. The retried sequence counts as one request
// against the breaker, so backoff exhaustion is a single recorded failure.
func (r *ResilientClient) call(ctx context.Context, fn func() error) error {
	allowed, denyErr := r.breaker.Allow()
	if !allowed {
		r.logger.Warn("Request rejected by circuit breaker", zap.Error(denyErr))
		return denyErr
	}

	if err := retry.DoIfRetryable(ctx, r.retryCfg, fn); err != nil {
		r.breaker.RecordFailure()
		if r.breaker.State() == CircuitOpen {
			r.logger.Warn("Circuit breaker opened",
				zap.Int("consecutive_failures", r.breaker.ConsecutiveFailures()))
		}
		return err
	}

	r.breaker.RecordSuccess()
	return nil
}

var _ LLMClient = (*ResilientClient)(nil)

package llm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/queryglass-ai/queryglass-engine/pkg/retry"
)

func newTestResilientClient(inner LLMClient, breakerCfg CircuitBreakerConfig) *ResilientClient {
	return &ResilientClient{
		inner:   inner,
		breaker: NewCircuitBreaker(breakerCfg),
		retryCfg: &retry.Config{
			MaxRetries:   2,
			InitialDelay: time.Millisecond,
			MaxDelay:     5 * time.Millisecond,
			Multiplier:   2.0,
		},
		logger: zap.NewNop(),
	}
}

func TestResilientClient_PassesThroughSuccess(t *testing.T) {
	mock := NewMockLLMClient()
	mock.GenerateResponseFunc = func(ctx context.Context, prompt, system string, temp float64) (*GenerateResponseResult, error) {
		return &GenerateResponseResult{Content: "SELECT 1"}, nil
	}
	client := newTestResilientClient(mock, DefaultCircuitBreakerConfig())

	result, err := client.GenerateResponse(context.Background(), "question", "system", 0.1)

	require.NoError(t, err)
	assert.Equal(t, "SELECT 1", result.Content)
	assert.Equal(t, 1, mock.GenerateResponseCalls)
	assert.Equal(t, CircuitClosed, client.breaker.State())
}

func TestResilientClient_RetriesTransientFailures(t *testing.T) {
	mock := NewMockLLMClient()
	mock.GenerateResponseFunc = func(ctx context.Context, prompt, system string, temp float64) (*GenerateResponseResult, error) {
		if mock.GenerateResponseCalls < 3 {
			return nil, NewError(ErrorTypeEndpoint, "server error", true, errors.New("HTTP 503"))
		}
		return &GenerateResponseResult{Content: "SELECT 1"}, nil
	}
	client := newTestResilientClient(mock, DefaultCircuitBreakerConfig())

	result, err := client.GenerateResponse(context.Background(), "question", "system", 0.1)

	require.NoError(t, err)
	assert.Equal(t, "SELECT 1", result.Content)
	assert.Equal(t, 3, mock.GenerateResponseCalls)
	assert.Zero(t, client.breaker.ConsecutiveFailures(), "recovered call should not count as a failure")
}

func TestResilientClient_PermanentFailureSkipsRetries(t *testing.T) {
	authErr := NewError(ErrorTypeAuth, "authentication failed", false, errors.New("HTTP 401"))
	mock := NewMockLLMClient()
	mock.GenerateResponseFunc = func(ctx context.Context, prompt, system string, temp float64) (*GenerateResponseResult, error) {
		return nil, authErr
	}
	client := newTestResilientClient(mock, DefaultCircuitBreakerConfig())

	_, err := client.GenerateResponse(context.Background(), "question", "system", 0.1)

	require.ErrorIs(t, err, authErr)
	assert.Equal(t, 1, mock.GenerateResponseCalls, "permanent failures should not be retried")
	assert.Equal(t, 1, client.breaker.ConsecutiveFailures())
}

func TestResilientClient_BreakerFailsFastOnceOpen(t *testing.T) {
	mock := NewMockLLMClient()
	mock.GenerateResponseFunc = func(ctx context.Context, prompt, system string, temp float64) (*GenerateResponseResult, error) {
		return nil, NewError(ErrorTypeAuth, "authentication failed", false, nil)
	}
	client := newTestResilientClient(mock, CircuitBreakerConfig{Threshold: 2, ResetAfter: time.Hour})

	_, err := client.GenerateResponse(context.Background(), "q1", "system", 0.1)
	require.Error(t, err)
	_, err = client.GenerateResponse(context.Background(), "q2", "system", 0.1)
	require.Error(t, err)
	require.Equal(t, CircuitOpen, client.breaker.State())

	_, err = client.GenerateResponse(context.Background(), "q3", "system", 0.1)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "llm provider unavailable")
	assert.Equal(t, 2, mock.GenerateResponseCalls, "open circuit should not reach the provider")
}

func TestResilientClient_BreakerRecoversViaProbe(t *testing.T) {
	failing := true
	mock := NewMockLLMClient()
	mock.GenerateResponseFunc = func(ctx context.Context, prompt, system string, temp float64) (*GenerateResponseResult, error) {
		if failing {
			return nil, NewError(ErrorTypeAuth, "authentication failed", false, nil)
		}
		return &GenerateResponseResult{Content: "SELECT 1"}, nil
	}
	client := newTestResilientClient(mock, CircuitBreakerConfig{Threshold: 1, ResetAfter: 10 * time.Millisecond})

	_, err := client.GenerateResponse(context.Background(), "q1", "system", 0.1)
	require.Error(t, err)
	require.Equal(t, CircuitOpen, client.breaker.State())

	failing = false
	time.Sleep(20 * time.Millisecond)

	result, err := client.GenerateResponse(context.Background(), "q2", "system", 0.1)

	require.NoError(t, err)
	assert.Equal(t, "SELECT 1", result.Content)
	assert.Equal(t, CircuitClosed, client.breaker.State())
}

func TestResilientClient_EmbeddingsGoThroughBreaker(t *testing.T) {
	mock := NewMockLLMClient()
	mock.CreateEmbeddingFunc = func(ctx context.Context, input, model string) ([]float32, error) {
		return nil, NewError(ErrorTypeAuth, "authentication failed", false, nil)
	}
	client := newTestResilientClient(mock, CircuitBreakerConfig{Threshold: 1, ResetAfter: time.Hour})

	_, err := client.CreateEmbedding(context.Background(), "text", "")
	require.Error(t, err)
	require.Equal(t, CircuitOpen, client.breaker.State())

	// Chat completions share the breaker with embedding calls.
	_, err = client.GenerateResponse(context.Background(), "q", "system", 0.1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "llm provider unavailable")
	assert.Zero(t, mock.GenerateResponseCalls)
}

func TestResilientClient_DelegatesModelAndEndpoint(t *testing.T) {
	mock := NewMockLLMClient()
	mock.Model = "gpt-4o-mini"
	mock.Endpoint = "http://localhost:8000/v1"
	client := NewResilientClient(mock, zap.NewNop())

	assert.Equal(t, "gpt-4o-mini", client.GetModel())
	assert.Equal(t, "http://localhost:8000/v1", client.GetEndpoint())
}

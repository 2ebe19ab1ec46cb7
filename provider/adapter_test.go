package provider

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/storyloom-ai/storyloom/retry"
	"github.com/stretchr/testify/require"
)

type countingImageGen struct {
	failures int
	calls    int
	err      error
}

func (c *countingImageGen) Generate(ctx context.Context, prompt string) (string, error) {
	c.calls++
	if c.calls <= c.failures {
		return "", c.err
	}
	return "img://ok", nil
}

func (c *countingImageGen) Model() string { return "test-model" }

func fastPolicy() RetryPolicy {
	return RetryPolicy{MaxRetries: 3, BaseWait: time.Millisecond, MaxWait: 5 * time.Millisecond}
}

func TestRetryingAdapterRecoversTransientFailures(t *testing.T) {
	inner := &countingImageGen{
		failures: 2,
		err:      retry.NewRecoverableError(errors.New("rate limit")),
	}
	gen := WithRetryImageGenerator(inner, fastPolicy())

	url, err := gen.Generate(context.Background(), "prompt")
	require.NoError(t, err)
	require.Equal(t, "img://ok", url)
	require.Equal(t, 3, inner.calls)
}

func TestRetryingAdapterStopsOnPermanentError(t *testing.T) {
	inner := &countingImageGen{
		failures: 10,
		err:      retry.NewNonRecoverableError(errors.New("invalid prompt")),
	}
	gen := WithRetryImageGenerator(inner, fastPolicy())

	_, err := gen.Generate(context.Background(), "prompt")
	require.Error(t, err)
	require.Equal(t, 1, inner.calls)
}

func TestRetryingAdapterExhaustsBudget(t *testing.T) {
	inner := &countingImageGen{
		failures: 10,
		err:      retry.NewRecoverableError(errors.New("service unavailable")),
	}
	gen := WithRetryImageGenerator(inner, fastPolicy())

	_, err := gen.Generate(context.Background(), "prompt")
	require.Error(t, err)
	require.Equal(t, 4, inner.calls) // initial attempt + 3 retries
}

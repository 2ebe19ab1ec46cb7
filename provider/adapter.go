package provider

import (
	"context"
	"encoding/json"
	"time"

	"github.com/storyloom-ai/storyloom/retry"
)

// RetryPolicy bounds the adapter-level retries applied around every port
// call. Schema validation failures are never retried.
type RetryPolicy struct {
	MaxRetries int
	BaseWait   time.Duration
	MaxWait    time.Duration
}

// DefaultRetryPolicy is suitable for hosted LLM and media APIs.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries: 3,
		BaseWait:   500 * time.Millisecond,
		MaxWait:    15 * time.Second,
	}
}

func (p RetryPolicy) options() []retry.Option {
	return []retry.Option{
		retry.WithMaxRetries(p.MaxRetries),
		retry.WithBaseWait(p.BaseWait),
		retry.WithMaxWait(p.MaxWait),
	}
}

// WithRetryTextLLM wraps a TextLLM with bounded retries on recoverable
// failures.
func WithRetryTextLLM(inner TextLLM, policy RetryPolicy) TextLLM {
	return &retryingTextLLM{inner: inner, policy: policy}
}

// WithRetryVisionLLM wraps a VisionLLM with bounded retries.
func WithRetryVisionLLM(inner VisionLLM, policy RetryPolicy) VisionLLM {
	return &retryingVisionLLM{inner: inner, policy: policy}
}

// WithRetryImageGenerator wraps an ImageGenerator with bounded retries.
func WithRetryImageGenerator(inner ImageGenerator, policy RetryPolicy) ImageGenerator {
	return &retryingImageGen{inner: inner, policy: policy}
}

// WithRetryVideoGenerator wraps a VideoGenerator with bounded retries.
func WithRetryVideoGenerator(inner VideoGenerator, policy RetryPolicy) VideoGenerator {
	return &retryingVideoGen{inner: inner, policy: policy}
}

// WithRetryModerator wraps a Moderator with bounded retries.
func WithRetryModerator(inner Moderator, policy RetryPolicy) Moderator {
	return &retryingModerator{inner: inner, policy: policy}
}

type retryingTextLLM struct {
	inner  TextLLM
	policy RetryPolicy
}

func (r *retryingTextLLM) Generate(ctx context.Context, system, user string) (string, error) {
	var out string
	err := retry.Do(ctx, func() error {
		var err error
		out, err = r.inner.Generate(ctx, system, user)
		return err
	}, r.policy.options()...)
	return out, err
}

func (r *retryingTextLLM) GenerateJSON(ctx context.Context, system, user string, schema Schema) (json.RawMessage, error) {
	var out json.RawMessage
	err := retry.Do(ctx, func() error {
		var err error
		out, err = r.inner.GenerateJSON(ctx, system, user, schema)
		return err
	}, r.policy.options()...)
	return out, err
}

type retryingVisionLLM struct {
	inner  VisionLLM
	policy RetryPolicy
}

func (r *retryingVisionLLM) AnalyzeJSON(ctx context.Context, imageURL, system string, schema Schema) (json.RawMessage, error) {
	var out json.RawMessage
	err := retry.Do(ctx, func() error {
		var err error
		out, err = r.inner.AnalyzeJSON(ctx, imageURL, system, schema)
		return err
	}, r.policy.options()...)
	return out, err
}

type retryingImageGen struct {
	inner  ImageGenerator
	policy RetryPolicy
}

func (r *retryingImageGen) Generate(ctx context.Context, prompt string) (string, error) {
	var out string
	err := retry.Do(ctx, func() error {
		var err error
		out, err = r.inner.Generate(ctx, prompt)
		return err
	}, r.policy.options()...)
	return out, err
}

func (r *retryingImageGen) Model() string {
	return r.inner.Model()
}

type retryingVideoGen struct {
	inner  VideoGenerator
	policy RetryPolicy
}

func (r *retryingVideoGen) Generate(ctx context.Context, prompt string) (string, error) {
	var out string
	err := retry.Do(ctx, func() error {
		var err error
		out, err = r.inner.Generate(ctx, prompt)
		return err
	}, r.policy.options()...)
	return out, err
}

func (r *retryingVideoGen) Model() string {
	return r.inner.Model()
}

type retryingModerator struct {
	inner  Moderator
	policy RetryPolicy
}

func (r *retryingModerator) Moderate(ctx context.Context, text string) ([]string, error) {
	var out []string
	err := retry.Do(ctx, func() error {
		var err error
		out, err = r.inner.Moderate(ctx, text)
		return err
	}, r.policy.options()...)
	return out, err
}

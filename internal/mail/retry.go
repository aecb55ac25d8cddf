package mail

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// RetryPolicy bounds retries of transient provider errors
type RetryPolicy struct {
	MaxAttempts     uint
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultRetryPolicy is used when a policy field is left zero
var DefaultRetryPolicy = RetryPolicy{
	MaxAttempts:     4,
	InitialInterval: 500 * time.Millisecond,
	MaxInterval:     10 * time.Second,
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.MaxAttempts == 0 {
		p.MaxAttempts = DefaultRetryPolicy.MaxAttempts
	}
	if p.InitialInterval <= 0 {
		p.InitialInterval = DefaultRetryPolicy.InitialInterval
	}
	if p.MaxInterval <= 0 {
		p.MaxInterval = DefaultRetryPolicy.MaxInterval
	}
	if p.MaxInterval < p.InitialInterval {
		p.MaxInterval = p.InitialInterval
	}
	return p
}

// Retry runs op until it succeeds, fails permanently, or the policy is exhausted.
// Only errors wrapped with Transient are retried.
func Retry[T any](ctx context.Context, policy RetryPolicy, logger *slog.Logger, op func() (T, error)) (T, error) {
	policy = policy.withDefaults()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = policy.InitialInterval
	b.MaxInterval = policy.MaxInterval

	return backoff.Retry(ctx, func() (T, error) {
		v, err := op()
		if err != nil && !IsTransient(err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(policy.MaxAttempts),
		backoff.WithNotify(func(err error, next time.Duration) {
			if logger != nil {
				logger.Warn("retrying provider call", "error", err, "next_attempt_in", next)
			}
		}),
	)
}

// retryingClient retries transient failures of every call
type retryingClient struct {
	inner  Client
	policy RetryPolicy
	logger *slog.Logger
}

// WithRetry decorates c so each call is retried with exponential backoff
func WithRetry(c Client, policy RetryPolicy, logger *slog.Logger) Client {
	return &retryingClient{inner: c, policy: policy, logger: logger}
}

type listResult struct {
	ids  []string
	next string
}

func (c *retryingClient) ListMessagesSince(ctx context.Context, checkpoint string) ([]string, string, error) {
	res, err := Retry(ctx, c.policy, c.logger, func() (listResult, error) {
		ids, next, err := c.inner.ListMessagesSince(ctx, checkpoint)
		return listResult{ids: ids, next: next}, err
	})
	if err != nil {
		return nil, "", err
	}
	return res.ids, res.next, nil
}

func (c *retryingClient) FetchMessage(ctx context.Context, id string, format Format) (*Message, error) {
	return Retry(ctx, c.policy, c.logger, func() (*Message, error) {
		return c.inner.FetchMessage(ctx, id, format)
	})
}

func (c *retryingClient) Archive(ctx context.Context, id string) error {
	_, err := Retry(ctx, c.policy, c.logger, func() (struct{}, error) {
		return struct{}{}, c.inner.Archive(ctx, id)
	})
	return err
}

func (c *retryingClient) Profile(ctx context.Context) (string, error) {
	return Retry(ctx, c.policy, c.logger, func() (string, error) {
		return c.inner.Profile(ctx)
	})
}

// Close closes the wrapped client when it holds a connection
func (c *retryingClient) Close() error {
	if closer, ok := c.inner.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

package robusthttp

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/uauth/uauth-go/util/ssrf"

	"github.com/hashicorp/go-cleanhttp"
	"github.com/hashicorp/go-retryablehttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

type LeveledSlog struct {
	inner *slog.Logger
}

// re-writes HTTP client ERROR to WARN level (because of retries)
func (l LeveledSlog) Error(msg string, keysAndValues ...any) {
	l.inner.Warn(msg, keysAndValues...)
}

func (l LeveledSlog) Warn(msg string, keysAndValues ...any) {
	l.inner.Warn(msg, keysAndValues...)
}

func (l LeveledSlog) Info(msg string, keysAndValues ...any) {
	l.inner.Info(msg, keysAndValues...)
}

func (l LeveledSlog) Debug(msg string, keysAndValues ...any) {
	l.inner.Debug(msg, keysAndValues...)
}

type options struct {
	timeout time.Duration
}

type Option func(*retryablehttp.Client, *options)

func WithMaxRetries(maxRetries int) Option {
	return func(client *retryablehttp.Client, _ *options) {
		client.RetryMax = maxRetries
	}
}

func WithRetryWait(waitMin, waitMax time.Duration) Option {
	return func(client *retryablehttp.Client, _ *options) {
		client.RetryWaitMin = waitMin
		client.RetryWaitMax = waitMax
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(client *retryablehttp.Client, _ *options) {
		client.Logger = retryablehttp.LeveledLogger(LeveledSlog{inner: logger})
	}
}

// WithTransport replaces the underlying transport. It is not wrapped in otelhttp.
func WithTransport(transport http.RoundTripper) Option {
	return func(client *retryablehttp.Client, _ *options) {
		client.HTTPClient.Transport = transport
	}
}

// WithPublicOnly refuses connections to loopback, private and link-local addresses. Use it when request URLs come from domain records.
func WithPublicOnly() Option {
	return func(client *retryablehttp.Client, _ *options) {
		client.HTTPClient.Transport = otelhttp.NewTransport(ssrf.PublicOnlyTransport())
	}
}

func WithRetryPolicy(policy retryablehttp.CheckRetry) Option {
	return func(client *retryablehttp.Client, _ *options) {
		client.CheckRetry = policy
	}
}

// WithTimeout sets the overall timeout for a request, including retries.
func WithTimeout(d time.Duration) Option {
	return func(_ *retryablehttp.Client, o *options) {
		o.timeout = d
	}
}

// Generates an HTTP client with decent defaults around timeouts and retries
// for discovery and token fetches. The returned client has the stdlib
// http.Client interface, but has Hashicorp retryablehttp logic internally.
//
// This client will retry on connection errors and 5xx status (except 501).
// Intermediate failures are logged at WARN level. CLI tools might want
// shorter timeouts and fewer retries.
//
// Token endpoint requests are not idempotent (authorization codes are single
// use), so callers should not route token exchange through a client with
// retries enabled.
func NewClient(opts ...Option) *http.Client {
	logger := LeveledSlog{inner: slog.Default().With("subsystem", "robusthttp")}
	retryClient := retryablehttp.NewClient()
	retryClient.HTTPClient.Transport = otelhttp.NewTransport(cleanhttp.DefaultPooledTransport())
	retryClient.RetryMax = 3
	retryClient.RetryWaitMin = 500 * time.Millisecond
	retryClient.RetryWaitMax = 5 * time.Second
	retryClient.Logger = retryablehttp.LeveledLogger(logger)
	retryClient.CheckRetry = DefaultRetryPolicy

	o := options{timeout: 30 * time.Second}
	for _, opt := range opts {
		opt(retryClient, &o)
	}

	client := retryClient.StandardClient()
	client.Timeout = o.timeout
	return client
}

// DefaultRetryPolicy is a custom wrapper around retryablehttp.DefaultRetryPolicy.
// It treats `429 Too Many Requests` as non-retryable, so the application can decide
// how to deal with rate-limiting.
func DefaultRetryPolicy(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if err == nil && resp.StatusCode == http.StatusTooManyRequests {
		return false, nil
	}
	return retryablehttp.DefaultRetryPolicy(ctx, resp, err)
}

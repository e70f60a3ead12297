// Package transport wraps an http.RoundTripper with the fixed headers every
// efact call carries and with request logging.
package transport

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/hpungsan/efact/internal/errors"
	"github.com/hpungsan/efact/internal/logger"
)

// DefaultUserAgent is sent when no other User-Agent is configured.
const DefaultUserAgent = "efact"

// Option configures a RoundTripper.
type Option func(*RoundTripper)

// WithHeader sets a header on every request that does not already carry it.
func WithHeader(name, value string) Option {
	return func(t *RoundTripper) {
		if value == "" {
			return
		}
		t.headers.Set(name, value)
	}
}

// WithLogger sets the logger used for request tracing.
func WithLogger(l *zap.Logger) Option {
	return func(t *RoundTripper) {
		t.logger = logger.OrNop(l)
	}
}

// RoundTripper adds fixed headers and logs each exchange.
type RoundTripper struct {
	inner   http.RoundTripper
	headers http.Header
	logger  *zap.Logger
}

// New wraps inner, or http.DefaultTransport when inner is nil.
func New(inner http.RoundTripper, options ...Option) *RoundTripper {
	if inner == nil {
		inner = http.DefaultTransport
	}
	t := &RoundTripper{
		inner: inner,
		headers: http.Header{
			"X-Requested-With": []string{"XMLHttpRequest"},
			"User-Agent":       []string{DefaultUserAgent},
		},
		logger: zap.NewNop(),
	}
	for _, opt := range options {
		opt(t)
	}
	return t
}

// RoundTrip implements http.RoundTripper.
func (t *RoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	// clone req to avoid mutating caller headers
	clone := req.Clone(req.Context())
	for name, values := range t.headers {
		if clone.Header.Get(name) == "" {
			clone.Header[name] = append([]string(nil), values...)
		}
	}

	started := time.Now()
	resp, err := t.inner.RoundTrip(clone)
	fields := []zap.Field{
		zap.String("method", clone.Method),
		zap.String("host", clone.URL.Host),
		zap.String("path", clone.URL.Path),
		zap.Duration("elapsed", time.Since(started)),
	}
	if err != nil {
		t.logger.Debug("request failed", append(fields, zap.Error(err))...)
		if ctxErr := clone.Context().Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, &errors.HTTPError{Status: 0, Message: err.Error()}
	}
	t.logger.Debug("request completed", append(fields, zap.Int("status", resp.StatusCode))...)
	return resp, nil
}

// NewClient returns an http.Client using a RoundTripper built from options.
func NewClient(timeout time.Duration, options ...Option) *http.Client {
	return &http.Client{
		Transport: New(nil, options...),
		Timeout:   timeout,
	}
}

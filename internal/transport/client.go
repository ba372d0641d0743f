// Package transport posts SOAP 1.2 requests to the authority web services
// over mutual TLS, with bounded retries for transient failures.
package transport

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/rezonia/nfe-engine/internal/metrics"
	"github.com/rezonia/nfe-engine/internal/model"
	"github.com/rezonia/nfe-engine/internal/signature/trust"
)

// Client defaults
const (
	DefaultTimeout     = 30 * time.Second
	DefaultMaxAttempts = 3
	DefaultBaseDelay   = 1 * time.Second

	maxResponseBytes = 10 << 20
)

// Doer sends HTTP requests. *http.Client satisfies it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// SleepFunc waits for d or until ctx is done
type SleepFunc func(ctx context.Context, d time.Duration) error

// Request is one web service call
type Request struct {
	Service Service
	State   string
	// Environment declared by the document. Empty skips the declared check.
	Environment model.Environment
	Payload     []byte
}

// Response is the raw authority answer
type Response struct {
	Endpoint   Endpoint
	StatusCode int
	Body       []byte
	Attempts   int
	Sent       []byte
}

// Client posts SOAP envelopes with retry on 5xx, 429 and timeouts
type Client struct {
	env         model.Environment
	http        Doer
	resolver    EndpointResolver
	timeout     time.Duration
	maxAttempts int
	baseDelay   time.Duration
	sleep       SleepFunc
	logger      *zap.Logger
	metrics     *metrics.Metrics
}

// ClientOption configures a Client
type ClientOption func(*Client)

// WithHTTPClient sets the HTTP sender, normally built by NewHTTPClient
func WithHTTPClient(d Doer) ClientOption {
	return func(c *Client) {
		if d != nil {
			c.http = d
		}
	}
}

// WithResolver sets the endpoint resolver
func WithResolver(r EndpointResolver) ClientOption {
	return func(c *Client) {
		if r != nil {
			c.resolver = r
		}
	}
}

// WithTimeout sets the hard timeout of each attempt
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithMaxAttempts sets the total number of attempts
func WithMaxAttempts(n int) ClientOption {
	return func(c *Client) {
		if n > 0 {
			c.maxAttempts = n
		}
	}
}

// WithBaseDelay sets the linear backoff unit
func WithBaseDelay(d time.Duration) ClientOption {
	return func(c *Client) {
		if d >= 0 {
			c.baseDelay = d
		}
	}
}

// WithSleep replaces the backoff wait
func WithSleep(fn SleepFunc) ClientOption {
	return func(c *Client) {
		if fn != nil {
			c.sleep = fn
		}
	}
}

// WithLogger sets the client logger
func WithLogger(logger *zap.Logger) ClientOption {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithMetrics records attempts on m
func WithMetrics(m *metrics.Metrics) ClientOption {
	return func(c *Client) {
		c.metrics = m
	}
}

// NewClient creates a client bound to the configured environment
func NewClient(env model.Environment, opts ...ClientOption) *Client {
	static, _ := NewStaticEndpoints()
	c := &Client{
		env:         env,
		http:        &http.Client{},
		resolver:    static,
		timeout:     DefaultTimeout,
		maxAttempts: DefaultMaxAttempts,
		baseDelay:   DefaultBaseDelay,
		sleep:       sleepContext,
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CertificateLoader returns the client certificate for one handshake
type CertificateLoader func(ctx context.Context) (tls.Certificate, error)

// NewHTTPClient builds the mutual-TLS HTTP client validating the authority
// against the trust store. Connections are not reused, so every request
// handshakes with a certificate fresh from load and no key outlives it.
func NewHTTPClient(load CertificateLoader, store *trust.TrustStore) *http.Client {
	if store == nil {
		store = trust.NewEmptyTrustStore()
	}
	tr := http.DefaultTransport.(*http.Transport).Clone()
	tr.DisableKeepAlives = true
	tr.TLSClientConfig = store.TLSConfig(func(info *tls.CertificateRequestInfo) (*tls.Certificate, error) {
		cert, err := load(info.Context())
		if err != nil {
			return nil, err
		}
		return &cert, nil
	})
	return &http.Client{Transport: tr}
}

// Environment returns the configured environment
func (c *Client) Environment() model.Environment {
	return c.env
}

// Send wraps the payload and posts it. An environment mismatch fails before
// any network call.
func (c *Client) Send(ctx context.Context, req Request) (*Response, error) {
	if req.Environment != "" && req.Environment != c.env {
		c.metrics.ObserveAttempt(string(req.Service), req.State, metrics.OutcomeMismatch, 0, 0)
		return nil, &model.EnvironmentMismatchError{Declared: req.Environment, Configured: c.env}
	}
	ep, err := c.resolver.Resolve(req.State, c.env, req.Service)
	if err != nil {
		return nil, err
	}
	if ep.Environment != c.env {
		c.metrics.ObserveAttempt(string(req.Service), req.State, metrics.OutcomeMismatch, 0, 0)
		return nil, &model.EnvironmentMismatchError{Declared: req.Environment, Configured: c.env, Endpoint: ep.URL}
	}

	body, err := Envelope(req.Service, req.Payload)
	if err != nil {
		return nil, err
	}

	var (
		attempts   int
		lastStatus int
		lastErr    error
	)
	for attempts < c.maxAttempts {
		if err := ctx.Err(); err != nil {
			return nil, model.NewTransportError(ep.URL, lastStatus, attempts, "cancelled before attempt", err)
		}
		attempts++

		started := time.Now()
		status, respBody, err := c.post(ctx, ep, body)
		elapsed := time.Since(started)

		if err == nil && status >= 200 && status < 300 {
			c.metrics.ObserveAttempt(string(req.Service), req.State, metrics.OutcomeSuccess, status, elapsed)
			c.logger.Debug("authority answered",
				zap.String("endpoint", ep.URL),
				zap.String("service", string(req.Service)),
				zap.Int("status", status),
				zap.Int("attempt", attempts),
				zap.Duration("elapsed", elapsed))
			return &Response{Endpoint: ep, StatusCode: status, Body: respBody, Attempts: attempts, Sent: body}, nil
		}

		lastStatus, lastErr = status, err
		if !retryable(ctx, status, err) || attempts == c.maxAttempts {
			c.metrics.ObserveAttempt(string(req.Service), req.State, metrics.OutcomeFailure, status, elapsed)
			break
		}
		c.metrics.ObserveAttempt(string(req.Service), req.State, metrics.OutcomeRetry, status, elapsed)

		delay := c.baseDelay * time.Duration(attempts)
		c.logger.Warn("authority call failed, retrying",
			zap.String("endpoint", ep.URL),
			zap.Int("status", status),
			zap.Int("attempt", attempts),
			zap.Duration("backoff", delay),
			zap.Error(err))
		if err := c.sleep(ctx, delay); err != nil {
			return nil, model.NewTransportError(ep.URL, status, attempts, "cancelled during backoff", err)
		}
	}

	msg := fmt.Sprintf("unexpected HTTP status %d", lastStatus)
	switch {
	case lastErr != nil && isTLSFailure(lastErr):
		msg = "tls handshake failed"
	case lastErr != nil && isTimeout(lastErr):
		msg = "request timed out"
	case lastErr != nil:
		msg = "network error"
	}
	c.logger.Error("authority call failed",
		zap.String("endpoint", ep.URL),
		zap.String("service", string(req.Service)),
		zap.Int("attempts", attempts),
		zap.Int("status", lastStatus),
		zap.Error(lastErr))
	return nil, model.NewTransportError(ep.URL, lastStatus, attempts, msg, lastErr)
}

// post performs one attempt under the per-attempt timeout
func (c *Client) post(ctx context.Context, ep Endpoint, body []byte) (int, []byte, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(attemptCtx, http.MethodPost, ep.URL, bytes.NewReader(body))
	if err != nil {
		return 0, nil, err
	}
	httpReq.Header.Set("Content-Type", fmt.Sprintf(`%s; action="%s"`, ContentType, ep.Service.Action()))

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return resp.StatusCode, nil, err
	}
	return resp.StatusCode, data, nil
}

// retryable reports whether a failed attempt may be repeated. The caller's
// own cancellation is never retried.
func retryable(ctx context.Context, status int, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	if err != nil {
		if isTLSFailure(err) {
			return false
		}
		return isTimeout(err) ||
			errors.Is(err, syscall.ECONNRESET) ||
			errors.Is(err, syscall.ECONNREFUSED) ||
			errors.Is(err, io.ErrUnexpectedEOF)
	}
	return status >= 500 || status == http.StatusTooManyRequests
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func isTLSFailure(err error) bool {
	var (
		verifyErr   *tls.CertificateVerificationError
		recordErr   tls.RecordHeaderError
		alertErr    tls.AlertError
		unknownCA   x509.UnknownAuthorityError
		hostnameErr x509.HostnameError
		invalidCert x509.CertificateInvalidError
	)
	return errors.As(err, &verifyErr) ||
		errors.As(err, &recordErr) ||
		errors.As(err, &alertErr) ||
		errors.As(err, &unknownCA) ||
		errors.As(err, &hostnameErr) ||
		errors.As(err, &invalidCert)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
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

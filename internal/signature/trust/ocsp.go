package trust

import (
	"bytes"
	"context"
	"crypto"
	"crypto/x509"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"golang.org/x/crypto/ocsp"
)

// Default OCSP configuration
const (
	DefaultOCSPTimeout  = 10 * time.Second
	DefaultOCSPCacheTTL = 1 * time.Hour
)

// Status is a certificate revocation status
type Status int

const (
	StatusUnknown Status = iota
	StatusGood
	StatusRevoked
)

func (s Status) String() string {
	switch s {
	case StatusGood:
		return "good"
	case StatusRevoked:
		return "revoked"
	default:
		return "unknown"
	}
}

// OCSPChecker queries OCSP responders and caches definitive answers
type OCSPChecker struct {
	client  *http.Client
	timeout time.Duration
	ttl     time.Duration

	mu      sync.Mutex
	entries map[string]cacheEntry
}

type cacheEntry struct {
	status    Status
	expiresAt time.Time
}

// OCSPOption configures an OCSPChecker
type OCSPOption func(*OCSPChecker)

// WithHTTPClient sets the client used to reach responders
func WithHTTPClient(client *http.Client) OCSPOption {
	return func(c *OCSPChecker) {
		if client != nil {
			c.client = client
		}
	}
}

// WithTimeout bounds each responder query
func WithTimeout(d time.Duration) OCSPOption {
	return func(c *OCSPChecker) {
		c.timeout = d
	}
}

// WithCacheTTL sets how long answers are cached
func WithCacheTTL(d time.Duration) OCSPOption {
	return func(c *OCSPChecker) {
		c.ttl = d
	}
}

// NewOCSPChecker creates a checker
func NewOCSPChecker(opts ...OCSPOption) *OCSPChecker {
	c := &OCSPChecker{
		client:  http.DefaultClient,
		timeout: DefaultOCSPTimeout,
		ttl:     DefaultOCSPCacheTTL,
		entries: make(map[string]cacheEntry),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Check returns the revocation status of cert. Responders are tried in order.
func (c *OCSPChecker) Check(ctx context.Context, cert, issuer *x509.Certificate) (Status, error) {
	if len(cert.OCSPServer) == 0 {
		return StatusUnknown, fmt.Errorf("no OCSP server URL in certificate")
	}
	if status, ok := c.cached(cert); ok {
		return status, nil
	}

	request, err := ocsp.CreateRequest(cert, issuer, &ocsp.RequestOptions{Hash: crypto.SHA256})
	if err != nil {
		return StatusUnknown, fmt.Errorf("failed to create OCSP request: %w", err)
	}

	var lastErr error
	for _, server := range cert.OCSPServer {
		status, err := c.query(ctx, server, request, cert, issuer)
		if err != nil {
			lastErr = err
			continue
		}
		c.store(cert, status)
		return status, nil
	}
	return StatusUnknown, fmt.Errorf("all OCSP servers failed: %w", lastErr)
}

// CacheSize returns the number of cached answers
func (c *OCSPChecker) CacheSize() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *OCSPChecker) query(ctx context.Context, serverURL string, request []byte, cert, issuer *x509.Certificate) (Status, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, serverURL, bytes.NewReader(request))
	if err != nil {
		return StatusUnknown, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	req.Header.Set("Content-Type", "application/ocsp-request")
	req.Header.Set("Accept", "application/ocsp-response")

	resp, err := c.client.Do(req)
	if err != nil {
		return StatusUnknown, fmt.Errorf("OCSP request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return StatusUnknown, fmt.Errorf("OCSP server returned status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return StatusUnknown, fmt.Errorf("failed to read OCSP response: %w", err)
	}

	parsed, err := ocsp.ParseResponseForCert(body, cert, issuer)
	if err != nil {
		return StatusUnknown, fmt.Errorf("failed to parse OCSP response: %w", err)
	}
	switch parsed.Status {
	case ocsp.Good:
		return StatusGood, nil
	case ocsp.Revoked:
		return StatusRevoked, nil
	default:
		return StatusUnknown, fmt.Errorf("OCSP status unknown")
	}
}

func (c *OCSPChecker) cached(cert *x509.Certificate) (Status, bool) {
	key := cacheKey(cert)
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		return StatusUnknown, false
	}
	if time.Now().After(entry.expiresAt) {
		delete(c.entries, key)
		return StatusUnknown, false
	}
	return entry.status, true
}

func (c *OCSPChecker) store(cert *x509.Certificate, status Status) {
	c.mu.Lock()
	c.entries[cacheKey(cert)] = cacheEntry{status: status, expiresAt: time.Now().Add(c.ttl)}
	c.mu.Unlock()
}

func cacheKey(cert *x509.Certificate) string {
	return fmt.Sprintf("%s:%s", cert.Issuer.String(), cert.SerialNumber.String())
}

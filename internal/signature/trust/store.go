// Package trust holds the CA certificates used to validate signing
// certificates and the authority's TLS endpoints.
package trust

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"time"
)

// TrustStore manages trusted CA certificates and revocation checking
type TrustStore struct {
	roots     *x509.CertPool
	rootCerts []*x509.Certificate // goxmldsig wants a slice, crypto/x509 wants a pool
	ocsp      *OCSPChecker
	softFail  bool
	insecure  bool
	skipOCSP  bool
	now       func() time.Time
}

// TrustStoreOption configures a TrustStore
type TrustStoreOption func(*TrustStore)

// NewTrustStore creates a store seeded with the system roots plus the PEM
// bundle at bundlePath, when given. ICP-Brasil roots are not in most system
// pools, so production deployments point bundlePath at the ICP-Brasil chain.
func NewTrustStore(bundlePath string, opts ...TrustStoreOption) (*TrustStore, error) {
	roots, err := x509.SystemCertPool()
	if err != nil || roots == nil {
		roots = x509.NewCertPool()
	}
	store := newStore(roots, opts...)

	if bundlePath != "" {
		data, err := os.ReadFile(bundlePath)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA bundle %s: %w", bundlePath, err)
		}
		if err := store.AddCertificatesFromPEM(data); err != nil {
			return nil, fmt.Errorf("failed to load CA bundle %s: %w", bundlePath, err)
		}
	}
	return store, nil
}

// NewEmptyTrustStore creates a trust store without any CA
func NewEmptyTrustStore(opts ...TrustStoreOption) *TrustStore {
	return newStore(x509.NewCertPool(), opts...)
}

func newStore(roots *x509.CertPool, opts ...TrustStoreOption) *TrustStore {
	store := &TrustStore{
		roots:     roots,
		rootCerts: make([]*x509.Certificate, 0),
		ocsp:      NewOCSPChecker(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(store)
	}
	return store
}

// WithSoftFail makes unreachable OCSP responders count as "not revoked"
func WithSoftFail() TrustStoreOption {
	return func(s *TrustStore) {
		s.softFail = true
	}
}

// WithInsecureSkipVerify disables TLS server verification of the authority endpoints.
// Signing certificates are still checked.
func WithInsecureSkipVerify(insecure bool) TrustStoreOption {
	return func(s *TrustStore) {
		s.insecure = insecure
	}
}

// WithOCSPChecker replaces the revocation checker
func WithOCSPChecker(c *OCSPChecker) TrustStoreOption {
	return func(s *TrustStore) {
		if c != nil {
			s.ocsp = c
		}
	}
}

// WithRevocationCheck turns OCSP queries on or off. Off reports every
// certificate as not revoked.
func WithRevocationCheck(enabled bool) TrustStoreOption {
	return func(s *TrustStore) {
		s.skipOCSP = !enabled
	}
}

// WithClock sets the time used for chain validation
func WithClock(now func() time.Time) TrustStoreOption {
	return func(s *TrustStore) {
		if now != nil {
			s.now = now
		}
	}
}

// AddCertificate adds a single certificate to the trust store
func (s *TrustStore) AddCertificate(cert *x509.Certificate) {
	if cert != nil {
		s.roots.AddCert(cert)
		s.rootCerts = append(s.rootCerts, cert)
	}
}

// AddCertificatesFromPEM parses and adds every CERTIFICATE block
func (s *TrustStore) AddCertificatesFromPEM(pemData []byte) error {
	var added int
	for {
		block, rest := pem.Decode(pemData)
		if block == nil {
			break
		}
		if block.Type == "CERTIFICATE" {
			cert, err := x509.ParseCertificate(block.Bytes)
			if err != nil {
				return fmt.Errorf("failed to parse certificate: %w", err)
			}
			s.AddCertificate(cert)
			added++
		}
		pemData = rest
	}
	if added == 0 {
		return fmt.Errorf("no certificates found in PEM data")
	}
	return nil
}

// VerifyChain verifies cert up to a trusted root and returns the first chain
func (s *TrustStore) VerifyChain(cert *x509.Certificate, intermediates []*x509.Certificate) ([]*x509.Certificate, error) {
	if cert == nil {
		return nil, fmt.Errorf("certificate is nil")
	}

	var interPool *x509.CertPool
	if len(intermediates) > 0 {
		interPool = x509.NewCertPool()
		for _, inter := range intermediates {
			interPool.AddCert(inter)
		}
	}

	chains, err := cert.Verify(x509.VerifyOptions{
		Roots:         s.roots,
		Intermediates: interPool,
		CurrentTime:   s.now(),
		KeyUsages:     []x509.ExtKeyUsage{x509.ExtKeyUsageAny},
	})
	if err != nil {
		return nil, fmt.Errorf("chain verification failed: %w", err)
	}
	if len(chains) == 0 {
		return nil, fmt.Errorf("no valid certificate chains found")
	}
	return chains[0], nil
}

// CheckRevocation asks the certificate's OCSP responders whether cert is revoked.
// A certificate without responders is reported as not revoked.
func (s *TrustStore) CheckRevocation(ctx context.Context, cert, issuer *x509.Certificate) (notRevoked bool, err error) {
	if cert == nil || issuer == nil {
		return false, fmt.Errorf("certificate or issuer is nil")
	}
	if s.skipOCSP || len(cert.OCSPServer) == 0 {
		return true, nil
	}

	status, err := s.ocsp.Check(ctx, cert, issuer)
	if err != nil {
		if s.softFail {
			return true, fmt.Errorf("OCSP check failed (soft-fail enabled): %w", err)
		}
		return false, fmt.Errorf("OCSP check failed: %w", err)
	}
	return status == StatusGood, nil
}

// TLSConfig builds the mutual-TLS client configuration for the authority
// endpoints. clientCert is asked for the certificate on every handshake.
func (s *TrustStore) TLSConfig(clientCert func(*tls.CertificateRequestInfo) (*tls.Certificate, error)) *tls.Config {
	return &tls.Config{
		MinVersion:           tls.VersionTLS12,
		RootCAs:              s.roots,
		GetClientCertificate: clientCert,
		InsecureSkipVerify:   s.insecure,
		Renegotiation:        tls.RenegotiateOnceAsClient,
	}
}

// Roots returns the certificate pool
func (s *TrustStore) Roots() *x509.CertPool {
	return s.roots
}

// RootCerts returns the explicitly added certificates
func (s *TrustStore) RootCerts() []*x509.Certificate {
	return s.rootCerts
}

// IsSoftFail returns whether soft-fail mode is enabled
func (s *TrustStore) IsSoftFail() bool {
	return s.softFail
}

// IsInsecure reports whether TLS server verification is disabled
func (s *TrustStore) IsInsecure() bool {
	return s.insecure
}

package signature

import (
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"os"
	"time"

	"software.sslmate.com/src/go-pkcs12"
)

// Credentials is the decoded A1 certificate: leaf, RSA key and CA chain.
// Callers load it per emission and drop it afterwards.
type Credentials struct {
	Certificate *x509.Certificate
	PrivateKey  *rsa.PrivateKey
	Chain       []*x509.Certificate
}

// LoadCredentials reads and decodes a PKCS#12 container and checks its validity at now
func LoadCredentials(path, password string, now time.Time) (*Credentials, error) {
	if path == "" {
		return nil, ErrContainerMissing("(not configured)", nil)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, ErrContainerMissing(path, err)
	}
	return DecodeCredentials(data, password, now)
}

// DecodeCredentials decodes a PKCS#12 container held in memory
func DecodeCredentials(data []byte, password string, now time.Time) (*Credentials, error) {
	if len(data) == 0 {
		return nil, ErrContainerMissing("(empty)", nil)
	}

	key, cert, chain, err := pkcs12.DecodeChain(data, password)
	if err != nil {
		if errors.Is(err, pkcs12.ErrIncorrectPassword) {
			return nil, ErrWrongPassword()
		}
		return nil, ErrCertInvalid("failed to decode certificate container", err)
	}

	rsaKey, ok := key.(*rsa.PrivateKey)
	if !ok {
		return nil, ErrCertInvalid("certificate key is not RSA", nil)
	}
	pub, ok := cert.PublicKey.(*rsa.PublicKey)
	if !ok || !pub.Equal(&rsaKey.PublicKey) {
		return nil, ErrCertInvalid("private key does not match certificate", nil)
	}

	creds := &Credentials{Certificate: cert, PrivateKey: rsaKey, Chain: chain}
	if err := creds.CheckValidity(now); err != nil {
		return nil, err
	}
	return creds, nil
}

// CheckValidity fails when now is outside the certificate validity window
func (c *Credentials) CheckValidity(now time.Time) error {
	subject := c.Certificate.Subject.CommonName
	if now.Before(c.Certificate.NotBefore) {
		return ErrCertNotYetValid(subject)
	}
	if now.After(c.Certificate.NotAfter) {
		return ErrCertExpired(subject)
	}
	return nil
}

// TLSCertificate returns the key pair for mutual TLS and XML signing
func (c *Credentials) TLSCertificate() tls.Certificate {
	raw := [][]byte{c.Certificate.Raw}
	for _, ca := range c.Chain {
		raw = append(raw, ca.Raw)
	}
	return tls.Certificate{
		Certificate: raw,
		PrivateKey:  c.PrivateKey,
		Leaf:        c.Certificate,
	}
}

// Issuer returns the chain certificate that issued the leaf, if present
func (c *Credentials) Issuer() *x509.Certificate {
	for _, ca := range c.Chain {
		if ca.Subject.String() == c.Certificate.Issuer.String() {
			return ca
		}
	}
	return nil
}

// Signer extracts SignerInfo for display
func (c *Credentials) Signer() *SignerInfo {
	return newSignerInfo(c.Certificate)
}

package signature

import (
	"crypto/x509"
	"strings"
	"time"
)

// VerificationResult contains the outcome of verifying a signed NF-e
type VerificationResult struct {
	// Valid is true only if every check passed
	Valid bool `json:"valid"`

	SignatureFound bool `json:"signature_found"`
	SignatureValid bool `json:"signature_valid"`
	CertChainValid bool `json:"cert_chain_valid"`
	NotRevoked     bool `json:"not_revoked"`

	// ReferenceID is the Id of the signed element, e.g. "NFe3525..."
	ReferenceID string `json:"reference_id,omitempty"`

	Signer *SignerInfo `json:"signer,omitempty"`

	CertChain []*x509.Certificate `json:"-"`

	Warnings []string `json:"warnings,omitempty"`
	Errors   []string `json:"errors,omitempty"`
}

// SignerInfo contains certificate subject information
type SignerInfo struct {
	Name string `json:"name"`
	// Document is the CNPJ/CPF ICP-Brasil certificates append to the CN after a colon
	Document     string    `json:"document,omitempty"`
	Organization string    `json:"organization,omitempty"`
	SerialNumber string    `json:"serial_number"`
	Issuer       string    `json:"issuer"`
	ValidFrom    time.Time `json:"valid_from"`
	ValidTo      time.Time `json:"valid_to"`
}

// NewVerificationResult creates a new empty result
func NewVerificationResult() *VerificationResult {
	return &VerificationResult{
		Warnings: make([]string, 0),
		Errors:   make([]string, 0),
	}
}

// AddWarning adds a warning message to the result
func (r *VerificationResult) AddWarning(msg string) {
	r.Warnings = append(r.Warnings, msg)
}

// AddError adds an error message and sets Valid to false
func (r *VerificationResult) AddError(msg string) {
	r.Errors = append(r.Errors, msg)
	r.Valid = false
}

// SetSigner populates SignerInfo from an x509 certificate
func (r *VerificationResult) SetSigner(cert *x509.Certificate) {
	r.Signer = newSignerInfo(cert)
}

// ComputeValidity sets Valid from the individual checks
func (r *VerificationResult) ComputeValidity() {
	r.Valid = r.SignatureFound &&
		r.SignatureValid &&
		r.CertChainValid &&
		r.NotRevoked &&
		len(r.Errors) == 0
}

func newSignerInfo(cert *x509.Certificate) *SignerInfo {
	if cert == nil {
		return nil
	}
	info := &SignerInfo{
		Name:         cert.Subject.CommonName,
		SerialNumber: cert.SerialNumber.String(),
		ValidFrom:    cert.NotBefore,
		ValidTo:      cert.NotAfter,
	}
	if name, doc, ok := strings.Cut(cert.Subject.CommonName, ":"); ok {
		info.Name = name
		info.Document = doc
	}
	if len(cert.Subject.Organization) > 0 {
		info.Organization = cert.Subject.Organization[0]
	}
	if cert.Issuer.CommonName != "" {
		info.Issuer = cert.Issuer.CommonName
	} else if len(cert.Issuer.Organization) > 0 {
		info.Issuer = cert.Issuer.Organization[0]
	}
	return info
}

package signature

import (
	"context"
	"crypto/x509"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/beevik/etree"
	dsig "github.com/russellhaering/goxmldsig"

	"github.com/rezonia/nfe-engine/internal/signature/trust"
)

// Verifier checks enveloped signatures produced by Signer or by other NF-e emitters
type Verifier struct {
	trustStore *trust.TrustStore
	now        func() time.Time
}

// NewVerifier creates a verifier. A nil trust store skips chain and revocation checks.
func NewVerifier(ts *trust.TrustStore) *Verifier {
	return &Verifier{trustStore: ts, now: time.Now}
}

// WithClock returns a copy of v using now for validity checks
func (v *Verifier) WithClock(now func() time.Time) *Verifier {
	cp := *v
	cp.now = now
	return &cp
}

// Verify validates the signature over the first target element of data.
// Failed checks are reported in the result; the error is reserved for
// documents without a signature or unparsable input.
func (v *Verifier) Verify(ctx context.Context, data []byte, target string) (*VerificationResult, error) {
	result := NewVerificationResult()

	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(data); err != nil {
		result.AddError(fmt.Sprintf("failed to parse XML: %v", err))
		return result, ErrInvalidSignature(err)
	}

	el := findByTag(doc.Root(), target)
	if el == nil {
		result.AddError(fmt.Sprintf("element %s not found", target))
		return result, ErrTargetNotFound(target)
	}
	result.ReferenceID = el.SelectAttrValue(IDAttribute, "")

	sig := findSignature(el)
	if sig == nil {
		result.AddError("no Signature element found")
		return result, ErrNoSignature()
	}
	result.SignatureFound = true

	cert, err := signingCertificate(sig)
	if err != nil {
		result.AddError(err.Error())
		result.ComputeValidity()
		return result, nil
	}
	result.SetSigner(cert)

	// goxmldsig expects the signature inside the referenced element
	signed := withInheritedNamespace(el)
	if signed.SelectElement("Signature") == nil {
		signed.AddChild(sig.Copy())
	}
	validation := dsig.NewDefaultValidationContext(&dsig.MemoryX509CertificateStore{
		Roots: []*x509.Certificate{cert},
	})
	validation.IdAttribute = IDAttribute
	validation.Clock = dsig.NewFakeClockAt(v.now())
	if _, err := validation.Validate(signed); err != nil {
		result.AddError(fmt.Sprintf("signature validation failed: %v", err))
	} else {
		result.SignatureValid = true
	}

	v.checkCertificate(ctx, cert, result)
	result.ComputeValidity()
	return result, nil
}

func (v *Verifier) checkCertificate(ctx context.Context, cert *x509.Certificate, result *VerificationResult) {
	if v.trustStore == nil {
		result.CertChainValid = true
		result.NotRevoked = true
		result.AddWarning("certificate chain not checked: no trust store configured")
		return
	}

	chain, err := v.trustStore.VerifyChain(cert, nil)
	if err != nil {
		result.AddError(ErrChainInvalid(err).Error())
		return
	}
	result.CertChain = chain
	result.CertChainValid = true

	if len(chain) < 2 {
		result.NotRevoked = true
		result.AddWarning("revocation check skipped: no issuer certificate in chain")
		return
	}
	notRevoked, err := v.trustStore.CheckRevocation(ctx, cert, chain[1])
	if err != nil {
		if v.trustStore.IsSoftFail() {
			result.AddWarning(fmt.Sprintf("OCSP check: %v", err))
		} else {
			result.AddError(fmt.Sprintf("OCSP check failed: %v", err))
		}
	}
	result.NotRevoked = notRevoked
	if err == nil && !notRevoked {
		result.AddError(ErrCertRevoked(cert.Subject.CommonName).Error())
	}
}

// findSignature looks for the Signature sibling first, then a child
func findSignature(el *etree.Element) *etree.Element {
	if parent := el.Parent(); parent != nil {
		for _, child := range parent.ChildElements() {
			if child.Tag == "Signature" {
				return child
			}
		}
	}
	return el.SelectElement("Signature")
}

func signingCertificate(sig *etree.Element) (*x509.Certificate, error) {
	certElem := sig.FindElement("./KeyInfo/X509Data/X509Certificate")
	if certElem == nil || strings.TrimSpace(certElem.Text()) == "" {
		return nil, fmt.Errorf("no X509Certificate found in Signature")
	}
	der, err := base64.StdEncoding.DecodeString(strings.Join(strings.Fields(certElem.Text()), ""))
	if err != nil {
		return nil, fmt.Errorf("failed to decode certificate: %w", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, fmt.Errorf("failed to parse certificate: %w", err)
	}
	return cert, nil
}

package signature

import (
	"crypto"

	"github.com/beevik/etree"
	dsig "github.com/russellhaering/goxmldsig"
	"go.uber.org/zap"
)

// Elements signed in the authority's schemas
const (
	TargetInvoice      = "infNFe"
	TargetEvent        = "infEvento"
	TargetInutilizacao = "infInut"

	// IDAttribute is the reference attribute of every signed element
	IDAttribute = "Id"
)

// Signer produces enveloped XMLDSig signatures (exclusive c14n, SHA-256,
// RSA-SHA256). The Signature element is appended to the signed element's
// parent, as the NF-e schemas place it.
type Signer struct {
	logger *zap.Logger
}

// SignerOption configures a Signer
type SignerOption func(*Signer)

// WithLogger sets the signer logger
func WithLogger(logger *zap.Logger) SignerOption {
	return func(s *Signer) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewSigner creates a signer
func NewSigner(opts ...SignerOption) *Signer {
	s := &Signer{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Sign signs the first target element of data and returns the whole document
func (s *Signer) Sign(data []byte, target string, creds *Credentials) ([]byte, error) {
	if creds == nil {
		return nil, ErrContainerMissing("(nil credentials)", nil)
	}

	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(data); err != nil {
		return nil, ErrSigningFailed(err)
	}

	el := findByTag(doc.Root(), target)
	if el == nil || el.SelectAttrValue(IDAttribute, "") == "" {
		return nil, ErrTargetNotFound(target)
	}
	parent := el.Parent()
	if parent == nil {
		return nil, ErrTargetNotFound(target)
	}

	sig, err := newSigningContext(creds).ConstructSignature(withInheritedNamespace(el), true)
	if err != nil {
		return nil, ErrSigningFailed(err)
	}
	parent.AddChild(sig)

	out, err := doc.WriteToBytes()
	if err != nil {
		return nil, ErrSigningFailed(err)
	}

	s.logger.Debug("element signed",
		zap.String("target", target),
		zap.String("id", el.SelectAttrValue(IDAttribute, "")),
		zap.String("certificate", creds.Certificate.Subject.CommonName))
	return out, nil
}

func newSigningContext(creds *Credentials) *dsig.SigningContext {
	ctx := dsig.NewDefaultSigningContext(dsig.TLSCertKeyStore(creds.TLSCertificate()))
	ctx.Hash = crypto.SHA256
	ctx.Prefix = ""
	ctx.IdAttribute = IDAttribute
	ctx.Canonicalizer = dsig.MakeC14N10ExclusiveCanonicalizerWithPrefixList("")
	return ctx
}

// withInheritedNamespace returns a detached copy of el carrying the default
// namespace it inherits, so its canonical form matches the in-document one.
func withInheritedNamespace(el *etree.Element) *etree.Element {
	cp := el.Copy()
	if cp.SelectAttr("xmlns") != nil {
		return cp
	}
	for p := el.Parent(); p != nil; p = p.Parent() {
		if ns := p.SelectAttr("xmlns"); ns != nil {
			cp.CreateAttr("xmlns", ns.Value)
			break
		}
	}
	return cp
}

// findByTag walks the tree depth-first and returns the first element with the local name
func findByTag(root *etree.Element, tag string) *etree.Element {
	if root == nil {
		return nil
	}
	if root.Tag == tag {
		return root
	}
	for _, child := range root.ChildElements() {
		if found := findByTag(child, tag); found != nil {
			return found
		}
	}
	return nil
}

// DetectTarget returns the signed element a document carries: an event, a
// number voiding or, by default, an invoice
func DetectTarget(data []byte) string {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(data); err != nil {
		return TargetInvoice
	}
	for _, target := range []string{TargetInvoice, TargetEvent, TargetInutilizacao} {
		if findByTag(doc.Root(), target) != nil {
			return target
		}
	}
	return TargetInvoice
}

package signature

import (
	"fmt"

	"github.com/rezonia/nfe-engine/internal/model"
)

// Error codes for signing and verification
const (
	// certificate configuration faults
	ErrCodeContainerMissing = "CONTAINER_MISSING"
	ErrCodeWrongPassword    = "WRONG_PASSWORD"
	ErrCodeCertInvalid      = "CERT_INVALID"
	ErrCodeCertExpired      = "CERT_EXPIRED"
	ErrCodeCertNotYetValid  = "CERT_NOT_YET_VALID"
	ErrCodeCertRevoked      = "CERT_REVOKED"

	// programming or schema faults
	ErrCodeTargetNotFound = "TARGET_NOT_FOUND"
	ErrCodeSigningFailed  = "SIGNING_FAILED"

	// verification outcomes
	ErrCodeNoSignature      = "NO_SIGNATURE"
	ErrCodeInvalidSignature = "INVALID_SIGNATURE"
	ErrCodeChainInvalid     = "CHAIN_INVALID"
)

var certificateCodes = map[string]bool{
	ErrCodeContainerMissing: true,
	ErrCodeWrongPassword:    true,
	ErrCodeCertInvalid:      true,
	ErrCodeCertExpired:      true,
	ErrCodeCertNotYetValid:  true,
	ErrCodeCertRevoked:      true,
}

// SignatureError represents signing and verification errors
type SignatureError struct {
	Code    string
	Field   string
	Message string
	Cause   error
}

func (e *SignatureError) Error() string {
	if e.Field != "" && e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %s (%v)", e.Code, e.Field, e.Message, e.Cause)
	}
	if e.Field != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Code, e.Field, e.Message)
	}
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s (%v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *SignatureError) Unwrap() error {
	return e.Cause
}

// Is reports certificate configuration faults as model.ErrCertificate
func (e *SignatureError) Is(target error) bool {
	return target == model.ErrCertificate && certificateCodes[e.Code]
}

// IsCertificateError reports whether the code is an operator configuration fault
func (e *SignatureError) IsCertificateError() bool {
	return certificateCodes[e.Code]
}

// NewSignatureError creates a new signature error
func NewSignatureError(code, field, message string, cause error) *SignatureError {
	return &SignatureError{
		Code:    code,
		Field:   field,
		Message: message,
		Cause:   cause,
	}
}

// ErrContainerMissing returns error when the PKCS#12 container cannot be read
func ErrContainerMissing(path string, cause error) *SignatureError {
	return NewSignatureError(ErrCodeContainerMissing, "certificate", fmt.Sprintf("certificate container not found: %s", path), cause)
}

// ErrWrongPassword returns error when the container password is incorrect
func ErrWrongPassword() *SignatureError {
	return NewSignatureError(ErrCodeWrongPassword, "certificate", "certificate container password is incorrect", nil)
}

// ErrCertInvalid returns error when the container holds unusable material
func ErrCertInvalid(message string, cause error) *SignatureError {
	return NewSignatureError(ErrCodeCertInvalid, "certificate", message, cause)
}

// ErrCertExpired returns error when certificate has expired
func ErrCertExpired(subject string) *SignatureError {
	return NewSignatureError(ErrCodeCertExpired, "certificate", fmt.Sprintf("certificate expired: %s", subject), nil)
}

// ErrCertNotYetValid returns error when certificate is not yet valid
func ErrCertNotYetValid(subject string) *SignatureError {
	return NewSignatureError(ErrCodeCertNotYetValid, "certificate", fmt.Sprintf("certificate not yet valid: %s", subject), nil)
}

// ErrCertRevoked returns error when certificate has been revoked
func ErrCertRevoked(subject string) *SignatureError {
	return NewSignatureError(ErrCodeCertRevoked, "certificate", fmt.Sprintf("certificate revoked: %s", subject), nil)
}

// ErrTargetNotFound returns error when the element to sign is absent or has no Id
func ErrTargetNotFound(target string) *SignatureError {
	return NewSignatureError(ErrCodeTargetNotFound, target, "element to sign not found or missing Id attribute", nil)
}

// ErrSigningFailed wraps a failure of the signature construction
func ErrSigningFailed(cause error) *SignatureError {
	return NewSignatureError(ErrCodeSigningFailed, "signature", "failed to construct signature", cause)
}

// ErrNoSignature returns error when no signature found in document
func ErrNoSignature() *SignatureError {
	return NewSignatureError(ErrCodeNoSignature, "", "no signature found in document", nil)
}

// ErrInvalidSignature returns error when signature validation fails
func ErrInvalidSignature(cause error) *SignatureError {
	return NewSignatureError(ErrCodeInvalidSignature, "signature", "signature validation failed", cause)
}

// ErrChainInvalid returns error when certificate chain is invalid
func ErrChainInvalid(cause error) *SignatureError {
	return NewSignatureError(ErrCodeChainInvalid, "chain", "certificate chain validation failed", cause)
}

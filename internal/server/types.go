package server

import (
	"time"

	"github.com/rezonia/nfe-engine/internal/model"
	"github.com/rezonia/nfe-engine/internal/response"
	"github.com/rezonia/nfe-engine/internal/suggest"
)

// ItemTaxes is the calculation result of one item
type ItemTaxes struct {
	Number int                         `json:"number"`
	Taxes  *model.CalculatedTaxPackage `json:"taxes"`
}

// CalculateResponse is the response for the tax calculation endpoint
type CalculateResponse struct {
	Items []ItemTaxes `json:"items"`
}

// EmitResponse is the response for the emit endpoint
type EmitResponse struct {
	Document    *model.FiscalDocument        `json:"document"`
	Status      model.Status                 `json:"status"`
	Result      response.Result              `json:"result"`
	Attempts    int                          `json:"attempts"`
	Suggestions map[int][]suggest.Suggestion `json:"suggestions,omitempty"`
	SignedXML   string                       `json:"signed_xml,omitempty"`
	ResponseXML string                       `json:"response_xml,omitempty"`
}

// KeyRequest carries the fields of an access key
type KeyRequest struct {
	State        string              `json:"state" binding:"required"`
	EmittedAt    time.Time           `json:"emitted_at" binding:"required"`
	IssuerDoc    string              `json:"issuer_document" binding:"required"`
	Model        model.DocumentModel `json:"model"`
	Series       int                 `json:"series"`
	Number       int64               `json:"number" binding:"required"`
	EmissionType int                 `json:"emission_type"`
	RandomCode   string              `json:"random_code"`
}

// KeyResponse is the response for the access-key endpoint
type KeyResponse struct {
	AccessKey  string `json:"access_key"`
	RandomCode string `json:"random_code"`
}

// FieldError is one entry of a validation error response
type FieldError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ErrorPayload is the body of every error response
type ErrorPayload struct {
	Type    string       `json:"type"`
	Message string       `json:"message"`
	Errors  []FieldError `json:"errors,omitempty"`
	// Raw is the authority payload of a parse failure
	Raw string `json:"raw,omitempty"`
}

// ErrorResponse is the standard error response
type ErrorResponse struct {
	Error ErrorPayload `json:"error"`
}

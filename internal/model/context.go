package model

import (
	"github.com/shopspring/decimal"
)

// Rates is a flat set of percentages. Nil means absent.
type Rates struct {
	ICMS   *decimal.Decimal `json:"icms,omitempty"`
	IPI    *decimal.Decimal `json:"ipi,omitempty"`
	PIS    *decimal.Decimal `json:"pis,omitempty"`
	COFINS *decimal.Decimal `json:"cofins,omitempty"`
	CBS    *decimal.Decimal `json:"cbs,omitempty"`
	IBS    *decimal.Decimal `json:"ibs,omitempty"`
	MVA    *decimal.Decimal `json:"mva,omitempty"`
}

// FiscalContext is the immutable input of one item calculation.
// Built once per line item by the rule resolver and discarded afterwards.
type FiscalContext struct {
	IssuerState      string
	DestinationState string
	Regime           TaxRegime
	ProductID        string
	Imported         bool

	Operation      *OperationCode
	Classification *ClassificationCode

	// Rates are classification defaults with the differential override applied
	Rates         Rates
	Differential  *DifferentialOverride
	Profile       *StandardProfile
	ProfileSource ProfileSource

	ICMSInternalRate   *decimal.Decimal
	ICMSInterstateRate *decimal.Decimal
}

// SameState reports whether the operation stays inside the issuer's state
func (c FiscalContext) SameState() bool {
	return c.IssuerState == c.DestinationState
}

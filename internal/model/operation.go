package model

import (
	"github.com/shopspring/decimal"
)

// Direction of a commercial operation relative to the issuer
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// Scope of a commercial operation (first digit of the CFOP, modulo direction)
type Scope string

const (
	ScopeInternal   Scope = "internal"
	ScopeInterstate Scope = "interstate"
	ScopeForeign    Scope = "foreign"
)

// OperationType is the business nature of a document (sale, purchase, ...)
type OperationType string

const (
	OperationSale           OperationType = "sale"
	OperationPurchase       OperationType = "purchase"
	OperationSaleReturn     OperationType = "sale_return"
	OperationPurchaseReturn OperationType = "purchase_return"
	OperationTransferOut    OperationType = "transfer_out"
	OperationTransferIn     OperationType = "transfer_in"
)

// Direction returns whether the operation brings goods in or sends them out
func (t OperationType) Direction() Direction {
	switch t {
	case OperationPurchase, OperationSaleReturn, OperationTransferIn:
		return DirectionInbound
	default:
		return DirectionOutbound
	}
}

// OperationCode is a CFOP record
type OperationCode struct {
	Code        string `yaml:"code" json:"code"`
	Description string `yaml:"description" json:"description"`

	RequiresICMS      bool `yaml:"requires_icms" json:"requires_icms"`
	RequiresIPI       bool `yaml:"requires_ipi" json:"requires_ipi"`
	RequiresPISCOFINS bool `yaml:"requires_pis_cofins" json:"requires_pis_cofins"`
	RequiresCBS       bool `yaml:"requires_cbs" json:"requires_cbs"`
	RequiresIBS       bool `yaml:"requires_ibs" json:"requires_ibs"`
	GeneratesST       bool `yaml:"generates_st" json:"generates_st"`
	GeneratesDIFAL    bool `yaml:"generates_difal" json:"generates_difal"`

	ICMSBaseIncludesIPI bool `yaml:"icms_base_includes_ipi" json:"icms_base_includes_ipi"`
	STBaseIncludesIPI   bool `yaml:"st_base_includes_ipi" json:"st_base_includes_ipi"`
}

// Validate checks the 4-digit numeric code with first digit in {1,2,3,5,6,7}
func (o *OperationCode) Validate() error {
	if !IsDigits(o.Code) || len(o.Code) != 4 {
		return NewValidationError("cfop", o.Code, "format", "must be a 4-digit numeric code")
	}
	switch o.Code[0] {
	case '1', '2', '3', '5', '6', '7':
		return nil
	default:
		return NewValidationError("cfop", o.Code, "first_digit", "first digit must be one of 1,2,3,5,6,7")
	}
}

// Direction derives inbound/outbound from the first digit
func (o *OperationCode) Direction() Direction {
	if o.Code != "" && o.Code[0] >= '5' {
		return DirectionOutbound
	}
	return DirectionInbound
}

// Scope derives internal/interstate/foreign from the first digit
func (o *OperationCode) Scope() Scope {
	if o.Code == "" {
		return ScopeInternal
	}
	switch o.Code[0] {
	case '2', '6':
		return ScopeInterstate
	case '3', '7':
		return ScopeForeign
	default:
		return ScopeInternal
	}
}

// RateTable holds the default rates (percent) of a classification code. Nil means not set.
type RateTable struct {
	IPI    *decimal.Decimal `yaml:"ipi" json:"ipi,omitempty"`
	PIS    *decimal.Decimal `yaml:"pis" json:"pis,omitempty"`
	COFINS *decimal.Decimal `yaml:"cofins" json:"cofins,omitempty"`
	CBS    *decimal.Decimal `yaml:"cbs" json:"cbs,omitempty"`
	IBS    *decimal.Decimal `yaml:"ibs" json:"ibs,omitempty"`
	MVA    *decimal.Decimal `yaml:"mva" json:"mva,omitempty"`
}

// ClassificationCode is an NCM record with its default rates
type ClassificationCode struct {
	Code        string    `yaml:"code" json:"code"`
	Description string    `yaml:"description" json:"description"`
	Rates       RateTable `yaml:"rates" json:"rates"`
}

// Validate checks the 8-digit code
func (c *ClassificationCode) Validate() error {
	if !IsDigits(c.Code) || len(c.Code) != 8 {
		return NewValidationError("ncm", c.Code, "format", "must be an 8-digit numeric code")
	}
	return nil
}

// DifferentialOverride replaces specific rates for an (NCM, CFOP) pair. Nil fields are untouched.
type DifferentialOverride struct {
	ClassificationCode string           `yaml:"ncm" json:"ncm"`
	OperationCode      string           `yaml:"cfop" json:"cfop"`
	ICMS               *decimal.Decimal `yaml:"icms" json:"icms,omitempty"`
	IPI                *decimal.Decimal `yaml:"ipi" json:"ipi,omitempty"`
	PIS                *decimal.Decimal `yaml:"pis" json:"pis,omitempty"`
	COFINS             *decimal.Decimal `yaml:"cofins" json:"cofins,omitempty"`
	CBS                *decimal.Decimal `yaml:"cbs" json:"cbs,omitempty"`
	IBS                *decimal.Decimal `yaml:"ibs" json:"ibs,omitempty"`
	MVA                *decimal.Decimal `yaml:"mva" json:"mva,omitempty"`
}

// ProfileSource tags which hierarchy level supplied a StandardProfile
type ProfileSource string

const (
	ProfileSourceNone           ProfileSource = ""
	ProfileSourceProduct        ProfileSource = "product"
	ProfileSourceOperationCode  ProfileSource = "operation-code"
	ProfileSourceClassification ProfileSource = "classification-code"
)

// StandardProfile supplies explicit CST and rate overrides.
// Every field is optional; a set field always wins over computed defaults.
type StandardProfile struct {
	ID string `yaml:"id" json:"id"`

	CSTICMS   *string `yaml:"cst_icms" json:"cst_icms,omitempty"`
	CSOSN     *string `yaml:"csosn" json:"csosn,omitempty"`
	CSTIPI    *string `yaml:"cst_ipi" json:"cst_ipi,omitempty"`
	CSTPIS    *string `yaml:"cst_pis" json:"cst_pis,omitempty"`
	CSTCOFINS *string `yaml:"cst_cofins" json:"cst_cofins,omitempty"`
	CSTIBSCBS *string `yaml:"cst_ibs_cbs" json:"cst_ibs_cbs,omitempty"`
	ClassTrib *string `yaml:"class_trib" json:"class_trib,omitempty"`

	ICMSRate   *decimal.Decimal `yaml:"icms_rate" json:"icms_rate,omitempty"`
	IPIRate    *decimal.Decimal `yaml:"ipi_rate" json:"ipi_rate,omitempty"`
	PISRate    *decimal.Decimal `yaml:"pis_rate" json:"pis_rate,omitempty"`
	COFINSRate *decimal.Decimal `yaml:"cofins_rate" json:"cofins_rate,omitempty"`
	CBSRate    *decimal.Decimal `yaml:"cbs_rate" json:"cbs_rate,omitempty"`
	IBSRate    *decimal.Decimal `yaml:"ibs_rate" json:"ibs_rate,omitempty"`
	MVA        *decimal.Decimal `yaml:"mva" json:"mva,omitempty"`
}

// IsDigits reports whether s is non-empty and all ASCII digits
func IsDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

package model

import (
	"github.com/shopspring/decimal"
)

// Item is one line of the document
type Item struct {
	Number      int    `json:"number"`
	ProductID   string `json:"product_id"`
	Code        string `json:"code"`
	EAN         string `json:"ean,omitempty"`
	Description string `json:"description"`
	NCM         string `json:"ncm"`
	CEST        string `json:"cest,omitempty"`
	CFOP        string `json:"cfop,omitempty"`
	Unit        string `json:"unit"`
	Origin      int    `json:"origin"` // orig: 0 national, 1/2 foreign, ...

	Quantity  decimal.Decimal  `json:"quantity"`
	UnitPrice decimal.Decimal  `json:"unit_price"`
	Total     *decimal.Decimal `json:"total,omitempty"` // explicit gross total, wins over qty*price
	Discount  decimal.Decimal  `json:"discount"`
	Freight   decimal.Decimal  `json:"freight"`
	Insurance decimal.Decimal  `json:"insurance"`
	Other     decimal.Decimal  `json:"other"`

	Taxes *CalculatedTaxPackage `json:"taxes,omitempty"`
}

// IsImported reports whether the origin code denotes foreign goods for the 4% interstate rule
func (i Item) IsImported() bool {
	switch i.Origin {
	case 1, 2, 3, 8:
		return true
	}
	return false
}

// SituationCodes are the resolved CST/CSOSN codes of an item
type SituationCodes struct {
	ICMS   string `json:"icms"` // CST for normal regime, CSOSN for simplified
	IPI    string `json:"ipi"`
	PIS    string `json:"pis"`
	COFINS string `json:"cofins"`
	IBSCBS string `json:"ibs_cbs"`
	// ClassTrib is the IBS/CBS tax classification code
	ClassTrib string `json:"class_trib"`
	// Simplified is set when ICMS holds a CSOSN
	Simplified bool `json:"simplified"`
}

// CalculatedTaxPackage is the immutable per-item tax result.
// A nil value means the tax does not apply or could not be computed.
type CalculatedTaxPackage struct {
	CFOP          string        `json:"cfop"`
	ProfileSource ProfileSource `json:"profile_source,omitempty"`

	RootBase   decimal.Decimal  `json:"root_base"`
	ICMSBase   decimal.Decimal  `json:"icms_base"`
	STBase     decimal.Decimal  `json:"st_base"`
	PISBase    *decimal.Decimal `json:"pis_base,omitempty"`
	COFINSBase *decimal.Decimal `json:"cofins_base,omitempty"`

	IPIRate    *decimal.Decimal `json:"ipi_rate,omitempty"`
	ICMSRate   *decimal.Decimal `json:"icms_rate,omitempty"`
	MVA        *decimal.Decimal `json:"mva,omitempty"`
	STRate     *decimal.Decimal `json:"st_rate,omitempty"`
	PISRate    *decimal.Decimal `json:"pis_rate,omitempty"`
	COFINSRate *decimal.Decimal `json:"cofins_rate,omitempty"`
	CBSRate    *decimal.Decimal `json:"cbs_rate,omitempty"`
	IBSRate    *decimal.Decimal `json:"ibs_rate,omitempty"`

	IPIValue    *decimal.Decimal `json:"ipi_value,omitempty"`
	ICMSValue   *decimal.Decimal `json:"icms_value,omitempty"`
	STBaseMVA   *decimal.Decimal `json:"st_base_mva,omitempty"`
	STValue     *decimal.Decimal `json:"st_value,omitempty"`
	PISValue    *decimal.Decimal `json:"pis_value,omitempty"`
	COFINSValue *decimal.Decimal `json:"cofins_value,omitempty"`
	CBSValue    *decimal.Decimal `json:"cbs_value,omitempty"`
	IBSValue    *decimal.Decimal `json:"ibs_value,omitempty"`

	Codes SituationCodes `json:"codes"`
}

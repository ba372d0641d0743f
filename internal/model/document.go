package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Environment is the authority environment (tpAmb)
type Environment string

const (
	EnvironmentProduction   Environment = "production"
	EnvironmentHomologation Environment = "homologation"
)

// Code returns the tpAmb wire code
func (e Environment) Code() string {
	if e == EnvironmentProduction {
		return "1"
	}
	return "2"
}

// ParseEnvironment accepts names and tpAmb codes
func ParseEnvironment(s string) (Environment, bool) {
	switch s {
	case "production", "prod", "1":
		return EnvironmentProduction, true
	case "homologation", "homolog", "hom", "2":
		return EnvironmentHomologation, true
	default:
		return "", false
	}
}

// TaxRegime is the issuer's CRT
type TaxRegime int

const (
	RegimeSimplified       TaxRegime = 1 // Simples Nacional
	RegimeSimplifiedExcess TaxRegime = 2 // Simples Nacional, gross revenue sublimit exceeded
	RegimeNormal           TaxRegime = 3
	RegimeSimplifiedMEI    TaxRegime = 4
)

// IsSimplified reports whether CSOSN codes apply
func (r TaxRegime) IsSimplified() bool {
	return r == RegimeSimplified || r == RegimeSimplifiedExcess || r == RegimeSimplifiedMEI
}

// DocumentModel is the fiscal document model code
type DocumentModel string

const (
	ModelNFe  DocumentModel = "55"
	ModelNFCe DocumentModel = "65"
)

// Purpose is finNFe
type Purpose string

const (
	PurposeNormal        Purpose = "1"
	PurposeComplementary Purpose = "2"
	PurposeAdjustment    Purpose = "3"
	PurposeReturn        Purpose = "4"
)

// DestinationIndicator is idDest
type DestinationIndicator string

const (
	DestinationInternal   DestinationIndicator = "1"
	DestinationInterstate DestinationIndicator = "2"
	DestinationExport     DestinationIndicator = "3"
)

// ForeignState is the UF used for recipients abroad
const ForeignState = "EX"

// Header carries identification fields of the invoice (ide)
type Header struct {
	CompanyID      string               `json:"company_id"`
	Branch         string               `json:"branch"`
	Model          DocumentModel        `json:"model"`
	Series         int                  `json:"series"`
	Number         int64                `json:"number"`
	NatureOfOp     string               `json:"nature_of_operation"`
	OperationType  OperationType        `json:"operation_type"`
	Purpose        Purpose              `json:"purpose"`
	Environment    Environment          `json:"environment"`
	EmissionType   int                  `json:"emission_type"`
	EmittedAt      time.Time            `json:"emitted_at"`
	DepartureAt    *time.Time           `json:"departure_at,omitempty"`
	FinalConsumer  bool                 `json:"final_consumer"`
	Presence       int                  `json:"presence"`
	Destination    DestinationIndicator `json:"destination"`
	AdditionalInfo string               `json:"additional_info,omitempty"`
}

// Address is a postal address with IBGE codes
type Address struct {
	Street      string `json:"street"`
	Number      string `json:"number"`
	Complement  string `json:"complement,omitempty"`
	District    string `json:"district"`
	CityCode    string `json:"city_code"`
	CityName    string `json:"city_name"`
	State       string `json:"state"`
	PostalCode  string `json:"postal_code"`
	CountryCode string `json:"country_code"`
	CountryName string `json:"country_name"`
	Phone       string `json:"phone,omitempty"`
}

// Party is an issuer or recipient
type Party struct {
	Document          string    `json:"document"` // CNPJ (14) or CPF (11)
	Name              string    `json:"name"`
	TradeName         string    `json:"trade_name,omitempty"`
	StateRegistration string    `json:"state_registration,omitempty"`
	Regime            TaxRegime `json:"regime,omitempty"`
	Email             string    `json:"email,omitempty"`
	ForeignID         string    `json:"foreign_id,omitempty"`
	Address           Address   `json:"address"`
}

// IsCompany reports whether the document is a CNPJ
func (p Party) IsCompany() bool {
	return len(p.Document) == 14
}

// Transport is the freight block (transp)
type Transport struct {
	FreightMode  int              `json:"freight_mode"` // modFrete, 9 = no freight
	CarrierDoc   string           `json:"carrier_document,omitempty"`
	CarrierName  string           `json:"carrier_name,omitempty"`
	CarrierState string           `json:"carrier_state,omitempty"`
	Volumes      int              `json:"volumes,omitempty"`
	GrossWeight  *decimal.Decimal `json:"gross_weight,omitempty"`
	NetWeight    *decimal.Decimal `json:"net_weight,omitempty"`
}

// Payment is one detPag entry
type Payment struct {
	Method string          `json:"method"` // tPag
	Amount decimal.Decimal `json:"amount"`
}

// Protocol is the authority's answer persisted on the document
type Protocol struct {
	Number     string    `json:"number"`
	StatusCode int       `json:"status_code"`
	Reason     string    `json:"reason"`
	ReceivedAt time.Time `json:"received_at"`
}

// FiscalDocument is the invoice
type FiscalDocument struct {
	ID        string    `json:"id"`
	Header    Header    `json:"header"`
	Issuer    Party     `json:"issuer"`
	Recipient Party     `json:"recipient"`
	Items     []Item    `json:"items"`
	Transport Transport `json:"transport"`
	Payments  []Payment `json:"payments,omitempty"`
	Status    Status    `json:"status"`

	AccessKey  string    `json:"access_key,omitempty"`
	RandomCode string    `json:"random_code,omitempty"`
	SignedXML  []byte    `json:"-"`
	Protocol   *Protocol `json:"protocol,omitempty"`
	// Receipt is nRec of a lot the authority queued for asynchronous processing
	Receipt string `json:"receipt,omitempty"`
}

// Clone returns a deep copy so a failed transition leaves the original untouched
func (d *FiscalDocument) Clone() *FiscalDocument {
	c := *d
	c.Items = make([]Item, len(d.Items))
	for i, item := range d.Items {
		c.Items[i] = item
		if item.Taxes != nil {
			pkg := *item.Taxes
			c.Items[i].Taxes = &pkg
		}
	}
	c.Payments = append([]Payment(nil), d.Payments...)
	c.SignedXML = append([]byte(nil), d.SignedXML...)
	if d.Protocol != nil {
		p := *d.Protocol
		c.Protocol = &p
	}
	if d.Header.DepartureAt != nil {
		t := *d.Header.DepartureAt
		c.Header.DepartureAt = &t
	}
	return &c
}

// TransmissionEnvelope is the ephemeral payload of one transmission attempt
type TransmissionEnvelope struct {
	SignedXML  []byte
	AccessKey  string
	SequenceID int64
}

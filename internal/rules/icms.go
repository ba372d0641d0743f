package rules

import (
	"strings"

	"github.com/shopspring/decimal"

	"github.com/rezonia/nfe-engine/internal/model"
)

// Interstate ICMS rates (Senate resolutions 22/1989 and 13/2012)
var (
	InterstateRateSouthToNorth = decimal.NewFromInt(7)
	InterstateRateDefault      = decimal.NewFromInt(12)
	InterstateRateImported     = decimal.NewFromInt(4)
)

// south and southeast states, except ES, pay 7% when shipping to the remaining states
var southSoutheast = map[string]bool{
	"SP": true, "RJ": true, "MG": true, "PR": true, "SC": true, "RS": true,
}

// ICMSRateTable holds internal ICMS rates per state and optional interstate overrides
type ICMSRateTable struct {
	Internal   map[string]decimal.Decimal `yaml:"internal" json:"internal"`
	Interstate map[string]decimal.Decimal `yaml:"interstate" json:"interstate"` // key "SP-RJ"
}

// DefaultICMSRateTable returns the modal internal rates in force per state
func DefaultICMSRateTable() *ICMSRateTable {
	internal := map[string]string{
		"AC": "19", "AL": "19", "AM": "20", "AP": "18", "BA": "20.5", "CE": "20", "DF": "20",
		"ES": "17", "GO": "19", "MA": "23", "MG": "18", "MS": "17", "MT": "17", "PA": "19",
		"PB": "20", "PE": "20.5", "PI": "21", "PR": "19.5", "RJ": "22", "RN": "18", "RO": "19.5",
		"RR": "20", "RS": "17", "SC": "17", "SE": "19", "SP": "18", "TO": "20",
	}
	table := &ICMSRateTable{
		Internal:   make(map[string]decimal.Decimal, len(internal)),
		Interstate: map[string]decimal.Decimal{},
	}
	for uf, rate := range internal {
		table.Internal[uf] = decimal.RequireFromString(rate)
	}
	return table
}

// InternalRate returns the same-state rate, nil when the state is unknown
func (t *ICMSRateTable) InternalRate(state string) *decimal.Decimal {
	if t == nil {
		return nil
	}
	rate, ok := t.Internal[strings.ToUpper(state)]
	if !ok {
		return nil
	}
	return &rate
}

// InterstateRate returns the rate between two different states.
// Exports and unknown states have no rate.
func (t *ICMSRateTable) InterstateRate(origin, destination string, imported bool) *decimal.Decimal {
	origin = strings.ToUpper(origin)
	destination = strings.ToUpper(destination)
	if origin == "" || destination == "" || destination == model.ForeignState {
		return nil
	}
	if t != nil {
		if rate, ok := t.Interstate[origin+"-"+destination]; ok {
			return &rate
		}
	}
	if imported {
		rate := InterstateRateImported
		return &rate
	}
	if southSoutheast[origin] && !southSoutheast[destination] {
		rate := InterstateRateSouthToNorth
		return &rate
	}
	rate := InterstateRateDefault
	return &rate
}

// Package assembler merges header, parties, items and computed taxes into a
// wire-ready FiscalDocument.
package assembler

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	money "github.com/rezonia/nfe-engine/internal/decimal"
	"github.com/rezonia/nfe-engine/internal/model"
)

// ExemptRegistration is the wire literal for a recipient without state registration
const ExemptRegistration = "ISENTO"

const maxStateRegistration = 14

// qCom and qTrib carry at most 4 decimals
const maxQuantityPlaces = 4

// Input is everything Assemble needs
type Input struct {
	Header    model.Header
	Issuer    model.Party
	Recipient model.Party
	Items     []model.Item
	Transport model.Transport
	Payments  []model.Payment
}

// Assemble sanitizes the input into a new DRAFT document. The input is not modified.
func Assemble(in Input) (*model.FiscalDocument, error) {
	if len(in.Items) == 0 {
		return nil, model.NewValidationError("items", nil, "required", "document must have at least one item")
	}

	doc := &model.FiscalDocument{
		Header:    in.Header,
		Issuer:    SanitizeParty(in.Issuer),
		Recipient: SanitizeParty(in.Recipient),
		Items:     make([]model.Item, len(in.Items)),
		Transport: sanitizeTransport(in.Transport),
		Payments:  append([]model.Payment(nil), in.Payments...),
		Status:    model.StatusDraft,
	}

	if doc.Issuer.Document == "" {
		return nil, model.NewValidationError("issuer.document", in.Issuer.Document, "required", "issuer document is required")
	}
	if n := len(doc.Issuer.Document); n != 11 && n != 14 {
		return nil, model.NewValidationError("issuer.document", in.Issuer.Document, "length", "must have 11 or 14 digits")
	}
	if doc.Issuer.StateRegistration == ExemptRegistration {
		return nil, model.NewValidationError("issuer.state_registration", in.Issuer.StateRegistration, "required", "issuer must have a state registration")
	}

	h := &doc.Header
	if h.Model == "" {
		h.Model = model.ModelNFe
	}
	if h.Purpose == "" {
		h.Purpose = model.PurposeNormal
	}
	if h.EmissionType == 0 {
		h.EmissionType = 1
	}
	h.NatureOfOp = CleanText(h.NatureOfOp)
	h.AdditionalInfo = CleanText(h.AdditionalInfo)
	h.Destination = DestinationIndicator(doc.Issuer.Address.State, doc.Recipient.Address.State)

	for i, item := range in.Items {
		it := item
		if it.Number == 0 {
			it.Number = i + 1
		}
		if !it.Quantity.Equal(money.Round(it.Quantity, maxQuantityPlaces)) {
			return nil, model.NewValidationError("items.quantity", it.Quantity.String(), "precision", "quantity supports at most 4 decimal places")
		}
		it.Code = CleanText(it.Code)
		it.Description = CleanText(it.Description)
		it.NCM = FixedDigits(it.NCM, 8)
		if it.CEST != "" {
			it.CEST = FixedDigits(it.CEST, 7)
		}
		if it.CFOP != "" {
			it.CFOP = FixedDigits(it.CFOP, 4)
		}
		it.EAN = Digits(it.EAN)
		if item.Taxes != nil {
			pkg := *item.Taxes
			pkg.CFOP = FixedDigits(pkg.CFOP, 4)
			it.Taxes = &pkg
			if it.CFOP == "" {
				it.CFOP = pkg.CFOP
			}
		}
		doc.Items[i] = it
	}
	return doc, nil
}

// DestinationIndicator compares issuer and recipient states
func DestinationIndicator(issuerState, recipientState string) model.DestinationIndicator {
	issuerState = strings.ToUpper(strings.TrimSpace(issuerState))
	recipientState = strings.ToUpper(strings.TrimSpace(recipientState))
	switch {
	case recipientState == model.ForeignState:
		return model.DestinationExport
	case recipientState == "" || recipientState == issuerState:
		return model.DestinationInternal
	default:
		return model.DestinationInterstate
	}
}

// SanitizeParty normalizes document numbers, registration, texts and address
func SanitizeParty(p model.Party) model.Party {
	out := p
	out.Document = Digits(p.Document)
	out.Name = CleanText(p.Name)
	out.TradeName = CleanText(p.TradeName)
	out.Email = strings.TrimSpace(p.Email)
	out.StateRegistration = StateRegistration(p.StateRegistration)

	a := &out.Address
	a.Street = CleanText(a.Street)
	a.Number = CleanText(a.Number)
	a.Complement = CleanText(a.Complement)
	a.District = CleanText(a.District)
	a.CityName = CleanText(a.CityName)
	a.CityCode = FixedDigits(a.CityCode, 7)
	a.State = strings.ToUpper(strings.TrimSpace(a.State))
	a.PostalCode = FixedDigits(a.PostalCode, 8)
	a.Phone = Digits(a.Phone)
	if a.CountryCode == "" {
		a.CountryCode = "1058"
		a.CountryName = "BRASIL"
	}
	return out
}

// StateRegistration keeps at most 14 digits; empty or exempt values become ISENTO
func StateRegistration(ie string) string {
	trimmed := strings.ToUpper(strings.TrimSpace(ie))
	if trimmed == "" || trimmed == ExemptRegistration || trimmed == "EXEMPT" {
		return ExemptRegistration
	}
	digits := Digits(trimmed)
	if digits == "" {
		return ExemptRegistration
	}
	if len(digits) > maxStateRegistration {
		digits = digits[:maxStateRegistration]
	}
	return digits
}

// Digits drops every non-digit character
func Digits(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// FixedDigits keeps only digits, truncates to width, and left-pads with zeros.
// An input without digits stays empty.
func FixedDigits(s string, width int) string {
	d := Digits(s)
	if d == "" {
		return ""
	}
	if len(d) > width {
		return d[:width]
	}
	return strings.Repeat("0", width-len(d)) + d
}

func newTextCleaner() transform.Transformer {
	return transform.Chain(norm.NFC, runes.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return ' '
		}
		return r
	}))
}

// CleanText NFC-normalizes free text, blanks control characters and collapses whitespace
func CleanText(s string) string {
	if s == "" {
		return s
	}
	cleaned, _, err := transform.String(newTextCleaner(), s)
	if err != nil {
		cleaned = s
	}
	return strings.Join(strings.Fields(cleaned), " ")
}

func sanitizeTransport(t model.Transport) model.Transport {
	out := t
	out.CarrierDoc = Digits(t.CarrierDoc)
	out.CarrierName = CleanText(t.CarrierName)
	out.CarrierState = strings.ToUpper(strings.TrimSpace(t.CarrierState))
	return out
}

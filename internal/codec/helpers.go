package codec

import (
	"strconv"

	"github.com/beevik/etree"

	money "github.com/rezonia/nfe-engine/internal/decimal"
)

func text(parent *etree.Element, tag, value string) *etree.Element {
	el := parent.CreateElement(tag)
	el.SetText(value)
	return el
}

func optional(parent *etree.Element, tag, value string) {
	if value != "" {
		text(parent, tag, value)
	}
}

func optionalAmount(parent *etree.Element, tag string, value money.Decimal) {
	if value.IsPositive() {
		text(parent, tag, money.Format2(value))
	}
}

// amount renders a currency value, nil as zero
func amount(v *money.Decimal) string {
	return money.Format2(money.OrZero(v))
}

// rate renders a percentage with 4 places, nil as zero
func rate(v *money.Decimal) string {
	return money.Format(money.OrZero(v), 4)
}

// unitPrice renders the price the root base was computed from: rounded to 5
// places, printed with 4 unless the fifth is significant
func unitPrice(v money.Decimal) string {
	r := money.Round(v, 5)
	if r.Equal(money.Round(r, 4)) {
		return money.Format(r, 4)
	}
	return money.Format(r, 5)
}

func itoa(v int) string {
	return strconv.Itoa(v)
}

func itoa64(v int64) string {
	return strconv.FormatInt(v, 10)
}

func boolFlag(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

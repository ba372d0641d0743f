package assembler_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rezonia/nfe-engine/internal/assembler"
	money "github.com/rezonia/nfe-engine/internal/decimal"
	"github.com/rezonia/nfe-engine/internal/model"
)

func validInput() assembler.Input {
	return assembler.Input{
		Header: model.Header{Series: 1, Number: 42, NatureOfOp: "Venda  de\tmercadoria"},
		Issuer: model.Party{
			Document:          "12.345.678/0001-95",
			Name:              "Empresa Emitente LTDA",
			StateRegistration: "123.456.789.110",
			Address:           model.Address{State: "sp", CityCode: "3550308", PostalCode: "01310-100"},
		},
		Recipient: model.Party{
			Document: "123.456.789-09",
			Name:     "Cliente",
			Address:  model.Address{State: "RJ"},
		},
		Items: []model.Item{
			{
				Description: "Café torrado",
				NCM:         "0901.21",
				CEST:        "1234",
				Quantity:    money.FromInt(1),
				UnitPrice:   money.FromInt(10),
				Taxes:       &model.CalculatedTaxPackage{CFOP: "6102"},
			},
		},
	}
}

func TestAssemble(t *testing.T) {
	in := validInput()
	doc, err := assembler.Assemble(in)
	require.NoError(t, err)

	assert.Equal(t, model.StatusDraft, doc.Status)
	assert.Equal(t, "12345678000195", doc.Issuer.Document)
	assert.Equal(t, "12345678909", doc.Recipient.Document)
	assert.Equal(t, "123456789110", doc.Issuer.StateRegistration)
	assert.Equal(t, assembler.ExemptRegistration, doc.Recipient.StateRegistration)
	assert.Equal(t, "SP", doc.Issuer.Address.State)
	assert.Equal(t, "01310100", doc.Issuer.Address.PostalCode)
	assert.Equal(t, model.DestinationInterstate, doc.Header.Destination)
	assert.Equal(t, model.ModelNFe, doc.Header.Model)
	assert.Equal(t, model.PurposeNormal, doc.Header.Purpose)
	assert.Equal(t, 1, doc.Header.EmissionType)
	assert.Equal(t, "Venda de mercadoria", doc.Header.NatureOfOp)

	item := doc.Items[0]
	assert.Equal(t, 1, item.Number)
	assert.Equal(t, "00090121", item.NCM)
	assert.Equal(t, "0001234", item.CEST)
	assert.Equal(t, "6102", item.CFOP)
	assert.Equal(t, "Café torrado", item.Description)

	// input untouched
	assert.Equal(t, "0901.21", in.Items[0].NCM)
	assert.NotSame(t, in.Items[0].Taxes, item.Taxes)
}

func TestAssemble_Validation(t *testing.T) {
	t.Run("no items", func(t *testing.T) {
		in := validInput()
		in.Items = nil
		_, err := assembler.Assemble(in)
		assert.True(t, errors.Is(err, model.ErrValidation))
	})

	t.Run("bad issuer document", func(t *testing.T) {
		in := validInput()
		in.Issuer.Document = "123"
		_, err := assembler.Assemble(in)
		var vErr *model.ValidationError
		require.True(t, errors.As(err, &vErr))
		assert.Equal(t, "issuer.document", vErr.Field)
	})

	t.Run("quantity beyond 4 places", func(t *testing.T) {
		in := validInput()
		in.Items[0].Quantity = money.MustFromString("1.00005")
		_, err := assembler.Assemble(in)
		var vErr *model.ValidationError
		require.True(t, errors.As(err, &vErr))
		assert.Equal(t, "items.quantity", vErr.Field)
	})
}

func TestDestinationIndicator(t *testing.T) {
	assert.Equal(t, model.DestinationInternal, assembler.DestinationIndicator("SP", "sp"))
	assert.Equal(t, model.DestinationInterstate, assembler.DestinationIndicator("SP", "MG"))
	assert.Equal(t, model.DestinationExport, assembler.DestinationIndicator("SP", "EX"))
}

func TestFixedDigits(t *testing.T) {
	tests := []struct {
		in       string
		width    int
		expected string
	}{
		{"8471.30.12", 8, "84713012"},
		{"847130129", 8, "84713012"},
		{"5.102", 4, "5102"},
		{"102", 4, "0102"},
		{"28.038.00", 7, "2803800"},
		{"", 8, ""},
		{"abc", 4, ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.expected, assembler.FixedDigits(tt.in, tt.width), tt.in)
	}
}

func TestStateRegistration(t *testing.T) {
	assert.Equal(t, "ISENTO", assembler.StateRegistration(""))
	assert.Equal(t, "ISENTO", assembler.StateRegistration("exempt"))
	assert.Equal(t, "ISENTO", assembler.StateRegistration("Isento"))
	assert.Equal(t, "110042490114", assembler.StateRegistration("110.042.490.114"))
	assert.Equal(t, "12345678901234", assembler.StateRegistration("1234567890123456"))
}

func TestCleanText(t *testing.T) {
	assert.Equal(t, "a b", assembler.CleanText("  a\x00 \n b "))
	assert.Equal(t, "", assembler.CleanText(""))
}

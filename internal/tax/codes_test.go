package tax_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/rezonia/nfe-engine/internal/model"
	"github.com/rezonia/nfe-engine/internal/tax"
)

func TestSituationCodes_Simplified(t *testing.T) {
	ctx := model.FiscalContext{
		Regime:    model.RegimeSimplified,
		Operation: &model.OperationCode{Code: "5102", RequiresICMS: true},
	}
	codes := tax.SituationCodes(ctx)

	assert.True(t, codes.Simplified)
	assert.Equal(t, "102", codes.ICMS)
	assert.Equal(t, "99", codes.IPI)
	assert.Equal(t, "99", codes.PIS)
	assert.Equal(t, "99", codes.COFINS)
	assert.Equal(t, "000", codes.IBSCBS)

	ctx.Operation.GeneratesST = true
	assert.Equal(t, "202", tax.SituationCodes(ctx).ICMS)
}

func TestSituationCodes_Normal(t *testing.T) {
	tests := []struct {
		name   string
		op     model.OperationCode
		icms   string
		ipi    string
		pisCof string
	}{
		{"outbound taxed", model.OperationCode{Code: "5101", RequiresICMS: true, RequiresIPI: true, RequiresPISCOFINS: true}, "00", "50", "01"},
		{"outbound untaxed", model.OperationCode{Code: "5102"}, "41", "53", "07"},
		{"export", model.OperationCode{Code: "7102"}, "41", "53", "07"},
		{"outbound with ST", model.OperationCode{Code: "5401", RequiresICMS: true, GeneratesST: true, RequiresPISCOFINS: true}, "10", "53", "01"},
		{"ST without own ICMS", model.OperationCode{Code: "5405", GeneratesST: true}, "30", "53", "07"},
		{"inbound taxed", model.OperationCode{Code: "1101", RequiresICMS: true, RequiresIPI: true, RequiresPISCOFINS: true}, "00", "00", "50"},
		{"inbound untaxed", model.OperationCode{Code: "1102"}, "41", "03", "70"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			op := tt.op
			codes := tax.SituationCodes(model.FiscalContext{Regime: model.RegimeNormal, Operation: &op})
			assert.False(t, codes.Simplified)
			assert.Equal(t, tt.icms, codes.ICMS)
			assert.Equal(t, tt.ipi, codes.IPI)
			assert.Equal(t, tt.pisCof, codes.PIS)
			assert.Equal(t, tt.pisCof, codes.COFINS)
		})
	}
}

func TestSituationCodes_ProfileWins(t *testing.T) {
	profile := &model.StandardProfile{
		CSTICMS:   strPtr("41"),
		CSOSN:     strPtr("500"),
		CSTIPI:    strPtr("52"),
		CSTPIS:    strPtr("06"),
		CSTCOFINS: strPtr("06"),
		CSTIBSCBS: strPtr("200"),
		ClassTrib: strPtr("200001"),
	}
	op := &model.OperationCode{Code: "5102", RequiresICMS: true, RequiresPISCOFINS: true}

	normal := tax.SituationCodes(model.FiscalContext{Regime: model.RegimeNormal, Operation: op, Profile: profile})
	assert.Equal(t, "41", normal.ICMS)
	assert.Equal(t, "52", normal.IPI)
	assert.Equal(t, "06", normal.PIS)
	assert.Equal(t, "200", normal.IBSCBS)
	assert.Equal(t, "200001", normal.ClassTrib)

	simplified := tax.SituationCodes(model.FiscalContext{Regime: model.RegimeSimplified, Operation: op, Profile: profile})
	assert.Equal(t, "500", simplified.ICMS)

	partial := tax.SituationCodes(model.FiscalContext{
		Regime:    model.RegimeNormal,
		Operation: op,
		Profile:   &model.StandardProfile{CSTPIS: strPtr("04")},
	})
	assert.Equal(t, "00", partial.ICMS)
	assert.Equal(t, "04", partial.PIS)
	assert.Equal(t, "01", partial.COFINS)
}

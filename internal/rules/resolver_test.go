package rules_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	money "github.com/rezonia/nfe-engine/internal/decimal"
	"github.com/rezonia/nfe-engine/internal/model"
	"github.com/rezonia/nfe-engine/internal/rules"
)

func strPtr(s string) *string { return &s }

func newTestCatalog(t *testing.T) *rules.Catalog {
	t.Helper()
	c, err := rules.ParseCatalog([]byte(catalogYAML))
	require.NoError(t, err)
	return c
}

func TestResolveOperationCode_Mapped(t *testing.T) {
	r := rules.NewResolver(newTestCatalog(t))

	op, err := r.ResolveOperationCode(model.OperationSale, "SP", "SP")
	require.NoError(t, err)
	assert.Equal(t, "5101", op.Code)
}

func TestResolveOperationCode_Fallback(t *testing.T) {
	r := rules.NewResolver(newTestCatalog(t))

	tests := []struct {
		name     string
		opType   model.OperationType
		origin   string
		dest     string
		expected string
	}{
		{"internal sale", model.OperationSale, "RJ", "RJ", "5102"},
		{"interstate sale", model.OperationSale, "SP", "BA", "6102"},
		{"export sale", model.OperationSale, "SP", model.ForeignState, "7102"},
		{"internal purchase", model.OperationPurchase, "SP", "SP", "1102"},
		{"interstate purchase", model.OperationPurchase, "SP", "MG", "2102"},
		{"import", model.OperationPurchase, "SP", model.ForeignState, "3102"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			op, err := r.ResolveOperationCode(tt.opType, tt.origin, tt.dest)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, op.Code)
		})
	}
}

func TestResolveStandardProfile_Cascade(t *testing.T) {
	c := rules.NewCatalog()
	product := &model.StandardProfile{ID: "product"}
	operation := &model.StandardProfile{ID: "operation"}
	classification := &model.StandardProfile{ID: "classification"}

	c.SetProductProfile("P1", product)
	c.SetOperationProfile("5102", operation)
	c.SetClassificationProfile("84713012", classification)
	r := rules.NewResolver(c)

	p, src := r.ResolveStandardProfile("P1", "84713012", "5102")
	assert.Same(t, product, p)
	assert.Equal(t, model.ProfileSourceProduct, src)

	c.RemoveProductProfile("P1")
	p, src = r.ResolveStandardProfile("P1", "84713012", "5102")
	assert.Same(t, operation, p)
	assert.Equal(t, model.ProfileSourceOperationCode, src)

	c.RemoveOperationProfile("5102")
	p, src = r.ResolveStandardProfile("P1", "84713012", "5102")
	assert.Same(t, classification, p)
	assert.Equal(t, model.ProfileSourceClassification, src)

	p, src = r.ResolveStandardProfile("P1", "00000000", "5102")
	assert.Nil(t, p)
	assert.Equal(t, model.ProfileSourceNone, src)
}

func TestResolveStandardProfile_EmptyProfileStillWins(t *testing.T) {
	c := rules.NewCatalog()
	c.SetProductProfile("P1", &model.StandardProfile{})
	c.SetOperationProfile("5102", &model.StandardProfile{CSTICMS: strPtr("00")})
	r := rules.NewResolver(c)

	p, src := r.ResolveStandardProfile("P1", "", "5102")
	require.NotNil(t, p)
	assert.Nil(t, p.CSTICMS)
	assert.Equal(t, model.ProfileSourceProduct, src)
}

func TestApplyDifferentialOverride(t *testing.T) {
	r := rules.NewResolver(newTestCatalog(t))
	base := model.Rates{
		IPI: money.PtrString("10"),
		PIS: money.PtrString("1.65"),
	}

	updated := r.ApplyDifferentialOverride("84713012", "5101", base)
	assert.Equal(t, "5", updated.IPI.String())
	assert.Equal(t, "1.65", updated.PIS.String())
	assert.Nil(t, updated.COFINS)
	assert.Equal(t, "10", base.IPI.String())

	untouched := r.ApplyDifferentialOverride("84713012", "6101", base)
	assert.Equal(t, base, untouched)
}

func testDocument(issuerUF, recipientUF string) *model.FiscalDocument {
	return &model.FiscalDocument{
		Header: model.Header{OperationType: model.OperationSale},
		Issuer: model.Party{
			Regime:  model.RegimeNormal,
			Address: model.Address{State: issuerUF},
		},
		Recipient: model.Party{Address: model.Address{State: recipientUF}},
	}
}

func TestBuildContext(t *testing.T) {
	r := rules.NewResolver(newTestCatalog(t))
	doc := testDocument("SP", "SP")
	item := &model.Item{ProductID: "P1", NCM: "84713012"}

	ctx, err := r.BuildContext(doc, item)
	require.NoError(t, err)

	assert.Equal(t, "5101", ctx.Operation.Code)
	require.NotNil(t, ctx.Classification)
	assert.Equal(t, "5", ctx.Rates.IPI.String())
	assert.Equal(t, "7.6", ctx.Rates.COFINS.String())
	assert.NotNil(t, ctx.Differential)
	assert.True(t, ctx.SameState())
	assert.Equal(t, "18", ctx.ICMSInternalRate.String())
	assert.Nil(t, ctx.Profile)
}

func TestBuildContext_ExplicitCFOP(t *testing.T) {
	r := rules.NewResolver(newTestCatalog(t))
	doc := testDocument("SP", "SP")

	ctx, err := r.BuildContext(doc, &model.Item{NCM: "84713012", CFOP: "5401"})
	require.NoError(t, err)
	assert.Equal(t, "5401", ctx.Operation.Code)
	assert.Equal(t, model.ProfileSourceOperationCode, ctx.ProfileSource)
	assert.Equal(t, "10", ctx.Rates.IPI.String())

	_, err = r.BuildContext(doc, &model.Item{CFOP: "5999"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ErrValidation))

	_, err = r.BuildContext(doc, &model.Item{CFOP: "9999"})
	require.Error(t, err)
}

func TestBuildContext_Interstate(t *testing.T) {
	r := rules.NewResolver(newTestCatalog(t))

	ctx, err := r.BuildContext(testDocument("SP", "BA"), &model.Item{NCM: "00000000", Origin: 1})
	require.NoError(t, err)
	assert.Equal(t, "6102", ctx.Operation.Code)
	assert.False(t, ctx.SameState())
	assert.True(t, ctx.Imported)
	assert.Equal(t, "4", ctx.ICMSInterstateRate.String())
	assert.Nil(t, ctx.Classification)
}

// Package tax computes the per-item indirect taxes of a fiscal document.
//
// Every tax is a pure function of a model.FiscalContext and the values
// computed before it. Calculate runs them in the fixed order the bases
// depend on. A missing rate or base yields a nil value for that tax only.
package tax

import (
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	money "github.com/rezonia/nfe-engine/internal/decimal"
	"github.com/rezonia/nfe-engine/internal/model"
)

// Calculator computes CalculatedTaxPackages
type Calculator struct {
	logger *zap.Logger
}

// Option configures a Calculator
type Option func(*Calculator)

// WithLogger sets the calculator logger
func WithLogger(logger *zap.Logger) Option {
	return func(c *Calculator) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewCalculator creates a calculator
func NewCalculator(opts ...Option) *Calculator {
	c := &Calculator{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Calculate runs every tax for one item. It never fails; inapplicable or
// incomputable taxes are left nil in the result.
func (c *Calculator) Calculate(ctx model.FiscalContext, item model.Item) *model.CalculatedTaxPackage {
	pkg := &model.CalculatedTaxPackage{
		ProfileSource: ctx.ProfileSource,
	}
	if ctx.Operation != nil {
		pkg.CFOP = ctx.Operation.Code
	}

	pkg.RootBase = RootBase(item)
	pkg.IPIRate, pkg.IPIValue = IPI(ctx, pkg.RootBase)
	pkg.ICMSBase = ICMSBase(ctx, pkg.RootBase, pkg.IPIValue)
	pkg.STBase = STBase(ctx, pkg.ICMSBase, pkg.IPIValue)
	pkg.ICMSRate, pkg.ICMSValue = ICMS(ctx, pkg.ICMSBase)
	stRate := pkg.ICMSRate
	if stRate == nil {
		// substitution is owed even when the operation itself carries no ICMS
		stRate = ICMSRate(ctx)
	}
	pkg.MVA, pkg.STBaseMVA, pkg.STValue = ST(ctx, pkg.STBase, stRate, pkg.ICMSValue)
	if pkg.STValue != nil {
		pkg.STRate = stRate
	}
	pkg.PISRate, pkg.PISBase, pkg.PISValue = PIS(ctx, pkg.RootBase)
	pkg.COFINSRate, pkg.COFINSBase, pkg.COFINSValue = COFINS(ctx, pkg.RootBase)
	pkg.CBSRate, pkg.CBSValue = CBS(ctx, pkg.RootBase)
	pkg.IBSRate, pkg.IBSValue = IBS(ctx, pkg.RootBase)
	pkg.Codes = SituationCodes(ctx)

	c.logger.Debug("item taxes calculated",
		zap.Int("item", item.Number),
		zap.String("cfop", pkg.CFOP),
		zap.String("profile_source", string(pkg.ProfileSource)),
		zap.String("root_base", pkg.RootBase.String()))
	return pkg
}

// RootBase is the explicit total when given, else round2(round5(qty) * round5(price))
func RootBase(item model.Item) decimal.Decimal {
	if item.Total != nil {
		return money.Round2(*item.Total)
	}
	return money.Round2(money.Round(item.Quantity, 5).Mul(money.Round(item.UnitPrice, 5)))
}

// IPI returns the rate and value when the operation requires IPI
func IPI(ctx model.FiscalContext, rootBase decimal.Decimal) (rate, value *decimal.Decimal) {
	if !requires(ctx, func(op *model.OperationCode) bool { return op.RequiresIPI }) {
		return nil, nil
	}
	rate = firstRate(profileRate(ctx, func(p *model.StandardProfile) *decimal.Decimal { return p.IPIRate }), ctx.Rates.IPI)
	return rate, money.MultiplyRatePtr(&rootBase, rate)
}

// ICMSBase adds the IPI value to the root base when the operation says so
func ICMSBase(ctx model.FiscalContext, rootBase decimal.Decimal, ipiValue *decimal.Decimal) decimal.Decimal {
	if ctx.Operation != nil && ctx.Operation.ICMSBaseIncludesIPI && ipiValue != nil {
		return rootBase.Add(*ipiValue)
	}
	return rootBase
}

// STBase adds the IPI value to the ICMS base when the operation says so
func STBase(ctx model.FiscalContext, icmsBase decimal.Decimal, ipiValue *decimal.Decimal) decimal.Decimal {
	if ctx.Operation != nil && ctx.Operation.STBaseIncludesIPI && ipiValue != nil {
		return icmsBase.Add(*ipiValue)
	}
	return icmsBase
}

// ICMSRate picks profile rate, then differential override, then the state table
func ICMSRate(ctx model.FiscalContext) *decimal.Decimal {
	if rate := profileRate(ctx, func(p *model.StandardProfile) *decimal.Decimal { return p.ICMSRate }); rate != nil {
		return rate
	}
	if ctx.Rates.ICMS != nil {
		return ctx.Rates.ICMS
	}
	if ctx.SameState() {
		return ctx.ICMSInternalRate
	}
	return ctx.ICMSInterstateRate
}

// ICMS returns the rate and value when the operation requires ICMS
func ICMS(ctx model.FiscalContext, icmsBase decimal.Decimal) (rate, value *decimal.Decimal) {
	if !requires(ctx, func(op *model.OperationCode) bool { return op.RequiresICMS }) {
		return nil, nil
	}
	rate = ICMSRate(ctx)
	return rate, money.MultiplyRatePtr(&icmsBase, rate)
}

// ST computes the substitution value net of the operation's own ICMS:
// round2(multiplyRate(stBase * (1 + mva/100), rate) - icmsValue).
// A missing MVA or rate yields nil; a missing ICMS value counts as zero.
func ST(ctx model.FiscalContext, stBase decimal.Decimal, icmsRate, icmsValue *decimal.Decimal) (mva, baseWithMVA, value *decimal.Decimal) {
	if !requires(ctx, func(op *model.OperationCode) bool { return op.GeneratesST }) {
		return nil, nil, nil
	}
	mva = firstRate(profileRate(ctx, func(p *model.StandardProfile) *decimal.Decimal { return p.MVA }), ctx.Rates.MVA)
	if mva == nil || icmsRate == nil {
		return mva, nil, nil
	}
	grossed := money.GrossUp(stBase, *mva)
	total := money.MultiplyRate(grossed, *icmsRate)
	st := money.Round2(total.Sub(money.OrZero(icmsValue)))
	return mva, money.Ptr(money.Round2(grossed)), &st
}

// PIS returns rate, base and value when the operation requires PIS/COFINS
func PIS(ctx model.FiscalContext, rootBase decimal.Decimal) (rate, base, value *decimal.Decimal) {
	if !requires(ctx, func(op *model.OperationCode) bool { return op.RequiresPISCOFINS }) {
		return nil, nil, nil
	}
	rate = firstRate(profileRate(ctx, func(p *model.StandardProfile) *decimal.Decimal { return p.PISRate }), ctx.Rates.PIS)
	return rate, money.Ptr(rootBase), money.MultiplyRatePtr(&rootBase, rate)
}

// COFINS returns rate, base and value when the operation requires PIS/COFINS
func COFINS(ctx model.FiscalContext, rootBase decimal.Decimal) (rate, base, value *decimal.Decimal) {
	if !requires(ctx, func(op *model.OperationCode) bool { return op.RequiresPISCOFINS }) {
		return nil, nil, nil
	}
	rate = firstRate(profileRate(ctx, func(p *model.StandardProfile) *decimal.Decimal { return p.COFINSRate }), ctx.Rates.COFINS)
	return rate, money.Ptr(rootBase), money.MultiplyRatePtr(&rootBase, rate)
}

// CBS is computed when the operation requires it or a profile supplies a rate
func CBS(ctx model.FiscalContext, rootBase decimal.Decimal) (rate, value *decimal.Decimal) {
	override := profileRate(ctx, func(p *model.StandardProfile) *decimal.Decimal { return p.CBSRate })
	if override == nil && !requires(ctx, func(op *model.OperationCode) bool { return op.RequiresCBS }) {
		return nil, nil
	}
	rate = firstRate(override, ctx.Rates.CBS)
	return rate, money.MultiplyRatePtr(&rootBase, rate)
}

// IBS is computed when the operation requires it or a profile supplies a rate
func IBS(ctx model.FiscalContext, rootBase decimal.Decimal) (rate, value *decimal.Decimal) {
	override := profileRate(ctx, func(p *model.StandardProfile) *decimal.Decimal { return p.IBSRate })
	if override == nil && !requires(ctx, func(op *model.OperationCode) bool { return op.RequiresIBS }) {
		return nil, nil
	}
	rate = firstRate(override, ctx.Rates.IBS)
	return rate, money.MultiplyRatePtr(&rootBase, rate)
}

func requires(ctx model.FiscalContext, flag func(*model.OperationCode) bool) bool {
	return ctx.Operation != nil && flag(ctx.Operation)
}

func profileRate(ctx model.FiscalContext, field func(*model.StandardProfile) *decimal.Decimal) *decimal.Decimal {
	if ctx.Profile == nil {
		return nil
	}
	return field(ctx.Profile)
}

func firstRate(rates ...*decimal.Decimal) *decimal.Decimal {
	for _, r := range rates {
		if r != nil {
			return r
		}
	}
	return nil
}

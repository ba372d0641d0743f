package rules

import (
	"strings"

	"go.uber.org/zap"

	"github.com/rezonia/nfe-engine/internal/model"
)

// Resolver maps operations to CFOP records and resolves the override hierarchy.
// Lookups that miss are normal branches; only malformed codes produce errors.
type Resolver struct {
	lookup Lookup
	logger *zap.Logger
}

// ResolverOption configures a Resolver
type ResolverOption func(*Resolver)

// WithLogger sets the resolver logger
func WithLogger(logger *zap.Logger) ResolverOption {
	return func(r *Resolver) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewResolver creates a resolver over the given rule data
func NewResolver(lookup Lookup, opts ...ResolverOption) *Resolver {
	r := &Resolver{
		lookup: lookup,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Lookup exposes the underlying rule data
func (r *Resolver) Lookup() Lookup {
	return r.lookup
}

// ResolveOperationCode looks up the operation map and falls back to the default
// code for the operation's direction and scope on a miss.
func (r *Resolver) ResolveOperationCode(opType model.OperationType, origin, destination string) (*model.OperationCode, error) {
	if op, ok := r.lookup.MappedOperationCode(opType, origin, destination); ok {
		return op, nil
	}

	direction := opType.Direction()
	scope := scopeOf(origin, destination)
	code, ok := r.lookup.DefaultOperationCode(direction, scope)
	if !ok {
		return nil, model.NewValidationError("cfop", string(opType), "fallback", "no default operation code configured")
	}
	r.logger.Debug("operation map miss, using fallback CFOP",
		zap.String("operation_type", string(opType)),
		zap.String("origin", origin),
		zap.String("destination", destination),
		zap.String("cfop", code))

	if op, ok := r.lookup.OperationCode(code); ok {
		return op, nil
	}
	op := &model.OperationCode{
		Code:              code,
		Description:       "fallback",
		RequiresICMS:      scope != model.ScopeForeign || direction == model.DirectionInbound,
		RequiresPISCOFINS: scope != model.ScopeForeign || direction == model.DirectionInbound,
	}
	if err := op.Validate(); err != nil {
		return nil, err
	}
	return op, nil
}

// ResolveStandardProfile walks product > operation code > classification code and
// returns the first profile present with the level that supplied it.
func (r *Resolver) ResolveStandardProfile(productID, ncm, cfop string) (*model.StandardProfile, model.ProfileSource) {
	if p, ok := r.lookup.ProductProfile(productID); ok && p != nil {
		return p, model.ProfileSourceProduct
	}
	if p, ok := r.lookup.OperationProfile(cfop); ok && p != nil {
		return p, model.ProfileSourceOperationCode
	}
	if p, ok := r.lookup.ClassificationProfile(ncm); ok && p != nil {
		return p, model.ProfileSourceClassification
	}
	return nil, model.ProfileSourceNone
}

// ApplyDifferentialOverride replaces each rate the (ncm, cfop) override sets.
// The input is not modified.
func (r *Resolver) ApplyDifferentialOverride(ncm, cfop string, base model.Rates) model.Rates {
	d, ok := r.lookup.Differential(ncm, cfop)
	if !ok || d == nil {
		return base
	}
	return ApplyOverride(d, base)
}

// ApplyOverride replaces the base rates with the non-nil fields of d
func ApplyOverride(d *model.DifferentialOverride, base model.Rates) model.Rates {
	out := base
	if d.ICMS != nil {
		out.ICMS = d.ICMS
	}
	if d.IPI != nil {
		out.IPI = d.IPI
	}
	if d.PIS != nil {
		out.PIS = d.PIS
	}
	if d.COFINS != nil {
		out.COFINS = d.COFINS
	}
	if d.CBS != nil {
		out.CBS = d.CBS
	}
	if d.IBS != nil {
		out.IBS = d.IBS
	}
	if d.MVA != nil {
		out.MVA = d.MVA
	}
	return out
}

// BuildContext resolves everything one item calculation needs.
// An explicit item CFOP wins over the operation map.
func (r *Resolver) BuildContext(doc *model.FiscalDocument, item *model.Item) (model.FiscalContext, error) {
	issuerState := strings.ToUpper(doc.Issuer.Address.State)
	destState := strings.ToUpper(doc.Recipient.Address.State)

	ctx := model.FiscalContext{
		IssuerState:      issuerState,
		DestinationState: destState,
		Regime:           doc.Issuer.Regime,
		ProductID:        item.ProductID,
		Imported:         item.IsImported(),
	}

	var op *model.OperationCode
	if item.CFOP != "" {
		found, ok := r.lookup.OperationCode(item.CFOP)
		if !ok {
			found = &model.OperationCode{Code: item.CFOP}
			if err := found.Validate(); err != nil {
				return ctx, err
			}
			return ctx, model.NewValidationError("cfop", item.CFOP, "reference", "operation code is not registered")
		}
		op = found
	} else {
		resolved, err := r.ResolveOperationCode(doc.Header.OperationType, issuerState, destState)
		if err != nil {
			return ctx, err
		}
		op = resolved
	}
	ctx.Operation = op

	var base model.Rates
	if ncm, ok := r.lookup.ClassificationCode(item.NCM); ok {
		ctx.Classification = ncm
		base = model.Rates{
			IPI:    ncm.Rates.IPI,
			PIS:    ncm.Rates.PIS,
			COFINS: ncm.Rates.COFINS,
			CBS:    ncm.Rates.CBS,
			IBS:    ncm.Rates.IBS,
			MVA:    ncm.Rates.MVA,
		}
	}
	if d, ok := r.lookup.Differential(item.NCM, op.Code); ok {
		ctx.Differential = d
		base = ApplyOverride(d, base)
	}
	ctx.Rates = base

	ctx.Profile, ctx.ProfileSource = r.ResolveStandardProfile(item.ProductID, item.NCM, op.Code)

	table := r.lookup.ICMSRates()
	ctx.ICMSInternalRate = table.InternalRate(issuerState)
	ctx.ICMSInterstateRate = table.InterstateRate(issuerState, destState, ctx.Imported)
	return ctx, nil
}

func scopeOf(origin, destination string) model.Scope {
	origin = strings.ToUpper(origin)
	destination = strings.ToUpper(destination)
	switch {
	case destination == model.ForeignState:
		return model.ScopeForeign
	case destination == "" || origin == destination:
		return model.ScopeInternal
	default:
		return model.ScopeInterstate
	}
}

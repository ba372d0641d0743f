package tax

import (
	"github.com/rezonia/nfe-engine/internal/model"
)

// Default situation codes
const (
	CSOSNNoCredit   = "102" // Simples Nacional without credit
	CSOSNNoCreditST = "202" // Simples Nacional without credit, with ST

	CSTICMSTaxed      = "00"
	CSTICMSTaxedST    = "10"
	CSTICMSUntaxedST  = "30" // isenta ou não tributada, com ST
	CSTICMSNotCharged = "41" // não tributada

	CSTIPIOther     = "99"
	CSTIPITaxedOut  = "50"
	CSTIPITaxedIn   = "00"
	CSTIPIExemptOut = "53" // saída não tributada
	CSTIPIExemptIn  = "03" // entrada não tributada

	CSTPISCOFINSOther     = "99"
	CSTPISCOFINSTaxed     = "01"
	CSTPISCOFINSZeroRate  = "07" // operação isenta da contribuição
	CSTPISCOFINSCreditIn  = "50"
	CSTPISCOFINSNoCredit  = "70"
	CSTIBSCBSFullTaxation = "000"
	ClassTribFull         = "000001"
)

// SituationCodes resolves CST/CSOSN codes for the regime; profile codes always win
func SituationCodes(ctx model.FiscalContext) model.SituationCodes {
	var codes model.SituationCodes
	if ctx.Regime.IsSimplified() {
		codes = simplifiedDefaults(ctx)
	} else {
		codes = normalDefaults(ctx)
	}
	codes.IBSCBS = CSTIBSCBSFullTaxation
	codes.ClassTrib = ClassTribFull

	p := ctx.Profile
	if p == nil {
		return codes
	}
	if codes.Simplified && p.CSOSN != nil {
		codes.ICMS = *p.CSOSN
	}
	if !codes.Simplified && p.CSTICMS != nil {
		codes.ICMS = *p.CSTICMS
	}
	override(&codes.IPI, p.CSTIPI)
	override(&codes.PIS, p.CSTPIS)
	override(&codes.COFINS, p.CSTCOFINS)
	override(&codes.IBSCBS, p.CSTIBSCBS)
	override(&codes.ClassTrib, p.ClassTrib)
	return codes
}

func simplifiedDefaults(ctx model.FiscalContext) model.SituationCodes {
	icms := CSOSNNoCredit
	if generatesST(ctx) {
		icms = CSOSNNoCreditST
	}
	return model.SituationCodes{
		ICMS:       icms,
		IPI:        CSTIPIOther,
		PIS:        CSTPISCOFINSOther,
		COFINS:     CSTPISCOFINSOther,
		Simplified: true,
	}
}

func normalDefaults(ctx model.FiscalContext) model.SituationCodes {
	inbound := ctx.Operation != nil && ctx.Operation.Direction() == model.DirectionInbound

	requiresICMS := ctx.Operation != nil && ctx.Operation.RequiresICMS
	var icms string
	switch {
	case requiresICMS && generatesST(ctx):
		icms = CSTICMSTaxedST
	case requiresICMS:
		icms = CSTICMSTaxed
	case generatesST(ctx):
		icms = CSTICMSUntaxedST
	default:
		icms = CSTICMSNotCharged
	}

	requiresIPI := ctx.Operation != nil && ctx.Operation.RequiresIPI
	var ipi string
	switch {
	case inbound && requiresIPI:
		ipi = CSTIPITaxedIn
	case inbound:
		ipi = CSTIPIExemptIn
	case requiresIPI:
		ipi = CSTIPITaxedOut
	default:
		ipi = CSTIPIExemptOut
	}

	requiresPC := ctx.Operation != nil && ctx.Operation.RequiresPISCOFINS
	var pc string
	switch {
	case inbound && requiresPC:
		pc = CSTPISCOFINSCreditIn
	case inbound:
		pc = CSTPISCOFINSNoCredit
	case requiresPC:
		pc = CSTPISCOFINSTaxed
	default:
		pc = CSTPISCOFINSZeroRate
	}

	return model.SituationCodes{
		ICMS:   icms,
		IPI:    ipi,
		PIS:    pc,
		COFINS: pc,
	}
}

func generatesST(ctx model.FiscalContext) bool {
	return ctx.Operation != nil && ctx.Operation.GeneratesST
}

func override(dst *string, src *string) {
	if src != nil && *src != "" {
		*dst = *src
	}
}

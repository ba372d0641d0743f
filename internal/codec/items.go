package codec

import (
	"github.com/beevik/etree"

	money "github.com/rezonia/nfe-engine/internal/decimal"
	"github.com/rezonia/nfe-engine/internal/model"
)

func writeItem(parent *etree.Element, item *model.Item) {
	det := parent.CreateElement("det")
	det.CreateAttr("nItem", itoa(item.Number))
	pkg := item.Taxes

	prod := det.CreateElement("prod")
	text(prod, "cProd", item.Code)
	text(prod, "cEAN", eanOrNone(item.EAN))
	text(prod, "xProd", item.Description)
	text(prod, "NCM", item.NCM)
	optional(prod, "CEST", item.CEST)
	text(prod, "CFOP", cfopOf(item))
	text(prod, "uCom", item.Unit)
	text(prod, "qCom", money.Format(item.Quantity, 4))
	text(prod, "vUnCom", unitPrice(item.UnitPrice))
	text(prod, "vProd", money.Format2(pkg.RootBase))
	text(prod, "cEANTrib", eanOrNone(item.EAN))
	text(prod, "uTrib", item.Unit)
	text(prod, "qTrib", money.Format(item.Quantity, 4))
	text(prod, "vUnTrib", unitPrice(item.UnitPrice))
	optionalAmount(prod, "vFrete", item.Freight)
	optionalAmount(prod, "vSeg", item.Insurance)
	optionalAmount(prod, "vDesc", item.Discount)
	optionalAmount(prod, "vOutro", item.Other)
	text(prod, "indTot", "1")

	imposto := det.CreateElement("imposto")
	writeICMS(imposto, item)
	writeIPI(imposto, pkg)
	writePIS(imposto, pkg)
	writeCOFINS(imposto, pkg)
	writeIBSCBS(imposto, pkg)
}

func writeICMS(parent *etree.Element, item *model.Item) {
	pkg := item.Taxes
	icms := parent.CreateElement("ICMS")
	code := pkg.Codes.ICMS
	orig := itoa(item.Origin)

	if pkg.Codes.Simplified {
		switch code {
		case "101":
			g := icms.CreateElement("ICMSSN101")
			text(g, "orig", orig)
			text(g, "CSOSN", code)
			text(g, "pCredSN", rate(pkg.ICMSRate))
			text(g, "vCredICMSSN", amount(pkg.ICMSValue))
		case "201", "202", "203":
			g := icms.CreateElement("ICMSSN202")
			text(g, "orig", orig)
			text(g, "CSOSN", code)
			writeST(g, pkg)
		case "500":
			g := icms.CreateElement("ICMSSN500")
			text(g, "orig", orig)
			text(g, "CSOSN", code)
		case "900":
			g := icms.CreateElement("ICMSSN900")
			text(g, "orig", orig)
			text(g, "CSOSN", code)
		default:
			g := icms.CreateElement("ICMSSN102")
			text(g, "orig", orig)
			text(g, "CSOSN", code)
		}
		return
	}

	switch code {
	case "00":
		g := icms.CreateElement("ICMS00")
		text(g, "orig", orig)
		text(g, "CST", code)
		writeOwnICMS(g, pkg)
	case "10":
		g := icms.CreateElement("ICMS10")
		text(g, "orig", orig)
		text(g, "CST", code)
		writeOwnICMS(g, pkg)
		writeST(g, pkg)
	case "30":
		g := icms.CreateElement("ICMS30")
		text(g, "orig", orig)
		text(g, "CST", code)
		writeST(g, pkg)
	case "40", "41", "50":
		g := icms.CreateElement("ICMS40")
		text(g, "orig", orig)
		text(g, "CST", code)
	case "60":
		g := icms.CreateElement("ICMS60")
		text(g, "orig", orig)
		text(g, "CST", code)
	default:
		g := icms.CreateElement("ICMS90")
		text(g, "orig", orig)
		text(g, "CST", code)
		if pkg.ICMSValue != nil {
			writeOwnICMS(g, pkg)
		}
	}
}

// modBC 3 is "valor da operação"
func writeOwnICMS(g *etree.Element, pkg *model.CalculatedTaxPackage) {
	text(g, "modBC", "3")
	text(g, "vBC", money.Format2(pkg.ICMSBase))
	text(g, "pICMS", rate(pkg.ICMSRate))
	text(g, "vICMS", amount(pkg.ICMSValue))
}

// modBCST 4 is "margem valor agregado"
func writeST(g *etree.Element, pkg *model.CalculatedTaxPackage) {
	text(g, "modBCST", "4")
	text(g, "pMVAST", rate(pkg.MVA))
	text(g, "vBCST", amount(pkg.STBaseMVA))
	stRate := pkg.STRate
	if stRate == nil {
		stRate = pkg.ICMSRate
	}
	text(g, "pICMSST", rate(stRate))
	text(g, "vICMSST", amount(pkg.STValue))
}

// cEnq 999 is the generic legal framework code
func writeIPI(parent *etree.Element, pkg *model.CalculatedTaxPackage) {
	if pkg.IPIValue == nil && !ipiNotTaxed(pkg.Codes.IPI) {
		return
	}
	ipi := parent.CreateElement("IPI")
	text(ipi, "cEnq", "999")
	if pkg.IPIValue == nil {
		text(ipi.CreateElement("IPINT"), "CST", pkg.Codes.IPI)
		return
	}
	trib := ipi.CreateElement("IPITrib")
	text(trib, "CST", pkg.Codes.IPI)
	text(trib, "vBC", money.Format2(pkg.RootBase))
	text(trib, "pIPI", rate(pkg.IPIRate))
	text(trib, "vIPI", amount(pkg.IPIValue))
}

func ipiNotTaxed(cst string) bool {
	switch cst {
	case "01", "02", "03", "04", "05", "51", "52", "53", "54", "55":
		return true
	}
	return false
}

func writePIS(parent *etree.Element, pkg *model.CalculatedTaxPackage) {
	writeContribution(parent.CreateElement("PIS"), "PIS", pkg.Codes.PIS, pkg.PISBase, pkg.PISRate, pkg.PISValue)
}

func writeCOFINS(parent *etree.Element, pkg *model.CalculatedTaxPackage) {
	writeContribution(parent.CreateElement("COFINS"), "COFINS", pkg.Codes.COFINS, pkg.COFINSBase, pkg.COFINSRate, pkg.COFINSValue)
}

// writeContribution renders the PIS/COFINS group matching the CST
func writeContribution(el *etree.Element, tax, cst string, base, r, value *money.Decimal) {
	switch cst {
	case "01", "02":
		g := el.CreateElement(tax + "Aliq")
		text(g, "CST", cst)
		text(g, "vBC", amount(base))
		text(g, "p"+tax, rate(r))
		text(g, "v"+tax, amount(value))
	case "04", "05", "06", "07", "08", "09":
		g := el.CreateElement(tax + "NT")
		text(g, "CST", cst)
	default:
		g := el.CreateElement(tax + "Outr")
		text(g, "CST", cst)
		text(g, "vBC", amount(base))
		text(g, "p"+tax, rate(r))
		text(g, "v"+tax, amount(value))
	}
}

func writeIBSCBS(parent *etree.Element, pkg *model.CalculatedTaxPackage) {
	if pkg.CBSValue == nil && pkg.IBSValue == nil {
		return
	}
	g := parent.CreateElement("IBSCBS")
	text(g, "CST", pkg.Codes.IBSCBS)
	text(g, "cClassTrib", pkg.Codes.ClassTrib)

	inner := g.CreateElement("gIBSCBS")
	text(inner, "vBC", money.Format2(pkg.RootBase))

	uf := inner.CreateElement("gIBSUF")
	text(uf, "pIBSUF", rate(pkg.IBSRate))
	text(uf, "vIBSUF", amount(pkg.IBSValue))

	mun := inner.CreateElement("gIBSMun")
	text(mun, "pIBSMun", rate(nil))
	text(mun, "vIBSMun", amount(nil))

	text(inner, "vIBS", amount(pkg.IBSValue))

	cbs := inner.CreateElement("gCBS")
	text(cbs, "pCBS", rate(pkg.CBSRate))
	text(cbs, "vCBS", amount(pkg.CBSValue))
}

func cfopOf(item *model.Item) string {
	if item.Taxes != nil && item.Taxes.CFOP != "" {
		return item.Taxes.CFOP
	}
	return item.CFOP
}

func eanOrNone(ean string) string {
	if ean == "" {
		return "SEM GTIN"
	}
	return ean
}

package codec

import (
	"github.com/beevik/etree"

	money "github.com/rezonia/nfe-engine/internal/decimal"
	"github.com/rezonia/nfe-engine/internal/model"
)

// Totals is the ICMSTot/IBSCBSTot content of a document
type Totals struct {
	ICMSBase  money.Decimal `json:"icms_base"`
	ICMS      money.Decimal `json:"icms"`
	STBase    money.Decimal `json:"st_base"`
	ST        money.Decimal `json:"st"`
	Products  money.Decimal `json:"products"`
	Freight   money.Decimal `json:"freight"`
	Insurance money.Decimal `json:"insurance"`
	Discount  money.Decimal `json:"discount"`
	IPI       money.Decimal `json:"ipi"`
	PIS       money.Decimal `json:"pis"`
	COFINS    money.Decimal `json:"cofins"`
	Other     money.Decimal `json:"other"`
	Invoice   money.Decimal `json:"invoice"`

	IBSCBSBase money.Decimal `json:"ibs_cbs_base"`
	IBS        money.Decimal `json:"ibs"`
	CBS        money.Decimal `json:"cbs"`
	HasIBSCBS  bool          `json:"has_ibs_cbs"`
}

// ComputeTotals sums item amounts. Invoice total is products minus discounts
// plus ST, freight, insurance, other expenses and IPI.
func ComputeTotals(doc *model.FiscalDocument) Totals {
	t := Totals{}
	for i := range doc.Items {
		item := &doc.Items[i]
		pkg := item.Taxes
		if pkg == nil {
			continue
		}
		t.Products = t.Products.Add(pkg.RootBase)
		t.Discount = t.Discount.Add(item.Discount)
		t.Freight = t.Freight.Add(item.Freight)
		t.Insurance = t.Insurance.Add(item.Insurance)
		t.Other = t.Other.Add(item.Other)

		if pkg.ICMSValue != nil {
			t.ICMSBase = t.ICMSBase.Add(pkg.ICMSBase)
			t.ICMS = t.ICMS.Add(*pkg.ICMSValue)
		}
		if pkg.STValue != nil {
			t.STBase = t.STBase.Add(money.OrZero(pkg.STBaseMVA))
			t.ST = t.ST.Add(*pkg.STValue)
		}
		t.IPI = t.IPI.Add(money.OrZero(pkg.IPIValue))
		t.PIS = t.PIS.Add(money.OrZero(pkg.PISValue))
		t.COFINS = t.COFINS.Add(money.OrZero(pkg.COFINSValue))

		if pkg.CBSValue != nil || pkg.IBSValue != nil {
			t.HasIBSCBS = true
			t.IBSCBSBase = t.IBSCBSBase.Add(pkg.RootBase)
			t.IBS = t.IBS.Add(money.OrZero(pkg.IBSValue))
			t.CBS = t.CBS.Add(money.OrZero(pkg.CBSValue))
		}
	}
	t.Invoice = money.Round2(t.Products.Sub(t.Discount).
		Add(t.ST).
		Add(t.Freight).
		Add(t.Insurance).
		Add(t.Other).
		Add(t.IPI))
	return t
}

func writeTotals(parent *etree.Element, t Totals) {
	total := parent.CreateElement("total")
	icms := total.CreateElement("ICMSTot")
	zero := money.Format2(money.Zero)

	text(icms, "vBC", money.Format2(t.ICMSBase))
	text(icms, "vICMS", money.Format2(t.ICMS))
	text(icms, "vICMSDeson", zero)
	text(icms, "vFCP", zero)
	text(icms, "vBCST", money.Format2(t.STBase))
	text(icms, "vST", money.Format2(t.ST))
	text(icms, "vFCPST", zero)
	text(icms, "vFCPSTRet", zero)
	text(icms, "vProd", money.Format2(t.Products))
	text(icms, "vFrete", money.Format2(t.Freight))
	text(icms, "vSeg", money.Format2(t.Insurance))
	text(icms, "vDesc", money.Format2(t.Discount))
	text(icms, "vII", zero)
	text(icms, "vIPI", money.Format2(t.IPI))
	text(icms, "vIPIDevol", zero)
	text(icms, "vPIS", money.Format2(t.PIS))
	text(icms, "vCOFINS", money.Format2(t.COFINS))
	text(icms, "vOutro", money.Format2(t.Other))
	text(icms, "vNF", money.Format2(t.Invoice))

	if !t.HasIBSCBS {
		return
	}
	ibscbs := total.CreateElement("IBSCBSTot")
	text(ibscbs, "vBCIBSCBS", money.Format2(t.IBSCBSBase))

	gIBS := ibscbs.CreateElement("gIBS")
	uf := gIBS.CreateElement("gIBSUF")
	text(uf, "vDif", zero)
	text(uf, "vDevTrib", zero)
	text(uf, "vIBSUF", money.Format2(t.IBS))
	mun := gIBS.CreateElement("gIBSMun")
	text(mun, "vDif", zero)
	text(mun, "vDevTrib", zero)
	text(mun, "vIBSMun", zero)
	text(gIBS, "vIBS", money.Format2(t.IBS))
	text(gIBS, "vCredPres", zero)
	text(gIBS, "vCredPresCondSus", zero)

	gCBS := ibscbs.CreateElement("gCBS")
	text(gCBS, "vDif", zero)
	text(gCBS, "vDevTrib", zero)
	text(gCBS, "vCBS", money.Format2(t.CBS))
	text(gCBS, "vCredPres", zero)
	text(gCBS, "vCredPresCondSus", zero)
}

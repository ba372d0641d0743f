// Package codec renders a FiscalDocument as an unsigned NF-e 4.00 element tree.
package codec

import (
	"time"

	"github.com/beevik/etree"

	"github.com/rezonia/nfe-engine/internal/accesskey"
	money "github.com/rezonia/nfe-engine/internal/decimal"
	"github.com/rezonia/nfe-engine/internal/model"
)

// Schema constants
const (
	Namespace = "http://www.portalfiscal.inf.br/nfe"
	Version   = "4.00"

	// IDPrefix precedes the access key in infNFe/@Id
	IDPrefix = "NFe"

	// HomologationRecipientName replaces dest/xNome in the test environment
	HomologationRecipientName = "NF-E EMITIDA EM AMBIENTE DE HOMOLOGACAO - SEM VALOR FISCAL"

	dateTimeLayout = "2006-01-02T15:04:05-07:00"
)

// TechResponsible is the infRespTec block
type TechResponsible struct {
	CNPJ    string `mapstructure:"cnpj" json:"cnpj"`
	Contact string `mapstructure:"contact" json:"contact"`
	Email   string `mapstructure:"email" json:"email"`
	Phone   string `mapstructure:"phone" json:"phone"`
}

// Encoder builds the NFe element tree
type Encoder struct {
	appVersion string
	tech       *TechResponsible
	location   *time.Location
}

// Option configures an Encoder
type Option func(*Encoder)

// WithAppVersion sets ide/verProc
func WithAppVersion(v string) Option {
	return func(e *Encoder) {
		if v != "" {
			e.appVersion = v
		}
	}
}

// WithTechResponsible adds the infRespTec block
func WithTechResponsible(t *TechResponsible) Option {
	return func(e *Encoder) {
		if t != nil && t.CNPJ != "" {
			e.tech = t
		}
	}
}

// WithLocation renders timestamps in loc instead of their own zone
func WithLocation(loc *time.Location) Option {
	return func(e *Encoder) {
		e.location = loc
	}
}

// NewEncoder creates an encoder
func NewEncoder(opts ...Option) *Encoder {
	e := &Encoder{appVersion: "nfe-engine"}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Build renders the document. The document must carry its access key and
// every item must carry its tax package.
func (e *Encoder) Build(doc *model.FiscalDocument) (*etree.Document, error) {
	if !accesskey.Valid(doc.AccessKey) {
		return nil, model.NewValidationError("access_key", doc.AccessKey, "check_digit", "document needs a valid access key before rendering")
	}
	for i := range doc.Items {
		if doc.Items[i].Taxes == nil {
			return nil, model.NewValidationError("items.taxes", doc.Items[i].Number, "required", "item has no calculated taxes")
		}
	}

	out := etree.NewDocument()
	nfe := out.CreateElement("NFe")
	nfe.CreateAttr("xmlns", Namespace)

	inf := nfe.CreateElement("infNFe")
	inf.CreateAttr("versao", Version)
	inf.CreateAttr("Id", IDPrefix+doc.AccessKey)

	e.writeIde(inf, doc)
	writeIssuer(inf, doc.Issuer)
	writeRecipient(inf, doc)

	totals := ComputeTotals(doc)
	for i := range doc.Items {
		writeItem(inf, &doc.Items[i])
	}
	writeTotals(inf, totals)
	writeTransport(inf, doc.Transport)
	writePayments(inf, doc.Payments, totals.Invoice)

	if doc.Header.AdditionalInfo != "" {
		inf.CreateElement("infAdic").CreateElement("infCpl").SetText(doc.Header.AdditionalInfo)
	}
	if e.tech != nil {
		tech := inf.CreateElement("infRespTec")
		text(tech, "CNPJ", e.tech.CNPJ)
		text(tech, "xContato", e.tech.Contact)
		text(tech, "email", e.tech.Email)
		text(tech, "fone", e.tech.Phone)
	}
	return out, nil
}

// Encode renders the document to bytes, without an XML declaration
func (e *Encoder) Encode(doc *model.FiscalDocument) ([]byte, error) {
	tree, err := e.Build(doc)
	if err != nil {
		return nil, err
	}
	return tree.WriteToBytes()
}

func (e *Encoder) writeIde(parent *etree.Element, doc *model.FiscalDocument) {
	h := doc.Header
	ide := parent.CreateElement("ide")

	cuf, _ := accesskey.StateCode(doc.Issuer.Address.State)
	text(ide, "cUF", cuf)
	text(ide, "cNF", doc.AccessKey[35:43])
	text(ide, "natOp", h.NatureOfOp)
	text(ide, "mod", string(h.Model))
	text(ide, "serie", itoa(h.Series))
	text(ide, "nNF", itoa64(h.Number))
	text(ide, "dhEmi", e.formatTime(h.EmittedAt))
	if h.DepartureAt != nil {
		text(ide, "dhSaiEnt", e.formatTime(*h.DepartureAt))
	}
	if h.OperationType.Direction() == model.DirectionInbound {
		text(ide, "tpNF", "0")
	} else {
		text(ide, "tpNF", "1")
	}
	text(ide, "idDest", string(h.Destination))
	text(ide, "cMunFG", doc.Issuer.Address.CityCode)
	text(ide, "tpImp", "1")
	text(ide, "tpEmis", itoa(h.EmissionType))
	text(ide, "cDV", doc.AccessKey[43:])
	text(ide, "tpAmb", h.Environment.Code())
	text(ide, "finNFe", string(h.Purpose))
	text(ide, "indFinal", boolFlag(h.FinalConsumer))
	presence := h.Presence
	if presence == 0 {
		presence = 1
	}
	text(ide, "indPres", itoa(presence))
	text(ide, "procEmi", "0")
	text(ide, "verProc", e.appVersion)
}

func (e *Encoder) formatTime(t time.Time) string {
	if e.location != nil {
		t = t.In(e.location)
	}
	return t.Format(dateTimeLayout)
}

func writeIssuer(parent *etree.Element, p model.Party) {
	emit := parent.CreateElement("emit")
	writeDocument(emit, p)
	text(emit, "xNome", p.Name)
	optional(emit, "xFant", p.TradeName)
	writeAddress(emit.CreateElement("enderEmit"), p.Address)
	text(emit, "IE", p.StateRegistration)
	text(emit, "CRT", itoa(int(p.Regime)))
}

func writeRecipient(parent *etree.Element, doc *model.FiscalDocument) {
	p := doc.Recipient
	dest := parent.CreateElement("dest")
	if p.Address.State == model.ForeignState {
		text(dest, "idEstrangeiro", p.ForeignID)
	} else {
		writeDocument(dest, p)
	}

	name := p.Name
	if doc.Header.Environment == model.EnvironmentHomologation {
		name = HomologationRecipientName
	}
	text(dest, "xNome", name)
	writeAddress(dest.CreateElement("enderDest"), p.Address)

	switch {
	case p.Address.State == model.ForeignState:
		text(dest, "indIEDest", "9")
	case p.StateRegistration == "" || p.StateRegistration == "ISENTO":
		if p.IsCompany() {
			text(dest, "indIEDest", "2")
		} else {
			text(dest, "indIEDest", "9")
		}
	default:
		text(dest, "indIEDest", "1")
		text(dest, "IE", p.StateRegistration)
	}
	optional(dest, "email", p.Email)
}

func writeDocument(parent *etree.Element, p model.Party) {
	if p.IsCompany() {
		text(parent, "CNPJ", p.Document)
	} else {
		text(parent, "CPF", p.Document)
	}
}

func writeAddress(el *etree.Element, a model.Address) {
	text(el, "xLgr", a.Street)
	text(el, "nro", a.Number)
	optional(el, "xCpl", a.Complement)
	text(el, "xBairro", a.District)
	text(el, "cMun", a.CityCode)
	text(el, "xMun", a.CityName)
	text(el, "UF", a.State)
	optional(el, "CEP", a.PostalCode)
	optional(el, "cPais", a.CountryCode)
	optional(el, "xPais", a.CountryName)
	optional(el, "fone", a.Phone)
}

func writeTransport(parent *etree.Element, t model.Transport) {
	transp := parent.CreateElement("transp")
	text(transp, "modFrete", itoa(t.FreightMode))
	if t.CarrierDoc != "" || t.CarrierName != "" {
		carrier := transp.CreateElement("transporta")
		if len(t.CarrierDoc) == 14 {
			text(carrier, "CNPJ", t.CarrierDoc)
		} else {
			optional(carrier, "CPF", t.CarrierDoc)
		}
		optional(carrier, "xNome", t.CarrierName)
		optional(carrier, "UF", t.CarrierState)
	}
	if t.Volumes > 0 || t.NetWeight != nil || t.GrossWeight != nil {
		vol := transp.CreateElement("vol")
		if t.Volumes > 0 {
			text(vol, "qVol", itoa(t.Volumes))
		}
		if t.NetWeight != nil {
			text(vol, "pesoL", money.Format(*t.NetWeight, 3))
		}
		if t.GrossWeight != nil {
			text(vol, "pesoB", money.Format(*t.GrossWeight, 3))
		}
	}
}

// payment code 90 means "sem pagamento"
func writePayments(parent *etree.Element, payments []model.Payment, invoiceTotal money.Decimal) {
	pag := parent.CreateElement("pag")
	if len(payments) == 0 {
		det := pag.CreateElement("detPag")
		text(det, "tPag", "90")
		text(det, "vPag", money.Format2(money.Zero))
		return
	}
	paid := money.Zero
	for _, p := range payments {
		det := pag.CreateElement("detPag")
		text(det, "tPag", p.Method)
		text(det, "vPag", money.Format2(p.Amount))
		paid = paid.Add(p.Amount)
	}
	if change := paid.Sub(invoiceTotal); change.IsPositive() {
		text(pag, "vTroco", money.Format2(change))
	}
}

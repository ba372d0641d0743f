package transport

import (
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/beevik/etree"

	"github.com/rezonia/nfe-engine/internal/accesskey"
	"github.com/rezonia/nfe-engine/internal/codec"
	"github.com/rezonia/nfe-engine/internal/model"
)

// SOAP constants
const (
	SOAPNamespace = "http://www.w3.org/2003/05/soap-envelope"
	WSDLNamespace = "http://www.portalfiscal.inf.br/nfe/wsdl/"
	ContentType   = "application/soap+xml; charset=utf-8"

	// EventVersion is the schema version of envEvento
	EventVersion = "1.00"

	// EventCancellation is tpEvento of the cancellation event
	EventCancellation = "110111"

	lotIDDigits = 15
)

// Justification length limits shared by cancellation and voiding
const (
	MinJustification = 15
	MaxJustification = 255
)

const eventTimeLayout = "2006-01-02T15:04:05-07:00"

// Envelope wraps an XML payload in soap12:Envelope/Body/nfeDadosMsg
func Envelope(svc Service, payload []byte) ([]byte, error) {
	inner := etree.NewDocument()
	if err := inner.ReadFromBytes(payload); err != nil {
		return nil, model.NewValidationError("payload", nil, "xml", fmt.Sprintf("payload is not XML: %v", err))
	}
	if inner.Root() == nil {
		return nil, model.NewValidationError("payload", nil, "xml", "payload has no root element")
	}

	out := etree.NewDocument()
	out.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)
	env := out.CreateElement("soap12:Envelope")
	env.CreateAttr("xmlns:soap12", SOAPNamespace)
	msg := env.CreateElement("soap12:Body").CreateElement("nfeDadosMsg")
	msg.CreateAttr("xmlns", svc.Namespace())
	msg.AddChild(inner.Root().Copy())
	return out.WriteToBytes()
}

// LotID formats the lot sequence as the 15-digit idLote
func LotID(seq int64) (string, error) {
	s := strconv.FormatInt(seq, 10)
	if seq <= 0 || len(s) > lotIDDigits {
		return "", model.NewValidationError("id_lote", seq, "range", "lot id must be a positive number of at most 15 digits")
	}
	return strings.Repeat("0", lotIDDigits-len(s)) + s, nil
}

// AuthorizationPayload builds enviNFe around a signed NFe
func AuthorizationPayload(signedNFe []byte, lotSeq int64, synchronous bool) ([]byte, error) {
	lot, err := LotID(lotSeq)
	if err != nil {
		return nil, err
	}
	src := etree.NewDocument()
	if err := src.ReadFromBytes(signedNFe); err != nil {
		return nil, model.NewValidationError("signed_xml", nil, "xml", fmt.Sprintf("signed document is not XML: %v", err))
	}
	if src.Root() == nil || src.Root().Tag != "NFe" {
		return nil, model.NewValidationError("signed_xml", nil, "root", "signed document root must be NFe")
	}

	out := etree.NewDocument()
	lote := out.CreateElement("enviNFe")
	lote.CreateAttr("xmlns", codec.Namespace)
	lote.CreateAttr("versao", codec.Version)
	lote.CreateElement("idLote").SetText(lot)
	ind := "0"
	if synchronous {
		ind = "1"
	}
	lote.CreateElement("indSinc").SetText(ind)
	lote.AddChild(src.Root().Copy())
	return out.WriteToBytes()
}

// StatusPayload builds consStatServ
func StatusPayload(state string, env model.Environment) ([]byte, error) {
	uf, ok := accesskey.StateCode(state)
	if !ok {
		return nil, model.NewValidationError("state", state, "uf", "unknown federative unit")
	}
	out := etree.NewDocument()
	root := out.CreateElement("consStatServ")
	root.CreateAttr("xmlns", codec.Namespace)
	root.CreateAttr("versao", codec.Version)
	root.CreateElement("tpAmb").SetText(env.Code())
	root.CreateElement("cUF").SetText(uf)
	root.CreateElement("xServ").SetText("STATUS")
	return out.WriteToBytes()
}

// ReceiptPayload builds consReciNFe for an asynchronous lot receipt
func ReceiptPayload(receipt string, env model.Environment) ([]byte, error) {
	if len(receipt) != 15 || !model.IsDigits(receipt) {
		return nil, model.NewValidationError("receipt", receipt, "digits", "receipt number must have 15 digits")
	}
	out := etree.NewDocument()
	root := out.CreateElement("consReciNFe")
	root.CreateAttr("xmlns", codec.Namespace)
	root.CreateAttr("versao", codec.Version)
	root.CreateElement("tpAmb").SetText(env.Code())
	root.CreateElement("nRec").SetText(receipt)
	return out.WriteToBytes()
}

// CancelRequest carries the fields of a cancellation event
type CancelRequest struct {
	AccessKey     string
	Protocol      string
	Justification string
	IssuerDoc     string
	Environment   model.Environment
	At            time.Time
	Sequence      int
	LotSeq        int64
}

// CancelPayload builds an unsigned envEvento with one 110111 event. The
// infEvento element is the signing target.
func CancelPayload(req CancelRequest) ([]byte, error) {
	key, err := accesskey.Parse(req.AccessKey)
	if err != nil {
		return nil, err
	}
	if req.Protocol == "" {
		return nil, model.NewValidationError("protocol", nil, "required", "cancellation needs the authorization protocol")
	}
	just, err := justification(req.Justification)
	if err != nil {
		return nil, err
	}
	lot, err := LotID(req.LotSeq)
	if err != nil {
		return nil, err
	}
	seq := req.Sequence
	if seq <= 0 {
		seq = 1
	}
	issuer := req.IssuerDoc
	if issuer == "" {
		issuer = key.IssuerDoc
	}

	out := etree.NewDocument()
	env := out.CreateElement("envEvento")
	env.CreateAttr("xmlns", codec.Namespace)
	env.CreateAttr("versao", EventVersion)
	env.CreateElement("idLote").SetText(lot)

	ev := env.CreateElement("evento")
	ev.CreateAttr("versao", EventVersion)
	inf := ev.CreateElement("infEvento")
	inf.CreateAttr("Id", fmt.Sprintf("ID%s%s%02d", EventCancellation, req.AccessKey, seq))
	inf.CreateElement("cOrgao").SetText(key.StateCode)
	inf.CreateElement("tpAmb").SetText(req.Environment.Code())
	if len(issuer) == 11 {
		inf.CreateElement("CPF").SetText(issuer)
	} else {
		inf.CreateElement("CNPJ").SetText(issuer)
	}
	inf.CreateElement("chNFe").SetText(req.AccessKey)
	inf.CreateElement("dhEvento").SetText(req.At.Format(eventTimeLayout))
	inf.CreateElement("tpEvento").SetText(EventCancellation)
	inf.CreateElement("nSeqEvento").SetText(strconv.Itoa(seq))
	inf.CreateElement("verEvento").SetText(EventVersion)

	det := inf.CreateElement("detEvento")
	det.CreateAttr("versao", EventVersion)
	det.CreateElement("descEvento").SetText("Cancelamento")
	det.CreateElement("nProt").SetText(req.Protocol)
	det.CreateElement("xJust").SetText(just)
	return out.WriteToBytes()
}

// InutilizacaoRequest carries the fields of a number voiding request
type InutilizacaoRequest struct {
	State         string
	Environment   model.Environment
	Year          int
	IssuerCNPJ    string
	Model         model.DocumentModel
	Series        int
	First         int64
	Last          int64
	Justification string
}

// InutilizacaoPayload builds an unsigned inutNFe. infInut is the signing target.
func InutilizacaoPayload(req InutilizacaoRequest) ([]byte, error) {
	uf, ok := accesskey.StateCode(req.State)
	if !ok {
		return nil, model.NewValidationError("state", req.State, "uf", "unknown federative unit")
	}
	if len(req.IssuerCNPJ) != 14 || !model.IsDigits(req.IssuerCNPJ) {
		return nil, model.NewValidationError("issuer.document", req.IssuerCNPJ, "cnpj", "voiding requires the issuer CNPJ")
	}
	if req.First <= 0 || req.Last < req.First || req.Last > 999999999 {
		return nil, model.NewValidationError("number", fmt.Sprintf("%d-%d", req.First, req.Last), "range", "invalid number range")
	}
	if req.Series < 0 || req.Series > 999 {
		return nil, model.NewValidationError("series", req.Series, "range", "series must be 0..999")
	}
	just, err := justification(req.Justification)
	if err != nil {
		return nil, err
	}
	mod := req.Model
	if mod == "" {
		mod = model.ModelNFe
	}
	year := fmt.Sprintf("%02d", req.Year%100)

	id := fmt.Sprintf("ID%s%s%s%s%03d%09d%09d", uf, year, req.IssuerCNPJ, mod, req.Series, req.First, req.Last)

	out := etree.NewDocument()
	root := out.CreateElement("inutNFe")
	root.CreateAttr("xmlns", codec.Namespace)
	root.CreateAttr("versao", codec.Version)
	inf := root.CreateElement("infInut")
	inf.CreateAttr("Id", id)
	inf.CreateElement("tpAmb").SetText(req.Environment.Code())
	inf.CreateElement("xServ").SetText("INUTILIZAR")
	inf.CreateElement("cUF").SetText(uf)
	inf.CreateElement("ano").SetText(year)
	inf.CreateElement("CNPJ").SetText(req.IssuerCNPJ)
	inf.CreateElement("mod").SetText(string(mod))
	inf.CreateElement("serie").SetText(strconv.Itoa(req.Series))
	inf.CreateElement("nNFIni").SetText(strconv.FormatInt(req.First, 10))
	inf.CreateElement("nNFFin").SetText(strconv.FormatInt(req.Last, 10))
	inf.CreateElement("xJust").SetText(just)
	return out.WriteToBytes()
}

func justification(s string) (string, error) {
	s = strings.TrimSpace(s)
	n := utf8.RuneCountInString(s)
	if n < MinJustification || n > MaxJustification {
		return "", model.NewValidationError("justification", n, "length", fmt.Sprintf("justification must have %d to %d characters", MinJustification, MaxJustification))
	}
	return s, nil
}

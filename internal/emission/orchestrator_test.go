package emission_test

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"software.sslmate.com/src/go-pkcs12"

	"github.com/rezonia/nfe-engine/internal/accesskey"
	money "github.com/rezonia/nfe-engine/internal/decimal"
	"github.com/rezonia/nfe-engine/internal/emission"
	"github.com/rezonia/nfe-engine/internal/metrics"
	"github.com/rezonia/nfe-engine/internal/model"
	"github.com/rezonia/nfe-engine/internal/rules"
	"github.com/rezonia/nfe-engine/internal/sequence"
	"github.com/rezonia/nfe-engine/internal/signature"
	"github.com/rezonia/nfe-engine/internal/suggest"
	"github.com/rezonia/nfe-engine/internal/transport"
)

var fixedNow = time.Date(2025, 1, 15, 10, 30, 0, 0, time.FixedZone("BRT", -3*3600))

var (
	pfxOnce sync.Once
	pfxData []byte
	pfxErr  error
)

// staticCredentials decodes one generated PKCS#12 container per test binary
type staticCredentials struct{}

func (staticCredentials) Load(context.Context) (*signature.Credentials, error) {
	pfxOnce.Do(func() {
		key, err := rsa.GenerateKey(rand.Reader, 2048)
		if err != nil {
			pfxErr = err
			return
		}
		template := &x509.Certificate{
			SerialNumber:          big.NewInt(7),
			Subject:               pkix.Name{CommonName: "EMPRESA EMITENTE LTDA:12345678000195"},
			NotBefore:             time.Now().Add(-time.Hour),
			NotAfter:              time.Now().Add(24 * time.Hour),
			KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
			BasicConstraintsValid: true,
			IsCA:                  true,
		}
		der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
		if err != nil {
			pfxErr = err
			return
		}
		cert, err := x509.ParseCertificate(der)
		if err != nil {
			pfxErr = err
			return
		}
		pfxData, pfxErr = pkcs12.Modern.Encode(key, cert, nil, "secret")
	})
	if pfxErr != nil {
		return nil, pfxErr
	}
	return signature.DecodeCredentials(pfxData, "secret", time.Now())
}

var (
	nfeKeyPattern = regexp.MustCompile(`NFe(\d{44})`)
	chNFePattern  = regexp.MustCompile(`<chNFe>(\d{44})</chNFe>`)
)

func keyOf(payload []byte) string {
	if m := nfeKeyPattern.FindSubmatch(payload); m != nil {
		return string(m[1])
	}
	if m := chNFePattern.FindSubmatch(payload); m != nil {
		return string(m[1])
	}
	return ""
}

func protocolReply(key string, code int, reason string) []byte {
	return []byte(fmt.Sprintf(`<retEnviNFe xmlns="http://www.portalfiscal.inf.br/nfe"><cStat>104</cStat><xMotivo>Lote processado</xMotivo><protNFe versao="4.00"><infProt><chNFe>%s</chNFe><dhRecbto>2025-01-15T10:31:00-03:00</dhRecbto><nProt>135250000000001</nProt><cStat>%d</cStat><xMotivo>%s</xMotivo></infProt></protNFe></retEnviNFe>`, key, code, reason))
}

type fakeTransmitter struct {
	env     model.Environment
	mu      sync.Mutex
	calls   []transport.Request
	respond func(req transport.Request) ([]byte, error)
}

func (f *fakeTransmitter) Send(_ context.Context, req transport.Request) (*transport.Response, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	f.mu.Unlock()
	body, err := f.respond(req)
	if err != nil {
		return nil, err
	}
	return &transport.Response{StatusCode: http.StatusOK, Body: body, Attempts: 1}, nil
}

func (f *fakeTransmitter) Environment() model.Environment {
	return f.env
}

func (f *fakeTransmitter) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []emission.Event
}

func (p *recordingPublisher) Publish(_ context.Context, e emission.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func newCatalog(t *testing.T) *rules.Catalog {
	t.Helper()
	c := rules.NewCatalog()
	ipi := money.MustFromString("10")
	pis := money.MustFromString("1.65")
	cofins := money.MustFromString("7.6")
	for _, code := range []*model.ClassificationCode{
		{Code: "84713012", Description: "Notebooks", Rates: model.RateTable{IPI: &ipi, PIS: &pis, COFINS: &cofins}},
		{Code: "84713019", Description: "Outras maquinas portateis de processamento de dados"},
		{Code: "09012100", Description: "Cafe torrado nao descafeinado"},
	} {
		require.NoError(t, c.AddClassificationCode(code))
	}
	return c
}

func newDocument() *model.FiscalDocument {
	return &model.FiscalDocument{
		Header: model.Header{
			CompanyID:     "acme",
			Series:        1,
			NatureOfOp:    "Venda de mercadoria",
			OperationType: model.OperationSale,
			Purpose:       model.PurposeNormal,
			EmittedAt:     fixedNow,
			Destination:   model.DestinationInterstate,
		},
		Issuer: model.Party{
			Document:          "12345678000195",
			Name:              "Empresa Emitente LTDA",
			StateRegistration: "123456789110",
			Regime:            model.RegimeNormal,
			Address:           model.Address{State: "SP", CityCode: "3550308", CityName: "Sao Paulo"},
		},
		Recipient: model.Party{
			Document: "12345678909",
			Name:     "Cliente",
			Address:  model.Address{State: "RJ", CityCode: "3304557"},
		},
		Items: []model.Item{
			{
				Number:      1,
				Code:        "P1",
				Description: "Notebook",
				NCM:         "84713012",
				Unit:        "UN",
				Quantity:    money.MustFromString("2"),
				UnitPrice:   money.MustFromString("50"),
			},
		},
		Status: model.StatusDraft,
	}
}

type harness struct {
	orch   *emission.Orchestrator
	tx     *fakeTransmitter
	store  *emission.MemoryStore
	events *recordingPublisher
}

func newHarness(t *testing.T, respond func(transport.Request) ([]byte, error), opts ...emission.Option) harness {
	t.Helper()
	catalog := newCatalog(t)
	h := harness{
		tx:     &fakeTransmitter{env: model.EnvironmentHomologation, respond: respond},
		store:  emission.NewMemoryStore(),
		events: &recordingPublisher{},
	}
	base := []emission.Option{
		emission.WithTransmitter(h.tx),
		emission.WithCredentials(staticCredentials{}),
		emission.WithStore(h.store),
		emission.WithEvents(h.events),
		emission.WithClock(func() time.Time { return fixedNow }),
		emission.WithSuggester(suggest.NewLocal(catalog.ClassificationCodes(), 3)),
	}
	h.orch = emission.New(rules.NewResolver(catalog), append(base, opts...)...)
	return h
}

func authorizeAll(req transport.Request) ([]byte, error) {
	return protocolReply(keyOf(req.Payload), 100, "Autorizado o uso da NF-e"), nil
}

func TestEmit_Authorized(t *testing.T) {
	m := metrics.New()
	h := newHarness(t, authorizeAll, emission.WithMetrics(m))
	doc := newDocument()

	out, err := h.orch.Emit(context.Background(), doc)
	require.NoError(t, err)

	assert.Equal(t, model.StatusAuthorized, out.Status)
	assert.Equal(t, model.StatusAuthorized, doc.Status)
	assert.Equal(t, int64(1), doc.Header.Number)
	assert.Equal(t, model.EnvironmentHomologation, doc.Header.Environment)
	assert.True(t, accesskey.Valid(doc.AccessKey))
	require.NotNil(t, doc.Protocol)
	assert.Equal(t, "135250000000001", doc.Protocol.Number)
	assert.Equal(t, 100, doc.Protocol.StatusCode)
	assert.Contains(t, string(doc.SignedXML), "<Signature")
	assert.Equal(t, doc.SignedXML, out.SignedXML)
	assert.Contains(t, string(out.ResponseXML), "<cStat>100</cStat>")

	require.NotNil(t, doc.Items[0].Taxes)
	assert.Equal(t, "6102", doc.Items[0].Taxes.CFOP)
	assert.NotEmpty(t, doc.Items[0].Taxes.Codes.ICMS)

	require.Equal(t, 1, h.tx.callCount())
	assert.Equal(t, transport.ServiceAuthorization, h.tx.calls[0].Service)
	assert.Equal(t, "SP", h.tx.calls[0].State)

	history := h.store.History(doc.ID)
	require.Len(t, history, 3)
	assert.Equal(t, emission.OpCalculate, history[0].Operation)
	assert.Equal(t, model.StatusSigned, history[2].From)
	assert.Equal(t, model.StatusAuthorized, history[2].To)
	assert.Equal(t, 100, history[2].StatusCode)

	stored, ok := h.store.Get(doc.ID)
	require.True(t, ok)
	assert.Equal(t, model.StatusAuthorized, stored.Status)

	require.Len(t, h.events.events, 3)
	assert.Equal(t, emission.EventStatusChanged, h.events.events[2].Type)
	assert.Equal(t, model.StatusAuthorized, h.events.events[2].To)
}

func TestCalculate_FailureLeavesDocumentUntouched(t *testing.T) {
	h := newHarness(t, authorizeAll)
	doc := newDocument()
	doc.Items[0].NCM = "n/a"

	err := h.orch.Calculate(context.Background(), doc)
	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ErrValidation))

	assert.Equal(t, model.StatusDraft, doc.Status)
	assert.Empty(t, doc.AccessKey)
	assert.Nil(t, doc.Items[0].Taxes)
	assert.Empty(t, doc.ID)
}

func TestCalculate_FailureDoesNotConsumeNumber(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*model.FiscalDocument)
	}{
		{"invalid classification code", func(d *model.FiscalDocument) { d.Items[0].NCM = "n/a" }},
		{"unknown issuer state", func(d *model.FiscalDocument) { d.Issuer.Address.State = "XX" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seq := sequence.NewMemory()
			h := newHarness(t, authorizeAll, emission.WithSequence(seq))

			bad := newDocument()
			tt.mutate(bad)
			require.Error(t, h.orch.Calculate(context.Background(), bad))
			assert.Zero(t, bad.Header.Number)

			doc := newDocument()
			require.NoError(t, h.orch.Calculate(context.Background(), doc))
			assert.Equal(t, int64(1), doc.Header.Number)
			assert.Contains(t, doc.AccessKey, "000000001")
		})
	}
}

func TestCalculate_RequiresDraft(t *testing.T) {
	h := newHarness(t, authorizeAll)
	doc := newDocument()
	doc.Status = model.StatusSigned

	err := h.orch.Calculate(context.Background(), doc)
	assert.True(t, errors.Is(err, model.ErrStateViolation))
}

func TestCalculate_KeepsExplicitNumber(t *testing.T) {
	h := newHarness(t, authorizeAll)
	doc := newDocument()
	doc.Header.Number = 42

	require.NoError(t, h.orch.Calculate(context.Background(), doc))
	assert.Equal(t, model.StatusCalculated, doc.Status)

	key, err := accesskey.Parse(doc.AccessKey)
	require.NoError(t, err)
	assert.Equal(t, "35", key.StateCode)
	assert.Equal(t, "12345678000195", key.IssuerDoc)
	assert.Contains(t, doc.AccessKey, "000000042")
}

func TestTransmit_RequiresSigned(t *testing.T) {
	for _, status := range []model.Status{model.StatusDraft, model.StatusCalculated, model.StatusAuthorized, model.StatusRejected} {
		t.Run(string(status), func(t *testing.T) {
			h := newHarness(t, authorizeAll)
			doc := newDocument()
			doc.Status = status

			_, err := h.orch.Transmit(context.Background(), doc)
			require.Error(t, err)

			var stateErr *model.StateError
			require.True(t, errors.As(err, &stateErr))
			assert.Equal(t, emission.OpTransmit, stateErr.Operation)
			assert.Equal(t, 0, h.tx.callCount())
			assert.Equal(t, status, doc.Status)
		})
	}
}

func signedDocument(t *testing.T, h harness) *model.FiscalDocument {
	t.Helper()
	doc := newDocument()
	require.NoError(t, h.orch.Calculate(context.Background(), doc))
	require.NoError(t, h.orch.Sign(context.Background(), doc))
	require.Equal(t, model.StatusSigned, doc.Status)
	return doc
}

func TestTransmit_ClassificationRejection(t *testing.T) {
	h := newHarness(t, func(req transport.Request) ([]byte, error) {
		return protocolReply(keyOf(req.Payload), 778, "Rejeicao: Informado NCM inexistente"), nil
	})
	doc := signedDocument(t, h)

	out, err := h.orch.Transmit(context.Background(), doc)
	require.NoError(t, err)

	assert.Equal(t, model.StatusRejected, out.Status)
	assert.Equal(t, model.StatusRejected, doc.Status)
	assert.True(t, out.Result.ClassificationRejected())
	require.NotNil(t, doc.Protocol)
	assert.Equal(t, 778, doc.Protocol.StatusCode)

	require.Contains(t, out.Suggestions, 1)
	assert.Equal(t, "84713019", out.Suggestions[1][0].Code)
	assert.Equal(t, suggest.SourcePrefix, out.Suggestions[1][0].Source)

	history := h.store.History(doc.ID)
	last := history[len(history)-1]
	assert.Equal(t, model.StatusRejected, last.To)
	assert.NotEmpty(t, last.Suggestions)
	assert.Equal(t, emission.EventRejected, h.events.events[len(h.events.events)-1].Type)
}

func TestTransmit_OtherRejectionHasNoSuggestions(t *testing.T) {
	h := newHarness(t, func(req transport.Request) ([]byte, error) {
		return protocolReply(keyOf(req.Payload), 539, "Rejeicao: Duplicidade de NF-e"), nil
	})
	doc := signedDocument(t, h)

	out, err := h.orch.Transmit(context.Background(), doc)
	require.NoError(t, err)
	assert.Equal(t, model.StatusRejected, out.Status)
	assert.Nil(t, out.Suggestions)
}

func TestTransmit_UnparsableResponseKeepsDocument(t *testing.T) {
	h := newHarness(t, func(transport.Request) ([]byte, error) {
		return []byte("<html><body>Service Unavailable</body></html>"), nil
	})
	doc := signedDocument(t, h)
	before := len(h.store.History(doc.ID))

	_, err := h.orch.Transmit(context.Background(), doc)
	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ErrParse))

	var parseErr *model.ParseError
	require.True(t, errors.As(err, &parseErr))
	assert.Contains(t, string(parseErr.Raw), "Service Unavailable")

	assert.Equal(t, model.StatusSigned, doc.Status)
	assert.Len(t, h.store.History(doc.ID), before)
}

func TestTransmit_TransportErrorKeepsDocument(t *testing.T) {
	h := newHarness(t, func(transport.Request) ([]byte, error) {
		return nil, model.NewTransportError("https://example", 503, 3, "unexpected HTTP status 503", nil)
	})
	doc := signedDocument(t, h)

	_, err := h.orch.Transmit(context.Background(), doc)
	assert.True(t, errors.Is(err, model.ErrTransport))
	assert.Equal(t, model.StatusSigned, doc.Status)
	assert.Nil(t, doc.Protocol)
}

func TestTransmit_PendingThenQueryReceipt(t *testing.T) {
	var key string
	h := newHarness(t, func(req transport.Request) ([]byte, error) {
		switch req.Service {
		case transport.ServiceAuthorization:
			key = keyOf(req.Payload)
			return []byte(`<retEnviNFe xmlns="http://www.portalfiscal.inf.br/nfe"><cStat>103</cStat><xMotivo>Lote recebido com sucesso</xMotivo><infRec><nRec>351000012345678</nRec></infRec></retEnviNFe>`), nil
		case transport.ServiceReceipt:
			assert.Contains(t, string(req.Payload), "<nRec>351000012345678</nRec>")
			return []byte(fmt.Sprintf(`<retConsReciNFe xmlns="http://www.portalfiscal.inf.br/nfe"><nRec>351000012345678</nRec><cStat>104</cStat><protNFe><infProt><chNFe>%s</chNFe><nProt>135250000000009</nProt><cStat>100</cStat><xMotivo>Autorizado o uso da NF-e</xMotivo></infProt></protNFe></retConsReciNFe>`, key)), nil
		}
		return nil, errors.New("unexpected service")
	})
	doc := signedDocument(t, h)

	out, err := h.orch.Transmit(context.Background(), doc)
	require.NoError(t, err)
	assert.Equal(t, model.StatusTransmitted, out.Status)
	assert.Equal(t, model.StatusTransmitted, doc.Status)
	assert.Equal(t, "351000012345678", doc.Receipt)

	out, err = h.orch.QueryReceipt(context.Background(), doc)
	require.NoError(t, err)
	assert.Equal(t, model.StatusAuthorized, out.Status)
	assert.Equal(t, "135250000000009", doc.Protocol.Number)
	assert.Empty(t, doc.Receipt)
}

func TestQueryReceipt_RequiresReceipt(t *testing.T) {
	h := newHarness(t, authorizeAll)
	doc := newDocument()
	doc.Status = model.StatusTransmitted

	_, err := h.orch.QueryReceipt(context.Background(), doc)
	assert.True(t, errors.Is(err, model.ErrValidation))
	assert.Equal(t, 0, h.tx.callCount())
}

func TestReopen_AfterRejection(t *testing.T) {
	h := newHarness(t, func(req transport.Request) ([]byte, error) {
		return protocolReply(keyOf(req.Payload), 778, "Rejeicao: Informado NCM inexistente"), nil
	})
	doc := signedDocument(t, h)
	_, err := h.orch.Transmit(context.Background(), doc)
	require.NoError(t, err)
	number := doc.Header.Number

	require.NoError(t, h.orch.Reopen(context.Background(), doc))
	assert.Equal(t, model.StatusDraft, doc.Status)
	assert.Empty(t, doc.AccessKey)
	assert.Empty(t, doc.SignedXML)
	assert.Nil(t, doc.Items[0].Taxes)

	doc.Items[0].NCM = "84713019"
	require.NoError(t, h.orch.Calculate(context.Background(), doc))
	assert.Equal(t, number, doc.Header.Number)
	assert.True(t, accesskey.Valid(doc.AccessKey))
}

func TestReopen_RejectsAuthorized(t *testing.T) {
	h := newHarness(t, authorizeAll)
	doc := newDocument()
	doc.Status = model.StatusAuthorized

	err := h.orch.Reopen(context.Background(), doc)
	assert.True(t, errors.Is(err, model.ErrStateViolation))
}

func authorizedDocument(t *testing.T, h harness) *model.FiscalDocument {
	t.Helper()
	doc := newDocument()
	doc.Header.Number = 42
	require.NoError(t, h.orch.Calculate(context.Background(), doc))
	doc.Status = model.StatusAuthorized
	doc.Protocol = &model.Protocol{Number: "135250000000001", StatusCode: 100}
	return doc
}

func TestCancel(t *testing.T) {
	h := newHarness(t, func(req transport.Request) ([]byte, error) {
		assert.Equal(t, transport.ServiceEvent, req.Service)
		assert.Contains(t, string(req.Payload), "<Signature")
		assert.Contains(t, string(req.Payload), "<nProt>135250000000001</nProt>")
		return []byte(fmt.Sprintf(`<retEnvEvento xmlns="http://www.portalfiscal.inf.br/nfe"><cStat>128</cStat><retEvento><infEvento><cStat>135</cStat><xMotivo>Evento registrado e vinculado a NF-e</xMotivo><chNFe>%s</chNFe><nProt>135250000000002</nProt></infEvento></retEvento></retEnvEvento>`, keyOf(req.Payload))), nil
	})
	doc := authorizedDocument(t, h)

	out, err := h.orch.Cancel(context.Background(), doc, "Erro na digitacao do pedido")
	require.NoError(t, err)
	assert.Equal(t, model.StatusCancelled, out.Status)
	assert.Equal(t, model.StatusCancelled, doc.Status)
	assert.Equal(t, "135250000000002", out.Result.Protocol)
}

func TestCancel_Validation(t *testing.T) {
	h := newHarness(t, authorizeAll)

	t.Run("short justification", func(t *testing.T) {
		doc := authorizedDocument(t, h)
		_, err := h.orch.Cancel(context.Background(), doc, "erro")
		assert.True(t, errors.Is(err, model.ErrValidation))
		assert.Equal(t, model.StatusAuthorized, doc.Status)
	})

	t.Run("not authorized", func(t *testing.T) {
		doc := newDocument()
		doc.Status = model.StatusRejected
		_, err := h.orch.Cancel(context.Background(), doc, "Erro na digitacao do pedido")
		assert.True(t, errors.Is(err, model.ErrStateViolation))
	})

	t.Run("no protocol", func(t *testing.T) {
		doc := authorizedDocument(t, h)
		doc.Protocol = nil
		_, err := h.orch.Cancel(context.Background(), doc, "Erro na digitacao do pedido")
		assert.True(t, errors.Is(err, model.ErrValidation))
	})

	assert.Equal(t, 0, h.tx.callCount())
}

func TestCancel_RefusedKeepsAuthorized(t *testing.T) {
	h := newHarness(t, func(transport.Request) ([]byte, error) {
		return []byte(`<retEnvEvento xmlns="http://www.portalfiscal.inf.br/nfe"><cStat>128</cStat><retEvento><infEvento><cStat>501</cStat><xMotivo>Rejeicao: Prazo de cancelamento superior ao previsto</xMotivo></infEvento></retEvento></retEnvEvento>`), nil
	})
	doc := authorizedDocument(t, h)

	out, err := h.orch.Cancel(context.Background(), doc, "Erro na digitacao do pedido")
	require.NoError(t, err)
	assert.Equal(t, model.StatusAuthorized, out.Status)
	assert.Equal(t, model.StatusAuthorized, doc.Status)
	assert.Equal(t, 501, out.Result.StatusCode)

	history := h.store.History(doc.ID)
	last := history[len(history)-1]
	assert.Equal(t, emission.OpCancel, last.Operation)
	assert.Equal(t, model.StatusAuthorized, last.To)
}

func TestVoid(t *testing.T) {
	h := newHarness(t, func(req transport.Request) ([]byte, error) {
		assert.Equal(t, transport.ServiceInutilizacao, req.Service)
		assert.Contains(t, string(req.Payload), "<nNFIni>42</nNFIni>")
		assert.Contains(t, string(req.Payload), "<Signature")
		return []byte(`<retInutNFe xmlns="http://www.portalfiscal.inf.br/nfe"><infInut><cStat>102</cStat><xMotivo>Inutilizacao de numero homologado</xMotivo><nProt>135250000000003</nProt></infInut></retInutNFe>`), nil
	})
	doc := newDocument()
	doc.Header.Number = 42
	require.NoError(t, h.orch.Calculate(context.Background(), doc))

	out, err := h.orch.Void(context.Background(), doc, "Numeracao pulada por falha no sistema")
	require.NoError(t, err)
	assert.Equal(t, model.StatusVoided, out.Status)
	assert.Equal(t, model.StatusVoided, doc.Status)
	assert.True(t, doc.Status.IsTerminal())
}

func TestVoid_RejectsTransmitted(t *testing.T) {
	h := newHarness(t, authorizeAll)
	doc := newDocument()
	doc.Header.Number = 42
	doc.Status = model.StatusTransmitted

	_, err := h.orch.Void(context.Background(), doc, "Numeracao pulada por falha no sistema")
	assert.True(t, errors.Is(err, model.ErrStateViolation))
	assert.Equal(t, 0, h.tx.callCount())
}

func TestServiceStatus(t *testing.T) {
	h := newHarness(t, func(req transport.Request) ([]byte, error) {
		assert.Equal(t, transport.ServiceStatus, req.Service)
		assert.Contains(t, string(req.Payload), "<cUF>31</cUF>")
		return []byte(`<retConsStatServ xmlns="http://www.portalfiscal.inf.br/nfe"><cStat>107</cStat><xMotivo>Servico em Operacao</xMotivo></retConsStatServ>`), nil
	})

	res, err := h.orch.ServiceStatus(context.Background(), "MG")
	require.NoError(t, err)
	assert.Equal(t, 107, res.StatusCode)
}

func TestEmit_ThroughTransportRetries(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		reply := protocolReply(keyOf(body), 100, "Autorizado o uso da NF-e")
		_, _ = io.WriteString(w, `<soap:Envelope xmlns:soap="http://www.w3.org/2003/05/soap-envelope"><soap:Body><nfeResultMsg>`+string(reply)+`</nfeResultMsg></soap:Body></soap:Envelope>`)
	}))
	defer srv.Close()

	endpoints, err := transport.NewStaticEndpoints(transport.Override{
		State:       "SP",
		Environment: model.EnvironmentHomologation,
		Service:     transport.ServiceAuthorization,
		URL:         srv.URL,
	})
	require.NoError(t, err)
	var delays []time.Duration
	client := transport.NewClient(model.EnvironmentHomologation,
		transport.WithResolver(endpoints),
		transport.WithSleep(func(_ context.Context, d time.Duration) error {
			delays = append(delays, d)
			return nil
		}))

	catalog := newCatalog(t)
	orch := emission.New(rules.NewResolver(catalog),
		emission.WithTransmitter(client),
		emission.WithCredentials(staticCredentials{}),
		emission.WithClock(func() time.Time { return fixedNow }))

	doc := newDocument()
	out, err := orch.Emit(context.Background(), doc)
	require.NoError(t, err)

	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
	assert.Equal(t, 2, out.Attempts)
	assert.Len(t, delays, 1)
	assert.Equal(t, model.StatusAuthorized, doc.Status)
	assert.True(t, strings.HasPrefix(doc.AccessKey, "3525"))
}

func TestEmit_EnvironmentMismatch(t *testing.T) {
	client := transport.NewClient(model.EnvironmentHomologation)
	orch := emission.New(rules.NewResolver(newCatalog(t)),
		emission.WithTransmitter(client),
		emission.WithCredentials(staticCredentials{}),
		emission.WithClock(func() time.Time { return fixedNow }))

	doc := newDocument()
	doc.Header.Environment = model.EnvironmentProduction

	_, err := orch.Emit(context.Background(), doc)
	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ErrEnvironmentMismatch))
	assert.Equal(t, model.StatusSigned, doc.Status)
}

func TestCalculate_SanitizesWireFields(t *testing.T) {
	h := newHarness(t, authorizeAll)
	doc := newDocument()
	doc.Issuer.Document = "12.345.678/0001-95"
	doc.Recipient.StateRegistration = ""
	doc.Items[0].NCM = "8471.30.12"
	doc.Items[0].Description = "  Notebook\t15  pol "

	require.NoError(t, h.orch.Calculate(context.Background(), doc))
	assert.Equal(t, "12345678000195", doc.Issuer.Document)
	assert.Equal(t, "ISENTO", doc.Recipient.StateRegistration)
	assert.Equal(t, "84713012", doc.Items[0].NCM)
	assert.Equal(t, "Notebook 15 pol", doc.Items[0].Description)
	assert.Equal(t, model.DestinationInterstate, doc.Header.Destination)
	assert.Equal(t, "1058", doc.Recipient.Address.CountryCode)
}

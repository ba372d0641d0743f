// Package emission drives a FiscalDocument through its lifecycle:
// calculation, signing, transmission and the post-authorization events.
//
// Every operation works on a copy of the document and writes it back only
// when the whole step succeeded, so a failed step leaves the caller's
// document untouched.
package emission

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rezonia/nfe-engine/internal/accesskey"
	"github.com/rezonia/nfe-engine/internal/assembler"
	"github.com/rezonia/nfe-engine/internal/codec"
	"github.com/rezonia/nfe-engine/internal/metrics"
	"github.com/rezonia/nfe-engine/internal/model"
	"github.com/rezonia/nfe-engine/internal/response"
	"github.com/rezonia/nfe-engine/internal/rules"
	"github.com/rezonia/nfe-engine/internal/sequence"
	"github.com/rezonia/nfe-engine/internal/signature"
	"github.com/rezonia/nfe-engine/internal/suggest"
	"github.com/rezonia/nfe-engine/internal/tax"
	"github.com/rezonia/nfe-engine/internal/transport"
)

// Operation names used in errors, history and metrics
const (
	OpCalculate    = "calculate"
	OpSign         = "sign"
	OpTransmit     = "transmit"
	OpQueryReceipt = "query_receipt"
	OpReopen       = "reopen"
	OpCancel       = "cancel"
	OpVoid         = "void"
)

// Outcome is what a transmission produced, for the caller to persist verbatim
type Outcome struct {
	Status      model.Status                 `json:"status"`
	Result      response.Result              `json:"result"`
	SignedXML   []byte                       `json:"-"`
	ResponseXML []byte                       `json:"-"`
	Attempts    int                          `json:"attempts"`
	Suggestions map[int][]suggest.Suggestion `json:"suggestions,omitempty"`
}

// Orchestrator runs the emission state machine
type Orchestrator struct {
	resolver    *rules.Resolver
	calculator  *tax.Calculator
	keys        *accesskey.Generator
	encoder     *codec.Encoder
	signer      *signature.Signer
	credentials CredentialSource
	transmitter Transmitter
	sequence    sequence.Allocator
	store       DocumentStore
	events      EventPublisher
	suggester   suggest.Suggester
	metrics     *metrics.Metrics
	logger      *zap.Logger
	now         func() time.Time
	lot         atomic.Int64
}

// Option configures an Orchestrator
type Option func(*Orchestrator)

// WithCalculator replaces the tax calculator
func WithCalculator(c *tax.Calculator) Option {
	return func(o *Orchestrator) {
		if c != nil {
			o.calculator = c
		}
	}
}

// WithKeyGenerator replaces the access-key generator
func WithKeyGenerator(g *accesskey.Generator) Option {
	return func(o *Orchestrator) {
		if g != nil {
			o.keys = g
		}
	}
}

// WithEncoder replaces the XML encoder
func WithEncoder(e *codec.Encoder) Option {
	return func(o *Orchestrator) {
		if e != nil {
			o.encoder = e
		}
	}
}

// WithSigner replaces the signer
func WithSigner(s *signature.Signer) Option {
	return func(o *Orchestrator) {
		if s != nil {
			o.signer = s
		}
	}
}

// WithCredentials sets where signing credentials come from
func WithCredentials(c CredentialSource) Option {
	return func(o *Orchestrator) {
		o.credentials = c
	}
}

// WithTransmitter sets the authority client
func WithTransmitter(t Transmitter) Option {
	return func(o *Orchestrator) {
		o.transmitter = t
	}
}

// WithSequence sets the number allocator
func WithSequence(a sequence.Allocator) Option {
	return func(o *Orchestrator) {
		if a != nil {
			o.sequence = a
		}
	}
}

// WithStore sets the document store
func WithStore(s DocumentStore) Option {
	return func(o *Orchestrator) {
		o.store = s
	}
}

// WithEvents sets the event publisher
func WithEvents(p EventPublisher) Option {
	return func(o *Orchestrator) {
		o.events = p
	}
}

// WithSuggester enables classification suggestions on NCM rejections
func WithSuggester(s suggest.Suggester) Option {
	return func(o *Orchestrator) {
		o.suggester = s
	}
}

// WithMetrics records transitions and outcomes on m
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Orchestrator) {
		o.metrics = m
	}
}

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) Option {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		if now != nil {
			o.now = now
		}
	}
}

// New creates an orchestrator over the rule resolver
func New(resolver *rules.Resolver, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		resolver:   resolver,
		calculator: tax.NewCalculator(),
		keys:       accesskey.NewGenerator(),
		encoder:    codec.NewEncoder(),
		signer:     signature.NewSigner(),
		sequence:   sequence.NewMemory(),
		logger:     zap.NewNop(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	o.lot.Store(o.now().UnixMilli() % 1_000_000_000_000_000)
	return o
}

// Calculate resolves and computes every item's taxes, allocates the number
// when missing and derives the access key. DRAFT -> CALCULATED.
func (o *Orchestrator) Calculate(ctx context.Context, doc *model.FiscalDocument) error {
	if !doc.Status.CanTransition(model.StatusCalculated) {
		return model.NewStateError(OpCalculate, doc.Status, model.StatusCalculated)
	}
	if len(doc.Items) == 0 {
		return model.NewValidationError("items", nil, "required", "document must have at least one item")
	}

	work, err := sanitize(doc)
	if err != nil {
		return err
	}
	if work.ID == "" {
		work.ID = uuid.NewString()
	}
	if work.Header.Environment == "" && o.transmitter != nil {
		work.Header.Environment = o.transmitter.Environment()
	}
	if work.Header.EmittedAt.IsZero() {
		work.Header.EmittedAt = o.now()
	}

	for i := range work.Items {
		item := &work.Items[i]
		fc, err := o.resolver.BuildContext(work, item)
		if err != nil {
			return err
		}
		pkg := o.calculator.Calculate(fc, *item)
		if err := validateCalculated(item, pkg); err != nil {
			return err
		}
		item.Taxes = pkg
	}

	// The number is taken last so a rejected document leaves no gap in the series.
	params := keyParams(work)
	if params.Number == 0 {
		params.Number = 1
		code := params.RandomCode
		if code == "" {
			code = "00000000"
		}
		if _, err := accesskey.Base(params, code); err != nil {
			return err
		}
		n, err := o.sequence.Next(ctx, sequence.KeyOf(work.Header))
		o.metrics.ObserveAllocation(allocatorName(o.sequence), err)
		if err != nil {
			return err
		}
		work.Header.Number = n
		params.Number = n
	}
	o.metrics.AddCalculatedItems(len(work.Items))

	key, code, err := o.keys.Generate(params)
	if err != nil {
		return err
	}
	work.AccessKey, work.RandomCode = key, code

	return o.commit(ctx, doc, work, OpCalculate, model.StatusCalculated, nil, nil)
}

func keyParams(doc *model.FiscalDocument) accesskey.Params {
	return accesskey.Params{
		State:        doc.Issuer.Address.State,
		EmittedAt:    doc.Header.EmittedAt,
		IssuerDoc:    doc.Issuer.Document,
		Model:        doc.Header.Model,
		Series:       doc.Header.Series,
		Number:       doc.Header.Number,
		EmissionType: doc.Header.EmissionType,
		RandomCode:   doc.RandomCode,
	}
}

// sanitize returns a clone of doc with its parties, items and texts in wire form
func sanitize(doc *model.FiscalDocument) (*model.FiscalDocument, error) {
	clean, err := assembler.Assemble(assembler.Input{
		Header:    doc.Header,
		Issuer:    doc.Issuer,
		Recipient: doc.Recipient,
		Items:     doc.Items,
		Transport: doc.Transport,
		Payments:  doc.Payments,
	})
	if err != nil {
		return nil, err
	}
	work := doc.Clone()
	work.Header = clean.Header
	work.Issuer = clean.Issuer
	work.Recipient = clean.Recipient
	work.Items = clean.Items
	work.Transport = clean.Transport
	work.Payments = clean.Payments
	return work, nil
}

// validateCalculated enforces the CALCULATED stage requirements
func validateCalculated(item *model.Item, pkg *model.CalculatedTaxPackage) error {
	if len(item.NCM) != 8 || !model.IsDigits(item.NCM) {
		return model.NewValidationError("items.ncm", item.NCM, "format", "item needs a valid 8-digit classification code")
	}
	c := pkg.Codes
	if c.ICMS == "" || c.PIS == "" || c.COFINS == "" || c.IPI == "" {
		return model.NewValidationError("items.codes", item.Number, "required", "item is missing tax situation codes")
	}
	if pkg.CFOP == "" {
		return model.NewValidationError("items.cfop", item.Number, "required", "item has no operation code")
	}
	return nil
}

// Sign renders and signs the document. CALCULATED -> SIGNED.
func (o *Orchestrator) Sign(ctx context.Context, doc *model.FiscalDocument) error {
	if doc.Status != model.StatusCalculated {
		return model.NewStateError(OpSign, doc.Status, model.StatusSigned)
	}
	work := doc.Clone()

	unsigned, err := o.encoder.Encode(work)
	if err != nil {
		return err
	}
	creds, err := o.loadCredentials(ctx)
	if err != nil {
		return err
	}
	signed, err := o.signer.Sign(unsigned, signature.TargetInvoice, creds)
	if err != nil {
		return err
	}
	work.SignedXML = signed

	return o.commit(ctx, doc, work, OpSign, model.StatusSigned, nil, nil)
}

// Transmit posts a SIGNED document for synchronous authorization. A document
// in any other state fails before any network call.
func (o *Orchestrator) Transmit(ctx context.Context, doc *model.FiscalDocument) (*Outcome, error) {
	if doc.Status != model.StatusSigned {
		return nil, model.NewStateError(OpTransmit, doc.Status, model.StatusTransmitted)
	}
	if len(doc.SignedXML) == 0 {
		return nil, model.NewValidationError("signed_xml", nil, "required", "signed document is missing")
	}
	if o.transmitter == nil {
		return nil, model.NewValidationError("transmitter", nil, "required", "no authority client configured")
	}

	payload, err := transport.AuthorizationPayload(doc.SignedXML, o.nextLot(), true)
	if err != nil {
		return nil, err
	}
	resp, err := o.transmitter.Send(ctx, transport.Request{
		Service:     transport.ServiceAuthorization,
		State:       doc.Issuer.Address.State,
		Environment: doc.Header.Environment,
		Payload:     payload,
	})
	if err != nil {
		return nil, err
	}

	work := doc.Clone()
	if err := work.Transition(OpTransmit, model.StatusTransmitted); err != nil {
		return nil, err
	}
	return o.applyAuthorization(ctx, doc, work, OpTransmit, model.StatusSigned, resp)
}

// Emit runs the remaining steps up to transmission
func (o *Orchestrator) Emit(ctx context.Context, doc *model.FiscalDocument) (*Outcome, error) {
	if doc.Status == model.StatusDraft {
		if err := o.Calculate(ctx, doc); err != nil {
			return nil, err
		}
	}
	if doc.Status == model.StatusCalculated {
		if err := o.Sign(ctx, doc); err != nil {
			return nil, err
		}
	}
	return o.Transmit(ctx, doc)
}

// QueryReceipt polls the outcome of a lot the authority queued
func (o *Orchestrator) QueryReceipt(ctx context.Context, doc *model.FiscalDocument) (*Outcome, error) {
	if doc.Status != model.StatusTransmitted {
		return nil, model.NewStateError(OpQueryReceipt, doc.Status, "")
	}
	if doc.Receipt == "" {
		return nil, model.NewValidationError("receipt", nil, "required", "document has no lot receipt to query")
	}
	if o.transmitter == nil {
		return nil, model.NewValidationError("transmitter", nil, "required", "no authority client configured")
	}
	payload, err := transport.ReceiptPayload(doc.Receipt, doc.Header.Environment)
	if err != nil {
		return nil, err
	}
	resp, err := o.transmitter.Send(ctx, transport.Request{
		Service:     transport.ServiceReceipt,
		State:       doc.Issuer.Address.State,
		Environment: doc.Header.Environment,
		Payload:     payload,
	})
	if err != nil {
		return nil, err
	}
	return o.applyAuthorization(ctx, doc, doc.Clone(), OpQueryReceipt, model.StatusTransmitted, resp)
}

// applyAuthorization maps a parsed authorization answer onto a TRANSMITTED
// work copy. from is the status recorded in history.
func (o *Orchestrator) applyAuthorization(ctx context.Context, doc, work *model.FiscalDocument, op string, from model.Status, resp *transport.Response) (*Outcome, error) {
	res := response.Parse(resp.Body)
	if !res.Found {
		return nil, model.NewParseError(op, "authority response carries no status", resp.Body, nil)
	}
	if res.AccessKey != "" && res.AccessKey != work.AccessKey {
		return nil, model.NewParseError(op, "authority answered for another access key", resp.Body, nil)
	}
	o.metrics.ObserveOutcome(op, outcomeLabel(res), res.StatusCode)

	out := &Outcome{
		Result:      res,
		SignedXML:   work.SignedXML,
		ResponseXML: resp.Body,
		Attempts:    resp.Attempts,
	}

	var target model.Status
	switch {
	case res.Authorized():
		target = model.StatusAuthorized
		work.Protocol = protocolOf(res, o.now())
		work.Receipt = ""
	case res.Pending():
		if res.Receipt != "" {
			work.Receipt = res.Receipt
		}
		out.Status = work.Status
		entry := o.historyEntry(work, op, from, work.Status, res)
		if err := o.persist(ctx, work, entry); err != nil {
			return nil, err
		}
		if from != work.Status {
			o.metrics.ObserveTransition(string(from), string(work.Status))
		}
		*doc = *work
		return out, nil
	default:
		target = model.StatusRejected
		work.Protocol = protocolOf(res, o.now())
		if res.ClassificationRejected() {
			out.Suggestions = o.suggest(ctx, work, res.Reason)
		}
	}

	if err := o.commit(ctx, doc, work, op, target, &res, out.Suggestions); err != nil {
		return nil, err
	}
	out.Status = doc.Status
	return out, nil
}

// Reopen sends a REJECTED or CALCULATED document back to DRAFT for correction
func (o *Orchestrator) Reopen(ctx context.Context, doc *model.FiscalDocument) error {
	if doc.Status != model.StatusRejected && doc.Status != model.StatusCalculated {
		return model.NewStateError(OpReopen, doc.Status, model.StatusDraft)
	}
	work := doc.Clone()
	work.AccessKey = ""
	work.SignedXML = nil
	work.Receipt = ""
	for i := range work.Items {
		work.Items[i].Taxes = nil
	}
	return o.commit(ctx, doc, work, OpReopen, model.StatusDraft, nil, nil)
}

// Cancel registers a cancellation event for an AUTHORIZED document.
// A refused event leaves the document AUTHORIZED and is reported in the outcome.
func (o *Orchestrator) Cancel(ctx context.Context, doc *model.FiscalDocument, justification string) (*Outcome, error) {
	if doc.Status != model.StatusAuthorized {
		return nil, model.NewStateError(OpCancel, doc.Status, model.StatusCancelled)
	}
	if doc.Protocol == nil || doc.Protocol.Number == "" {
		return nil, model.NewValidationError("protocol", nil, "required", "authorized document has no protocol")
	}
	payload, err := transport.CancelPayload(transport.CancelRequest{
		AccessKey:     doc.AccessKey,
		Protocol:      doc.Protocol.Number,
		Justification: justification,
		IssuerDoc:     doc.Issuer.Document,
		Environment:   doc.Header.Environment,
		At:            o.now(),
		LotSeq:        o.nextLot(),
	})
	if err != nil {
		return nil, err
	}
	return o.sendEvent(ctx, doc, OpCancel, model.StatusCancelled, transport.ServiceEvent, signature.TargetEvent, payload, response.Result.EventRegistered)
}

// Void registers the voiding of the document number. Allowed from
// AUTHORIZED or any state that may still move to VOIDED.
func (o *Orchestrator) Void(ctx context.Context, doc *model.FiscalDocument, justification string) (*Outcome, error) {
	if !doc.Status.CanTransition(model.StatusVoided) {
		return nil, model.NewStateError(OpVoid, doc.Status, model.StatusVoided)
	}
	if doc.Header.Number == 0 {
		return nil, model.NewValidationError("header.number", nil, "required", "document has no number to void")
	}
	year := doc.Header.EmittedAt
	if year.IsZero() {
		year = o.now()
	}
	payload, err := transport.InutilizacaoPayload(transport.InutilizacaoRequest{
		State:         doc.Issuer.Address.State,
		Environment:   o.environmentOf(doc),
		Year:          year.Year(),
		IssuerCNPJ:    doc.Issuer.Document,
		Model:         doc.Header.Model,
		Series:        doc.Header.Series,
		First:         doc.Header.Number,
		Last:          doc.Header.Number,
		Justification: justification,
	})
	if err != nil {
		return nil, err
	}
	return o.sendEvent(ctx, doc, OpVoid, model.StatusVoided, transport.ServiceInutilizacao, signature.TargetInutilizacao, payload, response.Result.Voided)
}

// sendEvent signs payload at target, posts it and applies to when accepted
func (o *Orchestrator) sendEvent(ctx context.Context, doc *model.FiscalDocument, op string, to model.Status, svc transport.Service, target string, payload []byte, accepted func(response.Result) bool) (*Outcome, error) {
	if o.transmitter == nil {
		return nil, model.NewValidationError("transmitter", nil, "required", "no authority client configured")
	}
	creds, err := o.loadCredentials(ctx)
	if err != nil {
		return nil, err
	}
	signed, err := o.signer.Sign(payload, target, creds)
	if err != nil {
		return nil, err
	}
	resp, err := o.transmitter.Send(ctx, transport.Request{
		Service:     svc,
		State:       doc.Issuer.Address.State,
		Environment: doc.Header.Environment,
		Payload:     signed,
	})
	if err != nil {
		return nil, err
	}

	res := response.Parse(resp.Body)
	if !res.Found {
		return nil, model.NewParseError(op, "authority response carries no status", resp.Body, nil)
	}
	o.metrics.ObserveOutcome(op, outcomeLabel(res), res.StatusCode)

	out := &Outcome{Result: res, SignedXML: signed, ResponseXML: resp.Body, Attempts: resp.Attempts}
	work := doc.Clone()
	if !accepted(res) {
		entry := o.historyEntry(work, op, work.Status, work.Status, res)
		if err := o.persist(ctx, work, entry); err != nil {
			return nil, err
		}
		out.Status = doc.Status
		o.logger.Warn("authority refused event",
			zap.String("operation", op),
			zap.String("document_id", doc.ID),
			zap.Int("status_code", res.StatusCode),
			zap.String("reason", res.Reason))
		return out, nil
	}
	if err := o.commit(ctx, doc, work, op, to, &res, nil); err != nil {
		return nil, err
	}
	out.Status = doc.Status
	return out, nil
}

// ServiceStatus asks the authority of state whether it is operating
func (o *Orchestrator) ServiceStatus(ctx context.Context, state string) (response.Result, error) {
	if o.transmitter == nil {
		return response.Result{}, model.NewValidationError("transmitter", nil, "required", "no authority client configured")
	}
	env := o.transmitter.Environment()
	payload, err := transport.StatusPayload(state, env)
	if err != nil {
		return response.Result{}, err
	}
	resp, err := o.transmitter.Send(ctx, transport.Request{Service: transport.ServiceStatus, State: state, Payload: payload})
	if err != nil {
		return response.Result{}, err
	}
	res := response.Parse(resp.Body)
	if !res.Found {
		return res, model.NewParseError("status", "authority response carries no status", resp.Body, nil)
	}
	return res, nil
}

// commit applies the transition to work, persists it and copies it onto doc
func (o *Orchestrator) commit(ctx context.Context, doc, work *model.FiscalDocument, op string, to model.Status, res *response.Result, suggestions map[int][]suggest.Suggestion) error {
	from := work.Status
	if err := work.Transition(op, to); err != nil {
		return err
	}

	var result response.Result
	if res != nil {
		result = *res
	}
	entry := o.historyEntry(work, op, doc.Status, to, result)
	for _, s := range suggestions {
		entry.Suggestions = append(entry.Suggestions, s...)
	}
	if err := o.persist(ctx, work, entry); err != nil {
		return err
	}
	*doc = *work

	o.metrics.ObserveTransition(string(from), string(to))
	o.logger.Info("document transition",
		zap.String("operation", op),
		zap.String("document_id", doc.ID),
		zap.String("access_key", doc.AccessKey),
		zap.String("from", string(entry.From)),
		zap.String("to", string(to)),
		zap.Int("status_code", result.StatusCode))

	if o.events != nil {
		if err := o.events.Publish(ctx, newEvent(doc, entry.From, result.StatusCode, result.Reason, entry.At)); err != nil {
			o.logger.Warn("event publish failed", zap.String("document_id", doc.ID), zap.Error(err))
		}
	}
	return nil
}

func (o *Orchestrator) persist(ctx context.Context, work *model.FiscalDocument, entry HistoryEntry) error {
	if o.store == nil {
		return nil
	}
	if err := o.store.Save(ctx, work); err != nil {
		return err
	}
	return o.store.AppendHistory(ctx, entry)
}

func (o *Orchestrator) historyEntry(doc *model.FiscalDocument, op string, from, to model.Status, res response.Result) HistoryEntry {
	return HistoryEntry{
		ID:         uuid.NewString(),
		DocumentID: doc.ID,
		AccessKey:  doc.AccessKey,
		Operation:  op,
		From:       from,
		To:         to,
		StatusCode: res.StatusCode,
		Reason:     res.Reason,
		Protocol:   res.Protocol,
		At:         o.now(),
	}
}

// suggest collects replacement classification codes per item number. Errors
// are dropped.
func (o *Orchestrator) suggest(ctx context.Context, doc *model.FiscalDocument, reason string) map[int][]suggest.Suggestion {
	if o.suggester == nil {
		return nil
	}
	out := make(map[int][]suggest.Suggestion)
	for _, item := range doc.Items {
		got, err := o.suggester.Suggest(ctx, suggest.Request{Item: item, Reason: reason})
		if err != nil {
			o.logger.Debug("classification suggestion failed", zap.Int("item", item.Number), zap.Error(err))
			continue
		}
		if len(got) > 0 {
			out[item.Number] = got
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func (o *Orchestrator) loadCredentials(ctx context.Context) (*signature.Credentials, error) {
	if o.credentials == nil {
		return nil, signature.ErrContainerMissing("(not configured)", nil)
	}
	return o.credentials.Load(ctx)
}

func (o *Orchestrator) environmentOf(doc *model.FiscalDocument) model.Environment {
	if doc.Header.Environment != "" {
		return doc.Header.Environment
	}
	if o.transmitter != nil {
		return o.transmitter.Environment()
	}
	return model.EnvironmentHomologation
}

func (o *Orchestrator) nextLot() int64 {
	return o.lot.Add(1)
}

func protocolOf(res response.Result, now time.Time) *model.Protocol {
	at := res.ReceivedAt
	if at.IsZero() {
		at = now
	}
	return &model.Protocol{
		Number:     res.Protocol,
		StatusCode: res.StatusCode,
		Reason:     res.Reason,
		ReceivedAt: at,
	}
}

func outcomeLabel(res response.Result) string {
	switch {
	case res.Authorized():
		return string(model.StatusAuthorized)
	case res.EventRegistered():
		return string(model.StatusCancelled)
	case res.Voided():
		return string(model.StatusVoided)
	case res.Pending():
		return "PENDING"
	default:
		return string(model.StatusRejected)
	}
}

func allocatorName(a sequence.Allocator) string {
	switch a.(type) {
	case *sequence.Postgres:
		return "postgres"
	case *sequence.Redis:
		return "redis"
	default:
		return "memory"
	}
}

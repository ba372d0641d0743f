package nfelib

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/rezonia/nfe-engine/internal/codec"
	"github.com/rezonia/nfe-engine/internal/config"
	"github.com/rezonia/nfe-engine/internal/emission"
	"github.com/rezonia/nfe-engine/internal/llm"
	"github.com/rezonia/nfe-engine/internal/metrics"
	"github.com/rezonia/nfe-engine/internal/model"
	"github.com/rezonia/nfe-engine/internal/response"
	"github.com/rezonia/nfe-engine/internal/rules"
	"github.com/rezonia/nfe-engine/internal/sequence"
	"github.com/rezonia/nfe-engine/internal/signature"
	"github.com/rezonia/nfe-engine/internal/signature/trust"
	"github.com/rezonia/nfe-engine/internal/suggest"
	"github.com/rezonia/nfe-engine/internal/tax"
	"github.com/rezonia/nfe-engine/internal/transport"
)

// Options configures an Engine. Only Config is required.
type Options struct {
	Config config.Config
	Logger *zap.Logger

	// Catalog replaces the catalog read from Config.RulesPath
	Catalog *rules.Catalog
	// Credentials replaces the PKCS#12 file of Config.Certificate
	Credentials emission.CredentialSource
	// HTTPClient replaces the mutual-TLS client built from the credentials
	HTTPClient transport.Doer
	// Store receives documents and history; defaults to an in-memory store
	Store emission.DocumentStore
	// Allocator replaces the backend selected by Config.Sequence
	Allocator sequence.Allocator
}

// Engine is the assembled emission stack
type Engine struct {
	cfg          config.Config
	logger       *zap.Logger
	metrics      *metrics.Metrics
	catalog      *rules.Catalog
	resolver     *rules.Resolver
	calculator   *tax.Calculator
	encoder      *codec.Encoder
	signer       *signature.Signer
	verifier     *signature.Verifier
	credentials  emission.CredentialSource
	client       *transport.Client
	orchestrator *emission.Orchestrator
	closers      []func()
}

// New builds the engine. Backends named in the configuration (Postgres,
// Redis) are connected here; Close releases them.
func New(ctx context.Context, opts Options) (*Engine, error) {
	cfg := opts.Config
	e := &Engine{
		cfg:     cfg,
		logger:  opts.Logger,
		metrics: metrics.New(),
	}
	if e.logger == nil {
		e.logger = zap.NewNop()
	}

	if err := e.initCatalog(opts.Catalog); err != nil {
		return nil, err
	}
	e.resolver = rules.NewResolver(e.catalog, rules.WithLogger(e.logger))
	e.calculator = tax.NewCalculator(tax.WithLogger(e.logger))
	e.encoder = codec.NewEncoder(
		codec.WithAppVersion(cfg.AppVersion),
		codec.WithTechResponsible(cfg.Tech()),
	)
	e.signer = signature.NewSigner(signature.WithLogger(e.logger))

	store, err := trust.NewTrustStore(cfg.Trust.CABundle, trustOptions(cfg.Trust)...)
	if err != nil {
		return nil, err
	}
	e.verifier = signature.NewVerifier(store)

	e.credentials = opts.Credentials
	if e.credentials == nil && cfg.Certificate.Path != "" {
		e.credentials = emission.FileCredentials{Path: cfg.Certificate.Path, Password: cfg.Certificate.Password}
	}

	if err := e.initTransport(ctx, opts.HTTPClient, store); err != nil {
		return nil, err
	}

	allocator := opts.Allocator
	if allocator == nil {
		allocator, err = e.openAllocator(ctx)
		if err != nil {
			e.Close()
			return nil, err
		}
	}

	events, err := e.openEvents(ctx)
	if err != nil {
		e.Close()
		return nil, err
	}

	docStore := opts.Store
	if docStore == nil {
		docStore = emission.NewMemoryStore()
	}

	orchOpts := []emission.Option{
		emission.WithCalculator(e.calculator),
		emission.WithEncoder(e.encoder),
		emission.WithSigner(e.signer),
		emission.WithSequence(allocator),
		emission.WithStore(docStore),
		emission.WithEvents(events),
		emission.WithSuggester(e.suggester()),
		emission.WithMetrics(e.metrics),
		emission.WithLogger(e.logger),
	}
	if e.credentials != nil {
		orchOpts = append(orchOpts, emission.WithCredentials(e.credentials))
	}
	if e.client != nil {
		orchOpts = append(orchOpts, emission.WithTransmitter(e.client))
	}
	e.orchestrator = emission.New(e.resolver, orchOpts...)
	return e, nil
}

func (e *Engine) initCatalog(catalog *rules.Catalog) error {
	switch {
	case catalog != nil:
		e.catalog = catalog
	case e.cfg.RulesPath != "":
		c, err := rules.LoadCatalog(e.cfg.RulesPath)
		if err != nil {
			return err
		}
		e.catalog = c
	default:
		e.catalog = rules.NewCatalog()
	}
	return nil
}

func trustOptions(cfg config.TrustConfig) []trust.TrustStoreOption {
	opts := []trust.TrustStoreOption{
		trust.WithInsecureSkipVerify(cfg.InsecureSkipVerify),
		trust.WithRevocationCheck(cfg.OCSP),
	}
	if cfg.SoftFail {
		opts = append(opts, trust.WithSoftFail())
	}
	return opts
}

// initTransport builds the authority client. Without an injected HTTP client
// the container is checked once here and then reloaded on every handshake;
// the engine runs offline when no certificate is configured.
func (e *Engine) initTransport(ctx context.Context, doer transport.Doer, store *trust.TrustStore) error {
	if doer == nil {
		if e.credentials == nil {
			e.logger.Info("no certificate configured, transmission disabled")
			return nil
		}
		if _, err := e.credentials.Load(ctx); err != nil {
			return err
		}
		doer = transport.NewHTTPClient(e.loadTLSCertificate, store)
	}

	endpoints, err := transport.NewStaticEndpoints(e.cfg.Transport.Endpoints...)
	if err != nil {
		return err
	}
	e.client = transport.NewClient(e.cfg.Env(),
		transport.WithHTTPClient(doer),
		transport.WithResolver(endpoints),
		transport.WithTimeout(e.cfg.Transport.Timeout),
		transport.WithBaseDelay(e.cfg.Transport.BaseDelay),
		transport.WithMaxAttempts(e.cfg.Transport.MaxAttempts),
		transport.WithLogger(e.logger),
		transport.WithMetrics(e.metrics),
	)
	return nil
}

func (e *Engine) loadTLSCertificate(ctx context.Context) (tls.Certificate, error) {
	creds, err := e.credentials.Load(ctx)
	if err != nil {
		return tls.Certificate{}, err
	}
	return creds.TLSCertificate(), nil
}

func (e *Engine) openAllocator(ctx context.Context) (sequence.Allocator, error) {
	switch e.cfg.Sequence.Backend {
	case config.BackendPostgres:
		pool, err := sequence.NewPool(ctx, e.cfg.Sequence.DatabaseURL)
		if err != nil {
			return nil, err
		}
		e.closers = append(e.closers, pool.Close)
		pg := sequence.NewPostgres(pool)
		if err := pg.Migrate(ctx); err != nil {
			return nil, err
		}
		return pg, nil
	case config.BackendRedis:
		client, err := sequence.NewRedisClient(ctx, e.cfg.Sequence.RedisURL)
		if err != nil {
			return nil, err
		}
		e.closers = append(e.closers, func() { _ = client.Close() })
		return sequence.NewRedis(client), nil
	default:
		return sequence.NewMemory(), nil
	}
}

func (e *Engine) openEvents(ctx context.Context) (emission.EventPublisher, error) {
	if e.cfg.Events.RedisURL == "" {
		return emission.NewLogPublisher(e.logger), nil
	}
	client, err := sequence.NewRedisClient(ctx, e.cfg.Events.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("events: %w", err)
	}
	e.closers = append(e.closers, func() { _ = client.Close() })
	return emission.NewRedisPublisher(client, e.cfg.Events.RedisChannel), nil
}

// suggester chains the catalog matcher with the model advisor when an API key is set
func (e *Engine) suggester() suggest.Suggester {
	local := suggest.NewLocal(e.catalog.ClassificationCodes(), suggest.DefaultLimit)
	if e.cfg.LLM.APIKey == "" {
		return local
	}

	var clientOpts []llm.ClientOption
	if e.cfg.LLM.BaseURL != "" {
		clientOpts = append(clientOpts, llm.WithBaseURL(e.cfg.LLM.BaseURL))
	}
	if e.cfg.LLM.Model != "" {
		clientOpts = append(clientOpts, llm.WithDefaultModel(e.cfg.LLM.Model))
	}
	var advisorOpts []llm.AdvisorOption
	if e.cfg.LLM.Model != "" {
		advisorOpts = append(advisorOpts, llm.WithModel(e.cfg.LLM.Model))
	}
	advisor := llm.NewNCMAdvisor(llm.NewClient(e.cfg.LLM.APIKey, clientOpts...), advisorOpts...)
	return suggest.NewChain(e.logger, suggest.DefaultLimit, local, suggest.NewAdvisor(advisor, local, suggest.DefaultLimit))
}

// Close releases database and cache connections
func (e *Engine) Close() {
	for i := len(e.closers) - 1; i >= 0; i-- {
		e.closers[i]()
	}
	e.closers = nil
}

// Orchestrator returns the lifecycle driver
func (e *Engine) Orchestrator() *emission.Orchestrator { return e.orchestrator }

// Resolver returns the rule resolver
func (e *Engine) Resolver() *rules.Resolver { return e.resolver }

// Encoder returns the XML encoder
func (e *Engine) Encoder() *codec.Encoder { return e.encoder }

// Metrics returns the engine's collectors
func (e *Engine) Metrics() *metrics.Metrics { return e.metrics }

// MetricsHandler serves the engine's collectors
func (e *Engine) MetricsHandler() http.Handler { return e.metrics.Handler() }

// CanTransmit reports whether an authority client is configured
func (e *Engine) CanTransmit() bool { return e.client != nil }

// CalculateItems computes the taxes of every item without touching the document
func (e *Engine) CalculateItems(doc *FiscalDocument) ([]*CalculatedTaxPackage, error) {
	out := make([]*CalculatedTaxPackage, 0, len(doc.Items))
	for i := range doc.Items {
		fc, err := e.resolver.BuildContext(doc, &doc.Items[i])
		if err != nil {
			return nil, err
		}
		out = append(out, e.calculator.Calculate(fc, doc.Items[i]))
	}
	e.metrics.AddCalculatedItems(len(out))
	return out, nil
}

// Calculate moves a DRAFT document to CALCULATED
func (e *Engine) Calculate(ctx context.Context, doc *FiscalDocument) error {
	return e.orchestrator.Calculate(ctx, doc)
}

// Render calculates a DRAFT document when needed and returns the unsigned XML
func (e *Engine) Render(ctx context.Context, doc *FiscalDocument) ([]byte, error) {
	if doc.Status == "" {
		doc.Status = model.StatusDraft
	}
	if doc.Status == model.StatusDraft {
		if err := e.orchestrator.Calculate(ctx, doc); err != nil {
			return nil, err
		}
	}
	return e.encoder.Encode(doc)
}

// Sign renders and signs a CALCULATED document
func (e *Engine) Sign(ctx context.Context, doc *FiscalDocument) error {
	return e.orchestrator.Sign(ctx, doc)
}

// SignXML signs an arbitrary document at its detected target
func (e *Engine) SignXML(ctx context.Context, data []byte) ([]byte, error) {
	if e.credentials == nil {
		return nil, signature.ErrContainerMissing("(not configured)", nil)
	}
	creds, err := e.credentials.Load(ctx)
	if err != nil {
		return nil, err
	}
	return e.signer.Sign(data, signature.DetectTarget(data), creds)
}

// Emit runs every remaining step up to the authority's answer
func (e *Engine) Emit(ctx context.Context, doc *FiscalDocument) (*Outcome, error) {
	if doc.Status == "" {
		doc.Status = model.StatusDraft
	}
	return e.orchestrator.Emit(ctx, doc)
}

// QueryReceipt polls a queued lot
func (e *Engine) QueryReceipt(ctx context.Context, doc *FiscalDocument) (*Outcome, error) {
	return e.orchestrator.QueryReceipt(ctx, doc)
}

// Reopen sends a REJECTED or CALCULATED document back to DRAFT
func (e *Engine) Reopen(ctx context.Context, doc *FiscalDocument) error {
	return e.orchestrator.Reopen(ctx, doc)
}

// Cancel registers the cancellation of an AUTHORIZED document
func (e *Engine) Cancel(ctx context.Context, doc *FiscalDocument, justification string) (*Outcome, error) {
	return e.orchestrator.Cancel(ctx, doc, justification)
}

// Void registers the voiding of the document number
func (e *Engine) Void(ctx context.Context, doc *FiscalDocument, justification string) (*Outcome, error) {
	return e.orchestrator.Void(ctx, doc, justification)
}

// ServiceStatus asks an authority whether it is operating. An empty state
// uses the configured one.
func (e *Engine) ServiceStatus(ctx context.Context, state string) (Result, error) {
	if state == "" {
		state = e.cfg.State
	}
	return e.orchestrator.ServiceStatus(ctx, state)
}

// Verify checks the signature of a signed document
func (e *Engine) Verify(ctx context.Context, data []byte) (*signature.VerificationResult, error) {
	return e.verifier.Verify(ctx, data, signature.DetectTarget(data))
}

// ParseResponse extracts the status of an authority answer
func ParseResponse(body []byte) Result {
	return response.Parse(body)
}

// IsRetryable reports whether err is a transport failure worth another try later
func IsRetryable(err error) bool {
	var te *model.TransportError
	return errors.As(err, &te) && (te.StatusCode == 0 || te.StatusCode >= 500 || te.StatusCode == http.StatusTooManyRequests)
}

package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/rezonia/nfe-engine/internal/accesskey"
	"github.com/rezonia/nfe-engine/internal/codec"
	"github.com/rezonia/nfe-engine/internal/emission"
	"github.com/rezonia/nfe-engine/internal/metrics"
	"github.com/rezonia/nfe-engine/internal/model"
	"github.com/rezonia/nfe-engine/internal/response"
	"github.com/rezonia/nfe-engine/internal/rules"
	"github.com/rezonia/nfe-engine/internal/tax"
)

// Config holds server configuration
type Config struct {
	Address      string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	// EmitTimeout bounds one emit request, retries included
	EmitTimeout time.Duration
	Debug       bool
}

// Server represents the HTTP API server
type Server struct {
	config       *Config
	router       *gin.Engine
	resolver     *rules.Resolver
	calculator   *tax.Calculator
	encoder      *codec.Encoder
	keys         *accesskey.Generator
	orchestrator *emission.Orchestrator
	metrics      *metrics.Metrics
	logger       *zap.Logger
}

// Option configures the server
type Option func(*Server)

// WithResolver sets the rule resolver used by the calculation endpoint
func WithResolver(r *rules.Resolver) Option {
	return func(s *Server) {
		if r != nil {
			s.resolver = r
		}
	}
}

// WithOrchestrator sets the emission orchestrator
func WithOrchestrator(o *emission.Orchestrator) Option {
	return func(s *Server) {
		s.orchestrator = o
	}
}

// WithEncoder sets the XML encoder used by the render endpoint
func WithEncoder(e *codec.Encoder) Option {
	return func(s *Server) {
		if e != nil {
			s.encoder = e
		}
	}
}

// WithMetrics exposes m on /metrics
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) {
		s.metrics = m
	}
}

// WithLogger sets the request logger
func WithLogger(logger *zap.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewServer creates a new API server. Without an orchestrator the emit
// endpoint answers 503.
func NewServer(config *Config, opts ...Option) *Server {
	if !config.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	if config.EmitTimeout == 0 {
		config.EmitTimeout = 2 * time.Minute
	}

	s := &Server{
		config:     config,
		router:     gin.New(),
		resolver:   rules.NewResolver(rules.NewCatalog()),
		calculator: tax.NewCalculator(),
		encoder:    codec.NewEncoder(),
		keys:       accesskey.NewGenerator(),
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.router.Use(gin.Recovery())
	s.router.Use(RequestLogger(s.logger))
	s.router.Use(ErrorHandlingMiddleware())

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)
	if s.metrics != nil {
		s.router.GET("/metrics", gin.WrapH(s.metrics.Handler()))
	}

	v1 := s.router.Group("/api/v1")
	{
		v1.POST("/taxes/calculate", s.handleCalculate)

		v1.POST("/documents/render", s.handleRender)
		v1.POST("/documents/emit", s.handleEmit)

		v1.POST("/access-keys", s.handleGenerateKey)
		v1.GET("/access-keys/:key", s.handleParseKey)

		v1.POST("/responses/parse", s.handleParseResponse)
	}
}

// Run starts the HTTP server and shuts it down when ctx ends
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.config.Address,
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

// Handler returns the http.Handler for use with custom servers
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleCalculate(c *gin.Context) {
	var doc model.FiscalDocument
	if err := c.ShouldBindJSON(&doc); err != nil {
		AbortWithError(c, invalidBody(err))
		return
	}
	if len(doc.Items) == 0 {
		AbortWithError(c, model.NewValidationError("items", nil, "required", "document must have at least one item"))
		return
	}

	out := CalculateResponse{Items: make([]ItemTaxes, 0, len(doc.Items))}
	for i := range doc.Items {
		item := &doc.Items[i]
		fc, err := s.resolver.BuildContext(&doc, item)
		if err != nil {
			AbortWithError(c, err)
			return
		}
		out.Items = append(out.Items, ItemTaxes{
			Number: item.Number,
			Taxes:  s.calculator.Calculate(fc, *item),
		})
	}
	s.metrics.AddCalculatedItems(len(doc.Items))
	c.JSON(http.StatusOK, out)
}

// handleRender calculates a DRAFT document when needed and returns the unsigned XML
func (s *Server) handleRender(c *gin.Context) {
	var doc model.FiscalDocument
	if err := c.ShouldBindJSON(&doc); err != nil {
		AbortWithError(c, invalidBody(err))
		return
	}
	if doc.Status == "" {
		doc.Status = model.StatusDraft
	}
	if doc.Status == model.StatusDraft {
		if s.orchestrator == nil {
			AbortWithError(c, ErrServiceUnavailable)
			return
		}
		if err := s.orchestrator.Calculate(c.Request.Context(), &doc); err != nil {
			AbortWithError(c, err)
			return
		}
	}

	data, err := s.encoder.Encode(&doc)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.Header("X-Access-Key", doc.AccessKey)
	c.Data(http.StatusOK, "application/xml; charset=utf-8", data)
}

func (s *Server) handleEmit(c *gin.Context) {
	if s.orchestrator == nil {
		AbortWithError(c, ErrServiceUnavailable)
		return
	}
	var doc model.FiscalDocument
	if err := c.ShouldBindJSON(&doc); err != nil {
		AbortWithError(c, invalidBody(err))
		return
	}
	if doc.Status == "" {
		doc.Status = model.StatusDraft
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), s.config.EmitTimeout)
	defer cancel()

	out, err := s.orchestrator.Emit(ctx, &doc)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, EmitResponse{
		Document:    &doc,
		Status:      out.Status,
		Result:      out.Result,
		Attempts:    out.Attempts,
		Suggestions: out.Suggestions,
		SignedXML:   string(out.SignedXML),
		ResponseXML: string(out.ResponseXML),
	})
}

func (s *Server) handleGenerateKey(c *gin.Context) {
	var req KeyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidBody(err))
		return
	}
	if req.Model == "" {
		req.Model = model.ModelNFe
	}
	if req.EmissionType == 0 {
		req.EmissionType = 1
	}

	key, code, err := s.keys.Generate(accesskey.Params{
		State:        req.State,
		EmittedAt:    req.EmittedAt,
		IssuerDoc:    req.IssuerDoc,
		Model:        req.Model,
		Series:       req.Series,
		Number:       req.Number,
		EmissionType: req.EmissionType,
		RandomCode:   req.RandomCode,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, KeyResponse{AccessKey: key, RandomCode: code})
}

func (s *Server) handleParseKey(c *gin.Context) {
	key, err := accesskey.Parse(c.Param("key"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, key)
}

func (s *Server) handleParseResponse(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		AbortWithError(c, invalidBody(err))
		return
	}
	if len(body) == 0 {
		AbortWithError(c, model.NewValidationError("body", nil, "required", "empty request body"))
		return
	}
	c.JSON(http.StatusOK, response.Parse(body))
}

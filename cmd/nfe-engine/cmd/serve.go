package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/rezonia/nfe-engine/internal/logger"
	"github.com/rezonia/nfe-engine/internal/server"
	"github.com/rezonia/nfe-engine/pkg/nfelib"
)

var (
	serverDebug  bool
	readTimeout  time.Duration
	writeTimeout time.Duration
	emitTimeout  time.Duration
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	Long: `Start an HTTP API server for tax calculation and emission.

The API provides endpoints for:
  - POST /api/v1/taxes/calculate     - Calculate item taxes
  - POST /api/v1/documents/render    - Render the unsigned XML
  - POST /api/v1/documents/emit      - Calculate, sign and transmit
  - POST /api/v1/access-keys         - Generate an access key
  - GET  /api/v1/access-keys/:key    - Decode an access key
  - POST /api/v1/responses/parse     - Parse an authority response
  - GET  /metrics                    - Prometheus metrics
  - GET  /health                     - Health check

Examples:
  # Start server on default port
  nfe-engine serve

  # Start on a custom port with a certificate
  nfe-engine serve --address :9090 --certificate cert.pfx

  # Start in debug mode
  nfe-engine serve --debug`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("address", "", "Server listen address (env: NFE_HTTP_ADDR)")
	serveCmd.Flags().BoolVar(&serverDebug, "debug", false, "Enable debug mode")
	serveCmd.Flags().DurationVar(&readTimeout, "read-timeout", 30*time.Second, "HTTP read timeout")
	serveCmd.Flags().DurationVar(&writeTimeout, "write-timeout", 5*time.Minute, "HTTP write timeout")
	serveCmd.Flags().DurationVar(&emitTimeout, "emit-timeout", 2*time.Minute, "Timeout of one emission, retries included")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if f := cmd.Flags().Lookup("address"); f != nil && f.Changed {
		cfg.HTTPAddr = f.Value.String()
	}

	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	engine, err := nfelib.New(ctx, nfelib.Options{Config: cfg, Logger: log})
	if err != nil {
		return err
	}
	defer engine.Close()

	srv := server.NewServer(&server.Config{
		Address:      cfg.HTTPAddr,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		EmitTimeout:  emitTimeout,
		Debug:        serverDebug,
	},
		server.WithResolver(engine.Resolver()),
		server.WithOrchestrator(engine.Orchestrator()),
		server.WithEncoder(engine.Encoder()),
		server.WithMetrics(engine.Metrics()),
		server.WithLogger(log),
	)

	log.Info("starting server",
		zap.String("address", cfg.HTTPAddr),
		zap.String("environment", cfg.Environment),
		zap.String("state", cfg.State),
		zap.Bool("transmission", engine.CanTransmit()),
		zap.Bool("llm_suggestions", cfg.LLM.APIKey != ""))

	if err := srv.Run(ctx); err != nil {
		return fmt.Errorf("server: %w", err)
	}
	log.Info("server stopped")
	return nil
}

package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/rezonia/nfe-engine/internal/config"
	"github.com/rezonia/nfe-engine/internal/logger"
	"github.com/rezonia/nfe-engine/pkg/nfelib"
)

var (
	version = "1.0.0"

	// Global flags
	verbose      bool
	outputFormat string
	configFile   string
	envFiles     []string
)

// flagKeys maps persistent flags to configuration keys
var flagKeys = map[string]string{
	"environment":          "environment",
	"state":                "state",
	"log-level":            "log_level",
	"rules":                "rules_path",
	"certificate":          "certificate.path",
	"certificate-password": "certificate.password",
	"ca-bundle":            "trust.ca_bundle",
	"insecure-skip-verify": "trust.insecure_skip_verify",
	"ocsp":                 "trust.ocsp",
	"sequence-backend":     "sequence.backend",
	"database-url":         "sequence.database_url",
	"redis-url":            "sequence.redis_url",
	"api-key":              "llm.api_key",
	"llm-base-url":         "llm.base_url",
	"llm-model":            "llm.model",
}

var rootCmd = &cobra.Command{
	Use:   "nfe-engine",
	Short: "Compute, sign and emit Brazilian NF-e documents",
	Long: `NF-e Engine computes taxes for Brazilian electronic invoices (model 55),
renders the 4.00 layout, signs it with an A1 certificate and transmits it
to the state authority.

Configuration is read from flags, NFE_* environment variables, a .env file
and an optional YAML file, in that order of precedence.

Examples:
  # Calculate taxes for a document
  nfe-engine calculate document.json

  # Render the unsigned XML
  nfe-engine render document.json -o nfe.xml

  # Emit in homologation
  nfe-engine emit document.json --certificate cert.pfx --certificate-password secret

  # Check whether the SP authority is up
  nfe-engine status SP --certificate cert.pfx`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	flags.StringVarP(&outputFormat, "format", "f", "json", "Output format (json, table)")
	flags.StringVarP(&configFile, "config", "c", "", "YAML configuration file")
	flags.StringSliceVar(&envFiles, "env-file", nil, ".env files to load (default: .env)")

	flags.String("environment", "", "Authority environment: production or homologation (env: NFE_ENVIRONMENT)")
	flags.String("state", "", "Issuer state, e.g. SP (env: NFE_STATE)")
	flags.String("log-level", "", "Log level for the server (env: NFE_LOG_LEVEL)")
	flags.String("rules", "", "YAML rule catalog (env: NFE_RULES_PATH)")
	flags.String("certificate", "", "A1 PKCS#12 certificate (env: NFE_CERTIFICATE_PATH)")
	flags.String("certificate-password", "", "Certificate password (env: NFE_CERTIFICATE_PASSWORD)")
	flags.String("ca-bundle", "", "PEM bundle with the ICP-Brasil chain (env: NFE_TRUST_CA_BUNDLE)")
	flags.Bool("insecure-skip-verify", false, "Skip authority TLS verification")
	flags.Bool("ocsp", false, "Check certificate revocation through OCSP")
	flags.String("sequence-backend", "", "Number allocator: memory, postgres or redis")
	flags.String("database-url", "", "PostgreSQL URL for the postgres allocator")
	flags.String("redis-url", "", "Redis URL for the redis allocator")
	flags.String("api-key", "", "API key for classification suggestions (env: NFE_LLM_API_KEY)")
	flags.String("llm-base-url", "", "LLM API base URL (env: NFE_LLM_BASE_URL)")
	flags.String("llm-model", "", "LLM model for classification suggestions (env: NFE_LLM_MODEL)")
}

func loadConfig() (config.Config, error) {
	return config.Load(
		config.WithFile(configFile),
		config.WithDotEnv(envFiles...),
		config.WithFlags(rootCmd.PersistentFlags(), flagKeys),
	)
}

// newEngine loads the configuration and builds the engine with a console logger
func newEngine(ctx context.Context) (*nfelib.Engine, *zap.Logger, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	log := logger.NewDevelopment(verbose)
	engine, err := nfelib.New(ctx, nfelib.Options{Config: cfg, Logger: log})
	if err != nil {
		return nil, nil, err
	}
	return engine, log, nil
}

// readDocument decodes a document from a JSON file, or stdin for "-"
func readDocument(path string) (*nfelib.FiscalDocument, error) {
	data, err := readInput(path)
	if err != nil {
		return nil, err
	}
	var doc nfelib.FiscalDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode document %s: %w", path, err)
	}
	if doc.Status == "" {
		doc.Status = nfelib.StatusDraft
	}
	return &doc, nil
}

func readInput(path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(os.Stdin)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return data, nil
}

// writeDocument stores the updated document next to the command output
func writeDocument(path string, doc *nfelib.FiscalDocument) error {
	if path == "" {
		return nil
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	printVerbose("Document saved to %s\n", path)
	return os.WriteFile(path, data, 0o644)
}

func writeBytes(path string, data []byte) error {
	if path == "" {
		_, err := os.Stdout.Write(data)
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	printVerbose("Output written to %s\n", path)
	return nil
}

func printJSON(v interface{}) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

func printVerbose(format string, args ...interface{}) {
	if verbose {
		fmt.Fprintf(os.Stderr, format, args...)
	}
}

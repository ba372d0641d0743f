// Package config loads engine settings from a YAML file, .env, NFE_*
// environment variables and command-line flags, in increasing priority.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/rezonia/nfe-engine/internal/accesskey"
	"github.com/rezonia/nfe-engine/internal/codec"
	"github.com/rezonia/nfe-engine/internal/model"
	"github.com/rezonia/nfe-engine/internal/transport"
)

// EnvPrefix prefixes every environment variable
const EnvPrefix = "NFE"

// Sequence backends
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
)

// Config holds application configuration
type Config struct {
	Environment string `mapstructure:"environment"`
	State       string `mapstructure:"state"`
	LogLevel    string `mapstructure:"log_level"`
	HTTPAddr    string `mapstructure:"http_addr"`
	AppVersion  string `mapstructure:"app_version"`
	RulesPath   string `mapstructure:"rules_path"`

	Certificate     CertificateConfig     `mapstructure:"certificate"`
	Trust           TrustConfig           `mapstructure:"trust"`
	Transport       TransportConfig       `mapstructure:"transport"`
	Sequence        SequenceConfig        `mapstructure:"sequence"`
	Events          EventsConfig          `mapstructure:"events"`
	LLM             LLMConfig             `mapstructure:"llm"`
	TechResponsible codec.TechResponsible `mapstructure:"tech_responsible"`
}

// CertificateConfig locates the A1 PKCS#12 container
type CertificateConfig struct {
	Path     string `mapstructure:"path"`
	Password string `mapstructure:"password"`
}

// TrustConfig controls server and signer certificate validation
type TrustConfig struct {
	CABundle           string `mapstructure:"ca_bundle"`
	InsecureSkipVerify bool   `mapstructure:"insecure_skip_verify"`
	OCSP               bool   `mapstructure:"ocsp"`
	SoftFail           bool   `mapstructure:"soft_fail"`
}

// TransportConfig tunes the SOAP client
type TransportConfig struct {
	Timeout     time.Duration        `mapstructure:"timeout"`
	BaseDelay   time.Duration        `mapstructure:"base_delay"`
	MaxAttempts int                  `mapstructure:"max_attempts"`
	Endpoints   []transport.Override `mapstructure:"endpoints"`
}

// SequenceConfig selects the number allocator
type SequenceConfig struct {
	Backend     string `mapstructure:"backend"`
	DatabaseURL string `mapstructure:"database_url"`
	RedisURL    string `mapstructure:"redis_url"`
}

// EventsConfig selects where lifecycle events go
type EventsConfig struct {
	RedisURL     string `mapstructure:"redis_url"`
	RedisChannel string `mapstructure:"redis_channel"`
}

// LLMConfig enables model-backed classification suggestions
type LLMConfig struct {
	APIKey  string `mapstructure:"api_key"`
	BaseURL string `mapstructure:"base_url"`
	Model   string `mapstructure:"model"`
}

var defaults = map[string]interface{}{
	"environment":                string(model.EnvironmentHomologation),
	"state":                      "SP",
	"log_level":                  "info",
	"http_addr":                  ":8080",
	"app_version":                "nfe-engine",
	"rules_path":                 "",
	"certificate.path":           "",
	"certificate.password":       "",
	"trust.ca_bundle":            "",
	"trust.insecure_skip_verify": false,
	"trust.ocsp":                 false,
	"trust.soft_fail":            true,
	"transport.timeout":          transport.DefaultTimeout,
	"transport.base_delay":       transport.DefaultBaseDelay,
	"transport.max_attempts":     transport.DefaultMaxAttempts,
	"sequence.backend":           BackendMemory,
	"sequence.database_url":      "",
	"sequence.redis_url":         "",
	"events.redis_url":           "",
	"events.redis_channel":       "nfe:events",
	"llm.api_key":                "",
	"llm.base_url":               "",
	"llm.model":                  "",
	"tech_responsible.cnpj":      "",
	"tech_responsible.contact":   "",
	"tech_responsible.email":     "",
	"tech_responsible.phone":     "",
}

// Option adjusts loading
type Option func(*loader)

type loader struct {
	file    string
	dotenv  []string
	flags   *pflag.FlagSet
	flagMap map[string]string
}

// WithFile reads a YAML file. A missing explicit file is an error.
func WithFile(path string) Option {
	return func(l *loader) {
		l.file = path
	}
}

// WithDotEnv loads the given .env files before reading the environment
func WithDotEnv(files ...string) Option {
	return func(l *loader) {
		l.dotenv = files
	}
}

// WithFlags binds command-line flags to config keys, keyed by flag name.
// Only flags the user actually set win over other sources.
func WithFlags(fs *pflag.FlagSet, keys map[string]string) Option {
	return func(l *loader) {
		l.flags = fs
		l.flagMap = keys
	}
}

// Load reads the configuration
func Load(opts ...Option) (Config, error) {
	l := &loader{}
	for _, opt := range opts {
		opt(l)
	}

	if len(l.dotenv) > 0 {
		_ = godotenv.Load(l.dotenv...)
	} else {
		_ = godotenv.Load()
	}

	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if l.file != "" {
		v.SetConfigFile(l.file)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("failed to read config %s: %w", l.file, err)
		}
	}

	if l.flags != nil {
		for name, key := range l.flagMap {
			f := l.flags.Lookup(name)
			if f == nil || !f.Changed {
				continue
			}
			if err := v.BindPFlag(key, f); err != nil {
				return Config{}, fmt.Errorf("failed to bind flag %s: %w", name, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to decode config: %w", err)
	}
	cfg.State = strings.ToUpper(strings.TrimSpace(cfg.State))
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the settings that would otherwise fail late
func (c Config) Validate() error {
	var errs []error
	if _, ok := model.ParseEnvironment(c.Environment); !ok {
		errs = append(errs, fmt.Errorf("environment must be production or homologation, got %q", c.Environment))
	}
	if _, ok := accesskey.StateCode(c.State); !ok {
		errs = append(errs, fmt.Errorf("unknown state %q", c.State))
	}
	if c.Transport.MaxAttempts <= 0 {
		errs = append(errs, fmt.Errorf("transport.max_attempts must be positive"))
	}
	if c.Transport.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("transport.timeout must be positive"))
	}
	switch c.Sequence.Backend {
	case BackendMemory:
	case BackendPostgres:
		if c.Sequence.DatabaseURL == "" {
			errs = append(errs, fmt.Errorf("sequence.database_url is required for the postgres backend"))
		}
	case BackendRedis:
		if c.Sequence.RedisURL == "" {
			errs = append(errs, fmt.Errorf("sequence.redis_url is required for the redis backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown sequence backend %q", c.Sequence.Backend))
	}
	return errors.Join(errs...)
}

// Env returns the parsed environment
func (c Config) Env() model.Environment {
	env, _ := model.ParseEnvironment(c.Environment)
	return env
}

// Tech returns the technical-responsible block, nil when not configured
func (c Config) Tech() *codec.TechResponsible {
	if c.TechResponsible.CNPJ == "" {
		return nil
	}
	t := c.TechResponsible
	return &t
}

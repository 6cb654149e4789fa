// =============================================================================
// 📦 Weather Marketplace configuration loader
// =============================================================================
// Unified configuration loading: YAML file plus environment overrides.
//
// Usage:
//
//	cfg, err := config.NewLoader().
//	    WithRole(config.RoleBudgetAgent).
//	    WithConfigPath("config.yaml").
//	    Load()
//
// Precedence: defaults → role preset → YAML file → environment → credentials
// =============================================================================
package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultEnvPrefix is the prefix of every structured environment override,
// e.g. WEATHER_SERVER_HTTP_PORT.
const DefaultEnvPrefix = "WEATHER"

// =============================================================================
// 🎯 Core configuration structure
// =============================================================================

// Config is the complete configuration of one marketplace process.
type Config struct {
	// Role selects the service this process runs (client, agent:*, directory)
	Role string `yaml:"role" env:"ROLE"`

	Server    ServerConfig    `yaml:"server" env:"SERVER"`
	Identity  IdentityConfig  `yaml:"identity" env:"IDENTITY"`
	Directory DirectoryConfig `yaml:"directory" env:"DIRECTORY"`
	Client    ClientConfig    `yaml:"client" env:"CLIENT"`
	Agent     AgentConfig     `yaml:"agent" env:"AGENT"`
	LLM       LLMConfig       `yaml:"llm" env:"LLM"`
	Mailbox   MailboxConfig   `yaml:"mailbox" env:"MAILBOX"`
	Redis     RedisConfig     `yaml:"redis" env:"REDIS"`
	Database  DatabaseConfig  `yaml:"database" env:"DATABASE"`
	Log       LogConfig       `yaml:"log" env:"LOG"`
	Telemetry TelemetryConfig `yaml:"telemetry" env:"TELEMETRY"`
}

// ServerConfig HTTP listener settings
type ServerConfig struct {
	HTTPPort    int `yaml:"http_port" env:"HTTP_PORT"`
	MetricsPort int `yaml:"metrics_port" env:"METRICS_PORT"`
	// PublicURL is the externally reachable base URL; empty means http://localhost:<http_port>
	PublicURL string `yaml:"public_url" env:"PUBLIC_URL"`
	// WebhookPath is appended to PublicURL when registering with the directory
	WebhookPath     string        `yaml:"webhook_path" env:"WEBHOOK_PATH"`
	ReadTimeout     time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
	// MaxConnections caps concurrent connections; 0 disables the limit
	MaxConnections     int      `yaml:"max_connections" env:"MAX_CONNECTIONS"`
	CORSAllowedOrigins []string `yaml:"cors_allowed_origins" env:"CORS_ALLOWED_ORIGINS"`
	RateLimitRPS       int      `yaml:"rate_limit_rps" env:"RATE_LIMIT_RPS"`
	RateLimitBurst     int      `yaml:"rate_limit_burst" env:"RATE_LIMIT_BURST"`
}

// IdentityConfig signing identity of this process
type IdentityConfig struct {
	Seed string `yaml:"seed" env:"SEED"`
	// SeedEnv names an environment variable the seed is read from when Seed is empty
	SeedEnv string `yaml:"seed_env" env:"SEED_ENV"`
	Index   uint32 `yaml:"index" env:"INDEX"`
}

// DirectoryConfig covers both the directory client and the local directory service.
type DirectoryConfig struct {
	// URL of the directory service
	URL string `yaml:"url" env:"URL"`
	// Token is the bearer token presented to the directory
	Token           string        `yaml:"token" env:"TOKEN"`
	Timeout         time.Duration `yaml:"timeout" env:"TIMEOUT"`
	ResolveCacheTTL time.Duration `yaml:"resolve_cache_ttl" env:"RESOLVE_CACHE_TTL"`
	// CAFile trusts an extra PEM bundle for outbound HTTPS (directory and peers)
	CAFile string `yaml:"ca_file" env:"CA_FILE"`

	// Store backend of the directory service: memory, redis, database
	Store string `yaml:"store" env:"STORE"`
	// TokenSecret signs and verifies HS256 tokens; empty disables token checks
	TokenSecret string        `yaml:"token_secret" env:"TOKEN_SECRET"`
	TokenTTL    time.Duration `yaml:"token_ttl" env:"TOKEN_TTL"`
}

// ClientConfig frontend client service settings
type ClientConfig struct {
	Title       string        `yaml:"title" env:"TITLE"`
	Description string        `yaml:"description" env:"DESCRIPTION"`
	SearchQuery string        `yaml:"search_query" env:"SEARCH_QUERY"`
	NameFilter  string        `yaml:"name_filter" env:"NAME_FILTER"`
	SearchLimit int           `yaml:"search_limit" env:"SEARCH_LIMIT"`
	SendTimeout time.Duration `yaml:"send_timeout" env:"SEND_TIMEOUT"`
}

// AgentConfig weather agent settings
type AgentConfig struct {
	Variant     string  `yaml:"variant" env:"VARIANT"`
	Title       string  `yaml:"title" env:"TITLE"`
	Description string  `yaml:"description" env:"DESCRIPTION"`
	Price       float64 `yaml:"price" env:"PRICE"`
	Currency    string  `yaml:"currency" env:"CURRENCY"`
	// PromptTemplate contains a single %s replaced by the location
	PromptTemplate string   `yaml:"prompt_template" env:"PROMPT_TEMPLATE"`
	UseCases       []string `yaml:"use_cases" env:"USE_CASES"`
	// Async acknowledges webhooks once the work is queued
	Async           bool          `yaml:"async" env:"ASYNC"`
	Workers         int           `yaml:"workers" env:"WORKERS"`
	QueueSize       int           `yaml:"queue_size" env:"QUEUE_SIZE"`
	AnalysisTimeout time.Duration `yaml:"analysis_timeout" env:"ANALYSIS_TIMEOUT"`
	SendTimeout     time.Duration `yaml:"send_timeout" env:"SEND_TIMEOUT"`
}

// LLMConfig language model settings
type LLMConfig struct {
	// Provider: anthropic, openai, mock
	Provider    string        `yaml:"provider" env:"PROVIDER"`
	APIKey      string        `yaml:"api_key" env:"API_KEY"`
	BaseURL     string        `yaml:"base_url" env:"BASE_URL"`
	Model       string        `yaml:"model" env:"MODEL"`
	Temperature float64       `yaml:"temperature" env:"TEMPERATURE"`
	MaxTokens   int           `yaml:"max_tokens" env:"MAX_TOKENS"`
	Timeout     time.Duration `yaml:"timeout" env:"TIMEOUT"`
}

// MailboxConfig response store settings
type MailboxConfig struct {
	// Backend: memory, redis
	Backend string `yaml:"backend" env:"BACKEND"`
	// TTL is how long a request waits for its reply
	TTL time.Duration `yaml:"ttl" env:"TTL"`
	// Retention keeps expired and unclaimed entries around before they are purged
	Retention time.Duration `yaml:"retention" env:"RETENTION"`
	KeyPrefix string        `yaml:"key_prefix" env:"KEY_PREFIX"`
}

// RedisConfig Redis connection
type RedisConfig struct {
	Addr         string `yaml:"addr" env:"ADDR"`
	Password     string `yaml:"password" env:"PASSWORD"`
	DB           int    `yaml:"db" env:"DB"`
	PoolSize     int    `yaml:"pool_size" env:"POOL_SIZE"`
	MinIdleConns int    `yaml:"min_idle_conns" env:"MIN_IDLE_CONNS"`
}

// DatabaseConfig SQL database used by the directory store
type DatabaseConfig struct {
	// Driver: postgres, mysql, sqlite
	Driver          string        `yaml:"driver" env:"DRIVER"`
	Host            string        `yaml:"host" env:"HOST"`
	Port            int           `yaml:"port" env:"PORT"`
	User            string        `yaml:"user" env:"USER"`
	Password        string        `yaml:"password" env:"PASSWORD"`
	Name            string        `yaml:"name" env:"NAME"`
	SSLMode         string        `yaml:"ssl_mode" env:"SSL_MODE"`
	MaxOpenConns    int           `yaml:"max_open_conns" env:"MAX_OPEN_CONNS"`
	MaxIdleConns    int           `yaml:"max_idle_conns" env:"MAX_IDLE_CONNS"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" env:"CONN_MAX_LIFETIME"`
}

// LogConfig logging
type LogConfig struct {
	// Level: debug, info, warn, error
	Level string `yaml:"level" env:"LEVEL"`
	// Format: json, console
	Format           string   `yaml:"format" env:"FORMAT"`
	OutputPaths      []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
	EnableCaller     bool     `yaml:"enable_caller" env:"ENABLE_CALLER"`
	EnableStacktrace bool     `yaml:"enable_stacktrace" env:"ENABLE_STACKTRACE"`
}

// TelemetryConfig OpenTelemetry export
type TelemetryConfig struct {
	Enabled      bool    `yaml:"enabled" env:"ENABLED"`
	OTLPEndpoint string  `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	ServiceName  string  `yaml:"service_name" env:"SERVICE_NAME"`
	SampleRate   float64 `yaml:"sample_rate" env:"SAMPLE_RATE"`
}

// =============================================================================
// 🔧 Loader
// =============================================================================

// Loader builds a Config (builder pattern).
type Loader struct {
	configPath string
	envPrefix  string
	role       string
	getenv     func(string) string
	validators []func(*Config) error
}

// NewLoader creates a loader reading the process environment.
func NewLoader() *Loader {
	return &Loader{
		envPrefix:  DefaultEnvPrefix,
		getenv:     os.Getenv,
		validators: make([]func(*Config) error, 0),
	}
}

// WithConfigPath sets the YAML file path.
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix sets the environment variable prefix.
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// WithRole applies a role preset before the file and environment are read.
func (l *Loader) WithRole(role string) *Loader {
	l.role = role
	return l
}

// WithEnvLookup replaces os.Getenv, mainly for tests.
func (l *Loader) WithEnvLookup(getenv func(string) string) *Loader {
	l.getenv = getenv
	return l
}

// WithValidator adds a validation hook run after loading.
func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

// Load builds the configuration.
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	if l.role != "" {
		if err := ApplyRole(cfg, l.role); err != nil {
			return nil, err
		}
	}

	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	if err := l.loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	resolveCredentials(cfg, l.getenv)

	for _, v := range l.validators {
		if err := v(cfg); err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}
	}

	return cfg, nil
}

// loadFromFile reads YAML over the current values. A missing file keeps them.
func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

func (l *Loader) loadFromEnv(cfg *Config) error {
	return l.setFieldsFromEnv(reflect.ValueOf(cfg).Elem(), l.envPrefix)
}

// setFieldsFromEnv walks struct fields recursively, PREFIX_SECTION_FIELD.
func (l *Loader) setFieldsFromEnv(v reflect.Value, prefix string) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		envTag := fieldType.Tag.Get("env")
		if envTag == "" || envTag == "-" {
			continue
		}

		envKey := prefix + "_" + envTag

		if field.Kind() == reflect.Struct {
			if err := l.setFieldsFromEnv(field, envKey); err != nil {
				return err
			}
			continue
		}

		envValue := l.getenv(envKey)
		if envValue == "" {
			continue
		}

		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("failed to set %s: %w", envKey, err)
		}
	}

	return nil
}

func setFieldValue(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(d))
		} else {
			i, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return err
			}
			field.SetInt(i)
		}

	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u, err := strconv.ParseUint(value, 10, 64)
		if err != nil {
			return err
		}
		field.SetUint(u)

	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(f)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)

	case reflect.Slice:
		// comma separated string slices
		if field.Type().Elem().Kind() == reflect.String {
			parts := strings.Split(value, ",")
			for i := range parts {
				parts[i] = strings.TrimSpace(parts[i])
			}
			field.Set(reflect.ValueOf(parts))
		}
	}

	return nil
}

// Well-known credential variables consulted when the structured keys are unset.
const (
	EnvDirectoryToken = "AGENTVERSE_API_KEY"
	EnvAnthropicKey   = "ANTHROPIC_API_KEY"
	EnvOpenAIKey      = "OPENAI_API_KEY"
)

// resolveCredentials fills secrets from their conventional variables.
func resolveCredentials(cfg *Config, getenv func(string) string) {
	if cfg.Identity.Seed == "" && cfg.Identity.SeedEnv != "" {
		cfg.Identity.Seed = getenv(cfg.Identity.SeedEnv)
	}
	if cfg.Directory.Token == "" {
		cfg.Directory.Token = getenv(EnvDirectoryToken)
	}
	if cfg.LLM.APIKey == "" {
		switch cfg.LLM.Provider {
		case "anthropic":
			cfg.LLM.APIKey = getenv(EnvAnthropicKey)
		case "openai":
			cfg.LLM.APIKey = getenv(EnvOpenAIKey)
		}
	}
}

// =============================================================================
// 🔍 Helpers
// =============================================================================

// MustLoad loads the configuration and panics on failure.
func MustLoad(path string) *Config {
	cfg, err := NewLoader().WithConfigPath(path).Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}

// LoadFromEnv loads defaults plus environment overrides only.
func LoadFromEnv() (*Config, error) {
	return NewLoader().Load()
}

// Validate checks the configuration and reports every problem at once.
func (c *Config) Validate() error {
	var errs []string

	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		errs = append(errs, "invalid HTTP port")
	}
	if c.Server.MetricsPort < 0 || c.Server.MetricsPort > 65535 {
		errs = append(errs, "invalid metrics port")
	}
	if c.Server.MetricsPort != 0 && c.Server.MetricsPort == c.Server.HTTPPort {
		errs = append(errs, "metrics port must differ from HTTP port")
	}

	switch c.Role {
	case RoleClient:
		errs = append(errs, c.validatePeer()...)
		if c.Mailbox.TTL <= 0 {
			errs = append(errs, "mailbox.ttl must be positive")
		}
		switch c.Mailbox.Backend {
		case "memory", "redis":
		default:
			errs = append(errs, fmt.Sprintf("unknown mailbox backend %q", c.Mailbox.Backend))
		}
	case RoleBudgetAgent, RoleLuxuryAgent, RoleAgent:
		errs = append(errs, c.validatePeer()...)
		if c.Agent.Price < 0 {
			errs = append(errs, "agent.price must not be negative")
		}
		if strings.Count(c.Agent.PromptTemplate, "%s") != 1 {
			errs = append(errs, "agent.prompt_template must contain exactly one %s")
		}
		if c.Agent.Async && (c.Agent.Workers <= 0 || c.Agent.QueueSize < 0) {
			errs = append(errs, "agent.workers must be positive in async mode")
		}
		switch c.LLM.Provider {
		case "anthropic", "openai":
			if c.LLM.APIKey == "" {
				errs = append(errs, fmt.Sprintf("llm.api_key is required for provider %q", c.LLM.Provider))
			}
		case "mock":
		default:
			errs = append(errs, fmt.Sprintf("unknown llm provider %q", c.LLM.Provider))
		}
		if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
			errs = append(errs, "temperature must be between 0 and 2")
		}
	case RoleDirectory:
		switch c.Directory.Store {
		case "memory", "redis", "database":
		default:
			errs = append(errs, fmt.Sprintf("unknown directory store %q", c.Directory.Store))
		}
	case "":
	default:
		errs = append(errs, fmt.Sprintf("unknown role %q", c.Role))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

func (c *Config) validatePeer() []string {
	var errs []string
	if c.Identity.Seed == "" {
		hint := "identity.seed"
		if c.Identity.SeedEnv != "" {
			hint += " or $" + c.Identity.SeedEnv
		}
		errs = append(errs, "identity seed is required (set "+hint+")")
	}
	if c.Directory.URL == "" {
		errs = append(errs, "directory.url is required")
	}
	return errs
}

// BaseURL returns the externally reachable base URL of this process.
func (s ServerConfig) BaseURL() string {
	if s.PublicURL != "" {
		return strings.TrimRight(s.PublicURL, "/")
	}
	return fmt.Sprintf("http://localhost:%d", s.HTTPPort)
}

// WebhookURL is the endpoint registered with the directory.
func (s ServerConfig) WebhookURL() string {
	return s.BaseURL() + s.WebhookPath
}

// DSN returns the database connection string.
func (d *DatabaseConfig) DSN() string {
	switch d.Driver {
	case "postgres":
		return fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode,
		)
	case "mysql":
		return fmt.Sprintf(
			"%s:%s@tcp(%s:%d)/%s?parseTime=true",
			d.User, d.Password, d.Host, d.Port, d.Name,
		)
	case "sqlite":
		return d.Name
	default:
		return ""
	}
}

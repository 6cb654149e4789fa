// =============================================================================
// 📦 Weather Marketplace defaults and role presets
// =============================================================================
package config

import (
	"fmt"
	"time"
)

// Roles a process can run as.
const (
	RoleClient      = "client"
	RoleAgent       = "agent"
	RoleBudgetAgent = "agent:budget"
	RoleLuxuryAgent = "agent:luxury"
	RoleDirectory   = "directory"
)

// Prompt templates of the two stock weather agents.
const (
	BudgetPromptTemplate = "What's the weather like in %s? Give a brief, natural response with one recommendation."
	LuxuryPromptTemplate = "What's the weather like in %s? Give a brief, natural response with one recommendation and a date idea in this weather."
)

// DefaultConfig returns the role-independent defaults.
func DefaultConfig() *Config {
	return &Config{
		Server:    DefaultServerConfig(),
		Identity:  DefaultIdentityConfig(),
		Directory: DefaultDirectoryConfig(),
		Client:    DefaultClientConfig(),
		Agent:     DefaultAgentConfig(),
		LLM:       DefaultLLMConfig(),
		Mailbox:   DefaultMailboxConfig(),
		Redis:     DefaultRedisConfig(),
		Database:  DefaultDatabaseConfig(),
		Log:       DefaultLogConfig(),
		Telemetry: DefaultTelemetryConfig(),
	}
}

// DefaultServerConfig returns listener defaults.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPPort:           8080,
		MetricsPort:        9091,
		WebhookPath:        "/webhook",
		ReadTimeout:        30 * time.Second,
		WriteTimeout:       30 * time.Second,
		ShutdownTimeout:    15 * time.Second,
		CORSAllowedOrigins: []string{"http://localhost:3000"},
		RateLimitRPS:       100,
		RateLimitBurst:     200,
	}
}

// DefaultIdentityConfig returns an identity with no seed; one must be supplied.
func DefaultIdentityConfig() IdentityConfig {
	return IdentityConfig{Index: 0}
}

// DefaultDirectoryConfig points at a local directory service.
func DefaultDirectoryConfig() DirectoryConfig {
	return DirectoryConfig{
		URL:             "http://localhost:8000",
		Timeout:         10 * time.Second,
		ResolveCacheTTL: 5 * time.Minute,
		Store:           "memory",
		TokenTTL:        24 * time.Hour,
	}
}

// DefaultClientConfig returns the frontend client defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		Title:       "Weather Frontend Client",
		Description: "Frontend client that requests weather information",
		SearchQuery: "weather forecast analysis recommendations",
		NameFilter:  "weather",
		SearchLimit: 30,
		SendTimeout: 10 * time.Second,
	}
}

// DefaultAgentConfig returns the budget agent as the generic agent baseline.
func DefaultAgentConfig() AgentConfig {
	return AgentConfig{
		Variant:         "budget",
		Title:           "Budget Weather Assistant",
		Description:     "AI weather assistant providing detailed weather analysis and recommendations",
		Price:           0.99,
		Currency:        "USD",
		PromptTemplate:  BudgetPromptTemplate,
		UseCases:        []string{"Get current weather conditions and recommendations"},
		Async:           true,
		Workers:         4,
		QueueSize:       64,
		AnalysisTimeout: 60 * time.Second,
		SendTimeout:     10 * time.Second,
	}
}

// DefaultLLMConfig returns Anthropic with the model and temperature the stock agents use.
func DefaultLLMConfig() LLMConfig {
	return LLMConfig{
		Provider:    "anthropic",
		Model:       "claude-3-sonnet-20240229",
		Temperature: 0.7,
		MaxTokens:   1024,
		Timeout:     60 * time.Second,
	}
}

// DefaultMailboxConfig returns an in-process mailbox.
func DefaultMailboxConfig() MailboxConfig {
	return MailboxConfig{
		Backend:   "memory",
		TTL:       30 * time.Second,
		Retention: 5 * time.Minute,
		KeyPrefix: "weather:mailbox:",
	}
}

// DefaultRedisConfig returns local Redis defaults.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:         "localhost:6379",
		Password:     "",
		DB:           0,
		PoolSize:     10,
		MinIdleConns: 2,
	}
}

// DefaultDatabaseConfig returns an on-disk SQLite database.
func DefaultDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		Driver:          "sqlite",
		Host:            "localhost",
		Port:            5432,
		User:            "weather",
		Password:        "",
		Name:            "directory.db",
		SSLMode:         "disable",
		MaxOpenConns:    10,
		MaxIdleConns:    2,
		ConnMaxLifetime: 5 * time.Minute,
	}
}

// DefaultLogConfig returns logging defaults.
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:            "info",
		Format:           "json",
		OutputPaths:      []string{"stdout"},
		EnableCaller:     true,
		EnableStacktrace: false,
	}
}

// DefaultTelemetryConfig returns disabled telemetry.
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:      false,
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "weather-marketplace",
		SampleRate:   0.1,
	}
}

// ApplyRole overwrites the role-dependent fields with the preset of role.
func ApplyRole(cfg *Config, role string) error {
	switch role {
	case RoleClient:
		cfg.Server.HTTPPort = 5001
		cfg.Server.MetricsPort = 9101
		cfg.Server.WebhookPath = "/api/webhook"
		cfg.Identity.SeedEnv = "CLIENT_KEY3"
		cfg.Telemetry.ServiceName = "weather-client"
	case RoleAgent, RoleBudgetAgent:
		cfg.Server.HTTPPort = 5009
		cfg.Server.MetricsPort = 9109
		cfg.Server.WebhookPath = "/webhook"
		cfg.Identity.SeedEnv = "WEATHER_KEY1"
		cfg.Agent = DefaultAgentConfig()
		cfg.Telemetry.ServiceName = "weather-agent-budget"
	case RoleLuxuryAgent:
		cfg.Server.HTTPPort = 5006
		cfg.Server.MetricsPort = 9106
		cfg.Server.WebhookPath = "/webhook"
		cfg.Identity.SeedEnv = "WEATHER_KEY3"
		cfg.Agent = DefaultAgentConfig()
		cfg.Agent.Variant = "luxury"
		cfg.Agent.Title = "Luxury Weather Assistant"
		cfg.Agent.Price = 2.99
		cfg.Agent.PromptTemplate = LuxuryPromptTemplate
		cfg.Telemetry.ServiceName = "weather-agent-luxury"
	case RoleDirectory:
		cfg.Server.HTTPPort = 8000
		cfg.Server.MetricsPort = 9100
		cfg.Server.WebhookPath = ""
		cfg.Telemetry.ServiceName = "weather-directory"
	default:
		return fmt.Errorf("unknown role %q", role)
	}
	cfg.Role = role
	return nil
}

// AgentRole maps an agent variant name to its role.
func AgentRole(variant string) (string, error) {
	switch variant {
	case "", "budget":
		return RoleBudgetAgent, nil
	case "luxury":
		return RoleLuxuryAgent, nil
	case "custom":
		return RoleAgent, nil
	default:
		return "", fmt.Errorf("unknown agent variant %q (want budget, luxury or custom)", variant)
	}
}

// Configuration loader tests.
package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envMap(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

// --- Loader ---

func TestLoader_LoadDefaults(t *testing.T) {
	cfg, err := NewLoader().WithEnvLookup(envMap(nil)).Load()
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, 8080, cfg.Server.HTTPPort)
	assert.Equal(t, "", cfg.Role)
	assert.Equal(t, "anthropic", cfg.LLM.Provider)
}

func TestLoader_RolePreset(t *testing.T) {
	cfg, err := NewLoader().
		WithRole(RoleLuxuryAgent).
		WithEnvLookup(envMap(map[string]string{"WEATHER_KEY3": "luxury-seed"})).
		Load()
	require.NoError(t, err)

	assert.Equal(t, RoleLuxuryAgent, cfg.Role)
	assert.Equal(t, 5006, cfg.Server.HTTPPort)
	assert.Equal(t, "Luxury Weather Assistant", cfg.Agent.Title)
	assert.InDelta(t, 2.99, cfg.Agent.Price, 1e-9)
	assert.Equal(t, "luxury-seed", cfg.Identity.Seed)
	assert.Equal(t, "http://localhost:5006/webhook", cfg.Server.WebhookURL())
}

func TestLoader_UnknownRole(t *testing.T) {
	_, err := NewLoader().WithRole("oracle").Load()
	assert.Error(t, err)
}

func TestLoader_LoadFromYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	yamlContent := `
server:
  http_port: 8888
  read_timeout: 60s
  public_url: "https://client.example.com/"

client:
  search_query: "weather"
  name_filter: ""

mailbox:
  backend: redis
  ttl: 45s

redis:
  addr: "redis.example.com:6379"
  password: "secret"
  db: 1

log:
  level: "debug"
  format: "console"
`
	err := os.WriteFile(configPath, []byte(yamlContent), 0644)
	require.NoError(t, err)

	cfg, err := NewLoader().
		WithRole(RoleClient).
		WithConfigPath(configPath).
		WithEnvLookup(envMap(nil)).
		Load()
	require.NoError(t, err)

	assert.Equal(t, 8888, cfg.Server.HTTPPort)
	assert.Equal(t, 60*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, "https://client.example.com/api/webhook", cfg.Server.WebhookURL())

	assert.Equal(t, "weather", cfg.Client.SearchQuery)
	assert.Equal(t, "", cfg.Client.NameFilter)
	assert.Equal(t, "redis", cfg.Mailbox.Backend)
	assert.Equal(t, 45*time.Second, cfg.Mailbox.TTL)

	assert.Equal(t, "redis.example.com:6379", cfg.Redis.Addr)
	assert.Equal(t, "secret", cfg.Redis.Password)
	assert.Equal(t, 1, cfg.Redis.DB)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
}

func TestLoader_EnvOverridesYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	yamlContent := `
server:
  http_port: 8888
agent:
  title: "yaml-agent"
  price: 1.5
`
	require.NoError(t, os.WriteFile(configPath, []byte(yamlContent), 0644))

	env := map[string]string{
		"WEATHER_SERVER_HTTP_PORT":            "9999",
		"WEATHER_AGENT_TITLE":                 "env-agent",
		"WEATHER_SERVER_CORS_ALLOWED_ORIGINS": "http://a.test, http://b.test",
		"WEATHER_AGENT_ANALYSIS_TIMEOUT":      "5s",
		"WEATHER_IDENTITY_INDEX":              "3",
	}

	cfg, err := NewLoader().
		WithRole(RoleBudgetAgent).
		WithConfigPath(configPath).
		WithEnvLookup(envMap(env)).
		Load()
	require.NoError(t, err)

	assert.Equal(t, 9999, cfg.Server.HTTPPort)
	assert.Equal(t, "env-agent", cfg.Agent.Title)
	assert.InDelta(t, 1.5, cfg.Agent.Price, 1e-9)
	assert.Equal(t, []string{"http://a.test", "http://b.test"}, cfg.Server.CORSAllowedOrigins)
	assert.Equal(t, 5*time.Second, cfg.Agent.AnalysisTimeout)
	assert.Equal(t, uint32(3), cfg.Identity.Index)
}

func TestLoader_ProcessEnvironment(t *testing.T) {
	t.Setenv("WEATHER_LOG_LEVEL", "warn")

	cfg, err := NewLoader().Load()
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoader_CustomEnvPrefix(t *testing.T) {
	cfg, err := NewLoader().
		WithEnvPrefix("MYAPP").
		WithEnvLookup(envMap(map[string]string{"MYAPP_SERVER_HTTP_PORT": "6666"})).
		Load()
	require.NoError(t, err)
	assert.Equal(t, 6666, cfg.Server.HTTPPort)
}

func TestLoader_InvalidEnvValue(t *testing.T) {
	_, err := NewLoader().
		WithEnvLookup(envMap(map[string]string{"WEATHER_SERVER_HTTP_PORT": "eighty"})).
		Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "WEATHER_SERVER_HTTP_PORT")
}

func TestLoader_Credentials(t *testing.T) {
	tests := []struct {
		name      string
		role      string
		env       map[string]string
		wantSeed  string
		wantToken string
		wantKey   string
	}{
		{
			name:      "client legacy names",
			role:      RoleClient,
			env:       map[string]string{"CLIENT_KEY3": "client-seed", "AGENTVERSE_API_KEY": "tok"},
			wantSeed:  "client-seed",
			wantToken: "tok",
		},
		{
			name:     "budget agent reads anthropic key",
			role:     RoleBudgetAgent,
			env:      map[string]string{"WEATHER_KEY1": "budget-seed", "ANTHROPIC_API_KEY": "sk-ant"},
			wantSeed: "budget-seed",
			wantKey:  "sk-ant",
		},
		{
			name: "structured keys win over conventional ones",
			role: RoleBudgetAgent,
			env: map[string]string{
				"WEATHER_KEY1":             "legacy",
				"WEATHER_IDENTITY_SEED":    "structured",
				"AGENTVERSE_API_KEY":       "legacy-token",
				"WEATHER_DIRECTORY_TOKEN":  "structured-token",
				"WEATHER_LLM_PROVIDER":     "openai",
				"OPENAI_API_KEY":           "sk-openai",
				"WEATHER_LLM_API_KEY":      "",
				"WEATHER_IDENTITY_SEED_ENV": "",
			},
			wantSeed:  "structured",
			wantToken: "structured-token",
			wantKey:   "sk-openai",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := NewLoader().WithRole(tt.role).WithEnvLookup(envMap(tt.env)).Load()
			require.NoError(t, err)
			assert.Equal(t, tt.wantSeed, cfg.Identity.Seed)
			assert.Equal(t, tt.wantToken, cfg.Directory.Token)
			assert.Equal(t, tt.wantKey, cfg.LLM.APIKey)
		})
	}
}

func TestLoader_WithValidator(t *testing.T) {
	validator := func(cfg *Config) error {
		if cfg.Server.HTTPPort < 1024 {
			return assert.AnError
		}
		return nil
	}

	_, err := NewLoader().
		WithEnvLookup(envMap(map[string]string{"WEATHER_SERVER_HTTP_PORT": "80"})).
		WithValidator(validator).
		Load()
	assert.Error(t, err)
}

func TestLoader_NonExistentFile(t *testing.T) {
	cfg, err := NewLoader().
		WithConfigPath("/non/existent/path/config.yaml").
		WithEnvLookup(envMap(nil)).
		Load()
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.HTTPPort)
}

func TestLoader_InvalidYAML(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "invalid.yaml")

	invalidYAML := `
server:
  http_port: [invalid
  this is not valid yaml
`
	require.NoError(t, os.WriteFile(configPath, []byte(invalidYAML), 0644))

	_, err := NewLoader().WithConfigPath(configPath).Load()
	assert.Error(t, err)
}

// --- Config methods ---

func validAgentConfig(t *testing.T) *Config {
	t.Helper()
	cfg := DefaultConfig()
	require.NoError(t, ApplyRole(cfg, RoleBudgetAgent))
	cfg.Identity.Seed = "seed"
	cfg.LLM.APIKey = "key"
	return cfg
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr string
	}{
		{name: "valid agent config", modify: func(c *Config) {}},
		{name: "missing seed", modify: func(c *Config) { c.Identity.Seed = "" }, wantErr: "$WEATHER_KEY1"},
		{name: "bad port", modify: func(c *Config) { c.Server.HTTPPort = 70000 }, wantErr: "invalid HTTP port"},
		{name: "same metrics port", modify: func(c *Config) { c.Server.MetricsPort = c.Server.HTTPPort }, wantErr: "metrics port"},
		{name: "negative price", modify: func(c *Config) { c.Agent.Price = -1 }, wantErr: "agent.price"},
		{name: "template without placeholder", modify: func(c *Config) { c.Agent.PromptTemplate = "weather?" }, wantErr: "prompt_template"},
		{name: "missing api key", modify: func(c *Config) { c.LLM.APIKey = "" }, wantErr: "llm.api_key"},
		{name: "mock provider needs no key", modify: func(c *Config) { c.LLM.Provider = "mock"; c.LLM.APIKey = "" }},
		{name: "unknown provider", modify: func(c *Config) { c.LLM.Provider = "gemini" }, wantErr: "unknown llm provider"},
		{name: "bad temperature", modify: func(c *Config) { c.LLM.Temperature = 3 }, wantErr: "temperature"},
		{name: "unknown role", modify: func(c *Config) { c.Role = "oracle" }, wantErr: "unknown role"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validAgentConfig(t)
			tt.modify(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestConfig_ValidateClientAndDirectory(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, ApplyRole(cfg, RoleClient))
	cfg.Identity.Seed = "seed"
	assert.NoError(t, cfg.Validate())

	cfg.Mailbox.Backend = "etcd"
	assert.ErrorContains(t, cfg.Validate(), "mailbox backend")

	dir := DefaultConfig()
	require.NoError(t, ApplyRole(dir, RoleDirectory))
	assert.NoError(t, dir.Validate())
	dir.Directory.Store = "mongo"
	assert.ErrorContains(t, dir.Validate(), "directory store")
}

func TestDatabaseConfig_DSN(t *testing.T) {
	tests := []struct {
		driver string
		want   string
	}{
		{"postgres", "host=db port=5432 user=u password=p dbname=n sslmode=disable"},
		{"mysql", "u:p@tcp(db:5432)/n?parseTime=true"},
		{"sqlite", "n"},
		{"oracle", ""},
	}
	for _, tt := range tests {
		t.Run(tt.driver, func(t *testing.T) {
			d := DatabaseConfig{Driver: tt.driver, Host: "db", Port: 5432, User: "u", Password: "p", Name: "n", SSLMode: "disable"}
			assert.Equal(t, tt.want, d.DSN())
		})
	}
}

// =============================================================================
// Weather Marketplace entry point
// =============================================================================
// One binary runs every process of the marketplace.
//
// Usage:
//
//	weather client                        # frontend client service (:5001)
//	weather agent --variant budget        # budget weather agent (:5009)
//	weather agent --variant luxury        # luxury weather agent (:5006)
//	weather directory                     # local agent directory (:8000)
//	weather token --subject ops           # mint a directory bearer token
//	weather health --addr http://localhost:5001
//	weather version
// =============================================================================

package main

import (
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/rajashekarcs2023/weather-marketplace/config"
	"github.com/rajashekarcs2023/weather-marketplace/directory"
)

// Set at build time with -ldflags.
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "client":
		runServe(config.RoleClient, os.Args[2:])
	case "agent":
		runAgent(os.Args[2:])
	case "directory":
		runServe(config.RoleDirectory, os.Args[2:])
	case "token":
		runToken(os.Args[2:])
	case "version":
		printVersion()
	case "health":
		runHealthCheck(os.Args[2:])
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func runAgent(args []string) {
	fs := flag.NewFlagSet("agent", flag.ExitOnError)
	variant := fs.String("variant", "budget", "Agent variant: budget, luxury or custom")
	configPath := fs.String("config", "", "Path to config file")
	fs.Parse(args)

	role, err := config.AgentRole(*variant)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	serve(role, *configPath)
}

func runServe(role string, args []string) {
	fs := flag.NewFlagSet(role, flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	fs.Parse(args)
	serve(role, *configPath)
}

func serve(role, configPath string) {
	cfg := loadConfig(role, configPath)

	logger := initLogger(cfg.Log)
	defer logger.Sync()

	logger.Info("Starting weather marketplace",
		zap.String("role", cfg.Role),
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("git_commit", GitCommit),
	)

	server := NewServer(cfg, logger)
	if err := server.Start(); err != nil {
		logger.Fatal("Failed to start server", zap.Error(err))
	}

	server.WaitForShutdown()

	logger.Info("Weather marketplace stopped", zap.String("role", cfg.Role))
}

func loadConfig(role, configPath string) *config.Config {
	loader := config.NewLoader().WithRole(role)
	if configPath != "" {
		loader = loader.WithConfigPath(configPath)
	}

	cfg, err := loader.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid config: %v\n", err)
		os.Exit(1)
	}
	return cfg
}

// runToken prints a bearer token for the directory's mutating routes, signed
// with directory.token_secret.
func runToken(args []string) {
	fs := flag.NewFlagSet("token", flag.ExitOnError)
	subject := fs.String("subject", "", "Token subject, e.g. the operator or agent name")
	ttl := fs.Duration("ttl", 0, "Token lifetime; defaults to directory.token_ttl")
	configPath := fs.String("config", "", "Path to config file")
	fs.Parse(args)

	if *subject == "" {
		fmt.Fprintln(os.Stderr, "--subject is required")
		os.Exit(1)
	}

	cfg := loadConfig(config.RoleDirectory, *configPath)
	lifetime := cfg.Directory.TokenTTL
	if *ttl > 0 {
		lifetime = *ttl
	}

	issuer := directory.NewTokenIssuer(cfg.Directory.TokenSecret, lifetime)
	if !issuer.Enabled() {
		fmt.Fprintln(os.Stderr, "directory.token_secret is not set")
		os.Exit(1)
	}
	token, err := issuer.Issue(*subject)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to issue token: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(token)
}

func runHealthCheck(args []string) {
	fs := flag.NewFlagSet("health", flag.ExitOnError)
	addr := fs.String("addr", "http://localhost:5001", "Server address")
	fs.Parse(args)

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(*addr + "/health")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Health check failed: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(os.Stderr, "Health check failed: status %d\n", resp.StatusCode)
		os.Exit(1)
	}

	fmt.Println("OK")
}

func printVersion() {
	fmt.Printf("weather %s\n", Version)
	fmt.Printf("  Build Time: %s\n", BuildTime)
	fmt.Printf("  Git Commit: %s\n", GitCommit)
}

func printUsage() {
	fmt.Println(`weather - weather agent marketplace

Usage:
  weather <command> [options]

Commands:
  client      Start the frontend client service
  agent       Start a weather agent service
  directory   Start the local agent directory
  token       Issue a directory bearer token
  health      Check server health
  version     Show version information
  help        Show this help message

Options for 'client', 'agent' and 'directory':
  --config <path>    Path to configuration file (YAML)

Options for 'agent':
  --variant <name>   budget (default), luxury or custom

Options for 'token':
  --subject <name>   Token subject (required)
  --ttl <duration>   Token lifetime

Examples:
  weather directory
  weather agent --variant luxury --config /etc/weather/luxury.yaml
  weather client
  weather token --subject ops --ttl 24h
  weather health --addr http://localhost:5009
  weather version`)
}

func initLogger(cfg config.LogConfig) *zap.Logger {
	var level zapcore.Level
	switch cfg.Level {
	case "debug":
		level = zapcore.DebugLevel
	case "info":
		level = zapcore.InfoLevel
	case "warn":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	default:
		level = zapcore.InfoLevel
	}

	var encoderConfig zapcore.EncoderConfig
	if cfg.Format == "console" {
		encoderConfig = zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		encoderConfig = zap.NewProductionEncoderConfig()
		encoderConfig.TimeKey = "timestamp"
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	outputs := cfg.OutputPaths
	if len(outputs) == 0 {
		outputs = []string{"stdout"}
	}

	zapConfig := zap.Config{
		Level:             zap.NewAtomicLevelAt(level),
		Development:       cfg.Format == "console",
		Encoding:          "json",
		EncoderConfig:     encoderConfig,
		OutputPaths:       outputs,
		ErrorOutputPaths:  []string{"stderr"},
		DisableCaller:     !cfg.EnableCaller,
		DisableStacktrace: !cfg.EnableStacktrace,
	}
	if cfg.Format == "console" {
		zapConfig.Encoding = "console"
	}

	var opts []zap.Option
	if cfg.EnableStacktrace {
		opts = append(opts, zap.AddStacktrace(zapcore.ErrorLevel))
	}
	logger, err := zapConfig.Build(opts...)
	if err != nil {
		logger, _ = zap.NewProduction()
	}

	return logger
}

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/FreePeak/database-mcp-server/internal/config"
	delivery "github.com/FreePeak/database-mcp-server/internal/delivery/mcp"
	"github.com/FreePeak/database-mcp-server/internal/logger"
	"github.com/FreePeak/database-mcp-server/internal/server"
	"github.com/FreePeak/database-mcp-server/internal/usecase"
	"github.com/FreePeak/database-mcp-server/pkg/db"
	"github.com/FreePeak/database-mcp-server/pkg/dbtools"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

// errReported means the failure was already logged
var errReported = errors.New("reported")

type options struct {
	transport      string
	host           string
	port           int
	configPath     string
	toolset        string
	logLevel       string
	validateConfig bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		if !errors.Is(err, errReported) {
			logger.Error("%v", err)
		}
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{
		Use:           "database-mcp-server",
		Short:         "MCP server exposing configured databases as tools",
		Version:       version,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd, opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&opts.transport, "transport", "t", "", "transport: stdio, http or sse (env TRANSPORT_MODE)")
	flags.StringVar(&opts.host, "host", "", "listen host for http and sse (env SERVER_HOST)")
	flags.IntVarP(&opts.port, "port", "p", 0, "listen port for http and sse (env SERVER_PORT)")
	flags.StringVarP(&opts.configPath, "config", "c", "", "tools configuration file (env TOOLS_CONFIG)")
	flags.StringVar(&opts.toolset, "toolset", "", "only register the tools of this toolset (env TOOLSET)")
	flags.StringVar(&opts.logLevel, "log-level", "", "debug, info, warn or error (env LOG_LEVEL)")
	flags.BoolVar(&opts.validateConfig, "validate-config", false, "validate the tools configuration and exit")
	return cmd
}

// loadConfig reads the environment and applies the flags that were set
// explicitly on top of it.
func loadConfig(cmd *cobra.Command, opts *options) (*config.Config, error) {
	if err := config.LoadEnvFile(); err != nil {
		return nil, err
	}
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	if flags.Changed("transport") {
		cfg.TransportMode = opts.transport
	}
	if flags.Changed("host") {
		cfg.ServerHost = opts.host
	}
	if flags.Changed("port") {
		cfg.ServerPort = opts.port
	}
	if flags.Changed("config") {
		cfg.ToolsFile = opts.configPath
	}
	if flags.Changed("toolset") {
		cfg.Toolset = opts.toolset
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = opts.logLevel
	}

	switch strings.ToLower(cfg.TransportMode) {
	case "stdio", "http", "sse":
	default:
		return nil, fmt.Errorf("unsupported transport %q (expected stdio, http or sse)", cfg.TransportMode)
	}
	return cfg, nil
}

// configureMetrics applies the query metrics settings to the shared analyzer
func configureMetrics(cfg *config.Config) {
	analyzer := dbtools.GetPerformanceAnalyzer()
	analyzer.SetSlowThreshold(cfg.SlowQueryThreshold)
	if cfg.QueryMetrics {
		analyzer.Enable()
		return
	}
	analyzer.Disable()
	logger.Info("Query metrics disabled")
}

func run(cmd *cobra.Command, opts *options) error {
	cfg, err := loadConfig(cmd, opts)
	if err != nil {
		return err
	}
	if err := logger.InitializeWithFile(cfg.LogLevel, cfg.LogFile); err != nil {
		return err
	}
	defer func() { _ = logger.Close() }()

	tools, err := config.LoadTools(cfg.ToolsFile)
	if err != nil {
		return err
	}

	if opts.validateConfig {
		return validate(tools)
	}
	return serve(cfg, tools)
}

func validate(tools *config.ToolsConfig) error {
	result := tools.Validate()
	for _, warning := range result.Warnings {
		logger.Warn("%s", warning)
	}
	if !result.Valid {
		for _, msg := range result.Errors {
			logger.Error("%s", msg)
		}
		return errReported
	}

	summary := tools.Summary()
	logger.Info("Configuration validation passed")
	logger.Info("Sources (%d): %v", summary["sources_count"], summary["sources"])
	logger.Info("Tools (%d): %v", summary["tools_count"], summary["tools"])
	logger.Info("Toolsets: %v", summary["toolsets"])
	return nil
}

func serve(cfg *config.Config, tools *config.ToolsConfig) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("Starting %s %s with %s transport", delivery.ServerName, version, cfg.TransportMode)

	configureMetrics(cfg)

	manager := db.NewDBManager()
	manager.StartCleanup(ctx, cfg.CleanupInterval, cfg.ConnectionMaxIdle)

	useCase := usecase.NewDatabaseUseCase(tools, manager, usecase.WithQueryTimeout(cfg.QueryTimeout))
	defer func() {
		if err := useCase.CloseAll(); err != nil {
			logger.Error("Failed to close connections: %v", err)
		}
	}()

	mcpServer := delivery.NewServer(version)
	registry := delivery.NewToolRegistry(mcpServer)
	if err := registry.RegisterAllTools(useCase, tools, cfg.Toolset); err != nil {
		return fmt.Errorf("failed to register tools: %w", err)
	}
	logger.Info("Registered %d tools", len(registry.ToolNames()))

	transport, err := server.NewTransport(cfg, mcpServer)
	if err != nil {
		return err
	}

	if err := server.Run(ctx, transport); err != nil {
		return err
	}
	logger.Info("Server stopped")
	return nil
}

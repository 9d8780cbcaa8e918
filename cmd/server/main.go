// Package main provides the entry point for the SpendLens assistant
// server.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/spendlens/spendlens/cmd/server/config"
	"github.com/spendlens/spendlens/cmd/server/middleware"
	"github.com/spendlens/spendlens/pkg/assistant"
	"github.com/spendlens/spendlens/pkg/gateway"
	"github.com/spendlens/spendlens/pkg/generator"
	"github.com/spendlens/spendlens/pkg/handlers"
	"github.com/spendlens/spendlens/pkg/infrastructure/metrics"
	"github.com/spendlens/spendlens/pkg/infrastructure/pool"
	"github.com/spendlens/spendlens/pkg/models"
	"github.com/spendlens/spendlens/pkg/retrieval"
)

var (
	// Version information (set by build flags)
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "spendlens",
	Short: "SpendLens assistant server",
	Long: `A personal-finance assistant server backed by DuckDB.

SpendLens answers natural-language spending questions by generating
SQL, validating it, isolating it to the requesting tenant, and
executing it under a time budget.`,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the SpendLens assistant server",
	Long: `Start the SpendLens assistant server with the specified configuration.

Example:
  spendlens serve --config ./config.yaml
  spendlens serve --address 0.0.0.0:8080 --database ./spend.db`,
	RunE: runServer,
}

func init() {
	// Add serve command
	rootCmd.AddCommand(serveCmd)

	// Command flags
	serveCmd.Flags().StringP("config", "c", "", "config file path")
	serveCmd.Flags().String("address", "0.0.0.0:8080", "server listen address")
	serveCmd.Flags().String("database", "", "DuckDB database path (empty for in-memory)")
	serveCmd.Flags().Bool("database-read-only", false, "open the database read-only")
	serveCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")
	serveCmd.Flags().String("tenant-column", "user_id", "tenant column name")
	serveCmd.Flags().Duration("query-timeout", 30*time.Second, "per-query execution timeout")
	serveCmd.Flags().Int64("max-rows", 10000, "maximum rows returned per query")
	serveCmd.Flags().String("llm-provider", "", "LLM provider (gemini, openai); empty disables /v1/ask")
	serveCmd.Flags().String("llm-model", "", "LLM model name")
	serveCmd.Flags().String("llm-api-key", "", "LLM API key")
	serveCmd.Flags().String("llm-endpoint", "", "LLM endpoint override")
	serveCmd.Flags().Int("llm-rpm", 60, "LLM requests per minute")
	serveCmd.Flags().String("context-dir", "", "directory seeding the retrieval index")
	serveCmd.Flags().Bool("auth", false, "enable authentication")
	serveCmd.Flags().String("auth-type", "jwt", "auth type (bearer, jwt)")
	serveCmd.Flags().String("jwt-secret", "", "JWT signing secret")
	serveCmd.Flags().Bool("metrics", true, "enable Prometheus metrics")
	serveCmd.Flags().Duration("shutdown-timeout", 30*time.Second, "graceful shutdown timeout")

	// Bind flags to viper
	if err := viper.BindPFlags(serveCmd.Flags()); err != nil {
		panic(fmt.Errorf("failed to bind flags: %w", err))
	}
	viper.SetEnvPrefix("SPENDLENS")
	viper.AutomaticEnv()

	// Add version command
	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("SpendLens assistant server\n")
			fmt.Printf("Version:    %s\n", version)
			fmt.Printf("Commit:     %s\n", commit)
			fmt.Printf("Build Date: %s\n", buildDate)
		},
	})
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServer(cmd *cobra.Command, args []string) error {
	// Load configuration
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	// Setup logging
	logger := setupLogging(cfg.LogLevel)
	logger.Info().
		Str("version", version).
		Str("commit", commit).
		Str("build_date", buildDate).
		Msg("Starting SpendLens assistant server")

	// Create metrics collector
	var metricsCollector metrics.Collector = metrics.NewNoOpCollector()
	var metricsHandler http.Handler
	if cfg.Metrics.Enabled {
		prom := metrics.NewPrometheusCollector()
		metricsCollector = prom
		metricsHandler = prom.Handler()
	}

	// Connection pool over the expense database
	connPool, err := pool.New(pool.Config{
		Path:               cfg.Database.Path,
		ReadOnly:           cfg.Database.ReadOnly,
		MaxOpenConnections: cfg.Database.MaxOpenConnections,
		MaxIdleConnections: cfg.Database.MaxIdleConnections,
		ConnMaxLifetime:    cfg.Database.ConnMaxLifetime,
		ConnMaxIdleTime:    cfg.Database.ConnMaxIdleTime,
		HealthCheckPeriod:  cfg.Database.HealthCheckPeriod,
		ConnectionTimeout:  cfg.Database.ConnectionTimeout,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to create connection pool: %w", err)
	}
	defer func() {
		if err := connPool.Close(); err != nil {
			logger.Error().Err(err).Msg("Error closing connection pool")
		}
	}()

	// Retrieval index seeded from the context directory
	index := retrieval.NewMemoryIndex()
	retrievalCfg := retrieval.Config{
		MaxExamples: cfg.Retrieval.MaxExamples,
		MaxDDL:      cfg.Retrieval.MaxDDL,
		MaxDocs:     cfg.Retrieval.MaxDocs,
	}
	if cfg.Retrieval.ContextDir != "" {
		if err := retrieval.LoadDir(index, cfg.Retrieval.ContextDir, retrievalCfg); err != nil {
			return fmt.Errorf("failed to seed retrieval index: %w", err)
		}
		logger.Info().Str("dir", cfg.Retrieval.ContextDir).Msg("Retrieval index seeded")
	}
	retriever := retrieval.NewRetriever(index, retrievalCfg, logger)

	// LLM generator; without a provider the ask route degrades to a
	// typed GENERATION_FAILED error while direct SQL keeps working.
	gen, err := generator.New(generator.Config{
		Provider:          cfg.LLM.Provider,
		Model:             cfg.LLM.Model,
		APIKey:            cfg.LLM.APIKey,
		Endpoint:          cfg.LLM.Endpoint,
		RequestTimeout:    cfg.LLM.RequestTimeout,
		RequestsPerMinute: cfg.LLM.RequestsPerMinute,
	}, logger)
	if err != nil {
		logger.Warn().Err(err).Msg("LLM generator unavailable; /v1/ask will reject questions")
		gen = unavailableGenerator{err: err}
	}

	// Execution gateway and pipeline
	gw := gateway.New(connPool, logger, metricsCollector, gateway.Config{
		DefaultTimeout: cfg.Query.Timeout,
		MaxRows:        cfg.Query.MaxRows,
	})
	service := assistant.NewService(retriever, gen, gw, assistant.Config{
		TenantColumn: cfg.Query.TenantColumn,
		QueryTimeout: cfg.Query.Timeout,
	}, logger, metricsCollector)

	// HTTP surface
	authMW := middleware.NewAuthMiddleware(cfg.Auth, logger.With().Str("component", "auth_middleware").Logger())
	logMW := middleware.NewLoggingMiddleware(logger.With().Str("component", "logging_middleware").Logger())
	metricsMW := middleware.NewMetricsMiddleware(metricsCollector)
	recoverMW := middleware.NewRecoveryMiddleware(logger.With().Str("component", "recovery_middleware").Logger())

	api := handlers.NewAPI(service, connPool, logger)
	router := api.Router(handlers.RouterOptions{
		Auth:           authMW.Handler,
		Logging:        logMW.Handler,
		Recovery:       recoverMW.Handler,
		Metrics:        metricsMW.Handler,
		MetricsHandler: metricsHandler,
	})

	httpServer := &http.Server{
		Addr:              cfg.Address,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Setup graceful shutdown
	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, os.Interrupt, syscall.SIGTERM)

	// Start server
	serverErrCh := make(chan error, 1)
	go func() {
		logger.Info().
			Str("address", cfg.Address).
			Bool("auth", cfg.Auth.Enabled).
			Str("llm_provider", cfg.LLM.Provider).
			Msg("Server listening")

		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrCh <- fmt.Errorf("server error: %w", err)
		}
	}()

	// Wait for shutdown signal or server error
	select {
	case <-shutdownCh:
		logger.Info().Msg("Received shutdown signal")
	case err := <-serverErrCh:
		return err
	}

	// Graceful shutdown
	logger.Info().Dur("timeout", cfg.ShutdownTimeout).Msg("Starting graceful shutdown")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Error during server shutdown")
	}

	logger.Info().Msg("Server shutdown complete")
	return nil
}

// unavailableGenerator surfaces the construction error on every call.
type unavailableGenerator struct{ err error }

func (u unavailableGenerator) Generate(ctx context.Context, question string, rctx models.RetrievalContext) (string, error) {
	return "", u.err
}

func loadConfig() (*config.Config, error) {
	// Load config file if specified
	if configFile := viper.GetString("config"); configFile != "" {
		viper.SetConfigFile(configFile)
		if err := viper.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Build configuration
	cfg := config.DefaultConfig()
	cfg.Address = viper.GetString("address")
	cfg.LogLevel = viper.GetString("log-level")
	cfg.ShutdownTimeout = viper.GetDuration("shutdown-timeout")
	cfg.Database.Path = viper.GetString("database")
	cfg.Database.ReadOnly = viper.GetBool("database-read-only")
	cfg.Query.TenantColumn = viper.GetString("tenant-column")
	cfg.Query.Timeout = viper.GetDuration("query-timeout")
	cfg.Query.MaxRows = viper.GetInt64("max-rows")
	cfg.LLM.Provider = viper.GetString("llm-provider")
	cfg.LLM.Model = viper.GetString("llm-model")
	cfg.LLM.APIKey = viper.GetString("llm-api-key")
	cfg.LLM.Endpoint = viper.GetString("llm-endpoint")
	cfg.LLM.RequestsPerMinute = viper.GetInt("llm-rpm")
	cfg.Retrieval.ContextDir = viper.GetString("context-dir")
	cfg.Auth.Enabled = viper.GetBool("auth")
	cfg.Auth.Type = viper.GetString("auth-type")
	cfg.Auth.JWTSecret = viper.GetString("jwt-secret")
	cfg.Metrics.Enabled = viper.GetBool("metrics")

	// Config-file sections override flag-derived scalars where present
	if viper.IsSet("auth.bearer_tokens") {
		cfg.Auth.BearerTokens = viper.GetStringMapString("auth.bearer_tokens")
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func setupLogging(level string) zerolog.Logger {
	// Configure zerolog
	zerolog.TimeFieldFormat = time.RFC3339Nano
	zerolog.DurationFieldUnit = time.Millisecond

	// Set log level
	var logLevel zerolog.Level
	switch level {
	case "debug":
		logLevel = zerolog.DebugLevel
		// Enable caller info for debug level
		zerolog.CallerMarshalFunc = func(pc uintptr, file string, line int) string {
			short := file
			for i := len(file) - 1; i > 0; i-- {
				if file[i] == '/' {
					short = file[i+1:]
					break
				}
			}
			return fmt.Sprintf("%s:%d", short, line)
		}
	case "info":
		logLevel = zerolog.InfoLevel
	case "warn":
		logLevel = zerolog.WarnLevel
	case "error":
		logLevel = zerolog.ErrorLevel
	default:
		logLevel = zerolog.InfoLevel
	}

	// Create logger with caller info for debug level
	logger := zerolog.New(os.Stdout).
		Level(logLevel).
		With().
		Timestamp().
		Str("service", "spendlens")

	if logLevel == zerolog.DebugLevel {
		logger = logger.Caller()
	}

	return logger.Logger()
}

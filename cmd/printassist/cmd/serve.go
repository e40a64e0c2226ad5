package cmd

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/spf13/cobra"

	"github.com/psantana5/printassist/internal/api"
	"github.com/psantana5/printassist/internal/coordinator"
	"github.com/psantana5/printassist/internal/logging"
	"github.com/psantana5/printassist/internal/metrics"
	"github.com/psantana5/printassist/internal/service"
	"github.com/psantana5/printassist/internal/shutdown"
	"github.com/psantana5/printassist/internal/store"
	"github.com/psantana5/printassist/internal/tracing"
)

var (
	servePort         string
	serveDBPath       string
	serveLogLevel     string
	serveTracing      bool
	serveTracingEndpt string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the print queue manager service",
	Long:  `Starts the HTTP API, metrics endpoint, and background schedule coordinator.`,
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&servePort, "port", "8080", "HTTP API port")
	serveCmd.Flags().StringVar(&serveDBPath, "db", "printassist.db", "SQLite database path (use empty string for in-memory)")
	serveCmd.Flags().StringVar(&serveLogLevel, "log-level", "info", "log level (debug, info, warn, error)")
	serveCmd.Flags().BoolVar(&serveTracing, "tracing", false, "enable distributed tracing")
	serveCmd.Flags().StringVar(&serveTracingEndpt, "tracing-endpoint", "localhost:4318", "OpenTelemetry OTLP endpoint")
}

func runServe(cmd *cobra.Command, args []string) error {
	logger, err := logging.NewFileLogger("printassist", "server", logging.ParseLevel(serveLogLevel), false)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer logger.Close()

	logger.Info("starting print queue manager", map[string]interface{}{"port": servePort, "db": serveDBPath})

	dataStore, err := store.Open(serveDBPath)
	if err != nil {
		logger.Fatal(fmt.Sprintf("failed to open store: %v", err))
	}

	coord := coordinator.New(dataStore, nil, logger)
	go coord.Run()

	svc := service.New(dataStore, coord, logger)
	metricsExporter := metrics.NewExporter(dataStore)
	handler := api.NewHandler(svc, logger, metricsExporter)

	var tracerProvider *tracing.Provider
	if serveTracing {
		tracerProvider, err = tracing.InitTracer(tracing.Config{
			ServiceName:    "printassist",
			ServiceVersion: "1.0.0",
			Environment:    "production",
			OTLPEndpoint:   serveTracingEndpt,
			Enabled:        true,
		}, logger)
		if err != nil {
			logger.Fatal(fmt.Sprintf("failed to initialize tracing: %v", err))
		}
		logger.Info("distributed tracing enabled", map[string]interface{}{"endpoint": serveTracingEndpt})
		coord.SetTracer(tracerProvider.Tracer())
	}

	router := mux.NewRouter()
	if tracerProvider != nil {
		router.Use(tracing.HTTPMiddleware(tracerProvider))
	}
	handler.RegisterRoutes(router)

	srv := &http.Server{
		Addr:         ":" + servePort,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	shutdownMgr := shutdown.New(30*time.Second, logger)
	shutdownMgr.Register(func(ctx context.Context) error {
		logger.Info("closing database connection", nil)
		return dataStore.Close()
	})
	shutdownMgr.Register(func(ctx context.Context) error {
		logger.Info("stopping schedule coordinator", nil)
		coord.Stop()
		return nil
	})
	if tracerProvider != nil {
		shutdownMgr.Register(func(ctx context.Context) error {
			logger.Info("shutting down tracer", nil)
			return tracerProvider.Shutdown(ctx)
		})
	}
	shutdownMgr.Register(shutdown.StopHTTPServer(srv, "api"))
	shutdownMgr.Register(func(ctx context.Context) error {
		return logger.Close()
	})

	go func() {
		logger.Info("API listening", map[string]interface{}{"port": servePort})
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal(fmt.Sprintf("failed to start server: %v", err))
		}
	}()

	shutdownMgr.Wait()
	logger.Info("shutdown signal received", nil)
	shutdownMgr.Shutdown()
	logger.Info("shutdown complete", nil)
	return nil
}

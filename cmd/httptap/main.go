package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/httptap/httptap/internal/api"
	"github.com/httptap/httptap/internal/config"
	"github.com/httptap/httptap/internal/correlate"
	"github.com/httptap/httptap/internal/entry"
	"github.com/httptap/httptap/internal/export"
	"github.com/httptap/httptap/internal/intercept"
	"github.com/httptap/httptap/internal/logstore"
	"github.com/httptap/httptap/internal/observability"
	"github.com/httptap/httptap/internal/persist"
	"github.com/httptap/httptap/internal/version"
)

const defaultConfigPath = "httptap.yaml"

const (
	pipelineShutdownTimeout = 5 * time.Second
	writerShutdownTimeout   = 5 * time.Second
	otelShutdownTimeout     = 5 * time.Second
	serverShutdownTimeout   = 5 * time.Second
	serverReadHeaderTimeout = 10 * time.Second
	serverIdleTimeout       = 2 * time.Minute
	demoRequestInterval     = 2 * time.Second
)

var signalNotifyContext = signal.NotifyContext

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) == 0 {
		return runServe(nil)
	}

	switch args[0] {
	case "version", "--version", "-v":
		fmt.Println(version.String())
		return 0
	case "serve":
		return runServe(args[1:])
	case "config":
		return runConfig(args[1:], os.Stdout, os.Stderr)
	default:
		printUsage(os.Stderr)
		return 2
	}
}

func runConfig(args []string, out io.Writer, errOut io.Writer) int {
	if len(args) == 0 {
		printConfigUsage(errOut)
		return 2
	}

	switch args[0] {
	case "validate":
		return runConfigValidate(args[1:], out, errOut)
	default:
		printConfigUsage(errOut)
		return 2
	}
}

func runConfigValidate(args []string, out io.Writer, errOut io.Writer) int {
	flagSet := flag.NewFlagSet("config validate", flag.ContinueOnError)
	flagSet.SetOutput(errOut)
	configPath := flagSet.String("config", defaultConfigPath, "Path to config file")
	if err := flagSet.Parse(args); err != nil {
		return 2
	}
	if flagSet.NArg() != 0 {
		fmt.Fprintln(errOut, "config validate does not accept positional arguments")
		return 2
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(errOut, "failed to load config: %v\n", err)
		return 1
	}
	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(errOut, "config is invalid: %v\n", err)
		return 1
	}

	fmt.Fprintf(out, "config is valid: %s\n", *configPath)
	return 0
}

func runServe(args []string) int {
	flagSet := flag.NewFlagSet("serve", flag.ContinueOnError)
	flagSet.SetOutput(os.Stderr)
	configPath := flagSet.String("config", defaultConfigPath, "Path to config file")
	demo := flagSet.Bool("demo", false, "Generate sample outbound traffic so the log has content")
	if err := flagSet.Parse(args); err != nil {
		return 2
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		return 1
	}
	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "config is invalid: %v\n", err)
		return 1
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	otelRuntime, otelErr := observability.Setup(context.Background(), cfg.Observability.OTel, version.String(), cfg.Capture.HeaderDenylist, logger)
	if otelErr != nil {
		logger.Error("failed to initialize opentelemetry; continuing with instrumentation disabled", "error", otelErr)
	}
	if otelRuntime != nil {
		defer shutdownOpenTelemetry(logger, otelRuntime, otelShutdownTimeout)
		if otelRuntime.Enabled() {
			logger = slog.New(observability.NewTraceLogHandler(logger.Handler()))
		}
	}

	store := logstore.New(cfg.Capture.Capacity)

	persistStore, writer, err := newPersistence(cfg, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize storage: %v\n", err)
		return 1
	}
	if persistStore != nil {
		defer func() {
			if err := persistStore.Close(); err != nil {
				logger.Error("failed to close entry storage", "error", err)
			}
		}()
	}
	if writer != nil {
		writer.SetWriteFailureHandler(func(failure persist.WriteFailure) {
			if otelRuntime != nil {
				otelRuntime.RecordWriteFailure(failure.Operation, failure.FailedCount)
			}
		})
		writer.Start(context.Background())
		defer shutdownWriter(logger, writer, writerShutdownTimeout)
	}

	sink := func(e *entry.Entry) {
		evictedBefore := store.Evicted()
		store.Add(e)
		if otelRuntime != nil {
			otelRuntime.RecordExchangeCaptured(e.Method, e.StatusCode)
			if store.Evicted() > evictedBefore {
				otelRuntime.RecordEntryEvicted()
			}
		}
		if writer != nil && !writer.Enqueue(persist.FromEntry(e)) {
			logger.Warn("storage queue is full; dropping entry", "entry_id", e.ID, "url", e.URL)
		}
	}

	pipeline := correlate.NewPipeline(sink, correlate.Options{
		QueueSize:   cfg.Capture.QueueSize,
		MaxBodySize: cfg.Capture.BodyMaxSize,
	}, logger)
	if otelRuntime != nil {
		pipeline.SetMetrics(correlate.Metrics{
			OnDropped: otelRuntime.RecordExchangeDropped,
		})
	}
	pipeline.Start(context.Background())
	defer shutdownPipeline(logger, pipeline, pipelineShutdownTimeout)

	if cfg.Capture.Enabled {
		intercept.Install(pipeline, intercept.Options{
			CaptureBodies: cfg.Capture.CaptureBodies,
			MaxBodySize:   cfg.Capture.BodyMaxSize,
			RedactHeaders: cfg.Capture.HeaderDenylist,
		}, logger)
		defer intercept.Uninstall()
	}

	apiHandler := api.NewRouter(api.RouterOptions{
		AppVersion:          version.String(),
		Store:               store,
		Facade:              export.New(store),
		StorageDriver:       cfg.Storage.Driver,
		StoragePath:         cfg.Storage.Path,
		PipelineDiagnostics: pipeline.Diagnostics,
		WriterDiagnostics:   writerDiagnosticsFunc(writer),
	})
	serverHandler := http.Handler(apiHandler)
	if otelRuntime != nil {
		serverHandler = otelRuntime.WrapHTTPHandler(serverHandler)
	}
	server := &http.Server{
		Addr:              cfg.Server.Address(),
		Handler:           serverHandler,
		ReadHeaderTimeout: serverReadHeaderTimeout,
		IdleTimeout:       serverIdleTimeout,
	}

	logger.Info(
		"startup banner",
		"version", version.String(),
		"addr", server.Addr,
		"capture_enabled", cfg.Capture.Enabled,
		"capture_bodies", cfg.Capture.CaptureBodies,
		"capacity", cfg.Capture.Capacity,
		"storage_driver", cfg.Storage.Driver,
		"config_path", *configPath,
	)

	ctx, stop := signalNotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *demo {
		go runDemoTraffic(ctx, cfg, logger)
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), serverShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shutdown", "error", err)
			return 1
		}
		logger.Info("httptap stopped")
		return 0
	case err := <-errCh:
		if err != nil {
			logger.Error("httptap failed", "error", err)
			return 1
		}
		return 0
	}
}

func newPersistence(cfg config.Config, logger *slog.Logger) (persist.Store, *persist.Writer, error) {
	switch strings.TrimSpace(cfg.Storage.Driver) {
	case "", "none":
		return nil, nil, nil
	case "sqlite":
		store, err := persist.NewSQLiteStore(cfg.Storage.Path)
		if err != nil {
			return nil, nil, err
		}
		return store, persist.NewWriter(store, cfg.Storage.BufferSize, logger), nil
	case "postgres":
		store, err := persist.NewPostgresStore(cfg.Storage.DSN)
		if err != nil {
			return nil, nil, err
		}
		return store, persist.NewWriter(store, cfg.Storage.BufferSize, logger), nil
	default:
		return nil, nil, fmt.Errorf("unsupported storage.driver %q", cfg.Storage.Driver)
	}
}

func writerDiagnosticsFunc(writer *persist.Writer) func() persist.WriterDiagnostics {
	if writer == nil {
		return nil
	}
	return writer.Diagnostics
}

// runDemoTraffic issues periodic requests through the default client so
// the interceptor has something to show.
func runDemoTraffic(ctx context.Context, cfg config.Config, logger *slog.Logger) {
	targets := []string{
		"http://" + cfg.Server.Address() + "/healthz",
		"http://" + cfg.Server.Address() + "/api/entries?limit=1",
	}

	ticker := time.NewTicker(demoRequestInterval)
	defer ticker.Stop()

	next := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			target := targets[next%len(targets)]
			next++
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
			if err != nil {
				continue
			}
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				if ctx.Err() == nil {
					logger.Debug("demo request failed", "url", target, "error", err)
				}
				continue
			}
			_, _ = io.Copy(io.Discard, resp.Body)
			_ = resp.Body.Close()
		}
	}
}

func shutdownPipeline(logger *slog.Logger, pipeline *correlate.Pipeline, timeout time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := pipeline.Shutdown(ctx); err != nil {
		logger.Error("failed to drain capture pipeline before shutdown", "error", err, "timeout", timeout.String())
	}
}

func shutdownWriter(logger *slog.Logger, writer *persist.Writer, timeout time.Duration) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := writer.Shutdown(ctx); err != nil {
		logger.Error("failed to flush pending entries before shutdown", "error", err, "timeout", timeout.String())
		return
	}
	logger.Info("flushed pending entries before shutdown", "duration_ms", time.Since(start).Milliseconds())
}

func shutdownOpenTelemetry(logger *slog.Logger, runtime *observability.Runtime, timeout time.Duration) {
	if runtime == nil || !runtime.Enabled() {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := runtime.Shutdown(ctx); err != nil {
		logger.Error("failed to shutdown opentelemetry providers", "error", err, "timeout", timeout.String())
	}
}

func printUsage(out *os.File) {
	fmt.Fprintln(out, "Usage:")
	fmt.Fprintln(out, "  httptap serve [--config path/to/httptap.yaml] [--demo]")
	fmt.Fprintln(out, "  httptap version")
	fmt.Fprintln(out, "  httptap config validate [--config path/to/httptap.yaml]")
}

func printConfigUsage(out io.Writer) {
	fmt.Fprintln(out, "Usage:")
	fmt.Fprintln(out, "  httptap config validate [--config path/to/httptap.yaml]")
}

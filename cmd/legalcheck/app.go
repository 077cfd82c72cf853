package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/legalcheck/legalcheck-client/internal/api"
	"github.com/legalcheck/legalcheck-client/internal/auth"
	"github.com/legalcheck/legalcheck-client/internal/chat"
	"github.com/legalcheck/legalcheck-client/internal/config"
	"github.com/legalcheck/legalcheck-client/internal/observability"
	"github.com/legalcheck/legalcheck-client/internal/ws"
)

// envToken is consulted after the config file's inline token and before
// the token file.
const envToken = "LEGALCHECK_TOKEN"

const shutdownTimeout = 5 * time.Second

// app wires the components one command needs. Build it with newApp and
// always call close.
type app struct {
	cfg        *config.Config
	configPath string
	logger     *slog.Logger
	logFile    *os.File

	registry       *prometheus.Registry
	metrics        *observability.Metrics
	metricsServer  *http.Server
	tracer         *observability.Tracer
	shutdownTracer func(context.Context) error

	tokenStore *auth.FileStore
	tokens     auth.TokenSource
	client     *api.Client
	store      *chat.Store
}

type appOptions struct {
	// logToFile sends logs to ~/.legalcheck/legalcheck.log instead of
	// stderr, for commands that own the terminal.
	logToFile bool
}

// loadConfig resolves and loads the config file, falling back to defaults
// when no file exists and none was named explicitly, then applies flags.
func loadConfig(cmd *cobra.Command, flags *globalFlags) (*config.Config, string, error) {
	path, found := config.ResolvePath(flags.configPath)
	cfg := config.Default()
	if found {
		loaded, err := config.Load(path)
		if err != nil {
			return nil, path, err
		}
		cfg = loaded
	}
	applyFlagOverrides(cmd, cfg, flags)
	if err := cfg.Validate(); err != nil {
		return nil, path, err
	}
	return cfg, path, nil
}

func newApp(cmd *cobra.Command, flags *globalFlags, opts appOptions) (*app, error) {
	cfg, path, err := loadConfig(cmd, flags)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, configPath: path}

	var output io.Writer = cmd.ErrOrStderr()
	if opts.logToFile {
		logPath := filepath.Join(config.Dir(), "legalcheck.log")
		if err := os.MkdirAll(filepath.Dir(logPath), 0o700); err != nil {
			return nil, fmt.Errorf("create log dir: %w", err)
		}
		f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		a.logFile = f
		output = f
	}
	a.logger = observability.NewLogger(observability.LogConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: output,
	})
	slog.SetDefault(a.logger)

	a.registry = prometheus.NewRegistry()
	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	a.metrics = observability.NewMetrics(a.registry)
	if cfg.Observability.MetricsAddr != "" {
		if err := a.serveMetrics(cfg.Observability.MetricsAddr); err != nil {
			a.close(cmd.Context())
			return nil, err
		}
	}

	a.tracer, a.shutdownTracer = observability.NewTracer(observability.TraceConfig{
		ServiceName:    "legalcheck",
		ServiceVersion: version,
		Endpoint:       cfg.Observability.TraceEndpoint,
		SamplingRate:   cfg.Observability.SamplingRate,
		EnableInsecure: cfg.Observability.TraceInsecure,
	})

	a.tokenStore = auth.NewFileStore(config.ExpandUserPath(cfg.Auth.TokenFile), config.Dir())
	a.tokens = auth.Chain{
		auth.StaticToken(cfg.Auth.Token),
		auth.StaticToken(os.Getenv(envToken)),
		a.tokenStore,
	}

	a.client, err = api.NewClient(api.Config{
		BaseURL:           cfg.API.BaseURL,
		Timeout:           cfg.API.Timeout,
		Tokens:            a.tokens,
		CookieName:        cfg.Auth.CookieName,
		DebugRequests:     cfg.API.DebugRequests,
		RequestsPerSecond: cfg.API.RequestsPerSecond,
		Burst:             cfg.API.Burst,
	}, a.logger, a.metrics, a.tracer)
	if err != nil {
		a.close(cmd.Context())
		return nil, err
	}
	return a, nil
}

func (a *app) serveMetrics(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("metrics listener: %w", err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}))
	a.metricsServer = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := a.metricsServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("metrics server stopped", "error", err)
		}
	}()
	a.logger.Info("serving metrics", "addr", ln.Addr().String())
	return nil
}

// chatStore returns the conversation store bound to the process-wide
// channel, building both on first use.
func (a *app) chatStore() *chat.Store {
	if a.store != nil {
		return a.store
	}
	channel := ws.Shared(ws.Config{
		URL:            a.cfg.API.WSURL,
		AuthMode:       ws.AuthMode(a.cfg.Auth.Mode),
		CookieName:     a.cfg.Auth.CookieName,
		Tokens:         a.tokens,
		ConnectTimeout: a.cfg.Chat.ConnectTimeout,
		CloseTimeout:   a.cfg.Chat.CloseTimeout,
		Tracer:         a.tracer,
	}, a.logger, a.metrics)
	a.store = chat.NewStore(channel, a.client, chat.Options{
		Logger:          a.logger,
		Metrics:         a.metrics,
		Tracer:          a.tracer,
		ReconcileWindow: a.cfg.Chat.ReconcileWindow,
	})
	return a.store
}

// close tears down the channel and flushes telemetry.
func (a *app) close(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	if a.store != nil {
		a.store.Close()
		a.store = nil
	}
	if err := ws.ResetShared(ctx); err != nil && a.logger != nil {
		a.logger.Warn("closing websocket", "error", err)
	}
	if a.shutdownTracer != nil {
		if err := a.shutdownTracer(ctx); err != nil && a.logger != nil {
			a.logger.Warn("flushing traces", "error", err)
		}
	}
	if a.metricsServer != nil {
		_ = a.metricsServer.Shutdown(ctx)
	}
	if a.logFile != nil {
		_ = a.logFile.Close()
	}
}

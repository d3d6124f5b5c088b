package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/XcodeFish/codegenius-ai-gateway/internal/aiconfig"
	"github.com/XcodeFish/codegenius-ai-gateway/internal/config"
	"github.com/XcodeFish/codegenius-ai-gateway/internal/events"
	"github.com/XcodeFish/codegenius-ai-gateway/internal/failover"
	"github.com/XcodeFish/codegenius-ai-gateway/internal/gateway"
	"github.com/XcodeFish/codegenius-ai-gateway/internal/health"
	"github.com/XcodeFish/codegenius-ai-gateway/internal/metrics"
	"github.com/XcodeFish/codegenius-ai-gateway/internal/provider"
	"github.com/XcodeFish/codegenius-ai-gateway/internal/server"
	"github.com/XcodeFish/codegenius-ai-gateway/internal/store"
	"github.com/XcodeFish/codegenius-ai-gateway/internal/tokenest"
	"github.com/XcodeFish/codegenius-ai-gateway/internal/tracing"
	"github.com/XcodeFish/codegenius-ai-gateway/internal/vault"
	"github.com/XcodeFish/codegenius-ai-gateway/internal/version"
)

// probedProviders are the canonical provider keys the health monitor sweeps.
var probedProviders = []string{"openai", "deepseek", "anthropic", "ollama"}

func cmdServe(args []string) {
	configPath := ""
	for i := 0; i < len(args); i++ {
		if args[i] == "--config" && i+1 < len(args) {
			configPath = args[i+1]
			i++
		}
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error loading config: %v\n", err)
		os.Exit(1)
	}

	setupLogging(cfg.Server.LogLevel)
	log.Info().Str("version", version.Version).Msg("starting aigateway")

	if err := run(cfg); err != nil {
		log.Error().Err(err).Msg("aigateway exited with error")
		os.Exit(1)
	}
}

func setupLogging(level string) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Tracing.Enabled {
		shutdown, err := tracing.Init(ctx,
			cfg.Tracing.ServiceName, version.Version,
			cfg.Tracing.Exporter, cfg.Tracing.Endpoint,
			cfg.Tracing.SampleRate, cfg.Tracing.Insecure)
		if err != nil {
			return fmt.Errorf("initializing tracing: %w", err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(shutdownCtx); err != nil {
				log.Warn().Err(err).Msg("tracing shutdown failed")
			}
		}()
	}

	st, err := store.Open(filepath.Join(cfg.Server.DataDir, config.DefaultDatabaseFilename))
	if err != nil {
		return err
	}
	defer st.Close()

	v, err := vault.NewFromKeyring()
	if err != nil {
		return fmt.Errorf("%w (run 'aigateway keys set' or export %s)", err, vault.DefaultMasterKeyEnv)
	}

	counter := tokenest.NewCounter()
	reg := provider.BuildRegistry(counter, "openai")
	log.Info().Strs("providers", reg.Keys()).Msg("provider registry ready")

	bus := events.NewBus()
	bus.Subscribe("", events.LogSink())

	collector := metrics.NewCollector(st)
	collector.Subscribe(bus)

	cfgStore := aiconfig.NewStore(st, v, reg, bus)

	// The gateway supplies the monitor's probe, and the monitor's status
	// feeds the gateway's selector; the closure breaks the cycle.
	var gw *gateway.Gateway
	monitor := health.NewMonitor(probedProviders, func(ctx context.Context, name string) (time.Duration, error) {
		return gw.ProbeProvider(ctx, name)
	}, bus)
	monitor.SetInterval(time.Duration(cfg.Health.ProbeIntervalMinutes) * time.Minute)

	sel := failover.NewSelector(monitor.StatusOf, bus)
	gw = gateway.New(cfgStore, reg, v, sel, monitor, collector)

	// A provider switch should be reflected in health promptly, not at the
	// next scheduled sweep.
	cfgStore.OnUpdated(func(c *aiconfig.Config) {
		checkCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		monitor.CheckProvider(checkCtx, c.Provider)
	})

	monitor.Start(ctx)
	defer monitor.Stop()

	// Hot-reload log level on config file changes.
	if path := config.ConfigFilePath(); path != "" {
		watcher, err := config.Watch(path)
		if err != nil {
			log.Warn().Err(err).Msg("config watcher disabled")
		} else {
			defer watcher.Close()
			watcher.OnChange(func(_, newCfg *config.Config) {
				setupLogging(newCfg.Server.LogLevel)
			})
		}
	}

	opts := server.Options{
		Addr:           fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port),
		ReadTimeout:    time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout:   time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:    time.Duration(cfg.Server.IdleTimeout) * time.Second,
		MaxBodySize:    cfg.Server.MaxBodySize,
		TracingEnabled: cfg.Tracing.Enabled,
		Usage:          st,
	}
	if cfg.Metrics.Enabled {
		opts.MetricsHandler = collector.Handler()
	}

	srv := server.New(gw, cfgStore, monitor, opts)

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", opts.Addr).Msg("http server listening")
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

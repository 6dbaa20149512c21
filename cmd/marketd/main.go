package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"gridmarket/config"
	"gridmarket/core/events"
	"gridmarket/core/market"
	"gridmarket/observability/eventlog"
	"gridmarket/observability/logging"
	telemetry "gridmarket/observability/otel"
	"gridmarket/rpc"
	mw "gridmarket/rpc/middleware"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "./market.toml", "path to the node configuration (TOML or YAML)")
	flag.Parse()

	if err := run(cfgPath); err != nil {
		fmt.Fprintf(os.Stderr, "marketd: %v\n", err)
		os.Exit(1)
	}
}

func run(cfgPath string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	env := strings.TrimSpace(cfg.Logging.Env)
	if override := strings.TrimSpace(os.Getenv("MARKET_ENV")); override != "" {
		env = override
	}
	logger, logCloser := logging.SetupWithOptions("marketd", env, logging.Options{
		Level:      logging.ParseLevel(cfg.Logging.Level),
		File:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
	})
	defer logCloser.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName: "marketd",
		Environment: env,
		Endpoint:    cfg.Telemetry.Endpoint,
		Insecure:    cfg.Telemetry.Insecure,
		Headers:     cfg.Telemetry.Headers,
		Traces:      cfg.Telemetry.Traces,
		Metrics:     cfg.Telemetry.Metrics,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(flushCtx); err != nil {
			logger.Warn("telemetry shutdown failed", "error", err)
		}
	}()

	params, err := cfg.MarketParams()
	if err != nil {
		return err
	}
	gen, err := cfg.GenesisState()
	if err != nil {
		return err
	}

	db, err := openStore(cfg.Node)
	if err != nil {
		return err
	}
	defer db.Close()

	engine, err := market.NewEngine(db, params)
	if err != nil {
		return fmt.Errorf("create engine: %w", err)
	}
	engine.SetLogger(logger)

	emitters := events.Multi{newLogEmitter(logger)}
	var journal *eventlog.Journal
	if driver := strings.TrimSpace(cfg.EventLog.Driver); driver != "" {
		gdb, err := eventlog.Open(driver, cfg.EventLog.DSN)
		if err != nil {
			return err
		}
		journal, err = eventlog.New(gdb)
		if err != nil {
			return err
		}
		emitters = append(emitters, journal)
		logger.Info("event journal enabled", "driver", driver, logging.MaskField("dsn", cfg.EventLog.DSN))
	}
	engine.SetEmitter(emitters)

	applied, err := engine.ApplyGenesis(gen)
	if err != nil {
		return fmt.Errorf("apply genesis: %w", err)
	}
	logger.Info("market state opened",
		"backend", cfg.Node.Backend,
		"path", cfg.Node.DataDir,
		"tick", engine.CurrentTick(),
		"genesisApplied", applied)

	server, err := rpc.NewServer(rpc.ServerConfig{
		ListenAddress: cfg.API.ListenAddress,
		ReadTimeout:   time.Duration(cfg.API.ReadTimeoutSecs) * time.Second,
		WriteTimeout:  time.Duration(cfg.API.WriteTimeoutSecs) * time.Second,
		Auth: mw.AuthConfig{
			Enabled:    strings.TrimSpace(cfg.API.JWTSecret) != "",
			HMACSecret: cfg.API.JWTSecret,
			Issuer:     cfg.API.JWTIssuer,
		},
		RateLimits:  rateLimits(cfg.API),
		LogRequests: true,
	}, engine, journal, logger)
	if err != nil {
		return err
	}
	if cfg.API.JWTSecret != "" {
		logger.Info("api authentication enabled", logging.MaskField("jwtSecret", cfg.API.JWTSecret))
	}

	var wrap func(http.Handler) http.Handler
	if cfg.API.Tracing {
		wrap = func(h http.Handler) http.Handler { return otelhttp.NewHandler(h, "marketd") }
	}

	ticker := newTickLoop(engine, time.Duration(cfg.Node.TickIntervalMillis)*time.Millisecond, logger)
	go ticker.Run(ctx)

	if err := server.Serve(ctx, wrap); err != nil {
		return fmt.Errorf("serve api: %w", err)
	}
	<-ticker.Done()
	logger.Info("marketd stopped", "tick", engine.CurrentTick())
	return nil
}

func rateLimits(api config.APIConfig) map[string]mw.RateLimit {
	if api.RateLimitPerSecond <= 0 {
		return nil
	}
	limit := mw.RateLimit{RatePerSecond: api.RateLimitPerSecond, Burst: api.RateLimitBurst}
	// Queries get four times the command budget.
	queries := mw.RateLimit{RatePerSecond: api.RateLimitPerSecond * 4, Burst: api.RateLimitBurst * 4}
	return map[string]mw.RateLimit{
		rpc.RouteCommands: limit,
		rpc.RouteAdmin:    limit,
		rpc.RouteQueries:  queries,
	}
}

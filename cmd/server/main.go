package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"skirmish/internal/api"
	"skirmish/internal/config"
	"skirmish/internal/game"
	"skirmish/internal/history"
	"skirmish/internal/render"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

func main() {
	configDir := flag.String("config", ".", "directory holding skirmish.yaml")
	flag.Parse()

	// Load .env file from parent directory, then the current one
	envErr := godotenv.Load("../.env")
	if envErr != nil {
		envErr = godotenv.Load(".env")
	}

	appConfig, err := config.Load(*configDir)
	if err != nil {
		bootLogger := zerolog.New(os.Stderr)
		bootLogger.Fatal().Err(err).Msg("load config")
	}
	logger := appConfig.Log.NewLogger(os.Stderr)
	if envErr != nil {
		logger.Debug().Msg("no .env file found, using environment variables only")
	}
	if appConfig.ConfigFile != "" {
		logger.Info().Str("file", appConfig.ConfigFile).Msg("config file loaded")
	}

	rules, err := appConfig.Match.Rules()
	if err != nil {
		logger.Fatal().Err(err).Str("path", appConfig.Match.RulesPath).Msg("load rules")
	}

	engine := game.NewEngine(game.EngineConfig{
		TickRate: appConfig.Match.TickRate,
		Rules:    rules,
		Seed:     appConfig.Match.Seed,
		Limits:   appConfig.Limits.ResourceLimits(),
		Logger:   logger,
		Metrics:  api.PrometheusMetrics{},
		Autoplay: appConfig.Match.Autoplay,
	})
	limits := engine.GetLimits()
	logger.Info().
		Int("cols", rules.Cols).
		Int("rows", rules.Rows).
		Int("tickRate", appConfig.Match.TickRate).
		Dur("duration", rules.MatchDuration).
		Int("maxUnits", limits.MaxUnits).
		Int("maxBullets", limits.MaxBullets).
		Msg("engine configured")

	// History is optional; the match runs without it
	var store *history.Store
	if appConfig.Storage.HistoryEnabled {
		store, err = history.Open(appConfig.Storage.HistoryApp, history.Options{
			Capacity: appConfig.Storage.HistoryCapacity,
			Logger:   logger,
		})
		if err != nil {
			logger.Warn().Err(err).Msg("match history disabled")
			store = nil
		} else {
			logger.Info().Int("records", store.Len()).Msg("match history loaded")
		}
	}

	if err := engine.StartEventLog(appConfig.Storage.EventLogPath); err != nil {
		logger.Warn().Err(err).Msg("event log disabled")
	} else if appConfig.Storage.EventLogPath != "" {
		logger.Info().Str("path", appConfig.Storage.EventLogPath).Msg("event log started")
	}

	routerCfg := api.RouterConfig{
		Engine:      engine,
		Renderer:    render.New(render.Options{}),
		CORSOrigins: appConfig.Server.CORSOrigins,
		AdminToken:  appConfig.Server.AdminToken,
		RateLimitConfig: &api.RateLimitConfig{
			Query:      budget(appConfig.Server.QueryRate),
			Command:    budget(appConfig.Server.CommandRate),
			TrustProxy: appConfig.Server.TrustProxy,
		},
		Logger: logger,
	}
	if store != nil {
		routerCfg.History = store
	}
	if appConfig.Server.AdminToken == "" {
		logger.Warn().Msg("ADMIN_TOKEN not set, match restart is open to any client")
	}
	server := api.NewServer(routerCfg)

	engine.SetOnMatchEnd(func(result game.MatchResult) {
		if store != nil {
			if err := store.Record(result); err != nil {
				logger.Error().Err(err).Uint64("match", result.Match).Msg("record match")
			}
		}
		server.NotifyMatchEnd(result)
	})

	debugCfg := api.DefaultObservabilityConfig()
	debugCfg.Enabled = appConfig.Server.DebugServer
	debugCfg.ListenAddr = appConfig.Server.DebugAddr
	debugCfg.Health = engine.CheckInvariants
	debugServer := api.StartDebugServer(debugCfg, logger)

	engine.Start()

	statsCtx, stopStats := context.WithCancel(context.Background())
	go func() {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-statsCtx.Done():
				return
			case <-ticker.C:
				api.UpdateEventLogStats(engine.EventLogCounts())
			}
		}
	}()

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.Start(appConfig.Server.Addr())
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	logger.Info().Str("addr", appConfig.Server.Addr()).Msg("server ready, press Ctrl+C to stop")
	select {
	case sig := <-quit:
		logger.Info().Str("signal", sig.String()).Msg("shutting down")
	case err := <-serverErr:
		if err != nil {
			logger.Error().Err(err).Msg("api server stopped")
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	stopStats()
	if err := server.Shutdown(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Warn().Err(err).Msg("api shutdown")
	}
	if debugServer != nil {
		debugServer.Shutdown(ctx)
	}
	engine.Stop()
	engine.StopEventLog()
	if store != nil {
		store.Close()
	}
	logger.Info().Msg("goodbye")
}

// budget turns a request rate into a token bucket with room for a short burst.
func budget(perSecond float64) api.Budget {
	return api.Budget{PerSecond: perSecond, Burst: max(1, int(2*perSecond))}
}

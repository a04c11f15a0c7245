package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/harbormind/harbormind/internal/agent"
	"github.com/harbormind/harbormind/internal/api"
	"github.com/harbormind/harbormind/internal/assets"
	"github.com/harbormind/harbormind/internal/chat"
	"github.com/harbormind/harbormind/internal/config"
	"github.com/harbormind/harbormind/internal/db"
	"github.com/harbormind/harbormind/internal/tools"
)

func main() {
	// Optional .env for direct binary runs; deployments use real env vars.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger, err := newLogger(cfg)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	database, err := db.New(cfg.DBPath)
	if err != nil {
		logger.Fatal("failed to initialize database", zap.Error(err), zap.String("dbPath", cfg.DBPath))
	}

	assetStore, err := assets.New(cfg.DataDir, cfg.ImageSubdir)
	if err != nil {
		logger.Fatal("failed to initialize asset store", zap.Error(err), zap.String("dataDir", cfg.DataDir))
	}

	historical := tools.NewHistoricalData(cfg.HistoricalAPIURL, assetStore, logger)

	// Agent initialization failure is not fatal: the service runs and every
	// submission reports the unavailable condition until restart.
	var runner agent.Runner
	langChain, err := agent.NewLangChain(agent.Config{
		BaseURL:       cfg.OpenAIBaseURL,
		Token:         cfg.OpenAIAPIKey,
		Model:         cfg.Model,
		MaxIterations: cfg.AgentMaxIterations,
	}, historical)
	if err != nil {
		logger.Error("agent capability unavailable, assistant features disabled", zap.Error(err))
	} else {
		runner = langChain
	}

	svc := chat.NewService(database, runner, cfg.HistoryTokenBudget, logger)

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = api.ErrorHandler(logger)
	e.Use(middleware.Recover())
	api.NewHandler(database, svc, logger).Register(e)
	// Generated images are referenced by relative path and served read-only.
	e.Static("/media", cfg.DataDir)

	go func() {
		logger.Info("starting server", zap.String("addr", cfg.Addr))
		if err := e.Start(cfg.Addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("failed to start server", zap.Error(err))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := multierr.Combine(e.Shutdown(shutdownCtx), database.Close()); err != nil {
		logger.Error("shutdown error", zap.Error(err))
	}
	logger.Info("server stopped")
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	if cfg.Dev() {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/taskhub/escrow/internal/auth"
	"github.com/taskhub/escrow/internal/config"
	"github.com/taskhub/escrow/internal/counters"
	"github.com/taskhub/escrow/internal/db"
	"github.com/taskhub/escrow/internal/escrow"
	"github.com/taskhub/escrow/internal/excel"
	httphandler "github.com/taskhub/escrow/internal/http"
	"github.com/taskhub/escrow/internal/http/middleware"
	"github.com/taskhub/escrow/internal/lifecycle"
	"github.com/taskhub/escrow/internal/logger"
	"github.com/taskhub/escrow/internal/money"
	"github.com/taskhub/escrow/internal/notify"
	"github.com/taskhub/escrow/internal/pdf"
	"github.com/taskhub/escrow/internal/statement"
	"github.com/taskhub/escrow/internal/store/postgres"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(cfg.Environment)

	database, err := db.New(cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect database")
	}

	st := postgres.New(database)

	// Redis carries the notification queue and the view counters. Without it
	// events fall back to the log and views count synchronously only.
	var emitter notify.Emitter = notify.LogEmitter{Log: log}
	var viewCounter *counters.Counter
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		emitter = notify.NewRedisEmitter(rdb, cfg.Redis.Queue)
		viewCounter = counters.New(rdb)

		reconciler := counters.NewReconciler(viewCounter, st, time.Minute, log)
		go reconciler.Run(context.Background())
	}

	engine := lifecycle.NewEngine(st, emitter, log, lifecycle.Config{})

	policy := escrow.DefaultRetryPolicy()
	policy.MaxAttempts = cfg.Payment.MaxRetries
	policy.BaseDelay = cfg.Payment.RetryBase
	fees := money.FeeSchedule{
		PlatformRate:   cfg.Fees.PlatformRate,
		ProcessorRate:  cfg.Fees.ProcessorRate,
		ProcessorFixed: cfg.Fees.ProcessorFixed,
	}
	provider := escrow.StubProvider{Name: cfg.Payment.Provider}
	orchestrator := escrow.NewOrchestrator(st, engine, provider, cfg.Payment.Provider, policy, fees, log)

	statements := statement.NewService(st)
	pdfGenerator := pdf.NewGenerator()
	excelGenerator := excel.NewGenerator()

	tokenParser := auth.NewParser(cfg.Auth.AccessSecret)
	handler := httphandler.NewHandler(engine, orchestrator, st, statements, pdfGenerator, excelGenerator, viewCounter, log)
	authMiddleware := middleware.Auth(tokenParser)
	router := httphandler.NewRouter(handler, authMiddleware, cfg.Environment)

	addr := fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port)
	log.Info().Str("addr", addr).Msg("starting escrow service")

	if err := router.Run(addr); err != nil {
		log.Error().Err(err).Msg("server stopped")
		os.Exit(1)
	}
}

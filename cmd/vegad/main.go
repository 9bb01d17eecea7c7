package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/davidting0918/vegaexchange/params"
	"github.com/davidting0918/vegaexchange/pkg/app"
	"github.com/davidting0918/vegaexchange/pkg/util"
)

func main() {
	cfg := params.LoadFromEnv("") // "" means load from .env in current directory

	logFile := os.Getenv("LOG_FILE")
	if logFile == "" {
		logFile = "data/vegad.log"
	}

	logger, err := util.NewLoggerWithFile(logFile)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()
	sugar.Infow("logger_initialized", "log_file", logFile)

	vega, err := app.New(cfg, logger)
	if err != nil {
		sugar.Fatalw("app_init_failed", "err", err)
	}
	defer vega.Close()

	sugar.Infow("app_initialized",
		"db_path", cfg.Storage.DBPath,
		"markets", len(vega.Registry.List()))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		sugar.Infow("api_server_starting", "addr", cfg.API.Addr)
		if err := vega.Start(); err != nil {
			sugar.Fatalw("api_server_failed", "err", err)
		}
	}()

	<-ctx.Done()
	sugar.Info("shutting down")
}

package main

import (
	"context"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/ivankudzin/creditpay/internal/app/bootstrap"
	"github.com/ivankudzin/creditpay/internal/app/workerapp"
)

func main() {
	cfg, log, err := bootstrap.Load(bootstrap.ConfigPath())
	if err != nil {
		panic(err)
	}
	defer func() {
		_ = log.Sync()
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := workerapp.New(ctx, cfg, log)
	if err != nil {
		log.Fatal("create worker app", zap.Error(err))
	}
	defer func() {
		if err := app.Shutdown(); err != nil {
			log.Error("shutdown worker app", zap.Error(err))
		}
	}()

	if err := app.Run(ctx); err != nil {
		log.Error("worker failed", zap.Error(err))
	}
}

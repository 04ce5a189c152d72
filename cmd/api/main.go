// @title Clinical Coding API
// @version 1.0
// @description Codificación clínica (ICD-10 / OPCS-4): episodios, re-sugerencias, audit y reverts.
// @BasePath /
package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"clinical-coding/internal/app"
	"clinical-coding/internal/platform/config"
	"clinical-coding/internal/platform/logger"
	"clinical-coding/internal/router"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	lg := logger.New(logger.Options{
		Level:  logger.ParseLevel(cfg.LogLevel),
		Format: logger.ParseFormat(cfg.LogFormat),
		App:    cfg.AppName,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, lg)
	if err != nil {
		log.Fatalf("app: %v", err)
	}
	defer a.Close()

	// La cola en memoria solo existe en este proceso: el consumer corre acá.
	// Con sqs/kafka lo corre cmd/worker.
	consumerDone := make(chan struct{})
	if cfg.DLQ.Provider == config.DLQMemory {
		go func() {
			defer close(consumerDone)
			_ = a.Consumer.Run(ctx)
		}()
	} else {
		close(consumerDone)
	}

	srv := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      router.NewRouter(router.Options{App: a}),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	lg.Info("starting server", map[string]any{"addr": srv.Addr})
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		lg.Error("server error", map[string]any{"error": err.Error()})
		stop()
	}

	<-consumerDone
	lg.Info("server stopped", nil)
}

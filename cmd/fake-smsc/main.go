package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/thrillee/smppengine/internal/config"
	"github.com/thrillee/smppengine/internal/logging"
	"github.com/thrillee/smppengine/internal/smsc"
)

func main() {
	appCtx, rootCancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer rootCancel()

	cfg, logLevel, err := config.LoadFakeSMSC()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	slog.SetDefault(logging.New(os.Stdout, logLevel, "text"))

	srv := smsc.NewServer(smsc.Config{
		Addr:        cfg.Addr,
		SystemID:    cfg.SystemID,
		Password:    cfg.Password,
		ReportDelay: cfg.ReportDelay,
		IdleTimeout: cfg.IdleTimeout,
		Echo:        cfg.Echo,
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, net.ErrClosed) {
			slog.Error("Fake SMSC failed", slog.Any("error", err))
			os.Exit(1)
		}
	case <-appCtx.Done():
		slog.Info("Shutdown signal received")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			slog.Warn("Error during fake SMSC shutdown", slog.Any("error", err))
		}
	}
	slog.Info("Fake SMSC stopped.")
}

package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"github.com/thrillee/smppengine/internal/bus"
	"github.com/thrillee/smppengine/internal/config"
	"github.com/thrillee/smppengine/internal/dispatch"
	"github.com/thrillee/smppengine/internal/dlr"
	"github.com/thrillee/smppengine/internal/esme"
	"github.com/thrillee/smppengine/internal/logging"
	"github.com/thrillee/smppengine/internal/multipart"
	"github.com/thrillee/smppengine/internal/notification"
	"github.com/thrillee/smppengine/internal/sequence"
	"github.com/thrillee/smppengine/internal/workers"
)

const shutdownTimeout = 20 * time.Second

func main() {
	// --- Context and Basic Setup ---
	appCtx, rootCancel := signal.NotifyContext(
		context.Background(),
		syscall.SIGINT,
		syscall.SIGTERM,
	)
	defer rootCancel()

	// --- Configuration ---
	cfg, err := config.Load()
	if err != nil {
		// Use standard log before slog is configured
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// --- Setup Logging ---
	slog.SetDefault(logging.New(os.Stdout, cfg.LogLevel, cfg.LogFormat))
	slog.Info("Logging initialized", slog.String("level", cfg.LogLevel))

	esmeCfg, err := cfg.ESME()
	if err != nil {
		slog.Error("Invalid SMPP configuration", slog.Any("error", err))
		os.Exit(1)
	}

	// --- Redis (sequence numbers and/or bus) ---
	var rdb *redis.Client
	if cfg.Sequence.Backend == config.SequenceRedis || cfg.Bus.Backend == config.BusRedis {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.Sequence.RedisAddr})
		defer rdb.Close()
		if err := rdb.Ping(appCtx).Err(); err != nil {
			slog.Error("Failed to ping redis", slog.String("addr", cfg.Sequence.RedisAddr), slog.Any("error", err))
			os.Exit(1)
		}
		slog.Info("Redis connection established", slog.String("addr", cfg.Sequence.RedisAddr))
	}

	// --- Sequence numbers ---
	var seq sequence.Source
	switch cfg.Sequence.Backend {
	case config.SequenceRedis:
		seq = sequence.NewRedisSource(rdb, cfg.Sequence.RedisKey)
	case config.SequencePostgres:
		slog.Info("Connecting to database...")
		dbpool, err := pgxpool.New(appCtx, cfg.Sequence.DatabaseURL)
		if err != nil {
			slog.Error("Unable to connect to database", slog.Any("error", err))
			os.Exit(1)
		}
		defer dbpool.Close()
		if err := dbpool.Ping(appCtx); err != nil {
			slog.Error("Failed to ping database", slog.Any("error", err))
			os.Exit(1)
		}
		pg := sequence.NewPostgresSource(dbpool, cfg.Sequence.PgSequence)
		if err := pg.Init(appCtx); err != nil {
			slog.Error("Failed to create sequence", slog.Any("error", err))
			os.Exit(1)
		}
		seq = pg
	default:
		seq = sequence.NewCounter()
	}
	slog.Info("Sequence source ready", slog.String("backend", cfg.Sequence.Backend))

	// --- Bus ---
	var publisher bus.Publisher = bus.NewLogPublisher()
	var redisBus *bus.RedisBus
	if cfg.Bus.Backend == config.BusRedis {
		redisBus = bus.NewRedisBus(rdb, cfg.Bus.RedisPrefix)
		publisher = redisBus
	}
	outbound := make(chan bus.OutboundMessage, cfg.OutboundBuffer)

	// --- Session engine ---
	matcher, err := dlr.NewMatcher(cfg.DLRRegex)
	if err != nil {
		slog.Error("Invalid DLR_REGEX", slog.Any("error", err))
		os.Exit(1)
	}
	reasm := multipart.NewReassembler(cfg.Multipart.TTL)

	notifier := notification.NewLimiter(notification.NewLogNotifier(), cfg.NotifyInterval)

	var client *esme.Client
	dispatcher := dispatch.New(
		dispatch.SenderFunc(func(ctx context.Context, msg bus.OutboundMessage) ([]uint32, error) {
			return client.Send(ctx, msg)
		}),
		outbound,
		dispatch.WithMaxAttempts(cfg.Dispatch.MaxAttempts),
		dispatch.WithRetryDelay(cfg.Dispatch.RetryDelay),
		dispatch.WithFailureFunc(func(ctx context.Context, msg bus.OutboundMessage, code string) {
			_ = notifier.Send(ctx, cfg.NotifyRecipient, "Outbound message failed", fmt.Sprintf("%s to %s: %s", msg.ID, msg.To, code))
		}),
		dispatch.WithBreaker(dispatch.BreakerConfig{
			FailureThreshold: cfg.Dispatch.BreakerFailures,
			Timeout:          cfg.Dispatch.BreakerTimeout,
		}),
	)

	opts := []esme.ClientOption{
		esme.WithBackoff(cfg.Backoff()),
		esme.WithClientMatcher(matcher),
		esme.WithClientReassembler(reasm),
		esme.WithOnConnect(func(*esme.Session) { dispatcher.Resume() }),
		esme.WithOnDisconnect(func(reason error) {
			dispatcher.Pause()
			_ = notifier.Send(appCtx, cfg.NotifyRecipient, "SMPP session lost", fmt.Sprint(reason))
		}),
	}
	if cfg.Reconnect.ResetSequence {
		opts = append(opts, esme.WithResetSequence())
	}
	client, err = esme.NewClient(cfg.SMPP.Addr(), esmeCfg, seq,
		dispatcher.Handler(esme.PublishHandler{Publisher: publisher}), opts...)
	if err != nil {
		slog.Error("Failed to create SMPP client", slog.Any("error", err))
		os.Exit(1)
	}

	workerManager := workers.NewManager()
	workerManager.Add("multipart-sweep", cfg.Multipart.SweepInterval, reasm.Sweep)

	// --- Start Components Concurrently ---
	slog.Info("Starting application components...")
	g, gctx := errgroup.WithContext(appCtx)

	// The client outlives gctx so it can unbind on shutdown.
	clientCtx, cancelClient := context.WithCancel(context.Background())
	defer cancelClient()
	g.Go(func() error {
		return client.Run(clientCtx)
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("Shutdown signal received, initiating graceful shutdown...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := client.Shutdown(shutdownCtx); err != nil {
			slog.Warn("Error during SMPP client shutdown", slog.Any("error", err))
		}
		cancelClient()
		return nil
	})
	g.Go(func() error {
		return dispatcher.Run(gctx)
	})
	g.Go(func() error {
		return workerManager.Run(gctx)
	})
	if redisBus != nil {
		g.Go(func() error {
			return redisBus.Consume(gctx, outbound)
		})
	}

	if err := g.Wait(); err != nil {
		slog.Error("Application stopped with error", slog.Any("error", err))
		os.Exit(1)
	}
	slog.Info("Application gracefully stopped.")
}

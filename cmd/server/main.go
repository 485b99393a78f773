package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Tyrowin/chatrelay/internal/bus"
	"github.com/Tyrowin/chatrelay/internal/config"
	"github.com/Tyrowin/chatrelay/internal/logging"
	"github.com/Tyrowin/chatrelay/internal/presence"
	"github.com/Tyrowin/chatrelay/internal/relay"
	"github.com/Tyrowin/chatrelay/internal/server"
)

const connectTimeout = 5 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	if err := run(cfg, log); err != nil {
		log.Error("server exited", zap.Error(err))
		_ = log.Sync()
		os.Exit(1)
	}
}

func run(cfg config.Config, log *zap.Logger) error {
	log.Info("starting chat relay",
		zap.String("port", cfg.Port),
		zap.Strings("allowed_origins", cfg.AllowedOrigins))

	tracker, err := openPresence(cfg.Redis, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := tracker.Close(); err != nil {
			log.Warn("presence close", zap.Error(err))
		}
	}()

	b, err := openBus(cfg.NATS, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := b.Close(); err != nil {
			log.Warn("bus close", zap.Error(err))
		}
	}()

	opts := []relay.Option{
		relay.WithLogger(log),
		relay.WithSettings(cfg.Relay),
		relay.WithBus(b),
	}
	if cfg.Redis.Enabled() {
		opts = append(opts, relay.WithPresence(tracker, cfg.Redis.PresenceTTL/2))
	}
	hub := relay.NewHub(opts...)
	go hub.Run()

	srv := server.New(hub, tracker, cfg.AllowedOrigins, log)
	httpServer := server.CreateServer(cfg.Port, srv.Routes())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() { errCh <- server.StartServer(httpServer, log) }()

	select {
	case err := <-errCh:
		_ = hub.Shutdown(cfg.ShutdownTimeout)
		return err
	case <-ctx.Done():
		log.Info("shutdown signal received")
	}

	if err := server.ShutdownServer(httpServer, cfg.ShutdownTimeout, log); err != nil {
		log.Warn("http server did not stop cleanly", zap.Error(err))
	}
	if err := hub.Shutdown(cfg.ShutdownTimeout); err != nil {
		log.Warn("hub did not stop cleanly", zap.Error(err))
	}
	return <-errCh
}

// openPresence connects the Redis presence mirror, or returns a no-op tracker
// when no address is configured.
func openPresence(cfg config.RedisConfig, log *zap.Logger) (presence.Tracker, error) {
	if !cfg.Enabled() {
		log.Info("presence store disabled")
		return presence.Nop{}, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	return presence.NewRedis(ctx, presence.RedisConfig{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		TTL:      cfg.PresenceTTL,
	}, log)
}

func openBus(cfg config.NATSConfig, log *zap.Logger) (bus.Bus, error) {
	if !cfg.Enabled() {
		log.Info("cross-node bus disabled")
		return bus.Local{}, nil
	}

	node := cfg.NodeID
	if node == "" {
		node = uuid.NewString()
	}
	return bus.Connect(bus.NATSConfig{
		URL:     cfg.URL,
		Subject: cfg.Subject,
		Node:    node,
		Name:    "chatrelay-" + node,
	}, log)
}

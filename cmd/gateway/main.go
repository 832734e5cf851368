package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/aman-churiwal/llm-gateway/internal/config"
	"github.com/aman-churiwal/llm-gateway/internal/logger"
	"github.com/aman-churiwal/llm-gateway/internal/server"
	"github.com/aman-churiwal/llm-gateway/internal/storage"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "config.json", "path to the JSON config file")
	bootstrapAdmin := flag.String("bootstrap-admin", "", "create (or reuse) an admin tenant with this email, print a token and exit")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	zlog, err := logger.New(logger.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer zlog.Sync()

	if err := run(cfg, zlog, *bootstrapAdmin); err != nil {
		zlog.Fatal("gateway exited", zap.Error(err))
	}
}

func run(cfg *config.Config, zlog *zap.Logger, bootstrapAdmin string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	gormLog := logger.NewGorm(zlog, logger.GormLevel(cfg.Log.Level), cfg.Database.SlowThreshold.Std())
	db, err := storage.Open(cfg.Database.Driver, cfg.Database.DSN, gormLog)
	if err != nil {
		return err
	}
	defer db.Close()
	zlog.Info("connected to database", zap.String("driver", db.Driver()))

	var redis *storage.RedisClient
	if addr := cfg.Redis.GetRedisAddr(); addr != "" {
		redis, err = storage.NewRedis(addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return err
		}
		defer redis.Close()
		zlog.Info("connected to redis", zap.String("addr", addr))
	} else {
		zlog.Warn("redis not configured; caches and client rate limiting are disabled")
	}

	srv, err := server.New(ctx, cfg, db, redis, zlog)
	if err != nil {
		return err
	}

	if bootstrapAdmin != "" {
		defer srv.Shutdown(context.Background())
		token, expiresAt, err := srv.BootstrapAdmin(ctx, bootstrapAdmin)
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "%s\nexpires at %s\n", token, expiresAt.Format("2006-01-02T15:04:05Z07:00"))
		return nil
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Run(":" + cfg.Server.Port)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Std())
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	zlog.Info("server exited")
	return nil
}

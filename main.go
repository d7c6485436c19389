package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go-taskapi/api"
	"go-taskapi/auth"
	"go-taskapi/config"
	"go-taskapi/queue"
	"go-taskapi/store"
	"go-taskapi/worker"

	"github.com/spf13/pflag"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/time/rate"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	flags := pflag.NewFlagSet("taskapi", pflag.ContinueOnError)
	envFile := flags.String("env-file", ".env", "dotenv file to load before reading the environment")
	addr := flags.String("addr", "", "listen address (overrides SERVER_ADDR)")
	if err := flags.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	cfg, err := config.Load(*envFile)
	if err != nil {
		return err
	}
	if *addr != "" {
		cfg.Addr = *addr
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := store.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer pool.Close()
	tasks := store.NewPostgres(pool)
	if err := tasks.EnsureSchema(ctx); err != nil {
		return err
	}

	creds, err := auth.NewStaticCredentials(cfg.Users, bcrypt.DefaultCost)
	if err != nil {
		return err
	}

	opts := api.Options{
		Tasks:       tasks,
		Credentials: creds,
		Tokens:      auth.NewTokenService(cfg.JWTSecret, cfg.TokenTTL),
		Logger:      logger,
		LoginRate:   rate.Limit(cfg.LoginRate),
		LoginBurst:  cfg.LoginBurst,
	}

	var wg sync.WaitGroup
	var events *queue.Events
	if cfg.RedisAddr != "" {
		client, err := queue.Dial(ctx, cfg.RedisAddr)
		if err != nil {
			return err
		}
		defer client.Close()
		events = queue.NewEvents(client, queue.DefaultKey)
		opts.Events = events

		workers := &worker.Pool{Source: events, Sink: tasks, Logger: logger}
		workers.Start(ctx, cfg.WorkerCount, &wg)
		logger.Info("event workers started", "count", cfg.WorkerCount)
	} else {
		logger.Warn("REDIS_ADDR not set, task events disabled")
	}

	server := api.NewHTTPServer(cfg.Addr, api.New(opts))
	serveErr := make(chan error, 1)
	go func() {
		logger.Info("starting server", "addr", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case s := <-sig:
		logger.Info("shutdown signal received", "signal", s.String())
	case err := <-serveErr:
		if err != nil {
			cancel()
			wg.Wait()
			return fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown", "error", err)
	}

	cancel()
	wg.Wait()
	logger.Info("all workers stopped")
	if events != nil {
		backlogCtx, backlogCancel := context.WithTimeout(context.Background(), time.Second)
		defer backlogCancel()
		if n, err := events.Len(backlogCtx); err == nil && n > 0 {
			logger.Warn("task events left in queue", "count", n)
		}
	}
	return nil
}

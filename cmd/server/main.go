package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"

	gfshutdown "github.com/gelmium/graceful-shutdown"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/Tyrowin/roomchat/internal/relay"
	"github.com/Tyrowin/roomchat/internal/server"
)

func main() {
	// Load local .env (dev only)
	_ = godotenv.Load()

	cfg, err := server.LoadConfig(os.Getenv("CONFIG_FILE"))
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	logger := server.NewLogger(os.Stdout, cfg.Env, cfg.LogLevel)
	logger.Info("Starting room chat server", "env", cfg.Env, "addr", cfg.Port)

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	rl := relay.New(relay.Options{
		Logger:       logger,
		Metrics:      relay.NewMetrics(registry),
		PasswordCost: cfg.PasswordCost,
	})

	ctx, stopReaper := context.WithCancel(context.Background())
	go rl.RunReaper(ctx, cfg.ReapInterval, cfg.RoomIdleTTL)

	app := server.New(cfg, rl, logger)
	httpServer := server.CreateServer(cfg.Port, app.Routes(registry))

	go func() {
		if err := server.StartServer(httpServer, logger); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	wait := gfshutdown.GracefulShutdown(
		context.Background(),
		cfg.ShutdownTimeout,
		map[string]gfshutdown.Operation{
			"reaper": func(context.Context) error {
				stopReaper()
				return nil
			},
			"http-server": func(ctx context.Context) error {
				if err := server.ShutdownServer(ctx, httpServer, logger); err != nil {
					return err
				}
				return app.Drain(ctx)
			},
		},
	)

	exitCode := <-wait
	logger.Info("Server exited", "code", exitCode)
	os.Exit(exitCode)
}

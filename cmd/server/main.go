package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"keyword-enricher/internal/config"
	"keyword-enricher/internal/handler"
	"keyword-enricher/internal/service"
	"keyword-enricher/pkg/logger"
)

type Application struct {
	configPath string
	envFile    string
	debug      bool
}

func main() {
	app := &Application{}

	flag.StringVar(&app.configPath, "config", os.Getenv("KWENRICH_CONFIG"), "Configuration file path (env: KWENRICH_CONFIG)")
	flag.StringVar(&app.envFile, "env-file", ".env", "Optional dotenv file loaded before configuration")
	flag.BoolVar(&app.debug, "debug", false, "Enable debug logging")
	flag.Parse()

	if err := app.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "keyword-enricher: %v\n", err)
		os.Exit(1)
	}
}

func (app *Application) Run() error {
	if err := godotenv.Load(app.envFile); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to load %s: %w", app.envFile, err)
	}

	cfg, err := config.NewManager().Load(app.configPath)
	if err != nil {
		return err
	}
	if app.debug {
		cfg.Logger.Level = "debug"
	}
	log := logger.Init(cfg.Logger).WithField("component", "server")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	svc, err := service.New(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to build service: %w", err)
	}
	svc.Start()

	server := handler.NewApp(svc, handler.ControllerConfig{
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	errCh := make(chan error, 1)
	go func() {
		log.WithField("addr", addr).Info("HTTP server listening")
		errCh <- server.Listen(addr)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		log.WithField("signal", sig.String()).Info("Shutdown signal received")
	case err := <-errCh:
		if err != nil {
			log.WithError(err).Error("HTTP server stopped")
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.ShutdownWithContext(shutdownCtx); err != nil {
		log.WithError(err).Warn("HTTP server shutdown incomplete")
	}
	if err := svc.Close(shutdownCtx); err != nil {
		log.WithError(err).Warn("Failed to close stores cleanly")
	}
	log.Info("Server stopped")
	return nil
}

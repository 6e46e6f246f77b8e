package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"

	"transcript-chat/internal/api"
	"transcript-chat/internal/app"
	"transcript-chat/internal/config"
	"transcript-chat/internal/integrations/paramstore"
	"transcript-chat/internal/usecase"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg := config.Load()
	config.SetupLogging(os.Stdout, cfg.LogLevel)
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", "err", err)
		os.Exit(1)
	}

	// AWS is only needed for SSM without a local key, or for the caption cache.
	var awsCfg *aws.Config
	if cfg.OpenAIAPIKey == "" || cfg.CaptionCacheTable != "" {
		c, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			slog.Error("failed to load AWS config", "err", err)
			os.Exit(1)
		}
		awsCfg = &c
	}

	var params usecase.ParamGetter
	if cfg.OpenAIAPIKey != "" {
		local, err := app.LocalParams(cfg)
		if err != nil {
			slog.Error("failed to build local parameters", "err", err)
			os.Exit(1)
		}
		params = paramstore.Static(local)
		slog.Info("using local OpenAI credentials", "model", cfg.OpenAIModel)
	} else {
		ssm, err := paramstore.New(awsssm.NewFromConfig(*awsCfg))
		if err != nil {
			slog.Error("failed to create SSM client", "err", err)
			os.Exit(1)
		}
		params = ssm
	}

	pingCtx, pingCancel := context.WithTimeout(ctx, 10*time.Second)
	if err := app.Ping(pingCtx, cfg, params); err != nil {
		slog.Warn("model parameter not readable at startup", "err", err)
	}
	pingCancel()

	svc, err := app.Build(cfg, params, awsCfg)
	if err != nil {
		slog.Error("failed to build services", "err", err)
		os.Exit(1)
	}

	srv, err := api.NewServer(svc.Chat, svc.Transcripts, api.Options{
		Port:           cfg.Port,
		RateLimitRPS:   cfg.RateLimitRPS,
		RateLimitBurst: cfg.RateLimitBurst,
	})
	if err != nil {
		slog.Error("failed to create server", "err", err)
		os.Exit(1)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		slog.Info("shutting down", "signal", sig)
	case err := <-errCh:
		if err != nil {
			slog.Error("server failed", "err", err)
			os.Exit(1)
		}
		return
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown failed", "err", err)
	}
	slog.Info("transcript-chat server stopped")
}

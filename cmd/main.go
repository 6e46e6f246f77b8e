package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/aws/aws-lambda-go/lambda"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"

	"transcript-chat/handler"
	"transcript-chat/internal/app"
	"transcript-chat/internal/config"
	"transcript-chat/internal/integrations/paramstore"
)

func main() {
	ctx := context.Background()

	cfg := config.Load()
	config.SetupLogging(os.Stdout, cfg.LogLevel)
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", "err", err)
		os.Exit(1)
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		slog.Error("failed to load AWS config", "err", err)
		os.Exit(1)
	}

	params, err := paramstore.New(awsssm.NewFromConfig(awsCfg))
	if err != nil {
		slog.Error("failed to create SSM client", "err", err)
		os.Exit(1)
	}

	svc, err := app.Build(cfg, params, &awsCfg)
	if err != nil {
		slog.Error("failed to build services", "err", err)
		os.Exit(1)
	}

	h, err := handler.NewHandler(svc.Chat, svc.Transcripts)
	if err != nil {
		slog.Error("failed to create handler", "err", err)
		os.Exit(1)
	}

	lambda.Start(h.Handle)
}

// Package app wires the backend use cases from configuration. Both the
// Lambda function and the local HTTP server build their services here.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"

	"transcript-chat/internal/config"
	"transcript-chat/internal/integrations/openai"
	"transcript-chat/internal/integrations/paramstore"
	"transcript-chat/internal/integrations/youtube"
	"transcript-chat/internal/repository"
	"transcript-chat/internal/usecase"
)

type Services struct {
	Chat        *usecase.ChatService
	Transcripts *usecase.TranscriptService
}

// Build constructs the chat and transcript services. params serves the
// OpenAI token and model parameters under cfg.ParamPrefix. awsCfg is only
// needed when a caption cache table is configured.
func Build(cfg config.Config, params usecase.ParamGetter, awsCfg *aws.Config) (*Services, error) {
	if params == nil {
		return nil, errors.New("app: parameter getter must not be nil")
	}

	llm, err := openai.NewClient(params, cfg.ParamPrefix, openai.WithBaseURL(cfg.OpenAIBaseURL))
	if err != nil {
		return nil, fmt.Errorf("app: openai client: %w", err)
	}
	chat, err := usecase.NewChatService(params, llm, cfg.ParamPrefix,
		usecase.WithMaxTranscriptBytes(cfg.MaxTranscriptBytes),
		usecase.WithStreamTimeout(cfg.StreamTimeout),
		usecase.WithModeration(cfg.ModerationEnabled),
	)
	if err != nil {
		return nil, fmt.Errorf("app: chat service: %w", err)
	}

	var cache usecase.CaptionCache
	if cfg.CaptionCacheTable != "" {
		if awsCfg == nil {
			return nil, errors.New("app: caption cache table set without AWS config")
		}
		c, err := repository.New(awsdynamodb.NewFromConfig(*awsCfg), cfg.CaptionCacheTable,
			repository.WithTTL(cfg.CaptionCacheTTL))
		if err != nil {
			return nil, fmt.Errorf("app: caption cache: %w", err)
		}
		cache = c
		slog.Info("caption cache enabled", "table", cfg.CaptionCacheTable, "ttl", cfg.CaptionCacheTTL)
	}

	transcripts, err := usecase.NewTranscriptService(youtube.NewClient(), cache)
	if err != nil {
		return nil, fmt.Errorf("app: transcript service: %w", err)
	}
	return &Services{Chat: chat, Transcripts: transcripts}, nil
}

// LocalParams serves the OpenAI parameters from the environment instead of SSM.
func LocalParams(cfg config.Config) (map[string]string, error) {
	if cfg.OpenAIAPIKey == "" {
		return nil, errors.New("app: OPENAI_API_KEY is empty")
	}
	token, err := tokenJSON(cfg.OpenAIAPIKey)
	if err != nil {
		return nil, err
	}
	return map[string]string{
		cfg.ParamPrefix + "/open-ai-token":       token,
		cfg.ParamPrefix + "/config/openai_model": cfg.OpenAIModel,
	}, nil
}

// Ping checks at startup that the model parameter resolves.
func Ping(ctx context.Context, cfg config.Config, params usecase.ParamGetter) error {
	name := cfg.ParamPrefix + "/config/openai_model"
	if _, err := params.GetParameter(ctx, name); err != nil {
		if errors.Is(err, paramstore.ErrNotFound) {
			return fmt.Errorf("app: model parameter %s is not set; create it or set OPENAI_API_KEY for local mode: %w", name, err)
		}
		return fmt.Errorf("app: model parameter: %w", err)
	}
	return nil
}

package usecase

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"transcript-chat/internal/domain"
)

const (
	msgMissingVideoID  = "Missing videoId"
	msgNoTranscript    = "No transcript available for this video"
	msgTranscriptFetch = "Failed to fetch transcript. The video might be live or have no available transcript."
)

type CaptionProvider interface {
	FetchTranscript(ctx context.Context, videoID string) ([]domain.TranscriptEntry, error)
}

type CaptionCache interface {
	GetTranscript(ctx context.Context, videoID string) ([]domain.TranscriptEntry, bool, error)
	PutTranscript(ctx context.Context, videoID string, entries []domain.TranscriptEntry) error
}

// TranscriptService looks up caption entries for a video, consulting the
// cache first when one is configured.
type TranscriptService struct {
	provider CaptionProvider
	cache    CaptionCache
}

// NewTranscriptService builds the service. cache may be nil.
func NewTranscriptService(provider CaptionProvider, cache CaptionCache) (*TranscriptService, error) {
	if provider == nil {
		return nil, errors.New("usecase: caption provider must not be nil")
	}
	return &TranscriptService{provider: provider, cache: cache}, nil
}

func (s *TranscriptService) Fetch(ctx context.Context, videoID string) ([]domain.TranscriptEntry, error) {
	videoID = strings.TrimSpace(videoID)
	if videoID == "" {
		return nil, newPublicError(ErrorInvalidInput, "missing_video_id", msgMissingVideoID, nil)
	}

	if s.cache != nil {
		entries, found, err := s.cache.GetTranscript(ctx, videoID)
		if err != nil {
			slog.Warn("caption cache read failed", "videoId", videoID, "err", err)
		} else if found && len(entries) > 0 {
			slog.Debug("caption cache hit", "videoId", videoID, "entries", len(entries))
			return entries, nil
		}
	}

	entries, err := s.provider.FetchTranscript(ctx, videoID)
	if err != nil {
		reason := "caption_provider_error"
		if errors.Is(err, domain.ErrNoCaptions) {
			reason = "captions_unavailable"
		}
		return nil, newPublicError(ErrorRetrievalFailed, reason, msgTranscriptFetch, err)
	}
	if len(entries) == 0 {
		return nil, newPublicError(ErrorNotFound, "transcript_empty", msgNoTranscript, nil)
	}

	if s.cache != nil {
		if err := s.cache.PutTranscript(ctx, videoID, entries); err != nil {
			slog.Warn("caption cache write failed", "videoId", videoID, "err", err)
		}
	}
	return entries, nil
}

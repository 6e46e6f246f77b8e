package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"transcript-chat/internal/domain"
	"transcript-chat/internal/srt"
	"transcript-chat/internal/videoid"
)

const maxUploadBytes = 5 << 20

var (
	errNotSRT       = errors.New("only .srt files are supported")
	errFileTooLarge = fmt.Errorf("file is larger than %d MiB", maxUploadBytes>>20)
	errInvalidURL   = errors.New("invalid YouTube URL")
)

type commandKind int

const (
	cmdQuestion commandKind = iota
	cmdLoad
	cmdYouTube
	cmdShowTranscript
	cmdReset
	cmdQuit
	cmdHelp
	cmdUnknown
)

type command struct {
	kind commandKind
	arg  string
}

// parseCommand splits an input line into a slash command or a question.
func parseCommand(line string) command {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "/") {
		return command{kind: cmdQuestion, arg: line}
	}
	name, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)
	switch strings.ToLower(name) {
	case "/load":
		return command{kind: cmdLoad, arg: arg}
	case "/youtube", "/yt":
		return command{kind: cmdYouTube, arg: arg}
	case "/transcript":
		return command{kind: cmdShowTranscript}
	case "/reset":
		return command{kind: cmdReset}
	case "/quit", "/exit":
		return command{kind: cmdQuit}
	case "/help":
		return command{kind: cmdHelp}
	}
	return command{kind: cmdUnknown, arg: name}
}

// readSRT loads an .srt file from disk and flattens it to transcript text.
func readSRT(path string) (string, error) {
	if !strings.EqualFold(filepath.Ext(path), ".srt") {
		return "", errNotSRT
	}
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer func() { _ = f.Close() }()

	raw, err := io.ReadAll(io.LimitReader(f, maxUploadBytes+1))
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	if len(raw) > maxUploadBytes {
		return "", errFileTooLarge
	}
	return srt.Extract(string(raw)), nil
}

type transcriptFetcher interface {
	FetchTranscript(ctx context.Context, videoID string) ([]domain.TranscriptEntry, error)
}

// fetchYouTube resolves a pasted URL to caption text through the backend.
func fetchYouTube(ctx context.Context, f transcriptFetcher, rawURL string) (string, error) {
	id, ok := videoid.Extract(rawURL)
	if !ok {
		return "", errInvalidURL
	}
	entries, err := f.FetchTranscript(ctx, id)
	if err != nil {
		return "", err
	}
	return domain.JoinTranscript(entries), nil
}

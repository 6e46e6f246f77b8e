package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	tea "github.com/charmbracelet/bubbletea"

	"transcript-chat/internal/chatclient"
	"transcript-chat/internal/config"
	"transcript-chat/internal/conversation"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg := config.LoadClient()

	var logOut io.Writer = io.Discard
	if cfg.LogFile != "" {
		f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		defer func() { _ = f.Close() }()
		logOut = f
	}
	config.SetupLogging(logOut, cfg.LogLevel)

	client, err := chatclient.NewClient(cfg.APIURL, chatclient.WithTimeout(cfg.Timeout))
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var program *tea.Program
	session, err := conversation.NewSession(client, conversation.WithObserver(func(st conversation.State) {
		program.Send(stateMsg(st))
	}))
	if err != nil {
		return err
	}

	program = tea.NewProgram(newModel(ctx, session, client), tea.WithAltScreen(), tea.WithContext(ctx))
	slog.Info("starting terminal client", "api", cfg.APIURL)
	if _, err := program.Run(); err != nil {
		return fmt.Errorf("run terminal client: %w", err)
	}
	return nil
}

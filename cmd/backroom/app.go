package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"backroom/internal/chat"
	"backroom/internal/config"
	"backroom/internal/dispatch"
	"backroom/internal/history"
	"backroom/internal/render"
)

// app is one wired chat session.
type app struct {
	cfg       *config.Config
	transport *dispatch.HTTPTransport
	adapter   *dispatch.Adapter
	history   *history.Log
	session   *chat.Session
	theme     render.Theme
}

func newApp(cfg *config.Config, agentID string) (*app, error) {
	if agentID == "" {
		agentID = cfg.Agent.AgentID
	}

	theme, err := loadTheme(cfg)
	if err != nil {
		return nil, err
	}

	transport := dispatch.NewHTTPTransport(dispatch.HTTPTransportConfig{
		BaseURL: cfg.Agent.BaseURL,
		Client:  dispatch.NewHTTPClient(),
		Logger:  logger,
	})
	adapter := dispatch.New(dispatch.Config{
		Transport:  transport,
		UserID:     cfg.Agent.UserID,
		RoomPrefix: cfg.Agent.RoomPrefix,
		Author:     cfg.Agent.Name,
		Logger:     logger,
	})
	hist := history.New(logger)
	session := chat.NewSession(chat.Config{
		History:    hist,
		Dispatcher: adapter,
		AgentID:    agentID,
		Logger:     logger,
	})

	logger.Debug("session ready",
		"agent", agentID,
		"url", transport.MessageURL(agentID),
		"room", adapter.RoomID(agentID),
	)
	return &app{
		cfg:       cfg,
		transport: transport,
		adapter:   adapter,
		history:   hist,
		session:   session,
		theme:     theme,
	}, nil
}

// loadTheme applies the configured theme file and render overrides to the
// default theme.
func loadTheme(cfg *config.Config) (render.Theme, error) {
	theme := render.DefaultTheme()
	if cfg.Render.ThemeFile != "" {
		t, err := render.LoadTheme(cfg.Render.ThemeFile)
		if err != nil {
			return theme, fmt.Errorf("load theme: %w", err)
		}
		theme = t
	}
	if len(cfg.Render.Speakers) > 0 {
		theme.Speakers = cfg.Render.Speakers
	}
	if cfg.Render.MediaBaseURL != "" {
		theme.MediaBaseURL = cfg.Render.MediaBaseURL
	}
	return theme, nil
}

// setupLogging replaces the bootstrap logger with one honoring
// general.logLevel and general.logFile. The returned func closes the file.
func setupLogging(cfg *config.Config) (func(), error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(cfg.General.LogLevel))); err != nil {
		level = slog.LevelInfo
	}

	var w io.Writer = os.Stderr
	closeFn := func() {}
	if cfg.General.LogFile != "" {
		if err := os.MkdirAll(dirOf(cfg.General.LogFile), 0o755); err != nil {
			return closeFn, fmt.Errorf("create log directory: %w", err)
		}
		f, err := os.OpenFile(cfg.General.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return closeFn, fmt.Errorf("open log file: %w", err)
		}
		w = io.MultiWriter(os.Stderr, f)
		closeFn = func() { _ = f.Close() }
	}

	logger = slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
	return closeFn, nil
}

func dirOf(path string) string {
	if i := strings.LastIndexAny(path, `/\`); i > 0 {
		return path[:i]
	}
	return "."
}

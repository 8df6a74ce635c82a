package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alkime/companion/internal/audio"
	"github.com/alkime/companion/internal/call"
	"github.com/alkime/companion/internal/config"
	"github.com/alkime/companion/internal/history"
	"github.com/alkime/companion/internal/keyring"
	"github.com/alkime/companion/internal/logger"
	"github.com/alkime/companion/internal/tui"
	"github.com/alkime/companion/internal/voice"
	"github.com/alkime/companion/pkg/uictl"
	tea "github.com/charmbracelet/bubbletea"
	"go.uber.org/multierr"
)

const teardownTimeout = 5 * time.Second

// CallCmd is the default command. It runs a voice session in the terminal.
type CallCmd struct {
	Topic       string `arg:"" optional:"" help:"What to talk about"`
	CompanionID string `flag:"" name:"companion" default:"default" help:"Companion id used for session history"`
	Name        string `flag:"" default:"Neura" help:"Companion name"`
	Subject     string `flag:"" default:"science" help:"Subject area"`
	Style       string `flag:"" default:"casual" enum:"casual,formal" help:"Conversation style (casual or formal)"`
	Voice       string `flag:"" default:"female" enum:"female,male" help:"Companion voice (female or male)"`
	UserName    string `flag:"" name:"user" default:"You" help:"How the transcript names you"`
	SaveDir     string `flag:"" default:"transcripts" help:"Directory for saved transcripts"`
	NoMic       bool   `flag:"" help:"Connect without capturing audio"`
}

// Run executes the call command.
//
//nolint:funlen // CLI command with multiple setup steps
func (c *CallCmd) Run(cfg *config.Config) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	apiKey, source, err := keyring.Resolve(keyring.Voice, cfg.VoiceAPIKey)
	if err != nil {
		return fmt.Errorf("missing voice API key: %w", err)
	}

	// the TUI owns the terminal, so logs go to a file
	log, closer, err := logger.SetupFileLogger(cfg)
	if err != nil {
		return err
	}
	defer closer.Close()

	topic := c.Topic
	if topic == "" {
		topic = c.Subject
	}
	persona := call.Persona{
		CompanionID: c.CompanionID,
		Name:        c.Name,
		Subject:     c.Subject,
		Topic:       topic,
		Style:       c.Style,
		Voice:       c.Voice,
		UserName:    c.UserName,
	}

	voiceCfg := voice.Config{
		URL:         cfg.VoiceURL,
		APIKey:      apiKey,
		AssistantID: cfg.VoiceAssistantID,
		Logger:      log,
	}
	var levels uictl.Levels[int16]
	if !c.NoMic {
		mic := audio.NewMic(audio.NewDevice(audio.NewDeviceConfig(cfg.AudioSampleRate, cfg.AudioChannels)))
		voiceCfg.Mic = mic
		levels = mic.Meter()
	}
	client := voice.New(voiceCfg)

	session := call.NewSession(client, call.Config{
		Persona: persona,
		Retry: call.RetryPolicy{
			MaxRetries: cfg.CallMaxRetries,
			Delay:      cfg.CallRetryDelay,
		},
		History: history.NewClient(cfg.HistoryURL, nil),
		Logger:  log,
	})

	p := tea.NewProgram(tui.New(ctx, tui.Config{
		Controller: session,
		Levels:     levels,
		SaveDir:    c.SaveDir,
		Cancel:     cancel,
	}), tea.WithAltScreen())

	session.OnChange(tui.Observe(p))
	session.Mount(ctx)

	log.Info("Companion session screen opened", "companion", persona.CompanionID, "topic", persona.Topic,
		"key_source", source.String())

	_, runErr := p.Run()
	if runErr != nil {
		runErr = fmt.Errorf("failed to run TUI: %w", runErr)
	}

	teardownCtx, teardownCancel := context.WithTimeout(context.Background(), teardownTimeout)
	defer teardownCancel()

	err = multierr.Combine(
		runErr,
		session.Unmount(teardownCtx),
		client.Close(teardownCtx),
	)
	if err != nil {
		slog.Error("Session ended with errors", "error", err)
		return err
	}

	fmt.Println("\nsession over. bye!")

	return nil
}

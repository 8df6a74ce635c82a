package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/alecthomas/kong"
	"github.com/alkime/companion/internal/audio"
	"github.com/alkime/companion/internal/config"
	"github.com/alkime/companion/internal/history"
	"github.com/alkime/companion/internal/keyring"
	"github.com/alkime/companion/internal/recap"
)

// CLI defines the companion command structure.
type CLI struct {
	// Default command (runs when no subcommand given)
	Call CallCmd `cmd:"" default:"withargs" help:"Start a voice session with a companion"`

	// Subcommands
	Recap   RecapCmd   `cmd:"" help:"Summarize a saved transcript"`
	History HistoryCmd `cmd:"" help:"List recent sessions with a companion"`
	Devices DevicesCmd `cmd:"" help:"List available audio devices"`
	Config  ConfigCmd  `cmd:"" help:"Manage configuration"`
}

// RecapCmd summarizes a saved transcript.
type RecapCmd struct {
	File   string `arg:"" required:"" type:"existingfile" help:"Path to a saved transcript"`
	Output string `flag:"" short:"o" optional:"" help:"Write the recap to this file instead of stdout"`
}

// Run executes the recap command.
func (c *RecapCmd) Run(cfg *config.Config) error {
	apiKey, _, err := keyring.Resolve(keyring.Anthropic, cfg.AnthropicAPIKey)
	if err != nil {
		return fmt.Errorf("missing Anthropic API key: %w", err)
	}

	transcript, err := os.ReadFile(c.File)
	if err != nil {
		return fmt.Errorf("failed to read transcript: %w", err)
	}

	client, err := recap.NewClient(apiKey)
	if err != nil {
		return fmt.Errorf("failed to create recap client: %w", err)
	}

	slog.Debug("Generating recap", "file", c.File)

	result, err := client.Generate(context.Background(), string(transcript))
	if err != nil {
		return err
	}

	if c.Output == "" {
		fmt.Print(result.Markdown())
		return nil
	}

	if err := os.WriteFile(c.Output, []byte(result.Markdown()), 0o600); err != nil {
		return fmt.Errorf("failed to write recap: %w", err)
	}
	fmt.Printf("Recap written to %s\n", c.Output)

	return nil
}

// HistoryCmd lists recent sessions recorded by the history server.
type HistoryCmd struct {
	CompanionID string `arg:"" required:"" help:"Companion id"`
	Limit       int    `flag:"" default:"20" help:"Maximum number of sessions to show"`
}

// Run executes the history command.
func (c *HistoryCmd) Run(cfg *config.Config) error {
	client := history.NewClient(cfg.HistoryURL, nil)

	entries, err := client.List(context.Background(), c.CompanionID, c.Limit)
	if err != nil {
		return err
	}

	if len(entries) == 0 {
		fmt.Printf("No sessions with %s yet\n", c.CompanionID)
		return nil
	}

	for _, entry := range entries {
		fmt.Printf("%s  %s\n", entry.CreatedAt.Local().Format("2006-01-02 15:04"), entry.ID)
	}

	return nil
}

// DevicesCmd lists available audio devices.
type DevicesCmd struct{}

// Run executes the devices command.
func (dcmd *DevicesCmd) Run() error {
	slog.Info("Enumerating audio devices...")

	adev := audio.NewDevice(nil)
	devices, err := adev.EnumerateDevices(context.Background())
	if err != nil {
		return fmt.Errorf("failed to enumerate audio devices: %w", err)
	}

	for _, dev := range devices {
		slog.Info("Audio Device",
			"name", dev.Name,
			"isDefault", dev.IsDefault,
			"formatCount", dev.FormatCount,
			"formats", dev.Formats,
		)
	}

	return nil
}

// ConfigCmd groups configuration-related subcommands.
type ConfigCmd struct {
	SetKey    SetKeyCmd    `cmd:"" help:"Store an API key in system keychain"`
	DeleteKey DeleteKeyCmd `cmd:"" name:"delete-key" help:"Remove an API key from system keychain"`
	ListKeys  ListKeysCmd  `cmd:"" name:"list-keys" help:"Show which API keys are configured"`
}

// SetKeyCmd stores an API key in the system keychain.
type SetKeyCmd struct {
	Service string `arg:"" enum:"voice,anthropic" help:"Service name (voice or anthropic)"`
	Secret  string `arg:"" help:"API key value"`
}

// Run executes the set-key command.
func (c *SetKeyCmd) Run() error {
	apiKey, err := keyring.APIKeyFromServiceName(c.Service)
	if err != nil {
		return fmt.Errorf("invalid service: %w", err)
	}

	if err := keyring.Set(apiKey, c.Secret); err != nil {
		return fmt.Errorf("failed to store API key: %w", err)
	}

	fmt.Printf("%s API key stored in keychain\n", c.Service)

	return nil
}

// DeleteKeyCmd removes an API key from the system keychain.
type DeleteKeyCmd struct {
	Service string `arg:"" enum:"voice,anthropic" help:"Service name (voice or anthropic)"`
}

// Run executes the delete-key command.
func (c *DeleteKeyCmd) Run() error {
	apiKey, err := keyring.APIKeyFromServiceName(c.Service)
	if err != nil {
		return fmt.Errorf("invalid service: %w", err)
	}

	if err := keyring.Delete(apiKey); err != nil {
		return err
	}

	fmt.Printf("%s API key removed from keychain\n", c.Service)

	return nil
}

// ListKeysCmd shows which API keys are configured and where they come from.
type ListKeysCmd struct{}

// Run executes the list-keys command.
//
//nolint:unparam // error return required by Kong interface
func (c *ListKeysCmd) Run(cfg *config.Config) error {
	env := map[keyring.APIKey]string{
		keyring.Voice:     cfg.VoiceAPIKey,
		keyring.Anthropic: cfg.AnthropicAPIKey,
	}

	allSet := true
	for _, apiKey := range keyring.AllAPIKeys() {
		source := keyring.Lookup(apiKey, env[apiKey])
		fmt.Printf("%s: %s\n", apiKey.DisplayName(), source)
		if source == keyring.SourceNone {
			allSet = false
		}
	}

	if !allSet {
		fmt.Println("\nRun 'companion config set-key <service> <key>' to configure.")
	}

	return nil
}

func main() {
	// Set up text-based logger for CLI output
	//nolint:exhaustruct // Using default values for other HandlerOptions fields
	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})
	slog.SetDefault(slog.New(handler))

	cli := &CLI{} //nolint:exhaustruct // Kong fills in command fields
	ctx := kong.Parse(cli,
		kong.Name("companion"),
		kong.Description("Talk through a topic with an AI companion."),
	)

	cfg, err := config.LoadConfig()
	ctx.FatalIfErrorf(err)

	err = ctx.Run(cfg)
	ctx.FatalIfErrorf(err)
	os.Exit(0)
}

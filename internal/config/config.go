package config

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

const (
	// EnvProduction represents the production environment.
	EnvProduction = "production"
)

// Config holds all application configuration.
type Config struct {
	Env string `envconfig:"ENV" default:"development"`

	// Logging settings
	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"text"`
	LogFile   string `envconfig:"LOG_FILE" default:"companion.log"`

	// Voice service settings
	VoiceURL         string `envconfig:"VOICE_URL" default:"ws://localhost:8090/call"`
	VoiceAPIKey      string `envconfig:"VOICE_API_KEY"`
	VoiceAssistantID string `envconfig:"VOICE_ASSISTANT_ID"`

	// Call lifecycle settings
	CallMaxRetries int           `envconfig:"CALL_MAX_RETRIES" default:"3"`
	CallRetryDelay time.Duration `envconfig:"CALL_RETRY_DELAY" default:"2s"`

	// Session history service
	HistoryURL string `envconfig:"HISTORY_URL" default:"http://localhost:8080"`

	// Server settings
	Port       string `envconfig:"PORT" default:"8080"`
	HSTSMaxAge int    `envconfig:"HSTS_MAX_AGE" default:"31536000"`
	CSPMode    string `envconfig:"CSP_MODE" default:"relaxed"`

	// Recap settings
	AnthropicAPIKey string `envconfig:"ANTHROPIC_API_KEY"`

	// Audio capture settings
	AudioSampleRate uint32 `envconfig:"AUDIO_SAMPLE_RATE" default:"16000"`
	AudioChannels   uint32 `envconfig:"AUDIO_CHANNELS" default:"1"`
}

// LoadConfig loads configuration from .env file and environment variables.
func LoadConfig() (*Config, error) {
	// Try to load .env file (optional for development)
	if err := godotenv.Load(); err != nil {
		// Not an error if file doesn't exist (expected in production)
		if !os.IsNotExist(err) {
			log.Printf("Warning: Error loading .env file: %v", err)
		}
	}

	var config Config
	if err := envconfig.Process("", &config); err != nil {
		return nil, fmt.Errorf("failed to process environment variables: %w", err)
	}

	if config.CallMaxRetries < 1 {
		return nil, fmt.Errorf("CALL_MAX_RETRIES must be at least 1, got %d", config.CallMaxRetries)
	}
	if config.CallRetryDelay <= 0 {
		return nil, fmt.Errorf("CALL_RETRY_DELAY must be positive, got %s", config.CallRetryDelay)
	}

	return &config, nil
}

// BuildCSP constructs Content Security Policy based on mode.
func BuildCSP(mode string) string {
	if mode == "strict" {
		return "default-src 'none'; " +
			"frame-ancestors 'none'; " +
			"base-uri 'none'; " +
			"form-action 'none'"
	}

	// Development/relaxed CSP
	return "default-src 'self'; " +
		"style-src 'self' 'unsafe-inline'; " +
		"img-src 'self' data:"
}

// Package keyring resolves the companion's API keys from the environment or
// the system keychain.
package keyring

import (
	"errors"
	"fmt"
	"strings"

	"github.com/zalando/go-keyring"
)

const serviceName = "companion"

// ErrNotConfigured is returned when a key is in neither the environment nor
// the keychain.
var ErrNotConfigured = errors.New("API key not configured")

// APIKey names a secret the companion needs.
type APIKey string

const (
	// Voice authenticates against the voice service.
	Voice APIKey = "voice-api-key"
	// Anthropic is used for post-call recaps.
	Anthropic APIKey = "anthropic-api-key"
)

// AllAPIKeys returns all known API keys for iteration.
func AllAPIKeys() []APIKey {
	return []APIKey{Voice, Anthropic}
}

// DisplayName is the service name used on the command line.
func (k APIKey) DisplayName() string {
	return strings.TrimSuffix(string(k), "-api-key")
}

// EnvVar is the environment variable that overrides the keychain entry.
func (k APIKey) EnvVar() string {
	return strings.ToUpper(strings.ReplaceAll(string(k), "-", "_"))
}

// Source tells where a resolved key came from.
type Source int

const (
	SourceNone Source = iota
	SourceEnv
	SourceKeychain
)

func (s Source) String() string {
	switch s {
	case SourceEnv:
		return "environment"
	case SourceKeychain:
		return "keychain"
	default:
		return "not set"
	}
}

// Resolve returns envValue when set, otherwise the keychain entry.
func Resolve(apiKey APIKey, envValue string) (string, Source, error) {
	if v := strings.TrimSpace(envValue); v != "" {
		return v, SourceEnv, nil
	}

	value, err := keyring.Get(serviceName, string(apiKey))
	switch {
	case errors.Is(err, keyring.ErrNotFound):
		return "", SourceNone, fmt.Errorf("%w: set %s or run 'companion config set-key %s <key>'",
			ErrNotConfigured, apiKey.EnvVar(), apiKey.DisplayName())
	case err != nil:
		return "", SourceNone, fmt.Errorf("failed to get %s from keychain: %w", apiKey.DisplayName(), err)
	}

	return value, SourceKeychain, nil
}

// Lookup reports where apiKey would be resolved from.
func Lookup(apiKey APIKey, envValue string) Source {
	_, source, _ := Resolve(apiKey, envValue)
	return source
}

// Set stores an API key in the system keychain.
func Set(apiKey APIKey, value string) error {
	value = strings.TrimSpace(value)
	if value == "" {
		return errors.New("API key cannot be empty")
	}
	if err := keyring.Set(serviceName, string(apiKey), value); err != nil {
		return fmt.Errorf("failed to set %s in keychain: %w", apiKey.DisplayName(), err)
	}

	return nil
}

// Delete removes an API key from the keychain. Removing a missing key is not an error.
func Delete(apiKey APIKey) error {
	err := keyring.Delete(serviceName, string(apiKey))
	if err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return fmt.Errorf("failed to delete %s from keychain: %w", apiKey.DisplayName(), err)
	}

	return nil
}

// APIKeyFromServiceName maps a service name (e.g., "voice") to an APIKey.
func APIKeyFromServiceName(name string) (APIKey, error) {
	for _, k := range AllAPIKeys() {
		if k.DisplayName() == name {
			return k, nil
		}
	}

	return "", fmt.Errorf("unknown service: %s", name)
}

package config

import (
	"errors"
	"os"
	"strings"
)

// ErrNoAPIKey is returned when no API key is configured.
var ErrNoAPIKey = errors.New("no Anthropic API key configured")

// APIKey resolves the Anthropic API key: environment variable first,
// then the config file. Bedrock deployments need no key.
func APIKey(cfg *Config) (string, error) {
	if cfg != nil && cfg.Anthropic.UseAWSBedrock {
		return "", nil
	}
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
		return key, nil
	}
	if cfg != nil && cfg.Anthropic.APIKey != "" {
		key := os.ExpandEnv(cfg.Anthropic.APIKey)
		if key != "" && !strings.HasPrefix(key, "${") {
			return key, nil
		}
	}
	return "", ErrNoAPIKey
}

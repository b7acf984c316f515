// Package config handles daemon configuration and the on-disk home
// layout. Configuration loads from the home's config.yaml with
// environment variable overrides.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all daemon configuration.
type Config struct {
	Anthropic AnthropicConfig `mapstructure:"anthropic"`
	Defaults  DefaultsConfig  `mapstructure:"defaults"`
	Dispatch  DispatchConfig  `mapstructure:"dispatch"`
	Merge     MergeConfig     `mapstructure:"merge"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Session   SessionConfig   `mapstructure:"session"`
}

// AnthropicConfig holds API access settings.
type AnthropicConfig struct {
	APIKey        string `mapstructure:"api_key"`
	UseAWSBedrock bool   `mapstructure:"use_aws_bedrock"`
	AWSRegion     string `mapstructure:"aws_region"`
	AWSProfile    string `mapstructure:"aws_profile"`
}

// DefaultsConfig holds org-wide defaults.
type DefaultsConfig struct {
	// Model is the model for agents that do not name their own.
	Model string `mapstructure:"model"`
	// HumanMember is the name messages from agents to a person route to.
	HumanMember string `mapstructure:"human_member"`
}

// DispatchConfig holds scheduler settings.
type DispatchConfig struct {
	MaxConcurrent int           `mapstructure:"max_concurrent"`
	Interval      time.Duration `mapstructure:"interval"`
	StopTimeout   time.Duration `mapstructure:"stop_timeout"`
}

// MergeConfig holds merge coordinator settings.
type MergeConfig struct {
	Interval   time.Duration `mapstructure:"interval"`
	MainBranch string        `mapstructure:"main_branch"`
}

// HTTPConfig holds the local API settings.
type HTTPConfig struct {
	// Listen is the address of the local HTTP facade.
	Listen string `mapstructure:"listen"`
}

// SessionConfig holds per-session settings shared by all agents.
type SessionConfig struct {
	// MaxContextTokens triggers rotation once cumulative input exceeds it.
	MaxContextTokens int64 `mapstructure:"max_context_tokens"`
	// RotationPrompt asks a session to summarize itself before reset.
	RotationPrompt string `mapstructure:"rotation_prompt"`
	// DeniedBashPatterns deny shell commands by substring.
	DeniedBashPatterns []string `mapstructure:"denied_bash_patterns"`
	// DisallowedTools removes tools from agent sessions entirely.
	DisallowedTools []string `mapstructure:"disallowed_tools"`
}

const defaultRotationPrompt = "Summarize the state of your current work: what you were doing, " +
	"decisions made, and what remains. The summary becomes your memory in a fresh session."

// Load reads config.yaml from the daemon home, applying defaults and
// environment overrides. A missing file yields pure defaults.
func Load(home *Home) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(home.Root())

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	v.AutomaticEnv()
	v.BindEnv("anthropic.api_key", "ANTHROPIC_API_KEY")
	v.BindEnv("anthropic.aws_region", "AWS_REGION")

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	cfg.Anthropic.APIKey = expandEnv(cfg.Anthropic.APIKey)
	return cfg, nil
}

// LoadFromPath loads configuration from a specific file, for tests.
func LoadFromPath(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	cfg.Anthropic.APIKey = expandEnv(cfg.Anthropic.APIKey)
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("defaults.model", "")
	v.SetDefault("defaults.human_member", "operator")
	v.SetDefault("dispatch.max_concurrent", 32)
	v.SetDefault("dispatch.interval", time.Second)
	v.SetDefault("dispatch.stop_timeout", 15*time.Second)
	v.SetDefault("merge.interval", 2*time.Second)
	v.SetDefault("merge.main_branch", "main")
	v.SetDefault("http.listen", "127.0.0.1:7777")
	v.SetDefault("session.max_context_tokens", 80_000)
	v.SetDefault("session.rotation_prompt", defaultRotationPrompt)
}

// expandEnv expands ${VAR} references in a config value.
func expandEnv(s string) string {
	if strings.Contains(s, "${") {
		return os.Expand(s, os.Getenv)
	}
	return s
}

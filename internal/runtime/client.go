// Package runtime executes session turns against the Anthropic API. It
// keeps per-handle conversation history so a session can resume across
// turns, runs the tool loop, and reports per-turn token usage and cost.
package runtime

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/bedrock"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/aws/aws-sdk-go-v2/config"
)

// ClientConfig configures the API client.
type ClientConfig struct {
	// Model is the default model when a turn does not name one.
	Model string
	// APIKey overrides the ANTHROPIC_API_KEY environment variable.
	APIKey string
	// UseAWSBedrock routes requests through AWS Bedrock instead of the
	// direct API.
	UseAWSBedrock bool
	// AWSRegion and AWSProfile apply only with UseAWSBedrock.
	AWSRegion  string
	AWSProfile string
}

// Client wraps the Anthropic SDK client.
type Client struct {
	inner   anthropic.Client
	model   anthropic.Model
	bedrock bool
}

// NewClient creates an API client from the given configuration.
func NewClient(cfg ClientConfig) (*Client, error) {
	var opts []option.RequestOption

	if cfg.UseAWSBedrock {
		ctx := context.Background()

		var loadOpts []func(*config.LoadOptions) error
		if cfg.AWSRegion != "" {
			loadOpts = append(loadOpts, config.WithRegion(cfg.AWSRegion))
		}
		if cfg.AWSProfile != "" {
			loadOpts = append(loadOpts, config.WithSharedConfigProfile(cfg.AWSProfile))
		}

		opts = append(opts, bedrock.WithLoadDefaultConfig(ctx, loadOpts...))
	} else {
		apiKey := cfg.APIKey
		if apiKey == "" {
			apiKey = os.Getenv("ANTHROPIC_API_KEY")
		}
		if apiKey == "" {
			return nil, fmt.Errorf("ANTHROPIC_API_KEY environment variable is not set")
		}
		opts = append(opts, option.WithAPIKey(apiKey))
	}

	model := anthropic.Model(cfg.Model)
	if model == "" {
		model = anthropic.ModelClaudeSonnet4_5_20250929
	}
	if cfg.UseAWSBedrock {
		model = translateModelForBedrock(model)
	}

	return &Client{
		inner:   anthropic.NewClient(opts...),
		model:   model,
		bedrock: cfg.UseAWSBedrock,
	}, nil
}

// translateModelForBedrock converts standard model names to Bedrock
// cross-region inference profile format: us.anthropic.{model}-v1:0.
func translateModelForBedrock(model anthropic.Model) anthropic.Model {
	if strings.HasPrefix(string(model), "us.anthropic.") {
		return model
	}
	bedrockModels := map[anthropic.Model]string{
		anthropic.ModelClaudeSonnet4_20250514:   "us.anthropic.claude-sonnet-4-20250514-v1:0",
		anthropic.ModelClaudeSonnet4_5_20250929: "us.anthropic.claude-sonnet-4-5-20250929-v1:0",
		anthropic.ModelClaudeHaiku4_5_20251001:  "us.anthropic.claude-haiku-4-5-20251001-v1:0",
		anthropic.ModelClaudeOpus4_1_20250805:   "us.anthropic.claude-opus-4-1-20250805-v1:0",
		anthropic.ModelClaudeOpus4_5_20251101:   "us.anthropic.claude-opus-4-5-20251101-v1:0",
		anthropic.ModelClaude3_5Haiku20241022:   "us.anthropic.claude-3-5-haiku-20241022-v1:0",
	}
	if bedrockModel, ok := bedrockModels[model]; ok {
		return anthropic.Model(bedrockModel)
	}
	return model
}

// Model returns the client's default model.
func (c *Client) Model() anthropic.Model {
	return c.model
}

// resolveModel picks the turn's model, translating for Bedrock if needed.
func (c *Client) resolveModel(model string) anthropic.Model {
	if model == "" {
		return c.model
	}
	m := anthropic.Model(model)
	if c.bedrock {
		m = translateModelForBedrock(m)
	}
	return m
}

// sdk returns the underlying SDK client.
func (c *Client) sdk() *anthropic.Client {
	return &c.inner
}

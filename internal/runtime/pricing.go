package runtime

import "strings"

// ModelPricing is cost per 1M tokens for a model.
type ModelPricing struct {
	InputPerMillion      float64
	OutputPerMillion     float64
	CacheReadPerMillion  float64
	CacheWritePerMillion float64
}

// defaultPricing covers known model families. Bedrock inference profile
// names resolve to the same family.
var defaultPricing = map[string]ModelPricing{
	"claude-opus-4-5":   {InputPerMillion: 15.00, OutputPerMillion: 75.00, CacheReadPerMillion: 1.50, CacheWritePerMillion: 18.75},
	"claude-opus-4-1":   {InputPerMillion: 15.00, OutputPerMillion: 75.00, CacheReadPerMillion: 1.50, CacheWritePerMillion: 18.75},
	"claude-sonnet-4-5": {InputPerMillion: 3.00, OutputPerMillion: 15.00, CacheReadPerMillion: 0.30, CacheWritePerMillion: 3.75},
	"claude-sonnet-4":   {InputPerMillion: 3.00, OutputPerMillion: 15.00, CacheReadPerMillion: 0.30, CacheWritePerMillion: 3.75},
	"claude-haiku-4-5":  {InputPerMillion: 1.00, OutputPerMillion: 5.00, CacheReadPerMillion: 0.10, CacheWritePerMillion: 1.25},
	"claude-3-5-haiku":  {InputPerMillion: 0.80, OutputPerMillion: 4.00, CacheReadPerMillion: 0.08, CacheWritePerMillion: 1.00},
}

// PricingFor returns the pricing for a model name, matching by family
// prefix after stripping any Bedrock profile decoration. The zero value
// is returned for unknown models, so cost degrades to zero rather than
// failing the turn.
func PricingFor(model string) ModelPricing {
	name := strings.TrimPrefix(model, "us.anthropic.")
	var best string
	for family := range defaultPricing {
		if strings.HasPrefix(name, family) && len(family) > len(best) {
			best = family
		}
	}
	return defaultPricing[best]
}

// Cost computes the USD cost of one turn's token counts.
func (p ModelPricing) Cost(input, output, cacheRead, cacheWrite int64) float64 {
	return float64(input)/1_000_000*p.InputPerMillion +
		float64(output)/1_000_000*p.OutputPerMillion +
		float64(cacheRead)/1_000_000*p.CacheReadPerMillion +
		float64(cacheWrite)/1_000_000*p.CacheWritePerMillion
}

package runtime

import "testing"

func TestPricingFor(t *testing.T) {
	tests := []struct {
		model     string
		wantInput float64
	}{
		{"claude-sonnet-4-5-20250929", 3.00},
		{"claude-opus-4-5-20251101", 15.00},
		{"claude-haiku-4-5-20251001", 1.00},
		// Bedrock inference profile decoration resolves to the family.
		{"us.anthropic.claude-sonnet-4-5-20250929-v1:0", 3.00},
		// Unknown models degrade to zero pricing instead of failing.
		{"some-other-model", 0},
	}
	for _, tt := range tests {
		if got := PricingFor(tt.model).InputPerMillion; got != tt.wantInput {
			t.Errorf("PricingFor(%q).InputPerMillion = %v, want %v", tt.model, got, tt.wantInput)
		}
	}
}

func TestPricingFor_LongestFamilyWins(t *testing.T) {
	// claude-sonnet-4-5 is also prefixed by claude-sonnet-4; the more
	// specific family must win regardless of map order.
	p45 := PricingFor("claude-sonnet-4-5-20250929")
	p4 := PricingFor("claude-sonnet-4-20250514")
	if p45.CacheReadPerMillion != 0.30 {
		t.Errorf("sonnet-4-5 cache read = %v", p45.CacheReadPerMillion)
	}
	if p4.InputPerMillion != 3.00 {
		t.Errorf("sonnet-4 input = %v", p4.InputPerMillion)
	}
}

func TestCost(t *testing.T) {
	p := ModelPricing{InputPerMillion: 3, OutputPerMillion: 15, CacheReadPerMillion: 0.3, CacheWritePerMillion: 3.75}

	got := p.Cost(1_000_000, 0, 0, 0)
	if got != 3 {
		t.Errorf("input-only cost = %v, want 3", got)
	}

	got = p.Cost(100_000, 10_000, 50_000, 20_000)
	want := 0.3 + 0.15 + 0.015 + 0.075
	if diff := got - want; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("mixed cost = %v, want %v", got, want)
	}

	var zero ModelPricing
	if zero.Cost(1_000_000, 1_000_000, 0, 0) != 0 {
		t.Error("zero pricing produced nonzero cost")
	}
}

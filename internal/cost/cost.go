// Package cost applies per-model pricing to token usage.
package cost

import "strings"

// Tier holds USD cost per 1,000,000 tokens for one model-prefix row.
type Tier struct {
	Prefix        string
	Input         float64
	Output        float64
	CacheRead     float64
	CacheCreation float64
}

// Table is an ordered pricing table; the first matching prefix wins. An
// unknown model coerces to the sonnet row.
type Table []Tier

var defaultTable = Table{
	{Prefix: "claude-opus", Input: 15.0, Output: 75.0, CacheRead: 1.5, CacheCreation: 18.75},
	{Prefix: "claude-sonnet", Input: 3.0, Output: 15.0, CacheRead: 0.3, CacheCreation: 3.75},
	{Prefix: "claude-haiku", Input: 0.8, Output: 4.0, CacheRead: 0.08, CacheCreation: 1.00},
}

// DefaultTable returns the built-in pricing table.
func DefaultTable() Table {
	return defaultTable
}

func (t Table) tierFor(model string) Tier {
	for _, tier := range t {
		if strings.HasPrefix(model, tier.Prefix) {
			return tier
		}
	}
	for _, tier := range t {
		if strings.Contains(tier.Prefix, "sonnet") {
			return tier
		}
	}
	return defaultTable[1]
}

// Usage is one usage snapshot/delta to be costed.
type Usage struct {
	InputTokens              uint64 `json:"inputTokens"`
	OutputTokens             uint64 `json:"outputTokens"`
	CacheReadInputTokens     uint64 `json:"cacheReadInputTokens"`
	CacheCreationInputTokens uint64 `json:"cacheCreationInputTokens"`
}

// Calculate returns the USD cost of u under model's tier in t. Additive
// over usages of the same model within floating-point rounding error.
func (t Table) Calculate(model string, u Usage) float64 {
	p := t.tierFor(model)
	return float64(u.InputTokens)*p.Input/1_000_000 +
		float64(u.OutputTokens)*p.Output/1_000_000 +
		float64(u.CacheReadInputTokens)*p.CacheRead/1_000_000 +
		float64(u.CacheCreationInputTokens)*p.CacheCreation/1_000_000
}

// Calculate prices u with the built-in table.
func Calculate(model string, u Usage) float64 {
	return defaultTable.Calculate(model, u)
}

// Package usage tracks token consumption and dollar cost across LLM
// calls, aggregated by provider, model, and role, persisted per
// workspace as JSON.
package usage

import "strings"

// ModelPrice is the per-million-token price for one model.
type ModelPrice struct {
	InputPerMTok  float64
	OutputPerMTok float64
}

// priceTable maps model ids to prices in USD per million tokens. The
// "default" entry covers unknown models so cost accounting never
// silently reports zero.
var priceTable = map[string]ModelPrice{
	"gpt-4o":                     {InputPerMTok: 2.50, OutputPerMTok: 10.00},
	"gpt-4o-mini":                {InputPerMTok: 0.15, OutputPerMTok: 0.60},
	"gpt-4.1":                    {InputPerMTok: 2.00, OutputPerMTok: 8.00},
	"gpt-4.1-mini":               {InputPerMTok: 0.40, OutputPerMTok: 1.60},
	"o3-mini":                    {InputPerMTok: 1.10, OutputPerMTok: 4.40},
	"claude-sonnet-4-20250514":   {InputPerMTok: 3.00, OutputPerMTok: 15.00},
	"claude-3-5-haiku-20241022":  {InputPerMTok: 0.80, OutputPerMTok: 4.00},
	"claude-opus-4-20250514":     {InputPerMTok: 15.00, OutputPerMTok: 75.00},
	"gemini-2.5-pro":             {InputPerMTok: 1.25, OutputPerMTok: 10.00},
	"gemini-2.5-flash":           {InputPerMTok: 0.30, OutputPerMTok: 2.50},
	"gemini-2.0-flash":           {InputPerMTok: 0.10, OutputPerMTok: 0.40},
	"deepseek-chat":              {InputPerMTok: 0.27, OutputPerMTok: 1.10},
	"llama-3.3-70b-versatile":    {InputPerMTok: 0.59, OutputPerMTok: 0.79},
	"mistral-large-latest":       {InputPerMTok: 2.00, OutputPerMTok: 6.00},

	"default": {InputPerMTok: 1.00, OutputPerMTok: 3.00},
}

// PriceFor returns the price entry for a model, falling back to a
// prefix match (versioned model ids) and then to the default entry.
func PriceFor(model string) ModelPrice {
	if p, ok := priceTable[model]; ok {
		return p
	}
	for id, p := range priceTable {
		if id != "default" && strings.HasPrefix(model, id) {
			return p
		}
	}
	return priceTable["default"]
}

// Cost computes the dollar cost of one call.
func Cost(model string, inputTokens, outputTokens int) float64 {
	p := PriceFor(model)
	return float64(inputTokens)/1e6*p.InputPerMTok + float64(outputTokens)/1e6*p.OutputPerMTok
}

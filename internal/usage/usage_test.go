package usage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCostKnownModel(t *testing.T) {
	// gpt-4o-mini: $0.15/M in, $0.60/M out
	cost := Cost("gpt-4o-mini", 1_000_000, 500_000)
	assert.InDelta(t, 0.15+0.30, cost, 1e-9)
}

func TestCostUnknownModelUsesDefault(t *testing.T) {
	cost := Cost("totally-new-model", 1_000_000, 1_000_000)
	def := priceTable["default"]
	assert.InDelta(t, def.InputPerMTok+def.OutputPerMTok, cost, 1e-9)
}

func TestPriceForPrefixMatch(t *testing.T) {
	p := PriceFor("gpt-4o-mini-2024-07-18")
	assert.Equal(t, priceTable["gpt-4o-mini"].InputPerMTok, p.InputPerMTok)
}

func TestTrackerAggregatesAndPersists(t *testing.T) {
	ws := t.TempDir()
	tracker, err := NewTracker(ws)
	require.NoError(t, err)

	c1 := tracker.Track("openai", "gpt-4o-mini", "worker", 1000, 500)
	c2 := tracker.Track("openai", "gpt-4o-mini", "lead", 2000, 1000)
	assert.Greater(t, c1, 0.0)

	stats := tracker.Stats()
	assert.Equal(t, 3000, stats.Total.Input)
	assert.Equal(t, 1500, stats.Total.Output)
	assert.Equal(t, 4500, stats.Total.Total)
	assert.Equal(t, 2, stats.Total.Calls)
	assert.InDelta(t, c1+c2, stats.Total.CostUSD, 1e-9)
	assert.Equal(t, 2, stats.ByProvider["openai"].Calls)
	assert.Equal(t, 1, stats.ByRole["lead"].Calls)
	assert.Equal(t, 1, stats.ByRole["worker"].Calls)

	require.NoError(t, tracker.Save())

	// Reopen and confirm the aggregates survived.
	reopened, err := NewTracker(ws)
	require.NoError(t, err)
	assert.Equal(t, 4500, reopened.Stats().Total.Total)
}

func TestStatsReturnsCopy(t *testing.T) {
	ws := t.TempDir()
	tracker, err := NewTracker(ws)
	require.NoError(t, err)

	tracker.Track("openai", "gpt-4o", "lead", 10, 10)
	stats := tracker.Stats()
	stats.ByModel["gpt-4o"] = TokenCounts{Total: 999}

	assert.Equal(t, 20, tracker.Stats().ByModel["gpt-4o"].Total)
}

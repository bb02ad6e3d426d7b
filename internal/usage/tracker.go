package usage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// TokenCounts aggregates token totals and cost for one key.
type TokenCounts struct {
	Input   int     `json:"input"`
	Output  int     `json:"output"`
	Total   int     `json:"total"`
	Calls   int     `json:"calls"`
	CostUSD float64 `json:"cost_usd"`
}

func (c *TokenCounts) add(input, output int, cost float64) {
	c.Input += input
	c.Output += output
	c.Total += input + output
	c.Calls++
	c.CostUSD += cost
}

// Stats is the aggregate view returned to callers.
type Stats struct {
	Total      TokenCounts            `json:"total"`
	ByProvider map[string]TokenCounts `json:"by_provider"`
	ByModel    map[string]TokenCounts `json:"by_model"`
	ByRole     map[string]TokenCounts `json:"by_role"`
	UpdatedAt  time.Time              `json:"updated_at"`
}

// Tracker records token usage, aggregated in memory and persisted to
// .winterfox/usage.json in the workspace.
type Tracker struct {
	mu       sync.Mutex
	stats    Stats
	filePath string
}

// NewTracker opens (or creates) the usage file for a workspace.
func NewTracker(workspacePath string) (*Tracker, error) {
	dir := filepath.Join(workspacePath, ".winterfox")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create .winterfox dir: %w", err)
	}

	t := &Tracker{
		filePath: filepath.Join(dir, "usage.json"),
		stats: Stats{
			ByProvider: make(map[string]TokenCounts),
			ByModel:    make(map[string]TokenCounts),
			ByRole:     make(map[string]TokenCounts),
		},
	}
	if err := t.load(); err != nil {
		// Corrupt or missing usage files start fresh rather than block a run.
		t.stats = Stats{
			ByProvider: make(map[string]TokenCounts),
			ByModel:    make(map[string]TokenCounts),
			ByRole:     make(map[string]TokenCounts),
		}
	}
	return t, nil
}

func (t *Tracker) load() error {
	data, err := os.ReadFile(t.filePath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, &t.stats); err != nil {
		return err
	}
	if t.stats.ByProvider == nil {
		t.stats.ByProvider = make(map[string]TokenCounts)
	}
	if t.stats.ByModel == nil {
		t.stats.ByModel = make(map[string]TokenCounts)
	}
	if t.stats.ByRole == nil {
		t.stats.ByRole = make(map[string]TokenCounts)
	}
	return nil
}

// Track records one LLM call and returns its computed cost. Role is
// "lead", "worker", or "report".
func (t *Tracker) Track(provider, model, role string, inputTokens, outputTokens int) float64 {
	cost := Cost(model, inputTokens, outputTokens)

	t.mu.Lock()
	defer t.mu.Unlock()

	t.stats.Total.add(inputTokens, outputTokens, cost)

	p := t.stats.ByProvider[provider]
	p.add(inputTokens, outputTokens, cost)
	t.stats.ByProvider[provider] = p

	m := t.stats.ByModel[model]
	m.add(inputTokens, outputTokens, cost)
	t.stats.ByModel[model] = m

	r := t.stats.ByRole[role]
	r.add(inputTokens, outputTokens, cost)
	t.stats.ByRole[role] = r

	t.stats.UpdatedAt = time.Now().UTC()
	return cost
}

// Stats returns a copy of the current aggregates.
func (t *Tracker) Stats() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := t.stats
	out.ByProvider = copyCounts(t.stats.ByProvider)
	out.ByModel = copyCounts(t.stats.ByModel)
	out.ByRole = copyCounts(t.stats.ByRole)
	return out
}

// Save writes the aggregates to disk.
func (t *Tracker) Save() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	data, err := json.MarshalIndent(t.stats, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(t.filePath, data, 0644)
}

func copyCounts(m map[string]TokenCounts) map[string]TokenCounts {
	out := make(map[string]TokenCounts, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

package research

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"winterfox/internal/store"
	"winterfox/internal/types"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.EnsureWorkspace("ws1", "w"))
	return s
}

func saveCycle(t *testing.T, s *store.Store, id int, success bool, mutate func(*types.CycleRecord)) {
	t.Helper()
	r := &types.CycleRecord{
		CycleID:     id,
		WorkspaceID: "ws1",
		TargetClaim: "target claim",
		Success:     success,
		CreatedAt:   time.Now().UTC(),
	}
	if mutate != nil {
		mutate(r)
	}
	require.NoError(t, s.SaveCycleRecord(r))
}

func TestBuildEmptyWithoutSuccessfulCycles(t *testing.T) {
	s := newTestStore(t)
	b := NewContextBuilder(s, DefaultSectionBudgets())

	out, err := b.Build(context.Background(), "ws1")
	require.NoError(t, err)
	assert.Empty(t, out)

	// A failed cycle alone does not trigger context.
	saveCycle(t, s, 1, false, nil)
	out, err = b.Build(context.Background(), "ws1")
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestBuildAssemblesSections(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.CreateNode(&types.Direction{
		ID: uuid.NewString(), WorkspaceID: "ws1",
		Claim: "Grid storage demand doubles by 2030",
		Confidence: 0.3, Importance: 0.9,
		Status: types.StatusActive, Kind: types.KindDirection,
	}))

	saveCycle(t, s, 1, true, func(r *types.CycleRecord) {
		r.TargetClaim = "Grid storage demand doubles by 2030"
		r.SynthesisReasoning = "Workers converged on utility-scale deployments."
		r.ConsensusFindings = []string{"Utility deals dominate", "Costs fell 30%", "China leads capacity", "fourth item"}
		r.Contradictions = []string{"One source claims costs rose"}
		r.CreatedIDs = []string{"a", "b"}
		r.UpdatedIDs = []string{"c"}
		r.Workers = []types.WorkerOutput{
			{AgentName: "w1", Critique: "Could not verify 2030 projections", Searches: []types.SearchRecord{
				{Query: "grid storage forecast"},
				{Query: "GRID STORAGE FORECAST"},
				{Query: "vanadium flow battery costs"},
			}},
		}
	})

	b := NewContextBuilder(s, DefaultSectionBudgets())
	out, err := b.Build(context.Background(), "ws1")
	require.NoError(t, err)

	assert.Contains(t, out, "## RESEARCH GRAPH SUMMARY")
	assert.Contains(t, out, "## PRIOR CYCLE SUMMARIES")
	assert.Contains(t, out, "### Cycle 1: Grid storage demand doubles by 2030")
	assert.Contains(t, out, "2 created, 1 updated")
	assert.Contains(t, out, "Utility deals dominate")
	assert.NotContains(t, out, "fourth item")

	assert.Contains(t, out, "## SEARCHES ALREADY PERFORMED")
	assert.Contains(t, out, "grid storage forecast")
	assert.Contains(t, out, "vanadium flow battery costs")
	// Case-folded dedup keeps the first-seen casing only.
	assert.Equal(t, 1, strings.Count(strings.ToLower(out), "grid storage forecast\n"))

	assert.Contains(t, out, "## UNRESOLVED CONTRADICTIONS")
	assert.Contains(t, out, "One source claims costs rose")

	assert.Contains(t, out, "## WEAKEST AREAS OF THE GRAPH")
	assert.Contains(t, out, "## OPEN QUESTIONS FROM PRIOR RESEARCH")
	assert.Contains(t, out, "Could not verify 2030 projections")
}

func TestBuildSectionTruncation(t *testing.T) {
	s := newTestStore(t)
	saveCycle(t, s, 1, true, func(r *types.CycleRecord) {
		var contradictions []string
		for i := 0; i < 200; i++ {
			contradictions = append(contradictions, "a long contradiction line that takes up real space in the render")
		}
		r.Contradictions = contradictions
	})

	budgets := DefaultSectionBudgets()
	budgets.Contradictions = 400
	b := NewContextBuilder(s, budgets)

	out, err := b.Build(context.Background(), "ws1")
	require.NoError(t, err)
	assert.Contains(t, out, "[...truncated for token budget]")
}

func TestRenderSearchHistoryDedup(t *testing.T) {
	out := renderSearchHistory([]string{"Alpha Query", "alpha query", " ALPHA QUERY ", "beta"})
	assert.Equal(t, "- Alpha Query\n- beta\n", out)
}

func TestDocWatcherSync(t *testing.T) {
	s := newTestStore(t)
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.md"), []byte("market notes"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ignore.json"), []byte("{}"), 0o644))

	w, err := NewDocWatcher(s, "ws1", dir)
	require.NoError(t, err)
	defer w.watcher.Close()

	require.NoError(t, w.Sync())

	docs, err := s.ListContextDocuments("ws1")
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "notes.md", docs[0].Filename)
	assert.Equal(t, "market notes", docs[0].Content)
}

func TestDocWatcherPicksUpWrites(t *testing.T) {
	s := newTestStore(t)
	dir := t.TempDir()

	w, err := NewDocWatcher(s, "ws1", dir)
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background()))
	defer w.Stop()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "brief.md"), []byte("updated brief"), 0o644))

	// Debounce window is 500ms; poll for up to 5s.
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		docs, err := s.ListContextDocuments("ws1")
		require.NoError(t, err)
		if len(docs) == 1 && docs[0].Content == "updated brief" {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatal("document was not synced into the store")
}

func TestDocWatcherSyncMissingDir(t *testing.T) {
	s := newTestStore(t)
	w, err := NewDocWatcher(s, "ws1", filepath.Join(t.TempDir(), "absent"))
	require.NoError(t, err)
	defer w.watcher.Close()
	assert.NoError(t, w.Sync())
}

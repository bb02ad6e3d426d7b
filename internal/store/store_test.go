package store

import (
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"winterfox/internal/types"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.EnsureWorkspace("ws1", "test workspace"))
	return s
}

func testDirection(ws, claim string) *types.Direction {
	return &types.Direction{
		ID:          uuid.NewString(),
		WorkspaceID: ws,
		Claim:       claim,
		Confidence:  0.5,
		Importance:  0.5,
		Status:      types.StatusActive,
		Kind:        types.KindDirection,
	}
}

func TestMigrationsIdempotent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "graph.db")

	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.EnsureWorkspace("ws1", "w"))
	require.NoError(t, s.CreateNode(testDirection("ws1", "first claim")))

	// Re-running the full sequence must not change schema or data.
	require.NoError(t, s.Migrate())
	require.NoError(t, s.Close())

	s2, err := Open(path)
	require.NoError(t, err)
	defer s2.Close()

	count, err := s2.CountActiveNodes("ws1")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	var applied int
	require.NoError(t, s2.db.QueryRow(`SELECT COUNT(*) FROM migrations`).Scan(&applied))
	assert.Equal(t, len(migrations), applied)
}

func TestCreateAndGetNode(t *testing.T) {
	s := newTestStore(t)

	d := testDirection("ws1", "solar adoption is accelerating")
	d.Tags = []string{"energy"}
	d.Evidence = []types.Evidence{{Text: "IEA report", Source: "iea.org", ObservedAt: time.Now()}}
	require.NoError(t, s.CreateNode(d))

	got, err := s.GetNode(d.ID)
	require.NoError(t, err)
	assert.Equal(t, d.Claim, got.Claim)
	assert.Equal(t, d.Tags, got.Tags)
	require.Len(t, got.Evidence, 1)
	assert.Equal(t, "IEA report", got.Evidence[0].Text)
}

func TestCreateNodeValidation(t *testing.T) {
	s := newTestStore(t)

	d := testDirection("ws1", "bad confidence")
	d.Confidence = 1.5
	err := s.CreateNode(d)
	require.Error(t, err)
	assert.True(t, IsInvariantError(err))
}

func TestParentChildLinkage(t *testing.T) {
	s := newTestStore(t)

	parent := testDirection("ws1", "root direction")
	require.NoError(t, s.CreateNode(parent))

	child := testDirection("ws1", "child direction")
	child.ParentID = parent.ID
	child.Depth = 1
	require.NoError(t, s.CreateNode(child))

	// Parent's children list must contain the new child.
	got, err := s.GetNode(parent.ID)
	require.NoError(t, err)
	assert.Contains(t, got.Children, child.ID)

	children, err := s.GetChildren(parent.ID)
	require.NoError(t, err)
	require.Len(t, children, 1)
	assert.Equal(t, child.ID, children[0].ID)
}

func TestCreateNodeMissingParent(t *testing.T) {
	s := newTestStore(t)

	d := testDirection("ws1", "orphan")
	d.ParentID = "no-such-node"
	d.Depth = 1
	err := s.CreateNode(d)
	require.Error(t, err)
	assert.True(t, IsInvariantError(err))

	// The insert must have been rolled back.
	_, err = s.GetNode(d.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestKillNodeExcludedFromActive(t *testing.T) {
	s := newTestStore(t)

	keep := testDirection("ws1", "keep me")
	kill := testDirection("ws1", "kill me")
	require.NoError(t, s.CreateNode(keep))
	require.NoError(t, s.CreateNode(kill))

	require.NoError(t, s.KillNode(kill.ID, "low value", 3))

	active, err := s.GetActiveNodes("ws1")
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, keep.ID, active[0].ID)

	got, err := s.GetNode(kill.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusKilled, got.Status)
	assert.True(t, got.HasTag("killed:low value"))
	assert.Equal(t, 3, got.UpdatedByCycle)
}

func TestWorkspaceIsolation(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.EnsureWorkspace("ws2", "other"))

	require.NoError(t, s.CreateNode(testDirection("ws1", "ws1 claim")))
	require.NoError(t, s.CreateNode(testDirection("ws2", "ws2 claim")))

	ws1, err := s.GetActiveNodes("ws1")
	require.NoError(t, err)
	ws2, err := s.GetActiveNodes("ws2")
	require.NoError(t, err)
	require.Len(t, ws1, 1)
	require.Len(t, ws2, 1)
	assert.Equal(t, "ws1 claim", ws1[0].Claim)
	assert.Equal(t, "ws2 claim", ws2[0].Claim)
}

func TestSearchByText(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.CreateNode(testDirection("ws1", "battery storage costs are falling")))
	require.NoError(t, s.CreateNode(testDirection("ws1", "wind turbine efficiency improved")))

	hits, err := s.SearchByText("ws1", "battery storage", 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Contains(t, hits[0].Claim, "battery")

	// Quotes in queries must not break the FTS syntax.
	_, err = s.SearchByText("ws1", `"battery" OR (`, 10)
	require.NoError(t, err)
}

func TestSearchReflectsUpdates(t *testing.T) {
	s := newTestStore(t)

	d := testDirection("ws1", "original claim about fusion")
	require.NoError(t, s.CreateNode(d))

	d.Claim = "revised claim about geothermal"
	require.NoError(t, s.UpdateNode(d))

	hits, err := s.SearchByText("ws1", "geothermal", 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)

	hits, err = s.SearchByText("ws1", "fusion", 10)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestCycleRecordRoundTrip(t *testing.T) {
	s := newTestStore(t)

	r := &types.CycleRecord{
		CycleID:            1,
		WorkspaceID:        "ws1",
		TargetNodeID:       "n1",
		TargetClaim:        "target",
		SynthesisReasoning: "converged on two findings",
		ConsensusFindings:  []string{"finding a"},
		Contradictions:     []string{"worker 2 disagreed"},
		CreatedIDs:         []string{"c1", "c2"},
		UpdatedIDs:         []string{"u1"},
		Workers: []types.WorkerOutput{{
			AgentName: "scout-1",
			Model:     "gpt-4o-mini",
			RawText:   "findings...",
			Critique:  "should have checked primary sources",
			Searches:  []types.SearchRecord{{Query: "solar growth 2026", Engine: "brave"}},
			CostUSD:   0.02,
		}},
		TotalCostUSD: 0.05,
		LeadCostUSD:  0.03,
		Duration:     90 * time.Second,
		Success:      true,
	}
	require.NoError(t, s.SaveCycleRecord(r))

	got, err := s.GetCycleRecord("ws1", 1)
	require.NoError(t, err)
	assert.Equal(t, r.TargetClaim, got.TargetClaim)
	assert.Equal(t, r.ConsensusFindings, got.ConsensusFindings)
	assert.Equal(t, []string{"c1", "c2"}, got.CreatedIDs)
	assert.Equal(t, 2, got.Merge.Created)
	assert.Equal(t, 1, got.Merge.Updated)
	assert.InDelta(t, 90.0, got.Duration.Seconds(), 0.01)
	require.Len(t, got.Workers, 1)
	assert.Equal(t, "scout-1", got.Workers[0].AgentName)
}

func TestFailedCycleRecordPersisted(t *testing.T) {
	s := newTestStore(t)

	r := &types.CycleRecord{
		CycleID:      2,
		WorkspaceID:  "ws1",
		Success:      false,
		ErrorMessage: "all workers failed at stage DISPATCHING",
	}
	require.NoError(t, s.SaveCycleRecord(r))

	got, err := s.GetCycleRecord("ws1", 2)
	require.NoError(t, err)
	assert.False(t, got.Success)
	assert.Equal(t, "all workers failed at stage DISPATCHING", got.ErrorMessage)
}

func TestNextCycleID(t *testing.T) {
	s := newTestStore(t)

	id, err := s.NextCycleID("ws1")
	require.NoError(t, err)
	assert.Equal(t, 1, id)

	require.NoError(t, s.SaveCycleRecord(&types.CycleRecord{CycleID: 4, WorkspaceID: "ws1"}))
	id, err = s.NextCycleID("ws1")
	require.NoError(t, err)
	assert.Equal(t, 5, id)
}

func TestListCycleRecordsFilter(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.SaveCycleRecord(&types.CycleRecord{CycleID: 1, WorkspaceID: "ws1", Success: true}))
	require.NoError(t, s.SaveCycleRecord(&types.CycleRecord{CycleID: 2, WorkspaceID: "ws1", Success: false}))
	require.NoError(t, s.SaveCycleRecord(&types.CycleRecord{CycleID: 3, WorkspaceID: "ws1", Success: true}))

	all, err := s.ListCycleRecords("ws1", CycleFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, 3, all[0].CycleID) // newest first

	ok, err := s.ListCycleRecords("ws1", CycleFilter{OnlySuccessful: true})
	require.NoError(t, err)
	assert.Len(t, ok, 2)

	failed, err := s.ListCycleRecords("ws1", CycleFilter{OnlyFailed: true})
	require.NoError(t, err)
	assert.Len(t, failed, 1)

	limited, err := s.ListCycleRecords("ws1", CycleFilter{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestListCycleRecordsAdvancedFilters(t *testing.T) {
	s := newTestStore(t)

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, s.SaveCycleRecord(&types.CycleRecord{
		CycleID: 1, WorkspaceID: "ws1", TargetNodeID: "node-a",
		SynthesisReasoning: "workers agreed on pricing pressure",
		TotalCostUSD:       0.02, CreatedAt: base,
	}))
	require.NoError(t, s.SaveCycleRecord(&types.CycleRecord{
		CycleID: 2, WorkspaceID: "ws1", TargetNodeID: "node-b",
		SynthesisReasoning: "evidence split on channel strategy",
		TotalCostUSD:       0.30, CreatedAt: base.Add(24 * time.Hour),
	}))
	require.NoError(t, s.SaveCycleRecord(&types.CycleRecord{
		CycleID: 3, WorkspaceID: "ws1", TargetNodeID: "node-a",
		SynthesisReasoning: "pricing pressure confirmed by filings",
		TotalCostUSD:       1.10, CreatedAt: base.Add(48 * time.Hour),
	}))

	cases := []struct {
		name   string
		filter CycleFilter
		want   []int
	}{
		{"target id", CycleFilter{TargetID: "node-a"}, []int{3, 1}},
		{"min cost", CycleFilter{MinCost: 0.25}, []int{3, 2}},
		{"max cost", CycleFilter{MaxCost: 0.25}, []int{1}},
		{"cost band", CycleFilter{MinCost: 0.1, MaxCost: 0.5}, []int{2}},
		{"created after", CycleFilter{CreatedAfter: base.Add(12 * time.Hour)}, []int{3, 2}},
		{"created before", CycleFilter{CreatedBefore: base.Add(12 * time.Hour)}, []int{1}},
		{"created range", CycleFilter{
			CreatedAfter:  base.Add(12 * time.Hour),
			CreatedBefore: base.Add(36 * time.Hour),
		}, []int{2}},
		{"reasoning text", CycleFilter{ReasoningContains: "pricing pressure"}, []int{3, 1}},
		{"combined", CycleFilter{TargetID: "node-a", MinCost: 0.5}, []int{3}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := s.ListCycleRecords("ws1", tc.filter)
			require.NoError(t, err)
			ids := make([]int, len(got))
			for i, r := range got {
				ids[i] = r.CycleID
			}
			assert.Equal(t, tc.want, ids)
		})
	}
}

func TestDeleteCycleClearsAuditRows(t *testing.T) {
	s := newTestStore(t)

	d := testDirection("ws1", "claim from cycle three")
	d.CreatedByCycle = 3
	require.NoError(t, s.CreateNode(d))
	require.NoError(t, s.SaveCycleRecord(&types.CycleRecord{CycleID: 3, WorkspaceID: "ws1"}))

	require.NoError(t, s.DeleteCycle("ws1", 3))

	_, err := s.GetCycleRecord("ws1", 3)
	assert.ErrorIs(t, err, ErrNotFound)

	var audits int
	require.NoError(t, s.db.QueryRow(
		`SELECT COUNT(*) FROM graph_operations WHERE workspace_id = 'ws1' AND cycle_id = 3`).Scan(&audits))
	assert.Equal(t, 0, audits)

	// Graph nodes created by the cycle stay.
	got, err := s.GetNode(d.ID)
	require.NoError(t, err)
	assert.Equal(t, d.Claim, got.Claim)

	assert.ErrorIs(t, s.DeleteCycle("ws1", 99), ErrNotFound)
}

func TestWorkspaceCascadeDelete(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.EnsureWorkspace("ws2", "doomed"))

	require.NoError(t, s.CreateNode(testDirection("ws2", "doomed claim")))
	require.NoError(t, s.SaveCycleRecord(&types.CycleRecord{CycleID: 1, WorkspaceID: "ws2"}))
	require.NoError(t, s.UpsertContextDocument("ws2", "notes.md", "text"))
	require.NoError(t, s.SaveReportMetadata(&types.ReportMetadata{WorkspaceID: "ws2", Markdown: "m"}))
	require.NoError(t, s.CreateNode(testDirection("ws1", "surviving claim")))

	_, err := s.db.Exec(`DELETE FROM workspaces WHERE id = 'ws2'`)
	require.NoError(t, err)

	nodes, err := s.GetActiveNodes("ws2")
	require.NoError(t, err)
	assert.Empty(t, nodes)
	records, err := s.ListCycleRecords("ws2", CycleFilter{})
	require.NoError(t, err)
	assert.Empty(t, records)
	docs, err := s.ListContextDocuments("ws2")
	require.NoError(t, err)
	assert.Empty(t, docs)
	meta, err := s.GetReportMetadata("ws2")
	require.NoError(t, err)
	assert.Nil(t, meta)
	var audits int
	require.NoError(t, s.db.QueryRow(
		`SELECT COUNT(*) FROM graph_operations WHERE workspace_id = 'ws2'`).Scan(&audits))
	assert.Equal(t, 0, audits)

	// Other workspaces keep their rows.
	kept, err := s.GetActiveNodes("ws1")
	require.NoError(t, err)
	assert.Len(t, kept, 1)
}

func TestGetAllSearchQueries(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.SaveCycleRecord(&types.CycleRecord{
		CycleID: 1, WorkspaceID: "ws1",
		Workers: []types.WorkerOutput{{Searches: []types.SearchRecord{{Query: "q1"}, {Query: "q2"}}}},
	}))
	require.NoError(t, s.SaveCycleRecord(&types.CycleRecord{
		CycleID: 2, WorkspaceID: "ws1",
		Workers: []types.WorkerOutput{{Searches: []types.SearchRecord{{Query: "q3"}}}},
	}))

	// Newest cycle first.
	queries, err := s.GetAllSearchQueries("ws1", 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"q3", "q1", "q2"}, queries)

	capped, err := s.GetAllSearchQueries("ws1", 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"q3", "q1"}, capped)
}

func TestContextDocuments(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.UpsertContextDocument("ws1", "mission.md", "v1"))
	require.NoError(t, s.UpsertContextDocument("ws1", "mission.md", "v2"))
	require.NoError(t, s.UpsertContextDocument("ws1", "notes.md", "notes"))

	docs, err := s.ListContextDocuments("ws1")
	require.NoError(t, err)
	require.Len(t, docs, 2)

	byName := map[string]string{}
	for _, d := range docs {
		byName[d.Filename] = d.Content
	}
	assert.Equal(t, "v2", byName["mission.md"])

	require.NoError(t, s.DeleteContextDocument("ws1", "notes.md"))
	docs, err = s.ListContextDocuments("ws1")
	require.NoError(t, err)
	assert.Len(t, docs, 1)
}

func TestReportMetadataRoundTrip(t *testing.T) {
	s := newTestStore(t)

	got, err := s.GetReportMetadata("ws1")
	require.NoError(t, err)
	assert.Nil(t, got)

	m := &types.ReportMetadata{
		WorkspaceID:          "ws1",
		RegenerationInterval: 6 * time.Hour,
		LastGeneratedAt:      time.Now().UTC().Truncate(time.Second),
		Markdown:             "# Report",
	}
	require.NoError(t, s.SaveReportMetadata(m))

	got, err = s.GetReportMetadata("ws1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 6*time.Hour, got.RegenerationInterval)
	assert.Equal(t, "# Report", got.Markdown)
}

func TestRewriteLegacyHypothesis(t *testing.T) {
	in, err := json.Marshal(map[string]interface{}{
		"id": "h1", "claim": "old hypothesis", "kind": "hypothesis",
		"support_count": 3, "oppose_count": 1,
	})
	require.NoError(t, err)

	out, err := rewriteLegacyData(string(in), "hypothesis")
	require.NoError(t, err)

	var payload map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(out), &payload))
	assert.Equal(t, "direction", payload["kind"])
	assert.InDelta(t, 0.75, payload["confidence"].(float64), 0.001)
	assert.Contains(t, payload["tags"], "legacy_kind:hypothesis")
}

func TestRewriteLegacyHypothesisClamped(t *testing.T) {
	in := `{"id":"h2","claim":"one-sided","kind":"hypothesis","support_count":100,"oppose_count":0}`
	out, err := rewriteLegacyData(in, "hypothesis")
	require.NoError(t, err)

	var payload map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(out), &payload))
	assert.InDelta(t, 0.95, payload["confidence"].(float64), 0.001)
}

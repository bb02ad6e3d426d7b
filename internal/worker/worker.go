// Package worker runs one research agent: a bounded tool-use loop
// against an LLM, followed by a self-critique pass. Workers share no
// mutable state; each run gets its own tool registry and returns an
// opaque WorkerOutput.
package worker

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"winterfox/internal/llm"
	"winterfox/internal/logging"
	"winterfox/internal/tools"
	"winterfox/internal/types"
	"winterfox/internal/usage"
)

// DefaultMaxIterations bounds the tool loop.
const DefaultMaxIterations = 30

// ToolsetFactory builds a fresh registry for one run, wiring the given
// search recorder into the web_search tool.
type ToolsetFactory func(record func(types.SearchRecord)) *tools.Registry

// Config describes one worker.
type Config struct {
	Name          string
	Role          string
	Client        types.LLMClient
	Toolset       ToolsetFactory
	Usage         *usage.Tracker
	MaxIterations int
}

// Worker executes research runs.
type Worker struct {
	cfg Config
}

// New returns a worker. Zero MaxIterations takes the default.
func New(cfg Config) *Worker {
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = DefaultMaxIterations
	}
	return &Worker{cfg: cfg}
}

// RunInput is the material for one research run.
type RunInput struct {
	Mission      string
	FocusedView  string
	PriorContext string
	ContextDocs  []types.ContextDocument
	Override     string
}

const workerSystemPrompt = `You are a research agent in an autonomous research engine. Investigate
the target direction using your tools.

Guidelines:
- Be evidence-based: every finding needs a source. Quote or paraphrase
  what the source actually says.
- Be skeptical: actively look for evidence AGAINST the direction, not
  just for it.
- Stay within your search budget; prefer fewer, sharper queries.
- Check the graph first with search_graph to avoid re-researching what
  is already known.
- Finish with a structured summary of findings, sources, and what
  remains uncertain.`

// Run executes the tool loop and the closing self-critique. Auth
// failures propagate as typed errors so the cycle can abort early;
// every other error closes the run with a failed output.
func (w *Worker) Run(ctx context.Context, in RunInput) (*types.WorkerOutput, error) {
	start := time.Now()
	out := &types.WorkerOutput{
		AgentName: w.cfg.Name,
		Model:     w.cfg.Client.Model(),
		Role:      w.cfg.Role,
	}

	var mu sync.Mutex
	registry := w.cfg.Toolset(func(r types.SearchRecord) {
		mu.Lock()
		out.Searches = append(out.Searches, r)
		mu.Unlock()
	})

	logging.Worker("Worker %s starting (model %s)", w.cfg.Name, out.Model)

	finalText, err := w.toolLoop(ctx, registry, in, out)
	if err != nil {
		if llm.IsAuthError(err) {
			return nil, err
		}
		logging.Worker("Worker %s failed: %v", w.cfg.Name, err)
		out.Failed = true
		out.Error = err.Error()
		out.Critique = fmt.Sprintf("Worker failed before completing research: %v", err)
		out.Duration = time.Since(start)
		return out, nil
	}
	out.RawText = finalText

	critique, err := w.selfCritique(ctx, finalText, out)
	if err != nil {
		if llm.IsAuthError(err) {
			return nil, err
		}
		logging.WorkerDebug("Worker %s critique failed: %v", w.cfg.Name, err)
	} else {
		out.Critique = critique
	}

	out.Duration = time.Since(start)
	logging.Worker("Worker %s done in %s: %d tokens, %d searches, $%.4f",
		w.cfg.Name, out.Duration.Round(time.Millisecond), out.TokensTotal, len(out.Searches), out.CostUSD)
	return out, nil
}

func (w *Worker) toolLoop(ctx context.Context, registry *tools.Registry, in RunInput, out *types.WorkerOutput) (string, error) {
	messages := []types.Message{{Role: "user", Content: buildUserPrompt(in)}}
	defs := registry.Definitions()

	var lastText string
	for iteration := 0; iteration < w.cfg.MaxIterations; iteration++ {
		resp, err := w.cfg.Client.Chat(ctx, workerSystemPrompt, messages, defs)
		if err != nil {
			return "", err
		}
		w.trackUsage(out, resp.Usage)
		if resp.Text != "" {
			lastText = resp.Text
		}

		if len(resp.ToolCalls) == 0 {
			return lastText, nil
		}

		messages = append(messages, types.Message{
			Role:      "assistant",
			Content:   resp.Text,
			ToolCalls: resp.ToolCalls,
		})

		// Tool calls execute sequentially in emitted order.
		for _, call := range resp.ToolCalls {
			result := registry.Execute(ctx, call.Name, call.Input)
			logging.WorkerDebug("Worker %s tool %s: %dms", w.cfg.Name, call.Name, result.DurationMs)
			messages = append(messages, types.Message{
				Role:       "tool",
				Content:    result.Result,
				ToolCallID: call.ID,
				ToolName:   call.Name,
			})
		}
	}

	logging.Worker("Worker %s hit iteration limit (%d)", w.cfg.Name, w.cfg.MaxIterations)
	return lastText, nil
}

func (w *Worker) selfCritique(ctx context.Context, findings string, out *types.WorkerOutput) (string, error) {
	prompt := fmt.Sprintf(`Here is the research you just produced:

%s

In 2-4 sentences, critique this research: what is the weakest evidence,
what could not be verified, and what open question matters most?`, findings)

	resp, err := w.cfg.Client.Chat(ctx, workerSystemPrompt,
		[]types.Message{{Role: "user", Content: prompt}}, nil)
	if err != nil {
		return "", err
	}
	w.trackUsage(out, resp.Usage)
	return strings.TrimSpace(resp.Text), nil
}

func (w *Worker) trackUsage(out *types.WorkerOutput, u types.UsageMetadata) {
	out.TokensInput += u.InputTokens
	out.TokensOutput += u.OutputTokens
	out.TokensTotal += u.TotalTokens
	if w.cfg.Usage != nil {
		out.CostUSD += w.cfg.Usage.Track(w.cfg.Client.Name(), w.cfg.Client.Model(), "worker", u.InputTokens, u.OutputTokens)
	} else {
		out.CostUSD += usage.Cost(w.cfg.Client.Model(), u.InputTokens, u.OutputTokens)
	}
}

func buildUserPrompt(in RunInput) string {
	var sb strings.Builder

	if in.Mission != "" {
		fmt.Fprintf(&sb, "MISSION:\n%s\n\n", in.Mission)
	}
	if in.Override != "" {
		fmt.Fprintf(&sb, "CYCLE INSTRUCTION: %s\n\n", in.Override)
	}
	for _, doc := range in.ContextDocs {
		fmt.Fprintf(&sb, "CONTEXT DOCUMENT (%s):\n%s\n\n", doc.Filename, doc.Content)
	}
	if in.PriorContext != "" {
		fmt.Fprintf(&sb, "ACCUMULATED KNOWLEDGE:\n%s\n\n", in.PriorContext)
	}
	fmt.Fprintf(&sb, "TARGET DIRECTION:\n%s\n\nResearch this direction now.", in.FocusedView)
	return sb.String()
}

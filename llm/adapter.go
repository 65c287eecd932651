// Model Adapter - turns a per-model history plus a tool registry into
// an ordered stream of events, enforcing the guardrails every backend
// must honor regardless of vendor:
//
// - consecutive-same-tool cap: three calls to the same tool in a row
//   force an answer on the next round
// - total tool-call cap: ten per generation, the eleventh attempt
//   forces an answer
// - document budget: submissions carry at most 100 document blocks,
//   oldest dropped first on a copy
// - every tool_result contains at least one document block
//
// The adapter never mutates the caller's history; the orchestrator
// commits the accumulated assistant turn after the stream terminates.

package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/ansari-project/ansari-agent/config"
	"github.com/ansari-project/ansari-agent/model"
	"github.com/ansari-project/ansari-agent/tools"
)

const eventBuffer = 64

// retryBackoff is the delay before the single pre-TTFT retry.
const retryBackoff = 2 * time.Second

// Adapter wraps one Provider with the shared agent loop.
type Adapter struct {
	modelID  string
	provider Provider
	registry *tools.Registry
	system   string
	logger   *slog.Logger
}

// NewAdapter creates an adapter for one roster entry.
func NewAdapter(modelID string, provider Provider, registry *tools.Registry, system string, logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{
		modelID:  modelID,
		provider: provider,
		registry: registry,
		system:   system,
		logger:   logger.With("model_id", modelID),
	}
}

// ModelID returns the roster id this adapter serves.
func (a *Adapter) ModelID() string { return a.modelID }

// Generation is one in-flight stream for one model. Events() yields the
// adapter's ordered event sequence and closes on termination;
// PartialTurn() returns whatever assistant content has accumulated so
// far, safe to call at any time (used to commit after cancellation).
type Generation struct {
	events chan model.Event

	mu     sync.Mutex
	blocks []model.Block
}

// Events returns the event stream. It is finite and non-restartable.
func (g *Generation) Events() <-chan model.Event { return g.events }

// PartialTurn snapshots the accumulated assistant turn.
func (g *Generation) PartialTurn() model.Turn {
	g.mu.Lock()
	defer g.mu.Unlock()
	blocks := make([]model.Block, len(g.blocks))
	copy(blocks, g.blocks)
	return model.NewAssistantTurn(blocks)
}

func (g *Generation) appendBlock(b model.Block) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.blocks = append(g.blocks, b)
}

// appendText extends the trailing text block so partial turns stay
// current token by token without fragmenting into one block per delta.
func (g *Generation) appendText(delta string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if n := len(g.blocks); n > 0 {
		if tb, ok := g.blocks[n-1].(model.TextBlock); ok {
			tb.Text += delta
			g.blocks[n-1] = tb
			return
		}
	}
	g.blocks = append(g.blocks, model.TextBlock{Text: delta})
}

func (g *Generation) snapshot() []model.Turn {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.blocks) == 0 {
		return nil
	}
	blocks := make([]model.Block, len(g.blocks))
	copy(blocks, g.blocks)
	return []model.Turn{model.NewAssistantTurn(blocks)}
}

// Stream launches the agent loop for the given history. The deadline
// and cancellation both arrive through ctx; on either, the loop stops
// promptly and the event channel closes.
func (a *Adapter) Stream(ctx context.Context, history []model.Turn) *Generation {
	g := &Generation{events: make(chan model.Event, eventBuffer)}
	go a.run(ctx, g, model.CloneHistory(history))
	return g
}

// streamState carries per-generation loop state.
type streamState struct {
	start         time.Time
	ttftSent      bool
	toolCalls     int
	recentTools   []string
	allowTools    bool
	coaching      string // pending forced-answer injection
	tokensIn      int
	tokensOut     int
	sawVendorText bool
}

func (a *Adapter) run(ctx context.Context, g *Generation, history []model.Turn) {
	defer close(g.events)

	st := &streamState{start: time.Now(), allowTools: true}
	if !a.send(ctx, g, model.NewStartEvent(a.modelID)) {
		a.fail(g, ctx.Err())
		return
	}

	for {
		res, err := a.streamRound(ctx, g, history, st)
		if err != nil {
			a.fail(g, err)
			return
		}

		if res.StopReason != StopToolUse || len(res.ToolCalls) == 0 {
			break
		}

		if err := a.resolveTools(ctx, g, st, res.ToolCalls); err != nil {
			a.fail(g, err)
			return
		}
	}

	if st.tokensIn == 0 && st.tokensOut == 0 && st.sawVendorText {
		a.logger.Warn("vendor reported no token usage, emitting zeros")
	}
	totalMs := float64(time.Since(st.start)) / float64(time.Millisecond)
	a.sendTerminal(g, model.NewDoneEvent(a.modelID, totalMs, st.tokensIn, st.tokensOut))
}

// streamRound performs one vendor submission, with a single retry for
// transient failures that happen before any token was committed.
func (a *Adapter) streamRound(ctx context.Context, g *Generation, history []model.Turn, st *streamState) (RoundResult, error) {
	req := RoundRequest{
		System:      a.system,
		History:     a.buildSubmission(history, g, st),
		MaxTokens:   config.MaxOutputTokens,
		Temperature: config.Temperature,
	}
	if st.allowTools {
		req.Tools = a.registry.List()
	}

	emit := func(delta string) {
		if delta == "" {
			return
		}
		if !st.ttftSent {
			st.ttftSent = true
			ttftMs := float64(time.Since(st.start)) / float64(time.Millisecond)
			a.send(ctx, g, model.NewTTFTEvent(a.modelID, ttftMs))
		}
		g.appendText(delta)
		a.send(ctx, g, model.NewTokenEvent(a.modelID, delta))
	}

	res, err := a.provider.StreamRound(ctx, req, emit)
	if err != nil && !st.ttftSent && ctx.Err() == nil && isTransient(err) {
		a.logger.Warn("transient vendor error before first token, retrying once", "error", err)
		select {
		case <-time.After(retryBackoff):
		case <-ctx.Done():
			return RoundResult{}, ctx.Err()
		}
		res, err = a.provider.StreamRound(ctx, req, emit)
	}
	if err != nil {
		return RoundResult{}, err
	}

	if res.Text != "" {
		st.sawVendorText = true
	}
	st.tokensIn += res.Usage.InputTokens
	st.tokensOut += res.Usage.OutputTokens
	return res, nil
}

// resolveTools executes the round's tool calls sequentially, re-checking
// the guardrails before every call so an oversized parallel batch cannot
// overrun the caps; the remainder of a tripped batch is discarded and
// the answer forced. Returns the context error when the generation was
// cancelled or timed out mid-resolution.
func (a *Adapter) resolveTools(ctx context.Context, g *Generation, st *streamState, calls []model.ToolUseBlock) error {
	for _, call := range calls {
		if st.toolCalls >= config.MaxToolCalls || lastThreeSame(st.recentTools) {
			a.forceAnswer(st, call.Name)
			return nil
		}

		g.appendBlock(call)
		if !a.send(ctx, g, model.NewToolStartEvent(a.modelID, call.Name)) {
			// The tool_use is already in the turn; pair it so the
			// committed history stays well formed.
			g.appendBlock(model.NewToolResultBlock(call.ID, nil, true))
			return ctx.Err()
		}

		t0 := time.Now()
		blocks, isErr := a.invokeTool(ctx, call)
		durationMs := float64(time.Since(t0)) / float64(time.Millisecond)
		g.appendBlock(model.NewToolResultBlock(call.ID, blocks, isErr))

		if err := ctx.Err(); err != nil {
			return err
		}
		if !a.send(ctx, g, model.NewToolEndEvent(a.modelID, call.Name, durationMs)) {
			return ctx.Err()
		}

		st.toolCalls++
		st.recentTools = append(st.recentTools, call.Name)
	}
	return nil
}

// invokeTool runs one tool and converts failure into a synthetic error
// document so the model can recover and keep reasoning.
func (a *Adapter) invokeTool(ctx context.Context, call model.ToolUseBlock) ([]model.Block, bool) {
	tool, ok := a.registry.Get(call.Name)
	if !ok {
		a.logger.Warn("model requested unknown tool", "tool", call.Name)
		return []model.Block{model.DocumentBlock{
			Title: "Tool error",
			Text:  fmt.Sprintf("Tool %q is not available.", call.Name),
		}}, true
	}

	blocks, err := tool.Invoke(ctx, call.Args)
	if err != nil {
		a.logger.Warn("tool invocation failed", "tool", call.Name, "error", err)
		return []model.Block{model.DocumentBlock{
			Title: "Tool error",
			Text:  fmt.Sprintf("Tool %q failed: %v", call.Name, err),
		}}, true
	}
	return blocks, false
}

// forceAnswer injects the coaching message and disables tool use for
// the remainder of the generation.
func (a *Adapter) forceAnswer(st *streamState, toolName string) {
	a.logger.Info("tool guardrail tripped, forcing answer",
		"tool", toolName, "tool_calls", st.toolCalls)
	st.coaching = fmt.Sprintf(
		"You have called %s several times already. Please answer now from the information you have gathered. Do not call any more tools.",
		toolName)
	st.allowTools = false
}

// buildSubmission assembles the vendor conversation: the canonical
// history, the in-progress assistant turn, and any pending coaching
// message, then applies the document budget to the copy.
func (a *Adapter) buildSubmission(history []model.Turn, g *Generation, st *streamState) []model.Turn {
	submission := model.CloneHistory(history)
	submission = append(submission, g.snapshot()...)
	if st.coaching != "" {
		submission = append(submission, model.NewUserTurn(st.coaching))
	}
	return applyDocumentBudget(submission, config.MaxDocumentBlocks)
}

// applyDocumentBudget drops the oldest document blocks until the
// submission holds at most max. A tool_result stripped of all its
// documents keeps a single elision stub so its invariant holds.
func applyDocumentBudget(submission []model.Turn, max int) []model.Turn {
	total := 0
	for _, t := range submission {
		total += t.DocumentCount()
	}
	if total <= max {
		return submission
	}
	drop := total - max

	out := model.CloneHistory(submission)
	for ti := range out {
		if drop <= 0 {
			break
		}
		blocks := make([]model.Block, 0, len(out[ti].Blocks))
		for _, b := range out[ti].Blocks {
			switch v := b.(type) {
			case model.DocumentBlock:
				if drop > 0 {
					drop--
					continue
				}
				blocks = append(blocks, v)
			case model.ToolResultBlock:
				if drop == 0 {
					blocks = append(blocks, v)
					continue
				}
				kept := make([]model.Block, 0, len(v.Blocks))
				for _, inner := range v.Blocks {
					if _, isDoc := inner.(model.DocumentBlock); isDoc && drop > 0 {
						drop--
						continue
					}
					kept = append(kept, inner)
				}
				blocks = append(blocks, model.NewToolResultBlock(v.ToolUseID, kept, v.IsError))
			default:
				blocks = append(blocks, b)
			}
		}
		out[ti].Blocks = blocks
	}
	return out
}

// fail translates a loop error into the terminal event the consumer
// sees. A cancelled generation produces no further events; the
// orchestrator commits the partial turn either way.
func (a *Adapter) fail(g *Generation, err error) {
	switch {
	case errors.Is(err, context.Canceled):
		a.logger.Info("stream cancelled")
	case errors.Is(err, context.DeadlineExceeded):
		a.logger.Warn("stream deadline exceeded")
		a.sendTerminal(g, model.NewErrorEvent(a.modelID, "deadline exceeded", 0))
	default:
		a.logger.Error("stream failed", "error", err)
		retryAfterMs := 0
		if isTransient(err) {
			retryAfterMs = int(retryBackoff / time.Millisecond)
		}
		a.sendTerminal(g, model.NewErrorEvent(a.modelID, fmt.Sprintf("error streaming: %v", err), retryAfterMs))
	}
}

// sendTerminal delivers a terminal event without blocking forever on a
// consumer that is already gone.
func (a *Adapter) sendTerminal(g *Generation, ev model.Event) {
	select {
	case g.events <- ev:
	case <-time.After(time.Second):
	}
}

func (a *Adapter) send(ctx context.Context, g *Generation, ev model.Event) bool {
	select {
	case g.events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

func lastThreeSame(recent []string) bool {
	n := len(recent)
	if n < config.MaxConsecutiveSameTool {
		return false
	}
	last := recent[n-1]
	for i := n - config.MaxConsecutiveSameTool; i < n; i++ {
		if recent[i] != last {
			return false
		}
	}
	return true
}

// isTransient reports whether an error looks like a network-level
// failure worth one retry before any output has been committed.
func isTransient(err error) bool {
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	return errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF)
}

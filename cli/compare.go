// Package cli runs a one-shot comparison from the terminal: the same
// prompt goes to every roster backend and the answers render side by
// side as styled panels.
//
// Information Hiding:
// - Adapter/orchestrator wiring hidden
// - Event accumulation per model hidden
// - Panel layout and styling hidden

package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/ansari-project/ansari-agent/config"
	"github.com/ansari-project/ansari-agent/llm"
	"github.com/ansari-project/ansari-agent/model"
	"github.com/ansari-project/ansari-agent/orchestration"
	"github.com/ansari-project/ansari-agent/session"
	"github.com/ansari-project/ansari-agent/tools"
)

const panelWidth = 76

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212"))
	panelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("63")).
			Padding(0, 1).
			Width(panelWidth)
	statStyle  = lipgloss.NewStyle().Faint(true)
	toolStyle  = lipgloss.NewStyle().Faint(true).Italic(true)
	errorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
)

// panelState accumulates one model's answer and timings.
type panelState struct {
	label     string
	text      strings.Builder
	tools     []string
	ttftMs    float64
	totalMs   float64
	tokensIn  int
	tokensOut int
	errMsg    string
}

// RunCompare sends one prompt to every configured backend and prints
// the results once all models have terminated.
func RunCompare(ctx context.Context, prompt string, settings config.Settings, logger *slog.Logger) error {
	registry := tools.NewRegistry()
	if err := registry.Register(tools.NewQuranSearchTool(settings.KalimatAPIKey)); err != nil {
		return fmt.Errorf("registering tools: %w", err)
	}

	adapters := make([]*llm.Adapter, 0, len(settings.Models))
	for _, spec := range settings.Models {
		provider, err := llm.NewProvider(spec, settings)
		if err != nil {
			return fmt.Errorf("model %s: %w", spec.ID, err)
		}
		adapters = append(adapters, llm.NewAdapter(spec.ID, provider, registry, settings.SystemPrompt, logger))
	}

	store := session.NewStore(logger)
	defer store.Shutdown()

	orch := orchestration.New(adapters, settings.StreamTimeout, logger)
	sess, err := store.Create(orch.ModelIDs())
	if err != nil {
		return err
	}

	run, err := orch.Start(ctx, sess, prompt)
	if err != nil {
		return err
	}

	states := make(map[string]*panelState, len(settings.Models))
	order := make([]string, 0, len(settings.Models))
	for _, spec := range settings.Models {
		states[spec.ID] = &panelState{label: spec.Label}
		order = append(order, spec.ID)
	}

	fmt.Fprintf(os.Stderr, "Comparing %d models...\n", len(order))
	for ev := range run.Events {
		st, ok := states[ev.ModelID]
		if !ok {
			continue
		}
		switch ev.Type {
		case model.EventToken:
			st.text.WriteString(ev.Content)
		case model.EventTTFT:
			st.ttftMs = ev.TTFTMs
		case model.EventToolStart:
			st.tools = append(st.tools, ev.ToolName)
			fmt.Fprintln(os.Stderr, toolStyle.Render(fmt.Sprintf("  %s -> %s", ev.ModelID, ev.ToolName)))
		case model.EventDone:
			st.totalMs = ev.TotalMs
			st.tokensIn = ev.TokensIn
			st.tokensOut = ev.TokensOut
			fmt.Fprintln(os.Stderr, statStyle.Render(fmt.Sprintf("  %s done in %.0fms", ev.ModelID, ev.TotalMs)))
		case model.EventError:
			st.errMsg = ev.Error
			fmt.Fprintln(os.Stderr, errorStyle.Render(fmt.Sprintf("  %s failed: %s", ev.ModelID, ev.Error)))
		}
	}

	fmt.Println()
	for _, id := range order {
		fmt.Println(renderPanel(id, states[id]))
		fmt.Println()
	}
	return nil
}

func renderPanel(modelID string, st *panelState) string {
	var body strings.Builder
	body.WriteString(titleStyle.Render(st.label))
	body.WriteString(statStyle.Render("  " + modelID))
	body.WriteString("\n\n")

	if st.errMsg != "" {
		body.WriteString(errorStyle.Render("Error: " + st.errMsg))
	} else {
		body.WriteString(strings.TrimSpace(st.text.String()))
	}

	stats := fmt.Sprintf("ttft %.0fms | total %.0fms | tokens %d in / %d out",
		st.ttftMs, st.totalMs, st.tokensIn, st.tokensOut)
	if len(st.tools) > 0 {
		stats += " | tools: " + strings.Join(st.tools, ", ")
	}
	body.WriteString("\n\n")
	body.WriteString(statStyle.Render(stats))

	return panelStyle.Render(body.String())
}

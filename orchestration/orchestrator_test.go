package orchestration

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ansari-project/ansari-agent/llm"
	"github.com/ansari-project/ansari-agent/model"
	"github.com/ansari-project/ansari-agent/session"
	"github.com/ansari-project/ansari-agent/tools"
)

// textProvider answers every round with a fixed string.
type textProvider struct {
	text string
}

func (p textProvider) Name() string  { return "fake" }
func (p textProvider) Model() string { return "fake-model" }

func (p textProvider) StreamRound(ctx context.Context, req llm.RoundRequest, emit func(string)) (llm.RoundResult, error) {
	emit(p.text)
	return llm.RoundResult{
		Text:       p.text,
		Usage:      llm.TokenUsage{InputTokens: 3, OutputTokens: 2},
		StopReason: llm.StopEndTurn,
	}, nil
}

// stallProvider emits one delta then blocks until cancelled.
type stallProvider struct {
	emitted chan struct{}
	once    sync.Once
}

func newStallProvider() *stallProvider {
	return &stallProvider{emitted: make(chan struct{})}
}

func (p *stallProvider) Name() string  { return "stall" }
func (p *stallProvider) Model() string { return "stall-model" }

func (p *stallProvider) StreamRound(ctx context.Context, req llm.RoundRequest, emit func(string)) (llm.RoundResult, error) {
	emit("partial ")
	p.once.Do(func() { close(p.emitted) })
	<-ctx.Done()
	return llm.RoundResult{}, ctx.Err()
}

func newAdapter(t *testing.T, modelID string, p llm.Provider) *llm.Adapter {
	t.Helper()
	return llm.NewAdapter(modelID, p, tools.NewRegistry(), "system", nil)
}

func newSession(t *testing.T, store *session.Store, modelIDs []string) *session.Session {
	t.Helper()
	sess, err := store.Create(modelIDs)
	if err != nil {
		t.Fatal(err)
	}
	return sess
}

// collectRun drains the merged feed until it closes.
func collectRun(t *testing.T, run *Run) []model.Event {
	t.Helper()
	var events []model.Event
	timeout := time.After(10 * time.Second)
	for {
		select {
		case ev, ok := <-run.Events:
			if !ok {
				return events
			}
			events = append(events, ev)
		case <-timeout:
			t.Fatalf("merged feed did not close; got %d events", len(events))
		}
	}
}

func waitDone(t *testing.T, run *Run) {
	t.Helper()
	select {
	case <-run.Done():
	case <-time.After(10 * time.Second):
		t.Fatal("run did not finish")
	}
}

func TestStartFansOutAndMerges(t *testing.T) {
	adapters := []*llm.Adapter{
		newAdapter(t, "model-a", textProvider{text: "alpha answer"}),
		newAdapter(t, "model-b", textProvider{text: "beta answer"}),
	}
	o := New(adapters, 5*time.Second, nil)

	store := session.NewStore(nil)
	defer store.Shutdown()
	sess := newSession(t, store, o.ModelIDs())

	run, err := o.Start(context.Background(), sess, "compare this")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	events := collectRun(t, run)
	waitDone(t, run)

	terminals := map[string]int{}
	startSeen := map[string]bool{}
	for _, ev := range events {
		if ev.Type == model.EventStart {
			startSeen[ev.ModelID] = true
		}
		if ev.Terminal() {
			if !startSeen[ev.ModelID] {
				t.Errorf("%s terminated before its start event", ev.ModelID)
			}
			terminals[ev.ModelID]++
		}
	}
	for _, id := range o.ModelIDs() {
		if terminals[id] != 1 {
			t.Errorf("%s terminal count = %d, want 1", id, terminals[id])
		}
	}

	if sess.Busy() {
		t.Error("busy latch still held after completion")
	}

	// Each model committed its own answer on top of the shared prompt.
	for id, want := range map[string]string{"model-a": "alpha answer", "model-b": "beta answer"} {
		h := sess.History(id)
		if len(h) != 2 {
			t.Fatalf("%s history length = %d, want 2", id, len(h))
		}
		if h[0].Text() != "compare this" {
			t.Errorf("%s first turn = %q", id, h[0].Text())
		}
		if h[1].Role != model.RoleAssistant || h[1].Text() != want {
			t.Errorf("%s assistant turn = %q, want %q", id, h[1].Text(), want)
		}
	}
}

func TestStartBusySessionLeavesHistoryUntouched(t *testing.T) {
	stall := newStallProvider()
	o := New([]*llm.Adapter{newAdapter(t, "model-a", stall)}, 30*time.Second, nil)

	store := session.NewStore(nil)
	defer store.Shutdown()
	sess := newSession(t, store, o.ModelIDs())

	run, err := o.Start(context.Background(), sess, "first")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	<-stall.emitted

	if _, err := o.Start(context.Background(), sess, "second"); !errors.Is(err, session.ErrBusy) {
		t.Errorf("second Start = %v, want ErrBusy", err)
	}
	// The rejected message must not reach any history.
	h := sess.History("model-a")
	if len(h) != 1 || h[0].Text() != "first" {
		t.Errorf("history after rejected Start = %d turns, last %q", len(h), h[len(h)-1].Text())
	}

	run.Cancel()
	collectRun(t, run)
	waitDone(t, run)
}

func TestCancelCommitsPartialTurn(t *testing.T) {
	stall := newStallProvider()
	o := New([]*llm.Adapter{newAdapter(t, "model-a", stall)}, 30*time.Second, nil)

	store := session.NewStore(nil)
	defer store.Shutdown()
	sess := newSession(t, store, o.ModelIDs())

	run, err := o.Start(context.Background(), sess, "question")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	<-stall.emitted

	run.Cancel()
	run.Cancel() // idempotent
	events := collectRun(t, run)
	waitDone(t, run)

	// Cancellation produces no synthesized terminal.
	for _, ev := range events {
		if ev.Type == model.EventError {
			t.Errorf("cancelled run emitted error event: %q", ev.Error)
		}
	}

	h := sess.History("model-a")
	if len(h) != 2 {
		t.Fatalf("history length = %d, want user turn plus partial", len(h))
	}
	if !strings.Contains(h[1].Text(), "partial") {
		t.Errorf("partial turn text = %q", h[1].Text())
	}
	if sess.Busy() {
		t.Error("busy latch still held after cancel")
	}
}

func TestHeartbeatKeepsFeedWarm(t *testing.T) {
	stall := newStallProvider()
	o := New([]*llm.Adapter{newAdapter(t, "model-a", stall)}, 30*time.Second, nil).
		WithHeartbeatInterval(20 * time.Millisecond)

	store := session.NewStore(nil)
	defer store.Shutdown()
	sess := newSession(t, store, o.ModelIDs())

	run, err := o.Start(context.Background(), sess, "question")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	<-stall.emitted

	heartbeats := 0
	timeout := time.After(10 * time.Second)
	for heartbeats < 3 {
		select {
		case ev, ok := <-run.Events:
			if !ok {
				t.Fatalf("feed closed after %d heartbeats", heartbeats)
			}
			if ev.Type == model.EventHeartbeat {
				heartbeats++
			}
		case <-timeout:
			t.Fatalf("saw %d heartbeats, want 3", heartbeats)
		}
	}

	run.Cancel()
	collectRun(t, run)
	waitDone(t, run)
}

func TestPerModelDeadlineProducesErrorTerminal(t *testing.T) {
	stall := newStallProvider()
	o := New([]*llm.Adapter{newAdapter(t, "model-a", stall)}, 50*time.Millisecond, nil)

	store := session.NewStore(nil)
	defer store.Shutdown()
	sess := newSession(t, store, o.ModelIDs())

	run, err := o.Start(context.Background(), sess, "question")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	events := collectRun(t, run)
	waitDone(t, run)

	sawError := false
	for _, ev := range events {
		if ev.Type == model.EventError && ev.ModelID == "model-a" {
			sawError = true
			if !strings.Contains(ev.Error, "deadline") {
				t.Errorf("error message = %q", ev.Error)
			}
		}
	}
	if !sawError {
		t.Error("deadline expiry produced no error terminal")
	}
	if sess.Busy() {
		t.Error("busy latch still held after deadline")
	}
}

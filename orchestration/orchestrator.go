// Package orchestration fans one user prompt out to every roster
// backend concurrently and merges the per-model event streams into a
// single ordered feed for the SSE layer.
//
// Information Hiding:
// - Per-model goroutine lifecycle and deadlines hidden
// - Merge-channel sizing and heartbeat cadence hidden
// - Partial-turn commit on termination hidden
//
// Ordering guarantee: events from one model keep their relative order;
// events from different models interleave in arrival order.

package orchestration

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ansari-project/ansari-agent/config"
	"github.com/ansari-project/ansari-agent/llm"
	"github.com/ansari-project/ansari-agent/model"
	"github.com/ansari-project/ansari-agent/session"
)

// Orchestrator drives one generation across all configured adapters.
type Orchestrator struct {
	adapters       []*llm.Adapter
	timeout        time.Duration
	heartbeatEvery time.Duration
	logger         *slog.Logger
}

// New creates an orchestrator over the given adapters. timeout is the
// per-model streaming deadline.
func New(adapters []*llm.Adapter, timeout time.Duration, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = config.DefaultStreamTimeout
	}
	return &Orchestrator{
		adapters:       adapters,
		timeout:        timeout,
		heartbeatEvery: config.HeartbeatInterval,
		logger:         logger,
	}
}

// WithHeartbeatInterval overrides the keepalive cadence. Used by tests.
func (o *Orchestrator) WithHeartbeatInterval(d time.Duration) *Orchestrator {
	o.heartbeatEvery = d
	return o
}

// ModelIDs returns the roster ids served, in configuration order.
func (o *Orchestrator) ModelIDs() []string {
	ids := make([]string, len(o.adapters))
	for i, a := range o.adapters {
		ids[i] = a.ModelID()
	}
	return ids
}

// Run is one in-flight comparison. Events is finite: it closes once
// every model has terminated and partial turns are committed.
type Run struct {
	Events <-chan model.Event
	cancel context.CancelFunc
	done   chan struct{}
}

// Cancel aborts the run. Idempotent.
func (r *Run) Cancel() { r.cancel() }

// Done closes once every model has terminated and the session busy
// latch is released.
func (r *Run) Done() <-chan struct{} { return r.done }

// Start launches one generation for the session. The user message is
// appended only after the busy latch succeeds, so a rejected request
// leaves the histories untouched. The latch releases when all models
// have terminated.
func (o *Orchestrator) Start(ctx context.Context, sess *session.Session, message string) (*Run, error) {
	runCtx, cancel := context.WithCancel(ctx)

	if err := sess.BeginGeneration(cancel); err != nil {
		cancel()
		return nil, err
	}
	sess.AppendUserTurn(message)

	// Sized so N producers plus the heartbeat rarely block each other.
	merged := make(chan model.Event, 4*len(o.adapters)+4)
	run := &Run{Events: merged, cancel: cancel, done: make(chan struct{})}

	go o.fanOut(runCtx, cancel, run, sess, merged)
	return run, nil
}

func (o *Orchestrator) fanOut(ctx context.Context, cancel context.CancelFunc, run *Run, sess *session.Session, merged chan<- model.Event) {
	defer close(run.done)
	defer cancel()

	// The heartbeat must be fully stopped before merged closes; a send
	// racing the close would panic.
	stopHeartbeat := make(chan struct{})
	heartbeatDone := make(chan struct{})
	go func() {
		defer close(heartbeatDone)
		o.heartbeat(ctx, merged, stopHeartbeat)
	}()

	var g errgroup.Group
	for _, adapter := range o.adapters {
		g.Go(func() error {
			o.runModel(ctx, adapter, sess, merged)
			return nil
		})
	}
	g.Wait()

	close(stopHeartbeat)
	<-heartbeatDone
	close(merged)
	sess.EndGeneration()
	o.logger.Info("generation finished", "session_id", sess.ID)
}

// runModel streams one adapter to completion and commits whatever
// assistant content accumulated, complete or not.
func (o *Orchestrator) runModel(ctx context.Context, adapter *llm.Adapter, sess *session.Session, merged chan<- model.Event) {
	modelCtx, cancelModel := context.WithTimeout(ctx, o.timeout)
	defer cancelModel()

	gen := adapter.Stream(modelCtx, sess.History(adapter.ModelID()))

	sawTerminal := false
	for ev := range gen.Events() {
		if ev.Terminal() {
			sawTerminal = true
		}
		select {
		case merged <- ev:
		case <-ctx.Done():
			// Run cancelled; keep draining so the adapter can finish.
		}
	}

	// A cancelled adapter closes its channel without a terminal event.
	// The merged feed still owes the client one per model.
	if !sawTerminal && ctx.Err() == nil {
		select {
		case merged <- model.NewErrorEvent(adapter.ModelID(), "stream ended unexpectedly", 0):
		case <-ctx.Done():
		}
	}

	sess.CommitAssistantTurn(adapter.ModelID(), gen.PartialTurn())
}

// heartbeat keeps the merged feed warm while models think.
func (o *Orchestrator) heartbeat(ctx context.Context, merged chan<- model.Event, done <-chan struct{}) {
	ticker := time.NewTicker(o.heartbeatEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			select {
			case merged <- model.NewHeartbeatEvent():
			case <-done:
				return
			case <-ctx.Done():
				return
			}
		case <-done:
			return
		case <-ctx.Done():
			return
		}
	}
}

package core

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"conduit/internal/config"
	"conduit/internal/convo"
	"conduit/internal/logging"
	"conduit/internal/provider"
	"conduit/internal/types"
)

// Deps is the kernel's injected collaborator set. No ambient globals: the
// gateway registry, persistence, render callbacks, and config reader all
// arrive here.
type Deps struct {
	Registry *provider.Registry
	Store    Persister
	Renderer Renderer
	Config   *config.Config
	Experts  *ExpertRegistry
	// Exit is invoked by Stop(exit=true). Defaults to a no-op so tests and
	// embedding hosts keep the process.
	Exit func(code int)
}

// Kernel is the top-level state machine and event router: the single entry
// point through which every unit of work passes. Routing is single-threaded:
// the Run loop consumes the mailbox and every routed event runs to completion
// before the next is routed.
type Kernel struct {
	deps Deps

	state   *KernelState
	threads *ThreadRegistry
	replies *ReplyQueue
	asm     *ResponseAssembler
	bridge  *Bridge

	events chan Event

	// token is shared by every in-flight request; halt/stop trip it and
	// gateways observe it within one polling interval.
	token *types.CancellationToken

	// active tracks in-flight requests by call id. Touched only from the
	// sequencing goroutine.
	active map[string]*convo.BridgeContext

	featMu   sync.RWMutex
	features config.FeatureConfig
	model    types.ModelRef

	realtime *RealtimeSessionWorker

	running     atomic.Bool
	terminating atomic.Bool
	runCtx      context.Context
	// runDone closes when Run has fully returned, workers included.
	runDone chan struct{}
}

// New wires a kernel from its dependencies.
func New(deps Deps) *Kernel {
	cfg := deps.Config
	if cfg == nil {
		cfg = config.Default()
	}
	if deps.Exit == nil {
		deps.Exit = func(int) {}
	}

	k := &Kernel{
		deps:     deps,
		state:    NewKernelState(),
		replies:  NewReplyQueue(),
		events:   make(chan Event, cfg.Kernel.MailboxSize),
		token:    types.NewCancellationToken(),
		active:   make(map[string]*convo.BridgeContext),
		runCtx:   context.Background(),
		runDone:  make(chan struct{}),
		features: cfg.Features,
		model: types.ModelRef{
			ID:       cfg.Provider.Model,
			Provider: cfg.Provider.Name,
		},
	}
	k.threads = NewThreadRegistry(deps.Store)
	k.asm = NewResponseAssembler(deps.Store, deps.Renderer, k.threads, k.replies)
	k.bridge = NewBridge(deps.Registry, int64(cfg.Kernel.WorkerSlots), k.Listener, k.route)
	return k
}

// Run is the sequencing loop. It blocks until the context is cancelled or
// Terminate is routed, then waits for pool workers to drain.
func (k *Kernel) Run(ctx context.Context) error {
	if !k.running.CompareAndSwap(false, true) {
		return fmt.Errorf("kernel already running")
	}
	k.runCtx = ctx
	defer close(k.runDone)
	defer k.running.Store(false)
	defer k.drainWorkers()

	logging.Kernel("kernel running")
	for {
		select {
		case <-ctx.Done():
			k.shutdown()
			return ctx.Err()
		case ev := <-k.events:
			k.route(ev)
			if k.terminating.Load() {
				return nil
			}
		}
	}
}

// Listener is the single inbound entry point. The halt flag is checked
// first: while halted, every event except user input and the terminal
// control events is dropped. Safe from any goroutine.
func (k *Kernel) Listener(ev Event) {
	if k.state.Halted() {
		switch ev.Kind {
		case EventInputUser, EventRestart, EventTerminate:
		default:
			logging.KernelDebug("halted: dropped %s", ev.Kind)
			return
		}
	}
	if k.terminating.Load() {
		logging.KernelDebug("terminating: dropped %s", ev.Kind)
		return
	}
	select {
	case k.events <- ev:
		return
	default:
	}
	if mustDeliver(ev.Kind) {
		// Worker lifecycle and reply signals carry finalization: losing one
		// leaves the thread input-locked and the busy set stuck. Their
		// producers are pool goroutines, so a blocking send is backpressure
		// on the producer, never a deadlock with the routing loop.
		k.events <- ev
		return
	}
	logging.Get(logging.CategoryKernel).Warnf("mailbox full: dropped %s", ev.Kind)
}

// mustDeliver reports whether an event survives a full mailbox. Input and
// error transitions are loss-tolerant under pressure; everything tied to
// request finalization or shutdown is not.
func mustDeliver(kind EventKind) bool {
	switch kind {
	case EventWorker, EventRealtime, EventReplyReady,
		EventStateBusy, EventStateIdle, EventStopWork, EventTerminate:
		return true
	}
	return false
}

// drainWorkers waits out the pool while discarding mailbox stragglers, so a
// worker blocked on a guaranteed-delivery send can never outlive the routing
// loop.
func (k *Kernel) drainWorkers() {
	done := make(chan struct{})
	go func() {
		k.bridge.Wait()
		close(done)
	}()
	for {
		select {
		case <-k.events:
		case <-done:
			return
		}
	}
}

// route handles one event to completion. An exception raised while routing is
// caught and converted to an error transition; the kernel never crashes the
// process from a routing error.
func (k *Kernel) route(ev Event) {
	defer func() {
		if r := recover(); r != nil {
			msg := fmt.Sprintf("routing %s: %v", ev.Kind, r)
			logging.Get(logging.CategoryKernel).Errorf("routing exception: %s", msg)
			k.state.SetError(msg)
		}
	}()

	k.state.PushStack(ev.Kind)

	switch ev.Kind {
	case EventInputUser, EventInputSystem:
		k.handleInput(ev.Input)
	case EventReplyReady:
		k.handleReply(ev.Reply, ev.ReplyDirect)
	case EventStateBusy:
		k.state.SetBusy(ev.State.ID, ev.State.Msg)
	case EventStateIdle:
		k.state.SetIdle(ev.State.ID)
	case EventStateError:
		k.state.SetError(ev.State.Msg)
	case EventWorker:
		k.output(ev.Worker)
	case EventRealtime:
		k.handleRealtime(ev.Realtime)
	case EventStopWork:
		k.stopWork()
	case EventRestart:
		k.handleRestart()
	case EventTerminate:
		k.shutdown()
	default:
		logging.Get(logging.CategoryKernel).Warnf("unknown event kind %q", ev.Kind)
	}
}

// -----------------------------------------------------------------------------
// Input and reply routing
// -----------------------------------------------------------------------------

func (k *Kernel) handleInput(p *InputPayload) {
	if p == nil || strings.TrimSpace(p.Text) == "" {
		return
	}
	mode := p.Mode
	if mode == "" {
		mode = types.ModeChat
	}

	// Resolve the gateway before touching conversation state so an
	// unsupported mode has no side effects.
	if _, err := k.deps.Registry.Lookup(mode); err != nil {
		logging.Get(logging.CategoryKernel).Warnf("input rejected: %v", err)
		k.state.SetError(err.Error())
		return
	}

	thread := k.threads.GetOrCreate(p.ThreadID, threadName(p.Text), mode)
	if k.asm.InputLocked(thread.Meta.ID) {
		logging.Kernel("input dropped: thread %s busy", thread.Meta.ID)
		return
	}

	bc := k.buildRequest(thread, p.Text, mode)
	bc.Ctx.Internal = p.Internal
	if !k.asm.Begin(bc) {
		return
	}
	if err := k.bridge.Request(k.runCtx, bc); err != nil {
		k.state.SetError(err.Error())
		k.asm.Failed(bc)
	}
}

// handleReply routes a result back in as new input. Direct replies feed the
// parent's in-flight turn immediately (native tool-style); queued replies
// drain strictly after the triggering request finalizes.
func (k *Kernel) handleReply(env *convo.ReplyEnvelope, direct bool) {
	if env == nil {
		return
	}
	if direct {
		k.deliverDirect(env)
		return
	}
	k.replies.Add(env)
	k.drainReplies(env.ThreadID)
}

// deliverDirect merges an expert result into the parent's current turn.
func (k *Kernel) deliverDirect(env *convo.ReplyEnvelope) {
	thread := k.threads.Get(env.ThreadID)
	if thread == nil {
		k.replies.Add(env)
		return
	}
	current := thread.Current()
	if current == nil || env.Item == nil {
		// No in-flight turn to feed (or no originating item to attribute);
		// fall back to the queue.
		k.replies.Add(env)
		k.drainReplies(env.ThreadID)
		return
	}
	current.Results = append(current.Results, convo.SubResult{
		ExpertID:   env.Item.PID,
		ExpertName: env.Item.InputName,
		Output:     env.Payload,
	})
	logging.Expert("direct reply merged into item %s (expert=%s)", current.ID, env.Item.InputName)
}

// drainReplies re-injects the next queued envelope for a thread, one at a
// time, only while the thread has no in-flight request.
func (k *Kernel) drainReplies(threadID string) {
	if k.asm.InputLocked(threadID) {
		return
	}
	env := k.replies.PopNext(threadID)
	if env == nil {
		return
	}
	thread := k.threads.Get(threadID)
	if thread == nil {
		logging.Get(logging.CategoryReply).Warnf("dropping reply for unknown thread %s", threadID)
		return
	}

	mode := env.Mode
	if mode == "" {
		mode = thread.Meta.Mode
	}
	logging.Reply("draining reply seq=%d into thread %s", env.Seq, threadID)

	if env.Item != nil && env.Item.SubCall {
		// Record the expert's answer on the parent thread before the
		// continuation turn references it.
		thread.Add(env.Item)
		if k.deps.Store != nil {
			if err := k.deps.Store.AddItem(env.Item); err != nil {
				logging.Get(logging.CategoryStore).Warnf("failed to persist reply item %s: %v", env.Item.ID, err)
			}
		}
	}

	bc := k.buildRequest(thread, env.Payload, mode)
	// The continuation resumes the producer's turn count; RequestNext
	// advances it, so the agent-loop bound accumulates across envelopes.
	bc.Turn = env.Turn
	if env.Item != nil {
		bc.Ctx.PrevItem = env.Item
		bc.Ctx.InputName = env.Item.InputName
		bc.Ctx.SubCall = env.Item.SubCall
	}
	thread.FromPrevious(bc.Ctx)

	if !k.asm.Begin(bc) {
		return
	}
	if err := k.bridge.RequestNext(k.runCtx, bc); err != nil {
		k.state.SetError(err.Error())
		k.asm.Failed(bc)
	}
}

// buildRequest constructs the dispatch envelope for one turn.
func (k *Kernel) buildRequest(thread *convo.Thread, prompt string, mode types.Mode) *convo.BridgeContext {
	k.featMu.RLock()
	features := k.features
	model := k.model
	k.featMu.RUnlock()

	item := thread.BeginTurn(prompt, mode, model.ID)
	return &convo.BridgeContext{
		Ctx:      item,
		Meta:     thread.Meta,
		Prompt:   prompt,
		History:  thread.History(features.HistoryLimit),
		Mode:     mode,
		Model:    model,
		Stream:   features.Stream && mode.Streamable(),
		MaxTurns: features.MaxTurns,
		Token:    k.token,
	}
}

// -----------------------------------------------------------------------------
// Worker output routing
// -----------------------------------------------------------------------------

// output routes worker-origin signals to the response stage.
func (k *Kernel) output(sig *WorkerSignal) {
	if sig == nil || sig.BC == nil {
		return
	}
	bc := sig.BC

	switch sig.Kind {
	case SignalBegan:
		k.active[sig.CallID] = bc
		k.state.SetBusy(sig.CallID, fmt.Sprintf("%s request in flight", bc.Mode))

	case SignalDelta:
		if sig.Delta.Text != "" {
			k.asm.Append(bc, sig.Delta.Text)
		}

	case SignalToolCall:
		k.handleToolCalls(bc, sig.Tools)

	case SignalCompletedOK:
		if sig.NeedsNext && bc.Turn+1 < bc.MaxTurns {
			// Agent loop wants another turn: flag the item so Handle
			// enqueues its continuation envelope.
			bc.Ctx.Reply = true
		}
		k.asm.Handle(bc, sig.Output, sig.Usage, true, nil)

	case SignalCompletedError:
		k.asm.Handle(bc, "", sig.Usage, false, sig.Err)
		if sig.Err != nil && sig.Err.Kind != types.ErrKindCancelled {
			k.state.SetError(sig.Err.Message)
		}

	case SignalFailed:
		perr := types.NewProviderError(types.ErrKindInternal, "%v", sig.Panic)
		k.asm.Handle(bc, "", provider.Usage{}, false, perr)
		k.state.SetError(perr.Message)

	case SignalFinished:
		delete(k.active, sig.CallID)
		k.asm.End(bc)
		k.state.SetIdle(sig.CallID)
		// The triggering request is fully finalized; replies may drain now.
		k.drainReplies(bc.ThreadID())
	}
}

// handleToolCalls records tool invocations on the turn and spawns expert
// sub-call workers for expert-invocation tools. Other tools belong to the
// external plugin framework and are only recorded here.
func (k *Kernel) handleToolCalls(bc *convo.BridgeContext, tools []convo.ToolCall) {
	for _, tc := range tools {
		bc.Ctx.Cmds = append(bc.Ctx.Cmds, tc)
		if tc.Name != ExpertToolName {
			logging.KernelDebug("tool call %s recorded for item %s", tc.Name, bc.Ctx.ID)
			continue
		}
		if bc.IsExpertCall || bc.Depth > 0 {
			// Depth bound: an expert cannot invoke another expert.
			logging.Get(logging.CategoryExpert).Warnf("nested expert invocation rejected (depth=%d)", bc.Depth)
			continue
		}
		k.SpawnExpert(bc, tc)
	}
}

// -----------------------------------------------------------------------------
// Lifecycle control surface
// -----------------------------------------------------------------------------

// Halt blocks event routing and trips the shared cancellation token.
func (k *Kernel) Halt() {
	k.state.Halt()
	k.token.Stop()
	logging.Kernel("halted")
}

// Resume re-enables routing and re-arms the cancellation token.
func (k *Kernel) Resume() {
	k.state.Resume()
	k.token.Reset()
	logging.Kernel("resumed")
}

// Restart clears the routed-event record, un-halts, and dispatches the
// restart signal through the normal path.
func (k *Kernel) Restart() {
	k.Listener(Event{Kind: EventRestart})
}

func (k *Kernel) handleRestart() {
	k.state.ClearStack()
	k.state.Resume()
	k.token.Reset()
	logging.Kernel("restarted")
}

// Terminate stops all workers and the realtime session and ends the run loop.
func (k *Kernel) Terminate() {
	k.Listener(Event{Kind: EventTerminate})
}

func (k *Kernel) shutdown() {
	if !k.terminating.CompareAndSwap(false, true) {
		return
	}
	k.token.Stop()
	if k.realtime != nil {
		k.realtime.Close()
		k.realtime = nil
	}
	k.replies.Clear()
	k.state.Reset()
	logging.Kernel("terminated")
}

// stopWork finalizes every in-flight turn with whatever partial output it has
// accumulated and returns the kernel to IDLE. Straggler worker signals for a
// closed call fall into the stale-append path and are dropped.
func (k *Kernel) stopWork() {
	for callID, bc := range k.active {
		logging.Kernel("stopping in-flight call %s (thread %s)", callID, bc.ThreadID())
		k.asm.Handle(bc, "", provider.Usage{}, false, types.Cancelled("stopped by user"))
		k.asm.End(bc)
		k.state.SetIdle(callID)
		delete(k.active, callID)
	}
}

// Stop cancels in-flight chat and realtime work and halts routing; with
// exit=true the host exit hook fires after teardown. The stop-work event is
// enqueued before the halt flag rises so cancelled turns still finalize.
func (k *Kernel) Stop(exit bool) {
	k.token.Stop()
	k.Listener(Event{Kind: EventStopWork})
	k.state.Halt()
	logging.Kernel("stopped")
	if k.realtime != nil {
		k.realtime.Close()
	}
	if exit {
		k.Terminate()
		if k.running.Load() {
			// Exit only after the routing loop has drained and returned;
			// os.Exit in the host would otherwise skip teardown mid-route.
			<-k.runDone
		}
		k.deps.Exit(0)
	}
}

// AsyncAllowed reports whether a request may leave the sequencing thread.
// Nested expert calls and agent-loop/structured modes must remain synchronous
// to preserve ordering.
func (k *Kernel) AsyncAllowed(bc *convo.BridgeContext) bool {
	return !bc.Synchronous()
}

// ApplyConfig installs hot-reloaded feature flags.
func (k *Kernel) ApplyConfig(cfg *config.Config) {
	k.featMu.Lock()
	defer k.featMu.Unlock()
	k.features = cfg.Features
	k.model = types.ModelRef{ID: cfg.Provider.Model, Provider: cfg.Provider.Name}
	logging.Kernel("config applied: stream=%v max_turns=%d model=%s",
		cfg.Features.Stream, cfg.Features.MaxTurns, cfg.Provider.Model)
}

// State, Status, and Halted are the observer surface polled by the UI.
func (k *Kernel) State() State   { return k.state.State() }
func (k *Kernel) Status() string { return k.state.Status() }
func (k *Kernel) Halted() bool   { return k.state.Halted() }
func (k *Kernel) BusyCount() int { return k.state.BusyCount() }

// Threads exposes the thread registry to the hosting application.
func (k *Kernel) Threads() *ThreadRegistry { return k.threads }

// SendInput is the hosting application's front door for user input.
func (k *Kernel) SendInput(threadID, text string, mode types.Mode) {
	k.Listener(Event{
		Kind:  EventInputUser,
		Input: &InputPayload{ThreadID: threadID, Text: text, Mode: mode},
	})
}

// threadName derives a display name from the first prompt.
func threadName(text string) string {
	text = strings.TrimSpace(text)
	if len(text) > 40 {
		return text[:40] + "…"
	}
	if text == "" {
		return "new conversation"
	}
	return text
}

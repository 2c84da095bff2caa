package core

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"conduit/internal/convo"
	"conduit/internal/logging"
	"conduit/internal/provider"
	"conduit/internal/types"
)

// RealtimeState is the per-session turn state.
type RealtimeState int

const (
	// RealtimeIdle means no turn is being assembled.
	RealtimeIdle RealtimeState = iota
	// RealtimeReady means the first chunk of a turn has arrived.
	RealtimeReady
)

// RealtimeSessionWorker holds one duplex streaming session open and pumps its
// fine-grained events into the kernel mailbox. Unlike a plain worker it emits
// many small events instead of one terminal event, and it is reset rather
// than cancelled mid-turn.
type RealtimeSessionWorker struct {
	id      string
	gateway provider.RealtimeGateway
	bc      *convo.BridgeContext
	emit    func(Event)

	mu      sync.Mutex
	session provider.RealtimeSession
	// manualCommit suppresses the provider's own auto-commit once a manual
	// commit has been sent, so a turn is never finalized twice.
	manualCommit bool
	cancel       context.CancelFunc
	closed       atomic.Bool
}

// NewRealtimeSessionWorker builds a session worker; Open starts it.
func NewRealtimeSessionWorker(gateway provider.RealtimeGateway, bc *convo.BridgeContext, emit func(Event)) *RealtimeSessionWorker {
	return &RealtimeSessionWorker{
		id:      uuid.NewString(),
		gateway: gateway,
		bc:      bc,
		emit:    emit,
	}
}

// ID returns the session's busy-source id.
func (w *RealtimeSessionWorker) ID() string { return w.id }

// Open connects the session and starts the pump goroutine.
func (w *RealtimeSessionWorker) Open(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)

	session, err := w.gateway.Open(ctx, w.bc)
	if err != nil {
		cancel()
		return fmt.Errorf("failed to open realtime session: %w", err)
	}

	w.mu.Lock()
	w.session = session
	w.cancel = cancel
	w.mu.Unlock()

	go w.pump(session)
	logging.Realtime("session %s open", w.id)
	return nil
}

func (w *RealtimeSessionWorker) pump(session provider.RealtimeSession) {
	for ev := range session.Events() {
		if ev.Kind == provider.RealtimeAudioCommit {
			w.mu.Lock()
			suppressed := w.manualCommit
			w.manualCommit = false
			w.mu.Unlock()
			if suppressed {
				logging.Realtime("session %s: auto-commit suppressed after manual commit", w.id)
				continue
			}
		}
		w.emit(Event{Kind: EventRealtime, Realtime: &RealtimePayload{
			SessionID: w.id,
			BC:        w.bc,
			Ev:        ev,
		}})
	}
	if !w.closed.Load() {
		w.emit(Event{Kind: EventRealtime, Realtime: &RealtimePayload{
			SessionID: w.id,
			BC:        w.bc,
			Ev:        provider.RealtimeEvent{Kind: provider.RealtimeClosed},
		}})
	}
}

// SendText forwards text input into the live session.
func (w *RealtimeSessionWorker) SendText(text string) error {
	w.mu.Lock()
	session := w.session
	w.mu.Unlock()
	if session == nil {
		return fmt.Errorf("realtime session not open")
	}
	return session.SendText(text)
}

// SendAudio forwards an audio chunk into the live session.
func (w *RealtimeSessionWorker) SendAudio(chunk []byte) error {
	w.mu.Lock()
	session := w.session
	w.mu.Unlock()
	if session == nil {
		return fmt.Errorf("realtime session not open")
	}
	return session.SendAudio(chunk)
}

// Commit manually commits the pending input turn and arms auto-commit
// suppression.
func (w *RealtimeSessionWorker) Commit() error {
	w.mu.Lock()
	session := w.session
	w.manualCommit = true
	w.mu.Unlock()
	if session == nil {
		return fmt.Errorf("realtime session not open")
	}
	return session.Commit()
}

// Reset tears the connection down and reconnects. Required after a session
// error; sessions are never auto-restarted.
func (w *RealtimeSessionWorker) Reset(ctx context.Context) error {
	w.teardown()
	w.closed.Store(false)
	return w.Open(ctx)
}

// Close force-closes the session.
func (w *RealtimeSessionWorker) Close() {
	w.closed.Store(true)
	w.teardown()
}

func (w *RealtimeSessionWorker) teardown() {
	w.mu.Lock()
	session := w.session
	cancel := w.cancel
	w.session = nil
	w.cancel = nil
	w.manualCommit = false
	w.mu.Unlock()

	if session != nil {
		_ = session.Close()
	}
	if cancel != nil {
		cancel()
	}
}

// =============================================================================
// KERNEL REALTIME ROUTING
// =============================================================================

// AudioSink receives synthesized audio. Optional collaborator.
type AudioSink interface {
	PlayAudio(chunk []byte)
}

// StartRealtime opens the duplex session for a thread. One session at a time.
func (k *Kernel) StartRealtime(threadID string) error {
	if k.realtime != nil {
		return fmt.Errorf("realtime session already active")
	}
	gateway, err := k.deps.Registry.LookupRealtime()
	if err != nil {
		return err
	}

	thread := k.threads.GetOrCreate(threadID, "realtime", types.ModeRealtime)
	bc := &convo.BridgeContext{
		Meta:  thread.Meta,
		Mode:  types.ModeRealtime,
		Model: k.model,
		Token: k.token,
	}
	w := NewRealtimeSessionWorker(gateway, bc, k.Listener)
	if err := w.Open(k.runCtx); err != nil {
		return err
	}
	k.realtime = w
	return nil
}

// Realtime returns the active session worker, or nil.
func (k *Kernel) Realtime() *RealtimeSessionWorker { return k.realtime }

// handleRealtime routes one duplex session event. Text deltas assemble into
// the thread's current turn item; turn end finalizes it; errors idle the
// session's busy id and unlock input without restarting the session.
func (k *Kernel) handleRealtime(p *RealtimePayload) {
	if p == nil || p.BC == nil {
		return
	}
	thread := k.threads.Get(p.BC.ThreadID())
	if thread == nil {
		return
	}

	switch p.Ev.Kind {
	case provider.RealtimeTextDelta, provider.RealtimeAudioDelta:
		item := thread.Current()
		if item == nil || item.Finalized() {
			// First chunk of a new turn.
			item = thread.BeginTurn("", types.ModeRealtime, k.model.ID)
			p.BC.Ctx = item
			k.asm.Begin(p.BC)
			k.state.SetBusy(p.SessionID, "realtime turn in progress")
		}
		p.BC.Ctx = item
		if p.Ev.Kind == provider.RealtimeTextDelta && p.Ev.Text != "" {
			k.asm.Append(p.BC, p.Ev.Text)
		}
		if p.Ev.Kind == provider.RealtimeAudioDelta {
			if sink, ok := k.deps.Renderer.(AudioSink); ok {
				sink.PlayAudio(p.Ev.Audio)
			}
		}

	case provider.RealtimeTurnEnd:
		if p.BC.Ctx != nil {
			k.asm.Handle(p.BC, "", provider.Usage{}, true, nil)
			k.asm.End(p.BC)
		}
		k.state.SetIdle(p.SessionID)

	case provider.RealtimeAudioCommit:
		logging.Realtime("session %s: audio committed", p.SessionID)

	case provider.RealtimeError:
		if p.BC.Ctx != nil {
			k.asm.Handle(p.BC, "", provider.Usage{}, false, p.Ev.Err)
			k.asm.Failed(p.BC)
		}
		k.state.SetIdle(p.SessionID)
		logging.Get(logging.CategoryRealtime).Warnf("session %s error: %v", p.SessionID, p.Ev.Err)

	case provider.RealtimeClosed:
		k.state.SetIdle(p.SessionID)
		if k.realtime != nil && k.realtime.id == p.SessionID {
			k.realtime = nil
		}
		logging.Realtime("session %s closed", p.SessionID)
	}
}

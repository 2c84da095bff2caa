package core

import (
	"conduit/internal/convo"
	"conduit/internal/provider"
	"conduit/internal/types"
)

// =============================================================================
// EVENT MODEL
// =============================================================================
//
// Every unit of work enters the kernel as one Event: user input, worker
// lifecycle signals, reply injection, realtime session traffic, and control
// signals. Events are tagged unions: Kind discriminates, exactly one payload
// pointer is set. Producers on pool goroutines never touch conversation
// state; they emit events that the single sequencing goroutine consumes.

// EventKind discriminates kernel events.
type EventKind string

const (
	// EventInputUser is direct user input. It is never dropped by halt.
	EventInputUser EventKind = "input.user"
	// EventInputSystem is collaborator-originated input (same routing as
	// user input but halt-gated).
	EventInputSystem EventKind = "input.system"
	// EventReplyReady carries a result that must be re-injected as input.
	EventReplyReady EventKind = "reply.ready"
	// EventStateBusy / EventStateIdle / EventStateError drive the global
	// state machine. Busy and idle carry a source id so concurrent busy
	// sources are tracked independently.
	EventStateBusy  EventKind = "state.busy"
	EventStateIdle  EventKind = "state.idle"
	EventStateError EventKind = "state.error"
	// EventWorker wraps a worker lifecycle signal.
	EventWorker EventKind = "worker.signal"
	// EventRealtime wraps a duplex session event.
	EventRealtime EventKind = "realtime.event"
	// EventStopWork finalizes all in-flight turns with their partial output.
	// Enqueued by Stop before the halt flag rises, so it always routes.
	EventStopWork EventKind = "ctl.stop"
	// EventRestart and EventTerminate are control events. Never halt-gated.
	EventRestart   EventKind = "ctl.restart"
	EventTerminate EventKind = "ctl.terminate"
)

// InputPayload is a prompt bound for dispatch.
type InputPayload struct {
	ThreadID string
	Text     string
	Mode     types.Mode
	// Internal marks input that should not be rendered as a user turn.
	Internal bool
}

// StatePayload carries busy/idle/error transitions.
type StatePayload struct {
	// ID names the busy source (worker call id, realtime session id, ...).
	ID  string
	Msg string
}

// RealtimePayload routes one duplex session event to the assembler.
type RealtimePayload struct {
	SessionID string
	BC        *convo.BridgeContext
	Ev        provider.RealtimeEvent
}

// Event is the kernel's inbound unit of work.
type Event struct {
	Kind EventKind

	Input    *InputPayload
	State    *StatePayload
	Reply    *convo.ReplyEnvelope
	Worker   *WorkerSignal
	Realtime *RealtimePayload

	// ReplyDirect marks an expert result the parent expects as an immediate
	// tool-style reply instead of a queued conversational reply.
	ReplyDirect bool
}

// -----------------------------------------------------------------------------
// Worker signals
// -----------------------------------------------------------------------------

// SignalKind discriminates worker lifecycle signals.
type SignalKind int

const (
	SignalBegan SignalKind = iota
	SignalDelta
	SignalToolCall
	SignalCompletedOK
	SignalCompletedError
	SignalFailed
	SignalFinished
)

func (s SignalKind) String() string {
	switch s {
	case SignalBegan:
		return "began"
	case SignalDelta:
		return "delta"
	case SignalToolCall:
		return "tool_call"
	case SignalCompletedOK:
		return "completed_ok"
	case SignalCompletedError:
		return "completed_error"
	case SignalFailed:
		return "failed"
	case SignalFinished:
		return "finished"
	default:
		return "unknown"
	}
}

// WorkerSignal is one lifecycle event from a worker. finished is always the
// last signal of a run, success or failure, exactly once.
type WorkerSignal struct {
	Kind   SignalKind
	CallID string
	BC     *convo.BridgeContext

	Delta  provider.Delta
	Tools  []convo.ToolCall
	Output string
	Usage  provider.Usage

	Err *types.ProviderError
	// Panic carries the recovered value for failed signals.
	Panic error

	// NeedsNext signals an agent loop requiring another turn.
	NeedsNext bool
}

package core

import (
	"sync"
)

// State is the kernel's externally observable state.
type State int

const (
	StateIdle State = iota
	StateBusy
	StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateBusy:
		return "busy"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// KernelState is the process-wide state record. Transitions are only ever
// driven by explicit busy/idle/error events, never inferred. Multiple busy
// sources are tracked by id: the kernel is idle only when the set of
// outstanding busy ids is empty.
type KernelState struct {
	mu sync.RWMutex

	state  State
	busy   map[string]struct{}
	halted bool
	status string

	// lastStack records the kinds of recently routed events, newest last,
	// to support restart diagnostics.
	lastStack []EventKind
}

// NewKernelState returns an idle, un-halted state record.
func NewKernelState() *KernelState {
	return &KernelState{
		state: StateIdle,
		busy:  make(map[string]struct{}),
	}
}

// SetBusy registers a busy source and moves the state to busy.
func (ks *KernelState) SetBusy(id, msg string) {
	ks.mu.Lock()
	defer ks.mu.Unlock()
	ks.busy[id] = struct{}{}
	ks.state = StateBusy
	ks.status = msg
}

// SetIdle releases one busy source. The state drops to idle only when no
// other busy source is outstanding. An idle transition also clears a sticky
// error.
func (ks *KernelState) SetIdle(id string) {
	ks.mu.Lock()
	defer ks.mu.Unlock()
	delete(ks.busy, id)
	if len(ks.busy) == 0 {
		ks.state = StateIdle
		ks.status = ""
	}
}

// SetError records a recoverable error. Does not block further input.
func (ks *KernelState) SetError(msg string) {
	ks.mu.Lock()
	defer ks.mu.Unlock()
	ks.state = StateError
	ks.status = msg
}

// State returns the current observable state.
func (ks *KernelState) State() State {
	ks.mu.RLock()
	defer ks.mu.RUnlock()
	return ks.state
}

// Status returns the current status message.
func (ks *KernelState) Status() string {
	ks.mu.RLock()
	defer ks.mu.RUnlock()
	return ks.status
}

// BusyCount returns the number of outstanding busy sources.
func (ks *KernelState) BusyCount() int {
	ks.mu.RLock()
	defer ks.mu.RUnlock()
	return len(ks.busy)
}

// Halt raises the halt flag. Orthogonal to state.
func (ks *KernelState) Halt() {
	ks.mu.Lock()
	defer ks.mu.Unlock()
	ks.halted = true
}

// Resume clears the halt flag.
func (ks *KernelState) Resume() {
	ks.mu.Lock()
	defer ks.mu.Unlock()
	ks.halted = false
}

// Halted reports the halt flag.
func (ks *KernelState) Halted() bool {
	ks.mu.RLock()
	defer ks.mu.RUnlock()
	return ks.halted
}

// PushStack records a routed event kind, keeping a bounded tail.
func (ks *KernelState) PushStack(kind EventKind) {
	ks.mu.Lock()
	defer ks.mu.Unlock()
	ks.lastStack = append(ks.lastStack, kind)
	if len(ks.lastStack) > 32 {
		ks.lastStack = ks.lastStack[len(ks.lastStack)-32:]
	}
}

// ClearStack drops the recorded event tail (restart).
func (ks *KernelState) ClearStack() {
	ks.mu.Lock()
	defer ks.mu.Unlock()
	ks.lastStack = nil
}

// Stack returns a copy of the recorded event tail.
func (ks *KernelState) Stack() []EventKind {
	ks.mu.RLock()
	defer ks.mu.RUnlock()
	out := make([]EventKind, len(ks.lastStack))
	copy(out, ks.lastStack)
	return out
}

// Reset returns the record to its initial idle state (terminate/restart).
func (ks *KernelState) Reset() {
	ks.mu.Lock()
	defer ks.mu.Unlock()
	ks.state = StateIdle
	ks.busy = make(map[string]struct{})
	ks.halted = false
	ks.status = ""
	ks.lastStack = nil
}

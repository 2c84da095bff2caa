package types

import "sync/atomic"

// CancellationToken carries a cooperative stop flag into long-running
// operations. Gateways poll Stopped() at natural suspension points (chunk
// boundaries, tool-loop iterations); there is no hard preemption.
type CancellationToken struct {
	stopped atomic.Bool
}

// NewCancellationToken returns a fresh, un-stopped token.
func NewCancellationToken() *CancellationToken {
	return &CancellationToken{}
}

// Stop requests cancellation. Safe to call from any goroutine, idempotent.
func (t *CancellationToken) Stop() {
	t.stopped.Store(true)
}

// Stopped reports whether cancellation has been requested.
// A nil token never stops.
func (t *CancellationToken) Stopped() bool {
	if t == nil {
		return false
	}
	return t.stopped.Load()
}

// Reset re-arms the token for reuse across turns of one session.
func (t *CancellationToken) Reset() {
	t.stopped.Store(false)
}

package convo

import (
	"conduit/internal/types"
)

// ReplyEnvelope is a queued result that must be re-injected as new input into
// the same conversation thread: a tool execution result or an expert's answer.
type ReplyEnvelope struct {
	// Item is the originating context item (already scoped to the parent
	// thread for expert replies).
	Item *ContextItem
	// Mode to re-dispatch the payload under.
	Mode types.Mode
	// Payload is the text re-sent as new input.
	Payload string
	// Seq is the queue-assigned ordering sequence number.
	Seq uint64
	// Turn is the agent-loop turn index of the producing request. A
	// continuation dispatched from this envelope resumes counting from it
	// instead of restarting at zero.
	Turn int
	// ThreadID scopes FIFO draining per conversation thread.
	ThreadID string
}

package convo

import (
	"conduit/internal/types"
)

// Attachment is one file or blob attached to a request.
type Attachment struct {
	Name string
	Path string
	MIME string
}

// ToolSpec declares one external function/tool available to the provider.
type ToolSpec struct {
	Name        string
	Description string
	Parameters  map[string]interface{}
}

// BridgeContext is a single dispatch request. It is constructed per call and
// never persisted. Exactly one of the inline-synchronous or worker-threaded
// paths is chosen per BridgeContext; the choice is fixed before dispatch.
type BridgeContext struct {
	// Ctx is the target item receiving output.
	Ctx *ContextItem
	// Meta is the owning thread's meta.
	Meta *ContextMeta

	Prompt          string
	SystemPrompt    string // rendered
	SystemPromptRaw string

	History []*ContextItem

	Mode  types.Mode
	Model types.ModelRef

	Stream      bool
	Attachments []Attachment
	Tools       []ToolSpec

	// IsExpertCall marks a nested expert sub-call. Expert calls never
	// advertise the expert tool to themselves and always run synchronously.
	IsExpertCall bool
	// ForceSync pins the request to the inline path.
	ForceSync bool
	// AgentCall marks a turn inside an autonomous agent loop.
	AgentCall bool
	// UseAgentFinalResponse selects whether the agent's final summarized
	// response replaces the raw tool transcript.
	UseAgentFinalResponse bool

	// Depth is the nesting level: 0 for top-level requests, 1 inside an
	// expert sub-call. Depth > 0 callers may not spawn further nested calls.
	Depth int

	// Turn counts agent-loop continuations. Request resets it; RequestNext
	// preserves it.
	Turn     int
	MaxTurns int

	// Token is polled by gateways between chunks and tool-loop iterations.
	Token *types.CancellationToken
}

// Synchronous reports whether this request must run on the inline path:
// forced-sync requests, non-streaming structured modes, and nested expert
// calls. Everything else dispatches through a worker.
func (bc *BridgeContext) Synchronous() bool {
	if bc.ForceSync {
		return true
	}
	if bc.Mode.Structured() {
		return true
	}
	return bc.IsExpertCall
}

// ThreadID returns the owning thread id, or empty when detached.
func (bc *BridgeContext) ThreadID() string {
	if bc.Meta != nil {
		return bc.Meta.ID
	}
	if bc.Ctx != nil {
		return bc.Ctx.MetaID
	}
	return ""
}

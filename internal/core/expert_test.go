package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"conduit/internal/convo"
	"conduit/internal/types"
)

func TestExpertRegistry(t *testing.T) {
	er := NewExpertRegistry()
	er.Register(Expert{ID: "b", Name: "Two"})
	er.Register(Expert{ID: "a", Name: "One"})

	e, ok := er.Lookup("a")
	require.True(t, ok)
	assert.Equal(t, "One", e.Name)

	_, ok = er.Lookup("missing")
	assert.False(t, ok)

	list := er.List()
	require.Len(t, list, 2)
	assert.Equal(t, "a", list[0].ID)
	assert.Equal(t, "b", list[1].ID)
}

func TestRenderSystemPromptSuppressesExpertTool(t *testing.T) {
	e := Expert{
		ID:      "researcher",
		Persona: "You research things.",
		Tools: []convo.ToolSpec{
			{Name: "search"},
			{Name: ExpertToolName},
		},
	}

	parent := RenderSystemPrompt(e, false)
	assert.Contains(t, parent, "search")
	assert.Contains(t, parent, ExpertToolName)

	// An expert's own prompt never advertises expert invocation, so nesting
	// is impossible by construction.
	nested := RenderSystemPrompt(e, true)
	assert.Contains(t, nested, "search")
	assert.NotContains(t, nested, ExpertToolName)
}

func TestRenderSystemPromptNoTools(t *testing.T) {
	e := Expert{ID: "plain", Persona: "Just a persona."}
	assert.Equal(t, "Just a persona.", RenderSystemPrompt(e, true))
}

func TestHandleToolCallsRejectsNestedExpert(t *testing.T) {
	reg := testRegistry(types.ModeChat, types.ModeExpert)
	experts := NewExpertRegistry()
	experts.Register(Expert{ID: "researcher", Name: "Researcher"})
	h := newHarness(t, reg, experts)

	bc := workerBC(types.ModeChat)
	bc.IsExpertCall = true
	bc.Depth = 1

	tc := convo.ToolCall{
		Name: ExpertToolName,
		Args: map[string]interface{}{"expert": "researcher", "prompt": "recurse"},
	}
	h.k.Listener(Event{Kind: EventWorker, Worker: &WorkerSignal{
		Kind:   SignalToolCall,
		CallID: "c1",
		BC:     bc,
		Tools:  []convo.ToolCall{tc},
	}})

	// The invocation is recorded on the turn but no sub-call spawns.
	waitFor(t, func() bool { return len(bc.Ctx.Cmds) == 1 }, "tool call recorded")
	assert.Empty(t, h.store.AddedItems(), "no expert item may be created past the depth bound")
}

func TestExpertSubCallWorkerIsolation(t *testing.T) {
	reg := testRegistry(types.ModeChat, types.ModeExpert)
	experts := NewExpertRegistry()
	experts.Register(Expert{ID: "researcher", Name: "Researcher", Persona: "Research."})
	h := newHarness(t, reg, experts)

	h.k.SendInput("t1", "hello", types.ModeChat)
	th := h.firstThread("t1")
	waitFor(t, func() bool {
		items := th.Items()
		return len(items) == 1 && items[0].Finalized()
	}, "parent turn")

	require.NoError(t, h.k.CallExpert("t1", "researcher", "first question"))
	waitFor(t, func() bool { return th.Len() == 3 }, "first expert reply")

	require.NoError(t, h.k.CallExpert("t1", "researcher", "second question"))
	waitFor(t, func() bool { return th.Len() == 5 }, "second expert reply")

	// Repeated calls to the same expert reuse one private slave thread.
	slaveMeta := findSlaveMeta(h, "t1", "researcher")
	require.NotNil(t, slaveMeta)
	slave := h.k.Threads().Get(slaveMeta.ID)
	require.NotNil(t, slave)
	assert.Equal(t, 2, slave.Len(), "both questions share the expert's private history")

	// Expert items carry the parent link for traceability.
	for _, it := range slave.Items() {
		assert.True(t, it.Finalized())
		assert.NotEmpty(t, it.PID)
	}

	// Parent history never absorbs the slave's raw items, only reply items.
	for _, it := range th.Items() {
		assert.Equal(t, th.Meta.ID, it.MetaID)
	}
}

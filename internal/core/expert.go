package core

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"conduit/internal/convo"
	"conduit/internal/logging"
	"conduit/internal/types"
)

// ExpertToolName is the tool providers use to request an expert sub-call.
const ExpertToolName = "ask_expert"

// Expert is a persona with its own system prompt and private conversation
// thread, invoked synchronously by a parent turn and reporting back via a
// reply.
type Expert struct {
	ID      string
	Name    string
	Persona string
	// AgentMode delegates the expert's turn to a bounded single-pass
	// tool-using agent run instead of a plain structured call.
	AgentMode bool
	Tools     []convo.ToolSpec
}

// ExpertRegistry holds the configured experts.
type ExpertRegistry struct {
	mu      sync.RWMutex
	experts map[string]Expert
}

// NewExpertRegistry returns an empty registry.
func NewExpertRegistry() *ExpertRegistry {
	return &ExpertRegistry{experts: make(map[string]Expert)}
}

// Register installs an expert.
func (er *ExpertRegistry) Register(e Expert) {
	er.mu.Lock()
	defer er.mu.Unlock()
	er.experts[e.ID] = e
}

// Lookup resolves an expert by id.
func (er *ExpertRegistry) Lookup(id string) (Expert, bool) {
	er.mu.RLock()
	defer er.mu.RUnlock()
	e, ok := er.experts[id]
	return e, ok
}

// List returns experts sorted by id.
func (er *ExpertRegistry) List() []Expert {
	er.mu.RLock()
	defer er.mu.RUnlock()
	out := make([]Expert, 0, len(er.experts))
	for _, e := range er.experts {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// RenderSystemPrompt builds the expert's persona prompt. When isExpert is
// set, the expert-invocation tool is never advertised, so an expert cannot
// recurse into another expert by construction.
func RenderSystemPrompt(e Expert, isExpert bool) string {
	var sb strings.Builder
	sb.WriteString(e.Persona)
	var tools []string
	for _, t := range e.Tools {
		if isExpert && t.Name == ExpertToolName {
			continue
		}
		tools = append(tools, t.Name)
	}
	if len(tools) > 0 {
		sb.WriteString("\n\nAvailable tools: ")
		sb.WriteString(strings.Join(tools, ", "))
	}
	return sb.String()
}

// =============================================================================
// EXPERT SUB-CALL WORKER
// =============================================================================

// ExpertSubCallWorker runs one nested orchestration pass: an isolated slave
// thread scoped to one expert persona, a forced-synchronous bridge call, and
// a reply handed back to the parent thread. Nesting is bounded to depth 1.
type ExpertSubCallWorker struct {
	id       string
	expert   Expert
	parentBC *convo.BridgeContext
	prompt   string
	// nativeTool marks an invocation that arrived through native structured
	// tool calling; the parent then expects an immediate tool-style reply
	// instead of a conversational one.
	nativeTool bool

	bridge  *Bridge
	threads *ThreadRegistry
	store   Persister
	emit    func(Event)
}

// SpawnExpert launches expert sub-call workers for one tool invocation from
// the parent turn. Distinct experts invoked by the same parent run as
// independent workers; their replies merge through the reply queue's FIFO.
func (k *Kernel) SpawnExpert(parentBC *convo.BridgeContext, tc convo.ToolCall) {
	expertID, _ := tc.Args["expert"].(string)
	prompt, _ := tc.Args["prompt"].(string)
	k.spawnExpert(parentBC, expertID, prompt, true)
}

// CallExpert is the hosting application's explicit expert invocation: the
// result comes back as a queued conversational reply.
func (k *Kernel) CallExpert(threadID, expertID, prompt string) error {
	thread := k.threads.Get(threadID)
	if thread == nil {
		return fmt.Errorf("unknown thread %s", threadID)
	}
	bc := &convo.BridgeContext{
		Ctx:   thread.Current(),
		Meta:  thread.Meta,
		Token: k.token,
	}
	if bc.Ctx == nil {
		// Synthesize an anchor turn so the reply has an origin.
		bc.Ctx = convo.NewItem(thread.Meta.ID, types.ModeExpert)
	}
	k.spawnExpert(bc, expertID, prompt, false)
	return nil
}

func (k *Kernel) spawnExpert(parentBC *convo.BridgeContext, expertID, prompt string, nativeTool bool) {
	if k.deps.Experts == nil {
		logging.Get(logging.CategoryExpert).Warn("no expert registry configured")
		return
	}
	expert, ok := k.deps.Experts.Lookup(expertID)
	if !ok {
		logging.Get(logging.CategoryExpert).Warnf("unknown expert %q", expertID)
		return
	}
	w := &ExpertSubCallWorker{
		id:         uuid.NewString(),
		expert:     expert,
		parentBC:   parentBC,
		prompt:     prompt,
		nativeTool: nativeTool,
		bridge:     k.bridge,
		threads:    k.threads,
		store:      k.deps.Store,
		emit:       k.Listener,
	}
	k.bridge.wg.Add(1)
	go func() {
		defer k.bridge.wg.Done()
		w.Run(k.runCtx)
	}()
}

// Run executes the nested pass. On failure the parent turn finalizes with
// whatever it already has rather than hanging: the error stays contained in
// the expert's own turn.
func (w *ExpertSubCallWorker) Run(ctx context.Context) {
	w.emit(Event{Kind: EventStateBusy, State: &StatePayload{
		ID:  w.id,
		Msg: fmt.Sprintf("expert %s thinking", w.expert.Name),
	}})
	defer w.emit(Event{Kind: EventStateIdle, State: &StatePayload{ID: w.id}})

	slave := w.threads.ResolveSlave(w.parentBC.Meta, w.expert.ID, w.expert.Name)

	item := slave.BeginTurn(w.prompt, types.ModeExpert, w.parentBC.Model.ID)
	if w.parentBC.Ctx != nil {
		item.PID = w.parentBC.Ctx.ID
	}

	mode := types.ModeExpert
	if w.expert.AgentMode {
		mode = types.ModeAgent
	}
	bc := &convo.BridgeContext{
		Ctx:          item,
		Meta:         slave.Meta,
		Prompt:       w.prompt,
		SystemPrompt: RenderSystemPrompt(w.expert, true),
		History:      slave.History(0),
		Mode:         mode,
		Model:        w.parentBC.Model,
		IsExpertCall: true,
		ForceSync:    true,
		Depth:        w.parentBC.Depth + 1,
		MaxTurns:     1,
		Token:        w.parentBC.Token,
	}

	output, usage, err := w.bridge.Call(ctx, bc)

	slave.AppendOutput(item, output)
	if usage.InputTokens > 0 {
		item.InputTokens = usage.InputTokens
	}
	if usage.OutputTokens > 0 {
		item.OutputTokens = usage.OutputTokens
	}
	slave.Finalize(item)
	if w.store != nil {
		if serr := w.store.AddItem(item); serr != nil {
			logging.Get(logging.CategoryStore).Warnf("failed to persist expert item %s: %v", item.ID, serr)
		}
	}

	if err != nil {
		logging.Get(logging.CategoryExpert).Warnf("expert %s failed: %v", w.expert.ID, err)
		if output == "" {
			return
		}
		// Partial output still flows back as the reply.
	}

	reply := convo.NewItem(w.parentBC.ThreadID(), types.ModeExpert)
	reply.Input = output
	reply.InputName = w.expert.Name
	reply.SubCall = true
	reply.Reply = true
	reply.PID = w.expert.ID

	w.emit(Event{
		Kind: EventReplyReady,
		Reply: &convo.ReplyEnvelope{
			Item:     reply,
			Mode:     w.parentBC.Meta.Mode,
			Payload:  output,
			ThreadID: w.parentBC.ThreadID(),
		},
		ReplyDirect: w.nativeTool,
	})
	logging.Expert("expert %s completed (%d bytes)", w.expert.ID, len(output))
}

package core

import (
	"sync"

	"conduit/internal/convo"
	"conduit/internal/logging"
	"conduit/internal/provider"
	"conduit/internal/types"
)

// ResponseAssembler turns worker signals into context mutations and render
// callbacks. All methods run on the sequencing goroutine; appends for one
// item are therefore applied in emission order even though production happens
// on pool goroutines.
type ResponseAssembler struct {
	mu sync.Mutex

	store    Persister
	renderer Renderer
	threads  *ThreadRegistry
	replies  *ReplyQueue

	// locks holds the per-thread input lock: at most one top-level request
	// in flight per conversation thread.
	locks map[string]bool

	// begun tracks whether an item has rendered its first chunk.
	begun map[string]bool

	// onAgentFinish is the post-processing hook invoked when an
	// autonomous-agent turn finalizes successfully.
	onAgentFinish func(bc *convo.BridgeContext, output string)
}

// NewResponseAssembler wires the response stage.
func NewResponseAssembler(store Persister, renderer Renderer, threads *ThreadRegistry, replies *ReplyQueue) *ResponseAssembler {
	return &ResponseAssembler{
		store:    store,
		renderer: renderer,
		threads:  threads,
		replies:  replies,
		locks:    make(map[string]bool),
		begun:    make(map[string]bool),
	}
}

// SetAgentFinishHook installs the agent "on_finish" callback.
func (ra *ResponseAssembler) SetAgentFinishHook(hook func(bc *convo.BridgeContext, output string)) {
	ra.mu.Lock()
	defer ra.mu.Unlock()
	ra.onAgentFinish = hook
}

// Begin locks input for the thread, persists the fresh item, and emits the
// render-begin callback. Returns false when the thread already has a request
// in flight.
func (ra *ResponseAssembler) Begin(bc *convo.BridgeContext) bool {
	threadID := bc.ThreadID()

	ra.mu.Lock()
	if ra.locks[threadID] {
		ra.mu.Unlock()
		logging.Assembler("begin rejected: input locked for thread %s", threadID)
		return false
	}
	ra.locks[threadID] = true
	ra.mu.Unlock()

	if ra.store != nil && bc.Ctx != nil {
		if err := ra.store.AddItem(bc.Ctx); err != nil {
			logging.Get(logging.CategoryStore).Warnf("failed to persist item %s: %v", bc.Ctx.ID, err)
		}
	}
	if ra.renderer != nil {
		ra.renderer.RenderBegin(bc.Meta, bc.Ctx)
	}
	return true
}

// InputLocked reports whether a thread has an in-flight top-level request.
func (ra *ResponseAssembler) InputLocked(threadID string) bool {
	ra.mu.Lock()
	defer ra.mu.Unlock()
	return ra.locks[threadID]
}

// LiveAppend forwards a streaming delta to the render callback without
// mutating persisted state. Idempotent; replays are allowed.
func (ra *ResponseAssembler) LiveAppend(bc *convo.BridgeContext, chunk string) {
	if ra.renderer == nil || bc.Ctx == nil {
		return
	}
	begin := ra.markBegun(bc.Ctx.ID)
	ra.renderer.RenderAppend(bc.Meta, bc.Ctx, chunk, begin)
}

// LiveClear resets the live view for the item.
func (ra *ResponseAssembler) LiveClear(bc *convo.BridgeContext) {
	if ra.renderer == nil || bc.Ctx == nil {
		return
	}
	ra.mu.Lock()
	delete(ra.begun, bc.Ctx.ID)
	ra.mu.Unlock()
	ra.renderer.RenderAppend(bc.Meta, bc.Ctx, "", true)
}

// Append is the authoritative mutation: appends the delta to the item,
// persists, and renders. A chunk arriving for a finalized item is a stale
// append: dropped and logged, never an error.
func (ra *ResponseAssembler) Append(bc *convo.BridgeContext, delta string) {
	thread := ra.threads.Get(bc.ThreadID())
	if thread == nil || bc.Ctx == nil {
		return
	}
	if !thread.AppendOutput(bc.Ctx, delta) {
		logging.Assembler("stale append dropped for item %s (%d bytes)", bc.Ctx.ID, len(delta))
		return
	}
	if ra.store != nil {
		if err := ra.store.UpdateItem(bc.Ctx); err != nil {
			logging.Get(logging.CategoryStore).Warnf("failed to persist append for %s: %v", bc.Ctx.ID, err)
		}
	}
	if ra.renderer != nil {
		begin := ra.markBegun(bc.Ctx.ID)
		ra.renderer.RenderAppend(bc.Meta, bc.Ctx, delta, begin)
	}
}

// Handle is terminal handling for one request. On ok it finalizes normally,
// fires the agent finish hook for autonomous-agent modes, and enqueues the
// reply envelope when the item is flagged for re-injection. On failure it
// finalizes the item with whatever partial output exists.
func (ra *ResponseAssembler) Handle(bc *convo.BridgeContext, output string, usage provider.Usage, ok bool, perr *types.ProviderError) {
	thread := ra.threads.Get(bc.ThreadID())
	if thread == nil || bc.Ctx == nil {
		return
	}
	item := bc.Ctx

	// Non-streamed results land whole here.
	if ok && output != "" && item.Output == "" {
		if thread.AppendOutput(item, output) && ra.renderer != nil {
			begin := ra.markBegun(item.ID)
			ra.renderer.RenderAppend(bc.Meta, item, output, begin)
		}
	}
	if usage.InputTokens > 0 {
		item.InputTokens = usage.InputTokens
	}
	if usage.OutputTokens > 0 {
		item.OutputTokens = usage.OutputTokens
	}
	if !ok {
		item.Partial = item.Output != ""
	}

	if !thread.Finalize(item) {
		logging.Get(logging.CategoryAssembler).Warnf("finalize called twice for item %s", item.ID)
	}
	thread.FromPrevious(item)

	if ra.store != nil {
		if err := ra.store.UpdateItem(item); err != nil {
			logging.Get(logging.CategoryStore).Warnf("failed to persist final item %s: %v", item.ID, err)
		}
		if err := ra.store.Save(thread.Meta.ID); err != nil {
			logging.Get(logging.CategoryStore).Warnf("failed to save thread %s: %v", thread.Meta.ID, err)
		}
	}

	if !ok {
		if perr != nil && perr.Kind != types.ErrKindCancelled {
			logging.Get(logging.CategoryAssembler).Warnf("request failed for item %s: %v", item.ID, perr)
		}
		return
	}

	if item.Reply {
		ra.replies.Add(&convo.ReplyEnvelope{
			Item:     item,
			Mode:     bc.Mode,
			Payload:  item.Output,
			ThreadID: thread.Meta.ID,
			Turn:     bc.Turn,
		})
	}

	if bc.Mode == types.ModeAgent && ra.onAgentFinish != nil {
		ra.onAgentFinish(bc, item.Output)
	}
}

// End is the success cleanup path: unlocks input and closes the live view.
// Idempotent; End after Failed is a no-op.
func (ra *ResponseAssembler) End(bc *convo.BridgeContext) {
	ra.finish(bc)
}

// Failed is the failure cleanup path: unlocks input and closes the live view
// so the user can retry.
func (ra *ResponseAssembler) Failed(bc *convo.BridgeContext) {
	ra.finish(bc)
}

func (ra *ResponseAssembler) finish(bc *convo.BridgeContext) {
	threadID := bc.ThreadID()

	ra.mu.Lock()
	locked := ra.locks[threadID]
	delete(ra.locks, threadID)
	if bc.Ctx != nil {
		delete(ra.begun, bc.Ctx.ID)
	}
	ra.mu.Unlock()

	if locked && ra.renderer != nil {
		ra.renderer.RenderEnd(bc.Meta, bc.Ctx)
	}
}

// markBegun returns true on the first call for an item id.
func (ra *ResponseAssembler) markBegun(itemID string) bool {
	ra.mu.Lock()
	defer ra.mu.Unlock()
	if ra.begun[itemID] {
		return false
	}
	ra.begun[itemID] = true
	return true
}

package convo

import (
	"sync"
	"time"
	"unicode/utf8"

	"conduit/internal/types"
)

// Thread owns one meta and its ordered items (insertion order = conversation
// order). All mutating operations are total: no operation panics or returns an
// error; degenerate calls are no-ops the caller can detect and log.
type Thread struct {
	mu    sync.RWMutex
	Meta  *ContextMeta
	items []*ContextItem
}

// NewThread wraps a meta in an empty thread.
func NewThread(meta *ContextMeta) *Thread {
	return &Thread{Meta: meta}
}

// Items returns a snapshot of the thread's items in conversation order.
func (t *Thread) Items() []*ContextItem {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*ContextItem, len(t.items))
	copy(out, t.items)
	return out
}

// Len returns the number of items in the thread.
func (t *Thread) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.items)
}

// Current returns the item currently being streamed into, or nil.
func (t *Thread) Current() *ContextItem {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for i := len(t.items) - 1; i >= 0; i-- {
		if t.items[i].Current {
			return t.items[i]
		}
	}
	return nil
}

// BeginTurn creates a new current item. A prior incomplete item loses its
// current flag and is chained via PrevItem so continuations can fold its
// results forward.
func (t *Thread) BeginTurn(input string, mode types.Mode, model string) *ContextItem {
	t.mu.Lock()
	defer t.mu.Unlock()

	item := NewItem(t.Meta.ID, mode)
	item.Input = input
	item.Model = model
	item.InputTokens = estimateTokens(input)
	item.Current = true

	for i := len(t.items) - 1; i >= 0; i-- {
		prev := t.items[i]
		if prev.Current {
			prev.Current = false
			if !prev.finalized {
				item.PrevItem = prev
			}
			break
		}
	}

	t.items = append(t.items, item)
	t.Meta.Mode = mode
	t.Meta.UpdatedAt = time.Now()
	return item
}

// AppendOutput appends streamed text to the item's output. Returns false for a
// stale append: a chunk that arrived after finalization is dropped without
// mutating the item, and the caller logs the condition.
func (t *Thread) AppendOutput(item *ContextItem, delta string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if item == nil || item.finalized {
		return false
	}
	item.Output += delta
	item.UpdatedAt = time.Now()
	return true
}

// Finalize freezes the item and computes final token counts. Idempotent:
// finalizing an already-finalized item changes nothing and returns false so
// the caller can emit a warning.
func (t *Thread) Finalize(item *ContextItem) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if item == nil || item.finalized {
		return false
	}
	item.finalized = true
	item.Current = false
	if item.OutputTokens == 0 {
		item.OutputTokens = estimateTokens(item.Output)
	}
	item.TotalTokens = item.InputTokens + item.OutputTokens
	item.UpdatedAt = time.Now()
	return true
}

// FromPrevious merges the predecessor's sub-call results into item and clears
// the predecessor's transient reply markers. Used when an expert's reply is
// folded back into the parent turn.
func (t *Thread) FromPrevious(item *ContextItem) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if item == nil || item.PrevItem == nil {
		return
	}
	prev := item.PrevItem
	if len(prev.Results) > 0 {
		item.Results = append(item.Results, prev.Results...)
	}
	prev.Reply = false
	prev.Partial = false
}

// Add appends an externally built item (e.g. an expert reply scoped to this
// thread) without touching current flags.
func (t *Thread) Add(item *ContextItem) {
	t.mu.Lock()
	defer t.mu.Unlock()
	item.MetaID = t.Meta.ID
	t.items = append(t.items, item)
	t.Meta.UpdatedAt = time.Now()
}

// History returns up to limit most recent finalized, visible items for prompt
// construction. limit <= 0 means no limit.
func (t *Thread) History(limit int) []*ContextItem {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var out []*ContextItem
	for _, it := range t.items {
		if it.finalized && !it.Hidden && !it.Internal {
			out = append(out, it)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}

// estimateTokens is the cheap fallback when the provider reports no usage:
// roughly one token per four characters.
func estimateTokens(s string) int {
	n := utf8.RuneCountInString(s)
	if n == 0 {
		return 0
	}
	return n/4 + 1
}

// Package convo holds the conversation-context model: one item per turn, one
// meta per thread, plus the request envelope the bridge dispatches. The model
// does no I/O and knows nothing about providers; it is mutated only from the
// kernel's sequencing goroutine.
package convo

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"conduit/internal/types"
)

// SubResult is one nested sub-call result folded into a parent item.
type SubResult struct {
	ExpertID   string
	ExpertName string
	Output     string
}

// ToolCall is one tool/command invocation recorded on an item.
type ToolCall struct {
	Name string
	Args map[string]interface{}
}

// ContextItem is one conversation turn.
type ContextItem struct {
	ID         string
	MetaID     string
	Input      string
	Output     string
	InputName  string
	OutputName string

	InputTokens  int
	OutputTokens int
	TotalTokens  int

	Mode  types.Mode
	Model string

	CreatedAt time.Time
	UpdatedAt time.Time

	// Results holds sub-call outputs merged in from expert replies.
	Results []SubResult
	// Cmds holds tool/command invocations made during this turn.
	Cmds []ToolCall

	// Reply marks an item whose result must be re-sent as new input.
	// Reply items are drained by the reply queue exactly once.
	Reply bool
	// SubCall marks an item produced by a nested expert call.
	SubCall bool
	// Current marks the item currently being streamed into. At most one item
	// per thread is current at any time.
	Current bool

	Partial  bool
	Internal bool
	Hidden   bool

	// PID links a slave-thread item back to the parent call that triggered
	// the expert, so the private conversation stays traceable.
	PID string

	// PrevItem chains a continuation to its incomplete predecessor.
	PrevItem *ContextItem

	finalized bool
}

// NewItem creates a turn item for the given thread.
func NewItem(metaID string, mode types.Mode) *ContextItem {
	now := time.Now()
	return &ContextItem{
		ID:        uuid.NewString(),
		MetaID:    metaID,
		Mode:      mode,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Finalized reports whether the item has been frozen.
func (it *ContextItem) Finalized() bool {
	return it.finalized
}

// ContextMeta is one conversation thread.
type ContextMeta struct {
	ID   string
	Name string

	// Mode last used on this thread.
	Mode types.Mode

	Preset    string
	Assistant string

	// Thread is the external provider handle (e.g. remote thread id).
	Thread      string
	Initialized bool

	// ParentID and ExpertID are set on slave metas only.
	ParentID string
	ExpertID string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewMeta creates a thread meta.
func NewMeta(name string, mode types.Mode) *ContextMeta {
	now := time.Now()
	return &ContextMeta{
		ID:        uuid.NewString(),
		Name:      name,
		Mode:      mode,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// IsSlave reports whether the meta hosts one expert's private history.
func (m *ContextMeta) IsSlave() bool {
	return m.ParentID != "" && m.ExpertID != ""
}

// SlaveKey derives the stable lookup key for an expert's private thread, so
// repeated calls to the same expert from the same parent reuse one slave meta.
func SlaveKey(parentID, expertID string) string {
	return fmt.Sprintf("%s::%s", parentID, expertID)
}

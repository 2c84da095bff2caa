package tui

import (
	"sync"
	"sync/atomic"

	tea "github.com/charmbracelet/bubbletea"

	"conduit/internal/convo"
)

// Render messages posted onto the bubbletea loop. The kernel's render
// callbacks fire on its sequencing goroutine; Program.Send is the only safe
// hand-off into the UI.
type (
	renderBeginMsg struct {
		threadID string
		itemID   string
		prompt   string
		name     string
		subCall  bool
	}
	renderChunkMsg struct {
		threadID string
		chunk    string
		begin    bool
	}
	renderEndMsg struct {
		threadID string
		item     *convo.ContextItem
	}
	audioChunkMsg []byte
)

// ProgramRenderer adapts the kernel render contract onto a tea.Program.
// Callbacks arriving before Attach are dropped; the kernel keeps the
// authoritative transcript, so the UI only ever misses live deltas.
type ProgramRenderer struct {
	mu       sync.Mutex
	program  *tea.Program
	attached atomic.Bool
}

// NewProgramRenderer creates an unattached renderer.
func NewProgramRenderer() *ProgramRenderer {
	return &ProgramRenderer{}
}

// Attach binds the running program. Call once, before kernel input flows.
func (r *ProgramRenderer) Attach(p *tea.Program) {
	r.mu.Lock()
	r.program = p
	r.mu.Unlock()
	r.attached.Store(true)
}

func (r *ProgramRenderer) send(msg tea.Msg) {
	if !r.attached.Load() {
		return
	}
	r.mu.Lock()
	p := r.program
	r.mu.Unlock()
	if p != nil {
		p.Send(msg)
	}
}

// RenderBegin announces a new in-flight turn.
func (r *ProgramRenderer) RenderBegin(meta *convo.ContextMeta, item *convo.ContextItem) {
	r.send(renderBeginMsg{
		threadID: meta.ID,
		itemID:   item.ID,
		prompt:   item.Input,
		name:     item.InputName,
		subCall:  item.SubCall,
	})
}

// RenderAppend delivers one live chunk.
func (r *ProgramRenderer) RenderAppend(meta *convo.ContextMeta, item *convo.ContextItem, chunk string, begin bool) {
	r.send(renderChunkMsg{threadID: meta.ID, chunk: chunk, begin: begin})
}

// RenderEnd closes the live region with the finalized item.
func (r *ProgramRenderer) RenderEnd(meta *convo.ContextMeta, item *convo.ContextItem) {
	r.send(renderEndMsg{threadID: meta.ID, item: item})
}

// PlayAudio forwards synthesized audio from the realtime session.
func (r *ProgramRenderer) PlayAudio(chunk []byte) {
	r.send(audioChunkMsg(chunk))
}

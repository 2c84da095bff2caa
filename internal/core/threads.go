package core

import (
	"sync"

	"conduit/internal/convo"
	"conduit/internal/logging"
	"conduit/internal/types"
)

// Persister is the conversation-store contract the core invokes at
// finalization points. Persistence failures are logged, not escalated:
// best-effort durability on the hot path.
type Persister interface {
	Save(threadID string) error
	AddItem(item *convo.ContextItem) error
	UpdateItem(item *convo.ContextItem) error
	ReplaceMeta(meta *convo.ContextMeta) error
}

// Renderer receives live output callbacks. It is invoked from the sequencing
// goroutine only, never from a pool goroutine.
type Renderer interface {
	RenderBegin(meta *convo.ContextMeta, item *convo.ContextItem)
	// RenderAppend delivers one chunk; begin marks the first chunk of a
	// turn. An empty chunk with begin=true resets the live view.
	RenderAppend(meta *convo.ContextMeta, item *convo.ContextItem, chunk string, begin bool)
	RenderEnd(meta *convo.ContextMeta, item *convo.ContextItem)
}

// ThreadRegistry tracks live threads, including the slave threads hosting
// expert personas. Slave threads are keyed by (parent id, expert id) so
// repeated calls to the same expert reuse one private history.
type ThreadRegistry struct {
	mu      sync.RWMutex
	threads map[string]*convo.Thread
	slaves  map[string]*convo.Thread
	store   Persister
}

// NewThreadRegistry creates an empty registry backed by the given store.
func NewThreadRegistry(store Persister) *ThreadRegistry {
	return &ThreadRegistry{
		threads: make(map[string]*convo.Thread),
		slaves:  make(map[string]*convo.Thread),
		store:   store,
	}
}

// Get returns a registered thread, or nil.
func (tr *ThreadRegistry) Get(id string) *convo.Thread {
	tr.mu.RLock()
	defer tr.mu.RUnlock()
	return tr.threads[id]
}

// Put registers an existing thread.
func (tr *ThreadRegistry) Put(t *convo.Thread) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	tr.threads[t.Meta.ID] = t
}

// GetOrCreate resolves a thread by id, creating and persisting a fresh one
// when the id is empty or unknown.
func (tr *ThreadRegistry) GetOrCreate(id, name string, mode types.Mode) *convo.Thread {
	tr.mu.Lock()
	defer tr.mu.Unlock()

	if id != "" {
		if t, ok := tr.threads[id]; ok {
			return t
		}
	}
	meta := convo.NewMeta(name, mode)
	if id != "" {
		meta.ID = id
	}
	t := convo.NewThread(meta)
	tr.threads[meta.ID] = t
	if tr.store != nil {
		if err := tr.store.ReplaceMeta(meta); err != nil {
			logging.Get(logging.CategoryStore).Warnf("failed to persist new thread %s: %v", meta.ID, err)
		}
	}
	return t
}

// ResolveSlave returns the expert's private thread under the given parent,
// creating it on first invocation for the (parent, expert) pair.
func (tr *ThreadRegistry) ResolveSlave(parent *convo.ContextMeta, expertID, expertName string) *convo.Thread {
	key := convo.SlaveKey(parent.ID, expertID)

	tr.mu.Lock()
	defer tr.mu.Unlock()

	if t, ok := tr.slaves[key]; ok {
		return t
	}
	meta := convo.NewMeta(expertName, types.ModeExpert)
	meta.ParentID = parent.ID
	meta.ExpertID = expertID
	t := convo.NewThread(meta)
	tr.slaves[key] = t
	tr.threads[meta.ID] = t
	if tr.store != nil {
		if err := tr.store.ReplaceMeta(meta); err != nil {
			logging.Get(logging.CategoryStore).Warnf("failed to persist slave thread %s: %v", meta.ID, err)
		}
	}
	logging.Expert("created slave thread %s for expert %s under %s", meta.ID, expertID, parent.ID)
	return t
}

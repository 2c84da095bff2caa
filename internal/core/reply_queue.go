package core

import (
	"sync"

	"conduit/internal/convo"
	"conduit/internal/logging"
)

// ReplyQueue serializes re-injection of results as new input. Envelopes drain
// strictly FIFO per conversation thread, ordered by enqueue time. The queue
// itself does not gate against in-flight work; the kernel only pops after the
// triggering item has finalized.
type ReplyQueue struct {
	mu      sync.Mutex
	queues  map[string][]*convo.ReplyEnvelope
	nextSeq uint64
}

// NewReplyQueue returns an empty queue.
func NewReplyQueue() *ReplyQueue {
	return &ReplyQueue{queues: make(map[string][]*convo.ReplyEnvelope)}
}

// Add appends an envelope to its thread's queue and assigns its sequence
// number.
func (rq *ReplyQueue) Add(env *convo.ReplyEnvelope) {
	rq.mu.Lock()
	defer rq.mu.Unlock()
	rq.nextSeq++
	env.Seq = rq.nextSeq
	rq.queues[env.ThreadID] = append(rq.queues[env.ThreadID], env)
	logging.Reply("queued reply seq=%d thread=%s mode=%s", env.Seq, env.ThreadID, env.Mode)
}

// HasNext reports whether the thread has a pending envelope.
func (rq *ReplyQueue) HasNext(threadID string) bool {
	rq.mu.Lock()
	defer rq.mu.Unlock()
	return len(rq.queues[threadID]) > 0
}

// PopNext removes and returns the thread's oldest envelope, or nil when the
// queue is empty. Popping from an empty queue is never an error.
func (rq *ReplyQueue) PopNext(threadID string) *convo.ReplyEnvelope {
	rq.mu.Lock()
	defer rq.mu.Unlock()
	q := rq.queues[threadID]
	if len(q) == 0 {
		return nil
	}
	env := q[0]
	if len(q) == 1 {
		delete(rq.queues, threadID)
	} else {
		rq.queues[threadID] = q[1:]
	}
	return env
}

// Depth returns the number of pending envelopes for a thread.
func (rq *ReplyQueue) Depth(threadID string) int {
	rq.mu.Lock()
	defer rq.mu.Unlock()
	return len(rq.queues[threadID])
}

// Clear drops every pending envelope (terminate path).
func (rq *ReplyQueue) Clear() {
	rq.mu.Lock()
	defer rq.mu.Unlock()
	rq.queues = make(map[string][]*convo.ReplyEnvelope)
}

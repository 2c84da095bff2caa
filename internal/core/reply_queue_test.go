package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"conduit/internal/convo"
)

func env(threadID, payload string) *convo.ReplyEnvelope {
	return &convo.ReplyEnvelope{ThreadID: threadID, Payload: payload}
}

func TestReplyQueueFIFOPerThread(t *testing.T) {
	rq := NewReplyQueue()

	rq.Add(env("a", "first"))
	rq.Add(env("b", "other"))
	rq.Add(env("a", "second"))
	rq.Add(env("a", "third"))

	require.Equal(t, 3, rq.Depth("a"))
	require.Equal(t, 1, rq.Depth("b"))

	assert.Equal(t, "first", rq.PopNext("a").Payload)
	assert.Equal(t, "second", rq.PopNext("a").Payload)
	assert.Equal(t, "other", rq.PopNext("b").Payload)
	assert.Equal(t, "third", rq.PopNext("a").Payload)
}

func TestReplyQueueSeqGlobal(t *testing.T) {
	rq := NewReplyQueue()

	a := env("a", "1")
	b := env("b", "2")
	c := env("a", "3")
	rq.Add(a)
	rq.Add(b)
	rq.Add(c)

	// Sequence numbers order envelopes across threads by enqueue time.
	assert.Less(t, a.Seq, b.Seq)
	assert.Less(t, b.Seq, c.Seq)
}

func TestReplyQueuePopEmpty(t *testing.T) {
	rq := NewReplyQueue()
	assert.Nil(t, rq.PopNext("missing"))
	assert.False(t, rq.HasNext("missing"))
}

func TestReplyQueueClear(t *testing.T) {
	rq := NewReplyQueue()
	rq.Add(env("a", "1"))
	rq.Add(env("b", "2"))

	rq.Clear()
	assert.False(t, rq.HasNext("a"))
	assert.False(t, rq.HasNext("b"))
	assert.Nil(t, rq.PopNext("a"))
}

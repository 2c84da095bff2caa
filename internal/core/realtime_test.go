package core

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"conduit/internal/convo"
	"conduit/internal/provider"
	"conduit/internal/types"
)

// fakeRealtimeGateway hands out pre-built sessions and counts opens.
type fakeRealtimeGateway struct {
	mu       sync.Mutex
	opens    int
	sessions []*fakeRealtimeSession
}

func (g *fakeRealtimeGateway) Open(ctx context.Context, bc *convo.BridgeContext) (provider.RealtimeSession, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.opens++
	s := &fakeRealtimeSession{events: make(chan provider.RealtimeEvent, 16)}
	g.sessions = append(g.sessions, s)
	return s, nil
}

type fakeRealtimeSession struct {
	events  chan provider.RealtimeEvent
	commits int
	closed  bool
	mu      sync.Mutex
}

func (s *fakeRealtimeSession) Events() <-chan provider.RealtimeEvent { return s.events }
func (s *fakeRealtimeSession) SendText(text string) error            { return nil }
func (s *fakeRealtimeSession) SendAudio(chunk []byte) error          { return nil }

func (s *fakeRealtimeSession) Commit() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commits++
	return nil
}

func (s *fakeRealtimeSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.events)
	}
	return nil
}

func (s *fakeRealtimeSession) push(ev provider.RealtimeEvent) { s.events <- ev }

func realtimeBC() *convo.BridgeContext {
	meta := convo.NewMeta("rt", types.ModeRealtime)
	return &convo.BridgeContext{Meta: meta, Mode: types.ModeRealtime, Token: types.NewCancellationToken()}
}

func collectAsync() (func() []Event, func(Event)) {
	var mu sync.Mutex
	var events []Event
	get := func() []Event {
		mu.Lock()
		defer mu.Unlock()
		out := make([]Event, len(events))
		copy(out, events)
		return out
	}
	emit := func(ev Event) {
		mu.Lock()
		events = append(events, ev)
		mu.Unlock()
	}
	return get, emit
}

func TestRealtimePumpSuppressesAutoCommitAfterManualCommit(t *testing.T) {
	gw := &fakeRealtimeGateway{}
	get, emit := collectAsync()
	w := NewRealtimeSessionWorker(gw, realtimeBC(), emit)
	require.NoError(t, w.Open(context.Background()))
	session := gw.sessions[0]

	// Manual commit arms suppression: the provider's own commit echo for the
	// same turn must not produce a second turn boundary.
	require.NoError(t, w.Commit())
	session.push(provider.RealtimeEvent{Kind: provider.RealtimeAudioCommit})
	session.push(provider.RealtimeEvent{Kind: provider.RealtimeTurnEnd})

	waitFor(t, func() bool { return len(get()) == 1 }, "turn end forwarded")
	events := get()
	assert.Equal(t, provider.RealtimeTurnEnd, events[0].Realtime.Ev.Kind,
		"the suppressed auto-commit never reaches the kernel")

	// The next auto-commit, with no manual commit pending, flows through.
	session.push(provider.RealtimeEvent{Kind: provider.RealtimeAudioCommit})
	waitFor(t, func() bool { return len(get()) == 2 }, "second commit forwarded")
	assert.Equal(t, provider.RealtimeAudioCommit, get()[1].Realtime.Ev.Kind)

	w.Close()
}

func TestRealtimeResetReopensSession(t *testing.T) {
	gw := &fakeRealtimeGateway{}
	_, emit := collectAsync()
	w := NewRealtimeSessionWorker(gw, realtimeBC(), emit)
	require.NoError(t, w.Open(context.Background()))

	require.NoError(t, w.Reset(context.Background()))
	gw.mu.Lock()
	opens := gw.opens
	gw.mu.Unlock()
	assert.Equal(t, 2, opens, "reset tears down and reconnects")
	assert.True(t, gw.sessions[0].closed)

	w.Close()
}

func TestRealtimeSendBeforeOpenFails(t *testing.T) {
	_, emit := collectAsync()
	w := NewRealtimeSessionWorker(&fakeRealtimeGateway{}, realtimeBC(), emit)

	assert.Error(t, w.SendText("hi"))
	assert.Error(t, w.SendAudio([]byte{1}))
	assert.Error(t, w.Commit())
}

func TestKernelRealtimeTextTurn(t *testing.T) {
	reg := provider.NewRegistry()
	reg.RegisterRealtime(provider.NewEchoRealtimeGateway())
	h := newHarness(t, reg, nil)

	require.NoError(t, h.k.StartRealtime("rt"))
	w := h.k.Realtime()
	require.NotNil(t, w)

	require.NoError(t, w.SendText("hello"))

	th := h.firstThread("rt")
	waitFor(t, func() bool {
		items := th.Items()
		return len(items) == 1 && items[0].Finalized()
	}, "realtime turn finalization")

	items := th.Items()
	assert.Equal(t, "echo: hello", items[0].Output)
	waitFor(t, func() bool { return h.k.State() == StateIdle }, "idle after turn")

	// Audio flows to the renderer's sink; the manual commit's provider echo
	// is suppressed so only one extra turn appears.
	require.NoError(t, w.SendAudio([]byte("abc")))
	require.NoError(t, w.Commit())
	waitFor(t, func() bool {
		h.renderer.mu.Lock()
		defer h.renderer.mu.Unlock()
		return len(h.renderer.audio) == 1
	}, "audio delivered")
	waitFor(t, func() bool { return th.Len() == 2 && th.Current() == nil }, "audio turn closed")

	w.Close()
	waitFor(t, func() bool { return h.k.Realtime() == nil }, "session cleared after close")
}

func TestKernelRealtimeSingleSession(t *testing.T) {
	reg := provider.NewRegistry()
	reg.RegisterRealtime(provider.NewEchoRealtimeGateway())
	h := newHarness(t, reg, nil)

	require.NoError(t, h.k.StartRealtime("rt"))
	err := h.k.StartRealtime("rt2")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already active")

	h.k.Realtime().Close()
	waitFor(t, func() bool { return h.k.Realtime() == nil }, "session cleared")
}

func TestKernelRealtimeNoGateway(t *testing.T) {
	reg := testRegistry(types.ModeChat)
	h := newHarness(t, reg, nil)

	err := h.k.StartRealtime("rt")
	require.Error(t, err)
}

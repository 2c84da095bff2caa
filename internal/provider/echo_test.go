package provider

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"conduit/internal/convo"
	"conduit/internal/types"
)

func echoBC(prompt string, stream bool) *convo.BridgeContext {
	meta := convo.NewMeta("t", types.ModeChat)
	return &convo.BridgeContext{
		Meta:   meta,
		Prompt: prompt,
		Mode:   types.ModeChat,
		Stream: stream,
		Token:  types.NewCancellationToken(),
	}
}

func TestEchoGatewayWhole(t *testing.T) {
	g := NewEchoGateway(types.ModeChat)
	res := g.Call(context.Background(), echoBC("hello there", false))

	require.Equal(t, ResultOk, res.Kind)
	assert.Equal(t, "echo: hello there", res.Output)
	assert.Equal(t, 2, res.Usage.InputTokens)
}

func TestEchoGatewayStreamed(t *testing.T) {
	g := NewEchoGateway(types.ModeChat)
	res := g.Call(context.Background(), echoBC("hello", true))
	require.Equal(t, ResultStream, res.Kind)

	var chunks []string
	out, _, err := DrainStream(res.Stream, func(d Delta) {
		chunks = append(chunks, d.Text)
	})
	require.NoError(t, err)
	assert.Equal(t, "echo: hello", out)
	assert.Equal(t, []string{"echo: ", "hello"}, chunks)
}

func TestEchoGatewayCancelledBeforeCall(t *testing.T) {
	g := NewEchoGateway(types.ModeChat)
	bc := echoBC("hello", false)
	bc.Token.Stop()

	res := g.Call(context.Background(), bc)
	require.Equal(t, ResultError, res.Kind)
	assert.Equal(t, types.ErrKindCancelled, res.Err.Kind)
}

func TestEchoGatewayCancelledMidStream(t *testing.T) {
	g := NewEchoGateway(types.ModeChat)
	g.ChunkSize = 2
	bc := echoBC("a long prompt to chunk", true)

	res := g.Call(context.Background(), bc)
	require.Equal(t, ResultStream, res.Kind)

	_, err := res.Stream.Recv()
	require.NoError(t, err)
	bc.Token.Stop()

	_, err = res.Stream.Recv()
	var perr *types.ProviderError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, types.ErrKindCancelled, perr.Kind)
}

func TestSplitChunksFixedSize(t *testing.T) {
	chunks := splitChunks("abcdefg", 3)
	assert.Equal(t, []string{"abc", "def", "g"}, chunks)
}

func TestRegistryLookup(t *testing.T) {
	reg := NewRegistry()
	reg.Register(NewEchoGateway(types.ModeChat))

	g, err := reg.Lookup(types.ModeChat)
	require.NoError(t, err)
	assert.Equal(t, types.ModeChat, g.Mode())

	_, err = reg.Lookup(types.ModeComputer)
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrUnsupportedMode)

	_, err = reg.LookupRealtime()
	require.Error(t, err)
	reg.RegisterRealtime(NewEchoRealtimeGateway())
	_, err = reg.LookupRealtime()
	assert.NoError(t, err)
}

func TestRegistryModes(t *testing.T) {
	reg := NewRegistry()
	reg.Register(NewEchoGateway(types.ModeChat))
	reg.Register(NewEchoGateway(types.ModeAgent))

	caps := reg.Modes()
	require.Len(t, caps, 2)
	for _, c := range caps {
		switch c.Mode {
		case types.ModeChat:
			assert.True(t, c.Streamable)
			assert.False(t, c.Structured)
		case types.ModeAgent:
			assert.False(t, c.Streamable)
			assert.True(t, c.Structured)
		}
	}
}

func TestEchoRealtimeSessionTextTurn(t *testing.T) {
	gw := NewEchoRealtimeGateway()
	s, err := gw.Open(context.Background(), echoBC("", false))
	require.NoError(t, err)

	require.NoError(t, s.SendText("hi"))
	var kinds []RealtimeEventKind
	var text string
	for ev := range s.Events() {
		kinds = append(kinds, ev.Kind)
		text += ev.Text
		if ev.Kind == RealtimeTurnEnd {
			break
		}
	}
	assert.Equal(t, "echo: hi", text)
	assert.Equal(t, RealtimeTurnEnd, kinds[len(kinds)-1])

	require.NoError(t, s.Close())
	assert.Error(t, s.SendText("late"), "a closed session refuses input")
}

func TestEchoRealtimeManualCommitFlushesAudio(t *testing.T) {
	gw := NewEchoRealtimeGateway()
	s, err := gw.Open(context.Background(), echoBC("", false))
	require.NoError(t, err)

	require.NoError(t, s.SendAudio([]byte{1, 2, 3}))
	require.NoError(t, s.Commit())

	ev := <-s.Events()
	assert.Equal(t, RealtimeAudioCommit, ev.Kind)
	ev = <-s.Events()
	require.Equal(t, RealtimeAudioDelta, ev.Kind)
	assert.Equal(t, []byte{1, 2, 3}, ev.Audio)
	ev = <-s.Events()
	assert.Equal(t, RealtimeTurnEnd, ev.Kind)

	require.NoError(t, s.Close())
}

func TestClassifyGenAIErrors(t *testing.T) {
	cases := []struct {
		msg  string
		kind types.ErrorKind
	}{
		{"API key not valid", types.ErrKindAuth},
		{"googleapi: Error 429: quota exceeded", types.ErrKindRateLimit},
		{"context canceled", types.ErrKindCancelled},
		{"dial tcp: connection refused", types.ErrKindNetwork},
		{"something odd happened", types.ErrKindInternal},
	}
	for _, tc := range cases {
		t.Run(tc.msg, func(t *testing.T) {
			perr := classifyGenAIError(errFor(tc.msg))
			assert.Equal(t, tc.kind, perr.Kind)
		})
	}
}

type stringError string

func (e stringError) Error() string { return string(e) }

func errFor(msg string) error { return stringError(msg) }

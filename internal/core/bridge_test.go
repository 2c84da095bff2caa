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

func testRegistry(modes ...types.Mode) *provider.Registry {
	reg := provider.NewRegistry()
	for _, m := range modes {
		reg.Register(provider.NewEchoGateway(m))
	}
	return reg
}

func TestSynchronousDecisionRule(t *testing.T) {
	cases := []struct {
		name string
		bc   convo.BridgeContext
		sync bool
	}{
		{"chat is threaded", convo.BridgeContext{Mode: types.ModeChat}, false},
		{"completion is threaded", convo.BridgeContext{Mode: types.ModeCompletion}, false},
		{"assistant is inline", convo.BridgeContext{Mode: types.ModeAssistant}, true},
		{"agent is inline", convo.BridgeContext{Mode: types.ModeAgent}, true},
		{"computer is inline", convo.BridgeContext{Mode: types.ModeComputer}, true},
		{"expert mode is inline", convo.BridgeContext{Mode: types.ModeExpert}, true},
		{"expert call forces inline", convo.BridgeContext{Mode: types.ModeChat, IsExpertCall: true}, true},
		{"force-sync wins", convo.BridgeContext{Mode: types.ModeChat, ForceSync: true}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.sync, tc.bc.Synchronous())
		})
	}
}

func TestBridgeUnsupportedModeFailsFast(t *testing.T) {
	sigs, emit := collectSignals()
	b := NewBridge(testRegistry(types.ModeChat), 2, emit, emit)

	bc := workerBC(types.ModeComputer)
	err := b.Request(context.Background(), bc)

	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrUnsupportedMode)
	assert.Empty(t, *sigs, "a rejected dispatch must not emit lifecycle signals")
}

func TestBridgeInlineDispatchCompletesBeforeReturn(t *testing.T) {
	sigs, emit := collectSignals()
	b := NewBridge(testRegistry(types.ModeAssistant), 2, func(Event) {
		t.Error("inline dispatch must not touch the async emitter")
	}, emit)

	bc := workerBC(types.ModeAssistant)
	require.NoError(t, b.Request(context.Background(), bc))

	// All signals observed synchronously, in order.
	got := kinds(*sigs)
	require.NotEmpty(t, got)
	assert.Equal(t, SignalBegan, got[0])
	assert.Equal(t, SignalFinished, got[len(got)-1])
}

func TestBridgeThreadedDispatchUsesPool(t *testing.T) {
	var mu sync.Mutex
	var got []SignalKind
	emit := func(ev Event) {
		if ev.Kind != EventWorker {
			return
		}
		mu.Lock()
		got = append(got, ev.Worker.Kind)
		mu.Unlock()
	}
	b := NewBridge(testRegistry(types.ModeChat), 2, emit, func(Event) {
		t.Error("threaded dispatch must not use the sync emitter")
	})

	bc := workerBC(types.ModeChat)
	bc.Stream = false
	require.NoError(t, b.Request(context.Background(), bc))
	b.Wait()

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []SignalKind{SignalBegan, SignalCompletedOK, SignalFinished}, got)
}

func TestBridgeTurnCounters(t *testing.T) {
	_, emit := collectSignals()
	b := NewBridge(testRegistry(types.ModeAgent), 2, emit, emit)

	bc := workerBC(types.ModeAgent)
	bc.Turn = 7
	require.NoError(t, b.Request(context.Background(), bc))
	assert.Equal(t, 0, bc.Turn, "a fresh request resets the turn counter")

	require.NoError(t, b.RequestNext(context.Background(), bc))
	assert.Equal(t, 1, bc.Turn, "a continuation advances the turn counter")
}

func TestBridgeCallDepthBound(t *testing.T) {
	_, emit := collectSignals()
	b := NewBridge(testRegistry(types.ModeExpert), 2, emit, emit)

	bc := workerBC(types.ModeExpert)
	bc.Depth = 2
	_, _, err := b.Call(context.Background(), bc)
	require.ErrorIs(t, err, types.ErrDepthExceeded)

	bc.Depth = 1
	out, _, err := b.Call(context.Background(), bc)
	require.NoError(t, err)
	assert.Equal(t, "echo: hello", out)
}

func TestBridgeCallDrainsStream(t *testing.T) {
	reg := provider.NewRegistry()
	reg.Register(&scriptedGateway{mode: types.ModeExpert, call: func(ctx context.Context, bc *convo.BridgeContext) provider.CallResult {
		return provider.Streamed(&sliceStream{chunks: []string{"a", "b", "c"}})
	}})
	_, emit := collectSignals()
	b := NewBridge(reg, 2, emit, emit)

	out, _, err := b.Call(context.Background(), workerBC(types.ModeExpert))
	require.NoError(t, err)
	assert.Equal(t, "abc", out)
}

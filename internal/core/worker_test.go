package core

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"conduit/internal/convo"
	"conduit/internal/provider"
	"conduit/internal/types"
)

func collectSignals() (*[]*WorkerSignal, func(Event)) {
	var sigs []*WorkerSignal
	return &sigs, func(ev Event) {
		if ev.Kind == EventWorker {
			sigs = append(sigs, ev.Worker)
		}
	}
}

func workerBC(mode types.Mode) *convo.BridgeContext {
	meta := convo.NewMeta("t", mode)
	return &convo.BridgeContext{
		Ctx:    convo.NewItem(meta.ID, mode),
		Meta:   meta,
		Prompt: "hello",
		Mode:   mode,
		Token:  types.NewCancellationToken(),
	}
}

func kinds(sigs []*WorkerSignal) []SignalKind {
	out := make([]SignalKind, len(sigs))
	for i, s := range sigs {
		out[i] = s.Kind
	}
	return out
}

func TestWorkerOkSignalOrder(t *testing.T) {
	sigs, emit := collectSignals()
	gw := &scriptedGateway{mode: types.ModeChat, call: func(ctx context.Context, bc *convo.BridgeContext) provider.CallResult {
		return provider.CallResult{Kind: provider.ResultOk, Output: "hi"}
	}}

	w := NewWorker(workerBC(types.ModeChat), gw, emit)
	w.Run(context.Background())

	require.Equal(t, []SignalKind{SignalBegan, SignalCompletedOK, SignalFinished}, kinds(*sigs))
	assert.Equal(t, "hi", (*sigs)[1].Output)
}

func TestWorkerStreamSignalOrder(t *testing.T) {
	sigs, emit := collectSignals()
	gw := &scriptedGateway{mode: types.ModeChat, call: func(ctx context.Context, bc *convo.BridgeContext) provider.CallResult {
		return provider.Streamed(&sliceStream{chunks: []string{"He", "llo", "!"}})
	}}

	w := NewWorker(workerBC(types.ModeChat), gw, emit)
	w.Run(context.Background())

	require.Equal(t, []SignalKind{
		SignalBegan,
		SignalDelta, SignalDelta, SignalDelta,
		SignalCompletedOK,
		SignalFinished,
	}, kinds(*sigs))
	assert.Equal(t, "Hello!", (*sigs)[4].Output, "terminal signal carries the accumulated output")
}

func TestWorkerErrorStillFinishes(t *testing.T) {
	sigs, emit := collectSignals()
	gw := &scriptedGateway{mode: types.ModeChat, call: func(ctx context.Context, bc *convo.BridgeContext) provider.CallResult {
		return provider.Errored(types.NewProviderError(types.ErrKindRateLimit, "slow down"))
	}}

	w := NewWorker(workerBC(types.ModeChat), gw, emit)
	w.Run(context.Background())

	require.Equal(t, []SignalKind{SignalBegan, SignalCompletedError, SignalFinished}, kinds(*sigs))
	assert.Equal(t, types.ErrKindRateLimit, (*sigs)[1].Err.Kind)
}

func TestWorkerPanicBecomesFailed(t *testing.T) {
	sigs, emit := collectSignals()
	gw := &scriptedGateway{mode: types.ModeChat, call: func(ctx context.Context, bc *convo.BridgeContext) provider.CallResult {
		panic("gateway bug")
	}}

	w := NewWorker(workerBC(types.ModeChat), gw, emit)
	w.Run(context.Background())

	require.Equal(t, []SignalKind{SignalBegan, SignalFailed, SignalFinished}, kinds(*sigs))
	assert.Contains(t, (*sigs)[1].Panic.Error(), "gateway bug")
}

func TestWorkerFinishedExactlyOnce(t *testing.T) {
	sigs, emit := collectSignals()
	gw := &scriptedGateway{mode: types.ModeChat, call: func(ctx context.Context, bc *convo.BridgeContext) provider.CallResult {
		return provider.CallResult{Kind: provider.ResultOk, Output: "x"}
	}}

	w := NewWorker(workerBC(types.ModeChat), gw, emit)
	w.Run(context.Background())
	// A worker is single-use: a second Run emits nothing.
	w.Run(context.Background())

	finished := 0
	for _, s := range *sigs {
		if s.Kind == SignalFinished {
			finished++
		}
	}
	assert.Equal(t, 1, finished)
	assert.Equal(t, SignalFinished, (*sigs)[len(*sigs)-1].Kind, "finished is always last")
}

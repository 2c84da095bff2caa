package core

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"

	"conduit/internal/convo"
	"conduit/internal/logging"
	"conduit/internal/provider"
	"conduit/internal/types"
)

// Bridge is the dispatch decision point between inline and worker-threaded
// execution. The decision rule is fixed before dispatch and never changed
// mid-flight: synchronous when the request is force-sync, targets a
// non-streaming structured mode, or is itself a nested expert call; threaded
// otherwise.
type Bridge struct {
	registry *provider.Registry

	// sem bounds concurrent pool workers.
	sem *semaphore.Weighted

	// emitAsync posts events to the kernel mailbox; safe from any goroutine.
	emitAsync func(Event)
	// emitSync routes events through the kernel immediately. Only valid on
	// the sequencing goroutine; used by the inline path so a synchronous
	// request's signals are handled in program order before Request returns.
	emitSync func(Event)

	wg sync.WaitGroup
}

// NewBridge creates the dispatch boundary.
func NewBridge(registry *provider.Registry, workerSlots int64, emitAsync, emitSync func(Event)) *Bridge {
	if workerSlots <= 0 {
		workerSlots = 4
	}
	return &Bridge{
		registry:  registry,
		sem:       semaphore.NewWeighted(workerSlots),
		emitAsync: emitAsync,
		emitSync:  emitSync,
	}
}

// Request dispatches a fresh top-level request. Resets the turn counter.
func (b *Bridge) Request(ctx context.Context, bc *convo.BridgeContext) error {
	bc.Turn = 0
	return b.dispatch(ctx, bc)
}

// RequestNext dispatches an agent-loop continuation. Turn counters are
// preserved and advanced, not reset.
func (b *Bridge) RequestNext(ctx context.Context, bc *convo.BridgeContext) error {
	bc.Turn++
	return b.dispatch(ctx, bc)
}

func (b *Bridge) dispatch(ctx context.Context, bc *convo.BridgeContext) error {
	gateway, err := b.registry.Lookup(bc.Mode)
	if err != nil {
		// Fail fast; never degrade to a different mode.
		return err
	}

	if bc.Synchronous() {
		logging.Bridge("inline dispatch: mode=%s turn=%d expert=%v", bc.Mode, bc.Turn, bc.IsExpertCall)
		w := NewWorker(bc, gateway, b.emitSync)
		w.Run(ctx)
		return nil
	}

	logging.Bridge("threaded dispatch: mode=%s turn=%d stream=%v", bc.Mode, bc.Turn, bc.Stream)
	w := NewWorker(bc, gateway, b.emitAsync)
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		if err := b.sem.Acquire(ctx, 1); err == nil {
			defer b.sem.Release(1)
		}
		// On acquire failure the context is gone; the worker still runs so
		// its terminal signals are emitted, and the gateway returns a
		// cancelled result on its first poll.
		w.Run(ctx)
	}()
	return nil
}

// Call is the forced synchronous path used exclusively by nested expert
// sub-calls and tool-result re-submission. The caller's stack frame observes
// the full result before returning: no thread hop, no signal traffic.
func (b *Bridge) Call(ctx context.Context, bc *convo.BridgeContext) (string, provider.Usage, error) {
	if bc.Depth > 1 {
		return "", provider.Usage{}, types.ErrDepthExceeded
	}
	gateway, err := b.registry.Lookup(bc.Mode)
	if err != nil {
		return "", provider.Usage{}, err
	}

	res := gateway.Call(ctx, bc)
	switch res.Kind {
	case provider.ResultOk:
		return res.Output, res.Usage, nil
	case provider.ResultStream:
		out, usage, err := provider.DrainStream(res.Stream, nil)
		return out, usage, err
	default:
		return "", provider.Usage{}, res.Err
	}
}

// Wait blocks until all threaded workers have finished (terminate path).
func (b *Bridge) Wait() {
	b.wg.Wait()
}

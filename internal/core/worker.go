package core

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"

	"conduit/internal/convo"
	"conduit/internal/logging"
	"conduit/internal/provider"
	"conduit/internal/types"
)

// Worker executes exactly one gateway call off the sequencing goroutine and
// translates the result into the fixed lifecycle signal set. A worker is
// single-use: after the finished signal it releases its references to the
// request and emitter so conversation data is not retained past the call.
type Worker struct {
	id      string
	bc      *convo.BridgeContext
	gateway provider.Gateway
	emit    func(Event)
	ran     atomic.Bool
}

// NewWorker builds a single-use worker for one request.
func NewWorker(bc *convo.BridgeContext, gateway provider.Gateway, emit func(Event)) *Worker {
	return &Worker{
		id:      uuid.NewString(),
		bc:      bc,
		gateway: gateway,
		emit:    emit,
	}
}

// ID returns the worker's call id, used as the kernel busy-source id.
func (w *Worker) ID() string { return w.id }

// Run executes the provider call. Any panic inside provider invocation is
// caught at this boundary and converted to a failed signal; finished is still
// emitted. No event is ever dropped silently.
func (w *Worker) Run(ctx context.Context) {
	if !w.ran.CompareAndSwap(false, true) {
		logging.BridgeDebug("worker %s: duplicate Run ignored", w.id)
		return
	}

	bc, gateway, emit := w.bc, w.gateway, w.emit
	// Release references once the run ends, whatever the outcome.
	defer func() {
		w.bc = nil
		w.gateway = nil
		w.emit = nil
	}()

	defer func() {
		if r := recover(); r != nil {
			emit(workerEvent(&WorkerSignal{
				Kind:   SignalFailed,
				CallID: w.id,
				BC:     bc,
				Panic:  fmt.Errorf("worker panic: %v", r),
			}))
		}
		emit(workerEvent(&WorkerSignal{Kind: SignalFinished, CallID: w.id, BC: bc}))
	}()

	emit(workerEvent(&WorkerSignal{Kind: SignalBegan, CallID: w.id, BC: bc}))

	res := gateway.Call(ctx, bc)
	switch res.Kind {
	case provider.ResultOk:
		if len(res.Tools) > 0 {
			emit(workerEvent(&WorkerSignal{
				Kind:   SignalToolCall,
				CallID: w.id,
				BC:     bc,
				Tools:  res.Tools,
			}))
		}
		emit(workerEvent(&WorkerSignal{
			Kind:      SignalCompletedOK,
			CallID:    w.id,
			BC:        bc,
			Output:    res.Output,
			Usage:     res.Usage,
			NeedsNext: res.NeedsNext,
		}))

	case provider.ResultStream:
		w.drain(bc, res.Stream, emit)

	case provider.ResultError:
		emit(workerEvent(&WorkerSignal{
			Kind:   SignalCompletedError,
			CallID: w.id,
			BC:     bc,
			Err:    res.Err,
		}))
	}
}

// drain pumps a delta stream into delta signals followed by one terminal
// signal.
func (w *Worker) drain(bc *convo.BridgeContext, stream provider.DeltaStream, emit func(Event)) {
	output, usage, err := provider.DrainStream(stream, func(d provider.Delta) {
		emit(workerEvent(&WorkerSignal{Kind: SignalDelta, CallID: w.id, BC: bc, Delta: d}))
		if len(d.Tools) > 0 {
			emit(workerEvent(&WorkerSignal{Kind: SignalToolCall, CallID: w.id, BC: bc, Tools: d.Tools}))
		}
	})
	if err != nil {
		pe, ok := err.(*types.ProviderError)
		if !ok {
			pe = types.NewProviderError(types.ErrKindInternal, "%v", err)
		}
		emit(workerEvent(&WorkerSignal{Kind: SignalCompletedError, CallID: w.id, BC: bc, Err: pe, Output: output}))
		return
	}
	emit(workerEvent(&WorkerSignal{
		Kind:   SignalCompletedOK,
		CallID: w.id,
		BC:     bc,
		Output: output,
		Usage:  usage,
	}))
}

func workerEvent(sig *WorkerSignal) Event {
	return Event{Kind: EventWorker, Worker: sig}
}

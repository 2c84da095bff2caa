// Package provider defines the gateway contract the orchestration core
// depends on: one Call per mode family, cancellable by polling the request's
// cancellation token. Gateways must be safe to invoke from pool goroutines.
package provider

import (
	"context"
	"io"

	"conduit/internal/convo"
	"conduit/internal/types"
)

// ResultKind discriminates CallResult.
type ResultKind int

const (
	// ResultOk carries the full output text.
	ResultOk ResultKind = iota
	// ResultStream carries a delta stream to be drained by the caller.
	ResultStream
	// ResultError carries a classified provider failure.
	ResultError
)

// Usage is provider-reported token accounting, when available.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// Delta is one streamed chunk.
type Delta struct {
	Text  string
	Audio []byte
	// Tools carries tool-call requests surfaced mid-stream.
	Tools []convo.ToolCall
}

// DeltaStream yields deltas until io.EOF. Any other error terminates the
// stream abnormally. Implementations poll the request token between chunks
// and return a cancelled ProviderError promptly on a positive poll.
type DeltaStream interface {
	Recv() (Delta, error)
	// Usage returns token accounting after the stream ends, if known.
	Usage() Usage
}

// CallResult is the tagged union a gateway returns.
type CallResult struct {
	Kind   ResultKind
	Output string
	Stream DeltaStream
	Usage  Usage
	Err    *types.ProviderError
	// Tools carries tool-call requests for structured modes.
	Tools []convo.ToolCall
	// NeedsNext signals an agent loop that requires another turn.
	NeedsNext bool
}

// Ok builds a terminal success result.
func Ok(output string) CallResult {
	return CallResult{Kind: ResultOk, Output: output}
}

// Streamed builds a streaming result.
func Streamed(s DeltaStream) CallResult {
	return CallResult{Kind: ResultStream, Stream: s}
}

// Errored builds a failure result.
func Errored(err *types.ProviderError) CallResult {
	return CallResult{Kind: ResultError, Err: err}
}

// Gateway is one provider/mode family adapter.
type Gateway interface {
	// Mode returns the mode this gateway serves.
	Mode() types.Mode
	// Call executes one request. Long gateways poll bc.Token.Stopped()
	// between chunks and tool-loop iterations and return a cancelled error
	// within one polling interval of a positive poll.
	Call(ctx context.Context, bc *convo.BridgeContext) CallResult
}

// DrainStream collects a stream to completion, invoking onDelta per chunk.
// Returns the concatenated text, final usage, and the terminal error (nil on
// clean EOF).
func DrainStream(s DeltaStream, onDelta func(Delta)) (string, Usage, error) {
	var out string
	for {
		d, err := s.Recv()
		if err == io.EOF {
			return out, s.Usage(), nil
		}
		if err != nil {
			return out, s.Usage(), err
		}
		out += d.Text
		if onDelta != nil {
			onDelta(d)
		}
	}
}

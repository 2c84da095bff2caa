package provider

import (
	"context"

	"conduit/internal/convo"
	"conduit/internal/types"
)

// RealtimeEventKind discriminates duplex session events.
type RealtimeEventKind int

const (
	RealtimeAudioDelta RealtimeEventKind = iota
	RealtimeTextDelta
	RealtimeTurnEnd
	RealtimeAudioCommit
	RealtimeError
	RealtimeClosed
)

// RealtimeEvent is one fine-grained duplex session event.
type RealtimeEvent struct {
	Kind  RealtimeEventKind
	Text  string
	Audio []byte
	Err   *types.ProviderError
}

// RealtimeSession is a live duplex connection. Events() is closed when the
// session ends; a RealtimeClosed event precedes the close.
type RealtimeSession interface {
	Events() <-chan RealtimeEvent
	SendText(text string) error
	SendAudio(chunk []byte) error
	// Commit manually commits the pending input turn.
	Commit() error
	Close() error
}

// RealtimeGateway opens duplex sessions.
type RealtimeGateway interface {
	Open(ctx context.Context, bc *convo.BridgeContext) (RealtimeSession, error)
}

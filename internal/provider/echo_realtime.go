package provider

import (
	"context"
	"fmt"
	"sync"

	"conduit/internal/convo"
	"conduit/internal/types"
)

// autoCommitBytes is the buffered-audio threshold at which the loopback
// session commits an input turn on its own, mimicking server-side voice
// activity detection.
const autoCommitBytes = 3200

// EchoRealtimeGateway opens loopback duplex sessions. Text is echoed back as
// deltas; audio is buffered and echoed on commit. Used offline and in tests.
type EchoRealtimeGateway struct{}

func NewEchoRealtimeGateway() *EchoRealtimeGateway { return &EchoRealtimeGateway{} }

func (g *EchoRealtimeGateway) Open(ctx context.Context, bc *convo.BridgeContext) (RealtimeSession, error) {
	if bc != nil && bc.Token.Stopped() {
		return nil, types.Cancelled("")
	}
	return &echoRealtimeSession{
		events: make(chan RealtimeEvent, 64),
	}, nil
}

type echoRealtimeSession struct {
	mu      sync.Mutex
	events  chan RealtimeEvent
	pending []byte
	closed  bool
}

func (s *echoRealtimeSession) Events() <-chan RealtimeEvent { return s.events }

func (s *echoRealtimeSession) SendText(text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("realtime session closed")
	}
	for _, chunk := range splitChunks("echo: "+text, 0) {
		s.events <- RealtimeEvent{Kind: RealtimeTextDelta, Text: chunk}
	}
	s.events <- RealtimeEvent{Kind: RealtimeTurnEnd}
	return nil
}

func (s *echoRealtimeSession) SendAudio(chunk []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("realtime session closed")
	}
	s.pending = append(s.pending, chunk...)
	if len(s.pending) >= autoCommitBytes {
		s.commitLocked()
	}
	return nil
}

func (s *echoRealtimeSession) Commit() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("realtime session closed")
	}
	s.commitLocked()
	return nil
}

// commitLocked flushes the buffered input turn: the commit marker, the echoed
// audio, and the turn boundary.
func (s *echoRealtimeSession) commitLocked() {
	audio := s.pending
	s.pending = nil
	s.events <- RealtimeEvent{Kind: RealtimeAudioCommit}
	if len(audio) > 0 {
		s.events <- RealtimeEvent{Kind: RealtimeAudioDelta, Audio: audio}
	}
	s.events <- RealtimeEvent{Kind: RealtimeTurnEnd}
}

func (s *echoRealtimeSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.events <- RealtimeEvent{Kind: RealtimeClosed}
	close(s.events)
	return nil
}

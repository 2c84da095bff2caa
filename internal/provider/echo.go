package provider

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"conduit/internal/convo"
	"conduit/internal/types"
)

// EchoGateway is the in-process gateway used offline and in tests: it mirrors
// the prompt back, chunked when streaming is requested. It honors the
// cancellation contract so cancellation paths are exercisable without a
// network provider.
type EchoGateway struct {
	// ModeServed lets one echo instance stand in for any mode.
	ModeServed types.Mode
	// ChunkSize controls streamed chunking; 0 means whole words.
	ChunkSize int
	// Delay between chunks, for cancellation tests.
	Delay time.Duration
}

// NewEchoGateway returns an echo gateway for the given mode.
func NewEchoGateway(mode types.Mode) *EchoGateway {
	return &EchoGateway{ModeServed: mode}
}

func (g *EchoGateway) Mode() types.Mode { return g.ModeServed }

func (g *EchoGateway) Call(ctx context.Context, bc *convo.BridgeContext) CallResult {
	if bc.Token.Stopped() {
		return Errored(types.Cancelled(""))
	}
	reply := fmt.Sprintf("echo: %s", bc.Prompt)
	if !bc.Stream {
		return CallResult{
			Kind:   ResultOk,
			Output: reply,
			Usage: Usage{
				InputTokens:  len(strings.Fields(bc.Prompt)),
				OutputTokens: len(strings.Fields(reply)),
			},
		}
	}
	return Streamed(&echoStream{
		chunks: splitChunks(reply, g.ChunkSize),
		token:  bc.Token,
		delay:  g.Delay,
	})
}

type echoStream struct {
	chunks []string
	pos    int
	token  *types.CancellationToken
	delay  time.Duration
	usage  Usage
}

func (s *echoStream) Recv() (Delta, error) {
	if s.token.Stopped() {
		return Delta{}, types.Cancelled("")
	}
	if s.pos >= len(s.chunks) {
		return Delta{}, io.EOF
	}
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	chunk := s.chunks[s.pos]
	s.pos++
	s.usage.OutputTokens++
	return Delta{Text: chunk}, nil
}

func (s *echoStream) Usage() Usage { return s.usage }

func splitChunks(text string, size int) []string {
	if size <= 0 {
		words := strings.SplitAfter(text, " ")
		return words
	}
	var out []string
	runes := []rune(text)
	for i := 0; i < len(runes); i += size {
		end := i + size
		if end > len(runes) {
			end = len(runes)
		}
		out = append(out, string(runes[i:end]))
	}
	return out
}

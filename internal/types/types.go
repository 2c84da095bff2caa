// Package types provides shared type definitions used across conduit packages.
// This package exists to break import cycles between convo, provider, and core.
// Types in this package should be foundational data structures with no complex
// dependencies.
package types

import "fmt"

// =============================================================================
// MODES
// =============================================================================

// Mode identifies a provider/request family. Each mode maps to exactly one
// registered gateway.
type Mode string

const (
	// ModeChat is plain conversational chat completion (streamable).
	ModeChat Mode = "chat"

	// ModeCompletion is single-shot text completion (streamable).
	ModeCompletion Mode = "completion"

	// ModeAssistant is the remote-thread assistant API (structured, non-streaming).
	ModeAssistant Mode = "assistant"

	// ModeAgent is the autonomous tool-using agent loop (structured, non-streaming).
	ModeAgent Mode = "agent"

	// ModeExpert is a nested expert sub-call (always synchronous).
	ModeExpert Mode = "expert"

	// ModeComputer is the computer-use loop (structured, non-streaming).
	ModeComputer Mode = "computer"

	// ModeRealtime is the duplex audio/text streaming session.
	ModeRealtime Mode = "realtime"
)

// Structured reports whether the mode is a non-streaming structured mode that
// must execute synchronously for deterministic ordering.
func (m Mode) Structured() bool {
	switch m {
	case ModeAssistant, ModeAgent, ModeComputer, ModeExpert:
		return true
	default:
		return false
	}
}

// Streamable reports whether the mode can deliver incremental deltas.
func (m Mode) Streamable() bool {
	switch m {
	case ModeChat, ModeCompletion, ModeRealtime:
		return true
	default:
		return false
	}
}

// ModeCapability describes a mode for registry listings.
type ModeCapability struct {
	Mode       Mode
	Streamable bool
	Structured bool
	Realtime   bool
}

// Capability returns the capability descriptor for the mode.
func (m Mode) Capability() ModeCapability {
	return ModeCapability{
		Mode:       m,
		Streamable: m.Streamable(),
		Structured: m.Structured(),
		Realtime:   m == ModeRealtime,
	}
}

// AllModes lists every mode the core understands, in stable order.
func AllModes() []Mode {
	return []Mode{
		ModeChat,
		ModeCompletion,
		ModeAssistant,
		ModeAgent,
		ModeExpert,
		ModeComputer,
		ModeRealtime,
	}
}

// =============================================================================
// MODEL DESCRIPTOR
// =============================================================================

// ModelRef describes the target model for one dispatch.
type ModelRef struct {
	ID       string // provider model id, e.g. "gemini-2.0-flash"
	Provider string // provider family, e.g. "gemini"
	CtxLen   int    // context window hint, 0 = unknown
}

func (m ModelRef) String() string {
	if m.Provider == "" {
		return m.ID
	}
	return fmt.Sprintf("%s/%s", m.Provider, m.ID)
}

package provider

import (
	"context"
	"fmt"
	"io"
	"iter"
	"strings"

	"google.golang.org/genai"

	"conduit/internal/convo"
	"conduit/internal/logging"
	"conduit/internal/types"
)

// =============================================================================
// GEMINI GATEWAY
// =============================================================================

// GeminiGateway adapts Google's GenAI API to the gateway contract. One
// instance serves one mode; chat and expert modes typically share a client.
type GeminiGateway struct {
	client     *genai.Client
	modeServed types.Mode
	model      string
}

// NewGeminiGateway creates a Gemini-backed gateway.
func NewGeminiGateway(ctx context.Context, apiKey, model string, mode types.Mode) (*GeminiGateway, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}
	if model == "" {
		model = "gemini-2.0-flash"
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: apiKey})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}
	return &GeminiGateway{client: client, modeServed: mode, model: model}, nil
}

func (g *GeminiGateway) Mode() types.Mode { return g.modeServed }

func (g *GeminiGateway) Call(ctx context.Context, bc *convo.BridgeContext) CallResult {
	if bc.Token.Stopped() {
		return Errored(types.Cancelled(""))
	}

	model := g.model
	if bc.Model.ID != "" {
		model = bc.Model.ID
	}

	contents := buildContents(bc)
	config := &genai.GenerateContentConfig{}
	if bc.SystemPrompt != "" {
		config.SystemInstruction = genai.NewContentFromText(bc.SystemPrompt, genai.RoleUser)
	}

	if bc.Stream {
		seq := g.client.Models.GenerateContentStream(ctx, model, contents, config)
		return Streamed(newGeminiStream(seq, bc.Token))
	}

	resp, err := g.client.Models.GenerateContent(ctx, model, contents, config)
	if err != nil {
		return Errored(classifyGenAIError(err))
	}
	result := CallResult{Kind: ResultOk, Output: resp.Text()}
	if resp.UsageMetadata != nil {
		result.Usage = Usage{
			InputTokens:  int(resp.UsageMetadata.PromptTokenCount),
			OutputTokens: int(resp.UsageMetadata.CandidatesTokenCount),
		}
	}
	return result
}

// buildContents renders the history slice plus the prompt into genai contents.
func buildContents(bc *convo.BridgeContext) []*genai.Content {
	var contents []*genai.Content
	for _, it := range bc.History {
		if it.Input != "" {
			contents = append(contents, genai.NewContentFromText(it.Input, genai.RoleUser))
		}
		if it.Output != "" {
			contents = append(contents, genai.NewContentFromText(it.Output, genai.RoleModel))
		}
	}
	contents = append(contents, genai.NewContentFromText(bc.Prompt, genai.RoleUser))
	return contents
}

// geminiStream adapts the SDK's push iterator to the pull-based DeltaStream,
// polling the cancellation token between chunks.
type geminiStream struct {
	next  func() (*genai.GenerateContentResponse, error, bool)
	stop  func()
	token *types.CancellationToken
	usage Usage
	done  bool
}

func newGeminiStream(seq iter.Seq2[*genai.GenerateContentResponse, error], token *types.CancellationToken) *geminiStream {
	next, stop := iter.Pull2(seq)
	return &geminiStream{next: next, stop: stop, token: token}
}

func (s *geminiStream) Recv() (Delta, error) {
	if s.done {
		return Delta{}, io.EOF
	}
	if s.token.Stopped() {
		s.stop()
		s.done = true
		return Delta{}, types.Cancelled("")
	}
	resp, err, ok := s.next()
	if !ok {
		s.done = true
		return Delta{}, io.EOF
	}
	if err != nil {
		s.stop()
		s.done = true
		return Delta{}, classifyGenAIError(err)
	}
	if resp.UsageMetadata != nil {
		s.usage = Usage{
			InputTokens:  int(resp.UsageMetadata.PromptTokenCount),
			OutputTokens: int(resp.UsageMetadata.CandidatesTokenCount),
		}
	}
	return Delta{Text: resp.Text()}, nil
}

func (s *geminiStream) Usage() Usage { return s.usage }

// classifyGenAIError maps SDK errors onto the provider error taxonomy.
func classifyGenAIError(err error) *types.ProviderError {
	msg := err.Error()
	lower := strings.ToLower(msg)
	switch {
	case strings.Contains(lower, "api key") || strings.Contains(lower, "unauthenticated") || strings.Contains(lower, "permission"):
		return types.NewProviderError(types.ErrKindAuth, "%s", msg)
	case strings.Contains(lower, "quota") || strings.Contains(lower, "rate") || strings.Contains(lower, "resource exhausted"):
		return types.NewProviderError(types.ErrKindRateLimit, "%s", msg)
	case strings.Contains(lower, "context canceled") || strings.Contains(lower, "context deadline"):
		return types.Cancelled(msg)
	case strings.Contains(lower, "connection") || strings.Contains(lower, "dial") || strings.Contains(lower, "timeout"):
		return types.NewProviderError(types.ErrKindNetwork, "%s", msg)
	default:
		logging.Provider("unclassified genai error: %v", err)
		return types.NewProviderError(types.ErrKindInternal, "%s", msg)
	}
}

package llm

import (
	"context"
	"fmt"
	"os"

	"google.golang.org/genai"
)

// EnvGoogleAPIKey is the environment variable holding the Gemini API key.
const EnvGoogleAPIKey = "GOOGLE_API_KEY"

// GeminiClient implements Client using the Gemini API.
type GeminiClient struct {
	client *genai.Client
}

// NewGeminiClient creates a Gemini client. An empty apiKey falls back to GOOGLE_API_KEY.
func NewGeminiClient(ctx context.Context, apiKey string) (*GeminiClient, error) {
	if apiKey == "" {
		apiKey = os.Getenv(EnvGoogleAPIKey)
		if apiKey == "" {
			return nil, fmt.Errorf("gemini: api key not set (use config or %s)", EnvGoogleAPIKey)
		}
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return &GeminiClient{client: client}, nil
}

// Chat sends the conversation to Gemini and returns the first candidate's text.
func (c *GeminiClient) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	contents := make([]*genai.Content, 0, len(req.Messages))
	for _, m := range req.Messages {
		contents = append(contents, genai.NewContentFromText(m.Content, genai.Role(geminiRole(m.Role))))
	}

	resp, err := c.client.Models.GenerateContent(ctx, req.Model, contents, buildGeminiConfig(req))
	if err != nil {
		return nil, fmt.Errorf("gemini chat: %w", err)
	}
	return parseGeminiResponse(resp)
}

// geminiRole maps our roles onto Gemini's, which calls the assistant "model".
func geminiRole(r Role) string {
	if r == RoleAssistant {
		return "model"
	}
	return "user"
}

func buildGeminiConfig(req ChatRequest) *genai.GenerateContentConfig {
	cfg := &genai.GenerateContentConfig{
		MaxOutputTokens: int32(req.MaxTokens),
	}
	if req.Temperature != nil {
		t := float32(*req.Temperature)
		cfg.Temperature = &t
	}
	if req.TopP != nil {
		p := float32(*req.TopP)
		cfg.TopP = &p
	}
	if req.System != "" {
		cfg.SystemInstruction = genai.NewContentFromText(req.System, genai.Role("user"))
	}
	return cfg
}

func parseGeminiResponse(resp *genai.GenerateContentResponse) (*ChatResponse, error) {
	if resp == nil || len(resp.Candidates) == 0 {
		return nil, fmt.Errorf("gemini chat: response has no candidates")
	}

	cand := resp.Candidates[0]
	out := &ChatResponse{StopReason: mapFinishReason(cand.FinishReason)}
	if cand.Content != nil {
		for _, part := range cand.Content.Parts {
			if part != nil {
				out.Content += part.Text
			}
		}
	}
	if um := resp.UsageMetadata; um != nil {
		out.Usage = TokenUsage{
			InputTokens:  int(um.PromptTokenCount),
			OutputTokens: int(um.CandidatesTokenCount),
		}
	}
	return out, nil
}

func mapFinishReason(fr genai.FinishReason) StopReason {
	switch fr {
	case genai.FinishReasonStop:
		return StopEndTurn
	case genai.FinishReasonMaxTokens:
		return StopMaxTokens
	default:
		return StopReason(string(fr))
	}
}

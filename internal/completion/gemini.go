package completion

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
)

// Gemini defaults
const (
	ProviderGemini     = "gemini"
	DefaultGeminiModel = "gemini-2.5-flash"
	DefaultGeminiURL   = "https://generativelanguage.googleapis.com/v1beta"
	EnvGeminiAPIKey    = "GEMINI_API_KEY"
)

// GeminiProvider streams completions from streamGenerateContent using SSE
type GeminiProvider struct {
	apiKey      string
	baseURL     string
	model       string
	temperature float64
	maxTokens   int
	httpClient  *http.Client
}

// NewGeminiProvider creates a Gemini completion provider
func NewGeminiProvider(cfg Config) (*GeminiProvider, error) {
	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv(EnvGeminiAPIKey)
	}
	if apiKey == "" {
		return nil, fmt.Errorf("%w: %s not set", ErrNoProviderEnabled, EnvGeminiAPIKey)
	}

	cfg = cfg.withDefaults(DefaultGeminiModel, DefaultGeminiURL)
	return &GeminiProvider{
		apiKey:      apiKey,
		baseURL:     cfg.BaseURL,
		model:       strings.TrimPrefix(cfg.Model, "models/"),
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		httpClient:  newHTTPClient(cfg.Timeout),
	}, nil
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiRequest struct {
	SystemInstruction *geminiContent  `json:"systemInstruction,omitempty"`
	Contents          []geminiContent `json:"contents"`
	GenerationConfig  struct {
		Temperature     float64 `json:"temperature"`
		MaxOutputTokens int     `json:"maxOutputTokens"`
	} `json:"generationConfig"`
}

// buildGeminiRequest maps chat messages onto Gemini contents. System messages
// become the system instruction and assistant turns use the "model" role.
func (g *GeminiProvider) buildGeminiRequest(messages []Message) geminiRequest {
	var req geminiRequest
	var system []string

	for _, m := range messages {
		switch m.Role {
		case RoleSystem:
			system = append(system, m.Content)
		case RoleAssistant:
			req.Contents = append(req.Contents, geminiContent{Role: "model", Parts: []geminiPart{{Text: m.Content}}})
		default:
			req.Contents = append(req.Contents, geminiContent{Role: "user", Parts: []geminiPart{{Text: m.Content}}})
		}
	}

	if len(system) > 0 {
		req.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: strings.Join(system, "\n\n")}}}
	}
	req.GenerationConfig.Temperature = g.temperature
	req.GenerationConfig.MaxOutputTokens = g.maxTokens
	return req
}

func (g *GeminiProvider) Stream(ctx context.Context, messages []Message) (*Stream, error) {
	if err := validateMessages(messages); err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/models/%s:streamGenerateContent?alt=sse", strings.TrimRight(g.baseURL, "/"), g.model)
	body, err := openStream(ctx, g.httpClient, ProviderGemini, url,
		map[string]string{"x-goog-api-key": g.apiKey}, g.buildGeminiRequest(messages))
	if err != nil {
		return nil, err
	}

	return newStream(body, sseDecoder(parseGeminiChunk)), nil
}

func parseGeminiChunk(data []byte) (string, error) {
	var chunk struct {
		Candidates []struct {
			Content struct {
				Parts []geminiPart `json:"parts"`
			} `json:"content"`
		} `json:"candidates"`
		Error *struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &chunk); err != nil {
		return "", fmt.Errorf("decode chunk: %w", err)
	}
	if chunk.Error != nil {
		return "", fmt.Errorf("stream error: %s", chunk.Error.Message)
	}

	if len(chunk.Candidates) == 0 {
		return "", nil
	}

	var b strings.Builder
	for _, p := range chunk.Candidates[0].Content.Parts {
		b.WriteString(p.Text)
	}
	return b.String(), nil
}

func (g *GeminiProvider) Complete(ctx context.Context, messages []Message) (string, error) {
	s, err := g.Stream(ctx, messages)
	if err != nil {
		return "", err
	}
	return Collect(s)
}

func (g *GeminiProvider) Provider() string {
	return ProviderGemini
}

func (g *GeminiProvider) Model() string {
	return g.model
}

func (g *GeminiProvider) Close() error {
	g.httpClient.CloseIdleConnections()
	return nil
}

package completion

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
)

// OpenAI defaults
const (
	ProviderOpenAI     = "openai"
	DefaultOpenAIModel = "gpt-4o-mini"
	DefaultOpenAIURL   = "https://api.openai.com/v1"
	EnvOpenAIAPIKey    = "OPENAI_API_KEY"
)

// OpenAIProvider streams chat completions from the OpenAI API or any
// compatible endpoint.
type OpenAIProvider struct {
	apiKey      string
	baseURL     string
	model       string
	temperature float64
	maxTokens   int
	httpClient  *http.Client
}

// NewOpenAIProvider creates an OpenAI completion provider
func NewOpenAIProvider(cfg Config) (*OpenAIProvider, error) {
	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv(EnvOpenAIAPIKey)
	}
	if apiKey == "" {
		return nil, fmt.Errorf("%w: %s not set", ErrNoProviderEnabled, EnvOpenAIAPIKey)
	}

	cfg = cfg.withDefaults(DefaultOpenAIModel, DefaultOpenAIURL)
	return &OpenAIProvider{
		apiKey:      apiKey,
		baseURL:     cfg.BaseURL,
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		httpClient:  newHTTPClient(cfg.Timeout),
	}, nil
}

func (o *OpenAIProvider) Stream(ctx context.Context, messages []Message) (*Stream, error) {
	if err := validateMessages(messages); err != nil {
		return nil, err
	}

	payload := map[string]interface{}{
		"model":       o.model,
		"messages":    messages,
		"stream":      true,
		"temperature": o.temperature,
		"max_tokens":  o.maxTokens,
	}

	body, err := openStream(ctx, o.httpClient, ProviderOpenAI, strings.TrimRight(o.baseURL, "/")+"/chat/completions",
		map[string]string{"Authorization": "Bearer " + o.apiKey, "Accept": "text/event-stream"}, payload)
	if err != nil {
		return nil, err
	}

	return newStream(body, sseDecoder(parseOpenAIChunk)), nil
}

func parseOpenAIChunk(data []byte) (string, error) {
	var chunk struct {
		Choices []struct {
			Delta struct {
				Content string `json:"content"`
			} `json:"delta"`
		} `json:"choices"`
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
	if len(chunk.Choices) == 0 {
		return "", nil
	}
	return chunk.Choices[0].Delta.Content, nil
}

func (o *OpenAIProvider) Complete(ctx context.Context, messages []Message) (string, error) {
	s, err := o.Stream(ctx, messages)
	if err != nil {
		return "", err
	}
	return Collect(s)
}

func (o *OpenAIProvider) Provider() string {
	return ProviderOpenAI
}

func (o *OpenAIProvider) Model() string {
	return o.model
}

func (o *OpenAIProvider) Close() error {
	o.httpClient.CloseIdleConnections()
	return nil
}

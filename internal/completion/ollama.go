package completion

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
)

// Ollama defaults
const (
	ProviderOllama     = "ollama"
	DefaultOllamaModel = "qwen3"
	DefaultOllamaURL   = "http://localhost:11434"
	EnvOllamaURL       = "OLLAMA_BASE_URL"
)

// OllamaProvider streams chat completions from /api/chat as NDJSON
type OllamaProvider struct {
	baseURL     string
	model       string
	token       string
	temperature float64
	maxTokens   int
	httpClient  *http.Client
}

// NewOllamaProvider creates an Ollama completion provider. APIKey, when set,
// is sent as a bearer token for hosted endpoints.
func NewOllamaProvider(cfg Config) (*OllamaProvider, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = os.Getenv(EnvOllamaURL)
	}
	cfg = cfg.withDefaults(DefaultOllamaModel, DefaultOllamaURL)

	return &OllamaProvider{
		baseURL:     cfg.BaseURL,
		model:       cfg.Model,
		token:       cfg.APIKey,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		httpClient:  newHTTPClient(cfg.Timeout),
	}, nil
}

func (o *OllamaProvider) Stream(ctx context.Context, messages []Message) (*Stream, error) {
	if err := validateMessages(messages); err != nil {
		return nil, err
	}

	payload := map[string]interface{}{
		"model":    o.model,
		"messages": messages,
		"stream":   true,
		"options": map[string]interface{}{
			"temperature": o.temperature,
			"num_predict": o.maxTokens,
		},
	}

	var headers map[string]string
	if o.token != "" {
		headers = map[string]string{"Authorization": "Bearer " + o.token}
	}

	body, err := openStream(ctx, o.httpClient, ProviderOllama, strings.TrimRight(o.baseURL, "/")+"/api/chat", headers, payload)
	if err != nil {
		return nil, err
	}

	return newStream(body, decodeOllamaLine), nil
}

func decodeOllamaLine(r *bufio.Reader) (string, bool, error) {
	for {
		line, err := readLine(r)
		if err != nil {
			return "", false, err
		}
		if strings.TrimSpace(line) == "" {
			continue
		}

		var chunk struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
			Done  bool   `json:"done"`
			Error string `json:"error"`
		}
		if err := json.Unmarshal([]byte(line), &chunk); err != nil {
			return "", false, fmt.Errorf("decode chunk: %w", err)
		}
		if chunk.Error != "" {
			return "", false, errors.New(chunk.Error)
		}
		return chunk.Message.Content, chunk.Done, nil
	}
}

func (o *OllamaProvider) Complete(ctx context.Context, messages []Message) (string, error) {
	s, err := o.Stream(ctx, messages)
	if err != nil {
		return "", err
	}
	return Collect(s)
}

func (o *OllamaProvider) Provider() string {
	return ProviderOllama
}

func (o *OllamaProvider) Model() string {
	return o.model
}

func (o *OllamaProvider) Close() error {
	o.httpClient.CloseIdleConnections()
	return nil
}

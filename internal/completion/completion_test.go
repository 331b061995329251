package completion

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testMessages = []Message{
	{Role: RoleSystem, Content: "be brief"},
	{Role: RoleUser, Content: "what does main do?"},
}

func TestStaticStream(t *testing.T) {
	s := NewStaticStream("Hello", "", ", ", "world")
	text, err := Collect(s)
	require.NoError(t, err)
	assert.Equal(t, "Hello, world", text)
	assert.False(t, s.Next())
}

func TestErrorStream(t *testing.T) {
	boom := errors.New("connection reset")
	s := NewErrorStream(boom, "partial")

	require.True(t, s.Next())
	assert.Equal(t, "partial", s.Text())
	assert.False(t, s.Next())
	assert.ErrorIs(t, s.Err(), boom)
	assert.ErrorIs(t, s.Err(), ErrProviderFailed)
}

func TestStreamCloseStopsIteration(t *testing.T) {
	s := NewStaticStream("a", "b", "c")
	require.True(t, s.Next())
	require.NoError(t, s.Close())
	assert.False(t, s.Next())
	assert.NoError(t, s.Close())
}

func TestOpenAIProvider_Stream(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))

		var req struct {
			Model    string    `json:"model"`
			Messages []Message `json:"messages"`
			Stream   bool      `json:"stream"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.True(t, req.Stream)
		assert.Equal(t, testMessages, req.Messages)

		w.Header().Set("Content-Type", "text/event-stream")
		for _, tok := range []string{"The ", "main ", "function."} {
			fmt.Fprintf(w, "data: {\"choices\":[{\"delta\":{\"content\":%q}}]}\n\n", tok)
		}
		fmt.Fprint(w, ": keep-alive\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{}}]}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"ignored\"}}]}\n\n")
	}))
	defer server.Close()

	p, err := NewOpenAIProvider(Config{APIKey: "sk-test", BaseURL: server.URL})
	require.NoError(t, err)
	defer p.Close()

	s, err := p.Stream(context.Background(), testMessages)
	require.NoError(t, err)

	var fragments []string
	for s.Next() {
		fragments = append(fragments, s.Text())
	}
	require.NoError(t, s.Err())
	require.NoError(t, s.Close())
	assert.Equal(t, []string{"The ", "main ", "function."}, fragments)
}

func TestOpenAIProvider_ErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"rate limited"}}`))
	}))
	defer server.Close()

	p, err := NewOpenAIProvider(Config{APIKey: "k", BaseURL: server.URL})
	require.NoError(t, err)

	_, err = p.Stream(context.Background(), testMessages)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrProviderFailed)

	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusTooManyRequests, statusErr.StatusCode)
	assert.Contains(t, statusErr.Body, "rate limited")
}

func TestOpenAIProvider_MalformedChunk(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"ok\"}}]}\n\n")
		fmt.Fprint(w, "data: {not json\n\n")
	}))
	defer server.Close()

	p, err := NewOpenAIProvider(Config{APIKey: "k", BaseURL: server.URL})
	require.NoError(t, err)

	text, err := p.Complete(context.Background(), testMessages)
	assert.Equal(t, "ok", text)
	assert.ErrorIs(t, err, ErrProviderFailed)
}

func TestOllamaProvider_Stream(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)

		var req struct {
			Model  string `json:"model"`
			Stream bool   `json:"stream"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, DefaultOllamaModel, req.Model)
		assert.True(t, req.Stream)

		w.Header().Set("Content-Type", "application/x-ndjson")
		fmt.Fprintln(w, `{"message":{"role":"assistant","content":"It "},"done":false}`)
		fmt.Fprintln(w, ``)
		fmt.Fprintln(w, `{"message":{"role":"assistant","content":"parses flags."},"done":false}`)
		fmt.Fprint(w, `{"message":{"role":"assistant","content":""},"done":true}`)
	}))
	defer server.Close()

	p, err := NewOllamaProvider(Config{BaseURL: server.URL})
	require.NoError(t, err)

	text, err := p.Complete(context.Background(), testMessages)
	require.NoError(t, err)
	assert.Equal(t, "It parses flags.", text)
}

func TestOllamaProvider_InlineError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, `{"message":{"content":"a"},"done":false}`)
		fmt.Fprintln(w, `{"error":"model unloaded"}`)
	}))
	defer server.Close()

	p, err := NewOllamaProvider(Config{BaseURL: server.URL})
	require.NoError(t, err)

	s, err := p.Stream(context.Background(), testMessages)
	require.NoError(t, err)
	defer s.Close()

	require.True(t, s.Next())
	assert.False(t, s.Next())
	require.Error(t, s.Err())
	assert.Contains(t, s.Err().Error(), "model unloaded")
}

func TestGeminiProvider_Stream(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/models/"+DefaultGeminiModel+":streamGenerateContent", r.URL.Path)
		assert.Equal(t, "sse", r.URL.Query().Get("alt"))
		assert.Equal(t, "g-key", r.Header.Get("x-goog-api-key"))

		var req geminiRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.NotNil(t, req.SystemInstruction)
		assert.Equal(t, "be brief", req.SystemInstruction.Parts[0].Text)
		require.Len(t, req.Contents, 1)
		assert.Equal(t, "user", req.Contents[0].Role)
		assert.Equal(t, DefaultTemperature, req.GenerationConfig.Temperature)
		assert.Equal(t, DefaultMaxTokens, req.GenerationConfig.MaxOutputTokens)

		fmt.Fprint(w, "data: {\"candidates\":[{\"content\":{\"parts\":[{\"text\":\"Reads \"}]}}]}\r\n\r\n")
		fmt.Fprint(w, "data: {\"candidates\":[{\"content\":{\"parts\":[{\"text\":\"config\"}]}}]}\r\n\r\n")
	}))
	defer server.Close()

	p, err := NewGeminiProvider(Config{APIKey: "g-key", BaseURL: server.URL})
	require.NoError(t, err)

	text, err := p.Complete(context.Background(), testMessages)
	require.NoError(t, err)
	assert.Equal(t, "Reads config", text)
}

func TestGeminiRoleMapping(t *testing.T) {
	p := &GeminiProvider{temperature: 0.2, maxTokens: 10}
	req := p.buildGeminiRequest([]Message{
		{Role: RoleUser, Content: "q1"},
		{Role: RoleAssistant, Content: "a1"},
		{Role: RoleUser, Content: "q2"},
	})

	assert.Nil(t, req.SystemInstruction)
	require.Len(t, req.Contents, 3)
	assert.Equal(t, "model", req.Contents[1].Role)
}

func TestStreamRequiresMessages(t *testing.T) {
	p, err := NewOllamaProvider(Config{BaseURL: "http://127.0.0.1:1"})
	require.NoError(t, err)

	_, err = p.Stream(context.Background(), nil)
	assert.ErrorIs(t, err, ErrNoMessages)
}

func TestNew(t *testing.T) {
	t.Setenv(EnvOpenAIAPIKey, "")
	t.Setenv(EnvGeminiAPIKey, "")

	p, err := New(Config{Provider: "Ollama"})
	require.NoError(t, err)
	assert.Equal(t, ProviderOllama, p.Provider())
	assert.Equal(t, DefaultOllamaModel, p.Model())

	p, err = New(Config{Provider: "openai", APIKey: "k", Model: "gpt-4.1"})
	require.NoError(t, err)
	assert.Equal(t, "gpt-4.1", p.Model())

	_, err = New(Config{Provider: "gemini"})
	assert.ErrorIs(t, err, ErrNoProviderEnabled)

	_, err = New(Config{Provider: "anthropic-local"})
	assert.ErrorIs(t, err, ErrUnsupported)
}

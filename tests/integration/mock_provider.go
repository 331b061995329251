package integration

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/dshills/reporag/internal/completion"
)

// MockProvider answers by listing the files named in the prompt context.
// It records the last prompt it was sent.
type MockProvider struct {
	mu   sync.Mutex
	last []completion.Message
}

// NewMockProvider creates a new mock completion provider
func NewMockProvider() *MockProvider {
	return &MockProvider{}
}

// Stream streams "Based on <file>, <file>." one fragment per file
func (p *MockProvider) Stream(ctx context.Context, messages []completion.Message) (*completion.Stream, error) {
	p.mu.Lock()
	p.last = messages
	p.mu.Unlock()

	var files []string
	for _, line := range strings.Split(messages[len(messages)-1].Content, "\n") {
		if rest, ok := strings.CutPrefix(line, "File: "); ok {
			path, _, _ := strings.Cut(rest, " (Lines ")
			files = append(files, path)
		}
	}

	fragments := []string{"Based on "}
	for i, f := range files {
		sep := ", "
		if i == len(files)-1 {
			sep = "."
		}
		fragments = append(fragments, fmt.Sprintf("%s%s", f, sep))
	}
	return completion.NewStaticStream(fragments...), nil
}

// Complete returns the concatenated stream
func (p *MockProvider) Complete(ctx context.Context, messages []completion.Message) (string, error) {
	s, err := p.Stream(ctx, messages)
	if err != nil {
		return "", err
	}
	return completion.Collect(s)
}

// LastPrompt returns the messages of the most recent call
func (p *MockProvider) LastPrompt() []completion.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.last
}

func (p *MockProvider) Provider() string { return "mock" }
func (p *MockProvider) Model() string    { return "mock-chat" }
func (p *MockProvider) Close() error     { return nil }

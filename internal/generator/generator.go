package generator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/dshills/reporag/internal/completion"
	"github.com/dshills/reporag/pkg/types"
)

// ErrEmptyQuestion is returned when the question is blank
var ErrEmptyQuestion = errors.New("question cannot be empty")

// SystemPrompt instructs the model to stay grounded in the supplied context
const SystemPrompt = `You are an expert software engineer assisting with a codebase.
Use the provided Context to answer the user's question.
If the answer isn't in the context, say so, but try to be helpful based on general knowledge if appropriate,
while strictly distinguishing between context-based facts and general assumptions.
Always cite the file paths when referencing code.`

// SourcesSeparator ends the sources block written by WriteSources
const SourcesSeparator = "\n---\n"

// Answer is a streamed response plus the chunks it was grounded on.
// Sources is exactly the retrieval result passed to Generator.Answer, in order.
type Answer struct {
	Stream  *completion.Stream
	Sources []types.ScoredChunk
}

// Text drains the stream and returns the full answer
func (a *Answer) Text() (string, error) {
	return completion.Collect(a.Stream)
}

// Close releases the underlying stream
func (a *Answer) Close() error {
	return a.Stream.Close()
}

// Generator builds grounded prompts and invokes a completion provider
type Generator struct {
	provider completion.Provider
	logger   *slog.Logger
}

// New creates a Generator. A nil logger uses slog.Default().
func New(provider completion.Provider, logger *slog.Logger) *Generator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Generator{provider: provider, logger: logger}
}

// Answer starts a streamed completion for question grounded on results.
// The caller must Close the returned answer.
func (g *Generator) Answer(ctx context.Context, results []types.ScoredChunk, question string) (*Answer, error) {
	if strings.TrimSpace(question) == "" {
		return nil, ErrEmptyQuestion
	}

	stream, err := g.provider.Stream(ctx, BuildMessages(results, question))
	if err != nil {
		return nil, fmt.Errorf("completion failed: %w", err)
	}

	g.logger.Debug("answer stream opened",
		"provider", g.provider.Provider(),
		"model", g.provider.Model(),
		"sources", len(results))

	return &Answer{Stream: stream, Sources: results}, nil
}

// Complete runs a non-streaming completion for question and returns the
// full answer text
func (g *Generator) Complete(ctx context.Context, results []types.ScoredChunk, question string) (string, error) {
	if strings.TrimSpace(question) == "" {
		return "", ErrEmptyQuestion
	}
	text, err := g.provider.Complete(ctx, BuildMessages(results, question))
	if err != nil {
		return "", fmt.Errorf("completion failed: %w", err)
	}
	return text, nil
}

// BuildMessages returns the system and user messages for a grounded answer
func BuildMessages(results []types.ScoredChunk, question string) []completion.Message {
	user := fmt.Sprintf("Context:\n%s\n\nQuestion:\n%s\n", FormatContext(results), question)
	return []completion.Message{
		{Role: completion.RoleSystem, Content: SystemPrompt},
		{Role: completion.RoleUser, Content: user},
	}
}

// FormatContext renders each chunk under a "File: <path> (Lines a-b):" header,
// separated by blank lines, in retrieval order
func FormatContext(results []types.ScoredChunk) string {
	blocks := make([]string, len(results))
	for i, r := range results {
		blocks[i] = fmt.Sprintf("File: %s (Lines %d-%d):\n%s", r.FilePath, r.StartLine, r.EndLine, r.Content)
	}
	return strings.Join(blocks, "\n\n")
}

// WriteSources writes the sources block that precedes a streamed answer
func WriteSources(w io.Writer, sources []types.ScoredChunk) error {
	var b strings.Builder
	b.WriteString("**Sources:**\n")
	for _, s := range sources {
		fmt.Fprintf(&b, "- `%s` (%d-%d)\n", s.FilePath, s.StartLine, s.EndLine)
	}
	b.WriteString(SourcesSeparator)
	_, err := io.WriteString(w, b.String())
	return err
}

// StreamTo writes the sources block and then every fragment of the answer to
// w, flushing after each write when flush is non-nil. It closes the stream.
func StreamTo(w io.Writer, a *Answer, flush func() error) error {
	defer func() { _ = a.Close() }()

	if err := WriteSources(w, a.Sources); err != nil {
		return err
	}
	if flush != nil {
		if err := flush(); err != nil {
			return err
		}
	}

	for a.Stream.Next() {
		if _, err := io.WriteString(w, a.Stream.Text()); err != nil {
			return err
		}
		if flush != nil {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	return a.Stream.Err()
}

package generator

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/reporag/internal/completion"
	"github.com/dshills/reporag/pkg/types"
)

// scriptedProvider streams fixed fragments and records the prompt it saw
type scriptedProvider struct {
	fragments []string
	streamErr error
	openErr   error
	got       []completion.Message
}

func (p *scriptedProvider) Stream(ctx context.Context, messages []completion.Message) (*completion.Stream, error) {
	p.got = messages
	if p.openErr != nil {
		return nil, p.openErr
	}
	if p.streamErr != nil {
		return completion.NewErrorStream(p.streamErr, p.fragments...), nil
	}
	return completion.NewStaticStream(p.fragments...), nil
}

func (p *scriptedProvider) Complete(ctx context.Context, messages []completion.Message) (string, error) {
	s, err := p.Stream(ctx, messages)
	if err != nil {
		return "", err
	}
	return completion.Collect(s)
}

func (p *scriptedProvider) Provider() string { return "scripted" }
func (p *scriptedProvider) Model() string    { return "scripted-1" }
func (p *scriptedProvider) Close() error     { return nil }

func sampleResults() []types.ScoredChunk {
	return []types.ScoredChunk{
		{IndexedChunk: types.IndexedChunk{FilePath: "cmd/main.go", StartLine: 1, EndLine: 12, Content: "func main() {}"}, Distance: 0.1},
		{IndexedChunk: types.IndexedChunk{FilePath: "internal/flags.go", StartLine: 30, EndLine: 44, Content: "flag.Parse()"}, Distance: 0.3},
	}
}

func TestBuildMessages(t *testing.T) {
	msgs := BuildMessages(sampleResults(), "How are flags parsed?")
	require.Len(t, msgs, 2)

	assert.Equal(t, completion.RoleSystem, msgs[0].Role)
	assert.Contains(t, msgs[0].Content, "cite the file paths")

	assert.Equal(t, completion.RoleUser, msgs[1].Role)
	want := "Context:\n" +
		"File: cmd/main.go (Lines 1-12):\nfunc main() {}\n\n" +
		"File: internal/flags.go (Lines 30-44):\nflag.Parse()\n\n" +
		"Question:\nHow are flags parsed?\n"
	assert.Equal(t, want, msgs[1].Content)
}

func TestFormatContext_PreservesOrder(t *testing.T) {
	results := sampleResults()
	results[0], results[1] = results[1], results[0]

	ctx := FormatContext(results)
	assert.Less(t, strings.Index(ctx, "internal/flags.go"), strings.Index(ctx, "cmd/main.go"))
	assert.Empty(t, FormatContext(nil))
}

func TestAnswer(t *testing.T) {
	p := &scriptedProvider{fragments: []string{"Flags are ", "parsed in ", "`internal/flags.go`."}}
	g := New(p, nil)
	results := sampleResults()

	ans, err := g.Answer(context.Background(), results, "How are flags parsed?")
	require.NoError(t, err)
	assert.Equal(t, results, ans.Sources)
	require.Len(t, p.got, 2)

	text, err := ans.Text()
	require.NoError(t, err)
	assert.Equal(t, "Flags are parsed in `internal/flags.go`.", text)
}

func TestAnswer_EmptyQuestion(t *testing.T) {
	p := &scriptedProvider{}
	_, err := New(p, nil).Answer(context.Background(), sampleResults(), " \n")
	assert.ErrorIs(t, err, ErrEmptyQuestion)
	assert.Nil(t, p.got, "provider must not be called")
}

func TestAnswer_ProviderError(t *testing.T) {
	boom := errors.New("401 unauthorized")
	p := &scriptedProvider{openErr: boom}

	_, err := New(p, nil).Answer(context.Background(), sampleResults(), "q")
	assert.ErrorIs(t, err, boom)
}

func TestAnswer_NoSources(t *testing.T) {
	p := &scriptedProvider{fragments: []string{"The context does not cover this."}}

	ans, err := New(p, nil).Answer(context.Background(), nil, "q")
	require.NoError(t, err)
	assert.Empty(t, ans.Sources)
	assert.True(t, strings.HasPrefix(p.got[1].Content, "Context:\n\n\nQuestion:"))
	require.NoError(t, ans.Close())
}

func TestWriteSources(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteSources(&buf, sampleResults()))
	assert.Equal(t,
		"**Sources:**\n- `cmd/main.go` (1-12)\n- `internal/flags.go` (30-44)\n\n---\n",
		buf.String())
}

func TestStreamTo(t *testing.T) {
	p := &scriptedProvider{fragments: []string{"a", "b"}}
	ans, err := New(p, nil).Answer(context.Background(), sampleResults()[:1], "q")
	require.NoError(t, err)

	var buf bytes.Buffer
	flushes := 0
	require.NoError(t, StreamTo(&buf, ans, func() error { flushes++; return nil }))
	assert.Equal(t, "**Sources:**\n- `cmd/main.go` (1-12)\n\n---\nab", buf.String())
	assert.Equal(t, 3, flushes)
}

func TestStreamTo_MidStreamError(t *testing.T) {
	boom := errors.New("connection reset")
	p := &scriptedProvider{fragments: []string{"partial"}, streamErr: boom}
	ans, err := New(p, nil).Answer(context.Background(), nil, "q")
	require.NoError(t, err)

	var buf bytes.Buffer
	err = StreamTo(&buf, ans, nil)
	assert.ErrorIs(t, err, boom)
	assert.True(t, strings.HasSuffix(buf.String(), "partial"))
}

func TestComplete(t *testing.T) {
	p := &scriptedProvider{fragments: []string{"main ", "calls flag.Parse."}}
	g := New(p, nil)

	text, err := g.Complete(context.Background(), sampleResults(), "Where are flags parsed?")
	require.NoError(t, err)
	assert.Equal(t, "main calls flag.Parse.", text)
	require.Len(t, p.got, 2)
	assert.Contains(t, p.got[1].Content, "File: internal/flags.go (Lines 30-44):")

	_, err = g.Complete(context.Background(), sampleResults(), "")
	assert.ErrorIs(t, err, ErrEmptyQuestion)

	boom := errors.New("503 overloaded")
	_, err = New(&scriptedProvider{openErr: boom}, nil).Complete(context.Background(), nil, "q")
	assert.ErrorIs(t, err, boom)
}

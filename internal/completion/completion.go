package completion

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Common errors
var (
	ErrProviderFailed    = errors.New("completion provider failed")
	ErrUnsupported       = errors.New("unsupported completion provider")
	ErrNoProviderEnabled = errors.New("no completion provider configured")
	ErrNoMessages        = errors.New("at least one message is required")
)

// Message roles
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one turn of a chat prompt
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Provider generates chat completions
type Provider interface {
	// Stream starts a streamed completion. A non-2xx response is returned as
	// an error here; failures after the first byte surface from Stream.Err.
	Stream(ctx context.Context, messages []Message) (*Stream, error)

	// Complete runs a completion to the end and returns the full text
	Complete(ctx context.Context, messages []Message) (string, error)

	Provider() string
	Model() string
	Close() error
}

// decodeFunc reads the next event from a response body. It returns the text
// fragment carried by the event (possibly empty) and whether the provider
// signalled the end of the stream. io.EOF ends the stream cleanly.
type decodeFunc func(r *bufio.Reader) (text string, done bool, err error)

// Stream is a pull-based, single-consumer sequence of text fragments.
//
//	for s.Next() {
//	    fmt.Print(s.Text())
//	}
//	if err := s.Err(); err != nil { ... }
//	s.Close()
//
// A Stream cannot be restarted. Closing it early abandons the underlying
// response.
type Stream struct {
	body   io.Closer
	reader *bufio.Reader
	decode decodeFunc

	text   string
	err    error
	done   bool
	closed bool
}

func newStream(body io.ReadCloser, decode decodeFunc) *Stream {
	return &Stream{
		body:   body,
		reader: bufio.NewReader(body),
		decode: decode,
	}
}

// NewStaticStream returns a Stream that yields the given fragments in order
func NewStaticStream(fragments ...string) *Stream {
	i := 0
	return &Stream{
		body: io.NopCloser(nil),
		decode: func(*bufio.Reader) (string, bool, error) {
			if i >= len(fragments) {
				return "", true, nil
			}
			i++
			return fragments[i-1], false, nil
		},
	}
}

// NewErrorStream returns a Stream that yields the given fragments and then fails with err
func NewErrorStream(err error, fragments ...string) *Stream {
	i := 0
	return &Stream{
		body: io.NopCloser(nil),
		decode: func(*bufio.Reader) (string, bool, error) {
			if i >= len(fragments) {
				return "", false, err
			}
			i++
			return fragments[i-1], false, nil
		},
	}
}

// Next advances to the next non-empty fragment. It returns false at the end
// of the stream, after an error, or once the stream is closed.
func (s *Stream) Next() bool {
	for !s.done && !s.closed {
		text, done, err := s.decode(s.reader)
		if err != nil {
			s.done = true
			if !errors.Is(err, io.EOF) {
				s.err = fmt.Errorf("%w: %w", ErrProviderFailed, err)
			}
			return false
		}
		if done {
			s.done = true
		}
		if text != "" {
			s.text = text
			return true
		}
	}
	return false
}

// Text returns the fragment produced by the last successful Next
func (s *Stream) Text() string {
	return s.text
}

// Err returns the first decode or transport error, if any
func (s *Stream) Err() error {
	return s.err
}

// Close releases the underlying response. It is safe to call more than once.
func (s *Stream) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	return s.body.Close()
}

// Collect drains s into a single string and closes it
func Collect(s *Stream) (string, error) {
	defer func() {
		_ = s.Close()
	}()

	var b strings.Builder
	for s.Next() {
		b.WriteString(s.Text())
	}
	return b.String(), s.Err()
}

func validateMessages(messages []Message) error {
	if len(messages) == 0 {
		return ErrNoMessages
	}
	return nil
}

// readLine returns the next line without its terminator
func readLine(r *bufio.Reader) (string, error) {
	line, err := r.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// sseDecoder decodes Server-Sent Events, passing each data payload to parse.
// Comment and non-data lines are skipped; a "[DONE]" payload ends the stream.
func sseDecoder(parse func(data []byte) (string, error)) decodeFunc {
	return func(r *bufio.Reader) (string, bool, error) {
		for {
			line, err := readLine(r)
			if err != nil {
				return "", false, err
			}

			data, ok := strings.CutPrefix(line, "data:")
			if !ok {
				continue
			}
			data = strings.TrimSpace(data)
			if data == "" {
				continue
			}
			if data == "[DONE]" {
				return "", true, nil
			}

			text, err := parse([]byte(data))
			return text, false, err
		}
	}
}

// Package generator turns retrieved chunks and a question into a grounded,
// streamed answer.
//
// The prompt is one system message and one user message. The user message
// lists every chunk as
//
//	File: <path> (Lines <start>-<end>):
//	<content>
//
// separated by blank lines, followed by the question. Answer returns the
// provider's stream together with the unmodified retrieval result so callers
// can cite sources. StreamTo writes the sources block first, then the tokens.
package generator

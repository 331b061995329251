// Package completion streams chat completions from OpenAI, Ollama and Gemini.
//
// Stream returns a pull-based *Stream: call Next until it returns false, read
// each fragment with Text, then check Err and Close. Errors before the first
// byte (bad status, transport failure) come back from Stream itself.
package completion

// Package llm defines the streaming LLM client port C7 drives: a system and
// user prompt go in, a channel of content deltas comes out, exactly the
// shape streamCompletion takes in spec.md §4.7. Concrete vendor adapters
// (anthropic, openai) live in sibling packages and implement StreamClient.
package llm

import "context"

// UsageMetadata captures token usage and cost information from an LLM call,
// reported once the stream completes.
type UsageMetadata struct {
	TokensIn  int
	TokensOut int
	Cost      float64
}

// StreamClient is the port the accumulator in internal/usecase/review
// drives. Suspension happens between deltas; the accumulator concatenates
// them in arrival order.
type StreamClient interface {
	// StreamCompletion starts a streaming completion and returns a Stream
	// the caller reads deltas from. The call itself must not block past
	// establishing the request; all suspension happens on Stream.Next.
	StreamCompletion(ctx context.Context, system, user string) (Stream, error)
}

// Stream yields content deltas in arrival order, terminating with
// (delta, false, nil) when err is io.EOF-equivalent (ok=false, err=nil), or
// (_, false, err) on failure. Usage is only meaningful after the stream is
// exhausted.
type Stream interface {
	// Next blocks for the next delta. ok is false once the stream is
	// exhausted (err nil) or has failed (err non-nil).
	Next() (delta string, ok bool, err error)
	// Usage returns token/cost accounting collected while streaming.
	// Only reliable after Next has returned ok=false, err=nil.
	Usage() UsageMetadata
	// Close releases the underlying connection; safe to call more than
	// once and safe to call before the stream is exhausted (mid-stream
	// cancellation, §5).
	Close() error
}

package engine

import "context"

// Request carries one rendered prompt into an engine together with the
// identity of the job it belongs to.
type Request struct {
	Prompt    string
	UserID    string
	RequestID string
}

// Event is one element of an engine stream: either a text fragment or a
// terminal error. After an Event with Err set, or after the channel
// closes, no further events follow.
type Event struct {
	Fragment string
	Err      error
}

// Engine turns a rendered prompt into a lazy sequence of text fragments.
// The returned channel closes on natural exhaustion; cancelling ctx makes
// the engine stop producing and abandon the upstream call. Fragment
// granularity is an engine detail, only ordering is guaranteed.
type Engine interface {
	Stream(ctx context.Context, req Request) (<-chan Event, error)
}

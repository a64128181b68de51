// Package relay forwards chat requests to upstream completion providers and
// normalizes their heterogeneous streamed responses into one canonical
// event stream.
//
// Each provider speaks its own dialect: a distinct endpoint, auth header
// shape, request envelope and incremental wire grammar. The registry binds
// those differences into a Descriptor once at resolution time; everything
// downstream of Resolve is provider-agnostic.
package relay

// EventKind identifies the kind of normalized streaming event.
type EventKind string

const (
	EventChunk EventKind = "chunk"
	EventDone  EventKind = "done"
	EventError EventKind = "error"
)

// Event is a provider-neutral unit of incremental output.
// Chunk events always carry non-empty text; an empty or unparseable
// upstream fragment yields no event at all.
type Event struct {
	Kind   EventKind
	Text   string
	Detail string
}

// Chunk builds a chunk event carrying incremental text.
func Chunk(text string) Event {
	return Event{Kind: EventChunk, Text: text}
}

// Done builds the terminal success event.
func Done() Event {
	return Event{Kind: EventDone}
}

// ErrorEvent builds a terminal error event with a human-readable detail.
func ErrorEvent(detail string) Event {
	return Event{Kind: EventError, Detail: detail}
}

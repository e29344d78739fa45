package client

// EventKind tags a StreamEvent variant.
type EventKind int

const (
	EventChunk EventKind = iota
	EventEnd
	EventError
)

// StreamEvent is one element of the uniform event sequence every provider
// adapter produces: zero or more Chunk events followed by exactly one End or
// Error. Text carries the fragment for Chunk and the message for Error.
type StreamEvent struct {
	Kind EventKind
	Text string
}

func Chunk(text string) StreamEvent {
	return StreamEvent{Kind: EventChunk, Text: text}
}

func End() StreamEvent {
	return StreamEvent{Kind: EventEnd}
}

func ErrorEvent(message string) StreamEvent {
	return StreamEvent{Kind: EventError, Text: message}
}

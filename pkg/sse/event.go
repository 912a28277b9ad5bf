// Package sse implements spec.md's C12: a Server-Sent Events client layered
// on top of pkg/httpclient's chunk-streaming extension points.
package sse

// Event is a single dispatched Server-Sent Event.
type Event struct {
	ID    string
	Type  string // defaults to "message" when unset, via EventType
	Data  string
	Retry int // milliseconds; 0 means "not specified"
}

// EventType returns Type, defaulting to "message" per the SSE spec.
func (e Event) EventType() string {
	if e.Type == "" {
		return "message"
	}
	return e.Type
}

// IsEmpty reports whether the event carries no id, type, or data — the
// state a freshly reset accumulator starts from.
func (e Event) IsEmpty() bool {
	return e.ID == "" && e.Type == "" && e.Data == ""
}

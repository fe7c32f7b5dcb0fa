// Package sse implements the event-stream framing used by the chat gateway:
// blocks of "event: <name>" lines followed by one "data: <json>" line and a blank line.
package sse

import "encoding/json"

// Event names on the wire
const (
	EventStart    = "start"
	EventMessage  = "message"
	EventComplete = "complete"
	EventError    = "error"
)

// Payload types carried inside the data line
const (
	TypeStart    = "start"
	TypeDelta    = "delta"
	TypeComplete = "complete"
	TypeError    = "error"
)

// Payload is the JSON body of every gateway event
type Payload struct {
	Type        string `json:"type"`
	Content     string `json:"content,omitempty"`
	FullContent string `json:"fullContent,omitempty"`
	Message     string `json:"message,omitempty"`
}

type completePayload struct {
	Type        string `json:"type"`
	FullContent string `json:"fullContent"`
}

// MarshalJSON keeps fullContent on complete payloads even when the reply is empty
func (p Payload) MarshalJSON() ([]byte, error) {
	if p.Type == TypeComplete {
		return json.Marshal(completePayload{Type: p.Type, FullContent: p.FullContent})
	}
	type plain Payload
	return json.Marshal(plain(p))
}

// Event is one decoded block
type Event struct {
	Name string
	Data string
}

// IsTerminal reports whether the payload type ends a stream
func IsTerminal(payloadType string) bool {
	return payloadType == TypeComplete || payloadType == TypeError
}

package chat

import (
	"errors"
	"fmt"
	"sync"
)

// ErrInvalidTransition is returned for an event the current state does not accept
var ErrInvalidTransition = errors.New("invalid session state transition")

// ErrBusy is returned when a session is already sending or streaming
var ErrBusy = errors.New("chat is busy generating a response")

// State is the client-visible state of one session:
// Idle -> Sending -> Streaming -> Completed | Errored -> Idle.
type State interface {
	Name() string
	isState()
}

type (
	Idle      struct{}
	Sending   struct{}
	Streaming struct{ Buffer string }
	Completed struct{ Content string }
	Errored   struct{ Reason string }
)

func (Idle) Name() string      { return "idle" }
func (Sending) Name() string   { return "sending" }
func (Streaming) Name() string { return "streaming" }
func (Completed) Name() string { return "completed" }
func (Errored) Name() string   { return "errored" }

func (Idle) isState()      {}
func (Sending) isState()   {}
func (Streaming) isState() {}
func (Completed) isState() {}
func (Errored) isState()   {}

// Event drives a State transition
type Event interface {
	isEvent()
}

type (
	// Send starts a turn; the user message is being persisted
	Send struct{}
	// StreamStarted is the gateway's start event
	StreamStarted struct{}
	// DeltaReceived carries one fragment
	DeltaReceived struct{ Content string }
	// Finished means the assistant message was persisted
	Finished struct{ Content string }
	// Failed means the turn ended without an assistant message
	Failed struct{ Reason string }
	// Reset returns a finished session to Idle
	Reset struct{}
)

func (Send) isEvent()          {}
func (StreamStarted) isEvent() {}
func (DeltaReceived) isEvent() {}
func (Finished) isEvent()      {}
func (Failed) isEvent()        {}
func (Reset) isEvent()         {}

// Busy reports whether s blocks new sends and rewinds
func Busy(s State) bool {
	switch s.(type) {
	case Sending, Streaming:
		return true
	default:
		return false
	}
}

// Transition applies e to s
func Transition(s State, e Event) (State, error) {
	switch st := s.(type) {
	case Idle, Completed, Errored:
		switch e.(type) {
		case Send:
			return Sending{}, nil
		case Reset:
			return Idle{}, nil
		}
	case Sending:
		switch ev := e.(type) {
		case StreamStarted:
			return Streaming{}, nil
		case Failed:
			return Errored{Reason: ev.Reason}, nil
		}
	case Streaming:
		switch ev := e.(type) {
		case DeltaReceived:
			return Streaming{Buffer: st.Buffer + ev.Content}, nil
		case Finished:
			return Completed{Content: ev.Content}, nil
		case Failed:
			return Errored{Reason: ev.Reason}, nil
		}
	}
	return s, fmt.Errorf("%w: %s on %T", ErrInvalidTransition, s.Name(), e)
}

// Tracker holds the state of every session with a turn in progress.
// It is the caller-level guard against overlapping sends and rewinds;
// the store itself stays last-writer-wins.
type Tracker struct {
	mu     sync.Mutex
	states map[string]State
}

// NewTracker creates an empty tracker
func NewTracker() *Tracker {
	return &Tracker{states: make(map[string]State)}
}

// State returns the session's state, Idle when untracked
func (t *Tracker) State(chatID string) State {
	t.mu.Lock()
	defer t.mu.Unlock()
	if s, ok := t.states[chatID]; ok {
		return s
	}
	return Idle{}
}

// Begin moves the session to Sending, or fails with ErrBusy
func (t *Tracker) Begin(chatID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	cur, ok := t.states[chatID]
	if !ok {
		cur = Idle{}
	}
	if Busy(cur) {
		return ErrBusy
	}
	next, err := Transition(cur, Send{})
	if err != nil {
		return err
	}
	t.states[chatID] = next
	return nil
}

// Apply transitions the session with e
func (t *Tracker) Apply(chatID string, e Event) (State, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	cur, ok := t.states[chatID]
	if !ok {
		cur = Idle{}
	}
	next, err := Transition(cur, e)
	if err != nil {
		return cur, err
	}
	t.states[chatID] = next
	return next, nil
}

// Finish drops the session back to Idle
func (t *Tracker) Finish(chatID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.states, chatID)
}

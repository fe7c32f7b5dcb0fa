package gateway

import (
	"context"
	"errors"
	"sync"
)

// ErrSinkClosed is returned for writes after the terminal event
var ErrSinkClosed = errors.New("gateway: sink already terminated")

// Callbacks receive the events of one turn. Nil callbacks are skipped.
type Callbacks struct {
	OnStart    func()
	OnDelta    func(content string)
	OnComplete func(fullContent string)
	OnError    func(message string)
}

// CallbackSink adapts Callbacks to EventSink and enforces the single terminal event
type CallbackSink struct {
	mu     sync.Mutex
	cb     Callbacks
	closed bool
}

// NewCallbackSink wraps cb
func NewCallbackSink(cb Callbacks) *CallbackSink {
	return &CallbackSink{cb: cb}
}

func (s *CallbackSink) open(terminal bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSinkClosed
	}
	if terminal {
		s.closed = true
	}
	return nil
}

func (s *CallbackSink) Start() error {
	if err := s.open(false); err != nil {
		return err
	}
	if s.cb.OnStart != nil {
		s.cb.OnStart()
	}
	return nil
}

func (s *CallbackSink) Delta(content string) error {
	if err := s.open(false); err != nil {
		return err
	}
	if s.cb.OnDelta != nil {
		s.cb.OnDelta(content)
	}
	return nil
}

func (s *CallbackSink) Complete(full string) error {
	if err := s.open(true); err != nil {
		return err
	}
	if s.cb.OnComplete != nil {
		s.cb.OnComplete(full)
	}
	return nil
}

func (s *CallbackSink) Error(message string) error {
	if err := s.open(true); err != nil {
		return err
	}
	if s.cb.OnError != nil {
		s.cb.OnError(message)
	}
	return nil
}

// Closed reports whether a terminal event was delivered
func (s *CallbackSink) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// LocalGenerator runs turns through an in-process Service
type LocalGenerator struct {
	svc *Service
}

// NewLocalGenerator wraps svc
func NewLocalGenerator(svc *Service) *LocalGenerator {
	return &LocalGenerator{svc: svc}
}

// Generate streams req into sink. The caller identity is already established in-process.
func (g *LocalGenerator) Generate(ctx context.Context, _ string, _ string, req ChatTurnRequest, sink EventSink) error {
	return g.svc.Stream(ctx, req, sink)
}

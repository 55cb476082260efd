package player

import "github.com/halite-audio/halite/pkg/engine"

// Sender is the pull adapter between a player's engine handle and the voice
// transport. The transport pulls one 20ms frame at a time: CanProvide
// fetches and caches the next frame, Provide hands out the cached one.
// Back-pressure is entirely the transport's pull cadence; nothing is
// buffered beyond the single cached frame.
//
// Sender is driven by the transport's single send goroutine and needs no
// locking of its own.
type Sender struct {
	engine engine.Player
	frame  []byte
}

// NewSender creates a sender pulling from the given engine handle.
func NewSender(e engine.Player) *Sender {
	return &Sender{engine: e}
}

// CanProvide fetches the next frame and reports whether one was available.
func (s *Sender) CanProvide() bool {
	frame, ok := s.engine.Provide()
	if ok {
		s.frame = frame
	}
	return ok
}

// Provide returns the frame cached by the last successful CanProvide.
func (s *Sender) Provide() []byte {
	return s.frame
}

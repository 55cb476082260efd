// Package session tracks connected clients and their players. A session
// outlives its connection for the length of the resume window, so a client
// that drops and reconnects in time keeps its player state.
package session

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/halite-audio/halite/internal/player"
	"github.com/halite-audio/halite/internal/protocol"
)

// Conn is a live client connection as seen by the session layer. The server
// package implements it on top of a WebSocket with a buffered send queue.
type Conn interface {
	// Send enqueues an outbound frame. Never blocks on network I/O.
	Send(v any) error

	// Close closes the connection with a close code.
	Close(code int, reason string)

	// Open reports whether the connection can still accept frames.
	Open() bool

	// ID is a per-connection identifier used in logs.
	ID() string
}

// Session is the state held for one client identity.
type Session struct {
	identity string
	seq      atomic.Uint64

	mu          sync.Mutex
	conn        Conn
	players     map[string]*player.Player
	resumeTimer *time.Timer
}

func newSession(identity string, conn Conn) *Session {
	s := &Session{
		identity: identity,
		players:  make(map[string]*player.Player),
	}
	s.conn = conn
	return s
}

// Identity returns the client identity owning this session.
func (s *Session) Identity() string { return s.identity }

// NextSeq atomically increments and returns the response sequence counter.
func (s *Session) NextSeq() uint64 { return s.seq.Add(1) }

// Seq returns the current sequence value without advancing it.
func (s *Session) Seq() uint64 { return s.seq.Load() }

// Player looks up the player bound to a guild.
func (s *Session) Player(guildID string) (*player.Player, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.players[guildID]
	return p, ok
}

// ErrPlayerExists reports a benign initialize race: a player for the guild
// was registered between the caller's check and its insert.
var ErrPlayerExists = &player.Error{Reason: protocol.ReasonPlayerAlreadyInitialized}

// AddPlayer registers a player for a guild. The insert is
// check-and-set under one lock so concurrent initializes for the same guild
// cannot both win.
func (s *Session) AddPlayer(guildID string, p *player.Player) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.players[guildID]; ok {
		return ErrPlayerExists
	}
	s.players[guildID] = p
	return nil
}

// RemovePlayer detaches and returns the player for a guild.
func (s *Session) RemovePlayer(guildID string) (*player.Player, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.players[guildID]
	if ok {
		delete(s.players, guildID)
	}
	return p, ok
}

// Players returns a snapshot of the player map.
func (s *Session) Players() map[string]*player.Player {
	s.mu.Lock()
	defer s.mu.Unlock()
	snapshot := make(map[string]*player.Player, len(s.players))
	for guildID, p := range s.players {
		snapshot[guildID] = p
	}
	return snapshot
}

// attach swaps in a new connection, cancelling a pending resume timer and
// superseding a still-live older connection.
func (s *Session) attach(conn Conn) {
	s.mu.Lock()
	if s.resumeTimer != nil {
		s.resumeTimer.Stop()
		s.resumeTimer = nil
	}
	old := s.conn
	s.conn = conn
	s.mu.Unlock()

	if old != nil && old.Open() {
		logrus.WithFields(logrus.Fields{
			"identity": s.identity,
			"old_conn": old.ID(),
			"new_conn": conn.ID(),
		}).Info("Session superseded by a new connection")
		old.Close(protocol.CloseSessionSuperseded, "session resumed elsewhere")
	}
}

// detach clears the connection and arms the resume timer. expire runs if
// the window elapses without a resume.
func (s *Session) detach(window time.Duration, expire func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conn = nil
	if s.resumeTimer != nil {
		s.resumeTimer.Stop()
	}
	s.resumeTimer = time.AfterFunc(window, func() {
		s.mu.Lock()
		resumed := s.conn != nil
		s.resumeTimer = nil
		s.mu.Unlock()
		// A resume that raced the timer wins.
		if !resumed {
			expire()
		}
	})
}

// isConn reports whether conn is this session's current connection.
func (s *Session) isConn(conn Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn == conn
}

func (s *Session) currentConn() Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn
}

// SendDispatch implements player.Sink. Frames for a disconnected session
// are dropped; events raced against a resume land on the new connection.
func (s *Session) SendDispatch(name, guildID string, key *string, data any) {
	conn := s.currentConn()
	if conn == nil || !conn.Open() {
		logrus.WithFields(logrus.Fields{
			"identity": s.identity,
			"event":    name,
		}).Debug("Dropping dispatch for disconnected session")
		return
	}
	if err := conn.Send(protocol.NewDispatch(s.seq.Load(), key, guildID, name, data)); err != nil {
		logrus.WithError(err).WithField("identity", s.identity).Warn("Failed to send dispatch")
	}
}

// SendFrame implements player.Sink.
func (s *Session) SendFrame(v any) {
	conn := s.currentConn()
	if conn == nil || !conn.Open() {
		return
	}
	if err := conn.Send(v); err != nil {
		logrus.WithError(err).WithField("identity", s.identity).Warn("Failed to send frame")
	}
}

// Open implements player.Sink.
func (s *Session) Open() bool {
	conn := s.currentConn()
	return conn != nil && conn.Open()
}

package session

import (
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/halite-audio/halite/internal/protocol"
	"github.com/halite-audio/halite/internal/transport"
)

// Registry owns every session, keyed by client identity. All access to the
// session map goes through its operations; there is no ambient state.
type Registry struct {
	resumeWindow time.Duration
	transport    transport.Provider

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewRegistry creates an empty registry.
func NewRegistry(resumeWindow time.Duration, tp transport.Provider) *Registry {
	return &Registry{
		resumeWindow: resumeWindow,
		transport:    tp,
		sessions:     make(map[string]*Session),
	}
}

// Open attaches a connection to the identity's session, creating the
// session on first contact. An existing session keeps its players and
// sequence counter: a pending resume timer is cancelled (resume), a
// still-live older connection is superseded.
func (r *Registry) Open(identity string, conn Conn) *Session {
	r.mu.Lock()
	s, ok := r.sessions[identity]
	if !ok {
		s = newSession(identity, conn)
		r.sessions[identity] = s
		r.mu.Unlock()
		logrus.WithFields(logrus.Fields{
			"identity": identity,
			"conn":     conn.ID(),
		}).Info("Session created")
		return s
	}
	r.mu.Unlock()

	s.attach(conn)
	logrus.WithFields(logrus.Fields{
		"identity": identity,
		"conn":     conn.ID(),
	}).Info("Session resumed")
	return s
}

// Get looks up a session. A missing identity is a programmer error on the
// caller's side and is logged, never silently ignored.
func (r *Registry) Get(identity string) (*Session, error) {
	r.mu.RLock()
	s, ok := r.sessions[identity]
	r.mu.RUnlock()
	if !ok {
		logrus.WithField("identity", identity).Error("No session for identity")
		return nil, fmt.Errorf("session for identity %s not found", identity)
	}
	return s, nil
}

// HandleClose reacts to conn closing with the given code. Terminal codes
// destroy the session immediately; anything else starts the resume window.
// A close for a connection that is no longer the session's current one
// (a superseded connection going away) is ignored.
func (r *Registry) HandleClose(identity string, conn Conn, code int) {
	r.mu.RLock()
	s, ok := r.sessions[identity]
	r.mu.RUnlock()
	if !ok {
		logrus.WithField("identity", identity).Error("Close for unknown session")
		return
	}
	if !s.isConn(conn) {
		logrus.WithFields(logrus.Fields{
			"identity": identity,
			"conn":     conn.ID(),
		}).Debug("Ignoring close of superseded connection")
		return
	}

	if protocol.TerminalClose(code) {
		logrus.WithFields(logrus.Fields{
			"identity":   identity,
			"close_code": code,
		}).Info("Session closed; cannot be resumed")
		r.remove(s)
		return
	}

	logrus.WithFields(logrus.Fields{
		"identity":   identity,
		"close_code": code,
		"window":     r.resumeWindow,
	}).Info("Session disconnected; awaiting resume")
	s.detach(r.resumeWindow, func() {
		logrus.WithFields(logrus.Fields{
			"identity": identity,
			"window":   r.resumeWindow,
		}).Info("Destroyed unresumed session")
		r.remove(s)
	})
}

// remove destroys all of the session's players and drops it from the map.
func (r *Registry) remove(s *Session) {
	r.mu.Lock()
	delete(r.sessions, s.identity)
	r.mu.Unlock()
	r.destroyPlayers(s)
}

func (r *Registry) destroyPlayers(s *Session) {
	for guildID, p := range s.Players() {
		member := transport.Member{UserID: s.identity, GuildID: guildID}
		r.transport.RemoveSendHandler(member)
		r.transport.Close(member)
		p.Destroy()
		s.RemovePlayer(guildID)
	}
}

// Snapshot returns the current sessions. Callers must tolerate sessions
// disappearing between snapshot and use.
func (r *Registry) Snapshot() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	return sessions
}

// Len returns the number of sessions, live or awaiting resume.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Shutdown closes every live connection with the shutdown code and destroys
// all sessions.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.sessions = make(map[string]*Session)
	r.mu.Unlock()

	for _, s := range sessions {
		if conn := s.currentConn(); conn != nil && conn.Open() {
			conn.Close(protocol.CloseServerShutdown, "server shutting down")
		}
		r.destroyPlayers(s)
	}
	logrus.WithField("sessions", len(sessions)).Info("All sessions closed")
}

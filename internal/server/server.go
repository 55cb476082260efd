// Package server accepts client connections, routes op-coded messages to
// the session and player layers, and broadcasts periodic telemetry.
package server

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/halite-audio/halite/internal/config"
	"github.com/halite-audio/halite/internal/protocol"
	"github.com/halite-audio/halite/internal/session"
	"github.com/halite-audio/halite/internal/track"
	"github.com/halite-audio/halite/internal/transport"
	"github.com/halite-audio/halite/pkg/engine"
)

// Server is the audio control node.
type Server struct {
	cfg       *config.Config
	engine    engine.Engine
	codec     *track.Codec
	transport transport.Provider
	registry  *session.Registry
	upgrader  websocket.Upgrader
	started   time.Time
}

// New wires a server from its collaborators.
func New(cfg *config.Config, eng engine.Engine, tp transport.Provider) *Server {
	return &Server{
		cfg:       cfg,
		engine:    eng,
		codec:     track.NewCodec(eng),
		transport: tp,
		registry:  session.NewRegistry(cfg.ResumeWindow(), tp),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
		started: time.Now(),
	}
}

// Registry exposes the session registry, for telemetry and tests.
func (s *Server) Registry() *session.Registry {
	return s.registry
}

// Run serves until ctx is cancelled, then closes every session with the
// shutdown code and stops the listeners.
func (s *Server) Run(ctx context.Context) error {
	wsSrv := &http.Server{
		Addr:              s.cfg.WSAddr(),
		Handler:           http.HandlerFunc(s.handleWS),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 2)
	go func() {
		logrus.WithField("addr", wsSrv.Addr).Info("WebSocket server listening")
		errCh <- wsSrv.ListenAndServe()
	}()

	var restSrv *http.Server
	if s.cfg.Server.HTTP.Enabled {
		restSrv = &http.Server{
			Addr:              s.cfg.HTTPAddr(),
			Handler:           s.restHandler(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			logrus.WithField("addr", restSrv.Addr).Info("HTTP server listening")
			errCh <- restSrv.ListenAndServe()
		}()
	}

	go s.statsLoop(ctx)

	var err error
	select {
	case <-ctx.Done():
	case err = <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
	}

	logrus.Info("Shutting down")
	s.registry.Shutdown()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if serr := wsSrv.Shutdown(shutdownCtx); serr != nil {
		logrus.WithError(serr).Warn("WebSocket server shutdown")
	}
	if restSrv != nil {
		if serr := restSrv.Shutdown(shutdownCtx); serr != nil {
			logrus.WithError(serr).Warn("HTTP server shutdown")
		}
	}
	return err
}

// handleWS authenticates the handshake and attaches the connection to its
// session. Missing or invalid credentials reject with distinct close codes.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	auth := r.Header.Get("Authorization")
	identity := r.Header.Get("User-Id")

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logrus.WithError(err).Warn("WebSocket upgrade failed")
		return
	}
	conn := newWSConn(ws)

	if subtle.ConstantTimeCompare([]byte(auth), []byte(s.cfg.Password)) != 1 {
		logrus.WithField("conn", conn.ID()).Warn("Invalid Authorization header")
		conn.Close(protocol.CloseInvalidAuthorization, "invalid authorization")
		return
	}
	if identity == "" {
		logrus.WithField("conn", conn.ID()).Warn("Missing User-Id header")
		conn.Close(protocol.CloseMissingIdentity, "missing identity")
		return
	}

	s.registry.Open(identity, conn)
	s.readLoop(conn, identity)
}

// readLoop consumes inbound messages until the connection drops, then feeds
// the close code into the registry. Each message is handled on its own
// goroutine; ordering across messages is not guaranteed.
func (s *Server) readLoop(conn *wsConn, identity string) {
	for {
		_, data, err := conn.ws.ReadMessage()
		if err != nil {
			code := websocket.CloseAbnormalClosure
			var ce *websocket.CloseError
			if errors.As(err, &ce) {
				code = ce.Code
			}
			logrus.WithFields(logrus.Fields{
				"identity":   identity,
				"conn":       conn.ID(),
				"close_code": code,
			}).Info("Connection closed")
			conn.markClosed()
			s.registry.HandleClose(identity, conn, code)
			return
		}
		go s.handleMessage(conn, identity, data)
	}
}

package server

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/sirupsen/logrus"

	"github.com/halite-audio/halite/internal/loader"
	"github.com/halite-audio/halite/internal/player"
	"github.com/halite-audio/halite/internal/protocol"
	"github.com/halite-audio/halite/internal/session"
	"github.com/halite-audio/halite/internal/transport"
	"github.com/halite-audio/halite/pkg/engine"
)

// handleMessage decodes one inbound message and runs its op. Malformed
// payloads and unknown ops are logged and dropped without closing the
// connection. Every decoded command advances the session sequence exactly
// once, rejected or not.
func (s *Server) handleMessage(conn session.Conn, identity string, raw []byte) {
	var env protocol.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		logrus.WithError(err).WithField("identity", identity).Warn("Dropping malformed message")
		return
	}

	sess, err := s.registry.Get(identity)
	if err != nil {
		// Registry lookup failing for an authenticated connection is a
		// programmer error; surface it to the client instead of dying.
		var req protocol.BasicRequest
		_ = json.Unmarshal(raw, &req)
		_ = conn.Send(protocol.NewDispatch(0, &req.Key, req.GuildID, protocol.EventError, protocol.ReasonNoSession))
		return
	}
	sess.NextSeq()

	switch env.Op {
	case "initialize", "init":
		s.handleInitialize(sess, raw)
	case "play", "start":
		s.handlePlay(sess, raw)
	case "stop":
		s.handleStop(sess, raw)
	case "destroy":
		s.handleDestroy(sess, raw)
	case "pause":
		s.handlePauseOp(sess, raw, true)
	case "resume":
		s.handlePauseOp(sess, raw, false)
	case "setPaused":
		s.handleSetPaused(sess, raw)
	case "seek":
		s.handleSeek(sess, raw)
	case "volume":
		s.handleVolume(sess, raw)
	case "loadIdentifiers":
		s.handleLoadIdentifiers(sess, raw)
	default:
		logrus.WithFields(logrus.Fields{
			"identity": identity,
			"op":       env.Op,
		}).Warn("Unhandled op")
	}
}

func (s *Server) sendError(sess *session.Session, guildID, key string, reason protocol.ErrorReason) {
	sess.SendDispatch(protocol.EventError, guildID, &key, reason)
}

// sendPlayerError maps a player precondition failure onto an ERROR
// dispatch. Anything that is not a player.Error is internal and only
// logged.
func (s *Server) sendPlayerError(sess *session.Session, guildID, key string, err error) {
	var pe *player.Error
	if errors.As(err, &pe) {
		logrus.WithFields(logrus.Fields{
			"identity": sess.Identity(),
			"guild_id": guildID,
			"reason":   pe.Reason,
		}).Warn("Command rejected")
		s.sendError(sess, guildID, key, pe.Reason)
		return
	}
	logrus.WithError(err).WithFields(logrus.Fields{
		"identity": sess.Identity(),
		"guild_id": guildID,
	}).Error("Command failed")
}

// requirePlayer resolves the guild's player, emitting the not-initialized
// error when absent.
func (s *Server) requirePlayer(sess *session.Session, guildID, key string) (*player.Player, bool) {
	p, ok := sess.Player(guildID)
	if !ok {
		logrus.WithFields(logrus.Fields{
			"identity": sess.Identity(),
			"guild_id": guildID,
		}).Warn("Player not initialized")
		s.sendError(sess, guildID, key, protocol.ReasonPlayerNotInitialized)
		return nil, false
	}
	return p, true
}

func (s *Server) member(sess *session.Session, guildID string) transport.Member {
	return transport.Member{UserID: sess.Identity(), GuildID: guildID}
}

func (s *Server) handleInitialize(sess *session.Session, raw []byte) {
	var req protocol.InitializeRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		logrus.WithError(err).Warn("Dropping malformed initialize")
		return
	}
	if _, ok := sess.Player(req.GuildID); ok {
		logrus.WithFields(logrus.Fields{
			"identity": sess.Identity(),
			"guild_id": req.GuildID,
		}).Warn("Player already initialized")
		s.sendError(sess, req.GuildID, req.Key, protocol.ReasonPlayerAlreadyInitialized)
		return
	}

	eng := s.engine.NewPlayer()
	p := player.New(req.GuildID, eng, sess, s.codec, s.cfg.PlayerUpdateInterval())
	if err := sess.AddPlayer(req.GuildID, p); err != nil {
		// Lost a concurrent initialize race for the same guild.
		eng.Destroy()
		s.sendError(sess, req.GuildID, req.Key, protocol.ReasonPlayerAlreadyInitialized)
		return
	}

	if err := s.transport.ProvideServerUpdate(s.member(sess, req.GuildID), transport.ServerUpdate{
		SessionID: req.SessionID,
		Token:     req.Token,
		Endpoint:  req.Endpoint,
	}); err != nil {
		logrus.WithError(err).WithField("guild_id", req.GuildID).Warn("Voice server update failed")
	}

	sess.SendDispatch(protocol.EventInitialized, req.GuildID, &req.Key, nil)
	logrus.WithFields(logrus.Fields{
		"identity": sess.Identity(),
		"guild_id": req.GuildID,
	}).Info("Player initialized")
}

func (s *Server) handlePlay(sess *session.Session, raw []byte) {
	var req protocol.PlayRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		logrus.WithError(err).Warn("Dropping malformed play")
		return
	}
	p, ok := s.requirePlayer(sess, req.GuildID, req.Key)
	if !ok {
		return
	}
	t, err := s.codec.Decode(req.Track)
	if err != nil {
		logrus.WithError(err).WithField("guild_id", req.GuildID).Warn("Dropping play with undecodable track")
		return
	}

	s.transport.SetSendHandler(s.member(sess, req.GuildID), p.Sender())
	if err := p.Play(t, req.Key, req.StartTime); err != nil {
		s.sendPlayerError(sess, req.GuildID, req.Key, err)
	}
}

func (s *Server) handleStop(sess *session.Session, raw []byte) {
	var req protocol.BasicRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		logrus.WithError(err).Warn("Dropping malformed stop")
		return
	}
	p, ok := s.requirePlayer(sess, req.GuildID, req.Key)
	if !ok {
		return
	}
	if err := p.Stop(req.Key); err != nil {
		s.sendPlayerError(sess, req.GuildID, req.Key, err)
	}
}

func (s *Server) handleDestroy(sess *session.Session, raw []byte) {
	var req protocol.BasicRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		logrus.WithError(err).Warn("Dropping malformed destroy")
		return
	}
	p, ok := s.requirePlayer(sess, req.GuildID, req.Key)
	if !ok {
		return
	}

	p.Destroy()
	sess.RemovePlayer(req.GuildID)
	member := s.member(sess, req.GuildID)
	s.transport.RemoveSendHandler(member)
	s.transport.Close(member)

	sess.SendDispatch(protocol.EventDestroyed, req.GuildID, &req.Key, nil)
	logrus.WithFields(logrus.Fields{
		"identity": sess.Identity(),
		"guild_id": req.GuildID,
	}).Info("Player destroyed")
}

func (s *Server) handlePauseOp(sess *session.Session, raw []byte, paused bool) {
	var req protocol.BasicRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		logrus.WithError(err).Warn("Dropping malformed pause/resume")
		return
	}
	s.setPaused(sess, req.GuildID, req.Key, paused)
}

func (s *Server) handleSetPaused(sess *session.Session, raw []byte) {
	var req protocol.SetPausedRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		logrus.WithError(err).Warn("Dropping malformed setPaused")
		return
	}
	s.setPaused(sess, req.GuildID, req.Key, req.Paused)
}

func (s *Server) setPaused(sess *session.Session, guildID, key string, paused bool) {
	p, ok := s.requirePlayer(sess, guildID, key)
	if !ok {
		return
	}
	if err := p.SetPaused(paused, key); err != nil {
		s.sendPlayerError(sess, guildID, key, err)
	}
}

func (s *Server) handleSeek(sess *session.Session, raw []byte) {
	var req protocol.SeekRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		logrus.WithError(err).Warn("Dropping malformed seek")
		return
	}
	p, ok := s.requirePlayer(sess, req.GuildID, req.Key)
	if !ok {
		return
	}
	if err := p.Seek(req.Position); err != nil {
		s.sendPlayerError(sess, req.GuildID, req.Key, err)
	}
}

func (s *Server) handleVolume(sess *session.Session, raw []byte) {
	var req protocol.VolumeRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		logrus.WithError(err).Warn("Dropping malformed volume")
		return
	}
	p, ok := s.requirePlayer(sess, req.GuildID, req.Key)
	if !ok {
		return
	}
	if err := p.SetVolume(req.Volume, req.Key); err != nil {
		s.sendPlayerError(sess, req.GuildID, req.Key, err)
	}
}

// handleLoadIdentifiers resolves a batch in chunks. Chunk events and the
// finished marker carry the request key; results completing after the
// session's connection is gone are dropped.
func (s *Server) handleLoadIdentifiers(sess *session.Session, raw []byte) {
	var req protocol.LoadRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		logrus.WithError(err).Warn("Dropping malformed loadIdentifiers")
		return
	}

	key := req.Key
	loader.LoadBulk(context.Background(), s.engine, req.Identifiers, s.cfg.LoadChunkSize,
		func(results []loader.Result) {
			if !sess.Open() {
				return
			}
			chunk := make([]protocol.LoadResponse, len(results))
			for i, res := range results {
				chunk[i] = s.loadResponse(res)
			}
			sess.SendDispatch(protocol.EventLoadIdentifiersChunk, "", &key, chunk)
		},
		func() {
			if !sess.Open() {
				return
			}
			logrus.WithFields(logrus.Fields{
				"identity":    sess.Identity(),
				"identifiers": len(req.Identifiers),
			}).Debug("Finished loading identifiers")
			sess.SendDispatch(protocol.EventChunksFinished, "", &key, nil)
		})
}

// loadResponse converts a load result into its wire form.
func (s *Server) loadResponse(res loader.Result) protocol.LoadResponse {
	tracks := make([]protocol.Track, 0, len(res.Tracks))
	for _, t := range res.Tracks {
		token, err := s.codec.Encode(t)
		if err != nil {
			continue
		}
		tracks = append(tracks, trackJSON(token, t))
	}
	resp := protocol.LoadResponse{LoadType: string(res.Status), Tracks: tracks}
	if res.Status == loader.StatusPlaylistLoaded {
		resp.PlaylistInfo = &protocol.PlaylistInfo{Name: res.PlaylistName, SelectedTrack: res.SelectedTrack}
	}
	return resp
}

func trackJSON(token string, t engine.Track) protocol.Track {
	info := t.Info()
	return protocol.Track{
		Track: token,
		Info: protocol.TrackInfo{
			Title:      info.Title,
			Author:     info.Author,
			Identifier: info.Identifier,
			URI:        info.URI,
			Stream:     info.Stream,
			Seekable:   t.Seekable(),
			Position:   t.Position(),
			Length:     info.Length,
		},
	}
}

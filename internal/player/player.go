// Package player implements the per-guild playback state machine. A player
// owns one engine handle, correlates asynchronous engine events back to the
// client requests that caused them, and emits position updates while a track
// is playing.
package player

import (
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/halite-audio/halite/internal/protocol"
	"github.com/halite-audio/halite/internal/track"
	"github.com/halite-audio/halite/pkg/engine"
)

// Sink receives a player's outbound frames. Implemented by the session so
// frames always go to the session's current connection.
type Sink interface {
	// SendDispatch emits a named event wrapped in a dispatch envelope.
	SendDispatch(name, guildID string, key *string, data any)

	// SendFrame emits an unwrapped frame (playerUpdate).
	SendFrame(v any)

	// Open reports whether a live connection is attached.
	Open() bool
}

// Error is a precondition failure surfaced to the client as an ERROR
// dispatch with its reason.
type Error struct {
	Reason protocol.ErrorReason
}

func (e *Error) Error() string { return string(e.Reason) }

// Player drives one engine playback handle for one guild.
//
// Engine callbacks arrive on engine-owned goroutines while commands arrive
// from the dispatcher, so every field shared between the two sides lives
// behind mu. The update ticker's stop channel is cancelled and nilled under
// the same lock to keep a cancelled ticker from racing a late start.
type Player struct {
	guildID        string
	sink           Sink
	codec          *track.Codec
	engine         engine.Player
	updateInterval time.Duration

	mu          sync.Mutex
	startKeys   []string
	stopKey     *string
	pauseKey    *string
	stopUpdates chan struct{}
	sender      *Sender
	destroyed   bool
}

// New creates an idle player and subscribes it to the engine's events.
func New(guildID string, eng engine.Player, sink Sink, codec *track.Codec, updateInterval time.Duration) *Player {
	p := &Player{
		guildID:        guildID,
		sink:           sink,
		codec:          codec,
		engine:         eng,
		updateInterval: updateInterval,
	}
	eng.AddListener(p)
	return p
}

// GuildID returns the guild this player is bound to.
func (p *Player) GuildID() string { return p.guildID }

// Playing reports whether a track is currently loaded into the engine.
func (p *Player) Playing() bool { return p.engine.PlayingTrack() != nil }

// Paused reports the engine pause state.
func (p *Player) Paused() bool { return p.engine.Paused() }

// Sender returns the pull adapter feeding the voice transport, creating it
// on first use.
func (p *Player) Sender() *Sender {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sender == nil {
		p.sender = NewSender(p.engine)
	}
	return p.sender
}

// Play starts a track. A second play while a track is already playing
// replaces it immediately; the FIFO start-key queue keeps the eventual
// TRACK_STARTED events matched to their requests in order.
func (p *Player) Play(t engine.Track, key string, startTime *int64) error {
	if startTime != nil {
		if *startTime < 0 || *startTime >= t.Info().Length {
			return &Error{Reason: protocol.ReasonPositionOutOfBounds}
		}
		t.SetPosition(*startTime)
	}

	p.mu.Lock()
	if p.destroyed {
		p.mu.Unlock()
		return fmt.Errorf("player for guild %s is destroyed", p.guildID)
	}
	p.startKeys = append(p.startKeys, key)
	p.mu.Unlock()

	p.engine.Play(t)
	return nil
}

// Stop ends the current track. The key is held until the engine reports the
// end with a stopped reason.
func (p *Player) Stop(key string) error {
	if p.engine.PlayingTrack() == nil {
		return &Error{Reason: protocol.ReasonNoTrack}
	}
	p.mu.Lock()
	p.stopKey = &key
	p.mu.Unlock()
	p.engine.Stop()
	return nil
}

// SetPaused pauses or resumes playback. The key is consumed by the engine's
// pause/resume callback.
func (p *Player) SetPaused(paused bool, key string) error {
	if p.engine.PlayingTrack() == nil {
		return &Error{Reason: protocol.ReasonNoTrack}
	}
	if p.engine.Paused() == paused {
		if paused {
			return &Error{Reason: protocol.ReasonPlayerAlreadyPaused}
		}
		return &Error{Reason: protocol.ReasonPlayerAlreadyResumed}
	}
	p.mu.Lock()
	p.pauseKey = &key
	p.mu.Unlock()
	p.engine.SetPaused(paused)
	return nil
}

// Seek moves the current track's position and emits a playerUpdate frame
// immediately.
func (p *Player) Seek(position int64) error {
	t := p.engine.PlayingTrack()
	if t == nil {
		return &Error{Reason: protocol.ReasonNoTrack}
	}
	if !t.Seekable() {
		return &Error{Reason: protocol.ReasonTrackNotSeekable}
	}
	if position < 0 || position >= t.Info().Length {
		return &Error{Reason: protocol.ReasonPositionOutOfBounds}
	}
	t.SetPosition(position)
	p.sink.SendFrame(protocol.NewPlayerUpdate(p.guildID, position, time.Now().UnixMilli()))
	return nil
}

// SetVolume sets the engine volume (0-1000) and emits a VOLUME_UPDATE
// dispatch carrying the key.
func (p *Player) SetVolume(volume int, key string) error {
	if volume < 0 || volume > 1000 {
		return &Error{Reason: protocol.ReasonVolumeOutOfBounds}
	}
	p.engine.SetVolume(volume)
	p.sink.SendDispatch(protocol.EventVolumeUpdate, p.guildID, &key, volume)
	return nil
}

// Destroy cancels the update timer, releases the sender and destroys the
// engine handle. Idempotent.
func (p *Player) Destroy() {
	p.mu.Lock()
	if p.destroyed {
		p.mu.Unlock()
		return
	}
	p.destroyed = true
	p.cancelUpdatesLocked()
	p.sender = nil
	p.mu.Unlock()

	p.engine.Destroy()
	logrus.WithField("guild_id", p.guildID).Debug("Player destroyed")
}

// token encodes a track for an event payload, falling back to an empty
// token when encoding fails (already logged by the codec).
func (p *Player) token(t engine.Track) string {
	if t == nil {
		return ""
	}
	token, err := p.codec.Encode(t)
	if err != nil {
		return ""
	}
	return token
}

// OnTrackStart implements engine.EventHandler. It matches the oldest
// unconsumed play key and starts the position update loop.
func (p *Player) OnTrackStart(t engine.Track) {
	p.mu.Lock()
	var key *string
	if len(p.startKeys) > 0 {
		key = &p.startKeys[0]
		p.startKeys = p.startKeys[1:]
	}
	p.cancelUpdatesLocked()
	stop := make(chan struct{})
	p.stopUpdates = stop
	p.mu.Unlock()

	info := t.Info()
	p.sink.SendDispatch(protocol.EventTrackStarted, p.guildID, key, protocol.Track{
		Track: p.token(t),
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
	})

	go p.updateLoop(t, stop)
}

// updateLoop emits playerUpdate frames until stopped. A tick after the
// connection dropped ends the loop instead of emitting.
func (p *Player) updateLoop(t engine.Track, stop <-chan struct{}) {
	ticker := time.NewTicker(p.updateInterval)
	defer ticker.Stop()

	for {
		if !p.sink.Open() {
			return
		}
		p.sink.SendFrame(protocol.NewPlayerUpdate(p.guildID, t.Position(), time.Now().UnixMilli()))

		select {
		case <-stop:
			return
		case <-ticker.C:
		}
	}
}

// OnTrackEnd implements engine.EventHandler. Only a stop requested by the
// client carries its key back; every end cancels the update timer.
func (p *Player) OnTrackEnd(t engine.Track, reason engine.EndReason) {
	p.mu.Lock()
	var key *string
	if reason == engine.EndStopped {
		key = p.stopKey
		p.stopKey = nil
	}
	p.cancelUpdatesLocked()
	p.mu.Unlock()

	p.sink.SendDispatch(protocol.EventTrackEnded, p.guildID, key, protocol.TrackEndData{
		Track:  p.token(t),
		Reason: string(reason),
	})
}

// OnTrackException implements engine.EventHandler.
func (p *Player) OnTrackException(t engine.Track, err *engine.PlaybackError) {
	p.sink.SendDispatch(protocol.EventTrackException, p.guildID, nil, protocol.TrackExceptionData{
		Track: p.token(t),
		Exception: protocol.ExceptionData{
			Severity: string(err.Severity),
			Message:  err.Message,
		},
	})
}

// OnTrackStuck implements engine.EventHandler.
func (p *Player) OnTrackStuck(t engine.Track, threshold time.Duration) {
	p.sink.SendDispatch(protocol.EventTrackStuck, p.guildID, nil, protocol.TrackStuckData{
		Track:       p.token(t),
		ThresholdMs: threshold.Milliseconds(),
	})
}

// OnPlayerPause implements engine.EventHandler.
func (p *Player) OnPlayerPause() {
	p.sendPauseState(true)
}

// OnPlayerResume implements engine.EventHandler.
func (p *Player) OnPlayerResume() {
	p.sendPauseState(false)
}

func (p *Player) sendPauseState(paused bool) {
	p.mu.Lock()
	key := p.pauseKey
	p.pauseKey = nil
	p.mu.Unlock()
	p.sink.SendDispatch(protocol.EventPlayerPaused, p.guildID, key, paused)
}

// cancelUpdatesLocked stops the update loop and nulls its handle. Callers
// hold p.mu.
func (p *Player) cancelUpdatesLocked() {
	if p.stopUpdates != nil {
		close(p.stopUpdates)
		p.stopUpdates = nil
	}
}

package engine

import (
	"fmt"
	"time"
)

// Engine is the unified interface for audio resolution and playback backends.
// The node never touches raw audio itself: resolving identifiers, decoding
// streams and producing Opus frames all happen behind this boundary.
type Engine interface {
	// NewPlayer creates an independent playback handle.
	NewPlayer() Player

	// Load resolves an identifier asynchronously. Exactly one of the
	// handler's callbacks fires, possibly on an engine-owned goroutine.
	Load(identifier string, handler LoadHandler)

	// EncodeTrack serializes a track into the engine's binary form.
	EncodeTrack(track Track) ([]byte, error)

	// DecodeTrack is the inverse of EncodeTrack.
	DecodeTrack(data []byte) (Track, error)
}

// Player is a single playback handle owned by exactly one guild player.
type Player interface {
	// Play starts the given track, replacing the current one if any.
	Play(track Track)

	// Stop ends the current track. No-op when idle.
	Stop()

	SetPaused(paused bool)
	Paused() bool

	// PlayingTrack returns the current track, or nil when idle.
	PlayingTrack() Track

	// SetVolume accepts 0-1000, 100 being unity gain.
	SetVolume(volume int)
	Volume() int

	// Provide returns the next pre-encoded 20ms Opus frame, if one is
	// available right now. Never blocks.
	Provide() ([]byte, bool)

	// AddListener registers an event handler. Callbacks may fire on the
	// engine's own goroutines.
	AddListener(handler EventHandler)

	// Destroy releases the handle. Idempotent.
	Destroy()
}

// Track is an opaque resolved track.
type Track interface {
	Info() TrackInfo
	Seekable() bool

	// Position is the current playback position in milliseconds.
	Position() int64
	SetPosition(ms int64)
}

// TrackInfo is the static metadata of a track.
type TrackInfo struct {
	Title      string
	Author     string
	Identifier string
	URI        string
	Stream     bool
	Length     int64 // milliseconds
}

// LoadHandler receives the outcome of a Load call. Exactly one callback
// fires per Load.
type LoadHandler interface {
	TrackLoaded(track Track)
	PlaylistLoaded(name string, tracks []Track, selected int)
	SearchLoaded(tracks []Track)
	NoMatches()
	LoadFailed(err error)
}

// EventHandler receives playback events. Implementations must tolerate
// being called from engine-owned goroutines concurrently with their own
// mutations.
type EventHandler interface {
	OnTrackStart(track Track)
	OnTrackEnd(track Track, reason EndReason)
	OnTrackException(track Track, err *PlaybackError)
	OnTrackStuck(track Track, threshold time.Duration)
	OnPlayerPause()
	OnPlayerResume()
}

// EndReason describes why a track stopped playing.
type EndReason string

const (
	EndFinished   EndReason = "FINISHED"
	EndLoadFailed EndReason = "LOAD_FAILED"
	EndStopped    EndReason = "STOPPED"
	EndReplaced   EndReason = "REPLACED"
	EndCleanup    EndReason = "CLEANUP"
)

// Severity classifies playback errors.
type Severity string

const (
	SeverityCommon     Severity = "COMMON"
	SeveritySuspicious Severity = "SUSPICIOUS"
	SeverityFault      Severity = "FAULT"
)

// PlaybackError is an error surfaced by the engine during playback.
type PlaybackError struct {
	Severity Severity
	Message  string
}

func (e *PlaybackError) Error() string {
	return fmt.Sprintf("playback error (%s): %s", e.Severity, e.Message)
}

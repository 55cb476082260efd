package engine

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"
)

// FrameDuration is the fixed length of a single audio frame.
const FrameDuration = 20 * time.Millisecond

// silenceFrame is a pre-encoded Opus silence frame.
var silenceFrame = []byte{0xF8, 0xFF, 0xFE}

// MockEngine is a scriptable in-memory engine used by tests and the
// `-engine mock` development mode. Identifiers resolve against a registered
// table; the prefixes "search:", "playlist:" and "fail:" select the search,
// playlist and failure outcomes.
type MockEngine struct {
	mu        sync.Mutex
	tracks    map[string]TrackInfo
	playlists map[string][]TrackInfo
}

// NewMockEngine creates an empty mock engine.
func NewMockEngine() *MockEngine {
	return &MockEngine{
		tracks:    make(map[string]TrackInfo),
		playlists: make(map[string][]TrackInfo),
	}
}

// AddTrack registers a track resolvable by its identifier.
func (e *MockEngine) AddTrack(info TrackInfo) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.tracks[info.Identifier] = info
}

// AddPlaylist registers a playlist resolvable as "playlist:<name>".
func (e *MockEngine) AddPlaylist(name string, infos ...TrackInfo) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.playlists[name] = infos
}

// NewPlayer implements Engine.
func (e *MockEngine) NewPlayer() Player {
	return &MockPlayer{volume: 100}
}

// Load implements Engine. Callbacks fire synchronously on the calling
// goroutine.
func (e *MockEngine) Load(identifier string, handler LoadHandler) {
	switch {
	case strings.HasPrefix(identifier, "fail:"):
		handler.LoadFailed(fmt.Errorf("mock engine: forced failure for %q", identifier))

	case strings.HasPrefix(identifier, "search:"):
		query := strings.TrimPrefix(identifier, "search:")
		e.mu.Lock()
		var matches []Track
		for _, info := range e.tracks {
			if strings.Contains(strings.ToLower(info.Title), strings.ToLower(query)) {
				matches = append(matches, newMockTrack(info))
			}
		}
		e.mu.Unlock()
		if len(matches) == 0 {
			handler.NoMatches()
			return
		}
		handler.SearchLoaded(matches)

	case strings.HasPrefix(identifier, "playlist:"):
		name := strings.TrimPrefix(identifier, "playlist:")
		e.mu.Lock()
		infos, ok := e.playlists[name]
		e.mu.Unlock()
		if !ok {
			handler.NoMatches()
			return
		}
		tracks := make([]Track, len(infos))
		for i, info := range infos {
			tracks[i] = newMockTrack(info)
		}
		handler.PlaylistLoaded(name, tracks, 0)

	default:
		e.mu.Lock()
		info, ok := e.tracks[identifier]
		e.mu.Unlock()
		if !ok {
			handler.NoMatches()
			return
		}
		handler.TrackLoaded(newMockTrack(info))
	}
}

// encodedTrack is the mock binary track form.
type encodedTrack struct {
	Info     TrackInfo `json:"info"`
	Position int64     `json:"position"`
}

// EncodeTrack implements Engine.
func (e *MockEngine) EncodeTrack(track Track) ([]byte, error) {
	return json.Marshal(encodedTrack{Info: track.Info(), Position: track.Position()})
}

// DecodeTrack implements Engine.
func (e *MockEngine) DecodeTrack(data []byte) (Track, error) {
	var enc encodedTrack
	if err := json.Unmarshal(data, &enc); err != nil {
		return nil, fmt.Errorf("mock engine: decoding track: %w", err)
	}
	t := newMockTrack(enc.Info)
	t.SetPosition(enc.Position)
	return t, nil
}

// MockTrack is the mock engine's track implementation.
type MockTrack struct {
	info TrackInfo

	mu  sync.Mutex
	pos int64
}

func newMockTrack(info TrackInfo) *MockTrack {
	return &MockTrack{info: info}
}

func (t *MockTrack) Info() TrackInfo { return t.info }

// Seekable reports whether the track supports seeking. Live streams do not.
func (t *MockTrack) Seekable() bool { return !t.info.Stream }

func (t *MockTrack) Position() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pos
}

func (t *MockTrack) SetPosition(ms int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pos = ms
}

// MockPlayer is the mock engine's playback handle. Events fire synchronously
// from the mutating call, with the player lock released, mimicking an engine
// delivering callbacks on its own goroutine.
type MockPlayer struct {
	mu        sync.Mutex
	playing   Track
	paused    bool
	volume    int
	destroyed bool
	listeners []EventHandler
}

func (p *MockPlayer) Play(track Track) {
	p.mu.Lock()
	old := p.playing
	p.playing = track
	p.mu.Unlock()

	if old != nil {
		p.fire(func(h EventHandler) { h.OnTrackEnd(old, EndReplaced) })
	}
	p.fire(func(h EventHandler) { h.OnTrackStart(track) })
}

func (p *MockPlayer) Stop() {
	p.mu.Lock()
	old := p.playing
	p.playing = nil
	p.mu.Unlock()

	if old != nil {
		p.fire(func(h EventHandler) { h.OnTrackEnd(old, EndStopped) })
	}
}

func (p *MockPlayer) SetPaused(paused bool) {
	p.mu.Lock()
	if p.paused == paused {
		p.mu.Unlock()
		return
	}
	p.paused = paused
	p.mu.Unlock()

	if paused {
		p.fire(func(h EventHandler) { h.OnPlayerPause() })
	} else {
		p.fire(func(h EventHandler) { h.OnPlayerResume() })
	}
}

func (p *MockPlayer) Paused() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.paused
}

func (p *MockPlayer) PlayingTrack() Track {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.playing
}

func (p *MockPlayer) SetVolume(volume int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.volume = volume
}

func (p *MockPlayer) Volume() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.volume
}

// Provide returns a silence frame and advances the track position by one
// frame. The track ends with EndFinished once its length is exhausted.
func (p *MockPlayer) Provide() ([]byte, bool) {
	p.mu.Lock()
	track := p.playing
	if track == nil || p.paused {
		p.mu.Unlock()
		return nil, false
	}

	pos := track.Position() + FrameDuration.Milliseconds()
	track.SetPosition(pos)
	info := track.Info()
	finished := !info.Stream && pos >= info.Length
	if finished {
		p.playing = nil
	}
	p.mu.Unlock()

	if finished {
		p.fire(func(h EventHandler) { h.OnTrackEnd(track, EndFinished) })
		return nil, false
	}
	return silenceFrame, true
}

func (p *MockPlayer) AddListener(handler EventHandler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.listeners = append(p.listeners, handler)
}

func (p *MockPlayer) Destroy() {
	p.mu.Lock()
	if p.destroyed {
		p.mu.Unlock()
		return
	}
	p.destroyed = true
	old := p.playing
	p.playing = nil
	p.mu.Unlock()

	if old != nil {
		p.fire(func(h EventHandler) { h.OnTrackEnd(old, EndCleanup) })
	}
}

// FireException injects a playback error, for tests.
func (p *MockPlayer) FireException(err *PlaybackError) {
	p.mu.Lock()
	track := p.playing
	p.mu.Unlock()
	p.fire(func(h EventHandler) { h.OnTrackException(track, err) })
}

// FireStuck injects a stuck event, for tests.
func (p *MockPlayer) FireStuck(threshold time.Duration) {
	p.mu.Lock()
	track := p.playing
	p.mu.Unlock()
	p.fire(func(h EventHandler) { h.OnTrackStuck(track, threshold) })
}

func (p *MockPlayer) fire(fn func(EventHandler)) {
	p.mu.Lock()
	handlers := make([]EventHandler, len(p.listeners))
	copy(handlers, p.listeners)
	p.mu.Unlock()

	for _, h := range handlers {
		fn(h)
	}
}

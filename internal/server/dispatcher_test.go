package server

import (
	"encoding/json"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/halite-audio/halite/internal/config"
	"github.com/halite-audio/halite/internal/protocol"
	"github.com/halite-audio/halite/internal/transport"
	"github.com/halite-audio/halite/pkg/engine"
)

// testConn implements session.Conn in memory.
type testConn struct {
	id string

	mu     sync.Mutex
	sent   []any
	closed bool
}

func newTestConn(id string) *testConn {
	return &testConn{id: id}
}

func (c *testConn) Send(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return fmt.Errorf("connection %s is closed", c.id)
	}
	c.sent = append(c.sent, v)
	return nil
}

func (c *testConn) Close(code int, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}

func (c *testConn) Open() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed
}

func (c *testConn) ID() string { return c.id }

// dispatches returns all dispatch envelopes with the given event name.
func (c *testConn) dispatches(name string) []protocol.Dispatch {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []protocol.Dispatch
	for _, v := range c.sent {
		if d, ok := v.(protocol.Dispatch); ok && d.Name == name {
			out = append(out, d)
		}
	}
	return out
}

func (c *testConn) playerUpdates() []protocol.PlayerUpdate {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []protocol.PlayerUpdate
	for _, v := range c.sent {
		if u, ok := v.(protocol.PlayerUpdate); ok {
			out = append(out, u)
		}
	}
	return out
}

func (c *testConn) statsUpdates() []protocol.StatsUpdate {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []protocol.StatsUpdate
	for _, v := range c.sent {
		if u, ok := v.(protocol.StatsUpdate); ok {
			out = append(out, u)
		}
	}
	return out
}

func (c *testConn) dispatchCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, v := range c.sent {
		if _, ok := v.(protocol.Dispatch); ok {
			n++
		}
	}
	return n
}

func newTestServer() *Server {
	eng := engine.NewMockEngine()
	eng.AddTrack(engine.TrackInfo{Title: "Song One", Identifier: "one", Length: 60000})
	eng.AddTrack(engine.TrackInfo{Title: "Song Two", Identifier: "two", Length: 90000})
	eng.AddPlaylist("mix",
		engine.TrackInfo{Title: "Song One", Identifier: "one", Length: 60000},
		engine.TrackInfo{Title: "Song Two", Identifier: "two", Length: 90000},
	)

	cfg := &config.Config{
		Password:                    "youshallnotpass",
		SessionExpirationSeconds:    60,
		StatsIntervalSeconds:        60,
		PlayerUpdateIntervalSeconds: 3600,
		LoadChunkSize:               2,
	}
	return New(cfg, eng, transport.NewNoop())
}

// send runs one raw message through the dispatcher synchronously.
func send(t *testing.T, s *Server, conn *testConn, identity string, msg any) {
	t.Helper()
	raw, err := json.Marshal(msg)
	require.NoError(t, err)
	s.handleMessage(conn, identity, raw)
}

func initialize(t *testing.T, s *Server, conn *testConn, identity, guildID string) {
	t.Helper()
	send(t, s, conn, identity, map[string]any{
		"op": "initialize", "key": "init-key", "guildId": guildID,
		"sessionId": "voice-session", "token": "voice-token", "endpoint": "voice.example.com",
	})
	require.Len(t, conn.dispatches(protocol.EventInitialized), 1)
}

// trackToken encodes a resolvable identifier into its wire token.
func trackToken(t *testing.T, s *Server, identifier string) string {
	t.Helper()
	var token string
	s.engine.Load(identifier, &tokenCapture{onTrack: func(tr engine.Track) {
		var err error
		token, err = s.codec.Encode(tr)
		require.NoError(t, err)
	}})
	require.NotEmpty(t, token)
	return token
}

func TestInitialize(t *testing.T) {
	s := newTestServer()
	conn := newTestConn("c1")
	s.registry.Open("user-1", conn)

	send(t, s, conn, "user-1", map[string]any{
		"op": "initialize", "key": "k1", "guildId": "guild-1",
		"sessionId": "vs", "token": "vt", "endpoint": "voice.example.com",
	})

	inits := conn.dispatches(protocol.EventInitialized)
	require.Len(t, inits, 1)
	require.NotNil(t, inits[0].Key)
	assert.Equal(t, "k1", *inits[0].Key)
	assert.Equal(t, "guild-1", inits[0].GuildID)
	assert.Equal(t, uint64(1), inits[0].Seq)

	sess, err := s.registry.Get("user-1")
	require.NoError(t, err)
	_, ok := sess.Player("guild-1")
	assert.True(t, ok)
}

func TestInitializeTwiceRejected(t *testing.T) {
	s := newTestServer()
	conn := newTestConn("c1")
	s.registry.Open("user-1", conn)
	initialize(t, s, conn, "user-1", "guild-1")

	send(t, s, conn, "user-1", map[string]any{
		"op": "initialize", "key": "k2", "guildId": "guild-1",
	})

	errs := conn.dispatches(protocol.EventError)
	require.Len(t, errs, 1)
	assert.Equal(t, protocol.ReasonPlayerAlreadyInitialized, errs[0].Data)
	assert.Equal(t, uint64(2), errs[0].Seq, "rejected commands still advance the sequence")
}

func TestPlayEmitsTrackStarted(t *testing.T) {
	s := newTestServer()
	conn := newTestConn("c1")
	s.registry.Open("user-1", conn)
	initialize(t, s, conn, "user-1", "guild-1")

	send(t, s, conn, "user-1", map[string]any{
		"op": "play", "key": "play-key", "guildId": "guild-1", "track": trackToken(t, s, "one"),
	})

	starts := conn.dispatches(protocol.EventTrackStarted)
	require.Len(t, starts, 1)
	require.NotNil(t, starts[0].Key)
	assert.Equal(t, "play-key", *starts[0].Key)
	data, ok := starts[0].Data.(protocol.Track)
	require.True(t, ok)
	assert.Equal(t, "Song One", data.Info.Title)
}

func TestPlayWithoutPlayer(t *testing.T) {
	s := newTestServer()
	conn := newTestConn("c1")
	s.registry.Open("user-1", conn)

	send(t, s, conn, "user-1", map[string]any{
		"op": "play", "key": "k", "guildId": "guild-1", "track": "whatever",
	})

	errs := conn.dispatches(protocol.EventError)
	require.Len(t, errs, 1)
	assert.Equal(t, protocol.ReasonPlayerNotInitialized, errs[0].Data)
}

func TestPlayUndecodableTrackDropped(t *testing.T) {
	s := newTestServer()
	conn := newTestConn("c1")
	s.registry.Open("user-1", conn)
	initialize(t, s, conn, "user-1", "guild-1")
	before := conn.dispatchCount()

	send(t, s, conn, "user-1", map[string]any{
		"op": "play", "key": "k", "guildId": "guild-1", "track": "!!not a token!!",
	})

	assert.Equal(t, before, conn.dispatchCount())
}

func TestStopWithoutTrack(t *testing.T) {
	s := newTestServer()
	conn := newTestConn("c1")
	s.registry.Open("user-1", conn)
	initialize(t, s, conn, "user-1", "guild-1")

	send(t, s, conn, "user-1", map[string]any{"op": "stop", "key": "k", "guildId": "guild-1"})

	errs := conn.dispatches(protocol.EventError)
	require.Len(t, errs, 1)
	assert.Equal(t, protocol.ReasonNoTrack, errs[0].Data)
}

func TestStopCarriesKey(t *testing.T) {
	s := newTestServer()
	conn := newTestConn("c1")
	s.registry.Open("user-1", conn)
	initialize(t, s, conn, "user-1", "guild-1")
	send(t, s, conn, "user-1", map[string]any{
		"op": "play", "key": "p", "guildId": "guild-1", "track": trackToken(t, s, "one"),
	})

	send(t, s, conn, "user-1", map[string]any{"op": "stop", "key": "stop-key", "guildId": "guild-1"})

	ends := conn.dispatches(protocol.EventTrackEnded)
	require.Len(t, ends, 1)
	require.NotNil(t, ends[0].Key)
	assert.Equal(t, "stop-key", *ends[0].Key)
}

func TestPauseAndResumeOps(t *testing.T) {
	s := newTestServer()
	conn := newTestConn("c1")
	s.registry.Open("user-1", conn)
	initialize(t, s, conn, "user-1", "guild-1")
	send(t, s, conn, "user-1", map[string]any{
		"op": "play", "key": "p", "guildId": "guild-1", "track": trackToken(t, s, "one"),
	})

	send(t, s, conn, "user-1", map[string]any{"op": "pause", "key": "k1", "guildId": "guild-1"})
	send(t, s, conn, "user-1", map[string]any{"op": "resume", "key": "k2", "guildId": "guild-1"})

	paused := conn.dispatches(protocol.EventPlayerPaused)
	require.Len(t, paused, 2)
	assert.Equal(t, true, paused[0].Data)
	assert.Equal(t, false, paused[1].Data)

	// setPaused is the explicit form of the same command.
	send(t, s, conn, "user-1", map[string]any{
		"op": "setPaused", "key": "k3", "guildId": "guild-1", "paused": true,
	})
	require.Len(t, conn.dispatches(protocol.EventPlayerPaused), 3)
}

func TestSeekEmitsPlayerUpdate(t *testing.T) {
	s := newTestServer()
	conn := newTestConn("c1")
	s.registry.Open("user-1", conn)
	initialize(t, s, conn, "user-1", "guild-1")
	send(t, s, conn, "user-1", map[string]any{
		"op": "play", "key": "p", "guildId": "guild-1", "track": trackToken(t, s, "one"),
	})

	send(t, s, conn, "user-1", map[string]any{
		"op": "seek", "key": "k", "guildId": "guild-1", "position": 30000,
	})

	updates := conn.playerUpdates()
	require.NotEmpty(t, updates)
	found := false
	for _, u := range updates {
		if u.Position == 30000 {
			found = true
			assert.Equal(t, "guild-1", u.GuildID)
		}
	}
	assert.True(t, found, "seek emits a playerUpdate at the new position")
}

func TestVolumeBounds(t *testing.T) {
	s := newTestServer()
	conn := newTestConn("c1")
	s.registry.Open("user-1", conn)
	initialize(t, s, conn, "user-1", "guild-1")

	send(t, s, conn, "user-1", map[string]any{
		"op": "volume", "key": "k", "guildId": "guild-1", "volume": 1500,
	})
	errs := conn.dispatches(protocol.EventError)
	require.Len(t, errs, 1)
	assert.Equal(t, protocol.ReasonVolumeOutOfBounds, errs[0].Data)

	send(t, s, conn, "user-1", map[string]any{
		"op": "volume", "key": "k2", "guildId": "guild-1", "volume": 150,
	})
	updates := conn.dispatches(protocol.EventVolumeUpdate)
	require.Len(t, updates, 1)
	assert.Equal(t, 150, updates[0].Data)
}

func TestDestroy(t *testing.T) {
	s := newTestServer()
	conn := newTestConn("c1")
	s.registry.Open("user-1", conn)
	initialize(t, s, conn, "user-1", "guild-1")

	send(t, s, conn, "user-1", map[string]any{"op": "destroy", "key": "d", "guildId": "guild-1"})

	destroyed := conn.dispatches(protocol.EventDestroyed)
	require.Len(t, destroyed, 1)
	require.NotNil(t, destroyed[0].Key)
	assert.Equal(t, "d", *destroyed[0].Key)

	sess, err := s.registry.Get("user-1")
	require.NoError(t, err)
	_, ok := sess.Player("guild-1")
	assert.False(t, ok, "destroy removes the player but keeps the session")
	assert.Equal(t, 1, s.registry.Len())
}

func TestLoadIdentifiersChunks(t *testing.T) {
	s := newTestServer()
	conn := newTestConn("c1")
	s.registry.Open("user-1", conn)

	// Chunk size 2: three identifiers make two chunks.
	send(t, s, conn, "user-1", map[string]any{
		"op": "loadIdentifiers", "key": "load-key",
		"identifiers": []string{"one", "playlist:mix", "bogus"},
	})

	chunks := conn.dispatches(protocol.EventLoadIdentifiersChunk)
	require.Len(t, chunks, 2)
	for _, chunk := range chunks {
		require.NotNil(t, chunk.Key)
		assert.Equal(t, "load-key", *chunk.Key)
	}

	first, ok := chunks[0].Data.([]protocol.LoadResponse)
	require.True(t, ok)
	require.Len(t, first, 2)
	assert.Equal(t, "TRACK_LOADED", first[0].LoadType)
	assert.Equal(t, "PLAYLIST_LOADED", first[1].LoadType)
	require.NotNil(t, first[1].PlaylistInfo)
	assert.Equal(t, "mix", first[1].PlaylistInfo.Name)
	assert.Len(t, first[1].Tracks, 2)

	second := chunks[1].Data.([]protocol.LoadResponse)
	require.Len(t, second, 1)
	assert.Equal(t, "NO_MATCHES", second[0].LoadType)

	finished := conn.dispatches(protocol.EventChunksFinished)
	require.Len(t, finished, 1)
	assert.Equal(t, "load-key", *finished[0].Key)
}

func TestNoSession(t *testing.T) {
	s := newTestServer()
	conn := newTestConn("c1")

	send(t, s, conn, "ghost", map[string]any{"op": "stop", "key": "k", "guildId": "guild-1"})

	errs := conn.dispatches(protocol.EventError)
	require.Len(t, errs, 1)
	assert.Equal(t, protocol.ReasonNoSession, errs[0].Data)
	assert.Equal(t, uint64(0), errs[0].Seq)
}

func TestMalformedMessageDropped(t *testing.T) {
	s := newTestServer()
	conn := newTestConn("c1")
	sess := s.registry.Open("user-1", conn)

	s.handleMessage(conn, "user-1", []byte("{not json"))

	assert.Equal(t, 0, conn.dispatchCount())
	assert.Equal(t, uint64(0), sess.Seq(), "malformed messages do not advance the sequence")
}

func TestUnknownOpAdvancesSequence(t *testing.T) {
	s := newTestServer()
	conn := newTestConn("c1")
	sess := s.registry.Open("user-1", conn)

	send(t, s, conn, "user-1", map[string]any{"op": "teleport"})

	assert.Equal(t, 0, conn.dispatchCount())
	assert.Equal(t, uint64(1), sess.Seq())
}

type tokenCapture struct {
	onTrack func(engine.Track)
}

func (h *tokenCapture) TrackLoaded(tr engine.Track) { h.onTrack(tr) }
func (h *tokenCapture) PlaylistLoaded(string, []engine.Track, int) {
}
func (h *tokenCapture) SearchLoaded([]engine.Track) {}
func (h *tokenCapture) NoMatches()                  {}
func (h *tokenCapture) LoadFailed(error)            {}

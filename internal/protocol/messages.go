// Package protocol defines the wire messages exchanged with clients. Inbound
// messages carry an "op" discriminator; outbound frames are either a
// dispatch envelope wrapping a named event or one of the unwrapped periodic
// update frames.
package protocol

// Envelope is decoded first to pick the handler for an inbound message.
type Envelope struct {
	Op string `json:"op"`
}

// InitializeRequest creates a player for a guild and forwards the voice
// server update to the transport.
type InitializeRequest struct {
	Op        string `json:"op"`
	Key       string `json:"key"`
	GuildID   string `json:"guildId"`
	SessionID string `json:"sessionId"`
	Token     string `json:"token"`
	Endpoint  string `json:"endpoint"`
}

// PlayRequest starts a track, optionally at an offset.
type PlayRequest struct {
	Op        string `json:"op"`
	Key       string `json:"key"`
	GuildID   string `json:"guildId"`
	Track     string `json:"track"`
	StartTime *int64 `json:"startTime,omitempty"`
}

// BasicRequest covers ops that only address a player: stop, destroy,
// pause, resume.
type BasicRequest struct {
	Op      string `json:"op"`
	Key     string `json:"key"`
	GuildID string `json:"guildId"`
}

// SetPausedRequest pauses or resumes a player.
type SetPausedRequest struct {
	Op      string `json:"op"`
	Key     string `json:"key"`
	GuildID string `json:"guildId"`
	Paused  bool   `json:"paused"`
}

// SeekRequest moves the playback position of the current track.
type SeekRequest struct {
	Op       string `json:"op"`
	Key      string `json:"key"`
	GuildID  string `json:"guildId"`
	Position int64  `json:"position"`
}

// VolumeRequest sets the player volume (0-1000).
type VolumeRequest struct {
	Op      string `json:"op"`
	Key     string `json:"key"`
	GuildID string `json:"guildId"`
	Volume  int    `json:"volume"`
}

// LoadRequest resolves a batch of identifiers in chunks.
type LoadRequest struct {
	Op          string   `json:"op"`
	Key         string   `json:"key"`
	Identifiers []string `json:"identifiers"`
}

// Dispatch is the envelope wrapping every named outbound event.
type Dispatch struct {
	Op      string  `json:"op"`
	Seq     uint64  `json:"seq"`
	Key     *string `json:"key,omitempty"`
	GuildID string  `json:"guildId,omitempty"`
	Name    string  `json:"name"`
	Data    any     `json:"data,omitempty"`
}

// NewDispatch builds a dispatch frame.
func NewDispatch(seq uint64, key *string, guildID, name string, data any) Dispatch {
	return Dispatch{Op: "dispatch", Seq: seq, Key: key, GuildID: guildID, Name: name, Data: data}
}

// PlayerUpdate is the unwrapped periodic position frame, also emitted once
// immediately after a successful seek.
type PlayerUpdate struct {
	Op        string `json:"op"`
	GuildID   string `json:"guildId"`
	Position  int64  `json:"position"`
	Timestamp int64  `json:"timestamp"`
}

// NewPlayerUpdate builds a playerUpdate frame.
func NewPlayerUpdate(guildID string, position, timestamp int64) PlayerUpdate {
	return PlayerUpdate{Op: "playerUpdate", GuildID: guildID, Position: position, Timestamp: timestamp}
}

// StatsUpdate is the unwrapped periodic telemetry frame.
type StatsUpdate struct {
	Op             string      `json:"op"`
	Players        int         `json:"players"`
	PlayingPlayers int         `json:"playingPlayers"`
	Uptime         int64       `json:"uptime"`
	Memory         MemoryStats `json:"memory"`
	CPU            CPUStats    `json:"cpu"`
}

// MemoryStats mirrors the process heap figures, in bytes.
type MemoryStats struct {
	Free      uint64 `json:"free"`
	Used      uint64 `json:"used"`
	Allocated uint64 `json:"allocated"`
	Reserved  uint64 `json:"reserved"`
}

// CPUStats carries host and process CPU load, 0.0-1.0.
type CPUStats struct {
	Cores       int     `json:"cores"`
	SystemLoad  float64 `json:"systemLoad"`
	ProcessLoad float64 `json:"processLoad"`
}

// Track pairs an encoded track token with its decoded metadata.
type Track struct {
	Track string    `json:"track"`
	Info  TrackInfo `json:"info"`
}

// TrackInfo is the client-visible track metadata.
type TrackInfo struct {
	Title      string `json:"title"`
	Author     string `json:"author"`
	Identifier string `json:"identifier"`
	URI        string `json:"uri"`
	Stream     bool   `json:"stream"`
	Seekable   bool   `json:"seekable"`
	Position   int64  `json:"position"`
	Length     int64  `json:"length"`
}

// LoadResponse is one resolved identifier inside a load chunk or an HTTP
// load reply. PlaylistInfo is present only for PLAYLIST_LOADED.
type LoadResponse struct {
	LoadType     string        `json:"loadType"`
	Tracks       []Track       `json:"tracks"`
	PlaylistInfo *PlaylistInfo `json:"playlistInfo,omitempty"`
}

// PlaylistInfo names a loaded playlist and marks its selected track.
type PlaylistInfo struct {
	Name          string `json:"name"`
	SelectedTrack int    `json:"selectedTrack"`
}

// TrackEndData is the TRACK_ENDED payload.
type TrackEndData struct {
	Track  string `json:"track"`
	Reason string `json:"reason"`
}

// TrackExceptionData is the TRACK_EXCEPTION payload.
type TrackExceptionData struct {
	Track     string        `json:"track"`
	Exception ExceptionData `json:"exception"`
}

// ExceptionData describes a playback error.
type ExceptionData struct {
	Severity string `json:"severity"`
	Message  string `json:"message"`
}

// TrackStuckData is the TRACK_STUCK payload.
type TrackStuckData struct {
	Track       string `json:"track"`
	ThresholdMs int64  `json:"thresholdMs"`
}

package protocol

// WebSocket close codes issued by the node. All of them are terminal: a
// session closed with one of these cannot be resumed.
const (
	CloseInvalidAuthorization = 4001
	CloseMissingIdentity      = 4002
	CloseServerShutdown       = 4003
	CloseSessionSuperseded    = 4004
)

// TerminalClose reports whether a close code ends the session immediately
// instead of opening the resume window.
func TerminalClose(code int) bool {
	switch code {
	case CloseInvalidAuthorization, CloseMissingIdentity, CloseServerShutdown, CloseSessionSuperseded:
		return true
	}
	return false
}

// ErrorReason is an enumerated reason carried by an ERROR dispatch.
type ErrorReason string

const (
	ReasonNoTrack                  ErrorReason = "NO_TRACK"
	ReasonTrackNotSeekable         ErrorReason = "TRACK_NOT_SEEKABLE"
	ReasonPositionOutOfBounds      ErrorReason = "POSITION_OUT_OF_BOUNDS"
	ReasonVolumeOutOfBounds        ErrorReason = "VOLUME_OUT_OF_BOUNDS"
	ReasonPlayerNotInitialized     ErrorReason = "PLAYER_NOT_INITIALIZED"
	ReasonPlayerAlreadyInitialized ErrorReason = "PLAYER_ALREADY_INITIALIZED"
	ReasonPlayerAlreadyPaused      ErrorReason = "PLAYER_ALREADY_PAUSED"
	ReasonPlayerAlreadyResumed     ErrorReason = "PLAYER_ALREADY_RESUMED"
	ReasonNoSession                ErrorReason = "NO_SESSION"
)

// Dispatch event names.
const (
	EventError                = "ERROR"
	EventInitialized          = "INITIALIZED"
	EventDestroyed            = "DESTROYED"
	EventVolumeUpdate         = "VOLUME_UPDATE"
	EventTrackStarted         = "TRACK_STARTED"
	EventTrackEnded           = "TRACK_ENDED"
	EventTrackException       = "TRACK_EXCEPTION"
	EventTrackStuck           = "TRACK_STUCK"
	EventPlayerPaused         = "PLAYER_PAUSED"
	EventLoadIdentifiersChunk = "LOAD_IDENTIFIERS_CHUNK"
	EventChunksFinished       = "CHUNKS_FINISHED"
)

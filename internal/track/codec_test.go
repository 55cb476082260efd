package track

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/halite-audio/halite/pkg/engine"
)

func TestRoundTrip(t *testing.T) {
	eng := engine.NewMockEngine()
	codec := NewCodec(eng)

	info := engine.TrackInfo{
		Title:      "Never Gonna Give You Up",
		Author:     "Rick Astley",
		Identifier: "dQw4w9WgXcQ",
		URI:        "https://youtu.be/dQw4w9WgXcQ",
		Stream:     false,
		Length:     212000,
	}
	eng.AddTrack(info)

	original := loadTrack(t, eng, "dQw4w9WgXcQ")
	original.SetPosition(42000)

	token, err := codec.Encode(original)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	decoded, err := codec.Decode(token)
	require.NoError(t, err)

	assert.Equal(t, original.Info(), decoded.Info())
	assert.Equal(t, original.Seekable(), decoded.Seekable())
	assert.Equal(t, original.Position(), decoded.Position())
}

func TestDecodeRejectsGarbage(t *testing.T) {
	codec := NewCodec(engine.NewMockEngine())

	_, err := codec.Decode("not base64 at all!!!")
	assert.Error(t, err)

	_, err = codec.Decode("aGVsbG8=") // valid base64, not a track
	assert.Error(t, err)
}

// loadTrack resolves a registered identifier into a track.
func loadTrack(t *testing.T, eng *engine.MockEngine, identifier string) engine.Track {
	t.Helper()
	var loaded engine.Track
	eng.Load(identifier, &captureHandler{onTrack: func(tr engine.Track) { loaded = tr }})
	require.NotNil(t, loaded)
	return loaded
}

type captureHandler struct {
	onTrack func(engine.Track)
}

func (h *captureHandler) TrackLoaded(tr engine.Track) { h.onTrack(tr) }
func (h *captureHandler) PlaylistLoaded(string, []engine.Track, int) {
}
func (h *captureHandler) SearchLoaded([]engine.Track) {}
func (h *captureHandler) NoMatches()                  {}
func (h *captureHandler) LoadFailed(error)            {}

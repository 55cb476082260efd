// Package track converts engine tracks to and from the compact token form
// carried over the wire.
package track

import (
	"encoding/base64"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/halite-audio/halite/pkg/engine"
)

// Codec encodes tracks into transportable tokens by delegating to the
// engine's binary codec and wrapping the result in base64.
type Codec struct {
	engine engine.Engine
}

// NewCodec creates a codec backed by the given engine.
func NewCodec(e engine.Engine) *Codec {
	return &Codec{engine: e}
}

// Encode turns a track into a token.
func (c *Codec) Encode(t engine.Track) (string, error) {
	data, err := c.engine.EncodeTrack(t)
	if err != nil {
		logrus.WithError(err).WithField("identifier", t.Info().Identifier).Error("Failed to encode track")
		return "", fmt.Errorf("encoding track: %w", err)
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// Decode turns a token back into a track.
func (c *Codec) Decode(token string) (engine.Track, error) {
	data, err := base64.StdEncoding.DecodeString(token)
	if err != nil {
		logrus.WithError(err).Error("Failed to decode track token")
		return nil, fmt.Errorf("decoding track token: %w", err)
	}
	t, err := c.engine.DecodeTrack(data)
	if err != nil {
		logrus.WithError(err).Error("Failed to decode track")
		return nil, fmt.Errorf("decoding track: %w", err)
	}
	return t, nil
}

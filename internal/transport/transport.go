// Package transport defines the voice transport provider boundary: the
// component that actually ships encoded frames to a voice server. The node
// only ever wires pull adapters into it and forwards voice server updates.
package transport

import "github.com/sirupsen/logrus"

// Member identifies a (user, guild) pair on the transport.
type Member struct {
	UserID  string
	GuildID string
}

// ServerUpdate carries the voice server credentials supplied by the
// controlling client on initialize.
type ServerUpdate struct {
	SessionID string
	Token     string
	Endpoint  string
}

// FrameProvider is the pull interface the transport drives every 20ms.
// CanProvide fetches the next frame; Provide returns it.
type FrameProvider interface {
	CanProvide() bool
	Provide() []byte
}

// Provider is the voice transport surface consumed by the node.
type Provider interface {
	// SetSendHandler wires (or replaces) the frame source for a member.
	SetSendHandler(m Member, fp FrameProvider)

	// RemoveSendHandler detaches the member's frame source.
	RemoveSendHandler(m Member)

	// ProvideServerUpdate forwards voice server credentials.
	ProvideServerUpdate(m Member, u ServerUpdate) error

	// Close tears down the member's voice connection.
	Close(m Member)
}

// Noop is a transport that discards everything. Used by tests and by the
// mock engine mode, where no voice backend exists.
type Noop struct{}

// NewNoop creates a no-op transport.
func NewNoop() *Noop { return &Noop{} }

func (*Noop) SetSendHandler(m Member, fp FrameProvider) {}

func (*Noop) RemoveSendHandler(m Member) {}

func (*Noop) ProvideServerUpdate(m Member, u ServerUpdate) error {
	logrus.WithFields(logrus.Fields{
		"guild_id": m.GuildID,
		"endpoint": u.Endpoint,
	}).Debug("Discarding voice server update (noop transport)")
	return nil
}

func (*Noop) Close(m Member) {}

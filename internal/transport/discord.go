package transport

import (
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/sirupsen/logrus"
)

// Discord ships frames over discordgo voice connections. One pump goroutine
// per member pulls 20ms frames from the wired provider and pushes them into
// the guild's OpusSend channel whenever the voice connection is ready; the
// voice handshake itself is driven by the gateway session.
type Discord struct {
	session *discordgo.Session

	mu    sync.Mutex
	pumps map[Member]*pump
}

// NewDiscord creates a Discord transport on an already-opened gateway
// session.
func NewDiscord(session *discordgo.Session) *Discord {
	return &Discord{
		session: session,
		pumps:   make(map[Member]*pump),
	}
}

// SetSendHandler implements Provider. Replacing an existing handler stops
// the old pump first.
func (d *Discord) SetSendHandler(m Member, fp FrameProvider) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if old, ok := d.pumps[m]; ok {
		old.stop()
	}
	p := newPump(d.session, m, fp)
	d.pumps[m] = p
	go p.run()
}

// RemoveSendHandler implements Provider.
func (d *Discord) RemoveSendHandler(m Member) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if p, ok := d.pumps[m]; ok {
		p.stop()
		delete(d.pumps, m)
	}
}

// ProvideServerUpdate implements Provider. discordgo establishes voice
// connections through its own gateway state, so the update is recorded for
// observability only.
func (d *Discord) ProvideServerUpdate(m Member, u ServerUpdate) error {
	logrus.WithFields(logrus.Fields{
		"guild_id": m.GuildID,
		"endpoint": u.Endpoint,
	}).Debug("Received voice server update")
	return nil
}

// Close implements Provider.
func (d *Discord) Close(m Member) {
	d.RemoveSendHandler(m)

	d.session.RLock()
	vc := d.session.VoiceConnections[m.GuildID]
	d.session.RUnlock()
	if vc != nil {
		if err := vc.Disconnect(); err != nil {
			logrus.WithError(err).WithField("guild_id", m.GuildID).Warn("Failed to disconnect voice connection")
		}
	}
}

// pump pulls frames on the transport cadence and writes them to the voice
// connection.
type pump struct {
	session  *discordgo.Session
	member   Member
	provider FrameProvider
	done     chan struct{}
	once     sync.Once
}

func newPump(session *discordgo.Session, m Member, fp FrameProvider) *pump {
	return &pump{
		session:  session,
		member:   m,
		provider: fp,
		done:     make(chan struct{}),
	}
}

func (p *pump) stop() {
	p.once.Do(func() { close(p.done) })
}

func (p *pump) run() {
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()

	speaking := false
	for {
		select {
		case <-p.done:
			return
		case <-ticker.C:
		}

		p.session.RLock()
		vc := p.session.VoiceConnections[p.member.GuildID]
		p.session.RUnlock()
		if vc == nil || !vc.Ready {
			continue
		}

		if !p.provider.CanProvide() {
			if speaking {
				if err := vc.Speaking(false); err != nil {
					logrus.WithError(err).Debug("Failed to clear speaking state")
				}
				speaking = false
			}
			continue
		}
		if !speaking {
			if err := vc.Speaking(true); err != nil {
				logrus.WithError(err).Debug("Failed to set speaking state")
				continue
			}
			speaking = true
		}

		select {
		case vc.OpusSend <- p.provider.Provide():
		case <-p.done:
			return
		}
	}
}

package xmpp

import (
	"log/slog"
	"time"
)

// Mode selects which session establisher runs.
type Mode string

const (
	// ModeComponent is the XEP-0114 external component protocol:
	// a plaintext subdomain uplink with a SHA-1 handshake.
	ModeComponent Mode = "component"
	// ModeClient is a regular C2S connection: STARTTLS, SASL,
	// resource bind, initial presence.
	ModeClient Mode = "client"
)

// RoomOptions configures one MUC room to join on connect.
type RoomOptions struct {
	JID             string
	Nick            string
	MentionPatterns []string
}

// Options carries everything the connection layer needs. The config
// package populates it from the operator's file.
type Options struct {
	Host string
	Port int
	Mode Mode

	// Component mode.
	ComponentDomain string
	ComponentSecret string

	// Client mode.
	JID       string
	Password  string
	Resource  string
	TLSVerify bool

	// Admission policy.
	AllowedJIDs    []string
	AllowedDomains []string

	Rooms []RoomOptions

	KeepaliveInterval time.Duration
	ReadTimeout       time.Duration

	Logger *slog.Logger
}

// Domain returns the agent's own XMPP domain: the component domain in
// component mode, the JID's domain in client mode.
func (o *Options) Domain() string {
	if o.Mode == ModeComponent {
		return o.ComponentDomain
	}
	return DomainOf(o.JID)
}

// ModeDescription is the human-readable connection mode used in /status.
func (o *Options) ModeDescription() string {
	if o.Mode == ModeComponent {
		return "component (" + o.ComponentDomain + ")"
	}
	return "C2S client (" + o.JID + ")"
}

// FindRoom returns the configuration for a joined room, if any.
func (o *Options) FindRoom(roomJID string) *RoomOptions {
	for i := range o.Rooms {
		if o.Rooms[i].JID == roomJID {
			return &o.Rooms[i]
		}
	}
	return nil
}

func (o *Options) logger() *slog.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return slog.Default()
}

func (o *Options) keepaliveInterval() time.Duration {
	if o.KeepaliveInterval > 0 {
		return o.KeepaliveInterval
	}
	return DefaultKeepaliveInterval
}

func (o *Options) readTimeout() time.Duration {
	if o.ReadTimeout > 0 {
		return o.ReadTimeout
	}
	return DefaultReadTimeout
}

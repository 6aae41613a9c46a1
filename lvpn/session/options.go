package session

import (
	"fmt"
	"strings"
	"time"

	"github.com/sasukeuchiha14/lightweight-vpn/lvpn/stats"
)

// Role selects whether a session accepts or dials.
type Role int

const (
	RoleInitiator Role = iota
	RoleResponder
)

func (r Role) String() string {
	if r == RoleResponder {
		return "responder"
	}
	return "initiator"
}

// ParseRole accepts "initiator"/"dial"/"client" and "responder"/"listen"/"server".
func ParseRole(s string) (Role, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "initiator", "dial", "client", "sender":
		return RoleInitiator, nil
	case "responder", "listen", "server", "receiver":
		return RoleResponder, nil
	}
	return 0, fmt.Errorf("session: unknown role %q", s)
}

// Options tunes timing and capacity. Zero fields take the defaults below.
type Options struct {
	ConnectTimeout     time.Duration
	HandshakeTimeout   time.Duration
	WriteTimeout       time.Duration
	HeartbeatInterval  time.Duration
	DeadPeerMultiplier int

	BackoffBase          time.Duration
	BackoffMax           time.Duration
	MaxReconnectAttempts int

	QueueCapacity    int
	EventLogCapacity int
	DrainTimeout     time.Duration

	// Compression offers LZ4; it is used only if the peer offers it too.
	Compression bool

	// OnStateChange runs synchronously on every transition. It must not
	// call back into the session.
	OnStateChange func(from, to State)
}

// DefaultOptions mirrors the config defaults.
func DefaultOptions() Options {
	return Options{
		ConnectTimeout:       10 * time.Second,
		HandshakeTimeout:     10 * time.Second,
		WriteTimeout:         10 * time.Second,
		HeartbeatInterval:    15 * time.Second,
		DeadPeerMultiplier:   3,
		BackoffBase:          time.Second,
		BackoffMax:           30 * time.Second,
		MaxReconnectAttempts: 5,
		QueueCapacity:        256,
		EventLogCapacity:     stats.DefaultEventCapacity,
		DrainTimeout:         2 * time.Second,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = d.ConnectTimeout
	}
	if o.HandshakeTimeout <= 0 {
		o.HandshakeTimeout = d.HandshakeTimeout
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = d.WriteTimeout
	}
	if o.HeartbeatInterval <= 0 {
		o.HeartbeatInterval = d.HeartbeatInterval
	}
	if o.DeadPeerMultiplier <= 0 {
		o.DeadPeerMultiplier = d.DeadPeerMultiplier
	}
	if o.BackoffBase <= 0 {
		o.BackoffBase = d.BackoffBase
	}
	if o.BackoffMax < o.BackoffBase {
		o.BackoffMax = max(d.BackoffMax, o.BackoffBase)
	}
	if o.MaxReconnectAttempts <= 0 {
		o.MaxReconnectAttempts = d.MaxReconnectAttempts
	}
	if o.QueueCapacity <= 0 {
		o.QueueCapacity = d.QueueCapacity
	}
	if o.EventLogCapacity <= 0 {
		o.EventLogCapacity = d.EventLogCapacity
	}
	if o.DrainTimeout <= 0 {
		o.DrainTimeout = d.DrainTimeout
	}
	return o
}

// deadPeerAfter is how long inbound silence lasts before the peer is
// considered gone.
func (o Options) deadPeerAfter() time.Duration {
	return time.Duration(o.DeadPeerMultiplier) * o.HeartbeatInterval
}

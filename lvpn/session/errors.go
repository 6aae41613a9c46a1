package session

import (
	"errors"

	"github.com/sasukeuchiha14/lightweight-vpn/lvpn/key"
	"github.com/sasukeuchiha14/lightweight-vpn/lvpn/protocol"
)

var (
	ErrKeyMismatch     = errors.New("session: key mismatch")
	ErrQueueFull       = errors.New("session: outbound queue full")
	ErrNotConnected    = errors.New("session: not connected")
	ErrPeerUnreachable = errors.New("session: peer unreachable")
	ErrEmptyPayload    = errors.New("session: empty payload")
	ErrAlreadyStarted  = errors.New("session: already started")

	errPeerClosed = errors.New("session: connection closed by peer")
	errStopped    = errors.New("session: stopped")
)

// IsFatalConfig reports errors that need an operator to change the
// configuration. They are never retried.
func IsFatalConfig(err error) bool {
	return errors.Is(err, ErrKeyMismatch) ||
		errors.Is(err, key.ErrInvalidKeyLength) ||
		errors.Is(err, protocol.ErrUnsupportedVersion)
}

// IsRetryable reports whether a connection failure is handled by reconnecting.
func IsRetryable(err error) bool {
	return err != nil && !IsFatalConfig(err) && !errors.Is(err, errStopped)
}

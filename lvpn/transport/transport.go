// Package transport abstracts the two connection roles of a tunnel: the
// responder accepts one connection at a time, the initiator dials one endpoint.
package transport

import (
	"context"
	"errors"
	"io"
	"net"
	"os"
	"syscall"
	"time"
)

var (
	ErrConnectTimeout    = errors.New("transport: connect timeout")
	ErrConnectionRefused = errors.New("transport: connection refused")
	ErrListenerClosed    = errors.New("transport: listener closed")
)

// Conn is a reliable ordered byte stream with deadlines. net.Conn satisfies it.
type Conn interface {
	io.ReadWriteCloser
	SetDeadline(t time.Time) error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	LocalAddr() net.Addr
	RemoteAddr() net.Addr
}

// Dialer opens a connection as the initiator.
type Dialer interface {
	Dial(ctx context.Context, addr string) (Conn, error)
}

// Listener accepts connections as the responder. Accept returns
// ErrConnectTimeout when ctx expires before a peer arrives.
type Listener interface {
	Accept(ctx context.Context) (Conn, error)
	Addr() net.Addr
	Close() error
}

// Transport creates both ends of one kind of connection.
type Transport interface {
	Dialer
	Listen(addr string) (Listener, error)
	Name() string
}

// ReadFull receives exactly len(buf) bytes.
func ReadFull(c Conn, buf []byte) error {
	_, err := io.ReadFull(c, buf)
	return err
}

// Classify maps dial/accept failures onto ErrConnectTimeout and
// ErrConnectionRefused. Other errors are returned unchanged.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrConnectTimeout) || errors.Is(err, ErrConnectionRefused) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return &Error{Kind: ErrConnectTimeout, Err: err}
	}
	if errors.Is(err, syscall.ECONNREFUSED) {
		return &Error{Kind: ErrConnectionRefused, Err: err}
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return &Error{Kind: ErrConnectTimeout, Err: err}
	}
	return err
}

// Error pairs a classified failure with its underlying cause.
type Error struct {
	Kind error
	Err  error
}

func (e *Error) Error() string { return e.Kind.Error() + ": " + e.Err.Error() }

func (e *Error) Unwrap() []error { return []error{e.Kind, e.Err} }

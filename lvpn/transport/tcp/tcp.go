// Package tcp implements the tunnel transport over plain TCP, using
// kernel keepalive probes to detect a silently dead peer.
package tcp

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/samber/oops"

	"github.com/sasukeuchiha14/lightweight-vpn/lvpn/transport"
)

const (
	// DefaultKeepAlive is the TCP keepalive probe period.
	DefaultKeepAlive = 15 * time.Second

	// acceptPoll bounds how long Accept blocks before rechecking ctx.
	acceptPoll = 250 * time.Millisecond
)

type Transport struct {
	KeepAlive time.Duration
}

func New(keepAlive time.Duration) *Transport {
	if keepAlive <= 0 {
		keepAlive = DefaultKeepAlive
	}
	return &Transport{KeepAlive: keepAlive}
}

func (t *Transport) Name() string { return "tcp" }

// Dial connects to addr. The connect timeout is taken from ctx.
func (t *Transport) Dial(ctx context.Context, addr string) (transport.Conn, error) {
	d := net.Dialer{KeepAlive: t.KeepAlive}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, oops.
			In("transport").
			With("addr", addr).
			Wrapf(transport.Classify(err), "tcp dial")
	}
	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tc.SetNoDelay(true)
	}
	return conn, nil
}

func (t *Transport) Listen(addr string) (transport.Listener, error) {
	lc := net.ListenConfig{KeepAlive: t.KeepAlive}
	ln, err := lc.Listen(context.Background(), "tcp", addr)
	if err != nil {
		return nil, oops.In("transport").With("addr", addr).Wrapf(err, "tcp listen")
	}
	return &Listener{inner: ln.(*net.TCPListener), keepAlive: t.KeepAlive}, nil
}

// Listener hands out one accepted connection per Accept call.
type Listener struct {
	inner     *net.TCPListener
	keepAlive time.Duration
}

// Accept waits for the next peer until ctx is done. It polls with a short
// accept deadline so a canceled ctx never leaves the goroutine blocked.
func (l *Listener) Accept(ctx context.Context) (transport.Conn, error) {
	for {
		if err := ctx.Err(); err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				return nil, transport.ErrConnectTimeout
			}
			return nil, err
		}

		wait := time.Now().Add(acceptPoll)
		if dl, ok := ctx.Deadline(); ok && dl.Before(wait) {
			wait = dl
		}
		if err := l.inner.SetDeadline(wait); err != nil {
			return nil, err
		}

		conn, err := l.inner.AcceptTCP()
		if err == nil {
			_ = conn.SetKeepAlive(true)
			_ = conn.SetKeepAlivePeriod(l.keepAlive)
			_ = conn.SetNoDelay(true)
			return conn, nil
		}
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			continue
		}
		if errors.Is(err, net.ErrClosed) {
			return nil, transport.ErrListenerClosed
		}
		return nil, err
	}
}

func (l *Listener) Addr() net.Addr { return l.inner.Addr() }

func (l *Listener) Close() error { return l.inner.Close() }

// Package quic carries the tunnel byte stream over a single bidirectional
// QUIC stream. QUIC keepalive frames and the idle timeout stand in for TCP
// keepalive probes.
package quic

import (
	"context"
	"errors"
	"net"
	"time"

	q "github.com/quic-go/quic-go"
	"github.com/samber/oops"

	"github.com/sasukeuchiha14/lightweight-vpn/lvpn/transport"
)

const (
	DefaultKeepAlive   = 15 * time.Second
	DefaultIdleTimeout = 45 * time.Second

	closeCodeNormal q.ApplicationErrorCode = 0
)

type Transport struct {
	KeepAlive   time.Duration
	IdleTimeout time.Duration
}

func New(keepAlive, idleTimeout time.Duration) *Transport {
	if keepAlive <= 0 {
		keepAlive = DefaultKeepAlive
	}
	if idleTimeout <= keepAlive {
		idleTimeout = 3 * keepAlive
	}
	return &Transport{KeepAlive: keepAlive, IdleTimeout: idleTimeout}
}

func (t *Transport) Name() string { return "quic" }

func (t *Transport) config() *q.Config {
	return &q.Config{
		KeepAlivePeriod: t.KeepAlive,
		MaxIdleTimeout:  t.IdleTimeout,
	}
}

func (t *Transport) Listen(addr string) (transport.Listener, error) {
	tlsConf, err := serverTLSConfig()
	if err != nil {
		return nil, err
	}
	ln, err := q.ListenAddr(addr, tlsConf, t.config())
	if err != nil {
		return nil, oops.In("transport").With("addr", addr).Wrapf(err, "quic listen")
	}
	return &Listener{inner: ln}, nil
}

// Dial opens a connection and its single stream. The stream only becomes
// visible to the peer once the first bytes are written.
func (t *Transport) Dial(ctx context.Context, addr string) (transport.Conn, error) {
	conn, err := q.DialAddr(ctx, addr, clientTLSConfig(), t.config())
	if err != nil {
		return nil, oops.In("transport").With("addr", addr).Wrapf(classify(err), "quic dial")
	}
	stream, err := conn.OpenStreamSync(ctx)
	if err != nil {
		_ = conn.CloseWithError(closeCodeNormal, "open stream failed")
		return nil, oops.In("transport").With("addr", addr).Wrapf(classify(err), "quic open stream")
	}
	return &streamConn{conn: conn, stream: stream}, nil
}

type Listener struct {
	inner *q.Listener
}

// Accept returns the first stream of the next connection.
func (l *Listener) Accept(ctx context.Context) (transport.Conn, error) {
	conn, err := l.inner.Accept(ctx)
	if err != nil {
		return nil, classifyAccept(err)
	}
	stream, err := conn.AcceptStream(ctx)
	if err != nil {
		_ = conn.CloseWithError(closeCodeNormal, "no stream")
		return nil, classifyAccept(err)
	}
	return &streamConn{conn: conn, stream: stream}, nil
}

func (l *Listener) Addr() net.Addr { return l.inner.Addr() }

func (l *Listener) Close() error { return l.inner.Close() }

func classifyAccept(err error) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return transport.ErrConnectTimeout
	case errors.Is(err, q.ErrServerClosed):
		return transport.ErrListenerClosed
	}
	return err
}

func classify(err error) error {
	var idle *q.IdleTimeoutError
	var hs *q.HandshakeTimeoutError
	if errors.As(err, &idle) || errors.As(err, &hs) {
		return &transport.Error{Kind: transport.ErrConnectTimeout, Err: err}
	}
	return transport.Classify(err)
}

// streamConn presents one QUIC stream as a transport.Conn.
type streamConn struct {
	conn   q.Connection
	stream q.Stream
}

func (c *streamConn) Read(p []byte) (int, error)  { return c.stream.Read(p) }
func (c *streamConn) Write(p []byte) (int, error) { return c.stream.Write(p) }

func (c *streamConn) Close() error {
	c.stream.CancelRead(0)
	_ = c.stream.Close()
	return c.conn.CloseWithError(closeCodeNormal, "closed")
}

func (c *streamConn) SetDeadline(t time.Time) error      { return c.stream.SetDeadline(t) }
func (c *streamConn) SetReadDeadline(t time.Time) error  { return c.stream.SetReadDeadline(t) }
func (c *streamConn) SetWriteDeadline(t time.Time) error { return c.stream.SetWriteDeadline(t) }
func (c *streamConn) LocalAddr() net.Addr                { return c.conn.LocalAddr() }
func (c *streamConn) RemoteAddr() net.Addr               { return c.conn.RemoteAddr() }

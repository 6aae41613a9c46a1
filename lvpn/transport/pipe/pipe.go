// Package pipe is an in-memory transport built on net.Pipe. It lets session
// code run without sockets.
package pipe

import (
	"context"
	"errors"
	"net"
	"sync"

	"github.com/sasukeuchiha14/lightweight-vpn/lvpn/transport"
)

// Network routes Dial calls to the Listener bound at the same name.
type Network struct {
	mu        sync.Mutex
	listeners map[string]*Listener
}

func New() *Network {
	return &Network{listeners: make(map[string]*Listener)}
}

func (n *Network) Name() string { return "pipe" }

func (n *Network) Listen(addr string) (transport.Listener, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, ok := n.listeners[addr]; ok {
		return nil, errors.New("pipe: address in use")
	}
	l := &Listener{
		net:    n,
		addr:   pipeAddr(addr),
		conns:  make(chan net.Conn),
		closed: make(chan struct{}),
	}
	n.listeners[addr] = l
	return l, nil
}

// Dial hands one end of a fresh pipe to the listener at addr. It fails with
// ErrConnectionRefused when nothing listens there.
func (n *Network) Dial(ctx context.Context, addr string) (transport.Conn, error) {
	n.mu.Lock()
	l, ok := n.listeners[addr]
	n.mu.Unlock()
	if !ok {
		return nil, transport.ErrConnectionRefused
	}

	client, server := net.Pipe()
	select {
	case l.conns <- server:
		return client, nil
	case <-l.closed:
		return nil, transport.ErrConnectionRefused
	case <-ctx.Done():
		return nil, transport.Classify(ctx.Err())
	}
}

type Listener struct {
	net       *Network
	addr      pipeAddr
	conns     chan net.Conn
	closed    chan struct{}
	closeOnce sync.Once
}

func (l *Listener) Accept(ctx context.Context) (transport.Conn, error) {
	select {
	case c := <-l.conns:
		return c, nil
	case <-l.closed:
		return nil, transport.ErrListenerClosed
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, transport.ErrConnectTimeout
		}
		return nil, ctx.Err()
	}
}

func (l *Listener) Addr() net.Addr { return l.addr }

func (l *Listener) Close() error {
	l.closeOnce.Do(func() {
		close(l.closed)
		l.net.mu.Lock()
		delete(l.net.listeners, string(l.addr))
		l.net.mu.Unlock()
	})
	return nil
}

type pipeAddr string

func (a pipeAddr) Network() string { return "pipe" }
func (a pipeAddr) String() string  { return string(a) }

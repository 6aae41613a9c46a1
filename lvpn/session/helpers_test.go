package session

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/sasukeuchiha14/lightweight-vpn/lvpn/key"
	"github.com/sasukeuchiha14/lightweight-vpn/lvpn/transport"
	"github.com/sasukeuchiha14/lightweight-vpn/lvpn/transport/pipe"
)

func testLogger(t *testing.T) *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l).WithField("test", t.Name())
}

func testKey(t *testing.T) key.Key {
	k, err := key.Generate()
	require.NoError(t, err)
	return k
}

func fastOptions() Options {
	return Options{
		ConnectTimeout:       500 * time.Millisecond,
		HandshakeTimeout:     500 * time.Millisecond,
		WriteTimeout:         time.Second,
		HeartbeatInterval:    100 * time.Millisecond,
		DeadPeerMultiplier:   3,
		BackoffBase:          10 * time.Millisecond,
		BackoffMax:           40 * time.Millisecond,
		MaxReconnectAttempts: 3,
		QueueCapacity:        8,
		DrainTimeout:         200 * time.Millisecond,
	}
}

// transitionLog records every state change a session makes.
type transitionLog struct {
	mu    sync.Mutex
	steps [][2]State
	at    map[State]time.Time
}

func newTransitionLog() *transitionLog {
	return &transitionLog{at: make(map[State]time.Time)}
}

func (l *transitionLog) hook(from, to State) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.steps = append(l.steps, [2]State{from, to})
	if _, seen := l.at[to]; !seen {
		l.at[to] = time.Now()
	}
}

func (l *transitionLog) snapshot() [][2]State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([][2]State(nil), l.steps...)
}

func (l *transitionLog) firstAt(s State) (time.Time, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	t, ok := l.at[s]
	return t, ok
}

type pair struct {
	net       *pipe.Network
	initiator *Session
	responder *Session
}

func newPair(t *testing.T, initKey, respKey key.Key, initOpts, respOpts Options) *pair {
	t.Helper()
	n := pipe.New()
	ln, err := n.Listen("responder")
	require.NoError(t, err)

	resp, err := NewResponder(ln, respKey, respOpts, testLogger(t))
	require.NoError(t, err)
	init, err := NewInitiator(n, "responder", initKey, initOpts, testLogger(t))
	require.NoError(t, err)

	t.Cleanup(func() {
		init.Abort()
		resp.Abort()
	})
	require.NoError(t, resp.Start())
	require.NoError(t, init.Start())
	return &pair{net: n, initiator: init, responder: resp}
}

func waitState(t *testing.T, s *Session, want State) {
	t.Helper()
	require.Eventually(t, func() bool { return s.State() == want }, 5*time.Second, 5*time.Millisecond,
		"session %s never reached %s (now %s)", s.Role(), want, s.State())
}

func nextPayload(t *testing.T, s *Session) []byte {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-s.Events():
			require.True(t, ok, "events closed before a payload arrived")
			if ev.Kind == EventPayload {
				return ev.Payload
			}
		case <-deadline:
			t.Fatalf("no payload delivered")
		}
	}
}

// fakeResponder accepts one connection on ln, completes the handshake with
// k, and hands the raw conn back for the test to misbehave with.
func fakeResponder(t *testing.T, ln transport.Listener, k key.Key) <-chan transport.Conn {
	t.Helper()
	out := make(chan transport.Conn, 1)
	go func() {
		defer close(out)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		conn, err := ln.Accept(ctx)
		if err != nil {
			return
		}
		if _, err := HandshakeResponder(conn, k, HandshakeOptions{}); err != nil {
			_ = conn.Close()
			return
		}
		out <- conn
	}()
	return out
}

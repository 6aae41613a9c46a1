package lvpn

import (
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sasukeuchiha14/lightweight-vpn/lvpn/config"
	"github.com/sasukeuchiha14/lightweight-vpn/lvpn/key"
	"github.com/sasukeuchiha14/lightweight-vpn/lvpn/logging"
	"github.com/sasukeuchiha14/lightweight-vpn/lvpn/session"
)

func testConfig(transportName string) config.Config {
	cfg := config.Defaults()
	cfg.Port = 0
	cfg.ListenAddress = "127.0.0.1"
	cfg.Transport = transportName
	cfg.ConnectTimeout = 2 * time.Second
	cfg.HandshakeTimeout = 2 * time.Second
	cfg.HeartbeatInterval = 500 * time.Millisecond
	cfg.BackoffBase = 50 * time.Millisecond
	cfg.BackoffMax = 200 * time.Millisecond
	cfg.MaxReconnectAttempts = 3
	cfg.DrainTimeout = 500 * time.Millisecond
	return cfg
}

func newTestManager(t *testing.T, cfg config.Config) *Manager {
	t.Helper()
	m, err := NewManager(cfg, WithLogger(logging.Discard()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func generateKey(t *testing.T) key.Key {
	t.Helper()
	k, err := key.Generate()
	require.NoError(t, err)
	return k
}

func listenPort(t *testing.T, m *Manager) int {
	t.Helper()
	_, portStr, err := net.SplitHostPort(m.ListenAddr())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	return port
}

func waitManagerState(t *testing.T, m *Manager, want State) {
	t.Helper()
	require.Eventually(t, func() bool { return m.State() == want }, 10*time.Second, 10*time.Millisecond,
		"manager never reached %s (now %s)", want, m.State())
}

func awaitPayload(t *testing.T, m *Manager, timeout time.Duration) ([]byte, bool) {
	t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case ev := <-m.Events():
			if ev.Kind == EventPayload {
				return ev.Payload, true
			}
		case <-deadline:
			return nil, false
		}
	}
}

func runEndToEnd(t *testing.T, transportName string, port int) {
	k := generateKey(t)
	cfg := testConfig(transportName)
	cfg.Port = port

	responder := newTestManager(t, cfg)
	_, err := responder.Connect(Responder, "127.0.0.1", 0, k)
	if port != 0 && err != nil {
		t.Skipf("port %d unavailable: %v", port, err)
	}
	require.NoError(t, err)

	initiator := newTestManager(t, cfg)
	_, err = initiator.Connect(Initiator, "127.0.0.1", listenPort(t, responder), k)
	require.NoError(t, err)

	waitManagerState(t, initiator, session.StateConnected)
	waitManagerState(t, responder, session.StateConnected)

	before := responder.Stats().FramesReceived
	require.NoError(t, initiator.Send([]byte("ping")))

	got, ok := awaitPayload(t, responder, 5*time.Second)
	require.True(t, ok, "responder never received the payload")
	assert.Equal(t, []byte("ping"), got)

	require.Eventually(t, func() bool { return initiator.Stats().FramesSent == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, before+1, responder.Stats().FramesReceived)

	final := initiator.Disconnect()
	assert.Equal(t, "closed", final.State)
	assert.Equal(t, uint64(1), final.FramesSent)
	assert.NotEmpty(t, final.Events)
}

func TestEndToEndTCP(t *testing.T) { runEndToEnd(t, "tcp", 0) }

func TestEndToEndQUIC(t *testing.T) { runEndToEnd(t, "quic", 0) }

func TestEndToEndDefaultPort(t *testing.T) { runEndToEnd(t, "tcp", config.DefaultPort) }

func TestEndToEndKeyMismatch(t *testing.T) {
	cfg := testConfig("tcp")
	responder := newTestManager(t, cfg)
	_, err := responder.Connect(Responder, "", 0, generateKey(t))
	require.NoError(t, err)

	initiator := newTestManager(t, cfg)
	_, err = initiator.Connect(Initiator, "127.0.0.1", listenPort(t, responder), generateKey(t))
	require.NoError(t, err)

	waitManagerState(t, initiator, session.StateFailed)
	waitManagerState(t, responder, session.StateFailed)
	assert.ErrorIs(t, initiator.Err(), session.ErrKeyMismatch)
	assert.ErrorIs(t, responder.Err(), session.ErrKeyMismatch)

	assert.ErrorIs(t, initiator.Send([]byte("ping")), session.ErrNotConnected)
	_, delivered := awaitPayload(t, responder, 200*time.Millisecond)
	assert.False(t, delivered)
	assert.Zero(t, responder.Stats().FramesReceived)
	assert.Contains(t, responder.Stats().LastError, "key mismatch")
}

func TestConnectIsIdempotent(t *testing.T) {
	k := generateKey(t)
	cfg := testConfig("tcp")
	responder := newTestManager(t, cfg)
	_, err := responder.Connect(Responder, "", 0, k)
	require.NoError(t, err)
	addr := responder.ListenAddr()
	id := responder.Stats().SessionID

	initiator := newTestManager(t, cfg)
	_, err = initiator.Connect(Initiator, "127.0.0.1", listenPort(t, responder), k)
	require.NoError(t, err)
	waitManagerState(t, responder, session.StateConnected)

	st, err := responder.Connect(Responder, "", 0, k)
	require.NoError(t, err)
	assert.Equal(t, session.StateConnected, st)
	assert.Equal(t, addr, responder.ListenAddr())
	assert.Equal(t, id, responder.Stats().SessionID)
}

func TestReconnectCreatesNewSession(t *testing.T) {
	k := generateKey(t)
	cfg := testConfig("tcp")
	m := newTestManager(t, cfg)

	_, err := m.Connect(Responder, "", 0, k)
	require.NoError(t, err)
	first := m.Stats().SessionID
	m.Disconnect()
	assert.Equal(t, session.StateClosed, m.State())

	_, err = m.Connect(Responder, "", 0, key.Key{})
	require.NoError(t, err)
	assert.NotEqual(t, first, m.Stats().SessionID)
}

func zeroKey() key.Key { return key.Key{} }

func TestSendWhileIdle(t *testing.T) {
	m := newTestManager(t, testConfig("tcp"))
	assert.ErrorIs(t, m.Send([]byte("x")), session.ErrNotConnected)
	assert.Equal(t, session.StateIdle, m.State())
	assert.Equal(t, "idle", m.Stats().State)
}

func TestConnectWithoutKey(t *testing.T) {
	m := newTestManager(t, testConfig("tcp"))
	_, err := m.Connect(Responder, "", 0, key.Key{})
	assert.ErrorIs(t, err, ErrNoKey)
	_, err = m.Connect(Initiator, "", 1, generateKey(t))
	assert.ErrorIs(t, err, ErrNoPeer)
}

func TestSetKeyOnlyWhileIdle(t *testing.T) {
	m := newTestManager(t, testConfig("tcp"))
	k1, k2 := generateKey(t), generateKey(t)

	require.NoError(t, m.SetKey(k1))
	fp, ok := m.Fingerprint()
	require.True(t, ok)
	assert.Equal(t, k1.Fingerprint(), fp)
	assert.ErrorIs(t, m.SetKey(key.Key{}), key.ErrInvalidKeyLength)

	_, err := m.Connect(Responder, "", 0, key.Key{})
	require.NoError(t, err)
	assert.ErrorIs(t, m.SetKey(k2), ErrNotIdle)

	m.Abort()
	require.NoError(t, m.SetKey(k2))
	fp, _ = m.Fingerprint()
	assert.Equal(t, k2.Fingerprint(), fp)
}

func TestKeyFromConfig(t *testing.T) {
	k := generateKey(t)
	cfg := testConfig("tcp")
	cfg.Key = k.Hex()
	m := newTestManager(t, cfg)
	fp, ok := m.Fingerprint()
	require.True(t, ok)
	assert.Equal(t, k.Fingerprint(), fp)
}

func TestCloseIsIdempotent(t *testing.T) {
	m, err := NewManager(testConfig("tcp"), WithLogEntry(logrus.NewEntry(logging.Discard())))
	require.NoError(t, err)
	_, err = m.Connect(Responder, "", 0, generateKey(t))
	require.NoError(t, err)

	require.NoError(t, m.Close())
	require.NoError(t, m.Close())
	_, err = m.Connect(Responder, "", 0, generateKey(t))
	assert.ErrorIs(t, err, ErrClosed)
	for range m.Events() {
	}
}

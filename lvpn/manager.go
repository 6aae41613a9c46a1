package lvpn

import (
	"errors"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/samber/oops"
	"github.com/sirupsen/logrus"

	"github.com/sasukeuchiha14/lightweight-vpn/lvpn/config"
	"github.com/sasukeuchiha14/lightweight-vpn/lvpn/key"
	"github.com/sasukeuchiha14/lightweight-vpn/lvpn/session"
	"github.com/sasukeuchiha14/lightweight-vpn/lvpn/stats"
	"github.com/sasukeuchiha14/lightweight-vpn/lvpn/transport"
	"github.com/sasukeuchiha14/lightweight-vpn/lvpn/transport/quic"
	"github.com/sasukeuchiha14/lightweight-vpn/lvpn/transport/tcp"
)

var (
	ErrNotIdle = errors.New("lvpn: session active, disconnect first")
	ErrNoKey   = errors.New("lvpn: no key loaded")
	ErrNoPeer  = errors.New("lvpn: initiator needs a peer address")
	ErrClosed  = errors.New("lvpn: manager closed")
)

type (
	Role      = session.Role
	State     = session.State
	Event     = session.Event
	EventKind = session.EventKind
)

const (
	Initiator = session.RoleInitiator
	Responder = session.RoleResponder

	EventStateChanged = session.EventStateChanged
	EventPayload      = session.EventPayload
)

const managerEventBuffer = 128

// Manager dispatches connect, disconnect, send and stats commands against
// at most one active Session.
type Manager struct {
	cfg       config.Config
	transport transport.Transport
	log       *logrus.Entry

	mu         sync.Mutex
	key        key.Key
	sess       *session.Session
	listenAddr string
	closed     bool

	events chan Event
	quit   chan struct{}
	wg     sync.WaitGroup
}

type Option func(*Manager)

// WithTransport overrides the transport chosen by cfg.Transport.
func WithTransport(t transport.Transport) Option {
	return func(m *Manager) { m.transport = t }
}

func WithLogger(l *logrus.Logger) Option {
	return func(m *Manager) { m.log = logrus.NewEntry(l) }
}

func WithLogEntry(e *logrus.Entry) Option {
	return func(m *Manager) { m.log = e }
}

func NewManager(cfg config.Config, opts ...Option) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	k, err := cfg.ParsedKey()
	if err != nil {
		return nil, err
	}
	m := &Manager{
		cfg:    cfg,
		key:    k,
		events: make(chan Event, managerEventBuffer),
		quit:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.log == nil {
		m.log = logrus.NewEntry(logrus.StandardLogger())
	}
	m.log = m.log.WithField("component", "manager")
	if m.transport == nil {
		m.transport = newTransport(cfg)
	}
	return m, nil
}

func newTransport(cfg config.Config) transport.Transport {
	if cfg.Transport == "quic" {
		return quic.New(cfg.HeartbeatInterval, time.Duration(cfg.DeadPeerMultiplier)*cfg.HeartbeatInterval)
	}
	return tcp.New(cfg.HeartbeatInterval)
}

// Connect starts a session unless one is already connected or in progress,
// in which case it reports that session's state. A zero port means the
// configured port; a zero key means the key already loaded. For a responder
// peer is the bind address and may be empty.
func (m *Manager) Connect(role Role, peer string, port int, k key.Key) (State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return session.StateClosed, ErrClosed
	}
	if m.sess != nil && !m.sess.State().Terminal() {
		st := m.sess.State()
		m.log.WithField("state", st).Debug("connect ignored, session already running")
		return st, nil
	}

	if !k.IsZero() {
		m.key = k
	}
	if m.key.IsZero() {
		return session.StateIdle, ErrNoKey
	}
	if port == 0 {
		port = m.cfg.Port
	}
	opts := m.cfg.SessionOptions()
	log := m.log.WithField("transport", m.transport.Name())

	var (
		sess *session.Session
		err  error
	)
	switch role {
	case Responder:
		host := peer
		if host == "" {
			host = m.cfg.ListenAddress
		}
		ln, lerr := m.transport.Listen(net.JoinHostPort(host, strconv.Itoa(port)))
		if lerr != nil {
			return session.StateIdle, lerr
		}
		sess, err = session.NewResponder(ln, m.key, opts, log)
		if err != nil {
			_ = ln.Close()
			return session.StateIdle, err
		}
		m.listenAddr = ln.Addr().String()
	case Initiator:
		if peer == "" {
			return session.StateIdle, ErrNoPeer
		}
		sess, err = session.NewInitiator(m.transport, net.JoinHostPort(peer, strconv.Itoa(port)), m.key, opts, log)
		if err != nil {
			return session.StateIdle, err
		}
		m.listenAddr = ""
	default:
		return session.StateIdle, oops.In("lvpn").With("role", role).Errorf("unknown role")
	}

	m.sess = sess
	m.wg.Add(1)
	go m.forward(sess)
	if err := sess.Start(); err != nil {
		return sess.State(), err
	}
	m.log.WithFields(logrus.Fields{
		"session":     sess.ID(),
		"role":        role,
		"fingerprint": m.key.Fingerprint().String(),
	}).Info("session started")
	return sess.State(), nil
}

// forward relays one session's events. Payloads wait for the consumer;
// state changes are dropped if the consumer falls behind.
func (m *Manager) forward(s *session.Session) {
	defer m.wg.Done()
	for ev := range s.Events() {
		if ev.Kind == session.EventPayload {
			select {
			case m.events <- ev:
			case <-m.quit:
				for range s.Events() {
				}
				return
			}
			continue
		}
		select {
		case m.events <- ev:
		default:
		}
	}
}

func (m *Manager) current() *session.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sess
}

// Disconnect gracefully closes the active session and returns its final
// statistics. It is idempotent.
func (m *Manager) Disconnect() stats.Snapshot {
	s := m.current()
	if s == nil {
		return m.Stats()
	}
	s.Disconnect()
	return s.Stats()
}

// Abort closes the active session, discarding queued payloads.
func (m *Manager) Abort() stats.Snapshot {
	s := m.current()
	if s == nil {
		return m.Stats()
	}
	s.Abort()
	return s.Stats()
}

// Send queues payload on the active session. It fails with
// session.ErrNotConnected when there is none.
func (m *Manager) Send(payload []byte) error {
	s := m.current()
	if s == nil {
		return session.ErrNotConnected
	}
	return s.Send(payload)
}

func (m *Manager) Stats() stats.Snapshot {
	s := m.current()
	if s == nil {
		return stats.Snapshot{State: session.StateIdle.String()}
	}
	return s.Stats()
}

func (m *Manager) State() State {
	s := m.current()
	if s == nil {
		return session.StateIdle
	}
	return s.State()
}

// Err is the error that failed the most recent session.
func (m *Manager) Err() error {
	s := m.current()
	if s == nil {
		return nil
	}
	return s.Err()
}

// SetKey replaces the key. It is refused while a session is active.
func (m *Manager) SetKey(k key.Key) error {
	if k.IsZero() {
		return key.ErrInvalidKeyLength
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sess != nil && !m.sess.State().Terminal() {
		return ErrNotIdle
	}
	m.key = k
	m.log.WithField("fingerprint", k.Fingerprint().String()).Info("key loaded")
	return nil
}

// Fingerprint of the loaded key; false when no key is loaded.
func (m *Manager) Fingerprint() (key.Fingerprint, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.key.IsZero() {
		return key.Fingerprint{}, false
	}
	return m.key.Fingerprint(), true
}

// Events delivers state changes and inbound payloads from every session this
// manager starts. It is closed by Close.
func (m *Manager) Events() <-chan Event { return m.events }

// ListenAddr is the bound address of the responder session, if any.
func (m *Manager) ListenAddr() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.listenAddr
}

// Close aborts the active session and releases the manager.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	s := m.sess
	m.mu.Unlock()

	if s != nil {
		s.Abort()
	}
	close(m.quit)
	m.wg.Wait()
	close(m.events)
	return nil
}

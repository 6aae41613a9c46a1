package session

import (
	"bufio"
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/samber/oops"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/sasukeuchiha14/lightweight-vpn/lvpn/compress"
	"github.com/sasukeuchiha14/lightweight-vpn/lvpn/key"
	"github.com/sasukeuchiha14/lightweight-vpn/lvpn/protocol"
	"github.com/sasukeuchiha14/lightweight-vpn/lvpn/stats"
	"github.com/sasukeuchiha14/lightweight-vpn/lvpn/transport"
)

const (
	eventBuffer = 64
	// closeGrace bounds how long Disconnect waits after the hard stop.
	closeGrace = time.Second
	// acceptRetryPause throttles a responder whose Accept keeps failing.
	acceptRetryPause = 100 * time.Millisecond
)

// EventKind tells a state change apart from an inbound payload.
type EventKind int

const (
	EventStateChanged EventKind = iota + 1
	EventPayload
)

// Event is pushed on the Events channel. State events are best effort and
// dropped when the channel is full; payloads are never dropped.
type Event struct {
	Kind      EventKind
	SessionID string
	State     State
	Err       error
	Payload   []byte
}

// Session is one logical tunnel: it obtains a connection, authenticates the
// peer by key fingerprint, pumps frames, and reconnects per policy until it
// is closed or fails.
type Session struct {
	id       string
	role     Role
	key      key.Key
	opts     Options
	dialer   transport.Dialer
	listener transport.Listener
	codec    *protocol.Codec
	queue    *Queue
	stats    *stats.Recorder
	log      *logrus.Entry

	mu            sync.Mutex
	state         State
	peer          string
	started       bool
	everConnected bool
	lastErr       error
	eventsClosed  bool

	events chan Event
	wake   chan struct{}
	done   chan struct{}

	// ctx is the hard stop; stopCtx, its child, asks the loop to wind down.
	ctx        context.Context
	cancel     context.CancelFunc
	stopCtx    context.Context
	stopCancel context.CancelFunc
	closeOnce  sync.Once

	// delivering is set while the reader waits for the consumer to take a
	// payload; inbound silence is not counted against the peer meanwhile.
	delivering atomic.Bool
}

// NewInitiator returns a session that dials addr through d.
func NewInitiator(d transport.Dialer, addr string, k key.Key, opts Options, log *logrus.Entry) (*Session, error) {
	if d == nil {
		return nil, oops.In("session").Errorf("initiator needs a dialer")
	}
	s, err := newSession(RoleInitiator, k, opts, log)
	if err != nil {
		return nil, err
	}
	s.dialer = d
	s.peer = addr
	s.log = s.log.WithField("peer", addr)
	return s, nil
}

// NewResponder returns a session that accepts peers on ln. The session owns
// ln and closes it when it ends.
func NewResponder(ln transport.Listener, k key.Key, opts Options, log *logrus.Entry) (*Session, error) {
	if ln == nil {
		return nil, oops.In("session").Errorf("responder needs a listener")
	}
	s, err := newSession(RoleResponder, k, opts, log)
	if err != nil {
		return nil, err
	}
	s.listener = ln
	s.peer = ln.Addr().String()
	s.log = s.log.WithField("listen", s.peer)
	return s, nil
}

func newSession(role Role, k key.Key, opts Options, log *logrus.Entry) (*Session, error) {
	codec, err := protocol.NewCodec(k)
	if err != nil {
		return nil, oops.In("session").Wrapf(err, "load key")
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	opts = opts.withDefaults()
	id := uuid.NewString()
	log = log.WithFields(logrus.Fields{
		"session": id[:8],
		"role":    role.String(),
	})

	ctx, cancel := context.WithCancel(context.Background())
	stopCtx, stopCancel := context.WithCancel(ctx)
	return &Session{
		id:         id,
		role:       role,
		key:        k,
		opts:       opts,
		codec:      codec,
		queue:      NewQueue(opts.QueueCapacity),
		stats:      stats.NewRecorder(opts.EventLogCapacity, log),
		log:        log,
		state:      StateIdle,
		events:     make(chan Event, eventBuffer),
		wake:       make(chan struct{}, 1),
		done:       make(chan struct{}),
		ctx:        ctx,
		cancel:     cancel,
		stopCtx:    stopCtx,
		stopCancel: stopCancel,
	}, nil
}

// ID is a fresh UUID for every session.
func (s *Session) ID() string { return s.id }

// Role reports whether the session dials or accepts.
func (s *Session) Role() Role { return s.role }

// Events delivers state changes and inbound payloads. It is closed when the
// session ends. Payload delivery blocks the reader, so it must be drained.
func (s *Session) Events() <-chan Event { return s.events }

// Done is closed once the session reached Closed or Failed.
func (s *Session) Done() <-chan struct{} { return s.done }

// State is the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Err returns the error that failed the session, if any.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// Peer is the dial address, or the address of the last accepted peer.
func (s *Session) Peer() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.peer
}

// Stats returns a copy of the counters and recent events.
func (s *Session) Stats() stats.Snapshot {
	snap := s.stats.Snapshot()
	snap.SessionID = s.id
	snap.Role = s.role.String()
	snap.QueueLength = s.queue.Len()
	s.mu.Lock()
	snap.State = s.state.String()
	snap.Peer = s.peer
	s.mu.Unlock()
	return snap
}

// MaxPayload is the largest payload Send accepts.
func (s *Session) MaxPayload() int {
	if s.opts.Compression {
		return protocol.MaxPayload - compress.Overhead
	}
	return protocol.MaxPayload
}

// Start launches the session loop.
func (s *Session) Start() error {
	s.mu.Lock()
	if s.started || s.state != StateIdle {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	s.started = true
	s.mu.Unlock()

	go s.run()
	return nil
}

// Send queues payload for delivery in FIFO order. It never blocks: it
// returns ErrQueueFull when the queue is at capacity. Payloads are accepted
// while connected, and while reconnecting once a connection has existed.
func (s *Session) Send(payload []byte) error {
	if len(payload) == 0 {
		return ErrEmptyPayload
	}
	if len(payload) > s.MaxPayload() {
		return oops.In("session").With("size", len(payload)).Wrapf(protocol.ErrFrameTooLarge, "send")
	}

	s.mu.Lock()
	st, ever := s.state, s.everConnected
	s.mu.Unlock()
	switch {
	case st == StateConnected:
	case ever && (st == StateReconnecting || st == StateConnecting || st == StateAuthenticating):
	default:
		return ErrNotConnected
	}

	p := make([]byte, len(payload))
	copy(p, payload)
	if err := s.queue.Push(p); err != nil {
		return err
	}
	select {
	case s.wake <- struct{}{}:
	default:
	}
	return nil
}

// Disconnect drains queued payloads for up to DrainTimeout, then closes.
// It is idempotent and returns within a bounded time.
func (s *Session) Disconnect() { s.shutdown(true) }

// Abort discards queued payloads and closes immediately.
func (s *Session) Abort() { s.shutdown(false) }

func (s *Session) shutdown(graceful bool) {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		started := s.started
		s.started = true
		s.mu.Unlock()

		if !s.setState(StateClosing) {
			// Already failed: only release what is left.
			s.stopCancel()
			s.cancel()
			return
		}
		s.stats.Record(stats.EventInfo, "disconnect requested (graceful=%t)", graceful)

		if !graceful {
			if n := s.queue.Clear(); n > 0 {
				s.stats.Dropped(n)
				s.stats.Record(stats.EventInfo, "discarded %d queued payloads", n)
			}
			s.cancel()
		}
		s.stopCancel()

		if !started {
			s.finish()
			close(s.done)
			return
		}

		if graceful {
			drain := time.AfterFunc(s.opts.DrainTimeout, s.cancel)
			defer drain.Stop()
		}
		wait := closeGrace
		if graceful {
			wait += s.opts.DrainTimeout
		}
		select {
		case <-s.done:
		case <-time.After(wait):
			s.log.Warn("session loop did not stop in time, forcing closed")
			s.cancel()
			s.setState(StateClosed)
		}
	})
	<-s.doneOrTimeout()
}

// doneOrTimeout lets repeated Disconnect calls return promptly even if the
// first one gave up waiting.
func (s *Session) doneOrTimeout() <-chan struct{} {
	if s.State().Terminal() {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return s.done
}

// setState applies a transition if the lifecycle allows it.
func (s *Session) setState(to State) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	from := s.state
	if from == to {
		return true
	}
	if !CanTransition(from, to) {
		s.log.WithFields(logrus.Fields{"from": from, "to": to}).Debug("ignoring state transition")
		return false
	}
	s.state = to
	if to == StateConnected {
		s.everConnected = true
	}
	s.log.WithFields(logrus.Fields{"from": from, "to": to}).Info("state transition")
	if s.opts.OnStateChange != nil {
		s.opts.OnStateChange(from, to)
	}
	if !s.eventsClosed {
		ev := Event{Kind: EventStateChanged, SessionID: s.id, State: to}
		if to == StateFailed {
			ev.Err = s.lastErr
		}
		select {
		case s.events <- ev:
		default:
		}
	}
	return true
}

func (s *Session) fail(err error) {
	s.mu.Lock()
	s.lastErr = err
	s.mu.Unlock()
	s.stats.SetLastError(err)
	if errors.Is(err, ErrKeyMismatch) {
		s.stats.Record(stats.EventKeyMismatch, "key mismatch: %v", err)
	} else {
		s.stats.Record(stats.EventError, "giving up: %v", err)
	}
	s.setState(StateFailed)
}

func (s *Session) stopping() bool { return s.stopCtx.Err() != nil }

func (s *Session) run() {
	defer close(s.done)
	defer s.finish()

	attempt := 0
	for {
		if s.stopping() || !s.setState(StateConnecting) {
			return
		}

		conn, err := s.connect()
		if err != nil {
			if s.stopping() {
				return
			}
			if s.role == RoleResponder {
				if !s.acceptFailed(err) {
					return
				}
				continue
			}
			s.stats.Record(stats.EventError, "connect to %s failed: %v", s.Peer(), err)
			if !s.retry(&attempt, err) {
				return
			}
			continue
		}

		if !s.setState(StateAuthenticating) {
			_ = conn.Close()
			return
		}
		res, err := s.authenticate(conn)
		if err != nil {
			_ = conn.Close()
			if s.stopping() {
				return
			}
			if IsFatalConfig(err) {
				s.fail(err)
				return
			}
			s.stats.Record(stats.EventError, "handshake failed: %v", err)
			if !s.lost(&attempt, err) {
				return
			}
			continue
		}

		attempt = 0
		if !s.setState(StateConnected) {
			_ = conn.Close()
			return
		}
		s.stats.Record(stats.EventConnect, "tunnel established with %s", s.Peer())
		err = s.serve(conn, res.Compression)
		if s.stopping() {
			return
		}
		if errors.Is(err, errPeerClosed) {
			s.stats.Record(stats.EventInfo, "connection closed by peer")
		} else {
			s.stats.Record(stats.EventError, "connection lost: %v", err)
		}
		if !s.lost(&attempt, err) {
			return
		}
	}
}

func (s *Session) connect() (transport.Conn, error) {
	ctx, cancel := context.WithTimeout(s.stopCtx, s.opts.ConnectTimeout)
	defer cancel()

	if s.role == RoleInitiator {
		s.stats.Record(stats.EventConnect, "connecting to %s", s.peer)
		conn, err := s.dialer.Dial(ctx, s.peer)
		if err != nil {
			return nil, transport.Classify(err)
		}
		return conn, nil
	}

	conn, err := s.listener.Accept(ctx)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.peer = conn.RemoteAddr().String()
	s.mu.Unlock()
	s.stats.Record(stats.EventConnect, "connection accepted from %s", conn.RemoteAddr())
	return conn, nil
}

// acceptFailed keeps a responder listening through timeouts and transient
// accept errors.
func (s *Session) acceptFailed(err error) bool {
	switch {
	case errors.Is(err, transport.ErrConnectTimeout):
		s.log.Debug("no peer yet, still listening")
		return true
	case errors.Is(err, transport.ErrListenerClosed):
		s.fail(err)
		return false
	}
	s.log.WithError(err).Warn("accept failed")
	select {
	case <-time.After(acceptRetryPause):
		return true
	case <-s.stopCtx.Done():
		return false
	}
}

// lost handles a connection that ended after it was obtained. A responder
// goes back to listening; an initiator redials with backoff.
func (s *Session) lost(attempt *int, cause error) bool {
	if s.role == RoleResponder {
		if !s.setState(StateReconnecting) {
			return false
		}
		s.stats.ReconnectAttempt()
		s.stats.Record(stats.EventReconnect, "waiting for peer to reconnect")
		return true
	}
	return s.retry(attempt, cause)
}

// retry waits out the backoff for the next dial, or fails the session once
// the attempt ceiling is reached.
func (s *Session) retry(attempt *int, cause error) bool {
	if !s.setState(StateReconnecting) {
		return false
	}
	if *attempt >= s.opts.MaxReconnectAttempts {
		s.fail(oops.
			In("session").
			With("attempts", *attempt).
			Wrapf(cause, "giving up after %d reconnect attempts", *attempt))
		return false
	}
	*attempt++
	s.stats.ReconnectAttempt()
	delay := Backoff(s.opts.BackoffBase, s.opts.BackoffMax, *attempt)
	s.stats.Record(stats.EventReconnect, "reconnect attempt %d/%d in %s", *attempt, s.opts.MaxReconnectAttempts, delay)

	t := time.NewTimer(delay)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-s.stopCtx.Done():
		return false
	}
}

func (s *Session) authenticate(conn transport.Conn) (HandshakeResult, error) {
	stop := context.AfterFunc(s.stopCtx, func() { _ = conn.Close() })
	defer stop()

	_ = conn.SetDeadline(time.Now().Add(s.opts.HandshakeTimeout))
	defer func() { _ = conn.SetDeadline(time.Time{}) }()

	opts := HandshakeOptions{Compression: s.opts.Compression}
	if s.role == RoleInitiator {
		return HandshakeInitiator(conn, s.key, opts)
	}
	return HandshakeResponder(conn, s.key, opts)
}

// serve runs the steady state until the connection fails or the session
// stops. The reader and the writer share one errgroup; the first to fail
// cancels the other by closing the connection.
func (s *Session) serve(conn transport.Conn, compressed bool) error {
	g, ctx := errgroup.WithContext(s.ctx)
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	s.stats.Touch()
	g.Go(func() error { return s.readLoop(ctx, conn, compressed) })
	g.Go(func() error { return s.writeLoop(ctx, conn, compressed) })

	err := g.Wait()
	_ = conn.Close()
	return err
}

func (s *Session) readLoop(ctx context.Context, conn transport.Conn, compressed bool) error {
	r := bufio.NewReader(conn)
	for {
		f, err := protocol.ReadFrame(r)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, io.EOF) {
				return errPeerClosed
			}
			return err
		}
		payload, err := s.codec.Open(f)
		if err != nil {
			return oops.In("session").With("frame_len", f.Len()).Wrapf(err, "inbound frame")
		}
		if protocol.KindOf(payload) == protocol.KindHeartbeat {
			s.stats.HeartbeatReceived()
			continue
		}
		if compressed {
			payload, err = compress.Unpack(payload, protocol.MaxPayload)
			if err != nil {
				return oops.In("session").Wrapf(protocol.ErrMalformedFrame, "unpack payload: %v", err)
			}
		}
		s.stats.FrameReceived(f.WireSize())
		s.stats.Record(stats.EventReceive, "received message (%d bytes)", len(payload))

		if err := s.deliver(ctx, payload); err != nil {
			return err
		}
	}
}

// deliver hands payload to the consumer. A slow consumer stalls the reader
// but is not mistaken for a dead peer.
func (s *Session) deliver(ctx context.Context, payload []byte) error {
	s.delivering.Store(true)
	defer func() {
		s.stats.Touch()
		s.delivering.Store(false)
	}()
	select {
	case s.events <- Event{Kind: EventPayload, SessionID: s.id, Payload: payload}:
		return nil
	case <-ctx.Done():
		s.stats.Dropped(1)
		s.stats.Record(stats.EventError, "dropped inbound message (%d bytes): session stopping", len(payload))
		return ctx.Err()
	}
}

// writeLoop drains the queue, sends heartbeats when idle, and watches for
// inbound silence. Once a stop is requested it flushes what is queued and
// returns errStopped.
func (s *Session) writeLoop(ctx context.Context, conn transport.Conn, compressed bool) error {
	interval := s.opts.HeartbeatInterval
	ticker := time.NewTicker(interval / 2)
	defer ticker.Stop()
	lastSent := time.Now()

	for {
		if err := s.flush(conn, compressed, &lastSent); err != nil {
			return err
		}
		if s.stopping() {
			return errStopped
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.stopCtx.Done():
		case <-s.wake:
		case now := <-ticker.C:
			if silent := now.Sub(s.stats.LastActivity()); !s.delivering.Load() && silent >= s.opts.deadPeerAfter() {
				return oops.In("session").With("silent_for", silent.String()).Wrapf(ErrPeerUnreachable, "no inbound traffic")
			}
			if now.Sub(lastSent) >= interval {
				if err := s.heartbeat(conn); err != nil {
					return err
				}
				lastSent = now
			}
		}
	}
}

func (s *Session) flush(conn transport.Conn, compressed bool, lastSent *time.Time) error {
	for {
		p, ok := s.queue.Peek()
		if !ok {
			return nil
		}
		wire := p
		if compressed {
			wire = compress.Pack(p, compress.LevelDefault)
		}
		f, err := s.codec.Encode(wire)
		if err != nil {
			s.queue.Pop()
			s.stats.Dropped(1)
			s.stats.Record(stats.EventError, "dropping payload: %v", err)
			continue
		}
		s.stats.Record(stats.EventSend, "sending message (%d bytes)", len(p))
		if err := s.writeFrame(conn, f); err != nil {
			return err
		}
		s.queue.Pop()
		s.stats.FrameSent(f.WireSize())
		*lastSent = time.Now()
	}
}

func (s *Session) heartbeat(conn transport.Conn) error {
	f, err := s.codec.Encode(nil)
	if err != nil {
		return err
	}
	if err := s.writeFrame(conn, f); err != nil {
		return err
	}
	s.stats.HeartbeatSent()
	return nil
}

func (s *Session) writeFrame(conn transport.Conn, f protocol.Frame) error {
	_ = conn.SetWriteDeadline(time.Now().Add(s.opts.WriteTimeout))
	_, err := protocol.WriteFrame(conn, f)
	return err
}

// finish runs once when the loop exits.
func (s *Session) finish() {
	if n := s.queue.Clear(); n > 0 {
		s.stats.Dropped(n)
		s.stats.Record(stats.EventInfo, "discarded %d queued payloads", n)
	}
	if s.listener != nil {
		_ = s.listener.Close()
	}
	if s.State() != StateFailed {
		s.setState(StateClosing)
		s.setState(StateClosed)
	}
	snap := s.stats.Snapshot()
	s.log.WithFields(logrus.Fields{
		"frames_sent":     snap.FramesSent,
		"frames_received": snap.FramesReceived,
		"bytes_sent":      snap.BytesSent,
		"bytes_received":  snap.BytesReceived,
		"reconnects":      snap.ReconnectAttempts,
	}).Info("session ended")

	s.cancel()
	s.mu.Lock()
	s.eventsClosed = true
	close(s.events)
	s.mu.Unlock()
}

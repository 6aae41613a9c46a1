// Package stats aggregates per-session counters and a bounded log of recent
// events. Readers take copies, so a snapshot never blocks the session.
package stats

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

// DefaultEventCapacity is the number of events kept before the oldest is evicted.
const DefaultEventCapacity = 200

type EventKind string

const (
	EventState       EventKind = "state"
	EventConnect     EventKind = "connect"
	EventKeyMismatch EventKind = "key_mismatch"
	EventReconnect   EventKind = "reconnect"
	EventSend        EventKind = "send"
	EventReceive     EventKind = "receive"
	EventError       EventKind = "error"
	EventInfo        EventKind = "info"
)

type Event struct {
	Time    time.Time `json:"time" yaml:"time"`
	Kind    EventKind `json:"kind" yaml:"kind"`
	Message string    `json:"message" yaml:"message"`
}

func (e Event) String() string {
	return fmt.Sprintf("[%s] %s: %s", e.Time.Format("15:04:05"), e.Kind, e.Message)
}

// Snapshot is a point-in-time copy of a session's statistics.
type Snapshot struct {
	SessionID          string    `json:"session_id" yaml:"session_id"`
	Role               string    `json:"role" yaml:"role"`
	Peer               string    `json:"peer" yaml:"peer"`
	State              string    `json:"state" yaml:"state"`
	FramesSent         uint64    `json:"frames_sent" yaml:"frames_sent"`
	FramesReceived     uint64    `json:"frames_received" yaml:"frames_received"`
	BytesSent          uint64    `json:"bytes_sent" yaml:"bytes_sent"`
	BytesReceived      uint64    `json:"bytes_received" yaml:"bytes_received"`
	HeartbeatsSent     uint64    `json:"heartbeats_sent" yaml:"heartbeats_sent"`
	HeartbeatsReceived uint64    `json:"heartbeats_received" yaml:"heartbeats_received"`
	ReconnectAttempts  uint64    `json:"reconnect_attempts" yaml:"reconnect_attempts"`
	DroppedPayloads    uint64    `json:"dropped_payloads" yaml:"dropped_payloads"`
	QueueLength        int       `json:"queue_length" yaml:"queue_length"`
	LastActivity       time.Time `json:"last_activity" yaml:"last_activity"`
	LastError          string    `json:"last_error,omitempty" yaml:"last_error,omitempty"`
	Events             []Event   `json:"events,omitempty" yaml:"events,omitempty"`
}

// Recorder is safe for concurrent use.
type Recorder struct {
	framesSent         atomic.Uint64
	framesReceived     atomic.Uint64
	bytesSent          atomic.Uint64
	bytesReceived      atomic.Uint64
	heartbeatsSent     atomic.Uint64
	heartbeatsReceived atomic.Uint64
	reconnects         atomic.Uint64
	dropped            atomic.Uint64
	lastActivity       atomic.Int64

	mu      sync.RWMutex
	events  []Event
	start   int
	count   int
	lastErr string

	log *logrus.Entry
}

func NewRecorder(capacity int, log *logrus.Entry) *Recorder {
	if capacity <= 0 {
		capacity = DefaultEventCapacity
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Recorder{
		events: make([]Event, capacity),
		log:    log,
	}
}

func (r *Recorder) FrameSent(wireBytes int) {
	r.bytesSent.Add(uint64(wireBytes))
	r.framesSent.Add(1)
}

func (r *Recorder) FrameReceived(wireBytes int) {
	r.bytesReceived.Add(uint64(wireBytes))
	r.framesReceived.Add(1)
	r.Touch()
}

func (r *Recorder) HeartbeatSent() { r.heartbeatsSent.Add(1) }

func (r *Recorder) HeartbeatReceived() {
	r.heartbeatsReceived.Add(1)
	r.Touch()
}

func (r *Recorder) ReconnectAttempt() { r.reconnects.Add(1) }

func (r *Recorder) Dropped(n int) { r.dropped.Add(uint64(n)) }

// Touch marks inbound activity now.
func (r *Recorder) Touch() { r.lastActivity.Store(time.Now().UnixNano()) }

func (r *Recorder) LastActivity() time.Time {
	ns := r.lastActivity.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

// Record appends an event, evicting the oldest once the log is full, and
// mirrors it to the logger.
func (r *Recorder) Record(kind EventKind, format string, args ...any) {
	ev := Event{Time: time.Now(), Kind: kind, Message: fmt.Sprintf(format, args...)}

	r.mu.Lock()
	capacity := len(r.events)
	if r.count < capacity {
		r.events[(r.start+r.count)%capacity] = ev
		r.count++
	} else {
		r.events[r.start] = ev
		r.start = (r.start + 1) % capacity
	}
	r.mu.Unlock()

	entry := r.log.WithField("event", string(kind))
	switch kind {
	case EventSend, EventReceive:
		entry.Debug(ev.Message)
	case EventKeyMismatch, EventError:
		entry.Warn(ev.Message)
	default:
		entry.Info(ev.Message)
	}
}

func (r *Recorder) SetLastError(err error) {
	if err == nil {
		return
	}
	r.mu.Lock()
	r.lastErr = err.Error()
	r.mu.Unlock()
}

// Events returns the retained events, oldest first.
func (r *Recorder) Events() []Event {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.eventsLocked()
}

func (r *Recorder) eventsLocked() []Event {
	out := make([]Event, r.count)
	for i := 0; i < r.count; i++ {
		out[i] = r.events[(r.start+i)%len(r.events)]
	}
	return out
}

// Snapshot copies the counters and event log. Session identity fields are
// left for the owner to fill in.
func (r *Recorder) Snapshot() Snapshot {
	s := Snapshot{
		FramesSent:         r.framesSent.Load(),
		FramesReceived:     r.framesReceived.Load(),
		BytesSent:          r.bytesSent.Load(),
		BytesReceived:      r.bytesReceived.Load(),
		HeartbeatsSent:     r.heartbeatsSent.Load(),
		HeartbeatsReceived: r.heartbeatsReceived.Load(),
		ReconnectAttempts:  r.reconnects.Load(),
		DroppedPayloads:    r.dropped.Load(),
		LastActivity:       r.LastActivity(),
	}
	r.mu.RLock()
	s.LastError = r.lastErr
	s.Events = r.eventsLocked()
	r.mu.RUnlock()
	return s
}

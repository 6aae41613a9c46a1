package stats

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l).WithField("test", "stats")
}

func TestCountersAccumulate(t *testing.T) {
	r := NewRecorder(10, quietLogger())
	r.FrameSent(40)
	r.FrameSent(56)
	r.FrameReceived(40)
	r.HeartbeatSent()
	r.HeartbeatReceived()
	r.ReconnectAttempt()
	r.Dropped(3)

	s := r.Snapshot()
	assert.Equal(t, uint64(2), s.FramesSent)
	assert.Equal(t, uint64(96), s.BytesSent)
	assert.Equal(t, uint64(1), s.FramesReceived)
	assert.Equal(t, uint64(40), s.BytesReceived)
	assert.Equal(t, uint64(1), s.HeartbeatsSent)
	assert.Equal(t, uint64(1), s.HeartbeatsReceived)
	assert.Equal(t, uint64(1), s.ReconnectAttempts)
	assert.Equal(t, uint64(3), s.DroppedPayloads)
	assert.False(t, s.LastActivity.IsZero())
}

func TestEventLogEvictsOldestFirst(t *testing.T) {
	r := NewRecorder(DefaultEventCapacity, quietLogger())
	for i := 0; i < DefaultEventCapacity+50; i++ {
		r.Record(EventInfo, "event %d", i)
	}
	events := r.Events()
	require.Len(t, events, DefaultEventCapacity)
	assert.Equal(t, "event 50", events[0].Message)
	assert.Equal(t, fmt.Sprintf("event %d", DefaultEventCapacity+49), events[len(events)-1].Message)
}

func TestSnapshotIsACopy(t *testing.T) {
	r := NewRecorder(4, quietLogger())
	r.Record(EventConnect, "connecting")
	s := r.Snapshot()
	s.Events[0].Message = "changed"
	r.FrameSent(10)

	assert.Equal(t, "connecting", r.Events()[0].Message)
	assert.Equal(t, uint64(0), s.FramesSent)
}

func TestLastError(t *testing.T) {
	r := NewRecorder(4, quietLogger())
	r.SetLastError(nil)
	assert.Empty(t, r.Snapshot().LastError)
	r.SetLastError(errors.New("key mismatch"))
	assert.Equal(t, "key mismatch", r.Snapshot().LastError)
}

func TestConcurrentRecordAndSnapshot(t *testing.T) {
	r := NewRecorder(16, quietLogger())
	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				r.Record(EventSend, "sending message (%d bytes)", i)
				r.FrameSent(i)
				_ = r.Snapshot()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, uint64(2000), r.Snapshot().FramesSent)
	assert.Len(t, r.Events(), 16)
}

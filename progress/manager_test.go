package progress

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"copycat/throughput"
	"copycat/types"
)

const (
	waitFor = time.Second
	tick    = 5 * time.Millisecond
)

func (tm *testManager) waitState(t *testing.T, want State) {
	t.Helper()
	require.Eventually(t, func() bool { return tm.State() == want }, waitFor, tick, "state %s", want)
}

func (tm *testManager) waitPending(t *testing.T, d time.Duration, n int) []*fakeTimer {
	t.Helper()
	require.Eventually(t, func() bool { return len(tm.timers.Pending(d)) == n }, waitFor, tick)
	return tm.timers.Pending(d)
}

func TestAttachTwiceDialsOnce(t *testing.T) {
	tm := newTestManager(t)

	h1 := tm.Attach()
	h2 := tm.Attach()

	assert.Equal(t, 2, tm.Subscribers())
	assert.NotEqual(t, h1.ID, h2.ID)

	tm.waitState(t, Open)
	assert.Equal(t, 1, tm.dialer.Attempts())
	assert.Equal(t, int64(1), tm.Stats().DialAttempts)
}

func TestConnectIsIdempotent(t *testing.T) {
	tm := newTestManager(t)

	tm.Connect()
	tm.Connect()
	tm.waitState(t, Open)
	tm.Connect()

	assert.Equal(t, 1, tm.dialer.Attempts())
	assert.Equal(t, 0, tm.Subscribers())
}

func TestReleaseClosesAfterGrace(t *testing.T) {
	tm := newTestManager(t)

	h := tm.Attach()
	tm.waitState(t, Open)
	conn := tm.dialer.Last()

	h.Release()
	assert.Equal(t, 0, tm.Subscribers())
	assert.Equal(t, Open, tm.State(), "stream stays open during the grace window")

	grace := tm.waitPending(t, DefaultGraceDelay, 1)
	tm.timers.Fire(grace[0])

	tm.waitState(t, Disconnected)
	assert.True(t, conn.isClosed())
	assert.Empty(t, tm.timers.Pending(DefaultReconnectDelay), "no reconnect without subscribers")
}

func TestReattachWithinGraceKeepsConnection(t *testing.T) {
	tm := newTestManager(t)

	h := tm.Attach()
	tm.waitState(t, Open)
	conn := tm.dialer.Last()

	h.Release()
	grace := tm.waitPending(t, DefaultGraceDelay, 1)

	tm.Attach()
	assert.Empty(t, tm.timers.Pending(DefaultGraceDelay), "attach cancels the grace timer")

	// a grace timer that fires after being superseded is ignored
	tm.timers.Fire(grace[0])

	assert.Never(t, func() bool { return tm.State() != Open }, 100*time.Millisecond, tick)
	assert.False(t, conn.isClosed())
	assert.Equal(t, 1, tm.dialer.Attempts())
	assert.Equal(t, 1, tm.Subscribers())
}

func TestDisconnectIgnoredWhileAttached(t *testing.T) {
	tm := newTestManager(t)

	tm.Attach()
	tm.waitState(t, Open)

	tm.Disconnect()

	assert.Equal(t, Open, tm.State())
	assert.False(t, tm.dialer.Last().isClosed())
}

func TestDisconnectWithoutObservers(t *testing.T) {
	tm := newTestManager(t)

	tm.Connect()
	tm.waitState(t, Open)

	tm.Disconnect()

	assert.Equal(t, Disconnected, tm.State())
	assert.True(t, tm.dialer.Last().isClosed())
}

func TestReconnectAfterTransportClose(t *testing.T) {
	tm := newTestManager(t)

	tm.Attach()
	tm.waitState(t, Open)

	// server side close
	tm.dialer.Last().Close()

	tm.waitState(t, Disconnected)
	reconnect := tm.waitPending(t, DefaultReconnectDelay, 1)
	assert.Equal(t, io.EOF.Error(), tm.Stats().LastError)

	tm.timers.Fire(reconnect[0])

	tm.waitState(t, Open)
	assert.Equal(t, 2, tm.dialer.Attempts())
	assert.Equal(t, int64(1), tm.Stats().Reconnects)
}

func TestDialFailureSchedulesReconnect(t *testing.T) {
	tm := newTestManager(t)
	tm.dialer.SetErr(errors.New("connection refused"))

	tm.Attach()

	reconnect := tm.waitPending(t, DefaultReconnectDelay, 1)
	assert.Equal(t, Disconnected, tm.State())
	assert.Contains(t, tm.Stats().LastError, "connection refused")

	tm.dialer.SetErr(nil)
	tm.timers.Fire(reconnect[0])

	tm.waitState(t, Open)
	assert.Equal(t, 2, tm.dialer.Attempts())
}

func TestSingleReconnectTimer(t *testing.T) {
	timers := &fakeTimers{}
	m := NewManager(Options{URL: "ws://copycat.test/ws/progress", Dialer: &fakeDialer{}})
	m.afterFunc = timers.AfterFunc
	m.subs = 1

	m.onClosed(io.EOF)
	m.onClosed(io.ErrUnexpectedEOF)

	assert.Len(t, timers.Pending(DefaultReconnectDelay), 1)
	assert.Len(t, timers.timers, 2, "the first timer was replaced, not kept")
}

func TestReconnectTimerIgnoredAfterLastObserverLeft(t *testing.T) {
	tm := newTestManager(t)

	h := tm.Attach()
	tm.waitState(t, Open)
	tm.dialer.Last().Close()
	reconnect := tm.waitPending(t, DefaultReconnectDelay, 1)

	h.Release()
	grace := tm.waitPending(t, DefaultGraceDelay, 1)
	tm.timers.Fire(grace[0])

	require.Eventually(t, func() bool { return len(tm.timers.Pending(DefaultReconnectDelay)) == 0 }, waitFor, tick)

	tm.timers.Fire(reconnect[0])
	assert.Never(t, func() bool { return tm.dialer.Attempts() > 1 }, 100*time.Millisecond, tick)
}

func TestMalformedFrameIsDropped(t *testing.T) {
	tm := newTestManager(t)

	tm.Attach()
	tm.waitState(t, Open)
	conn := tm.dialer.Last()

	conn.send(t, `{"job_id":7,"status":"processing"}`)
	conn.send(t, `{"job_id":7,"status":"processing","progress_percent":50,"copied_size_bytes":50,"total_size_bytes":100}`)

	require.Eventually(t, func() bool {
		_, ok := tm.Latest(7)
		return ok
	}, waitFor, tick)

	stats := tm.Stats()
	assert.Equal(t, int64(2), stats.FramesReceived)
	assert.Equal(t, int64(1), stats.FramesDropped)
	assert.Equal(t, Open, tm.State())
}

func TestLatestKeepsMostRecentEvent(t *testing.T) {
	tm := newTestManager(t)

	tm.Attach()
	tm.waitState(t, Open)
	conn := tm.dialer.Last()

	conn.send(t, `{"job_id":2,"status":"queued","progress_percent":0,"copied_size_bytes":0,"total_size_bytes":10}`)
	conn.send(t, `{"job_id":1,"status":"processing","progress_percent":10,"copied_size_bytes":1,"total_size_bytes":10}`)
	conn.send(t, `{"job_id":1,"status":"completed","progress_percent":100,"copied_size_bytes":10,"total_size_bytes":10}`)

	require.Eventually(t, func() bool {
		ev, ok := tm.Latest(1)
		return ok && ev.Status == types.JobStatusCompleted
	}, waitFor, tick)

	snap := tm.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, int64(1), snap[0].JobID)
	assert.Equal(t, int64(2), snap[1].JobID)
	assert.Equal(t, throughput.ETAUnknown, tm.ETA(1).Kind)
	assert.Equal(t, throughput.ETAUnknown, tm.ETA(404).Kind)
}

func TestJobProgressEndToEnd(t *testing.T) {
	tm := newTestManager(t)

	tm.Attach()
	tm.waitState(t, Open)
	conn := tm.dialer.Last()

	frames := []struct {
		copied  int64
		percent int
	}{
		{0, 0},
		{2_000_000, 20},
		{4_000_000, 40},
	}

	for i, f := range frames {
		if i > 0 {
			tm.clock.Advance(time.Second)
		}
		conn.send(t, frameJSON(42, f.percent, f.copied, 10_000_000))
		require.Eventually(t, func() bool {
			ev, ok := tm.Latest(42)
			return ok && ev.CopiedBytes == f.copied
		}, waitFor, tick)
	}

	assert.InDelta(t, 2_000_000, tm.Rate(42), 0.001)

	eta := tm.ETA(42)
	require.Equal(t, throughput.ETARemaining, eta.Kind)
	assert.InDelta(t, 3, eta.Remaining.Seconds(), 0.001)
	assert.Equal(t, "~3s", eta.String())
}

func TestAttachContextReleasesOnCancel(t *testing.T) {
	tm := newTestManager(t)

	ctx, cancel := context.WithCancel(context.Background())
	tm.AttachContext(ctx)
	assert.Equal(t, 1, tm.Subscribers())

	cancel()

	require.Eventually(t, func() bool { return tm.Subscribers() == 0 }, waitFor, tick)
}

func TestReleaseIsIdempotent(t *testing.T) {
	tm := newTestManager(t)

	h1 := tm.Attach()
	tm.Attach()

	h1.Release()
	h1.Release()

	assert.Equal(t, 1, tm.Subscribers())
	assert.Same(t, tm.Manager, h1.Manager())
}

func TestRunShutdownClosesStream(t *testing.T) {
	dialer := &fakeDialer{}
	m := NewManager(Options{URL: "ws://copycat.test/ws/progress", Dialer: dialer})

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		m.Run(ctx)
		close(stopped)
	}()

	m.Attach()
	require.Eventually(t, func() bool { return m.State() == Open }, waitFor, tick)

	cancel()
	<-stopped

	assert.Equal(t, Disconnected, m.State())
	assert.True(t, dialer.Last().isClosed())

	// requests after shutdown return immediately
	h := m.Attach()
	h.Release()
}

func frameJSON(jobID int64, percent int, copied, total int64) string {
	ev := types.ProgressEvent{
		JobID:           jobID,
		Status:          types.JobStatusProcessing,
		ProgressPercent: float64(percent),
		CopiedBytes:     copied,
		TotalBytes:      total,
	}
	b, err := json.Marshal(ev)
	if err != nil {
		panic(err)
	}
	return string(b)
}

package progress

import (
	"context"
	"errors"
	"io"
	"net"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// Stats is a JSON-friendly view of the stream telemetry
type Stats struct {
	State          string    `json:"state"`
	Subscribers    int       `json:"subscribers"`
	DialAttempts   int64     `json:"dial_attempts"`
	Reconnects     int64     `json:"reconnects"`
	FramesReceived int64     `json:"frames_received"`
	FramesDropped  int64     `json:"frames_dropped"`
	LastError      string    `json:"last_error,omitempty"`
	ConnectedAt    time.Time `json:"connected_at"`
}

// streamStats tracks telemetry across reconnects
type streamStats struct {
	dialAttempts   atomic.Int64
	reconnects     atomic.Int64
	framesReceived atomic.Int64
	framesDropped  atomic.Int64
	connectedAtNs  atomic.Int64
	lastError      atomic.Value // string
}

func newStreamStats() *streamStats {
	s := &streamStats{}
	s.lastError.Store("")
	return s
}

func (s *streamStats) onDial()      { s.dialAttempts.Add(1) }
func (s *streamStats) onReconnect() { s.reconnects.Add(1) }
func (s *streamStats) onFrame()     { s.framesReceived.Add(1) }
func (s *streamStats) onDrop()      { s.framesDropped.Add(1) }

func (s *streamStats) onConnected(at time.Time) {
	s.connectedAtNs.Store(at.UnixNano())
}

func (s *streamStats) setLastError(err error) {
	if err == nil {
		return
	}
	s.lastError.Store(err.Error())
}

func (s *streamStats) snapshot(state State, subscribers int) Stats {
	st := Stats{
		State:          state.String(),
		Subscribers:    subscribers,
		DialAttempts:   s.dialAttempts.Load(),
		Reconnects:     s.reconnects.Load(),
		FramesReceived: s.framesReceived.Load(),
		FramesDropped:  s.framesDropped.Load(),
		LastError:      s.lastError.Load().(string),
	}
	if ns := s.connectedAtNs.Load(); ns != 0 {
		st.ConnectedAt = time.Unix(0, ns)
	}
	return st
}

func isExpectedCloseError(err error) bool {
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		return true
	}
	return errors.Is(err, io.EOF) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, net.ErrClosed)
}

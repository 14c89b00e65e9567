// Package progress keeps one shared connection to the server's progress
// stream alive for as long as at least one observer needs it, and maintains
// the latest known state of every job seen on it.
package progress

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"copycat/throughput"
	"copycat/types"
)

const (
	DefaultReconnectDelay   = 3 * time.Second
	DefaultGraceDelay       = 100 * time.Millisecond
	DefaultHandshakeTimeout = 10 * time.Second

	readBufferSize = 256
)

// State is the connection state of the stream
type State int32

const (
	Disconnected State = iota
	Connecting
	Open
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Open:
		return "open"
	}
	return "unknown"
}

// Options configures a Manager. URL is required.
type Options struct {
	URL              string
	ReconnectDelay   time.Duration
	GraceDelay       time.Duration
	HandshakeTimeout time.Duration
	Dialer           Dialer
	Estimator        *throughput.Estimator
	Now              func() time.Time
}

type timer interface {
	Stop() bool
}

type timerKind int

const (
	reconnectTimer timerKind = iota
	graceTimer
)

type timerFired struct {
	kind timerKind
	seq  uint64
}

type dialResult struct {
	gen  uint64
	conn Conn
	err  error
}

// readResult is either a frame or, when err is set, the end of a connection
type readResult struct {
	gen  uint64
	data []byte
	err  error
}

// Manager owns the progress stream. All state changes happen on the
// goroutine running Run; the public methods only post requests to it or
// read the table and estimator.
type Manager struct {
	url              string
	reconnectDelay   time.Duration
	graceDelay       time.Duration
	handshakeTimeout time.Duration
	dialer           Dialer
	estimator        *throughput.Estimator
	table            *Table
	stats            *streamStats
	now              func() time.Time
	afterFunc        func(time.Duration, func()) timer

	state       atomic.Int32
	subscribers atomic.Int64

	attachCh     chan chan struct{}
	detachCh     chan chan struct{}
	connectCh    chan chan struct{}
	disconnectCh chan chan struct{}
	dialed       chan dialResult
	reads        chan readResult
	fired        chan timerFired
	done         chan struct{}

	// owned by the Run goroutine
	ctx          context.Context
	subs         int
	conn         Conn
	cancelDial   context.CancelFunc
	gen          uint64
	reconnect    timer
	reconnectSeq uint64
	grace        timer
	graceSeq     uint64
}

// NewManager creates a manager. Nothing is dialed until an observer attaches
// and Run is running.
func NewManager(opts Options) *Manager {
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = DefaultReconnectDelay
	}
	if opts.GraceDelay <= 0 {
		opts.GraceDelay = DefaultGraceDelay
	}
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if opts.Dialer == nil {
		opts.Dialer = &WebsocketDialer{HandshakeTimeout: opts.HandshakeTimeout}
	}
	if opts.Estimator == nil {
		opts.Estimator = throughput.NewEstimator()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Manager{
		url:              opts.URL,
		reconnectDelay:   opts.ReconnectDelay,
		graceDelay:       opts.GraceDelay,
		handshakeTimeout: opts.HandshakeTimeout,
		dialer:           opts.Dialer,
		estimator:        opts.Estimator,
		table:            NewTable(),
		stats:            newStreamStats(),
		now:              opts.Now,
		afterFunc: func(d time.Duration, f func()) timer {
			return time.AfterFunc(d, f)
		},
		attachCh:     make(chan chan struct{}),
		detachCh:     make(chan chan struct{}),
		connectCh:    make(chan chan struct{}),
		disconnectCh: make(chan chan struct{}),
		dialed:       make(chan dialResult),
		reads:        make(chan readResult, readBufferSize),
		fired:        make(chan timerFired),
		done:         make(chan struct{}),
		ctx:          context.Background(),
	}
}

// Run processes requests until ctx is done, then closes the stream.
// It must be called exactly once.
func (m *Manager) Run(ctx context.Context) {
	m.ctx = ctx
	defer m.shutdown()

	for {
		select {
		case <-ctx.Done():
			return

		case ack := <-m.attachCh:
			m.attach()
			close(ack)

		case ack := <-m.detachCh:
			m.detach()
			close(ack)

		case ack := <-m.connectCh:
			m.connect()
			close(ack)

		case ack := <-m.disconnectCh:
			m.disconnect()
			close(ack)

		case res := <-m.dialed:
			m.onDialed(res)

		case r := <-m.reads:
			m.onRead(r)

		case f := <-m.fired:
			m.onFired(f)
		}
	}
}

// Connect opens the stream unless it is already connecting or open
func (m *Manager) Connect() {
	m.call(m.connectCh)
}

// Disconnect closes the stream. It does nothing while observers are attached.
func (m *Manager) Disconnect() {
	m.call(m.disconnectCh)
}

// Latest returns the most recent event received for a job
func (m *Manager) Latest(jobID int64) (types.ProgressEvent, bool) {
	return m.table.Get(jobID)
}

// Snapshot returns the latest event of every known job, ordered by id
func (m *Manager) Snapshot() []types.ProgressEvent {
	return m.table.Snapshot()
}

// Rate returns the smoothed transfer rate of a job in bytes per second
func (m *Manager) Rate(jobID int64) float64 {
	return m.estimator.Rate(jobID)
}

// ETA projects the remaining time of a job from its latest event
func (m *Manager) ETA(jobID int64) throughput.ETA {
	ev, ok := m.table.Get(jobID)
	if !ok {
		return throughput.ETA{Kind: throughput.ETAUnknown}
	}
	return m.estimator.ETA(ev)
}

// State returns the current connection state
func (m *Manager) State() State {
	return State(m.state.Load())
}

// Subscribers returns the number of attached observers
func (m *Manager) Subscribers() int {
	return int(m.subscribers.Load())
}

// Stats returns connection telemetry
func (m *Manager) Stats() Stats {
	return m.stats.snapshot(m.State(), m.Subscribers())
}

// call hands a request to the loop and waits until it was handled
func (m *Manager) call(ch chan chan struct{}) {
	ack := make(chan struct{})
	select {
	case ch <- ack:
	case <-m.done:
		return
	}
	select {
	case <-ack:
	case <-m.done:
	}
}

func post[T any](m *Manager, ch chan T, v T) bool {
	select {
	case ch <- v:
		return true
	case <-m.done:
		return false
	}
}

func (m *Manager) setState(s State) {
	m.state.Store(int32(s))
}

func (m *Manager) attach() {
	m.subs++
	m.subscribers.Store(int64(m.subs))
	m.stopGrace()
	m.connect()
}

func (m *Manager) detach() {
	if m.subs > 0 {
		m.subs--
	}
	m.subscribers.Store(int64(m.subs))
	m.scheduleGrace()
}

func (m *Manager) connect() {
	if m.State() != Disconnected {
		return
	}
	m.stopReconnect()

	m.gen++
	gen := m.gen
	ctx, cancel := context.WithTimeout(m.ctx, m.handshakeTimeout)
	m.cancelDial = cancel
	m.setState(Connecting)
	m.stats.onDial()

	slog.Debug("progress stream connecting", "url", m.url)

	go func() {
		conn, err := m.dialer.Dial(ctx, m.url)
		cancel()
		if !post(m, m.dialed, dialResult{gen: gen, conn: conn, err: err}) && conn != nil {
			conn.Close()
		}
	}()
}

func (m *Manager) disconnect() {
	if m.subs > 0 {
		slog.Debug("progress stream kept open", "subscribers", m.subs)
		return
	}

	m.stopReconnect()
	m.stopGrace()
	m.closeConn()

	if m.State() != Disconnected {
		slog.Info("progress stream closed")
	}
	m.setState(Disconnected)
}

// closeConn drops the current connection or pending dial. Results that
// arrive later for it are ignored.
func (m *Manager) closeConn() {
	if m.cancelDial != nil {
		m.cancelDial()
		m.cancelDial = nil
	}
	if m.conn != nil {
		m.conn.Close()
		m.conn = nil
	}
	m.gen++
}

func (m *Manager) onDialed(res dialResult) {
	if res.gen != m.gen {
		if res.conn != nil {
			res.conn.Close()
		}
		return
	}
	m.cancelDial = nil

	if res.err != nil {
		m.onClosed(res.err)
		return
	}

	m.conn = res.conn
	m.setState(Open)
	m.stats.onConnected(m.now())
	slog.Info("progress stream connected", "url", m.url)

	go m.readLoop(res.gen, res.conn)
}

func (m *Manager) readLoop(gen uint64, conn Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			post(m, m.reads, readResult{gen: gen, err: err})
			return
		}
		if !post(m, m.reads, readResult{gen: gen, data: data}) {
			return
		}
	}
}

func (m *Manager) onRead(r readResult) {
	if r.gen != m.gen {
		return
	}
	if r.err != nil {
		m.onClosed(r.err)
		return
	}
	m.onFrame(r.data)
}

func (m *Manager) onFrame(data []byte) {
	m.stats.onFrame()

	ev, err := types.DecodeProgressEvent(data)
	if err != nil {
		m.stats.onDrop()
		slog.Warn("progress frame dropped", "error", err)
		return
	}

	m.estimator.RecordSample(ev.JobID, ev.CopiedBytes, m.now())
	m.table.Set(ev)
}

// onClosed handles the end of a connection or a failed dial
func (m *Manager) onClosed(err error) {
	if m.conn != nil {
		m.conn.Close()
		m.conn = nil
	}
	m.setState(Disconnected)
	m.stats.setLastError(err)

	if isExpectedCloseError(err) {
		slog.Info("progress stream disconnected", "error", err)
	} else {
		slog.Warn("progress stream disconnected", "error", err)
	}

	if m.subs > 0 {
		m.scheduleReconnect()
	}
}

func (m *Manager) scheduleReconnect() {
	m.stopReconnect()
	m.reconnectSeq++
	seq := m.reconnectSeq
	m.reconnect = m.afterFunc(m.reconnectDelay, func() {
		post(m, m.fired, timerFired{kind: reconnectTimer, seq: seq})
	})
	slog.Debug("progress stream reconnect scheduled", "delay", m.reconnectDelay)
}

func (m *Manager) stopReconnect() {
	if m.reconnect != nil {
		m.reconnect.Stop()
		m.reconnect = nil
	}
}

func (m *Manager) scheduleGrace() {
	m.stopGrace()
	m.graceSeq++
	seq := m.graceSeq
	m.grace = m.afterFunc(m.graceDelay, func() {
		post(m, m.fired, timerFired{kind: graceTimer, seq: seq})
	})
}

func (m *Manager) stopGrace() {
	if m.grace != nil {
		m.grace.Stop()
		m.grace = nil
	}
}

func (m *Manager) onFired(f timerFired) {
	switch f.kind {
	case reconnectTimer:
		if m.reconnect == nil || f.seq != m.reconnectSeq {
			return
		}
		m.reconnect = nil
		if m.subs <= 0 {
			return
		}
		m.stats.onReconnect()
		slog.Info("progress stream reconnecting", "url", m.url)
		m.connect()

	case graceTimer:
		if m.grace == nil || f.seq != m.graceSeq {
			return
		}
		m.grace = nil
		m.disconnect()
	}
}

func (m *Manager) shutdown() {
	close(m.done)
	m.stopReconnect()
	m.stopGrace()
	m.closeConn()
	m.setState(Disconnected)
}

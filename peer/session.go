// Package peer implements the peer session engine: the per-connection
// state machine and its dispatch of inbound wire-protocol
// messages, outbound helpers, and latency
// tracking.
//
// Each Session owns a single-threaded cooperative reactor: one goroutine
// that blocks on FrameParser.Next and dispatches inline — nothing else
// ever calls Next or the dispatch switch for this session concurrently —
// plus one writer goroutine fed by a buffered channel, an
// outgoingQueue/sendQueue pair in the classic single-writer style.
package peer

import (
	"bufio"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btclog"

	"github.com/relaynet/noded/logcfg"
)

var log btclog.Logger = btclog.Disabled

// UseLogger sets the logger used by this package.
func UseLogger(l btclog.Logger) {
	log = l
}

// Logger returns the logger currently in use by this package, so that
// callers can adjust its level alongside every other subsystem's.
func Logger() btclog.Logger {
	return log
}

func init() {
	UseLogger(logcfg.NewSubLogger("PEER"))
}

// State is a PeerSession lifecycle state.
type State int

const (
	StateNew State = iota
	StateHandshake
	StateConnected
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateHandshake:
		return "handshake"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// Direction is the connection's originating side.
type Direction int

const (
	Inbound Direction = iota
	Outbound
)

// BIP0031Version is the protocol version threshold above which ping/pong
// carry a nonce.
const BIP0031Version = 60000

const outgoingQueueLen = 50

// Session owns one TCP connection to a remote peer and drives the
// handshake state machine, dispatches inbound messages, and emits outbound
// messages.
//
// NOTE must be initialized with NewSession.
type Session struct {
	hub Hub
	cfg Config

	conn      net.Conn
	host      string
	port      uint16
	direction Direction

	outCh chan wire.Message

	closeOnce sync.Once
	closed    chan struct{}

	mu               sync.Mutex
	state            State
	version          *wire.MsgVersion
	lastPingNonce    *uint64
	lastPingSendTime time.Time
	latencyMs        float64
	startedAt        time.Time
	addrCache        *wire.NetAddress
	dup              dupMemory
	handshakeDone    bool

	handshakeTimer   *time.Timer
	pingTimeoutTimer *time.Timer

	wg sync.WaitGroup
}

// NewSession constructs a Session in state `new` over conn. It does not
// start any goroutines; call Start.
func NewSession(conn net.Conn, direction Direction, hub Hub) *Session {
	host, portStr, _ := net.SplitHostPort(conn.RemoteAddr().String())
	var port uint16
	fmt.Sscanf(portStr, "%d", &port)

	cfg := hub.Config()

	return &Session{
		hub:       hub,
		cfg:       cfg,
		conn:      conn,
		host:      host,
		port:      port,
		direction: direction,
		outCh:     make(chan wire.Message, outgoingQueueLen),
		closed:    make(chan struct{}),
		state:     StateNew,
		// Initial latency equals the configured connection timeout in
		// milliseconds, a deliberately pessimistic default.
		latencyMs: float64(cfg.ConnectionTimeout.Milliseconds()),
		startedAt: time.Now(),
	}
}

// Host returns the remote host.
func (s *Session) Host() string { return s.host }

// Port returns the remote port.
func (s *Session) Port() uint16 { return s.port }

// Direction returns whether this session is inbound or outbound.
func (s *Session) Direction() Direction { return s.direction }

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// Version returns the remote peer's handshake Version record, or nil if
// not yet received.
func (s *Session) Version() *wire.MsgVersion {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.version
}

// LatencyMs returns the most recently measured round-trip latency.
func (s *Session) LatencyMs() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latencyMs
}

// Uptime returns the time elapsed since the connection (or since the last
// completeHandshake call, which resets the start time).
func (s *Session) Uptime() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return time.Since(s.startedAt)
}

// protocolVersion returns the remote's advertised protocol version, or our
// own configured version if the handshake hasn't completed yet.
func (s *Session) protocolVersion() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.version != nil {
		return uint32(s.version.ProtocolVersion)
	}
	return s.cfg.ProtocolVersion
}

// Addr returns the derived addr record for this peer, lazily constructed
// after handshake and cached.
func (s *Session) Addr() *wire.NetAddress {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.addrCache != nil {
		return s.addrCache
	}
	if s.version == nil {
		return nil
	}

	na := wire.NewNetAddressTimestamp(
		time.Now(), wire.SFNodeNetwork, net.ParseIP(s.host), s.port,
	)
	s.addrCache = na
	return na
}

// Start launches the session's reader and writer goroutines and, for
// inbound connections, applies the accept policy.
func (s *Session) Start() {
	if s.direction == Inbound {
		if !s.cfg.AcceptConnections && !s.whitelisted() {
			s.closeQuiet()
			return
		}
	}

	s.setState(StateHandshake)
	s.hub.RegisterSession(s)
	s.armHandshakeTimeout()

	s.wg.Add(2)
	go s.writeLoop()
	go s.readLoop()

	// Both accepted-inbound and outbound-connect-complete transitions
	// send Version immediately on entering handshake.
	s.sendVersion()
}

func (s *Session) whitelisted() bool {
	key := net.JoinHostPort(s.host, fmt.Sprintf("%d", s.port))
	return s.cfg.Whitelist[key]
}

func (s *Session) armHandshakeTimeout() {
	s.mu.Lock()
	s.handshakeTimer = time.AfterFunc(s.cfg.ConnectionTimeout, func() {
		if s.State() != StateConnected {
			log.Warnf("%s: handshake timed out", s.host)
			s.Close()
		}
	})
	s.mu.Unlock()
}

func (s *Session) cancelHandshakeTimeout() {
	s.mu.Lock()
	if s.handshakeTimer != nil {
		s.handshakeTimer.Stop()
	}
	s.mu.Unlock()
}

// writeLoop is the single writer for this session: outbound writes from
// one session are serialized; no ordering is promised
// between sessions because each has its own goroutine and channel.
func (s *Session) writeLoop() {
	defer s.wg.Done()

	w := bufio.NewWriter(s.conn)
	for {
		select {
		case msg, ok := <-s.outCh:
			if !ok {
				return
			}
			frame, err := EncodeFrame(msg, s.cfg.Net, s.protocolVersion())
			if err != nil {
				log.Errorf("%s: encode %s: %v", s.host, msg.Command(), err)
				continue
			}
			if _, err := w.Write(frame); err != nil {
				log.Debugf("%s: write: %v", s.host, err)
				s.Close()
				return
			}
			if err := w.Flush(); err != nil {
				log.Debugf("%s: flush: %v", s.host, err)
				s.Close()
				return
			}

		case <-s.closed:
			return
		}
	}
}

// readLoop is the session's sole reader: it owns the FrameParser critical
// section and dispatches every decoded message in arrival
// order.
func (s *Session) readLoop() {
	defer s.wg.Done()
	defer s.teardown()

	parser := NewFrameParser(s.conn, s.cfg.Net, s.protocolVersion())

	for {
		msg, err := parser.Next()
		if err != nil {
			if fe, ok := err.(*FrameError); ok {
				log.Warnf("%s: %v", s.host, fe)
				continue
			}
			// Bad magic or a socket/I/O error: fatal to the
			// session.
			log.Debugf("%s: fatal parse error: %v", s.host, err)
			return
		}

		if err := s.dispatch(msg); err != nil {
			// Internal invariant failure in a handler: log fatal
			// for this connection, close defensively, never
			// propagate.
			log.Errorf("%s: handler error for %s: %v",
				s.host, msg.Command(), err)
			return
		}
	}
}

// dispatch is the single match body: the parser yields a tagged variant
// (a concrete wire.Message type), and this switch replaces a separate
// on_* callback dispatch interface with one exhaustive type switch.
func (s *Session) dispatch(msg wire.Message) error {
	switch m := msg.(type) {
	case *wire.MsgVersion:
		return s.onVersion(m)
	case *wire.MsgVerAck:
		return s.onVerAck()
	case *wire.MsgPing:
		return s.onPing(m)
	case *wire.MsgPong:
		return s.onPong(m)
	case *wire.MsgAddr:
		return s.onAddr(m)
	case *wire.MsgInv:
		return s.onInv(m)
	case *wire.MsgGetData:
		return s.onGetData(m)
	case *wire.MsgGetBlocks:
		return s.onGetBlocks(m.ProtocolVersion, m.BlockLocatorHashes, m.HashStop, false)
	case *wire.MsgGetHeaders:
		return s.onGetBlocks(m.ProtocolVersion, m.BlockLocatorHashes, m.HashStop, true)
	case *wire.MsgHeaders:
		return s.onHeaders(m)
	case *wire.MsgTx:
		return s.onTx(m)
	case *wire.MsgBlock:
		return s.onBlock(m)
	case *wire.MsgGetAddr:
		return s.onGetAddr()
	case *wire.MsgAlert:
		return s.onAlert(m)
	default:
		log.Debugf("%s: unhandled message type %T", s.host, msg)
		return nil
	}
}

// send enqueues msg for the writer goroutine. If the outbound queue is
// full the session is badly backed up; we drop rather than block the
// reader (which would stall dispatch of the next inbound message).
func (s *Session) send(msg wire.Message) {
	select {
	case s.outCh <- msg:
	case <-s.closed:
	default:
		log.Warnf("%s: outbound queue full, dropping %s", s.host, msg.Command())
	}
}

// completeHandshake is idempotent: calling it a second time after the
// state has already advanced past handshake is a no-op.
func (s *Session) completeHandshake() {
	s.mu.Lock()
	if s.state != StateHandshake {
		s.mu.Unlock()
		return
	}
	s.state = StateConnected
	// Handshake RTT doubles as an initial latency reading, in the same
	// millisecond unit every other latency field uses.
	s.latencyMs = float64(time.Since(s.startedAt).Milliseconds())
	s.startedAt = time.Now()
	s.handshakeDone = true
	s.mu.Unlock()

	s.cancelHandshakeTimeout()

	s.hub.Publish(ConnEvent{
		Connected: true,
		Host:      s.host,
		Port:      s.port,
		Inbound:   s.direction == Inbound,
	})

	if addr := s.Addr(); addr != nil {
		s.hub.InsertAddr(*addr)
	}

	if s.cfg.Announce {
		if own := s.hub.OwnAddr(); own != nil {
			addrMsg := wire.NewMsgAddr()
			_ = addrMsg.AddAddress(own)
			s.send(addrMsg)
		}
	}
}

// Close tears the connection down. Safe to call multiple times and from
// any goroutine.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		close(s.closed)
		s.conn.Close()
	})
}

func (s *Session) closeQuiet() {
	// Policy rejection before registration: close immediately and
	// quietly.
	s.conn.Close()
}

// teardown runs exactly once per session, on socket close or fatal parse
// error: transitions to disconnected, deregisters, and notifies
// subscribers.
func (s *Session) teardown() {
	s.cancelHandshakeTimeout()
	s.cancelPingTimeout()

	prev := s.State()
	s.setState(StateDisconnected)
	s.Close()

	if prev == StateNew {
		// Never registered (rejected before handshake began); no
		// deregistration or notification is owed.
		return
	}

	s.hub.UnregisterSession(s)
	s.hub.Publish(ConnEvent{
		Connected: false,
		Host:      s.host,
		Port:      s.port,
		Inbound:   s.direction == Inbound,
	})

	close(s.outCh)
}


package peer

import (
	"net"
	"sync"
	"testing"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"

	"github.com/relaynet/noded/store"
)

// fakeHub is a minimal peer.Hub used only by this package's own tests; it
// records every Publish call so tests can assert notification counts and
// ordering, and counts EnqueueInv calls.
type fakeHub struct {
	cfg   Config
	store store.Store

	mu     sync.Mutex
	events []interface{}
	addrs  []wire.NetAddress
	invs   int
}

func newFakeHub(cfg Config) *fakeHub {
	return &fakeHub{cfg: cfg, store: store.NewMemStore()}
}

func (h *fakeHub) Config() Config         { return h.cfg }
func (h *fakeHub) Store() store.Store     { return h.store }
func (h *fakeHub) RegisterSession(*Session)   {}
func (h *fakeHub) UnregisterSession(*Session) {}

func (h *fakeHub) EnqueueInv(InvItem) bool {
	h.mu.Lock()
	h.invs++
	h.mu.Unlock()
	return true
}

func (h *fakeHub) EnqueueIngest(IngestItem) bool { return true }

func (h *fakeHub) RelayTx(chainhash.Hash) (*wire.MsgTx, bool) { return nil, false }
func (h *fakeHub) NoteRelayPropagation(chainhash.Hash)        {}

func (h *fakeHub) InsertAddr(addr wire.NetAddress) {
	h.mu.Lock()
	h.addrs = append(h.addrs, addr)
	h.mu.Unlock()
}

func (h *fakeHub) SampleAddrs(max int, maxAge time.Duration) []wire.NetAddress { return nil }
func (h *fakeHub) OwnAddr() *wire.NetAddress                                  { return nil }
func (h *fakeHub) NoteExternalIP(string)                                      {}

func (h *fakeHub) Publish(event interface{}) {
	h.mu.Lock()
	h.events = append(h.events, event)
	h.mu.Unlock()
}

func (h *fakeHub) connectedEvents() int {
	h.mu.Lock()
	defer h.mu.Unlock()

	n := 0
	for _, e := range h.events {
		if ce, ok := e.(ConnEvent); ok && ce.Connected {
			n++
		}
	}
	return n
}

func testConfig() Config {
	return Config{
		Net:                wire.MainNet,
		ProtocolVersion:    70002,
		MinProtocolVersion: 70001,
		UserAgent:          "/noded-test:0.1.0/",
		ConnectionTimeout:  200 * time.Millisecond,
		MaxInv:             1000,
		Announce:           false,
		AcceptConnections:  true,
	}
}

func readFrame(t *testing.T, conn net.Conn) wire.Message {
	t.Helper()
	parser := NewFrameParser(conn, wire.MainNet, wire.ProtocolVersion)
	msg, err := parser.Next()
	require.NoError(t, err)
	return msg
}

func writeFrame(t *testing.T, conn net.Conn, msg wire.Message) {
	t.Helper()
	frame, err := EncodeFrame(msg, wire.MainNet, wire.ProtocolVersion)
	require.NoError(t, err)
	_, err = conn.Write(frame)
	require.NoError(t, err)
}

// outbound handshake happy path.
func TestSessionOutboundHandshakeHappyPath(t *testing.T) {
	local, remote := net.Pipe()
	defer remote.Close()

	hub := newFakeHub(testConfig())
	sess := NewSession(local, Outbound, hub)
	sess.Start()
	defer sess.Close()

	// Our Version frame, sent unconditionally on Start.
	first := readFrame(t, remote)
	require.Equal(t, wire.CmdVersion, first.Command())

	// Remote sends its own Version.
	remoteVersion := &wire.MsgVersion{
		ProtocolVersion: 70002,
		LastBlock:       200000,
	}
	writeFrame(t, remote, remoteVersion)

	// We reply with Verack in response.
	second := readFrame(t, remote)
	require.Equal(t, wire.CmdVerAck, second.Command())

	// Remote also sends Verack, completing the handshake a second,
	// idempotent time.
	writeFrame(t, remote, &wire.MsgVerAck{})

	require.Eventually(t, func() bool {
		return sess.State() == StateConnected
	}, time.Second, 5*time.Millisecond)

	require.Equal(t, 1, hub.connectedEvents())
}

// inbound peer never sends Verack.
func TestSessionInboundCompletesWithoutVerack(t *testing.T) {
	local, remote := net.Pipe()
	defer remote.Close()

	hub := newFakeHub(testConfig())
	sess := NewSession(local, Inbound, hub)
	sess.Start()
	defer sess.Close()

	// Drain our own Version, sent on Start.
	readFrame(t, remote)

	writeFrame(t, remote, &wire.MsgVersion{ProtocolVersion: 70002})

	// We reply with Verack...
	reply := readFrame(t, remote)
	require.Equal(t, wire.CmdVerAck, reply.Command())

	// ...and transition to connected without the remote ever sending its
	// own Verack.
	require.Eventually(t, func() bool {
		return sess.State() == StateConnected
	}, time.Second, 5*time.Millisecond)
}

// a peer advertising a protocol version below the configured
// minimum is disconnected after Version, before Verack.
func TestSessionRejectsProtocolVersionBelowMinimum(t *testing.T) {
	local, remote := net.Pipe()
	defer remote.Close()

	hub := newFakeHub(testConfig())
	sess := NewSession(local, Inbound, hub)
	sess.Start()
	defer sess.Close()

	readFrame(t, remote) // our Version

	writeFrame(t, remote, &wire.MsgVersion{ProtocolVersion: 1})

	require.Eventually(t, func() bool {
		return sess.State() == StateDisconnected
	}, time.Second, 5*time.Millisecond)
}

// ping liveness updates latency on a matching pong.
func TestSessionPingPongUpdatesLatency(t *testing.T) {
	local, remote := net.Pipe()
	defer remote.Close()

	hub := newFakeHub(testConfig())
	sess := NewSession(local, Outbound, hub)
	sess.mu.Lock()
	sess.version = &wire.MsgVersion{ProtocolVersion: 70002}
	sess.state = StateConnected
	sess.mu.Unlock()

	sess.Start()
	defer sess.Close()

	readFrame(t, remote) // our Version sent at Start

	go sess.sendPing()

	pingMsg := readFrame(t, remote)
	ping, ok := pingMsg.(*wire.MsgPing)
	require.True(t, ok)

	writeFrame(t, remote, wire.NewMsgPong(ping.Nonce))

	require.Eventually(t, func() bool {
		return sess.LatencyMs() > 0 && sess.LatencyMs() <= float64(hub.cfg.ConnectionTimeout.Milliseconds())
	}, time.Second, 5*time.Millisecond)
}

// a ping whose pong never arrives closes the session
// after connection_timeout.
func TestSessionPingTimeoutClosesSession(t *testing.T) {
	local, remote := net.Pipe()
	defer remote.Close()

	cfg := testConfig()
	cfg.ConnectionTimeout = 50 * time.Millisecond

	hub := newFakeHub(cfg)
	sess := NewSession(local, Outbound, hub)
	sess.mu.Lock()
	sess.version = &wire.MsgVersion{ProtocolVersion: 70002}
	sess.state = StateConnected
	sess.mu.Unlock()

	sess.Start()
	defer sess.Close()

	readFrame(t, remote) // our Version

	go sess.sendPing()
	readFrame(t, remote) // our Ping; never answered

	require.Eventually(t, func() bool {
		return sess.State() == StateDisconnected
	}, time.Second, 5*time.Millisecond)
}

// getblocks duplicate suppression.
func TestSessionOnGetBlocksDuplicateSuppressed(t *testing.T) {
	hub := newFakeHub(testConfig())
	local, remote := net.Pipe()
	defer remote.Close()
	defer local.Close()

	// A two-block chain: a locator naming the genesis block is answered
	// with the block at height 1 as a one-hash inv.
	ms := store.NewMemStore()
	genesis := &wire.MsgBlock{Header: wire.BlockHeader{Nonce: 1}}
	require.NoError(t, ms.AppendBlock(genesis))
	hash := genesis.BlockHash()
	require.NoError(t, ms.AppendBlock(&wire.MsgBlock{Header: wire.BlockHeader{PrevBlock: hash, Nonce: 2}}))
	hub.store = ms

	sess := NewSession(local, Inbound, hub)
	locator := []*chainhash.Hash{&hash}

	// First call: one inv is queued for the (unstarted) writer.
	require.NoError(t, sess.onGetBlocks(70002, locator, chainhash.Hash{}, false))
	require.Len(t, sess.outCh, 1)
	// Second, identical call: suppressed as a duplicate, nothing more is
	// queued.
	require.NoError(t, sess.onGetBlocks(70002, locator, chainhash.Hash{}, false))
	require.Len(t, sess.outCh, 1)
}

// inv backpressure at the Hub boundary — node.Context's
// TestContextEnqueueInvBoundedByConfiguredMaxInv exercises EnqueueInv's
// cfg.MaxInv bound against the real queue; here we confirm
// onInvTx/onInvBlock call through to EnqueueInv for every announced hash.
func TestSessionOnInvRoutesEveryHash(t *testing.T) {
	hub := newFakeHub(testConfig())
	local, remote := net.Pipe()
	defer remote.Close()
	defer local.Close()

	sess := NewSession(local, Inbound, hub)

	inv := wire.NewMsgInv()
	for i := 0; i < 3; i++ {
		h := chainhash.Hash{byte(i)}
		require.NoError(t, inv.AddInvVect(wire.NewInvVect(wire.InvTypeTx, &h)))
	}

	require.NoError(t, sess.onInv(inv))

	hub.mu.Lock()
	defer hub.mu.Unlock()
	require.Equal(t, 3, hub.invs)
}

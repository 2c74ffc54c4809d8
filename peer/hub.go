package peer

import (
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"

	"github.com/relaynet/noded/store"
)

// InvKind distinguishes the two inventory kinds a session announces or
// requests.
type InvKind int

const (
	InvKindTx InvKind = iota
	InvKindBlock
)

// InvItem is one entry enqueued to the node-wide inventory work queue.
type InvItem struct {
	Kind   InvKind
	Hash   chainhash.Hash
	Origin *Session
}

// IngestKind distinguishes the payload kinds enqueued for the chain
// store's ingestion worker.
type IngestKind int

const (
	IngestKindTx IngestKind = iota
	IngestKindBlock
	IngestKindHeader
)

// IngestItem is one entry enqueued for the chain store's ingestion worker.
type IngestItem struct {
	Kind   IngestKind
	Tx     *wire.MsgTx
	Block  *wire.MsgBlock
	Header *wire.BlockHeader
}

// ConnEvent is the `:connection` notification kind.
type ConnEvent struct {
	Connected bool
	Host      string
	Port      uint16
	Inbound   bool
}

// AddrEvent is the `:addr` notification kind.
type AddrEvent struct {
	Addr wire.NetAddress
}

// Config is the subset of the node's recognized configuration options
// that the peer session engine itself consults.
type Config struct {
	Net                wire.BitcoinNet
	ProtocolVersion    uint32
	MinProtocolVersion uint32
	UserAgent          string
	ConnectionTimeout  time.Duration
	MaxInv             int
	Announce           bool
	ListenIP           string
	ListenPort         uint16
	GenesisHash        chainhash.Hash
	Whitelist          map[string]bool // "host:port" -> always accepted inbound
	AcceptConnections  bool
}

// Hub is everything a Session needs from the shared Node Context,
// expressed as an interface so that the peer package has no import-time
// dependency on the node package — the node package depends on peer (it
// holds a set of *peer.Session), so the dependency cannot run the other
// way too.
type Hub interface {
	// Config returns the process-wide configuration.
	Config() Config

	// Store returns the handle to the Chain Store.
	Store() store.Store

	// RegisterSession adds s to the live connection set.
	RegisterSession(s *Session)

	// UnregisterSession removes s from the live connection set exactly
	// once.
	UnregisterSession(s *Session)

	// EnqueueInv enqueues an inventory item if the queue is not already
	// at its configured capacity; it returns false if the item was
	// dropped.
	EnqueueInv(item InvItem) bool

	// EnqueueIngest enqueues a block/tx for out-of-session processing by
	// the chain store's ingestion worker.
	EnqueueIngest(item IngestItem) bool

	// RelayTx looks up a short-lived relay-only transaction by hash.
	RelayTx(hash chainhash.Hash) (*wire.MsgTx, bool)

	// NoteRelayPropagation increments the peer-announcement counter for
	// hash if it is being tracked.
	NoteRelayPropagation(hash chainhash.Hash)

	// InsertAddr records a peer address observation in the address book.
	InsertAddr(addr wire.NetAddress)

	// SampleAddrs returns up to max addresses from the address book with
	// last-seen within maxAge.
	SampleAddrs(max int, maxAge time.Duration) []wire.NetAddress

	// OwnAddr returns the node's own advertised address, or nil if
	// unconfigured.
	OwnAddr() *wire.NetAddress

	// NoteExternalIP records a host another peer claims we appear as.
	NoteExternalIP(host string)

	// Publish fans a notification out to subscribers.
	Publish(event interface{})
}

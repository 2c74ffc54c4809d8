// Package node holds the shared state every PeerSession consults: the live
// connection set, the address book, the inventory/ingestion work queues, the
// short-lived relay cache, and the notification fan-out. It is the
// implementation of peer.Hub, kept in its own package so that peer has no
// import-time dependency back on node.
package node

import (
	"net"
	"sync"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btclog"

	"github.com/relaynet/noded/logcfg"
	"github.com/relaynet/noded/peer"
	"github.com/relaynet/noded/store"
)

var log btclog.Logger = btclog.Disabled

// UseLogger sets the logger used by this package.
func UseLogger(l btclog.Logger) {
	log = l
}

// Logger returns the logger currently in use by this package.
func Logger() btclog.Logger {
	return log
}

func init() {
	UseLogger(logcfg.NewSubLogger("NODE"))
}

const (
	relayTxTTL = 5 * time.Minute
)

type relayEntry struct {
	tx      *wire.MsgTx
	expires time.Time
}

// Context is the node-wide state every PeerSession's Hub calls resolve
// against. A single mutex guards the fields that are read and written from
// many session goroutines at once ("small lock" concurrency option); the
// two work queues are independently synchronized BoundedQueue values so that
// a session enqueuing inventory never contends with the mutex at all.
type Context struct {
	cfg peer.Config

	chainStore store.Store
	book       *AddrBook
	hub        *subscribeHub

	invQueue    *BoundedQueue[peer.InvItem]
	ingestQueue *BoundedQueue[peer.IngestItem]

	mu               sync.Mutex
	connections      map[*peer.Session]struct{}
	relayTx          map[chainhash.Hash]relayEntry
	relayPropagation map[chainhash.Hash]int
	externalIPs      map[string]int
}

// New constructs a Context. cfg is the process-wide configuration handed to
// every Session; st is the backing chain store. Both work queues are
// bounded by cfg.MaxInv: there is no separate ingest-queue setting, and the
// inv_queue bound is the one an operator actually configures via maxinv.
func New(cfg peer.Config, st store.Store) *Context {
	return &Context{
		cfg:              cfg,
		chainStore:       st,
		book:             NewAddrBook(),
		hub:              newSubscribeHub(),
		invQueue:         NewBoundedQueue[peer.InvItem](cfg.MaxInv),
		ingestQueue:      NewBoundedQueue[peer.IngestItem](cfg.MaxInv),
		connections:      make(map[*peer.Session]struct{}),
		relayTx:          make(map[chainhash.Hash]relayEntry),
		relayPropagation: make(map[chainhash.Hash]int),
		externalIPs:      make(map[string]int),
	}
}

// Config implements peer.Hub.
func (c *Context) Config() peer.Config { return c.cfg }

// Store implements peer.Hub.
func (c *Context) Store() store.Store { return c.chainStore }

// RegisterSession implements peer.Hub. The :connected notification itself
// is emitted later, by completeHandshake — registration only adds to the
// connection set, which tracks every session in state handshake or
// connected.
func (c *Context) RegisterSession(s *peer.Session) {
	c.mu.Lock()
	c.connections[s] = struct{}{}
	c.mu.Unlock()
}

// UnregisterSession implements peer.Hub. Removing an entry that is not
// present is a no-op, which is what makes the call safe from both the read
// loop's teardown path and any future duplicate-close caller. The session's
// own teardown emits the :disconnected notification; this method is purely
// set bookkeeping.
func (c *Context) UnregisterSession(s *peer.Session) {
	c.mu.Lock()
	delete(c.connections, s)
	c.mu.Unlock()
}

// Sessions returns a snapshot of the currently registered sessions.
func (c *Context) Sessions() []*peer.Session {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]*peer.Session, 0, len(c.connections))
	for s := range c.connections {
		out = append(out, s)
	}
	return out
}

// EnqueueInv implements peer.Hub.
func (c *Context) EnqueueInv(item peer.InvItem) bool {
	ok := c.invQueue.TryEnqueue(item)
	if !ok {
		log.Debugf("inv queue full, dropping %v %s", item.Kind, item.Hash)
	}
	return ok
}

// EnqueueIngest implements peer.Hub.
func (c *Context) EnqueueIngest(item peer.IngestItem) bool {
	ok := c.ingestQueue.TryEnqueue(item)
	if !ok {
		log.Debugf("ingest queue full, dropping kind %v", item.Kind)
	}
	return ok
}

// DequeueInv blocks until an inventory item is available or quit closes. It
// is the consumer side used by the inv worker in cmd/noded, which turns each
// item into a getdata back to its originating session.
func (c *Context) DequeueInv(quit <-chan struct{}) (peer.InvItem, bool) {
	return c.invQueue.Dequeue(quit)
}

// DequeueIngest blocks until an ingestion item is available or quit closes.
func (c *Context) DequeueIngest(quit <-chan struct{}) (peer.IngestItem, bool) {
	return c.ingestQueue.Dequeue(quit)
}

// RelayTx implements peer.Hub: a transaction is relay-eligible only for
// relayTxTTL after NoteRelayTx records it; this cache is short-lived by
// design, not a persistent mempool.
func (c *Context) RelayTx(hash chainhash.Hash) (*wire.MsgTx, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.relayTx[hash]
	if !ok {
		return nil, false
	}
	if time.Now().After(entry.expires) {
		delete(c.relayTx, hash)
		return nil, false
	}
	return entry.tx, true
}

// NoteRelayTx records tx as relay-eligible for a short window, called by the
// ingestion worker once a transaction is accepted for relay (not
// necessarily validated — this node does no consensus validation).
func (c *Context) NoteRelayTx(tx *wire.MsgTx) {
	c.mu.Lock()
	c.relayTx[tx.TxHash()] = relayEntry{tx: tx, expires: time.Now().Add(relayTxTTL)}
	c.mu.Unlock()
}

// NoteRelayPropagation implements peer.Hub.
func (c *Context) NoteRelayPropagation(hash chainhash.Hash) {
	c.mu.Lock()
	if _, tracked := c.relayTx[hash]; tracked {
		c.relayPropagation[hash]++
	}
	c.mu.Unlock()
}

// RelayPropagationCount returns how many distinct announcements hash has
// received since it was noted for relay.
func (c *Context) RelayPropagationCount(hash chainhash.Hash) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.relayPropagation[hash]
}

// InsertAddr implements peer.Hub.
func (c *Context) InsertAddr(addr wire.NetAddress) {
	c.book.Insert(addr)
}

// SampleAddrs implements peer.Hub.
func (c *Context) SampleAddrs(max int, maxAge time.Duration) []wire.NetAddress {
	return c.book.Sample(max, maxAge)
}

// OwnAddr implements peer.Hub.
func (c *Context) OwnAddr() *wire.NetAddress {
	if c.cfg.ListenIP == "" || !c.cfg.Announce {
		return nil
	}
	na := wire.NewNetAddressIPPort(
		parseIPOrNil(c.cfg.ListenIP), c.cfg.ListenPort, wire.SFNodeNetwork,
	)
	return na
}

// NoteExternalIP implements peer.Hub. external_ips is kept as a
// multiset: every call increments the host's count, without first
// checking for an existing entry.
func (c *Context) NoteExternalIP(host string) {
	c.mu.Lock()
	c.externalIPs[host]++
	c.mu.Unlock()
}

// ExternalIPs returns a snapshot of the recorded external-IP multiset.
func (c *Context) ExternalIPs() map[string]int {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make(map[string]int, len(c.externalIPs))
	for host, n := range c.externalIPs {
		out[host] = n
	}
	return out
}

// Publish implements peer.Hub, fanning event out to every active
// subscriber.
func (c *Context) Publish(event interface{}) {
	c.hub.publish(event)
}

// Subscribe returns a Client that receives every event passed to Publish
// from now on.
func (c *Context) Subscribe() *Client {
	return c.hub.subscribe()
}

func parseIPOrNil(s string) net.IP {
	return net.ParseIP(s)
}

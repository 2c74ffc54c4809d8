package peer

import (
	"bytes"
	"strings"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// inboundHandlerMaxInv equals the batch size getblocks replies in block-inv
// mode are sliced into; the slicing itself is done by sendInv, using
// maxInvPerMsg.
const inboundHandlerMaxInv = 251

// onVersion records the remote Version exactly once, replies with Verack,
// and attempts to complete the handshake.
func (s *Session) onVersion(v *wire.MsgVersion) error {
	if uint32(v.ProtocolVersion) < s.cfg.MinProtocolVersion {
		log.Warnf("%s: protocol version %d below minimum %d, disconnecting",
			s.host, v.ProtocolVersion, s.cfg.MinProtocolVersion)
		s.Close()
		return nil
	}

	s.mu.Lock()
	if s.version == nil {
		s.version = v
	}
	s.mu.Unlock()

	// external_ips is recorded as a multiset, without deduplication —
	// a peer that reconnects and restates the same address increments
	// the count again rather than being folded into one entry.
	if v.AddrYou.IP != nil {
		s.hub.NoteExternalIP(v.AddrYou.IP.String())
	}

	s.send(&wire.MsgVerAck{})
	s.completeHandshake()

	return nil
}

// onVerAck attempts to complete the handshake; idempotent per
// completeHandshake's own guard.
func (s *Session) onVerAck() error {
	s.completeHandshake()
	return nil
}

// onAddr inserts every advertised address into the address book and
// notifies subscribers.
func (s *Session) onAddr(m *wire.MsgAddr) error {
	for _, na := range m.AddrList {
		s.hub.InsertAddr(*na)
		s.hub.Publish(AddrEvent{Addr: *na})
	}
	return nil
}

// onInv routes each advertised hash to the tx or block inventory handler.
func (s *Session) onInv(m *wire.MsgInv) error {
	for _, iv := range m.InvList {
		switch iv.Type {
		case wire.InvTypeTx:
			s.onInvTx(iv.Hash)
		case wire.InvTypeBlock:
			s.onInvBlock(iv.Hash)
		}
	}
	return nil
}

// onInvTx: if hash is tracked for relay-propagation metrics, increment its
// count; enqueue unless the inventory queue is full, in which case drop
// silently.
func (s *Session) onInvTx(hash chainhash.Hash) {
	s.hub.NoteRelayPropagation(hash)
	s.hub.EnqueueInv(InvItem{Kind: InvKindTx, Hash: hash, Origin: s})
}

// onInvBlock enqueues a block announcement, dropping silently if the
// inventory queue is full.
func (s *Session) onInvBlock(hash chainhash.Hash) {
	s.hub.EnqueueInv(InvItem{Kind: InvKindBlock, Hash: hash, Origin: s})
}

// onGetData serves tx/block payload requests.
func (s *Session) onGetData(m *wire.MsgGetData) error {
	for _, iv := range m.InvList {
		switch iv.Type {
		case wire.InvTypeTx:
			s.onGetTx(iv.Hash)
		case wire.InvTypeBlock:
			s.onGetBlock(iv.Hash)
		}
	}
	return nil
}

// onGetTx looks up the chain store first, then the short-lived relay
// cache; missing hashes are silently ignored.
func (s *Session) onGetTx(hash chainhash.Hash) {
	if tx, ok := s.hub.Store().Tx(hash); ok {
		s.send(tx)
		return
	}
	if tx, ok := s.hub.RelayTx(hash); ok {
		s.send(tx)
	}
}

// onGetBlock replies with a block if present, else ignores the request.
func (s *Session) onGetBlock(hash chainhash.Hash) {
	if blk, ok := s.hub.Store().Block(hash); ok {
		s.send(blk)
	}
}

// onTx enqueues the transaction for out-of-session ingestion; it is never
// validated in-session.
func (s *Session) onTx(tx *wire.MsgTx) error {
	s.hub.EnqueueIngest(IngestItem{Kind: IngestKindTx, Tx: tx})
	return nil
}

// onBlock enqueues the block for out-of-session ingestion.
func (s *Session) onBlock(blk *wire.MsgBlock) error {
	s.hub.EnqueueIngest(IngestItem{Kind: IngestKindBlock, Block: blk})
	return nil
}

// onHeaders enqueues each header as a block ingestion item.
func (s *Session) onHeaders(m *wire.MsgHeaders) error {
	for _, hdr := range m.Headers {
		s.hub.EnqueueIngest(IngestItem{Kind: IngestKindHeader, Header: hdr})
	}
	return nil
}

// onGetAddr replies with our own address (if announce is enabled) plus a
// random sample of up to 250 recently seen addresses.
func (s *Session) onGetAddr() error {
	reply := wire.NewMsgAddr()

	if s.cfg.Announce {
		if own := s.hub.OwnAddr(); own != nil {
			_ = reply.AddAddress(own)
		}
	}

	for _, na := range s.hub.SampleAddrs(250, 3*time.Hour) {
		na := na
		_ = reply.AddAddress(&na)
	}

	s.send(reply)
	return nil
}

// onAlert logs and discards the legacy alert message.
func (s *Session) onAlert(m *wire.MsgAlert) error {
	log.Debugf("%s: received alert (%d bytes), discarding",
		s.host, len(m.SerializedPayload))
	return nil
}

// onGetBlocks implements both getblocks and getheaders dispatch: headersOnly distinguishes the two reply shapes.
func (s *Session) onGetBlocks(version uint32, locator []*chainhash.Hash,
	stopHash chainhash.Hash, headersOnly bool) error {

	req := getblocksRequest{
		version:  version,
		locator:  locatorKey(locator),
		stopHash: stopHash.String(),
	}

	s.mu.Lock()
	seen := s.dup.Seen(req)
	s.mu.Unlock()
	if seen {
		// A duplicate getblocks/getheaders request, including a
		// getheaders that repeats an identical prior getblocks (or
		// vice versa), produces no outbound side effect.
		return nil
	}

	if len(locator) == 0 {
		return nil
	}

	store := s.hub.Store()

	_, height, ok := store.HeaderByHash(*locator[0])
	if !ok {
		// Locator fallback — walking back through the rest of the
		// locator looking for a shared ancestor — is intentionally
		// unimplemented. We only ever check the first hash; an
		// unknown or too-advanced first hash means we emit nothing.
		return nil
	}

	if height > store.Height() {
		return nil
	}

	start := height + 1
	n := 500
	if headersOnly {
		n = 2000
	}

	if headersOnly {
		return s.replyHeaders(start, n)
	}
	return s.replyBlockInv(start, n)
}

func (s *Session) replyHeaders(start int64, n int) error {
	store := s.hub.Store()
	headers := store.HeadersByHeight(start, n)
	if len(headers) == 0 {
		return nil
	}

	var buf bytes.Buffer
	if err := wire.WriteVarInt(&buf, 0, uint64(len(headers))); err != nil {
		return err
	}

	hashes := store.HashesByHeight(start, n)
	for i, hdr := range headers {
		var auxPow []byte
		if i < len(hashes) {
			auxPow = store.AuxPow(hashes[i])
		}
		if err := encodeHeaderForHeadersMsg(&buf, hdr, auxPow); err != nil {
			return err
		}
	}

	s.send(&rawMessage{command: wire.CmdHeaders, payload: buf.Bytes()})
	return nil
}

func (s *Session) replyBlockInv(start int64, n int) error {
	hashes := s.hub.Store().HashesByHeight(start, n)
	if len(hashes) == 0 {
		return nil
	}
	s.sendInvBlocks(hashes)
	return nil
}

func locatorKey(locator []*chainhash.Hash) string {
	parts := make([]string, len(locator))
	for i, h := range locator {
		parts[i] = h.String()
	}
	return strings.Join(parts, "/")
}

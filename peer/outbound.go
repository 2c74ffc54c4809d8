package peer

import (
	"math/rand"
	"net"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// maxInvPerMsg is the per-message inventory batch size.
const maxInvPerMsg = 251

// sendVersion builds and frames a Version record: protocol version 70001,
// current chain height, the peer's address as `to`, our own external
// address as `from`, and our user-agent token.
func (s *Session) sendVersion() {
	height := s.hub.Store().Height()
	if height < 0 {
		height = 0
	}

	you := wire.NetAddress{
		Timestamp: time.Now(),
		IP:        net.ParseIP(s.host),
		Port:      s.port,
	}

	me := wire.NetAddress{
		Timestamp: time.Now(),
		Services:  wire.SFNodeNetwork,
		IP:        net.ParseIP(s.cfg.ListenIP),
		Port:      s.cfg.ListenPort,
	}

	msg := &wire.MsgVersion{
		ProtocolVersion: int32(s.cfg.ProtocolVersion),
		Services:        wire.SFNodeNetwork,
		Timestamp:       time.Now(),
		AddrYou:         you,
		AddrMe:          me,
		Nonce:           rand.Uint64(),
		UserAgent:       s.cfg.UserAgent,
		LastBlock:       int32(height),
	}

	s.send(msg)
}

// sendInv emits one or more inv messages for hashes of the given kind,
// batched in slices of up to 251.
func (s *Session) sendInv(kind InvKind, hashes []chainhash.Hash) {
	invType := wire.InvTypeTx
	if kind == InvKindBlock {
		invType = wire.InvTypeBlock
	}

	for start := 0; start < len(hashes); start += maxInvPerMsg {
		end := start + maxInvPerMsg
		if end > len(hashes) {
			end = len(hashes)
		}

		inv := wire.NewMsgInv()
		for _, h := range hashes[start:end] {
			h := h
			_ = inv.AddInvVect(wire.NewInvVect(invType, &h))
		}
		s.send(inv)
	}
}

// sendInvBlocks is sendInv specialized to block-kind inventory, used by
// onGetBlocks's block-inv reply mode.
func (s *Session) sendInvBlocks(hashes []chainhash.Hash) {
	s.sendInv(InvKindBlock, hashes)
}

// SendGetDataTx requests a single transaction payload. Exported so the
// node package's inv-queue worker can issue a getdata back to the
// session that announced the hash.
func (s *Session) SendGetDataTx(hash chainhash.Hash) {
	gd := wire.NewMsgGetData()
	_ = gd.AddInvVect(wire.NewInvVect(wire.InvTypeTx, &hash))
	s.send(gd)
}

// SendGetDataBlock requests a single block payload. Exported for the same
// reason as SendGetDataTx.
func (s *Session) SendGetDataBlock(hash chainhash.Hash) {
	gd := wire.NewMsgGetData()
	_ = gd.AddInvVect(wire.NewInvVect(wire.InvTypeBlock, &hash))
	s.send(gd)
}

// getGenesisBlock requests the configured genesis block by hash.
func (s *Session) getGenesisBlock() {
	s.SendGetDataBlock(s.cfg.GenesisHash)
}

// sendGetBlocks emits a getblocks request. If locator is empty it
// defaults to the chain store's current locator. On an empty chain
// (height == -1) it instead requests the genesis block and re-arms itself
// after 3 seconds.
func (s *Session) sendGetBlocks(locator []chainhash.Hash) {
	s.sendLocatorRequest(locator, false)
}

// sendGetHeaders is sendGetBlocks in headers mode.
func (s *Session) sendGetHeaders(locator []chainhash.Hash) {
	s.sendLocatorRequest(locator, true)
}

func (s *Session) sendLocatorRequest(locator []chainhash.Hash, headersOnly bool) {
	store := s.hub.Store()

	if len(locator) == 0 {
		locator = store.Locator()
	}

	if store.Height() < 0 {
		s.getGenesisBlock()
		time.AfterFunc(3*time.Second, func() {
			if s.State() == StateConnected {
				s.sendLocatorRequest(nil, headersOnly)
			}
		})
		return
	}

	ptrs := make([]*chainhash.Hash, len(locator))
	for i := range locator {
		ptrs[i] = &locator[i]
	}

	if headersOnly {
		gh := &wire.MsgGetHeaders{
			ProtocolVersion:    s.cfg.ProtocolVersion,
			BlockLocatorHashes: ptrs,
		}
		s.send(gh)
		return
	}

	gb := &wire.MsgGetBlocks{
		ProtocolVersion:    s.cfg.ProtocolVersion,
		BlockLocatorHashes: ptrs,
	}
	s.send(gb)
}

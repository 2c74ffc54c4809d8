// Package store defines the Chain Store interface consumed by the peer
// session engine and a small in-memory reference
// implementation used by tests and by cmd/noded when no persistent backend
// is configured.
//
// Block/transaction validation is explicitly out of scope:
// this package only stores and looks up payloads by hash or height; it
// never checks consensus rules.
package store

import (
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// Store is the authoritative block/tx repository the peer session engine
// consults and appends to. Implementations must be safe for use by
// multiple goroutines: the ingestion worker appends while peer sessions
// concurrently read.
type Store interface {
	// Height returns the current main-chain tip height, or -1 if the
	// store holds no blocks yet.
	Height() int64

	// Locator returns an ordered list of block hashes from the tip
	// backwards with exponentially growing gaps, used to negotiate the
	// first shared ancestor with a peer.
	Locator() []chainhash.Hash

	// Block looks up a block by hash. ok is false if absent.
	Block(hash chainhash.Hash) (*wire.MsgBlock, bool)

	// Tx looks up a transaction by hash. ok is false if absent.
	Tx(hash chainhash.Hash) (*wire.MsgTx, bool)

	// HeaderByHash looks up a block's header and height by hash.
	HeaderByHash(hash chainhash.Hash) (*wire.BlockHeader, int64, bool)

	// HeadersByHeight returns up to n headers starting at height
	// (inclusive), ascending, from the main chain. Fewer than n may be
	// returned if the tip is reached first.
	HeadersByHeight(height int64, n int) []*wire.BlockHeader

	// HashesByHeight returns up to n block hashes starting at height
	// (inclusive), ascending, from the main chain.
	HashesByHeight(height int64, n int) []chainhash.Hash

	// AuxPow returns the merge-mined auxiliary proof-of-work blob
	// recorded alongside the header at hash, if the network carries one
	//. A nil/empty return means no aux-pow for this header.
	AuxPow(hash chainhash.Hash) []byte

	// AppendBlock appends a validated block to the store. Validation
	// itself happens upstream of this interface.
	AppendBlock(blk *wire.MsgBlock) error

	// AppendTx records a validated transaction.
	AppendTx(tx *wire.MsgTx) error
}

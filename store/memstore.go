package store

import (
	"fmt"
	"sync"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// MemStore is a minimal in-memory Store: a by-hash index plus a
// by-height ordering over the main chain. It accepts whatever it is
// given — there is no consensus checking here; that is delegated to an
// external, out-of-scope component.
type MemStore struct {
	mu sync.RWMutex

	byHeight []chainhash.Hash
	headers  map[chainhash.Hash]*wire.BlockHeader
	blocks   map[chainhash.Hash]*wire.MsgBlock
	txs      map[chainhash.Hash]*wire.MsgTx
	heights  map[chainhash.Hash]int64
	auxPow   map[chainhash.Hash][]byte
}

// NewMemStore returns an empty store (height -1).
func NewMemStore() *MemStore {
	return &MemStore{
		headers: make(map[chainhash.Hash]*wire.BlockHeader),
		blocks:  make(map[chainhash.Hash]*wire.MsgBlock),
		txs:     make(map[chainhash.Hash]*wire.MsgTx),
		heights: make(map[chainhash.Hash]int64),
		auxPow:  make(map[chainhash.Hash][]byte),
	}
}

func (m *MemStore) Height() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return int64(len(m.byHeight)) - 1
}

func (m *MemStore) Locator() []chainhash.Hash {
	m.mu.RLock()
	defer m.mu.RUnlock()

	tip := len(m.byHeight) - 1
	if tip < 0 {
		return nil
	}

	var locator []chainhash.Hash
	step := 1
	idx := tip
	for idx >= 0 {
		locator = append(locator, m.byHeight[idx])
		if len(locator) >= 10 {
			step *= 2
		}
		idx -= step
	}
	if locator[len(locator)-1] != m.byHeight[0] {
		locator = append(locator, m.byHeight[0])
	}
	return locator
}

func (m *MemStore) Block(hash chainhash.Hash) (*wire.MsgBlock, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	blk, ok := m.blocks[hash]
	return blk, ok
}

func (m *MemStore) Tx(hash chainhash.Hash) (*wire.MsgTx, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	tx, ok := m.txs[hash]
	return tx, ok
}

func (m *MemStore) HeaderByHash(hash chainhash.Hash) (*wire.BlockHeader, int64, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	hdr, ok := m.headers[hash]
	if !ok {
		return nil, 0, false
	}
	return hdr, m.heights[hash], true
}

func (m *MemStore) HeadersByHeight(height int64, n int) []*wire.BlockHeader {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if height < 0 || height >= int64(len(m.byHeight)) {
		return nil
	}

	var out []*wire.BlockHeader
	for i := height; i < int64(len(m.byHeight)) && len(out) < n; i++ {
		out = append(out, m.headers[m.byHeight[i]])
	}
	return out
}

func (m *MemStore) HashesByHeight(height int64, n int) []chainhash.Hash {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if height < 0 || height >= int64(len(m.byHeight)) {
		return nil
	}

	var out []chainhash.Hash
	for i := height; i < int64(len(m.byHeight)) && len(out) < n; i++ {
		out = append(out, m.byHeight[i])
	}
	return out
}

func (m *MemStore) AuxPow(hash chainhash.Hash) []byte {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.auxPow[hash]
}

// AppendBlock records blk at the next height. The block's PrevBlock must
// match the current tip, except for the first block appended (genesis).
func (m *MemStore) AppendBlock(blk *wire.MsgBlock) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	hash := blk.BlockHash()
	if len(m.byHeight) > 0 {
		tipHash := m.byHeight[len(m.byHeight)-1]
		if blk.Header.PrevBlock != tipHash {
			return fmt.Errorf("store: block %s does not extend tip %s",
				hash, tipHash)
		}
	}

	height := int64(len(m.byHeight))
	m.byHeight = append(m.byHeight, hash)
	hdr := blk.Header
	m.headers[hash] = &hdr
	m.blocks[hash] = blk
	m.heights[hash] = height

	for _, tx := range blk.Transactions {
		m.txs[tx.TxHash()] = tx
	}

	return nil
}

func (m *MemStore) AppendTx(tx *wire.MsgTx) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	hash := tx.TxHash()
	m.txs[hash] = tx
	return nil
}

// SetAuxPow associates an auxiliary proof-of-work blob with a header
// already known to the store (merge-mined sidechains).
func (m *MemStore) SetAuxPow(hash chainhash.Hash, blob []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.auxPow[hash] = blob
}

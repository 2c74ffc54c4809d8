package store

import (
	"testing"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"
)

func mkBlock(prev chainhash.Hash, nonce uint32) *wire.MsgBlock {
	return &wire.MsgBlock{
		Header: wire.BlockHeader{
			PrevBlock: prev,
			Nonce:     nonce,
		},
	}
}

func TestMemStoreEmptyHeight(t *testing.T) {
	s := NewMemStore()
	require.EqualValues(t, -1, s.Height())
	require.Nil(t, s.Locator())
}

func TestMemStoreAppendBlockExtendsChain(t *testing.T) {
	s := NewMemStore()

	genesis := mkBlock(chainhash.Hash{}, 1)
	require.NoError(t, s.AppendBlock(genesis))
	require.EqualValues(t, 0, s.Height())

	genesisHash := genesis.BlockHash()
	next := mkBlock(genesisHash, 2)
	require.NoError(t, s.AppendBlock(next))
	require.EqualValues(t, 1, s.Height())

	hdr, height, ok := s.HeaderByHash(genesisHash)
	require.True(t, ok)
	require.EqualValues(t, 0, height)
	require.Equal(t, genesis.Header, *hdr)
}

func TestMemStoreAppendBlockRejectsForkedPrevBlock(t *testing.T) {
	s := NewMemStore()

	genesis := mkBlock(chainhash.Hash{}, 1)
	require.NoError(t, s.AppendBlock(genesis))

	var wrongPrev chainhash.Hash
	wrongPrev[0] = 0xff
	bad := mkBlock(wrongPrev, 2)
	require.Error(t, s.AppendBlock(bad))
	require.EqualValues(t, 0, s.Height())
}

func TestMemStoreHeadersAndHashesByHeight(t *testing.T) {
	s := NewMemStore()

	var prev chainhash.Hash
	for i := uint32(0); i < 5; i++ {
		blk := mkBlock(prev, i)
		require.NoError(t, s.AppendBlock(blk))
		prev = blk.BlockHash()
	}

	headers := s.HeadersByHeight(2, 10)
	require.Len(t, headers, 3)

	hashes := s.HashesByHeight(0, 2)
	require.Len(t, hashes, 2)
}

func TestMemStoreLocatorIncludesGenesis(t *testing.T) {
	s := NewMemStore()

	var prev chainhash.Hash
	var genesisHash chainhash.Hash
	for i := uint32(0); i < 20; i++ {
		blk := mkBlock(prev, i)
		require.NoError(t, s.AppendBlock(blk))
		if i == 0 {
			genesisHash = blk.BlockHash()
		}
		prev = blk.BlockHash()
	}

	locator := s.Locator()
	require.NotEmpty(t, locator)
	require.Equal(t, genesisHash, locator[len(locator)-1])
	require.Equal(t, prev, locator[0])
}

func TestMemStoreAuxPow(t *testing.T) {
	s := NewMemStore()

	genesis := mkBlock(chainhash.Hash{}, 1)
	require.NoError(t, s.AppendBlock(genesis))

	hash := genesis.BlockHash()
	require.Nil(t, s.AuxPow(hash))

	blob := []byte{0x01, 0x02, 0x03}
	s.SetAuxPow(hash, blob)
	require.Equal(t, blob, s.AuxPow(hash))
}

func TestMemStoreTxLookup(t *testing.T) {
	s := NewMemStore()

	tx := wire.NewMsgTx(wire.TxVersion)
	require.NoError(t, s.AppendTx(tx))

	got, ok := s.Tx(tx.TxHash())
	require.True(t, ok)
	require.Equal(t, tx, got)

	_, ok = s.Tx(chainhash.Hash{0x01})
	require.False(t, ok)
}

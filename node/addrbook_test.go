package node

import (
	"net"
	"testing"
	"time"

	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"
)

func routableAddr(ip string, port uint16) wire.NetAddress {
	return wire.NetAddress{
		Timestamp: time.Now(),
		IP:        net.ParseIP(ip),
		Port:      port,
		Services:  wire.SFNodeNetwork,
	}
}

func TestAddrBookInsertRejectsUnroutable(t *testing.T) {
	b := NewAddrBook()
	b.Insert(routableAddr("192.168.1.5", 8333))
	require.Equal(t, 0, b.Len())
}

func TestAddrBookInsertAndSample(t *testing.T) {
	b := NewAddrBook()
	b.Insert(routableAddr("8.8.8.8", 8333))
	b.Insert(routableAddr("1.1.1.1", 8333))
	require.Equal(t, 2, b.Len())

	sample := b.Sample(10, time.Hour)
	require.Len(t, sample, 2)
}

func TestAddrBookSampleRespectsMaxAge(t *testing.T) {
	b := NewAddrBook()
	b.Insert(routableAddr("8.8.8.8", 8333))

	sample := b.Sample(10, -time.Second)
	require.Empty(t, sample)
}

func TestAddrBookSampleRespectsMax(t *testing.T) {
	b := NewAddrBook()
	for i := 1; i <= 5; i++ {
		b.Insert(routableAddr(net.IPv4(8, 8, 8, byte(i)).String(), 8333))
	}

	sample := b.Sample(2, time.Hour)
	require.Len(t, sample, 2)
}

func TestAddrBookInsertRefreshesExisting(t *testing.T) {
	b := NewAddrBook()
	b.Insert(routableAddr("8.8.8.8", 8333))
	b.Insert(routableAddr("8.8.8.8", 8333))
	require.Equal(t, 1, b.Len())
}

func TestAddrBookEvictsOldestWhenFull(t *testing.T) {
	b := NewAddrBook()
	// Directly exercise eviction at a tiny scale by shrinking the
	// capacity check's effect: insert beyond maxAddrBookEntries is slow
	// to set up in a unit test, so instead verify the eviction helper's
	// contract on a hand-built book.
	b.entries["a"] = &addrEntry{addr: routableAddr("8.8.8.8", 1), lastSeen: time.Now().Add(-time.Hour)}
	b.entries["b"] = &addrEntry{addr: routableAddr("1.1.1.1", 2), lastSeen: time.Now()}

	b.evictOldestLocked()

	require.Equal(t, 1, len(b.entries))
	_, stillThere := b.entries["b"]
	require.True(t, stillThere)
}

package node

import (
	"math/rand"
	"strconv"
	"sync"
	"time"

	"github.com/btcsuite/btcd/addrmgr"
	"github.com/btcsuite/btcd/wire"
)

// maxAddrBookEntries bounds the book to a fixed capacity, never unbounded
// growth from a chatty or malicious peer's addr floods. Unlike the
// inventory queues, which drop new items when full, a full book evicts the
// entry with the oldest last-seen time to make room.
const maxAddrBookEntries = 8192

type addrEntry struct {
	addr     wire.NetAddress
	lastSeen time.Time
}

// AddrBook is a bounded, in-memory index of observed peer addresses, keyed
// by IP and port. Sample draws uniformly over individual addresses; there is
// no per-group (/16 subnet) limit on its output. It is grounded on
// btcsuite/btcd/addrmgr's classification helpers but keeps none of that
// package's on-disk new/tried bucket persistence, which is out of scope
// here.
type AddrBook struct {
	mu      sync.Mutex
	entries map[string]*addrEntry // key: addrKey, "IP/port"
}

// NewAddrBook returns an empty address book.
func NewAddrBook() *AddrBook {
	return &AddrBook{entries: make(map[string]*addrEntry)}
}

// Insert records or refreshes addr's last-seen timestamp. Unroutable
// addresses (RFC1918 space, loopback, Tor-cat addresses that don't resolve,
// …) are dropped immediately; see addrmgr.IsRoutable.
func (b *AddrBook) Insert(addr wire.NetAddress) {
	if !addrmgr.IsRoutable(&addr) {
		return
	}

	key := addrKey(addr)

	b.mu.Lock()
	defer b.mu.Unlock()

	if e, ok := b.entries[key]; ok {
		e.addr = addr
		e.lastSeen = time.Now()
		return
	}

	if len(b.entries) >= maxAddrBookEntries {
		b.evictOldestLocked()
	}
	b.entries[key] = &addrEntry{addr: addr, lastSeen: time.Now()}
}

func (b *AddrBook) evictOldestLocked() {
	var oldestKey string
	var oldestTime time.Time
	first := true
	for k, e := range b.entries {
		if first || e.lastSeen.Before(oldestTime) {
			oldestKey = k
			oldestTime = e.lastSeen
			first = false
		}
	}
	if !first {
		delete(b.entries, oldestKey)
	}
}

// Sample returns up to max addresses last seen within maxAge, chosen
// uniformly at random from the eligible set.
func (b *AddrBook) Sample(max int, maxAge time.Duration) []wire.NetAddress {
	b.mu.Lock()
	defer b.mu.Unlock()

	cutoff := time.Now().Add(-maxAge)
	eligible := make([]wire.NetAddress, 0, len(b.entries))
	for _, e := range b.entries {
		if e.lastSeen.After(cutoff) {
			eligible = append(eligible, e.addr)
		}
	}

	rand.Shuffle(len(eligible), func(i, j int) {
		eligible[i], eligible[j] = eligible[j], eligible[i]
	})

	if len(eligible) > max {
		eligible = eligible[:max]
	}
	return eligible
}

// Len returns the number of addresses currently held.
func (b *AddrBook) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}

// GroupCount returns the number of distinct addrmgr groups represented in
// the book, a cheap diversity signal for operators (not consulted by
// Sample, which samples uniformly over individual addresses).
func (b *AddrBook) GroupCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	groups := make(map[string]struct{})
	for _, e := range b.entries {
		groups[addrmgr.GroupKey(&e.addr)] = struct{}{}
	}
	return len(groups)
}

func addrKey(addr wire.NetAddress) string {
	if addr.IP == nil {
		return ""
	}
	return addr.IP.String() + "/" + strconv.Itoa(int(addr.Port))
}

package peer

// getblocksRequest is the tuple identifying a single getblocks/getheaders
// request.
type getblocksRequest struct {
	version  uint32
	locator  string // concatenated locator hashes, used as a comparison key
	stopHash string
}

// dupMemory is the fixed-capacity ring of at most the last 3 getblocks
// request tuples a session has seen, used to drop replays.
//
// It is a capacity-3 ring of comparable tuples with a Seen method that
// both checks membership and records the entry, since every caller of
// this ring needs exactly that combined operation.
type dupMemory struct {
	entries [3]getblocksRequest
	filled  [3]bool
	next    int
}

// Seen reports whether req has already been recorded, and if not, records
// it, evicting the oldest entry if the ring is full.
func (d *dupMemory) Seen(req getblocksRequest) bool {
	for i, ok := range d.filled {
		if ok && d.entries[i] == req {
			return true
		}
	}

	d.entries[d.next] = req
	d.filled[d.next] = true
	d.next = (d.next + 1) % len(d.entries)

	return false
}

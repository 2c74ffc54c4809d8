package peer

import (
	"bytes"

	"github.com/btcsuite/btcd/wire"
)

// encodeHeaderForHeadersMsg serializes a single header entry for a headers
// message: the canonical 80-byte header, followed by the network's auxiliary
// proof-of-work blob when present (merge-mined sidechains), followed by a
// varint transaction count of zero — headers messages never carry
// transactions.
//
// wire.BlockHeader has no aux-pow field of its own (the baseline protocol
// predates merge mining), so the aux-pow blob is appended here rather than
// inside the header struct.
func encodeHeaderForHeadersMsg(buf *bytes.Buffer, hdr *wire.BlockHeader, auxPow []byte) error {
	if err := hdr.BtcEncode(buf, 0, wire.BaseEncoding); err != nil {
		return err
	}

	if len(auxPow) > 0 {
		buf.Write(auxPow)
	}

	return wire.WriteVarInt(buf, 0, 0)
}

package peer

import (
	"bytes"
	"encoding/binary"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// EncodeFrame frames msg for network net at protocol version pver: 4-byte
// magic, 12-byte null-padded command, 4-byte little-endian length, 4-byte
// checksum, payload. The payload itself is produced by the
// real wire.Message implementation's BtcEncode method.
func EncodeFrame(msg wire.Message, net wire.BitcoinNet, pver uint32) ([]byte, error) {
	var payloadBuf bytes.Buffer
	if err := msg.BtcEncode(&payloadBuf, pver, wire.BaseEncoding); err != nil {
		return nil, err
	}
	payload := payloadBuf.Bytes()

	var buf bytes.Buffer
	buf.Grow(frameHeaderLen + len(payload))

	var magic [4]byte
	binary.LittleEndian.PutUint32(magic[:], uint32(net))
	buf.Write(magic[:])

	var command [12]byte
	copy(command[:], msg.Command())
	buf.Write(command[:])

	var length [4]byte
	binary.LittleEndian.PutUint32(length[:], uint32(len(payload)))
	buf.Write(length[:])

	sum := chainhash.DoubleHashB(payload)
	buf.Write(sum[:4])

	buf.Write(payload)

	return buf.Bytes(), nil
}

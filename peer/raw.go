package peer

import (
	"io"

	"github.com/btcsuite/btcd/wire"
)

// rawMessage wraps a pre-encoded payload so it can travel through the
// normal send/EncodeFrame path as a wire.Message. It exists for the one
// case the real wire.Message types can't express on their own: a headers
// reply on a merge-mined network, where an auxiliary proof-of-work blob
// must be interleaved between each header and its trailing zero varint
// — something wire.MsgHeaders has no field for.
type rawMessage struct {
	command string
	payload []byte
}

func (m *rawMessage) BtcDecode(io.Reader, uint32, wire.MessageEncoding) error {
	return nil
}

func (m *rawMessage) BtcEncode(w io.Writer, _ uint32, _ wire.MessageEncoding) error {
	_, err := w.Write(m.payload)
	return err
}

func (m *rawMessage) Command() string {
	return m.command
}

func (m *rawMessage) MaxPayloadLength(uint32) uint32 {
	return uint32(len(m.payload))
}

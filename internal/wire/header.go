package wire

import (
	"encoding/binary"
	"fmt"
)

// HeaderSize is the fixed 8-byte (type:u32, size:u32) frame header.
const HeaderSize = 8

// Header is the decoded form of a packet's 8-byte prefix.
type Header struct {
	Type uint32
	Size uint32
}

// EncodeHeader writes h into buf[:8], network byte order. buf must be at
// least HeaderSize bytes.
func EncodeHeader(buf []byte, h Header) {
	binary.BigEndian.PutUint32(buf[0:4], h.Type)
	binary.BigEndian.PutUint32(buf[4:8], h.Size)
}

// DecodeHeader parses the first 8 bytes of buf into a Header.
func DecodeHeader(buf []byte) (Header, error) {
	if len(buf) < HeaderSize {
		return Header{}, fmt.Errorf("wire: short header (%d bytes)", len(buf))
	}
	return Header{
		Type: binary.BigEndian.Uint32(buf[0:4]),
		Size: binary.BigEndian.Uint32(buf[4:8]),
	}, nil
}

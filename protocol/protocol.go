// Package protocol frames RPC messages for the wire.
//
// TCP delivers a byte stream with no message boundaries, so every message is
// wrapped in a fixed 14-byte header followed by a variable body. The reader
// consumes the header first, learns the body length, then reads exactly that
// many bytes.
//
// Frame layout:
//
//	0      3  4  5  6         10        14
//	┌──────┬──┬──┬──┬─────────┬─────────┬───────────────┐
//	│magic │v │ct│mt│   seq   │ bodyLen │    body ...    │
//	│ irp  │01│  │  │ uint32  │ uint32  │ bodyLen bytes  │
//	└──────┴──┴──┴──┴─────────┴─────────┴───────────────┘
package protocol

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Magic bytes "irp" identify a frame as ours, so a stray client speaking the
// wrong protocol (say HTTP on our port) is rejected on the first read.
const (
	MagicNumber byte = 0x69 // 'i'
	MagicByte2  byte = 0x72 // 'r'
	MagicByte3  byte = 0x70 // 'p'
	Version     byte = 0x01
	HeaderSize  int  = 14 // 3 magic + 1 version + 1 codec + 1 msgType + 4 seq + 4 bodyLen
)

// MsgType distinguishes request, response, and heartbeat frames.
type MsgType byte

const (
	MsgTypeRequest   MsgType = 0
	MsgTypeResponse  MsgType = 1
	MsgTypeHeartbeat MsgType = 2 // Keep-alive probe, no body
)

// Codec type bytes, mirrored from the codec package to avoid a circular
// import.
const (
	CodecTypeJSON   byte = 0
	CodecTypeBinary byte = 1
)

// Header is the fixed frame header.
type Header struct {
	CodecType byte    // Serialization format of the body
	MsgType   MsgType // Request, Response, or Heartbeat
	Seq       uint32  // Matches responses to requests on a multiplexed conn
	BodyLen   uint32  // Exact body size following the header
}

func (h *Header) marshal() []byte {
	buf := make([]byte, HeaderSize)
	buf[0], buf[1], buf[2] = MagicNumber, MagicByte2, MagicByte3
	buf[3] = Version
	buf[4] = h.CodecType
	buf[5] = byte(h.MsgType)
	binary.BigEndian.PutUint32(buf[6:10], h.Seq)
	binary.BigEndian.PutUint32(buf[10:14], h.BodyLen)
	return buf
}

// Encode writes one complete frame to w. When several goroutines share the
// writer, the caller must hold a write lock across the whole call or frames
// will interleave.
func Encode(w io.Writer, h *Header, body []byte) error {
	if _, err := w.Write(h.marshal()); err != nil {
		return err
	}
	// Body may be nil for heartbeats.
	if _, err := w.Write(body); err != nil {
		return err
	}
	return nil
}

// Decode reads one complete frame from r, validating magic, version, codec
// and message type. io.ReadFull guarantees whole-header and whole-body reads.
func Decode(r io.Reader) (*Header, []byte, error) {
	headerBuf := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, headerBuf); err != nil {
		return nil, nil, err
	}

	if headerBuf[0] != MagicNumber || headerBuf[1] != MagicByte2 || headerBuf[2] != MagicByte3 {
		return nil, nil, fmt.Errorf("invalid magic number: %x", headerBuf[0:3])
	}
	if headerBuf[3] != Version {
		return nil, nil, fmt.Errorf("unsupported version: %d", headerBuf[3])
	}
	if headerBuf[4] != CodecTypeJSON && headerBuf[4] != CodecTypeBinary {
		return nil, nil, fmt.Errorf("unsupported codec type: %d", headerBuf[4])
	}
	msgType := headerBuf[5]
	if msgType > byte(MsgTypeHeartbeat) {
		return nil, nil, fmt.Errorf("unsupported message type: %d", msgType)
	}

	bodyLen := binary.BigEndian.Uint32(headerBuf[10:14])
	body := make([]byte, bodyLen)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, nil, err
	}

	return &Header{
		CodecType: headerBuf[4],
		MsgType:   MsgType(msgType),
		Seq:       binary.BigEndian.Uint32(headerBuf[6:10]),
		BodyLen:   bodyLen,
	}, body, nil
}

package codec

import (
	"encoding/binary"
	"errors"
	"fmt"

	"imbalancer-rpc/message"
)

// BinaryCodec lays an RPCMessage out as three length-prefixed sections:
//
//	[2B len][ServiceMethod] [4B len][Payload] [2B len][Error]
//
// It only handles *message.RPCMessage — the envelope is the one fixed shape
// on the wire, so no reflection is needed.
type BinaryCodec struct{}

func (c *BinaryCodec) Encode(v any) ([]byte, error) {
	msg, ok := v.(*message.RPCMessage)
	if !ok {
		return nil, errors.New("BinaryCodec: v must be *RPCMessage")
	}

	total := 2 + len(msg.ServiceMethod) + 4 + len(msg.Payload) + 2 + len(msg.Error)
	buf := make([]byte, total)

	offset := 0
	binary.BigEndian.PutUint16(buf[offset:], uint16(len(msg.ServiceMethod)))
	offset += 2
	copy(buf[offset:], msg.ServiceMethod)
	offset += len(msg.ServiceMethod)

	binary.BigEndian.PutUint32(buf[offset:], uint32(len(msg.Payload)))
	offset += 4
	copy(buf[offset:], msg.Payload)
	offset += len(msg.Payload)

	binary.BigEndian.PutUint16(buf[offset:], uint16(len(msg.Error)))
	offset += 2
	copy(buf[offset:], msg.Error)

	return buf, nil
}

func (c *BinaryCodec) Decode(data []byte, v any) error {
	msg, ok := v.(*message.RPCMessage)
	if !ok {
		return errors.New("BinaryCodec: v must be *RPCMessage")
	}

	offset := 0
	method, offset, err := readSection(data, offset, 2)
	if err != nil {
		return err
	}
	msg.ServiceMethod = string(method)

	payload, offset, err := readSection(data, offset, 4)
	if err != nil {
		return err
	}
	msg.Payload = append([]byte(nil), payload...)

	errStr, _, err := readSection(data, offset, 2)
	if err != nil {
		return err
	}
	msg.Error = string(errStr)
	return nil
}

// readSection reads a big-endian length prefix of prefixLen bytes (2 or 4)
// followed by that many content bytes, bounds-checked against data.
func readSection(data []byte, offset, prefixLen int) ([]byte, int, error) {
	if offset+prefixLen > len(data) {
		return nil, 0, fmt.Errorf("BinaryCodec: truncated length prefix at offset %d", offset)
	}
	var n int
	switch prefixLen {
	case 2:
		n = int(binary.BigEndian.Uint16(data[offset:]))
	default:
		n = int(binary.BigEndian.Uint32(data[offset:]))
	}
	offset += prefixLen
	if offset+n > len(data) {
		return nil, 0, fmt.Errorf("BinaryCodec: truncated section at offset %d, want %d bytes", offset, n)
	}
	return data[offset : offset+n], offset + n, nil
}

func (c *BinaryCodec) Type() CodecType {
	return CodecTypeBinary
}

// Package codec serializes RPC messages. Two formats are supported: JSON
// (debuggable, interoperable) and a compact length-prefixed binary format.
package codec

type CodecType byte

const (
	CodecTypeJSON   CodecType = 0
	CodecTypeBinary CodecType = 1
)

type Codec interface {
	Encode(v any) ([]byte, error)
	Decode(data []byte, v any) error
	Type() CodecType
}

// GetCodec maps a codec type byte (as carried in the frame header) to its
// implementation. Unknown values fall back to binary.
func GetCodec(codecType CodecType) Codec {
	if codecType == CodecTypeJSON {
		return &JSONCodec{}
	}
	return &BinaryCodec{}
}

package codec

import "encoding/json"

// JSONCodec serializes with encoding/json. Slower and bulkier than the
// binary codec (reflection, repeated field names) but human-readable and
// usable from any language.
type JSONCodec struct{}

func (c *JSONCodec) Encode(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (c *JSONCodec) Decode(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

func (c *JSONCodec) Type() CodecType {
	return CodecTypeJSON
}

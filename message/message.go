// Package message defines the RPC envelope exchanged between client and
// server. The codec layer serializes it, the protocol layer frames it.
package message

// RPCMessage carries one RPC request or response.
//
//   - Request:  ServiceMethod set, Payload holds the serialized args.
//   - Response: Payload holds the serialized reply; Error is non-empty when
//     the handler failed.
type RPCMessage struct {
	ServiceMethod string // "ServiceName.MethodName", e.g. "Arith.Add"
	Error         string // Handler error, empty on success
	Payload       []byte // Serialized args or reply
}

// Package transport implements the client-side transport layer: multiplexed
// connections plus a bounded pool of them.
//
// A ClientTransport carries many concurrent RPC calls over one TCP
// connection. Every request gets a unique sequence number; a single receive
// goroutine reads response frames and routes each one to the caller waiting
// on that sequence.
//
//	caller-1 ──Send(seq=1)──┐
//	caller-2 ──Send(seq=2)──┼──→ one TCP conn ──→ server
//	caller-3 ──Send(seq=3)──┘
//
//	recvLoop: response(seq=2) → pending[2] → caller-2 wakes up
package transport

import (
	"encoding/json"
	"net"
	"sync"
	"time"

	"imbalancer-rpc/codec"
	"imbalancer-rpc/message"
	"imbalancer-rpc/protocol"
)

// heartbeatInterval paces the keep-alive frames that stop idle connections
// from being reaped by the peer or intermediaries.
const heartbeatInterval = 30 * time.Second

// ClientTransport manages a single multiplexed TCP connection.
type ClientTransport struct {
	conn    net.Conn
	codec   codec.CodecType
	seq     uint32   // Next sequence number; guarded by sending
	pending sync.Map // seq → chan *message.RPCMessage, one per in-flight call

	// sending serializes whole-frame writes. Interleaved writes from two
	// goroutines would corrupt the byte stream (header of A, body of B).
	sending sync.Mutex
}

// NewClientTransport wraps conn and starts the receive and heartbeat loops.
func NewClientTransport(conn net.Conn, codecType codec.CodecType) *ClientTransport {
	t := &ClientTransport{
		conn:  conn,
		codec: codecType,
	}
	go t.recvLoop()
	go t.heartbeatLoop(heartbeatInterval)
	return t
}

// Send serializes args and writes one request frame. It returns the assigned
// sequence number and the channel the matching response will arrive on.
func (t *ClientTransport) Send(serviceMethod string, args any) (uint32, <-chan *message.RPCMessage, error) {
	t.sending.Lock()
	defer t.sending.Unlock()

	t.seq++
	seq := t.seq

	payload, err := json.Marshal(args)
	if err != nil {
		return 0, nil, err
	}

	req := message.RPCMessage{
		ServiceMethod: serviceMethod,
		Payload:       payload,
	}
	body, err := codec.GetCodec(t.codec).Encode(&req)
	if err != nil {
		return 0, nil, err
	}

	header := protocol.Header{
		CodecType: byte(t.codec),
		MsgType:   protocol.MsgTypeRequest,
		Seq:       seq,
		BodyLen:   uint32(len(body)),
	}

	// Register the response channel before the frame hits the wire, or a
	// fast response could beat the registration and be dropped by recvLoop.
	// Buffered so recvLoop never blocks on a caller.
	respChan := make(chan *message.RPCMessage, 1)
	t.pending.Store(seq, respChan)

	if err := protocol.Encode(t.conn, &header, body); err != nil {
		t.pending.Delete(seq)
		return 0, nil, err
	}
	return seq, respChan, nil
}

// recvLoop is the single reader for this connection. TCP is a byte stream,
// so frame parsing has to be sequential; routing by sequence number is what
// lets responses arrive in any order.
func (t *ClientTransport) recvLoop() {
	for {
		header, body, err := protocol.Decode(t.conn)
		if err != nil {
			t.failAllPending(err)
			return
		}

		resp := message.RPCMessage{}
		codec.GetCodec(codec.CodecType(header.CodecType)).Decode(body, &resp)

		if ch, ok := t.pending.LoadAndDelete(header.Seq); ok {
			ch.(chan *message.RPCMessage) <- &resp
		}
	}
}

// failAllPending wakes every in-flight caller with the connection error so
// none of them block forever on a dead connection.
func (t *ClientTransport) failAllPending(err error) {
	t.pending.Range(func(key, value any) bool {
		value.(chan *message.RPCMessage) <- &message.RPCMessage{Error: err.Error()}
		return true
	})
	t.pending.Clear()
}

// heartbeatLoop sends empty keep-alive frames until a write fails.
func (t *ClientTransport) heartbeatLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for range ticker.C {
		header := &protocol.Header{MsgType: protocol.MsgTypeHeartbeat}
		// Heartbeats share the write lock too; an interleaved heartbeat
		// corrupts the stream as surely as an interleaved request.
		t.sending.Lock()
		err := protocol.Encode(t.conn, header, nil)
		t.sending.Unlock()
		if err != nil {
			return
		}
	}
}

// Conn exposes the underlying connection.
func (t *ClientTransport) Conn() net.Conn {
	return t.conn
}

// Close closes the connection; recvLoop fails all pending calls and exits.
func (t *ClientTransport) Close() error {
	return t.conn.Close()
}

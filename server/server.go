// Package server implements the RPC server: service registration via
// reflection, a middleware chain, parallel request handling, and graceful
// shutdown with registry deregistration.
//
// Request pipeline:
//
//	Accept conn → handleConn (one goroutine reads frames sequentially)
//	  → per request: go handleRequest
//	    → codec decode → middleware chain → reflect call → codec encode → reply
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"reflect"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"imbalancer-rpc/codec"
	"imbalancer-rpc/message"
	"imbalancer-rpc/middleware"
	"imbalancer-rpc/protocol"
	"imbalancer-rpc/registry"
)

// registrationTTL is the lease, in seconds, on each registry entry. The
// registry's keep-alive renews it; a crashed server simply expires.
const registrationTTL = 10

// Server registers services and handles incoming RPC requests.
type Server struct {
	serviceMap  map[string]*service     // "Arith" → *service
	listener    net.Listener
	wg          sync.WaitGroup          // In-flight requests, drained on shutdown
	shutdown    atomic.Bool             // Marks listener close as intentional
	middlewares []middleware.Middleware // Applied in registration order
	handler     middleware.HandlerFunc  // Middleware chain around businessHandler
	registry    registry.Registry       // Discovery registry, nil when standalone

	// advertiseAddr is what goes into the registry. It differs from the
	// listen address: ":8080" binds locally but peers need a routable
	// host:port.
	advertiseAddr string
}

// NewServer returns a server with no services registered.
func NewServer() *Server {
	return &Server{serviceMap: make(map[string]*service)}
}

// Register exposes the exported, RPC-shaped methods of rcvr (a struct
// pointer such as &Arith{}) for remote calls.
func (svr *Server) Register(rcvr any) error {
	svc, err := newService(rcvr)
	if err != nil {
		return err
	}
	svr.serviceMap[svc.name] = svc
	return nil
}

// Use appends a middleware. Order of registration is order of wrapping.
func (svr *Server) Use(mw middleware.Middleware) {
	svr.middlewares = append(svr.middlewares, mw)
}

// Serve listens on address, optionally registers every service with reg
// under advertiseAddr, and accepts connections until Shutdown. Pass a nil
// reg to skip discovery.
func (svr *Server) Serve(network, address string, advertiseAddr string, reg registry.Registry) error {
	listener, err := net.Listen(network, address)
	if err != nil {
		return err
	}
	svr.listener = listener

	// The chain is built once here, not per request.
	svr.handler = middleware.Chain(svr.middlewares...)(svr.businessHandler)

	svr.advertiseAddr = advertiseAddr
	if reg != nil {
		svr.registry = reg
		for serviceName := range svr.serviceMap {
			if err := reg.Register(serviceName, registry.ServiceInstance{
				Addr: advertiseAddr,
			}, registrationTTL); err != nil {
				log.Printf("failed to register %s: %v", serviceName, err)
			}
		}
	}

	for {
		conn, err := listener.Accept()
		if err != nil {
			// Shutdown closes the listener, which surfaces here as an
			// Accept error; the flag tells it apart from a real failure.
			if svr.shutdown.Load() {
				return nil
			}
			return err
		}
		go svr.handleConn(conn)
	}
}

// handleConn reads frames sequentially (one reader per connection — frame
// boundaries live in the byte stream) and dispatches each request to its own
// goroutine. The shared write mutex keeps concurrent responses from
// interleaving on the connection.
func (svr *Server) handleConn(conn net.Conn) {
	defer conn.Close()
	writeMu := &sync.Mutex{}
	for {
		header, body, err := protocol.Decode(conn)
		if err != nil {
			break // Closed or corrupted connection
		}

		// Heartbeats only keep the connection alive.
		if header.MsgType == protocol.MsgTypeHeartbeat {
			continue
		}

		// Without the goroutine, one slow handler would head-of-line block
		// every other request multiplexed on this connection.
		go svr.handleRequest(header, body, conn, writeMu)
	}
}

// handleRequest runs one request through decode → middleware → business
// logic → encode → write.
func (svr *Server) handleRequest(header *protocol.Header, body []byte, conn net.Conn, writeMu *sync.Mutex) {
	svr.wg.Add(1)
	defer svr.wg.Done()

	c := codec.GetCodec(codec.CodecType(header.CodecType))
	msg := message.RPCMessage{}
	if err := c.Decode(body, &msg); err != nil {
		log.Printf("failed to decode request body: %v", err)
		return
	}

	resp := svr.handler(context.Background(), &msg)

	writeMu.Lock()
	defer writeMu.Unlock()

	result, err := c.Encode(resp)
	if err != nil {
		log.Println("failed to encode response")
		return
	}

	// Same Seq as the request — that is what lets the client match the
	// response on a multiplexed connection.
	replyHeader := protocol.Header{
		CodecType: header.CodecType,
		MsgType:   protocol.MsgTypeResponse,
		Seq:       header.Seq,
		BodyLen:   uint32(len(result)),
	}
	if err := protocol.Encode(conn, &replyHeader, result); err != nil {
		log.Println("failed to write response frame")
	}
}

// Shutdown deregisters from the registry first (so clients stop routing
// here), then stops accepting, then waits for in-flight requests up to
// timeout.
func (svr *Server) Shutdown(timeout time.Duration) error {
	if svr.registry != nil {
		for serviceName := range svr.serviceMap {
			svr.registry.Deregister(serviceName, svr.advertiseAddr)
		}
	}

	// Flag before close: otherwise the Accept error races the flag and
	// Serve reports a spurious failure.
	svr.shutdown.Store(true)
	svr.listener.Close()

	done := make(chan struct{})
	go func() {
		svr.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("timeout waiting for ongoing requests to finish")
	}
}

// businessHandler dispatches to the registered service method: parse
// "Service.Method" → look up → reflect.New args/reply → unmarshal →
// reflect call → marshal reply.
func (svr *Server) businessHandler(ctx context.Context, req *message.RPCMessage) *message.RPCMessage {
	split := strings.Split(req.ServiceMethod, ".")
	if len(split) != 2 {
		return &message.RPCMessage{Error: "invalid service method format"}
	}

	svc, ok := svr.serviceMap[split[0]]
	if !ok {
		return &message.RPCMessage{Error: fmt.Sprintf("unknown service: %s", split[0])}
	}
	mt, ok := svc.method[split[1]]
	if !ok {
		return &message.RPCMessage{Error: fmt.Sprintf("unknown method: %s", req.ServiceMethod)}
	}

	argv := reflect.New(mt.ArgType)
	replyv := reflect.New(mt.ReplyType)

	if err := json.Unmarshal(req.Payload, argv.Interface()); err != nil {
		return &message.RPCMessage{Error: err.Error()}
	}

	methodErr := svc.call(mt, argv, replyv)

	replyPayload, err := json.Marshal(replyv.Interface())
	if err != nil {
		log.Println("failed to marshal method result")
	}

	resp := &message.RPCMessage{
		ServiceMethod: req.ServiceMethod,
		Payload:       replyPayload,
	}
	if methodErr != nil {
		resp.Error = methodErr.Error()
	}
	return resp
}

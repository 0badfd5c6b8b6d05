package transport

import (
	"fmt"
	"net"
	"sync"

	"imbalancer-rpc/codec"
)

// Pool is a bounded pool of multiplexed transports to one address. A
// buffered channel doubles as the free list: it is goroutine-safe and
// blocking-on-empty comes for free.
//
// Transports are created lazily up to the limit; once at capacity, Get
// blocks until another caller returns one.
type Pool struct {
	mu      sync.Mutex
	free    chan *ClientTransport
	addr    string
	max     int
	created int
	dial    func(addr string) (net.Conn, error)
	codec   codec.CodecType
	closed  bool
}

// NewPool creates a pool for addr holding at most max transports.
func NewPool(addr string, max int, codecType codec.CodecType) *Pool {
	return &Pool{
		free:  make(chan *ClientTransport, max),
		addr:  addr,
		max:   max,
		codec: codecType,
		dial: func(addr string) (net.Conn, error) {
			return net.Dial("tcp", addr)
		},
	}
}

// Get borrows a transport: a free one if available, a freshly dialed one
// while under the limit, otherwise it blocks for a return.
func (p *Pool) Get() (*ClientTransport, error) {
	select {
	case t := <-p.free:
		return t, nil
	default:
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, fmt.Errorf("transport pool for %s is closed", p.addr)
	}
	if p.created < p.max {
		p.created++
		p.mu.Unlock()
		conn, err := p.dial(p.addr)
		if err != nil {
			p.mu.Lock()
			p.created--
			p.mu.Unlock()
			return nil, err
		}
		return NewClientTransport(conn, p.codec), nil
	}
	p.mu.Unlock()

	// At capacity — wait for a transport to come back.
	t, ok := <-p.free
	if !ok {
		return nil, fmt.Errorf("transport pool for %s is closed", p.addr)
	}
	return t, nil
}

// Put returns a transport to the free list. Transports are multiplexed, so
// there is no "dirty" state to scrub; a broken one fails its callers through
// recvLoop and is dropped here.
func (p *Pool) Put(t *ClientTransport) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		t.Close()
		return
	}
	// The send happens under the mutex so it cannot race Close closing the
	// channel. free is buffered, so this never blocks.
	select {
	case p.free <- t:
	default:
		// Pool already full (shouldn't happen with balanced Get/Put); drop.
		t.Close()
	}
}

// Close shuts the pool down and closes every pooled transport. Borrowed
// transports are closed when they come back through Put.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.free)
	p.mu.Unlock()

	for t := range p.free {
		t.Close()
	}
	return nil
}

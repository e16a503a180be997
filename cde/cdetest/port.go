package cdetest

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/sumup/ojs/cde"
)

// Port is an in-memory cde.Port whose peer is a [Server]. Replies are
// delivered asynchronously and tagged with the port's origin.
type Port struct {
	server *Server
	origin string
	in     chan cde.PortMessage

	mu     sync.Mutex
	closed bool
}

// Port returns a port connected to s. Replies carry origin.
func (s *Server) Port(origin string) *Port {
	return &Port{
		server: s,
		origin: origin,
		in:     make(chan cde.PortMessage, 16),
	}
}

// Post implements cde.Port.
func (p *Port) Post(ctx context.Context, data []byte) error {
	var f cde.Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}
	go func() {
		reply, err := p.server.RoundTrip(context.WithoutCancel(ctx), f)
		if err != nil {
			return
		}
		raw, err := json.Marshal(reply)
		if err != nil {
			return
		}
		p.Inject(p.origin, raw)
	}()
	return nil
}

// Receive implements cde.Port.
func (p *Port) Receive() <-chan cde.PortMessage {
	return p.in
}

// Inject delivers an arbitrary message, as if posted by origin.
func (p *Port) Inject(origin string, data []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	select {
	case p.in <- cde.PortMessage{Origin: origin, Data: data}:
	default:
	}
}

// Close stops delivery and closes the receive channel.
func (p *Port) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	close(p.in)
}

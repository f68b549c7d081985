// ABOUTME: Transport abstraction for the bridge: a point-to-point payload channel.
// ABOUTME: Pipe provides the in-process pair used for same-process embedding and tests.

package bridge

import (
	"errors"
	"sync"
)

// ErrTransportClosed is returned by Post after the transport is closed.
var ErrTransportClosed = errors.New("bridge: transport closed")

// Transport carries arbitrary payloads between the two bridge sides. It is
// the postMessage analog: delivery is ordered, payloads are untrusted until
// guarded, and the peer may inject unrelated traffic that the bridge drops.
type Transport interface {
	// Post sends a payload to the peer. It never blocks; if the peer is not
	// draining its inbox the payload is dropped.
	Post(v any) error

	// Messages returns the inbound payload stream. The channel is closed
	// when the transport closes.
	Messages() <-chan any

	// Close releases the transport. Idempotent.
	Close() error
}

const pipeBuffer = 16

// pipeEnd is one side of an in-process transport pair.
type pipeEnd struct {
	out chan any
	in  chan any

	mu     sync.Mutex
	closed bool
}

// Pipe returns a linked transport pair: payloads posted on one end arrive
// on the other. The host application keeps one end and hands the other to
// the widget runtime.
func Pipe() (Transport, Transport) {
	a := make(chan any, pipeBuffer)
	b := make(chan any, pipeBuffer)
	return &pipeEnd{out: a, in: b}, &pipeEnd{out: b, in: a}
}

func (p *pipeEnd) Post(v any) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrTransportClosed
	}

	// Non-blocking send: a peer that stopped draining must not wedge the
	// sender's event loop.
	select {
	case p.out <- v:
		return nil
	default:
		return errors.New("bridge: peer inbox full, payload dropped")
	}
}

func (p *pipeEnd) Messages() <-chan any {
	return p.in
}

func (p *pipeEnd) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true
	close(p.out)
	return nil
}

package transport

import (
	"club-link/host"
	"club-link/protocol"
	"context"
	"sync"
)

// Exchange is an in-process chat room. Frames are delivered synchronously on the
// sender's goroutine, which keeps two-peer simulations deterministic.
type Exchange struct {
	mu       sync.Mutex
	members  map[protocol.MemberId]*Loopback
	frames   []Frame
	dropNext map[protocol.MemberId]int
}

func NewExchange() *Exchange {
	return &Exchange{
		members:  make(map[protocol.MemberId]*Loopback),
		dropNext: make(map[protocol.MemberId]int),
	}
}

// Join returns the channel endpoint of member. Joining twice returns the same endpoint.
func (e *Exchange) Join(member protocol.MemberId) *Loopback {
	e.mu.Lock()
	defer e.mu.Unlock()
	if lb, ok := e.members[member]; ok {
		return lb
	}
	lb := &Loopback{exchange: e, member: member, connected: true}
	e.members[member] = lb
	return lb
}

// Frames returns every frame the exchange accepted, including dropped ones.
func (e *Exchange) Frames() []Frame {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Frame(nil), e.frames...)
}

// DropNext silently loses the next n frames addressed to target.
func (e *Exchange) DropNext(target protocol.MemberId, n int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.dropNext[target] += n
}

// Inject delivers frame exactly as given, including its Sender.
func (e *Exchange) Inject(frame Frame) {
	e.deliver(frame)
}

func (e *Exchange) deliver(frame Frame) {
	e.mu.Lock()
	e.frames = append(e.frames, frame)
	if e.dropNext[frame.Target] > 0 {
		e.dropNext[frame.Target]--
		e.mu.Unlock()
		return
	}
	target, ok := e.members[frame.Target]
	e.mu.Unlock()

	if !ok {
		return
	}
	target.receive(frame)
}

// Loopback is one member's endpoint on an Exchange.
type Loopback struct {
	exchange *Exchange
	member   protocol.MemberId

	mu        sync.Mutex
	connected bool
	handler   func(Frame)
	// NotReady makes Subscribe report an unavailable hook that many times.
	NotReady int
}

func (l *Loopback) Send(ctx context.Context, frame Frame) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.mu.Lock()
	connected := l.connected
	l.mu.Unlock()
	if !connected {
		return ErrNotConnected
	}

	frame.Sender = l.member
	l.exchange.deliver(frame)
	return nil
}

func (l *Loopback) Subscribe(handler func(Frame)) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.NotReady > 0 {
		l.NotReady--
		return host.ErrHookUnavailable
	}
	l.handler = handler
	return nil
}

// SetConnected toggles whether the member is in the chat room. Disconnected members
// neither send nor receive.
func (l *Loopback) SetConnected(connected bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.connected = connected
}

func (l *Loopback) receive(frame Frame) {
	l.mu.Lock()
	handler, connected := l.handler, l.connected
	l.mu.Unlock()
	if handler == nil || !connected {
		return
	}
	handler(frame)
}

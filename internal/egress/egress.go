// Package egress implements the per-request outbound TCP socket (the
// "Egress Socket" of the tunnel spec): connect, queued writes, and a
// serialized event stream (connected/data/finish/closed/error) fed to
// exactly one drainer goroutine per socket.
package egress

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// State is the monotonic-forward lifecycle of a Socket.
type State int

const (
	StateConnecting State = iota
	StateConnected
	StateClosed
)

// EventKind tags the variant carried by an Event.
type EventKind int

const (
	EventConnected EventKind = iota
	EventData
	EventFinish
	EventClosed
	EventError
)

// Event is the tagged union delivered to a Socket's callback. Exactly
// one goroutine ever invokes the callback for a given socket, so events
// are strictly ordered and never interleaved.
type Event struct {
	Kind     EventKind
	Data     []byte
	Err      error
	Duration time.Duration
}

// Callback receives serialized lifecycle/data events for one socket.
type Callback func(Event)

// readBufferSize is the chunk size used when copying from the egress
// connection's read side.
const readBufferSize = 32 * 1024

// Socket wraps one outbound TCP stream opened on behalf of a single
// tunnel request slot.
type Socket struct {
	dialer  *net.Dialer
	limiter *rate.Limiter
	addr    string
	onEvent Callback

	mu         sync.Mutex
	state      State
	conn       net.Conn
	writeQueue [][]byte
	writing    bool
	closedOnce sync.Once
}

// Dial initiates an asynchronous outbound connection to addr. The
// caller receives the socket immediately in Connecting state; onEvent
// is invoked (from a background goroutine) with Connected or Error,
// and subsequently with Data/Finish/Closed events.
func Dial(ctx context.Context, dialer *net.Dialer, limiter *rate.Limiter, addr string, onEvent Callback) *Socket {
	s := &Socket{
		dialer:  dialer,
		limiter: limiter,
		addr:    addr,
		onEvent: onEvent,
		state:   StateConnecting,
	}
	go s.connectAndRun(ctx)
	return s
}

func (s *Socket) connectAndRun(ctx context.Context) {
	start := time.Now()

	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			s.deliver(Event{Kind: EventError, Err: err, Duration: time.Since(start)})
			s.transitionClosed()
			return
		}
	}

	conn, err := s.dialer.DialContext(ctx, "tcp", s.addr)
	if err != nil {
		s.deliver(Event{Kind: EventError, Err: err, Duration: time.Since(start)})
		s.transitionClosed()
		return
	}
	dialDuration := time.Since(start)

	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		conn.Close()
		return
	}
	s.conn = conn
	s.state = StateConnected
	s.mu.Unlock()

	s.deliver(Event{Kind: EventConnected, Duration: dialDuration})
	s.maybeStartDrain()
	s.readLoop()
}

// readLoop copies bytes from the connection's read side, emitting Data
// events, until EOF (Finish) or an error (Closed).
func (s *Socket) readLoop() {
	buf := make([]byte, readBufferSize)
	for {
		n, err := s.conn.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			s.deliver(Event{Kind: EventData, Data: chunk})
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				s.deliver(Event{Kind: EventFinish})
			}
			s.Close()
			return
		}
	}
}

// Write enqueues a chunk for transmission. Discarded if the socket is
// already Closed. Chunks written before the dial completes queue up and
// are sent once the socket reaches Connected; Write alone never starts
// the drainer against a nil conn.
func (s *Socket) Write(chunk []byte) {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return
	}
	s.writeQueue = append(s.writeQueue, chunk)
	s.mu.Unlock()
	s.maybeStartDrain()
}

// maybeStartDrain starts the drainer iff there is queued data, a live
// connection to write it to, and no drainer already running. Called
// after every enqueue and once more when the socket transitions to
// Connected, since writes queued during the dial have no conn to drain
// into until then.
func (s *Socket) maybeStartDrain() {
	s.mu.Lock()
	if s.writing || s.conn == nil || s.state == StateClosed || len(s.writeQueue) == 0 {
		s.mu.Unlock()
		return
	}
	s.writing = true
	s.mu.Unlock()
	go s.drainWrites()
}

// drainWrites snapshots the queue, writes each chunk to completion in
// order, then loops if more arrived while writing. Only ever started
// with a non-nil conn already in place.
func (s *Socket) drainWrites() {
	for {
		s.mu.Lock()
		if len(s.writeQueue) == 0 || s.state == StateClosed {
			s.writing = false
			s.writeQueue = nil
			s.mu.Unlock()
			return
		}
		pending := s.writeQueue
		s.writeQueue = nil
		conn := s.conn
		s.mu.Unlock()

		for _, chunk := range pending {
			if _, err := conn.Write(chunk); err != nil {
				s.Close()
				return
			}
		}
	}
}

// ShutdownWrite best-effort half-closes the write side. A no-op if the
// underlying connection has no half-close support or the socket has no
// live connection yet.
func (s *Socket) ShutdownWrite() {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return
	}
	type halfCloser interface {
		CloseWrite() error
	}
	if hc, ok := conn.(halfCloser); ok {
		_ = hc.CloseWrite()
	}
}

// Close tears down the underlying connection. Idempotent; delivers a
// Closed event exactly once.
func (s *Socket) Close() {
	s.closedOnce.Do(func() {
		s.mu.Lock()
		conn := s.conn
		s.writeQueue = nil
		s.state = StateClosed
		s.mu.Unlock()
		if conn != nil {
			conn.Close()
		}
		s.deliver(Event{Kind: EventClosed})
	})
}

// transitionClosed marks the socket closed without emitting a second
// Closed event; used on the connect-failure path where Error already
// stands in for Closed per the spec.
func (s *Socket) transitionClosed() {
	s.mu.Lock()
	s.state = StateClosed
	s.mu.Unlock()
	s.closedOnce.Do(func() {})
}

func (s *Socket) deliver(ev Event) {
	if s.onEvent != nil {
		s.onEvent(ev)
	}
}

// DefaultTimeout is used when no explicit dial timeout is configured.
const DefaultTimeout = 10 * time.Second

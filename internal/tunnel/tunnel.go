// Package tunnel implements the Tunnel actor: the owner of one upgraded
// WebSocket connection, its Request Table, its outbound write
// serializer, and its keepalive/liveness state.
package tunnel

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/wstunnel/server/internal/metrics"
	"github.com/wstunnel/server/internal/protocol"
	"github.com/wstunnel/server/internal/slot"
)

// state is the one-way lifecycle of a Tunnel.
type state int

const (
	stateOpen state = iota
	stateClosing
	stateClosed
)

// DefaultMaxMissedPings bounds how many consecutive unanswered pings
// are tolerated before a tunnel is considered dead, when the caller
// does not override it via NewWithMetrics.
const DefaultMaxMissedPings = 3

// queuedFrame is one entry in the outbound send queue: a raw wire frame
// plus a completion signal closed once the frame has been written (or
// discarded because the tunnel closed first).
type queuedFrame struct {
	data []byte
	done chan struct{}
}

// Tunnel owns one multiplexed WebSocket connection.
type Tunnel struct {
	id             string
	conn           *websocket.Conn
	codec          *protocol.Codec
	table          *slot.Table
	dialer         *net.Dialer
	limit          *rate.Limiter
	log            *slog.Logger
	metrics        *metrics.Collectors
	maxMissedPings int

	createdAt time.Time

	onClosed func(id string)

	ctx    context.Context
	cancel context.CancelFunc

	mu           sync.Mutex
	state        state
	lastActivity time.Time
	waitingPing  int
	sendQueue    []queuedFrame
	sending      bool
	closeOnce    sync.Once
	doneCh       chan struct{}
}

// New constructs a Tunnel around an already-upgraded WebSocket
// connection and starts its read loop. onClosed is invoked exactly
// once, after full teardown, so the manager can remove the tunnel from
// its registry.
func New(id string, conn *websocket.Conn, cap int, dialer *net.Dialer, limit *rate.Limiter, onClosed func(id string), log *slog.Logger) *Tunnel {
	return NewWithMetrics(id, conn, cap, dialer, limit, onClosed, log, nil, DefaultMaxMissedPings)
}

// NewWithMetrics is New plus an optional metrics sink and an explicit
// missed-ping tolerance; pass nil/DefaultMaxMissedPings to take the
// defaults.
func NewWithMetrics(id string, conn *websocket.Conn, cap int, dialer *net.Dialer, limit *rate.Limiter, onClosed func(id string), log *slog.Logger, m *metrics.Collectors, maxMissedPings int) *Tunnel {
	if maxMissedPings <= 0 {
		maxMissedPings = DefaultMaxMissedPings
	}
	ctx, cancel := context.WithCancel(context.Background())
	t := &Tunnel{
		id:             id,
		conn:           conn,
		codec:          protocol.NewCodec(conn),
		table:          slot.NewTable(cap),
		dialer:         dialer,
		limit:          limit,
		log:            log.With("tunnel_id", id),
		metrics:        m,
		maxMissedPings: maxMissedPings,
		createdAt:      time.Now(),
		onClosed:       onClosed,
		ctx:            ctx,
		cancel:         cancel,
		state:          stateOpen,
		lastActivity:   time.Now(),
		doneCh:         make(chan struct{}),
	}
	go t.readLoop()
	return t
}

// ID returns the tunnel's identifier.
func (t *Tunnel) ID() string { return t.id }

// Done returns a channel closed once the tunnel has fully torn down.
func (t *Tunnel) Done() <-chan struct{} { return t.doneCh }

// readLoop is the tunnel's single reader goroutine. It owns all
// dispatch into the Request Table and Request Slots; nothing else
// reads from the WebSocket.
func (t *Tunnel) readLoop() {
	defer t.Close()
	for {
		m, err := t.codec.ReadFrame()
		if err != nil {
			t.log.Debug("tunnel read ended", "err", err)
			return
		}
		t.handleMessage(m)
	}
}

func (t *Tunnel) handleMessage(m []byte) {
	t.mu.Lock()
	t.lastActivity = time.Now()
	t.mu.Unlock()

	cmd, hdr, off, err := protocol.DecodeHeader(m)
	if err != nil {
		t.log.Warn("dropping malformed frame", "err", err)
		return
	}

	if protocol.IsRequestCommand(cmd) {
		t.dispatchRequest(cmd, hdr, m[off:])
		return
	}

	switch cmd {
	case protocol.CmdPing:
		pong, err := protocol.EncodePong(m)
		if err != nil {
			t.log.Warn("dropping malformed ping", "err", err)
			return
		}
		t.enqueue(pong)
	case protocol.CmdPong:
		t.mu.Lock()
		t.waitingPing = 0
		t.mu.Unlock()
	default:
		t.log.Warn("dropping unknown command", "cmd", cmd)
	}
}

func (t *Tunnel) dispatchRequest(cmd uint8, hdr protocol.RequestHeader, payload []byte) {
	switch cmd {
	case protocol.CmdReqCreated:
		addr, _, err := protocol.ParseAddress(payload)
		if err != nil {
			t.log.Warn("dropping ReqCreated with bad address block", "idx", hdr.Idx, "err", err)
			return
		}
		s := t.table.Alloc(hdr.Idx, hdr.Tag)
		if s == nil {
			t.log.Debug("ReqCreated on unavailable slot", "idx", hdr.Idx, "tag", hdr.Tag)
			return
		}
		if t.metrics != nil {
			t.metrics.SlotAllocated()
		}
		s.Proxy(t.ctx, t.dialer, t.limit, addr, hdr.Tag, t)

	case protocol.CmdReqData:
		s := t.table.Get(hdr.Idx, hdr.Tag)
		if s == nil {
			return
		}
		if t.metrics != nil {
			t.metrics.BytesToEgress(len(payload))
		}
		s.OnClientData(payload)

	case protocol.CmdReqClientFinished:
		s := t.table.Get(hdr.Idx, hdr.Tag)
		if s == nil {
			return
		}
		s.OnClientFinished()

	case protocol.CmdReqClientClosed:
		t.freeSlot(hdr.Idx, hdr.Tag)

	default:
		t.log.Warn("dropping request-range command not valid inbound", "cmd", cmd)
	}
}

// OnDialResult implements slot.Callbacks.
func (t *Tunnel) OnDialResult(idx, tag uint16, d time.Duration, err error) {
	if t.metrics != nil {
		t.metrics.DialAttempt(d, err)
	}
}

// OnReqServerData implements slot.Callbacks.
func (t *Tunnel) OnReqServerData(idx, tag uint16, chunk []byte) {
	if t.metrics != nil {
		t.metrics.BytesFromEgress(len(chunk))
	}
	t.enqueue(protocol.EncodeRequestFrame(protocol.CmdReqData, idx, tag, chunk))
}

// OnReqServerFinished implements slot.Callbacks.
func (t *Tunnel) OnReqServerFinished(idx, tag uint16) {
	t.enqueue(protocol.EncodeRequestFrame(protocol.CmdReqServerFinished, idx, tag, nil))
	t.freeSlot(idx, tag)
}

// OnReqServerClosed implements slot.Callbacks.
func (t *Tunnel) OnReqServerClosed(idx, tag uint16) {
	t.enqueue(protocol.EncodeRequestFrame(protocol.CmdReqServerClosed, idx, tag, nil))
	t.freeSlot(idx, tag)
}

// freeSlot frees a request table slot and records the metric, only if
// the slot was actually still allocated under this tag — a second free
// of the same idx/tag (e.g. ReqClientClosed racing a server-side close)
// must not double-decrement the allocated-slots gauge.
func (t *Tunnel) freeSlot(idx, tag uint16) {
	freed := t.table.Free(idx, tag)
	if freed && t.metrics != nil {
		t.metrics.SlotFreed()
	}
}

// enqueue appends data to the send queue and starts the drainer if it
// is not already running. After Closing/Closed, the frame is dropped
// and its completion signal is resolved immediately.
func (t *Tunnel) enqueue(data []byte) {
	item := queuedFrame{data: data, done: make(chan struct{})}

	t.mu.Lock()
	if t.state != stateOpen {
		t.mu.Unlock()
		close(item.done)
		return
	}
	t.sendQueue = append(t.sendQueue, item)
	if t.sending {
		t.mu.Unlock()
		return
	}
	t.sending = true
	t.mu.Unlock()

	go t.drain()
}

// drain is the tunnel's single writer goroutine. It snapshots the
// queue, writes every entry in order, then checks for newcomers;
// exactly one drain goroutine runs at a time.
func (t *Tunnel) drain() {
	for {
		t.mu.Lock()
		if len(t.sendQueue) == 0 {
			t.sending = false
			t.mu.Unlock()
			return
		}
		pending := t.sendQueue
		t.sendQueue = nil
		t.mu.Unlock()

		for _, item := range pending {
			err := t.codec.WriteFrame(item.data)
			close(item.done)
			if err != nil {
				t.log.Error("tunnel write failed", "err", err)
				t.Close()
				return
			}
		}
	}
}

// Keepalive is invoked by the manager's shared ticker with the current
// time and tick period. It enqueues a Ping when the tunnel has been
// idle for a full period, and closes the tunnel once too many pings
// have gone unanswered.
func (t *Tunnel) Keepalive(now time.Time, period time.Duration) {
	t.mu.Lock()
	if t.state != stateOpen {
		t.mu.Unlock()
		return
	}
	if t.waitingPing > t.maxMissedPings {
		t.mu.Unlock()
		t.log.Warn("tunnel keepalive exceeded, closing", "missed", t.waitingPing)
		if t.metrics != nil {
			t.metrics.KeepaliveTimeout()
		}
		t.Close()
		return
	}
	idle := now.Sub(t.lastActivity) > period
	if idle {
		t.waitingPing++
	}
	t.mu.Unlock()

	if idle {
		if t.metrics != nil {
			t.metrics.PingSent()
		}
		t.enqueue(protocol.EncodePing(float64(now.UnixMilli())))
	}
}

// Close tears down the tunnel. Idempotent; safe to call from the read
// loop, the write drainer, or the manager's keepalive ticker.
func (t *Tunnel) Close() {
	t.closeOnce.Do(func() {
		t.mu.Lock()
		t.state = stateClosing
		pending := t.sendQueue
		t.sendQueue = nil
		t.mu.Unlock()

		for _, item := range pending {
			close(item.done)
		}

		t.cancel()
		t.table.Cleanup()

		t.mu.Lock()
		t.state = stateClosed
		t.mu.Unlock()

		if t.onClosed != nil {
			t.onClosed(t.id)
		}
		if err := t.conn.Close(); err != nil {
			t.log.Debug("closing websocket", "err", err)
		}
		t.log.Info("tunnel closed")
		close(t.doneCh)
	})
}

var _ fmt.Stringer = (*Tunnel)(nil)

// String implements fmt.Stringer for logging.
func (t *Tunnel) String() string {
	return fmt.Sprintf("tunnel(%s)", t.id)
}

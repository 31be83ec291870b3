// Package slot implements the Request Slot and Request Table: the
// generation-tagged arena that mediates between tunnel frames and
// per-request egress sockets.
package slot

import (
	"context"
	"net"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/wstunnel/server/internal/egress"
)

// Callbacks is implemented by the owning tunnel. Forwarding egress
// events through this interface (rather than a direct *Tunnel
// reference) keeps slot free of an import cycle with the tunnel
// package, mirroring the spec's "non-owning back-reference" guidance.
type Callbacks interface {
	OnReqServerData(idx, tag uint16, chunk []byte)
	OnReqServerFinished(idx, tag uint16)
	OnReqServerClosed(idx, tag uint16)
	OnDialResult(idx, tag uint16, d time.Duration, err error)
}

// Slot is one fixed position in a tunnel's Request Table.
type Slot struct {
	idx   uint16
	mu    sync.Mutex
	tag   uint16
	inUse bool
	eg    *egress.Socket
}

// Idx returns the slot's fixed position.
func (s *Slot) Idx() uint16 { return s.idx }

// Tag returns the slot's current generation tag.
func (s *Slot) Tag() uint16 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tag
}

// Proxy opens an egress socket to addr and wires its events back to cb.
// Precondition: no egress socket is currently attached to this slot.
// Callers must invoke Proxy for a freshly allocated slot before any
// other table operation touches the same idx, since the slot's egress
// socket is not installed until the dial goroutine is spawned.
func (s *Slot) Proxy(ctx context.Context, dialer *net.Dialer, limiter *rate.Limiter, addr string, tag uint16, cb Callbacks) {
	s.mu.Lock()
	if s.eg != nil {
		s.mu.Unlock()
		return
	}
	idx := s.idx
	s.mu.Unlock()

	eg := egress.Dial(ctx, dialer, limiter, addr, func(ev egress.Event) {
		switch ev.Kind {
		case egress.EventConnected:
			cb.OnDialResult(idx, tag, ev.Duration, nil)
		case egress.EventData:
			cb.OnReqServerData(idx, tag, ev.Data)
		case egress.EventFinish:
			cb.OnReqServerFinished(idx, tag)
		case egress.EventError:
			cb.OnDialResult(idx, tag, ev.Duration, ev.Err)
			cb.OnReqServerClosed(idx, tag)
		case egress.EventClosed:
			cb.OnReqServerClosed(idx, tag)
		}
	})

	s.mu.Lock()
	s.eg = eg
	s.mu.Unlock()
}

// OnClientData writes buf into the slot's egress socket; a no-op if no
// egress socket is attached.
func (s *Slot) OnClientData(buf []byte) {
	s.mu.Lock()
	eg := s.eg
	s.mu.Unlock()
	if eg == nil {
		return
	}
	eg.Write(buf)
}

// OnClientFinished half-closes the egress socket's write side.
func (s *Slot) OnClientFinished() {
	s.mu.Lock()
	eg := s.eg
	s.mu.Unlock()
	if eg == nil {
		return
	}
	eg.ShutdownWrite()
}


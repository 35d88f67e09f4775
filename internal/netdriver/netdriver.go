// Package netdriver is the reference implementation of socket.Driver: real
// TCP via net.Listen/net.Dial, standing in for the native epoll/kqueue
// event-loop driver spec §6 treats as an external collaborator.
//
// Go's net.Conn is a blocking interface, not the non-blocking descriptor
// the Driver contract models: Write blocks until the requested bytes are
// written or the connection errors, so in practice it never returns a
// partial write the way a raw non-blocking socket would. netdriver keeps
// the Driver contract honest (ok/n as documented) but its Write is, in
// effect, always all-or-nothing — the Socket write-queue machinery in
// internal/socket still matters for drivers that genuinely are
// non-blocking, and for close_after_write ordering either way.
package netdriver

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	"golang.org/x/net/netutil"
	"golang.org/x/time/rate"

	"github.com/corewave/ev80/internal/socket"
	"github.com/corewave/ev80/internal/util"
)

// EventKind identifies which of the Driver's three callbacks an Event
// represents, carried over a channel instead of invoked directly so the
// worker's single loop goroutine stays the only caller of Dispatcher
// methods (spec §5's "no locks within the core").
type EventKind int

const (
	EventData EventKind = iota
	EventWritable
	EventClosed
)

// Event is one raw callback, queued for the loop goroutine to replay onto
// the Dispatcher in arrival order.
type Event struct {
	ID   socket.ID
	Kind EventKind
	Data []byte
}

// Driver implements socket.Driver over real TCP connections.
type Driver struct {
	events chan<- Event

	mu     sync.Mutex
	conns  map[socket.ID]net.Conn
	nextID uint64
}

// New creates a Driver that posts raw callbacks onto events. The caller
// (internal/worker) owns draining events on the loop goroutine.
func New(events chan<- Event) *Driver {
	return &Driver{events: events, conns: make(map[socket.ID]net.Conn)}
}

func (d *Driver) register(conn net.Conn) socket.ID {
	id := socket.ID(atomic.AddUint64(&d.nextID, 1))
	d.mu.Lock()
	d.conns[id] = conn
	d.mu.Unlock()
	return id
}

func (d *Driver) lookup(id socket.ID) (net.Conn, bool) {
	d.mu.Lock()
	conn, ok := d.conns[id]
	d.mu.Unlock()
	return conn, ok
}

func (d *Driver) remove(id socket.ID) (net.Conn, bool) {
	d.mu.Lock()
	conn, ok := d.conns[id]
	delete(d.conns, id)
	d.mu.Unlock()
	return conn, ok
}

// Write satisfies socket.Driver. See the package doc for why a partial
// write is effectively unreachable here.
func (d *Driver) Write(id socket.ID, data []byte, offset int) (ok bool, n int) {
	conn, found := d.lookup(id)
	if !found {
		return false, 0
	}
	n, err := conn.Write(data[offset:])
	if err != nil {
		return false, n
	}
	util.Stats.AddWritten(n)
	return true, n
}

// Close satisfies socket.Driver.
func (d *Driver) Close(id socket.ID) bool {
	conn, found := d.remove(id)
	if !found {
		return true
	}
	conn.Close()
	util.Stats.RemoveSocket()
	return true
}

// Connect satisfies socket.Driver by dialing host:port without blocking the
// caller past the dial itself; the connection's read pump and the initial
// writable event run on their own goroutine.
func (d *Driver) Connect(ctx context.Context, host string, port int) (socket.ID, error) {
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", fmt.Sprintf("%s:%d", host, port))
	if err != nil {
		return 0, errors.Wrapf(err, "dial %s:%d", host, port)
	}

	id := d.register(conn)
	util.Stats.AddSocket()
	go d.pump(id, conn)
	// An outbound connection is writable the instant it is dialed — this
	// is the event that promotes the Socket's connected flag and fires
	// OnConnect (spec §4.A).
	d.events <- Event{ID: id, Kind: EventWritable}
	return id, nil
}

// Serve accepts connections on addr until ctx is cancelled. maxConns caps
// concurrently accepted connections per worker via netutil.LimitListener —
// a direct stand-in for the resource ceiling spec.md leaves unspecified at
// the native loop driver boundary. limiter, if non-nil, paces the accept
// loop itself so a connection flood cannot starve this worker's single
// dispatch goroutine, the same high/low-watermark backpressure idea the
// teacher's sender applied to outbound writes, generalized here to
// inbound accepts.
func (d *Driver) Serve(ctx context.Context, addr string, maxConns int, limiter *rate.Limiter) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.Wrapf(err, "listen %s", addr)
	}
	limited := netutil.LimitListener(ln, maxConns)

	go func() {
		<-ctx.Done()
		limited.Close()
	}()

	for {
		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				return nil
			}
		}

		conn, err := limited.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return errors.Wrap(err, "accept")
			}
		}

		id := d.register(conn)
		util.Stats.AddSocket()
		util.LogDebug("[%08x] accepted %s (fingerprint %08x)",
			id, conn.RemoteAddr(), util.ConnFingerprint(conn))
		go d.pump(id, conn)
	}
}

// pump is the per-connection reader goroutine. Every chunk read is
// followed by a writable event: since Write is effectively all-or-nothing
// here (see package doc), the socket is always ready for more the instant
// a read completes, which is also what promotes a freshly-materialized
// inbound Socket's writable flag and drains anything already queued.
func (d *Driver) pump(id socket.ID, conn net.Conn) {
	buf := make([]byte, 32*1024)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			util.Stats.AddRead(n)
			d.events <- Event{ID: id, Kind: EventData, Data: chunk}
			d.events <- Event{ID: id, Kind: EventWritable}
		}
		if err != nil {
			if _, found := d.remove(id); found {
				conn.Close()
				util.Stats.RemoveSocket()
			}
			d.events <- Event{ID: id, Kind: EventClosed}
			return
		}
	}
}

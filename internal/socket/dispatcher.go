package socket

import (
	"context"
	"sync"

	"github.com/pkg/errors"
)

// Dispatcher is the process-wide-per-worker fd→Socket registry described in
// spec §4.B. Its own event-delivery methods (OnData/OnWrite/OnClose) are
// called exclusively from the owning worker's single loop goroutine — the
// "no locks within the core" scheduling model of spec §5. But Connect is
// documented safe to call from any goroutine (SPEC_FULL.md §5), so the
// registry map itself still needs a lock: mu guards sockets and onNewSocket
// only, never the Sockets' own state, which each Socket protects itself.
type Dispatcher struct {
	driver Driver

	mu      sync.Mutex
	sockets map[ID]*Socket

	// onNewSocket installs a default binding on every Socket the
	// dispatcher materializes lazily from an unknown fd's first byte
	// (spec §4.B). The core dispatcher stays protocol-agnostic: the
	// worker that wires an HTTP server sets this to httpserver's default
	// binder; a raw TCP echo worker can leave it nil.
	onNewSocket func(*Socket)
}

// NewDispatcher creates an empty registry bound to driver.
func NewDispatcher(driver Driver) *Dispatcher {
	return &Dispatcher{driver: driver, sockets: make(map[ID]*Socket)}
}

// SetNewSocketHook installs the callback invoked exactly once, right after
// insertion and before any bytes are delivered, for every Socket the
// dispatcher creates lazily from inbound data (spec §4.B: "install the
// default HTTP reader binding").
func (d *Dispatcher) SetNewSocketHook(fn func(*Socket)) {
	d.mu.Lock()
	d.onNewSocket = fn
	d.mu.Unlock()
}

func (d *Dispatcher) newSocketHook() func(*Socket) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.onNewSocket
}

// Lookup returns the Socket registered for id, if any.
func (d *Dispatcher) Lookup(id ID) (*Socket, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	s, ok := d.sockets[id]
	return s, ok
}

// Len reports the number of live sockets — invariant check surface for
// tests ("closed(S) iff S not in the registry").
func (d *Dispatcher) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.sockets)
}

func (d *Dispatcher) insert(id ID, s *Socket) {
	d.mu.Lock()
	d.sockets[id] = s
	d.mu.Unlock()
}

func (d *Dispatcher) remove(id ID) (*Socket, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	s, ok := d.sockets[id]
	if ok {
		delete(d.sockets, id)
	}
	return s, ok
}

// OnData is the driver's raw "bytes arrived" callback (spec §4.B). An
// unknown id is materialized as a new connected Socket, the new-socket hook
// is installed, and then the same bytes are delivered to it — the lazy
// accept-on-first-byte rule. Called only from the loop goroutine.
func (d *Dispatcher) OnData(id ID, data []byte) {
	d.mu.Lock()
	s, existed := d.sockets[id]
	if !existed {
		s = newInbound(id, d.driver)
		d.sockets[id] = s
	}
	d.mu.Unlock()

	if !existed {
		if hook := d.newSocketHook(); hook != nil {
			hook(s)
		}
	}

	if fn := s.dataHandler(); fn != nil {
		fn(data)
	}
}

// OnWrite is the driver's raw "writable" callback. Called only from the
// loop goroutine.
func (d *Dispatcher) OnWrite(id ID) {
	s, ok := d.Lookup(id)
	if !ok {
		return
	}
	s.handleWritable()
}

// OnClose is the driver's raw "closed" callback. The registry entry is
// removed before on_close fires, per spec §4.B, so user code can never
// observe a dangling entry from within its own close handler. Called only
// from the loop goroutine.
func (d *Dispatcher) OnClose(id ID) {
	s, ok := d.remove(id)
	if !ok {
		return
	}
	if !s.markClosed() {
		return
	}
	if fn := s.closeHandler(); fn != nil {
		fn()
	}
}

// Connect delegates to the driver and, on success, registers a new
// outbound Socket (connected=false, writable=false) per spec §4.B. Safe to
// call from any goroutine — the registry insert is mutex-guarded, and the
// new Socket's own state is guarded independently of the loop goroutine
// that will later drive its OnWrite/OnClose callbacks.
func (d *Dispatcher) Connect(ctx context.Context, host string, port int) (*Socket, error) {
	id, err := d.driver.Connect(ctx, host, port)
	if err != nil {
		return nil, errors.Wrapf(err, "connect %s:%d", host, port)
	}
	s := newOutbound(id, d.driver)
	d.insert(id, s)
	return s, nil
}

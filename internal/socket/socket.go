package socket

import (
	"fmt"
	"sync"
)

// pendingWrite is one queued write: the full payload plus how much of it
// has already drained.
type pendingWrite struct {
	data   []byte
	offset int
}

// Socket holds the complete per-descriptor state described in spec §3:
// write buffer, connected/writable/close-after-write/closed flags, and the
// four user-overridable event hooks.
//
// A Socket's fields are touched from two distinct places: the owning
// worker's loop goroutine (via Dispatcher.OnData/OnWrite/OnClose) and
// whatever goroutine application code runs on — the coroutine/stream body
// goroutines spawned per connection, or a callback fired from an entirely
// unrelated goroutine (an AWS SDK retry goroutine, say). mu guards every
// field below it; writeMu serializes the actual driver.Write calls so a
// handler's direct write and the loop's queue drain never interleave bytes
// on the wire for the same connection. Neither lock is ever held while
// calling a user hook, so a hook that turns around and calls Write/Close on
// its own socket cannot deadlock. driver.Write runs under writeMu only;
// driver.Close runs under mu (see closeLocked).
type Socket struct {
	id     ID
	driver Driver

	mu sync.Mutex

	connected       bool
	writable        bool
	closeAfterWrite bool
	closed          bool
	closeRequested  bool

	queue []pendingWrite

	onConnect func()
	onData    func([]byte)
	onWrite   func()
	onClose   func()

	writeMu sync.Mutex
}

// newOutbound creates a Socket for a connection this worker initiated.
// connected=false until the driver reports the connect with an OnWrite
// callback (spec §4.A).
func newOutbound(id ID, driver Driver) *Socket {
	return &Socket{id: id, driver: driver}
}

// newInbound creates a Socket for a connection the dispatcher observed for
// the first time via inbound data — spec §4.B's "materialize lazily on
// first byte" rule. Such sockets are connected by definition: the peer's
// bytes already arrived.
func newInbound(id ID, driver Driver) *Socket {
	return &Socket{id: id, driver: driver, connected: true}
}

// ID returns the socket's opaque descriptor handle.
func (s *Socket) ID() ID { return s.id }

// Connected reports whether on_connect has fired.
func (s *Socket) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// Writable reports whether the last write fully drained and the driver
// currently reports room.
func (s *Socket) Writable() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writable
}

// Closed reports whether on_close has already fired for this socket.
func (s *Socket) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// CloseAfterWrite reports the current graceful-close-after-drain flag.
func (s *Socket) CloseAfterWrite() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeAfterWrite
}

// SetCloseAfterWrite sets the graceful-close-after-drain flag without
// issuing a write. Handlers and the HTTP router use this to record the
// keep-alive decision before calling HTTPResponse.
func (s *Socket) SetCloseAfterWrite(v bool) {
	s.mu.Lock()
	s.closeAfterWrite = v
	s.mu.Unlock()
}

// SetConnectHandler installs the on_connect hook, replacing whatever was
// there before. Per the Design Notes, a Socket exposes exactly one
// callback per event at a time — this setter is the only way to change it.
func (s *Socket) SetConnectHandler(fn func()) {
	s.mu.Lock()
	s.onConnect = fn
	s.mu.Unlock()
}

// SetDataHandler installs the on_data hook.
func (s *Socket) SetDataHandler(fn func([]byte)) {
	s.mu.Lock()
	s.onData = fn
	s.mu.Unlock()
}

// SetWriteHandler installs the on_write hook. It fires at the end of a
// dispatcher OnWrite callback that leaves the write queue empty; a callback
// that ends on a partial write, a failed write, or a close-after-write
// close does not fire it (see SPEC_FULL.md §4).
func (s *Socket) SetWriteHandler(fn func()) {
	s.mu.Lock()
	s.onWrite = fn
	s.mu.Unlock()
}

// SetCloseHandler installs the on_close hook.
func (s *Socket) SetCloseHandler(fn func()) {
	s.mu.Lock()
	s.onClose = fn
	s.mu.Unlock()
}

// dataHandler and closeHandler snapshot the current hook under the lock so
// callers can invoke it after releasing mu — never call user code while
// holding it.
func (s *Socket) dataHandler() func([]byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.onData
}

func (s *Socket) closeHandler() func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.onClose
}

// markClosed flips closed to true exactly once and reports whether this
// call was the one that did it, so the Dispatcher fires on_close at most
// once per socket (spec §4.B).
func (s *Socket) markClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.closed = true
	return true
}

// Write enqueues or sends data, per spec §4.A. It never overrides the
// current close-after-write flag. Safe to call from any goroutine: it
// only ever mutates Socket state under mu and serializes the actual wire
// write against the loop goroutine's own drains through writeMu.
func (s *Socket) Write(data []byte) bool { return s.write(data, nil) }

// WriteAndClose is Write with close_after_write forced true: the socket
// closes once data (and anything already queued ahead of it) has drained.
func (s *Socket) WriteAndClose(data []byte) bool {
	yes := true
	return s.write(data, &yes)
}

func (s *Socket) write(data []byte, closeAfter *bool) bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	if closeAfter != nil {
		s.closeAfterWrite = *closeAfter
	}
	if !s.writable {
		s.queue = append(s.queue, pendingWrite{data: data})
		s.mu.Unlock()
		return true
	}
	s.mu.Unlock()

	s.writeMu.Lock()
	ok, n := s.driver.Write(s.id, data, 0)
	s.writeMu.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case !ok:
		s.closeLocked()
		return false
	case n < len(data):
		s.writable = false
		s.queue = append(s.queue, pendingWrite{data: data, offset: n})
		return true
	case s.closeAfterWrite:
		s.queue = s.queue[:0]
		s.closeLocked()
		return true
	default:
		s.queue = s.queue[:0]
		return true
	}
}

// Close is idempotent: it clears the write buffer and asks the driver to
// close. on_close only fires once the Dispatcher observes the driver
// report the close (spec §4.A). Safe to call from any goroutine.
func (s *Socket) Close() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeLocked()
}

// closeLocked is Close's body, callable by write/handleWritable which
// already hold mu — it must never itself take the lock.
func (s *Socket) closeLocked() bool {
	if s.closeRequested {
		return true
	}
	s.closeRequested = true
	s.queue = s.queue[:0]
	return s.driver.Close(s.id)
}

// handleWritable implements spec §4.A's "on_write event (from dispatcher)":
// promote connected/fire on_connect at most once, then drain the write
// queue until it empties or a partial write leaves it non-empty again.
// Only the owning worker's loop goroutine ever calls this (Dispatcher.OnWrite
// is the sole caller), so it is the only place the queue's head is ever
// dequeued — that invariant is what lets the loop below release mu around
// each driver.Write call without another goroutine stealing queue[0].
//
// writable only flips true once the queue is confirmed empty: marking it
// true any earlier would let a concurrent Write see "fast path is safe"
// while older queued bytes are still waiting to drain, reordering them on
// the wire.
func (s *Socket) handleWritable() {
	s.mu.Lock()
	promote := !s.connected
	if promote {
		s.connected = true
	}
	onConnect := s.onConnect
	s.mu.Unlock()

	if promote && onConnect != nil {
		onConnect()
	}

	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			s.writable = true
			onWrite := s.onWrite
			s.mu.Unlock()
			if onWrite != nil {
				onWrite()
			}
			return
		}
		head := s.queue[0]
		s.mu.Unlock()

		s.writeMu.Lock()
		ok, n := s.driver.Write(s.id, head.data, head.offset)
		s.writeMu.Unlock()

		s.mu.Lock()
		switch {
		case !ok:
			s.closeLocked()
			s.mu.Unlock()
			return
		case n < len(head.data)-head.offset:
			s.queue[0].offset += n
			s.mu.Unlock()
			return
		case len(s.queue) == 1 && s.closeAfterWrite:
			s.queue = s.queue[:0]
			s.closeLocked()
			s.mu.Unlock()
			return
		default:
			s.queue = s.queue[1:]
			s.mu.Unlock()
		}
	}
}

// HTTPResponse formats and writes an HTTP/1.1 response per spec §4.A.
// headers may be nil, a plain string (treated as a Content-type value), or
// a map[string]string rendered as "K: V\r\n" pairs. Connection is close iff
// CloseAfterWrite() is currently set — callers (the router, or a handler
// overriding keep-alive itself) must set that flag before calling this.
// Safe to call from any goroutine, including one with no relation to the
// request that produced the data (see internal/blobhandler's async Fetch).
func (s *Socket) HTTPResponse(status string, headers any, body []byte) bool {
	conn := "keep-alive"
	if s.CloseAfterWrite() {
		conn = "close"
	}

	var headerBlock string
	switch h := headers.(type) {
	case nil:
	case string:
		headerBlock = fmt.Sprintf("Content-type: %s\r\n", h)
	case map[string]string:
		for k, v := range h {
			headerBlock += fmt.Sprintf("%s: %s\r\n", k, v)
		}
	default:
		headerBlock = fmt.Sprintf("Content-type: %v\r\n", h)
	}

	head := fmt.Sprintf("HTTP/1.1 %s\r\nConnection: %s\r\n%sContent-length: %d\r\n\r\n",
		status, conn, headerBlock, len(body))

	buf := make([]byte, 0, len(head)+len(body))
	buf = append(buf, head...)
	buf = append(buf, body...)
	return s.Write(buf)
}

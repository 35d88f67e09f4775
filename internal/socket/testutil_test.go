package socket_test

import (
	"context"
	"sync"

	"github.com/corewave/ev80/internal/socket"
)

// fakeDriver is an in-memory socket.Driver for tests: writes accumulate per
// ID instead of going anywhere, and Close just records the ID as closed.
// Adapted from tests/adapter_test.go's mockTransport pattern — generalized
// from "two linked peers exchanging packets" to "one fake driver a test can
// feed bytes into and assert writes against."
type fakeDriver struct {
	mu      sync.Mutex
	written map[socket.ID][]byte
	closed  map[socket.ID]bool
	nextID  socket.ID

	// writeOK, if set, overrides the default "always succeeds" write
	// behavior for a given ID — used to simulate a dead descriptor.
	writeOK map[socket.ID]bool
	// partial caps how many bytes a single Write call accepts for an ID,
	// used to simulate backpressure (a write that doesn't fully drain).
	partial map[socket.ID]int
}

func newFakeDriver() *fakeDriver {
	return &fakeDriver{
		written: make(map[socket.ID][]byte),
		closed:  make(map[socket.ID]bool),
		writeOK: make(map[socket.ID]bool),
		partial: make(map[socket.ID]int),
	}
}

func (d *fakeDriver) Write(id socket.ID, data []byte, offset int) (bool, int) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if ok, set := d.writeOK[id]; set && !ok {
		return false, 0
	}

	remaining := data[offset:]
	n := len(remaining)
	if limit, ok := d.partial[id]; ok && limit < n {
		n = limit
	}
	d.written[id] = append(d.written[id], remaining[:n]...)
	return true, n
}

func (d *fakeDriver) Close(id socket.ID) bool {
	d.mu.Lock()
	d.closed[id] = true
	d.mu.Unlock()
	return true
}

func (d *fakeDriver) Connect(_ context.Context, _ string, _ int) (socket.ID, error) {
	d.mu.Lock()
	d.nextID++
	id := d.nextID
	d.mu.Unlock()
	return id, nil
}

func (d *fakeDriver) writtenBytes(id socket.ID) []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]byte(nil), d.written[id]...)
}

func (d *fakeDriver) isClosed(id socket.ID) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed[id]
}

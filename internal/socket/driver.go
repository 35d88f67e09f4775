// Package socket implements the per-connection event dispatcher: the
// Socket write buffer and half-closed state machine, and the Dispatcher
// that routes a loop driver's raw callbacks to the right Socket.
package socket

import "context"

// ID identifies a Socket within one worker's Dispatcher. It is opaque and
// only meaningful to the Driver that issued it — callers never construct
// one themselves.
type ID uint64

// Driver is the boundary to the native event-loop layer (epoll/kqueue
// equivalent) that this package treats as an external collaborator. It is
// never implemented in this package; see internal/netdriver for the
// reference TCP implementation.
type Driver interface {
	// Write attempts a non-blocking write of data[offset:]. ok=false means
	// id is dead (the caller should treat this as a terminal failure); n is
	// the number of bytes of data[offset:] actually written otherwise.
	Write(id ID, data []byte, offset int) (ok bool, n int)

	// Close schedules id for close. May complete synchronously or
	// asynchronously; either way the Dispatcher only considers the Socket
	// closed once its OnClose callback fires.
	Close(id ID) bool

	// Connect dials host:port without blocking. The returned ID is
	// registered immediately; completion is signaled by a later OnWrite
	// callback on that ID.
	Connect(ctx context.Context, host string, port int) (ID, error)
}

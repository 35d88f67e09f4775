// Package worker wires one Dispatcher to one netdriver.Driver behind a
// single loop goroutine, realizing spec §5's "single-threaded cooperative
// per worker" scheduling model: each Worker owns its own dispatcher,
// registry, and event channel, with no sharing between workers.
package worker

import (
	"context"

	"golang.org/x/time/rate"

	"github.com/corewave/ev80/internal/netdriver"
	"github.com/corewave/ev80/internal/socket"
	"github.com/corewave/ev80/internal/util"
)

// Worker is one ambient worker identity (spec §4.H's "process-wide globals,
// pass them as explicit parameters" resolution): ID replaces the source's
// global WORKERID, and the Dispatcher/Driver pair replaces ELFD.
type Worker struct {
	ID         int
	Dispatcher *socket.Dispatcher
	Driver     *netdriver.Driver

	events chan netdriver.Event
}

// New creates a Worker with its own event channel, Driver, and Dispatcher.
// onNewSocket installs the default binding for newly observed sockets
// (typically an httpserver.Router's Bind method); it may be nil for a
// worker that only makes outbound connections.
func New(id int, onNewSocket func(*socket.Socket)) *Worker {
	events := make(chan netdriver.Event, 256)
	driver := netdriver.New(events)
	dispatcher := socket.NewDispatcher(driver)
	dispatcher.SetNewSocketHook(onNewSocket)

	return &Worker{
		ID:         id,
		Dispatcher: dispatcher,
		Driver:     driver,
		events:     events,
	}
}

// Serve accepts on addr and runs the loop goroutine until ctx is
// cancelled. maxConns and acceptRate bound this worker's inbound
// connection load (see netdriver.Driver.Serve).
func (w *Worker) Serve(ctx context.Context, addr string, maxConns int, acceptRate *rate.Limiter) error {
	go w.loop(ctx)
	return w.Driver.Serve(ctx, addr, maxConns, acceptRate)
}

// Connect dials host:port through this worker's driver and registers the
// resulting Socket. Safe to call from any goroutine.
func (w *Worker) Connect(ctx context.Context, host string, port int) (*socket.Socket, error) {
	return w.Dispatcher.Connect(ctx, host, port)
}

// loop is the worker's single loop goroutine: it is the only caller of
// Dispatcher.OnData/OnWrite/OnClose, so those three never run concurrently
// with each other; they still take the registry and per-Socket mutexes
// briefly, because Connect, and every Socket's Write/Close, are safe to
// call from any other goroutine (spec §5).
func (w *Worker) loop(ctx context.Context) {
	for {
		select {
		case ev := <-w.events:
			switch ev.Kind {
			case netdriver.EventData:
				w.Dispatcher.OnData(ev.ID, ev.Data)
			case netdriver.EventWritable:
				w.Dispatcher.OnWrite(ev.ID)
			case netdriver.EventClosed:
				w.Dispatcher.OnClose(ev.ID)
			}
		case <-ctx.Done():
			util.LogInfo("worker %d: shutting down, %d live sockets", w.ID, w.Dispatcher.Len())
			return
		}
	}
}

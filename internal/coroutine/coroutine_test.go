package coroutine_test

import (
	"context"
	"testing"
	"time"

	"github.com/corewave/ev80/internal/coroutine"
	"github.com/corewave/ev80/internal/socket"
)

// nopDriver is the minimal socket.Driver a coroutine test needs: nothing in
// this package ever writes or closes through it, the tests only drive
// Dispatcher.OnData/OnClose directly.
type nopDriver struct{}

func (nopDriver) Write(socket.ID, []byte, int) (bool, int)        { return true, 0 }
func (nopDriver) Close(socket.ID) bool                            { return true }
func (nopDriver) Connect(context.Context, string, int) (socket.ID, error) { return 0, nil }

func newTestSocket(t *testing.T) (*socket.Dispatcher, *socket.Socket) {
	t.Helper()
	d := socket.NewDispatcher(nopDriver{})
	var got *socket.Socket
	d.SetNewSocketHook(func(s *socket.Socket) { got = s })
	d.OnData(1, nil)
	if got == nil {
		t.Fatal("expected the new-socket hook to fire")
	}
	return d, got
}

func TestChunksDeliveredInArrivalOrder(t *testing.T) {
	d, s := newTestSocket(t)

	var got []string
	done := make(chan struct{})
	coroutine.Bind(s, func(stream coroutine.Stream, resolve coroutine.Resolve) {
		for {
			chunk, ok := stream()
			if !ok {
				resolve(nil)
				close(done)
				return
			}
			got = append(got, string(chunk))
		}
	})

	d.OnData(1, []byte("first"))
	d.OnData(1, []byte("second"))
	d.OnData(1, []byte("third"))
	d.OnClose(1)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("coroutine never resolved")
	}

	want := []string{"first", "second", "third"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestTerminalSentinelFiresExactlyOnce(t *testing.T) {
	d, s := newTestSocket(t)

	terminals := 0
	done := make(chan struct{})
	coroutine.Bind(s, func(stream coroutine.Stream, resolve coroutine.Resolve) {
		for {
			_, ok := stream()
			if !ok {
				terminals++
				resolve(terminals)
				close(done)
				return
			}
		}
	})

	// OnClose is idempotent at the Dispatcher (it deletes the registry
	// entry and guards on s.closed), so a second call must not reach the
	// coroutine's close handler at all.
	d.OnClose(1)
	d.OnClose(1)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("coroutine never resolved")
	}

	if terminals != 1 {
		t.Fatalf("expected exactly 1 terminal sentinel, got %d", terminals)
	}
}

func TestDeadCoroutineIgnoresFurtherEvents(t *testing.T) {
	d, s := newTestSocket(t)

	done := make(chan struct{})
	coroutine.Bind(s, func(stream coroutine.Stream, resolve coroutine.Resolve) {
		stream() // consume "first"
		resolve("done")
		close(done)
	})

	d.OnData(1, []byte("first"))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("coroutine body never returned")
	}

	// The body already returned without looping back to stream() again,
	// so delivering more events must not hang or panic: deliver() sees
	// b.done closed and marks the binding dead.
	d.OnData(1, []byte("late"))
	d.OnClose(1)
}

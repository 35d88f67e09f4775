package stream_test

import (
	"context"
	"testing"
	"time"

	"github.com/corewave/ev80/internal/socket"
	"github.com/corewave/ev80/internal/stream"
)

type nopDriver struct{}

func (nopDriver) Write(socket.ID, []byte, int) (bool, int)               { return true, 0 }
func (nopDriver) Close(socket.ID) bool                                   { return true }
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

func await(t *testing.T, done <-chan struct{}) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for the protocol coroutine to finish")
	}
}

func TestByteCountRead(t *testing.T) {
	d, s := newTestSocket(t)

	var got []byte
	done := make(chan struct{})
	stream.Bind(s, func(read stream.Read, resolve stream.Resolve) {
		data, ok := read(stream.ByteCount(5))
		if !ok {
			t.Error("expected a successful read")
		}
		got = data
		resolve(nil)
		close(done)
	})

	d.OnData(1, []byte("hello world"))
	await(t, done)

	if string(got) != "hello" {
		t.Fatalf("got %q, want %q", got, "hello")
	}
}

func TestDelimiterReadAcrossChunkBoundary(t *testing.T) {
	d, s := newTestSocket(t)

	var got []byte
	done := make(chan struct{})
	stream.Bind(s, func(read stream.Read, resolve stream.Resolve) {
		data, ok := read(stream.Delimiter("\r\n\r\n"))
		if !ok {
			t.Error("expected a successful read")
		}
		got = data
		resolve(nil)
		close(done)
	})

	// The delimiter straddles the chunk boundary: "\r\n\r" then "\n".
	d.OnData(1, []byte("GET / HTTP/1.1\r\n\r"))
	d.OnData(1, []byte("\nbody"))
	await(t, done)

	want := "GET / HTTP/1.1\r\n\r\n"
	if string(got) != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestMultipleFramesInOneChunk(t *testing.T) {
	d, s := newTestSocket(t)

	var got []string
	done := make(chan struct{})
	stream.Bind(s, func(read stream.Read, resolve stream.Resolve) {
		for i := 0; i < 2; i++ {
			data, ok := read(stream.Delimiter("\n"))
			if !ok {
				t.Error("expected a successful read")
				return
			}
			got = append(got, string(data))
		}
		resolve(nil)
		close(done)
	})

	d.OnData(1, []byte("one\ntwo\n"))
	await(t, done)

	if len(got) != 2 || got[0] != "one\n" || got[1] != "two\n" {
		t.Fatalf("got %v", got)
	}
}

func TestEOFDeliversTerminalFrame(t *testing.T) {
	d, s := newTestSocket(t)

	var sawEOF bool
	done := make(chan struct{})
	stream.Bind(s, func(read stream.Read, resolve stream.Resolve) {
		_, ok := read(stream.ByteCount(100))
		sawEOF = !ok
		resolve(nil)
		close(done)
	})

	d.OnClose(1)
	await(t, done)

	if !sawEOF {
		t.Fatal("expected the closed stream to deliver a terminal (nil, false) frame")
	}
}

func TestPanickingBodyResolvesOuterPromiseWithNil(t *testing.T) {
	_, s := newTestSocket(t)

	p := stream.Bind(s, func(read stream.Read, resolve stream.Resolve) {
		panic("protocol bug")
	})

	resolved := make(chan []any, 1)
	p.Subscribe(func(values ...any) { resolved <- values })

	select {
	case values := <-resolved:
		if len(values) != 1 || values[0] != nil {
			t.Fatalf("expected a single nil value, got %v", values)
		}
	case <-time.After(time.Second):
		t.Fatal("promise never resolved after the body panicked")
	}
}
